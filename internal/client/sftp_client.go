package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/makeasinger/docindex/internal/config"
	"github.com/makeasinger/docindex/internal/model"
)

var (
	ErrUnknownSource  = errors.New("unknown file source")
	ErrSFTPConnection = errors.New("sftp connection failed")
	ErrSFTPAuth       = errors.New("sftp authentication failed")
	ErrFileNotFound   = errors.New("file not found")
)

const sftpDialTimeout = 10 * time.Second

// FileRetriever defines the interface for fetching job input files
type FileRetriever interface {
	Retrieve(ctx context.Context, source model.FileSource, filePath string) ([]byte, error)
}

// SFTPClient implements FileRetriever for the Sentinel SFTP host. Each call
// opens its own SSH session.
type SFTPClient struct {
	cfg     config.SFTPConfig
	hostKey ssh.HostKeyCallback
	logger  *slog.Logger
}

// NewSFTPClient validates the credentials and creates a new SFTP client
func NewSFTPClient(cfg *config.SFTPConfig, logger *slog.Logger) (*SFTPClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		hostKey = cb
	} else {
		logger.Warn("sftp host key verification disabled", "server", cfg.Server)
	}

	return &SFTPClient{
		cfg:     *cfg,
		hostKey: hostKey,
		logger:  logger,
	}, nil
}

// Retrieve reads the whole file at filePath from the given source
func (c *SFTPClient) Retrieve(ctx context.Context, source model.FileSource, filePath string) ([]byte, error) {
	switch source {
	case model.FileSourceSentinel:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}

	sftpClient, closeFn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	p := normalizePath(filePath)
	c.logger.Info("retrieving file", "path", p)
	c.logParentDir(sftpClient, p)

	f, err := sftpClient.Open(p)
	if err != nil {
		c.logger.Error("sftp open failed", "path", p, "error", err)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, p)
		}
		return nil, fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}

	c.logger.Info("file retrieved from sftp", "path", p, "bytes", len(data))
	return data, nil
}

func (c *SFTPClient) connect(ctx context.Context) (*sftp.Client, func(), error) {
	addr := c.cfg.Addr()
	c.logger.Debug("initiating sftp connection", "server", addr, "user", c.cfg.Username)

	dialer := net.Dialer{Timeout: sftpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSFTPConnection, err)
	}
	c.logger.Debug("sftp server connection established")

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            c.cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(c.cfg.Password)},
		HostKeyCallback: c.hostKey,
		Timeout:         sftpDialTimeout,
	})
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, nil, fmt.Errorf("%w: %v", ErrSFTPAuth, err)
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrSFTPConnection, err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)
	c.logger.Debug("sftp session authenticated")

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrSFTPConnection, err)
	}

	return sftpClient, func() {
		sftpClient.Close()
		sshClient.Close()
	}, nil
}

// logParentDir lists the parent directory at debug level to help diagnose
// missing files.
func (c *SFTPClient) logParentDir(sftpClient *sftp.Client, p string) {
	if !c.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	dir := path.Dir(p)
	entries, err := sftpClient.ReadDir(dir)
	if err != nil {
		c.logger.Debug("couldn't list directory", "dir", dir, "error", err)
		return
	}
	for _, e := range entries {
		c.logger.Debug("directory entry", "dir", dir, "name", e.Name(), "size", e.Size(), "mode", e.Mode().String())
	}
}

// normalizePath strips one leading separator so paths resolve against the
// login directory.
func normalizePath(p string) string {
	return strings.TrimPrefix(p, "/")
}
