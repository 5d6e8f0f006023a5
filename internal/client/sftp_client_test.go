package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/makeasinger/docindex/internal/config"
	"github.com/makeasinger/docindex/internal/model"
)

const (
	testSFTPUser     = "indexer"
	testSFTPPassword = "s3cret"
)

// startSFTPServer runs an SSH server with an in-memory SFTP subsystem and
// returns client settings pointing at it.
func startSFTPServer(t *testing.T) config.SFTPConfig {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host key signer: %v", err)
	}

	serverCfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == testSFTPUser && string(pass) == testSFTPPassword {
				return nil, nil
			}
			return nil, errors.New("password rejected")
		},
	}
	serverCfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	handlers := sftp.InMemHandler()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(conn, serverCfg, handlers)
		}
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return config.SFTPConfig{
		Server:   host,
		Port:     p,
		Username: testSFTPUser,
		Password: testSFTPPassword,
	}
}

func serveSSH(conn net.Conn, cfg *ssh.ServerConfig, handlers sftp.Handlers) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func(in <-chan *ssh.Request) {
			for req := range in {
				ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
				req.Reply(ok, nil)
			}
		}(requests)

		go func() {
			server := sftp.NewRequestServer(ch, handlers)
			_ = server.Serve()
			server.Close()
		}()
	}
}

// seedFile writes a file through a separate SFTP session.
func seedFile(t *testing.T, cfg config.SFTPConfig, dir, name string, data []byte) {
	t.Helper()

	sshClient, err := ssh.Dial("tcp", cfg.Addr(), &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	if err != nil {
		t.Fatalf("seed dial: %v", err)
	}
	defer sshClient.Close()

	c, err := sftp.NewClient(sshClient)
	if err != nil {
		t.Fatalf("seed sftp client: %v", err)
	}
	defer c.Close()

	if err := c.Mkdir(dir); err != nil {
		t.Fatalf("seed mkdir: %v", err)
	}
	f, err := c.Create(dir + "/" + name)
	if err != nil {
		t.Fatalf("seed create: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("seed write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("seed close: %v", err)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/docs/a.pdf", "docs/a.pdf"},
		{"docs/a.pdf", "docs/a.pdf"},
		{"//docs/a.pdf", "/docs/a.pdf"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewSFTPClient_MissingCredentials(t *testing.T) {
	_, err := NewSFTPClient(&config.SFTPConfig{Port: 22}, nil)
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
}

func TestSFTPClient_Retrieve(t *testing.T) {
	cfg := startSFTPServer(t)
	want := []byte("%PDF-1.4 leaflet contents")
	seedFile(t, cfg, "/docs", "leaflet.pdf", want)

	c, err := NewSFTPClient(&cfg, nil)
	if err != nil {
		t.Fatalf("NewSFTPClient() error = %v", err)
	}

	got, err := c.Retrieve(context.Background(), model.FileSourceSentinel, "/docs/leaflet.pdf")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Retrieve() = %q, want %q", got, want)
	}
}

func TestSFTPClient_RetrieveMissingFile(t *testing.T) {
	cfg := startSFTPServer(t)
	c, err := NewSFTPClient(&cfg, nil)
	if err != nil {
		t.Fatalf("NewSFTPClient() error = %v", err)
	}

	_, err = c.Retrieve(context.Background(), model.FileSourceSentinel, "/docs/missing.pdf")
	if !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("Retrieve() error = %v, want ErrFileNotFound", err)
	}
}

func TestSFTPClient_WrongPassword(t *testing.T) {
	cfg := startSFTPServer(t)
	cfg.Password = "wrong"
	c, err := NewSFTPClient(&cfg, nil)
	if err != nil {
		t.Fatalf("NewSFTPClient() error = %v", err)
	}

	_, err = c.Retrieve(context.Background(), model.FileSourceSentinel, "/docs/a.pdf")
	if !errors.Is(err, ErrSFTPAuth) {
		t.Fatalf("Retrieve() error = %v, want ErrSFTPAuth", err)
	}
}

func TestSFTPClient_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()
	p, _ := strconv.Atoi(port)

	c, err := NewSFTPClient(&config.SFTPConfig{Server: "127.0.0.1", Port: p, Username: "u", Password: "p"}, nil)
	if err != nil {
		t.Fatalf("NewSFTPClient() error = %v", err)
	}
	_, err = c.Retrieve(context.Background(), model.FileSourceSentinel, "a.pdf")
	if !errors.Is(err, ErrSFTPConnection) {
		t.Fatalf("Retrieve() error = %v, want ErrSFTPConnection", err)
	}
}

func TestSFTPClient_UnknownSource(t *testing.T) {
	c, err := NewSFTPClient(&config.SFTPConfig{Server: "h", Port: 22, Username: "u", Password: "p"}, nil)
	if err != nil {
		t.Fatalf("NewSFTPClient() error = %v", err)
	}
	_, err = c.Retrieve(context.Background(), model.FileSource("dropbox"), "a.pdf")
	if !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("Retrieve() error = %v, want ErrUnknownSource", err)
	}
}
