package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"

	"github.com/makeasinger/docindex/internal/config"
)

// StorageClient defines the interface for the document index store
type StorageClient interface {
	Upload(ctx context.Context, key string, body []byte, metadata map[string]string) (string, error)
	Delete(ctx context.Context, key string) error
	GetPublicURL(key string) string
}

// DocumentKey returns the object key under which a document is indexed
func DocumentKey(documentID string) string {
	return "documents/" + documentID
}

// R2Client implements StorageClient for Cloudflare R2 or any S3-compatible store
type R2Client struct {
	s3Client   *s3.Client
	bucketName string
	publicURL  string
	endpoint   string
}

// NewR2Client creates a new R2 storage client
func NewR2Client(cfg *config.StorageConfig) (*R2Client, error) {
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("storage configuration incomplete")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL:               endpoint,
			HostnameImmutable: true,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &R2Client{
		s3Client: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = true
		}),
		bucketName: cfg.BucketName,
		publicURL:  cfg.PublicURL,
		endpoint:   endpoint,
	}, nil
}

// Upload stores the document and returns its public URL
func (c *R2Client) Upload(ctx context.Context, key string, body []byte, metadata map[string]string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(mimetype.Detect(body).String()),
		Metadata:    metadata,
	}

	if _, err := c.s3Client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload to storage: %w", err)
	}

	return c.GetPublicURL(key), nil
}

// Delete removes a document from the store
func (c *R2Client) Delete(ctx context.Context, key string) error {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	}

	if _, err := c.s3Client.DeleteObject(ctx, input); err != nil {
		return fmt.Errorf("failed to delete from storage: %w", err)
	}

	return nil
}

// GetPublicURL returns the public URL for a key
func (c *R2Client) GetPublicURL(key string) string {
	if c.publicURL != "" {
		return fmt.Sprintf("%s/%s", strings.TrimSuffix(c.publicURL, "/"), key)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(c.endpoint, "/"), c.bucketName, key)
}

// ErrObjectNotFound is returned by MemoryStorage.Delete for unknown keys
var ErrObjectNotFound = errors.New("object not found")

// StoredObject is a document held by MemoryStorage
type StoredObject struct {
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

// MemoryStorage is an in-process StorageClient used when no bucket is
// configured
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]StoredObject
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]StoredObject)}
}

func (m *MemoryStorage) Upload(_ context.Context, key string, body []byte, metadata map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = StoredObject{
		Body:        append([]byte(nil), body...),
		ContentType: mimetype.Detect(body).String(),
		Metadata:    metadata,
	}
	return m.GetPublicURL(key), nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryStorage) GetPublicURL(key string) string {
	return "memory://" + key
}

// Object returns the stored object for key
func (m *MemoryStorage) Object(key string) (StoredObject, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}
