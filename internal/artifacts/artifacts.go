// Package artifacts stores exported files in object storage and hands out
// time-limited download links.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when no object store endpoint is set.
var ErrNotConfigured = errors.New("artifact storage not configured")

// Config describes the MinIO connection.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	URLTTL    time.Duration
}

// Artifact is an uploaded file and its download link.
type Artifact struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store uploads export files to MinIO.
type Store struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// New creates a store. It does not contact the server; call EnsureBucket
// at startup.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "curio-exports"
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, ttl: cfg.URLTTL, logger: logger.Named("artifacts"), now: time.Now}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("created bucket", zap.String("bucket", s.bucket))
	return nil
}

// Upload stores data under key and returns a presigned download link.
func (s *Store) Upload(ctx context.Context, key, contentType string, data []byte) (Artifact, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("upload %s: %w", key, err)
	}
	link, expires, err := s.PresignedURL(ctx, key, path.Base(key))
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Key: key, URL: link, Size: info.Size, ExpiresAt: expires}, nil
}

// PresignedURL signs a GET for key that downloads as filename.
func (s *Store) PresignedURL(ctx context.Context, key, filename string) (string, time.Time, error) {
	params := url.Values{}
	if filename != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	expires := s.now().Add(s.ttl)
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.ttl, params)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), expires, nil
}

// ObjectKey builds the storage key for a board export.
func ObjectKey(boardID, version, filename string) string {
	if version == "" {
		version = "latest"
	}
	return path.Join("boards", clean(boardID), clean(version), clean(filename))
}

func clean(part string) string {
	part = strings.TrimSpace(part)
	part = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(part)
	if part == "" {
		return "_"
	}
	return part
}
