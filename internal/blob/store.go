// Package blob stores uploaded images (page covers, item images) in an
// S3-compatible bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const MaxUploadBytes = 5 << 20

var (
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrTooLarge        = errors.New("upload too large")
)

var allowedTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

type Object struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

type Store struct {
	log    *zap.Logger
	client *minio.Client
	cfg    Config
}

// New connects to the bucket, creating it when missing.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("blob endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}

	s := &Store{
		log:    zap.L().With(zap.String("blob", cfg.Bucket)),
		client: client,
		cfg:    cfg,
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
		s.log.Info("bucket created")
	}
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	return err
}

// Upload stores an image under the workspace prefix and returns its public URL.
func (s *Store) Upload(ctx context.Context, workspaceID, contentType string, body io.Reader, size int64) (Object, error) {
	ext, err := Extension(contentType)
	if err != nil {
		return Object{}, err
	}
	if size > MaxUploadBytes {
		return Object{}, ErrTooLarge
	}

	key := ObjectKey(workspaceID, uuid.NewString(), ext)
	info, err := s.client.PutObject(ctx, s.cfg.Bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		return Object{}, fmt.Errorf("put object: %w", err)
	}
	s.log.Debug("object stored", zap.String("key", key), zap.Int64("size", info.Size))

	return Object{
		Key:         key,
		URL:         PublicURL(s.cfg, key),
		Size:        info.Size,
		ContentType: contentType,
	}, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// RemoveWorkspace deletes every object under the workspace prefix.
func (s *Store) RemoveWorkspace(ctx context.Context, workspaceID string) error {
	objects := s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    ObjectKey(workspaceID, "", ""),
		Recursive: true,
	})
	for result := range s.client.RemoveObjects(ctx, s.cfg.Bucket, objects, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("remove %s: %w", result.ObjectName, result.Err)
		}
	}
	return nil
}

// Extension maps an accepted image content type to its file extension.
func Extension(contentType string) (string, error) {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	ext, ok := allowedTypes[mediaType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	return ext, nil
}

func ObjectKey(workspaceID, name, ext string) string {
	return path.Join("workspaces", workspaceID) + "/" + name + ext
}

// PublicURL prefers the configured public base and falls back to a path-style
// URL on the endpoint.
func PublicURL(cfg Config, key string) string {
	if cfg.PublicURL != "" {
		return strings.TrimRight(cfg.PublicURL, "/") + "/" + key
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: cfg.Endpoint, Path: "/" + cfg.Bucket + "/" + key}
	return u.String()
}
