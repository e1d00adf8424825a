// Package blob stores image attachments in S3-compatible object storage and
// hands back stable public locators.
package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrTooLarge             = errors.New("file exceeds size limit")
	ErrStorage              = errors.New("storage backend failure")
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// File is one attachment payload awaiting upload.
type File struct {
	Data        []byte
	ContentType string
}

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
	MaxBytes      int64
}

type Store struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
	maxBytes      int64
}

// New connects to the object storage backend and ensures the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	publicBaseURL := strings.TrimRight(cfg.PublicBaseURL, "/")
	if publicBaseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicBaseURL = scheme + "://" + cfg.Endpoint + "/" + cfg.Bucket
	}

	return &Store{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: publicBaseURL,
		maxBytes:      cfg.MaxBytes,
	}, nil
}

// Validate checks a payload against the image-only and size-ceiling policies.
func Validate(contentType string, size, maxBytes int64) error {
	if _, ok := imageExtensions[normalizeContentType(contentType)]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedMediaType, contentType)
	}
	if maxBytes > 0 && size > maxBytes {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}
	return nil
}

// ObjectName derives a collision-resistant name from the payload itself, so
// re-uploading identical bytes lands on the same object.
func ObjectName(data []byte, contentType string) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) + imageExtensions[normalizeContentType(contentType)]
}

func normalizeContentType(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// Put uploads one validated payload under scope and returns its public
// locator. Scopes partition the key space: identical bytes uploaded for two
// different owners land on two different objects, so removing one owner's
// blobs can never orphan the other's locators.
func (s *Store) Put(ctx context.Context, scope string, file File) (string, error) {
	if err := Validate(file.ContentType, int64(len(file.Data)), s.maxBytes); err != nil {
		return "", err
	}

	key := objectKey(scope, file.Data, file.ContentType)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(file.Data), int64(len(file.Data)), minio.PutObjectOptions{
		ContentType: normalizeContentType(file.ContentType),
	})
	if err != nil {
		return "", fmt.Errorf("%w: put %s: %v", ErrStorage, key, err)
	}
	return s.publicBaseURL + "/" + key, nil
}

// PutAll uploads every file or none: the first failure removes the blobs
// already stored in this batch and returns the error.
func (s *Store) PutAll(ctx context.Context, scope string, files []File) ([]string, error) {
	locators := make([]string, 0, len(files))
	for _, file := range files {
		locator, err := s.Put(ctx, scope, file)
		if err != nil {
			s.removeAll(ctx, locators)
			return nil, err
		}
		locators = append(locators, locator)
	}
	return locators, nil
}

// Remove deletes the object behind a locator. Missing objects are not errors.
func (s *Store) Remove(ctx context.Context, locator string) error {
	key := objectKeyFromLocator(s.publicBaseURL, locator)
	if key == "" {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%w: remove %s: %v", ErrStorage, key, err)
	}
	return nil
}

func objectKey(scope string, data []byte, contentType string) string {
	name := ObjectName(data, contentType)
	if scope == "" {
		return name
	}
	return scope + "/" + name
}

// objectKeyFromLocator recovers the scoped key from a public locator. Falls
// back to the last two path segments for locators minted under a different
// base URL.
func objectKeyFromLocator(publicBaseURL, locator string) string {
	if key, ok := strings.CutPrefix(locator, publicBaseURL+"/"); ok {
		return key
	}
	parts := strings.Split(strings.Trim(locator, "/"), "/")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "/" + parts[len(parts)-1]
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return ""
}

func (s *Store) removeAll(ctx context.Context, locators []string) {
	for _, locator := range locators {
		_ = s.Remove(ctx, locator)
	}
}
