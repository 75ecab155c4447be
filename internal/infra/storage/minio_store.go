// Package storage keeps message audio in an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"voice-ingest/internal/config"
	"voice-ingest/internal/domain"
	"voice-ingest/internal/domain/ports/adapter"
)

var _ adapter.BlobStore = (*MinioStore)(nil)

type MinioStore struct {
	cli    *minio.Client
	bucket string
	log    *zerolog.Logger
}

// NewMinioStore connects to the endpoint and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, cfg config.StorageConfig, logger *zerolog.Logger) (*MinioStore, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client init: %w", err)
	}
	l := logger.With().Str("component", "MinioStore").Str("bucket", cfg.Bucket).Logger()
	s := &MinioStore{cli: cli, bucket: cfg.Bucket, log: &l}
	if err := s.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.cli.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket: %v", domain.ErrGatewayUnavailable, err)
	}
	if exists {
		return nil
	}
	if err := s.cli.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("%w: create bucket: %v", domain.ErrGatewayUnavailable, err)
	}
	s.log.Info().Msg("bucket created")
	return nil
}

// Upload stores data under a fresh key scoped to scopeID and returns that key.
func (s *MinioStore) Upload(ctx context.Context, scopeID, filename string, data []byte, mimeType string) (string, error) {
	key := ObjectKey(scopeID, filename)
	info, err := s.cli.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: mimeType})
	if err != nil {
		return "", fmt.Errorf("%w: put %s: %v", domain.ErrGatewayUnavailable, key, err)
	}
	s.log.Debug().Str("key", key).Int64("size", info.Size).Msg("audio uploaded")
	return key, nil
}

// Delete removes key. A key that is already gone is not an error.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	err := s.cli.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err == nil {
		return nil
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
		return nil
	}
	return fmt.Errorf("%w: remove %s: %v", domain.ErrGatewayUnavailable, key, err)
}

// ObjectKey builds projects/<scope>/<ulid>-<name>; the ULID keeps keys unique and time ordered.
func ObjectKey(scopeID, filename string) string {
	return fmt.Sprintf("projects/%s/%s-%s", scopeID, ulid.Make().String(), sanitizeName(filename))
}

func sanitizeName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" {
		return "audio"
	}
	return name
}
