package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"photoflow/internal/config"
)

// ObjectStore persists image bytes to an S3-compatible object store.
// Transient transport failures are retried with capped exponential backoff;
// permission and quota failures propagate immediately.
type ObjectStore struct {
	client     *minio.Client
	cfg        config.StorageConfig
	maxRetries uint64
	log        zerolog.Logger
}

func NewObjectStore(cfg config.StorageConfig, maxRetries int, log zerolog.Logger) (*ObjectStore, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL

	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	if maxRetries < 0 {
		maxRetries = 0
	}

	return &ObjectStore{
		client:     client,
		cfg:        cfg,
		maxRetries: uint64(maxRetries),
		log:        log,
	}, nil
}

func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", s.cfg.Bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, err)
		}
	}
	return nil
}

// Put writes one buffer under the given key and returns its public URL.
func (s *ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(200*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType:  contentType,
			CacheControl: "public, max-age=31536000, immutable",
		})
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			s.log.Warn().Err(err).Str("key", key).Msg("transient store failure, will retry")
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	return s.PublicURL(key), nil
}

// Remove deletes the given keys, best effort. Used to roll back partially
// stored items so no orphaned blob stays referenced.
func (s *ObjectStore) Remove(ctx context.Context, keys ...string) error {
	var lastErr error
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
			s.log.Error().Err(err).Str("key", key).Msg("remove object failed")
			lastErr = err
		}
	}
	return lastErr
}

// List streams object descriptors under a prefix.
func (s *ObjectStore) List(ctx context.Context, prefix string) <-chan minio.ObjectInfo {
	return s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
}

func (s *ObjectStore) PublicURL(key string) string {
	base := strings.TrimSuffix(s.cfg.PublicURL, "/")
	if base == "" {
		base = strings.TrimSuffix(s.cfg.Endpoint, "/")
		if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
			base = "https://" + base
		}
		base = fmt.Sprintf("%s/%s", base, s.cfg.Bucket)
	}
	return fmt.Sprintf("%s/%s", base, key)
}

// IsTransient separates connectivity hiccups from hard failures. Anything
// carrying an S3 error code other than a throttling/server-side one is
// permanent (auth, quota, bad request); bare transport errors are retried.
func IsTransient(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "SlowDown", "InternalError", "RequestTimeout", "ServiceUnavailable":
		return true
	case "":
		return true
	}
	return false
}
