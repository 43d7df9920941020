package storage

import (
	"bytes"
	"context"
	"fmt"
	"nexus/internal/config"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

type ossStorage struct {
	bucket *oss.Bucket
	prefix string
}

var _ Storage = (*ossStorage)(nil)

// NewOSSStorage mirrors images into an Aliyun OSS bucket.
func NewOSSStorage(cfg config.Config) (Storage, error) {
	if err := required(
		"STORAGE_OSS_ENDPOINT", cfg.StorageOSSEndpoint,
		"STORAGE_OSS_BUCKET", cfg.StorageOSSBucket,
		"STORAGE_OSS_ACCESS_KEY_ID", cfg.StorageOSSAccessKeyID,
		"STORAGE_OSS_ACCESS_KEY_SECRET", cfg.StorageOSSAccessKeySecret,
	); err != nil {
		return nil, err
	}

	client, err := oss.New(
		strings.TrimSpace(cfg.StorageOSSEndpoint),
		strings.TrimSpace(cfg.StorageOSSAccessKeyID),
		strings.TrimSpace(cfg.StorageOSSAccessKeySecret),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: oss client: %w", err)
	}
	bucket, err := client.Bucket(strings.TrimSpace(cfg.StorageOSSBucket))
	if err != nil {
		return nil, fmt.Errorf("storage: oss bucket: %w", err)
	}
	return &ossStorage{bucket: bucket, prefix: trimPrefix(cfg.StorageOSSPrefix)}, nil
}

func (s *ossStorage) Save(ctx context.Context, data []byte, opts SaveOptions) (string, error) {
	if err := checkWritable(ctx, data); err != nil {
		return "", err
	}
	key := joinPrefix(s.prefix, buildObjectPath(opts, time.Now()))

	if opts.SkipIfExists {
		exists, err := s.bucket.IsObjectExist(key)
		if err != nil {
			return "", fmt.Errorf("stat object %s: %w", key, err)
		}
		if exists {
			return key, nil
		}
	}

	err := s.bucket.PutObject(key, bytes.NewReader(data),
		oss.WithContext(ctx),
		oss.ContentType(detectContentType(opts.Extension)),
	)
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

// Delete 在 OSS 上删除不存在的对象也会返回成功
func (s *ossStorage) Delete(ctx context.Context, key string) error {
	key = strings.TrimLeft(key, "/")
	if err := s.bucket.DeleteObject(key, oss.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}
