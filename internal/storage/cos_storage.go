package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"nexus/internal/config"
	"strings"
	"time"

	"github.com/tencentyun/cos-go-sdk-v5"
)

type cosStorage struct {
	client *cos.Client
	prefix string
}

var _ Storage = (*cosStorage)(nil)

// NewCOSStorage mirrors images into a Tencent Cloud COS bucket.
func NewCOSStorage(cfg config.Config) (Storage, error) {
	if err := required(
		"STORAGE_COS_BUCKET_URL", cfg.StorageCOSBucketURL,
		"STORAGE_COS_SECRET_ID", cfg.StorageCOSSecretID,
		"STORAGE_COS_SECRET_KEY", cfg.StorageCOSSecretKey,
	); err != nil {
		return nil, err
	}
	bucketURL, err := url.Parse(strings.TrimSpace(cfg.StorageCOSBucketURL))
	if err != nil {
		return nil, fmt.Errorf("storage: cos bucket url: %w", err)
	}

	httpClient := &http.Client{Transport: &cos.AuthorizationTransport{
		SecretID:  strings.TrimSpace(cfg.StorageCOSSecretID),
		SecretKey: strings.TrimSpace(cfg.StorageCOSSecretKey),
	}}
	return &cosStorage{
		client: cos.NewClient(&cos.BaseURL{BucketURL: bucketURL}, httpClient),
		prefix: trimPrefix(cfg.StorageCOSPrefix),
	}, nil
}

func (s *cosStorage) Save(ctx context.Context, data []byte, opts SaveOptions) (string, error) {
	if err := checkWritable(ctx, data); err != nil {
		return "", err
	}
	key := joinPrefix(s.prefix, buildObjectPath(opts, time.Now()))

	if opts.SkipIfExists {
		resp, err := s.client.Object.Head(ctx, key, nil)
		drain(resp)
		switch {
		case err == nil:
			return key, nil
		case !cos.IsNotFoundError(err):
			return "", fmt.Errorf("head object %s: %w", key, err)
		}
	}

	resp, err := s.client.Object.Put(ctx, key, bytes.NewReader(data), &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{ContentType: detectContentType(opts.Extension)},
	})
	drain(resp)
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

func (s *cosStorage) Delete(ctx context.Context, key string) error {
	key = strings.TrimLeft(key, "/")
	resp, err := s.client.Object.Delete(ctx, key)
	drain(resp)
	if err != nil && !cos.IsNotFoundError(err) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func drain(resp *cos.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}
