package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"nexus/internal/config"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// bucketTarget 描述一个 S3 协议的存储桶，S3 与 R2 共用
type bucketTarget struct {
	label        string
	bucket       string
	prefix       string
	region       string
	endpoint     string
	accessKey    string
	secretKey    string
	sessionToken string
	pathStyle    bool
}

func (t bucketTarget) check() error {
	switch {
	case t.bucket == "":
		return fmt.Errorf("storage: missing %s bucket", t.label)
	case t.region == "":
		return fmt.Errorf("storage: missing %s region", t.label)
	case t.accessKey == "" || t.secretKey == "":
		return fmt.Errorf("storage: missing %s credentials", t.label)
	}
	return nil
}

func s3Target(cfg config.Config) bucketTarget {
	return bucketTarget{
		label:        "S3",
		bucket:       strings.TrimSpace(cfg.StorageS3Bucket),
		prefix:       trimPrefix(cfg.StorageS3Prefix),
		region:       strings.TrimSpace(cfg.StorageS3Region),
		endpoint:     strings.TrimSpace(cfg.StorageS3Endpoint),
		accessKey:    strings.TrimSpace(cfg.StorageS3AccessKeyID),
		secretKey:    strings.TrimSpace(cfg.StorageS3SecretAccessKey),
		sessionToken: strings.TrimSpace(cfg.StorageS3SessionToken),
		pathStyle:    cfg.StorageS3ForcePathStyle,
	}
}

// r2Target 未配置 endpoint 时按账号 ID 拼出 R2 的默认地址
func r2Target(cfg config.Config) (bucketTarget, error) {
	target := bucketTarget{
		label:     "R2",
		bucket:    strings.TrimSpace(cfg.StorageR2Bucket),
		prefix:    trimPrefix(cfg.StorageR2Prefix),
		region:    strings.TrimSpace(cfg.StorageR2Region),
		endpoint:  strings.TrimSpace(cfg.StorageR2Endpoint),
		accessKey: strings.TrimSpace(cfg.StorageR2AccessKeyID),
		secretKey: strings.TrimSpace(cfg.StorageR2SecretAccessKey),
		pathStyle: true,
	}
	if target.region == "" {
		target.region = "auto"
	}
	if target.endpoint == "" {
		accountID := strings.TrimSpace(cfg.StorageR2AccountID)
		if accountID == "" {
			return target, errors.New("storage: missing R2 endpoint or account id")
		}
		target.endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
	}
	return target, nil
}

// NewS3Storage mirrors images into an Amazon S3 (or S3 compatible) bucket.
func NewS3Storage(cfg config.Config) (Storage, error) {
	return newBucketStorage(s3Target(cfg))
}

// NewR2Storage talks to Cloudflare R2 through its S3 compatible API.
func NewR2Storage(cfg config.Config) (Storage, error) {
	target, err := r2Target(cfg)
	if err != nil {
		return nil, err
	}
	return newBucketStorage(target)
}

type bucketStorage struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ Storage = (*bucketStorage)(nil)

func newBucketStorage(target bucketTarget) (Storage, error) {
	if err := target.check(); err != nil {
		return nil, err
	}

	awsCfg := aws.Config{
		Region: target.region,
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(target.accessKey, target.secretKey, target.sessionToken),
		),
	}
	endpoint := target.endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = target.pathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &bucketStorage{client: client, bucket: target.bucket, prefix: target.prefix}, nil
}

func (s *bucketStorage) Save(ctx context.Context, data []byte, opts SaveOptions) (string, error) {
	if err := checkWritable(ctx, data); err != nil {
		return "", err
	}
	key := joinPrefix(s.prefix, buildObjectPath(opts, time.Now()))

	// 输入图按内容寻址，已存在则直接复用
	if opts.SkipIfExists {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
		switch {
		case err == nil:
			return key, nil
		case !isMissingObject(err):
			return "", fmt.Errorf("head object %s: %w", key, err)
		}
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(detectContentType(opts.Extension)),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

// Delete treats a missing object as already deleted.
func (s *bucketStorage) Delete(ctx context.Context, key string) error {
	key = strings.TrimLeft(key, "/")
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil && !isMissingObject(err) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func isMissingObject(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch strings.ToLower(apiErr.ErrorCode()) {
		case "notfound", "nosuchkey", "404":
			return true
		}
	}
	return false
}
