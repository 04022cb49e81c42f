// Package s3 reads and writes observation files in an S3-compatible object
// store (AWS S3, MinIO, or the GCS XML interoperability endpoint).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/couchcryptid/ocean-data-etl/internal/domain"
)

// DefaultMaxObjectBytes caps a single fetch when Config.MaxObjectBytes is unset.
const DefaultMaxObjectBytes int64 = 100 << 20

// API is the subset of the S3 client the fetcher uses.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds construction parameters. Empty credentials fall back to the
// default AWS credential chain.
type Config struct {
	Region          string
	Endpoint        string // optional; set for MinIO or other S3-compatible stores
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
	MaxObjectBytes  int64
}

// Fetcher reads whole objects into memory and writes uploads.
type Fetcher struct {
	api      API
	maxBytes int64
}

// New builds a Fetcher backed by the AWS SDK.
func New(ctx context.Context, cfg Config) (*Fetcher, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithAPI(client, cfg.MaxObjectBytes), nil
}

// loadAWSConfig resolves region and credentials. A configured access key
// pins static credentials; otherwise the default chain applies.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewWithAPI wraps an existing client. maxBytes <= 0 selects DefaultMaxObjectBytes.
func NewWithAPI(api API, maxBytes int64) *Fetcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxObjectBytes
	}
	return &Fetcher{api: api, maxBytes: maxBytes}
}

// Fetch returns the object's bytes. Every failure is a *domain.FetchError;
// NotFound is set when the bucket or key does not exist.
func (f *Fetcher) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := f.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, &domain.FetchError{Bucket: bucket, Key: key, NotFound: isNotFound(err), Err: err}
	}
	defer func() { _ = out.Body.Close() }()

	if out.ContentLength != nil && *out.ContentLength > f.maxBytes {
		return nil, &domain.FetchError{Bucket: bucket, Key: key,
			Err: fmt.Errorf("object is %d bytes, limit is %d", *out.ContentLength, f.maxBytes)}
	}

	body, err := io.ReadAll(io.LimitReader(out.Body, f.maxBytes+1))
	if err != nil {
		return nil, &domain.FetchError{Bucket: bucket, Key: key, Err: err}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, &domain.FetchError{Bucket: bucket, Key: key,
			Err: fmt.Errorf("object exceeds %d bytes", f.maxBytes)}
	}
	return body, nil
}

// Put writes body as a new object.
func (f *Fetcher) Put(ctx context.Context, bucket, key, contentType string, body []byte) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := f.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}
