// Package source resolves a submitted audio reference into a URL the transcriber can fetch.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrS3Disabled is returned for s3:// references when no S3 resolver is configured.
var ErrS3Disabled = errors.New("source: s3 references are not enabled")

// Resolver maps an audio reference to a fetchable URL.
type Resolver interface {
	Resolve(ctx context.Context, audioURL string) (string, error)
}

// Passthrough returns http(s) URLs unchanged and rejects s3 references.
type Passthrough struct{}

func (Passthrough) Resolve(ctx context.Context, audioURL string) (string, error) {
	if strings.HasPrefix(strings.ToLower(audioURL), "s3://") {
		return "", ErrS3Disabled
	}
	return audioURL, nil
}

// S3Config configures presigning for s3://bucket/key references.
type S3Config struct {
	Region    string
	Endpoint  string // S3-compatible endpoint, e.g. MinIO; empty uses AWS
	AccessKey string
	SecretKey string
	TTL       time.Duration
}

// S3Resolver presigns GET requests for s3:// references and passes other URLs through.
type S3Resolver struct {
	client *s3.PresignClient
	ttl    time.Duration
}

// NewS3Resolver loads AWS configuration (static credentials when AccessKey is set, otherwise the
// default chain) and builds a presign client.
func NewS3Resolver(ctx context.Context, cfg S3Config) (*S3Resolver, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("source: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &S3Resolver{client: s3.NewPresignClient(client), ttl: ttl}, nil
}

// Resolve presigns s3://bucket/key. Non-s3 URLs are returned unchanged.
func (r *S3Resolver) Resolve(ctx context.Context, audioURL string) (string, error) {
	bucket, key, ok, err := ParseS3URL(audioURL)
	if err != nil {
		return "", err
	}
	if !ok {
		return audioURL, nil
	}
	req, err := r.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(r.ttl))
	if err != nil {
		return "", fmt.Errorf("source: presign s3://%s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}

// ParseS3URL splits s3://bucket/key. ok is false for other schemes.
func ParseS3URL(raw string) (bucket, key string, ok bool, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false, fmt.Errorf("source: parse audio url: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "s3") {
		return "", "", false, nil
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", true, fmt.Errorf("source: s3 url %q needs bucket and key", raw)
	}
	return u.Host, key, true, nil
}
