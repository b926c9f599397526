// Package s3 provides a read-only object reader backed by S3-compatible storage.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/JakeFAU/ooi-harvest-request/internal/storage"
)

const defaultRegion = "us-west-2"

// Config captures connection settings. Empty credentials mean anonymous access,
// which is how the public ooi-data bucket is read.
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	KeyID        string
	Secret       string
	SessionToken string
	PathStyle    bool
}

// ConfigFromSettings maps harvest path_settings keys onto a Config.
// Recognised keys: key, secret, token, region, endpoint_url, path_style.
func ConfigFromSettings(bucket string, settings map[string]any) Config {
	str := func(k string) string {
		if v, ok := settings[k].(string); ok {
			return v
		}
		return ""
	}
	cfg := Config{
		Bucket:       bucket,
		Region:       str("region"),
		Endpoint:     str("endpoint_url"),
		KeyID:        str("key"),
		Secret:       str("secret"),
		SessionToken: str("token"),
	}
	if v, ok := settings["path_style"].(bool); ok {
		cfg.PathStyle = v
	}
	if cfg.Endpoint == "" {
		if ck, ok := settings["client_kwargs"].(map[string]any); ok {
			if v, ok := ck["endpoint_url"].(string); ok {
				cfg.Endpoint = v
			}
		}
	}
	return cfg
}

type objectAPI interface {
	GetObject(ctx context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
}

// BlobStore reads objects in one bucket.
type BlobStore struct {
	client objectAPI
	bucket string
}

var _ storage.Reader = (*BlobStore)(nil)

// New builds an S3 client from cfg.
func New(cfg Config) (*BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	opts := awss3.Options{
		Region:       region,
		UsePathStyle: cfg.PathStyle,
	}
	if cfg.KeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.KeyID, cfg.Secret, cfg.SessionToken)
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return &BlobStore{client: awss3.New(opts), bucket: cfg.Bucket}, nil
}

// Get downloads the whole object.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("path is required")
	}
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("read s3://%s/%s: %w", s.bucket, key, storage.ErrNotExist)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close() //nolint:errcheck // read-only body

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}
