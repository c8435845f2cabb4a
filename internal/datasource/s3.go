package datasource

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds static credentials for an S3-compatible endpoint.
type S3Config struct {
	// Endpoint is a host or URL; an empty value uses AWS.
	Endpoint string
	Region   string
	KeyID    string
	Secret   string
	// URLStyle is "path" (default) or "vhost".
	URLStyle string
}

// Complete reports whether the config can build a client.
func (c S3Config) Complete() bool {
	return c.Region != "" && c.KeyID != "" && c.Secret != ""
}

// S3Opener reads s3://bucket/key objects.
type S3Opener struct {
	client *s3.Client
}

// NewS3Opener builds an S3 client from static credentials.
func NewS3Opener(cfg S3Config) (*S3Opener, error) {
	if !cfg.Complete() {
		return nil, fmt.Errorf("S3 config is incomplete")
	}
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.KeyID, cfg.Secret, ""),
		UsePathStyle: cfg.URLStyle != "vhost",
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
	}
	return &S3Opener{client: s3.New(opts)}, nil
}

// Open implements Opener.
func (o *S3Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := splitObjectURI(uri, SchemeS3)
	if err != nil {
		return nil, err
	}
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", uri, err)
	}
	return out.Body, nil
}
