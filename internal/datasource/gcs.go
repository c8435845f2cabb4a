package datasource

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig selects how the GCS client authenticates.
type GCSConfig struct {
	// CredentialsFile is a service-account key file.
	CredentialsFile string
	// Endpoint overrides the API endpoint, e.g. for an emulator. Requests
	// are unauthenticated when set without CredentialsFile.
	Endpoint string
}

// GCSOpener reads gs://bucket/key objects.
type GCSOpener struct {
	client *storage.Client
}

// NewGCSOpener creates a GCS client.
func NewGCSOpener(ctx context.Context, cfg GCSConfig) (*GCSOpener, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		if cfg.CredentialsFile == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSOpener{client: client}, nil
}

// Open implements Opener.
func (o *GCSOpener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := splitObjectURI(uri, SchemeGCS)
	if err != nil {
		return nil, err
	}
	r, err := o.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", uri, err)
	}
	return r, nil
}

// Close releases the client.
func (o *GCSOpener) Close() error {
	return o.client.Close()
}
