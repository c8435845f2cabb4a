package datasource

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureConfig holds shared-key credentials for a storage account.
type AzureConfig struct {
	AccountName string
	AccountKey  string
	// ServiceURL overrides https://<account>.blob.core.windows.net.
	ServiceURL string
}

// AzureOpener reads az://container/blob objects.
type AzureOpener struct {
	client *azblob.Client
}

// NewAzureOpener creates a blob client with shared-key credentials.
func NewAzureOpener(cfg AzureConfig) (*AzureOpener, error) {
	if cfg.AccountName == "" || cfg.AccountKey == "" {
		return nil, fmt.Errorf("Azure account name and key are required") //nolint:staticcheck
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := cfg.ServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzureOpener{client: client}, nil
}

// Open implements Opener.
func (o *AzureOpener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	container, blob, err := parseAzurePath(uri)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.DownloadStream(ctx, container, blob, nil)
	if err != nil {
		return nil, fmt.Errorf("download %q: %w", uri, err)
	}
	return resp.Body, nil
}

// parseAzurePath accepts az://container/blob and
// abfss://container@account.dfs.core.windows.net/blob.
func parseAzurePath(uri string) (container, blob string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parse Azure path %q: %w", uri, err)
	}
	switch u.Scheme {
	case SchemeAzure:
		container = u.Host
	case "abfss":
		container = u.User.Username()
	default:
		return "", "", fmt.Errorf("expected az:// or abfss:// scheme, got %q in %q", u.Scheme, uri)
	}
	blob = strings.TrimPrefix(u.Path, "/")
	if container == "" || blob == "" {
		return "", "", fmt.Errorf("Azure path %q needs a container and blob", uri) //nolint:staticcheck
	}
	return container, blob, nil
}
