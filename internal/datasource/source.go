// Package datasource loads datasets from local files, HTTP and object
// storage into in-memory row sets.
package datasource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Opener streams the object at a URI.
type Opener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Scheme names handled by Router.
const (
	SchemeFile  = "file"
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeS3    = "s3"
	SchemeGCS   = "gs"
	SchemeAzure = "az"
)

// Router dispatches Open by URI scheme. Unset object-storage openers report
// the scheme as unconfigured.
type Router struct {
	Files *FileOpener
	HTTP  *HTTPOpener
	S3    Opener
	GCS   Opener
	Azure Opener
}

// NewRouter returns a Router that can read local files and HTTP(S).
func NewRouter() *Router {
	return &Router{Files: &FileOpener{}, HTTP: NewHTTPOpener(nil)}
}

// Open implements Opener.
func (r *Router) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	scheme := schemeOf(uri)
	var o Opener
	switch scheme {
	case SchemeFile:
		if r.Files != nil {
			o = r.Files
		}
	case SchemeHTTP, SchemeHTTPS:
		if r.HTTP != nil {
			o = r.HTTP
		}
	case SchemeS3:
		o = r.S3
	case SchemeGCS:
		o = r.GCS
	case SchemeAzure, "abfss":
		o = r.Azure
	default:
		return nil, fmt.Errorf("unsupported source scheme %q in %q", scheme, uri)
	}
	if o == nil {
		return nil, fmt.Errorf("no %s credentials configured for %q", scheme, uri)
	}
	return o.Open(ctx, uri)
}

func schemeOf(uri string) string {
	i := strings.Index(uri, "://")
	if i <= 0 {
		return SchemeFile
	}
	return strings.ToLower(uri[:i])
}

// FileOpener reads local paths, resolving relative ones against Dir.
type FileOpener struct {
	Dir string
}

// Open implements Opener.
func (f *FileOpener) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	path := strings.TrimPrefix(uri, "file://")
	if !filepath.IsAbs(path) && f.Dir != "" {
		path = filepath.Join(f.Dir, path)
	}
	fh, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	return fh, nil
}

// HTTPOpener fetches sources with GET.
type HTTPOpener struct {
	client *http.Client
}

// NewHTTPOpener uses c, or a client with a 60s timeout when nil.
func NewHTTPOpener(c *http.Client) *HTTPOpener {
	if c == nil {
		c = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPOpener{client: c}
}

// Open implements Opener.
func (h *HTTPOpener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %q: %w", uri, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", uri, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch %q: status %d", uri, resp.StatusCode)
	}
	return resp.Body, nil
}

// splitObjectURI extracts bucket and key from "<scheme>://bucket/path/to/key".
func splitObjectURI(uri, scheme string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parse %s path %q: %w", scheme, uri, err)
	}
	if u.Scheme != scheme {
		return "", "", fmt.Errorf("expected %s:// scheme, got %q in %q", scheme, u.Scheme, uri)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("empty bucket in %s path %q", scheme, uri)
	}
	if key == "" {
		return "", "", fmt.Errorf("empty key in %s path %q", scheme, uri)
	}
	return bucket, key, nil
}
