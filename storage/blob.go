package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/acaisupper/acaibot/core/config"
	"github.com/acaisupper/acaibot/core/telegram/netutil"
)

const (
	blobDialTimeout     = 5 * time.Second
	blobResponseTimeout = 10 * time.Second
	blobClientTimeout   = 30 * time.Second
	blobRetryAttempts   = 2
	blobRetryBackoff    = time.Second
)

// BlobSink stores a payment receipt image and returns a reference the order
// record can carry.
type BlobSink interface {
	Put(ctx context.Context, path string, contentType string, body []byte) (string, error)
}

// BlobClient uploads objects to an S3-style storage HTTP API
// (POST {endpoint}/object/{bucket}/{path}, public URL under
// {endpoint}/object/public/{bucket}/{path}).
type BlobClient struct {
	endpoint string
	bucket   string
	apiKey   string
	client   *http.Client
}

// NewBlobClient builds an uploader for the configured remote bucket.
// Returns nil when no endpoint is configured; callers treat a nil client
// as "remote uploads disabled".
func NewBlobClient(cfg config.StorageConfig) *BlobClient {
	if cfg.Endpoint == "" {
		return nil
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: blobDialTimeout}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   4,
		ResponseHeaderTimeout: blobResponseTimeout,
	}
	return &BlobClient{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		bucket:   cfg.Bucket,
		apiKey:   cfg.APIKey,
		client: &http.Client{
			Timeout:   blobClientTimeout,
			Transport: &blobRetryTransport{base: transport},
		},
	}
}

// Put uploads body under the given object path and returns the public URL.
func (c *BlobClient) Put(ctx context.Context, path, contentType string, body []byte) (string, error) {
	u := fmt.Sprintf("%s/object/%s/%s", c.endpoint, c.bucket, escapeObjectPath(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", Transient("blob upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		err := fmt.Errorf("blob upload: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", Transient("blob upload", err)
		}
		return "", err
	}

	return fmt.Sprintf("%s/object/public/%s/%s", c.endpoint, c.bucket, escapeObjectPath(path)), nil
}

// escapeObjectPath escapes each key segment while keeping the separators.
func escapeObjectPath(p string) string {
	parts := strings.Split(p, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}

type blobRetryTransport struct {
	base http.RoundTripper
}

func (t *blobRetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	attempts := blobRetryAttempts + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		currReq := req
		if attempt > 1 {
			currReq = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				currReq.Body = body
			} else if req.Body != nil {
				return nil, lastErr
			}
		}

		resp, err := t.base.RoundTrip(currReq)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !netutil.ShouldRetry(err) || attempt == attempts {
			break
		}

		timer := time.NewTimer(blobRetryBackoff * time.Duration(attempt))
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}

	return nil, lastErr
}

// LocalSink writes receipt images under a directory on disk. It backs the
// remote uploader when the bucket is unreachable or unconfigured.
type LocalSink struct {
	dir string
}

// NewLocalSink prepares the receipts directory under the data dir.
func NewLocalSink(dataDir string) (*LocalSink, error) {
	dir := filepath.Join(dataDir, "receipts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create receipts dir: %w", err)
	}
	return &LocalSink{dir: dir}, nil
}

// Put stores the image on disk and returns a file: reference.
func (s *LocalSink) Put(_ context.Context, path, _ string, body []byte) (string, error) {
	name := filepath.Base(path)
	full := filepath.Join(s.dir, name)
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return "", fmt.Errorf("write receipt: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return "", fmt.Errorf("store receipt: %w", err)
	}
	return "file://" + full, nil
}
