package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	requestTimeout = 30 * time.Second
	maxRetries     = 2 // 3 attempts total
)

// JSONFetcher is the abstract "fetch JSON from URL" capability the coverage
// client and the artifact filestore depend on.
type JSONFetcher interface {
	FetchJSON(ctx context.Context, url string, headers map[string]string, out any) error
}

// Downloader saves the body of a URL to a local file. Used by the artifact
// filestore for archive downloads.
type Downloader interface {
	Download(ctx context.Context, url string, headers map[string]string, dest string) error
}

type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

func New(logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
}

// FetchJSON GETs url and decodes the response body into out, retrying
// transient failures with exponential backoff. A body that is not valid JSON
// is not retried; the payload will not get better on a second read.
func (c *Client) FetchJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s: %w", url, err))
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		c.logger.Debug("json fetch failed", zap.String("url", url), zap.Error(err))
		return err
	}
	return nil
}

// Download GETs url and streams the body to dest, retrying transient failures
// with the same policy as FetchJSON. The file is written through a temporary
// name so dest never holds a partial body.
func (c *Client) Download(ctx context.Context, url string, headers map[string]string, dest string) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
		}

		tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp*")
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := io.Copy(tmp, resp.Body); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return err
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return err
		}
		return os.Rename(tmp.Name(), dest)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		c.logger.Debug("download failed", zap.String("url", url), zap.Error(err))
		return err
	}
	return nil
}
