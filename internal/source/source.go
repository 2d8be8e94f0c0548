// Package source opens the CSV extract, either from the local filesystem or
// over HTTP(S) from the open-data portal.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// NewClient builds the resty client used for HTTP sources. Transport-level
// retries happen here, before any row enters the pipeline; the loader itself
// never retries.
func NewClient(timeout time.Duration) *resty.Client {
	return resty.New().
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		SetTimeout(timeout)
}

// Open returns a streaming reader for ref. An http:// or https:// ref is
// fetched with client; anything else is treated as a local file path. The
// caller owns the returned ReadCloser.
func Open(ctx context.Context, client *resty.Client, ref string) (io.ReadCloser, error) {
	if ref == "" {
		return nil, fmt.Errorf("source ref is required")
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return openURL(ctx, client, ref)
	}
	f, err := os.Open(ref)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	return f, nil
}

func openURL(ctx context.Context, client *resty.Client, url string) (io.ReadCloser, error) {
	if client == nil {
		client = NewClient(0)
	}
	resp, err := client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch csv: %w", err)
	}
	if resp.StatusCode() != 200 {
		body := resp.RawBody()
		if body != nil {
			body.Close() //nolint:errcheck // nothing useful to do on close failure
		}
		return nil, fmt.Errorf("fetch csv: unexpected status %d", resp.StatusCode())
	}
	return resp.RawBody(), nil
}
