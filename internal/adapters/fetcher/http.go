package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tourmap/assetcache/internal/logging"
	"github.com/tourmap/assetcache/internal/reporting"
)

const userAgent = "assetcache/1.0 (+https://github.com/tourmap/assetcache)"

// Assets larger than this are treated as load failures rather than read into
// memory in full.
const maxBodyBytes = 32 << 20

type httpAssetFetcher struct {
	httpClient HttpClient
}

func NewHTTPAssetFetcher(httpClient HttpClient) AssetFetcher {
	return &httpAssetFetcher{
		httpClient: httpClient,
	}
}

// NewInstrumentedHTTPClient returns an http.Client whose transport records
// OTel metrics/traces for outbound asset fetches. No client-level timeout is
// set; the per-load context carries the deadline.
func NewInstrumentedHTTPClient() *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func (f *httpAssetFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	logger := logging.FromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		err := fmt.Errorf("failed to create request: %w", err)
		logger.Error(err.Error())
		reporting.Report(ctx, err)
		return nil, err
	}

	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		// Expected for dead asset URLs and cancelled loads; not reported.
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d fetching asset", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) > maxBodyBytes {
		return nil, fmt.Errorf("asset exceeds maximum size of %d bytes", maxBodyBytes)
	}

	logger.Info("asset fetch completed",
		"url", url,
		"status", resp.StatusCode,
		"contentLength", len(data),
		"duration", time.Since(start).String(),
	)

	return data, nil
}
