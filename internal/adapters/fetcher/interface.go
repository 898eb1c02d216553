package fetcher

import (
	"context"
	"net/http"
)

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// AssetFetcher is the raw fetch primitive: it returns the undecoded bytes of
// the resource at url, or an error. Cancelling ctx aborts the transfer.
type AssetFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}
