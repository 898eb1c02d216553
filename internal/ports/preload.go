package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tourmap/assetcache/internal/logging"
	"github.com/tourmap/assetcache/internal/reporting"
)

type PreloadAssets func(ctx context.Context, keys []string)

// Hard cap on keys per preload request to keep a single request from tying
// up the fetch pipeline indefinitely.
const maxPreloadKeys = 500

// Request bodies past this size are rejected before JSON decoding starts.
const maxPreloadBodyBytes = 1 << 20

type preloadRequest struct {
	URLs []string `json:"urls"`
}

type preloadResponse struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

func MakePreloadHandler(
	preloadAssets PreloadAssets,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := ComposeMiddlewares(
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		reporting.NewAddMetaMiddleware("preload"),
		BuildCORSMiddleware(allowedOrigins),
		buildMetricsMiddleware(),
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var request preloadRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPreloadBodyBytes)).Decode(&request); err != nil {
			writeJSONError(ctx, w, "invalid request body", http.StatusBadRequest)
			return
		}

		if len(request.URLs) == 0 {
			writeJSONError(ctx, w, "no urls provided", http.StatusBadRequest)
			return
		}
		if len(request.URLs) > maxPreloadKeys {
			writeJSONError(ctx, w, fmt.Sprintf("too many urls (max %d)", maxPreloadKeys), http.StatusBadRequest)
			return
		}

		logging.FromContext(ctx).InfoContext(ctx, "Preloading assets", "count", len(request.URLs))

		// Individual failures are absorbed by the preload; the response only
		// says the batch ran to completion.
		preloadAssets(ctx, request.URLs)

		response, err := json.Marshal(preloadResponse{Success: true, Count: len(request.URLs)})
		if err != nil {
			reporting.Report(ctx, fmt.Errorf("failed to marshal preload response: %w", err))
			writeJSONError(ctx, w, "internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(response)
	}

	return middleware(handler)
}
