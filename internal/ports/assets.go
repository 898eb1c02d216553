package ports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tourmap/assetcache/internal/assetcache"
	"github.com/tourmap/assetcache/internal/domain"
	"github.com/tourmap/assetcache/internal/logging"
	"github.com/tourmap/assetcache/internal/ratelimiting"
	"github.com/tourmap/assetcache/internal/reporting"
)

type LoadImage func(ctx context.Context, key string, options assetcache.ImageOptions) (domain.ImageAsset, error)

type errorResponse struct {
	Success bool   `json:"success"`
	Cause   string `json:"cause,omitempty"`
}

func writeJSONError(ctx context.Context, w http.ResponseWriter, cause string, statusCode int) {
	data, err := json.Marshal(errorResponse{Success: false, Cause: cause})
	if err != nil {
		reporting.Report(ctx, fmt.Errorf("failed to marshal error response: %w", err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"cause":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(data)
}

func writeLoadError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidKey):
		writeJSONError(ctx, w, "invalid asset url", http.StatusBadRequest)
	case errors.Is(err, domain.ErrLoadTimeout):
		writeJSONError(ctx, w, "asset load timed out", http.StatusGatewayTimeout)
	case errors.Is(err, domain.ErrPreviouslyFailed):
		writeJSONError(ctx, w, "asset previously failed", http.StatusBadGateway)
	case errors.Is(err, domain.ErrLoadFailed):
		writeJSONError(ctx, w, "asset failed to load", http.StatusBadGateway)
	default:
		reporting.Report(ctx, fmt.Errorf("unclassified load error: %w", err))
		writeJSONError(ctx, w, "internal server error", http.StatusInternalServerError)
	}
}

func contentTypeForFormat(format string) string {
	switch format {
	case "jpeg", "png", "gif", "webp":
		return "image/" + format
	default:
		return "application/octet-stream"
	}
}

func MakeGetAssetHandler(
	loadImage LoadImage,
	allowedOrigins *DomainSuffixes,
	ipRateLimiter ratelimiting.RequestRateLimiter,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	onLimitExceeded := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"success":false,"cause":"rate limit exceeded"}`))
	}

	middleware := ComposeMiddlewares(
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		reporting.NewAddMetaMiddleware("asset"),
		BuildCORSMiddleware(allowedOrigins),
		NewRateLimitMiddleware(ipRateLimiter, onLimitExceeded),
		buildMetricsMiddleware(),
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		assetURL := r.URL.Query().Get("url")
		ctx = reporting.AddExtrasToContext(ctx,
			map[string]string{
				"assetUrl": assetURL,
			},
		)

		if assetURL == "" {
			writeJSONError(ctx, w, "missing url parameter", http.StatusBadRequest)
			return
		}
		parsed, err := url.Parse(assetURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			writeJSONError(ctx, w, "invalid asset url", http.StatusBadRequest)
			return
		}

		options := assetcache.ImageOptions{}
		if rawDimension := r.URL.Query().Get("maxDimension"); rawDimension != "" {
			maxDimension, err := strconv.Atoi(rawDimension)
			if err != nil || maxDimension <= 0 {
				writeJSONError(ctx, w, "invalid maxDimension parameter", http.StatusBadRequest)
				return
			}
			options.MaxDimension = maxDimension
		}

		asset, err := loadImage(ctx, assetURL, options)
		if err != nil {
			// NOTE: The cache manager handles its own error reporting
			writeLoadError(ctx, w, err)
			return
		}

		ctx = logging.AddMetaToContext(ctx,
			slog.String("format", asset.Format),
			slog.Int("width", asset.Width),
			slog.Int("height", asset.Height),
		)
		logging.FromContext(ctx).InfoContext(ctx, "Serving asset", "contentLength", len(asset.Data))

		w.Header().Set("Content-Type", contentTypeForFormat(asset.Format))
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.WriteHeader(http.StatusOK)
		w.Write(asset.Data)
	}

	return middleware(handler)
}
