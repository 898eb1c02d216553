package ports

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tourmap/assetcache/internal/assetcache"
	"github.com/tourmap/assetcache/internal/logging"
	"github.com/tourmap/assetcache/internal/reporting"
)

type GetCacheStats func() assetcache.Stats

type statsResponse struct {
	CachedImageCount     int     `json:"cachedImageCount"`
	CachedModelCount     int     `json:"cachedModelCount"`
	FailedCount          int     `json:"failedCount"`
	AverageLoadLatencyMs float64 `json:"averageLoadLatencyMs"`
}

func MakeGetStatsHandler(
	getCacheStats GetCacheStats,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := ComposeMiddlewares(
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		reporting.NewAddMetaMiddleware("stats"),
		BuildCORSMiddleware(allowedOrigins),
		buildMetricsMiddleware(),
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		stats := getCacheStats()

		response, err := json.Marshal(statsResponse{
			CachedImageCount:     stats.CachedImageCount,
			CachedModelCount:     stats.CachedModelCount,
			FailedCount:          stats.FailedCount,
			AverageLoadLatencyMs: float64(stats.AverageLoadLatency.Microseconds()) / 1000.0,
		})
		if err != nil {
			reporting.Report(ctx, fmt.Errorf("failed to marshal stats response: %w", err))
			writeJSONError(ctx, w, "internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(response)
	}

	return middleware(handler)
}
