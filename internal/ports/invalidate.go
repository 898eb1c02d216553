package ports

import (
	"log/slog"
	"net/http"

	"github.com/tourmap/assetcache/internal/logging"
	"github.com/tourmap/assetcache/internal/reporting"
)

type InvalidateAssets func()

func MakeInvalidateHandler(
	invalidateAssets InvalidateAssets,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := ComposeMiddlewares(
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		reporting.NewAddMetaMiddleware("invalidate"),
		BuildCORSMiddleware(allowedOrigins),
		buildMetricsMiddleware(),
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		logging.FromContext(ctx).InfoContext(ctx, "Invalidating asset cache")
		invalidateAssets()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"success":true}`))
	}

	return middleware(handler)
}
