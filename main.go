package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"

	// Bundled TLS roots so static binaries can fetch from arbitrary CDNs.
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/tourmap/assetcache/internal/adapters/fetcher"
	"github.com/tourmap/assetcache/internal/assetcache"
	"github.com/tourmap/assetcache/internal/config"
	"github.com/tourmap/assetcache/internal/logging"
	"github.com/tourmap/assetcache/internal/ports"
	"github.com/tourmap/assetcache/internal/ratelimiting"
	"github.com/tourmap/assetcache/internal/reporting"
	"github.com/tourmap/assetcache/internal/telemetry"
)

const serviceName = "assetcache"

func main() {
	instanceID := uuid.New().String()
	logger := slog.New(
		logging.NewTraceCorrelationLogHandler(slog.NewJSONHandler(os.Stdout, nil)),
	).With("instanceID", instanceID)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	config, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}
	logger.Info("Loaded config", "config", config.NonSensitiveString())

	ctx := context.Background()

	otelShutdown, err := telemetry.SetupOTelSDK(ctx, serviceName)
	if err != nil {
		fail("Failed to set up OpenTelemetry SDK", "error", err.Error())
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			logger.Error("Failed to shut down OpenTelemetry SDK", "error", err.Error())
		}
	}()

	sentryMiddleware, flush, err := reporting.NewSentryMiddlewareOrMock(config)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flush()
	logger.Info("Initialized Sentry middleware")

	assetFetcher := fetcher.NewHTTPAssetFetcher(fetcher.NewInstrumentedHTTPClient())

	manager := assetcache.NewManager(assetFetcher, config.MaxImageDimension(), config.FetchTimeout())
	logger.Info("Initialized asset cache manager")

	originSuffixes := config.AllowedOriginSuffixes()
	if len(originSuffixes) == 0 && config.IsDevelopment() {
		originSuffixes = []string{"localhost"}
	}
	allowedOrigins, err := ports.NewDomainSuffixes(originSuffixes...)
	if err != nil {
		fail("Failed to initialize allowed origins", "error", err.Error())
	}

	ipRateLimiter, stopRateLimiter := ratelimiting.NewTokenBucketRateLimiter(
		ratelimiting.RefillPerSecond(8),
		ratelimiting.BurstSize(480),
	)
	defer stopRateLimiter()
	assetRateLimiter := ratelimiting.NewRequestBasedRateLimiter(ipRateLimiter, ratelimiting.IPKeyFunc)

	http.HandleFunc(
		"OPTIONS /v1/asset",
		ports.BuildCORSHandler(allowedOrigins),
	)
	http.HandleFunc(
		"GET /v1/asset",
		ports.MakeGetAssetHandler(
			manager.LoadImage,
			allowedOrigins,
			assetRateLimiter,
			logger.With("port", "asset"),
			sentryMiddleware,
		),
	)

	http.HandleFunc(
		"OPTIONS /v1/preload",
		ports.BuildCORSHandler(allowedOrigins),
	)
	http.HandleFunc(
		"POST /v1/preload",
		ports.MakePreloadHandler(
			manager.Preload,
			allowedOrigins,
			logger.With("port", "preload"),
			sentryMiddleware,
		),
	)

	http.HandleFunc(
		"POST /v1/invalidate",
		ports.MakeInvalidateHandler(
			manager.Invalidate,
			allowedOrigins,
			logger.With("port", "invalidate"),
			sentryMiddleware,
		),
	)

	http.HandleFunc(
		"GET /v1/stats",
		ports.MakeGetStatsHandler(
			manager.Stats,
			allowedOrigins,
			logger.With("port", "stats"),
			sentryMiddleware,
		),
	)

	logger.Info("Init complete")
	err = http.ListenAndServe(fmt.Sprintf(":%s", config.Port()), nil)
	if errors.Is(err, http.ErrServerClosed) {
		logger.Info("Server shutdown")
	} else {
		fail("Server error", "error", err.Error())
	}
}
