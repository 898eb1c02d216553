package assetcache

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tourmap/assetcache/internal/domain"
)

type loadOutcome string

const (
	outcomeHit     loadOutcome = "hit"
	outcomeMiss    loadOutcome = "miss"
	outcomeDeduped loadOutcome = "deduped"
	outcomeFailed  loadOutcome = "failed"
	outcomeRefused loadOutcome = "refused"
)

type cacheMetricsCollection struct {
	loadCount    metric.Int64Counter
	loadDuration metric.Float64Histogram
}

var metrics cacheMetricsCollection

func init() {
	const name = "assetcache/cache"
	meter := otel.Meter(name)

	loadCount, err := meter.Int64Counter(
		"cache/load_count",
		metric.WithDescription("Total number of asset load requests by kind and outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create load count metric: %w", err))
	}

	loadDuration, err := meter.Float64Histogram(
		"cache/load_duration_seconds",
		metric.WithDescription("Elapsed fetch+transform time for loads that hit the network"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create load duration metric: %w", err))
	}

	metrics = cacheMetricsCollection{
		loadCount:    loadCount,
		loadDuration: loadDuration,
	}
}

func loadAttributes(kind domain.AssetKind, outcome loadOutcome) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", string(outcome)),
	)
}
