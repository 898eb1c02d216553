package assetcache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tourmap/assetcache/internal/adapters/fetcher"
	"github.com/tourmap/assetcache/internal/adapters/modelloader"
	"github.com/tourmap/assetcache/internal/domain"
	"github.com/tourmap/assetcache/internal/logging"
	"github.com/tourmap/assetcache/internal/transform"
)

const (
	DefaultMaxDimension = 512
	DefaultFetchTimeout = 10 * time.Second

	// Number of concurrent loads per preload batch.
	preloadBatchSize = 3
)

// Manager deduplicates, caches and transforms remote asset loads. One
// instance is constructed at startup and shared by reference; it exclusively
// owns its tables for the process lifetime.
//
// Cached assets are returned by shared reference to every caller and must be
// treated as read-only.
type Manager struct {
	assetFetcher fetcher.AssetFetcher

	ledger *ledger
	stats  *statsLedger

	maxDimension int
	fetchTimeout time.Duration
}

func NewManager(assetFetcher fetcher.AssetFetcher, maxDimension int, fetchTimeout time.Duration) *Manager {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	return &Manager{
		assetFetcher: assetFetcher,
		ledger:       newLedger(),
		stats:        newStatsLedger(),
		maxDimension: maxDimension,
		fetchTimeout: fetchTimeout,
	}
}

// ImageOptions tunes a single LoadImage call. Zero fields fall back to the
// manager's defaults.
type ImageOptions struct {
	// Longest side in pixels a returned image may have before being
	// downscaled.
	MaxDimension int
	// Maximum wait before the fetch is treated as failed.
	Timeout time.Duration
}

// LoadImage returns the image at key, fetching and downscaling it on first
// use. Concurrent calls for the same key share a single underlying fetch,
// and a key that failed once is rejected with domain.ErrPreviouslyFailed
// without I/O until Invalidate is called.
//
// Timing out cancels the underlying transfer; a success can not arrive after
// the timeout fired. A caller's own cancellation never aborts or fails the
// shared load.
func (m *Manager) LoadImage(ctx context.Context, key string, options ImageOptions) (domain.ImageAsset, error) {
	if key == "" {
		return domain.ImageAsset{}, fmt.Errorf("%w: empty key", domain.ErrInvalidKey)
	}

	maxDimension := options.MaxDimension
	if maxDimension <= 0 {
		maxDimension = m.maxDimension
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = m.fetchTimeout
	}

	logger := logging.FromContext(ctx)

	claim := m.ledger.getOrClaim(key)
	if claim.failedErr != nil {
		metrics.loadCount.Add(ctx, 1, loadAttributes(domain.AssetKindImage, outcomeRefused))
		return domain.ImageAsset{}, fmt.Errorf("%w: %w", domain.ErrPreviouslyFailed, claim.failedErr)
	}

	if !claim.claimed {
		outcome := outcomeHit
		if !claim.entry.settled() {
			outcome = outcomeDeduped
		}
		asset, err := awaitSettlement(ctx, claim.entry, timeout)
		if err != nil {
			metrics.loadCount.Add(ctx, 1, loadAttributes(domain.AssetKindImage, outcomeFailed))
			return domain.ImageAsset{}, err
		}
		image, ok := asset.(domain.ImageAsset)
		if !ok {
			metrics.loadCount.Add(ctx, 1, loadAttributes(domain.AssetKindImage, outcomeFailed))
			return domain.ImageAsset{}, fmt.Errorf("%w: cached asset for key is not an image", domain.ErrLoadFailed)
		}
		metrics.loadCount.Add(ctx, 1, loadAttributes(domain.AssetKindImage, outcome))
		return image, nil
	}

	logger.InfoContext(ctx, "Loading image asset", "cache", "miss", "key", key)

	start := time.Now()
	image, err := m.fetchAndTransformImage(ctx, key, maxDimension, timeout)
	if err != nil {
		m.ledger.settle(key, claim.entry, claim.generation, nil, err, nil)
		metrics.loadCount.Add(ctx, 1, loadAttributes(domain.AssetKindImage, outcomeFailed))
		return domain.ImageAsset{}, err
	}
	elapsed := time.Since(start)

	m.ledger.settle(key, claim.entry, claim.generation, image, nil, func() {
		m.stats.recordSuccess(key, time.Now(), elapsed)
	})

	metrics.loadCount.Add(ctx, 1, loadAttributes(domain.AssetKindImage, outcomeMiss))
	metrics.loadDuration.Record(ctx, elapsed.Seconds(), loadAttributes(domain.AssetKindImage, outcomeMiss))

	return image, nil
}

func (m *Manager) fetchAndTransformImage(ctx context.Context, key string, maxDimension int, timeout time.Duration) (domain.ImageAsset, error) {
	// The claimed load is shared by every waiter on the key, so one caller
	// hanging up must not fail it. Only the timeout bounds the transfer.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	data, err := m.assetFetcher.Fetch(fetchCtx, key)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.ImageAsset{}, fmt.Errorf("%w: %w", domain.ErrLoadTimeout, err)
		}
		return domain.ImageAsset{}, fmt.Errorf("%w: %w", domain.ErrLoadFailed, err)
	}

	image, err := transform.FitImage(data, maxDimension)
	if err != nil {
		return domain.ImageAsset{}, fmt.Errorf("%w: %w", domain.ErrLoadFailed, err)
	}

	return image, nil
}

// LoadModel returns the model at key, delegating decoding to the supplied
// loader on first use. Models share the dedup/cache/failed ledger with
// images, keyed by the same namespace, and are cached verbatim: every caller
// receives the same shared artifact and must not mutate it.
func (m *Manager) LoadModel(ctx context.Context, key string, loader modelloader.Loader) (domain.ModelAsset, error) {
	if key == "" {
		return domain.ModelAsset{}, fmt.Errorf("%w: empty key", domain.ErrInvalidKey)
	}

	logger := logging.FromContext(ctx)

	claim := m.ledger.getOrClaim(key)
	if claim.failedErr != nil {
		metrics.loadCount.Add(ctx, 1, loadAttributes(domain.AssetKindModel, outcomeRefused))
		return domain.ModelAsset{}, fmt.Errorf("%w: %w", domain.ErrPreviouslyFailed, claim.failedErr)
	}

	if !claim.claimed {
		outcome := outcomeHit
		if !claim.entry.settled() {
			outcome = outcomeDeduped
		}
		asset, err := awaitSettlement(ctx, claim.entry, m.fetchTimeout)
		if err != nil {
			metrics.loadCount.Add(ctx, 1, loadAttributes(domain.AssetKindModel, outcomeFailed))
			return domain.ModelAsset{}, err
		}
		model, ok := asset.(domain.ModelAsset)
		if !ok {
			metrics.loadCount.Add(ctx, 1, loadAttributes(domain.AssetKindModel, outcomeFailed))
			return domain.ModelAsset{}, fmt.Errorf("%w: cached asset for key is not a model", domain.ErrLoadFailed)
		}
		metrics.loadCount.Add(ctx, 1, loadAttributes(domain.AssetKindModel, outcome))
		return model, nil
	}

	logger.InfoContext(ctx, "Loading model asset", "cache", "miss", "key", key)

	// Shared load; detached from the caller's cancellation like the image
	// fetch path.
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.fetchTimeout)
	defer cancel()

	start := time.Now()
	value, err := modelloader.Await(loadCtx, loader, key)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", domain.ErrLoadTimeout, err)
		} else {
			err = fmt.Errorf("%w: %w", domain.ErrLoadFailed, err)
		}
		m.ledger.settle(key, claim.entry, claim.generation, nil, err, nil)
		metrics.loadCount.Add(ctx, 1, loadAttributes(domain.AssetKindModel, outcomeFailed))
		return domain.ModelAsset{}, err
	}
	elapsed := time.Since(start)

	model := domain.ModelAsset{Value: value}
	m.ledger.settle(key, claim.entry, claim.generation, model, nil, func() {
		m.stats.recordSuccess(key, time.Now(), elapsed)
	})

	metrics.loadCount.Add(ctx, 1, loadAttributes(domain.AssetKindModel, outcomeMiss))
	metrics.loadDuration.Record(ctx, elapsed.Seconds(), loadAttributes(domain.AssetKindModel, outcomeMiss))

	return model, nil
}

// Preload warms the image cache for keys in sequential batches of three,
// issuing the loads within a batch concurrently. Individual failures are
// logged and discarded; they never abort the batch or the ones after it.
func (m *Manager) Preload(ctx context.Context, keys []string) {
	logger := logging.FromContext(ctx)

	for batch := range slices.Chunk(keys, preloadBatchSize) {
		wg := sync.WaitGroup{}
		for _, key := range batch {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := m.LoadImage(ctx, key, ImageOptions{}); err != nil {
					logger.InfoContext(ctx, "Skipped asset during preload", "key", key, "error", err.Error())
				}
			}()
		}
		wg.Wait()
	}
}

// Invalidate clears the cache, the failed set and the load stats. Loads that
// are in flight when Invalidate is called are not cancelled: their waiters
// still receive the outcome, but the settlement is discarded instead of
// repopulating the cleared tables.
func (m *Manager) Invalidate() {
	m.ledger.clear()
	m.stats.clear()
}

// Stats returns a snapshot of the cache population and aggregate load
// latency. The latency is the mean of the measured elapsed durations of
// successful loads.
func (m *Manager) Stats() Stats {
	images, models, failed := m.ledger.counts()
	return Stats{
		CachedImageCount:   images,
		CachedModelCount:   models,
		FailedCount:        failed,
		AverageLoadLatency: m.stats.averageLoadLatency(),
	}
}

// awaitSettlement blocks until the shared entry settles or the caller's wait
// budget runs out. All waiters observe the identical outcome.
func awaitSettlement(ctx context.Context, e *entry, timeout time.Duration) (domain.Asset, error) {
	select {
	case <-e.done:
		return e.settlement.asset, e.settlement.err
	default:
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-e.done:
		return e.settlement.asset, e.settlement.err
	case <-waitCtx.Done():
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: gave up waiting for pending load: %w", domain.ErrLoadTimeout, waitCtx.Err())
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrLoadFailed, waitCtx.Err())
	}
}
