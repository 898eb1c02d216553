package assetcache_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourmap/assetcache/internal/assetcache"
	"github.com/tourmap/assetcache/internal/domain"
	"github.com/tourmap/assetcache/internal/domaintest"
	"github.com/tourmap/assetcache/internal/logging"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return logging.AddToContext(context.Background(), logger)
}

type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	handler func(ctx context.Context, url string) ([]byte, error)
}

func newFakeFetcher(handler func(ctx context.Context, url string) ([]byte, error)) *fakeFetcher {
	return &fakeFetcher{
		calls:   make(map[string]int),
		handler: handler,
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls[url]++
	f.mu.Unlock()
	return f.handler(ctx, url)
}

func (f *fakeFetcher) fetchCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) totalFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, count := range f.calls {
		total += count
	}
	return total
}

func (f *fakeFetcher) setHandler(handler func(ctx context.Context, url string) ([]byte, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func servePNG(t *testing.T, width, height int) func(ctx context.Context, url string) ([]byte, error) {
	data := domaintest.NewPNGAsset(t, width, height)
	return func(ctx context.Context, url string) ([]byte, error) {
		return data, nil
	}
}

func TestLoadImageCachesResult(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	fetcher := newFakeFetcher(servePNG(t, 64, 64))
	manager := assetcache.NewManager(fetcher, 0, 0)

	first, err := manager.LoadImage(ctx, "https://cdn.example.com/marker.png", assetcache.ImageOptions{})
	require.NoError(t, err)
	require.Equal(t, 64, first.Width)
	require.Equal(t, 64, first.Height)

	second, err := manager.LoadImage(ctx, "https://cdn.example.com/marker.png", assetcache.ImageOptions{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fetcher.fetchCount("https://cdn.example.com/marker.png"))
}

func TestLoadImageDeduplicatesConcurrentLoads(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	release := make(chan struct{})
	data := domaintest.NewPNGAsset(t, 32, 32)
	fetcher := newFakeFetcher(func(ctx context.Context, url string) ([]byte, error) {
		<-release
		return data, nil
	})
	manager := assetcache.NewManager(fetcher, 0, 0)

	const callers = 5
	results := make(chan domain.ImageAsset, callers)
	errs := make(chan error, callers)

	wg := sync.WaitGroup{}
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			asset, err := manager.LoadImage(ctx, "https://cdn.example.com/shared.png", assetcache.ImageOptions{})
			results <- asset
			errs <- err
		}()
	}

	// Let the callers pile up on the pending entry before the fetch settles
	require.Eventually(t, func() bool {
		return fetcher.fetchCount("https://cdn.example.com/shared.png") == 1
	}, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	first := <-results
	for range callers - 1 {
		assert.Equal(t, first, <-results)
	}
	for range callers {
		assert.NoError(t, <-errs)
	}

	assert.Equal(t, 1, fetcher.fetchCount("https://cdn.example.com/shared.png"))
}

func TestLoadImageFailureIsMemoized(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	fetcher := newFakeFetcher(func(ctx context.Context, url string) ([]byte, error) {
		return nil, fmt.Errorf("connection refused")
	})
	manager := assetcache.NewManager(fetcher, 0, 0)

	_, err := manager.LoadImage(ctx, "https://cdn.example.com/broken.png", assetcache.ImageOptions{})
	require.ErrorIs(t, err, domain.ErrLoadFailed)
	require.Equal(t, 1, fetcher.fetchCount("https://cdn.example.com/broken.png"))

	_, err = manager.LoadImage(ctx, "https://cdn.example.com/broken.png", assetcache.ImageOptions{})
	require.ErrorIs(t, err, domain.ErrPreviouslyFailed)
	// No new I/O for a memoized failure
	require.Equal(t, 1, fetcher.fetchCount("https://cdn.example.com/broken.png"))

	manager.Invalidate()
	fetcher.setHandler(servePNG(t, 16, 16))

	asset, err := manager.LoadImage(ctx, "https://cdn.example.com/broken.png", assetcache.ImageOptions{})
	require.NoError(t, err)
	assert.Equal(t, 16, asset.Width)
	assert.Equal(t, 2, fetcher.fetchCount("https://cdn.example.com/broken.png"))
}

func TestLoadImageDecodeFailureIsLoadFailed(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	fetcher := newFakeFetcher(func(ctx context.Context, url string) ([]byte, error) {
		return []byte("not an image"), nil
	})
	manager := assetcache.NewManager(fetcher, 0, 0)

	_, err := manager.LoadImage(ctx, "https://cdn.example.com/garbage.bin", assetcache.ImageOptions{})
	require.ErrorIs(t, err, domain.ErrLoadFailed)

	stats := manager.Stats()
	assert.Equal(t, 0, stats.CachedImageCount)
	assert.Equal(t, 1, stats.FailedCount)
}

func TestLoadImageTimeout(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	fetcher := newFakeFetcher(func(ctx context.Context, url string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	manager := assetcache.NewManager(fetcher, 0, 0)

	_, err := manager.LoadImage(ctx, "https://cdn.example.com/slow.png", assetcache.ImageOptions{Timeout: 20 * time.Millisecond})
	require.ErrorIs(t, err, domain.ErrLoadTimeout)

	// The timed out key is marked failed
	_, err = manager.LoadImage(ctx, "https://cdn.example.com/slow.png", assetcache.ImageOptions{})
	require.ErrorIs(t, err, domain.ErrPreviouslyFailed)
	assert.Equal(t, 1, fetcher.fetchCount("https://cdn.example.com/slow.png"))
}

func TestCallerCancellationDoesNotPoisonKey(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	data := domaintest.NewPNGAsset(t, 16, 16)
	fetcher := newFakeFetcher(func(ctx context.Context, url string) ([]byte, error) {
		select {
		case <-release:
			return data, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	manager := assetcache.NewManager(fetcher, 0, 0)

	ctx, cancel := context.WithCancel(testContext(t))
	done := make(chan error, 1)
	go func() {
		_, err := manager.LoadImage(ctx, "https://cdn.example.com/shared.png", assetcache.ImageOptions{})
		done <- err
	}()

	require.Eventually(t, func() bool {
		return fetcher.fetchCount("https://cdn.example.com/shared.png") == 1
	}, time.Second, time.Millisecond)

	// The caller hangs up mid-fetch; the shared load keeps going
	cancel()
	time.Sleep(10 * time.Millisecond)
	close(release)
	require.NoError(t, <-done)

	// Fresh callers get the cached asset, not a memoized failure
	asset, err := manager.LoadImage(testContext(t), "https://cdn.example.com/shared.png", assetcache.ImageOptions{})
	require.NoError(t, err)
	assert.Equal(t, 16, asset.Width)
	assert.Equal(t, 1, fetcher.fetchCount("https://cdn.example.com/shared.png"))
}

func TestLoadImageEmptyKey(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	fetcher := newFakeFetcher(servePNG(t, 8, 8))
	manager := assetcache.NewManager(fetcher, 0, 0)

	_, err := manager.LoadImage(ctx, "", assetcache.ImageOptions{})
	require.ErrorIs(t, err, domain.ErrInvalidKey)
	assert.Equal(t, 0, fetcher.totalFetches())
}

func TestLoadImageAppliesMaxDimension(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	fetcher := newFakeFetcher(servePNG(t, 1024, 512))
	manager := assetcache.NewManager(fetcher, 0, 0)

	asset, err := manager.LoadImage(ctx, "https://cdn.example.com/panorama.png", assetcache.ImageOptions{MaxDimension: 512})
	require.NoError(t, err)

	assert.Equal(t, 512, asset.Width)
	assert.Equal(t, 256, asset.Height)
}

func TestInvalidateDiscardsInFlightSettlement(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	release := make(chan struct{})
	data := domaintest.NewPNGAsset(t, 24, 24)
	fetcher := newFakeFetcher(func(ctx context.Context, url string) ([]byte, error) {
		<-release
		return data, nil
	})
	manager := assetcache.NewManager(fetcher, 0, 0)

	done := make(chan error, 1)
	go func() {
		_, err := manager.LoadImage(ctx, "https://cdn.example.com/midflight.png", assetcache.ImageOptions{})
		done <- err
	}()

	require.Eventually(t, func() bool {
		return fetcher.fetchCount("https://cdn.example.com/midflight.png") == 1
	}, time.Second, time.Millisecond)

	manager.Invalidate()
	close(release)

	// The waiter still receives the settlement
	require.NoError(t, <-done)

	// ...but it never repopulated the cleared tables
	stats := manager.Stats()
	assert.Equal(t, 0, stats.CachedImageCount)
	assert.Equal(t, time.Duration(0), stats.AverageLoadLatency)

	// The next load for the key fetches again
	_, err := manager.LoadImage(ctx, "https://cdn.example.com/midflight.png", assetcache.ImageOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.fetchCount("https://cdn.example.com/midflight.png"))
}

func TestLoadModelCachesSharedArtifact(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	model := &struct{ name string }{name: "bench"}
	loaderCalls := atomic.Int64{}
	loader := scriptedLoader(func(key string, onSuccess func(any), onError func(error)) {
		loaderCalls.Add(1)
		onSuccess(model)
	})

	fetcher := newFakeFetcher(servePNG(t, 8, 8))
	manager := assetcache.NewManager(fetcher, 0, 0)

	first, err := manager.LoadModel(ctx, "https://cdn.example.com/bench.glb", loader)
	require.NoError(t, err)
	second, err := manager.LoadModel(ctx, "https://cdn.example.com/bench.glb", loader)
	require.NoError(t, err)

	// Callers share the exact same artifact
	assert.Same(t, model, first.Value)
	assert.Same(t, first.Value, second.Value)
	assert.Equal(t, int64(1), loaderCalls.Load())
}

func TestLoadModelFailureIsMemoized(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	loaderCalls := atomic.Int64{}
	loader := scriptedLoader(func(key string, onSuccess func(any), onError func(error)) {
		loaderCalls.Add(1)
		onError(fmt.Errorf("corrupt gltf"))
	})

	manager := assetcache.NewManager(newFakeFetcher(servePNG(t, 8, 8)), 0, 0)

	_, err := manager.LoadModel(ctx, "https://cdn.example.com/corrupt.glb", loader)
	require.ErrorIs(t, err, domain.ErrLoadFailed)

	_, err = manager.LoadModel(ctx, "https://cdn.example.com/corrupt.glb", loader)
	require.ErrorIs(t, err, domain.ErrPreviouslyFailed)
	assert.Equal(t, int64(1), loaderCalls.Load())
}

func TestModelsAndImagesShareOneNamespace(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	fetcher := newFakeFetcher(servePNG(t, 8, 8))
	manager := assetcache.NewManager(fetcher, 0, 0)

	_, err := manager.LoadImage(ctx, "https://cdn.example.com/thing", assetcache.ImageOptions{})
	require.NoError(t, err)

	loader := scriptedLoader(func(key string, onSuccess func(any), onError func(error)) {
		t.Error("loader should not run for a key already cached as an image")
	})
	_, err = manager.LoadModel(ctx, "https://cdn.example.com/thing", loader)
	require.ErrorIs(t, err, domain.ErrLoadFailed)
}

func TestPreloadToleratesIndividualFailures(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	data := domaintest.NewPNGAsset(t, 8, 8)
	fetcher := newFakeFetcher(func(ctx context.Context, url string) ([]byte, error) {
		if url == "https://cdn.example.com/b.png" {
			return nil, fmt.Errorf("connection refused")
		}
		return data, nil
	})
	manager := assetcache.NewManager(fetcher, 0, 0)

	manager.Preload(ctx, []string{
		"https://cdn.example.com/a.png",
		"https://cdn.example.com/b.png",
		"https://cdn.example.com/c.png",
	})

	stats := manager.Stats()
	assert.Equal(t, 2, stats.CachedImageCount)
	assert.Equal(t, 1, stats.FailedCount)

	// The failed key did not block its batch mates
	assert.Equal(t, 1, fetcher.fetchCount("https://cdn.example.com/a.png"))
	assert.Equal(t, 1, fetcher.fetchCount("https://cdn.example.com/c.png"))
}

func TestPreloadBoundsConcurrency(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	data := domaintest.NewPNGAsset(t, 8, 8)
	inFlight := atomic.Int64{}
	maxInFlight := atomic.Int64{}
	fetcher := newFakeFetcher(func(ctx context.Context, url string) ([]byte, error) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			recorded := maxInFlight.Load()
			if current <= recorded || maxInFlight.CompareAndSwap(recorded, current) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return data, nil
	})
	manager := assetcache.NewManager(fetcher, 0, 0)

	keys := make([]string, 8)
	for i := range keys {
		keys[i] = fmt.Sprintf("https://cdn.example.com/tile-%d.png", i)
	}
	manager.Preload(ctx, keys)

	assert.LessOrEqual(t, maxInFlight.Load(), int64(3))
	assert.Equal(t, 8, fetcher.totalFetches())
	assert.Equal(t, 8, manager.Stats().CachedImageCount)
}

func TestStatsAccuracy(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	data := domaintest.NewPNGAsset(t, 8, 8)
	fetcher := newFakeFetcher(func(ctx context.Context, url string) ([]byte, error) {
		if url == "https://cdn.example.com/bad.png" {
			return nil, fmt.Errorf("boom")
		}
		time.Sleep(time.Millisecond)
		return data, nil
	})
	manager := assetcache.NewManager(fetcher, 0, 0)

	_, err := manager.LoadImage(ctx, "https://cdn.example.com/one.png", assetcache.ImageOptions{})
	require.NoError(t, err)
	_, err = manager.LoadImage(ctx, "https://cdn.example.com/two.png", assetcache.ImageOptions{})
	require.NoError(t, err)
	_, err = manager.LoadImage(ctx, "https://cdn.example.com/bad.png", assetcache.ImageOptions{})
	require.ErrorIs(t, err, domain.ErrLoadFailed)

	stats := manager.Stats()
	assert.Equal(t, 2, stats.CachedImageCount)
	assert.Equal(t, 0, stats.CachedModelCount)
	assert.Equal(t, 1, stats.FailedCount)
	assert.Greater(t, stats.AverageLoadLatency, time.Duration(0))

	manager.Invalidate()
	stats = manager.Stats()
	assert.Equal(t, assetcache.Stats{}, stats)
}

// scriptedLoader adapts a test callback into the modelloader contract.
type scriptedLoader func(key string, onSuccess func(any), onError func(error))

func (s scriptedLoader) Load(key string, onSuccess func(model any), onProgress func(fraction float64), onError func(err error)) {
	s(key, onSuccess, onError)
}
