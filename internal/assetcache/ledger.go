package assetcache

import (
	"sync"

	"github.com/tourmap/assetcache/internal/domain"
)

type settlement struct {
	asset domain.Asset
	err   error
}

// entry is the shared future for a single key. done is closed exactly once,
// when the load settles; the settlement fields must not be read before that.
// Waiters that grabbed the entry before an invalidation still receive the
// settlement, even though it is no longer stored anywhere.
type entry struct {
	done       chan struct{}
	settlement settlement
}

func (e *entry) settled() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// ledger owns the three tables of the cache manager: pending/cached entries,
// permanently failed keys, and the generation counter that voids in-flight
// loads across an invalidation. A key is in at most one of {pending, cached}
// at any instant, and a failed key is never re-fetched until clear().
type ledger struct {
	mu         sync.Mutex
	entries    map[string]*entry
	failed     map[string]error
	generation uint64
}

func newLedger() *ledger {
	return &ledger{
		entries: make(map[string]*entry),
		failed:  make(map[string]error),
	}
}

type claimResult struct {
	// entry is the shared future for the key. nil iff failedErr is set.
	entry *entry
	// claimed is true if the caller registered the pending request and now
	// owns running the fetch pipeline and settling the entry.
	claimed bool
	// failedErr short-circuits the load: the key failed before.
	failedErr error
	// generation the claim was made under; passed back to settle.
	generation uint64
}

func (l *ledger) getOrClaim(key string) claimResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err, ok := l.failed[key]; ok {
		return claimResult{failedErr: err}
	}

	if e, ok := l.entries[key]; ok {
		return claimResult{entry: e, generation: l.generation}
	}

	e := &entry{done: make(chan struct{})}
	l.entries[key] = e
	return claimResult{entry: e, claimed: true, generation: l.generation}
}

// settle records the outcome of a claimed load and wakes all waiters.
// Returns whether the outcome was stored: a settlement from before the last
// clear() is delivered to its waiters but not written to any table, so a
// stale load can never repopulate a just-cleared cache. onStored, if
// non-nil, runs under the same generation check, so bookkeeping tied to the
// stored outcome cannot leak past a concurrent clear().
func (l *ledger) settle(key string, e *entry, generation uint64, asset domain.Asset, err error, onStored func()) bool {
	e.settlement = settlement{asset: asset, err: err}
	close(e.done)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.generation != generation {
		return false
	}

	if err != nil {
		delete(l.entries, key)
		l.failed[key] = err
	}
	if onStored != nil {
		onStored()
	}
	return true
}

func (l *ledger) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]*entry)
	l.failed = make(map[string]error)
	l.generation++
}

// counts reports the number of settled cached assets by kind and the number
// of failed keys. Pending entries are counted as neither.
func (l *ledger) counts() (images, models, failed int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		if !e.settled() || e.settlement.err != nil {
			continue
		}
		switch e.settlement.asset.Kind() {
		case domain.AssetKindImage:
			images++
		case domain.AssetKindModel:
			models++
		}
	}

	return images, models, len(l.failed)
}
