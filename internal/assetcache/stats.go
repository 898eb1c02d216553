package assetcache

import (
	"sync"
	"time"
)

// Stats is a read-only snapshot of the manager's aggregate state.
type Stats struct {
	CachedImageCount   int
	CachedModelCount   int
	FailedCount        int
	AverageLoadLatency time.Duration
}

type loadRecord struct {
	lastSuccess time.Time
	successes   int
}

// statsLedger tracks per-key success history and the cumulative elapsed
// fetch duration used to derive the average load latency. Only aggregates
// are surfaced through Stats.
type statsLedger struct {
	mu            sync.Mutex
	records       map[string]loadRecord
	totalDuration time.Duration
	successCount  int
}

func newStatsLedger() *statsLedger {
	return &statsLedger{
		records: make(map[string]loadRecord),
	}
}

func (s *statsLedger) recordSuccess(key string, at time.Time, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.records[key]
	record.lastSuccess = at
	record.successes++
	s.records[key] = record

	s.totalDuration += elapsed
	s.successCount++
}

func (s *statsLedger) averageLoadLatency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.successCount == 0 {
		return 0
	}
	return s.totalDuration / time.Duration(s.successCount)
}

func (s *statsLedger) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]loadRecord)
	s.totalDuration = 0
	s.successCount = 0
}
