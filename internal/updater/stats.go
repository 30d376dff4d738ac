package updater

import (
	"sort"
	"sync"
	"time"

	"github.com/contextfs/contextfs/pkg/types"
)

const (
	// statsWindowSize bounds the rolling duration window.
	statsWindowSize = 1000
	// statsWindowKeep is what survives when the window overflows.
	statsWindowKeep = 500
)

// Stats keeps updater counters and a rolling window of update durations.
type Stats struct {
	mu sync.Mutex

	totalUpdates        int64
	successfulUpdates   int64
	failedUpdates       int64
	totalProcessedFiles int64
	cacheHits           int64
	totalTime           time.Duration
	durations           []time.Duration
}

// NewStats creates an empty stats collector
func NewStats() *Stats {
	return &Stats{durations: make([]time.Duration, 0, statsWindowSize)}
}

// Record folds one update result into the counters.
func (s *Stats) Record(result *types.UpdateResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalUpdates++
	if result.Success {
		s.successfulUpdates++
	} else {
		s.failedUpdates++
	}
	s.totalProcessedFiles += int64(result.ProcessedCount)
	s.cacheHits += int64(result.CacheHitCount)
	s.totalTime += result.Duration

	s.durations = append(s.durations, result.Duration)
	if len(s.durations) > statsWindowSize {
		// Keep the most recent half window.
		kept := make([]time.Duration, statsWindowKeep, statsWindowSize)
		copy(kept, s.durations[len(s.durations)-statsWindowKeep:])
		s.durations = kept
	}
}

// Snapshot returns the aggregate counters. Memory usage is supplied by the
// caller, which owns the cache handle.
func (s *Stats) Snapshot(memoryUsage int64) types.UpdaterStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := types.UpdaterStats{
		TotalUpdates:        s.totalUpdates,
		SuccessfulUpdates:   s.successfulUpdates,
		FailedUpdates:       s.failedUpdates,
		TotalProcessedFiles: s.totalProcessedFiles,
		AverageUpdateTime:   s.averageLocked(),
		MemoryUsage:         memoryUsage,
	}
	if s.totalUpdates > 0 {
		stats.CacheHitRate = float64(s.cacheHits) / float64(s.totalUpdates)
	}
	return stats
}

// Percentiles reports p50/p95/p99 over the rolling window plus derived
// throughput figures.
func (s *Stats) Percentiles() types.PercentileReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := types.PercentileReport{}
	if len(s.durations) == 0 {
		return report
	}

	sorted := make([]time.Duration, len(s.durations))
	copy(sorted, s.durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	report.P50 = percentile(sorted, 50)
	report.P95 = percentile(sorted, 95)
	report.P99 = percentile(sorted, 99)

	// Updates per second from the mean update duration.
	if avg := s.averageLocked(); avg > 0 {
		report.Throughput = float64(time.Second) / float64(avg)
	}
	if s.totalTime > 0 {
		report.FilesPerSecond = float64(s.totalProcessedFiles) * float64(time.Second) / float64(s.totalTime)
	}
	return report
}

// Reset clears all counters and the duration window.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalUpdates = 0
	s.successfulUpdates = 0
	s.failedUpdates = 0
	s.totalProcessedFiles = 0
	s.cacheHits = 0
	s.totalTime = 0
	s.durations = s.durations[:0]
}

func (s *Stats) averageLocked() time.Duration {
	if len(s.durations) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range s.durations {
		sum += d
	}
	return sum / time.Duration(len(s.durations))
}

// percentile picks the nearest-rank value from an ascending slice.
func percentile(sorted []time.Duration, pct int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (pct*len(sorted) + 99) / 100 // ceil
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
