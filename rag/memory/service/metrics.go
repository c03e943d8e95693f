package service

import (
	"slices"
	"sync"
	"time"
)

const latencyWindow = 1000

// MetricsCollector collects performance metrics for index operations
type MetricsCollector struct {
	mu sync.RWMutex

	// Counters
	loadCount      int64
	searchCount    int64
	noMatchCount   int64
	unresolvedName int64
	cacheHits      int64
	cacheMisses    int64

	// Error tracking
	loadErrors   int64
	searchErrors int64

	// Latency tracking, newest latencyWindow samples
	searchLatency []time.Duration

	chunkCount  int
	courseCount int
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{searchLatency: make([]time.Duration, 0, latencyWindow)}
}

// RecordLoad records an index build.
func (mc *MetricsCollector) RecordLoad(chunks, courses int, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.loadCount++
	if err != nil {
		mc.loadErrors++
		return
	}
	mc.chunkCount = chunks
	mc.courseCount = courses
}

// RecordSearch records one Search call and how it ended.
func (mc *MetricsCollector) RecordSearch(duration time.Duration, res SearchResults) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.searchCount++
	if len(mc.searchLatency) == latencyWindow {
		mc.searchLatency = mc.searchLatency[1:]
	}
	mc.searchLatency = append(mc.searchLatency, duration)

	switch {
	case res.Error != "":
		mc.searchErrors++
	case res.IsEmpty():
		mc.noMatchCount++
	}
}

// RecordUnresolvedCourse counts course names that matched no known title.
func (mc *MetricsCollector) RecordUnresolvedCourse() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.unresolvedName++
}

// RecordCache counts query-embedding cache lookups.
func (mc *MetricsCollector) RecordCache(hit bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if hit {
		mc.cacheHits++
	} else {
		mc.cacheMisses++
	}
}

// GetSummary returns a summary of collected metrics
func (mc *MetricsCollector) GetSummary() MetricsSummary {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return MetricsSummary{
		LoadCount:        mc.loadCount,
		LoadErrors:       mc.loadErrors,
		SearchCount:      mc.searchCount,
		SearchErrors:     mc.searchErrors,
		NoMatchCount:     mc.noMatchCount,
		UnresolvedCourse: mc.unresolvedName,
		CacheHits:        mc.cacheHits,
		CacheMisses:      mc.cacheMisses,
		ChunkCount:       mc.chunkCount,
		CourseCount:      mc.courseCount,
		SearchLatency:    calculatePercentiles(mc.searchLatency),
	}
}

// calculatePercentiles calculates p50, p95, p99 latencies
func calculatePercentiles(latencies []time.Duration) LatencyPercentiles {
	if len(latencies) == 0 {
		return LatencyPercentiles{}
	}

	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	return LatencyPercentiles{
		P50: sorted[len(sorted)*50/100],
		P95: sorted[len(sorted)*95/100],
		P99: sorted[len(sorted)*99/100],
	}
}

// MetricsSummary represents a summary of collected metrics
type MetricsSummary struct {
	LoadCount        int64              `json:"load_count"`
	LoadErrors       int64              `json:"load_errors"`
	SearchCount      int64              `json:"search_count"`
	SearchErrors     int64              `json:"search_errors"`
	NoMatchCount     int64              `json:"no_match_count"`
	UnresolvedCourse int64              `json:"unresolved_course"`
	CacheHits        int64              `json:"cache_hits"`
	CacheMisses      int64              `json:"cache_misses"`
	QueryCacheSize   int                `json:"query_cache_size"`
	ChunkCount       int                `json:"chunk_count"`
	CourseCount      int                `json:"course_count"`
	SearchLatency    LatencyPercentiles `json:"search_latency"`
}

// LatencyPercentiles represents latency percentiles
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}
