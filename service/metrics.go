package service

import (
	"sync"
	"time"
)

// Operation names used by MetricsCollector.
const (
	OpCheckIn = "check_in"
	OpBallot  = "request_ballot"
	OpSubmit  = "submit_marks"
	OpCast    = "cast"
	OpSpoil   = "spoil"
)

type operationStats struct {
	count     int
	failures  int
	totalTime time.Duration
	last      time.Time
}

// MetricsCollector tracks counts and timings of the voting steps. It never
// records who voted or how.
type MetricsCollector struct {
	mu               sync.RWMutex
	startTime        time.Time
	operations       map[string]*operationStats
	announceFailures int
	hashMismatches   int
}

// OperationMetrics contains timing information for an operation
type OperationMetrics struct {
	Count          int       `json:"count"`
	Failures       int       `json:"failures"`
	AverageTimeMs  int64     `json:"average_time_ms"`
	LastOccurrence time.Time `json:"last_occurrence,omitempty"`
}

// MetricsResponse provides the metrics for all operations
type MetricsResponse struct {
	StartTime        time.Time                   `json:"start_time"`
	UptimeSeconds    int64                       `json:"uptime_seconds"`
	Operations       map[string]OperationMetrics `json:"operations"`
	ActiveSessions   int                         `json:"active_sessions"`
	AnnounceFailures int                         `json:"announce_failures"`
	HashMismatches   int                         `json:"hash_mismatches"`
}

func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{startTime: time.Now()}
	mc.Reset()
	return mc
}

// Record adds one occurrence of op that started at start.
func (mc *MetricsCollector) Record(op string, start time.Time, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	stats, ok := mc.operations[op]
	if !ok {
		stats = &operationStats{}
		mc.operations[op] = stats
	}
	now := time.Now()
	stats.count++
	stats.totalTime += now.Sub(start)
	stats.last = now
	if err != nil {
		stats.failures++
	}
}

func (mc *MetricsCollector) RecordAnnounceFailure() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.announceFailures++
}

func (mc *MetricsCollector) RecordHashMismatch() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.hashMismatches++
}

// GetMetrics returns a snapshot. activeSessions is supplied by the caller
// since the collector does not see the session store.
func (mc *MetricsCollector) GetMetrics(activeSessions int) MetricsResponse {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	resp := MetricsResponse{
		StartTime:        mc.startTime,
		UptimeSeconds:    int64(time.Since(mc.startTime).Seconds()),
		Operations:       make(map[string]OperationMetrics, len(mc.operations)),
		ActiveSessions:   activeSessions,
		AnnounceFailures: mc.announceFailures,
		HashMismatches:   mc.hashMismatches,
	}
	for op, stats := range mc.operations {
		m := OperationMetrics{
			Count:          stats.count,
			Failures:       stats.failures,
			LastOccurrence: stats.last,
		}
		if stats.count > 0 {
			m.AverageTimeMs = (stats.totalTime / time.Duration(stats.count)).Milliseconds()
		}
		resp.Operations[op] = m
	}
	return resp
}

// Reset clears all counters but keeps the start time.
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.operations = map[string]*operationStats{
		OpCheckIn: {},
		OpBallot:  {},
		OpSubmit:  {},
		OpCast:    {},
		OpSpoil:   {},
	}
	mc.announceFailures = 0
	mc.hashMismatches = 0
}
