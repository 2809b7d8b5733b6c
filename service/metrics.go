package service

import (
	"sync"
	"time"
)

// MetricsCollector tracks timings and counters for reconciler operations
type MetricsCollector struct {
	mu           sync.RWMutex
	registration operationTimer
	login        operationTimer
	ledgerWrite  operationTimer

	blockedWrites    int
	rejectedWrites   int
	failedWrites     int
	cacheFallbacks   int
	stateTransitions map[State]int
}

type operationTimer struct {
	startTime time.Time
	endTime   time.Time
	count     int
	totalTime time.Duration
}

// OperationMetrics contains timing information for an operation
type OperationMetrics struct {
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Count          int       `json:"count"`
	ProcessingTime int64     `json:"processing_time_ms"`
}

// MetricsResponse provides the metrics for all operations
type MetricsResponse struct {
	Registration     OperationMetrics `json:"registration"`
	Login            OperationMetrics `json:"login"`
	LedgerWrites     OperationMetrics `json:"ledger_writes"`
	BlockedWrites    int              `json:"blocked_writes"`
	RejectedWrites   int              `json:"rejected_writes"`
	FailedWrites     int              `json:"failed_writes"`
	CacheFallbacks   int              `json:"cache_fallbacks"`
	StateTransitions map[string]int   `json:"state_transitions"`
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{stateTransitions: make(map[State]int)}
}

func (t *operationTimer) start() {
	if t.count == 0 {
		t.startTime = time.Now()
	}
	t.count++
}

func (t *operationTimer) end(d time.Duration) {
	t.endTime = time.Now()
	t.totalTime += d
}

func (t operationTimer) snapshot() OperationMetrics {
	return OperationMetrics{
		StartTime:      t.startTime,
		EndTime:        t.endTime,
		Count:          t.count,
		ProcessingTime: t.totalTime.Milliseconds(),
	}
}

func (mc *MetricsCollector) RecordRegistrationStart() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.registration.start()
}

func (mc *MetricsCollector) RecordRegistrationEnd(duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.registration.end(duration)
}

func (mc *MetricsCollector) RecordLoginStart() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.login.start()
}

func (mc *MetricsCollector) RecordLoginEnd(duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.login.end(duration)
}

func (mc *MetricsCollector) RecordWriteStart() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.ledgerWrite.start()
}

// RecordWriteEnd closes a dispatched write. rejected marks a ledger revert,
// failed any other error.
func (mc *MetricsCollector) RecordWriteEnd(duration time.Duration, rejected, failed bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.ledgerWrite.end(duration)
	if rejected {
		mc.rejectedWrites++
	} else if failed {
		mc.failedWrites++
	}
}

// RecordBlockedWrite counts a write refused by the gate before dispatch.
func (mc *MetricsCollector) RecordBlockedWrite() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.blockedWrites++
}

func (mc *MetricsCollector) RecordCacheFallback() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.cacheFallbacks++
}

func (mc *MetricsCollector) RecordTransition(to State) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.stateTransitions[to]++
}

// GetMetrics returns current metrics for all operations
func (mc *MetricsCollector) GetMetrics() MetricsResponse {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	transitions := make(map[string]int, len(mc.stateTransitions))
	for state, n := range mc.stateTransitions {
		transitions[state.String()] = n
	}
	return MetricsResponse{
		Registration:     mc.registration.snapshot(),
		Login:            mc.login.snapshot(),
		LedgerWrites:     mc.ledgerWrite.snapshot(),
		BlockedWrites:    mc.blockedWrites,
		RejectedWrites:   mc.rejectedWrites,
		FailedWrites:     mc.failedWrites,
		CacheFallbacks:   mc.cacheFallbacks,
		StateTransitions: transitions,
	}
}

// Reset clears all metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.registration = operationTimer{}
	mc.login = operationTimer{}
	mc.ledgerWrite = operationTimer{}
	mc.blockedWrites = 0
	mc.rejectedWrites = 0
	mc.failedWrites = 0
	mc.cacheFallbacks = 0
	mc.stateTransitions = make(map[State]int)
}
