// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package metrics provides comprehensive performance monitoring and observability
// for the reclamation engine.
//
// This package implements thread-safe metrics collection using buffered channels
// and ring buffers that tracks pins, deferred garbage, flushes, epoch advancement
// and collection activity. It enables monitoring reclamation behavior and detecting
// stalled epochs or growing backlogs in production environments.
//
// # Key Features
//
//   - Thread-safe metrics collection using buffered channels and background processing
//   - Operation count tracking (pins, defers per size class, flushes, collect passes)
//   - Epoch advancement attempt and success tracking
//   - Flush and collect latency measurement with ring buffer storage
//   - Task fault counting for failed or panicking destructors
//   - Backlog gauges per size class and registered handle count
//   - Bounded memory usage with ring buffers
//
// # Usage Examples
//
// Creating and using metrics:
//
//	// Create a new metrics instance
//	m := metrics.NewMetrics()
//
//	// Record a flush with its accumulated handle-local counts
//	start := time.Now()
//	// ... migrate bins, sweep registry ...
//	m.RecordFlush(time.Since(start), flushed)
//	m.RecordPins(pins)
//	m.RecordDefers(small, medium, large)
//
//	// Record advancement attempts and collection passes
//	m.RecordAdvance(advanced)
//	m.RecordCollect(time.Since(start), executed)
//
//	// Update gauges
//	m.SetBacklog(small, medium, large)
//	m.SetHandles(handles)
//	m.SetGlobalEpoch(epoch)
//
//	// Get metrics for monitoring
//	stats := m.GetStats()
//	fmt.Printf("Pins: %d, Collect p99: %v\n",
//	    stats.Operations.Pins, stats.Latency.Collect.P99)
//
//	// Clean up when done
//	m.Close()
//
// # Performance Characteristics
//
//   - **Fast Operation Recording**: Non-blocking channel sends for minimal overhead
//   - **Background Processing**: Metrics processed asynchronously to avoid blocking operations
//   - **Bounded Memory**: Ring buffers prevent unbounded memory growth
//   - **Event Loss Protection**: Non-blocking sends prevent operation blocking
//   - **Off the Hot Path**: The pin fast path never touches the event channel;
//     handles accumulate counts locally and report them at flush time
//
// # Dangers and Warnings
//
//   - **Background Goroutine**: Requires proper cleanup with Close() method
//   - **Event Loss**: If the buffer is full, events may be dropped (non-blocking behavior)
//   - **Stats Latency**: Stats may be slightly delayed due to background processing
//   - **Memory Overhead**: Ring buffers consume fixed memory regardless of usage
//
// # Best Practices
//
//   - Always call Close() when done with metrics to clean up background goroutines
//   - Alert on advancement attempts far outpacing successes; it signals a stalled pin
//   - Watch backlog gauges for growth that outpaces collection
//   - Use appropriate ring buffer sizes for your latency tracking needs
//
// # Thread Safety
//
// All metrics operations are thread-safe and can be called concurrently
// from multiple goroutines. Background processing ensures consistency without blocking.
//
// # Metrics Categories
//
// The metrics package tracks several categories of data:
//
//   - **Operation Counts**: Pins, defers per class, flushes, collect passes, executed tasks
//   - **Advancement**: Epoch advance attempts and successes
//   - **Latencies**: Flush and collect pass durations (stored in ring buffers)
//   - **Engine Gauges**: Registered handles, global epoch, per-class backlogs
//   - **Error Counts**: Deferred task faults
//
// # Ring Buffer Strategy
//
// Latency metrics use ring buffers to provide historical data:
//   - Bounded memory usage regardless of operation count
//   - Recent latency samples for trend analysis
//   - Configurable buffer sizes per tracked path
//   - Thread-safe push and statistics operations
//
// # Integration with Monitoring Systems
//
// Metrics can be exported to external monitoring systems:
//
//	stats := m.GetStats()
//	// Export to Prometheus, StatsD, or other monitoring systems
//	prometheus.Gauge("ebr_pins_total").Set(float64(stats.Operations.Pins))
//
// # See Also
//
// For the engine interface details, see the core package.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// LatencyStats provides comprehensive latency statistics
type LatencyStats struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	P999  time.Duration `json:"p999"`
}

// OperationCounts tracks counts for all engine operations
type OperationCounts struct {
	Pins          uint64 `json:"pins"`
	DefersSmall   uint64 `json:"defers_small"`
	DefersMedium  uint64 `json:"defers_medium"`
	DefersLarge   uint64 `json:"defers_large"`
	Flushes       uint64 `json:"flushes"`
	FlushedTasks  uint64 `json:"flushed_tasks"`
	CollectPasses uint64 `json:"collect_passes"`
	ExecutedTasks uint64 `json:"executed_tasks"`
}

// AdvanceCounts tracks epoch advancement activity
type AdvanceCounts struct {
	Attempts  uint64 `json:"attempts"`
	Successes uint64 `json:"successes"`
}

// ErrorCounts tracks failures surfaced by the engine
type ErrorCounts struct {
	TaskFaults uint64 `json:"task_faults"`
}

// EngineMetrics tracks engine-level gauges and reuse counters
type EngineMetrics struct {
	Handles         uint64 `json:"handles"`
	GlobalEpoch     uint64 `json:"global_epoch"`
	BacklogSmall    uint64 `json:"backlog_small"`
	BacklogMedium   uint64 `json:"backlog_medium"`
	BacklogLarge    uint64 `json:"backlog_large"`
	RecycledEntries uint64 `json:"recycled_entries"`
}

// LatencyMetrics tracks latency data for the amortized paths
type LatencyMetrics struct {
	Flush   LatencyStats `json:"flush"`
	Collect LatencyStats `json:"collect"`
}

// MetricsSnapshot provides a complete snapshot of all metrics
type MetricsSnapshot struct {
	Operations    OperationCounts `json:"operations"`
	Advances      AdvanceCounts   `json:"advances"`
	Errors        ErrorCounts     `json:"errors"`
	Engine        EngineMetrics   `json:"engine"`
	Latency       LatencyMetrics  `json:"latency"`
	Configuration MetricsConfig   `json:"config"`
}

// MetricEvent represents a single metric event
type MetricEvent struct {
	Type      string
	Duration  time.Duration
	Count     uint64
	Timestamp time.Time
}

// DurationRingBuffer implements a thread-safe bounded ring buffer for time.Duration
type DurationRingBuffer struct {
	buffer []time.Duration
	head   int
	tail   int
	size   int
	count  int
	mu     sync.RWMutex
}

// NewDurationRingBuffer creates a new ring buffer with specified capacity
func NewDurationRingBuffer(capacity int) *DurationRingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &DurationRingBuffer{
		buffer: make([]time.Duration, capacity),
		size:   capacity,
	}
}

// Push adds an item to the ring buffer
func (rb *DurationRingBuffer) Push(item time.Duration) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buffer[rb.tail] = item
	rb.tail = (rb.tail + 1) % rb.size

	if rb.count < rb.size {
		rb.count++
	} else {
		rb.head = (rb.head + 1) % rb.size
	}
}

// GetAverage calculates the average of time.Duration values in the buffer
func (rb *DurationRingBuffer) GetAverage() time.Duration {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return 0
	}

	var total time.Duration
	for i := 0; i < rb.count; i++ {
		idx := (rb.head + i) % rb.size
		total += rb.buffer[idx]
	}

	return total / time.Duration(rb.count)
}

// GetStats calculates comprehensive latency statistics
func (rb *DurationRingBuffer) GetStats() LatencyStats {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return LatencyStats{}
	}

	// Copy values to avoid holding lock during sort
	values := make([]time.Duration, rb.count)
	for i := 0; i < rb.count; i++ {
		idx := (rb.head + i) % rb.size
		values[i] = rb.buffer[idx]
	}

	// Sort for percentile calculations
	sort.Slice(values, func(i, j int) bool {
		return values[i] < values[j]
	})

	stats := LatencyStats{
		Count: uint64(rb.count),
		Min:   values[0],
		Max:   values[rb.count-1],
	}

	// Calculate mean
	var total time.Duration
	for _, v := range values {
		total += v
	}
	stats.Mean = total / time.Duration(rb.count)

	// Calculate percentiles
	stats.P50 = rb.percentile(values, 0.50)
	stats.P95 = rb.percentile(values, 0.95)
	stats.P99 = rb.percentile(values, 0.99)
	stats.P999 = rb.percentile(values, 0.999)

	return stats
}

// percentile calculates the nth percentile from sorted values
func (rb *DurationRingBuffer) percentile(values []time.Duration, p float64) time.Duration {
	if len(values) == 0 {
		return 0
	}

	index := int(float64(len(values)-1) * p)
	if index >= len(values) {
		index = len(values) - 1
	}
	return values[index]
}

// MetricsConfig provides configuration options for metrics collection
type MetricsConfig struct {
	BufferSize     int            `json:"buffer_size"`     // Size of event buffer
	LatencyBuffers map[string]int `json:"latency_buffers"` // Per-path ring buffer sizes
}

// DefaultMetricsConfig returns a default configuration
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		BufferSize: 10000,
		LatencyBuffers: map[string]int{
			"flush":   1000,
			"collect": 1000,
		},
	}
}

// Metrics tracks engine activity using buffered channels and ring buffers
type Metrics struct {
	// Configuration
	config MetricsConfig

	// Buffered channel for metric events
	eventChan chan MetricEvent

	// Background goroutine for processing events
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Internal counters (protected by mutex for batch updates)
	mu sync.RWMutex

	// Operation counts
	PinCount         uint64
	DeferSmallCount  uint64
	DeferMediumCount uint64
	DeferLargeCount  uint64
	FlushCount       uint64
	FlushedTasks     uint64
	CollectPasses    uint64
	ExecutedTasks    uint64

	// Advancement counts
	AdvanceAttempts  uint64
	AdvanceSuccesses uint64

	// Latency tracking (ring buffer for recent latencies)
	FlushLatency   *DurationRingBuffer
	CollectLatency *DurationRingBuffer

	// Engine gauges
	Handles         uint64
	GlobalEpoch     uint64
	BacklogSmall    uint64
	BacklogMedium   uint64
	BacklogLarge    uint64
	RecycledEntries uint64

	// Error counts
	TaskFaults uint64
}

// NewMetrics creates a new metrics instance with default configuration
func NewMetrics() *Metrics {
	return NewMetricsWithConfig(DefaultMetricsConfig())
}

// NewBufferedMetrics creates a new metrics instance with configurable buffer size
func NewBufferedMetrics(bufferSize int) *Metrics {
	config := DefaultMetricsConfig()
	config.BufferSize = bufferSize
	return NewMetricsWithConfig(config)
}

// NewMetricsWithConfig creates a new metrics instance with custom configuration
func NewMetricsWithConfig(config MetricsConfig) *Metrics {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Metrics{
		config:         config,
		eventChan:      make(chan MetricEvent, config.BufferSize),
		ctx:            ctx,
		cancel:         cancel,
		FlushLatency:   NewDurationRingBuffer(config.LatencyBuffers["flush"]),
		CollectLatency: NewDurationRingBuffer(config.LatencyBuffers["collect"]),
	}

	// Start background processor
	m.wg.Add(1)
	go m.processEvents()

	return m
}

// processEvents runs in background goroutine to process metric events
func (m *Metrics) processEvents() {
	defer m.wg.Done()

	for {
		select {
		case event := <-m.eventChan:
			m.processEvent(event)
		case <-m.ctx.Done():
			// Drain whatever is still buffered so final stats are exact.
			for {
				select {
				case event := <-m.eventChan:
					m.processEvent(event)
				default:
					return
				}
			}
		}
	}
}

// processEvent handles a single metric event
func (m *Metrics) processEvent(event MetricEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch event.Type {
	case "pins":
		m.PinCount += event.Count
	case "defer_small":
		m.DeferSmallCount += event.Count
	case "defer_medium":
		m.DeferMediumCount += event.Count
	case "defer_large":
		m.DeferLargeCount += event.Count
	case "flush":
		m.FlushCount++
		m.FlushedTasks += event.Count
		m.FlushLatency.Push(event.Duration)
	case "collect":
		m.CollectPasses++
		m.ExecutedTasks += event.Count
		m.CollectLatency.Push(event.Duration)
	case "advance_ok":
		m.AdvanceAttempts++
		m.AdvanceSuccesses++
	case "advance_fail":
		m.AdvanceAttempts++
	case "entry_recycled":
		m.RecycledEntries += event.Count
	case "task_fault":
		m.TaskFaults += event.Count
	}
}

// send queues an event without ever blocking the caller. Events are dropped
// when the buffer is full.
func (m *Metrics) send(event MetricEvent) {
	select {
	case m.eventChan <- event:
	default:
		// Channel full, drop the event to avoid blocking
	}
}

// RecordPins records a batch of pin operations accumulated by a handle.
func (m *Metrics) RecordPins(count uint64) {
	if count == 0 {
		return
	}
	m.send(MetricEvent{Type: "pins", Count: count, Timestamp: time.Now()})
}

// RecordDefers records batches of defers accumulated by a handle, per class.
func (m *Metrics) RecordDefers(small, medium, large uint64) {
	if small > 0 {
		m.send(MetricEvent{Type: "defer_small", Count: small, Timestamp: time.Now()})
	}
	if medium > 0 {
		m.send(MetricEvent{Type: "defer_medium", Count: medium, Timestamp: time.Now()})
	}
	if large > 0 {
		m.send(MetricEvent{Type: "defer_large", Count: large, Timestamp: time.Now()})
	}
}

// RecordFlush records one flush and the number of tasks it migrated.
func (m *Metrics) RecordFlush(duration time.Duration, flushed uint64) {
	m.send(MetricEvent{Type: "flush", Duration: duration, Count: flushed, Timestamp: time.Now()})
}

// RecordCollect records one collect pass and the number of tasks it executed.
func (m *Metrics) RecordCollect(duration time.Duration, executed uint64) {
	m.send(MetricEvent{Type: "collect", Duration: duration, Count: executed, Timestamp: time.Now()})
}

// RecordAdvance records an epoch advancement attempt.
func (m *Metrics) RecordAdvance(advanced bool) {
	if advanced {
		m.send(MetricEvent{Type: "advance_ok", Timestamp: time.Now()})
		return
	}
	m.send(MetricEvent{Type: "advance_fail", Timestamp: time.Now()})
}

// RecordEntryRecycled records registry entries returned to the entry pool.
func (m *Metrics) RecordEntryRecycled(count uint64) {
	if count == 0 {
		return
	}
	m.send(MetricEvent{Type: "entry_recycled", Count: count, Timestamp: time.Now()})
}

// RecordTaskFault records a deferred task that failed or panicked.
func (m *Metrics) RecordTaskFault() {
	m.send(MetricEvent{Type: "task_fault", Count: 1, Timestamp: time.Now()})
}

// SetHandles sets the number of registered handles
func (m *Metrics) SetHandles(count uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handles = count
}

// SetGlobalEpoch sets the current global epoch
func (m *Metrics) SetGlobalEpoch(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GlobalEpoch = epoch
}

// SetBacklog sets the per-class global backlog gauges
func (m *Metrics) SetBacklog(small, medium, large uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BacklogSmall = small
	m.BacklogMedium = medium
	m.BacklogLarge = large
}

// GetStats returns a snapshot of current metrics
func (m *Metrics) GetStats() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MetricsSnapshot{
		Operations: OperationCounts{
			Pins:          m.PinCount,
			DefersSmall:   m.DeferSmallCount,
			DefersMedium:  m.DeferMediumCount,
			DefersLarge:   m.DeferLargeCount,
			Flushes:       m.FlushCount,
			FlushedTasks:  m.FlushedTasks,
			CollectPasses: m.CollectPasses,
			ExecutedTasks: m.ExecutedTasks,
		},
		Advances: AdvanceCounts{
			Attempts:  m.AdvanceAttempts,
			Successes: m.AdvanceSuccesses,
		},
		Errors: ErrorCounts{
			TaskFaults: m.TaskFaults,
		},
		Engine: EngineMetrics{
			Handles:         m.Handles,
			GlobalEpoch:     m.GlobalEpoch,
			BacklogSmall:    m.BacklogSmall,
			BacklogMedium:   m.BacklogMedium,
			BacklogLarge:    m.BacklogLarge,
			RecycledEntries: m.RecycledEntries,
		},
		Latency: LatencyMetrics{
			Flush:   m.FlushLatency.GetStats(),
			Collect: m.CollectLatency.GetStats(),
		},
		Configuration: m.config,
	}
}

// ExportPrometheus exports metrics in Prometheus format
func (m *Metrics) ExportPrometheus() string {
	stats := m.GetStats()
	var result string

	// Operation counts
	result += fmt.Sprintf("# HELP ebr_operations_total Total number of engine operations\n")
	result += fmt.Sprintf("# TYPE ebr_operations_total counter\n")
	result += fmt.Sprintf("ebr_operations_total{operation=\"pin\"} %d\n", stats.Operations.Pins)
	result += fmt.Sprintf("ebr_operations_total{operation=\"defer_small\"} %d\n", stats.Operations.DefersSmall)
	result += fmt.Sprintf("ebr_operations_total{operation=\"defer_medium\"} %d\n", stats.Operations.DefersMedium)
	result += fmt.Sprintf("ebr_operations_total{operation=\"defer_large\"} %d\n", stats.Operations.DefersLarge)
	result += fmt.Sprintf("ebr_operations_total{operation=\"flush\"} %d\n", stats.Operations.Flushes)
	result += fmt.Sprintf("ebr_operations_total{operation=\"collect\"} %d\n", stats.Operations.CollectPasses)

	// Task movement
	result += fmt.Sprintf("# HELP ebr_tasks_total Tasks migrated and executed\n")
	result += fmt.Sprintf("# TYPE ebr_tasks_total counter\n")
	result += fmt.Sprintf("ebr_tasks_total{stage=\"flushed\"} %d\n", stats.Operations.FlushedTasks)
	result += fmt.Sprintf("ebr_tasks_total{stage=\"executed\"} %d\n", stats.Operations.ExecutedTasks)

	// Advancement
	result += fmt.Sprintf("# HELP ebr_advances_total Epoch advancement attempts\n")
	result += fmt.Sprintf("# TYPE ebr_advances_total counter\n")
	result += fmt.Sprintf("ebr_advances_total{result=\"success\"} %d\n", stats.Advances.Successes)
	result += fmt.Sprintf("ebr_advances_total{result=\"failure\"} %d\n", stats.Advances.Attempts-stats.Advances.Successes)

	// Latency averages
	result += fmt.Sprintf("# HELP ebr_latency_nanoseconds Average latency for amortized paths\n")
	result += fmt.Sprintf("# TYPE ebr_latency_nanoseconds gauge\n")
	result += fmt.Sprintf("ebr_latency_nanoseconds{path=\"flush\"} %d\n", int64(stats.Latency.Flush.Mean.Nanoseconds()))
	result += fmt.Sprintf("ebr_latency_nanoseconds{path=\"collect\"} %d\n", int64(stats.Latency.Collect.Mean.Nanoseconds()))

	// Error counts
	result += fmt.Sprintf("# HELP ebr_task_faults_total Deferred tasks that failed or panicked\n")
	result += fmt.Sprintf("# TYPE ebr_task_faults_total counter\n")
	result += fmt.Sprintf("ebr_task_faults_total %d\n", stats.Errors.TaskFaults)

	// Engine gauges
	result += fmt.Sprintf("# HELP ebr_handles Registered handles\n")
	result += fmt.Sprintf("# TYPE ebr_handles gauge\n")
	result += fmt.Sprintf("ebr_handles %d\n", stats.Engine.Handles)

	result += fmt.Sprintf("# HELP ebr_global_epoch Current global epoch\n")
	result += fmt.Sprintf("# TYPE ebr_global_epoch gauge\n")
	result += fmt.Sprintf("ebr_global_epoch %d\n", stats.Engine.GlobalEpoch)

	result += fmt.Sprintf("# HELP ebr_backlog_tasks Buffered tasks per size class\n")
	result += fmt.Sprintf("# TYPE ebr_backlog_tasks gauge\n")
	result += fmt.Sprintf("ebr_backlog_tasks{class=\"small\"} %d\n", stats.Engine.BacklogSmall)
	result += fmt.Sprintf("ebr_backlog_tasks{class=\"medium\"} %d\n", stats.Engine.BacklogMedium)
	result += fmt.Sprintf("ebr_backlog_tasks{class=\"large\"} %d\n", stats.Engine.BacklogLarge)

	result += fmt.Sprintf("# HELP ebr_recycled_entries_total Registry entries returned to the pool\n")
	result += fmt.Sprintf("# TYPE ebr_recycled_entries_total counter\n")
	result += fmt.Sprintf("ebr_recycled_entries_total %d\n", stats.Engine.RecycledEntries)

	return result
}

// ExportJSON exports metrics as JSON
func (m *Metrics) ExportJSON() []byte {
	stats := m.GetStats()
	jsonData, _ := json.MarshalIndent(stats, "", "  ")
	return jsonData
}

// Close shuts down the metrics processor, draining any buffered events.
// Recording after Close is a silent no-op.
func (m *Metrics) Close() {
	m.cancel()
	m.wg.Wait()
}
