// Licensed under the MIT License. See LICENSE file in the project root for details.

package metrics

import (
	"testing"
	"time"
)

// BenchmarkRecordFlush benchmarks the flush recording path
func BenchmarkRecordFlush(b *testing.B) {
	m := NewBufferedMetrics(10000)
	defer m.Close()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.RecordFlush(100*time.Microsecond, 64)
		}
	})
}

// BenchmarkRecordHighContention benchmarks recording under high contention
func BenchmarkRecordHighContention(b *testing.B) {
	m := NewBufferedMetrics(10000)
	defer m.Close()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			// Simulate a busy flush cycle reporting its accumulated counts
			for i := 0; i < 10; i++ {
				m.RecordPins(128)
				m.RecordDefers(100, 10, 1)
				m.RecordFlush(100*time.Microsecond, 64)
				m.RecordAdvance(i%2 == 0)
				m.RecordCollect(200*time.Microsecond, 64)
			}
		}
	})
}

// BenchmarkGetStats benchmarks taking a stats snapshot
func BenchmarkGetStats(b *testing.B) {
	m := NewBufferedMetrics(10000)
	defer m.Close()

	// Pre-populate with some data
	for i := 0; i < 1000; i++ {
		m.RecordFlush(100*time.Microsecond, 64)
		m.RecordCollect(200*time.Microsecond, 64)
	}

	// Give some time for background processing
	time.Sleep(10 * time.Millisecond)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.GetStats()
	}
}

// BenchmarkRingBufferPush benchmarks ring buffer push operations
func BenchmarkRingBufferPush(b *testing.B) {
	rb := NewDurationRingBuffer(1000)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			rb.Push(100 * time.Microsecond)
		}
	})
}

// BenchmarkRingBufferGetAverage benchmarks ring buffer average calculation
func BenchmarkRingBufferGetAverage(b *testing.B) {
	rb := NewDurationRingBuffer(1000)

	// Pre-populate the buffer
	for i := 0; i < 1000; i++ {
		rb.Push(time.Duration(i) * time.Microsecond)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rb.GetAverage()
	}
}
