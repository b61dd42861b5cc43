// Package perf has the blocking and yielding primitives used by the demo actions.
// Workload.Block deliberately holds the calling goroutine, it simulates a pathological task
// and must never be used for real work.
package perf

import (
	"math"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/hypercart/app/vitals"
)

// LongTaskThreshold is the duration after which a blocking section is reported as a long task
const LongTaskThreshold = 50 * time.Millisecond

// Workload is the "simulate blocking workload" capability. Marks, measures and long tasks are
// recorded to the timeline if set.
type Workload struct {
	timeline *vitals.Timeline
}

// NewWorkload makes a workload reporting to timeline, nil timeline disables reporting
func NewWorkload(timeline *vitals.Timeline) *Workload {
	return &Workload{timeline: timeline}
}

// Block busy-waits for d on the monotonic clock, bracketed by block-start and block-end marks
// and a main-thread-block measure. Returns the actual blocked duration.
func (w *Workload) Block(d time.Duration) time.Duration {
	if w.timeline != nil {
		w.timeline.Mark("block-start")
	}
	start := time.Now()
	end := start.Add(d)
	for time.Now().Before(end) {
		// busy wait
	}
	elapsed := time.Since(start)

	if w.timeline == nil {
		return elapsed
	}
	w.timeline.Mark("block-end")
	m, err := w.timeline.Measure("main-thread-block", "block-start", "block-end")
	if err != nil {
		return elapsed
	}
	if elapsed > LongTaskThreshold {
		w.timeline.Record(vitals.Entry{Name: "self", EntryType: vitals.TypeLongTask, StartTime: m.StartTime, Duration: m.Duration})
		log.Printf("[DEBUG] long task %v recorded", elapsed)
	}
	return elapsed
}

// Mark records a named mark, no-op without timeline
func (w *Workload) Mark(name string) {
	if w.timeline != nil {
		w.timeline.Mark(name)
	}
}

// Measure records a measure between marks, failures are logged by the timeline
func (w *Workload) Measure(name, startMark, endMark string) {
	if w.timeline != nil {
		_, _ = w.timeline.Measure(name, startMark, endMark)
	}
}

// SinCos is the synthetic floating point workload, sum of sin(i)*cos(i)
func SinCos(iterations int) float64 {
	res := 0.0
	for i := 0; i < iterations; i++ {
		res += math.Sin(float64(i)) * math.Cos(float64(i))
	}
	return res
}
