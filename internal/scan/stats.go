// Package scan owns the probing pipeline: the worker pool, the stats
// aggregator, the live event feed, and the controller that wires
// sources, limiter, prober, and sink into a single run.
package scan

import (
	"sync"
	"time"

	"github.com/pulsenet/pulsescan/internal/probe"
)

// Stats is a point-in-time view of run counters. The counting
// invariant holds at every observation: TotalProbed equals the sum of
// all outcome buckets.
type Stats struct {
	TotalProbed uint64 `json:"total_probed"`
	Success     uint64 `json:"success"`
	Timeout     uint64 `json:"timeout"`
	Refused     uint64 `json:"refused"`
	Reset       uint64 `json:"reset"`
	Unreachable uint64 `json:"unreachable"`
	Other       uint64 `json:"other"`

	// MeanLatencyMS is absent, not zero, when no probe succeeded.
	MeanLatencyMS *float64 `json:"mean_latency_ms,omitempty"`
}

// Errors sums the error buckets.
func (s Stats) Errors() uint64 {
	return s.Refused + s.Reset + s.Unreachable + s.Other
}

// Aggregator accumulates probe outcomes from all workers. Updates and
// snapshots take a short-held lock, so the counting invariant is
// visible to every observer, including mid-run ones.
type Aggregator struct {
	mu          sync.Mutex
	total       uint64
	success     uint64
	timeout     uint64
	refused     uint64
	reset       uint64
	unreachable uint64
	other       uint64
	latencySum  time.Duration
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Record counts one classified outcome. Each outcome lands in exactly
// one bucket.
func (a *Aggregator) Record(o probe.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch o.Kind {
	case probe.KindSuccess:
		a.success++
		a.latencySum += o.Latency
	case probe.KindTimeout:
		a.timeout++
	case probe.KindError:
		switch o.ErrorKind {
		case probe.ErrorRefused:
			a.refused++
		case probe.ErrorReset:
			a.reset++
		case probe.ErrorUnreachable:
			a.unreachable++
		default:
			a.other++
		}
	default:
		a.other++
	}
	a.total++
}

// Snapshot returns a consistent copy of the counters.
func (a *Aggregator) Snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		TotalProbed: a.total,
		Success:     a.success,
		Timeout:     a.timeout,
		Refused:     a.refused,
		Reset:       a.reset,
		Unreachable: a.unreachable,
		Other:       a.other,
	}

	if a.success > 0 {
		mean := float64(a.latencySum.Nanoseconds()) / 1e6 / float64(a.success)
		s.MeanLatencyMS = &mean
	}
	return s
}
