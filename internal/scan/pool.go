package scan

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsenet/pulsescan/internal/logging"
	"github.com/pulsenet/pulsescan/internal/metrics"
	"github.com/pulsenet/pulsescan/internal/probe"
	"github.com/pulsenet/pulsescan/internal/ratelimit"
	"github.com/pulsenet/pulsescan/internal/target"
)

// Result pairs a target with its classified outcome.
type Result struct {
	Target   target.Target
	Outcome  probe.Outcome
	Duration time.Duration
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	// Size is the number of worker goroutines to create. Exactly this
	// many probes can be in flight at once.
	Size int
	// QueueSize is the admission buffer between the expander and the
	// workers. Defaults to twice the pool size.
	QueueSize int
}

// Pool runs a bounded set of probe workers. Each worker takes one
// target at a time, acquires a rate token, probes, and reports the
// classified result. No target is ever retried.
type Pool struct {
	config  PoolConfig
	limiter *ratelimit.Bucket
	prober  probe.Prober

	targets chan target.Target
	results chan Result

	wg        sync.WaitGroup
	startOnce sync.Once
	closed32  int32 // atomic admission-closed flag
}

// NewPool creates a worker pool wired to the given limiter and prober.
func NewPool(config PoolConfig, limiter *ratelimit.Bucket, prober probe.Prober) *Pool {
	if config.Size <= 0 {
		config.Size = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.Size * 2
	}

	return &Pool{
		config:  config,
		limiter: limiter,
		prober:  prober,
		targets: make(chan target.Target, config.QueueSize),
		results: make(chan Result, config.QueueSize),
	}
}

// Start launches the workers. The results channel closes once
// admission is closed and every worker has exited.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		logging.Info("Starting worker pool",
			"worker_count", p.config.Size,
			"queue_size", p.config.QueueSize)

		metrics.SetWorkersActive(p.config.Size)
		metrics.GetGlobalMetrics().SetActiveWorkers(p.config.Size)

		for i := 0; i < p.config.Size; i++ {
			p.wg.Add(1)
			go p.runWorker(ctx, i)
		}

		go func() {
			p.wg.Wait()
			metrics.SetWorkersActive(0)
			metrics.GetGlobalMetrics().SetActiveWorkers(0)
			close(p.results)
		}()
	})
}

// Submit queues one target, blocking while the queue is full. It
// returns false once the context is done or admission is closed.
func (p *Pool) Submit(ctx context.Context, tgt target.Target) bool {
	if atomic.LoadInt32(&p.closed32) == 1 {
		return false
	}

	select {
	case p.targets <- tgt:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close ends admission. Queued targets still run unless the context is
// canceled first.
func (p *Pool) Close() {
	if atomic.CompareAndSwapInt32(&p.closed32, 0, 1) {
		close(p.targets)
	}
}

// Results returns the stream of classified outcomes.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// runWorker executes the per-target loop for one worker slot.
func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()

	logging.Debug("Worker started", "worker_id", id)
	defer logging.Debug("Worker stopped", "worker_id", id)

	for tgt := range p.targets {
		// A canceled run drops queued targets; only fully classified
		// probes are ever reported.
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := p.limiter.Acquire(ctx); err != nil {
			return
		}

		start := time.Now()
		outcome, err := p.prober.Probe(ctx, tgt)
		if err != nil {
			// Canceled mid-flight; discard the attempt.
			return
		}
		duration := time.Since(start)

		label := outcome.Label()
		metrics.IncrementProbesTotal(label)
		metrics.IncrementProbesTotalPrometheus(label)
		metrics.RecordProbeDuration(label, duration)
		metrics.RecordProbeDurationPrometheus(label, duration)

		logging.Debug("Probe classified",
			"worker_id", id,
			"target", tgt.String(),
			"outcome", label,
			"duration", duration)

		p.results <- Result{Target: tgt, Outcome: outcome, Duration: duration}
	}
}
