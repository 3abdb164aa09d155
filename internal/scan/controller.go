package scan

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pulsenet/pulsescan/internal/errors"
	"github.com/pulsenet/pulsescan/internal/logging"
	"github.com/pulsenet/pulsescan/internal/metrics"
	"github.com/pulsenet/pulsescan/internal/output"
	"github.com/pulsenet/pulsescan/internal/probe"
	"github.com/pulsenet/pulsescan/internal/ratelimit"
	"github.com/pulsenet/pulsescan/internal/target"
)

// State is the controller lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateCancelled
)

// String renders the state for logs, events, and summaries.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// defaultSnapshotInterval spaces the periodic snapshot events.
const defaultSnapshotInterval = 500 * time.Millisecond

// SourceSpec selects and parameterizes the address source.
type SourceSpec struct {
	Kind  string   `json:"kind"`
	Count int      `json:"count,omitempty"`
	CIDRs []string `json:"cidrs,omitempty"`
	Path  string   `json:"path,omitempty"`
}

// RunConfig freezes one run's parameters. No field may change once
// the controller starts.
type RunConfig struct {
	Workers  int
	Rate     int
	Burst    int
	Timeout  time.Duration
	Ports    []uint16
	Source   SourceSpec
	Output   output.Config
	Simulate bool

	// Prober overrides the dialer/simulator choice. Tests use it;
	// production leaves it nil.
	Prober probe.Prober

	// Sink overrides the writer built from Output. Tests use it;
	// production leaves it nil.
	Sink output.Writer

	// SnapshotInterval spaces periodic snapshot events. Zero means
	// the default.
	SnapshotInterval time.Duration
}

// Summary is the final record of a run.
type Summary struct {
	RunID       string        `json:"run_id"`
	State       string        `json:"state"`
	StartedAt   time.Time     `json:"started_at"`
	Elapsed     time.Duration `json:"elapsed"`
	Stats       Stats         `json:"stats"`
	Admitted    uint64        `json:"admitted"`
	ParseErrors int           `json:"parse_errors"`
	Filtered    int           `json:"filtered"`
	SinkPath    string        `json:"sink_path"`
}

// Controller owns a single run: it wires source, expander, limiter,
// pool, aggregator, and sink, drives them to completion or
// cancellation, and produces the summary. One controller serves
// exactly one run.
type Controller struct {
	cfg   RunConfig
	runID string

	state    int32 // atomic State
	agg      *Aggregator
	bus      *Bus
	admitted atomic.Uint64
	started  time.Time

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// NewController validates the configuration and prepares a run.
func NewController(cfg RunConfig) (*Controller, error) {
	if err := validateRunConfig(&cfg); err != nil {
		return nil, err
	}

	return &Controller{
		cfg:   cfg,
		runID: uuid.New().String(),
		agg:   NewAggregator(),
		bus:   NewBus(),
	}, nil
}

func validateRunConfig(cfg *RunConfig) error {
	if cfg.Workers < 1 {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"workers must be positive", "workers", cfg.Workers)
	}
	if cfg.Rate < 1 {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"rate must be positive", "rate", cfg.Rate)
	}
	if cfg.Timeout <= 0 {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"timeout must be positive", "timeout", cfg.Timeout)
	}
	if len(cfg.Ports) == 0 {
		return errors.ErrConfigMissing("ports")
	}

	switch cfg.Source.Kind {
	case target.SourceRandom:
		if cfg.Source.Count < 1 {
			return errors.NewConfigFieldError(errors.CodeValidation,
				"random source needs a positive count", "source.count", cfg.Source.Count)
		}
	case target.SourceCIDR:
		if len(cfg.Source.CIDRs) == 0 {
			return errors.ErrConfigMissing("source.cidrs")
		}
	case target.SourceFile:
		if cfg.Source.Path == "" {
			return errors.ErrConfigMissing("source.path")
		}
	default:
		return errors.NewConfigFieldError(errors.CodeValidation,
			"source kind must be random, cidr, or file", "source.kind", cfg.Source.Kind)
	}

	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = defaultSnapshotInterval
	}
	return nil
}

// RunID returns the identifier stamped on events, logs, and the
// summary.
func (c *Controller) RunID() string { return c.runID }

// State returns the current lifecycle state.
func (c *Controller) State() State { return State(atomic.LoadInt32(&c.state)) }

// Stats returns a live snapshot of the run counters.
func (c *Controller) Stats() Stats { return c.agg.Snapshot() }

// Admitted returns how many targets have entered the pool so far.
func (c *Controller) Admitted() uint64 { return c.admitted.Load() }

// Events returns the live feed bus.
func (c *Controller) Events() *Bus { return c.bus }

// Cancel stops admitting targets and abandons in-flight probes. Safe
// to call from any goroutine, any number of times.
func (c *Controller) Cancel() {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Run executes the pipeline until the source is exhausted or the run
// is canceled. Construction failures return before any probing with
// the controller back in idle; a sink write failure aborts the run
// and surfaces as the single returned error alongside the partial
// summary.
func (c *Controller) Run(ctx context.Context) (*Summary, error) {
	if !atomic.CompareAndSwapInt32(&c.state, int32(StateIdle), int32(StateRunning)) {
		return nil, errors.NewScanError(errors.CodeScanFailed, "controller already ran")
	}

	src, err := c.buildSource()
	if err != nil {
		atomic.StoreInt32(&c.state, int32(StateIdle))
		return nil, err
	}
	defer closeSource(src)

	sink := c.cfg.Sink
	if sink == nil {
		sink, err = output.New(c.cfg.Output)
		if err != nil {
			atomic.StoreInt32(&c.state, int32(StateIdle))
			return nil, err
		}
	}

	var errLog *output.ErrorLog
	if c.cfg.Output.ErrorLog != "" {
		errLog, err = output.NewErrorLog(c.cfg.Output.ErrorLog)
		if err != nil {
			_ = sink.Close()
			atomic.StoreInt32(&c.state, int32(StateIdle))
			return nil, err
		}
	}

	prober := c.cfg.Prober
	if prober == nil {
		if c.cfg.Simulate {
			prober = probe.NewSimulator()
		} else {
			prober = probe.NewDialer(c.cfg.Timeout)
		}
	}

	limiter := ratelimit.New(c.cfg.Rate, c.cfg.Burst)
	pool := NewPool(PoolConfig{Size: c.cfg.Workers}, limiter, prober)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()

	c.started = time.Now()
	logging.InfoRun("Scan started", c.runID,
		"source", src.Kind(),
		"workers", c.cfg.Workers,
		"rate", c.cfg.Rate,
		"timeout", c.cfg.Timeout,
		"ports", len(c.cfg.Ports),
		"simulate", c.cfg.Simulate)
	c.publishState(StateRunning)

	pool.Start(runCtx)
	go c.admit(runCtx, src, pool)

	snapshotDone := make(chan struct{})
	go c.publishSnapshots(snapshotDone)

	fatal := c.consume(pool, sink, errLog)

	close(snapshotDone)

	if cerr := c.closeSinks(sink, errLog); cerr != nil && fatal == nil {
		fatal = cerr
	}

	final := StateCompleted
	if fatal != nil || runCtx.Err() != nil {
		final = StateCancelled
	}
	atomic.StoreInt32(&c.state, int32(final))
	c.publishState(final)

	summary := c.summarize(src, final)
	c.bus.Close()

	if fatal != nil {
		logging.ErrorRun("Scan aborted", c.runID, fatal,
			"state", final.String(),
			"probed", summary.Stats.TotalProbed)
		return summary, fatal
	}

	logging.InfoRun("Scan finished", c.runID,
		"state", final.String(),
		"elapsed", summary.Elapsed,
		"probed", summary.Stats.TotalProbed,
		"success", summary.Stats.Success)
	return summary, nil
}

// admit pumps expanded targets into the pool until the source is
// exhausted or the run is canceled.
func (c *Controller) admit(ctx context.Context, src target.Source, pool *Pool) {
	defer pool.Close()

	exp := target.NewExpander(src, c.cfg.Ports)
	for {
		if ctx.Err() != nil {
			return
		}

		tgt, ok := exp.Next()
		if !ok {
			return
		}
		if !pool.Submit(ctx, tgt) {
			return
		}

		c.admitted.Add(1)
		metrics.IncrementTargetsGenerated(src.Kind())
		metrics.IncrementTargetsGeneratedPrometheus(src.Kind(), 1)
	}
}

// consume drains classified results, recording each exactly once and
// writing successes to the sink. The first sink failure cancels the
// run; draining continues so the counters stay consistent.
func (c *Controller) consume(pool *Pool, sink output.Writer, errLog *output.ErrorLog) error {
	var fatal error

	for res := range pool.Results() {
		c.agg.Record(res.Outcome)

		ev := Event{
			Type:      EventProbe,
			RunID:     c.runID,
			Timestamp: time.Now(),
			Target:    res.Target.String(),
			Outcome:   res.Outcome.Label(),
		}
		if res.Outcome.Kind == probe.KindSuccess {
			ev.LatencyMS = res.Outcome.LatencyMS()
		}
		c.bus.Publish(ev)

		if res.Outcome.Kind == probe.KindSuccess {
			if fatal != nil {
				continue
			}
			rec := output.Record{
				Timestamp: time.Now(),
				IP:        res.Target.Addr.String(),
				Port:      res.Target.Port,
				LatencyMS: res.Outcome.LatencyMS(),
			}
			if err := sink.Write(rec); err != nil {
				fatal = err
				logging.ErrorSink("Aborting run after sink write failure", sink.Path(), err)
				c.Cancel()
			}
			continue
		}

		if errLog != nil {
			if err := errLog.Write(time.Now(), res.Target.String(), res.Outcome.Label()); err != nil {
				logging.ErrorSink("Disabling error log after write failure", errLog.Path(), err)
				errLog = nil
			}
		}
	}

	return fatal
}

// publishSnapshots emits periodic aggregator snapshots for progress
// consumers until the run drains.
func (c *Controller) publishSnapshots(done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := c.agg.Snapshot()
			c.bus.Publish(Event{
				Type:      EventSnapshot,
				RunID:     c.runID,
				Timestamp: time.Now(),
				Stats:     &stats,
			})
		case <-done:
			return
		}
	}
}

func (c *Controller) publishState(s State) {
	stats := c.agg.Snapshot()
	c.bus.Publish(Event{
		Type:      EventState,
		RunID:     c.runID,
		Timestamp: time.Now(),
		State:     s.String(),
		Stats:     &stats,
	})
}

// closeSinks flushes and closes the result sink and error log. A sink
// close failure surfaces as the terminal error when nothing else
// already has.
func (c *Controller) closeSinks(sink output.Writer, errLog *output.ErrorLog) error {
	var err error
	if cerr := sink.Close(); cerr != nil {
		err = cerr
	}
	if errLog != nil {
		if cerr := errLog.Close(); cerr != nil {
			logging.ErrorSink("Error log close failed", errLog.Path(), cerr)
		}
	}
	return err
}

func (c *Controller) buildSource() (target.Source, error) {
	switch c.cfg.Source.Kind {
	case target.SourceRandom:
		return target.NewRandomSource(c.cfg.Source.Count), nil
	case target.SourceCIDR:
		return target.NewCIDRSource(c.cfg.Source.CIDRs)
	case target.SourceFile:
		return target.NewFileSource(c.cfg.Source.Path)
	default:
		return nil, errors.NewConfigFieldError(errors.CodeValidation,
			"unknown source kind", "source.kind", c.cfg.Source.Kind)
	}
}

func closeSource(src target.Source) {
	if closer, ok := src.(io.Closer); ok {
		_ = closer.Close()
	}
}

func (c *Controller) summarize(src target.Source, final State) *Summary {
	return &Summary{
		RunID:       c.runID,
		State:       final.String(),
		StartedAt:   c.started,
		Elapsed:     time.Since(c.started),
		Stats:       c.agg.Snapshot(),
		Admitted:    c.admitted.Load(),
		ParseErrors: src.ParseErrors(),
		Filtered:    src.Filtered(),
		SinkPath:    c.cfg.Output.Path,
	}
}
