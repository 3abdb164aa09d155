package probe

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/pulsenet/pulsescan/internal/target"
)

// Default synthetic delay band.
const (
	defaultMinDelay = 10 * time.Millisecond
	defaultMaxDelay = 100 * time.Millisecond
)

// Distribution holds relative weights for synthetic outcomes. Weights
// need not sum to one.
type Distribution struct {
	Success     float64
	Timeout     float64
	Refused     float64
	Reset       float64
	Unreachable float64
	Other       float64
}

// DefaultDistribution mirrors what an untargeted sweep tends to look
// like: mostly dead space and refusals, the odd open port.
func DefaultDistribution() Distribution {
	return Distribution{
		Success:     0.05,
		Timeout:     0.15,
		Refused:     0.40,
		Reset:       0.10,
		Unreachable: 0.20,
		Other:       0.10,
	}
}

// Simulator replays the pipeline with synthetic outcomes and no
// network I/O. Statistics produced under simulation are structurally
// identical to a live run's.
type Simulator struct {
	minDelay time.Duration
	maxDelay time.Duration
	dist     Distribution
	force    *Outcome
}

// NewSimulator creates a simulator with the default delay band and
// outcome distribution.
func NewSimulator() *Simulator {
	return &Simulator{
		minDelay: defaultMinDelay,
		maxDelay: defaultMaxDelay,
		dist:     DefaultDistribution(),
	}
}

// WithDelayBand overrides the synthetic delay band.
func (s *Simulator) WithDelayBand(minDelay, maxDelay time.Duration) *Simulator {
	s.minDelay = minDelay
	s.maxDelay = maxDelay
	return s
}

// WithDistribution overrides the outcome distribution.
func (s *Simulator) WithDistribution(dist Distribution) *Simulator {
	s.dist = dist
	return s
}

// ForceOutcome pins every probe to a fixed outcome, for tests and
// throughput rehearsal.
func (s *Simulator) ForceOutcome(o Outcome) *Simulator {
	s.force = &o
	return s
}

// Probe sleeps a synthetic delay and draws an outcome. Safe for
// concurrent use; draws go through the shared math/rand/v2 generator.
func (s *Simulator) Probe(ctx context.Context, _ target.Target) (Outcome, error) {
	delay := s.minDelay
	if s.maxDelay > s.minDelay {
		delay += rand.N(s.maxDelay - s.minDelay)
	}

	start := time.Now()
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	if s.force != nil {
		return *s.force, nil
	}
	return s.draw(time.Since(start)), nil
}

func (s *Simulator) draw(elapsed time.Duration) Outcome {
	steps := []struct {
		weight  float64
		outcome Outcome
	}{
		{s.dist.Success, Success(elapsed)},
		{s.dist.Timeout, Timeout()},
		{s.dist.Refused, Failure(ErrorRefused)},
		{s.dist.Reset, Failure(ErrorReset)},
		{s.dist.Unreachable, Failure(ErrorUnreachable)},
		{s.dist.Other, Failure(ErrorOther)},
	}

	var total float64
	for _, st := range steps {
		total += st.weight
	}
	if total <= 0 {
		return Timeout()
	}

	r := rand.Float64() * total
	for _, st := range steps {
		if r < st.weight {
			return st.outcome
		}
		r -= st.weight
	}
	return Failure(ErrorOther)
}
