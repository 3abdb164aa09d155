// Package probe executes single connection attempts against targets
// and classifies their outcomes.
package probe

import (
	"context"
	"time"

	"github.com/pulsenet/pulsescan/internal/target"
)

// Kind is the top-level classification of a probe outcome.
type Kind string

const (
	KindSuccess Kind = "success"
	KindTimeout Kind = "timeout"
	KindError   Kind = "error"
)

// ErrorKind refines failed probes.
type ErrorKind string

const (
	ErrorRefused     ErrorKind = "refused"
	ErrorReset       ErrorKind = "reset"
	ErrorUnreachable ErrorKind = "unreachable"
	ErrorOther       ErrorKind = "other"
)

// Outcome is the classified result of one probe. Immutable once
// produced; reported exactly once per target.
type Outcome struct {
	Kind      Kind
	ErrorKind ErrorKind     // set when Kind is KindError
	Latency   time.Duration // set when Kind is KindSuccess
}

// Success builds a successful outcome with the measured latency.
func Success(latency time.Duration) Outcome {
	return Outcome{Kind: KindSuccess, Latency: latency}
}

// Timeout builds a timed-out outcome.
func Timeout() Outcome {
	return Outcome{Kind: KindTimeout}
}

// Failure builds an errored outcome of the given kind.
func Failure(kind ErrorKind) Outcome {
	return Outcome{Kind: KindError, ErrorKind: kind}
}

// LatencyMS returns the success latency in whole milliseconds.
func (o Outcome) LatencyMS() int64 {
	return o.Latency.Milliseconds()
}

// Label returns the flattened outcome name used as a metrics label:
// the error kind for errors, the kind itself otherwise.
func (o Outcome) Label() string {
	if o.Kind == KindError {
		return string(o.ErrorKind)
	}
	return string(o.Kind)
}

// Prober executes a single connection attempt against a target. The
// returned error is non-nil only when the surrounding run was canceled
// mid-probe; such attempts are discarded, never classified.
type Prober interface {
	Probe(ctx context.Context, tgt target.Target) (Outcome, error)
}
