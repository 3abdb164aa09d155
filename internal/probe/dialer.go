package probe

import (
	"context"
	stderrors "errors"
	"net"
	"time"

	"github.com/pulsenet/pulsescan/internal/target"
)

// Dialer probes targets with real TCP connection attempts. An
// established connection is closed immediately; only reachability and
// latency matter.
type Dialer struct {
	timeout time.Duration
	dialer  net.Dialer
}

// NewDialer creates a prober with the given per-attempt timeout.
func NewDialer(timeout time.Duration) *Dialer {
	return &Dialer{
		timeout: timeout,
		// Probes are one-shot; keep-alive would hold sockets open.
		dialer: net.Dialer{KeepAlive: -1},
	}
}

// Timeout returns the per-attempt timeout.
func (d *Dialer) Timeout() time.Duration {
	return d.timeout
}

// Probe dials the target once, racing the attempt against the
// timeout. Latency is measured from attempt start to establishment.
func (d *Dialer) Probe(ctx context.Context, tgt target.Target) (Outcome, error) {
	probeCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	conn, err := d.dialer.DialContext(probeCtx, "tcp", tgt.String())
	elapsed := time.Since(start)

	if err == nil {
		_ = conn.Close()
		return Success(elapsed), nil
	}

	// A canceled run aborts the dial mid-flight; the attempt is
	// discarded rather than classified.
	if ctx.Err() != nil && stderrors.Is(err, context.Canceled) {
		return Outcome{}, ctx.Err()
	}

	return Classify(err, elapsed), nil
}
