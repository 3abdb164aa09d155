package probe

import (
	"context"
	stderrors "errors"
	"net"
	"strings"
	"syscall"
	"time"
)

// Classify maps the raw error of a completed dial attempt to an
// outcome. The same raw error always maps to the same kind.
func Classify(err error, elapsed time.Duration) Outcome {
	if err == nil {
		return Success(elapsed)
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return Timeout()
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return Timeout()
	}

	switch {
	case stderrors.Is(err, syscall.ECONNREFUSED):
		return Failure(ErrorRefused)
	case stderrors.Is(err, syscall.ECONNRESET):
		return Failure(ErrorReset)
	case stderrors.Is(err, syscall.ENETUNREACH), stderrors.Is(err, syscall.EHOSTUNREACH):
		return Failure(ErrorUnreachable)
	}

	// Wrapped dialers on some platforms only expose message text.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "refused"):
		return Failure(ErrorRefused)
	case strings.Contains(msg, "reset"):
		return Failure(ErrorReset)
	case strings.Contains(msg, "unreachable"), strings.Contains(msg, "no route to host"):
		return Failure(ErrorUnreachable)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return Timeout()
	}

	return Failure(ErrorOther)
}
