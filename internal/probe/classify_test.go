package probe

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeNetError implements net.Error with a configurable timeout flag.
type fakeNetError struct {
	msg       string
	isTimeout bool
}

func (e *fakeNetError) Error() string   { return e.msg }
func (e *fakeNetError) Timeout() bool   { return e.isTimeout }
func (e *fakeNetError) Temporary() bool { return false }

func dialErr(cause error) error {
	return &net.OpError{
		Op:   "dial",
		Net:  "tcp",
		Addr: &net.TCPAddr{IP: net.IPv4(203, 0, 113, 1), Port: 80},
		Err:  os.NewSyscallError("connect", cause),
	}
}

func TestClassify(t *testing.T) {
	t.Run("nil error is success with latency", func(t *testing.T) {
		o := Classify(nil, 42*time.Millisecond)
		assert.Equal(t, KindSuccess, o.Kind)
		assert.Equal(t, int64(42), o.LatencyMS())
	})

	t.Run("classifies wrapped syscall errors", func(t *testing.T) {
		tests := []struct {
			name  string
			cause error
			want  ErrorKind
		}{
			{"connection refused", syscall.ECONNREFUSED, ErrorRefused},
			{"connection reset", syscall.ECONNRESET, ErrorReset},
			{"network unreachable", syscall.ENETUNREACH, ErrorUnreachable},
			{"host unreachable", syscall.EHOSTUNREACH, ErrorUnreachable},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				o := Classify(dialErr(tt.cause), time.Millisecond)
				assert.Equal(t, KindError, o.Kind)
				assert.Equal(t, tt.want, o.ErrorKind)
			})
		}
	})

	t.Run("deadline exceeded is timeout", func(t *testing.T) {
		o := Classify(context.DeadlineExceeded, time.Millisecond)
		assert.Equal(t, KindTimeout, o.Kind)

		wrapped := fmt.Errorf("dial tcp: %w", context.DeadlineExceeded)
		assert.Equal(t, KindTimeout, Classify(wrapped, time.Millisecond).Kind)
	})

	t.Run("net.Error timeout is timeout", func(t *testing.T) {
		err := &fakeNetError{msg: "i/o timeout", isTimeout: true}
		assert.Equal(t, KindTimeout, Classify(err, time.Millisecond).Kind)
	})

	t.Run("falls back to message text", func(t *testing.T) {
		tests := []struct {
			msg  string
			want Outcome
		}{
			{"connect: connection refused", Failure(ErrorRefused)},
			{"read: connection reset by peer", Failure(ErrorReset)},
			{"connect: network is unreachable", Failure(ErrorUnreachable)},
			{"connect: no route to host", Failure(ErrorUnreachable)},
			{"dial tcp: i/o timeout", Timeout()},
		}

		for _, tt := range tests {
			o := Classify(stderrors.New(tt.msg), time.Millisecond)
			assert.Equal(t, tt.want.Kind, o.Kind, "msg %q", tt.msg)
			assert.Equal(t, tt.want.ErrorKind, o.ErrorKind, "msg %q", tt.msg)
		}
	})

	t.Run("unknown failures map to other", func(t *testing.T) {
		o := Classify(stderrors.New("something inexplicable"), time.Millisecond)
		assert.Equal(t, KindError, o.Kind)
		assert.Equal(t, ErrorOther, o.ErrorKind)
	})

	t.Run("classification is idempotent", func(t *testing.T) {
		err := dialErr(syscall.ECONNREFUSED)
		first := Classify(err, time.Millisecond)
		for i := 0; i < 3; i++ {
			again := Classify(err, time.Millisecond)
			assert.Equal(t, first.Kind, again.Kind)
			assert.Equal(t, first.ErrorKind, again.ErrorKind)
		}
	})
}

func TestOutcomeLabel(t *testing.T) {
	assert.Equal(t, "success", Success(time.Millisecond).Label())
	assert.Equal(t, "timeout", Timeout().Label())
	assert.Equal(t, "refused", Failure(ErrorRefused).Label())
	assert.Equal(t, "unreachable", Failure(ErrorUnreachable).Label())
}
