package probe

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsenet/pulsescan/internal/target"
)

func loopbackTarget(t *testing.T, port int) target.Target {
	t.Helper()
	addr, err := target.ParseAddress("127.0.0.1")
	require.NoError(t, err)
	return target.Target{Addr: addr, Port: uint16(port)}
}

func TestDialerProbe(t *testing.T) {
	t.Run("open port yields success with latency", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		_, portStr, err := net.SplitHostPort(ln.Addr().String())
		require.NoError(t, err)
		port, err := strconv.Atoi(portStr)
		require.NoError(t, err)

		d := NewDialer(2 * time.Second)
		o, probeErr := d.Probe(context.Background(), loopbackTarget(t, port))

		require.NoError(t, probeErr)
		assert.Equal(t, KindSuccess, o.Kind)
		assert.GreaterOrEqual(t, o.Latency, time.Duration(0))
		assert.Less(t, o.Latency, 2*time.Second)
	})

	t.Run("closed port yields refused", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)

		_, portStr, err := net.SplitHostPort(ln.Addr().String())
		require.NoError(t, err)
		port, err := strconv.Atoi(portStr)
		require.NoError(t, err)
		require.NoError(t, ln.Close())

		d := NewDialer(2 * time.Second)
		o, probeErr := d.Probe(context.Background(), loopbackTarget(t, port))

		require.NoError(t, probeErr)
		assert.Equal(t, KindError, o.Kind)
		assert.Equal(t, ErrorRefused, o.ErrorKind)
	})

	t.Run("canceled run discards the attempt", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		d := NewDialer(2 * time.Second)
		_, err := d.Probe(ctx, loopbackTarget(t, 80))

		assert.Error(t, err)
	})

	t.Run("keep-alive is disabled on probe connections", func(t *testing.T) {
		d := NewDialer(time.Second)
		assert.Negative(t, d.dialer.KeepAlive)
		assert.Equal(t, time.Second, d.Timeout())
	})
}
