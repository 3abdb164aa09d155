package scan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusSubscribe(t *testing.T) {
	t.Run("delivers published events in order", func(t *testing.T) {
		bus := NewBus()
		defer bus.Close()

		ch, cancel := bus.Subscribe(4)
		defer cancel()

		bus.Publish(Event{Type: EventProbe, Target: "10.0.0.1:80"})
		bus.Publish(Event{Type: EventProbe, Target: "10.0.0.1:443"})

		first := <-ch
		second := <-ch
		assert.Equal(t, "10.0.0.1:80", first.Target)
		assert.Equal(t, "10.0.0.1:443", second.Target)
	})

	t.Run("fans out to every subscriber", func(t *testing.T) {
		bus := NewBus()
		defer bus.Close()

		chA, cancelA := bus.Subscribe(1)
		defer cancelA()
		chB, cancelB := bus.Subscribe(1)
		defer cancelB()

		bus.Publish(Event{Type: EventState, State: "running"})

		assert.Equal(t, "running", (<-chA).State)
		assert.Equal(t, "running", (<-chB).State)
	})

	t.Run("drops events for a full subscriber instead of blocking", func(t *testing.T) {
		bus := NewBus()
		defer bus.Close()

		ch, cancel := bus.Subscribe(1)
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			bus.Publish(Event{Type: EventProbe, Target: "kept"})
			bus.Publish(Event{Type: EventProbe, Target: "dropped"})
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("publish blocked on a full subscriber")
		}

		assert.Equal(t, "kept", (<-ch).Target)
		select {
		case ev := <-ch:
			t.Fatalf("expected overflow to be dropped, got %q", ev.Target)
		default:
		}
	})

	t.Run("unsubscribe stops delivery and closes the channel", func(t *testing.T) {
		bus := NewBus()
		defer bus.Close()

		ch, cancel := bus.Subscribe(1)
		cancel()

		bus.Publish(Event{Type: EventProbe})

		_, open := <-ch
		assert.False(t, open)
	})
}

func TestBusClose(t *testing.T) {
	t.Run("closes subscriber channels", func(t *testing.T) {
		bus := NewBus()
		ch, cancel := bus.Subscribe(1)
		defer cancel()

		bus.Close()

		_, open := <-ch
		assert.False(t, open)
	})

	t.Run("subscribing after close yields a closed channel", func(t *testing.T) {
		bus := NewBus()
		bus.Close()

		ch, cancel := bus.Subscribe(1)
		require.NotNil(t, cancel)
		cancel()

		_, open := <-ch
		assert.False(t, open)
	})

	t.Run("publish and close are safe after close", func(t *testing.T) {
		bus := NewBus()
		bus.Close()

		assert.NotPanics(t, func() {
			bus.Publish(Event{Type: EventProbe})
			bus.Close()
		})
	})
}
