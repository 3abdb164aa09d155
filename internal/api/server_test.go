package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsenet/pulsescan/internal/metrics"
	"github.com/pulsenet/pulsescan/internal/scan"
)

// fakeProvider is a static RunProvider for handler tests.
type fakeProvider struct {
	runID    string
	state    scan.State
	stats    scan.Stats
	admitted uint64
	bus      *scan.Bus
}

func (p *fakeProvider) RunID() string     { return p.runID }
func (p *fakeProvider) State() scan.State { return p.state }
func (p *fakeProvider) Stats() scan.Stats { return p.stats }
func (p *fakeProvider) Admitted() uint64  { return p.admitted }
func (p *fakeProvider) Events() *scan.Bus { return p.bus }

func newFakeProvider() *fakeProvider {
	mean := 18.5
	return &fakeProvider{
		runID: "run-123",
		state: scan.StateRunning,
		stats: scan.Stats{
			TotalProbed:   37,
			Success:       20,
			Timeout:       10,
			Refused:       5,
			Reset:         1,
			Unreachable:   1,
			MeanLatencyMS: &mean,
		},
		admitted: 40,
		bus:      scan.NewBus(),
	}
}

func TestNewServer(t *testing.T) {
	t.Run("creates server with routes and handler", func(t *testing.T) {
		srv := New("127.0.0.1:0", "1.2.3", newFakeProvider())

		assert.NotNil(t, srv.router)
		assert.NotNil(t, srv.server)
		assert.Empty(t, srv.Addr(), "address is unknown before Start")
	})
}

func TestHealthEndpoint(t *testing.T) {
	srv := New("127.0.0.1:0", "1.2.3", newFakeProvider())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestStatusEndpoint(t *testing.T) {
	srv := New("127.0.0.1:0", "1.2.3", newFakeProvider())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "run-123", resp.RunID)
	assert.Equal(t, "running", resp.State)
	assert.Equal(t, uint64(40), resp.Admitted)
	assert.Equal(t, uint64(37), resp.Stats.TotalProbed)
	require.NotNil(t, resp.Stats.MeanLatencyMS)
	assert.InDelta(t, 18.5, *resp.Stats.MeanLatencyMS, 0.001)
}

func TestStatusMethodNotAllowed(t *testing.T) {
	srv := New("127.0.0.1:0", "1.2.3", newFakeProvider())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.GetGlobalMetrics().SetActiveWorkers(2)

	srv := New("127.0.0.1:0", "1.2.3", newFakeProvider())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pulsescan_")
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := New("127.0.0.1:0", "1.2.3", newFakeProvider())
	srv.router.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec := httptest.NewRecorder()

	assert.NotPanics(t, func() { srv.router.ServeHTTP(rec, req) })
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestEventsWebSocket(t *testing.T) {
	provider := newFakeProvider()
	srv := New("127.0.0.1:0", "1.2.3", provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" },
		2*time.Second, 5*time.Millisecond, "server never bound its listener")

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/api/v1/events", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = conn.Close() }()

	// Republish until the handler's subscription picks one up; the
	// subscribe happens just after the upgrade completes.
	stopPublishing := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopPublishing:
				return
			case <-ticker.C:
				provider.bus.Publish(scan.Event{
					Type:      scan.EventProbe,
					RunID:     "run-123",
					Target:    "8.8.8.8:443",
					Outcome:   "success",
					LatencyMS: 21,
				})
			}
		}
	}()

	var ev scan.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	close(stopPublishing)

	assert.Equal(t, scan.EventProbe, ev.Type)
	assert.Equal(t, "run-123", ev.RunID)
	assert.Equal(t, "8.8.8.8:443", ev.Target)
	assert.Equal(t, "success", ev.Outcome)
	assert.Equal(t, int64(21), ev.LatencyMS)

	// Closing the bus ends the stream with a normal close frame,
	// possibly after buffered duplicates drain.
	provider.bus.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	var closeErr *websocket.CloseError
	if assert.True(t, stderrors.As(err, &closeErr), "expected close frame, got %v", err) {
		assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	}

	cancel()
	select {
	case err := <-serveDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
