package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsenet/pulsescan/internal/errors"
	"github.com/pulsenet/pulsescan/internal/output"
	"github.com/pulsenet/pulsescan/internal/probe"
	"github.com/pulsenet/pulsescan/internal/target"
)

func testRunConfig(dir string) RunConfig {
	return RunConfig{
		Workers: 2,
		Rate:    1000,
		Timeout: 200 * time.Millisecond,
		Ports:   []uint16{80},
		Source:  SourceSpec{Kind: target.SourceRandom, Count: 5},
		Output: output.Config{
			Mode: output.ModeSimple,
			Path: filepath.Join(dir, "results.log"),
		},
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	trimmed := strings.TrimSuffix(string(data), "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func TestNewControllerValidation(t *testing.T) {
	dir := t.TempDir()

	t.Run("accepts a complete configuration", func(t *testing.T) {
		ctrl, err := NewController(testRunConfig(dir))
		require.NoError(t, err)
		assert.NotEmpty(t, ctrl.RunID())
		assert.Equal(t, StateIdle, ctrl.State())
		assert.Equal(t, uint64(0), ctrl.Admitted())
	})

	tests := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{"rejects zero workers", func(cfg *RunConfig) { cfg.Workers = 0 }},
		{"rejects zero rate", func(cfg *RunConfig) { cfg.Rate = 0 }},
		{"rejects zero timeout", func(cfg *RunConfig) { cfg.Timeout = 0 }},
		{"rejects empty ports", func(cfg *RunConfig) { cfg.Ports = nil }},
		{"rejects unknown source kind", func(cfg *RunConfig) { cfg.Source.Kind = "dns" }},
		{"rejects random source without count", func(cfg *RunConfig) { cfg.Source.Count = 0 }},
		{"rejects cidr source without ranges", func(cfg *RunConfig) {
			cfg.Source = SourceSpec{Kind: target.SourceCIDR}
		}},
		{"rejects file source without path", func(cfg *RunConfig) {
			cfg.Source = SourceSpec{Kind: target.SourceFile}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testRunConfig(dir)
			tt.mutate(&cfg)

			ctrl, err := NewController(cfg)
			require.Error(t, err)
			assert.Nil(t, ctrl)
		})
	}
}

func TestControllerRunFileSource(t *testing.T) {
	dir := t.TempDir()
	listPath := filepath.Join(dir, "addresses.txt")
	require.NoError(t, os.WriteFile(listPath, []byte("10.0.0.5\nbogus\n8.8.8.8\n"), 0o644))

	cfg := testRunConfig(dir)
	cfg.Source = SourceSpec{Kind: target.SourceFile, Path: listPath}
	cfg.Prober = &countingProber{
		seen:    make(map[string]int),
		outcome: probe.Success(7 * time.Millisecond),
	}

	ctrl, err := NewController(cfg)
	require.NoError(t, err)

	summary, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, ctrl.State())
	assert.Equal(t, "completed", summary.State)
	assert.Equal(t, uint64(1), summary.Admitted)
	assert.Equal(t, uint64(1), summary.Stats.TotalProbed)
	assert.Equal(t, uint64(1), summary.Stats.Success)
	assert.Equal(t, 1, summary.ParseErrors)
	assert.Equal(t, 1, summary.Filtered)

	lines := readLines(t, cfg.Output.Path)
	require.Len(t, lines, 1)
	assert.Equal(t, "8.8.8.8", lines[0])
}

func TestControllerRunAllTimeouts(t *testing.T) {
	dir := t.TempDir()

	cfg := testRunConfig(dir)
	cfg.Source = SourceSpec{Kind: target.SourceRandom, Count: 50}
	cfg.Output.ErrorLog = filepath.Join(dir, "errors.log")
	cfg.Prober = probe.NewSimulator().ForceOutcome(probe.Timeout()).
		WithDelayBand(time.Millisecond, 2*time.Millisecond)

	ctrl, err := NewController(cfg)
	require.NoError(t, err)

	summary, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "completed", summary.State)
	assert.Equal(t, uint64(50), summary.Admitted)
	assert.Equal(t, uint64(50), summary.Stats.TotalProbed)
	assert.Equal(t, uint64(50), summary.Stats.Timeout)
	assert.Equal(t, uint64(0), summary.Stats.Success)
	assert.Nil(t, summary.Stats.MeanLatencyMS)

	assert.Empty(t, readLines(t, cfg.Output.Path), "timeouts must not reach the result sink")

	errLines := readLines(t, cfg.Output.ErrorLog)
	require.Len(t, errLines, 50)
	for _, line := range errLines {
		assert.True(t, strings.HasSuffix(line, " timeout"), "unexpected error log line %q", line)
	}
}

func TestControllerRunCIDRDetailedCSV(t *testing.T) {
	dir := t.TempDir()

	cfg := testRunConfig(dir)
	cfg.Ports = []uint16{80, 443}
	cfg.Source = SourceSpec{Kind: target.SourceCIDR, CIDRs: []string{"198.51.100.0/30"}}
	cfg.Output = output.Config{
		Mode:   output.ModeDetailed,
		Format: output.FormatCSV,
		Path:   filepath.Join(dir, "results.csv"),
	}
	cfg.Prober = &countingProber{
		seen:    make(map[string]int),
		outcome: probe.Success(12 * time.Millisecond),
	}

	ctrl, err := NewController(cfg)
	require.NoError(t, err)

	summary, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(8), summary.Admitted)
	assert.Equal(t, uint64(8), summary.Stats.TotalProbed)
	assert.Equal(t, uint64(8), summary.Stats.Success)
	require.NotNil(t, summary.Stats.MeanLatencyMS)
	assert.InDelta(t, 12.0, *summary.Stats.MeanLatencyMS, 0.001)

	lines := readLines(t, cfg.Output.Path)
	require.Len(t, lines, 9)
	assert.Equal(t, "Timestamp,IP,Port,Latency(ms)", lines[0])
	for _, line := range lines[1:] {
		fields := strings.Split(line, ",")
		require.Len(t, fields, 4)
		assert.True(t, strings.HasPrefix(fields[1], "198.51.100."), "unexpected address %q", fields[1])
		assert.Contains(t, []string{"80", "443"}, fields[2])
		assert.Equal(t, "12", fields[3])
	}
}

func TestControllerCancel(t *testing.T) {
	dir := t.TempDir()

	cfg := testRunConfig(dir)
	cfg.Workers = 8
	cfg.Rate = 50000
	cfg.Source = SourceSpec{Kind: target.SourceRandom, Count: 100000}
	cfg.Output = output.Config{
		Mode:   output.ModeDetailed,
		Format: output.FormatCSV,
		Path:   filepath.Join(dir, "results.csv"),
	}
	cfg.Prober = &countingProber{
		seen:    make(map[string]int),
		delay:   2 * time.Millisecond,
		outcome: probe.Success(8 * time.Millisecond),
	}

	ctrl, err := NewController(cfg)
	require.NoError(t, err)

	type runResult struct {
		summary *Summary
		err     error
	}
	done := make(chan runResult, 1)
	go func() {
		summary, runErr := ctrl.Run(context.Background())
		done <- runResult{summary, runErr}
	}()

	require.Eventually(t, func() bool { return ctrl.Stats().TotalProbed >= 20 },
		5*time.Second, time.Millisecond, "run never made progress")
	ctrl.Cancel()

	var res runResult
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}

	require.NoError(t, res.err, "cancellation is an outcome, not an error")
	require.NotNil(t, res.summary)
	assert.Equal(t, StateCancelled, ctrl.State())
	assert.Equal(t, "cancelled", res.summary.State)

	stats := res.summary.Stats
	assert.Less(t, stats.TotalProbed, uint64(100000))
	assert.Equal(t, stats.TotalProbed, stats.Success+stats.Timeout+stats.Errors())
	assert.LessOrEqual(t, stats.TotalProbed, res.summary.Admitted)

	lines := readLines(t, cfg.Output.Path)
	require.NotEmpty(t, lines)
	assert.Equal(t, "Timestamp,IP,Port,Latency(ms)", lines[0])
	assert.Len(t, lines, int(stats.Success)+1)
	for _, line := range lines[1:] {
		assert.Len(t, strings.Split(line, ","), 4, "truncated sink line %q", line)
	}
}

// failingSink accepts a fixed number of writes and then fails every
// one after that.
type failingSink struct {
	mu     sync.Mutex
	writes int
	limit  int
}

func (s *failingSink) Write(output.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.writes > s.limit {
		return fmt.Errorf("disk full")
	}
	return nil
}

func (s *failingSink) Close() error { return nil }
func (s *failingSink) Path() string { return "failing-sink" }

func TestControllerSinkFailureAbortsRun(t *testing.T) {
	dir := t.TempDir()

	cfg := testRunConfig(dir)
	cfg.Workers = 4
	cfg.Rate = 50000
	cfg.Source = SourceSpec{Kind: target.SourceRandom, Count: 5000}
	cfg.Sink = &failingSink{limit: 4}
	cfg.Prober = &countingProber{
		seen:    make(map[string]int),
		outcome: probe.Success(3 * time.Millisecond),
	}

	ctrl, err := NewController(cfg)
	require.NoError(t, err)

	summary, err := ctrl.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	require.NotNil(t, summary, "an aborted run still reports its partial summary")
	assert.Equal(t, StateCancelled, ctrl.State())
	assert.Equal(t, "cancelled", summary.State)
	assert.GreaterOrEqual(t, summary.Stats.Success, uint64(5))
	assert.Less(t, summary.Stats.TotalProbed, uint64(5000))
	assert.Equal(t, summary.Stats.TotalProbed,
		summary.Stats.Success+summary.Stats.Timeout+summary.Stats.Errors())
}

func TestControllerRunTwice(t *testing.T) {
	dir := t.TempDir()

	cfg := testRunConfig(dir)
	cfg.Prober = &countingProber{
		seen:    make(map[string]int),
		outcome: probe.Success(time.Millisecond),
	}

	ctrl, err := NewController(cfg)
	require.NoError(t, err)

	_, err = ctrl.Run(context.Background())
	require.NoError(t, err)

	summary, err := ctrl.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeScanFailed))
	assert.Nil(t, summary)
}

func TestControllerEvents(t *testing.T) {
	dir := t.TempDir()

	cfg := testRunConfig(dir)
	cfg.Source = SourceSpec{Kind: target.SourceRandom, Count: 30}
	cfg.SnapshotInterval = 20 * time.Millisecond
	cfg.Prober = &countingProber{
		seen:    make(map[string]int),
		delay:   10 * time.Millisecond,
		outcome: probe.Success(4 * time.Millisecond),
	}

	ctrl, err := NewController(cfg)
	require.NoError(t, err)

	ch, cancel := ctrl.Events().Subscribe(256)
	defer cancel()

	_, err = ctrl.Run(context.Background())
	require.NoError(t, err)

	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	require.NotEmpty(t, events)

	first := events[0]
	assert.Equal(t, EventState, first.Type)
	assert.Equal(t, "running", first.State)

	last := events[len(events)-1]
	assert.Equal(t, EventState, last.Type)
	assert.Equal(t, "completed", last.State)
	require.NotNil(t, last.Stats)
	assert.Equal(t, uint64(30), last.Stats.TotalProbed)

	var probes, snapshots int
	for _, ev := range events {
		assert.Equal(t, ctrl.RunID(), ev.RunID)
		switch ev.Type {
		case EventProbe:
			probes++
			assert.NotEmpty(t, ev.Target)
			assert.Equal(t, "success", ev.Outcome)
		case EventSnapshot:
			snapshots++
			assert.NotNil(t, ev.Stats)
		}
	}
	assert.Equal(t, 30, probes)
	assert.GreaterOrEqual(t, snapshots, 1)
}

func TestControllerSimulate(t *testing.T) {
	dir := t.TempDir()

	cfg := testRunConfig(dir)
	cfg.Workers = 64
	cfg.Rate = 10000
	cfg.Source = SourceSpec{Kind: target.SourceRandom, Count: 200}
	cfg.Simulate = true

	ctrl, err := NewController(cfg)
	require.NoError(t, err)

	summary, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "completed", summary.State)
	assert.Equal(t, uint64(200), summary.Admitted)

	stats := summary.Stats
	assert.Equal(t, uint64(200), stats.TotalProbed)
	assert.Equal(t, stats.TotalProbed, stats.Success+stats.Timeout+stats.Errors())
	if stats.Success == 0 {
		assert.Nil(t, stats.MeanLatencyMS)
	} else {
		assert.NotNil(t, stats.MeanLatencyMS)
	}

	lines := readLines(t, cfg.Output.Path)
	assert.Len(t, lines, int(stats.Success))
}
