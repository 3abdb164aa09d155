// Package output persists successful probe results. Sinks are
// append-only and flushed per record, so a killed process keeps
// everything written up to that point.
package output

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/pulsenet/pulsescan/internal/errors"
	"github.com/pulsenet/pulsescan/internal/metrics"
)

// Recognized sink modes and detailed formats.
const (
	ModeSimple   = "simple"
	ModeDetailed = "detailed"

	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Fixed header of detailed CSV sinks.
const csvHeader = "Timestamp,IP,Port,Latency(ms)"

// Sortable timestamp form used in detailed records.
const timestampLayout = "2006-01-02 15:04:05"

const sinkFilePerm = 0644

// Config selects the sink mode, format, and path.
type Config struct {
	Mode     string `yaml:"mode" json:"mode"`
	Format   string `yaml:"format" json:"format"`
	Path     string `yaml:"path" json:"path"`
	ErrorLog string `yaml:"error_log" json:"error_log"`
}

// Record is one successful probe bound for the sink.
type Record struct {
	Timestamp time.Time
	IP        string
	Port      uint16
	LatencyMS int64
}

// Writer persists success records. Implementations are not safe for
// concurrent use; the controller serializes writes. Write errors are
// fatal to the run, so implementations return them unretried.
type Writer interface {
	Write(rec Record) error
	Close() error
	Path() string
}

// New opens the configured result sink, creating the file or appending
// to an existing one. A detailed CSV sink writes its header only when
// the file starts out empty.
func New(cfg Config) (Writer, error) {
	switch cfg.Mode {
	case ModeSimple:
		f, err := openSink(cfg.Path)
		if err != nil {
			return nil, err
		}
		return &simpleWriter{file: f, path: cfg.Path}, nil

	case ModeDetailed:
		switch cfg.Format {
		case FormatCSV:
			return newCSVWriter(cfg.Path)
		case FormatJSON:
			f, err := openSink(cfg.Path)
			if err != nil {
				return nil, err
			}
			return &jsonWriter{file: f, path: cfg.Path}, nil
		default:
			return nil, errors.NewConfigError(errors.CodeValidation,
				"output format must be csv or json")
		}

	default:
		return nil, errors.NewConfigError(errors.CodeValidation,
			"output mode must be simple or detailed")
	}
}

func openSink(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, sinkFilePerm) // #nosec G304 - sink path comes from the operator
	if err != nil {
		return nil, errors.WrapSinkError(errors.CodeSinkOpen,
			"cannot open result sink", path, err)
	}
	return f, nil
}

// simpleWriter appends one bare address per line for downstream piping.
type simpleWriter struct {
	file *os.File
	path string
}

func (w *simpleWriter) Write(rec Record) error {
	if _, err := w.file.WriteString(rec.IP + "\n"); err != nil {
		metrics.IncrementSinkWrites(ModeSimple, "error")
		metrics.IncrementSinkWritesPrometheus(ModeSimple, false)
		return errors.ErrSinkWrite(w.path, err)
	}
	metrics.IncrementSinkWrites(ModeSimple, "success")
	metrics.IncrementSinkWritesPrometheus(ModeSimple, true)
	return nil
}

func (w *simpleWriter) Close() error {
	return w.file.Close()
}

func (w *simpleWriter) Path() string { return w.path }

// csvWriter appends detailed records as comma-separated rows under a
// fixed header.
type csvWriter struct {
	file *os.File
	w    *csv.Writer
	path string
}

func newCSVWriter(path string) (*csvWriter, error) {
	f, err := openSink(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.WrapSinkError(errors.CodeSinkOpen,
			"cannot stat result sink", path, err)
	}

	cw := &csvWriter{file: f, w: csv.NewWriter(f), path: path}
	if info.Size() == 0 {
		if _, err := f.WriteString(csvHeader + "\n"); err != nil {
			_ = f.Close()
			return nil, errors.WrapSinkError(errors.CodeSinkOpen,
				"cannot write sink header", path, err)
		}
	}
	return cw, nil
}

func (w *csvWriter) Write(rec Record) error {
	row := []string{
		rec.Timestamp.Format(timestampLayout),
		rec.IP,
		strconv.Itoa(int(rec.Port)),
		strconv.FormatInt(rec.LatencyMS, 10),
	}

	err := w.w.Write(row)
	if err == nil {
		w.w.Flush()
		err = w.w.Error()
	}
	if err != nil {
		metrics.IncrementSinkWrites(FormatCSV, "error")
		metrics.IncrementSinkWritesPrometheus(FormatCSV, false)
		return errors.ErrSinkWrite(w.path, err)
	}

	metrics.IncrementSinkWrites(FormatCSV, "success")
	metrics.IncrementSinkWritesPrometheus(FormatCSV, true)
	return nil
}

func (w *csvWriter) Close() error {
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		_ = w.file.Close()
		return errors.WrapSinkError(errors.CodeSinkFlush,
			"cannot flush result sink", w.path, err)
	}
	return w.file.Close()
}

func (w *csvWriter) Path() string { return w.path }

// jsonRecord fixes the field order of JSON-lines records.
type jsonRecord struct {
	Timestamp string `json:"timestamp"`
	IP        string `json:"ip"`
	Port      uint16 `json:"port"`
	LatencyMS int64  `json:"latency_ms"`
}

// jsonWriter appends one self-contained JSON object per line.
type jsonWriter struct {
	file *os.File
	path string
}

func (w *jsonWriter) Write(rec Record) error {
	data, err := json.Marshal(jsonRecord{
		Timestamp: rec.Timestamp.Format(timestampLayout),
		IP:        rec.IP,
		Port:      rec.Port,
		LatencyMS: rec.LatencyMS,
	})
	if err == nil {
		_, err = w.file.Write(append(data, '\n'))
	}
	if err != nil {
		metrics.IncrementSinkWrites(FormatJSON, "error")
		metrics.IncrementSinkWritesPrometheus(FormatJSON, false)
		return errors.ErrSinkWrite(w.path, err)
	}

	metrics.IncrementSinkWrites(FormatJSON, "success")
	metrics.IncrementSinkWritesPrometheus(FormatJSON, true)
	return nil
}

func (w *jsonWriter) Close() error {
	return w.file.Close()
}

func (w *jsonWriter) Path() string { return w.path }
