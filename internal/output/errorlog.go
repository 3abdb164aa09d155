package output

import (
	"fmt"
	"os"
	"time"

	"github.com/pulsenet/pulsescan/internal/errors"
)

// ErrorLog is an optional append-only log of non-success outcomes, one
// line per outcome with timestamp, target, and kind. It is auxiliary
// to the result sink: write failures disable it instead of aborting
// the run.
type ErrorLog struct {
	file *os.File
	path string
}

// NewErrorLog opens the error log for appending.
func NewErrorLog(path string) (*ErrorLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, sinkFilePerm) // #nosec G304 - log path comes from the operator
	if err != nil {
		return nil, errors.WrapSinkError(errors.CodeSinkOpen,
			"cannot open error log", path, err)
	}
	return &ErrorLog{file: f, path: path}, nil
}

// Write appends one outcome line.
func (l *ErrorLog) Write(ts time.Time, target, kind string) error {
	_, err := fmt.Fprintf(l.file, "%s %s %s\n", ts.Format(timestampLayout), target, kind)
	if err != nil {
		return errors.WrapSinkError(errors.CodeSinkWrite,
			"cannot write error log", l.path, err)
	}
	return nil
}

// Close releases the log file.
func (l *ErrorLog) Close() error {
	return l.file.Close()
}

// Path returns the log path.
func (l *ErrorLog) Path() string { return l.path }
