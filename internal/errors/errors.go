// Package errors provides structured error handling for pulsescan operations.
// It defines error codes, error types, and provides utilities for creating
// and handling errors with context and structured information.
package errors

import (
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeInternal      ErrorCode = "INTERNAL"

	// Target and source errors.
	CodeTargetInvalid   ErrorCode = "TARGET_INVALID"
	CodeCIDRInvalid     ErrorCode = "CIDR_INVALID"
	CodePortInvalid     ErrorCode = "PORT_INVALID"
	CodeAddressInvalid  ErrorCode = "ADDRESS_INVALID"
	CodeFileNotFound    ErrorCode = "FILE_NOT_FOUND"
	CodeSourceExhausted ErrorCode = "SOURCE_EXHAUSTED"

	// Result sink errors.
	CodeSinkOpen  ErrorCode = "SINK_OPEN"
	CodeSinkWrite ErrorCode = "SINK_WRITE"
	CodeSinkFlush ErrorCode = "SINK_FLUSH"

	// Run errors.
	CodeScanFailed         ErrorCode = "SCAN_FAILED"
	CodeRateLimited        ErrorCode = "RATE_LIMITED"
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// ScanError represents an error that occurred during a scan run.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// SourceError represents address-source errors (CIDR parsing, address files).
type SourceError struct {
	Code    ErrorCode
	Message string
	Input   string
	Line    int
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] %s (line %d: %q)", e.Code, e.Message, e.Line, e.Input)
	}
	if e.Input != "" {
		return fmt.Sprintf("[%s] %s (input: %q)", e.Code, e.Message, e.Input)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *SourceError) Unwrap() error {
	return e.Cause
}

// NewSourceError creates a new address-source error.
func NewSourceError(code ErrorCode, message, input string) *SourceError {
	return &SourceError{
		Code:    code,
		Message: message,
		Input:   input,
		Context: make(map[string]interface{}),
	}
}

// WrapSourceError wraps an existing error as an address-source error.
func WrapSourceError(code ErrorCode, message string, err error) *SourceError {
	return &SourceError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// SinkError represents result-sink I/O errors. Sink errors are fatal to a
// run: the controller aborts on the first one rather than reporting one per
// failed write.
type SinkError struct {
	Code    ErrorCode
	Message string
	Path    string
	Cause   error
}

// Error implements the error interface.
func (e *SinkError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s (path: %s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *SinkError) Unwrap() error {
	return e.Cause
}

// NewSinkError creates a new result-sink error.
func NewSinkError(code ErrorCode, message, path string) *SinkError {
	return &SinkError{
		Code:    code,
		Message: message,
		Path:    path,
	}
}

// WrapSinkError wraps an existing error as a result-sink error.
func WrapSinkError(code ErrorCode, message, path string, err error) *SinkError {
	return &SinkError{
		Code:    code,
		Message: message,
		Path:    path,
		Cause:   err,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
	}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	switch e := err.(type) {
	case *ScanError:
		return e.Code == code
	case *SourceError:
		return e.Code == code
	case *SinkError:
		return e.Code == code
	case *ConfigError:
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	switch e := err.(type) {
	case *ScanError:
		return e.Code
	case *SourceError:
		return e.Code
	case *SinkError:
		return e.Code
	case *ConfigError:
		return e.Code
	}
	return CodeUnknown
}

// IsFatal determines if an error indicates a fatal condition that should stop
// the run. Per-target transport failures never surface here at all (they are
// classified outcomes, not errors), so fatality covers setup and sink faults.
func IsFatal(err error) bool {
	code := GetCode(err)
	switch code {
	case CodeConfiguration, CodeValidation, CodeSinkOpen, CodeSinkWrite, CodeSinkFlush:
		return true
	default:
		return false
	}
}

// IsCanceled reports whether an error marks a cooperative cancellation.
func IsCanceled(err error) bool {
	return IsCode(err, CodeCanceled)
}

// Common error creation functions

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetInvalid, "Invalid target specification", target)
}

// ErrInvalidCIDR creates an error for unparseable CIDR range descriptors.
func ErrInvalidCIDR(input string, err error) *SourceError {
	e := NewSourceError(CodeCIDRInvalid, "Invalid CIDR range", input)
	e.Cause = err
	return e
}

// ErrInvalidPorts creates an error for unparseable port specifications.
func ErrInvalidPorts(input string) *ConfigError {
	return NewConfigFieldError(CodePortInvalid, "Invalid port specification", "ports", input)
}

// ErrAddressFile creates an error for an unreadable address file.
func ErrAddressFile(path string, err error) *SourceError {
	e := WrapSourceError(CodeFileNotFound, "Cannot read address file", err)
	e.Input = path
	return e
}

// ErrSinkWrite creates the single terminal error for a failed sink write.
func ErrSinkWrite(path string, err error) *SinkError {
	return WrapSinkError(CodeSinkWrite, "Result sink write failed", path, err)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
