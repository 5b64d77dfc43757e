// Package errors provides structured error handling for netprobe operations.
// It defines error codes, error types, and utilities for creating and
// classifying errors with target and operation context.
//
// Only batch-wide failures surface as errors. Conditions affecting a single
// target (refused, unreachable, silent) are recorded on the target itself.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
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
	CodePermission    ErrorCode = "PERMISSION"

	// Network and probing errors.
	CodeAddressResolution  ErrorCode = "ADDRESS_RESOLUTION"
	CodeSocketCreation     ErrorCode = "SOCKET_CREATION"
	CodeNetworkUnreachable ErrorCode = "NETWORK_UNREACHABLE"
	CodeHostUnreachable    ErrorCode = "HOST_UNREACHABLE"
	CodeTargetInvalid      ErrorCode = "TARGET_INVALID"
	CodeScanFailed         ErrorCode = "SCAN_FAILED"

	// External collaborators.
	CodeScanUnavailable ErrorCode = "SCAN_UNAVAILABLE"

	// Correlation errors.
	CodeKeyInUse ErrorCode = "KEY_IN_USE"
)

// ScanError is a batch-level failure, optionally tied to the target spec
// or operation that caused it.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
	Context   map[string]any
}

func (e *ScanError) Error() string {
	return format(e.Code, e.Message, "target", e.Target, e.Cause)
}

func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithTarget records the target spec the error concerns.
func (e *ScanError) WithTarget(target string) *ScanError {
	e.Target = target
	return e
}

// WithOperation records the operation that failed.
func (e *ScanError) WithOperation(op string) *ScanError {
	e.Operation = op
	return e
}

// WithContext attaches a key/value pair for structured logging.
func (e *ScanError) WithContext(key string, value any) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{Code: code, Message: message}
}

// WrapScanError keeps err reachable through errors.Is and errors.As.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{Code: code, Message: message, Cause: err}
}

// ConfigError reports a configuration value that cannot be used.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   any
	Cause   error
}

func (e *ConfigError) Error() string {
	return format(e.Code, e.Message, "field", e.Field, e.Cause)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

func NewConfigFieldError(code ErrorCode, message, field string, value any) *ConfigError {
	return &ConfigError{Code: code, Message: message, Field: field, Value: value}
}

func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{Code: code, Message: message, Cause: err}
}

// format renders "[CODE] message (label: subject): cause".
func format(code ErrorCode, message, label, subject string, cause error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", code, message)
	if subject != "" {
		fmt.Fprintf(&b, " (%s: %s)", label, subject)
	}
	if cause != nil {
		fmt.Fprintf(&b, ": %v", cause)
	}
	return b.String()
}

// IsCode checks if an error, or any error it wraps, has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// GetCode extracts the error code from an error chain if it has one.
func GetCode(err error) ErrorCode {
	var scanErr *ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Code
	}
	var cfgErr *ConfigError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	return CodeUnknown
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeNetworkUnreachable, CodeSocketCreation:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a fatal condition that should stop execution.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodePermission, CodeConfiguration, CodeScanUnavailable:
		return true
	default:
		return false
	}
}

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanError(CodeTargetInvalid, "Invalid target specification").WithTarget(target)
}

// ErrAddressResolution creates an error for hosts that cannot be resolved.
func ErrAddressResolution(target string, err error) *ScanError {
	return WrapScanError(CodeAddressResolution, "Address resolution failed", err).WithTarget(target)
}

// ErrSocketCreation creates an error for sockets that cannot be opened.
func ErrSocketCreation(op string, err error) *ScanError {
	return WrapScanError(CodeSocketCreation, "Socket creation failed", err).WithOperation(op)
}

// ErrScanUnavailable creates an error for an unusable scanning backend.
func ErrScanUnavailable(backend string, err error) *ScanError {
	return WrapScanError(CodeScanUnavailable, "Scanner unavailable", err).WithContext("backend", backend)
}

// ErrUnsupportedProtocol creates an error for a protocol no scanner handles.
func ErrUnsupportedProtocol(protocol string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Unsupported protocol", "protocol", protocol)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value any) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
