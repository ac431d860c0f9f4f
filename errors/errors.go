// Package errors provides standardized error handling for semdevices components.
// It carries the device error taxonomy (transport, framing, protocol, fatal),
// error classification, and helpers for consistent wrapping across drivers.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/c360/semdevices/pkg/retry"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input, such as a corrupt frame
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop the device
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Device error taxonomy.
var (
	// Transport
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrUnsupportedBaud      = errors.New("unsupported baud rate")
	ErrTimeout              = errors.New("read timeout")
	ErrShortRead            = errors.New("short read")
	ErrShortWrite           = errors.New("short write")
	ErrTransportClosed      = errors.New("transport closed")

	// Framing
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrBufferOverrun    = errors.New("frame buffer overrun")

	// Protocol
	ErrProtocolDesync = errors.New("protocol desync")
	ErrFatalDevice    = errors.New("fatal device error")

	// Routing and lifecycle
	ErrNoDriver       = errors.New("no driver bound to address")
	ErrAddressInUse   = errors.New("address already bound")
	ErrQueueFull      = errors.New("command queue full")
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")
	ErrUnsupported    = errors.New("unsupported command")

	// Connection and networking (bridge, gateway)
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrCircuitOpen       = errors.New("circuit breaker open")

	// Configuration
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ChecksumError records both sides of a failed checksum comparison.
type ChecksumError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%02X, got 0x%02X", e.Expected, e.Actual)
}

// Unwrap lets errors.Is(err, ErrChecksumMismatch) match.
func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

var (
	fatalSentinels = []error{
		ErrTransportUnavailable,
		ErrUnsupportedBaud,
		ErrFatalDevice,
		ErrTransportClosed,
		ErrInvalidConfig,
		ErrMissingConfig,
	}
	transientSentinels = []error{
		ErrTimeout,
		ErrShortRead,
		ErrShortWrite,
		ErrProtocolDesync,
		ErrConnectionTimeout,
		ErrConnectionLost,
		ErrCircuitOpen,
		ErrQueueFull,
		context.DeadlineExceeded,
		context.Canceled,
	}
	invalidSentinels = []error{
		ErrMalformedFrame,
		ErrChecksumMismatch,
		ErrBufferOverrun,
		ErrUnsupported,
	}
)

func matchAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err) == ErrorTransient
}

// IsFatal checks if an error is fatal and should stop the device
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err) == ErrorFatal
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err) == ErrorInvalid
}

// Classify returns the error class for an error.
//
// An explicit ClassifiedError wins, then the sentinel tables (fatal before
// transient before invalid), then message heuristics. Unknown errors are
// treated as transient so the driver loop retries them under its failure
// budget.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}

	switch {
	case matchAny(err, fatalSentinels):
		return ErrorFatal
	case matchAny(err, transientSentinels):
		return ErrorTransient
	case matchAny(err, invalidSentinels):
		return ErrorInvalid
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"fatal", "panic", "no such file", "permission denied", "invalid config"} {
		if strings.Contains(errStr, pattern) {
			return ErrorFatal
		}
	}

	return ErrorTransient
}

// newClassified creates a new classified error
// This is an internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// RetryConfig defines configuration for retry operations
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []error
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ShouldRetry determines if an error should be retried based on config
func (rc RetryConfig) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= rc.MaxRetries {
		return false
	}
	if !IsTransient(err) {
		return false
	}
	if len(rc.RetryableErrors) > 0 {
		return matchAny(err, rc.RetryableErrors)
	}
	return true
}

// ToRetryConfig converts to the retry package's Config. MaxRetries counts
// additional attempts, MaxAttempts counts total attempts.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}

// BackoffDelay calculates the delay for a retry attempt
func (rc RetryConfig) BackoffDelay(attempt int) time.Duration {
	return rc.ToRetryConfig().Delay(attempt)
}
