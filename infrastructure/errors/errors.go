// Package errors provides the unified error taxonomy for the ingestion and
// aggregation core. Callers branch on ErrorCode, never on message strings.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique, stable error code.
type ErrorCode string

const (
	// Remote/RPC errors (RPC_1xxx) — C1/C2.
	ErrCodeRPCTransient    ErrorCode = "RPC_1001" // timeout, 5xx, connection reset
	ErrCodeRPCRateLimited  ErrorCode = "RPC_1002" // 429 or local token bucket exhausted
	ErrCodeRPCNoProviders  ErrorCode = "RPC_1003" // every provider in the pool is in cooldown/disabled
	ErrCodeRPCMalformedLog ErrorCode = "RPC_1004" // a single log entry could not be decoded

	// Chain state errors (SYNC_2xxx) — C3/C4.
	ErrCodeUnknownChain  ErrorCode = "SYNC_2001"
	ErrCodeGapOrOverlap  ErrorCode = "SYNC_2002" // fatal window validation failure
	ErrCodeChainPaused   ErrorCode = "SYNC_2003"
	ErrCodeInvalidWindow ErrorCode = "SYNC_2004"

	// Persistence errors (STORE_3xxx) — C7.
	ErrCodeStoreIntegrity   ErrorCode = "STORE_3001" // violation other than duplicate; aborts the batch
	ErrCodeStoreUnavailable ErrorCode = "STORE_3002"

	// Bootstrap errors (BOOT_4xxx) — C11.
	ErrCodeBootstrapExhausted ErrorCode = "BOOT_4001" // retry budget exceeded
	ErrCodeBootstrapDuplicate ErrorCode = "BOOT_4002" // informational, not fatal

	// Configuration/validation errors (CFG_5xxx).
	ErrCodeInvalidConfig    ErrorCode = "CFG_5001"
	ErrCodeMissingParameter ErrorCode = "CFG_5002"
	ErrCodeOutOfRange       ErrorCode = "CFG_5003"

	// Generic service errors (SVC_9xxx).
	ErrCodeInternal ErrorCode = "SVC_9001"
	ErrCodeNotFound ErrorCode = "SVC_9002"
	ErrCodeTimeout  ErrorCode = "SVC_9003"
	ErrCodeConflict ErrorCode = "SVC_9004"
)

// ServiceError is a structured error carrying a stable code, a message, an
// HTTP-status-shaped severity hint, and optional structured details.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a structured detail and returns the receiver for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap wraps an existing error with a ServiceError.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// RPC / provider pool constructors.

// RPCTransient marks a recoverable remote failure (timeout, 5xx, reset).
func RPCTransient(provider string, err error) *ServiceError {
	return Wrap(ErrCodeRPCTransient, "transient RPC failure", http.StatusBadGateway, err).
		WithDetails("provider", provider)
}

// RPCRateLimited marks a rate-limit rejection; callers MUST yield, not retry immediately.
func RPCRateLimited(provider string) *ServiceError {
	return New(ErrCodeRPCRateLimited, "provider rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("provider", provider)
}

// RPCNoProviders marks total pool exhaustion for a network.
func RPCNoProviders(network string) *ServiceError {
	return New(ErrCodeRPCNoProviders, "no healthy providers available", http.StatusServiceUnavailable).
		WithDetails("network", network)
}

// RPCMalformedLog marks a single log entry that failed to decode; never fails a batch.
func RPCMalformedLog(reason string) *ServiceError {
	return New(ErrCodeRPCMalformedLog, "malformed log entry", http.StatusUnprocessableEntity).
		WithDetails("reason", reason)
}

// Chain-state constructors.

// UnknownChain marks a lookup against a chain with no registered sync state.
func UnknownChain(chain string) *ServiceError {
	return New(ErrCodeUnknownChain, "unknown chain", http.StatusNotFound).
		WithDetails("chain", chain)
}

// GapOrOverlap marks the fatal window-validation failure of §4.4.
func GapOrOverlap(chain string, expectedFrom, gotFrom uint64) *ServiceError {
	return New(ErrCodeGapOrOverlap, "window gap or overlap detected", http.StatusConflict).
		WithDetails("chain", chain).
		WithDetails("expected_from", expectedFrom).
		WithDetails("got_from", gotFrom)
}

// ChainPaused marks a window request against a paused chain.
func ChainPaused(chain, reason string) *ServiceError {
	return New(ErrCodeChainPaused, "chain is paused", http.StatusConflict).
		WithDetails("chain", chain).
		WithDetails("reason", reason)
}

// InvalidWindow marks a structurally invalid window (bad bounds).
func InvalidWindow(reason string) *ServiceError {
	return New(ErrCodeInvalidWindow, "invalid block window", http.StatusBadRequest).
		WithDetails("reason", reason)
}

// Persistence constructors.

// StoreIntegrity marks a persistence failure other than a duplicate; the
// batch is aborted without advancing chain state.
func StoreIntegrity(operation string, err error) *ServiceError {
	return Wrap(ErrCodeStoreIntegrity, "persistence integrity violation", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

// StoreUnavailable marks a transport-level storage failure.
func StoreUnavailable(operation string, err error) *ServiceError {
	return Wrap(ErrCodeStoreUnavailable, "store unavailable", http.StatusServiceUnavailable, err).
		WithDetails("operation", operation)
}

// Bootstrap constructors.

// BootstrapExhausted marks a task that exceeded its retry budget.
func BootstrapExhausted(dedupKey string, attempts int) *ServiceError {
	return New(ErrCodeBootstrapExhausted, "bootstrap retry budget exhausted", http.StatusConflict).
		WithDetails("dedup_key", dedupKey).
		WithDetails("attempts", attempts)
}

// Config constructors.

// InvalidConfig marks a configuration validation failure.
func InvalidConfig(reason string) *ServiceError {
	return New(ErrCodeInvalidConfig, "invalid configuration", http.StatusInternalServerError).
		WithDetails("reason", reason)
}

// MissingParameter marks a required configuration/input value that was absent.
func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

// OutOfRange marks a numeric value outside its valid range.
func OutOfRange(field string, min, max interface{}) *ServiceError {
	return New(ErrCodeOutOfRange, "value out of range", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("min", min).
		WithDetails("max", max)
}

// Generic constructors.

// Internal wraps an unexpected internal failure.
func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

// NotFound marks a missing resource.
func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// Timeout marks an operation that exceeded its deadline.
func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

// Conflict marks a generic state conflict.
func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// Helper functions.

// IsServiceError reports whether err is (or wraps) a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain, or nil.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// Is reports whether err carries the given ErrorCode anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}

// GetHTTPStatus returns the HTTP-status-shaped severity for an error.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
