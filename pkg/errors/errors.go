package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType categorizes domain errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeProcess    ErrorType = "process"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeCancelled  ErrorType = "cancelled"

	// Backend supervision
	ErrorTypeResolution       ErrorType = "resolution"
	ErrorTypeSpawn            ErrorType = "spawn"
	ErrorTypeAlreadyRunning   ErrorType = "already_running"
	ErrorTypeReadinessTimeout ErrorType = "readiness_timeout"
)

// DomainError is the error type returned by all launcher packages
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString("]")
	}

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches on error type only, so sentinel values like ErrAlreadyRunning
// can be used with the standard errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithContext attaches a key/value pair and returns the same error for chaining
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func newDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return newDomainError(ErrorTypeValidation, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return newDomainError(ErrorTypeIO, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return newDomainError(ErrorTypeProcess, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return newDomainError(ErrorTypeInternal, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return newDomainError(ErrorTypeTimeout, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return newDomainError(ErrorTypeCancelled, message, cause)
}

// NewResolutionError reports that the packaged backend executable could not be located
func NewResolutionError(message string, cause error) *DomainError {
	return newDomainError(ErrorTypeResolution, message, cause)
}

// NewSpawnError reports that the OS failed to create the backend process
func NewSpawnError(message string, cause error) *DomainError {
	return newDomainError(ErrorTypeSpawn, message, cause)
}

// NewAlreadyRunningError reports a start attempt while a backend is held
func NewAlreadyRunningError(message string, cause error) *DomainError {
	return newDomainError(ErrorTypeAlreadyRunning, message, cause)
}

// NewReadinessTimeoutError reports that the backend never became reachable
func NewReadinessTimeoutError(message string, cause error) *DomainError {
	return newDomainError(ErrorTypeReadinessTimeout, message, cause)
}

// Sentinels for use with errors.Is
var (
	ErrResolution       = &DomainError{Type: ErrorTypeResolution}
	ErrSpawn            = &DomainError{Type: ErrorTypeSpawn}
	ErrAlreadyRunning   = &DomainError{Type: ErrorTypeAlreadyRunning}
	ErrReadinessTimeout = &DomainError{Type: ErrorTypeReadinessTimeout}
)

func isType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	for err != nil {
		if !errors.As(err, &domainErr) {
			return false
		}
		if domainErr.Type == errorType {
			return true
		}
		err = domainErr.Cause
	}
	return false
}

func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }
func IsIOError(err error) bool         { return isType(err, ErrorTypeIO) }
func IsProcessError(err error) bool    { return isType(err, ErrorTypeProcess) }
func IsInternalError(err error) bool   { return isType(err, ErrorTypeInternal) }
func IsTimeoutError(err error) bool    { return isType(err, ErrorTypeTimeout) }
func IsCancelledError(err error) bool  { return isType(err, ErrorTypeCancelled) }

func IsResolutionError(err error) bool       { return isType(err, ErrorTypeResolution) }
func IsSpawnError(err error) bool            { return isType(err, ErrorTypeSpawn) }
func IsAlreadyRunningError(err error) bool   { return isType(err, ErrorTypeAlreadyRunning) }
func IsReadinessTimeoutError(err error) bool { return isType(err, ErrorTypeReadinessTimeout) }

// TypeOf returns the type of the outermost DomainError in the chain, or "" if none
func TypeOf(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}
