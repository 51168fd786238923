// Package errors defines the coded error type shared by the agent core and
// its adapters.
package errors

import (
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"
)

type Code string

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown                 Code = "UNKNOWN"
	CodeInvalidArgument         Code = "INVALID_ARGUMENT"
	CodeExtractionFailure       Code = "EXTRACTION_FAILURE"
	CodeSchemaValidationFailure Code = "SCHEMA_VALIDATION_FAILURE"
	CodeToolNotFound            Code = "TOOL_NOT_FOUND"
	CodeArgumentMismatch        Code = "ARGUMENT_MISMATCH"
	CodeCompletionService       Code = "COMPLETION_SERVICE_ERROR"
	CodeTurnLimit               Code = "TURN_LIMIT"
	CodeStorageFailure          Code = "STORAGE_FAILURE"
)

// Attributes are the defaults attached to a code.
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
}

var registry = map[Code]Attributes{
	CodeUnknown:                 {Message: "unknown error", Severity: SeverityCritical},
	CodeInvalidArgument:         {Message: "invalid argument", Severity: SeverityInfo},
	CodeExtractionFailure:       {Message: "could not extract a valid object from model output", Severity: SeverityCritical},
	CodeSchemaValidationFailure: {Message: "model output failed schema validation", Severity: SeverityWarning, Retryable: true},
	CodeToolNotFound:            {Message: "tool not found", Severity: SeverityWarning},
	CodeArgumentMismatch:        {Message: "tool arguments do not match schema", Severity: SeverityWarning},
	CodeCompletionService:       {Message: "completion service failure", Severity: SeverityCritical},
	CodeTurnLimit:               {Message: "turn limit reached", Severity: SeverityWarning},
	CodeStorageFailure:          {Message: "storage failure", Severity: SeverityCritical, Retryable: true},
}

// AttributesOf falls back to UNKNOWN for unregistered codes.
func AttributesOf(code Code) Attributes {
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
}

type Option func(*Error)

func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.code, e.message)
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches by code so callers can compare against a bare New(code, "").
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Detail renders the message followed by sorted metadata, one per line.
func (e *Error) Detail() string {
	if e == nil {
		return ""
	}
	keys := make([]string, 0, len(e.metadata))
	for k := range e.metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(e.Error())
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, e.metadata[k])
	}
	return b.String()
}

func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return AttributesOf(e.code).Severity
}

func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}
