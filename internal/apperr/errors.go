package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies which layer an error came from and how callers should treat it.
type Kind string

const (
	// KindEngine covers engine init, configuration and synthesis failures.
	KindEngine Kind = "ENGINE"
	// KindCache is always non-fatal; callers degrade to a cache miss.
	KindCache Kind = "CACHE"
	// KindConfiguration covers malformed settings and missing profiles.
	KindConfiguration Kind = "CONFIGURATION"
	// KindValidation covers bad caller input such as a missing file.
	KindValidation Kind = "VALIDATION"
	// KindPipeline covers DSP stage failures.
	KindPipeline Kind = "PIPELINE"
	// KindOutput covers encoding, transcoding and writing the result.
	KindOutput Kind = "OUTPUT"
)

// Error is the error type shared by every readaloud package.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates an error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Engine(cause error, format string, args ...interface{}) *Error {
	return New(KindEngine, fmt.Sprintf(format, args...), cause)
}

func Cache(cause error, format string, args ...interface{}) *Error {
	return New(KindCache, fmt.Sprintf(format, args...), cause)
}

func Configuration(cause error, format string, args ...interface{}) *Error {
	return New(KindConfiguration, fmt.Sprintf(format, args...), cause)
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...), nil)
}

func Pipeline(cause error, format string, args ...interface{}) *Error {
	return New(KindPipeline, fmt.Sprintf(format, args...), cause)
}

func Output(cause error, format string, args ...interface{}) *Error {
	return New(KindOutput, fmt.Sprintf(format, args...), cause)
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the kind of the outermost *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
