// Package ierr defines the error-kind vocabulary shared across the
// pipeline parser, execution engine, registry, and plug-ins. It plays
// the role the original Rust implementation gave to its failure::Fail
// enums (UrlParseError, DataTooBigError, NotInCache, DownloadError, ...),
// collapsed into one typed error so the HTTP handler can map any error
// in the system to a status code with a single switch.
package ierr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for status-code mapping and logging.
type Kind int

const (
	// KindIncompleteURL: the pipeline ended before a required token
	// (closing paren, filter name) was found.
	KindIncompleteURL Kind = iota
	// KindParseError: the grammar rejected the input outright.
	KindParseError
	// KindRemainingData: the grammar matched a prefix but left
	// unconsumed, non-trailing data.
	KindRemainingData
	// KindInvalidSignature: the HMAC-SHA1 signature did not verify.
	KindInvalidSignature
	// KindUnknownFilter: no plug-in registered this filter name.
	KindUnknownFilter
	// KindBadArgument: an argument was missing or the wrong shape.
	KindBadArgument
	// KindUnknownEnumValue: a fixed-vocabulary string argument didn't
	// match any known value.
	KindUnknownEnumValue
	// KindUnsupportedFormat: decoded image format not in the allow-list.
	KindUnsupportedFormat
	// KindCannotLogFilter: the trace header couldn't be appended to
	// because the context is concurrently held by a sibling branch.
	KindCannotLogFilter
	// KindNotInCache: an LRU cache lookup missed.
	KindNotInCache
	// KindDataTooBig: a value exceeds the cache's total capacity.
	KindDataTooBig
	// KindBackend: the image backend (bimg/libvips) rejected an operation.
	KindBackend
	// KindIO: filesystem or network failure unrelated to the above.
	KindIO
)

// Error is the concrete error type threaded through the pipeline,
// engine, registry and plug-ins.
type Error struct {
	Kind    Kind
	Message string
	// Status, when non-zero, overrides the handler's default
	// Kind-to-status-code mapping.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithStatus overrides the default status-code mapping for this error.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// As reports whether err (or something it wraps) is an *Error, returning it.
func As(err error) (*Error, bool) {
	var ie *Error
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
