package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for the HTTP boundary
type Kind int

const (
	Internal Kind = iota
	BadRequest
	NotFound
	MethodNotAllowed
	UnsupportedMediaType
	Upstream
	NotImplemented
	UnknownDicomTag
	ParameterOutOfRange
)

var kindNames = map[Kind]string{
	Internal:             "internal error",
	BadRequest:           "bad request",
	NotFound:             "not found",
	MethodNotAllowed:     "method not allowed",
	UnsupportedMediaType: "unsupported media type",
	Upstream:             "upstream error",
	NotImplemented:       "not implemented",
	UnknownDicomTag:      "unknown DICOM tag",
	ParameterOutOfRange:  "parameter out of range",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Status returns the HTTP status code for the kind
func (k Kind) Status() int {
	switch k {
	case BadRequest, NotImplemented, UnknownDicomTag, ParameterOutOfRange:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case MethodNotAllowed:
		return http.StatusMethodNotAllowed
	case UnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case Upstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates a classified error with a formatted message
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err, keeping it in the chain
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain.
// Unclassified errors are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Status maps err to an HTTP status code
func Status(err error) int {
	return KindOf(err).Status()
}
