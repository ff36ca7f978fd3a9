package errcode

import (
	"errors"
	"net/http"
)

// Code is a stable error identifier shared by logs, HTTP replies and the
// console. It is a string newtype, comparable, allocation-free, and
// implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Bus or network I/O failure. Always degrades to a sentinel result.
	Transport Code = "transport"
	// Checksum mismatch. Handled exactly like Transport.
	Integrity Code = "integrity"

	// Malformed update requests.
	RequestTooLarge Code = "request_too_large"
	IncompleteBody  Code = "incomplete_body"
	MissingField    Code = "missing_field"

	Unauthorized  Code = "unauthorized"
	UpdateFailed  Code = "update_failed"
	Unrecoverable Code = "unrecoverable"

	Busy        Code = "busy"
	Timeout     Code = "timeout"
	Offline     Code = "offline"
	Unsupported Code = "unsupported"

	Error Code = "error" // generic fallback
)

// E keeps a code together with the operation, a human readable message and
// an optional cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.X) match a wrapped *E by code.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// New builds an *E without a cause.
func New(c Code, op, msg string) *E { return &E{C: c, Op: op, Msg: msg} }

// Wrap builds an *E around cause.
func Wrap(c Code, op string, cause error) *E { return &E{C: c, Op: op, Err: cause} }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Error
}

// Message returns the human readable part of err: the Msg of an *E when set,
// otherwise the full error text.
func Message(err error) string {
	var e *E
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return err.Error()
}

// HTTPStatus maps a code to the status used on the HTTP surface.
func HTTPStatus(c Code) int {
	switch c {
	case OK:
		return http.StatusOK
	case RequestTooLarge, IncompleteBody, MissingField:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusForbidden
	case Busy, Offline:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
