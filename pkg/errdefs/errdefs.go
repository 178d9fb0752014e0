// Package errdefs defines the error taxonomy shared by every component and
// the helpers the HTTP layer uses to map errors onto status codes.
//
// Errors are classified by wrapping, not by concrete type: a component wraps
// a cause with one of the constructors here and callers test with the Is*
// predicates. This mirrors how the Docker Engine client classifies its own
// errors, which lets the runtime package pass those through unchanged.
package errdefs

import (
	"errors"
	"fmt"
)

type errKind int

const (
	kindInvalidParameter errKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
	kindTransport
)

type classified struct {
	kind errKind
	err  error
}

func (e *classified) Error() string { return e.err.Error() }
func (e *classified) Unwrap() error { return e.err }

func classify(kind errKind, err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: kind, err: err}
}

func is(err error, kind errKind) bool {
	var c *classified
	if errors.As(err, &c) {
		return c.kind == kind
	}
	return false
}

// InvalidParameter marks err as a validation failure (HTTP 400).
func InvalidParameter(err error) error { return classify(kindInvalidParameter, err) }

// InvalidParameterf builds a classified validation error from a format string.
func InvalidParameterf(format string, args ...any) error {
	return InvalidParameter(fmt.Errorf(format, args...))
}

// NotFound marks err as referring to a session, node, or container that does
// not exist (HTTP 404).
func NotFound(err error) error { return classify(kindNotFound, err) }

// NotFoundf builds a classified not-found error from a format string.
func NotFoundf(format string, args ...any) error {
	return NotFound(fmt.Errorf(format, args...))
}

// Conflict marks err as a duplicate name or wrong node kind (HTTP 409).
func Conflict(err error) error { return classify(kindConflict, err) }

// Conflictf builds a classified conflict error from a format string.
func Conflictf(format string, args ...any) error {
	return Conflict(fmt.Errorf(format, args...))
}

// Unavailable marks err as a container that could not be produced or healed
// (HTTP 503).
func Unavailable(err error) error { return classify(kindUnavailable, err) }

// Transport marks err as a connectivity failure talking to the runtime
// daemon or the database (HTTP 502).
func Transport(err error) error { return classify(kindTransport, err) }

func IsInvalidParameter(err error) bool { return is(err, kindInvalidParameter) }
func IsNotFound(err error) bool         { return is(err, kindNotFound) }
func IsConflict(err error) bool         { return is(err, kindConflict) }
func IsUnavailable(err error) bool      { return is(err, kindUnavailable) }
func IsTransport(err error) bool        { return is(err, kindTransport) }
