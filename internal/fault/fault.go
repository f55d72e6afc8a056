// Package fault defines the error taxonomy that crosses into the call session.
//
// Every component that talks to a device or a backend converts its raw
// failures into a [*Error] of one [Kind] before handing them upwards. The call
// session only ever inspects kinds, never transport errors.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by its effect on the call.
type Kind int

const (
	// KindDevice is a microphone failure (denied or missing). Fatal.
	KindDevice Kind = iota + 1

	// KindConnection is a speech-recognition link failure. Fatal once the
	// link has given up reconnecting.
	KindConnection

	// KindReplyGeneration is a reply-model failure. The turn is aborted and
	// the call returns to listening.
	KindReplyGeneration

	// KindSynthesis is a first-part speech-synthesis failure. The turn
	// completes text-only.
	KindSynthesis
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindConnection:
		return "connection"
	case KindReplyGeneration:
		return "reply_generation"
	case KindSynthesis:
		return "synthesis"
	default:
		return "unknown"
	}
}

// Sentinel values for errors.Is matching against a kind.
var (
	ErrDevice          = &Error{Kind: KindDevice}
	ErrConnection      = &Error{Kind: KindConnection}
	ErrReplyGeneration = &Error{Kind: KindReplyGeneration}
	ErrSynthesis       = &Error{Kind: KindSynthesis}
)

// Error is a classified failure.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op names the operation that failed (e.g., "capture.start").
	Op string

	// Err is the underlying cause. May be nil for sentinel values.
	Err error
}

// New wraps err as a fault of the given kind. A nil err yields nil.
// If err already is a *Error it is returned unchanged so a fault is never
// reclassified on its way up.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Error implements error.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	default:
		return e.Kind.String() + " error"
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrDevice) holds
// for every device fault regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Fatal reports whether a fault of this kind ends the call.
func (e *Error) Fatal() bool {
	return e.Kind == KindDevice || e.Kind == KindConnection
}

// KindOf returns the kind of err, or 0 if err is not a fault.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
