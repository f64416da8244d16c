// Package errs defines the error taxonomy shared by the storage gateway.
//
// Every failure that reaches a client is an *Error carrying a Kind. The kind
// decides the HTTP status; the message returned by Public is safe to show to
// a client and never contains an absolute filesystem path.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindIO Kind = iota
	KindAuth
	KindPathTraversal
	KindQuotaExceeded
	KindNotFound
	KindInvalidName
	KindNotConfigured
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindPathTraversal:
		return "path_traversal"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindNotFound:
		return "not_found"
	case KindInvalidName:
		return "invalid_name"
	case KindNotConfigured:
		return "not_configured"
	case KindConflict:
		return "conflict"
	default:
		return "io"
	}
}

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrAuth          = &Error{Kind: KindAuth}
	ErrPathTraversal = &Error{Kind: KindPathTraversal}
	ErrQuotaExceeded = &Error{Kind: KindQuotaExceeded}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrIO            = &Error{Kind: KindIO}
	ErrInvalidName   = &Error{Kind: KindInvalidName}
	ErrNotConfigured = &Error{Kind: KindNotConfigured}
	ErrConflict      = &Error{Kind: KindConflict}
)

// Error is a classified gateway failure.
type Error struct {
	Kind Kind
	// Rel is the client-relative path involved, if any. Never absolute.
	Rel string
	// Msg overrides the default public message.
	Msg string
	// Err is the underlying cause. It is logged, not shown to clients.
	Err error
}

func (e *Error) Error() string {
	msg := e.Public()
	if e.Err != nil {
		switch e.Kind {
		case KindAuth, KindPathTraversal:
			// causes may embed paths
		default:
			msg += ": " + e.Err.Error()
		}
	}
	return msg
}

// Public returns the client-facing message.
func (e *Error) Public() string {
	if e.Msg != "" {
		return e.Msg
	}
	switch e.Kind {
	case KindAuth:
		return "invalid authentication credentials"
	case KindPathTraversal:
		return "path is outside the shared folder"
	case KindQuotaExceeded:
		if e.Rel != "" {
			return fmt.Sprintf("uploading %s would exceed reserved space", e.Rel)
		}
		return "upload would exceed reserved space"
	case KindNotFound:
		if e.Rel != "" {
			return fmt.Sprintf("%s not found", e.Rel)
		}
		return "not found"
	case KindInvalidName:
		if e.Rel != "" {
			return fmt.Sprintf("invalid name %q", e.Rel)
		}
		return "invalid name"
	case KindNotConfigured:
		return "Server not configured. Call /api/setup first."
	case KindConflict:
		return "conflict"
	default:
		if e.Rel != "" {
			return fmt.Sprintf("i/o failure on %s", e.Rel)
		}
		return "i/o failure"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an *Error of the given kind.
func New(kind Kind, rel string, cause error) *Error {
	return &Error{Kind: kind, Rel: rel, Err: cause}
}

// KindOf classifies err. Unclassified errors are KindIO.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIO
}

// PublicMessage returns the client-safe message for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Public()
	}
	return "internal error"
}
