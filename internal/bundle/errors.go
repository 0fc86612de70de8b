package bundle

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can branch on them instead of on
// message text.
type Kind int

const (
	KindUnknown Kind = iota
	// KindMalformedData: a persisted or received document could not be parsed.
	KindMalformedData
	// KindInvalidUpdate: downloaded content failed verification.
	KindInvalidUpdate
	// KindInvalidConfiguration: unusable settings detected at construction.
	KindInvalidConfiguration
	// KindNotInitialized: an operation was invoked before the client existed.
	KindNotInitialized
)

func (k Kind) String() string {
	switch k {
	case KindMalformedData:
		return "malformed data"
	case KindInvalidUpdate:
		return "invalid update"
	case KindInvalidConfiguration:
		return "invalid configuration"
	case KindNotInitialized:
		return "not initialized"
	default:
		return "unknown"
	}
}

// Error carries a Kind together with the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Op != "":
		return e.Op
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrUnknown              = &Error{Kind: KindUnknown}
	ErrMalformedData        = &Error{Kind: KindMalformedData}
	ErrInvalidUpdate        = &Error{Kind: KindInvalidUpdate}
	ErrInvalidConfiguration = &Error{Kind: KindInvalidConfiguration}
	ErrNotInitialized       = &Error{Kind: KindNotInitialized}
)

func MalformedData(op string, err error) error {
	return &Error{Kind: KindMalformedData, Op: op, Err: err}
}

func InvalidUpdate(op string, err error) error {
	return &Error{Kind: KindInvalidUpdate, Op: op, Err: err}
}

func InvalidConfiguration(op string, err error) error {
	return &Error{Kind: KindInvalidConfiguration, Op: op, Err: err}
}

func Unknown(op string, err error) error {
	return &Error{Kind: KindUnknown, Op: op, Err: err}
}

func NotInitialized(op string) error {
	return &Error{Kind: KindNotInitialized, Op: op}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
