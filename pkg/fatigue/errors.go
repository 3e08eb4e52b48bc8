package fatigue

import (
	"errors"
	"fmt"
)

// ErrorKind tags an error with its place in the fatigue error taxonomy.
// The kind is set where the error is created and never inferred from text.
type ErrorKind int

const (
	// KindInvalidInput is malformed or insufficient landmark points.
	KindInvalidInput ErrorKind = iota + 1

	// KindInvalidMetrics is NaN or out-of-range metrics reaching the classifier.
	KindInvalidMetrics

	// KindSession is a transient per-tick processing failure.
	KindSession

	// KindSessionFailure is a fatal failure after the error budget is exhausted.
	KindSessionFailure
)

// String returns the taxonomy name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "InvalidInputError"
	case KindInvalidMetrics:
		return "InvalidMetricsError"
	case KindSession:
		return "SessionError"
	case KindSessionFailure:
		return "SessionFailure"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Sentinels usable with errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrInvalidInput   = errors.New("fatigue: invalid input")
	ErrInvalidMetrics = errors.New("fatigue: invalid metrics")
	ErrSession        = errors.New("fatigue: session error")
	ErrSessionFailure = errors.New("fatigue: session failure")
)

// Error is a tagged fatigue error.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error // Underlying cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidInput:
		return e.Kind == KindInvalidInput
	case ErrInvalidMetrics:
		return e.Kind == KindInvalidMetrics
	case ErrSession:
		return e.Kind == KindSession
	case ErrSessionFailure:
		return e.Kind == KindSessionFailure
	}
	return false
}

// Fatal returns true for errors that end a session.
func (e *Error) Fatal() bool {
	return e.Kind == KindSessionFailure
}

func invalidInput(format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func invalidMetrics(format string, args ...any) error {
	return &Error{Kind: KindInvalidMetrics, Message: fmt.Sprintf(format, args...)}
}

// NewSessionError wraps a per-tick failure as a transient SessionError.
func NewSessionError(msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindSession, Message: msg, Err: err}
}

// NewSessionFailure builds the fatal error raised when the error budget is exhausted.
func NewSessionFailure(consecutive int, last error) error {
	return &Error{
		Kind:    KindSessionFailure,
		Message: fmt.Sprintf("%d consecutive errors", consecutive),
		Err:     last,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
