package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure for translation at the HTTP boundary.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindDescription
	KindTts
	KindDelivery
	KindMetrics
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDescription:
		return "description"
	case KindTts:
		return "tts"
	case KindDelivery:
		return "delivery"
	case KindMetrics:
		return "metrics"
	default:
		return "unknown"
	}
}

// Error wraps a stage failure with its Kind. Stage names the stage that
// failed and is surfaced to clients for description and synthesis errors.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// Validationf returns a KindValidation error with a formatted message.
func Validationf(format string, args ...any) error {
	return newError(KindValidation, "", fmt.Errorf(format, args...))
}

// Delivery wraps err as a KindDelivery error.
func Delivery(err error) error {
	return newError(KindDelivery, "delivery", err)
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
