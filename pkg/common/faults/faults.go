package faults

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a fault so callers can route on it without string
// matching.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindExtraction      Kind = "extraction"
	KindDuplicateEvent  Kind = "duplicate_event"
	KindPolicyViolation Kind = "policy_violation"
	KindTimeout         Kind = "timeout"
	KindStorage         Kind = "storage"
)

// Fault is a structured error with a machine-readable kind and a
// human-readable message.
type Fault struct {
	Kind    Kind
	Message string
	Err     error

	// Terms holds matched denylist terms for policy violations.
	Terms []string
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

func New(kind Kind, message string) *Fault {
	return &Fault{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Fault {
	return &Fault{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Fault {
	return New(KindValidation, message)
}

func Extraction(message string, err error) *Fault {
	return Wrap(KindExtraction, message, err)
}

func DuplicateEvent(eventID string) *Fault {
	return New(KindDuplicateEvent, fmt.Sprintf("event %s already exists", eventID))
}

func PolicyViolation(terms []string) *Fault {
	return &Fault{
		Kind:    KindPolicyViolation,
		Message: fmt.Sprintf("rendered note matched denylisted terms: %v", terms),
		Terms:   terms,
	}
}

func Timeout(message string, err error) *Fault {
	return Wrap(KindTimeout, message, err)
}

func Storage(message string, err error) *Fault {
	return Wrap(KindStorage, message, err)
}

// KindOf returns the fault kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// Is reports whether err is a fault of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a fault kind to the status code the service returns.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindDuplicateEvent:
		return http.StatusConflict
	case KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindExtraction:
		return http.StatusBadGateway
	case KindStorage:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Retry runs op up to attempts times with exponential backoff, for
// storage I/O that may succeed on retry. The last error is returned.
func Retry(attempts int, initial time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	delay := initial
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
