package entities

import (
	"errors"
	"fmt"
)

// Kind classifies a business failure. Storage and infrastructure errors are
// never wrapped in a Fault; they pass through as plain errors.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindNotFound          Kind = "not_found"
	KindInvalidState      Kind = "invalid_state"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindAmountMismatch    Kind = "amount_mismatch"
	KindConflict          Kind = "conflict"
	KindForbidden         Kind = "forbidden"
)

// Fault is a recoverable business failure returned to the caller as data.
type Fault struct {
	Kind    Kind
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func NewFault(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// FaultKind extracts the kind from err, or "" when err is not a Fault.
func FaultKind(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// IsFault reports whether err is a business failure of the given kind.
func IsFault(err error, kind Kind) bool {
	return FaultKind(err) == kind
}
