// Package corerr defines the error kinds surfaced by the core (spec section
// 7, "Error handling design") and a StandardError-style wrapping type.
package corerr

import (
	"fmt"
	"runtime"
)

// Kind enumerates the result codes every public operation can return.
type Kind int

const (
	Success Kind = iota
	InvalidParam
	OutOfSlots
	NoDeadReg
	RegConflict
	NoAppValue
	InUse
	FeatureNotAvailable
	AlreadyExists
	IncompatibleState
	MemoryFault
	InvalidSize
	OutOfMemory
	NestingLimitExceeded
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "Success"
	case InvalidParam:
		return "InvalidParam"
	case OutOfSlots:
		return "OutOfSlots"
	case NoDeadReg:
		return "NoDeadReg"
	case RegConflict:
		return "RegConflict"
	case NoAppValue:
		return "NoAppValue"
	case InUse:
		return "InUse"
	case FeatureNotAvailable:
		return "FeatureNotAvailable"
	case AlreadyExists:
		return "AlreadyExists"
	case IncompatibleState:
		return "IncompatibleState"
	case MemoryFault:
		return "MemoryFault"
	case InvalidSize:
		return "InvalidSize"
	case OutOfMemory:
		return "OutOfMemory"
	case NestingLimitExceeded:
		return "NestingLimitExceeded"
	default:
		return "Unknown"
	}
}

// Error is the error value returned by every fallible core operation. It
// never aborts the process itself (spec section 7).
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Context map[string]interface{}
	Caller  string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s (caller: %s)", e.Op, e.Kind, e.Caller)
	}

	return fmt.Sprintf("%s: %s: %s (caller: %s)", e.Op, e.Kind, e.Message, e.Caller)
}

// New builds an *Error, capturing the immediate caller for diagnostics.
func New(kind Kind, op, message string, context map[string]interface{}) *Error {
	caller := "unknown"
	if pc, _, _, ok := runtime.Caller(1); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &Error{Kind: kind, Op: op, Message: message, Context: context, Caller: caller}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*Error)
	return ok && ce.Kind == kind
}

// Disposition is returned by a user-installed ErrorCallback (spec section 7).
type Disposition int

const (
	// Unhandled means the core should re-raise via the host's assertion
	// mechanism (here: panic) instead of returning an error.
	Unhandled Disposition = iota
	Handled
)

// Callback is invoked on conditions the core considers internal-consistency
// violations (nesting overflow, slot tracking mismatch). If it returns
// Handled, the triggering call returns an error instead of panicking.
type Callback func(kind Kind) Disposition

// Raise applies the consistency-violation policy: if cb is nil or returns
// Unhandled, Raise panics; otherwise it returns the constructed error.
func Raise(cb Callback, kind Kind, op, message string) error {
	err := New(kind, op, message, nil)
	if cb != nil && cb(kind) == Handled {
		return err
	}

	panic(err)
}
