// Package errs defines the error kinds surfaced by the dashboard. Every failure
// crossing the wallet, RPC or contract boundary is converted into one of these
// kinds at the call site.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for display and retry decisions.
type Kind int

const (
	Unknown Kind = iota
	NoProviderAvailable
	WrongNetwork
	ConnectionTimeout
	ConnectionRejected
	ReadFailure
	TransactionRejected
	TransactionFailed
	InvalidInput
	NotOwner
	Busy
)

var kindNames = map[Kind]string{
	Unknown:             "unknown",
	NoProviderAvailable: "no provider available",
	WrongNetwork:        "wrong network",
	ConnectionTimeout:   "connection timeout",
	ConnectionRejected:  "connection rejected",
	ReadFailure:         "read failure",
	TransactionRejected: "transaction rejected",
	TransactionFailed:   "transaction failed",
	InvalidInput:        "invalid input",
	NotOwner:            "not owner",
	Busy:                "submission pending",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Recoverable reports whether the user can retry after this kind of failure.
// NoProviderAvailable is fatal: a wallet or reachable node has to be set up first.
func (k Kind) Recoverable() bool {
	return k != NoProviderAvailable
}

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind when target carries no cause, so the
// sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Op == "" && t.Kind == e.Kind
}

var (
	ErrNoProviderAvailable = &Error{Kind: NoProviderAvailable}
	ErrWrongNetwork        = &Error{Kind: WrongNetwork}
	ErrConnectionTimeout   = &Error{Kind: ConnectionTimeout}
	ErrConnectionRejected  = &Error{Kind: ConnectionRejected}
	ErrReadFailure         = &Error{Kind: ReadFailure}
	ErrTransactionRejected = &Error{Kind: TransactionRejected}
	ErrTransactionFailed   = &Error{Kind: TransactionFailed}
	ErrInvalidInput        = &Error{Kind: InvalidInput}
	ErrNotOwner            = &Error{Kind: NotOwner}
	ErrBusy                = &Error{Kind: Busy}
)

// E builds a classified error. An already classified cause keeps its kind.
func E(kind Kind, op string, err error) error {
	var existing *Error
	if errors.As(err, &existing) && existing.Kind != Unknown {
		if existing.Op == "" {
			return &Error{Kind: existing.Kind, Op: op, Err: existing.Err}
		}
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is E with a formatted cause.
func Errorf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, Unknown when it was never classified.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ConnectionTimeout
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
