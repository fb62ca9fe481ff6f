package errs

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	ErrCaseNotFound       = errors.New("case not found")
	ErrAgentNotFound      = errors.New("agent not found")
	ErrAgentExists        = errors.New("agent username already exists")
	ErrUnknownField       = errors.New("unknown field")
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrConfirmationNeeded = errors.New("confirmation required")
)

// ValidationError is a local, field-level rejection of a draft value.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// StoreError is a failed query or mutate against the record store.
type StoreError struct {
	Op  string
	ID  string
	Err error
}

func (e *StoreError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// SubscriptionError reports a change feed that stopped delivering events.
// It is never retried here; the owner decides whether to re-open.
type SubscriptionError struct {
	Scope string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s: %v", e.Scope, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// Wrap adds context and preserves the error chain (errors.Is/As works).
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf adds formatted context and preserves the error chain.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	args = append(args, err)
	return fmt.Errorf(format+": %w", args...)
}

// Loggable makes slog encode the error as a group with its unwrap chain.
// Usage: logger.Error("msg", "err", errs.Loggable(err))
func Loggable(err error) slog.LogValuer { return loggable{err: err} }

type loggable struct{ err error }

func (l loggable) LogValue() slog.Value {
	if l.err == nil {
		return slog.GroupValue()
	}
	attrs := []slog.Attr{slog.String("message", l.err.Error())}
	if kind := Kind(l.err); kind != "" {
		attrs = append(attrs, slog.String("kind", kind))
	}
	if chain := chainStrings(l.err); len(chain) > 1 {
		attrs = append(attrs, slog.Any("chain", chain))
	}
	return slog.GroupValue(attrs...)
}

// Kind names the taxonomy bucket of err, or "" if it has none.
func Kind(err error) string {
	var (
		ve  *ValidationError
		se  *StoreError
		sub *SubscriptionError
	)
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &se):
		return "store"
	case errors.As(err, &sub):
		return "subscription"
	}
	return ""
}

func chainStrings(err error) []string {
	out := make([]string, 0, 4)
	for e := err; e != nil; e = errors.Unwrap(e) {
		out = append(out, e.Error())
	}
	return out
}
