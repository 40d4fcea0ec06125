package common

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a failure so callers can react without matching strings.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindNoOutstandingDebt   Kind = "no_outstanding_debt"
	KindSolvency            Kind = "solvency"
	KindPriceUnavailable    Kind = "price_unavailable"
	KindUninitialized       Kind = "uninitialized"
	KindUnauthorized        Kind = "unauthorized"
	KindPaused              Kind = "paused"
	KindInternal            Kind = "internal"
)

// Error is the structured failure returned by the engines. Code names the
// specific condition (for example BorrowUnsafe) and Fields carries the inputs
// that caused it.
type Error struct {
	Kind   Kind
	Code   string
	Fields map[string]string
	Err    error
}

// NewError wraps err with a kind, a code and alternating key/value fields.
func NewError(kind Kind, code string, err error, kv ...string) *Error {
	e := &Error{Kind: kind, Code: code, Err: err}
	if len(kv) > 1 {
		e.Fields = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			e.Fields[kv[i]] = kv[i+1]
		}
	}
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(string(e.Kind))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for key := range e.Fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, key := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", key, e.Fields[key])
		}
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	if errors.Is(err, ErrModulePaused) {
		return KindPaused
	}
	return KindInternal
}

// AsError extracts the structured error from err, if any.
func AsError(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}
