// Package fault defines the error taxonomy shared by all courseflow engines.
//
// Engines fail fast with a typed *Error carrying a Kind; the orchestrator
// aggregates them per day and the HTTP boundary maps kinds to status codes.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an engine failure.
type Kind int

const (
	// KindUnknown is the zero value for unclassified failures.
	KindUnknown Kind = iota

	// KindConfig marks invalid or missing request fields, unknown events,
	// cross-day flow pairs, or missing required columns in static files.
	KindConfig

	// KindData marks per-event file problems: missing runner files, duplicate
	// runner ids across events, negative pace, missing segment width.
	KindData

	// KindBudget marks a bin budget that cannot be met even after maximal
	// coarsening.
	KindBudget

	// KindReconcile marks canonical vs. recomputed density divergence beyond
	// the tolerated relative error.
	KindReconcile

	// KindTimeout marks a per-day wall-clock ceiling violation.
	KindTimeout
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindData:
		return "DataError"
	case KindBudget:
		return "BudgetError"
	case KindReconcile:
		return "ReconcileError"
	case KindTimeout:
		return "TimeoutError"
	case KindUnknown:
		return "UnknownError"
	default:
		return "UnknownError"
	}
}

// HTTPStatus returns the HTTP status code the boundary publishes for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindConfig, KindData:
		return http.StatusUnprocessableEntity
	case KindBudget, KindReconcile:
		return http.StatusInternalServerError
	case KindTimeout:
		return http.StatusServiceUnavailable
	case KindUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure with optional day and segment scope.
type Error struct {
	Kind  Kind
	Day   string
	SegID string
	Msg   string
	Err   error
}

// Error formats the failure as "<Kind>: <scope>: <msg>: <wrapped>".
func (e *Error) Error() string {
	out := e.Kind.String()

	if e.Day != "" {
		out += " day=" + e.Day
	}

	if e.SegID != "" {
		out += " seg=" + e.SegID
	}

	if e.Msg != "" {
		out += ": " + e.Msg
	}

	if e.Err != nil {
		out += ": " + e.Err.Error()
	}

	return out
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDay returns a copy of the error scoped to the given day.
func (e *Error) WithDay(day string) *Error {
	clone := *e
	clone.Day = day

	return &clone
}

// WithSegment returns a copy of the error scoped to the given segment.
func (e *Error) WithSegment(segID string) *Error {
	clone := *e
	clone.SegID = segID

	return &clone
}

// Config builds a KindConfig error.
func Config(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Msg: fmt.Sprintf(format, args...)}
}

// Data builds a KindData error.
func Data(format string, args ...any) *Error {
	return &Error{Kind: KindData, Msg: fmt.Sprintf(format, args...)}
}

// Budget builds a KindBudget error.
func Budget(format string, args ...any) *Error {
	return &Error{Kind: KindBudget, Msg: fmt.Sprintf(format, args...)}
}

// Reconcile builds a KindReconcile error.
func Reconcile(format string, args ...any) *Error {
	return &Error{Kind: KindReconcile, Msg: fmt.Sprintf(format, args...)}
}

// Timeout builds a KindTimeout error.
func Timeout(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, walking the wrap chain.
// Returns KindUnknown when err carries no *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
