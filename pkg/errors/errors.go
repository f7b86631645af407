// Package errors provides error handling for timeagnostic.
//
// It re-exports github.com/cockroachdb/errors so that every package wraps
// causes with stack traces and hints, and declares the sentinel errors that
// separate fatal failures from the non-fatal warnings surfaced next to a
// result.
//
//	if err := client.Select(ctx, q); err != nil {
//	    return errors.Wrapf(err, "snapshot query for %s", entity)
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is           = crdb.Is
	IsAny        = crdb.IsAny
	As           = crdb.As
	Unwrap       = crdb.Unwrap
	UnwrapAll    = crdb.UnwrapAll
	GetAllHints  = crdb.GetAllHints
	FlattenHints = crdb.FlattenHints
)

// Sentinel errors.
//
// ErrMalformedDelta and ErrStoreAccess are non-fatal when they come from
// peripheral work: the caller logs them and continues with what it has.
// ErrUnsupportedQuery, ErrInvalidConfig and ErrInvalidInput are always
// fatal.
var (
	// ErrMalformedDelta is returned when update text cannot be parsed.
	ErrMalformedDelta = New("malformed update statement")

	// ErrUnsupportedQuery is returned for queries outside the supported subset.
	ErrUnsupportedQuery = New("unsupported query")

	// ErrInvalidConfig is returned when configuration fails validation.
	ErrInvalidConfig = New("invalid configuration")

	// ErrInvalidInput is returned when a caller-supplied argument, such as
	// an instant, interval or request field, is malformed.
	ErrInvalidInput = New("invalid input")

	// ErrStoreAccess marks a failed request against a quad store.
	ErrStoreAccess = New("store access failed")

	// ErrNotFound is returned when a requested resource does not exist.
	ErrNotFound = New("not found")

	// ErrUnparseableTerm is returned when text is not a valid RDF term.
	ErrUnparseableTerm = New("unparseable term")
)
