// Package errs defines the sentinel errors shared across the vetting
// engine's layers, so callers can use errors.Is to distinguish not-found
// outcomes (§7 "Not-found") from fatal data-integrity failures without each
// package inventing its own vocabulary.
package errs

import "errors"

// Input validation errors: malformed input, reported to the caller with no
// partial state created.
var (
	ErrInvalidEIN  = errors.New("invalid EIN")
	ErrInvalidDate = errors.New("invalid date")
)

// Not-found errors: absence of data, not a failure. Callers are expected to
// produce a typed empty result rather than treat these as fatal.
var (
	ErrEINNotFound    = errors.New("EIN not found")
	ErrNoFilings      = errors.New("no filings on record")
	ErrExtractMiss    = errors.New("no extract cached")
	ErrResultNotFound = errors.New("no cached screening result")
)

// Data-integrity errors: fatal to the operation that hit them, distinct
// from not-found, and always carry a precise diagnostic via %w wrapping.
var (
	ErrCorruptHeader    = errors.New("corrupt or missing database header")
	ErrCorruptExtract   = errors.New("corrupt extract payload")
	ErrEmptyConcordance = errors.New("concordance index has no entries")
	ErrInsufficientRows = errors.New("row count below anti-corruption floor")
	ErrBadPragma        = errors.New("rejected pragma directive")
)

// Threshold/config validation errors: fatal at startup.
var (
	ErrThresholdOrder  = errors.New("threshold ordering invariant violated")
	ErrWeightsInvalid  = errors.New("scoring weights must sum to 100")
	ErrConfigOutOfRange = errors.New("configuration value out of range")
)
