package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and probe clients return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: candidate does not exist in the store
// - ErrConflict: unique key already taken (duplicate canonical URL)
// - ErrInvalidState: candidate in wrong lifecycle state for the operation
// - ErrUnavailable: store or upstream temporarily unreachable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
