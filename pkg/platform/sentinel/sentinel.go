package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and adapters return these
// (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: a concurrent writer changed the record first
// - ErrUnavailable: service or resource could not be reached
// - ErrRejected: an upstream refused the request as malformed
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrRejected    = errors.New("rejected")
)
