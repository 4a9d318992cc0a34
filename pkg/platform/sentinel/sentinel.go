package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into domain errors:
//   - ErrNotFound: the contact does not exist in the directory
//   - ErrConflict: the storage layer rejected a write on its own unique constraint
//   - ErrUnavailable: the backing store could not be reached
//
// Validation failures and index conflicts never use these; see pkg/domain-errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
