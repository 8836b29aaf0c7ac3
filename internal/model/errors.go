package model

import "errors"

// Business-rule failures. These are expected outcomes and are returned, never retried.
var (
	ErrUnauthenticated   = errors.New("not authenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("unauthorized or case not found")
	ErrAlreadyAssigned   = errors.New("case already assigned")
	ErrSpecialtyMismatch = errors.New("specialty does not match case")
	ErrInvalidInput      = errors.New("invalid input")
)

// Infrastructure failures.
var (
	ErrUpstream = errors.New("upstream failure")
	// ErrStorage means the storage object could not be removed; the file record is untouched.
	ErrStorage = errors.New("storage delete failed")
	// ErrPartialFailure means the storage object is gone but the file record remains.
	ErrPartialFailure = errors.New("file record delete failed after storage delete")
)

// IsBusiness reports whether err is an expected business-rule outcome.
func IsBusiness(err error) bool {
	for _, target := range []error{ErrUnauthenticated, ErrForbidden, ErrNotFound, ErrAlreadyAssigned, ErrSpecialtyMismatch, ErrInvalidInput} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
