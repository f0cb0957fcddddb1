package repository

import "errors"

// Common repository errors
var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicate    = errors.New("record already exists")
	ErrInvalidInput = errors.New("invalid input")
	// ErrStale is returned when a record exists but is no longer usable
	// (expired or revoked) and has been removed
	ErrStale = errors.New("record is expired or revoked")
	// ErrOwnerDisabled is returned when a record belongs to a principal that
	// can no longer sign in
	ErrOwnerDisabled = errors.New("owner is disabled")
)

const defaultBatchSize = 500

func batchOrDefault(n int) int {
	if n <= 0 {
		return defaultBatchSize
	}
	return n
}
