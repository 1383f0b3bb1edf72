// Package storage implements the primary store: a durable, capacity-bounded
// key/value medium holding the serialized session history.
package storage

import (
	"errors"

	apperrors "github.com/picbreeder/host/internal/errors"
)

// ErrQuotaExceeded is returned (wrapped in a storage.quota_exceeded
// CodedError) when a write would push the store past its capacity.
var ErrQuotaExceeded = errors.New("quota exceeded")

// KV is a namespaced key/value store with synchronous reads and writes.
// Implementations must apply each Set atomically: a failed Set leaves
// the previous value in place.
type KV interface {
	// Get returns the value for key, or nil with no error if absent.
	Get(key string) ([]byte, error)

	// Set replaces the value for key. It fails with an error matching
	// ErrQuotaExceeded when the write does not fit.
	Set(key string, value []byte) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error
}

// IsQuotaExceeded reports whether err signals a capacity failure.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

func quotaError(needed, capacity int64) error {
	return apperrors.Wrap(apperrors.CodeStorageQuotaExceeded,
		apperrors.QuotaExceeded(needed, capacity).Message, ErrQuotaExceeded)
}

func entrySize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}
