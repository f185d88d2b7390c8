package types

import (
	"context"
	"errors"
)

// Storage and stats errors.
var (
	// ErrNotFound is returned by BlobStore operations when the key is absent.
	ErrNotFound = errors.New("object not found")
	// ErrNoStats is returned by a stats provider that has never seen the document.
	ErrNoStats = errors.New("no access stats recorded")
	// ErrTransient marks a storage error that is worth retrying. Untagged errors
	// are treated the same way.
	ErrTransient = errors.New("transient storage error")
	// ErrPermanent marks a storage error that must not be retried.
	ErrPermanent = errors.New("permanent storage error")
	// ErrRetriesExhausted wraps the last transient error once the attempt limit is hit.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// Move errors.
var (
	ErrSourceMissing      = errors.New("source object missing")
	ErrCopyFailed         = errors.New("copy failed")
	ErrCopyTimeout        = errors.New("copy verification timed out")
	ErrVerifyFailed       = errors.New("copy verification failed")
	ErrSourceDeleteFailed = errors.New("source delete failed after verified copy")
)

// Pass-level errors. Any of these aborts the whole pass.
var (
	ErrConfiguration    = errors.New("invalid tiering configuration")
	ErrListing          = errors.New("listing documents failed")
	ErrStatsUnavailable = errors.New("access stats unavailable")
)

// IsNotFound reports whether err indicates a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether a storage error may succeed on retry.
// Missing objects or stats, permanent failures and context errors are not
// retried.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoStats), errors.Is(err, ErrPermanent):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
