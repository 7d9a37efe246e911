package bundlestore

import "errors"

var (
	// ErrNotFound is returned when a requested bundle-id has no record.
	ErrNotFound = errors.New("bundlestore: bundle not found")
	// ErrQuotaExceeded is returned by TryReserve when accepting n bytes
	// would exceed the configured quota.
	ErrQuotaExceeded = errors.New("bundlestore: payload quota exceeded")
)
