package domain

import "errors"

var (
	// ErrPreviouslyFailed short-circuits loads for a key that has already
	// failed once. No I/O is performed until the cache is invalidated.
	ErrPreviouslyFailed = errors.New("asset previously failed to load")

	// ErrLoadTimeout marks a load that did not settle within its timeout.
	ErrLoadTimeout = errors.New("asset load timed out")

	// ErrLoadFailed marks a network or decode failure.
	ErrLoadFailed = errors.New("asset failed to load")

	// ErrInvalidKey marks an empty or malformed resource key.
	ErrInvalidKey = errors.New("invalid asset key")
)
