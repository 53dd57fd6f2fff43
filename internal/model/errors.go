package model

import "errors"

var (
	// ErrTransport marks a failed remote call (network, HTTP status, decoding).
	ErrTransport = errors.New("transport error")
	// ErrAuth marks a failure to resolve the authenticated identity.
	ErrAuth = errors.New("auth error")
	// ErrNotFound marks a log id that no longer exists remotely.
	ErrNotFound = errors.New("not found")
	// ErrBatchTooLarge is returned when a delete batch exceeds DeleteBatchSize.
	ErrBatchTooLarge = errors.New("delete batch exceeds remote limit")
	// ErrInvalidInterval is returned for refresh intervals below MinRefreshInterval.
	ErrInvalidInterval = errors.New("refresh interval below minimum")
)
