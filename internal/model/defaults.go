package model

import "time"

// Shared defaults used by the engine, the API surfaces and the CLI.
const (
	DefaultRefreshInterval = 5 * time.Second
	MinRefreshInterval     = 1 * time.Second
	DefaultAutoRefresh     = true
	DefaultCurrentUserOnly = true

	// MaxLogRecords bounds both the remote query window and the local set.
	MaxLogRecords = 100

	// DeleteBatchSize is the remote limit on ids per delete call.
	DeleteBatchSize = 200

	// EmptyOperation is the marker the remote API uses for logs without an operation.
	EmptyOperation = "<empty>"
)

// Persisted setting keys.
const (
	SettingAutoRefresh     = "auto-refresh"
	SettingRefreshInterval = "refresh-interval"
	SettingCurrentUserOnly = "current-user-only"
)
