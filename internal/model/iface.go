package model

import "context"

// RawRecord is one untyped row as returned by the remote query endpoint.
// Nested relationship fields (LogUser.Name) arrive as nested maps.
type RawRecord map[string]interface{}

// Identity is the authenticated remote user.
type Identity struct {
	UserID   string
	Username string
	OrgID    string
}

// LogSource is the narrow contract the engine and its collaborators need
// from the remote API. Implementations own transport, auth and decoding.
type LogSource interface {
	// Query runs queryText and returns the rows in remote order.
	Query(ctx context.Context, queryText string) ([]RawRecord, error)
	// FetchBody returns the raw body of one log, or ErrNotFound.
	FetchBody(ctx context.Context, logID string) (string, error)
	// ResolveIdentity returns the current user, or ErrAuth.
	ResolveIdentity(ctx context.Context) (Identity, error)
	// DeleteByIDs deletes at most DeleteBatchSize logs in one call.
	DeleteByIDs(ctx context.Context, ids []string) error
}

// SettingsStore persists user-facing settings outside the process.
type SettingsStore interface {
	Persist(key string, value interface{}) error
}
