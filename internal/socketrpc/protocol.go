package socketrpc

import (
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server lets editors and scripts drive the log engine over
// a Unix domain socket. One request and one response per line.
//
//   Method               Params                      Result
//   ──────────────────   ─────────────────────────   ─────────────────────
//   GridData             (none)                      []GridRow
//   Refresh              {Manual: bool}              []GridRow
//   SearchLogs           {Text: string}              []GridRow
//   SetSearchFilter      {Text: string}              []GridRow
//   ClearSearch          (none)                      []GridRow
//   GetSearchFilter      (none)                      string
//   GetSettings          (none)                      SettingsView
//   SetCurrentUserOnly   {Enabled: bool}             SettingsView
//   SetAutoRefresh       {Enabled: bool}             SettingsView
//   SetRefreshInterval   {Interval: "10s"}           SettingsView
//   OpenLog              {ID: string}                OpenLogResult
//   DeleteAll            (none)                      DeleteAllResult
//
// Refresh defaults to a manual refresh; {Manual: false} runs an
// unattended one that keeps the search filter.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error (remote or engine failure)
//   -32004  Log not found

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeApplication    = -32000
	codeNotFound       = -32004
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// SettingsView is the wire form of the engine settings.
type SettingsView struct {
	AutoRefresh     bool   `json:"autoRefresh"`
	RefreshInterval string `json:"refreshInterval"`
	CurrentUserOnly bool   `json:"currentUserOnly"`
}

// OpenLogResult is returned by OpenLog.
type OpenLogResult struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Body string `json:"body"`
}

// DeleteAllResult is returned by DeleteAll.
type DeleteAllResult struct {
	Deleted int `json:"deleted"`
}

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/sflogs/sflogs.sock, falling back to
// ~/.local/state/sflogs/sflogs.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "sflogs", "sflogs.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/sflogs.sock"
	}
	return filepath.Join(home, ".local", "state", "sflogs", "sflogs.sock")
}
