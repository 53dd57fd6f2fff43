package socketrpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tinytelemetry/sflogs/internal/logdata"
	"github.com/tinytelemetry/sflogs/internal/logging"
	"github.com/tinytelemetry/sflogs/internal/model"
	"github.com/tinytelemetry/sflogs/internal/purge"
)

const (
	// scannerInitBufSize is the initial buffer size for the per-connection scanner (64 KB).
	scannerInitBufSize = 64 * 1024
	// scannerMaxTokenSize is the maximum token size the scanner will accept (10 MB).
	scannerMaxTokenSize = 10 * 1024 * 1024
)

// Engine is the narrow engine contract the RPC methods need.
type Engine interface {
	GridData() []model.GridRow
	SearchLogs(text string) []model.LogRecord
	SearchFilter() string
	Settings() model.Settings
	Lookup(id string) (model.LogRecord, bool)
	Refresh(ctx context.Context, isInitialLoad, isManualRefresh bool) error
	SetSearchFilter(text string)
	ClearSearch()
	SetCurrentUserOnly(ctx context.Context, enabled bool) error
	SetAutoRefresh(enabled bool) error
	SetRefreshInterval(d time.Duration) error
}

// LogSaver fetches a log body and writes it to disk.
type LogSaver interface {
	Save(ctx context.Context, rec model.LogRecord) (path, body string, err error)
}

// Purger deletes every remote log.
type Purger interface {
	DeleteAll(ctx context.Context, progress func(purge.Progress)) (int, error)
}

// Server exposes the engine over a Unix domain socket using JSON-RPC 2.0.
type Server struct {
	socketPath string
	engine     Engine
	saver      LogSaver
	purger     Purger
	listener   net.Listener
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewServer creates a new socket RPC server. saver and purger may be nil,
// in which case OpenLog and DeleteAll report an application error.
func NewServer(socketPath string, engine Engine, saver LogSaver, purger Purger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: socketPath,
		engine:     engine,
		saver:      saver,
		purger:     purger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins listening on the Unix socket and accepting connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}

	// Remove stale socket if it exists.
	if _, err := os.Stat(s.socketPath); err == nil {
		conn, dialErr := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
		if dialErr != nil {
			_ = os.Remove(s.socketPath)
		} else {
			_ = conn.Close()
			return fmt.Errorf("socketrpc: another server is already listening on %s", s.socketPath)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	logging.Info().Str("path", s.socketPath).Msg("socketrpc: listening")
	return nil
}

// Stop closes the listener, cancels in-flight calls, waits for connections
// to drain and removes the socket file.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			logging.Warn().Err(err).Msg("socketrpc: accept error")
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// Unblock the scanner on shutdown.
	stop := context.AfterFunc(s.ctx, func() { _ = conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			resp := Response{JSONRPC: "2.0", ID: 0, Error: &RPCError{Code: codeParseError, Message: "parse error"}}
			_ = encoder.Encode(resp)
			continue
		}

		resp := s.dispatch(s.ctx, req)
		if err := encoder.Encode(resp); err != nil {
			return
		}
	}
}

func settingsView(cfg model.Settings) SettingsView {
	return SettingsView{
		AutoRefresh:     cfg.AutoRefresh,
		RefreshInterval: cfg.RefreshInterval.String(),
		CurrentUserOnly: cfg.CurrentUserOnly,
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	marshalResult := func(v interface{}, err error) Response {
		if err != nil {
			code := codeApplication
			if errors.Is(err, model.ErrNotFound) {
				code = codeNotFound
			}
			resp.Error = &RPCError{Code: code, Message: err.Error()}
			return resp
		}
		data, merr := json.Marshal(v)
		if merr != nil {
			resp.Error = &RPCError{Code: codeInternal, Message: merr.Error()}
			return resp
		}
		resp.Result = data
		return resp
	}

	invalidParams := func(err error) Response {
		resp.Error = &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
		return resp
	}

	// decode allows empty or null params; only genuinely malformed JSON is rejected.
	decode := func(dest interface{}) error {
		if len(req.Params) == 0 || string(req.Params) == "null" {
			return nil
		}
		return json.Unmarshal(req.Params, dest)
	}

	switch req.Method {
	case "GridData":
		return marshalResult(s.engine.GridData(), nil)

	case "Refresh":
		p := struct{ Manual *bool }{}
		if err := decode(&p); err != nil {
			return invalidParams(err)
		}
		manual := p.Manual == nil || *p.Manual
		if err := s.engine.Refresh(ctx, false, manual); err != nil {
			return marshalResult(nil, err)
		}
		return marshalResult(s.engine.GridData(), nil)

	case "SearchLogs":
		var p struct{ Text string }
		if err := decode(&p); err != nil {
			return invalidParams(err)
		}
		return marshalResult(logdata.GridRows(s.engine.SearchLogs(p.Text)), nil)

	case "SetSearchFilter":
		var p struct{ Text string }
		if err := decode(&p); err != nil {
			return invalidParams(err)
		}
		s.engine.SetSearchFilter(p.Text)
		return marshalResult(s.engine.GridData(), nil)

	case "ClearSearch":
		s.engine.ClearSearch()
		return marshalResult(s.engine.GridData(), nil)

	case "GetSearchFilter":
		return marshalResult(s.engine.SearchFilter(), nil)

	case "GetSettings":
		return marshalResult(settingsView(s.engine.Settings()), nil)

	case "SetCurrentUserOnly":
		var p struct{ Enabled bool }
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return invalidParams(err)
		}
		if err := s.engine.SetCurrentUserOnly(ctx, p.Enabled); err != nil {
			return marshalResult(nil, err)
		}
		return marshalResult(settingsView(s.engine.Settings()), nil)

	case "SetAutoRefresh":
		var p struct{ Enabled bool }
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return invalidParams(err)
		}
		if err := s.engine.SetAutoRefresh(p.Enabled); err != nil {
			return marshalResult(nil, err)
		}
		return marshalResult(settingsView(s.engine.Settings()), nil)

	case "SetRefreshInterval":
		var p struct{ Interval string }
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return invalidParams(err)
		}
		d, err := time.ParseDuration(p.Interval)
		if err != nil {
			return invalidParams(err)
		}
		if err := s.engine.SetRefreshInterval(d); err != nil {
			if errors.Is(err, model.ErrInvalidInterval) {
				return invalidParams(err)
			}
			return marshalResult(nil, err)
		}
		return marshalResult(settingsView(s.engine.Settings()), nil)

	case "OpenLog":
		var p struct{ ID string }
		if err := json.Unmarshal(req.Params, &p); err != nil || p.ID == "" {
			if err == nil {
				err = errors.New("ID is required")
			}
			return invalidParams(err)
		}
		if s.saver == nil {
			return marshalResult(nil, errors.New("opening logs is not available"))
		}
		rec, ok := s.engine.Lookup(p.ID)
		if !ok {
			rec = model.LogRecord{ID: p.ID}
		}
		path, body, err := s.saver.Save(ctx, rec)
		if err != nil {
			return marshalResult(nil, err)
		}
		return marshalResult(OpenLogResult{ID: p.ID, Path: path, Body: body}, nil)

	case "DeleteAll":
		if s.purger == nil {
			return marshalResult(nil, errors.New("delete-all is not available"))
		}
		n, err := s.purger.DeleteAll(ctx, nil)
		if err != nil {
			return marshalResult(nil, err)
		}
		return marshalResult(DeleteAllResult{Deleted: n}, nil)

	default:
		resp.Error = &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return resp
	}
}
