package logdata

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/sflogs/internal/model"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// raw builds a remote row the way the query endpoint returns it.
func raw(id, op, user string, offset time.Duration) model.RawRecord {
	return model.RawRecord{
		"Id":                   id,
		"Operation":            op,
		"LogUser":              map[string]interface{}{"Name": user},
		"Status":               "Success",
		"LogLength":            float64(2048),
		"DurationMilliseconds": float64(10),
		"StartTime":            baseTime.Add(offset).Format("2006-01-02T15:04:05.000-0700"),
	}
}

// fakeSource is a scripted LogSource. respond is called once per Query.
// When gate is set, Query signals entered and blocks until gate yields.
type fakeSource struct {
	mu          sync.Mutex
	respond     func(call int, query string) ([]model.RawRecord, error)
	queries     []string
	identity    model.Identity
	identityErr error
	identityN   int

	gate    chan struct{}
	entered chan struct{}
}

func newFakeSource(batches ...[]model.RawRecord) *fakeSource {
	return &fakeSource{
		respond: func(call int, _ string) ([]model.RawRecord, error) {
			if len(batches) == 0 {
				return nil, nil
			}
			if call >= len(batches) {
				call = len(batches) - 1
			}
			return batches[call], nil
		},
	}
}

func (f *fakeSource) Query(ctx context.Context, query string) ([]model.RawRecord, error) {
	f.mu.Lock()
	call := len(f.queries)
	f.queries = append(f.queries, query)
	gate, entered, respond := f.gate, f.entered, f.respond
	f.mu.Unlock()

	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return respond(call, query)
}

func (f *fakeSource) FetchBody(context.Context, string) (string, error) {
	return "", model.ErrNotFound
}

func (f *fakeSource) ResolveIdentity(context.Context) (model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identityN++
	if f.identityErr != nil {
		return model.Identity{}, f.identityErr
	}
	return f.identity, nil
}

func (f *fakeSource) DeleteByIDs(context.Context, []string) error {
	return nil
}

func (f *fakeSource) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func (f *fakeSource) QueryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type persisted struct {
	key   string
	value interface{}
}

type fakeStore struct {
	mu     sync.Mutex
	writes []persisted
	err    error
}

func (s *fakeStore) Persist(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, persisted{key, value})
	return s.err
}

func (s *fakeStore) Values(key string) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []interface{}
	for _, w := range s.writes {
		if w.key == key {
			out = append(out, w.value)
		}
	}
	return out
}

// eventLog records change events and errors for assertions.
type eventLog struct {
	mu     sync.Mutex
	events []ChangeEvent
	errs   []error
}

func (l *eventLog) attach(p *Provider) {
	p.Subscribe(func(e ChangeEvent) {
		l.mu.Lock()
		l.events = append(l.events, e)
		l.mu.Unlock()
	})
	p.OnError(func(err error) {
		l.mu.Lock()
		l.errs = append(l.errs, err)
		l.mu.Unlock()
	})
}

func (l *eventLog) Events() []ChangeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ChangeEvent(nil), l.events...)
}

func (l *eventLog) Errors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

func ids(logs []model.LogRecord) []string {
	out := make([]string, len(logs))
	for i, r := range logs {
		out[i] = r.ID
	}
	return out
}

func manyRows(n int) []model.RawRecord {
	rows := make([]model.RawRecord, n)
	for i := range rows {
		rows[i] = raw(fmt.Sprintf("07L%03d", i), "/apex/op", "Ada", time.Duration(i)*time.Second)
	}
	return rows
}

func manualSettings() model.Settings {
	return model.Settings{AutoRefresh: false, RefreshInterval: time.Minute, CurrentUserOnly: false}
}

func assertIDs(t *testing.T, what string, logs []model.LogRecord, want ...string) {
	t.Helper()
	if got := ids(logs); !slices.Equal(got, want) {
		t.Fatalf("%s ids=%v, want %v", what, got, want)
	}
}

func rowIDs(rows []model.GridRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

// waitFor polls cond until it holds or timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
