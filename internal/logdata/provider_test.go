package logdata

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/sflogs/internal/model"
)

func newTestProvider(t *testing.T, src *fakeSource, cfg model.Settings) (*Provider, *fakeStore, *eventLog) {
	t.Helper()
	store := &fakeStore{}
	p := New(src, store, cfg)
	t.Cleanup(p.Dispose)
	events := &eventLog{}
	events.attach(p)
	return p, store, events
}

func mustRefresh(t *testing.T, p *Provider, isInitialLoad, isManualRefresh bool) {
	t.Helper()
	if err := p.Refresh(context.Background(), isInitialLoad, isManualRefresh); err != nil {
		t.Fatalf("Refresh(%v, %v): %v", isInitialLoad, isManualRefresh, err)
	}
}

func lastEvent(t *testing.T, events *eventLog) ChangeEvent {
	t.Helper()
	got := events.Events()
	if len(got) == 0 {
		t.Fatal("no change events delivered")
	}
	return got[len(got)-1]
}

func TestRefresh_InitialLoadReplacesSet(t *testing.T) {
	src := newFakeSource(
		[]model.RawRecord{raw("A", "/apex/a", "Ada", 0), raw("B", "/apex/b", "Ada", time.Second)},
		[]model.RawRecord{raw("C", "/apex/c", "Ada", 2*time.Second)},
	)
	p, _, _ := newTestProvider(t, src, manualSettings())

	mustRefresh(t, p, true, false)
	assertIDs(t, "first load", p.Logs(), "B", "A")

	mustRefresh(t, p, true, false)
	assertIDs(t, "second load", p.Logs(), "C")
}

func TestRefresh_InitialLoadIdempotent(t *testing.T) {
	rows := []model.RawRecord{raw("A", "/apex/a", "Ada", 0), raw("B", "/apex/b", "Bob", time.Second)}
	src := newFakeSource(rows)
	p, _, _ := newTestProvider(t, src, manualSettings())

	mustRefresh(t, p, true, false)
	first := p.Logs()
	mustRefresh(t, p, true, false)
	if got := p.Logs(); !slices.Equal(first, got) {
		t.Fatalf("repeated initial load changed the set: %v -> %v", ids(first), ids(got))
	}
}

func TestRefresh_IncrementalMergeFetchedWins(t *testing.T) {
	src := newFakeSource(
		[]model.RawRecord{raw("A", "/apex/old", "Ada", 0), raw("B", "/apex/b", "Ada", time.Second)},
		[]model.RawRecord{raw("A", "/apex/new", "Ada", 0), raw("C", "/apex/c", "Ada", 2*time.Second)},
	)
	p, _, _ := newTestProvider(t, src, manualSettings())

	mustRefresh(t, p, true, false)
	mustRefresh(t, p, false, false)

	assertIDs(t, "merged", p.Logs(), "C", "B", "A")
	rec, ok := p.Lookup("A")
	if !ok {
		t.Fatal("Lookup(A) missing after merge")
	}
	if rec.Operation != "/apex/new" {
		t.Fatalf("A.Operation=%q, want /apex/new", rec.Operation)
	}
}

func TestRefresh_EmptyManualFetchKeepsRows(t *testing.T) {
	src := newFakeSource(
		[]model.RawRecord{raw("A", "/apex/a", "Ada", 0), raw("B", "/apex/b", "Ada", time.Second)},
		nil,
	)
	p, _, events := newTestProvider(t, src, manualSettings())

	mustRefresh(t, p, true, false)
	mustRefresh(t, p, false, true)

	assertIDs(t, "after empty manual fetch", p.Logs(), "B", "A")
	if got := rowIDs(lastEvent(t, events).Rows); !slices.Equal(got, []string{"B", "A"}) {
		t.Fatalf("last event rows=%v, want [B A]", got)
	}
}

func TestRefresh_EmptyOperationEvicted(t *testing.T) {
	src := newFakeSource(
		[]model.RawRecord{raw("A", "/apex/a", "Ada", 0)},
		[]model.RawRecord{raw("A", model.EmptyOperation, "Ada", 0), raw("B", "/apex/b", "Ada", time.Second)},
	)
	p, _, _ := newTestProvider(t, src, manualSettings())

	mustRefresh(t, p, true, false)
	mustRefresh(t, p, false, false)
	assertIDs(t, "after eviction", p.Logs(), "B")
}

func TestRefresh_RetentionCap(t *testing.T) {
	src := newFakeSource(manyRows(150))
	p, _, _ := newTestProvider(t, src, manualSettings())

	mustRefresh(t, p, true, false)

	logs := p.Logs()
	if len(logs) != model.MaxLogRecords {
		t.Fatalf("len=%d, want %d", len(logs), model.MaxLogRecords)
	}
	if logs[0].ID != "07L149" || logs[len(logs)-1].ID != "07L050" {
		t.Fatalf("kept range %s..%s, want 07L149..07L050", logs[0].ID, logs[len(logs)-1].ID)
	}
	for i := 1; i < len(logs); i++ {
		if logs[i].StartTime.After(logs[i-1].StartTime) {
			t.Fatalf("not descending at %d", i)
		}
	}
}

func TestRefresh_AutoReappliesFilter(t *testing.T) {
	src := newFakeSource(
		[]model.RawRecord{raw("A", "/apex/Account", "Ada", 0), raw("B", "/apex/Contact", "Bob", time.Second)},
		[]model.RawRecord{raw("C", "/apex/AccountTrigger", "Cy", 2*time.Second), raw("D", "/apex/Lead", "Di", 3*time.Second)},
	)
	p, _, events := newTestProvider(t, src, manualSettings())

	mustRefresh(t, p, true, false)
	p.SetSearchFilter("account")
	assertIDs(t, "filtered", p.Filtered(), "A")

	mustRefresh(t, p, false, false)
	if got := p.SearchFilter(); got != "account" {
		t.Fatalf("SearchFilter=%q after auto refresh, want account", got)
	}
	assertIDs(t, "filtered after auto refresh", p.Filtered(), "C", "A")
	if n := len(p.Logs()); n != 4 {
		t.Fatalf("len(Logs)=%d, want 4", n)
	}

	last := lastEvent(t, events)
	if !last.IsAutoRefresh {
		t.Fatal("last event not tagged as auto refresh")
	}
	if got := rowIDs(last.Rows); !slices.Equal(got, []string{"C", "A"}) {
		t.Fatalf("last event rows=%v, want [C A]", got)
	}
}

func TestRefresh_ManualResetsFilter(t *testing.T) {
	src := newFakeSource([]model.RawRecord{raw("A", "/apex/a", "Ada", 0), raw("B", "/apex/b", "Bob", time.Second)})
	p, _, events := newTestProvider(t, src, manualSettings())

	mustRefresh(t, p, true, false)
	p.SetSearchFilter("bob")
	assertIDs(t, "filtered", p.Filtered(), "B")

	mustRefresh(t, p, false, true)
	if got := p.SearchFilter(); got != "" {
		t.Fatalf("SearchFilter=%q after manual refresh, want empty", got)
	}
	assertIDs(t, "filtered after manual refresh", p.Filtered(), ids(p.Logs())...)

	last := lastEvent(t, events)
	if last.IsAutoRefresh || len(last.Rows) != 2 {
		t.Fatalf("last event auto=%v rows=%d, want false 2", last.IsAutoRefresh, len(last.Rows))
	}
}

func TestRefresh_AutoRefreshFlag(t *testing.T) {
	src := newFakeSource([]model.RawRecord{raw("A", "/apex/a", "Ada", 0)})
	p, _, events := newTestProvider(t, src, manualSettings())

	mustRefresh(t, p, true, false)
	mustRefresh(t, p, false, true)
	mustRefresh(t, p, false, false)

	got := events.Events()
	if len(got) != 3 {
		t.Fatalf("events=%d, want 3", len(got))
	}
	flags := []bool{got[0].IsAutoRefresh, got[1].IsAutoRefresh, got[2].IsAutoRefresh}
	if !slices.Equal(flags, []bool{false, false, true}) {
		t.Fatalf("IsAutoRefresh flags=%v, want [false false true]", flags)
	}
}

func TestRefresh_FailureLeavesStateUntouched(t *testing.T) {
	boom := fmt.Errorf("%w: status 500", model.ErrTransport)
	src := newFakeSource()
	src.respond = func(call int, _ string) ([]model.RawRecord, error) {
		if call == 0 {
			return []model.RawRecord{raw("A", "/apex/a", "Ada", 0)}, nil
		}
		return nil, boom
	}
	p, _, events := newTestProvider(t, src, manualSettings())

	mustRefresh(t, p, true, false)
	p.SetSearchFilter("apex")
	before := p.Snapshot()
	eventsBefore := len(events.Events())

	err := p.Refresh(context.Background(), false, true)
	if !errors.Is(err, model.ErrTransport) {
		t.Fatalf("Refresh err=%v, want ErrTransport", err)
	}

	after := p.Snapshot()
	if !slices.Equal(before.Logs, after.Logs) || !slices.Equal(before.Filtered, after.Filtered) {
		t.Fatalf("state changed on failure: logs %v -> %v", ids(before.Logs), ids(after.Logs))
	}
	if after.SearchText != "apex" {
		t.Fatalf("SearchText=%q, want apex", after.SearchText)
	}
	if !after.LastRefresh.Equal(before.LastRefresh) {
		t.Fatalf("LastRefresh moved on failure: %v -> %v", before.LastRefresh, after.LastRefresh)
	}
	if after.Refreshing {
		t.Fatal("still refreshing after failure")
	}

	if n := len(events.Events()); n != eventsBefore {
		t.Fatalf("change events=%d after failure, want %d", n, eventsBefore)
	}
	errs := events.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], model.ErrTransport) {
		t.Fatalf("error events=%v, want one ErrTransport", errs)
	}
}

func TestRefresh_FailedAutoRefreshRearmsScheduler(t *testing.T) {
	src := newFakeSource()
	src.respond = func(call int, _ string) ([]model.RawRecord, error) {
		if call == 0 {
			return []model.RawRecord{raw("A", "/apex/a", "Ada", 0)}, nil
		}
		return nil, fmt.Errorf("%w: status 503", model.ErrTransport)
	}
	cfg := manualSettings()
	cfg.AutoRefresh = true
	p, _, events := newTestProvider(t, src, cfg)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	src.mu.Lock()
	src.gate = make(chan struct{})
	src.entered = make(chan struct{}, 1)
	gate, entered := src.gate, src.entered
	src.mu.Unlock()

	p.scheduler.SetInterval(5 * time.Millisecond)
	<-entered
	if p.scheduler.Pending() {
		t.Fatal("tick pending while the auto refresh is in flight")
	}
	// Only the rescheduled tick may arm after the failure.
	p.scheduler.SetInterval(time.Hour)

	close(gate)
	waitFor(t, time.Second, "auto refresh failure", func() bool { return len(events.Errors()) == 1 })
	waitFor(t, time.Second, "scheduler re-armed", p.scheduler.Pending)

	if p.IsRefreshing() {
		t.Fatal("still refreshing after failed auto refresh")
	}
	assertIDs(t, "logs after failed auto refresh", p.Logs(), "A")
}

func TestRefresh_NoOverlap(t *testing.T) {
	src := newFakeSource([]model.RawRecord{raw("A", "/apex/a", "Ada", 0)})
	src.gate = make(chan struct{})
	src.entered = make(chan struct{}, 1)
	p, _, _ := newTestProvider(t, src, manualSettings())
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- p.Refresh(ctx, true, false) }()
	<-src.entered

	if !p.IsRefreshing() {
		t.Fatal("IsRefreshing=false while the query is blocked")
	}
	if err := p.Refresh(ctx, false, true); err != nil {
		t.Fatalf("overlapping manual refresh: %v", err)
	}
	if err := p.Refresh(ctx, false, false); err != nil {
		t.Fatalf("overlapping auto refresh: %v", err)
	}
	if n := src.QueryCount(); n != 1 {
		t.Fatalf("queries=%d while in flight, want 1", n)
	}

	close(src.gate)
	if err := <-done; err != nil {
		t.Fatalf("gated refresh: %v", err)
	}
	if p.IsRefreshing() {
		t.Fatal("IsRefreshing=true after completion")
	}
	assertIDs(t, "logs", p.Logs(), "A")
}

func TestSetSearchFilter_DuringInFlightRefresh(t *testing.T) {
	src := newFakeSource(
		[]model.RawRecord{raw("A", "/apex/a", "Ada", 0), raw("B", "/apex/b", "Bob", time.Second)},
		[]model.RawRecord{raw("C", "/apex/c", "Bob", 2*time.Second), raw("D", "/apex/d", "Di", 3*time.Second)},
	)
	p, _, events := newTestProvider(t, src, manualSettings())
	mustRefresh(t, p, true, false)

	src.mu.Lock()
	src.gate = make(chan struct{})
	src.entered = make(chan struct{}, 1)
	gate, entered := src.gate, src.entered
	src.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.Refresh(context.Background(), false, false) }()
	<-entered

	p.SetSearchFilter("bob")
	assertIDs(t, "filtered before the refresh lands", p.Filtered(), "B")
	if got := rowIDs(lastEvent(t, events).Rows); !slices.Equal(got, []string{"B"}) {
		t.Fatalf("event rows=%v while refresh in flight, want [B]", got)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if got := p.SearchFilter(); got != "bob" {
		t.Fatalf("SearchFilter=%q, want bob", got)
	}
	assertIDs(t, "filtered after the refresh lands", p.Filtered(), "C", "B")
	last := lastEvent(t, events)
	if !last.IsAutoRefresh {
		t.Fatal("last event not tagged as auto refresh")
	}
	if got := rowIDs(last.Rows); !slices.Equal(got, []string{"C", "B"}) {
		t.Fatalf("last event rows=%v, want [C B]", got)
	}
}

func TestChangeEvents_NeverDeliveredStale(t *testing.T) {
	src := newFakeSource([]model.RawRecord{raw("A", "/apex/a", "Ada", 0), raw("B", "/apex/b", "Bob", time.Second)})
	p, _, _ := newTestProvider(t, src, manualSettings())
	mustRefresh(t, p, true, false)

	blocked := make(chan struct{})
	release := make(chan struct{})
	var (
		mu   sync.Mutex
		seen []ChangeEvent
		once sync.Once
	)
	p.Subscribe(func(e ChangeEvent) {
		if e.IsAutoRefresh {
			once.Do(func() {
				close(blocked)
				<-release
			})
		}
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() { done <- p.Refresh(context.Background(), false, false) }()
	<-blocked

	filtered := make(chan struct{})
	go func() {
		p.SetSearchFilter("bob")
		close(filtered)
	}()
	select {
	case <-filtered:
	case <-time.After(time.Second):
		t.Fatal("SetSearchFilter blocked behind a slow subscriber")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	want := rowIDs(p.GridData())
	if !slices.Equal(want, []string{"B"}) {
		t.Fatalf("state rows=%v, want [B]", want)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("subscriber saw no events")
	}
	if got := rowIDs(seen[len(seen)-1].Rows); !slices.Equal(got, want) {
		t.Fatalf("last delivered rows=%v, state=%v: stale event delivered last", got, want)
	}
}

func TestRefresh_QueryScope(t *testing.T) {
	src := newFakeSource()
	src.identity = model.Identity{UserID: "005xx0000012345", Username: "ada@example.com"}
	cfg := manualSettings()
	cfg.CurrentUserOnly = true
	p, _, _ := newTestProvider(t, src, cfg)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	queries := src.Queries()
	if len(queries) != 1 {
		t.Fatalf("queries=%d, want 1", len(queries))
	}
	if !strings.Contains(queries[0], "WHERE LogUserId = '005xx0000012345'") {
		t.Fatalf("query not scoped: %s", queries[0])
	}
	if !p.CurrentUserOnly() {
		t.Fatal("CurrentUserOnly=false after successful resolve")
	}
}

func TestSetSearchFilter_CaseInsensitive(t *testing.T) {
	src := newFakeSource([]model.RawRecord{
		raw("A", "/apex/MyController", "Ada Lovelace", 0),
		raw("B", "Batch Apex", "Bob", time.Second),
		raw("C", "/services/data", "APEX Admin", 2*time.Second),
		raw("D", "/services/soap", "Di", 3*time.Second),
	})
	p, _, events := newTestProvider(t, src, manualSettings())
	mustRefresh(t, p, true, false)

	p.SetSearchFilter("aPeX")
	assertIDs(t, "filtered", p.Filtered(), "C", "B", "A")
	if n := src.QueryCount(); n != 1 {
		t.Fatalf("queries=%d, filter must not hit the API", n)
	}

	last := lastEvent(t, events)
	if last.IsAutoRefresh || len(last.Rows) != 3 {
		t.Fatalf("last event auto=%v rows=%d, want false 3", last.IsAutoRefresh, len(last.Rows))
	}

	p.ClearSearch()
	if n := len(p.Filtered()); n != 4 {
		t.Fatalf("len(Filtered)=%d after ClearSearch, want 4", n)
	}
	if got := p.SearchFilter(); got != "" {
		t.Fatalf("SearchFilter=%q after ClearSearch, want empty", got)
	}
}

func TestSearchLogs_DoesNotChangeView(t *testing.T) {
	src := newFakeSource([]model.RawRecord{raw("A", "/apex/a", "Ada", 0), raw("B", "/apex/b", "Bob", time.Second)})
	p, _, _ := newTestProvider(t, src, manualSettings())
	mustRefresh(t, p, true, false)

	assertIDs(t, "SearchLogs", p.SearchLogs("bob"), "B")
	if n := len(p.Filtered()); n != 2 {
		t.Fatalf("len(Filtered)=%d, want 2", n)
	}
	if got := p.SearchFilter(); got != "" {
		t.Fatalf("SearchFilter=%q, want empty", got)
	}
}

func TestSetCurrentUserOnly_IdentityFailureWidensScope(t *testing.T) {
	src := newFakeSource([]model.RawRecord{raw("A", "/apex/a", "Ada", 0)})
	src.identityErr = errors.New("no default org")
	p, store, events := newTestProvider(t, src, manualSettings())

	if err := p.SetCurrentUserOnly(context.Background(), true); err != nil {
		t.Fatalf("SetCurrentUserOnly: %v", err)
	}

	if p.CurrentUserOnly() {
		t.Fatal("scope not widened after identity failure")
	}
	if got := store.Values(model.SettingCurrentUserOnly); !slices.Equal(got, []interface{}{true, false}) {
		t.Fatalf("persisted=%v, want [true false]", got)
	}

	errs := events.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], model.ErrAuth) {
		t.Fatalf("error events=%v, want one ErrAuth", errs)
	}

	queries := src.Queries()
	if len(queries) != 1 || strings.Contains(queries[0], "WHERE") {
		t.Fatalf("queries=%v, want one unscoped query", queries)
	}
	assertIDs(t, "logs", p.Logs(), "A")
}

func TestSetCurrentUserOnly_NarrowsAndReloads(t *testing.T) {
	src := newFakeSource([]model.RawRecord{raw("A", "/apex/a", "Ada", 0)})
	src.identity = model.Identity{UserID: "005A"}
	p, store, events := newTestProvider(t, src, manualSettings())
	ctx := context.Background()

	if err := p.SetCurrentUserOnly(ctx, true); err != nil {
		t.Fatalf("SetCurrentUserOnly(true): %v", err)
	}
	if !p.CurrentUserOnly() {
		t.Fatal("CurrentUserOnly=false")
	}
	if got := store.Values(model.SettingCurrentUserOnly); !slices.Equal(got, []interface{}{true}) {
		t.Fatalf("persisted=%v, want [true]", got)
	}
	if q := src.Queries()[0]; !strings.Contains(q, "LogUserId = '005A'") {
		t.Fatalf("query not scoped: %s", q)
	}

	// the cached id is reused
	if err := p.SetCurrentUserOnly(ctx, false); err != nil {
		t.Fatalf("SetCurrentUserOnly(false): %v", err)
	}
	if err := p.SetCurrentUserOnly(ctx, true); err != nil {
		t.Fatalf("SetCurrentUserOnly(true) again: %v", err)
	}
	if src.identityN != 1 {
		t.Fatalf("identity resolved %d times, want 1", src.identityN)
	}

	// unchanged value is a no-op
	n := src.QueryCount()
	if err := p.SetCurrentUserOnly(ctx, true); err != nil {
		t.Fatalf("no-op SetCurrentUserOnly: %v", err)
	}
	if src.QueryCount() != n {
		t.Fatalf("no-op change queried the API")
	}

	for _, e := range events.Events() {
		if e.IsAutoRefresh {
			t.Fatal("scope change emitted an auto-refresh event")
		}
	}
}

func TestSetCurrentUserOnly_PersistFailureReturned(t *testing.T) {
	src := newFakeSource()
	src.identity = model.Identity{UserID: "005A"}
	p, store, _ := newTestProvider(t, src, manualSettings())
	store.err = errors.New("read-only file system")

	if err := p.SetCurrentUserOnly(context.Background(), true); err == nil {
		t.Fatal("persist failure not returned")
	}
	if !p.CurrentUserOnly() {
		t.Fatal("in-memory scope reverted on persist failure")
	}
}

func TestSetAutoRefresh_TogglesScheduler(t *testing.T) {
	src := newFakeSource()
	p, store, _ := newTestProvider(t, src, manualSettings())

	if !p.scheduler.Paused() {
		t.Fatal("scheduler running with auto refresh off")
	}
	if err := p.SetAutoRefresh(true); err != nil {
		t.Fatalf("SetAutoRefresh(true): %v", err)
	}
	if p.scheduler.Paused() || !p.scheduler.Pending() {
		t.Fatalf("after enable paused=%v pending=%v, want false true", p.scheduler.Paused(), p.scheduler.Pending())
	}

	if err := p.SetAutoRefresh(false); err != nil {
		t.Fatalf("SetAutoRefresh(false): %v", err)
	}
	if !p.scheduler.Paused() || p.scheduler.Pending() {
		t.Fatalf("after disable paused=%v pending=%v, want true false", p.scheduler.Paused(), p.scheduler.Pending())
	}

	if got := store.Values(model.SettingAutoRefresh); !slices.Equal(got, []interface{}{true, false}) {
		t.Fatalf("persisted=%v, want [true false]", got)
	}
}

func TestSetRefreshInterval(t *testing.T) {
	p, store, _ := newTestProvider(t, newFakeSource(), manualSettings())

	if err := p.SetRefreshInterval(500 * time.Millisecond); !errors.Is(err, model.ErrInvalidInterval) {
		t.Fatalf("SetRefreshInterval(500ms) err=%v, want ErrInvalidInterval", err)
	}
	if got := p.RefreshInterval(); got != time.Minute {
		t.Fatalf("RefreshInterval=%s after rejected change, want 1m", got)
	}

	if err := p.SetRefreshInterval(10 * time.Second); err != nil {
		t.Fatalf("SetRefreshInterval(10s): %v", err)
	}
	if p.RefreshInterval() != 10*time.Second || p.scheduler.Interval() != 10*time.Second {
		t.Fatalf("interval engine=%s scheduler=%s, want 10s", p.RefreshInterval(), p.scheduler.Interval())
	}
	if got := store.Values(model.SettingRefreshInterval); !slices.Equal(got, []interface{}{"10s"}) {
		t.Fatalf("persisted=%v, want [10s]", got)
	}
}

func TestStart_IdentityFailureStillLoads(t *testing.T) {
	src := newFakeSource([]model.RawRecord{raw("A", "/apex/a", "Ada", 0)})
	src.identityErr = fmt.Errorf("%w: session expired", model.ErrAuth)
	cfg := manualSettings()
	cfg.CurrentUserOnly = true
	p, store, events := newTestProvider(t, src, cfg)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.CurrentUserOnly() {
		t.Fatal("scope not widened")
	}
	if got := store.Values(model.SettingCurrentUserOnly); !slices.Equal(got, []interface{}{false}) {
		t.Fatalf("persisted=%v, want [false]", got)
	}
	if n := len(events.Errors()); n != 1 {
		t.Fatalf("error events=%d, want 1", n)
	}
	assertIDs(t, "logs", p.Logs(), "A")
	if p.LastRefresh().IsZero() {
		t.Fatal("LastRefresh not set")
	}
}

func TestAutoRefresh_Ticks(t *testing.T) {
	src := newFakeSource(
		[]model.RawRecord{raw("A", "/apex/a", "Ada", 0)},
		[]model.RawRecord{raw("B", "/apex/b", "Ada", time.Second)},
	)
	cfg := manualSettings()
	cfg.AutoRefresh = true
	p, _, events := newTestProvider(t, src, cfg)
	p.scheduler.SetInterval(10 * time.Millisecond)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, "three queries", func() bool { return src.QueryCount() >= 3 })

	assertIDs(t, "logs", p.Logs(), "B", "A")
	got := events.Events()
	if got[0].IsAutoRefresh || !got[len(got)-1].IsAutoRefresh {
		t.Fatalf("first auto=%v last auto=%v, want false true", got[0].IsAutoRefresh, got[len(got)-1].IsAutoRefresh)
	}

	p.Dispose()
	n := src.QueryCount()
	time.Sleep(50 * time.Millisecond)
	if after := src.QueryCount(); after > n+1 {
		t.Fatalf("queries kept running after Dispose: %d -> %d", n, after)
	}
}

func TestAutoRefresh_SlowRefreshDoesNotStack(t *testing.T) {
	src := newFakeSource([]model.RawRecord{raw("A", "/apex/a", "Ada", 0)})
	src.gate = make(chan struct{})
	src.entered = make(chan struct{}, 16)
	cfg := manualSettings()
	cfg.AutoRefresh = true
	p, _, _ := newTestProvider(t, src, cfg)
	p.scheduler.SetInterval(5 * time.Millisecond)
	p.scheduler.Start()

	<-src.entered
	time.Sleep(50 * time.Millisecond)
	if n := src.QueryCount(); n != 1 {
		t.Fatalf("queries=%d during a slow refresh, want 1", n)
	}
	if p.scheduler.Pending() {
		t.Fatal("tick armed during a slow refresh")
	}

	src.gate <- struct{}{}
	<-src.entered
	if n := src.QueryCount(); n != 2 {
		t.Fatalf("queries=%d after release, want 2", n)
	}
	close(src.gate)
}

func TestDispose_StopsEverything(t *testing.T) {
	src := newFakeSource([]model.RawRecord{raw("A", "/apex/a", "Ada", 0)})
	cfg := manualSettings()
	cfg.AutoRefresh = true
	p, _, events := newTestProvider(t, src, cfg)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p.Dispose()
	p.Dispose()

	if !p.scheduler.Paused() || p.scheduler.Pending() {
		t.Fatal("scheduler still live after Dispose")
	}
	n := len(events.Events())
	if err := p.Refresh(context.Background(), false, true); err != nil {
		t.Fatalf("Refresh after Dispose: %v", err)
	}
	p.SetSearchFilter("x")
	if got := len(events.Events()); got != n {
		t.Fatalf("events after Dispose=%d, want %d", got, n)
	}
	if err := p.SetAutoRefresh(false); err != nil {
		t.Fatalf("SetAutoRefresh after Dispose: %v", err)
	}
}

func TestGridData_Projection(t *testing.T) {
	src := newFakeSource([]model.RawRecord{raw("A", "/apex/a", "Ada", 0)})
	p, _, _ := newTestProvider(t, src, manualSettings())
	mustRefresh(t, p, true, false)

	rows := p.GridData()
	if len(rows) != 1 {
		t.Fatalf("rows=%d, want 1", len(rows))
	}
	r := rows[0]
	if r.User != "Ada" || r.Size != "2.0KB" || r.Duration != "10ms" {
		t.Fatalf("row=%+v, want user Ada size 2.0KB duration 10ms", r)
	}
	if strings.Count(r.Time, ":") != 2 {
		t.Fatalf("Time=%q, want hh:mm:ss", r.Time)
	}
}
