// Package logdata keeps the local view of remote debug logs in step with
// the org. Provider owns the authoritative set, the filtered view and the
// refresh lifecycle; Scheduler and Notifier are its collaborators.
package logdata

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinytelemetry/sflogs/internal/logging"
	"github.com/tinytelemetry/sflogs/internal/metrics"
	"github.com/tinytelemetry/sflogs/internal/model"
)

// ChangeEvent carries the rendered grid after a state change.
type ChangeEvent struct {
	Rows          []model.GridRow `json:"data"`
	IsAutoRefresh bool            `json:"isAutoRefresh"`
}

// Snapshot is a consistent copy of the engine state.
type Snapshot struct {
	Logs          []model.LogRecord
	Filtered      []model.LogRecord
	SearchText    string
	Settings      model.Settings
	CurrentUserID string
	LastRefresh   time.Time
	Refreshing    bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// WithClock overrides the wall clock used for LastRefresh.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// Provider is the reconciliation engine. All methods are safe for
// concurrent use. Remote calls and notifications happen without the state
// lock held. Every change event carries the state version it was built
// from, and subscribers never see an older version after a newer one.
type Provider struct {
	source    model.LogSource
	store     model.SettingsStore
	changes   *Notifier[ChangeEvent]
	events    *ordered[ChangeEvent]
	errs      *Notifier[error]
	scheduler *Scheduler
	log       zerolog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	cfg           model.Settings
	logs          []model.LogRecord
	filtered      []model.LogRecord
	searchText    string
	refreshing    bool
	currentUserID string
	lastRefresh   time.Time
	version       uint64
	disposed      bool
}

// New builds an idle provider. Nothing is fetched until Start or Refresh.
// A nil store discards settings writes.
func New(source model.LogSource, store model.SettingsStore, cfg model.Settings, opts ...Option) *Provider {
	if store == nil {
		store = discardStore{}
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = model.DefaultRefreshInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Provider{
		source:  source,
		store:   store,
		changes: NewNotifier[ChangeEvent](),
		errs:    NewNotifier[error](),
		log:     logging.With("logdata"),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.events = newOrdered(p.changes)
	p.scheduler = NewScheduler(cfg.RefreshInterval, p.IsRefreshing, func() {
		_ = p.Refresh(p.ctx, false, false)
	})
	return p
}

// Start resolves the identity when the scope is narrowed, runs the initial
// load and starts the scheduler if auto-refresh is on. An identity failure
// widens the scope instead of failing. The initial load error is returned
// after the scheduler has been started.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	narrow := p.cfg.CurrentUserOnly && p.currentUserID == ""
	p.mu.Unlock()

	if narrow {
		if err := p.resolveIdentity(ctx); err != nil {
			p.widenScope(err)
		}
	}

	err := p.Refresh(ctx, true, false)

	p.mu.Lock()
	auto := p.cfg.AutoRefresh && !p.disposed
	p.mu.Unlock()
	if auto {
		p.scheduler.Start()
	}
	return err
}

// Refresh runs one fetch-and-reconcile cycle. It is a no-op when a cycle is
// already running. isInitialLoad replaces the set instead of merging. The
// search filter is cleared on initial and manual refreshes and re-applied
// on automatic ones. On failure the state is left untouched; the error is
// returned and also delivered to OnError subscribers.
func (p *Provider) Refresh(ctx context.Context, isInitialLoad, isManualRefresh bool) error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil
	}
	if p.refreshing {
		p.mu.Unlock()
		metrics.RefreshSkipped.Inc()
		p.log.Debug().Msg("refresh already in flight, skipping")
		return nil
	}
	p.refreshing = true
	query := BuildQuery(p.cfg.CurrentUserOnly, p.currentUserID)
	p.mu.Unlock()

	trigger := triggerLabel(isInitialLoad, isManualRefresh)
	start := time.Now()
	rows, err := p.source.Query(ctx, query)
	metrics.RefreshDuration.Observe(time.Since(start).Seconds())

	var (
		event   ChangeEvent
		version uint64
	)
	p.mu.Lock()
	if err == nil {
		fetched := model.NewLogRecords(rows)
		p.logs = Reconcile(p.logs, fetched, isInitialLoad)
		if isInitialLoad || isManualRefresh {
			p.searchText = ""
		}
		p.filtered = FilterLogs(p.logs, p.searchText)
		p.lastRefresh = p.now()
		version, event = p.changeEventLocked(!(isInitialLoad || isManualRefresh))
		metrics.AuthoritativeLogs.Set(float64(len(p.logs)))
		metrics.FilteredLogs.Set(float64(len(p.filtered)))
		p.log.Debug().
			Str("trigger", trigger).
			Int("fetched", len(fetched)).
			Int("total", len(p.logs)).
			Int("visible", len(p.filtered)).
			Msg("refresh complete")
	}
	p.refreshing = false
	p.mu.Unlock()

	if err != nil {
		metrics.RefreshTotal.WithLabelValues(trigger, "error").Inc()
		err = fmt.Errorf("refresh logs: %w", err)
		if ctx.Err() == nil {
			p.log.Warn().Err(err).Str("trigger", trigger).Msg("refresh failed")
			p.errs.Emit(err)
		}
	} else {
		metrics.RefreshTotal.WithLabelValues(trigger, "ok").Inc()
		p.events.publish(version, event)
	}

	p.scheduler.Reschedule()
	return err
}

func triggerLabel(isInitialLoad, isManualRefresh bool) string {
	switch {
	case isInitialLoad:
		return "initial"
	case isManualRefresh:
		return "manual"
	default:
		return "auto"
	}
}

// SetSearchFilter recomputes the filtered view against the current set
// and notifies subscribers. It never calls the remote API.
func (p *Provider) SetSearchFilter(text string) {
	p.mu.Lock()
	p.searchText = text
	p.filtered = FilterLogs(p.logs, text)
	version, event := p.changeEventLocked(false)
	metrics.FilteredLogs.Set(float64(len(p.filtered)))
	p.mu.Unlock()

	p.events.publish(version, event)
}

// ClearSearch resets the filter so every record is visible.
func (p *Provider) ClearSearch() {
	p.SetSearchFilter("")
}

// SetCurrentUserOnly changes the query scope, persists it and reloads.
// Enabling the scope without a known user id resolves the identity first;
// if that fails the scope reverts to all users, the revert is persisted and
// the failure goes to OnError subscribers. Only persistence errors are
// returned.
func (p *Provider) SetCurrentUserOnly(ctx context.Context, enabled bool) error {
	p.mu.Lock()
	if p.cfg.CurrentUserOnly == enabled {
		p.mu.Unlock()
		return nil
	}
	p.cfg.CurrentUserOnly = enabled
	resolve := enabled && p.currentUserID == ""
	p.mu.Unlock()

	persistErr := p.persist(model.SettingCurrentUserOnly, enabled)

	if resolve {
		if err := p.resolveIdentity(ctx); err != nil {
			persistErr = errors.Join(persistErr, p.widenScope(err))
		}
	}

	// Errors are already delivered to OnError subscribers.
	_ = p.Refresh(ctx, true, false)
	p.notify(false)
	return persistErr
}

// resolveIdentity fetches and caches the current user id.
func (p *Provider) resolveIdentity(ctx context.Context) error {
	id, err := p.source.ResolveIdentity(ctx)
	if err != nil {
		if !errors.Is(err, model.ErrAuth) {
			err = fmt.Errorf("%w: %w", model.ErrAuth, err)
		}
		return err
	}
	if id.UserID == "" {
		return fmt.Errorf("%w: empty user id", model.ErrAuth)
	}
	p.mu.Lock()
	p.currentUserID = id.UserID
	p.mu.Unlock()
	p.log.Info().Str("user", id.Username).Str("user_id", id.UserID).Msg("resolved current user")
	return nil
}

// widenScope reverts to showing all users after an identity failure.
func (p *Provider) widenScope(cause error) error {
	err := fmt.Errorf("resolve current user, showing all users: %w", cause)
	p.log.Warn().Err(cause).Msg("current user unavailable, widening scope")
	p.errs.Emit(err)

	p.mu.Lock()
	p.cfg.CurrentUserOnly = false
	p.mu.Unlock()
	return p.persist(model.SettingCurrentUserOnly, false)
}

// SetAutoRefresh toggles the scheduler and persists the choice.
func (p *Provider) SetAutoRefresh(enabled bool) error {
	p.mu.Lock()
	if p.cfg.AutoRefresh == enabled || p.disposed {
		p.mu.Unlock()
		return nil
	}
	p.cfg.AutoRefresh = enabled
	p.mu.Unlock()

	if enabled {
		p.scheduler.Start()
	} else {
		p.scheduler.Stop()
	}
	return p.persist(model.SettingAutoRefresh, enabled)
}

// SetRefreshInterval changes the auto-refresh period. Intervals below
// MinRefreshInterval are rejected.
func (p *Provider) SetRefreshInterval(d time.Duration) error {
	if d < model.MinRefreshInterval {
		return fmt.Errorf("%w: %s < %s", model.ErrInvalidInterval, d, model.MinRefreshInterval)
	}
	p.mu.Lock()
	if p.cfg.RefreshInterval == d {
		p.mu.Unlock()
		return nil
	}
	p.cfg.RefreshInterval = d
	p.mu.Unlock()

	p.scheduler.SetInterval(d)
	return p.persist(model.SettingRefreshInterval, d.String())
}

func (p *Provider) persist(key string, value interface{}) error {
	if err := p.store.Persist(key, value); err != nil {
		p.log.Error().Err(err).Str("key", key).Msg("persist setting failed")
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

// notify emits the current filtered view.
func (p *Provider) notify(isAutoRefresh bool) {
	p.mu.Lock()
	version, event := p.changeEventLocked(isAutoRefresh)
	p.mu.Unlock()
	p.events.publish(version, event)
}

// changeEventLocked renders the filtered view and stamps it with the next
// state version. p.mu must be held.
func (p *Provider) changeEventLocked(isAutoRefresh bool) (uint64, ChangeEvent) {
	p.version++
	return p.version, ChangeEvent{Rows: GridRows(p.filtered), IsAutoRefresh: isAutoRefresh}
}

// Subscribe registers fn for change events.
func (p *Provider) Subscribe(fn func(ChangeEvent)) (unsubscribe func()) {
	return p.changes.Subscribe(fn)
}

// OnError registers fn for refresh and identity failures.
func (p *Provider) OnError(fn func(error)) (unsubscribe func()) {
	return p.errs.Subscribe(fn)
}

// GridData returns the filtered view projected for display.
func (p *Provider) GridData() []model.GridRow {
	p.mu.Lock()
	defer p.mu.Unlock()
	return GridRows(p.filtered)
}

// Logs returns a copy of the authoritative set.
func (p *Provider) Logs() []model.LogRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.logs)
}

// Filtered returns a copy of the filtered view.
func (p *Provider) Filtered() []model.LogRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.filtered)
}

// Lookup returns the record with id from the authoritative set.
func (p *Provider) Lookup(id string) (model.LogRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.logs {
		if r.ID == id {
			return r, true
		}
	}
	return model.LogRecord{}, false
}

// SearchLogs filters the authoritative set without touching the view.
func (p *Provider) SearchLogs(text string) []model.LogRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return FilterLogs(p.logs, text)
}

// SearchFilter returns the active filter text.
func (p *Provider) SearchFilter() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.searchText
}

// Settings returns the effective settings.
func (p *Provider) Settings() model.Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// CurrentUserOnly reports the cached scope flag.
func (p *Provider) CurrentUserOnly() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.CurrentUserOnly
}

// AutoRefresh reports whether the scheduler is enabled.
func (p *Provider) AutoRefresh() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.AutoRefresh
}

// RefreshInterval returns the auto-refresh period.
func (p *Provider) RefreshInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.RefreshInterval
}

// LastRefresh returns the time of the last successful refresh.
func (p *Provider) LastRefresh() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRefresh
}

// IsRefreshing reports whether a cycle is in flight.
func (p *Provider) IsRefreshing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshing
}

// Snapshot returns a consistent copy of the whole state.
func (p *Provider) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Logs:          slices.Clone(p.logs),
		Filtered:      slices.Clone(p.filtered),
		SearchText:    p.searchText,
		Settings:      p.cfg,
		CurrentUserID: p.currentUserID,
		LastRefresh:   p.lastRefresh,
		Refreshing:    p.refreshing,
	}
}

// Dispose stops the scheduler, cancels in-flight unattended refreshes and
// drops every subscriber. Later calls are no-ops.
func (p *Provider) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.mu.Unlock()

	p.scheduler.Close()
	p.cancel()
	p.changes.Close()
	p.errs.Close()
	p.log.Debug().Msg("disposed")
}

type discardStore struct{}

func (discardStore) Persist(string, interface{}) error { return nil }
