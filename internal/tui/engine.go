package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/sflogs/internal/logdata"
	"github.com/tinytelemetry/sflogs/internal/model"
	"github.com/tinytelemetry/sflogs/internal/purge"
)

// Engine is the part of the log engine the grid drives.
type Engine interface {
	Filtered() []model.LogRecord
	SearchFilter() string
	Settings() model.Settings
	LastRefresh() time.Time
	IsRefreshing() bool
	Refresh(ctx context.Context, isInitialLoad, isManualRefresh bool) error
	SetSearchFilter(text string)
	ClearSearch()
	SetCurrentUserOnly(ctx context.Context, enabled bool) error
	SetAutoRefresh(enabled bool) error
	SetRefreshInterval(d time.Duration) error
}

// Events is the engine's notification surface.
type Events interface {
	Subscribe(fn func(logdata.ChangeEvent)) (unsubscribe func())
	OnError(fn func(error)) (unsubscribe func())
}

// LogSaver fetches a log body and writes it to disk.
type LogSaver interface {
	Save(ctx context.Context, rec model.LogRecord) (path, body string, err error)
}

// Purger deletes every remote log.
type Purger interface {
	DeleteAll(ctx context.Context, progress func(purge.Progress)) (int, error)
}

type changedMsg struct {
	isAutoRefresh bool
}

type engineErrMsg struct {
	err error
}

// actionDoneMsg reports the outcome of a user action run off the UI goroutine.
type actionDoneMsg struct {
	note string
	err  error
}

type openedMsg struct {
	rec  model.LogRecord
	path string
	body string
	err  error
}

type purgeProgressMsg struct {
	progress purge.Progress
}

type purgeDoneMsg struct {
	deleted int
	err     error
}

// Attach forwards engine notifications into a running program. send is
// usually (*tea.Program).Send. The returned func detaches.
func Attach(send func(tea.Msg), events Events) (detach func()) {
	unsubChange := events.Subscribe(func(ev logdata.ChangeEvent) {
		send(changedMsg{isAutoRefresh: ev.IsAutoRefresh})
	})
	unsubErr := events.OnError(func(err error) {
		send(engineErrMsg{err: err})
	})
	return func() {
		unsubChange()
		unsubErr()
	}
}

// intervalSteps are the refresh intervals the +/- keys cycle through.
var intervalSteps = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	15 * time.Second,
	30 * time.Second,
	time.Minute,
	2 * time.Minute,
	5 * time.Minute,
}

// nextInterval returns the step after (up) or before cur, clamped to the ends.
func nextInterval(cur time.Duration, up bool) time.Duration {
	if up {
		for _, d := range intervalSteps {
			if d > cur {
				return d
			}
		}
		return intervalSteps[len(intervalSteps)-1]
	}
	for i := len(intervalSteps) - 1; i >= 0; i-- {
		if intervalSteps[i] < cur {
			return intervalSteps[i]
		}
	}
	return intervalSteps[0]
}
