package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/sflogs/internal/logging"
	"github.com/tinytelemetry/sflogs/internal/model"
	"github.com/tinytelemetry/sflogs/internal/purge"
)

// LogsPage is the log grid: one row per debug log, newest first.
type LogsPage struct {
	ctx    context.Context
	engine Engine
	saver  LogSaver
	purger Purger
	send   func(tea.Msg)

	keys    KeyMap
	help    help.Model
	table   table.Model
	search  textinput.Model
	spinner spinner.Model

	// records mirrors the table rows, index for index.
	records []model.LogRecord

	searching     bool
	showDetails   bool
	confirmDelete bool
	purging       bool
	opening       bool

	status    string
	statusErr bool

	width  int
	height int
}

// NewLogsPage builds the grid page. saver and purger may be nil, which
// disables opening and deleting logs.
func NewLogsPage(ctx context.Context, engine Engine, saver LogSaver, purger Purger) *LogsPage {
	search := textinput.New()
	search.Prompt = "/ "
	search.Placeholder = "filter by operation or user"
	search.CharLimit = 120

	t := table.New(
		table.WithColumns(columnsFor(120)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorGray).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(ColorWhite).
		Background(ColorNavy).
		Bold(false)
	t.SetStyles(styles)

	return &LogsPage{
		ctx:     ctx,
		engine:  engine,
		saver:   saver,
		purger:  purger,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		table:   t,
		search:  search,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(lipgloss.NewStyle().Foreground(ColorBlue))),
	}
}

// SetSender lets long-running commands post intermediate messages, such as
// delete-all progress. send is usually (*tea.Program).Send.
func (m *LogsPage) SetSender(send func(tea.Msg)) {
	m.send = send
}

func (m *LogsPage) ID() string { return PageLogs }

func (m *LogsPage) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, func() tea.Msg { return changedMsg{} })
}

func (m *LogsPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return nil, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return cmd, nil

	case changedMsg:
		m.reload()
		if !m.statusErr && !m.purging {
			m.status = ""
		}
		return nil, nil

	case engineErrMsg:
		m.setError(msg.err)
		return nil, nil

	case actionDoneMsg:
		if msg.err != nil {
			m.setError(msg.err)
		} else if msg.note != "" {
			m.setStatus(msg.note)
		}
		m.reload()
		return nil, nil

	case openedMsg:
		m.opening = false
		if msg.err != nil {
			m.setError(msg.err)
			return nil, nil
		}
		m.setStatus("Saved " + msg.path)
		return nil, &PageNav{PageID: PageViewer, Params: viewerParams{rec: msg.rec, path: msg.path, body: msg.body}}

	case purgeProgressMsg:
		m.setStatus(msg.progress.Message)
		return nil, nil

	case purgeDoneMsg:
		m.purging = false
		switch {
		case msg.err != nil:
			m.setError(fmt.Errorf("deleted %d logs before failing: %w", msg.deleted, msg.err))
		case msg.deleted == 0:
			m.setStatus("No logs found to delete.")
		default:
			m.setStatus(fmt.Sprintf("Successfully deleted %d logs.", msg.deleted))
		}
		m.reload()
		return nil, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return cmd, nil
}

func (m *LogsPage) handleKey(msg tea.KeyMsg) (tea.Cmd, *PageNav) {
	if key.Matches(msg, m.keys.ForceQuit) {
		return tea.Quit, nil
	}

	if m.searching {
		return m.handleSearchKey(msg), nil
	}

	if m.confirmDelete {
		m.confirmDelete = false
		if key.Matches(msg, m.keys.Confirm) {
			m.purging = true
			m.setStatus("Querying log IDs...")
			return m.deleteAllCmd(), nil
		}
		m.setStatus("Delete cancelled.")
		return nil, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit, nil

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.layout()

	case key.Matches(msg, m.keys.Escape):
		if m.showDetails {
			m.showDetails = false
			m.layout()
			return nil, nil
		}
		if m.engine.SearchFilter() != "" {
			m.search.SetValue("")
			return m.filterCmd(""), nil
		}

	case key.Matches(msg, m.keys.Search):
		m.searching = true
		m.search.SetValue(m.engine.SearchFilter())
		m.search.CursorEnd()
		return m.search.Focus(), nil

	case key.Matches(msg, m.keys.Refresh):
		if m.engine.IsRefreshing() {
			m.setStatus("Refresh already in progress")
			return nil, nil
		}
		return m.refreshCmd(), nil

	case key.Matches(msg, m.keys.Scope):
		return m.scopeCmd(!m.engine.Settings().CurrentUserOnly), nil

	case key.Matches(msg, m.keys.AutoRefresh):
		return m.autoRefreshCmd(!m.engine.Settings().AutoRefresh), nil

	case key.Matches(msg, m.keys.IntervalUp), key.Matches(msg, m.keys.IntervalDown):
		up := key.Matches(msg, m.keys.IntervalUp)
		return m.intervalCmd(nextInterval(m.engine.Settings().RefreshInterval, up)), nil

	case key.Matches(msg, m.keys.Details):
		m.showDetails = !m.showDetails
		m.layout()

	case key.Matches(msg, m.keys.DeleteAll):
		if m.purger == nil {
			m.setError(errors.New("delete-all is not available"))
			return nil, nil
		}
		if !m.purging {
			m.confirmDelete = true
		}

	case key.Matches(msg, m.keys.Enter):
		rec, ok := m.selected()
		if !ok || m.opening {
			return nil, nil
		}
		if m.saver == nil {
			m.setError(errors.New("opening logs is not available"))
			return nil, nil
		}
		m.opening = true
		m.setStatus("Opening " + rec.ID + "...")
		return m.openCmd(rec), nil

	default:
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return cmd, nil
	}
	return nil, nil
}

func (m *LogsPage) handleSearchKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Enter):
		m.searching = false
		m.search.Blur()
		return m.filterCmd(m.search.Value())
	case key.Matches(msg, m.keys.Escape):
		m.searching = false
		m.search.Blur()
		m.search.SetValue(m.engine.SearchFilter())
		return nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return cmd
}

// Filter changes notify subscribers, and the program's Send blocks while
// Update runs, so they are applied off the UI goroutine.
func (m *LogsPage) filterCmd(text string) tea.Cmd {
	engine := m.engine
	return func() tea.Msg {
		if text == "" {
			engine.ClearSearch()
		} else {
			engine.SetSearchFilter(text)
		}
		return changedMsg{}
	}
}

// Refresh errors reach the status line through the engine's error channel.
func (m *LogsPage) refreshCmd() tea.Cmd {
	ctx, engine := m.ctx, m.engine
	return func() tea.Msg {
		_ = engine.Refresh(ctx, false, true)
		return nil
	}
}

func (m *LogsPage) scopeCmd(currentUserOnly bool) tea.Cmd {
	ctx, engine := m.ctx, m.engine
	return func() tea.Msg {
		err := engine.SetCurrentUserOnly(ctx, currentUserOnly)
		note := "Showing logs from all users"
		if engine.Settings().CurrentUserOnly {
			note = "Showing my logs"
		}
		return actionDoneMsg{note: note, err: err}
	}
}

func (m *LogsPage) autoRefreshCmd(enabled bool) tea.Cmd {
	engine := m.engine
	return func() tea.Msg {
		err := engine.SetAutoRefresh(enabled)
		note := "Auto-refresh off"
		if enabled {
			note = "Auto-refresh on"
		}
		return actionDoneMsg{note: note, err: err}
	}
}

func (m *LogsPage) intervalCmd(d time.Duration) tea.Cmd {
	engine := m.engine
	return func() tea.Msg {
		err := engine.SetRefreshInterval(d)
		return actionDoneMsg{note: "Refresh interval " + d.String(), err: err}
	}
}

func (m *LogsPage) openCmd(rec model.LogRecord) tea.Cmd {
	ctx, saver := m.ctx, m.saver
	return func() tea.Msg {
		path, body, err := saver.Save(ctx, rec)
		return openedMsg{rec: rec, path: path, body: body, err: err}
	}
}

func (m *LogsPage) deleteAllCmd() tea.Cmd {
	ctx, purger, send := m.ctx, m.purger, m.send
	return func() tea.Msg {
		n, err := purger.DeleteAll(ctx, func(p purge.Progress) {
			if send != nil {
				send(purgeProgressMsg{progress: p})
			}
		})
		return purgeDoneMsg{deleted: n, err: err}
	}
}

// reload pulls the filtered set from the engine and rebuilds the rows.
func (m *LogsPage) reload() {
	m.records = m.engine.Filtered()
	m.table.SetRows(tableRows(m.records))
	if c := m.table.Cursor(); c >= len(m.records) {
		m.table.SetCursor(max(0, len(m.records)-1))
	}
}

func (m *LogsPage) selected() (model.LogRecord, bool) {
	idx := m.table.Cursor()
	if idx < 0 || idx >= len(m.records) {
		return model.LogRecord{}, false
	}
	return m.records[idx], true
}

func (m *LogsPage) setStatus(s string) {
	m.status = s
	m.statusErr = false
}

func (m *LogsPage) setError(err error) {
	logging.Debug().Err(err).Msg("tui: showing error")
	m.status = err.Error()
	m.statusErr = true
}
