package tui

import tea "github.com/charmbracelet/bubbletea"

// Page IDs.
const (
	PageLogs   = "logs"
	PageViewer = "viewer"
)

// Page represents a top-level screen in the TUI (log grid, log viewer).
type Page interface {
	ID() string
	Init() tea.Cmd
	Update(msg tea.Msg) (tea.Cmd, *PageNav)
	View(width, height int) string
}

// Opener is implemented by pages that take parameters when navigated to.
type Opener interface {
	Open(params interface{}) tea.Cmd
}

// PageNav is returned from Update to request a page switch.
type PageNav struct {
	PageID string
	Params interface{}
}
