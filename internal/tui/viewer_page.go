package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/sflogs/internal/model"
)

// viewerParams is passed to the viewer page when a log has been saved.
type viewerParams struct {
	rec  model.LogRecord
	path string
	body string
}

// ViewerPage shows one saved log body in a scrollable pane.
type ViewerPage struct {
	keys     KeyMap
	viewport viewport.Model
	params   viewerParams
}

func NewViewerPage() *ViewerPage {
	return &ViewerPage{
		keys:     DefaultKeyMap(),
		viewport: viewport.New(80, 20),
	}
}

func (v *ViewerPage) ID() string    { return PageViewer }
func (v *ViewerPage) Init() tea.Cmd { return nil }

// Open loads the log carried by params.
func (v *ViewerPage) Open(params interface{}) tea.Cmd {
	p, ok := params.(viewerParams)
	if !ok {
		return nil
	}
	v.params = p
	v.viewport.SetContent(p.body)
	v.viewport.GotoTop()
	return nil
}

func (v *ViewerPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		// Borders, header and status bar.
		v.viewport.Width = max(msg.Width-4, 10)
		v.viewport.Height = max(msg.Height-5, 3)
		return nil, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, v.keys.ForceQuit):
			return tea.Quit, nil
		case key.Matches(msg, v.keys.Escape), key.Matches(msg, v.keys.Quit):
			return nil, &PageNav{PageID: PageLogs}
		}
	}

	var cmd tea.Cmd
	v.viewport, cmd = v.viewport.Update(msg)
	return cmd, nil
}

func (v *ViewerPage) View(_, _ int) string {
	header := titleStyle.Render(fmt.Sprintf("%s  %s", v.params.rec.ID, v.params.rec.Operation))
	path := helpStyle.Render(v.params.path)

	pane := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBlue).
		Render(v.viewport.View())

	status := helpStyle.Render(strings.Join([]string{
		"up/down/Wheel: Scroll",
		"PgUp/PgDn: Page",
		fmt.Sprintf("%3.f%%", v.viewport.ScrollPercent()*100),
		"ESC/q: Back",
	}, " | "))

	return lipgloss.JoinVertical(lipgloss.Left, header, path, pane, status)
}
