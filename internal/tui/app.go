package tui

import tea "github.com/charmbracelet/bubbletea"

// App is the top-level Bubble Tea model that routes between pages.
type App struct {
	pages      map[string]Page
	activePage string
	width      int
	height     int
}

// NewApp creates a new App with the given pages. The first page is the default.
func NewApp(pages ...Page) *App {
	pageMap := make(map[string]Page, len(pages))
	var firstID string
	for i, p := range pages {
		pageMap[p.ID()] = p
		if i == 0 {
			firstID = p.ID()
		}
	}
	return &App{
		pages:      pageMap,
		activePage: firstID,
	}
}

// ActivePage returns the ID of the page currently shown.
func (a *App) ActivePage() string {
	return a.activePage
}

func (a *App) Init() tea.Cmd {
	if p, ok := a.pages[a.activePage]; ok {
		return p.Init()
	}
	return nil
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// Every page tracks the terminal size, not only the visible one.
	if wsm, ok := msg.(tea.WindowSizeMsg); ok {
		a.width = wsm.Width
		a.height = wsm.Height
		var cmds []tea.Cmd
		for id, p := range a.pages {
			if id == a.activePage {
				continue
			}
			cmd, _ := p.Update(msg)
			cmds = append(cmds, cmd)
		}
		if p, ok := a.pages[a.activePage]; ok {
			cmd, nav := p.Update(msg)
			cmds = append(cmds, cmd, a.navigate(nav))
		}
		return a, tea.Batch(cmds...)
	}

	p, ok := a.pages[a.activePage]
	if !ok {
		return a, nil
	}

	cmd, nav := p.Update(msg)
	return a, tea.Batch(cmd, a.navigate(nav))
}

// navigate switches to nav.PageID and hands it nav.Params.
func (a *App) navigate(nav *PageNav) tea.Cmd {
	if nav == nil {
		return nil
	}
	target, exists := a.pages[nav.PageID]
	if !exists {
		return nil
	}
	a.activePage = nav.PageID

	var cmds []tea.Cmd
	if o, ok := target.(Opener); ok {
		cmds = append(cmds, o.Open(nav.Params))
	}
	if a.width > 0 {
		cmd, _ := target.Update(tea.WindowSizeMsg{Width: a.width, Height: a.height})
		cmds = append(cmds, cmd)
	}
	return tea.Batch(cmds...)
}

func (a *App) View() string {
	if p, ok := a.pages[a.activePage]; ok {
		return p.View(a.width, a.height)
	}
	return "No active page"
}
