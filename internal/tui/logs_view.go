package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/sflogs/internal/model"
)

const (
	// maxOperationLen is where the grid cuts long operation names.
	maxOperationLen = 50

	chartHeight   = 6
	detailsHeight = 9
	// minChartScreen is the terminal height below which the chart is hidden.
	minChartScreen = 28
)

// truncateOperation shortens op to maxOperationLen runes plus "...".
func truncateOperation(op string) string {
	r := []rune(op)
	if len(r) <= maxOperationLen {
		return op
	}
	return string(r[:maxOperationLen]) + "..."
}

// columnsFor sizes the grid columns for a terminal width. Operation takes
// whatever the fixed columns leave, up to a truncated name.
func columnsFor(width int) []table.Column {
	cols := make([]table.Column, len(model.Columns))
	used := 0
	opIdx := -1
	for i, c := range model.Columns {
		cols[i] = table.Column{Title: c.Label, Width: c.Width / 8}
		if c.Field == "operation" {
			opIdx = i
			continue
		}
		used += cols[i].Width
	}
	if opIdx >= 0 {
		// Each cell carries one column of padding on both sides.
		avail := width - used - 2*len(cols)
		cols[opIdx].Width = min(max(avail, 10), maxOperationLen+3)
	}
	return cols
}

func tableRows(records []model.LogRecord) []table.Row {
	rows := make([]table.Row, len(records))
	for i, rec := range records {
		g := rec.GridRow()
		rows[i] = table.Row{g.User, g.Time, g.Status, g.Size, truncateOperation(g.Operation), g.Duration}
	}
	return rows
}

// layout resizes the table to whatever the header, chart, details and
// footer leave.
func (m *LogsPage) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}
	m.help.Width = m.width
	m.table.SetColumns(columnsFor(m.width))
	m.table.SetWidth(m.width)

	reserved := 2 + 2 // title + search line, status + help
	if m.help.ShowAll {
		reserved += 4
	}
	if m.showChart() {
		reserved += chartHeight + 3
	}
	if m.showDetails {
		reserved += detailsHeight + 2
	}
	m.table.SetHeight(max(3, m.height-reserved))
}

func (m *LogsPage) showChart() bool {
	return m.height >= minChartScreen
}

func (m *LogsPage) View(width, _ int) string {
	if width == 0 {
		width = m.width
	}

	parts := []string{m.renderTitle(width), m.renderSearch()}
	parts = append(parts, m.table.View())

	switch {
	case m.confirmDelete:
		parts = append(parts, m.renderConfirm(width))
	case m.showDetails:
		if rec, ok := m.selected(); ok {
			parts = append(parts, renderDetails(rec, width))
		}
	}
	if m.showChart() && !m.confirmDelete {
		parts = append(parts, m.renderChart(width))
	}

	parts = append(parts, m.renderStatusLine(width), m.help.View(m.keys))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *LogsPage) renderTitle(width int) string {
	title := titleStyle.Render("Apex Debug Logs")
	if m.engine.IsRefreshing() || m.purging || m.opening {
		title += " " + m.spinner.View()
	}
	right := helpStyle.Render(m.scopeLabel())
	gap := width - lipgloss.Width(title) - lipgloss.Width(right)
	if gap < 1 {
		return title
	}
	return title + strings.Repeat(" ", gap) + right
}

func (m *LogsPage) renderSearch() string {
	if m.searching {
		return m.search.View()
	}
	if text := m.engine.SearchFilter(); text != "" {
		return fmt.Sprintf("Filter: %s %s", text, helpStyle.Render("(esc to clear)"))
	}
	return helpStyle.Render("Press / to filter by operation or user")
}

func (m *LogsPage) scopeLabel() string {
	if m.engine.Settings().CurrentUserOnly {
		return "My logs"
	}
	return "All users"
}

func (m *LogsPage) renderChart(width int) string {
	inner := max(width-4, 4)
	var maxMs int64
	for _, r := range m.records {
		maxMs = max(maxMs, r.DurationMillis)
	}
	header := helpStyle.Render(fmt.Sprintf("Duration (max %s)", model.FormatDuration(maxMs)))
	body := renderDurations(m.records, inner, chartHeight)
	return sectionStyle.Width(inner).Render(lipgloss.JoinVertical(lipgloss.Left, header, body))
}

func (m *LogsPage) renderConfirm(width int) string {
	n := len(m.engine.Filtered())
	text := fmt.Sprintf("Delete ALL debug logs in the org? %d are shown here.\n\ny: delete   any other key: cancel", n)
	return lipgloss.PlaceHorizontal(width, lipgloss.Center, confirmStyle.Render(text))
}

// renderDetails renders the detail panel for one record.
func renderDetails(rec model.LogRecord, width int) string {
	timeText := "--"
	if !rec.StartTime.IsZero() {
		timeText = rec.StartTime.Local().Format("2006-01-02 15:04:05")
	}
	lines := []struct{ label, value string }{
		{"User", rec.User},
		{"Operation", rec.Operation},
		{"Time", timeText},
		{"Duration", model.FormatDuration(rec.DurationMillis)},
		{"Application", rec.Application},
		{"Request", rec.Request},
		{"Status", lipgloss.NewStyle().Foreground(statusColor(rec.Status)).Render(rec.Status)},
		{"Size", model.FormatSize(rec.SizeBytes)},
		{"ID", rec.ID},
	}
	rendered := make([]string, len(lines))
	for i, l := range lines {
		rendered[i] = labelStyle.Render(l.label) + l.value
	}
	return sectionStyle.Width(max(width-4, 10)).Render(strings.Join(rendered, "\n"))
}

func (m *LogsPage) renderStatusLine(width int) string {
	cfg := m.engine.Settings()

	auto := "auto off"
	if cfg.AutoRefresh {
		auto = "auto " + cfg.RefreshInterval.String()
	}
	last := "never"
	if t := m.engine.LastRefresh(); !t.IsZero() {
		last = model.FormatClock(t)
	}
	left := fmt.Sprintf(" %d logs • %s • last refresh %s ", len(m.records), auto, last)

	right := m.status
	if right != "" {
		if m.statusErr {
			right = errorStyle.Background(ColorNavy).Render(right)
		} else {
			right = statusBarStyle.Render(right)
		}
	}

	leftRendered := statusBarStyle.Render(left)
	gap := width - lipgloss.Width(leftRendered) - lipgloss.Width(right) - 1
	if gap < 0 {
		return leftRendered
	}
	return leftRendered + statusBarStyle.Render(strings.Repeat(" ", gap)) + right + statusBarStyle.Render(" ")
}
