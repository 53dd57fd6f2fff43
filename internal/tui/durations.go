package tui

import (
	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/sflogs/internal/model"
)

// renderDurations draws one bar per log duration, oldest on the left.
// records are newest first; only as many as fit in width are drawn.
func renderDurations(records []model.LogRecord, width, height int) string {
	if len(records) == 0 {
		return helpStyle.Render("No logs")
	}

	// One column per bar plus a one column gap.
	maxBars := max((width+1)/2, 1)
	n := min(len(records), maxBars)

	bc := barchart.New(width, height,
		barchart.WithBarGap(1),
		barchart.WithBarWidth(1),
		barchart.WithNoAxis(),
	)
	for i := n - 1; i >= 0; i-- {
		rec := records[i]
		color := statusColor(rec.Status)
		bc.Push(barchart.BarData{
			Label: "",
			Values: []barchart.BarValue{{
				Name:  rec.ID,
				Value: float64(rec.DurationMillis),
				Style: lipgloss.NewStyle().Foreground(color).Background(color),
			}},
		})
	}

	bc.Draw()
	return bc.View()
}
