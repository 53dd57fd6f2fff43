package model

import (
	"fmt"
	"time"
)

// LogRecord is an immutable snapshot of one remote debug log.
// It is passed by value; nothing holds a pointer into the engine's set.
type LogRecord struct {
	ID             string
	User           string
	Operation      string
	Status         string
	SizeBytes      int64
	DurationMillis int64
	StartTime      time.Time
	Application    string
	Location       string
	Request        string
}

// Settings is the externally persisted configuration the engine reacts to.
type Settings struct {
	AutoRefresh     bool          `mapstructure:"auto-refresh" json:"autoRefresh"`
	RefreshInterval time.Duration `mapstructure:"refresh-interval" json:"refreshInterval"`
	CurrentUserOnly bool          `mapstructure:"current-user-only" json:"currentUserOnly"`
}

// DefaultSettings returns the settings used when nothing is persisted.
func DefaultSettings() Settings {
	return Settings{
		AutoRefresh:     DefaultAutoRefresh,
		RefreshInterval: DefaultRefreshInterval,
		CurrentUserOnly: DefaultCurrentUserOnly,
	}
}

// GridRow is the render-ready projection of a LogRecord.
type GridRow struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	Time      string `json:"time"`
	Status    string `json:"status"`
	Size      string `json:"size"`
	Operation string `json:"operation"`
	Duration  string `json:"duration"`
}

// Column describes one grid column for UI surfaces.
type Column struct {
	Label string `json:"label"`
	Field string `json:"field"`
	Width int    `json:"width"`
}

// Columns is the grid layout shared by the TUI and the webview.
var Columns = []Column{
	{Label: "User", Field: "user", Width: 150},
	{Label: "Time", Field: "time", Width: 100},
	{Label: "Status", Field: "status", Width: 80},
	{Label: "Size", Field: "size", Width: 80},
	{Label: "Operation", Field: "operation", Width: 400},
	{Label: "Duration", Field: "duration", Width: 100},
}

// GridRow projects the record for display. Times are rendered in the
// local zone as 24-hour HH:MM:SS.
func (r LogRecord) GridRow() GridRow {
	return GridRow{
		ID:        r.ID,
		User:      r.User,
		Time:      FormatClock(r.StartTime),
		Status:    r.Status,
		Size:      FormatSize(r.SizeBytes),
		Operation: r.Operation,
		Duration:  FormatDuration(r.DurationMillis),
	}
}

// FormatClock renders t as local HH:MM:SS.
func FormatClock(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.Local().Format("15:04:05")
}

// FormatSize renders a byte count in KB with one decimal.
func FormatSize(bytes int64) string {
	return fmt.Sprintf("%.1fKB", float64(bytes)/1024)
}

// FormatDuration renders milliseconds as "<n>ms".
func FormatDuration(ms int64) string {
	return fmt.Sprintf("%dms", ms)
}
