// Package logviewer downloads log bodies, tidies them for reading and
// saves them under <dir>/.logs.
package logviewer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tinytelemetry/sflogs/internal/logging"
	"github.com/tinytelemetry/sflogs/internal/model"
)

// managedPkgRun matches consecutive ENTERING_MANAGED_PKG lines. The
// replacement keeps the last line of each run.
var managedPkgRun = regexp.MustCompile(`(?m)(^[0-9:.() ]+\|ENTERING_MANAGED_PKG\|.*\n)+`)

// FormatLog collapses runs of ENTERING_MANAGED_PKG lines into one.
func FormatLog(body string) string {
	return managedPkgRun.ReplaceAllString(body, "$1")
}

// FileName returns MM-dd-yyyy_HH-mm-ss_<id>.log for rec, using local time.
func FileName(rec model.LogRecord, now time.Time) string {
	t := rec.StartTime
	if t.IsZero() {
		t = now
	}
	return t.Local().Format("01-02-2006_15-04-05") + "_" + rec.ID + ".log"
}

// Viewer fetches and stores log bodies.
type Viewer struct {
	source model.LogSource
	dir    string
	now    func() time.Time
}

// New returns a Viewer writing under baseDir/.logs. An empty baseDir uses
// the working directory.
func New(source model.LogSource, baseDir string) *Viewer {
	if baseDir == "" {
		baseDir = "."
	}
	return &Viewer{source: source, dir: filepath.Join(baseDir, ".logs"), now: time.Now}
}

// LogsPath returns the directory logs are saved to.
func (v *Viewer) LogsPath() string {
	return v.dir
}

// Body fetches and formats the body of one log.
func (v *Viewer) Body(ctx context.Context, logID string) (string, error) {
	body, err := v.source.FetchBody(ctx, logID)
	if err != nil {
		return "", fmt.Errorf("fetch log %s: %w", logID, err)
	}
	return FormatLog(body), nil
}

// Save fetches the body of rec, formats it and writes it to disk. It
// returns the written path and the formatted body.
func (v *Viewer) Save(ctx context.Context, rec model.LogRecord) (string, string, error) {
	body, err := v.Body(ctx, rec.ID)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(v.dir, 0755); err != nil {
		return "", "", fmt.Errorf("create logs dir: %w", err)
	}
	path := filepath.Join(v.dir, FileName(rec, v.now()))
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return "", "", fmt.Errorf("write log: %w", err)
	}
	logging.Debug().Str("path", path).Int("bytes", len(body)).Msg("logviewer: saved log")
	return path, body, nil
}
