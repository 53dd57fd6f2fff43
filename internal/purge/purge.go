// Package purge deletes every debug log in the org in batches the remote
// API accepts, then reloads the engine.
package purge

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tinytelemetry/sflogs/internal/logging"
	"github.com/tinytelemetry/sflogs/internal/metrics"
	"github.com/tinytelemetry/sflogs/internal/model"
)

const listQuery = "SELECT Id FROM ApexLog"

// Progress reports how far a purge has got.
type Progress struct {
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// Refresher reloads the local view after the remote set changed.
type Refresher interface {
	Refresh(ctx context.Context, isInitialLoad, isManualRefresh bool) error
}

// Purger runs delete-all against one org.
type Purger struct {
	source    model.LogSource
	refresher Refresher
	batchSize int
	log       zerolog.Logger
}

// New returns a Purger. refresher may be nil.
func New(source model.LogSource, refresher Refresher) *Purger {
	return &Purger{
		source:    source,
		refresher: refresher,
		batchSize: model.DeleteBatchSize,
		log:       logging.With("purge"),
	}
}

// DeleteAll removes every log visible to the session and returns how many
// were deleted. On a failed batch it stops and returns the count deleted
// so far. progress may be nil.
func (p *Purger) DeleteAll(ctx context.Context, progress func(Progress)) (int, error) {
	report := func(pr Progress) {
		if progress != nil {
			progress(pr)
		}
	}

	report(Progress{Message: "Querying log IDs..."})
	rows, err := p.source.Query(ctx, listQuery)
	if err != nil {
		return 0, fmt.Errorf("list logs: %w", err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if rec := model.NewLogRecord(r); rec.ID != "" {
			ids = append(ids, rec.ID)
		}
	}

	total := len(ids)
	if total == 0 {
		report(Progress{Message: "No logs found to delete."})
		return 0, nil
	}
	report(Progress{Total: total, Message: fmt.Sprintf("Found %d logs. Deleting...", total)})

	deleted := 0
	for start := 0; start < total; start += p.batchSize {
		end := min(start+p.batchSize, total)
		report(Progress{
			Done:    deleted,
			Total:   total,
			Message: fmt.Sprintf("Deleting logs %d-%d of %d...", start+1, end, total),
		})
		if err := p.source.DeleteByIDs(ctx, ids[start:end]); err != nil {
			p.log.Error().Err(err).Int("deleted", deleted).Int("total", total).Msg("delete batch failed")
			return deleted, fmt.Errorf("delete logs %d-%d: %w", start+1, end, err)
		}
		deleted = end
		metrics.LogsDeleted.Add(float64(end - start))
	}

	report(Progress{Done: deleted, Total: total, Message: fmt.Sprintf("Successfully deleted %d logs.", deleted)})
	p.log.Info().Int("deleted", deleted).Msg("deleted all logs")

	if p.refresher != nil {
		// Refresh failures reach the engine's error subscribers.
		_ = p.refresher.Refresh(ctx, true, false)
	}
	return deleted, nil
}
