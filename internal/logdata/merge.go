package logdata

import (
	"slices"
	"strings"

	"github.com/tinytelemetry/sflogs/internal/model"
)

// Reconcile folds a fetched batch into the existing set and applies
// retention. With fullReplace the existing set is discarded. Otherwise the
// result is the union keyed by id, where fetched records win on collision
// and records missing from the fetch are kept. Neither input is modified.
//
// An empty incremental fetch therefore keeps the prior set unchanged, and a
// manual refresh never drops rows deleted outside this process. Only a full
// replace (initial load, scope change, delete-all) forgets them.
func Reconcile(existing, fetched []model.LogRecord, fullReplace bool) []model.LogRecord {
	merged := make([]model.LogRecord, 0, len(fetched)+len(existing))
	index := make(map[string]int, len(fetched)+len(existing))

	put := func(r model.LogRecord, overwrite bool) {
		if i, ok := index[r.ID]; ok {
			if overwrite {
				merged[i] = r
			}
			return
		}
		index[r.ID] = len(merged)
		merged = append(merged, r)
	}

	for _, r := range fetched {
		put(r, true)
	}
	if !fullReplace {
		for _, r := range existing {
			put(r, false)
		}
	}
	return ApplyRetention(merged)
}

// ApplyRetention drops records whose operation is the empty marker, orders
// the rest newest first and keeps at most MaxLogRecords. It sorts in place.
func ApplyRetention(logs []model.LogRecord) []model.LogRecord {
	kept := logs[:0]
	for _, r := range logs {
		if r.Operation == model.EmptyOperation {
			continue
		}
		kept = append(kept, r)
	}
	slices.SortStableFunc(kept, func(a, b model.LogRecord) int {
		return b.StartTime.Compare(a.StartTime)
	})
	if len(kept) > model.MaxLogRecords {
		kept = kept[:model.MaxLogRecords]
	}
	return kept
}

// FilterLogs returns the records whose operation or user contains text,
// ignoring case. An empty text matches everything. The result never
// aliases logs.
func FilterLogs(logs []model.LogRecord, text string) []model.LogRecord {
	if text == "" {
		return slices.Clone(logs)
	}
	needle := strings.ToLower(text)
	out := make([]model.LogRecord, 0, len(logs))
	for _, r := range logs {
		if strings.Contains(strings.ToLower(r.Operation), needle) ||
			strings.Contains(strings.ToLower(r.User), needle) {
			out = append(out, r)
		}
	}
	return out
}

// GridRows projects records for display, preserving order.
func GridRows(logs []model.LogRecord) []model.GridRow {
	rows := make([]model.GridRow, len(logs))
	for i, r := range logs {
		rows[i] = r.GridRow()
	}
	return rows
}
