package model

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// salesforceTimeLayouts are tried in order when parsing StartTime.
// The Tooling API emits the first form; the others cover hand-built rows.
var salesforceTimeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
	time.RFC3339,
}

// NewLogRecord maps one raw ApexLog row into a LogRecord.
//
// Parsing is permissive: a missing or mistyped field becomes the zero value
// ("" or 0, zero time) instead of rejecting the row. Remote rows are
// occasionally partial and a single bad row must not fail a refresh.
func NewLogRecord(raw RawRecord) LogRecord {
	return LogRecord{
		ID:             stringField(raw, "Id"),
		User:           stringField(nestedMap(raw, "LogUser"), "Name"),
		Operation:      stringField(raw, "Operation"),
		Status:         stringField(raw, "Status"),
		SizeBytes:      nonNegative(intField(raw, "LogLength")),
		DurationMillis: nonNegative(intField(raw, "DurationMilliseconds")),
		StartTime:      ParseStartTime(stringField(raw, "StartTime")),
		Application:    stringField(raw, "Application"),
		Location:       stringField(raw, "Location"),
		Request:        stringField(raw, "Request"),
	}
}

// NewLogRecords maps rows in order.
func NewLogRecords(rows []RawRecord) []LogRecord {
	out := make([]LogRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, NewLogRecord(row))
	}
	return out
}

// ParseStartTime parses a remote timestamp, returning the zero time when
// the value is empty or unrecognised.
func ParseStartTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range salesforceTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nestedMap(raw RawRecord, key string) RawRecord {
	if raw == nil {
		return nil
	}
	switch v := raw[key].(type) {
	case map[string]interface{}:
		return RawRecord(v)
	case RawRecord:
		return v
	}
	return nil
}

func stringField(raw RawRecord, key string) string {
	if raw == nil {
		return ""
	}
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// int64er matches json.Number from both encoding/json and goccy/go-json.
type int64er interface {
	Int64() (int64, error)
}

func intField(raw RawRecord, key string) int64 {
	if raw == nil {
		return 0
	}
	switch v := raw[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int64(v)
	case float32:
		return int64(v)
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0
		}
		return n
	case int64er:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
