// Package timeline persists an append-only audit trail of dispatch
// activity: every issued offer, applied transition, escalation and
// vendor timeout, one JSON line each.
package timeline

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Record is one audit line.
type Record struct {
	Timestamp  time.Time       `json:"timestamp"`
	Kind       string          `json:"kind"`
	IncidentID string          `json:"incident_id"`
	Detail     json.RawMessage `json:"detail,omitempty"`
}

// Query filters ReadBack results. Zero fields match everything.
type Query struct {
	Start      time.Time
	End        time.Time
	Kind       string
	IncidentID string
}

// Log appends audit records.
type Log interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}

// RotatingJSONL writes records to a JSONL file with size/age rotation.
type RotatingJSONL struct {
	logger *lumberjack.Logger
	path   string
}

// NewRotatingJSONL creates a log with rotation options in megabytes and
// days.
func NewRotatingJSONL(path string, maxSizeMB, maxBackups, maxAgeDays int) (*RotatingJSONL, error) {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &RotatingJSONL{logger: lj, path: path}, nil
}

// Append writes the record, rotating the file when needed.
func (l *RotatingJSONL) Append(_ context.Context, rec Record) error {
	enc := json.NewEncoder(l.logger)
	return enc.Encode(rec)
}

// Close flushes and closes the current file.
func (l *RotatingJSONL) Close() error { return l.logger.Close() }

// ReadBack scans the active file and returns matching records. Rotated
// files are not consulted; this serves the operational API, not
// long-term retention.
func (l *RotatingJSONL) ReadBack(_ context.Context, q Query) ([]Record, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var out []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && r.Timestamp.After(q.End) {
			continue
		}
		if q.Kind != "" && r.Kind != q.Kind {
			continue
		}
		if q.IncidentID != "" && r.IncidentID != q.IncidentID {
			continue
		}
		out = append(out, r)
	}
	return out, scanner.Err()
}
