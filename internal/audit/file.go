package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileSink writes one JSON file per event under a date-partitioned tree,
// audit/YYYY/MM/DD/<session>-<event>-<ts>.json, mirroring object-store audit
// layouts so the directory can be synced to a bucket as-is.
type FileSink struct {
	baseDir string
}

// NewFileSink ensures the base directory exists.
func NewFileSink(baseDir string) (*FileSink, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &FileSink{baseDir: baseDir}, nil
}

func (s *FileSink) Append(_ context.Context, event Event) error {
	dir := filepath.Join(s.baseDir, event.Timestamp.Format("2006/01/02"))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create audit partition: %w", err)
	}

	name := fmt.Sprintf("%s-%s-%s.json",
		event.SessionID, event.EventType, event.Timestamp.Format("20060102T150405.000000000Z"))

	raw, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, name), raw, 0o640); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// MemorySink collects events for tests.
type MemorySink struct {
	Events []Event
}

func (s *MemorySink) Append(_ context.Context, event Event) error {
	s.Events = append(s.Events, event)
	return nil
}

// NopSink discards events; used when auditing is disabled by configuration.
type NopSink struct{}

func (NopSink) Append(context.Context, Event) error { return nil }
