package delivery

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// fallbackTimeFormat is the UTC timestamp embedded in fallback file names.
const fallbackTimeFormat = "20060102_150405"

// FallbackGlob matches every fallback file in a directory.
const FallbackGlob = "trace_*.json"

// FallbackFileName returns the file name used for a failed delivery of runID.
// Names are unique per run, so concurrent writers never collide.
func FallbackFileName(runID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("trace_%s_%s.json", at.UTC().Format(fallbackTimeFormat), runID)
}

// writeFallback stores the exact request body under dir. The file appears
// atomically: it is written to a temp file and renamed into place.
func writeFallback(dir string, runID uuid.UUID, body []byte, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("delivery: create fallback dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".trace-*.tmp")
	if err != nil {
		return "", fmt.Errorf("delivery: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("delivery: write fallback file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("delivery: sync fallback file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("delivery: close fallback file: %w", err)
	}

	path := filepath.Join(dir, FallbackFileName(runID, at))
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return "", fmt.Errorf("delivery: rename fallback file: %w", err)
	}
	return path, nil
}
