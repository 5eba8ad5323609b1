// Package bench captures per-iteration completion-processing timings when
// built with the "benchmark" tag, and flushes them to a JSON file on
// shutdown using an atomic temp-file-then-rename write so a crash mid
// flush never leaves a corrupted file behind.
//
// The real and no-op implementations share this file's Info type; only
// the recording behavior differs between bench_enabled.go and
// bench_disabled.go, selected at compile time the way a Cargo feature
// flag would be.
package bench

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Iter is one recorded duration, identified by the stage it measures.
type Iter struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
}

// Info is the full set of recorded iterations for one process run.
type Info struct {
	Iters []Iter `json:"iters"`
}

// WriteFile atomically writes bench info to path: write to path+".tmp",
// then rename over path.
func WriteFile(path string, info Info) error {
	jsonBytes, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("bench: marshaling: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonBytes, 0o644); err != nil {
		return fmt.Errorf("bench: writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("bench: renaming temp file: %w", err)
	}
	return nil
}
