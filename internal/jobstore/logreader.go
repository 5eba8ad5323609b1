package jobstore

import (
	"context"
	"os"
	"path/filepath"
)

// LogReader adapts Store to errnorm.LogReader, whose signature predates
// context plumbing: the error normalizer runs synchronously inside
// completion processing, so a plain background context (no deadline)
// stands in for a caller-supplied one.
type LogReader struct {
	Store *Store
}

// ReadResult checks for a cached result file the executor may have
// written directly into the job's working directory, bypassing the log
// tail entirely when present.
func (r LogReader) ReadResult(jobDir string) (string, bool) {
	if jobDir == "" {
		return "", false
	}
	content, err := os.ReadFile(filepath.Join(jobDir, "result.json"))
	if err != nil {
		return "", false
	}
	return string(content), true
}

// ReadLogTail delegates to the Postgres-backed log tail query.
func (r LogReader) ReadLogTail(jobID, workspaceID string) (string, error) {
	return r.Store.ReadLogTail(context.Background(), jobID, workspaceID)
}
