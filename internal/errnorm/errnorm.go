// Package errnorm normalizes whatever an executor reports back (a bare
// exit status, a raw execution error, or anything else) into the
// canonical types.SerializedError the rest of the pipeline persists and
// forwards to the flow status updater.
package errnorm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/arcflow/jobresultproc/pkg/types"
)

// ansiEscape matches terminal color/control sequences that leak into
// captured logs; stripped before a log tail is embedded in an error
// message.
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// logTailMarker splits captured logs at the point execution output begins;
// only the segment after the last marker is kept, bounded to logTailLimit
// runes, matching the `right(logs, 600)` truncation done at read time.
const logTailMarker = "CODE EXECUTION ---"

const logTailLimit = 600

// ExecutorError is the closed set of ways an executor can fail. Exactly
// one field is meaningful per value; ExitStatus takes priority when set.
type ExecutorError struct {
	// ExitStatus is set when the executor process exited with a non-zero
	// status; Program names what ran, Code is the exit code.
	ExitStatus *ExitStatus

	// Raw is set when the executor already produced a fully-formed error
	// string that should be embedded verbatim, with no further
	// interpretation.
	Raw *string

	// Other is any other failure (spawn failure, internal panic, context
	// cancellation) that doesn't fit the two cases above.
	Other error
}

// ExitStatus describes a non-zero process exit.
type ExitStatus struct {
	Program string
	Code    int
}

// LogReader fetches the most recent log tail recorded for a job, mirroring
// the `SELECT right(logs, 600) FROM job_logs ... ORDER BY created_at DESC
// LIMIT 1` read. ReadResult returns the job_dir-cached result file content
// when the executor already wrote one, bypassing the log read entirely.
type LogReader interface {
	ReadResult(jobDir string) (string, bool)
	ReadLogTail(jobID, workspaceID string) (string, error)
}

// Result is what Normalize produces for a failed completion. Raw is set
// when the executor already wrote a result artifact to job_dir: that
// content is used as the completion's result verbatim, with no error
// wrapping. Otherwise Err carries the normalized SerializedError to wrap.
type Result struct {
	Raw json.RawMessage
	Err *types.SerializedError
}

// Normalize converts an ExecutorError into a Result, the one function
// every failed executor outcome routes through in the submitter.
func Normalize(ee ExecutorError, logs LogReader, jobDir, jobID, workspaceID string, stepID *string) Result {
	switch {
	case ee.ExitStatus != nil:
		return normalizeExitStatus(*ee.ExitStatus, logs, jobDir, jobID, workspaceID, stepID)
	case ee.Raw != nil:
		return Result{Err: &types.SerializedError{
			Message: *ee.Raw,
			Name:    "ExecutionErr",
			StepID:  stepID,
		}}
	default:
		msg := "execution error"
		if ee.Other != nil {
			msg = fmt.Sprintf("execution error:\n%+v", ee.Other)
		}
		return Result{Err: &types.SerializedError{
			Message: msg,
			Name:    "ExecutionErr",
			StepID:  stepID,
		}}
	}
}

func normalizeExitStatus(es ExitStatus, logs LogReader, jobDir, jobID, workspaceID string, stepID *string) Result {
	code := es.Code

	if content, ok := logs.ReadResult(jobDir); ok && content != "" {
		return Result{Raw: json.RawMessage(content)}
	}

	tail, err := logs.ReadLogTail(jobID, workspaceID)
	if err != nil || tail == "" {
		tail = "See logs for more details"
	}
	serialized := extractErrorValue(es.Program, lastSegment(tail), code, stepID)
	return Result{Err: &serialized}
}

// lastSegment keeps only the log content after the final execution-marker,
// the same behavior as taking the last `CODE EXECUTION ---` split segment.
func lastSegment(logs string) string {
	parts := strings.Split(logs, logTailMarker)
	return parts[len(parts)-1]
}

func extractErrorValue(program, logLines string, exitCode int, stepID *string) types.SerializedError {
	cleaned := strings.TrimSpace(ansiEscape.ReplaceAllString(logLines, ""))
	if runes := []rune(cleaned); len(runes) > logTailLimit {
		cleaned = string(runes[len(runes)-logTailLimit:])
	}

	msg := fmt.Sprintf("exit code for %q: %s, last log lines:\n%s", program, strconv.Itoa(exitCode), cleaned)
	code := exitCode
	return types.SerializedError{
		Message:  msg,
		Name:     "ExecutionErr",
		StepID:   stepID,
		ExitCode: &code,
	}
}
