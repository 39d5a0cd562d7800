package comfy

import (
	"fmt"
	"strings"
	"time"
)

// SubmissionError reports a rejected workflow submission: a non-success
// status from /prompt, or a success response missing the tracking handle.
type SubmissionError struct {
	Status int
	Reason string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("workflow submission failed (status %d): %s", e.Status, e.Reason)
}

// ExecutionError reports a failure the server hit while processing a
// submitted workflow, carrying the server's message list.
type ExecutionError struct {
	Handle   string
	Messages []string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("workflow %s execution error: [%s]", e.Handle, strings.Join(e.Messages, ", "))
}

// EmptyOutputError reports a workflow that completed with a non-empty
// output set containing no image references: finished, nothing to show.
type EmptyOutputError struct {
	Handle string
}

func (e *EmptyOutputError) Error() string {
	return fmt.Sprintf("workflow %s completed but produced no images", e.Handle)
}

// TimeoutError reports that the polling deadline elapsed before the
// workflow resolved. The server-side job may still be running.
type TimeoutError struct {
	Handle  string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("workflow %s timed out after %s", e.Handle, e.Elapsed)
}

// FetchError reports a failed artifact retrieval from /view.
type FetchError struct {
	Status   int
	Filename string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed: HTTP %d", e.Filename, e.Status)
}
