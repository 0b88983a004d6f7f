package ingest

import (
	"errors"
	"fmt"
)

// FetchError indicates a network or timeout failure while retrieving a page
// or a media asset. Retryable.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractError indicates the rendered markup did not have the expected shape.
// The item is skipped and counted; the run continues.
type ExtractError struct {
	URL    string
	Reason string
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %s", e.URL, e.Reason)
}

// StorageError indicates an object-store head or put failure. Retryable.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ExhaustedRetriesError marks a job that burned through its retry budget and
// was routed to the dead-letter queue. Terminal.
type ExhaustedRetriesError struct {
	JobID   string
	Retries int
	LastErr string
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("job %s exhausted %d retries: %s", e.JobID, e.Retries, e.LastErr)
}

// IsRetryable reports whether the error class is worth another attempt.
// Extraction failures are deterministic and exhausted jobs are terminal;
// everything else is assumed transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ext *ExtractError
	if errors.As(err, &ext) {
		return false
	}
	var exh *ExhaustedRetriesError
	return !errors.As(err, &exh)
}
