package chart

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrNotFound is returned by BlobStore.Get when the key does not exist.
var ErrNotFound = errors.New("blob not found")

// ExtractionError describes one chart row that could not be parsed.
type ExtractionError struct {
	Index  int
	Reason string
}

func (e ExtractionError) Error() string {
	return fmt.Sprintf("extract row %d: %s", e.Index, e.Reason)
}

// FetchError reports a failed page retrieval for one chart week.
type FetchError struct {
	ChartID    string
	Date       time.Time
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s %s: status %d", e.ChartID, FormatDate(e.Date), e.StatusCode)
	}
	return fmt.Sprintf("fetch %s %s: %v", e.ChartID, FormatDate(e.Date), e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the fetch failed because a deadline elapsed.
func (e *FetchError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// MergeError reports a failure to fold a snapshot into a historical dataset.
type MergeError struct {
	ChartID string
	Key     string
	Op      string
	Err     error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge %s into %s: %s: %v", e.ChartID, e.Key, e.Op, e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// CredentialsError means the object store rejected or lacks credentials.
// It halts the whole batch.
type CredentialsError struct {
	Backend string
	Err     error
}

func (e *CredentialsError) Error() string {
	return fmt.Sprintf("%s credentials: %v", e.Backend, e.Err)
}

func (e *CredentialsError) Unwrap() error {
	return e.Err
}

// IsCredentials reports whether err carries a CredentialsError.
func IsCredentials(err error) bool {
	var credErr *CredentialsError
	return errors.As(err, &credErr)
}
