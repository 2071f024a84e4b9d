package docket

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the engine's failure taxonomy. Per-job failures
// wrap one of these; the run controller records them on the job and moves
// on, while infrastructure failures abort the run.
var (
	// ErrAuth indicates credentials are missing or the login flow failed.
	ErrAuth = errors.New("portal authentication failed")
	// ErrNavigationTimeout indicates a page navigation or wait exceeded its
	// deadline.
	ErrNavigationTimeout = errors.New("navigation timed out")
	// ErrPaginationStalled indicates the results table did not change after
	// triggering the next page within the configured timeout.
	ErrPaginationStalled = errors.New("pagination stalled: first row unchanged")
	// ErrModalTimeout indicates the document modal never reached the expected
	// state despite bounded retries.
	ErrModalTimeout = errors.New("document modal timed out")
	// ErrCaptureTimeout indicates neither the popup channel nor the response
	// channel fired before the capture deadline.
	ErrCaptureTimeout = errors.New("document capture timed out")
	// ErrNonPDFResponse indicates the captured body failed the PDF magic
	// check, typically an HTML login page from an expired session.
	ErrNonPDFResponse = errors.New("captured response is not a PDF")
	// ErrStorage indicates a blob store operation failed.
	ErrStorage = errors.New("blob storage operation failed")
	// ErrGlobalTimeout indicates the run-level watchdog budget was exceeded.
	ErrGlobalTimeout = errors.New("global run timeout exceeded")
)

// TitleMismatchError is the non-retryable semantic failure raised when the
// first search result's title does not normalize to the expected case name.
type TitleMismatchError struct {
	Expected string
	Found    string
}

func (e *TitleMismatchError) Error() string {
	return "Title mismatch / no matching result"
}

// TrackerAPIError reports a non-success response from the tracker service.
type TrackerAPIError struct {
	StatusCode int
	Body       string
}

func (e *TrackerAPIError) Error() string {
	return fmt.Sprintf("tracker api error %d: %s", e.StatusCode, e.Body)
}

// ErrorTextLimit caps the error text stored on a job record.
const ErrorTextLimit = 2000

// TruncateError shortens an error message for storage on a job record.
func TruncateError(err error, limit int) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if limit > 0 && len(msg) > limit {
		return msg[:limit]
	}
	return msg
}
