package ion

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned when a result page is requested before the remote
// query has reached the completed state.
var ErrNotReady = errors.New("query result not ready")

// SubmissionError indicates the remote service rejected a query submission
// (transport or auth failure, or a non-2xx response).
type SubmissionError struct {
	StatusCode int
	Message    string
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("query submission failed: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("query submission failed: %s", e.Message)
}

// QueryFailedError indicates the remote query reached the failed terminal
// state. It poisons the page being fetched, not the whole job.
type QueryFailedError struct {
	QueryID string
	Message string
}

func (e *QueryFailedError) Error() string {
	return fmt.Sprintf("query %s failed: %s", e.QueryID, e.Message)
}
