package ion

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/marcusv/ionbridge/internal/domain"
	"github.com/marcusv/ionbridge/internal/logger"
)

// QueryState is the remote query lifecycle state.
type QueryState string

const (
	StatePending   QueryState = "pending"
	StateRunning   QueryState = "running"
	StateCompleted QueryState = "completed"
	StateFailed    QueryState = "failed"
)

// QueryStatus is one poll observation of a submitted query.
type QueryStatus struct {
	State    QueryState
	Message  string
	Progress int
}

// Config holds client configuration for the DataFabric Compass API.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	PollInitial    time.Duration
	PollMax        time.Duration
	PollDeadline   time.Duration
}

// Client talks to the DataFabric Compass async SQL API. The protocol is
// always submit -> poll until terminal -> fetch; fetching before observing
// the completed state fails with ErrNotReady.
type Client struct {
	http         *resty.Client
	tokens       *TokenSource
	baseURL      string
	pollInitial  time.Duration
	pollMax      time.Duration
	pollDeadline time.Duration
	logger       *logger.Logger
}

// NewClient creates a Compass API client.
// Parameters:
//   - cfg: client configuration.
//   - tokens: OAuth2 token source; nil disables auth (tests).
//   - log: logger instance.
//
// Returns:
//   - *Client: initialized client.
func NewClient(cfg *Config, tokens *TokenSource, log *logger.Logger) *Client {
	httpClient := resty.New()
	httpClient.SetTimeout(cfg.RequestTimeout)
	httpClient.SetHeader("Content-Type", "application/json")

	return &Client{
		http:         httpClient,
		tokens:       tokens,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		pollInitial:  cfg.PollInitial,
		pollMax:      cfg.PollMax,
		pollDeadline: cfg.PollDeadline,
		logger:       log,
	}
}

// log returns a logger from context if available, otherwise the client's own.
func (c *Client) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return c.logger
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	req := c.http.R().SetContext(ctx)
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
		req.SetHeader("Authorization", "Bearer "+token)
	}
	return req, nil
}

type submitResponse struct {
	QueryID string `json:"queryId"`
	Message string `json:"message,omitempty"`
}

// Submit submits a SQL statement for asynchronous execution.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sql: statement to execute.
//
// Returns:
//   - string: query ID used for polling and fetching.
//   - error: *SubmissionError on transport/auth failure.
func (c *Client) Submit(ctx context.Context, sql string) (string, error) {
	req, err := c.request(ctx)
	if err != nil {
		return "", &SubmissionError{Message: err.Error()}
	}

	var result submitResponse
	resp, err := req.
		SetBody(map[string]string{"sqlQuery": sql}).
		SetResult(&result).
		Post(c.baseURL + "/v1/compass/jobs")

	if err != nil {
		return "", &SubmissionError{Message: err.Error()}
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", &SubmissionError{StatusCode: resp.StatusCode(), Message: string(resp.Body())}
	}
	if result.QueryID == "" {
		return "", &SubmissionError{StatusCode: resp.StatusCode(), Message: "response carried no query id"}
	}

	c.log(ctx).WithField("query_id", result.QueryID).Debug("Query submitted")

	return result.QueryID, nil
}

type statusResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Progress int    `json:"progress,omitempty"`
}

// PollStatus fetches the current state of a submitted query. It must be
// called repeatedly until a terminal state (completed or failed) is seen.
func (c *Client) PollStatus(ctx context.Context, queryID string) (*QueryStatus, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var result statusResponse
	resp, err := req.
		SetResult(&result).
		Get(c.baseURL + "/v1/compass/jobs/" + queryID + "/status")

	if err != nil {
		return nil, fmt.Errorf("failed to poll query %s: %w", queryID, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("status poll for query %s returned HTTP %d: %s",
			queryID, resp.StatusCode(), string(resp.Body()))
	}

	return &QueryStatus{
		State:    normalizeState(result.Status),
		Message:  result.Message,
		Progress: result.Progress,
	}, nil
}

// normalizeState maps remote status spellings onto our state set.
func normalizeState(s string) QueryState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "finished", "done":
		return StateCompleted
	case "failed", "error", "cancelled":
		return StateFailed
	case "running", "in_progress":
		return StateRunning
	default:
		return StatePending
	}
}

// WaitForCompletion polls a query with exponential backoff until it reaches
// a terminal state or the poll deadline elapses.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - queryID: query to wait on.
//
// Returns:
//   - error: *QueryFailedError if the query reached the failed state;
//     otherwise non-nil on poll transport failure or deadline expiry.
func (c *Client) WaitForCompletion(ctx context.Context, queryID string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInitial
	b.MaxInterval = c.pollMax
	b.MaxElapsedTime = c.pollDeadline

	operation := func() error {
		status, err := c.PollStatus(ctx, queryID)
		if err != nil {
			return err
		}
		switch status.State {
		case StateCompleted:
			return nil
		case StateFailed:
			return backoff.Permanent(&QueryFailedError{QueryID: queryID, Message: status.Message})
		default:
			return fmt.Errorf("query %s still %s", queryID, status.State)
		}
	}

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

type resultResponse struct {
	Rows []map[string]interface{} `json:"results"`
}

// FetchPage fetches one window of result rows. Only valid after the query
// has completed; the remote's not-ready responses map to ErrNotReady.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - queryID: completed query to read.
//   - offset: zero-based row offset.
//   - limit: maximum rows to return.
//
// Returns:
//   - []domain.RawRow: result rows (may be shorter than limit at end of data).
//   - error: ErrNotReady if the query is not complete yet.
func (c *Client) FetchPage(ctx context.Context, queryID string, offset, limit int64) ([]domain.RawRow, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var result resultResponse
	resp, err := req.
		SetQueryParams(map[string]string{
			"offset": strconv.FormatInt(offset, 10),
			"limit":  strconv.FormatInt(limit, 10),
		}).
		SetResult(&result).
		Get(c.baseURL + "/v1/compass/jobs/" + queryID + "/result")

	if err != nil {
		return nil, fmt.Errorf("failed to fetch page for query %s: %w", queryID, err)
	}
	if resp.StatusCode() == 409 || resp.StatusCode() == 425 {
		return nil, ErrNotReady
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("page fetch for query %s returned HTTP %d: %s",
			queryID, resp.StatusCode(), string(resp.Body()))
	}

	rows := make([]domain.RawRow, len(result.Rows))
	for i, r := range result.Rows {
		rows[i] = domain.RawRow(r)
	}
	return rows, nil
}

// RunQuery submits a statement, waits for completion, and fetches one page.
// This is the sequencing the engine relies on for every page.
func (c *Client) RunQuery(ctx context.Context, sql string, offset, limit int64) ([]domain.RawRow, error) {
	queryID, err := c.Submit(ctx, sql)
	if err != nil {
		return nil, err
	}
	if err := c.WaitForCompletion(ctx, queryID); err != nil {
		return nil, err
	}
	return c.FetchPage(ctx, queryID, offset, limit)
}

// Count runs a COUNT query and parses the single-cell result.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sql: COUNT statement (see BuildCountQuery).
//
// Returns:
//   - int64: the count.
//   - error: non-nil if the query fails or the count is unparseable.
func (c *Client) Count(ctx context.Context, sql string) (int64, error) {
	rows, err := c.RunQuery(ctx, sql, 0, 1)
	if err != nil {
		return 0, err
	}
	return ParseCount(rows)
}

// ParseCount extracts the count value from a COUNT(*) result row.
func ParseCount(rows []domain.RawRow) (int64, error) {
	if len(rows) == 0 {
		return 0, fmt.Errorf("count query returned no rows")
	}
	for _, v := range rows[0] {
		switch n := v.(type) {
		case float64:
			return int64(n), nil
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case string:
			parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("unparseable count value %q: %w", n, err)
			}
			return parsed, nil
		}
	}
	return 0, fmt.Errorf("count query row carried no usable value")
}
