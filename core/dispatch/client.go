package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"batch-orchestrator/core/models"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 100 * time.Millisecond
)

// Client is the HTTP client for the job service.
type Client struct {
	logger      *slog.Logger
	baseURL     string
	endpoint    string
	httpClient  *http.Client
	maxAttempts int
	backoff     time.Duration
}

// NewClient creates a client for the given base URL and endpoint id.
func NewClient(logger *slog.Logger, baseURL, endpoint string) *Client {
	return &Client{
		logger:      logger,
		baseURL:     baseURL,
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
}

// Submit posts a job input and returns the assigned id.
func (c *Client) Submit(ctx context.Context, input models.JobInput) (string, error) {
	body, err := json.Marshal(map[string]interface{}{"input": input})
	if err != nil {
		return "", fmt.Errorf("encode input: %w", err)
	}

	url := fmt.Sprintf("%s/v2/%s/run", c.baseURL, c.endpoint)
	var resp struct {
		ID     string           `json:"id"`
		Status models.JobStatus `json:"status"`
	}
	if err := c.doWithRetry(ctx, http.MethodPost, url, body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("submit returned empty job id: %w", models.ErrTransport)
	}
	return resp.ID, nil
}

// Status fetches the current snapshot of a job.
func (c *Client) Status(ctx context.Context, id string) (models.Job, error) {
	url := fmt.Sprintf("%s/v2/%s/status/%s", c.baseURL, c.endpoint, id)
	var job models.Job
	if err := c.doWithRetry(ctx, http.MethodGet, url, nil, &job); err != nil {
		return models.Job{}, err
	}
	return job, nil
}

// Cancel requests cancellation and reports whether the job ended up
// CANCELLED. A job already running or terminal is not an error; the call
// simply returns false.
func (c *Client) Cancel(ctx context.Context, id string) (bool, error) {
	url := fmt.Sprintf("%s/v2/%s/cancel/%s", c.baseURL, c.endpoint, id)
	var resp struct {
		ID     string           `json:"id"`
		Status models.JobStatus `json:"status"`
	}
	if err := c.doWithRetry(ctx, http.MethodPost, url, nil, &resp); err != nil {
		return false, err
	}
	return resp.Status == models.StatusCancelled, nil
}

// Health checks that the service is reachable and reports ok.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doWithRetry(ctx, http.MethodGet, c.baseURL+"/health", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("service unhealthy (%q): %w", resp.Status, models.ErrTransport)
	}
	return nil
}

// Reset clears all jobs on the service.
func (c *Client) Reset(ctx context.Context) error {
	return c.doWithRetry(ctx, http.MethodPost, c.baseURL+"/reset", nil, nil)
}

// doWithRetry performs one round-trip, retrying connection failures and 5xx
// responses a bounded number of times with a doubling backoff. Client errors
// (4xx) are mapped to the error taxonomy and never retried.
func (c *Client) doWithRetry(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var lastErr error
	backoff := c.backoff

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		err := c.do(ctx, method, url, body, out)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
		c.logger.Warn("request failed, retrying", "method", method, "url", url, "attempt", attempt, "error", err)
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %v: %w", method, url, err, models.ErrTransport)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, url, models.ErrJobNotFound)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%s %s: status %d: %w", method, url, resp.StatusCode, models.ErrValidation)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s %s: status %d: %w", method, url, resp.StatusCode, models.ErrTransport)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %v: %w", err, models.ErrTransport)
	}
	return nil
}

func retryable(err error) bool {
	return errors.Is(err, models.ErrTransport)
}
