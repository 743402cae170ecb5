package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"

	"mediaconv/pkg/models"
)

// Options configures a Reporter.
type Options struct {
	BaseURL      string
	WorkerID     string
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
	Logger       hclog.Logger
}

// Reporter forwards scheduler events and status reports to a remote
// collector over HTTP, retrying transient failures.
type Reporter struct {
	baseURL    string
	workerID   string
	httpClient *http.Client
	logger     hclog.Logger
}

// NewReporter creates a robust HTTP client with retries.
func NewReporter(opts Options) (*Reporter, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("report url is required")
	}
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid report url %q", opts.BaseURL)
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	logger := opts.Logger.Named("client")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 5 * time.Second
	if opts.RetryMax > 0 {
		retryClient.RetryMax = opts.RetryMax
	}
	if opts.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		retryClient.RetryWaitMax = opts.RetryWaitMax
	}
	retryClient.HTTPClient.Timeout = 10 * time.Second
	if opts.Timeout > 0 {
		retryClient.HTTPClient.Timeout = opts.Timeout
	}
	// hclog satisfies retryablehttp.LeveledLogger.
	retryClient.Logger = logger

	return &Reporter{
		baseURL:    base,
		workerID:   opts.WorkerID,
		httpClient: retryClient.StandardClient(),
		logger:     logger,
	}, nil
}

// WorkerID returns the identifier sent with every request.
func (c *Reporter) WorkerID() string {
	return c.workerID
}

// doRequest is the core HTTP request handler with error interception.
func (c *Reporter) doRequest(ctx context.Context, method, path string, payload any, response any) error {
	var body io.Reader
	if payload != nil {
		jsonBytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Worker-ID", c.workerID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// 404: the collector has no record of this worker and needs a new
	// registration.
	if resp.StatusCode == http.StatusNotFound {
		return &StateError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("API returned error status: %d", resp.StatusCode)
	}

	if response != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// StateError indicates the collector lost this worker's registration.
type StateError struct {
	StatusCode int
}

func (e *StateError) Error() string {
	return fmt.Sprintf("collector state error: status %d", e.StatusCode)
}

// IsStateError reports whether err calls for re-registration.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// Register declares the worker's capabilities. Called on startup and again
// whenever the collector reports lost state.
func (c *Reporter) Register(ctx context.Context, caps models.WorkerCapabilities) error {
	caps.WorkerID = c.workerID
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/workers/register", caps, nil); err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	c.logger.Info("registered with collector", "worker", c.workerID)
	return nil
}

// PublishStatus sends a heartbeat report.
func (c *Reporter) PublishStatus(ctx context.Context, report models.StatusReport) error {
	report.WorkerID = c.workerID
	path := fmt.Sprintf("/api/v1/workers/%s/status", url.PathEscape(c.workerID))
	if err := c.doRequest(ctx, http.MethodPost, path, report, nil); err != nil {
		if IsStateError(err) {
			return err
		}
		return fmt.Errorf("status report failed: %w", err)
	}
	return nil
}

// PublishEvent forwards a single scheduler event.
func (c *Reporter) PublishEvent(ctx context.Context, ev models.Event) error {
	path := fmt.Sprintf("/api/v1/workers/%s/events", url.PathEscape(c.workerID))
	if err := c.doRequest(ctx, http.MethodPost, path, ev, nil); err != nil {
		if IsStateError(err) {
			return err
		}
		return fmt.Errorf("event report failed: %w", err)
	}
	return nil
}
