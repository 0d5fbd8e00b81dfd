// Package harness drives a running simulator over its control surface and
// observes the consumer under test, for use from integration tests.
package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"obsim/internal/depth"
)

const (
	DefaultRetries    = 50
	DefaultRetryDelay = 100 * time.Millisecond
	DefaultTimeout    = 10 * time.Second
)

// APIError is a non-2xx answer from the control surface.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("simulator error %d: %s", e.StatusCode, e.Message)
}

// Client talks to the simulator's HTTP control surface.
type Client struct {
	baseURL    string
	httpc      *http.Client
	logger     *slog.Logger
	retries    int
	retryDelay time.Duration
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpc = h }
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithRetry sets how often, and how far apart, requests that could not
// reach the server are attempted.
func WithRetry(attempts int, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.retries = attempts
		c.retryDelay = delay
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpc:      &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var v struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &v) == nil && v.Error != "" {
			apiErr.Message = v.Error
		}
		return nil, apiErr
	}
	return b, nil
}

// doWithRetry repeats the request while the server cannot be reached. Any
// answer from the server, error status included, ends the loop.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < max(c.retries, 1); attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				slog.Int("attempt", attempt+1),
				slog.String("path", path),
				slog.String("err", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
		b, err := c.doRequest(ctx, method, path, body)
		if err == nil {
			return b, nil
		}
		lastErr = err
		var apiErr *APIError
		if errors.As(err, &apiErr) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) call(ctx context.Context, method, path string, in, out any, retry bool) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
	}
	do := c.doRequest
	if retry {
		do = c.doWithRetry
	}
	b, err := do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}

func (c *Client) IsRunning(ctx context.Context) (bool, error) {
	var v struct {
		Running bool `json:"running"`
	}
	err := c.call(ctx, http.MethodGet, "/isRunning", nil, &v, false)
	return v.Running, err
}

// WaitUntilRunning polls /isRunning, riding out connection errors while the
// simulator starts, until it reports running.
func (c *Client) WaitUntilRunning(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		var v struct {
			Running bool `json:"running"`
		}
		if err := c.call(ctx, http.MethodGet, "/isRunning", nil, &v, true); err != nil {
			return err
		}
		if v.Running {
			return nil
		}
		if attempt >= max(c.retries, 1) {
			return errors.New("simulator never reported running")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
}

// Snapshot fetches the simulator's book. On demand this blocks until the
// harness calls ReleasePendingSnapshots.
func (c *Client) Snapshot(ctx context.Context) (depth.Snapshot, error) {
	b, err := c.doRequest(ctx, http.MethodGet, "/snapshot", nil)
	if err != nil {
		return depth.Snapshot{}, err
	}
	return depth.DecodeSnapshot(b)
}

func (c *Client) SetSnapshot(ctx context.Context, s depth.Snapshot) error {
	return c.call(ctx, http.MethodPost, "/setSnapshot", s.Message(), nil, false)
}

type levelBody struct {
	IsBid string `json:"isBid"`
	Price string `json:"price"`
	Size  string `json:"size,omitempty"`
}

func sideFlag(s depth.Side) string {
	if s == depth.Bid {
		return "True"
	}
	return "False"
}

func (c *Client) AddLevel(ctx context.Context, s depth.Side, price, size decimal.Decimal) (depth.DiffEntry, error) {
	var v struct {
		Entry depth.DiffEntry `json:"entry"`
	}
	in := levelBody{IsBid: sideFlag(s), Price: price.String(), Size: size.String()}
	err := c.call(ctx, http.MethodPost, "/addLevel", in, &v, false)
	return v.Entry, err
}

// RemoveLevel reports whether the price was on the book.
func (c *Client) RemoveLevel(ctx context.Context, s depth.Side, price decimal.Decimal) (bool, error) {
	var v struct {
		Found bool `json:"found"`
	}
	in := levelBody{IsBid: sideFlag(s), Price: price.String()}
	err := c.call(ctx, http.MethodPost, "/removeLevel", in, &v, false)
	return v.Found, err
}

// SendIncrementalUpdate flushes buffered diffs to the subscriber. sent is
// false when nothing was buffered.
func (c *Client) SendIncrementalUpdate(ctx context.Context) (inc depth.Increment, sent bool, err error) {
	var v struct {
		Sent      bool                   `json:"sent"`
		Increment *depth.IncrementMessage `json:"increment"`
	}
	if err := c.call(ctx, http.MethodGet, "/sendIncrementalUpdate", nil, &v, false); err != nil {
		return depth.Increment{}, false, err
	}
	if !v.Sent || v.Increment == nil {
		return depth.Increment{}, false, nil
	}
	return v.Increment.Increment(), true, nil
}

func (c *Client) DisconnectSubscriber(ctx context.Context) (bool, error) {
	var v struct {
		Disconnected bool `json:"disconnected"`
	}
	err := c.call(ctx, http.MethodPost, "/disconnectSubscriber", nil, &v, false)
	return v.Disconnected, err
}

func (c *Client) SubscriberCount(ctx context.Context) (int, error) {
	var v struct {
		Count int `json:"count"`
	}
	err := c.call(ctx, http.MethodGet, "/subscriberCount", nil, &v, false)
	return v.Count, err
}

// ReleasePendingSnapshots unblocks every waiting snapshot request and
// returns how many there were.
func (c *Client) ReleasePendingSnapshots(ctx context.Context) (int, error) {
	var v struct {
		Released int `json:"released"`
	}
	err := c.call(ctx, http.MethodGet, "/processPendingSnapshotRequests", nil, &v, false)
	return v.Released, err
}
