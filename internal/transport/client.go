// Package transport is the HTTP client the agent uses to reach the remote
// collection service. Every call has a hard timeout and carries a request id.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"edge-telemetry-agent/internal/fault"
)

const maxBody = 64 * 1024

// Response is the status and body of a completed request.
type Response struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Client posts and fetches JSON documents relative to a base URL.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	log     *slog.Logger
}

// New returns a client for baseURL. timeout <= 0 defaults to 10s.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		log:     logger.With("component", "transport"),
	}
}

// PostJSON marshals body and posts it to path. Transport problems are wrapped
// with fault.ErrTransport; any HTTP status is returned as a Response.
func (c *Client) PostJSON(ctx context.Context, path string, body any) (Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal %s body: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, b)
}

// Get fetches path.
func (c *Client) Get(ctx context.Context, path string) (Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// do runs one request. It is detached from ctx cancellation so that an
// in-flight exchange always finishes (or times out) before control returns.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (Response, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	op := method + " " + path
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return Response{}, fmt.Errorf("build %s: %w", op, err)
	}
	reqID := uuid.New().String()
	req.Header.Set("X-Request-ID", reqID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("request failed", "op", op, "request_id", reqID, "err", err)
		return Response{}, fault.Transport(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Response{}, fault.Transport(op, fmt.Errorf("read body: %w", err))
	}
	c.log.Debug("request done", "op", op, "request_id", reqID, "status", resp.StatusCode, "elapsed", time.Since(start))
	return Response{Status: resp.StatusCode, Body: data}, nil
}

// Rejected converts a non-2xx response into a *fault.RejectedError.
func Rejected(r Response) error {
	body := strings.TrimSpace(string(r.Body))
	if len(body) > 256 {
		body = body[:256]
	}
	return &fault.RejectedError{Status: r.Status, Body: body}
}
