// Package request wraps the outbound HTTP calls issued by MAKE_REQUEST tool
// nodes with a hard timeout and response-shape validation.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/flowreply/flowreply/internal/models"
)

// DefaultTimeout is the hard upper bound on a single external call.
const DefaultTimeout = 20 * time.Second

// Result is the structured outcome of an external call. Failures are
// reported through it; the client never raises them to the caller.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Msg     string `json:"msg,omitempty"`
}

// Opts holds configuration options for the external call client.
type Opts struct {
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Option defines a configuration option for the external call client.
type Option func(*Opts)

// WithTimeout overrides the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithHTTPClient injects a custom HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client issues user-configured HTTP calls on behalf of flow nodes.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates an external call client, applying any provided options.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	slog.Debug("request.NewClient: client created", "timeout", cfg.Timeout)
	return &Client{httpClient: cfg.HTTPClient, timeout: cfg.Timeout}
}

// Do performs the call described by a MAKE_REQUEST node. Header and body
// field lists collapse into single mappings; GET and DELETE never carry a
// body. Any transport failure, non-2xx status, or non-object/array response
// body yields a failure Result; Do never panics or returns a Go error.
func (c *Client) Do(ctx context.Context, method, url string, body, headers []models.Field) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if method != http.MethodGet && method != http.MethodDelete && len(body) > 0 {
		encoded, err := json.Marshal(collapseFields(body))
		if err != nil {
			slog.Error("request.Do: failed to encode body", "error", err, "url", url)
			return Result{Success: false, Msg: err.Error()}
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		slog.Error("request.Do: failed to build request", "error", err, "method", method, "url", url)
		return Result{Success: false, Msg: err.Error()}
	}
	for key, value := range collapseFields(headers) {
		req.Header.Set(key, value)
	}
	if reqBody != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	slog.Debug("request.Do: issuing call", "method", method, "url", url, "header_count", len(headers))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("request.Do: call failed", "error", err, "method", method, "url", url)
		return Result{Success: false, Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("request.Do: non-2xx response", "status", resp.StatusCode, "url", url)
		return Result{Success: false, Msg: fmt.Sprintf("HTTP error %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("request.Do: failed to read response body", "error", err, "url", url)
		return Result{Success: false, Msg: err.Error()}
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		slog.Warn("request.Do: response is not valid JSON", "error", err, "url", url)
		return Result{Success: false, Msg: "Invalid response format"}
	}

	switch data.(type) {
	case map[string]any, []any:
		slog.Debug("request.Do: call succeeded", "method", method, "url", url, "status", resp.StatusCode)
		return Result{Success: true, Data: data}
	default:
		slog.Warn("request.Do: response is not an object or array", "url", url)
		return Result{Success: false, Msg: "Invalid response format"}
	}
}

// collapseFields converts an ordered field list into a single mapping.
// Later duplicates win.
func collapseFields(fields []models.Field) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}
