package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
)

// maxReplyBytes caps how much of a backend reply is read.
const maxReplyBytes = 1 << 20

// ErrBackendStatus is returned when the backend answers with a non-2xx status.
var ErrBackendStatus = errors.New("workflow backend returned an error status")

// Client implements ports.Workflow over HTTP: POST <base>/<name> with {sessionId, ...payload}.
type Client struct {
	base    *url.URL
	http    *http.Client
	headers http.Header
	logger  *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout bounds every request made by the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithHeader adds a static header to every request (e.g. an API key).
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithLogger sets a structured logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a workflow client for the given base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid workflow base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid workflow base URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		base: u,
		http: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		headers: make(http.Header),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the URL a named trigger is posted to.
func (c *Client) Endpoint(name string) string {
	return c.base.JoinPath(name).String()
}

// Call posts the payload to the endpoint for name and decodes the reply.
func (c *Client) Call(ctx context.Context, name string, payload map[string]any) ([]domain.Descriptor, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(name), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s reply: %w", name, err)
	}

	c.logger.Debug("workflow call",
		"name", name,
		"status", resp.StatusCode,
		"duration", time.Since(start),
		"bytes", len(reply))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrBackendStatus, name, resp.StatusCode, truncate(string(reply), 200))
	}

	descriptors, errs := Decode(reply)
	for _, derr := range errs {
		c.logger.Warn("lenient decode of workflow reply", "name", name, "error", derr)
	}
	return descriptors, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
