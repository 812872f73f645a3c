package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// unhealthyAfter is the number of consecutive failures after which the
// upstream is reported unhealthy.
const unhealthyAfter = 3

// Endpoint is a metered upstream operation.
type Endpoint string

const (
	EndpointChat        Endpoint = "chat"
	EndpointCompletions Endpoint = "completions"
)

// ParseEndpoint parses an endpoint name.
func ParseEndpoint(s string) (Endpoint, error) {
	switch Endpoint(s) {
	case EndpointChat, EndpointCompletions:
		return Endpoint(s), nil
	default:
		return "", fmt.Errorf("unknown endpoint %q", s)
	}
}

// Config configures a Client.
type Config struct {
	// BaseURL is the upstream API base URL, e.g. https://api.openai.com.
	BaseURL string

	// ChatPath and CompletionsPath are appended to BaseURL.
	// Defaults: /v1/chat/completions, /v1/completions
	ChatPath        string
	CompletionsPath string

	// Timeout bounds a single forward, including reading the body.
	// Default: 60s
	Timeout time.Duration

	// AuthHeader carries the credential. When it is "Authorization" the
	// value is sent as a bearer token; any other header gets the raw key
	// (e.g. "x-api-key").
	// Default: Authorization
	AuthHeader string

	// Headers are added to every request (e.g. anthropic-version).
	Headers map[string]string

	// MaxResponseBytes caps the response body.
	// Default: 10 MiB
	MaxResponseBytes int64

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.ChatPath == "" {
		c.ChatPath = "/v1/chat/completions"
	}
	if c.CompletionsPath == "" {
		c.CompletionsPath = "/v1/completions"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.AuthHeader == "" {
		c.AuthHeader = "Authorization"
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = 10 << 20
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 100
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = 10
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = 90 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Request is one metered call to forward.
type Request struct {
	Endpoint Endpoint
	Body     []byte

	// APIKey is the upstream credential for this call.
	APIKey string

	// RequestID is propagated as X-Request-ID.
	RequestID string
}

// Response is a 2xx upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Usage      Usage

	// Model is the model the upstream reports having served, if any.
	Model string
}

// Health is a snapshot of the client's recent outcomes.
type Health struct {
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalRequests       int64     `json:"total_requests"`
	FailedRequests      int64     `json:"failed_requests"`
	LastError           string    `json:"last_error,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
}

// Client forwards requests to the upstream API over a pooled connection set.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu     sync.RWMutex
	health Health
}

// NewClient creates a Client.
func NewClient(cfg Config) (*Client, error) {
	cfg.applyDefaults()
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("upstream base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		logger: cfg.Logger.With("component", "upstream"),
		health: Health{Healthy: true},
	}, nil
}

// Timeout returns the configured forward timeout.
func (c *Client) Timeout() time.Duration {
	return c.cfg.Timeout
}

// URL returns the upstream URL of endpoint.
func (c *Client) URL(endpoint Endpoint) string {
	if endpoint == EndpointCompletions {
		return c.cfg.BaseURL + c.cfg.CompletionsPath
	}
	return c.cfg.BaseURL + c.cfg.ChatPath
}

// Forward sends req once, bounded by the configured timeout.
func (c *Client) Forward(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(req.Endpoint), bytes.NewReader(req.Body))
	if err != nil {
		return nil, &TransportError{Cause: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.APIKey != "" {
		if strings.EqualFold(c.cfg.AuthHeader, "Authorization") {
			httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
		} else {
			httpReq.Header.Set(c.cfg.AuthHeader, req.APIKey)
		}
	}
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	c.logger.DebugContext(ctx, "forwarding request",
		"endpoint", req.Endpoint,
		"request_id", req.RequestID,
	)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, c.fail(c.transportError(ctx, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes+1))
	if err != nil {
		return nil, c.fail(c.transportError(ctx, fmt.Errorf("failed to read response: %w", err)))
	}
	if int64(len(body)) > c.cfg.MaxResponseBytes {
		return nil, c.fail(&TransportError{
			Cause: fmt.Errorf("response body exceeds %d bytes", c.cfg.MaxResponseBytes),
		})
	}

	usage, model := parseEnvelope(body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := &ProviderError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body, resp.Status),
			Body:       body,
			Usage:      usage,
		}
		if resp.StatusCode >= 500 {
			c.fail(perr)
		} else {
			c.succeed()
		}
		c.logger.WarnContext(ctx, "upstream returned error status",
			"endpoint", req.Endpoint,
			"status", resp.StatusCode,
			"request_id", req.RequestID,
		)
		return nil, perr
	}

	c.succeed()
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Usage:      usage,
		Model:      model,
	}, nil
}

// Health returns a snapshot of recent outcomes.
func (c *Client) Health() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{After: c.cfg.Timeout}
	}
	return &TransportError{Cause: err}
}

func (c *Client) fail(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.health.TotalRequests++
	c.health.FailedRequests++
	c.health.ConsecutiveFailures++
	c.health.LastError = err.Error()
	if c.health.ConsecutiveFailures >= unhealthyAfter && c.health.Healthy {
		c.health.Healthy = false
		c.logger.Warn("upstream marked unhealthy",
			"consecutive_failures", c.health.ConsecutiveFailures,
			"error", err,
		)
	}
	return err
}

func (c *Client) succeed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.health.TotalRequests++
	c.health.ConsecutiveFailures = 0
	c.health.Healthy = true
	c.health.LastError = ""
	c.health.LastSuccess = time.Now()
}
