package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxErrorBody caps how much of a failed response is read into an error.
const maxErrorBody = 64 << 10

// Client talks to the generate endpoint of the inference backend.
// It is safe for concurrent use. The endpoint can be swapped at runtime
// with SetEndpoint; in-flight streams keep the URL they were opened with.
type Client struct {
	config Config
	client *http.Client
	tracer trace.Tracer
	logger *slog.Logger

	mu       sync.RWMutex
	endpoint string

	health   Health
	healthMu sync.RWMutex

	stopHealthCheck    chan struct{}
	healthCheckStopped chan struct{}
	healthCheckStarted bool
	closeOnce          sync.Once
}

// NewClient creates a client with a pooled transport. An empty endpoint is
// accepted so the server can start before first-run setup has stored one;
// calls fail with ErrNoEndpoint until SetEndpoint is called.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint != "" {
		if err := validateEndpoint(cfg.Endpoint); err != nil {
			return nil, err
		}
	}
	if cfg.MaxRetries < 0 {
		return nil, &ConfigError{Field: "max_retries", Message: "must be >= 0"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	}

	return &Client{
		config: cfg,
		// No client-wide Timeout: it would cut long streams. Non-streaming
		// calls get a per-call deadline instead.
		client:   &http.Client{Transport: transport},
		tracer:   otel.Tracer("llamachat/inference"),
		logger:   slog.Default().With("component", "inference"),
		endpoint: cfg.Endpoint,
		health: Health{
			IsHealthy:             true,
			LastCheck:             time.Now(),
			LastSuccessfulRequest: time.Now(),
		},
		stopHealthCheck:    make(chan struct{}),
		healthCheckStopped: make(chan struct{}),
	}, nil
}

// Endpoint returns the current generate URL.
func (c *Client) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}

// SetEndpoint points the client at a new generate URL.
func (c *Client) SetEndpoint(endpoint string) error {
	if err := validateEndpoint(endpoint); err != nil {
		return err
	}

	c.mu.Lock()
	old := c.endpoint
	c.endpoint = endpoint
	c.mu.Unlock()

	if old != endpoint {
		c.logger.Info("inference endpoint changed", "old", old, "new", endpoint)
	}
	return nil
}

// Stream opens a streaming generate call. req.Stream is forced to true.
// The returned reader owns the response body and must be closed.
func (c *Client) Stream(ctx context.Context, req *GenerateRequest) (*StreamReader, error) {
	endpoint := c.Endpoint()
	if endpoint == "" {
		return nil, ErrNoEndpoint
	}

	body := *req
	body.Stream = true
	payload, err := json.Marshal(&body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, span := c.tracer.Start(ctx, "inference.stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", req.Model),
			attribute.Int("llm.prompt_length", len(req.Prompt)),
		),
	)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	c.logger.Debug("opening inference stream", "url", endpoint, "model", req.Model)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.recordRequest(false)
		err = c.transportError(ctx, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.recordRequest(false)
		err := errorFromResponse(resp, req.Model)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	c.recordRequest(true)
	c.updateHealth(true, nil)
	return NewStreamReader(resp.Body, c.config.MaxLineBytes), nil
}

// Generate performs a non-streaming call and returns the backend's JSON
// object unchanged. Connection failures and 5xx answers are retried with
// exponential backoff up to Config.MaxRetries times.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (json.RawMessage, error) {
	endpoint := c.Endpoint()
	if endpoint == "" {
		return nil, ErrNoEndpoint
	}

	body := *req
	body.Stream = false
	payload, err := json.Marshal(&body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, span := c.tracer.Start(ctx, "inference.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.model", req.Model)),
	)
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 250 * time.Millisecond
			c.logger.Debug("retrying generate request",
				"attempt", attempt,
				"max_retries", c.config.MaxRetries,
				"backoff", backoff,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		raw, retry, err := c.generateOnce(ctx, endpoint, payload, req.Model)
		if err == nil {
			c.recordRequest(true)
			c.updateHealth(true, nil)
			return raw, nil
		}

		c.recordRequest(false)
		lastErr = err
		if !retry {
			break
		}
		c.logger.Warn("generate request failed, will retry", "attempt", attempt+1, "error", err)
	}

	c.updateHealth(false, lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, lastErr
}

// generateOnce makes a single non-streaming attempt. retry reports whether
// the failure is worth another attempt.
func (c *Client) generateOnce(ctx context.Context, endpoint string, payload []byte, model string) (raw json.RawMessage, retry bool, err error) {
	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, c.transportError(callCtx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode >= 500, errorFromResponse(resp, model)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, &UpstreamError{Message: "failed to read response", Cause: err}
	}
	if !json.Valid(data) {
		return nil, false, &ParseError{RawResponse: truncate(string(data), 500), Cause: errors.New("response is not valid JSON")}
	}
	return json.RawMessage(data), false, nil
}

// Cancel asks the backend to stop the current generation. The backend may
// keep emitting fragments that were already in flight.
func (c *Client) Cancel(ctx context.Context) error {
	endpoint := c.Endpoint()
	if endpoint == "" {
		return ErrNoEndpoint
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	cancelURL := strings.TrimRight(endpoint, "/") + "/cancel"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cancelURL, strings.NewReader("{}"))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorFromResponse(resp, "")
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Info("generation cancel requested", "url", cancelURL)
	return nil
}

// Close stops the health checker and releases idle connections.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopHealthCheck)
		if c.healthCheckStarted {
			select {
			case <-c.healthCheckStopped:
			case <-time.After(5 * time.Second):
				c.logger.Warn("health checker did not stop in time")
			}
		}
		c.client.CloseIdleConnections()
	})
	return nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Timeout: c.config.Timeout}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &UpstreamError{Message: "failed to reach inference backend", Cause: err}
}

// errorFromResponse turns a non-2xx answer into a typed error and closes
// the body.
func errorFromResponse(resp *http.Response, model string) error {
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	message := strings.TrimSpace(string(data))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		message = body.Error
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusNotFound && model != "" {
		return &ModelNotFoundError{Model: model}
	}
	return &UpstreamError{StatusCode: resp.StatusCode, Message: message}
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return &ConfigError{Field: "endpoint", Message: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigError{Field: "endpoint", Message: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ConfigError{Field: "endpoint", Message: "host is required"}
	}
	return nil
}
