package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"resty.dev/v3"

	"marketrefresh/internal/clock"
	"marketrefresh/internal/ratelimit"
)

const (
	// Default client configuration
	defaultRequestsPerSecond = 5.0
	defaultTimeout           = 30 * time.Second
	defaultMaxAttempts       = 3
	defaultBackoffBase       = 1 * time.Second
	defaultBackoffMax        = 10 * time.Second
	defaultMaxElapsed        = 60 * time.Second
	defaultAPIKeyHeader      = "X-API-Key"

	// maxErrorBody bounds how much of an error response ends up in a FetchError message
	maxErrorBody = 200
)

// ClientConfig configures a Client for one upstream endpoint.
// Zero values fall back to the package defaults.
type ClientConfig struct {
	BaseURL           string
	APIKey            string
	APIKeyHeader      string
	RequestsPerSecond float64
	Timeout           time.Duration
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	// MaxElapsed caps the total time one Execute call may spend retrying.
	MaxElapsed time.Duration
	Headers    map[string]string
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.APIKeyHeader == "" {
		c.APIKeyHeader = defaultAPIKeyHeader
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = defaultRequestsPerSecond
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = defaultBackoffMax
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = defaultMaxElapsed
	}
	return c
}

// RetryHook is called before each retry with the attempt that just failed,
// the delay about to be slept and that attempt's error.
type RetryHook func(attempt int, delay time.Duration, err error)

// ClientOption customizes a Client
type ClientOption func(*Client)

// WithClock sets the time source used for pacing and backoff
func WithClock(c clock.Clock) ClientOption {
	return func(cl *Client) { cl.clock = c }
}

// WithLogger sets the logger used for retry diagnostics
func WithLogger(l zerolog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// WithRetryHook registers an additional retry hook
func WithRetryHook(h RetryHook) ClientOption {
	return func(cl *Client) { cl.hooks = append(cl.hooks, h) }
}

// WithTransport replaces the underlying HTTP round tripper
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(cl *Client) { cl.http.SetTransport(rt) }
}

// Request describes one logical request against the client's base URL
type Request struct {
	Method string
	Path   string
	Query  map[string]string
	// Result, when non-nil, receives the JSON-decoded 2xx body.
	Result any
}

// Response is a successful (2xx) upstream response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// URL is the final request URL after redirects.
	URL string
}

// Client performs paced, retrying requests against a single upstream endpoint.
// It is safe for concurrent use; all callers share the client's limiter.
type Client struct {
	cfg     ClientConfig
	http    *resty.Client
	limiter *ratelimit.Limiter
	clock   clock.Clock
	logger  zerolog.Logger
	hooks   []RetryHook
}

// NewClient creates a new rate-limited client with bounded exponential backoff
func NewClient(cfg ClientConfig, opts ...ClientOption) *Client {
	cfg = cfg.withDefaults()

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	for k, v := range cfg.Headers {
		httpClient.SetHeader(k, v)
	}
	if cfg.APIKey != "" {
		httpClient.SetHeader(cfg.APIKeyHeader, cfg.APIKey)
	}

	c := &Client{
		cfg:    cfg,
		http:   httpClient,
		clock:  clock.System{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.limiter = ratelimit.New(cfg.RequestsPerSecond, c.clock)
	c.hooks = append([]RetryHook{c.logRetry}, c.hooks...)

	return c
}

// Close releases idle connections held by the client
func (c *Client) Close() error {
	return c.http.Close()
}

// Config returns the effective configuration
func (c *Client) Config() ClientConfig {
	return c.cfg
}

// Execute performs req, retrying transient failures.
// The last attempt's error is returned unmodified; caller cancellation is
// returned as ctx.Err().
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	start := c.clock.Now()

	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.do(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !IsTransient(err) || attempt >= c.cfg.MaxAttempts {
			return nil, err
		}

		delay := Backoff(attempt, c.cfg.BackoffBase, c.cfg.BackoffMax)
		if c.clock.Now().Add(delay).Sub(start) > c.cfg.MaxElapsed {
			return nil, err
		}

		for _, h := range c.hooks {
			h(attempt, delay, err)
		}
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// do performs a single attempt
func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(req.Query).
		Execute(method, req.Path)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	body := resp.Bytes()
	if !resp.IsSuccess() {
		return nil, ClassifyHTTPError(resp.StatusCode(), truncate(string(body), maxErrorBody))
	}

	if req.Result != nil {
		if err := json.Unmarshal(body, req.Result); err != nil {
			return nil, NewDecodeError(err)
		}
	}

	out := &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       body,
	}
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		out.URL = resp.RawResponse.Request.URL.String()
	}
	return out, nil
}

// logRetry logs retry attempts for observability
func (c *Client) logRetry(attempt int, delay time.Duration, err error) {
	c.logger.Debug().
		Str("base_url", c.cfg.BaseURL).
		Int("attempt", attempt).
		Dur("delay", delay).
		Err(err).
		Msg("retrying request")
}

// Backoff returns the delay before attempt+1: min(max, base*2^(attempt-1))
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max || delay <= 0 {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func classifyTransportError(err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeoutError(err)
	}
	return NewNetworkError(err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
