// Package remote is the shared HTTP plumbing for the external hydrography and
// elevation services: rate limiting, retries and JSON decoding.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/watershed/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxBodyBytes caps response bodies. DEM grids for a large basin run to tens
// of megabytes.
const maxBodyBytes = 256 << 20

// Config configures a remote service client.
type Config struct {
	// Service names the endpoint in logs, errors and metrics.
	Service string
	BaseURL string
	// RatePerSecond limits outgoing requests. Zero disables limiting.
	RatePerSecond float64
	Burst         int
	Retry         retry.Config
	UserAgent     string
	// APIKey is sent as a bearer token when set.
	APIKey string
}

// Observer is notified of each finished request.
type Observer func(service string, err error, elapsed time.Duration)

// Client performs GET requests against one service.
type Client struct {
	cfg      Config
	base     *url.URL
	http     *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
	observer Observer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithObserver sets a callback invoked after every request.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// New creates a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s: base URL is required", cfg.Service)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid base URL: %w", cfg.Service, err)
	}
	cfg.Retry.ApplyDefaults()

	c := &Client{
		cfg:    cfg,
		base:   base,
		http:   &http.Client{},
		logger: zap.NewNop(),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.With(zap.String("service", cfg.Service))
	return c, nil
}

// Service returns the configured service name.
func (c *Client) Service() string {
	return c.cfg.Service
}

// URL joins path segments onto the base URL and attaches the query.
func (c *Client) URL(query url.Values, segments ...string) string {
	u := *c.base
	escaped := make([]string, 0, len(segments))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	u.RawPath = strings.TrimRight(c.base.EscapedPath(), "/") + "/" + strings.Join(escaped, "/")
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.Join(segments, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// GetJSON fetches rawURL and decodes a JSON body into out. It reports false
// when the service answered 404.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) (bool, error) {
	body, err := c.Get(ctx, rawURL)
	if err != nil {
		return false, err
	}
	if body == nil {
		return false, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("%s: failed to decode response: %w", c.cfg.Service, err)
	}
	return true, nil
}

// Get fetches rawURL with rate limiting and retries and returns the body.
// A 404 yields a nil body and nil error so callers can map it to their own
// domain miss.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	start := time.Now()
	err := retry.Do(ctx, c.cfg.Retry, c.logger, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
		}
		b, err := c.do(ctx, rawURL)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if c.observer != nil {
		c.observer(c.cfg.Service, err, time.Since(start))
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	c.logger.Debug("request", zap.String("url", rawURL))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", c.cfg.Service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", c.cfg.Service, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg := string(body)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, &retry.StatusError{Service: c.cfg.Service, Code: resp.StatusCode, Body: msg}
	}
	return body, nil
}
