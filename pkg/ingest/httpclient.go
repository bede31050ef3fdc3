package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/civiclens/mitds/pkg/model"
)

// Timeout tiers for upstream HTTP. Bulk covers multi-hundred-megabyte
// archive downloads.
const (
	connectTimeout  = 30 * time.Second
	readTimeout     = 120 * time.Second
	bulkReadTimeout = 300 * time.Second
)

// browserUserAgent is sent to endpoints that reject obvious bots
// (provincial elections portals). Default requests identify honestly.
const (
	defaultUserAgent = "mitds-ingest/1.0 (civiclens research; contact@civiclens.org)"
	browserUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
)

// Client wraps http.Client with the service rate limiter, fixed timeout
// tiers, Retry-After classification, and backoff retry.
type Client struct {
	http    *http.Client
	bulk    *http.Client
	limiter Limiter
	retry   RetryPolicy
	agent   string
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithBrowserAgent makes requests present a browser User-Agent.
func WithBrowserAgent() ClientOption {
	return func(c *Client) { c.agent = browserUserAgent }
}

// WithUserAgent sets an explicit User-Agent (SEC requires a contact
// address in it).
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.agent = ua }
}

// WithRetryPolicy overrides the default backoff.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// NewClient builds a rate-limited HTTP client for one service. A nil
// limiter disables gating (tests).
func NewClient(limiter Limiter, opts ...ClientOption) *Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	c := &Client{
		http:    &http.Client{Transport: transport, Timeout: readTimeout},
		bulk:    &http.Client{Transport: transport, Timeout: bulkReadTimeout},
		limiter: limiter,
		retry:   DefaultRetry,
		agent:   defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches url with rate limiting and retry, returning the body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return c.fetch(ctx, c.http, url, nil)
}

// GetBulk fetches a large archive with the extended read timeout.
func (c *Client) GetBulk(ctx context.Context, url string) ([]byte, error) {
	return c.fetch(ctx, c.bulk, url, nil)
}

// GetWithHeaders fetches url with extra request headers.
func (c *Client) GetWithHeaders(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	return c.fetch(ctx, c.http, url, headers)
}

// PostJSON posts a JSON payload with rate limiting and retry.
func (c *Client) PostJSON(ctx context.Context, url string, payload []byte, headers map[string]string) ([]byte, error) {
	var body []byte
	err := c.retry.Do(ctx, func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return &model.APIError{Code: model.CodeValidation, Message: err.Error()}
		}
		req.Header.Set("User-Agent", c.agent)
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return &model.APIError{Code: model.CodeTransientIO, Message: err.Error()}
		}
		defer resp.Body.Close()

		if err := classifyStatus(resp); err != nil {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return err
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return &model.APIError{Code: model.CodeTransientIO, Message: err.Error()}
		}
		return nil
	})
	return body, err
}

func (c *Client) fetch(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	var body []byte
	err := c.retry.Do(ctx, func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return &model.APIError{Code: model.CodeValidation, Message: err.Error()}
		}
		req.Header.Set("User-Agent", c.agent)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return &model.APIError{Code: model.CodeTransientIO, Message: err.Error()}
		}
		defer resp.Body.Close()

		if err := classifyStatus(resp); err != nil {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return err
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return &model.APIError{Code: model.CodeTransientIO, Message: err.Error()}
		}
		return nil
	})
	return body, err
}

// classifyStatus maps HTTP statuses onto the error taxonomy: 429 and
// 5xx retry, everything else >= 400 fails the record.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewRateLimitFromResponse(resp)
	case resp.StatusCode >= 500:
		return &model.APIError{
			Code:    model.CodeTransientIO,
			Message: fmt.Sprintf("upstream returned %s", resp.Status),
		}
	default:
		return &model.APIError{
			Code:    model.CodeRecord,
			Message: fmt.Sprintf("upstream returned %s", resp.Status),
			Details: map[string]string{"url": resp.Request.URL.String()},
		}
	}
}

// NewRateLimitFromResponse builds a rate-limit error honoring the
// Retry-After header (seconds form; a missing or bad header falls back
// to the backoff schedule).
func NewRateLimitFromResponse(resp *http.Response) *model.APIError {
	var after time.Duration
	if raw := resp.Header.Get("Retry-After"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			after = time.Duration(secs) * time.Second
		} else if t, err := http.ParseTime(raw); err == nil {
			if d := time.Until(t); d > 0 {
				after = d
			}
		}
	}
	return model.NewRateLimitError(after)
}
