package openf1

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultBaseURL  = "https://api.openf1.org"
	DefaultTokenURL = "https://api.openf1.org/token"
)

// ErrUnauthorized is matched by StatusError values carrying a 401.
var ErrUnauthorized = errors.New("openf1: unauthorized")

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openf1 %s: http %d", e.Endpoint, e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// RateLimiter is a shared fixed-window counter (see rediscache.RateLimiter).
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// RequestObserver is told about every HTTP attempt.
type RequestObserver func(endpoint string, statusCode int, err error)

type Client struct {
	baseURL string
	httpc   *http.Client

	tokens TokenSource
	retry  RetryPolicy
	sleep  Sleeper

	rl                 RateLimiter
	rateLimitPerMinute int64
	now                func() time.Time

	observe RequestObserver
}

func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
		retry:   DefaultRetryPolicy(),
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

// WithTokens attaches a bearer token to every data request.
func (c *Client) WithTokens(ts TokenSource) *Client {
	c.tokens = ts
	return c
}

func (c *Client) WithRetryPolicy(p RetryPolicy) *Client {
	c.retry = p
	return c
}

func (c *Client) WithSleeper(s Sleeper) *Client {
	if s != nil {
		c.sleep = s
	}
	return c
}

// WithRateLimiter caps upstream calls per minute across every process sharing
// rl. A request over the cap waits for the next minute window.
func (c *Client) WithRateLimiter(rl RateLimiter, perMinute int64) *Client {
	c.rl = rl
	c.rateLimitPerMinute = perMinute
	return c
}

func (c *Client) WithObserver(o RequestObserver) *Client {
	c.observe = o
	return c
}

// CheckAuth fetches a token once when tokens are enabled, so bad credentials
// fail the run before any data request is sent.
func (c *Client) CheckAuth(ctx context.Context) error {
	if c.tokens == nil {
		return nil
	}
	_, err := c.tokens.Token(ctx)
	return err
}

// Get fetches /v1/{endpoint} with the given filters and returns the raw
// records. The upstream returns the whole filtered set in one response.
func (c *Client) Get(ctx context.Context, endpoint string, filters ...Filter) ([]json.RawMessage, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/" + url.PathEscape(endpoint)
	u.RawQuery = encodeFilters(filters)
	target := u.String()

	var out []json.RawMessage
	err = c.retry.Do(ctx, c.sleep, func(ctx context.Context) error {
		recs, err := c.getOnce(ctx, endpoint, target)
		if c.observe != nil {
			code := 0
			var se *StatusError
			if errors.As(err, &se) {
				code = se.StatusCode
			} else if err == nil {
				code = http.StatusOK
			}
			c.observe(endpoint, code, err)
		}
		if err != nil {
			return err
		}
		out = recs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getOnce(ctx context.Context, endpoint, target string) ([]json.RawMessage, error) {
	if err := c.waitRateLimit(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
		c.tokens.Invalidate()
	}
	// OpenF1 answers 404 when a filter matches nothing.
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	var recs []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	return recs, nil
}

func (c *Client) waitRateLimit(ctx context.Context) error {
	if c.rl == nil || c.rateLimitPerMinute <= 0 {
		return nil
	}
	for {
		now := c.now().UTC()
		minuteKey := fmt.Sprintf("rl:openf1:%s", now.Format("200601021504"))
		allowed, n, err := c.rl.Allow(ctx, minuteKey, c.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			// The limiter is advisory; a Redis outage must not stop ingestion.
			slog.Warn("openf1 rate limiter", "error", err.Error())
			return nil
		}
		if allowed {
			return nil
		}
		wait := now.Truncate(time.Minute).Add(time.Minute).Sub(now)
		slog.Warn("openf1 rate limit exceeded", "count", n, "wait", wait.String())
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
}
