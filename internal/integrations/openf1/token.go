package openf1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// tokenSafetyMargin: a cached token is refreshed this long before it expires.
const tokenSafetyMargin = 60 * time.Second

// TokenSource hands out bearer tokens for the data endpoints.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// TokenProvider exchanges username/password for an access token and caches
// it until shortly before expiry. Safe for concurrent use: at most one
// refresh request is in flight.
type TokenProvider struct {
	tokenURL string
	username string
	password string
	httpc    *http.Client
	now      func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewTokenProvider(tokenURL, username, password string, timeout time.Duration) (*TokenProvider, error) {
	if tokenURL == "" {
		return nil, errors.New("openf1 token url is required")
	}
	if username == "" || password == "" {
		return nil, errors.New("openf1 username and password are required when tokens are enabled")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TokenProvider{
		tokenURL: tokenURL,
		username: username,
		password: password,
		httpc:    &http.Client{Timeout: timeout},
		now:      time.Now,
	}, nil
}

func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Before(p.expiresAt.Add(-tokenSafetyMargin)) {
		return p.token, nil
	}

	token, ttl, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}
	p.token = token
	p.expiresAt = p.now().Add(ttl)
	return p.token, nil
}

// Invalidate drops the cached token so the next call refreshes it.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	p.token = ""
	p.expiresAt = time.Time{}
	p.mu.Unlock()
}

// expiresIn accepts both "3600" and 3600.
type expiresIn int64

func (e *expiresIn) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*e = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("expires_in: %w", err)
	}
	*e = expiresIn(n)
	return nil
}

type tokenResp struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   expiresIn `json:"expires_in"`
	TokenType   string    `json:"token_type"`
}

func (p *TokenProvider) fetch(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("username", p.username)
	form.Set("password", p.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, errors.Wrap(err, "new openf1 token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return "", 0, errors.Wrap(err, "do openf1 token request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", 0, &StatusError{Endpoint: "token", StatusCode: resp.StatusCode}
	}

	var tr tokenResp
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, errors.Wrap(err, "decode openf1 token")
	}
	if tr.AccessToken == "" {
		return "", 0, errors.New("openf1 token response without access_token")
	}
	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	return tr.AccessToken, ttl, nil
}
