// Package opensky implements the client for the OpenSky Network REST API:
// OAuth2 client-credentials authentication, flight feeds, and the failure
// handling the upstream's reliability makes necessary.
package opensky

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"flightwatch/internal/conf"
	"flightwatch/pkg/breaker"

	"github.com/go-kratos/kratos/v2/log"
)

// tokenResponse is the OAuth2 token endpoint payload.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// TokenSource caches an OAuth2 client-credentials token and refreshes it
// on demand. All requests share one token; the refresh runs at most once
// no matter how many workers hit an expired token at the same time.
//
// The token endpoint sits behind a circuit breaker: when authentication
// keeps failing, callers fail fast with breaker.ErrOpen instead of piling
// requests onto a dead identity provider.
type TokenSource struct {
	authURL      string
	clientID     string
	clientSecret string
	safetyMargin time.Duration

	httpClient *http.Client
	breaker    *breaker.Breaker
	logger     *log.Helper

	// mu guards the cached token; refreshMu serializes refreshes so a
	// stampede of expired callers produces exactly one token request.
	mu        sync.RWMutex
	refreshMu sync.Mutex
	token     string
	expiresAt time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewTokenSource creates a TokenSource from the upstream configuration.
func NewTokenSource(c *conf.Upstream, br *breaker.Breaker, logger log.Logger) *TokenSource {
	return &TokenSource{
		authURL:      c.AuthUrl,
		clientID:     c.ClientId,
		clientSecret: c.ClientSecret,
		safetyMargin: c.TokenSafetyMargin.AsDuration(),
		httpClient: &http.Client{
			Timeout: c.Timeout.AsDuration(),
		},
		breaker: br,
		logger:  log.NewHelper(logger),
		now:     time.Now,
	}
}

// Token returns a valid access token, refreshing it if the cached one is
// missing or inside the safety margin of its expiry.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if tok, ok := s.current(); ok {
		return tok, nil
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	// A caller that lost the refresh race reuses the token the winner
	// just installed.
	if tok, ok := s.current(); ok {
		return tok, nil
	}

	err := s.breaker.Call(func() error {
		return s.refresh(ctx)
	})
	if err != nil {
		return "", err
	}

	tok, ok := s.current()
	if !ok {
		return "", fmt.Errorf("token refresh produced no usable token")
	}
	return tok, nil
}

// current returns the cached token when it is still outside the safety
// margin of its expiry.
func (s *TokenSource) current() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token != "" && s.now().Before(s.expiresAt) {
		return s.token, true
	}
	return "", false
}

// Invalidate drops the cached token. Called when the API answers 401
// despite the token not having expired locally.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}

// refresh fetches a fresh token and installs it. Caller holds refreshMu.
func (s *TokenSource) refresh(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.clientID)
	form.Set("client_secret", s.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Errorf("token request failed: %v", err)
		return fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		s.logger.Errorw("token endpoint returned non-200",
			"status", resp.StatusCode)
		return fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return fmt.Errorf("token response missing access_token")
	}
	if tr.ExpiresIn <= 0 {
		return fmt.Errorf("token response has invalid expires_in: %d", tr.ExpiresIn)
	}

	lifetime := time.Duration(tr.ExpiresIn) * time.Second

	s.mu.Lock()
	s.token = tr.AccessToken
	// Refresh before the real expiry so in-flight requests never carry a
	// token that dies mid-request.
	s.expiresAt = s.now().Add(lifetime - s.safetyMargin)
	expiresAt := s.expiresAt
	s.mu.Unlock()

	s.logger.Infow("access token refreshed",
		"expires_in", tr.ExpiresIn,
		"valid_until", expiresAt.Format(time.RFC3339))
	return nil
}
