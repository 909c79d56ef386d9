package opensky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"flightwatch/internal/conf"
	"flightwatch/pkg/breaker"

	"github.com/go-kratos/kratos/v2/log"
)

// ErrRateLimited is returned when the upstream answers 429. The caller
// should skip the airport this cycle rather than hammer the API.
var ErrRateLimited = errors.New("opensky: rate limited")

// Flight is one entry of the departures or arrivals feed.
type Flight struct {
	ICAO24              string  `json:"icao24"`
	FirstSeen           int64   `json:"firstSeen"`
	EstDepartureAirport *string `json:"estDepartureAirport"`
	LastSeen            int64   `json:"lastSeen"`
	EstArrivalAirport   *string `json:"estArrivalAirport"`
	Callsign            string  `json:"callsign"`
}

// Client talks to the OpenSky Network flights API.
//
// Responses degrade instead of failing the whole collection cycle: a 404
// (no data for the airport in the window) is an empty result, a 429 is
// ErrRateLimited, and a 401 triggers one forced re-authentication before
// giving up.
type Client struct {
	apiURL     string
	httpClient *http.Client
	tokens     *TokenSource
	logger     *log.Helper
}

// NewClient creates an OpenSky API client.
func NewClient(c *conf.Upstream, tokens *TokenSource, logger log.Logger) *Client {
	return &Client{
		apiURL: c.ApiUrl,
		httpClient: &http.Client{
			Timeout: c.Timeout.AsDuration(),
		},
		tokens: tokens,
		logger: log.NewHelper(logger),
	}
}

// NewBreaker builds the circuit breaker guarding the token endpoint from
// the upstream configuration.
func NewBreaker(c *conf.Upstream) *breaker.Breaker {
	return breaker.New(int(c.BreakerThreshold), c.BreakerRecovery.AsDuration())
}

// Departures returns the flights that departed from an airport in
// [begin, end].
func (c *Client) Departures(ctx context.Context, icao string, begin, end time.Time) ([]Flight, error) {
	return c.fetch(ctx, "/flights/departure", icao, begin, end)
}

// Arrivals returns the flights that arrived at an airport in [begin, end].
func (c *Client) Arrivals(ctx context.Context, icao string, begin, end time.Time) ([]Flight, error) {
	return c.fetch(ctx, "/flights/arrival", icao, begin, end)
}

func (c *Client) fetch(ctx context.Context, path, icao string, begin, end time.Time) ([]Flight, error) {
	flights, status, err := c.doFetch(ctx, path, icao, begin, end)
	if err != nil {
		return nil, err
	}

	// A 401 with a locally-valid token means the upstream revoked it.
	// Invalidate and retry exactly once with a fresh token.
	if status == http.StatusUnauthorized {
		c.logger.Warnw("upstream rejected token, re-authenticating",
			"airport", icao)
		c.tokens.Invalidate()

		flights, status, err = c.doFetch(ctx, path, icao, begin, end)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, fmt.Errorf("opensky: still unauthorized after re-authentication")
		}
	}

	switch status {
	case http.StatusOK:
		return flights, nil
	case http.StatusNotFound:
		// No flights for this airport in the window.
		return []Flight{}, nil
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		return nil, fmt.Errorf("opensky: unexpected status %d for %s", status, icao)
	}
}

// doFetch performs one request and returns the decoded flights (on 200),
// the status code, and any transport-level error.
func (c *Client) doFetch(ctx context.Context, path, icao string, begin, end time.Time) ([]Flight, int, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("opensky: failed to obtain token: %w", err)
	}

	q := url.Values{}
	q.Set("airport", icao)
	q.Set("begin", strconv.FormatInt(begin.Unix(), 10))
	q.Set("end", strconv.FormatInt(end.Unix(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("opensky: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("opensky: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return nil, resp.StatusCode, nil
	}

	// The feed sometimes returns an empty or truncated body on a 200.
	// Treat anything undecodable as zero flights rather than a failure.
	var flights []Flight
	if err := json.NewDecoder(resp.Body).Decode(&flights); err != nil {
		c.logger.Warnw("undecodable feed response treated as empty",
			"airport", icao, "error", err)
		return []Flight{}, resp.StatusCode, nil
	}
	return flights, resp.StatusCode, nil
}
