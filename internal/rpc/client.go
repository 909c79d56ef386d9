package rpc

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"flightwatch/internal/conf"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	transporthttp "github.com/go-kratos/kratos/v2/transport/http"
)

// Retry policy for inter-service calls. Transient failures (peer restarting,
// connection refused) are retried with exponential backoff; anything the
// peer actually answered is not, because re-asking will not change the
// answer.
const (
	maxAttempts = 5
	baseBackoff = 1 * time.Second
	maxBackoff  = 5 * time.Second
	dialTimeout = 10 * time.Second
)

// Client is a thin JSON RPC client over HTTP with retries.
type Client struct {
	inner  *transporthttp.Client
	logger *log.Helper

	// sleep is swappable so tests do not wait out the backoff.
	sleep func(time.Duration)
}

// newClient dials a peer service.
func newClient(addr string, timeout time.Duration, logger log.Logger) (*Client, error) {
	if timeout <= 0 {
		timeout = dialTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	inner, err := transporthttp.NewClient(ctx,
		transporthttp.WithEndpoint(addr),
		transporthttp.WithTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("rpc: failed to create client for %s: %w", addr, err)
	}

	return &Client{
		inner:  inner,
		logger: log.NewHelper(logger),
		sleep:  time.Sleep,
	}, nil
}

// call invokes a POST operation with retries on transient failures.
func (c *Client) call(ctx context.Context, path string, args, reply interface{}) error {
	var lastErr error
	backoff := baseBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			c.logger.Warnw("retrying rpc call",
				"path", path,
				"attempt", attempt,
				"backoff", backoff.String(),
				"error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			c.sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := c.inner.Invoke(ctx, http.MethodPost, path, args, reply,
			transporthttp.Operation(path))
		if err == nil {
			return nil
		}

		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("rpc: %s failed after %d attempts: %w", path, maxAttempts, lastErr)
}

// isRetryable reports whether an error is worth another attempt.
// Definitive answers from the peer (bad request, not found, conflict)
// are final; only availability problems are retried.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var se *errors.Error
	if !stderrors.As(err, &se) {
		// The peer never answered (connection refused, DNS failure).
		return true
	}

	switch se.Code {
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// UserManagerClient calls the user-manager service.
type UserManagerClient struct {
	client *Client
}

// NewUserManagerClient dials the user-manager.
func NewUserManagerClient(c *conf.RPC, logger log.Logger) (*UserManagerClient, error) {
	client, err := newClient(c.UserManagerAddr, c.CallTimeout.AsDuration(), logger)
	if err != nil {
		return nil, err
	}
	return &UserManagerClient{client: client}, nil
}

// VerifyPrincipal reports whether the email belongs to a registered user.
func (c *UserManagerClient) VerifyPrincipal(ctx context.Context, email string) (bool, error) {
	var reply VerifyPrincipalReply
	err := c.client.call(ctx, PathVerifyPrincipal, &VerifyPrincipalRequest{Email: email}, &reply)
	if err != nil {
		return false, err
	}
	return reply.Registered, nil
}

// GetPrincipal fetches the shareable profile of a user.
func (c *UserManagerClient) GetPrincipal(ctx context.Context, email string) (*GetPrincipalReply, error) {
	var reply GetPrincipalReply
	err := c.client.call(ctx, PathGetPrincipal, &GetPrincipalRequest{Email: email}, &reply)
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

// CollectorClient calls the data-collector service.
type CollectorClient struct {
	client *Client
}

// NewCollectorClient dials the data-collector.
func NewCollectorClient(c *conf.RPC, logger log.Logger) (*CollectorClient, error) {
	client, err := newClient(c.CollectorAddr, c.CallTimeout.AsDuration(), logger)
	if err != nil {
		return nil, err
	}
	return &CollectorClient{client: client}, nil
}

// DeleteDownstreamState removes every trace of a user from the collector
// and returns how many subscriptions were dropped.
func (c *CollectorClient) DeleteDownstreamState(ctx context.Context, email string) (int64, error) {
	var reply DeleteDownstreamStateReply
	err := c.client.call(ctx, PathDeleteDownstreamState, &DeleteDownstreamStateRequest{Email: email}, &reply)
	if err != nil {
		return 0, err
	}
	return reply.Removed, nil
}
