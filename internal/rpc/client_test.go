package rpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStubClient points a Client at a stub HTTP server with backoff sleeps
// disabled.
func newStubClient(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()

	srv := httptest.NewServer(handler)

	endpoint := strings.TrimPrefix(srv.URL, "http://")
	client, err := newClient(endpoint, 5*time.Second, log.DefaultLogger)
	require.NoError(t, err)
	client.sleep = func(time.Duration) {}

	return client, srv.Close
}

func TestClient_Call(t *testing.T) {
	client, cleanup := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, PathVerifyPrincipal, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"registered":true}`))
	})
	defer cleanup()

	var reply VerifyPrincipalReply
	err := client.call(context.Background(), PathVerifyPrincipal,
		&VerifyPrincipalRequest{Email: "mario@example.it"}, &reply)
	require.NoError(t, err)
	assert.True(t, reply.Registered)
}

func TestClient_RetriesOnUnavailable(t *testing.T) {
	var calls atomic.Int32
	client, cleanup := newStubClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":503,"reason":"SERVICE_UNAVAILABLE","message":"restarting"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"registered":true}`))
	})
	defer cleanup()

	var reply VerifyPrincipalReply
	err := client.call(context.Background(), PathVerifyPrincipal,
		&VerifyPrincipalRequest{Email: "mario@example.it"}, &reply)
	require.NoError(t, err)
	assert.True(t, reply.Registered)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryDefinitiveAnswers(t *testing.T) {
	var calls atomic.Int32
	client, cleanup := newStubClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":404,"reason":"NOT_FOUND","message":"no such user"}`))
	})
	defer cleanup()

	var reply GetPrincipalReply
	err := client.call(context.Background(), PathGetPrincipal,
		&GetPrincipalRequest{Email: "nobody@example.it"}, &reply)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	client, cleanup := newStubClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":503,"reason":"SERVICE_UNAVAILABLE","message":"down"}`))
	})
	defer cleanup()

	var reply VerifyPrincipalReply
	err := client.call(context.Background(), PathVerifyPrincipal,
		&VerifyPrincipalRequest{Email: "mario@example.it"}, &reply)
	require.Error(t, err)
	assert.Equal(t, int32(maxAttempts), calls.Load())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport failure", errors.New("dial tcp: connection refused"), true},
		{"service unavailable", kratoserrors.New(503, "SERVICE_UNAVAILABLE", "down"), true},
		{"bad gateway", kratoserrors.New(502, "BAD_GATEWAY", "proxy"), true},
		{"not found", kratoserrors.New(404, "NOT_FOUND", "missing"), false},
		{"bad request", kratoserrors.New(400, "BAD_REQUEST", "invalid"), false},
		{"conflict", kratoserrors.New(409, "CONFLICT", "mismatch"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}
