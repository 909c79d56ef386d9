// Package middleware provides HTTP middleware for request logging.
package middleware

import (
	"context"
	"strings"
	"time"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// Logging returns a middleware that logs one line per HTTP request:
// method, path, status, duration and caller identity.
func Logging(logger log.Logger) middleware.Middleware {
	helper := log.NewHelper(logger)

	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			start := time.Now()

			var (
				method = "UNKNOWN"
				path   = "UNKNOWN"
				ip     string
			)
			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Operation()
				path = tr.Operation()
				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					ip = extractClientIP(httpReq)
				}
			}

			reply, err := handler(ctx, req)

			status := 200
			if err != nil {
				status = int(kratoserrors.FromError(err).Code)
			}

			keyvals := []interface{}{
				"msg", "http request",
				"method", method,
				"path", path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"ip", ip,
			}
			if err != nil {
				keyvals = append(keyvals, "error", err.Error())
				if status >= 500 {
					helper.Errorw(keyvals...)
				} else {
					helper.Warnw(keyvals...)
				}
			} else {
				helper.Infow(keyvals...)
			}

			return reply, err
		}
	}
}

// extractClientIP returns the caller's address, preferring proxy headers.
// Priority: X-Real-IP > X-Forwarded-For (first hop) > RemoteAddr.
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		if ips := strings.Split(forwarded, ","); len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	return req.RemoteAddr
}
