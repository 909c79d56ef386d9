// Package service exposes the business layer over HTTP: the public REST
// surface and the JSON RPC operations the services call on each other.
package service

import (
	"errors"
	"net"
	"strings"

	"flightwatch/internal/biz"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewUserService, NewCollectorService)

// toHTTPError maps business errors onto transport status codes. Anything
// unmapped is an internal error and keeps its detail out of the response.
func toHTTPError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, biz.ErrInvalidInput):
		return kratoserrors.BadRequest("INVALID_INPUT", err.Error())
	case errors.Is(err, biz.ErrInvalidAirport):
		return kratoserrors.BadRequest("INVALID_AIRPORT", err.Error())
	case errors.Is(err, biz.ErrInvalidThresholds):
		return kratoserrors.BadRequest("INVALID_THRESHOLDS", err.Error())
	case errors.Is(err, biz.ErrAlreadyRegistered):
		return kratoserrors.Conflict("ALREADY_REGISTERED", err.Error())
	case errors.Is(err, biz.ErrPayloadMismatch):
		return kratoserrors.Conflict("PAYLOAD_MISMATCH", err.Error())
	case errors.Is(err, biz.ErrUserNotFound):
		return kratoserrors.NotFound("USER_NOT_FOUND", err.Error())
	case errors.Is(err, biz.ErrSubscriptionNotFound):
		return kratoserrors.NotFound("SUBSCRIPTION_NOT_FOUND", err.Error())
	case errors.Is(err, biz.ErrUnknownPrincipal):
		return kratoserrors.NotFound("UNKNOWN_PRINCIPAL", err.Error())
	}

	return kratoserrors.InternalServer("INTERNAL", "internal error")
}

// callerIdentity resolves the network-level origin of a request. Behind a
// proxy the first X-Forwarded-For hop is the client; otherwise the peer
// address is.
func callerIdentity(ctx http.Context) string {
	if ip := ctx.Header().Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := ctx.Header().Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	if host, _, err := net.SplitHostPort(ctx.Request().RemoteAddr); err == nil {
		return host
	}
	return ctx.Request().RemoteAddr
}
