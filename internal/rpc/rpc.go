// Package rpc defines the request/response surface the services expose to
// each other, plus clients with a bounded retry policy. The payloads are
// plain JSON so either side can be probed with curl during an incident.
package rpc

// Paths of the inter-service operations.
const (
	PathVerifyPrincipal       = "/rpc/verify-principal"
	PathGetPrincipal          = "/rpc/get-principal"
	PathDeleteDownstreamState = "/rpc/delete-downstream-state"
)

// VerifyPrincipalRequest asks whether an email belongs to a registered user.
type VerifyPrincipalRequest struct {
	Email string `json:"email"`
}

// VerifyPrincipalReply answers an existence check.
type VerifyPrincipalReply struct {
	Registered bool `json:"registered"`
}

// GetPrincipalRequest fetches a user profile by email.
type GetPrincipalRequest struct {
	Email string `json:"email"`
}

// GetPrincipalReply carries the profile fields other services may see.
// The IBAN never crosses a service boundary.
type GetPrincipalReply struct {
	Email   string `json:"email"`
	Nome    string `json:"nome"`
	Cognome string `json:"cognome"`
}

// DeleteDownstreamStateRequest asks the collector to forget a user.
type DeleteDownstreamStateRequest struct {
	Email string `json:"email"`
}

// DeleteDownstreamStateReply reports how many subscriptions were removed.
type DeleteDownstreamStateReply struct {
	Removed int64 `json:"removed"`
}
