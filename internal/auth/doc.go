// Package auth guards the admin endpoints with HS256 bearer tokens.
//
// # Model
//
// There is a single shared admin secret. Tokens are minted against it with
// an operator name in the sub claim, so logs can say who forced an
// activation or reset. There are no roles; holding a valid token is the
// privilege.
//
// # Gate
//
// RequireAdmin wraps a handler and rejects requests without a valid bearer
// token. When no secret is configured the verifier is nil and the gate
// passes everything through, which keeps local development friction-free.
package auth
