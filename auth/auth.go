// Package auth defines Graft's token verification contract at the wire
// boundary (spec §6). A missing or invalid token maps to gerrs.KindUnauthorized
// (HTTP 401).
package auth

// Claims is whatever the token asserts about its bearer. Kept minimal:
// Graft's authorization model is "holds a valid token for this cluster",
// not per-volume ACLs.
type Claims struct {
	Subject string
}

// Authenticator verifies an opaque bearer token and returns its claims.
type Authenticator interface {
	Verify(token []byte) (Claims, error)
	// Issue mints a new token for subject; used by cmd/graft's token
	// bootstrap subcommand and by tests.
	Issue(subject string) ([]byte, error)
}
