// Package identity resolves who is calling: the client address used as the
// rate-limit identity (proxy-aware) and the caller context (role and
// authentication state) taken from a verified bearer token.
package identity
