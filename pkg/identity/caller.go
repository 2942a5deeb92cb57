package identity

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Role is the caller's application role. Values are upper case.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleModerator Role = "MODERATOR"
	RoleMember    Role = "MEMBER"
	RoleAnonymous Role = "ANONYMOUS"
	// RoleNone is an authenticated caller whose token carries no role.
	RoleNone Role = ""
)

// ParseRole normalizes a role claim. Comparison is case-insensitive, so
// "admin" and "Admin" both parse to RoleAdmin.
func ParseRole(s string) Role {
	return Role(strings.ToUpper(strings.TrimSpace(s)))
}

// CallerContext describes the caller of one request. It is read-only to the
// admission core.
type CallerContext struct {
	// Identity is the rate-limit key, normally the client address.
	Identity string `json:"identity"`
	// Subject is the authenticated user (token sub/email), empty for anonymous callers.
	Subject       string `json:"subject,omitempty"`
	Role          Role   `json:"role"`
	Authenticated bool   `json:"authenticated"`
}

// Anonymous returns the caller context for an unauthenticated request.
func Anonymous(identity string) CallerContext {
	return CallerContext{Identity: identity, Role: RoleAnonymous}
}

// gin context keys
const (
	CallerKey   = "caller"
	UsernameKey = "username"
	RoleKey     = "role"
)

// CallerFrom returns the caller stored by the authentication middleware.
func CallerFrom(c *gin.Context) (CallerContext, bool) {
	if c == nil {
		return CallerContext{}, false
	}
	v, ok := c.Get(CallerKey)
	if !ok {
		return CallerContext{}, false
	}
	caller, ok := v.(CallerContext)
	return caller, ok
}

// ClientAddress returns the identifying address of the request origin.
// With trustForwardedFor the first X-Forwarded-For entry wins; otherwise, or
// when the header is empty, the peer address without port is used.
func ClientAddress(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
