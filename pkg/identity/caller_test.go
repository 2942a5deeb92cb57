package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	tests := map[string]Role{
		"ADMIN":       RoleAdmin,
		"admin":       RoleAdmin,
		" Moderator ": RoleModerator,
		"member":      RoleMember,
		"":            RoleNone,
		"guest":       Role("GUEST"),
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseRole(in), "ParseRole(%q)", in)
	}
}

func TestClientAddress(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		trust      bool
		want       string
	}{
		{name: "peer address without port", remoteAddr: "10.0.0.7:51234", want: "10.0.0.7"},
		{name: "first forwarded entry", remoteAddr: "10.0.0.7:51234", xff: "1.2.3.4, 10.0.0.1", trust: true, want: "1.2.3.4"},
		{name: "forwarded entry is trimmed", remoteAddr: "10.0.0.7:51234", xff: "  5.6.7.8 ", trust: true, want: "5.6.7.8"},
		{name: "forwarded ignored when untrusted", remoteAddr: "10.0.0.7:51234", xff: "1.2.3.4", want: "10.0.0.7"},
		{name: "empty first entry falls back to peer", remoteAddr: "10.0.0.7:51234", xff: " ,1.2.3.4", trust: true, want: "10.0.0.7"},
		{name: "ipv6 peer", remoteAddr: "[::1]:8080", want: "::1"},
		{name: "peer without port", remoteAddr: "10.0.0.9", want: "10.0.0.9"},
		{name: "no address", want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, ClientAddress(req, tt.trust))
		})
	}
}

func TestAnonymous(t *testing.T) {
	c := Anonymous("1.2.3.4")
	assert.Equal(t, "1.2.3.4", c.Identity)
	assert.Equal(t, RoleAnonymous, c.Role)
	assert.False(t, c.Authenticated)
	assert.Empty(t, c.Subject)
}

func TestCallerFrom_NilContext(t *testing.T) {
	_, ok := CallerFrom(nil)
	assert.False(t, ok)
}
