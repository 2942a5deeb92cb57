package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/admission-gateway/pkg/apiresponses"
	"github.com/telekom/admission-gateway/pkg/identity"
	"github.com/telekom/admission-gateway/pkg/system"
	"github.com/telekom/admission-gateway/pkg/version"
)

// Headers the gateway sets on proxied requests. Inbound copies are removed
// so callers cannot forge them.
const (
	UserHeader = "X-Admission-User"
	RoleHeader = "X-Admission-Role"
)

// NewUpstreamProxy forwards admitted requests to target. The caller resolved
// by authentication is passed on in UserHeader and RoleHeader.
func NewUpstreamProxy(target string, log *zap.SugaredLogger) (gin.HandlerFunc, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url %q: %w", target, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q: scheme and host are required", target)
	}

	proxy := httputil.NewSingleHostReverseProxy(u)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		if r.Header.Get("User-Agent") == "" {
			r.Header.Set("User-Agent", version.UserAgent())
		}
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warnw("Upstream request failed", "upstream", u.Host, "path", r.URL.Path, "error", err)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(apiresponses.APIError{Error: "bad gateway", Code: "BAD_GATEWAY"})
	}

	return func(c *gin.Context) {
		c.Request.Header.Del(UserHeader)
		c.Request.Header.Del(RoleHeader)
		if caller, ok := identity.CallerFrom(c); ok && caller.Authenticated {
			c.Request.Header.Set(UserHeader, caller.Subject)
			c.Request.Header.Set(RoleHeader, string(caller.Role))
		}
		if id := system.RequestID(c); id != "" {
			c.Request.Header.Set(system.RequestIDHeader, id)
		}
		proxy.ServeHTTP(c.Writer, c.Request)
	}, nil
}
