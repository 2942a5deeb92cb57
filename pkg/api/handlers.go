package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/telekom/admission-gateway/pkg/admission"
	"github.com/telekom/admission-gateway/pkg/apiresponses"
	"github.com/telekom/admission-gateway/pkg/audit"
	"github.com/telekom/admission-gateway/pkg/policy"
	"github.com/telekom/admission-gateway/pkg/version"
)

// pinger is implemented by window stores with a remote backend.
type pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status string                   `json:"status"`
	Store  string                   `json:"store"`
	Audit  []audit.QueuedSinkHealth `json:"audit,omitempty"`
}

func (s *Server) getHealth(c *gin.Context) {
	store := s.deps.Store
	if p, ok := store.(pinger); ok {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			s.log.Warnw("Health check failed", "backend", store.Backend(), "error", err)
			apiresponses.RespondServiceUnavailable(c, store.Backend())
			return
		}
	}
	apiresponses.RespondOK(c, healthResponse{
		Status: "ok",
		Store:  store.Backend(),
		Audit:  s.deps.Audit.Health(),
	})
}

func (s *Server) getVersion(c *gin.Context) {
	apiresponses.RespondOK(c, version.GetBuildInfo())
}

// acknowledge answers admitted requests when no upstream is configured.
func acknowledge(c *gin.Context) {
	category := policy.DefaultCategoryName
	if v, ok := c.Get(admission.DecisionKey); ok {
		if d, ok := v.(policy.Decision); ok {
			category = d.Category
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "admitted",
		"category": category,
		"method":   c.Request.Method,
		"path":     c.Request.URL.Path,
	})
}
