package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/admission-gateway/pkg/admission"
	"github.com/telekom/admission-gateway/pkg/audit"
	"github.com/telekom/admission-gateway/pkg/cli"
	"github.com/telekom/admission-gateway/pkg/config"
	"github.com/telekom/admission-gateway/pkg/identity"
	"github.com/telekom/admission-gateway/pkg/metrics"
	"github.com/telekom/admission-gateway/pkg/ratelimit"
	"github.com/telekom/admission-gateway/pkg/system"
)

// Operational endpoints. Requests for exactly these paths bypass the flood
// guard and admission.
const (
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"
	VersionPath = "/version"
)

// operationalPaths lists the exempt paths that are actually routed. An
// unserved /metrics falls through to the downstream handler and is admitted
// like any other request.
func operationalPaths(serveMetrics bool) []string {
	paths := []string{HealthPath, VersionPath}
	if serveMetrics {
		paths = append(paths, MetricsPath)
	}
	return paths
}

// ServerDeps are the collaborators NewServer wires into the engine. Pipeline
// and Store are required; the rest may be nil.
type ServerDeps struct {
	Pipeline    *admission.Pipeline
	Store       ratelimit.WindowStore
	Auth        *identity.Authenticator
	FloodGuard  *ratelimit.FloodGuard
	Audit       *audit.Recorder
	RequestsLog *zap.Logger
	// Upstream handles admitted requests. Defaults to an acknowledgement.
	Upstream gin.HandlerFunc
	// ServeMetrics exposes /metrics on this server.
	ServeMetrics bool
}

type Server struct {
	gin    *gin.Engine
	config config.Config
	log    *zap.SugaredLogger
	deps   ServerDeps

	closers []func() error
}

func NewServer(log *zap.Logger, cfg config.Config, debug bool, deps ServerDeps) (*Server, error) {
	if deps.Pipeline == nil || deps.Store == nil {
		return nil, errors.New("api: admission pipeline and window store are required")
	}
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid server.trustedProxies: %w", err)
	}
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
	)

	if debug {
		engine.Use(
			cors.New(cors.Config{
				AllowOrigins:  []string{"http://localhost:5173", "http://127.0.0.1:8080"},
				AllowMethods:  []string{"GET", "PUT", "PATCH", "POST", "DELETE", "OPTIONS"},
				AllowHeaders:  []string{"Origin", "Authorization", "Content-Type", system.RequestIDHeader},
				ExposeHeaders: []string{"Retry-After", "X-Admission-Reason", system.RequestIDHeader},
				MaxAge:        12 * time.Hour,
			}),
		)
	}

	s := &Server{
		gin:    engine,
		config: cfg,
		log:    log.Sugar(),
		deps:   deps,
	}

	trustXFF := cfg.TrustForwardedFor()
	clientAddr := func(c *gin.Context) string { return identity.ClientAddress(c.Request, trustXFF) }
	exempt := operationalPaths(deps.ServeMetrics)

	engine.Use(system.RequestContext(s.log))
	if deps.FloodGuard != nil {
		engine.Use(deps.FloodGuard.Middleware(clientAddr, exempt...))
	}
	if deps.Auth != nil {
		engine.Use(deps.Auth.Middleware(clientAddr))
	}
	if deps.RequestsLog != nil {
		engine.Use(system.RequestsLog(deps.RequestsLog))
	}
	engine.Use(deps.Pipeline.Middleware(exempt...))

	engine.GET(HealthPath, s.getHealth)
	engine.GET(VersionPath, s.getVersion)
	if deps.ServeMetrics {
		engine.GET(MetricsPath, gin.WrapH(metrics.MetricsHandler()))
	}

	upstream := deps.Upstream
	if upstream == nil {
		upstream = acknowledge
	}
	engine.NoRoute(upstream)

	return s, nil
}

// Handler returns the gin engine as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// OnClose registers cleanup run by Close in reverse order.
func (s *Server) OnClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close releases the collaborators registered with OnClose.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Audit returns the emitter for lifecycle events. It never returns nil.
func (s *Server) Audit() audit.Emitter {
	if s.deps.Audit == nil {
		return audit.NopEmitter{}
	}
	return s.deps.Audit
}

// HTTPServer builds the listener configuration for addr.
func (s *Server) HTTPServer(addr string, enableHTTP2 bool) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.gin,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
	if !enableHTTP2 {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		cli.DisableHTTP2(srv.TLSConfig)
		srv.TLSNextProto = map[string]func(*http.Server, *tls.Conn, http.Handler){}
	}
	return srv
}

// Serve runs srv until ctx is cancelled, then shuts down gracefully within grace.
func (s *Server) Serve(ctx context.Context, srv *http.Server, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.Server.TLSCertFile != "" && s.config.Server.TLSKeyFile != "" {
			err = srv.ListenAndServeTLS(s.config.Server.TLSCertFile, s.config.Server.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	s.log.Infow("Shutting down HTTP server", "address", srv.Addr, "grace", grace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down %s: %w", srv.Addr, err)
	}
	return nil
}
