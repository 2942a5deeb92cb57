// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/telekom/admission-gateway/pkg/admission"
	"github.com/telekom/admission-gateway/pkg/audit"
	"github.com/telekom/admission-gateway/pkg/clock"
	"github.com/telekom/admission-gateway/pkg/config"
	"github.com/telekom/admission-gateway/pkg/identity"
	"github.com/telekom/admission-gateway/pkg/policy"
	"github.com/telekom/admission-gateway/pkg/ratelimit"
	"github.com/telekom/admission-gateway/pkg/system"
	"github.com/telekom/admission-gateway/pkg/telemetry"
)

// BuildOptions tune Build beyond the configuration file.
type BuildOptions struct {
	Debug        bool
	ServeMetrics bool
	Clock        clock.Clock
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Build creates every collaborator described by cfg and the server on top of
// them. Close on the returned server releases them.
func Build(ctx context.Context, log *zap.Logger, cfg config.Config, opts BuildOptions) (_ *Server, err error) {
	sugar := log.Sugar()
	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	store, closeStore, err := NewWindowStore(ctx, cfg, sugar)
	if err != nil {
		return nil, err
	}
	closers = append(closers, closeStore)

	classifier, err := policy.NewClassifier(cfg.Routes())
	if err != nil {
		return nil, fmt.Errorf("building route classifier: %w", err)
	}
	policyCfg, err := cfg.PolicyConfig()
	if err != nil {
		return nil, fmt.Errorf("building policy config: %w", err)
	}
	pol, err := policy.New(policyCfg, store)
	if err != nil {
		return nil, fmt.Errorf("building policy: %w", err)
	}

	auth, err := identity.NewAuthenticator(cfg.AuthConfig(), sugar)
	if err != nil {
		return nil, fmt.Errorf("building authenticator: %w", err)
	}
	closers = append(closers, func() error { auth.Close(); return nil })

	recorder, err := audit.NewRecorder(cfg.RecorderConfig(), log.Named("audit"))
	if err != nil {
		return nil, fmt.Errorf("building audit recorder: %w", err)
	}
	closers = append(closers, recorder.Close)

	requestsLog, err := system.NewRequestsLogger(cfg.RequestLogPaths())
	if err != nil {
		return nil, err
	}
	closers = append(closers, func() error { _ = requestsLog.Sync(); return nil })

	pipeline, err := admission.New(admission.Options{
		Clock:             opts.Clock,
		Classifier:        classifier,
		Policy:            pol,
		Logger:            sugar.Named("admission"),
		Audit:             recorder,
		Tracer:            telemetry.Tracer(opts.TracerProvider),
		TrustForwardedFor: cfg.TrustForwardedFor(),
	})
	if err != nil {
		return nil, err
	}

	deps := ServerDeps{
		Pipeline:     pipeline,
		Store:        store,
		Auth:         auth,
		Audit:        recorder,
		RequestsLog:  requestsLog,
		ServeMetrics: opts.ServeMetrics,
	}
	if cfg.FloodGuardEnabled() {
		fg := ratelimit.NewFloodGuard(cfg.FloodGuardConfig())
		closers = append(closers, func() error { fg.Stop(); return nil })
		deps.FloodGuard = fg
	}
	if cfg.Upstream.URL != "" {
		deps.Upstream, err = NewUpstreamProxy(cfg.Upstream.URL, sugar)
		if err != nil {
			return nil, err
		}
	}

	server, err := NewServer(log, cfg, opts.Debug, deps)
	if err != nil {
		return nil, err
	}
	for _, c := range closers {
		server.OnClose(c)
	}

	sugar.Infow("Admission gateway assembled",
		"backend", store.Backend(),
		"window", store.Window(),
		"burstLimit", pol.BurstLimit(),
		"routes", len(classifier.Routes()),
		"auth", auth.Enabled(),
		"audit", recorder.Enabled(),
		"floodGuard", deps.FloodGuard != nil,
		"upstream", cfg.Upstream.URL)
	return server, nil
}

// NewWindowStore creates the configured window store. The returned function
// releases it.
func NewWindowStore(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (ratelimit.WindowStore, func() error, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Username: cfg.Store.Redis.Username,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		store := ratelimit.NewRedisWindowStore(rdb, cfg.Window(),
			ratelimit.WithKeyPrefix(cfg.Store.Redis.KeyPrefix),
			ratelimit.WithOperationTimeout(cfg.RedisOperationTimeout()))

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Store.Redis.Addr, err)
		}
		log.Infow("Using redis window store", "addr", cfg.Store.Redis.Addr, "prefix", cfg.Store.Redis.KeyPrefix)
		return store, store.Close, nil
	default:
		store := ratelimit.NewMemoryWindowStore(cfg.Window())
		store.Start(ctx)
		log.Infow("Using in-memory window store", "window", cfg.Window())
		return store, func() error { store.Stop(); return nil }, nil
	}
}
