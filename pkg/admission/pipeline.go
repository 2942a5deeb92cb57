// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package admission

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/telekom/admission-gateway/pkg/audit"
	"github.com/telekom/admission-gateway/pkg/clock"
	"github.com/telekom/admission-gateway/pkg/identity"
	"github.com/telekom/admission-gateway/pkg/metrics"
	"github.com/telekom/admission-gateway/pkg/policy"
	"github.com/telekom/admission-gateway/pkg/telemetry"
)

// Request is what the pipeline needs to know about one inbound call.
type Request struct {
	Method    string
	Path      string
	Caller    identity.CallerContext
	UserAgent string
	RequestID string
}

// Options wires a Pipeline. Classifier and Policy are required.
type Options struct {
	Clock      clock.Clock
	Classifier *policy.Classifier
	Policy     *policy.Policy
	Logger     *zap.SugaredLogger
	Audit      audit.Emitter
	Tracer     trace.Tracer
	// TrustForwardedFor is used by the middleware when no caller was stored
	// by authentication.
	TrustForwardedFor bool
}

// Pipeline is stateless per call; all request history lives in the policy's
// window store.
type Pipeline struct {
	clock      clock.Clock
	classifier *policy.Classifier
	policy     *policy.Policy
	log        *zap.SugaredLogger
	audit      audit.Emitter
	tracer     trace.Tracer
	trustXFF   bool
}

// New creates a pipeline. Missing optional collaborators get no-op defaults.
func New(opts Options) (*Pipeline, error) {
	if opts.Classifier == nil {
		return nil, errors.New("admission: route classifier is required")
	}
	if opts.Policy == nil {
		return nil, errors.New("admission: policy is required")
	}
	p := &Pipeline{
		clock:      opts.Clock,
		classifier: opts.Classifier,
		policy:     opts.Policy,
		log:        opts.Logger,
		audit:      opts.Audit,
		tracer:     opts.Tracer,
		trustXFF:   opts.TrustForwardedFor,
	}
	if p.clock == nil {
		p.clock = clock.Real{}
	}
	if p.log == nil {
		p.log = zap.NewNop().Sugar()
	}
	if p.audit == nil {
		p.audit = audit.NopEmitter{}
	}
	if p.tracer == nil {
		p.tracer = telemetry.Tracer(nil)
	}
	return p, nil
}

// Evaluate decides on one request. It never returns an error: any failure,
// including a panic below it, yields an INTERNAL_ERROR denial.
func (p *Pipeline) Evaluate(ctx context.Context, req Request) (decision policy.Decision) {
	started := time.Now()
	now := p.clock.Now()
	req.Path = CleanPath(req.Path)
	cat := p.classifier.Classify(req.Method, req.Path)

	ctx, span := p.tracer.Start(ctx, "admission.evaluate", trace.WithAttributes(
		attribute.String("admission.category", cat.Name),
		attribute.String("http.request.method", req.Method),
		attribute.String("url.path", req.Path),
		attribute.Bool("admission.authenticated", req.Caller.Authenticated),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			decision = p.failClosed(span, req, cat, fmt.Errorf("panic during evaluation: %v", r))
		}
		p.observe(cat, decision, started)
		span.SetAttributes(
			attribute.Bool("admission.allowed", decision.Allow),
			attribute.String("admission.reason", reasonLabel(decision.Reason)),
		)
	}()

	decision, err := p.policy.Evaluate(ctx, req.Caller, cat, now)
	if err != nil {
		return p.failClosed(span, req, cat, err)
	}

	if decision.Allow {
		if p.auditAllowed() {
			p.audit.Emit(ctx, p.event(ctx, audit.EventAccessAllowed, req, decision))
		}
		return decision
	}

	p.log.Infow("Request denied",
		"reason", decision.Reason,
		"identity", req.Caller.Identity,
		"user", req.Caller.Subject,
		"category", cat.Name,
		"method", req.Method,
		"path", req.Path)
	p.audit.Emit(ctx, p.event(ctx, audit.EventAccessDenied, req, decision))
	return decision
}

// failClosed turns an evaluation fault into an INTERNAL_ERROR denial. Faults
// are logged at error level and never audited.
func (p *Pipeline) failClosed(span trace.Span, req Request, cat policy.Category, err error) policy.Decision {
	backend := p.policy.Store().Backend()
	metrics.AdmissionInternalErrors.WithLabelValues(cat.Name, backend).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, "admission failed closed")
	p.log.Errorw("Admission evaluation failed, denying request",
		"identity", req.Caller.Identity,
		"category", cat.Name,
		"backend", backend,
		"method", req.Method,
		"path", req.Path,
		"error", err)
	return policy.Decision{
		Reason:   policy.ReasonInternalError,
		Message:  policy.MessageInternalError,
		Category: cat.Name,
	}
}

// auditAllowed reports whether the emitter wants admitted requests. Emitters
// that don't say are given them.
func (p *Pipeline) auditAllowed() bool {
	if f, ok := p.audit.(interface{ IncludeAllowed() bool }); ok {
		return f.IncludeAllowed()
	}
	return true
}

func (p *Pipeline) observe(cat policy.Category, d policy.Decision, started time.Time) {
	outcome := "allow"
	if !d.Allow {
		outcome = "deny"
	}
	metrics.AdmissionDecisions.WithLabelValues(cat.Name, outcome, reasonLabel(d.Reason)).Inc()
	metrics.AdmissionEvaluationDuration.WithLabelValues(cat.Name).Observe(time.Since(started).Seconds())
}

func (p *Pipeline) event(ctx context.Context, t audit.EventType, req Request, d policy.Decision) *audit.Event {
	ev := audit.NewEvent(t, string(d.Reason))
	ev.Message = d.Message
	ev.Actor = audit.Actor{
		User:          req.Caller.Subject,
		Role:          string(req.Caller.Role),
		Authenticated: req.Caller.Authenticated,
		SourceIP:      req.Caller.Identity,
		UserAgent:     req.UserAgent,
	}
	ev.Target = audit.Target{Method: req.Method, Path: req.Path, Route: d.Category}
	rc := &audit.RequestContext{CorrelationID: req.RequestID}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		rc.TraceID = sc.TraceID().String()
	}
	ev.RequestContext = rc
	if d.RetryAfter > 0 {
		ev.Details = map[string]interface{}{"retryAfterSeconds": retryAfterSeconds(d.RetryAfter)}
	}
	return ev
}

func reasonLabel(r policy.Reason) string {
	if r == policy.ReasonNone {
		return "none"
	}
	return string(r)
}

// CleanPath resolves dot segments and duplicate slashes so that a request is
// classified by the resource it addresses. A trailing slash is kept.
func CleanPath(p string) string {
	cleaned := path.Clean("/" + p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

// retryAfterSeconds rounds up so clients never retry before the window frees a slot.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
