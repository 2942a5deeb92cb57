// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/telekom/admission-gateway/pkg/metrics"
)

// Emitter accepts audit events. Implementations must not block.
type Emitter interface {
	Emit(ctx context.Context, event *Event)
}

// NopEmitter discards every event.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, *Event) {}

// RecorderConfig selects the audit sinks.
type RecorderConfig struct {
	// LogEvents enables the structured log sink.
	LogEvents bool
	// Kafka enables the Kafka sink when non-nil.
	Kafka *KafkaSinkConfig
	Queue QueuedSinkConfig
	// IncludeAllowed also records admitted requests on gated routes.
	IncludeAllowed bool
}

// Recorder fans audit events out to the configured sinks through isolated
// queues.
type Recorder struct {
	sinks          *IsolatedMultiSink
	includeAllowed bool
	logger         *zap.Logger
}

// NewRecorder builds the sinks named by cfg. With no sink configured the
// recorder is a no-op.
func NewRecorder(cfg RecorderConfig, logger *zap.Logger) (*Recorder, error) {
	var sinks []Sink
	if cfg.LogEvents {
		sinks = append(sinks, NewLogSink(logger))
	}
	if cfg.Kafka != nil {
		k, err := NewKafkaSink(*cfg.Kafka, logger)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, fmt.Errorf("audit kafka sink: %w", err)
		}
		sinks = append(sinks, k)
	}
	return newRecorder(sinks, cfg, logger), nil
}

func newRecorder(sinks []Sink, cfg RecorderConfig, logger *zap.Logger) *Recorder {
	r := &Recorder{includeAllowed: cfg.IncludeAllowed, logger: logger.Named("audit-recorder")}
	if len(sinks) > 0 {
		r.sinks = NewIsolatedMultiSink(sinks, cfg.Queue, logger)
	}
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	r.logger.Info("audit recorder configured", zap.Strings("sinks", names), zap.Bool("include_allowed", cfg.IncludeAllowed))
	return r
}

// Enabled reports whether any sink is configured.
func (r *Recorder) Enabled() bool {
	return r != nil && r.sinks != nil
}

// IncludeAllowed reports whether admitted requests are recorded too.
func (r *Recorder) IncludeAllowed() bool {
	return r != nil && r.includeAllowed
}

// Emit enqueues the event on every sink. It never blocks.
func (r *Recorder) Emit(ctx context.Context, event *Event) {
	if !r.Enabled() || event == nil {
		return
	}
	if event.Type == EventAccessAllowed && !r.includeAllowed {
		return
	}
	metrics.AuditEventsEmitted.WithLabelValues(string(event.Type)).Inc()
	if err := r.sinks.Write(ctx, event); err != nil {
		r.logger.Debug("audit event not enqueued", zap.String("event_id", event.ID), zap.Error(err))
	}
}

// Health returns per-sink health, nil when disabled.
func (r *Recorder) Health() []QueuedSinkHealth {
	if !r.Enabled() {
		return nil
	}
	return r.sinks.Health()
}

// Close drains the queues and closes the sinks.
func (r *Recorder) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.sinks.Close()
}
