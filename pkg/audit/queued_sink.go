/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/admission-gateway/pkg/metrics"
)

// QueuedSinkConfig configures a QueuedSink.
type QueuedSinkConfig struct {
	// QueueSize is the size of the async event queue.
	// Default: 10000
	QueueSize int

	// WorkerCount is the number of async processing workers.
	// Default: 2
	WorkerCount int

	// WriteTimeout bounds a single write to the underlying sink.
	// Default: 5s
	WriteTimeout time.Duration

	// CircuitBreaker guards the underlying sink.
	CircuitBreaker CircuitBreakerConfig
}

// DefaultQueuedSinkConfig returns the default queue settings.
func DefaultQueuedSinkConfig() QueuedSinkConfig {
	return QueuedSinkConfig{
		QueueSize:      10000,
		WorkerCount:    2,
		WriteTimeout:   5 * time.Second,
		CircuitBreaker: DefaultCircuitBreakerConfig(),
	}
}

// QueuedSinkHealth represents the health status of a queued sink.
type QueuedSinkHealth struct {
	Name            string    `json:"name"`
	Healthy         bool      `json:"healthy"`
	QueueLength     int       `json:"queueLength"`
	QueueCapacity   int       `json:"queueCapacity"`
	DroppedEvents   int64     `json:"droppedEvents"`
	ProcessedEvents int64     `json:"processedEvents"`
	FailedEvents    int64     `json:"failedEvents"`
	CircuitState    string    `json:"circuitState"`
	LastError       string    `json:"lastError,omitempty"`
	LastSuccessTime time.Time `json:"lastSuccessTime,omitempty"`
}

// QueuedSink gives a Sink its own bounded queue and workers. Write never
// blocks: a full queue or an open circuit drops the event.
type QueuedSink struct {
	sink    Sink
	queue   chan *Event
	config  QueuedSinkConfig
	breaker *CircuitBreaker
	logger  *zap.Logger

	droppedEvents   atomic.Int64
	processedEvents atomic.Int64
	failedEvents    atomic.Int64

	mu              sync.RWMutex
	lastSuccessTime time.Time

	wg     sync.WaitGroup
	closed atomic.Bool
	// closeMu orders enqueues against closing the channel.
	closeMu sync.RWMutex
}

// NewQueuedSink wraps sink and starts its workers.
func NewQueuedSink(sink Sink, cfg QueuedSinkConfig, logger *zap.Logger) *QueuedSink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	qs := &QueuedSink{
		sink:    sink,
		queue:   make(chan *Event, cfg.QueueSize),
		config:  cfg,
		breaker: NewCircuitBreaker(sink.Name(), cfg.CircuitBreaker, logger),
		logger:  logger.Named("queued-sink").With(zap.String("sink", sink.Name())),
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		qs.wg.Add(1)
		go qs.processQueue(i)
	}

	qs.logger.Info("queued sink started",
		zap.Int("queue_size", cfg.QueueSize),
		zap.Int("workers", cfg.WorkerCount),
		zap.Duration("write_timeout", cfg.WriteTimeout))

	return qs
}

// Write enqueues an event for async processing.
func (qs *QueuedSink) Write(_ context.Context, event *Event) error {
	qs.closeMu.RLock()
	defer qs.closeMu.RUnlock()

	if qs.closed.Load() {
		return fmt.Errorf("queued sink %s is closed", qs.sink.Name())
	}

	select {
	case qs.queue <- event:
		return nil
	default:
		qs.drop(event, "queue_full")
		return nil
	}
}

func (qs *QueuedSink) drop(event *Event, reason string) {
	qs.droppedEvents.Add(1)
	metrics.AuditEventsDropped.WithLabelValues(qs.sink.Name(), reason).Inc()
	qs.logger.Debug("dropping audit event",
		zap.String("reason", reason),
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)))
}

func (qs *QueuedSink) processQueue(workerID int) {
	defer qs.wg.Done()

	for event := range qs.queue {
		ctx, cancel := context.WithTimeout(context.Background(), qs.config.WriteTimeout)
		err := qs.breaker.Execute(ctx, func(ctx context.Context) error {
			return qs.sink.Write(ctx, event)
		})
		cancel()

		switch {
		case err == nil:
			qs.processedEvents.Add(1)
			metrics.AuditEventsProcessed.WithLabelValues(qs.sink.Name()).Inc()
			qs.mu.Lock()
			qs.lastSuccessTime = time.Now()
			qs.mu.Unlock()
		case errors.Is(err, ErrCircuitOpen):
			qs.drop(event, "circuit_open")
		default:
			qs.failedEvents.Add(1)
			metrics.AuditSinkErrors.WithLabelValues(qs.sink.Name(), "write").Inc()
			qs.logger.Error("failed to write audit event",
				zap.Int("worker", workerID),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.String("error", err.Error()))
		}
	}
}

// Health returns the current health status of this sink. A sink is healthy
// while its circuit is closed and its queue is below 80% capacity.
func (qs *QueuedSink) Health() QueuedSinkHealth {
	qs.mu.RLock()
	lastSuccess := qs.lastSuccessTime
	qs.mu.RUnlock()

	stats := qs.breaker.Stats()
	queueLen, queueCap := len(qs.queue), cap(qs.queue)

	h := QueuedSinkHealth{
		Name:            qs.sink.Name(),
		Healthy:         stats.State == CircuitClosed && float64(queueLen) < float64(queueCap)*0.8,
		QueueLength:     queueLen,
		QueueCapacity:   queueCap,
		DroppedEvents:   qs.droppedEvents.Load(),
		ProcessedEvents: qs.processedEvents.Load(),
		FailedEvents:    qs.failedEvents.Load(),
		CircuitState:    stats.State.String(),
		LastSuccessTime: lastSuccess,
	}
	if stats.LastError != nil {
		h.LastError = stats.LastError.Error()
	}
	return h
}

// Close drains the queue, stops the workers and closes the underlying sink.
func (qs *QueuedSink) Close() error {
	qs.closeMu.Lock()
	if qs.closed.Swap(true) {
		qs.closeMu.Unlock()
		return nil
	}
	close(qs.queue)
	qs.closeMu.Unlock()

	qs.wg.Wait()
	return qs.sink.Close()
}

// Name returns the underlying sink's name.
func (qs *QueuedSink) Name() string {
	return qs.sink.Name()
}

// IsolatedMultiSink broadcasts events to several QueuedSinks, each with its
// own queue.
type IsolatedMultiSink struct {
	sinks []*QueuedSink
}

// NewIsolatedMultiSink wraps every sink in its own QueuedSink.
func NewIsolatedMultiSink(sinks []Sink, cfg QueuedSinkConfig, logger *zap.Logger) *IsolatedMultiSink {
	queued := make([]*QueuedSink, 0, len(sinks))
	for _, sink := range sinks {
		queued = append(queued, NewQueuedSink(sink, cfg, logger))
	}
	return &IsolatedMultiSink{sinks: queued}
}

// Write enqueues the event on every sink.
func (ims *IsolatedMultiSink) Write(ctx context.Context, event *Event) error {
	var errs []error
	for _, qs := range ims.sinks {
		if err := qs.Write(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close shuts down all queued sinks.
func (ims *IsolatedMultiSink) Close() error {
	var errs []error
	for _, qs := range ims.sinks {
		if err := qs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Name returns the sink identifier.
func (ims *IsolatedMultiSink) Name() string {
	return "isolated-multi"
}

// Health returns the health status of all underlying sinks.
func (ims *IsolatedMultiSink) Health() []QueuedSinkHealth {
	healths := make([]QueuedSinkHealth, 0, len(ims.sinks))
	for _, qs := range ims.sinks {
		healths = append(healths, qs.Health())
	}
	return healths
}

// IsHealthy returns true if all sinks are healthy.
func (ims *IsolatedMultiSink) IsHealthy() bool {
	for _, qs := range ims.sinks {
		if !qs.Health().Healthy {
			return false
		}
	}
	return true
}
