// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"
)

func restoreGlobal(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestInitDisabled(t *testing.T) {
	restoreGlobal(t)

	tp, shutdown, err := Init(context.Background(), Options{Enabled: false})
	require.NoError(t, err)
	assert.IsType(t, noop.TracerProvider{}, tp)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitExporters(t *testing.T) {
	for _, exporter := range []string{"none", "stdout", "otlp"} {
		t.Run(exporter, func(t *testing.T) {
			restoreGlobal(t)

			// The OTLP exporter connects lazily, so an unroutable endpoint is fine.
			tp, shutdown, err := Init(context.Background(), Options{
				Enabled:  true,
				Exporter: exporter,
				Endpoint: "127.0.0.1:1",
				Insecure: true,
				Logger:   zaptest.NewLogger(t).Sugar(),
			})
			require.NoError(t, err)
			assert.IsType(t, &sdktrace.TracerProvider{}, tp)
			_ = shutdown(context.Background())
		})
	}
}

func TestInitInvalidExporter(t *testing.T) {
	_, _, err := Init(context.Background(), Options{Enabled: true, Exporter: "jaeger"})
	assert.ErrorContains(t, err, "unknown OTel exporter")
}

func TestInitSamplingRateOutOfRange(t *testing.T) {
	for _, rate := range []float64{-0.5, 2.0} {
		restoreGlobal(t)
		tp, shutdown, err := Init(context.Background(), Options{Enabled: true, Exporter: "none", SamplingRate: rate})
		require.NoError(t, err)
		require.NotNil(t, tp)
		_ = shutdown(context.Background())
	}
}

func TestShutdownIdempotent(t *testing.T) {
	restoreGlobal(t)
	_, shutdown, err := Init(context.Background(), Options{Enabled: true, Exporter: "none"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	_ = shutdown(context.Background())
}

func TestTracer(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := Tracer(tp).Start(context.Background(), "admission.evaluate")
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "admission.evaluate", ended[0].Name())
	assert.Equal(t, TracerName, ended[0].InstrumentationScope().Name)

	assert.NotNil(t, Tracer(nil))
}
