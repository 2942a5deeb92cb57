/*
Copyright 2024.

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
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/admission-gateway/pkg/metrics"
)

func TestKafkaSinkConfig_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name    string
		cfg     KafkaSinkConfig
		wantErr string
	}{
		{name: "valid minimal config", cfg: KafkaSinkConfig{Brokers: []string{"localhost:9092"}, Topic: "admission-audit"}},
		{name: "missing brokers", cfg: KafkaSinkConfig{Topic: "admission-audit"}, wantErr: "at least one Kafka broker is required"},
		{name: "missing topic", cfg: KafkaSinkConfig{Brokers: []string{"localhost:9092"}}, wantErr: "kafka topic is required"},
		{name: "unknown codec", cfg: KafkaSinkConfig{Brokers: []string{"localhost:9092"}, Topic: "t", CompressionCodec: "brotli"}, wantErr: "unsupported compression codec"},
		{
			name: "TLS without files",
			cfg:  KafkaSinkConfig{Brokers: []string{"kafka:9093"}, Topic: "t", TLS: &KafkaTLSConfig{Enabled: true, InsecureSkipVerify: true}},
		},
		{
			name:    "TLS with missing CA file",
			cfg:     KafkaSinkConfig{Brokers: []string{"kafka:9093"}, Topic: "t", TLS: &KafkaTLSConfig{Enabled: true, CAFile: "/does/not/exist.pem"}},
			wantErr: "failed to build TLS config",
		},
		{
			name: "SASL SCRAM",
			cfg:  KafkaSinkConfig{Brokers: []string{"kafka:9092"}, Topic: "t", SASL: &KafkaSASLConfig{Mechanism: "scram-sha-512", Username: "u", Password: "p"}},
		},
		{
			name:    "SASL unknown mechanism",
			cfg:     KafkaSinkConfig{Brokers: []string{"kafka:9092"}, Topic: "t", SASL: &KafkaSASLConfig{Mechanism: "GSSAPI"}},
			wantErr: "unsupported SASL mechanism",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewKafkaSink(tt.cfg, logger)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "kafka", sink.Name())
			assert.True(t, sink.IsConnected())
			require.NoError(t, sink.Close())
		})
	}
}

func TestBuildTLSConfig_Files(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))

	_, err := buildTLSConfig(&KafkaTLSConfig{Enabled: true, CAFile: bad})
	assert.ErrorContains(t, err, "failed to parse CA certificate")

	_, err = buildTLSConfig(&KafkaTLSConfig{Enabled: true, CertFile: bad, KeyFile: bad})
	assert.ErrorContains(t, err, "failed to load client certificate")

	cfg, err := buildTLSConfig(&KafkaTLSConfig{Enabled: true})
	require.NoError(t, err)
	assert.Nil(t, cfg.RootCAs)
	assert.Empty(t, cfg.Certificates)
}

func TestCompressionCodec(t *testing.T) {
	for name, want := range map[string]kafka.Compression{
		"":       kafka.Snappy,
		"snappy": kafka.Snappy,
		"GZIP":   kafka.Gzip,
		"lz4":    kafka.Lz4,
		"zstd":   kafka.Zstd,
		"none":   0,
	} {
		got, err := compressionCodec(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestKafkaMessage(t *testing.T) {
	ev := NewEvent(EventAccessDenied, "RATE_LIMITED")
	ev.RequestContext = &RequestContext{CorrelationID: "req-1"}

	msg, err := kafkaMessage(ev)
	require.NoError(t, err)
	assert.Equal(t, []byte(ev.ID), msg.Key)
	assert.Contains(t, string(msg.Value), `"reason":"RATE_LIMITED"`)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "access.denied", headers["event-type"])
	assert.Equal(t, "critical", headers["severity"])
	assert.Equal(t, "RATE_LIMITED", headers["reason"])
	assert.Equal(t, "req-1", headers["correlation-id"])
}

func TestKafkaSink_WriteAfterClose(t *testing.T) {
	sink, err := NewKafkaSink(KafkaSinkConfig{Name: "kafka-closed", Brokers: []string{"localhost:9092"}, Topic: "t"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	err = sink.Write(context.Background(), testEvent(1))
	assert.ErrorContains(t, err, "closed")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuditSinkErrors.WithLabelValues("kafka-closed", "closed")))
}

func TestKafkaSink_WriteToUnreachableBroker(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	sink, err := NewKafkaSink(KafkaSinkConfig{
		Name:         "kafka-unreachable",
		Brokers:      []string{addr},
		Topic:        "admission-audit",
		MaxAttempts:  1,
		WriteTimeout: time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err = sink.Write(ctx, testEvent(1))
	require.Error(t, err)
	assert.False(t, sink.IsConnected())
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.AuditSinkConnected.WithLabelValues("kafka-unreachable")))
}

func TestClassifyKafkaError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.DeadlineExceeded, "timeout"},
		{fmt.Errorf("wrapped: %w", context.Canceled), "cancelled"},
		{&net.DNSError{Err: "no such host", Name: "kafka"}, "dns"},
		{&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, "network"},
		{errors.New("SASL handshake failed"), "auth"},
		{errors.New("topic authorization failed: ACL"), "authorization"},
		{errors.New("request timed out"), "timeout"},
		{errors.New("x509: certificate signed by unknown authority"), "tls"},
		{errors.New("not leader for partition"), "broker"},
		{errors.New("unknown topic"), "topic"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyKafkaError(tt.err), "%v", tt.err)
	}
}
