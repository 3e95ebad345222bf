// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, DefaultServiceName, cfg.Tracing.ServiceName)
	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
	assert.Equal(t, DefaultOTLPEndpoint, cfg.Tracing.Endpoint)
	assert.True(t, cfg.Tracing.IsInsecure())
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Endpoint)
	assert.Equal(t, DefaultNamespace, cfg.Metrics.Namespace)
	require.NoError(t, cfg.Validate())
}

func TestTracingConfigValidate(t *testing.T) {
	cfg := &TracingConfig{Enabled: true, Exporter: "zipkin", Endpoint: "x", SamplingRate: 1}
	assert.Error(t, cfg.Validate())

	cfg = &TracingConfig{Enabled: true, Exporter: "stdout", Endpoint: "x", SamplingRate: 2}
	assert.Error(t, cfg.Validate())

	cfg = &TracingConfig{Enabled: false, Exporter: "bogus"}
	assert.NoError(t, cfg.Validate())
}

func TestDisabledMetricsAreNoop(t *testing.T) {
	ctx := context.Background()

	m, err := NewMetrics(&MetricsConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, m.Enabled())

	m.RecordTaskStarted(ctx, false)
	m.RecordTaskFinished(ctx, "completed", "", time.Second)
	m.RecordEvent(ctx, "status_changed")

	var nilMetrics *Metrics
	nilMetrics.RecordRejection(ctx, "invalid_resume")
	assert.NoError(t, nilMetrics.Shutdown(ctx))
}

func TestMetricsExposition(t *testing.T) {
	ctx := context.Background()

	m, err := NewMetrics(&MetricsConfig{Enabled: true, ConstLabels: map[string]string{"deployment": "test"}})
	require.NoError(t, err)
	defer m.Shutdown(ctx)

	m.RecordTaskStarted(ctx, true)
	m.RecordTaskFinished(ctx, "input-required", "", 20*time.Millisecond)
	m.RecordEvent(ctx, "task_created")
	m.RecordRejection(ctx, "task_not_found")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "stratus_tasks_started_total")
	assert.Contains(t, text, "stratus_tasks_finished_total")
	assert.Contains(t, text, "stratus_events_emitted_total")
	assert.Contains(t, text, "stratus_requests_rejected_total")
	assert.Contains(t, text, `deployment="test"`)
}

func TestNilTracerProducesNoopSpans(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.StartTaskExecution(context.Background(), "agent", "t1", "c1", false)
	defer span.End()

	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
	tracer.AddItem(span, "progress")
	tracer.RecordError(span, errors.New("boom"))
	assert.NoError(t, tracer.Shutdown(context.Background()))
}

func TestNewTracerDisabled(t *testing.T) {
	tracer, err := NewTracer(context.Background(), &TracingConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, tracer)
}

func TestTracerRecordsTaskSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	tracer := NewTracerFromProvider(provider, "test")

	_, span := tracer.StartTaskExecution(context.Background(), "weather", "t1", "c1", true)
	tracer.AddItem(span, "progress")
	tracer.SetOutcome(span, "failed", "timeout")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, SpanTaskExecute, spans[0].Name)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, SpanAgentItem, spans[0].Events[0].Name)

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "t1", attrs[AttrTaskID])
	assert.Equal(t, "true", attrs[AttrTaskResumed])
	assert.Equal(t, "timeout", attrs[AttrFailureReason])
}

func TestHTTPMiddleware(t *testing.T) {
	m, err := NewMetrics(&MetricsConfig{Enabled: true})
	require.NoError(t, err)

	handler := HTTPMiddleware(nil, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}")))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)

	found := false
	for _, f := range families {
		if f.GetName() == "stratus_http_requests_total" {
			found = true
		}
	}
	assert.True(t, found, "http request counter should be exported")
}
