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
	"fmt"
	"net/http"
	"strconv"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records task lifecycle and HTTP metrics.
// A nil *Metrics (or one built with metrics disabled) records nothing.
type Metrics struct {
	registry *promclient.Registry
	provider *sdkmetric.MeterProvider

	tasksStarted  metric.Int64Counter
	tasksFinished metric.Int64Counter
	taskDuration  metric.Float64Histogram
	eventsEmitted metric.Int64Counter
	activeTasks   metric.Int64UpDownCounter
	rejections    metric.Int64Counter

	httpRequests metric.Int64Counter
	httpDuration metric.Float64Histogram
}

// NewMetrics creates the metric instruments on a dedicated Prometheus registry.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return &Metrics{}, nil
	}
	cfg.SetDefaults()

	registry := promclient.NewRegistry()
	var registerer promclient.Registerer = registry
	if len(cfg.ConstLabels) > 0 {
		registerer = promclient.WrapRegistererWith(promclient.Labels(cfg.ConstLabels), registry)
	}

	exporter, err := prometheus.New(
		prometheus.WithRegisterer(registerer),
		prometheus.WithNamespace(cfg.Namespace),
		prometheus.WithoutScopeInfo(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("stratus")

	m := &Metrics{registry: registry, provider: provider}

	if m.tasksStarted, err = meter.Int64Counter(
		"tasks_started_total",
		metric.WithDescription("Executor invocations started"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tasks started counter: %w", err)
	}

	if m.tasksFinished, err = meter.Int64Counter(
		"tasks_finished_total",
		metric.WithDescription("Executor invocations finished, by outcome state"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tasks finished counter: %w", err)
	}

	if m.taskDuration, err = meter.Float64Histogram(
		"task_invocation_duration_seconds",
		metric.WithDescription("Duration of one executor invocation in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create task duration histogram: %w", err)
	}

	if m.eventsEmitted, err = meter.Int64Counter(
		"events_emitted_total",
		metric.WithDescription("Protocol events delivered to consumers"),
	); err != nil {
		return nil, fmt.Errorf("failed to create events counter: %w", err)
	}

	if m.activeTasks, err = meter.Int64UpDownCounter(
		"tasks_active",
		metric.WithDescription("Tasks currently driven by an executor"),
	); err != nil {
		return nil, fmt.Errorf("failed to create active tasks gauge: %w", err)
	}

	if m.rejections, err = meter.Int64Counter(
		"requests_rejected_total",
		metric.WithDescription("Requests rejected before execution"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rejections counter: %w", err)
	}

	if m.httpRequests, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("HTTP requests served"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	if m.httpDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	return m, nil
}

// Enabled reports whether the metrics record anything.
func (m *Metrics) Enabled() bool {
	return m != nil && m.registry != nil
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (m *Metrics) Gatherer() promclient.Gatherer {
	if !m.Enabled() {
		return promclient.NewRegistry()
	}
	return m.registry
}

// RecordTaskStarted counts an invocation and marks it active.
func (m *Metrics) RecordTaskStarted(ctx context.Context, resumed bool) {
	if !m.Enabled() {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("resumed", resumed))
	m.tasksStarted.Add(ctx, 1, attrs)
	m.activeTasks.Add(ctx, 1)
}

// RecordTaskFinished records the outcome of an invocation.
func (m *Metrics) RecordTaskFinished(ctx context.Context, state, reason string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("state", state),
		attribute.String("reason", reason),
	)
	m.tasksFinished.Add(ctx, 1, attrs)
	m.taskDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("state", state)))
	m.activeTasks.Add(ctx, -1)
}

// RecordEvent counts an emitted protocol event.
func (m *Metrics) RecordEvent(ctx context.Context, kind string) {
	if !m.Enabled() {
		return
	}
	m.eventsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordRejection counts a request rejected before execution.
func (m *Metrics) RecordRejection(ctx context.Context, code string) {
	if !m.Enabled() {
		return
	}
	m.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
}

// Shutdown stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if !m.Enabled() {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
