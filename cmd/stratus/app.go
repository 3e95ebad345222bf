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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/stratus/pkg/agent/weather"
	"github.com/kadirpekel/stratus/pkg/config"
	"github.com/kadirpekel/stratus/pkg/executor"
	"github.com/kadirpekel/stratus/pkg/observability"
	"github.com/kadirpekel/stratus/pkg/task"
)

// app holds the components shared by serve and local chat.
type app struct {
	cfg       *config.Config
	pool      *config.DBPool
	store     task.Store
	retention *task.Retention
	tracer    *observability.Tracer
	metrics   *observability.Metrics
	exec      *executor.Executor
}

// newApp builds the task store, observability and executor from cfg.
// Close releases everything newApp opened, also after a partial failure.
func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg, pool: config.NewDBPool()}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
			a = nil
		}
	}()

	a.store, err = task.NewStoreFromConfig(ctx, cfg, a.pool)
	if err != nil {
		return nil, fmt.Errorf("failed to create task store: %w", err)
	}

	a.retention, err = task.NewRetentionFromConfig(&cfg.Tasks.Retention, a.store)
	if err != nil {
		return nil, fmt.Errorf("failed to create retention sweeper: %w", err)
	}
	if a.retention != nil {
		a.retention.Start()
	}

	a.tracer, err = observability.NewTracer(ctx, &cfg.Observability.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	a.metrics, err = observability.NewMetrics(&cfg.Observability.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	weatherAgent, err := weather.NewFromConfig(&cfg.Agent)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	a.exec = executor.New(a.store, weatherAgent,
		executor.WithConfig(&cfg.Executor),
		executor.WithTracer(a.tracer),
		executor.WithMetrics(a.metrics),
	)

	slog.Debug("Components ready",
		"tasks_backend", cfg.Tasks.Backend,
		"tracing", cfg.Observability.Tracing.Enabled,
		"metrics", cfg.Observability.Metrics.Enabled)
	return a, nil
}

// Close stops background work and releases connections.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.retention != nil {
		a.retention.Stop()
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs,
		a.pool.Close(),
		a.tracer.Shutdown(ctx),
		a.metrics.Shutdown(ctx),
	)
	return errors.Join(errs...)
}
