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

package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions and descriptors such as @hourly.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a retention schedule expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Retention periodically deletes terminal tasks older than MaxAge.
// It is the only component that removes tasks from a Store.
type Retention struct {
	store  Store
	maxAge time.Duration
	cron   *cron.Cron
	now    func() time.Time
}

// NewRetention creates a sweeper for store on the given cron schedule.
func NewRetention(store Store, schedule string, maxAge time.Duration) (*Retention, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive, got %s", maxAge)
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}

	r := &Retention{
		store:  store,
		maxAge: maxAge,
		cron:   cron.New(cron.WithParser(cronParser)),
		now:    time.Now,
	}
	r.cron.Schedule(sched, cron.FuncJob(func() {
		if _, err := r.SweepOnce(context.Background()); err != nil {
			slog.Warn("Task retention sweep failed", "error", err)
		}
	}))
	return r, nil
}

// SweepOnce removes terminal tasks last updated more than MaxAge ago.
func (r *Retention) SweepOnce(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.maxAge)
	n, err := r.store.Sweep(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("Swept expired tasks", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// Start begins the schedule in its own goroutine.
func (r *Retention) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}
