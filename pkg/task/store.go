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
	"time"
)

// Store is keyed storage for tasks and the single source of truth for their state.
//
// Implementations hand out copies: callers mutate their copy through the
// transition methods and persist it with Update. Update is a compare-and-swap
// on Task.Version, so two writers working from the same snapshot cannot both
// succeed.
type Store interface {
	// GetOrCreate returns the open (non-terminal) task for contextID, or
	// creates a submitted task with msg as its first history entry.
	// The boolean reports whether the task was created.
	GetOrCreate(ctx context.Context, contextID string, msg Message, opts ...CreateOption) (*Task, bool, error)

	// Get retrieves a task by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, taskID string) (*Task, error)

	// Update persists task changes. Returns ErrNotFound for unknown ids and
	// ErrConflict when task.Version is stale. On success task.Version is bumped.
	Update(ctx context.Context, task *Task, opts ...UpdateOption) error

	// Sweep deletes terminal tasks last updated before the cutoff and
	// returns how many were removed.
	Sweep(ctx context.Context, before time.Time) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// CreateOption configures task creation in GetOrCreate.
type CreateOption func(*createOptions)

type createOptions struct {
	taskID string
}

// WithTaskID sets the id a newly created task receives.
// It has no effect when an open task already exists for the context.
func WithTaskID(id string) CreateOption {
	return func(o *createOptions) {
		o.taskID = id
	}
}

func applyCreateOptions(opts []CreateOption) createOptions {
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// UpdateOption configures Update.
type UpdateOption func(*updateOptions)

type updateOptions struct {
	overwrite bool
}

// Overwrite skips the version check. Use it only when the caller deliberately
// replaces whatever is stored.
func Overwrite() UpdateOption {
	return func(o *updateOptions) {
		o.overwrite = true
	}
}

func applyUpdateOptions(opts []UpdateOption) updateOptions {
	var o updateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
