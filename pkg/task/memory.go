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
	"sync"
	"time"
)

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task

	// open maps a context id to the id of its open task.
	open map[string]string
}

// NewInMemoryStore creates a new in-memory task store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tasks: make(map[string]*Task),
		open:  make(map[string]string),
	}
}

// GetOrCreate returns the open task for the context or creates one.
func (s *InMemoryStore) GetOrCreate(_ context.Context, contextID string, msg Message, opts ...CreateOption) (*Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.open[contextID]; ok {
		if t, ok := s.tasks[id]; ok && t.Status.State.IsOpen() {
			return t.Clone(), false, nil
		}
		delete(s.open, contextID)
	}

	o := applyCreateOptions(opts)
	if o.taskID != "" {
		if _, exists := s.tasks[o.taskID]; exists {
			return nil, false, ErrConflict
		}
	}

	t := New(o.taskID, contextID, msg)
	t.Version = 1
	s.tasks[t.ID] = t
	s.open[contextID] = t.ID
	return t.Clone(), true, nil
}

// Get retrieves a task by ID.
func (s *InMemoryStore) Get(_ context.Context, taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

// Update saves task changes.
func (s *InMemoryStore) Update(_ context.Context, task *Task, opts ...UpdateOption) error {
	o := applyUpdateOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[task.ID]
	if !ok {
		return ErrNotFound
	}
	if !o.overwrite && current.Version != task.Version {
		return ErrConflict
	}

	task.Version = current.Version + 1
	stored := task.Clone()
	s.tasks[task.ID] = stored

	if stored.Status.State.IsTerminal() {
		if s.open[stored.ContextID] == stored.ID {
			delete(s.open, stored.ContextID)
		}
	} else {
		s.open[stored.ContextID] = stored.ID
	}
	return nil
}

// Sweep deletes terminal tasks last updated before the cutoff.
func (s *InMemoryStore) Sweep(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.tasks {
		if t.Status.State.IsTerminal() && t.UpdatedAt.Before(before) {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored tasks.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

var _ Store = (*InMemoryStore)(nil)
