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

// Package task provides the task model, state machine and task stores.
//
// A Task is one request/response cycle within a conversation context. This
// package implements:
//   - The task state machine (submitted → working → input-required/completed/failed)
//   - Append-only task history
//   - Stores with optimistic concurrency (in-memory, SQL, Redis)
//   - Retention sweeps for terminal tasks
package task

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a history message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is one turn in a task's history.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with a fresh id.
func NewMessage(role Role, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// Artifact is the final deliverable of a completed task.
type Artifact struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Text        string `json:"text"`
}

// Status is the current state plus the last published status message.
type Status struct {
	State     State         `json:"state"`
	Message   string        `json:"message,omitempty"`
	Reason    FailureReason `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Task is the mutable record of one request/response cycle.
//
// Tasks are values owned by a Store: Get and GetOrCreate return copies, and
// changes only become visible through Update. State changes go through the
// transition methods, which enforce the state machine.
type Task struct {
	ID        string    `json:"id"`
	ContextID string    `json:"context_id"`
	Status    Status    `json:"status"`
	History   []Message `json:"history"`
	Artifact  *Artifact `json:"artifact,omitempty"`

	// Version is bumped by the store on every successful update.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a submitted task for the context with msg as its first history entry.
func New(id, contextID string, msg Message) *Task {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &Task{
		ID:        id,
		ContextID: contextID,
		Status: Status{
			State:     StateSubmitted,
			Timestamp: now,
		},
		History:   []Message{msg},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// State returns the current state.
func (t *Task) State() State {
	return t.Status.State
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.History = slices.Clone(t.History)
	if t.Artifact != nil {
		a := *t.Artifact
		c.Artifact = &a
	}
	return &c
}

// LastMessage returns the most recent history entry.
func (t *Task) LastMessage() (Message, bool) {
	if len(t.History) == 0 {
		return Message{}, false
	}
	return t.History[len(t.History)-1], true
}

// Start moves a submitted task to working.
func (t *Task) Start() error {
	return t.transition(StateWorking, "", "")
}

// Resume moves an input-required task back to working and records the
// client's follow-up message. The message is appended before the state
// changes so the agent sees it in the history it is invoked with.
func (t *Task) Resume(msg Message) error {
	if t.Status.State != StateInputRequired {
		return &TransitionError{TaskID: t.ID, From: t.Status.State, To: StateWorking}
	}
	t.appendHistory(msg)
	return t.transition(StateWorking, "", "")
}

// Continue records a follow-up message on a working task whose previous
// execution stopped before reaching a terminal state.
func (t *Task) Continue(msg Message) error {
	if t.Status.State != StateWorking {
		return &TransitionError{TaskID: t.ID, From: t.Status.State, To: StateWorking}
	}
	t.appendHistory(msg)
	return t.transition(StateWorking, "", "")
}

// Progress publishes a status message without changing the state.
func (t *Task) Progress(message string) error {
	return t.transition(StateWorking, message, "")
}

// RequestInput pauses the task until the client answers prompt.
func (t *Task) RequestInput(prompt string) error {
	if err := t.transition(StateInputRequired, prompt, ""); err != nil {
		return err
	}
	t.appendHistory(NewMessage(RoleAgent, prompt))
	return nil
}

// Complete records the final artifact and ends the task.
func (t *Task) Complete(artifact Artifact) error {
	if err := t.transition(StateCompleted, "", ""); err != nil {
		return err
	}
	if artifact.ID == "" {
		artifact.ID = uuid.NewString()
	}
	t.Artifact = &artifact
	t.appendHistory(NewMessage(RoleAgent, artifact.Text))
	return nil
}

// Fail ends the task with a reason and a human-readable message.
func (t *Task) Fail(reason FailureReason, message string) error {
	return t.transition(StateFailed, message, reason)
}

func (t *Task) transition(to State, message string, reason FailureReason) error {
	if !CanTransition(t.Status.State, to) {
		return &TransitionError{TaskID: t.ID, From: t.Status.State, To: to}
	}
	now := time.Now()
	t.Status = Status{
		State:     to,
		Message:   message,
		Reason:    reason,
		Timestamp: now,
	}
	t.UpdatedAt = now
	return nil
}

func (t *Task) appendHistory(msg Message) {
	t.History = append(t.History, msg)
	t.UpdatedAt = time.Now()
}
