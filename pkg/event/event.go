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

// Package event defines the protocol events emitted while a task executes
// and the bounded channel that carries them to a consumer.
//
// For one task, events arrive in the order they were emitted:
//
//	TaskCreated              (new tasks only)
//	StatusChanged{working}   (resumed tasks only)
//	StatusChanged{working}*  (one per progress notice)
//	StatusChanged{terminal}  (input-required, completed or failed)
//	ArtifactDelivered{final} (completed only)
package event

import (
	"fmt"
	"time"

	"github.com/kadirpekel/stratus/pkg/task"
)

// Kind names an event type.
type Kind string

const (
	KindTaskCreated       Kind = "task_created"
	KindStatusChanged     Kind = "status_changed"
	KindArtifactDelivered Kind = "artifact_delivered"
)

// Event is one of TaskCreated, StatusChanged or ArtifactDelivered.
type Event interface {
	Kind() Kind
	Meta() Header
	withSeq(seq uint64) Event
}

// Header is carried by every event.
type Header struct {
	TaskID    string    `json:"task_id"`
	ContextID string    `json:"context_id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// HeaderFor builds a header for t stamped with the current time.
func HeaderFor(t *task.Task) Header {
	return Header{
		TaskID:    t.ID,
		ContextID: t.ContextID,
		Timestamp: time.Now(),
	}
}

// TaskCreated announces a newly created task.
type TaskCreated struct {
	Header
}

func (TaskCreated) Kind() Kind       { return KindTaskCreated }
func (e TaskCreated) Meta() Header   { return e.Header }
func (e TaskCreated) String() string { return fmt.Sprintf("TaskCreated(%s)", e.TaskID) }

func (e TaskCreated) withSeq(seq uint64) Event {
	e.Seq = seq
	return e
}

// StatusChanged reports a task state, with the agent's message and, for
// failures, the reason.
type StatusChanged struct {
	Header
	State   task.State         `json:"state"`
	Message string             `json:"message,omitempty"`
	Reason  task.FailureReason `json:"reason,omitempty"`
}

func (StatusChanged) Kind() Kind     { return KindStatusChanged }
func (e StatusChanged) Meta() Header { return e.Header }

// Terminal reports whether this status ends the current invocation.
func (e StatusChanged) Terminal() bool {
	return e.State.IsTerminal() || e.State == task.StateInputRequired
}

func (e StatusChanged) String() string {
	if e.Reason != "" {
		return fmt.Sprintf("StatusChanged(%s, %s, %s)", e.TaskID, e.State, e.Reason)
	}
	return fmt.Sprintf("StatusChanged(%s, %s)", e.TaskID, e.State)
}

func (e StatusChanged) withSeq(seq uint64) Event {
	e.Seq = seq
	return e
}

// ArtifactDelivered carries the task's deliverable.
type ArtifactDelivered struct {
	Header
	Artifact task.Artifact `json:"artifact"`
	IsFinal  bool          `json:"is_final"`
}

func (ArtifactDelivered) Kind() Kind     { return KindArtifactDelivered }
func (e ArtifactDelivered) Meta() Header { return e.Header }

func (e ArtifactDelivered) String() string {
	return fmt.Sprintf("ArtifactDelivered(%s, final=%t)", e.TaskID, e.IsFinal)
}

func (e ArtifactDelivered) withSeq(seq uint64) Event {
	e.Seq = seq
	return e
}

// IsTerminal reports whether ev is the last event of an invocation.
// A completed status is followed by its artifact, so it is not terminal.
func IsTerminal(ev Event) bool {
	switch e := ev.(type) {
	case ArtifactDelivered:
		return e.IsFinal
	case StatusChanged:
		return e.Terminal() && e.State != task.StateCompleted
	default:
		return false
	}
}
