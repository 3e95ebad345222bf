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

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"

	"github.com/kadirpekel/stratus/pkg/event"
	"github.com/kadirpekel/stratus/pkg/executor"
	"github.com/kadirpekel/stratus/pkg/task"
)

// MetaFailureReason carries the failure reason on failed status updates.
const MetaFailureReason = "stratus:failure_reason"

// AgentExecutor exposes an executor through a2asrv.
//
// Event translation:
//   - task_created: TaskStatusUpdateEvent with TaskStateSubmitted
//   - status_changed (working): TaskStatusUpdateEvent with the progress message
//   - status_changed (input-required, failed): final TaskStatusUpdateEvent
//   - artifact_delivered: TaskArtifactUpdateEvent with LastChunk=true,
//     followed by the final TaskStatusUpdateEvent with TaskStateCompleted
type AgentExecutor struct {
	exec *executor.Executor
}

// NewAgentExecutor creates the a2asrv bridge for exec.
func NewAgentExecutor(exec *executor.Executor) *AgentExecutor {
	return &AgentExecutor{exec: exec}
}

// Execute implements a2asrv.AgentExecutor.
func (b *AgentExecutor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	if reqCtx.Message == nil {
		return fmt.Errorf("message not provided")
	}

	req := executor.Request{
		Query:     MessageText(reqCtx.Message),
		ContextID: reqCtx.ContextID,
	}
	if reqCtx.StoredTask != nil {
		req.TaskID = string(reqCtx.TaskID)
	} else {
		req.AssignTaskID = string(reqCtx.TaskID)
	}

	ch, err := b.exec.Submit(ctx, req)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return fmt.Errorf("%w: %v", a2a.ErrTaskNotFound, err)
		}
		return err
	}
	defer ch.Detach()

	tr := newTranslator(reqCtx)
	for ev := range ch.Events() {
		for _, out := range tr.translate(ev) {
			if err := queue.Write(ctx, out); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}
		}
	}
	return nil
}

// Cancel implements a2asrv.AgentExecutor. Tasks run to a terminal state
// and cannot be canceled.
func (b *AgentExecutor) Cancel(_ context.Context, reqCtx *a2asrv.RequestContext, _ eventqueue.Queue) error {
	return fmt.Errorf("task %s cannot be canceled", reqCtx.TaskID)
}

// translator maps executor events onto A2A events for one request.
type translator struct {
	reqCtx *a2asrv.RequestContext

	// completed is held back until the artifact has been written
	completed *a2a.TaskStatusUpdateEvent
}

func newTranslator(reqCtx *a2asrv.RequestContext) *translator {
	return &translator{reqCtx: reqCtx}
}

func (tr *translator) translate(ev event.Event) []a2a.Event {
	switch e := ev.(type) {
	case event.TaskCreated:
		return []a2a.Event{a2a.NewStatusUpdateEvent(tr.reqCtx, a2a.TaskStateSubmitted, nil)}

	case event.StatusChanged:
		return tr.status(e)

	case event.ArtifactDelivered:
		art := a2a.NewArtifactEvent(tr.reqCtx, a2a.TextPart{Text: e.Artifact.Text})
		art.Artifact.Name = e.Artifact.Name
		art.Artifact.Description = e.Artifact.Description
		art.LastChunk = e.IsFinal

		done := tr.completed
		if done == nil {
			done = a2a.NewStatusUpdateEvent(tr.reqCtx, a2a.TaskStateCompleted, nil)
		}
		done.Final = true
		tr.completed = nil
		return []a2a.Event{art, done}

	default:
		slog.Warn("Dropping unknown event", "kind", ev.Kind())
		return nil
	}
}

func (tr *translator) status(e event.StatusChanged) []a2a.Event {
	var msg *a2a.Message
	if e.Message != "" {
		msg = a2a.NewMessageForTask(a2a.MessageRoleAgent, tr.reqCtx, a2a.TextPart{Text: e.Message})
	}

	switch e.State {
	case task.StateCompleted:
		tr.completed = a2a.NewStatusUpdateEvent(tr.reqCtx, a2a.TaskStateCompleted, msg)
		return nil

	case task.StateInputRequired:
		ev := a2a.NewStatusUpdateEvent(tr.reqCtx, a2a.TaskStateInputRequired, msg)
		ev.Final = true
		ev.Metadata = map[string]any{"input_required": true, "input_prompt": e.Message}
		return []a2a.Event{ev}

	case task.StateFailed:
		ev := a2a.NewStatusUpdateEvent(tr.reqCtx, a2a.TaskStateFailed, msg)
		ev.Final = true
		ev.Metadata = map[string]any{MetaFailureReason: string(e.Reason)}
		return []a2a.Event{ev}

	default:
		return []a2a.Event{a2a.NewStatusUpdateEvent(tr.reqCtx, a2a.TaskStateWorking, msg)}
	}
}

// MessageText joins the text parts of msg.
func MessageText(msg *a2a.Message) string {
	if msg == nil {
		return ""
	}
	var texts []string
	for _, part := range msg.Parts {
		if tp, ok := part.(a2a.TextPart); ok {
			texts = append(texts, tp.Text)
		}
	}
	return strings.Join(texts, "\n")
}

var _ a2asrv.AgentExecutor = (*AgentExecutor)(nil)
