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

package client

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"

	"github.com/kadirpekel/stratus/pkg/event"
	"github.com/kadirpekel/stratus/pkg/task"
)

// metaFailureReason mirrors the key the server puts failure reasons under.
const metaFailureReason = "stratus:failure_reason"

// Remote talks to an A2A server.
type Remote struct {
	card   *a2a.AgentCard
	client *a2aclient.Client
}

// Dial resolves the agent card at baseURL and connects to the agent.
func Dial(ctx context.Context, baseURL string) (*Remote, error) {
	card, err := agentcard.DefaultResolver.Resolve(ctx, strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent card from %s: %w", baseURL, err)
	}
	return NewRemote(ctx, card)
}

// NewRemote connects to the agent described by card.
func NewRemote(ctx context.Context, card *a2a.AgentCard) (*Remote, error) {
	client, err := a2aclient.NewFromCard(ctx, card)
	if err != nil {
		return nil, fmt.Errorf("client creation failed: %w", err)
	}
	return &Remote{card: card, client: client}, nil
}

// Info implements Transport.
func (r *Remote) Info() Info {
	return Info{
		Name:      r.card.Name,
		URL:       r.card.URL,
		Streaming: r.card.Capabilities.Streaming,
	}
}

// Send implements Transport.
func (r *Remote) Send(ctx context.Context, turn Turn) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: turn.Query})
		msg.ContextID = turn.ContextID
		msg.TaskID = a2a.TaskID(turn.TaskID)

		conv := &converter{}
		for a2aEvent, err := range r.client.SendStreamingMessage(ctx, &a2a.MessageSendParams{Message: msg}) {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, ev := range conv.convert(a2aEvent) {
				if !yield(ev, nil) {
					return
				}
			}
		}
		for _, ev := range conv.flush() {
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Close implements Transport.
func (r *Remote) Close() error {
	return r.client.Destroy()
}

// converter maps A2A events back onto task events. A2A sends the artifact
// before the final completed status; the converter restores the
// completed-then-artifact order.
type converter struct {
	seq      uint64
	created  bool
	artifact *event.ArtifactDelivered
}

func (c *converter) header(taskID a2a.TaskID, contextID string) event.Header {
	c.seq++
	return event.Header{TaskID: string(taskID), ContextID: contextID, Seq: c.seq, Timestamp: time.Now()}
}

func (c *converter) convert(ev a2a.Event) []event.Event {
	switch v := ev.(type) {
	case *a2a.TaskStatusUpdateEvent:
		return c.status(v.TaskID, v.ContextID, v.Status, v.Metadata)

	case *a2a.Task:
		return c.status(v.ID, v.ContextID, v.Status, v.Metadata)

	case *a2a.TaskArtifactUpdateEvent:
		text := partsText(v.Artifact.Parts)
		if c.artifact != nil {
			c.artifact.Artifact.Text += text
		} else {
			c.artifact = &event.ArtifactDelivered{
				Header: c.header(v.TaskID, v.ContextID),
				Artifact: task.Artifact{
					ID:          string(v.Artifact.ID),
					Name:        v.Artifact.Name,
					Description: v.Artifact.Description,
					Text:        text,
				},
			}
		}
		c.artifact.IsFinal = v.LastChunk
		return nil

	case *a2a.Message:
		h := c.header(v.TaskID, v.ContextID)
		return []event.Event{
			event.StatusChanged{Header: h, State: task.StateCompleted},
			event.ArtifactDelivered{Header: h, Artifact: task.Artifact{Text: partsText(v.Parts)}, IsFinal: true},
		}

	default:
		slog.Debug("Ignoring unknown A2A event", "type", fmt.Sprintf("%T", ev))
		return nil
	}
}

func (c *converter) status(taskID a2a.TaskID, contextID string, st a2a.TaskStatus, meta map[string]any) []event.Event {
	var text string
	if st.Message != nil {
		text = partsText(st.Message.Parts)
	}

	switch st.State {
	case a2a.TaskStateSubmitted:
		if c.created {
			return nil
		}
		c.created = true
		return []event.Event{event.TaskCreated{Header: c.header(taskID, contextID)}}

	case a2a.TaskStateWorking:
		return []event.Event{event.StatusChanged{Header: c.header(taskID, contextID), State: task.StateWorking, Message: text}}

	case a2a.TaskStateInputRequired:
		return []event.Event{event.StatusChanged{Header: c.header(taskID, contextID), State: task.StateInputRequired, Message: text}}

	case a2a.TaskStateCompleted:
		out := []event.Event{event.StatusChanged{Header: c.header(taskID, contextID), State: task.StateCompleted, Message: text}}
		return append(out, c.flush()...)

	default:
		// failed, canceled, rejected and unknown states all end the task
		reason, _ := meta[metaFailureReason].(string)
		if text == "" {
			text = string(st.State)
		}
		return []event.Event{event.StatusChanged{
			Header:  c.header(taskID, contextID),
			State:   task.StateFailed,
			Message: text,
			Reason:  task.FailureReason(reason),
		}}
	}
}

func (c *converter) flush() []event.Event {
	if c.artifact == nil {
		return nil
	}
	art := *c.artifact
	art.IsFinal = true
	art.Seq = c.seq + 1
	c.seq++
	c.artifact = nil
	return []event.Event{art}
}

func partsText(parts []a2a.Part) string {
	var texts []string
	for _, p := range parts {
		if tp, ok := p.(a2a.TextPart); ok {
			texts = append(texts, tp.Text)
		}
	}
	return strings.Join(texts, "\n")
}

var _ Transport = (*Remote)(nil)
