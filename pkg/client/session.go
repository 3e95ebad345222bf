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

// Package client implements the conversational client loop.
//
// A Session sends queries over a Transport and follows the task across
// turns: when the agent asks for more input, the answer is sent on the
// same context and task. Once the task completes or fails the ids are
// reset and the next query starts a new conversation.
package client

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/kadirpekel/stratus/pkg/event"
	"github.com/kadirpekel/stratus/pkg/task"
)

// ErrNoOutcome is returned when a stream ends before a terminal event.
var ErrNoOutcome = errors.New("stream ended without a terminal event")

// Turn is one message sent to the agent.
type Turn struct {
	Query     string
	ContextID string
	TaskID    string
}

// Info describes the agent on the other end of a transport.
type Info struct {
	Name      string
	URL       string
	Streaming bool
}

// Transport delivers a turn and streams back the task's events.
type Transport interface {
	Info() Info
	Send(ctx context.Context, turn Turn) iter.Seq2[event.Event, error]
	Close() error
}

// Prompter reads user input. It returns io.EOF when the user is done.
type Prompter interface {
	Prompt(ctx context.Context, label string) (string, error)
}

// Presenter shows what happens during a session.
type Presenter interface {
	Connected(info Info)
	Event(ev event.Event)
	Error(err error)
}

// Outcome is how a query ended.
type Outcome struct {
	TaskID    string
	ContextID string
	State     task.State
	Message   string
	Reason    task.FailureReason
	Artifact  *task.Artifact
}

// Session tracks the active context and task across turns.
type Session struct {
	transport Transport
	contextID string
	taskID    string
}

// NewSession creates a session over t.
func NewSession(t Transport) *Session {
	return &Session{transport: t}
}

// ContextID returns the active context, empty between conversations.
func (s *Session) ContextID() string {
	return s.contextID
}

// TaskID returns the task waiting for input, if any.
func (s *Session) TaskID() string {
	return s.taskID
}

// IsExitWord reports whether input ends the session.
func IsExitWord(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", "q":
		return true
	}
	return false
}

// Run reads queries from in until the user exits or ctx ends.
func (s *Session) Run(ctx context.Context, in Prompter, out Presenter) error {
	out.Connected(s.transport.Info())

	for {
		query, err := in.Prompt(ctx, "")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		query = strings.TrimSpace(query)
		if query == "" {
			continue
		}
		if IsExitWord(query) {
			return nil
		}

		if _, err := s.Ask(ctx, query, in, out); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			out.Error(err)
		}
	}
}

// Ask sends query and follows the task until it completes or fails,
// asking in for every follow-up the agent requests.
func (s *Session) Ask(ctx context.Context, query string, in Prompter, out Presenter) (*Outcome, error) {
	turn := Turn{Query: query, ContextID: s.contextID, TaskID: s.taskID}
	for {
		outcome, err := s.send(ctx, turn, out)
		if err != nil {
			return nil, err
		}
		if outcome.State != task.StateInputRequired {
			return outcome, nil
		}

		answer, err := s.answer(ctx, outcome.Message, in)
		if err != nil {
			return outcome, err
		}
		turn = Turn{Query: answer, ContextID: s.contextID, TaskID: s.taskID}
	}
}

func (s *Session) answer(ctx context.Context, prompt string, in Prompter) (string, error) {
	for {
		answer, err := in.Prompt(ctx, prompt)
		if err != nil {
			return "", err
		}
		answer = strings.TrimSpace(answer)
		if IsExitWord(answer) {
			return "", io.EOF
		}
		if answer != "" {
			return answer, nil
		}
	}
}

// send delivers one turn and reads the stream until a terminal event.
func (s *Session) send(ctx context.Context, turn Turn, out Presenter) (*Outcome, error) {
	var outcome *Outcome
	for ev, err := range s.transport.Send(ctx, turn) {
		if err != nil {
			return nil, err
		}
		out.Event(ev)

		h := ev.Meta()
		if h.ContextID != "" {
			s.contextID = h.ContextID
		}

		switch e := ev.(type) {
		case event.StatusChanged:
			switch e.State {
			case task.StateInputRequired:
				s.taskID = h.TaskID
				outcome = &Outcome{TaskID: h.TaskID, ContextID: h.ContextID, State: e.State, Message: e.Message}
			case task.StateFailed:
				outcome = &Outcome{TaskID: h.TaskID, ContextID: h.ContextID, State: e.State, Message: e.Message, Reason: e.Reason}
				s.reset()
			case task.StateCompleted:
				// the artifact follows
				outcome = &Outcome{TaskID: h.TaskID, ContextID: h.ContextID, State: e.State}
			}

		case event.ArtifactDelivered:
			if !e.IsFinal {
				continue
			}
			art := e.Artifact
			outcome = &Outcome{TaskID: h.TaskID, ContextID: h.ContextID, State: task.StateCompleted, Artifact: &art}
			s.reset()
		}

		if event.IsTerminal(ev) {
			break
		}
	}

	if outcome == nil || (outcome.State == task.StateCompleted && outcome.Artifact == nil) {
		return nil, ErrNoOutcome
	}
	slog.Debug("Turn finished", "task_id", outcome.TaskID, "state", outcome.State)
	return outcome, nil
}

func (s *Session) reset() {
	s.contextID = ""
	s.taskID = ""
}
