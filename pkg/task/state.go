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

import "fmt"

// State represents the current state of a task.
// Values use the A2A wire spelling so they can be passed through unchanged.
type State string

const (
	// StateSubmitted means the task has been created but not started.
	StateSubmitted State = "submitted"

	// StateWorking means an executor is consuming the agent stream.
	StateWorking State = "working"

	// StateInputRequired means the agent asked the client for more input.
	// Terminal for one invocation, not for the conversation.
	StateInputRequired State = "input-required"

	// StateCompleted means the task finished with a final artifact.
	StateCompleted State = "completed"

	// StateFailed means the task failed; Status.Reason says why.
	StateFailed State = "failed"
)

// IsTerminal returns whether this state is terminal (no more transitions).
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed:
		return true
	}
	return false
}

// IsOpen returns whether a task in this state still belongs to its context's
// current conversation turn chain.
func (s State) IsOpen() bool {
	return !s.IsTerminal()
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateSubmitted, StateWorking, StateInputRequired, StateCompleted, StateFailed:
		return true
	}
	return false
}

// transitions lists the allowed target states for each source state.
// working -> working is the progress self-loop.
var transitions = map[State][]State{
	StateSubmitted:     {StateWorking},
	StateWorking:       {StateWorking, StateInputRequired, StateCompleted, StateFailed},
	StateInputRequired: {StateWorking},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError is returned when a transition is not allowed.
type TransitionError struct {
	TaskID string
	From   State
	To     State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: invalid transition %s -> %s", e.TaskID, e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) match any TransitionError.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// FailureReason classifies why a task ended in StateFailed.
type FailureReason string

const (
	// ReasonAgentFailed is set when the agent itself reported a failure item.
	ReasonAgentFailed FailureReason = "agent_failed"

	// ReasonAgentFault is set when reading the agent stream returned an error.
	ReasonAgentFault FailureReason = "agent_fault"

	// ReasonIncompleteStream is set when the stream ended without a terminal item.
	ReasonIncompleteStream FailureReason = "incomplete_stream"

	// ReasonTimeout is set when no item arrived within the executor deadline.
	ReasonTimeout FailureReason = "timeout"

	// ReasonStoreFault is set when a transition could not be persisted.
	ReasonStoreFault FailureReason = "store_fault"
)
