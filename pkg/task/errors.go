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

// Errors
var (
	ErrNotFound          = &Error{Code: "task_not_found", Message: "task not found"}
	ErrInvalidResume     = &Error{Code: "invalid_resume", Message: "task is not waiting for input"}
	ErrConflict          = &Error{Code: "task_conflict", Message: "task was modified concurrently"}
	ErrTerminal          = &Error{Code: "task_terminal", Message: "task is in terminal state"}
	ErrInvalidTransition = &Error{Code: "invalid_transition", Message: "invalid task state transition"}
	ErrContextMismatch   = &Error{Code: "context_mismatch", Message: "task belongs to a different context"}
)

// Error is a task-related error.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
