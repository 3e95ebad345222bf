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

// Package agent defines the contract between the executor and the agents it drives.
//
// An agent turns a query into a finite stream of typed items. The stream
// ends with exactly one terminal item (InputRequired, Completed or Failed)
// and may start with any number of Progress items:
//
//	func (a *myAgent) Stream(ctx context.Context, query, contextID string, history []task.Message) iter.Seq2[agent.Item, error] {
//	    return func(yield func(agent.Item, error) bool) {
//	        if !yield(agent.Progress{Message: "Working on it..."}, nil) {
//	            return
//	        }
//	        yield(agent.Completed{Artifact: task.Artifact{Text: "done"}}, nil)
//	    }
//	}
//
// Yielding a non-nil error stops the stream; the executor records it as an
// agent fault.
package agent

import (
	"context"
	"iter"

	"github.com/kadirpekel/stratus/pkg/task"
)

// Agent produces items for a query. Streams are not restartable.
type Agent interface {
	// Name identifies the agent in logs and traces.
	Name() string

	// Stream runs the agent. history holds the task's messages so far,
	// oldest first, including query as its last entry.
	Stream(ctx context.Context, query, contextID string, history []task.Message) iter.Seq2[Item, error]
}

// Item is one of Progress, InputRequired, Completed or Failed.
type Item interface {
	// Kind names the item for logs and metrics.
	Kind() string

	// Terminal reports whether the item ends the stream.
	Terminal() bool

	isItem()
}

// Progress is an intermediate status notice.
type Progress struct {
	Message string
}

// InputRequired asks the user for more input.
type InputRequired struct {
	Prompt string
}

// Completed delivers the final artifact.
type Completed struct {
	Artifact task.Artifact
}

// Failed reports that the agent could not serve the query.
type Failed struct {
	Reason string
}

func (Progress) Kind() string      { return "progress" }
func (InputRequired) Kind() string { return "input_required" }
func (Completed) Kind() string     { return "completed" }
func (Failed) Kind() string        { return "failed" }

func (Progress) Terminal() bool      { return false }
func (InputRequired) Terminal() bool { return true }
func (Completed) Terminal() bool     { return true }
func (Failed) Terminal() bool        { return true }

func (Progress) isItem()      {}
func (InputRequired) isItem() {}
func (Completed) isItem()     {}
func (Failed) isItem()        {}

// Func adapts a stream function to the Agent interface.
type Func struct {
	AgentName string
	Fn        func(ctx context.Context, query, contextID string, history []task.Message) iter.Seq2[Item, error]
}

// Name returns AgentName.
func (f Func) Name() string {
	if f.AgentName == "" {
		return "func"
	}
	return f.AgentName
}

// Stream calls Fn.
func (f Func) Stream(ctx context.Context, query, contextID string, history []task.Message) iter.Seq2[Item, error] {
	return f.Fn(ctx, query, contextID, history)
}

// Script returns an agent that yields items in order, ignoring its input.
func Script(items ...Item) Agent {
	return Func{
		AgentName: "script",
		Fn: func(context.Context, string, string, []task.Message) iter.Seq2[Item, error] {
			return func(yield func(Item, error) bool) {
				for _, it := range items {
					if !yield(it, nil) {
						return
					}
				}
			}
		},
	}
}

var (
	_ Item  = Progress{}
	_ Item  = InputRequired{}
	_ Item  = Completed{}
	_ Item  = Failed{}
	_ Agent = Func{}
)
