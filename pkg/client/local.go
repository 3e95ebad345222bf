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
	"iter"

	"github.com/kadirpekel/stratus/pkg/event"
	"github.com/kadirpekel/stratus/pkg/executor"
)

// Local runs turns against an in-process executor.
type Local struct {
	exec *executor.Executor
}

// NewLocal creates a transport for exec.
func NewLocal(exec *executor.Executor) *Local {
	return &Local{exec: exec}
}

// Info implements Transport.
func (l *Local) Info() Info {
	return Info{Name: l.exec.Agent().Name(), URL: "local", Streaming: true}
}

// Send implements Transport. Stopping the iteration early detaches from
// the execution, which then finishes its current item on its own.
func (l *Local) Send(ctx context.Context, turn Turn) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		ch, err := l.exec.Submit(ctx, executor.Request{
			Query:     turn.Query,
			ContextID: turn.ContextID,
			TaskID:    turn.TaskID,
		})
		if err != nil {
			yield(nil, err)
			return
		}
		defer ch.Detach()

		for ev := range ch.Events() {
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Close implements Transport.
func (l *Local) Close() error {
	return nil
}

var _ Transport = (*Local)(nil)
