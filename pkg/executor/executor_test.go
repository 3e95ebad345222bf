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

package executor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kadirpekel/stratus/pkg/agent"
	"github.com/kadirpekel/stratus/pkg/agent/weather"
	"github.com/kadirpekel/stratus/pkg/config"
	"github.com/kadirpekel/stratus/pkg/event"
	"github.com/kadirpekel/stratus/pkg/observability"
	"github.com/kadirpekel/stratus/pkg/task"
)

func drain(t *testing.T, ch *event.Channel) []event.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	events, err := ch.Collect(ctx)
	require.NoError(t, err, "event channel was not closed")
	return events
}

func kinds(events []event.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		switch e := ev.(type) {
		case event.StatusChanged:
			out[i] = "status:" + string(e.State)
		default:
			out[i] = string(ev.Kind())
		}
	}
	return out
}

func newWeatherExecutor(opts ...Option) (*Executor, *task.InMemoryStore) {
	store := task.NewInMemoryStore()
	return New(store, weather.New("Weather Agent", weather.NewStatic()), opts...), store
}

// Scenario A: a query naming a place completes in one turn.
func TestSubmitCompletesInOneTurn(t *testing.T) {
	exec, store := newWeatherExecutor()

	ch, err := exec.Submit(t.Context(), Request{Query: "What's the weather in Paris?"})
	require.NoError(t, err)
	events := drain(t, ch)

	assert.Equal(t, []string{
		"task_created",
		"status:working",
		"status:working",
		"status:completed",
		"artifact_delivered",
	}, kinds(events))

	assert.Equal(t, "Searching for current weather in Paris...", events[1].(event.StatusChanged).Message)
	assert.Equal(t, "Processing weather data and formatting response...", events[2].(event.StatusChanged).Message)

	art := events[4].(event.ArtifactDelivered)
	assert.True(t, art.IsFinal)
	assert.Equal(t, weather.ArtifactName, art.Artifact.Name)

	taskID := events[0].Meta().TaskID
	for _, ev := range events {
		assert.Equal(t, taskID, ev.Meta().TaskID)
		assert.NotEmpty(t, ev.Meta().ContextID)
	}

	stored, err := store.Get(t.Context(), taskID)
	require.NoError(t, err)
	assert.Equal(t, task.StateCompleted, stored.State())
	require.NotNil(t, stored.Artifact)
	assert.Equal(t, art.Artifact.Text, stored.Artifact.Text)
	assert.False(t, exec.Running(taskID))
}

// Scenario B: a query without a place asks for one and resumes on the same task.
func TestSubmitInputRequiredThenResume(t *testing.T) {
	exec, store := newWeatherExecutor()

	ch, err := exec.Submit(t.Context(), Request{Query: "What's the weather like?"})
	require.NoError(t, err)
	first := drain(t, ch)
	require.Equal(t, []string{"task_created", "status:input-required"}, kinds(first))

	prompt := first[1].(event.StatusChanged)
	assert.Equal(t, weather.AskLocationPrompt, prompt.Message)
	taskID, contextID := prompt.TaskID, prompt.ContextID

	ch, err = exec.Submit(t.Context(), Request{Query: "Tokyo", TaskID: taskID, ContextID: contextID})
	require.NoError(t, err)
	second := drain(t, ch)
	assert.Equal(t, []string{
		"status:working",
		"status:working",
		"status:working",
		"status:completed",
		"artifact_delivered",
	}, kinds(second))
	for _, ev := range second {
		assert.Equal(t, taskID, ev.Meta().TaskID)
		assert.Equal(t, contextID, ev.Meta().ContextID)
	}

	stored, err := store.Get(t.Context(), taskID)
	require.NoError(t, err)
	assert.Equal(t, task.StateCompleted, stored.State())
	require.Len(t, stored.History, 4)
	assert.Equal(t, "What's the weather like?", stored.History[0].Text)
	assert.Equal(t, task.RoleAgent, stored.History[1].Role)
	assert.Equal(t, "Tokyo", stored.History[2].Text)
	assert.Equal(t, task.RoleAgent, stored.History[3].Role)
}

// Scenario C: an agent failure ends the task with the agent's reason.
func TestSubmitAgentFailed(t *testing.T) {
	store := task.NewInMemoryStore()
	exec := New(store, agent.Script(agent.Progress{Message: "looking"}, agent.Failed{Reason: "no data"}))

	ch, err := exec.Submit(t.Context(), Request{Query: "q"})
	require.NoError(t, err)
	events := drain(t, ch)
	require.Equal(t, []string{"task_created", "status:working", "status:failed"}, kinds(events))

	failed := events[2].(event.StatusChanged)
	assert.Equal(t, task.ReasonAgentFailed, failed.Reason)
	assert.Equal(t, "no data", failed.Message)

	stored, err := store.Get(t.Context(), failed.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StateFailed, stored.State())
	assert.Nil(t, stored.Artifact)
}

// Scenario D: a follow-up on a finished conversation starts a new task.
func TestSubmitAfterCompletionStartsNewTask(t *testing.T) {
	exec, _ := newWeatherExecutor()

	ch, err := exec.Submit(t.Context(), Request{Query: "weather in London"})
	require.NoError(t, err)
	first := drain(t, ch)
	contextID := first[0].Meta().ContextID

	ch, err = exec.Submit(t.Context(), Request{Query: "and in Sydney?", ContextID: contextID})
	require.NoError(t, err)
	second := drain(t, ch)

	assert.Equal(t, "task_created", kinds(second)[0])
	assert.NotEqual(t, first[0].Meta().TaskID, second[0].Meta().TaskID)
	assert.Equal(t, contextID, second[0].Meta().ContextID)
}

func TestSubmitIncompleteStream(t *testing.T) {
	exec := New(task.NewInMemoryStore(), agent.Script(agent.Progress{Message: "one"}))

	ch, err := exec.Submit(t.Context(), Request{Query: "q"})
	require.NoError(t, err)
	events := drain(t, ch)
	require.Equal(t, []string{"task_created", "status:working", "status:failed"}, kinds(events))
	assert.Equal(t, task.ReasonIncompleteStream, events[2].(event.StatusChanged).Reason)
}

func TestSubmitAgentFault(t *testing.T) {
	a := agent.Func{Fn: func(context.Context, string, string, []task.Message) iter.Seq2[agent.Item, error] {
		return func(yield func(agent.Item, error) bool) {
			if !yield(agent.Progress{Message: "one"}, nil) {
				return
			}
			yield(nil, errors.New("boom"))
		}
	}}
	exec := New(task.NewInMemoryStore(), a)

	ch, err := exec.Submit(t.Context(), Request{Query: "q"})
	require.NoError(t, err)
	events := drain(t, ch)
	require.Equal(t, []string{"task_created", "status:working", "status:failed"}, kinds(events))

	failed := events[2].(event.StatusChanged)
	assert.Equal(t, task.ReasonAgentFault, failed.Reason)
	assert.Equal(t, "boom", failed.Message)
}

func TestSubmitAgentPanicFailsTask(t *testing.T) {
	a := agent.Func{Fn: func(context.Context, string, string, []task.Message) iter.Seq2[agent.Item, error] {
		return func(yield func(agent.Item, error) bool) {
			if !yield(agent.Progress{Message: "one"}, nil) {
				return
			}
			panic("forecast backend exploded")
		}
	}}
	store := task.NewInMemoryStore()
	exec := New(store, a)

	ch, err := exec.Submit(t.Context(), Request{Query: "q"})
	require.NoError(t, err)
	events := drain(t, ch)
	require.Equal(t, []string{"task_created", "status:working", "status:failed"}, kinds(events))

	failed := events[2].(event.StatusChanged)
	assert.Equal(t, task.ReasonAgentFault, failed.Reason)
	assert.Contains(t, failed.Message, "agent panicked")

	stored, err := store.Get(t.Context(), failed.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StateFailed, stored.State())
	assert.False(t, exec.Running(failed.TaskID))
}

func TestSubmitItemTimeout(t *testing.T) {
	a := agent.Func{Fn: func(ctx context.Context, _, _ string, _ []task.Message) iter.Seq2[agent.Item, error] {
		return func(yield func(agent.Item, error) bool) {
			if !yield(agent.Progress{Message: "one"}, nil) {
				return
			}
			<-ctx.Done()
		}
	}}
	store := task.NewInMemoryStore()
	exec := New(store, a, WithItemTimeout(50*time.Millisecond))

	ch, err := exec.Submit(t.Context(), Request{Query: "q"})
	require.NoError(t, err)
	events := drain(t, ch)
	require.Equal(t, []string{"task_created", "status:working", "status:failed"}, kinds(events))

	failed := events[2].(event.StatusChanged)
	assert.Equal(t, task.ReasonTimeout, failed.Reason)

	stored, err := store.Get(t.Context(), failed.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.ReasonTimeout, stored.Status.Reason)
}

func TestSubmitRejections(t *testing.T) {
	exec, _ := newWeatherExecutor()
	ctx := t.Context()

	_, err := exec.Submit(ctx, Request{Query: "Paris", TaskID: "missing", ContextID: "c"})
	assert.ErrorIs(t, err, task.ErrNotFound)

	ch, err := exec.Submit(ctx, Request{Query: "weather in Paris"})
	require.NoError(t, err)
	done := drain(t, ch)
	taskID, contextID := done[0].Meta().TaskID, done[0].Meta().ContextID

	_, err = exec.Submit(ctx, Request{Query: "again", TaskID: taskID, ContextID: contextID})
	assert.ErrorIs(t, err, task.ErrInvalidResume)
	assert.ErrorIs(t, err, task.ErrTerminal)

	_, err = exec.Submit(ctx, Request{Query: "again", TaskID: taskID, ContextID: "other"})
	assert.ErrorIs(t, err, task.ErrContextMismatch)
}

func TestSubmitRejectsTaskHeldByAnotherExecution(t *testing.T) {
	gate := make(chan struct{})
	a := agent.Func{Fn: func(ctx context.Context, _, _ string, _ []task.Message) iter.Seq2[agent.Item, error] {
		return func(yield func(agent.Item, error) bool) {
			select {
			case <-gate:
			case <-ctx.Done():
				return
			}
			yield(agent.Completed{Artifact: task.Artifact{Text: "done"}}, nil)
		}
	}}
	store := task.NewInMemoryStore()
	exec := New(store, a)

	ch, err := exec.Submit(t.Context(), Request{Query: "q", ContextID: "ctx-busy"})
	require.NoError(t, err)
	created := <-ch.Events()
	taskID := created.Meta().TaskID
	assert.True(t, exec.Running(taskID))

	_, err = exec.Submit(t.Context(), Request{Query: "q2", ContextID: "ctx-busy"})
	assert.ErrorIs(t, err, task.ErrInvalidResume)

	stored, err := store.Get(t.Context(), taskID)
	require.NoError(t, err)
	assert.Len(t, stored.History, 1, "rejected submission must not touch the task")

	close(gate)
	rest := drain(t, ch)
	assert.Equal(t, []string{"status:completed", "artifact_delivered"}, kinds(rest))
}

func TestDetachStopsEmittingAndAllowsResume(t *testing.T) {
	gate := make(chan struct{})
	a := agent.Func{Fn: func(ctx context.Context, _, _ string, _ []task.Message) iter.Seq2[agent.Item, error] {
		return func(yield func(agent.Item, error) bool) {
			if !yield(agent.Progress{Message: "one"}, nil) {
				return
			}
			select {
			case <-gate:
			case <-ctx.Done():
				return
			}
			if !yield(agent.Progress{Message: "two"}, nil) {
				return
			}
			yield(agent.Completed{Artifact: task.Artifact{Text: "report"}}, nil)
		}
	}}
	store := task.NewInMemoryStore()
	exec := New(store, a)

	ch, err := exec.Submit(t.Context(), Request{Query: "q", ContextID: "ctx-detach"})
	require.NoError(t, err)

	created := <-ch.Events()
	progress := <-ch.Events()
	assert.Equal(t, "one", progress.(event.StatusChanged).Message)
	taskID := created.Meta().TaskID

	ch.Detach()
	close(gate)
	assert.Empty(t, drain(t, ch), "nothing is delivered after detach")

	stored, err := store.Get(t.Context(), taskID)
	require.NoError(t, err)
	assert.Equal(t, task.StateWorking, stored.State())
	assert.Equal(t, "two", stored.Status.Message, "the item in flight is persisted")
	assert.False(t, exec.Running(taskID))

	ch, err = exec.Submit(t.Context(), Request{Query: "still there?", ContextID: "ctx-detach"})
	require.NoError(t, err)
	events := drain(t, ch)
	assert.Equal(t, []string{
		"status:working",
		"status:working",
		"status:working",
		"status:completed",
		"artifact_delivered",
	}, kinds(events))
	assert.Equal(t, taskID, events[0].Meta().TaskID)
}

func TestExecuteSynchronous(t *testing.T) {
	exec, _ := newWeatherExecutor(WithConfig(&config.ExecutorConfig{ItemTimeout: time.Second, ChannelBuffer: 8}))
	ch := event.NewChannel(8)

	err := exec.Execute(t.Context(), Request{Query: "weather in Istanbul", AssignTaskID: "task-1", ContextID: "ctx-1"}, ch)
	require.NoError(t, err)
	ch.Close()

	events := drain(t, ch)
	require.Len(t, events, 5)
	assert.Equal(t, "task-1", events[0].Meta().TaskID)
	assert.Equal(t, "ctx-1", events[0].Meta().ContextID)
}

func TestConcurrentTasksRunIndependently(t *testing.T) {
	exec, store := newWeatherExecutor()
	cities := []string{"Paris", "London", "Tokyo", "Istanbul", "Sydney", "New York"}

	var wg sync.WaitGroup
	results := make([][]event.Event, 24)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch, err := exec.Submit(t.Context(), Request{Query: "weather in " + cities[i%len(cities)]})
			if !assert.NoError(t, err) {
				return
			}
			results[i] = drain(t, ch)
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, events := range results {
		require.Len(t, events, 5)
		id := events[0].Meta().TaskID
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Equal(t, 24, store.Len())
}

func TestExecutionIsTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := observability.NewTracerFromProvider(provider, "test")

	metrics, err := observability.NewMetrics(&observability.MetricsConfig{Enabled: true})
	require.NoError(t, err)

	exec, _ := newWeatherExecutor(WithTracer(tracer), WithMetrics(metrics))
	ch, err := exec.Submit(t.Context(), Request{Query: "weather in Paris"})
	require.NoError(t, err)
	drain(t, ch)

	require.Eventually(t, func() bool { return len(recorder.Ended()) == 1 }, time.Second, 10*time.Millisecond)
	span := recorder.Ended()[0]
	assert.Equal(t, observability.SpanTaskExecute, span.Name())
	assert.Len(t, span.Events(), 3)

	var state string
	for _, kv := range span.Attributes() {
		if string(kv.Key) == observability.AttrTaskState {
			state = kv.Value.AsString()
		}
	}
	assert.Equal(t, string(task.StateCompleted), state)

	families, err := metrics.Gatherer().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.True(t, slices.ContainsFunc(names, func(n string) bool {
		return strings.HasPrefix(n, "stratus_tasks_started")
	}), fmt.Sprint(names))
}

func TestCallerCancelFinishesItemInFlight(t *testing.T) {
	gate := make(chan struct{})
	a := agent.Func{Fn: func(ctx context.Context, _, _ string, _ []task.Message) iter.Seq2[agent.Item, error] {
		return func(yield func(agent.Item, error) bool) {
			if !yield(agent.Progress{Message: "one"}, nil) {
				return
			}
			select {
			case <-gate:
			case <-ctx.Done():
				return
			}
			if !yield(agent.Progress{Message: "two"}, nil) {
				return
			}
			yield(agent.Completed{Artifact: task.Artifact{Text: "report"}}, nil)
		}
	}}
	store := task.NewInMemoryStore()
	exec := New(store, a)

	ctx, cancel := context.WithCancel(t.Context())
	ch, err := exec.Submit(ctx, Request{Query: "q", ContextID: "ctx-cancel"})
	require.NoError(t, err)

	created := <-ch.Events()
	progress := <-ch.Events()
	assert.Equal(t, "one", progress.(event.StatusChanged).Message)
	taskID := created.Meta().TaskID

	cancel()
	time.Sleep(50 * time.Millisecond)
	close(gate)
	drain(t, ch)

	stored, err := store.Get(t.Context(), taskID)
	require.NoError(t, err)
	assert.Equal(t, task.StateWorking, stored.State())
	assert.Equal(t, "two", stored.Status.Message, "the item in flight is persisted")
	assert.False(t, exec.Running(taskID))
}

// conflictingStore rejects every update that would move a task into reject.
type conflictingStore struct {
	task.Store
	reject task.State
}

func (s *conflictingStore) Update(ctx context.Context, t *task.Task, opts ...task.UpdateOption) error {
	if t.State() == s.reject {
		return task.ErrConflict
	}
	return s.Store.Update(ctx, t, opts...)
}

func TestPersistFailureEndsWithFailedStatus(t *testing.T) {
	inner := task.NewInMemoryStore()
	store := &conflictingStore{Store: inner, reject: task.StateCompleted}
	exec := New(store, agent.Script(
		agent.Progress{Message: "one"},
		agent.Completed{Artifact: task.Artifact{Text: "report"}},
	))

	ch, err := exec.Submit(t.Context(), Request{Query: "q"})
	require.NoError(t, err)
	events := drain(t, ch)
	require.Equal(t, []string{"task_created", "status:working", "status:failed"}, kinds(events))

	failed := events[2].(event.StatusChanged)
	assert.Equal(t, task.ReasonStoreFault, failed.Reason)
	assert.True(t, event.IsTerminal(failed))

	stored, err := inner.Get(t.Context(), failed.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StateFailed, stored.State())
	assert.Equal(t, task.ReasonStoreFault, stored.Status.Reason)
	assert.Nil(t, stored.Artifact)
}
