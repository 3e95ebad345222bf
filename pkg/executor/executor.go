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

// Package executor drives an agent for a task and publishes its progress.
//
// Every state change is persisted to the task store before the matching
// event is emitted, so a consumer never observes a state the store does
// not hold. One executor owns a task at a time: an in-process lease
// keeps a second submission out, and the store's version check catches
// writers in other processes.
//
// # Usage
//
//	exec := executor.New(store, weather.New("Weather Agent", weather.NewStatic()))
//
//	ch, err := exec.Submit(ctx, executor.Request{Query: "weather in Paris"})
//	if err != nil {
//	    return err // rejected, nothing was emitted
//	}
//	for ev := range ch.Events() {
//	    fmt.Println(ev)
//	}
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/stratus/pkg/agent"
	"github.com/kadirpekel/stratus/pkg/config"
	"github.com/kadirpekel/stratus/pkg/event"
	"github.com/kadirpekel/stratus/pkg/observability"
	"github.com/kadirpekel/stratus/pkg/task"
)

// DefaultItemTimeout bounds the wait for each agent item.
const DefaultItemTimeout = 2 * time.Minute

// Request is one client turn.
type Request struct {
	// Query is the user's message.
	Query string

	// ContextID names the conversation. Empty starts a new one.
	ContextID string

	// TaskID resumes a specific task. It must be waiting for input.
	TaskID string

	// AssignTaskID is the id a newly created task receives.
	AssignTaskID string
}

// Executor runs agent invocations against a task store.
type Executor struct {
	store   task.Store
	agent   agent.Agent
	tracer  *observability.Tracer
	metrics *observability.Metrics

	itemTimeout   time.Duration
	channelBuffer int

	mu     sync.Mutex
	leases map[string]struct{}
}

// Option configures an Executor.
type Option func(*Executor)

// WithItemTimeout sets how long to wait for each agent item.
func WithItemTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.itemTimeout = d
		}
	}
}

// WithChannelBuffer sets the capacity of channels created by Submit.
func WithChannelBuffer(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.channelBuffer = n
		}
	}
}

// WithTracer enables tracing of invocations.
func WithTracer(t *observability.Tracer) Option {
	return func(e *Executor) {
		e.tracer = t
	}
}

// WithMetrics enables invocation metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithConfig applies the executor section of the configuration.
func WithConfig(cfg *config.ExecutorConfig) Option {
	return func(e *Executor) {
		WithItemTimeout(cfg.ItemTimeout)(e)
		WithChannelBuffer(cfg.ChannelBuffer)(e)
	}
}

// New creates an executor for a.
func New(store task.Store, a agent.Agent, opts ...Option) *Executor {
	e := &Executor{
		store:         store,
		agent:         a,
		itemTimeout:   DefaultItemTimeout,
		channelBuffer: event.DefaultBuffer,
		leases:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the executor's task store.
func (e *Executor) Store() task.Store {
	return e.store
}

// Agent returns the driven agent.
func (e *Executor) Agent() agent.Agent {
	return e.agent
}

// Submit validates req, claims its task and runs the agent in a new
// goroutine. Rejections (task.ErrNotFound, task.ErrInvalidResume,
// task.ErrContextMismatch) are returned here and nothing is emitted.
// The returned channel is closed when the invocation ends.
//
// The invocation stops when ctx ends or the consumer detaches; the task
// then keeps its last persisted state.
func (e *Executor) Submit(ctx context.Context, req Request) (*event.Channel, error) {
	inv, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := event.NewChannel(e.channelBuffer)
	go func() {
		defer ch.Close()
		if err := e.run(ctx, inv, ch); err != nil {
			slog.Error("Task execution failed", "task_id", inv.task.ID, "error", err)
		}
	}()
	return ch, nil
}

// Execute is the synchronous form of Submit. It emits into ch, which the
// caller owns and closes.
func (e *Executor) Execute(ctx context.Context, req Request, ch *event.Channel) error {
	inv, err := e.prepare(ctx, req)
	if err != nil {
		return err
	}
	return e.run(ctx, inv, ch)
}

// invocation is a claimed task ready to run.
type invocation struct {
	task    *task.Task
	query   string
	created bool
	resumed bool
	started time.Time
}

func (e *Executor) prepare(ctx context.Context, req Request) (*invocation, error) {
	inv, err := e.claim(ctx, req)
	if err != nil {
		code := "internal"
		var te *task.Error
		if errors.As(err, &te) {
			code = te.Code
		}
		e.metrics.RecordRejection(ctx, code)
		slog.Debug("Request rejected", "task_id", req.TaskID, "context_id", req.ContextID, "error", err)
		return nil, err
	}
	return inv, nil
}

func (e *Executor) claim(ctx context.Context, req Request) (*invocation, error) {
	msg := task.NewMessage(task.RoleUser, req.Query)

	var (
		t       *task.Task
		created bool
		err     error
	)
	if req.TaskID != "" {
		t, err = e.store.Get(ctx, req.TaskID)
		if err != nil {
			return nil, err
		}
		if req.ContextID != "" && t.ContextID != req.ContextID {
			return nil, fmt.Errorf("%w: task %s belongs to context %s", task.ErrContextMismatch, t.ID, t.ContextID)
		}
	} else {
		contextID := req.ContextID
		if contextID == "" {
			contextID = uuid.NewString()
		}
		var opts []task.CreateOption
		if req.AssignTaskID != "" {
			opts = append(opts, task.WithTaskID(req.AssignTaskID))
		}
		t, created, err = e.store.GetOrCreate(ctx, contextID, msg, opts...)
		if err != nil {
			return nil, err
		}
	}

	if !e.acquire(t.ID) {
		return nil, fmt.Errorf("%w: task %s is already running", task.ErrInvalidResume, t.ID)
	}

	inv := &invocation{task: t, query: req.Query, created: created, started: time.Now()}
	if err := e.begin(ctx, inv, msg); err != nil {
		e.release(t.ID)
		return nil, err
	}
	return inv, nil
}

// begin moves the claimed task to working and persists it.
func (e *Executor) begin(ctx context.Context, inv *invocation, msg task.Message) error {
	t := inv.task

	var err error
	switch t.State() {
	case task.StateSubmitted:
		err = t.Start()
		if err == nil && !inv.created {
			// an earlier submission created the task but never started it
			err = t.Continue(msg)
			inv.resumed = true
		}
	case task.StateInputRequired:
		err = t.Resume(msg)
		inv.resumed = true
	case task.StateWorking:
		// previous execution detached before finishing
		err = t.Continue(msg)
		inv.resumed = true
	default:
		return fmt.Errorf("%w: %w: task %s is %s", task.ErrInvalidResume, task.ErrTerminal, t.ID, t.State())
	}
	if err != nil {
		return fmt.Errorf("%w: %v", task.ErrInvalidResume, err)
	}

	if err := e.store.Update(ctx, t); err != nil {
		return err
	}

	slog.Debug("Task claimed",
		"task_id", t.ID,
		"context_id", t.ContextID,
		"created", inv.created,
		"resumed", inv.resumed)
	return nil
}

func (e *Executor) acquire(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, held := e.leases[taskID]; held {
		return false
	}
	e.leases[taskID] = struct{}{}
	return true
}

func (e *Executor) release(taskID string) {
	e.mu.Lock()
	delete(e.leases, taskID)
	e.mu.Unlock()
}

// Running reports whether an invocation currently holds taskID.
func (e *Executor) Running(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, held := e.leases[taskID]
	return held
}

// streamResult is one pull from the agent stream.
type streamResult struct {
	item agent.Item
	err  error
}

// run drives the agent for a claimed invocation. It always releases the lease.
func (e *Executor) run(ctx context.Context, inv *invocation, ch *event.Channel) (err error) {
	t := inv.task
	defer e.release(t.ID)

	ctx, span := e.tracer.StartTaskExecution(ctx, e.agent.Name(), t.ID, t.ContextID, inv.resumed)
	defer span.End()
	e.metrics.RecordTaskStarted(ctx, inv.resumed)

	r := &runner{e: e, inv: inv, ch: ch, span: span, caller: ctx}
	defer func() {
		reason := string(t.Status.Reason)
		e.tracer.SetOutcome(span, string(t.State()), reason)
		e.metrics.RecordTaskFinished(ctx, string(t.State()), reason, time.Since(inv.started))
		if err != nil {
			e.tracer.RecordError(span, err)
		}
	}()

	if inv.created {
		r.emit(event.TaskCreated{Header: event.HeaderFor(t)})
	} else if inv.resumed {
		r.emit(event.StatusChanged{Header: event.HeaderFor(t), State: task.StateWorking})
	}
	if r.detached {
		return nil
	}

	// The agent and the store outlive the caller so that the item in flight
	// is finished and persisted after ctx ends.
	work := context.WithoutCancel(ctx)
	agentCtx, cancel := context.WithCancel(work)
	defer cancel()

	items := make(chan streamResult)
	go func() {
		defer close(items)
		defer func() {
			if p := recover(); p != nil {
				slog.Error("Agent panicked", "task_id", t.ID, "panic", p)
				select {
				case items <- streamResult{err: fmt.Errorf("agent panicked: %v", p)}:
				case <-agentCtx.Done():
				}
			}
		}()
		for item, err := range e.agent.Stream(agentCtx, inv.query, t.ContextID, t.History) {
			select {
			case items <- streamResult{item: item, err: err}:
			case <-agentCtx.Done():
				return
			}
			if err != nil || (item != nil && item.Terminal()) {
				return
			}
		}
	}()

	timer := time.NewTimer(e.itemTimeout)
	defer timer.Stop()

	detached := ch.Detached()
	callerDone := ctx.Done()
	for {
		select {
		case res, ok := <-items:
			var (
				done bool
				err  error
			)
			switch {
			case !ok:
				done, err = true, r.fail(work, task.ReasonIncompleteStream, "agent stream ended without a result")
			case res.err != nil:
				slog.Warn("Agent stream error", "task_id", t.ID, "error", res.err)
				e.tracer.RecordError(span, res.err)
				done, err = true, r.fail(work, task.ReasonAgentFault, res.err.Error())
			case res.item == nil:
				done, err = true, r.fail(work, task.ReasonAgentFault, "agent yielded an empty item")
			default:
				done, err = r.handle(work, res.item)
			}
			if err != nil {
				return r.abort(work, err)
			}
			if done || r.detached {
				return nil
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(e.itemTimeout)

		case <-detached:
			// finish the item in flight, then stop
			r.detached = true
			detached = nil

		case <-callerDone:
			slog.Debug("Caller gone, finishing the item in flight", "task_id", t.ID, "state", t.State())
			r.detached = true
			callerDone = nil

		case <-timer.C:
			cancel()
			if err := r.fail(work, task.ReasonTimeout, fmt.Sprintf("no agent output within %s", e.itemTimeout)); err != nil {
				return r.abort(work, err)
			}
			return nil
		}
	}
}

// runner holds per-invocation state while translating agent items.
type runner struct {
	e        *Executor
	inv      *invocation
	ch       *event.Channel
	span     trace.Span
	caller   context.Context
	detached bool
}

// handle applies one item. It reports whether the invocation is over.
func (r *runner) handle(ctx context.Context, item agent.Item) (bool, error) {
	t := r.inv.task
	r.e.tracer.AddItem(r.span, item.Kind())

	switch it := item.(type) {
	case agent.Progress:
		if err := r.persist(ctx, t.Progress(it.Message)); err != nil {
			return true, err
		}
		r.emit(event.StatusChanged{Header: event.HeaderFor(t), State: task.StateWorking, Message: it.Message})
		return false, nil

	case agent.InputRequired:
		if err := r.persist(ctx, t.RequestInput(it.Prompt)); err != nil {
			return true, err
		}
		r.emit(event.StatusChanged{Header: event.HeaderFor(t), State: task.StateInputRequired, Message: it.Prompt})
		slog.Info("Task waiting for input", "task_id", t.ID, "context_id", t.ContextID)
		return true, nil

	case agent.Completed:
		if err := r.persist(ctx, t.Complete(it.Artifact)); err != nil {
			return true, err
		}
		h := event.HeaderFor(t)
		r.emit(event.StatusChanged{Header: h, State: task.StateCompleted})
		r.emit(event.ArtifactDelivered{Header: h, Artifact: *t.Artifact, IsFinal: true})
		slog.Info("Task completed", "task_id", t.ID, "context_id", t.ContextID)
		return true, nil

	case agent.Failed:
		return true, r.fail(ctx, task.ReasonAgentFailed, it.Reason)

	default:
		return true, r.fail(ctx, task.ReasonAgentFault, fmt.Sprintf("unknown agent item %T", item))
	}
}

// fail moves the task to failed, persists it and publishes the outcome.
func (r *runner) fail(ctx context.Context, reason task.FailureReason, message string) error {
	t := r.inv.task
	if err := r.persist(ctx, t.Fail(reason, message)); err != nil {
		return err
	}
	r.emit(event.StatusChanged{Header: event.HeaderFor(t), State: task.StateFailed, Message: message, Reason: reason})
	slog.Info("Task failed", "task_id", t.ID, "context_id", t.ContextID, "reason", reason, "message", message)
	return nil
}

// abort ends an invocation whose state could not be written. The latest
// stored version of the task is failed with ReasonStoreFault when it is
// still open, and the consumer always receives a failed status.
func (r *runner) abort(ctx context.Context, cause error) error {
	t := r.inv.task
	slog.Error("Task state could not be persisted", "task_id", t.ID, "error", cause)

	latest, err := r.e.store.Get(ctx, t.ID)
	if err == nil && latest.State().IsOpen() {
		if err = latest.Fail(task.ReasonStoreFault, cause.Error()); err == nil {
			err = r.e.store.Update(ctx, latest)
		}
	}
	if err == nil {
		*t = *latest
	} else {
		slog.Warn("Could not record store failure on task", "task_id", t.ID, "error", err)
	}

	r.emit(event.StatusChanged{
		Header:  event.HeaderFor(t),
		State:   task.StateFailed,
		Message: cause.Error(),
		Reason:  task.ReasonStoreFault,
	})
	return cause
}

// persist writes the task after a transition. transErr is the result of
// the transition itself.
func (r *runner) persist(ctx context.Context, transErr error) error {
	if transErr != nil {
		return transErr
	}
	if err := r.e.store.Update(ctx, r.inv.task); err != nil {
		return fmt.Errorf("failed to persist task %s: %w", r.inv.task.ID, err)
	}
	return nil
}

// emit publishes ev unless the consumer is gone. After the first failed
// send every later event is dropped.
func (r *runner) emit(ev event.Event) {
	if r.detached {
		return
	}
	if err := r.ch.Send(r.caller, ev); err != nil {
		slog.Debug("Event consumer gone, continuing without emitting",
			"task_id", r.inv.task.ID, "kind", ev.Kind(), "error", err)
		r.detached = true
		return
	}
	r.e.metrics.RecordEvent(r.caller, string(ev.Kind()))
}
