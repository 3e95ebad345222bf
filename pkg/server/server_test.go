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
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/stratus/pkg/agent/weather"
	"github.com/kadirpekel/stratus/pkg/config"
	"github.com/kadirpekel/stratus/pkg/event"
	"github.com/kadirpekel/stratus/pkg/executor"
	"github.com/kadirpekel/stratus/pkg/observability"
	"github.com/kadirpekel/stratus/pkg/task"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Agent.Forecaster.Type = config.ForecasterStatic
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(nil)
	t.Cleanup(ts.Close)

	cfg.Server.BaseURL = ts.URL + "/"
	exec := executor.New(task.NewInMemoryStore(), weather.New(cfg.Agent.Name, weather.NewStatic()))
	s := New(&cfg.Server, &cfg.Agent, exec, opts...)
	ts.Config.Handler = s.Handler()
	return s, ts
}

func TestAgentCardEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + a2asrv.WellKnownAgentCardPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var card a2a.AgentCard
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&card))
	assert.Equal(t, "Weather Agent", card.Name)
	assert.Equal(t, ts.URL+"/", card.URL)
	assert.True(t, card.Capabilities.Streaming)
	require.Len(t, card.Skills, 1)
	assert.Equal(t, WeatherSkillID, card.Skills[0].ID)
	assert.NotEmpty(t, card.Skills[0].Examples)
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	metrics, err := observability.NewMetrics(&observability.MetricsConfig{Enabled: true})
	require.NoError(t, err)

	_, ts := newTestServer(t, testConfig(), WithMetrics(metrics, "/metrics"))

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpointDisabled(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimit = config.RateLimitConfig{
		Enabled:           config.BoolPtr(true),
		RequestsPerSecond: 0.001,
		Burst:             1,
	}
	_, ts := newTestServer(t, cfg)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestClientLimiterForgetsIdleClients(t *testing.T) {
	l := newClientLimiter(1, 1)
	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"))

	now = now.Add(limiterTTL + limiterCleanup)
	assert.True(t, l.allow("c"))
	assert.Len(t, l.entries, 1)
}

func TestTranslatorCompletedOrder(t *testing.T) {
	reqCtx := &a2asrv.RequestContext{TaskID: "task-1", ContextID: "ctx-1"}
	tr := newTranslator(reqCtx)
	h := event.Header{TaskID: "task-1", ContextID: "ctx-1"}

	var out []a2a.Event
	out = append(out, tr.translate(event.TaskCreated{Header: h})...)
	out = append(out, tr.translate(event.StatusChanged{Header: h, State: task.StateWorking, Message: "working on it"})...)
	out = append(out, tr.translate(event.StatusChanged{Header: h, State: task.StateCompleted})...)
	out = append(out, tr.translate(event.ArtifactDelivered{
		Header:   h,
		Artifact: task.Artifact{ID: "a1", Name: weather.ArtifactName, Text: "sunny"},
		IsFinal:  true,
	})...)
	require.Len(t, out, 4)

	submitted := out[0].(*a2a.TaskStatusUpdateEvent)
	assert.Equal(t, a2a.TaskStateSubmitted, submitted.Status.State)
	assert.Equal(t, a2a.TaskID("task-1"), submitted.TaskID)

	working := out[1].(*a2a.TaskStatusUpdateEvent)
	assert.Equal(t, a2a.TaskStateWorking, working.Status.State)
	require.NotNil(t, working.Status.Message)
	assert.Equal(t, "working on it", MessageText(working.Status.Message))
	assert.False(t, working.Final)

	art := out[2].(*a2a.TaskArtifactUpdateEvent)
	assert.True(t, art.LastChunk)
	assert.Equal(t, weather.ArtifactName, art.Artifact.Name)

	done := out[3].(*a2a.TaskStatusUpdateEvent)
	assert.Equal(t, a2a.TaskStateCompleted, done.Status.State)
	assert.True(t, done.Final)
}

func TestTranslatorFinalStates(t *testing.T) {
	reqCtx := &a2asrv.RequestContext{TaskID: "task-1", ContextID: "ctx-1"}
	h := event.Header{TaskID: "task-1", ContextID: "ctx-1"}

	out := newTranslator(reqCtx).translate(event.StatusChanged{Header: h, State: task.StateInputRequired, Message: "where?"})
	require.Len(t, out, 1)
	input := out[0].(*a2a.TaskStatusUpdateEvent)
	assert.Equal(t, a2a.TaskStateInputRequired, input.Status.State)
	assert.True(t, input.Final)

	out = newTranslator(reqCtx).translate(event.StatusChanged{
		Header: h, State: task.StateFailed, Message: "boom", Reason: task.ReasonAgentFault,
	})
	require.Len(t, out, 1)
	failed := out[0].(*a2a.TaskStatusUpdateEvent)
	assert.Equal(t, a2a.TaskStateFailed, failed.Status.State)
	assert.True(t, failed.Final)
	assert.Equal(t, string(task.ReasonAgentFault), failed.Metadata[MetaFailureReason])
}

func stream(t *testing.T, client *a2aclient.Client, msg *a2a.Message) []a2a.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	var events []a2a.Event
	for ev, err := range client.SendStreamingMessage(ctx, &a2a.MessageSendParams{Message: msg}) {
		require.NoError(t, err)
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	return events
}

func lastStatus(t *testing.T, events []a2a.Event) *a2a.TaskStatusUpdateEvent {
	t.Helper()
	for i := len(events) - 1; i >= 0; i-- {
		if ev, ok := events[i].(*a2a.TaskStatusUpdateEvent); ok {
			return ev
		}
	}
	t.Fatal("no status update in stream")
	return nil
}

func TestStreamingConversation(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	card, err := agentcard.DefaultResolver.Resolve(t.Context(), ts.URL)
	require.NoError(t, err)
	client, err := a2aclient.NewFromCard(t.Context(), card)
	require.NoError(t, err)
	defer func() { _ = client.Destroy() }()

	first := stream(t, client, a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "What's the weather like?"}))
	prompt := lastStatus(t, first)
	assert.Equal(t, a2a.TaskStateInputRequired, prompt.Status.State)
	assert.Equal(t, weather.AskLocationPrompt, MessageText(prompt.Status.Message))

	reply := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "Paris"})
	reply.TaskID = prompt.TaskID
	reply.ContextID = prompt.ContextID
	second := stream(t, client, reply)

	done := lastStatus(t, second)
	assert.Equal(t, a2a.TaskStateCompleted, done.Status.State)
	assert.Equal(t, prompt.TaskID, done.TaskID)

	var report string
	for _, ev := range second {
		if art, ok := ev.(*a2a.TaskArtifactUpdateEvent); ok {
			for _, p := range art.Artifact.Parts {
				if tp, ok := p.(a2a.TextPart); ok {
					report += tp.Text
				}
			}
		}
	}
	assert.Contains(t, report, "Current weather in Paris")
}

func TestServeShutsDownWithContext(t *testing.T) {
	cfg := testConfig()
	exec := executor.New(task.NewInMemoryStore(), weather.New("", weather.NewStatic()))
	s := New(&cfg.Server, &cfg.Agent, exec)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
