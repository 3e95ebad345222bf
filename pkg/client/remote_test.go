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
	"net/http/httptest"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/stratus/pkg/agent/weather"
	"github.com/kadirpekel/stratus/pkg/config"
	"github.com/kadirpekel/stratus/pkg/event"
	"github.com/kadirpekel/stratus/pkg/executor"
	"github.com/kadirpekel/stratus/pkg/server"
	"github.com/kadirpekel/stratus/pkg/task"
)

func TestConverterRestoresArtifactOrder(t *testing.T) {
	reqCtx := &a2asrv.RequestContext{TaskID: "t1", ContextID: "c1"}
	c := &converter{}

	var out []event.Event
	out = append(out, c.convert(a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateSubmitted, nil))...)
	out = append(out, c.convert(a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateWorking,
		a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: "looking"})))...)

	art := a2a.NewArtifactEvent(reqCtx, a2a.TextPart{Text: "sunny"})
	art.Artifact.Name = weather.ArtifactName
	art.LastChunk = true
	out = append(out, c.convert(art)...)

	done := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCompleted, nil)
	done.Final = true
	out = append(out, c.convert(done)...)

	require.Len(t, out, 4)
	assert.IsType(t, event.TaskCreated{}, out[0])
	assert.Equal(t, "looking", out[1].(event.StatusChanged).Message)
	assert.Equal(t, task.StateCompleted, out[2].(event.StatusChanged).State)

	delivered := out[3].(event.ArtifactDelivered)
	assert.True(t, delivered.IsFinal)
	assert.Equal(t, "sunny", delivered.Artifact.Text)
	assert.Equal(t, weather.ArtifactName, delivered.Artifact.Name)

	for i := 1; i < len(out); i++ {
		assert.Greater(t, out[i].Meta().Seq, out[i-1].Meta().Seq)
		assert.Equal(t, "t1", out[i].Meta().TaskID)
	}
}

func TestConverterFailure(t *testing.T) {
	reqCtx := &a2asrv.RequestContext{TaskID: "t1", ContextID: "c1"}
	failed := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateFailed,
		a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: "no output"}))
	failed.Metadata = map[string]any{metaFailureReason: string(task.ReasonTimeout)}

	out := (&converter{}).convert(failed)
	require.Len(t, out, 1)
	sc := out[0].(event.StatusChanged)
	assert.Equal(t, task.StateFailed, sc.State)
	assert.Equal(t, task.ReasonTimeout, sc.Reason)
	assert.Equal(t, "no output", sc.Message)
	assert.True(t, event.IsTerminal(sc))
}

func TestRemoteConversation(t *testing.T) {
	cfg := config.Default()
	ts := httptest.NewServer(nil)
	defer ts.Close()
	cfg.Server.BaseURL = ts.URL + "/"

	exec := executor.New(task.NewInMemoryStore(), weather.New(cfg.Agent.Name, weather.NewStatic()))
	ts.Config.Handler = server.New(&cfg.Server, &cfg.Agent, exec).Handler()

	remote, err := Dial(t.Context(), ts.URL)
	require.NoError(t, err)
	defer remote.Close()

	info := remote.Info()
	assert.Equal(t, "Weather Agent", info.Name)
	assert.True(t, info.Streaming)

	s := NewSession(remote)
	in := &answers{lines: []string{"Istanbul"}}
	out, err := s.Ask(t.Context(), "What's the weather like?", in, &recorder{})
	require.NoError(t, err)

	assert.Equal(t, []string{weather.AskLocationPrompt}, in.labels)
	assert.Equal(t, task.StateCompleted, out.State)
	require.NotNil(t, out.Artifact)
	assert.Contains(t, out.Artifact.Text, "Current weather in Istanbul")
	assert.Empty(t, s.ContextID())
}
