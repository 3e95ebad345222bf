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


package provider

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	for in, want := range map[string]Type{
		"":          TypeFile,
		"file":      TypeFile,
		"consul":    TypeConsul,
		"etcd":      TypeEtcd,
		"zk":        TypeZookeeper,
		"zookeeper": TypeZookeeper,
	} {
		got, err := ParseType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseType("s3")
	assert.Error(t, err)
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(ProviderConfig{Type: TypeFile})
	assert.Error(t, err)
}

func TestFileProviderSignalsOnlyContentChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stratus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 1\n"), 0o600))

	p, err := NewFileProvider(path)
	require.NoError(t, err)
	defer p.Close()

	data, err := p.Load(t.Context())
	require.NoError(t, err)
	assert.Contains(t, string(data), "port: 1")

	changes, err := p.Watch(t.Context())
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	// Rewriting identical content is not a change.
	require.NoError(t, os.WriteFile(path, data, 0o600))
	select {
	case <-changes:
		t.Fatal("unexpected change signal for identical content")
	case <-time.After(4 * debounceDelay):
	}

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 2\n"), 0o600))
	select {
	case _, ok := <-changes:
		require.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("change was not signalled")
	}
}

func TestFileProviderClosed(t *testing.T) {
	p, err := NewFileProvider(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.Watch(t.Context())
	assert.Error(t, err)

	_, err = p.Load(t.Context())
	assert.Error(t, err)
}
