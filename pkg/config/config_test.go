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

package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmptyYieldsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 10000, cfg.Server.Port)
	assert.Equal(t, "http://localhost:10000/", cfg.Server.PublicURL())
	assert.True(t, cfg.Tasks.IsInMemory())
	assert.Equal(t, 2*time.Minute, cfg.Executor.ItemTimeout)
	assert.Equal(t, 16, cfg.Executor.ChannelBuffer)
	assert.Equal(t, "Weather Agent", cfg.Agent.Name)
	assert.Equal(t, ForecasterOpenMeteo, cfg.Agent.Forecaster.Type)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.False(t, cfg.Server.RateLimit.IsEnabled())
	assert.False(t, cfg.Tasks.Retention.IsEnabled())
}

func TestParseFullDocument(t *testing.T) {
	t.Setenv("STRATUS_TEST_PORT", "12000")

	doc := `
server:
  host: 0.0.0.0
  port: ${STRATUS_TEST_PORT}
  base_url: https://weather.example.com/
  rate_limit:
    enabled: true
    requests_per_second: 2.5
    burst: 5
tasks:
  backend: sql
  database: main
  retention:
    enabled: true
    schedule: "*/5 * * * *"
    max_age: 1h
executor:
  item_timeout: 45s
  channel_buffer: 4
agent:
  name: Forecasts
  forecaster:
    type: static
databases:
  main:
    driver: sqlite
    database: ${STRATUS_TEST_DB:-/tmp/stratus.db}
logger:
  level: debug
  format: json
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, 12000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:12000", cfg.Server.Address())
	assert.Equal(t, "https://weather.example.com/", cfg.Server.PublicURL())
	assert.True(t, cfg.Server.RateLimit.IsEnabled())
	assert.InDelta(t, 2.5, cfg.Server.RateLimit.RequestsPerSecond, 0.0001)
	assert.True(t, cfg.Tasks.IsSQL())
	assert.Equal(t, time.Hour, cfg.Tasks.Retention.MaxAge)
	assert.Equal(t, 45*time.Second, cfg.Executor.ItemTimeout)
	assert.Equal(t, ForecasterStatic, cfg.Agent.Forecaster.Type)

	db, ok := cfg.GetDatabase("main")
	require.True(t, ok)
	assert.Equal(t, "/tmp/stratus.db", db.Database)
	assert.Equal(t, "sqlite3", db.DriverName())
	assert.Equal(t, "sqlite", db.Dialect())
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "serverz:\n  port: 1\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"unknown backend", "tasks:\n  backend: mongo\n"},
		{"missing database reference", "tasks:\n  backend: sql\n  database: nope\n"},
		{"database without sql backend", "tasks:\n  database: main\n"},
		{"negative timeout", "executor:\n  item_timeout: -1s\n"},
		{"bad forecaster", "agent:\n  forecaster:\n    type: crystal-ball\n"},
		{"bad log format", "logger:\n  format: xml\n"},
		{"bad base url", "server:\n  base_url: not a url\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestRedisBackendDefaults(t *testing.T) {
	cfg, err := Parse([]byte("tasks:\n  backend: redis\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Tasks.Redis)
	assert.Equal(t, "localhost:6379", cfg.Tasks.Redis.Addr)
	assert.Equal(t, "stratus", cfg.Tasks.Redis.Prefix)
	assert.True(t, cfg.Tasks.IsRedis())
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("STRATUS_A", "alpha")

	assert.Equal(t, "alpha", ExpandEnv("$STRATUS_A"))
	assert.Equal(t, "x-alpha-y", ExpandEnv("x-${STRATUS_A}-y"))
	assert.Equal(t, "fallback", ExpandEnv("${STRATUS_UNSET_VAR:-fallback}"))
	assert.Equal(t, "plain", ExpandEnv("plain"))
}

func TestDatabaseDSN(t *testing.T) {
	pg := &DatabaseConfig{Driver: "postgres", Host: "db", Database: "tasks", Username: "u", Password: "p"}
	pg.SetDefaults()
	assert.Equal(t, "postgres://u:p@db:5432/tasks?sslmode=disable", pg.DSN())
	assert.NotContains(t, pg.String(), "p@")

	my := &DatabaseConfig{Driver: "mysql", Host: "db", Database: "tasks", Username: "u", Password: "p"}
	my.SetDefaults()
	assert.Equal(t, "u:p@tcp(db:3306)/tasks?parseTime=true", my.DSN())

	assert.Error(t, (&DatabaseConfig{Driver: "oracle", Database: "x"}).Validate())
	assert.Error(t, (&DatabaseConfig{Driver: "postgres", Database: "x"}).Validate())
	assert.NoError(t, (&DatabaseConfig{Driver: "sqlite3", Database: "x.db"}).Validate())
}

func TestDBPoolSharesSQLiteConnections(t *testing.T) {
	pool := NewDBPool()
	defer pool.Close()

	cfg := &DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "nested", "tasks.db")}
	cfg.SetDefaults()

	db1, err := pool.Get(cfg)
	require.NoError(t, err)
	db2, err := pool.Get(cfg)
	require.NoError(t, err)

	assert.Same(t, db1, db2)
	assert.Equal(t, 1, db1.Stats().MaxOpenConnections)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("STRATUS_DOTENV_VALUE=from-file\n"), 0o600))
	t.Setenv("STRATUS_DOTENV_VALUE", "")
	require.NoError(t, os.Unsetenv("STRATUS_DOTENV_VALUE"))

	require.NoError(t, LoadDotEnvForConfig(filepath.Join(dir, "stratus.yaml")))
	assert.Equal(t, "from-file", os.Getenv("STRATUS_DOTENV_VALUE"))
}

func TestLoadConfigFileAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stratus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 11000\n"), 0o600))

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	require.NoError(t, err)
	defer loader.Close()
	assert.Equal(t, 11000, cfg.Server.Port)

	reloaded := make(chan *Config, 1)
	loader.onChange = func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loader.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 11001\n"), 0o600))

	select {
	case c := <-reloaded:
		assert.Equal(t, 11001, c.Server.Port)
		assert.Same(t, c, loader.Current())
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}

	// An invalid document is rejected and the previous one stays current.
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 99999\n"), 0o600))
	select {
	case <-reloaded:
		t.Fatal("invalid config must not be applied")
	case <-time.After(500 * time.Millisecond):
	}
	assert.Equal(t, 11001, loader.Current().Server.Port)
}

func TestSchema(t *testing.T) {
	schema := Schema()
	data, err := json.Marshal(schema)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"server", "tasks", "executor", "agent", "databases", "logger", "observability"} {
		assert.Contains(t, props, key)
	}
}
