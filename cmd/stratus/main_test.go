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

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/stratus/pkg/config"
)

func TestResolveLogSettings(t *testing.T) {
	fileCfg := &config.LoggerConfig{Level: "warn", Format: "json", File: "from-config.log"}

	t.Run("defaults", func(t *testing.T) {
		t.Setenv(LogLevelEnvVar, "")
		t.Setenv(LogFormatEnvVar, "")
		t.Setenv(LogFileEnvVar, "")

		s := resolveLogSettings(&CLI{}, nil)
		assert.Equal(t, logSettings{Level: "info", Format: "simple"}, s)
	})

	t.Run("config over defaults", func(t *testing.T) {
		t.Setenv(LogLevelEnvVar, "")
		t.Setenv(LogFormatEnvVar, "")
		t.Setenv(LogFileEnvVar, "")

		s := resolveLogSettings(&CLI{}, fileCfg)
		assert.Equal(t, logSettings{Level: "warn", Format: "json", File: "from-config.log"}, s)
	})

	t.Run("env over config", func(t *testing.T) {
		t.Setenv(LogLevelEnvVar, "debug")
		t.Setenv(LogFormatEnvVar, "")
		t.Setenv(LogFileEnvVar, "")

		s := resolveLogSettings(&CLI{}, fileCfg)
		assert.Equal(t, "debug", s.Level)
		assert.Equal(t, "json", s.Format)
	})

	t.Run("flags over env", func(t *testing.T) {
		t.Setenv(LogLevelEnvVar, "debug")
		t.Setenv(LogFormatEnvVar, "json")
		t.Setenv(LogFileEnvVar, "")

		s := resolveLogSettings(&CLI{LogLevel: "error", LogFormat: "verbose"}, fileCfg)
		assert.Equal(t, "error", s.Level)
		assert.Equal(t, "verbose", s.Format)
		assert.Equal(t, "from-config.log", s.File)
	})
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	_, err := initLogger(logSettings{Level: "loud", Format: "simple"}, nil)
	assert.Error(t, err)
}

func TestLoadConfigWithoutFileUsesDefaults(t *testing.T) {
	cfg, loader, err := loadConfig(t.Context(), &CLI{ConfigProvider: "file"})
	require.NoError(t, err)
	assert.Nil(t, loader)
	assert.Equal(t, 10000, cfg.Server.Port)
	assert.Equal(t, config.StorageBackendInMemory, cfg.Tasks.Backend)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stratus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestValidateCommand(t *testing.T) {
	t.Run("valid compact", func(t *testing.T) {
		path := writeConfig(t, "server:\n  port: 9000\n")
		var stdout, stderr bytes.Buffer

		err := (&ValidateCmd{Config: path, Format: "compact"}).run(t.Context(), &stdout, &stderr)
		require.NoError(t, err)
		assert.Equal(t, path+": valid\n", stdout.String())
		assert.Empty(t, stderr.String())
	})

	t.Run("invalid json", func(t *testing.T) {
		path := writeConfig(t, "server:\n  port: 70000\n")
		var stdout, stderr bytes.Buffer

		err := (&ValidateCmd{Config: path, Format: "json"}).run(t.Context(), &stdout, &stderr)
		require.ErrorIs(t, err, errInvalidConfig)

		var result validationResult
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
		assert.False(t, result.Valid)
		assert.Contains(t, result.Error, "invalid port")
	})

	t.Run("print config", func(t *testing.T) {
		path := writeConfig(t, "server:\n  port: 9000\n")
		var stdout, stderr bytes.Buffer

		err := (&ValidateCmd{Config: path, Format: "compact", PrintConfig: true}).run(t.Context(), &stdout, &stderr)
		require.NoError(t, err)
		assert.Contains(t, stdout.String(), "port: 9000")
		assert.Contains(t, stdout.String(), "shutdown_timeout")
	})
}
