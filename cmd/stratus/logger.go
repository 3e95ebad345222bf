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
	"fmt"
	"io"
	"os"

	"github.com/kadirpekel/stratus/pkg/config"
	"github.com/kadirpekel/stratus/pkg/logger"
)

const (
	// LogFileEnvVar is the environment variable name for log file path
	LogFileEnvVar = "LOG_FILE"
	// LogLevelEnvVar is the environment variable name for log level
	LogLevelEnvVar = "LOG_LEVEL"
	// LogFormatEnvVar is the environment variable name for log format
	LogFormatEnvVar = "LOG_FORMAT"
)

// logSettings is the resolved logger configuration.
type logSettings struct {
	Level  string
	File   string
	Format string
}

// resolveLogSettings picks each setting by priority:
// CLI flags > env vars > config file > defaults.
func resolveLogSettings(cli *CLI, cfg *config.LoggerConfig) logSettings {
	s := logSettings{
		Level:  first(cli.LogLevel, os.Getenv(LogLevelEnvVar)),
		File:   first(cli.LogFile, os.Getenv(LogFileEnvVar)),
		Format: first(cli.LogFormat, os.Getenv(LogFormatEnvVar)),
	}
	if cfg != nil {
		s.Level = first(s.Level, cfg.Level)
		s.File = first(s.File, cfg.File)
		s.Format = first(s.Format, cfg.Format)
	}
	s.Level = first(s.Level, "info")
	s.Format = first(s.Format, logger.FormatSimple)
	return s
}

// initLogger installs the process logger. When fallback is set and no log
// file is configured, output goes there instead of stderr.
func initLogger(s logSettings, fallback io.Writer) (func(), error) {
	level, err := logger.ParseLevel(s.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var (
		output  io.Writer = os.Stderr
		cleanup           = func() {}
	)
	switch {
	case s.File != "":
		file, closeFn, err := logger.OpenLogFile(s.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output, cleanup = file, closeFn
	case fallback != nil:
		output = fallback
	}

	logger.Init(level, output, s.Format)
	return cleanup, nil
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
