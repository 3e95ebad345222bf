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

// Package config defines the stratus configuration file and its loader.
//
// Example:
//
//	server:
//	  port: 10000
//	tasks:
//	  backend: sql
//	  database: default
//	  retention:
//	    max_age: 24h
//	databases:
//	  default:
//	    driver: sqlite
//	    database: ./.stratus/tasks.db
//	agent:
//	  forecaster:
//	    type: open-meteo
package config

import (
	"fmt"
	"sort"

	"github.com/kadirpekel/stratus/pkg/observability"
)

// Config is the root configuration.
type Config struct {
	// Server configures the A2A HTTP server.
	Server ServerConfig `yaml:"server,omitempty"`

	// Tasks configures task persistence.
	Tasks TasksConfig `yaml:"tasks,omitempty"`

	// Executor configures how agent streams are driven.
	Executor ExecutorConfig `yaml:"executor,omitempty"`

	// Agent configures the served agent.
	Agent AgentConfig `yaml:"agent,omitempty"`

	// Databases defines named SQL connections referenced by other sections.
	Databases map[string]*DatabaseConfig `yaml:"databases,omitempty"`

	// Logger configures logging.
	Logger LoggerConfig `yaml:"logger,omitempty"`

	// Observability configures tracing and metrics.
	Observability observability.Config `yaml:"observability,omitempty"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults applies default values to every section.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Tasks.SetDefaults()
	c.Executor.SetDefaults()
	c.Agent.SetDefaults()
	c.Logger.SetDefaults()
	c.Observability.SetDefaults()

	for _, db := range c.Databases {
		if db != nil {
			db.SetDefaults()
		}
	}
}

// Validate checks every section and cross-references between them.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Tasks.Validate(); err != nil {
		return fmt.Errorf("tasks: %w", err)
	}
	if err := c.Executor.Validate(); err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}

	for _, name := range c.ListDatabases() {
		db := c.Databases[name]
		if db == nil {
			return fmt.Errorf("databases.%s: empty definition", name)
		}
		if err := db.Validate(); err != nil {
			return fmt.Errorf("databases.%s: %w", name, err)
		}
	}

	return c.validateReferences()
}

func (c *Config) validateReferences() error {
	if c.Tasks.IsSQL() {
		if _, ok := c.GetDatabase(c.Tasks.Database); !ok {
			return fmt.Errorf("tasks: database %q not found (available: %v)", c.Tasks.Database, c.ListDatabases())
		}
	}
	return nil
}

// GetDatabase returns a named database definition.
func (c *Config) GetDatabase(name string) (*DatabaseConfig, bool) {
	db, ok := c.Databases[name]
	return db, ok && db != nil
}

// ListDatabases returns database names in sorted order.
func (c *Config) ListDatabases() []string {
	names := make([]string, 0, len(c.Databases))
	for name := range c.Databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

// BoolValue dereferences p, falling back to def when nil.
func BoolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
