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
	"fmt"
	"time"
)

// StorageBackend identifies a task storage backend.
type StorageBackend string

const (
	// StorageBackendInMemory keeps tasks in process memory (default).
	StorageBackendInMemory StorageBackend = "inmemory"

	// StorageBackendSQL persists tasks in a SQL database.
	StorageBackendSQL StorageBackend = "sql"

	// StorageBackendRedis persists tasks in Redis.
	StorageBackendRedis StorageBackend = "redis"
)

// TasksConfig configures task storage.
type TasksConfig struct {
	// Backend specifies the storage backend: "inmemory" (default), "sql" or "redis".
	Backend StorageBackend `yaml:"backend,omitempty" jsonschema:"enum=inmemory,enum=sql,enum=redis,default=inmemory"`

	// Database references an entry of the databases section.
	// Required when Backend is "sql".
	Database string `yaml:"database,omitempty"`

	// Redis configures the Redis connection when Backend is "redis".
	Redis *RedisConfig `yaml:"redis,omitempty"`

	// Retention configures removal of finished tasks.
	Retention RetentionConfig `yaml:"retention,omitempty"`
}

// RedisConfig configures a Redis connection.
type RedisConfig struct {
	// Addr is host:port of the Redis server.
	Addr string `yaml:"addr,omitempty" jsonschema:"default=localhost:6379"`

	// Username for ACL authentication.
	Username string `yaml:"username,omitempty"`

	// Password for authentication.
	Password string `yaml:"password,omitempty"`

	// DB selects the logical database.
	DB int `yaml:"db,omitempty" jsonschema:"minimum=0"`

	// Prefix namespaces every key.
	Prefix string `yaml:"prefix,omitempty" jsonschema:"default=stratus"`
}

// RetentionConfig configures the retention sweeper.
type RetentionConfig struct {
	// Enabled turns on periodic sweeping.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Schedule is a cron expression (5 fields or a descriptor such as @hourly).
	Schedule string `yaml:"schedule,omitempty" jsonschema:"default=@hourly"`

	// MaxAge is how long finished tasks are kept.
	MaxAge time.Duration `yaml:"max_age,omitempty" jsonschema:"default=24h"`
}

// SetDefaults applies default values for TasksConfig.
func (c *TasksConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = StorageBackendInMemory
	}
	if c.Backend == StorageBackendRedis {
		if c.Redis == nil {
			c.Redis = &RedisConfig{}
		}
		c.Redis.SetDefaults()
	}
	c.Retention.SetDefaults()
}

// Validate checks the tasks configuration.
func (c *TasksConfig) Validate() error {
	switch c.Backend {
	case StorageBackendInMemory, StorageBackendSQL, StorageBackendRedis:
	default:
		return fmt.Errorf("invalid backend %q (valid: inmemory, sql, redis)", c.Backend)
	}

	if c.Backend == StorageBackendSQL && c.Database == "" {
		return fmt.Errorf("database reference is required when backend is sql")
	}
	if c.Database != "" && c.Backend != StorageBackendSQL {
		return fmt.Errorf("database reference requires backend to be sql")
	}
	if c.Backend == StorageBackendRedis {
		if c.Redis == nil || c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when backend is redis")
		}
	}

	if err := c.Retention.Validate(); err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	return nil
}

// IsInMemory returns true if using in-memory task storage.
func (c *TasksConfig) IsInMemory() bool {
	return c == nil || c.Backend == "" || c.Backend == StorageBackendInMemory
}

// IsSQL returns true if using SQL task storage.
func (c *TasksConfig) IsSQL() bool {
	return c != nil && c.Backend == StorageBackendSQL
}

// IsRedis returns true if using Redis task storage.
func (c *TasksConfig) IsRedis() bool {
	return c != nil && c.Backend == StorageBackendRedis
}

// SetDefaults applies default values for RedisConfig.
func (c *RedisConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.Prefix == "" {
		c.Prefix = "stratus"
	}
}

// IsEnabled reports whether the sweeper should run.
func (c *RetentionConfig) IsEnabled() bool {
	return BoolValue(c.Enabled, false)
}

// SetDefaults applies default values for RetentionConfig.
func (c *RetentionConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(false)
	}
	if c.Schedule == "" {
		c.Schedule = "@hourly"
	}
	if c.MaxAge == 0 {
		c.MaxAge = 24 * time.Hour
	}
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	if c.MaxAge < 0 {
		return fmt.Errorf("max_age must be non-negative")
	}
	return nil
}
