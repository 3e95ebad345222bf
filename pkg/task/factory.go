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

package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kadirpekel/stratus/pkg/config"
)

// NewStoreFromConfig creates a Store based on configuration.
// DBPool is required for SQL backends to share connections and prevent lock errors.
//
// Example config:
//
//	databases:
//	  default:
//	    driver: sqlite
//	    database: ./.stratus/tasks.db
//
//	tasks:
//	  backend: sql
//	  database: default
func NewStoreFromConfig(ctx context.Context, cfg *config.Config, pool *config.DBPool) (Store, error) {
	tasks := &cfg.Tasks

	switch {
	case tasks.IsInMemory():
		slog.Debug("Using in-memory task store")
		return NewInMemoryStore(), nil

	case tasks.IsSQL():
		if pool == nil {
			return nil, fmt.Errorf("DBPool is required for SQL task backend")
		}
		dbCfg, ok := cfg.GetDatabase(tasks.Database)
		if !ok {
			return nil, fmt.Errorf("database %q not found", tasks.Database)
		}
		db, err := pool.Get(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to get database connection: %w", err)
		}
		slog.Debug("Using SQL task store", "database", dbCfg.String())
		return NewSQLStore(db, dbCfg.Dialect())

	case tasks.IsRedis():
		rc := tasks.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Username: rc.Username,
			Password: rc.Password,
			DB:       rc.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", rc.Addr, err)
		}
		slog.Debug("Using Redis task store", "addr", rc.Addr)
		return NewRedisStore(RedisStoreOptions{Client: client, Prefix: rc.Prefix})

	default:
		return nil, fmt.Errorf("unknown tasks backend: %s", tasks.Backend)
	}
}

// NewRetentionFromConfig returns the configured sweeper, or nil when retention is disabled.
func NewRetentionFromConfig(cfg *config.RetentionConfig, store Store) (*Retention, error) {
	if !cfg.IsEnabled() {
		return nil, nil
	}
	return NewRetention(store, cfg.Schedule, cfg.MaxAge)
}
