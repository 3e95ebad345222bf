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
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const pingTimeout = 10 * time.Second

// sqlitePragmas run on every SQLite database the pool opens.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=10000",
}

// DBPool shares *sql.DB handles between components that reference the same
// database. It is safe for concurrent use.
type DBPool struct {
	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewDBPool creates an empty pool.
func NewDBPool() *DBPool {
	return &DBPool{dbs: make(map[string]*sql.DB)}
}

// Get returns the handle for cfg, opening and pinging it on first use.
func (p *DBPool) Get(cfg *DatabaseConfig) (*sql.DB, error) {
	key := cfg.DriverName() + "|" + cfg.DSN()

	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.dbs[key]; ok {
		return db, nil
	}
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}
	p.dbs[key] = db
	return db, nil
}

func open(cfg *DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.DSN()
	if cfg.isSQLite() && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", cfg, err)
		}
	}

	db, err := sql.Open(cfg.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg, err)
	}

	// SQLite allows a single writer; one connection avoids "database is locked".
	if cfg.isSQLite() {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg, err)
	}

	if cfg.isSQLite() {
		for _, pragma := range sqlitePragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				slog.Warn("SQLite pragma failed", "pragma", pragma, "error", err)
			}
		}
	}

	slog.Debug("Opened database", "database", cfg.String())
	return db, nil
}

// Close closes every handle the pool opened.
func (p *DBPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for key, db := range p.dbs {
		errs = append(errs, db.Close())
		delete(p.dbs, key)
	}
	return errors.Join(errs...)
}
