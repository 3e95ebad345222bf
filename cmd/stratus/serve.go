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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/a2aproject/a2a-go/a2asrv"

	"github.com/kadirpekel/stratus/pkg/config"
	"github.com/kadirpekel/stratus/pkg/server"
)

// ServeCmd starts the A2A server.
type ServeCmd struct {
	Port  int    `help:"Server port (overrides config)."`
	Host  string `help:"Server host (overrides config)."`
	Watch bool   `help:"Reload the logger when the config changes."`
}

// Run executes the serve command.
func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []config.LoaderOption
	if c.Watch {
		opts = append(opts, config.WithOnChange(func(cfg *config.Config) {
			// Only the logger is hot-reloadable; everything else needs a restart.
			if _, err := initLogger(resolveLogSettings(cli, &cfg.Logger), nil); err != nil {
				slog.Error("Failed to apply reloaded logger settings", "error", err)
			}
		}))
	}

	cfg, loader, err := loadConfig(ctx, cli, opts...)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	closeLog, err := initLogger(resolveLogSettings(cli, &cfg.Logger), nil)
	if err != nil {
		return err
	}
	defer closeLog()

	if c.Port > 0 {
		cfg.Server.Port = c.Port
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			slog.Warn("Shutdown finished with errors", "error", err)
		}
	}()

	srv := server.New(&cfg.Server, &cfg.Agent, a.exec,
		server.WithTracer(a.tracer),
		server.WithMetrics(a.metrics, cfg.Observability.Metrics.Endpoint),
	)

	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Config watcher stopped", "error", err)
			}
		}()
	}

	printStartup(cfg, srv)

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	slog.Info("Server stopped")
	return nil
}

func printStartup(cfg *config.Config, srv *server.Server) {
	card := srv.Card()
	fmt.Printf("\nStratus %s\n", version())
	fmt.Printf("  Agent:    %s\n", card.Name)
	fmt.Printf("  Listen:   %s\n", cfg.Server.Address())
	fmt.Printf("  URL:      %s\n", card.URL)
	fmt.Printf("  Card:     %s\n", strings.TrimSuffix(cfg.Server.PublicURL(), "/")+a2asrv.WellKnownAgentCardPath)
	fmt.Printf("  Tasks:    %s\n", cfg.Tasks.Backend)
	if cfg.Observability.Metrics.Enabled {
		fmt.Printf("  Metrics:  %s\n", cfg.Observability.Metrics.Endpoint)
	}
	fmt.Println()
}
