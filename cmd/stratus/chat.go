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
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/kadirpekel/stratus/pkg/client"
)

// ChatCmd starts an interactive chat session.
type ChatCmd struct {
	URL     string `help:"Base URL of the A2A server." default:"http://localhost:10000"`
	Local   bool   `help:"Run the agent in-process instead of connecting to a server."`
	History string `help:"Readline history file." type:"path"`
}

// Run executes the chat command.
func (c *ChatCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, loader, err := loadConfig(ctx, cli)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	// Log lines would tear up the prompt, so they only go to a file.
	closeLog, err := initLogger(resolveLogSettings(cli, &cfg.Logger), io.Discard)
	if err != nil {
		return err
	}
	defer closeLog()

	var transport client.Transport
	if c.Local {
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())
		transport = client.NewLocal(a.exec)
	} else {
		remote, err := client.Dial(ctx, c.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", c.URL, err)
		}
		transport = remote
	}
	defer transport.Close()

	console, err := client.NewConsole(c.historyFile())
	if err != nil {
		return err
	}
	defer console.Close()

	err = client.NewSession(transport).Run(ctx, console, console)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *ChatCmd) historyFile() string {
	if c.History != "" {
		return c.History
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".stratus_history")
}
