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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/stratus/pkg/config"
)

var errInvalidConfig = errors.New("config validation failed")

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	Config      string `arg:"" name:"config" help:"Configuration file path." placeholder:"PATH"`
	Format      string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration (with defaults applied and env vars resolved)."`
}

// Run executes the validate command.
func (c *ValidateCmd) Run(cli *CLI) error {
	return c.run(context.Background(), os.Stdout, os.Stderr)
}

func (c *ValidateCmd) run(ctx context.Context, stdout, stderr io.Writer) error {
	_ = config.LoadDotEnvForConfig(c.Config)

	cfg, loader, err := config.LoadConfigFile(ctx, c.Config)
	if err != nil {
		printLoadError(stdout, stderr, c.Format, c.Config, err)
		return errInvalidConfig
	}
	if loader != nil {
		defer loader.Close()
	}

	if c.PrintConfig {
		return printExpandedConfig(stdout, c.Format, c.Config, cfg)
	}
	printSuccess(stdout, c.Format, c.Config)
	return nil
}

type validationResult struct {
	Valid bool   `json:"valid"`
	File  string `json:"file"`
	Error string `json:"error,omitempty"`
}

func printLoadError(stdout, stderr io.Writer, format, file string, err error) {
	switch format {
	case "json":
		printJSON(stdout, validationResult{File: file, Error: err.Error()})
	case "verbose":
		fmt.Fprintf(stderr, "Configuration Load Error\n")
		fmt.Fprintf(stderr, "========================\n\n")
		fmt.Fprintf(stderr, "File:    %s\n", file)
		fmt.Fprintf(stderr, "Error:   %s\n", err)
	default:
		fmt.Fprintf(stderr, "%s: %s\n", file, err)
	}
}

func printSuccess(w io.Writer, format, file string) {
	switch format {
	case "json":
		printJSON(w, validationResult{Valid: true, File: file})
	case "verbose":
		fmt.Fprintf(w, "Configuration Validation Successful\n")
		fmt.Fprintf(w, "===================================\n\n")
		fmt.Fprintf(w, "File:   %s\n", file)
		fmt.Fprintf(w, "Status: OK\n")
	default:
		fmt.Fprintf(w, "%s: valid\n", file)
	}
}

func printExpandedConfig(w io.Writer, format, file string, cfg *config.Config) error {
	if format == "json" {
		return printJSON(w, cfg)
	}

	fmt.Fprintf(w, "# Expanded configuration from: %s\n", file)
	fmt.Fprintf(w, "# (defaults applied, env vars resolved)\n\n")

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config as YAML: %w", err)
	}
	return encoder.Close()
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
