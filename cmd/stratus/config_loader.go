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
	"fmt"
	"log/slog"

	"github.com/kadirpekel/stratus/pkg/config"
	"github.com/kadirpekel/stratus/pkg/config/provider"
)

// loadConfig loads the configuration named by the global flags. Without
// --config the defaults are used and the returned loader is nil.
func loadConfig(ctx context.Context, cli *CLI, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	if cli.Config == "" {
		_ = config.LoadDotEnv()
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid default configuration: %w", err)
		}
		return cfg, nil, nil
	}

	typ, err := provider.ParseType(cli.ConfigProvider)
	if err != nil {
		return nil, nil, err
	}
	if typ == provider.TypeFile {
		_ = config.LoadDotEnvForConfig(cli.Config)
	}

	p, err := provider.New(provider.ProviderConfig{
		Type:      typ,
		Path:      cli.Config,
		Endpoints: cli.ConfigEndpoints,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create config provider: %w", err)
	}

	loader := config.NewLoader(p, opts...)
	cfg, err := loader.Load(ctx)
	if err != nil {
		_ = loader.Close()
		return nil, nil, err
	}

	slog.Debug("Loaded configuration", "provider", typ, "path", cli.Config)
	return cfg, loader, nil
}
