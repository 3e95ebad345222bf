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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/stratus/pkg/config/provider"
)

// Loader reads the configuration from a provider and, when watched, keeps
// the last valid version current.
type Loader struct {
	provider provider.Provider
	onChange func(*Config)
	current  atomic.Pointer[Config]
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnChange registers fn to run after a reload produced a different
// valid configuration.
func WithOnChange(fn func(*Config)) LoaderOption {
	return func(l *Loader) {
		l.onChange = fn
	}
}

// NewLoader creates a Loader over p.
func NewLoader(p provider.Provider, opts ...LoaderOption) *Loader {
	l := &Loader{provider: p}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches and parses the document and makes it current.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	data, err := l.provider.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	l.current.Store(cfg)
	return cfg, nil
}

// Current returns the last successfully loaded configuration, or nil.
func (l *Loader) Current() *Config {
	return l.current.Load()
}

// Watch reloads on every change signalled by the provider until ctx ends.
// Invalid documents are logged and the previous configuration stays current.
func (l *Loader) Watch(ctx context.Context) error {
	changes, err := l.provider.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watching: %w", err)
	}
	if changes == nil {
		slog.Info("Config source cannot be watched", "type", l.provider.Type())
		<-ctx.Done()
		return ctx.Err()
	}

	slog.Info("Watching config for changes", "type", l.provider.Type())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			l.reload(ctx)
		}
	}
}

func (l *Loader) reload(ctx context.Context) {
	prev := l.Current()
	cfg, err := l.Load(ctx)
	if err != nil {
		slog.Error("Config reload rejected, keeping previous configuration", "error", err)
		return
	}
	if prev != nil && reflect.DeepEqual(prev, cfg) {
		slog.Debug("Config reloaded without changes")
		return
	}
	slog.Info("Configuration reloaded")
	if l.onChange != nil {
		l.onChange(cfg)
	}
}

// Close releases the provider.
func (l *Loader) Close() error {
	return l.provider.Close()
}

// Parse turns raw YAML or JSON into a defaulted, validated Config.
// An empty document yields the defaults.
func Parse(data []byte) (*Config, error) {
	raw, err := parseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := &Config{}
	if err := decode(expandEnvVars(raw), cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// parseDocument accepts YAML and, failing that, JSON.
func parseDocument(data []byte) (map[string]any, error) {
	var doc map[string]any
	yamlErr := yaml.Unmarshal(data, &doc)
	if yamlErr == nil {
		if doc == nil {
			doc = map[string]any{}
		}
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Join(yamlErr, err)
	}
	return doc, nil
}

// decode maps the document onto Config through the yaml tags. Unknown keys
// are errors.
func decode(doc map[string]any, out *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(doc)
}

// LoadConfig creates the provider described by opts and loads from it.
func LoadConfig(ctx context.Context, opts provider.ProviderConfig) (*Config, *Loader, error) {
	p, err := provider.New(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create provider: %w", err)
	}
	loader := NewLoader(p)
	cfg, err := loader.Load(ctx)
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	return cfg, loader, nil
}

// LoadConfigFile loads the configuration file at path.
func LoadConfigFile(ctx context.Context, path string) (*Config, *Loader, error) {
	return LoadConfig(ctx, provider.ProviderConfig{Type: provider.TypeFile, Path: path})
}
