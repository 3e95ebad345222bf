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

// Forecaster types.
const (
	ForecasterOpenMeteo = "open-meteo"
	ForecasterStatic    = "static"
)

// AgentConfig configures the served weather agent and its card.
type AgentConfig struct {
	// Name shown in the agent card.
	Name string `yaml:"name,omitempty" jsonschema:"default=Weather Agent"`

	// Description shown in the agent card.
	Description string `yaml:"description,omitempty"`

	// Version shown in the agent card.
	Version string `yaml:"version,omitempty" jsonschema:"default=1.0.0"`

	// Forecaster selects where weather data comes from.
	Forecaster ForecasterConfig `yaml:"forecaster,omitempty"`
}

// ForecasterConfig configures the weather data source.
type ForecasterConfig struct {
	// Type is "open-meteo" (default) or "static".
	Type string `yaml:"type,omitempty" jsonschema:"enum=open-meteo,enum=static,default=open-meteo"`

	// GeocodingURL overrides the open-meteo geocoding endpoint.
	GeocodingURL string `yaml:"geocoding_url,omitempty"`

	// ForecastURL overrides the open-meteo forecast endpoint.
	ForecastURL string `yaml:"forecast_url,omitempty"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `yaml:"timeout,omitempty" jsonschema:"default=10s"`

	// MaxRetries for transient HTTP failures.
	MaxRetries int `yaml:"max_retries,omitempty" jsonschema:"minimum=0,default=3"`
}

// SetDefaults applies default values to AgentConfig.
func (c *AgentConfig) SetDefaults() {
	if c.Name == "" {
		c.Name = "Weather Agent"
	}
	if c.Description == "" {
		c.Description = "Provides current weather information for any location"
	}
	if c.Version == "" {
		c.Version = "1.0.0"
	}
	c.Forecaster.SetDefaults()
}

// Validate checks the agent configuration.
func (c *AgentConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if err := c.Forecaster.Validate(); err != nil {
		return fmt.Errorf("forecaster: %w", err)
	}
	return nil
}

// SetDefaults applies default values to ForecasterConfig.
func (c *ForecasterConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = ForecasterOpenMeteo
	}
	if c.GeocodingURL == "" {
		c.GeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
	}
	if c.ForecastURL == "" {
		c.ForecastURL = "https://api.open-meteo.com/v1/forecast"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Validate checks the forecaster configuration.
func (c *ForecasterConfig) Validate() error {
	switch c.Type {
	case ForecasterOpenMeteo, ForecasterStatic:
	default:
		return fmt.Errorf("invalid type %q (valid: open-meteo, static)", c.Type)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	return nil
}
