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
	"net"
	"net/url"
	"strconv"
	"time"
)

// ServerConfig configures the A2A server.
type ServerConfig struct {
	// Host to bind to.
	Host string `yaml:"host,omitempty" jsonschema:"title=Host,default=localhost"`

	// Port to listen on.
	Port int `yaml:"port,omitempty" jsonschema:"title=Port,minimum=0,maximum=65535,default=10000"`

	// BaseURL is the public URL advertised in the agent card.
	// Defaults to http://<host>:<port>/.
	BaseURL string `yaml:"base_url,omitempty" jsonschema:"title=Base URL"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty" jsonschema:"title=Shutdown Timeout,default=10s"`

	// RateLimit throttles inbound requests.
	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// RateLimitConfig configures a token bucket applied to inbound requests.
type RateLimitConfig struct {
	// Enabled turns on rate limiting.
	Enabled *bool `yaml:"enabled,omitempty"`

	// RequestsPerSecond is the sustained rate.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" jsonschema:"minimum=0,default=10"`

	// Burst is the bucket size.
	Burst int `yaml:"burst,omitempty" jsonschema:"minimum=0,default=20"`
}

// SetDefaults applies default values to ServerConfig.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 10000
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	c.RateLimit.SetDefaults()
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid base_url %q", c.BaseURL)
		}
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be non-negative")
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	return nil
}

// Address returns the listen address.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PublicURL returns the URL clients use to reach the server.
func (c *ServerConfig) PublicURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s/", net.JoinHostPort(host, strconv.Itoa(c.Port)))
}

// IsEnabled returns true if rate limiting is enabled.
func (c *RateLimitConfig) IsEnabled() bool {
	return BoolValue(c.Enabled, false)
}

// SetDefaults applies default values to RateLimitConfig.
func (c *RateLimitConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(false)
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 10
	}
	if c.Burst == 0 {
		c.Burst = 20
	}
}

// Validate checks the rate limit configuration.
func (c *RateLimitConfig) Validate() error {
	if !c.IsEnabled() {
		return nil
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive")
	}
	if c.Burst <= 0 {
		return fmt.Errorf("burst must be positive")
	}
	return nil
}
