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

// ExecutorConfig configures how agent streams are driven.
type ExecutorConfig struct {
	// ItemTimeout is the longest the executor waits for the next agent item
	// before failing the task. Zero disables the deadline.
	ItemTimeout time.Duration `yaml:"item_timeout,omitempty" jsonschema:"title=Item Timeout,default=2m"`

	// ChannelBuffer is the capacity of each task's event channel.
	// A full channel blocks the executor until the consumer catches up.
	ChannelBuffer int `yaml:"channel_buffer,omitempty" jsonschema:"title=Channel Buffer,minimum=0,default=16"`
}

// SetDefaults applies default values to ExecutorConfig.
func (c *ExecutorConfig) SetDefaults() {
	if c.ItemTimeout == 0 {
		c.ItemTimeout = 2 * time.Minute
	}
	if c.ChannelBuffer == 0 {
		c.ChannelBuffer = 16
	}
}

// Validate checks the executor configuration.
func (c *ExecutorConfig) Validate() error {
	if c.ItemTimeout < 0 {
		return fmt.Errorf("item_timeout must be non-negative")
	}
	if c.ChannelBuffer < 0 {
		return fmt.Errorf("channel_buffer must be non-negative")
	}
	return nil
}
