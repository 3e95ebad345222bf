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

package server

import (
	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/stratus/pkg/config"
)

// WeatherSkillID identifies the weather lookup skill on the agent card.
const WeatherSkillID = "weather_search"

// BuildAgentCard creates the A2A agent card served at the well-known path.
func BuildAgentCard(cfg *config.AgentConfig, url string) *a2a.AgentCard {
	return &a2a.AgentCard{
		Name:               cfg.Name,
		Description:        cfg.Description,
		URL:                url,
		Version:            cfg.Version,
		ProtocolVersion:    "1.0",
		DefaultInputModes:  []string{"text", "text/plain"},
		DefaultOutputModes: []string{"text", "text/plain"},
		Skills: []a2a.AgentSkill{{
			ID:          WeatherSkillID,
			Name:        "Search weather",
			Description: "Helps with weather in cities or states",
			Tags:        []string{"weather"},
			Examples: []string{
				"weather in LA, CA",
				"What's the weather in New York?",
				"Is it raining in London right now?",
			},
		}},
		Capabilities: a2a.AgentCapabilities{
			Streaming:              true,
			PushNotifications:      false,
			StateTransitionHistory: false,
		},
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		Provider: &a2a.AgentProvider{
			Org: "Stratus",
			URL: "https://github.com/kadirpekel/stratus",
		},
	}
}
