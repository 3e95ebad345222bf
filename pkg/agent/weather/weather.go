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

// Package weather implements an agent that reports current weather conditions.
//
// A query that names a place ("weather in Paris") is answered directly.
// Otherwise the agent asks which location the user means, and the next
// message on the same task is taken as the answer.
package weather

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kadirpekel/stratus/pkg/agent"
	"github.com/kadirpekel/stratus/pkg/config"
	"github.com/kadirpekel/stratus/pkg/httpclient"
	"github.com/kadirpekel/stratus/pkg/task"
)

const (
	ArtifactName        = "weather_report"
	ArtifactDescription = "Current weather information for the requested location."

	// AskLocationPrompt is sent when the query names no place.
	AskLocationPrompt = "Which location would you like the weather for? For example: \"What's the weather in New York?\""
)

// Agent answers weather questions using a Forecaster.
type Agent struct {
	name       string
	forecaster Forecaster
}

// New creates a weather agent.
func New(name string, forecaster Forecaster) *Agent {
	if name == "" {
		name = "Weather Agent"
	}
	return &Agent{name: name, forecaster: forecaster}
}

// NewFromConfig builds the agent and the forecaster selected by cfg.
func NewFromConfig(cfg *config.AgentConfig) (*Agent, error) {
	fc := cfg.Forecaster

	var f Forecaster
	switch fc.Type {
	case config.ForecasterStatic:
		f = NewStatic()
	case config.ForecasterOpenMeteo:
		client := httpclient.New(
			httpclient.WithTimeout(fc.Timeout),
			httpclient.WithMaxRetries(fc.MaxRetries),
		)
		f = NewOpenMeteo(client, fc.GeocodingURL, fc.ForecastURL)
	default:
		return nil, fmt.Errorf("unknown forecaster type: %s", fc.Type)
	}

	slog.Debug("Weather agent configured", "forecaster", fc.Type)
	return New(cfg.Name, f), nil
}

// Name returns the agent name.
func (a *Agent) Name() string {
	return a.name
}

// Stream answers query. When the task was waiting for a location, history
// ends with the agent's prompt followed by the user's reply.
func (a *Agent) Stream(ctx context.Context, query, contextID string, history []task.Message) iter.Seq2[agent.Item, error] {
	return func(yield func(agent.Item, error) bool) {
		location := ExtractLocation(query, answersPrompt(history))
		if location == "" {
			yield(agent.InputRequired{Prompt: AskLocationPrompt}, nil)
			return
		}

		if !yield(agent.Progress{Message: fmt.Sprintf("Searching for current weather in %s...", location)}, nil) {
			return
		}

		report, err := a.forecaster.Current(ctx, location)
		switch {
		case errors.Is(err, ErrUnknownLocation):
			yield(agent.InputRequired{
				Prompt: fmt.Sprintf("I couldn't find a place called %q. Which city do you mean?", location),
			}, nil)
			return
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield(nil, ctxErr)
				return
			}
			slog.Warn("Weather lookup failed", "location", location, "context_id", contextID, "error", err)
			yield(agent.Failed{Reason: fmt.Sprintf("weather service unavailable: %v", err)}, nil)
			return
		}

		if !yield(agent.Progress{Message: "Processing weather data and formatting response..."}, nil) {
			return
		}

		yield(agent.Completed{Artifact: task.Artifact{
			Name:        ArtifactName,
			Description: ArtifactDescription,
			Text:        FormatReport(report),
		}}, nil)
	}
}

// FormatReport renders a report as the artifact text.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current weather in %s:\n", r.Place())
	fmt.Fprintf(&b, "Conditions: %s\n", Describe(r.Code))
	fmt.Fprintf(&b, "Temperature: %.1f°C (feels like %.1f°C)\n", r.Temperature, r.FeelsLike)
	fmt.Fprintf(&b, "Humidity: %d%%\n", r.Humidity)
	fmt.Fprintf(&b, "Wind: %.1f km/h", r.WindSpeed)
	if !r.ObservedAt.IsZero() {
		fmt.Fprintf(&b, "\nObserved: %s", r.ObservedAt.Format(time.DateTime))
	}
	return b.String()
}

// answersPrompt reports whether the last message replies to an agent question.
func answersPrompt(history []task.Message) bool {
	n := len(history)
	return n >= 2 && history[n-1].Role == task.RoleUser && history[n-2].Role == task.RoleAgent
}

var (
	// "weather in Paris", "forecast for New York today"
	prepositionRe = regexp.MustCompile(`(?i)\b(?:in|for|at|near|around)\s+([\p{L}][\p{L}\p{M}\s.'’-]*)`)

	trailingRe = regexp.MustCompile(`(?i)(?:^|\s+)(?:today|tonight|tomorrow|now|right now|currently|please|this (?:morning|afternoon|evening|week))$`)

	weatherWords = map[string]bool{
		"weather": true, "forecast": true, "temperature": true, "rain": true,
		"raining": true, "sunny": true, "snow": true, "wind": true, "windy": true,
		"hot": true, "cold": true, "humid": true, "humidity": true, "climate": true,
		"what": true, "what's": true, "whats": true, "how": true, "is": true,
		"the": true, "it": true, "like": true, "tell": true, "me": true, "current": true,
	}
)

// ExtractLocation finds the place a query is asking about.
// A reply to a prompt is taken as the location when it has no preposition.
// A short query with no weather words ("Paris") is also taken as-is.
func ExtractLocation(query string, reply bool) string {
	q := strings.TrimSpace(query)
	if q == "" {
		return ""
	}

	if m := prepositionRe.FindStringSubmatch(q); m != nil {
		if loc := cleanLocation(m[1]); loc != "" {
			return loc
		}
	}

	loc := cleanLocation(q)
	if loc == "" {
		return ""
	}
	if reply {
		return loc
	}

	words := strings.Fields(loc)
	if len(words) > 4 {
		return ""
	}
	for _, w := range words {
		if weatherWords[strings.ToLower(w)] {
			return ""
		}
	}
	return loc
}

func cleanLocation(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "?!.,;: ")
	for {
		trimmed := trailingRe.ReplaceAllString(s, "")
		trimmed = strings.TrimRight(trimmed, "?!.,;: ")
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return strings.TrimSpace(s)
}

var _ agent.Agent = (*Agent)(nil)
