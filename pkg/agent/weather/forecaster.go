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

package weather

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/stratus/pkg/httpclient"
)

// ErrUnknownLocation is returned when a forecaster cannot resolve a place name.
var ErrUnknownLocation = errors.New("unknown location")

// Report is the current weather at a resolved location.
type Report struct {
	Location    string
	Region      string
	Country     string
	Latitude    float64
	Longitude   float64
	Temperature float64 // °C
	FeelsLike   float64 // °C
	Humidity    int     // percent
	WindSpeed   float64 // km/h
	Code        int     // WMO weather interpretation code
	ObservedAt  time.Time
}

// Place renders the location with whatever region and country are known.
func (r *Report) Place() string {
	parts := []string{r.Location}
	if r.Region != "" && r.Region != r.Location {
		parts = append(parts, r.Region)
	}
	if r.Country != "" {
		parts = append(parts, r.Country)
	}
	return strings.Join(parts, ", ")
}

// Forecaster looks up current conditions for a place name.
type Forecaster interface {
	Current(ctx context.Context, location string) (*Report, error)
}

// OpenMeteo queries the open-meteo geocoding and forecast APIs.
type OpenMeteo struct {
	client       *httpclient.Client
	geocodingURL string
	forecastURL  string
}

// NewOpenMeteo creates a forecaster against the given endpoints.
func NewOpenMeteo(client *httpclient.Client, geocodingURL, forecastURL string) *OpenMeteo {
	if client == nil {
		client = httpclient.New()
	}
	return &OpenMeteo{
		client:       client,
		geocodingURL: geocodingURL,
		forecastURL:  forecastURL,
	}
}

type geocodingResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Country   string  `json:"country"`
		Admin1    string  `json:"admin1"`
	} `json:"results"`
}

type forecastResponse struct {
	Current struct {
		Time                string  `json:"time"`
		Temperature2m       float64 `json:"temperature_2m"`
		ApparentTemperature float64 `json:"apparent_temperature"`
		RelativeHumidity2m  float64 `json:"relative_humidity_2m"`
		WindSpeed10m        float64 `json:"wind_speed_10m"`
		WeatherCode         int     `json:"weather_code"`
	} `json:"current"`
}

// Current geocodes location and fetches its current conditions.
func (o *OpenMeteo) Current(ctx context.Context, location string) (*Report, error) {
	q := url.Values{}
	q.Set("name", location)
	q.Set("count", "1")
	q.Set("language", "en")
	q.Set("format", "json")

	var geo geocodingResponse
	if err := o.client.GetJSON(ctx, o.geocodingURL+"?"+q.Encode(), &geo); err != nil {
		return nil, fmt.Errorf("geocoding %q: %w", location, err)
	}
	if len(geo.Results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLocation, location)
	}
	place := geo.Results[0]

	q = url.Values{}
	q.Set("latitude", strconv.FormatFloat(place.Latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(place.Longitude, 'f', 4, 64))
	q.Set("current", "temperature_2m,apparent_temperature,relative_humidity_2m,wind_speed_10m,weather_code")
	q.Set("timezone", "auto")

	var fc forecastResponse
	if err := o.client.GetJSON(ctx, o.forecastURL+"?"+q.Encode(), &fc); err != nil {
		return nil, fmt.Errorf("forecast for %s: %w", place.Name, err)
	}

	observed, _ := time.Parse("2006-01-02T15:04", fc.Current.Time)
	return &Report{
		Location:    place.Name,
		Region:      place.Admin1,
		Country:     place.Country,
		Latitude:    place.Latitude,
		Longitude:   place.Longitude,
		Temperature: fc.Current.Temperature2m,
		FeelsLike:   fc.Current.ApparentTemperature,
		Humidity:    int(fc.Current.RelativeHumidity2m),
		WindSpeed:   fc.Current.WindSpeed10m,
		Code:        fc.Current.WeatherCode,
		ObservedAt:  observed,
	}, nil
}

// Static serves reports from a fixed table. Lookups ignore case.
type Static struct {
	reports map[string]Report
}

// NewStatic creates a table-backed forecaster. With no reports it uses a
// small built-in table of major cities.
func NewStatic(reports ...Report) *Static {
	if len(reports) == 0 {
		reports = defaultReports
	}
	s := &Static{reports: make(map[string]Report, len(reports))}
	for _, r := range reports {
		s.reports[strings.ToLower(r.Location)] = r
	}
	return s
}

// Current returns the table entry for location.
func (s *Static) Current(ctx context.Context, location string) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, ok := s.reports[strings.ToLower(strings.TrimSpace(location))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLocation, location)
	}
	r.ObservedAt = time.Now().UTC().Truncate(time.Minute)
	return &r, nil
}

var defaultReports = []Report{
	{Location: "London", Country: "United Kingdom", Latitude: 51.5085, Longitude: -0.1257, Temperature: 14.2, FeelsLike: 12.9, Humidity: 78, WindSpeed: 15.8, Code: 3},
	{Location: "New York", Region: "New York", Country: "United States", Latitude: 40.7143, Longitude: -74.006, Temperature: 21.5, FeelsLike: 21.9, Humidity: 64, WindSpeed: 11.2, Code: 1},
	{Location: "Paris", Region: "Île-de-France", Country: "France", Latitude: 48.8534, Longitude: 2.3488, Temperature: 17.8, FeelsLike: 17.1, Humidity: 70, WindSpeed: 9.4, Code: 2},
	{Location: "Tokyo", Country: "Japan", Latitude: 35.6895, Longitude: 139.6917, Temperature: 24.1, FeelsLike: 25.6, Humidity: 72, WindSpeed: 7.6, Code: 61},
	{Location: "Istanbul", Country: "Türkiye", Latitude: 41.0138, Longitude: 28.9497, Temperature: 19.3, FeelsLike: 18.8, Humidity: 68, WindSpeed: 18.7, Code: 0},
	{Location: "Sydney", Region: "New South Wales", Country: "Australia", Latitude: -33.8678, Longitude: 151.2073, Temperature: 16.4, FeelsLike: 15.0, Humidity: 55, WindSpeed: 22.3, Code: 80},
}

// Describe maps a WMO weather code to a short description.
func Describe(code int) string {
	switch code {
	case 0:
		return "Clear sky"
	case 1:
		return "Mainly clear"
	case 2:
		return "Partly cloudy"
	case 3:
		return "Overcast"
	case 45, 48:
		return "Fog"
	case 51, 53, 55:
		return "Drizzle"
	case 56, 57:
		return "Freezing drizzle"
	case 61:
		return "Light rain"
	case 63:
		return "Moderate rain"
	case 65:
		return "Heavy rain"
	case 66, 67:
		return "Freezing rain"
	case 71, 73, 75, 77:
		return "Snow"
	case 80, 81, 82:
		return "Rain showers"
	case 85, 86:
		return "Snow showers"
	case 95:
		return "Thunderstorm"
	case 96, 99:
		return "Thunderstorm with hail"
	default:
		return "Unknown conditions"
	}
}
