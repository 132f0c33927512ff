// Package openmeteo fetches hourly hub-height weather for farm locations
// from the Open-Meteo archive API.
package openmeteo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"windperf/internal/weather"
)

const DefaultBaseURL = "https://archive-api.open-meteo.com/v1/archive"

var hourlyVariables = []string{
	"temperature_2m",
	"relative_humidity_2m",
	"wind_speed_100m",
	"wind_gusts_10m",
	"surface_pressure",
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchHourly returns the farm's hourly observations for the UTC days
// from start to end inclusive. Hours with any missing variable are dropped.
func (c *Client) FetchHourly(ctx context.Context, farm weather.Farm, start, end time.Time) ([]weather.Observation, error) {
	params := url.Values{
		"latitude":        {strconv.FormatFloat(farm.Lat, 'f', 4, 64)},
		"longitude":       {strconv.FormatFloat(farm.Lon, 'f', 4, 64)},
		"start_date":      {start.UTC().Format(time.DateOnly)},
		"end_date":        {end.UTC().Format(time.DateOnly)},
		"hourly":          {strings.Join(hourlyVariables, ",")},
		"wind_speed_unit": {"ms"},
		"timezone":        {"GMT"},
	}

	data, err := c.fetch(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("fetch hourly weather for %s: %w", farm.ID, err)
	}
	return ParseHourly(data, farm.ID)
}

func (c *Client) fetch(ctx context.Context, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("open-meteo returned %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}
