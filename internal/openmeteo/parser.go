package openmeteo

import (
	"encoding/json"
	"fmt"
	"time"

	"windperf/internal/weather"
)

// Open-Meteo returns local times without an offset; requests pin
// timezone=GMT so they are UTC.
const timeLayout = "2006-01-02T15:04"

type archiveResponse struct {
	Latitude  float64     `json:"latitude"`
	Longitude float64     `json:"longitude"`
	Timezone  string      `json:"timezone"`
	Hourly    hourlyBlock `json:"hourly"`
	Error     bool        `json:"error"`
	Reason    string      `json:"reason"`
}

type hourlyBlock struct {
	Time               []string   `json:"time"`
	Temperature2m      []*float64 `json:"temperature_2m"`
	RelativeHumidity2m []*float64 `json:"relative_humidity_2m"`
	WindSpeed100m      []*float64 `json:"wind_speed_100m"`
	WindGusts10m       []*float64 `json:"wind_gusts_10m"`
	SurfacePressure    []*float64 `json:"surface_pressure"`
}

// ParseHourly decodes an archive response into observations for farmID in
// time order. Hours where any variable is null are skipped.
func ParseHourly(data []byte, farmID string) ([]weather.Observation, error) {
	var resp archiveResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode archive response: %w", err)
	}
	if resp.Error {
		return nil, fmt.Errorf("open-meteo error: %s", resp.Reason)
	}

	h := resp.Hourly
	n := len(h.Time)
	for name, col := range map[string][]*float64{
		"temperature_2m":       h.Temperature2m,
		"relative_humidity_2m": h.RelativeHumidity2m,
		"wind_speed_100m":      h.WindSpeed100m,
		"wind_gusts_10m":       h.WindGusts10m,
		"surface_pressure":     h.SurfacePressure,
	} {
		if len(col) != n {
			return nil, fmt.Errorf("column %s has %d values, want %d", name, len(col), n)
		}
	}

	observations := make([]weather.Observation, 0, n)
	for i, ts := range h.Time {
		t, err := time.ParseInLocation(timeLayout, ts, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse time %q: %w", ts, err)
		}
		temp, rh, ws, gust, p := h.Temperature2m[i], h.RelativeHumidity2m[i], h.WindSpeed100m[i], h.WindGusts10m[i], h.SurfacePressure[i]
		if temp == nil || rh == nil || ws == nil || gust == nil || p == nil {
			continue
		}
		observations = append(observations, weather.Observation{
			FarmID:             farmID,
			Timestamp:          t,
			WindSpeed100m:      *ws,
			WindGusts10m:       *gust,
			Temperature2m:      *temp,
			RelativeHumidity2m: *rh,
			SurfacePressure:    *p,
		})
	}
	return observations, nil
}
