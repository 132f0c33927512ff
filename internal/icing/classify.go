// Package icing derives dew point, gust factor and pressure tendency from
// hourly weather and classifies turbine icing risk.
package icing

import (
	"math"
	"time"

	"windperf/internal/weather"
)

// Magnus coefficients (Alduchov & Eskridge 1996).
const (
	magnusA = 17.625
	magnusB = 243.04
)

const (
	minHumidity = 0.1
	maxHumidity = 100.0
)

type RiskLevel string

const (
	RiskHigh   RiskLevel = "HIGH"
	RiskMedium RiskLevel = "MEDIUM"
	RiskLow    RiskLevel = "LOW"
)

// Classification is the derived icing view of one farm-hour.
type Classification struct {
	FarmID    string
	Timestamp time.Time

	Temperature2m      float64
	RelativeHumidity2m float64
	WindSpeed100m      float64

	DewPointC        float64
	DewPointSpreadC  float64
	GustFactor       *float64
	PressureChange3h *float64

	RiskLevel           RiskLevel
	SupercooledDroplet  bool
	BladeTipCoolingRisk bool
	TurbulentIcingRisk  bool
}

// ClampHumidity bounds relative humidity to [0.1, 100] so the logarithm
// in DewPoint is always defined.
func ClampHumidity(rh float64) float64 {
	return math.Min(math.Max(rh, minHumidity), maxHumidity)
}

// DewPoint returns the Magnus dew point in °C. Humidity is clamped first.
func DewPoint(temperatureC, relativeHumidity float64) float64 {
	rh := ClampHumidity(relativeHumidity)
	gamma := math.Log(rh/100) + (magnusA*temperatureC)/(magnusB+temperatureC)
	return (magnusB * gamma) / (magnusA - gamma)
}

// GustFactor is gusts/wind speed, or nil when wind speed is not positive.
func GustFactor(gusts, windSpeed float64) *float64 {
	if !(windSpeed > 0) {
		return nil
	}
	gf := gusts / windSpeed
	return &gf
}

// Classify derives the icing classification for a single observation.
// PressureChange3h is left nil; use a PressureIndex or ClassifyAll to fill it.
func Classify(obs weather.Observation) Classification {
	t := obs.Temperature2m
	ws := obs.WindSpeed100m
	dew := DewPoint(t, obs.RelativeHumidity2m)
	spread := t - dew
	gf := GustFactor(obs.WindGusts10m, ws)

	c := Classification{
		FarmID:             obs.FarmID,
		Timestamp:          obs.Timestamp,
		Temperature2m:      t,
		RelativeHumidity2m: obs.RelativeHumidity2m,
		WindSpeed100m:      ws,
		DewPointC:          dew,
		DewPointSpreadC:    spread,
		GustFactor:         gf,
	}

	switch {
	case between(t, -10, 2) && spread <= 2 && between(ws, 6, 12) && gustAbove(gf, 1.3):
		c.RiskLevel = RiskHigh
	case between(t, -5, 5) && spread <= 5 && between(ws, 4, 15):
		c.RiskLevel = RiskMedium
	default:
		c.RiskLevel = RiskLow
	}

	c.SupercooledDroplet = t < 0 && obs.RelativeHumidity2m > 90 && between(ws, 6, 12)
	c.BladeTipCoolingRisk = between(t, -2, 2) && spread <= 1
	c.TurbulentIcingRisk = gustAbove(gf, 1.4) && t < 5
	return c
}

// ClassifyAll classifies every observation and fills PressureChange3h
// from the same set. Output order matches input order.
func ClassifyAll(observations []weather.Observation) []Classification {
	idx := NewPressureIndex(observations)
	out := make([]Classification, len(observations))
	for i, obs := range observations {
		out[i] = Classify(obs)
		out[i].PressureChange3h = idx.Change3h(obs)
	}
	return out
}

// between is inclusive on both ends.
func between(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

func gustAbove(gf *float64, threshold float64) bool {
	return gf != nil && *gf > threshold
}
