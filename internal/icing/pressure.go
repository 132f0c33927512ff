package icing

import (
	"time"

	"windperf/internal/weather"
)

const pressureLag = 3 * time.Hour

// PressureIndex looks up surface pressure by exact farm-hour, so missing
// hours yield no tendency instead of a shifted one.
type PressureIndex map[weather.HourKey]float64

func NewPressureIndex(observations []weather.Observation) PressureIndex {
	idx := make(PressureIndex, len(observations))
	for _, o := range observations {
		idx[o.Key()] = o.SurfacePressure
	}
	return idx
}

// Change3h returns current pressure minus the same farm's pressure exactly
// three hours earlier, or nil when that hour is absent.
func (p PressureIndex) Change3h(obs weather.Observation) *float64 {
	prior, ok := p[weather.KeyOf(obs.FarmID, obs.Timestamp.Add(-pressureLag))]
	if !ok {
		return nil
	}
	d := obs.SurfacePressure - prior
	return &d
}
