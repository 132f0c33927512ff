package icing

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"windperf/internal/weather"
)

var t0 = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func obs(farm string, hour int, temp, rh, ws, gust, pressure float64) weather.Observation {
	return weather.Observation{
		FarmID:             farm,
		Timestamp:          t0.Add(time.Duration(hour) * time.Hour),
		WindSpeed100m:      ws,
		WindGusts10m:       gust,
		Temperature2m:      temp,
		RelativeHumidity2m: rh,
		SurfacePressure:    pressure,
	}
}

func TestDewPoint_FreezingNearSaturation(t *testing.T) {
	dp := DewPoint(0, 95)
	assert.InDelta(t, -0.705, dp, 0.01)

	c := Classify(obs("a", 0, 0, 95, 8, 8, 1000))
	assert.InDelta(t, 0.705, c.DewPointSpreadC, 0.01)
	assert.InDelta(t, c.Temperature2m-c.DewPointC, c.DewPointSpreadC, 1e-12, "spread is T minus dew point")
}

func TestDewPoint_NeverAboveTemperature(t *testing.T) {
	for temp := -30.0; temp <= 35; temp += 2.5 {
		for rh := -10.0; rh <= 120; rh += 5 {
			dp := DewPoint(temp, rh)
			require.False(t, math.IsNaN(dp) || math.IsInf(dp, 0), "T=%v RH=%v", temp, rh)
			assert.LessOrEqual(t, dp, temp+1e-9, "T=%v RH=%v", temp, rh)
		}
	}
}

func TestDewPoint_ClampsHumidity(t *testing.T) {
	assert.Equal(t, 0.1, ClampHumidity(0))
	assert.Equal(t, 0.1, ClampHumidity(-4))
	assert.Equal(t, 100.0, ClampHumidity(140))
	assert.Equal(t, 55.0, ClampHumidity(55))

	assert.InDelta(t, 7.0, DewPoint(7, 130), 1e-9, "over-saturated reads as saturated")
	assert.Equal(t, DewPoint(7, 0.1), DewPoint(7, 0))
}

func TestGustFactor_ZeroWind(t *testing.T) {
	assert.Nil(t, GustFactor(5, 0))
	assert.Nil(t, GustFactor(5, -1))
	gf := GustFactor(12, 8)
	require.NotNil(t, gf)
	assert.InDelta(t, 1.5, *gf, 1e-12)
}

func TestClassify_RiskLevels(t *testing.T) {
	tests := []struct {
		name string
		obs  weather.Observation
		want RiskLevel
	}{
		{"high: near-saturated freezing gusty", obs("a", 0, 0, 99, 8, 11, 1000), RiskHigh},
		{"high: inclusive bounds", obs("a", 0, 2, 96, 12, 15.7, 1000), RiskHigh},
		{"high: lower wind bound", obs("a", 0, -6, 99, 6, 8, 1000), RiskHigh},
		{"medium: gust factor too low for high", obs("a", 0, 0, 99, 8, 9, 1000), RiskMedium},
		{"medium: mild and moist", obs("a", 0, 4, 80, 10, 10, 1000), RiskMedium},
		{"low: warm", obs("a", 0, 15, 99, 8, 12, 1000), RiskLow},
		{"low: calm", obs("a", 0, 0, 99, 3, 5, 1000), RiskLow},
		{"low: zero wind", obs("a", 0, 0, 99, 0, 4, 1000), RiskLow},
		{"low: dry", obs("a", 0, 0, 40, 8, 12, 1000), RiskLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.obs).RiskLevel)
		})
	}
}

func TestClassify_MechanismFlags(t *testing.T) {
	c := Classify(obs("a", 0, -1, 99.5, 8, 12, 1000))
	assert.Equal(t, RiskHigh, c.RiskLevel)
	assert.True(t, c.SupercooledDroplet)
	assert.True(t, c.BladeTipCoolingRisk)
	assert.True(t, c.TurbulentIcingRisk)

	c = Classify(obs("a", 0, 1, 92, 14, 14, 1000))
	assert.False(t, c.SupercooledDroplet, "above freezing")
	assert.False(t, c.BladeTipCoolingRisk, "spread above 1")
	assert.False(t, c.TurbulentIcingRisk)

	c = Classify(obs("a", 0, 3, 50, 0, 9, 1000))
	assert.Nil(t, c.GustFactor)
	assert.False(t, c.TurbulentIcingRisk, "undefined gust factor never matches")
}

func TestClassifyAll_PressureChangeUsesElapsedTime(t *testing.T) {
	in := []weather.Observation{
		obs("a", 0, 5, 80, 8, 8, 1000),
		obs("a", 1, 5, 80, 8, 8, 1002),
		obs("a", 3, 5, 80, 8, 8, 995),
		obs("a", 4, 5, 80, 8, 8, 990),
		obs("b", 1, 5, 80, 8, 8, 1030),
	}
	out := ClassifyAll(in)
	require.Len(t, out, len(in))

	assert.Nil(t, out[0].PressureChange3h)
	assert.Nil(t, out[1].PressureChange3h)
	require.NotNil(t, out[2].PressureChange3h)
	assert.InDelta(t, -5.0, *out[2].PressureChange3h, 1e-9)
	require.NotNil(t, out[3].PressureChange3h)
	assert.InDelta(t, -12.0, *out[3].PressureChange3h, 1e-9, "compares with hour 1, not three rows back")
	assert.Nil(t, out[4].PressureChange3h, "other farms are not consulted")
}

func TestClassify_Idempotent(t *testing.T) {
	o := obs("a", 0, -1, 99.5, 9, 13, 1001)
	assert.Equal(t, Classify(o), Classify(o))
}
