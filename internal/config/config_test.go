package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"windperf/internal/attribution"
	"windperf/internal/icing"
	"windperf/internal/powercurve"
	"windperf/internal/weather"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"WINDPERF_CONFIG", "PORT", "DATABASE_URL", "OPENMETEO_BASE_URL",
		"INGEST_INTERVAL", "ATTRIBUTION_INTERVAL", "ATTRIBUTION_LOOKBACK",
		"POWER_COEFFICIENT", "BASELINE_PRICE_GBP", "CURTAILMENT_PRICE_RULE",
		"KAFKA_BROKERS", "KAFKA_TOPIC", "WORKERS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, time.Hour, cfg.IngestInterval)
	assert.Equal(t, 72*time.Hour, cfg.AttributionLookback)
	assert.Equal(t, 0.45, cfg.PowerCoefficient)
	assert.Equal(t, 50.0, cfg.BaselinePriceGBP)
	assert.Equal(t, "wind.attributed_hours", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, attribution.PriceRuleMaxVolume, cfg.AttributionParams().PriceRule)
}

const sampleTOML = `
port = "9090"
attribution_lookback = "48h"
power_coefficient = 0.42
curtailment_price_rule = "volume_weighted"
kafka_brokers = ["k1:9092"]

[[farms]]
id = "WHILW"
name = "Whitelee"
lat = 55.69
lon = -3.89
cut_in_speed = 3.5
rated_speed = 13
cut_out_speed = 25
rated_capacity_per_turbine_mw = 2.3
swept_area_m2 = 6362
total_capacity_mw = 539

[[farms]]
id = "NOSPEC"
name = "Location only"
lat = 57.1
lon = -2.1
`

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "windperf.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("WINDPERF_CONFIG", writeTOML(t, sampleTOML))
	t.Setenv("PORT", "7070")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port, "env overrides file")
	assert.Equal(t, 48*time.Hour, cfg.AttributionLookback)
	assert.Equal(t, 0.42, cfg.PowerCoefficient)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, attribution.PriceRuleVolumeWeighted, cfg.AttributionParams().PriceRule)

	farms, specs := cfg.Registry()
	require.Len(t, farms, 2)
	require.Len(t, specs, 1)
	assert.Equal(t, "WHILW", specs[0].FarmID)
	assert.NoError(t, specs[0].Validate())
}

func TestZeroBaselinePriceReachesEngine(t *testing.T) {
	clearEnv(t)
	t.Setenv("BASELINE_PRICE_GBP", "0")

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Zero(t, cfg.BaselinePriceGBP)

	e := attribution.NewEngine(cfg.AttributionParams())
	assert.Zero(t, e.Params().BaselinePriceGBP)

	spec := powercurve.Spec{
		FarmID: "a", CutInSpeed: 3, RatedSpeed: 12, CutOutSpeed: 25,
		RatedCapacityPerTurbineMW: 2, SweptAreaM2: 5000, TotalCapacityMW: 100,
	}
	obs := weather.Observation{FarmID: "a", Timestamp: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), WindSpeed100m: 2, WindGusts10m: 2}
	h := e.Attribute(obs, spec, 50, icing.Classify(obs), 0, nil)
	assert.InDelta(t, 50.0, h.LostGenerationMW, 1e-12)
	assert.Zero(t, h.RevenueLossGBP)
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("INGEST_INTERVAL", "soon")
	t.Setenv("WORKERS", "many")
	_, err := Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "INGEST_INTERVAL")
	assert.ErrorContains(t, err, "WORKERS")

	clearEnv(t)
	t.Setenv("CURTAILMENT_PRICE_RULE", "median")
	_, err = Load()
	assert.ErrorContains(t, err, "median")

	clearEnv(t)
	t.Setenv("POWER_COEFFICIENT", "0.7")
	_, err = Load()
	assert.ErrorContains(t, err, "power coefficient")
}

func TestLoadFileErrors(t *testing.T) {
	clearEnv(t)
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadFile(writeTOML(t, "[[farms]]\nid = \"A\"\n[[farms]]\nid = \"A\"\n"))
	assert.ErrorContains(t, err, "duplicate farm A")
}
