package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"windperf/internal/attribution"
	"windperf/internal/icing"
)

func TestResolveWindow(t *testing.T) {
	now := time.Date(2023, 2, 10, 15, 30, 0, 0, time.UTC)

	from, to, err := resolveWindow("", "", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 2, 10, 0, 0, 0, 0, time.UTC), to)
	assert.Equal(t, time.Date(2023, 1, 11, 0, 0, 0, 0, time.UTC), from)

	from, to, err = resolveWindow("2023-01-01", "2023-01-02T12:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2023, 1, 2, 12, 0, 0, 0, time.UTC), to)

	_, _, err = resolveWindow("2023-01-05", "2023-01-01", now)
	assert.Error(t, err)

	_, _, err = resolveWindow("last week", "", now)
	assert.ErrorContains(t, err, "--from")
}

func TestReport(t *testing.T) {
	gf := 1.5
	res := &attribution.Result{
		RunID: uuid.New(),
		Hours: []attribution.AttributedHour{
			{FarmID: "WHILW", WindSpeed100m: 9, CFDeviationPct: -40, LostGenerationMW: 40, RevenueLossGBP: 2000, ImpactCategory: attribution.CategoryIcing},
		},
		Classifications: []icing.Classification{
			{FarmID: "WHILW", RiskLevel: icing.RiskHigh, GustFactor: &gf},
		},
		Stats: attribution.RunStats{Observations: 1, Classified: 1, Attributed: 1},
	}

	var buf bytes.Buffer
	require.NoError(t, report(&buf, time.Unix(0, 0).UTC(), time.Unix(3600, 0).UTC(), res, 10))
	out := buf.String()
	assert.Contains(t, out, res.RunID.String())
	assert.Contains(t, out, "ICING")
	assert.Contains(t, out, "2000.00")
	assert.Contains(t, out, "9-12 m/s (near rated)")
	assert.Contains(t, out, "icing episodes: 0")
}
