package attribution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHourlyGeneration_AveragesPeriodsAndSumsUnits(t *testing.T) {
	levels := []SettlementLevel{
		{FarmID: "b", BMUnit: "B-1", Start: t0, LevelMW: 10},
		{FarmID: "a", BMUnit: "A-1", Start: t0, LevelMW: 100},
		{FarmID: "a", BMUnit: "A-1", Start: t0.Add(30 * time.Minute), LevelMW: 80},
		{FarmID: "a", BMUnit: "A-2", Start: t0, LevelMW: 40},
		{FarmID: "a", BMUnit: "A-2", Start: t0.Add(30 * time.Minute), LevelMW: 60},
		{FarmID: "a", BMUnit: "A-1", Start: t0.Add(time.Hour), LevelMW: 70},
	}

	got := HourlyGeneration(levels)
	require.Len(t, got, 3)

	assert.Equal(t, "a", got[0].FarmID)
	assert.Equal(t, t0, got[0].Hour)
	assert.InDelta(t, 90.0+50.0, got[0].ActualMW, 1e-12)
	assert.Equal(t, 2, got[0].SettlementPeriods)

	assert.Equal(t, t0.Add(time.Hour), got[1].Hour)
	assert.InDelta(t, 70.0, got[1].ActualMW, 1e-12)
	assert.Equal(t, 1, got[1].SettlementPeriods)

	assert.Equal(t, "b", got[2].FarmID)
}

func TestHourlyGeneration_Empty(t *testing.T) {
	assert.Empty(t, HourlyGeneration(nil))
}
