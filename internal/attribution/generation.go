package attribution

import (
	"slices"
	"strings"
	"time"

	"windperf/internal/weather"
)

// GenerationHour is metered output for one farm-hour.
type GenerationHour struct {
	FarmID            string
	Hour              time.Time
	ActualMW          float64
	SettlementPeriods int
}

// SettlementLevel is a physical notification level for one BM unit over
// one 30 minute settlement period.
type SettlementLevel struct {
	FarmID  string
	BMUnit  string
	Start   time.Time
	LevelMW float64
}

// HourlyGeneration averages settlement-period levels per BM unit within
// each hour, then sums units to farm level. Output is sorted by farm and
// hour.
func HourlyGeneration(levels []SettlementLevel) []GenerationHour {
	type unitHour struct {
		key    weather.HourKey
		bmUnit string
	}
	type acc struct {
		sum float64
		n   int
	}
	units := make(map[unitHour]*acc)
	for _, l := range levels {
		k := unitHour{key: weather.KeyOf(l.FarmID, l.Start), bmUnit: l.BMUnit}
		a, ok := units[k]
		if !ok {
			a = &acc{}
			units[k] = a
		}
		a.sum += l.LevelMW
		a.n++
	}

	keys := make([]unitHour, 0, len(units))
	for k := range units {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b unitHour) int {
		if c := strings.Compare(a.key.FarmID, b.key.FarmID); c != 0 {
			return c
		}
		if a.key.Hour != b.key.Hour {
			if a.key.Hour < b.key.Hour {
				return -1
			}
			return 1
		}
		return strings.Compare(a.bmUnit, b.bmUnit)
	})

	// keys are sorted, so each farm-hour is contiguous and sums are
	// accumulated in a fixed order.
	var out []GenerationHour
	for _, k := range keys {
		a := units[k]
		if n := len(out); n == 0 || out[n-1].FarmID != k.key.FarmID || out[n-1].Hour.Unix() != k.key.Hour {
			out = append(out, GenerationHour{FarmID: k.key.FarmID, Hour: k.key.Time()})
		}
		g := &out[len(out)-1]
		g.ActualMW += a.sum / float64(a.n)
		g.SettlementPeriods = max(g.SettlementPeriods, a.n)
	}
	return out
}
