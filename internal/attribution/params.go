package attribution

import (
	"fmt"
	"math"
	"runtime"
	"strings"

	"windperf/internal/powercurve"
)

// PriceRule picks the curtailment price when several acceptances share a
// farm-hour.
type PriceRule string

const (
	// PriceRuleMaxVolume uses the acceptance with the largest volume.
	PriceRuleMaxVolume PriceRule = "max_volume"
	// PriceRuleVolumeWeighted averages prices weighted by absolute volume.
	PriceRuleVolumeWeighted PriceRule = "volume_weighted"
)

func ParsePriceRule(s string) (PriceRule, error) {
	switch PriceRule(strings.ToLower(strings.TrimSpace(s))) {
	case "", PriceRuleMaxVolume:
		return PriceRuleMaxVolume, nil
	case PriceRuleVolumeWeighted:
		return PriceRuleVolumeWeighted, nil
	default:
		return "", fmt.Errorf("unknown curtailment price rule %q", s)
	}
}

type Params struct {
	PowerCoefficient float64
	BaselinePriceGBP float64
	PriceRule        PriceRule
	Workers          int
}

func DefaultParams() Params {
	return Params{
		PowerCoefficient: powercurve.DefaultPowerCoefficient,
		BaselinePriceGBP: DefaultBaselinePriceGBP,
		PriceRule:        PriceRuleMaxVolume,
		Workers:          runtime.GOMAXPROCS(0),
	}
}

// withDefaults fills unusable values. A zero baseline price is a valid
// setting and is kept.
func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.PowerCoefficient <= 0 {
		p.PowerCoefficient = d.PowerCoefficient
	}
	if p.BaselinePriceGBP < 0 || math.IsNaN(p.BaselinePriceGBP) {
		p.BaselinePriceGBP = d.BaselinePriceGBP
	}
	if p.PriceRule == "" {
		p.PriceRule = d.PriceRule
	}
	if p.Workers <= 0 {
		p.Workers = d.Workers
	}
	return p
}
