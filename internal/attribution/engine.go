// Package attribution compares metered wind generation with the power
// curve estimate and assigns each farm-hour a single causal category.
package attribution

import (
	"time"

	"windperf/internal/icing"
	"windperf/internal/powercurve"
	"windperf/internal/weather"
)

// DefaultBaselinePriceGBP is the £/MWh used for revenue loss when the hour
// has no curtailment acceptance.
const DefaultBaselinePriceGBP = 50.0

type Category string

const (
	CategoryConstraint Category = "CONSTRAINT"
	CategoryIcing      Category = "ICING"
	CategoryTurbulence Category = "TURBULENCE"
	CategoryLowWind    Category = "LOW_WIND"
	CategoryHighWind   Category = "HIGH_WIND"
	CategoryNormal     Category = "NORMAL"
)

// Categories lists every category in priority order.
var Categories = []Category{
	CategoryConstraint,
	CategoryIcing,
	CategoryTurbulence,
	CategoryLowWind,
	CategoryHighWind,
	CategoryNormal,
}

const (
	turbulentGustFactor = 1.4
	lowWindSpeed        = 6.0
	highWindSpeed       = 20.0
)

// AttributedHour is the per farm-hour attribution result.
type AttributedHour struct {
	FarmID            string
	Hour              time.Time
	ActualMW          float64
	ExpectedMW        float64
	CapacityMW        float64
	CapacityFactorPct float64
	ExpectedCFPct     float64
	CFDeviationPct    float64
	LostGenerationMW  float64
	RevenueLossGBP    float64
	PriceGBPPerMWh    float64

	WindSpeed100m  float64
	Temperature2m  float64
	GustFactor     *float64
	IcingRiskLevel icing.RiskLevel

	IsCurtailed        bool
	CurtailmentPrice   *float64
	CurtailmentVolume  *float64
	CurtailmentEvents  int
	ConstraintSeverity string

	ImpactCategory Category
}

// Underperforming reports whether actual output fell short of expected.
func (h AttributedHour) Underperforming() bool {
	return h.CFDeviationPct < 0
}

// Categorize applies the attribution rules in priority order; the first
// match wins.
func Categorize(isCurtailed bool, risk icing.RiskLevel, gustFactor *float64, windSpeed float64) Category {
	switch {
	case isCurtailed:
		return CategoryConstraint
	case risk == icing.RiskHigh:
		return CategoryIcing
	case gustFactor != nil && *gustFactor > turbulentGustFactor:
		return CategoryTurbulence
	case windSpeed < lowWindSpeed:
		return CategoryLowWind
	case windSpeed > highWindSpeed:
		return CategoryHighWind
	default:
		return CategoryNormal
	}
}

// Engine attributes farm-hours. It holds no state beyond its parameters
// and is safe for concurrent use.
type Engine struct {
	params    Params
	estimator powercurve.Estimator
}

func NewEngine(p Params) *Engine {
	p = p.withDefaults()
	return &Engine{
		params:    p,
		estimator: powercurve.NewEstimator(p.PowerCoefficient),
	}
}

func (e *Engine) Params() Params {
	return e.params
}

// ExpectedMW is the farm-level power curve estimate for an observation.
func (e *Engine) ExpectedMW(obs weather.Observation, spec powercurve.Spec) float64 {
	return e.estimator.FarmMW(obs.WindSpeed100m, obs.Temperature2m, obs.SurfacePressure, spec)
}

// Attribute builds the AttributedHour for one farm-hour. curtailment is
// nil when no acceptance fell in the hour.
func (e *Engine) Attribute(
	obs weather.Observation,
	spec powercurve.Spec,
	expectedMW float64,
	cls icing.Classification,
	actualMW float64,
	curtailment *Curtailment,
) AttributedHour {
	capacity := spec.TotalCapacityMW
	h := AttributedHour{
		FarmID:         obs.FarmID,
		Hour:           obs.Timestamp.UTC().Truncate(time.Hour),
		ActualMW:       actualMW,
		ExpectedMW:     expectedMW,
		CapacityMW:     capacity,
		WindSpeed100m:  obs.WindSpeed100m,
		Temperature2m:  obs.Temperature2m,
		GustFactor:     cls.GustFactor,
		IcingRiskLevel: cls.RiskLevel,
		PriceGBPPerMWh: e.params.BaselinePriceGBP,
	}
	if capacity > 0 {
		h.CapacityFactorPct = actualMW / capacity * 100
		h.ExpectedCFPct = expectedMW / capacity * 100
	}
	h.CFDeviationPct = h.CapacityFactorPct - h.ExpectedCFPct
	h.LostGenerationMW = (h.ExpectedCFPct - h.CapacityFactorPct) / 100 * capacity

	if curtailment != nil {
		h.IsCurtailed = true
		price, volume := curtailment.PriceGBPPerMWh, curtailment.VolumeMW
		h.CurtailmentPrice = &price
		h.CurtailmentVolume = &volume
		h.CurtailmentEvents = curtailment.Events
		h.ConstraintSeverity = curtailment.Severity
		h.PriceGBPPerMWh = price
	}
	h.RevenueLossGBP = h.LostGenerationMW * h.PriceGBPPerMWh
	h.ImpactCategory = Categorize(h.IsCurtailed, cls.RiskLevel, cls.GustFactor, obs.WindSpeed100m)
	return h
}
