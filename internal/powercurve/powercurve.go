// Package powercurve estimates turbine output from hub-height wind speed
// using a cubic power law with air-density correction.
package powercurve

import (
	"errors"
	"fmt"
	"math"
)

const (
	// DefaultPowerCoefficient is a typical Cp for modern three-blade
	// turbines. It is a calibration default, not a measured value.
	DefaultPowerCoefficient = 0.45

	seaLevelDensity  = 1.225   // kg/m³
	seaLevelPressure = 1013.25 // hPa
	seaLevelTempK    = 288.15
	kelvinOffset     = 273.15
)

var ErrInvalidSpec = errors.New("invalid turbine spec")

// Spec is the static turbine description for one farm. Speeds are m/s.
type Spec struct {
	FarmID                    string
	CutInSpeed                float64
	RatedSpeed                float64
	CutOutSpeed               float64
	RatedCapacityPerTurbineMW float64
	SweptAreaM2               float64
	TotalCapacityMW           float64
}

// Validate checks cut_in < rated < cut_out and that capacities and
// swept area are positive.
func (s Spec) Validate() error {
	if !(s.CutInSpeed < s.RatedSpeed && s.RatedSpeed < s.CutOutSpeed) {
		return fmt.Errorf("%w: farm %s: speeds must satisfy cut_in < rated < cut_out (got %g, %g, %g)",
			ErrInvalidSpec, s.FarmID, s.CutInSpeed, s.RatedSpeed, s.CutOutSpeed)
	}
	if s.RatedCapacityPerTurbineMW <= 0 || s.TotalCapacityMW <= 0 {
		return fmt.Errorf("%w: farm %s: capacities must be positive", ErrInvalidSpec, s.FarmID)
	}
	if s.SweptAreaM2 <= 0 {
		return fmt.Errorf("%w: farm %s: swept area must be positive", ErrInvalidSpec, s.FarmID)
	}
	return nil
}

// TurbineCount is the implied number of turbines at the farm.
func (s Spec) TurbineCount() float64 {
	if s.RatedCapacityPerTurbineMW == 0 {
		return 0
	}
	return s.TotalCapacityMW / s.RatedCapacityPerTurbineMW
}

// AirDensity returns kg/m³ scaled from the ISA sea-level value by
// pressure and absolute temperature.
func AirDensity(temperatureC, pressureHPa float64) float64 {
	return seaLevelDensity * (pressureHPa / seaLevelPressure) * (seaLevelTempK / (kelvinOffset + temperatureC))
}

// Estimator evaluates the power curve with a fixed power coefficient.
type Estimator struct {
	cp float64
}

// NewEstimator returns an Estimator using cp, or DefaultPowerCoefficient
// when cp is not positive.
func NewEstimator(cp float64) Estimator {
	if cp <= 0 || math.IsNaN(cp) {
		cp = DefaultPowerCoefficient
	}
	return Estimator{cp: cp}
}

func (e Estimator) PowerCoefficient() float64 {
	return e.cp
}

// TurbineMW is the expected output of a single turbine in MW. NaN inputs
// propagate to the result.
func (e Estimator) TurbineMW(windSpeed, temperatureC, pressureHPa float64, spec Spec) float64 {
	if windSpeed < spec.CutInSpeed || windSpeed >= spec.CutOutSpeed {
		return 0
	}
	if windSpeed >= spec.RatedSpeed {
		return spec.RatedCapacityPerTurbineMW
	}
	rho := AirDensity(temperatureC, pressureHPa)
	watts := 0.5 * rho * spec.SweptAreaM2 * e.cp * windSpeed * windSpeed * windSpeed
	return math.Min(watts/1e6, spec.RatedCapacityPerTurbineMW)
}

// FarmMW scales the per-turbine estimate by the implied turbine count and
// caps it at the farm's total capacity.
func (e Estimator) FarmMW(windSpeed, temperatureC, pressureHPa float64, spec Spec) float64 {
	if spec.RatedCapacityPerTurbineMW <= 0 {
		return 0
	}
	mw := e.TurbineMW(windSpeed, temperatureC, pressureHPa, spec) * spec.TurbineCount()
	return math.Min(mw, spec.TotalCapacityMW)
}

// ExpectedPower is TurbineMW with the default power coefficient.
func ExpectedPower(windSpeed, temperatureC, pressureHPa float64, spec Spec) float64 {
	return NewEstimator(DefaultPowerCoefficient).TurbineMW(windSpeed, temperatureC, pressureHPa, spec)
}
