// Package export writes attributed hours and high-risk icing hours as CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"windperf/internal/attribution"
	"windperf/internal/icing"
)

var attributedHeader = []string{
	"farm_id", "hour", "actual_mw", "expected_mw", "capacity_mw",
	"capacity_factor_pct", "expected_cf_pct", "cf_deviation_pct",
	"lost_generation_mw", "revenue_loss_gbp", "price_gbp_per_mwh",
	"wind_speed_100m", "temperature_2m", "gust_factor", "icing_risk_level",
	"is_curtailed", "curtailment_price", "curtailment_volume",
	"curtailment_events", "constraint_severity", "impact_category",
}

var icingHeader = []string{
	"farm_id", "timestamp", "temperature_2m", "relative_humidity_2m",
	"wind_speed_100m", "dew_point_c", "dew_point_spread_c", "gust_factor",
	"pressure_change_3h", "risk_level", "supercooled_droplet",
	"blade_tip_cooling_risk", "turbulent_icing_risk",
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// optional renders nil as an empty cell.
func optional(v *float64) string {
	if v == nil {
		return ""
	}
	return num(*v)
}

// WriteAttributedHours writes one row per hour in the order given.
func WriteAttributedHours(w io.Writer, hours []attribution.AttributedHour) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(attributedHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, h := range hours {
		row := []string{
			h.FarmID,
			h.Hour.UTC().Format(time.RFC3339),
			num(h.ActualMW),
			num(h.ExpectedMW),
			num(h.CapacityMW),
			num(h.CapacityFactorPct),
			num(h.ExpectedCFPct),
			num(h.CFDeviationPct),
			num(h.LostGenerationMW),
			num(h.RevenueLossGBP),
			num(h.PriceGBPPerMWh),
			num(h.WindSpeed100m),
			num(h.Temperature2m),
			optional(h.GustFactor),
			string(h.IcingRiskLevel),
			strconv.FormatBool(h.IsCurtailed),
			optional(h.CurtailmentPrice),
			optional(h.CurtailmentVolume),
			strconv.Itoa(h.CurtailmentEvents),
			h.ConstraintSeverity,
			string(h.ImpactCategory),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write attributed hour: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteHighRiskIcing writes only HIGH-risk classifications.
func WriteHighRiskIcing(w io.Writer, cls []icing.Classification) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(icingHeader); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	n := 0
	for _, c := range cls {
		if c.RiskLevel != icing.RiskHigh {
			continue
		}
		row := []string{
			c.FarmID,
			c.Timestamp.UTC().Format(time.RFC3339),
			num(c.Temperature2m),
			num(c.RelativeHumidity2m),
			num(c.WindSpeed100m),
			num(c.DewPointC),
			num(c.DewPointSpreadC),
			optional(c.GustFactor),
			optional(c.PressureChange3h),
			string(c.RiskLevel),
			strconv.FormatBool(c.SupercooledDroplet),
			strconv.FormatBool(c.BladeTipCoolingRisk),
			strconv.FormatBool(c.TurbulentIcingRisk),
		}
		if err := cw.Write(row); err != nil {
			return n, fmt.Errorf("write icing hour: %w", err)
		}
		n++
	}
	cw.Flush()
	return n, cw.Error()
}
