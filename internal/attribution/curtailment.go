package attribution

import (
	"math"
	"strings"
	"time"

	"windperf/internal/weather"
)

const (
	TypeCurtailmentRelief  = "CURTAILMENT_RELIEF"
	TypeCurtailmentImposed = "CURTAILMENT_IMPOSED"
	TypeOther              = "OTHER"

	SeveritySevere = "SEVERE_CONSTRAINT"
	SeverityHigh   = "HIGH_CONSTRAINT"
	SeverityMedium = "MEDIUM_CONSTRAINT"
	SeverityNormal = "NORMAL"
)

// CurtailmentEvent is one balancing-mechanism acceptance for a farm.
type CurtailmentEvent struct {
	FarmID          string
	AcceptanceTime  time.Time
	PriceGBPPerMWh  float64
	VolumeMW        float64
	Severity        string
	CurtailmentType string
}

// Curtailment is the collapsed view of all acceptances in one farm-hour.
type Curtailment struct {
	PriceGBPPerMWh float64
	VolumeMW       float64 // sum of absolute acceptance volumes
	Events         int
	Severity       string // worst severity seen
}

// ClassifyCurtailment derives the curtailment type from the acceptance type
// and the constraint severity from the acceptance price.
func ClassifyCurtailment(acceptanceType string, price float64) (curtailmentType, severity string) {
	at := strings.ToUpper(strings.TrimSpace(acceptanceType))
	switch {
	case at == "NIV" || at == "NIWV":
		curtailmentType = TypeCurtailmentRelief
	case strings.Contains(at, "DOWN") || strings.Contains(at, "DEC"):
		curtailmentType = TypeCurtailmentImposed
	default:
		curtailmentType = TypeOther
	}
	switch {
	case price > 100:
		severity = SeveritySevere
	case price > 80:
		severity = SeverityHigh
	case price > 60:
		severity = SeverityMedium
	default:
		severity = SeverityNormal
	}
	return curtailmentType, severity
}

func severityRank(s string) int {
	switch s {
	case SeveritySevere:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// CollapseCurtailments buckets events by farm and acceptance hour and
// reduces each bucket to a single Curtailment using rule.
//
// With PriceRuleMaxVolume the price comes from the event with the largest
// absolute volume; ties go to the earliest acceptance, then the highest
// price, so the result does not depend on input order.
func CollapseCurtailments(events []CurtailmentEvent, rule PriceRule) map[weather.HourKey]Curtailment {
	buckets := make(map[weather.HourKey][]CurtailmentEvent)
	for _, ev := range events {
		k := weather.KeyOf(ev.FarmID, ev.AcceptanceTime)
		buckets[k] = append(buckets[k], ev)
	}

	out := make(map[weather.HourKey]Curtailment, len(buckets))
	for k, evs := range buckets {
		out[k] = collapse(evs, rule)
	}
	return out
}

func collapse(evs []CurtailmentEvent, rule PriceRule) Curtailment {
	c := Curtailment{Events: len(evs), Severity: SeverityNormal}
	best := evs[0]
	var weighted float64
	for i, ev := range evs {
		vol := math.Abs(ev.VolumeMW)
		c.VolumeMW += vol
		weighted += ev.PriceGBPPerMWh * vol
		if severityRank(ev.Severity) > severityRank(c.Severity) {
			c.Severity = ev.Severity
		}
		if i > 0 && preferEvent(ev, best) {
			best = ev
		}
	}
	c.PriceGBPPerMWh = best.PriceGBPPerMWh
	if rule == PriceRuleVolumeWeighted && c.VolumeMW > 0 {
		c.PriceGBPPerMWh = weighted / c.VolumeMW
	}
	return c
}

func preferEvent(a, b CurtailmentEvent) bool {
	av, bv := math.Abs(a.VolumeMW), math.Abs(b.VolumeMW)
	if av != bv {
		return av > bv
	}
	if !a.AcceptanceTime.Equal(b.AcceptanceTime) {
		return a.AcceptanceTime.Before(b.AcceptanceTime)
	}
	return a.PriceGBPPerMWh > b.PriceGBPPerMWh
}
