package attribution

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"windperf/internal/icing"
	"windperf/internal/powercurve"
	"windperf/internal/weather"
)

// Input is everything a batch run joins. From and To optionally restrict
// output to [From, To); observations outside the window are still used for
// the three hour pressure lookup.
type Input struct {
	Observations []weather.Observation
	Specs        []powercurve.Spec
	Generation   []GenerationHour
	Curtailments []CurtailmentEvent
	From         time.Time
	To           time.Time
}

type RunStats struct {
	Observations int
	Classified   int
	Attributed   int
	NoSpec       int
	NoGeneration int
	InvalidSpecs int
}

type Result struct {
	RunID           uuid.UUID
	Hours           []AttributedHour
	Classifications []icing.Classification
	Stats           RunStats
}

type farmResult struct {
	hours        []AttributedHour
	cls          []icing.Classification
	noSpec       int
	noGeneration int
}

// Run classifies every observation and attributes every farm-hour that has
// both a valid turbine spec and metered generation. Farms are processed
// concurrently; output is sorted by farm then hour and does not depend on
// the worker count.
func (e *Engine) Run(ctx context.Context, in Input) (*Result, error) {
	res := &Result{RunID: uuid.New()}
	res.Stats.Observations = len(in.Observations)

	specs := make(map[string]powercurve.Spec, len(in.Specs))
	for _, s := range in.Specs {
		if err := s.Validate(); err != nil {
			slog.Warn("skipping turbine spec", "farm", s.FarmID, "err", err)
			res.Stats.InvalidSpecs++
			continue
		}
		specs[s.FarmID] = s
	}

	generation := make(map[weather.HourKey]float64, len(in.Generation))
	for _, g := range in.Generation {
		generation[weather.KeyOf(g.FarmID, g.Hour)] = g.ActualMW
	}
	curtailments := CollapseCurtailments(in.Curtailments, e.params.PriceRule)

	byFarm := make(map[string][]weather.Observation)
	for _, o := range in.Observations {
		byFarm[o.FarmID] = append(byFarm[o.FarmID], o)
	}
	farmIDs := make([]string, 0, len(byFarm))
	for id := range byFarm {
		farmIDs = append(farmIDs, id)
	}
	slices.Sort(farmIDs)

	results := make([]farmResult, len(farmIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.params.Workers)
	for i, id := range farmIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			spec, hasSpec := specs[id]
			results[i] = e.runFarm(byFarm[id], spec, hasSpec, generation, curtailments, in.From, in.To)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("attribute farms: %w", err)
	}

	for _, r := range results {
		res.Hours = append(res.Hours, r.hours...)
		res.Classifications = append(res.Classifications, r.cls...)
		res.Stats.NoSpec += r.noSpec
		res.Stats.NoGeneration += r.noGeneration
	}
	res.Stats.Classified = len(res.Classifications)
	res.Stats.Attributed = len(res.Hours)
	return res, nil
}

func (e *Engine) runFarm(
	observations []weather.Observation,
	spec powercurve.Spec,
	hasSpec bool,
	generation map[weather.HourKey]float64,
	curtailments map[weather.HourKey]Curtailment,
	from, to time.Time,
) farmResult {
	observations = dedupeHours(observations)
	classified := icing.ClassifyAll(observations)

	var r farmResult
	for i, obs := range observations {
		if !inWindow(obs.Timestamp, from, to) {
			continue
		}
		cls := classified[i]
		r.cls = append(r.cls, cls)

		if !hasSpec {
			r.noSpec++
			continue
		}
		key := obs.Key()
		actual, ok := generation[key]
		if !ok {
			r.noGeneration++
			continue
		}
		var curtailment *Curtailment
		if c, ok := curtailments[key]; ok {
			curtailment = &c
		}
		r.hours = append(r.hours, e.Attribute(obs, spec, e.ExpectedMW(obs, spec), cls, actual, curtailment))
	}
	return r
}

// dedupeHours sorts a single farm's observations by time and keeps the
// first reading for each hour.
func dedupeHours(observations []weather.Observation) []weather.Observation {
	sorted := slices.Clone(observations)
	slices.SortStableFunc(sorted, func(a, b weather.Observation) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return slices.CompactFunc(sorted, func(a, b weather.Observation) bool {
		return a.Key() == b.Key()
	})
}

func inWindow(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
