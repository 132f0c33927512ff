// Package pipeline loads warehouse data for a window, runs attribution,
// persists and publishes the result, and serves cached read queries.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"windperf/internal/attribution"
	"windperf/internal/icing"
	"windperf/internal/powercurve"
	"windperf/internal/weather"
)

// pressureLookback widens the observation load so the first hours of a
// window still get a three hour pressure tendency.
const pressureLookback = 3 * time.Hour

type Store interface {
	Observations(ctx context.Context, from, to time.Time) ([]weather.Observation, error)
	TurbineSpecs(ctx context.Context) ([]powercurve.Spec, error)
	GenerationLevels(ctx context.Context, from, to time.Time) ([]attribution.SettlementLevel, error)
	CurtailmentEvents(ctx context.Context, from, to time.Time) ([]attribution.CurtailmentEvent, error)
	UpsertClassifications(ctx context.Context, cls []icing.Classification) error
	UpsertAttributedHours(ctx context.Context, runID uuid.UUID, hours []attribution.AttributedHour) error
	AttributedHours(ctx context.Context, farmID string, from, to time.Time) ([]attribution.AttributedHour, error)
	Classifications(ctx context.Context, from, to time.Time) ([]icing.Classification, error)
}

type Publisher interface {
	PublishHours(ctx context.Context, runID uuid.UUID, hours []attribution.AttributedHour) error
}

type Recorder interface {
	RunCompleted(d time.Duration, hours []attribution.AttributedHour)
	RunFailed()
	PublishFailed()
	CacheHit()
	CacheMiss()
}

type Service struct {
	store     Store
	engine    *attribution.Engine
	publisher Publisher
	metrics   Recorder

	runMu        sync.Mutex
	summaryCache *weather.Cache[*Summary]
	icingCache   *weather.Cache[[]icing.Classification]
}

// NewService wires the pipeline. publisher and metrics may be nil.
func NewService(store Store, engine *attribution.Engine, publisher Publisher, metrics Recorder, cacheTTL time.Duration) *Service {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Service{
		store:        store,
		engine:       engine,
		publisher:    publisher,
		metrics:      metrics,
		summaryCache: weather.NewCache[*Summary](cacheTTL),
		icingCache:   weather.NewCache[[]icing.Classification](cacheTTL),
	}
}

// Load gathers the run input for output window [from, to).
func (s *Service) Load(ctx context.Context, from, to time.Time) (attribution.Input, error) {
	in := attribution.Input{From: from, To: to}

	obs, err := s.store.Observations(ctx, from.Add(-pressureLookback), to)
	if err != nil {
		return in, fmt.Errorf("load observations: %w", err)
	}
	specs, err := s.store.TurbineSpecs(ctx)
	if err != nil {
		return in, fmt.Errorf("load turbine specs: %w", err)
	}
	levels, err := s.store.GenerationLevels(ctx, from, to)
	if err != nil {
		return in, fmt.Errorf("load generation: %w", err)
	}
	events, err := s.store.CurtailmentEvents(ctx, from, to)
	if err != nil {
		return in, fmt.Errorf("load curtailment: %w", err)
	}

	in.Observations = obs
	in.Specs = specs
	in.Generation = attribution.HourlyGeneration(levels)
	in.Curtailments = events
	return in, nil
}

// Attribute runs one window. With persist false nothing is written or
// published, which is what a dry run wants.
func (s *Service) Attribute(ctx context.Context, from, to time.Time, persist bool) (*attribution.Result, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()
	res, err := s.attribute(ctx, from, to, persist)
	if err != nil {
		s.metrics.RunFailed()
		return nil, err
	}
	s.metrics.RunCompleted(time.Since(start), res.Hours)

	slog.Info("attribution run complete",
		"run_id", res.RunID,
		"from", from,
		"to", to,
		"observations", res.Stats.Observations,
		"classified", res.Stats.Classified,
		"attributed", res.Stats.Attributed,
		"no_spec", res.Stats.NoSpec,
		"no_generation", res.Stats.NoGeneration,
		"invalid_specs", res.Stats.InvalidSpecs,
		"persisted", persist,
		"duration", time.Since(start),
	)
	return res, nil
}

func (s *Service) attribute(ctx context.Context, from, to time.Time, persist bool) (*attribution.Result, error) {
	in, err := s.Load(ctx, from, to)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	if !persist {
		return res, nil
	}

	if err := s.store.UpsertClassifications(ctx, res.Classifications); err != nil {
		return nil, fmt.Errorf("store classifications: %w", err)
	}
	if err := s.store.UpsertAttributedHours(ctx, res.RunID, res.Hours); err != nil {
		return nil, fmt.Errorf("store attributed hours: %w", err)
	}
	s.summaryCache.Purge()
	s.icingCache.Purge()

	if s.publisher != nil {
		if err := s.publisher.PublishHours(ctx, res.RunID, res.Hours); err != nil {
			s.metrics.PublishFailed()
			slog.Warn("failed to publish attributed hours", "run_id", res.RunID, "err", err)
		}
	}
	return res, nil
}

// RunWindow attributes and persists [from, to).
func (s *Service) RunWindow(ctx context.Context, from, to time.Time) error {
	_, err := s.Attribute(ctx, from, to, true)
	return err
}

// Summary groups a window's stored attributed hours three ways.
type Summary struct {
	From                time.Time
	To                  time.Time
	Hours               int
	Underperforming     int
	TotalRevenueLossGBP decimal.Decimal
	ByCategory          []attribution.CategorySummary
	ByFarm              []attribution.FarmSummary
	ByWindBin           []attribution.WindBinSummary
}

// IcingReport is the risk distribution and mechanism counts for a window.
type IcingReport struct {
	Levels     []icing.LevelStats
	Mechanisms icing.MechanismCounts
}

func windowKey(from, to time.Time) string {
	return fmt.Sprintf("%d-%d", from.Unix(), to.Unix())
}

func (s *Service) Hours(ctx context.Context, farmID string, from, to time.Time) ([]attribution.AttributedHour, error) {
	hours, err := s.store.AttributedHours(ctx, farmID, from, to)
	if err != nil {
		return nil, fmt.Errorf("attributed hours: %w", err)
	}
	return hours, nil
}

func (s *Service) Summary(ctx context.Context, from, to time.Time) (*Summary, error) {
	key := windowKey(from, to)
	if cached, ok := s.summaryCache.Get(key); ok {
		s.metrics.CacheHit()
		return cached, nil
	}
	s.metrics.CacheMiss()

	hours, err := s.store.AttributedHours(ctx, "", from, to)
	if err != nil {
		return nil, fmt.Errorf("attributed hours: %w", err)
	}
	sum := &Summary{
		From:                from,
		To:                  to,
		Hours:               len(hours),
		TotalRevenueLossGBP: attribution.TotalRevenueLoss(hours),
		ByCategory:          attribution.SummarizeByCategory(hours),
		ByFarm:              attribution.SummarizeByFarm(hours),
		ByWindBin:           attribution.SummarizeByWindBin(hours),
	}
	for _, h := range hours {
		if h.Underperforming() {
			sum.Underperforming++
		}
	}
	s.summaryCache.Set(key, sum)
	return sum, nil
}

func (s *Service) classifications(ctx context.Context, from, to time.Time) ([]icing.Classification, error) {
	key := windowKey(from, to)
	if cached, ok := s.icingCache.Get(key); ok {
		s.metrics.CacheHit()
		return cached, nil
	}
	s.metrics.CacheMiss()

	cls, err := s.store.Classifications(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("classifications: %w", err)
	}
	s.icingCache.Set(key, cls)
	return cls, nil
}

func (s *Service) Episodes(ctx context.Context, from, to time.Time, minHours int) ([]icing.Episode, error) {
	cls, err := s.classifications(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return icing.DetectEpisodes(cls, minHours, icing.DefaultEpisodeMaxGap), nil
}

func (s *Service) Icing(ctx context.Context, from, to time.Time) (*IcingReport, error) {
	cls, err := s.classifications(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return &IcingReport{
		Levels:     icing.Distribution(cls),
		Mechanisms: icing.Mechanisms(cls),
	}, nil
}

type nopRecorder struct{}

func (nopRecorder) RunCompleted(time.Duration, []attribution.AttributedHour) {}
func (nopRecorder) RunFailed() {}
func (nopRecorder) PublishFailed() {}
func (nopRecorder) CacheHit() {}
func (nopRecorder) CacheMiss() {}
