package fetcher

import (
	"context"
	"log/slog"
	"time"

	"windperf/internal/weather"
)

// backfill is how far back the first fetch for a farm reaches.
const backfill = 7 * 24 * time.Hour

type WeatherSource interface {
	FetchHourly(ctx context.Context, farm weather.Farm, start, end time.Time) ([]weather.Observation, error)
}

type ObservationStore interface {
	ListFarms(ctx context.Context) ([]weather.Farm, error)
	LatestObservation(ctx context.Context, farmID string) (time.Time, error)
	UpsertObservations(ctx context.Context, observations []weather.Observation) error
}

type IngestRecorder interface {
	Ingested(farmID string, n int)
	IngestFailed(farmID string)
}

// Attributor runs attribution for the output window [from, to).
type Attributor interface {
	RunWindow(ctx context.Context, from, to time.Time) error
}

type Fetcher struct {
	source  WeatherSource
	store   ObservationStore
	metrics IngestRecorder
	now     func() time.Time
}

func New(source WeatherSource, store ObservationStore, metrics IngestRecorder) *Fetcher {
	return &Fetcher{source: source, store: store, metrics: metrics, now: time.Now}
}

func (f *Fetcher) RunIngestLoop(ctx context.Context, interval time.Duration) {
	slog.Info("weather fetcher starting", "interval", interval)

	f.FetchObservations(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("weather fetcher stopped")
			return
		case <-ticker.C:
			f.FetchObservations(ctx)
		}
	}
}

// FetchObservations pulls every farm from its latest stored hour (or the
// backfill horizon) up to now. One farm failing does not stop the rest.
func (f *Fetcher) FetchObservations(ctx context.Context) {
	start := f.now()
	farms, err := f.store.ListFarms(ctx)
	if err != nil {
		slog.Error("failed to list farms", "err", err)
		return
	}
	if len(farms) == 0 {
		slog.Warn("no farms registered")
		return
	}

	total := 0
	for _, farm := range farms {
		if ctx.Err() != nil {
			return
		}
		n, err := f.fetchFarm(ctx, farm)
		if err != nil {
			slog.Error("failed to fetch weather", "farm", farm.ID, "err", err)
			if f.metrics != nil {
				f.metrics.IngestFailed(farm.ID)
			}
			continue
		}
		if f.metrics != nil {
			f.metrics.Ingested(farm.ID, n)
		}
		total += n
	}

	slog.Info("weather fetched",
		"farms", len(farms),
		"observations", total,
		"duration", time.Since(start),
	)
}

func (f *Fetcher) fetchFarm(ctx context.Context, farm weather.Farm) (int, error) {
	end := f.now().UTC()
	from := end.Add(-backfill)
	latest, err := f.store.LatestObservation(ctx, farm.ID)
	if err != nil {
		return 0, err
	}
	if latest.After(from) {
		from = latest
	}

	obs, err := f.source.FetchHourly(ctx, farm, from, end)
	if err != nil {
		return 0, err
	}
	if len(obs) == 0 {
		return 0, nil
	}
	if err := f.store.UpsertObservations(ctx, obs); err != nil {
		return 0, err
	}
	return len(obs), nil
}

// RunAttributionLoop re-attributes the trailing lookback window on every
// tick, so late generation or weather data is picked up on the next pass.
func RunAttributionLoop(ctx context.Context, a Attributor, interval, lookback time.Duration) {
	slog.Info("attribution loop starting", "interval", interval, "lookback", lookback)

	attribute := func() {
		to := time.Now().UTC().Truncate(time.Hour)
		if err := a.RunWindow(ctx, to.Add(-lookback), to); err != nil {
			slog.Error("attribution run failed", "err", err)
		}
	}
	attribute()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("attribution loop stopped")
			return
		case <-ticker.C:
			attribute()
		}
	}
}
