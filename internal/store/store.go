package store

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"windperf/internal/attribution"
	"windperf/internal/icing"
	"windperf/internal/powercurve"
	"windperf/internal/weather"
)

//go:embed schema.sql
var schema string

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates any missing tables. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Acceptance is a raw balancing-mechanism acceptance as stored.
type Acceptance struct {
	ID             string
	FarmID         string
	AcceptanceTime time.Time
	AcceptanceType string
	PriceGBPPerMWh float64
	VolumeMW       float64
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, what string) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range batch.Len() {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert %s: %w", what, err)
		}
	}
	return nil
}

func (s *Store) UpsertFarms(ctx context.Context, farms []weather.Farm) error {
	batch := &pgx.Batch{}
	for _, f := range farms {
		batch.Queue(
			`INSERT INTO farms (farm_id, name, lat, lon)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (farm_id) DO UPDATE SET name = $2, lat = $3, lon = $4`,
			f.ID, f.Name, f.Lat, f.Lon,
		)
	}
	return s.sendBatch(ctx, batch, "farm")
}

func (s *Store) ListFarms(ctx context.Context) ([]weather.Farm, error) {
	rows, err := s.pool.Query(ctx, `SELECT farm_id, name, lat, lon FROM farms ORDER BY farm_id`)
	if err != nil {
		return nil, fmt.Errorf("list farms: %w", err)
	}
	defer rows.Close()

	var result []weather.Farm
	for rows.Next() {
		var f weather.Farm
		if err := rows.Scan(&f.ID, &f.Name, &f.Lat, &f.Lon); err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (s *Store) UpsertTurbineSpecs(ctx context.Context, specs []powercurve.Spec) error {
	batch := &pgx.Batch{}
	for _, sp := range specs {
		batch.Queue(
			`INSERT INTO turbine_specs (
				farm_id, cut_in_speed, rated_speed, cut_out_speed,
				rated_capacity_per_turbine_mw, swept_area_m2, total_capacity_mw
			)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (farm_id) DO UPDATE SET
			   cut_in_speed = $2, rated_speed = $3, cut_out_speed = $4,
			   rated_capacity_per_turbine_mw = $5, swept_area_m2 = $6, total_capacity_mw = $7`,
			sp.FarmID, sp.CutInSpeed, sp.RatedSpeed, sp.CutOutSpeed,
			sp.RatedCapacityPerTurbineMW, sp.SweptAreaM2, sp.TotalCapacityMW,
		)
	}
	return s.sendBatch(ctx, batch, "turbine spec")
}

// TurbineSpecs returns every stored spec, valid or not; validation is the
// attribution run's job.
func (s *Store) TurbineSpecs(ctx context.Context) ([]powercurve.Spec, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT farm_id, cut_in_speed, rated_speed, cut_out_speed,
		        rated_capacity_per_turbine_mw, swept_area_m2, total_capacity_mw
		 FROM turbine_specs
		 ORDER BY farm_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("get turbine specs: %w", err)
	}
	defer rows.Close()

	var result []powercurve.Spec
	for rows.Next() {
		var sp powercurve.Spec
		if err := rows.Scan(
			&sp.FarmID, &sp.CutInSpeed, &sp.RatedSpeed, &sp.CutOutSpeed,
			&sp.RatedCapacityPerTurbineMW, &sp.SweptAreaM2, &sp.TotalCapacityMW,
		); err != nil {
			return nil, err
		}
		result = append(result, sp)
	}
	return result, rows.Err()
}

func (s *Store) UpsertObservations(ctx context.Context, observations []weather.Observation) error {
	batch := &pgx.Batch{}
	for _, o := range observations {
		batch.Queue(
			`INSERT INTO weather_observations (
				farm_id, observed_at, wind_speed_100m, wind_gusts_10m,
				temperature_2m, relative_humidity_2m, surface_pressure
			)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (farm_id, observed_at) DO UPDATE SET
			   wind_speed_100m = $3, wind_gusts_10m = $4, temperature_2m = $5,
			   relative_humidity_2m = $6, surface_pressure = $7`,
			o.FarmID, o.Timestamp, o.WindSpeed100m, o.WindGusts10m,
			o.Temperature2m, o.RelativeHumidity2m, o.SurfacePressure,
		)
	}
	return s.sendBatch(ctx, batch, "observation")
}

// Observations returns readings in [from, to) for all farms ordered by farm
// and time.
func (s *Store) Observations(ctx context.Context, from, to time.Time) ([]weather.Observation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT farm_id, observed_at, wind_speed_100m, wind_gusts_10m,
		        temperature_2m, relative_humidity_2m, surface_pressure
		 FROM weather_observations
		 WHERE observed_at >= $1 AND observed_at < $2
		 ORDER BY farm_id, observed_at`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("get observations: %w", err)
	}
	defer rows.Close()

	var result []weather.Observation
	for rows.Next() {
		var o weather.Observation
		if err := rows.Scan(
			&o.FarmID, &o.Timestamp, &o.WindSpeed100m, &o.WindGusts10m,
			&o.Temperature2m, &o.RelativeHumidity2m, &o.SurfacePressure,
		); err != nil {
			return nil, err
		}
		o.Timestamp = o.Timestamp.UTC()
		result = append(result, o)
	}
	return result, rows.Err()
}

// LatestObservation returns the most recent stored hour for a farm, or the
// zero time when the farm has none.
func (s *Store) LatestObservation(ctx context.Context, farmID string) (time.Time, error) {
	var latest *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(observed_at) FROM weather_observations WHERE farm_id = $1`,
		farmID,
	).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest observation: %w", err)
	}
	if latest == nil {
		return time.Time{}, nil
	}
	return latest.UTC(), nil
}

func (s *Store) UpsertGenerationLevels(ctx context.Context, levels []attribution.SettlementLevel) error {
	batch := &pgx.Batch{}
	for _, l := range levels {
		batch.Queue(
			`INSERT INTO generation_levels (farm_id, bm_unit, period_start, level_mw)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (bm_unit, period_start) DO UPDATE SET farm_id = $1, level_mw = $4`,
			l.FarmID, l.BMUnit, l.Start, l.LevelMW,
		)
	}
	return s.sendBatch(ctx, batch, "generation level")
}

func (s *Store) GenerationLevels(ctx context.Context, from, to time.Time) ([]attribution.SettlementLevel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT farm_id, bm_unit, period_start, level_mw
		 FROM generation_levels
		 WHERE period_start >= $1 AND period_start < $2
		 ORDER BY farm_id, bm_unit, period_start`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("get generation levels: %w", err)
	}
	defer rows.Close()

	var result []attribution.SettlementLevel
	for rows.Next() {
		var l attribution.SettlementLevel
		if err := rows.Scan(&l.FarmID, &l.BMUnit, &l.Start, &l.LevelMW); err != nil {
			return nil, err
		}
		l.Start = l.Start.UTC()
		result = append(result, l)
	}
	return result, rows.Err()
}

func (s *Store) UpsertAcceptances(ctx context.Context, acceptances []Acceptance) error {
	batch := &pgx.Batch{}
	for _, a := range acceptances {
		batch.Queue(
			`INSERT INTO curtailment_acceptances (
				acceptance_id, farm_id, acceptance_time, acceptance_type, price_gbp_per_mwh, volume_mw
			)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (acceptance_id) DO UPDATE SET
			   farm_id = $2, acceptance_time = $3, acceptance_type = $4,
			   price_gbp_per_mwh = $5, volume_mw = $6`,
			a.ID, a.FarmID, a.AcceptanceTime, a.AcceptanceType, a.PriceGBPPerMWh, a.VolumeMW,
		)
	}
	return s.sendBatch(ctx, batch, "acceptance")
}

// CurtailmentEvents returns acceptances in [from, to) with type and
// severity derived from the acceptance type and price.
func (s *Store) CurtailmentEvents(ctx context.Context, from, to time.Time) ([]attribution.CurtailmentEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT farm_id, acceptance_time, acceptance_type, price_gbp_per_mwh, volume_mw
		 FROM curtailment_acceptances
		 WHERE acceptance_time >= $1 AND acceptance_time < $2
		 ORDER BY farm_id, acceptance_time`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("get curtailment events: %w", err)
	}
	defer rows.Close()

	var result []attribution.CurtailmentEvent
	for rows.Next() {
		var ev attribution.CurtailmentEvent
		var acceptanceType string
		if err := rows.Scan(&ev.FarmID, &ev.AcceptanceTime, &acceptanceType, &ev.PriceGBPPerMWh, &ev.VolumeMW); err != nil {
			return nil, err
		}
		ev.CurtailmentType, ev.Severity = attribution.ClassifyCurtailment(acceptanceType, ev.PriceGBPPerMWh)
		result = append(result, ev)
	}
	return result, rows.Err()
}

func (s *Store) UpsertClassifications(ctx context.Context, cls []icing.Classification) error {
	batch := &pgx.Batch{}
	for _, c := range cls {
		batch.Queue(
			`INSERT INTO icing_classifications (
				farm_id, observed_at, temperature_2m, relative_humidity_2m, wind_speed_100m,
				dew_point_c, dew_point_spread_c, gust_factor, pressure_change_3h, risk_level,
				supercooled_droplet, blade_tip_cooling_risk, turbulent_icing_risk
			)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 ON CONFLICT (farm_id, observed_at) DO UPDATE SET
			   temperature_2m = $3, relative_humidity_2m = $4, wind_speed_100m = $5,
			   dew_point_c = $6, dew_point_spread_c = $7, gust_factor = $8, pressure_change_3h = $9,
			   risk_level = $10, supercooled_droplet = $11, blade_tip_cooling_risk = $12,
			   turbulent_icing_risk = $13`,
			c.FarmID, c.Timestamp, c.Temperature2m, c.RelativeHumidity2m, c.WindSpeed100m,
			c.DewPointC, c.DewPointSpreadC, c.GustFactor, c.PressureChange3h, string(c.RiskLevel),
			c.SupercooledDroplet, c.BladeTipCoolingRisk, c.TurbulentIcingRisk,
		)
	}
	return s.sendBatch(ctx, batch, "icing classification")
}

func (s *Store) Classifications(ctx context.Context, from, to time.Time) ([]icing.Classification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT farm_id, observed_at, temperature_2m, relative_humidity_2m, wind_speed_100m,
		        dew_point_c, dew_point_spread_c, gust_factor, pressure_change_3h, risk_level,
		        supercooled_droplet, blade_tip_cooling_risk, turbulent_icing_risk
		 FROM icing_classifications
		 WHERE observed_at >= $1 AND observed_at < $2
		 ORDER BY farm_id, observed_at`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("get classifications: %w", err)
	}
	defer rows.Close()

	var result []icing.Classification
	for rows.Next() {
		var c icing.Classification
		var risk string
		if err := rows.Scan(
			&c.FarmID, &c.Timestamp, &c.Temperature2m, &c.RelativeHumidity2m, &c.WindSpeed100m,
			&c.DewPointC, &c.DewPointSpreadC, &c.GustFactor, &c.PressureChange3h, &risk,
			&c.SupercooledDroplet, &c.BladeTipCoolingRisk, &c.TurbulentIcingRisk,
		); err != nil {
			return nil, err
		}
		c.Timestamp = c.Timestamp.UTC()
		c.RiskLevel = icing.RiskLevel(risk)
		result = append(result, c)
	}
	return result, rows.Err()
}

// UpsertAttributedHours writes a run's output. A re-run over the same hours
// replaces earlier rows and stamps them with the new run ID.
func (s *Store) UpsertAttributedHours(ctx context.Context, runID uuid.UUID, hours []attribution.AttributedHour) error {
	batch := &pgx.Batch{}
	for _, h := range hours {
		batch.Queue(
			`INSERT INTO attributed_hours (
				farm_id, hour, run_id, actual_mw, expected_mw, capacity_mw,
				capacity_factor_pct, expected_cf_pct, cf_deviation_pct, lost_generation_mw,
				revenue_loss_gbp, price_gbp_per_mwh, wind_speed_100m, temperature_2m, gust_factor,
				icing_risk_level, is_curtailed, curtailment_price, curtailment_volume,
				curtailment_events, constraint_severity, impact_category
			)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
			 ON CONFLICT (farm_id, hour) DO UPDATE SET
			   run_id = $3, actual_mw = $4, expected_mw = $5, capacity_mw = $6,
			   capacity_factor_pct = $7, expected_cf_pct = $8, cf_deviation_pct = $9, lost_generation_mw = $10,
			   revenue_loss_gbp = $11, price_gbp_per_mwh = $12, wind_speed_100m = $13, temperature_2m = $14,
			   gust_factor = $15, icing_risk_level = $16, is_curtailed = $17, curtailment_price = $18,
			   curtailment_volume = $19, curtailment_events = $20, constraint_severity = $21, impact_category = $22`,
			h.FarmID, h.Hour, runID, h.ActualMW, h.ExpectedMW, h.CapacityMW,
			h.CapacityFactorPct, h.ExpectedCFPct, h.CFDeviationPct, h.LostGenerationMW,
			h.RevenueLossGBP, h.PriceGBPPerMWh, h.WindSpeed100m, h.Temperature2m, h.GustFactor,
			string(h.IcingRiskLevel), h.IsCurtailed, h.CurtailmentPrice, h.CurtailmentVolume,
			h.CurtailmentEvents, h.ConstraintSeverity, string(h.ImpactCategory),
		)
	}
	return s.sendBatch(ctx, batch, "attributed hour")
}

// AttributedHours returns stored hours in [from, to). An empty farmID
// matches every farm.
func (s *Store) AttributedHours(ctx context.Context, farmID string, from, to time.Time) ([]attribution.AttributedHour, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT farm_id, hour, actual_mw, expected_mw, capacity_mw,
		        capacity_factor_pct, expected_cf_pct, cf_deviation_pct, lost_generation_mw,
		        revenue_loss_gbp, price_gbp_per_mwh, wind_speed_100m, temperature_2m, gust_factor,
		        icing_risk_level, is_curtailed, curtailment_price, curtailment_volume,
		        curtailment_events, constraint_severity, impact_category
		 FROM attributed_hours
		 WHERE ($1 = '' OR farm_id = $1) AND hour >= $2 AND hour < $3
		 ORDER BY farm_id, hour`,
		farmID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("get attributed hours: %w", err)
	}
	defer rows.Close()

	var result []attribution.AttributedHour
	for rows.Next() {
		var h attribution.AttributedHour
		var risk, category string
		if err := rows.Scan(
			&h.FarmID, &h.Hour, &h.ActualMW, &h.ExpectedMW, &h.CapacityMW,
			&h.CapacityFactorPct, &h.ExpectedCFPct, &h.CFDeviationPct, &h.LostGenerationMW,
			&h.RevenueLossGBP, &h.PriceGBPPerMWh, &h.WindSpeed100m, &h.Temperature2m, &h.GustFactor,
			&risk, &h.IsCurtailed, &h.CurtailmentPrice, &h.CurtailmentVolume,
			&h.CurtailmentEvents, &h.ConstraintSeverity, &category,
		); err != nil {
			return nil, err
		}
		h.Hour = h.Hour.UTC()
		h.IcingRiskLevel = icing.RiskLevel(risk)
		h.ImpactCategory = attribution.Category(category)
		result = append(result, h)
	}
	return result, rows.Err()
}
