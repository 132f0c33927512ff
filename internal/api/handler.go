package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"windperf/internal/attribution"
	"windperf/internal/icing"
	"windperf/internal/metrics"
	"windperf/internal/pipeline"
)

const (
	defaultWindow = 7 * 24 * time.Hour
	maxWindow     = 366 * 24 * time.Hour
)

type Service interface {
	Hours(ctx context.Context, farmID string, from, to time.Time) ([]attribution.AttributedHour, error)
	Summary(ctx context.Context, from, to time.Time) (*pipeline.Summary, error)
	Episodes(ctx context.Context, from, to time.Time, minHours int) ([]icing.Episode, error)
	Icing(ctx context.Context, from, to time.Time) (*pipeline.IcingReport, error)
}

type Handler struct {
	service Service
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewHandler(service Service, m *metrics.Metrics) *Handler {
	return &Handler{service: service, metrics: m, now: time.Now}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	h.handle(mux, "GET /v1/attribution", h.getAttribution)
	h.handle(mux, "GET /v1/summary", h.getSummary)
	h.handle(mux, "GET /v1/icing/episodes", h.getEpisodes)
	h.handle(mux, "GET /v1/icing/distribution", h.getDistribution)
	mux.HandleFunc("GET /health", h.health)
	mux.Handle("GET /metrics", h.metrics.Handler())
}

func (h *Handler) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, h.metrics.WrapHandler(pattern, fn))
}

type hourJSON struct {
	FarmID             string    `json:"farm_id"`
	Hour               time.Time `json:"hour"`
	ActualMW           float64   `json:"actual_mw"`
	ExpectedMW         float64   `json:"expected_mw"`
	CapacityMW         float64   `json:"capacity_mw"`
	CapacityFactorPct  float64   `json:"capacity_factor_pct"`
	ExpectedCFPct      float64   `json:"expected_cf_pct"`
	CFDeviationPct     float64   `json:"cf_deviation_pct"`
	LostGenerationMW   float64   `json:"lost_generation_mw"`
	RevenueLossGBP     float64   `json:"revenue_loss_gbp"`
	PriceGBPPerMWh     float64   `json:"price_gbp_per_mwh"`
	WindSpeed100m      float64   `json:"wind_speed_100m"`
	Temperature2m      float64   `json:"temperature_2m"`
	GustFactor         *float64  `json:"gust_factor"`
	IcingRiskLevel     string    `json:"icing_risk_level"`
	IsCurtailed        bool      `json:"is_curtailed"`
	CurtailmentPrice   *float64  `json:"curtailment_price"`
	CurtailmentVolume  *float64  `json:"curtailment_volume"`
	CurtailmentEvents  int       `json:"curtailment_events"`
	ConstraintSeverity string    `json:"constraint_severity,omitempty"`
	ImpactCategory     string    `json:"impact_category"`
}

type summaryJSON struct {
	From                time.Time       `json:"from"`
	To                  time.Time       `json:"to"`
	Hours               int             `json:"hours"`
	Underperforming     int             `json:"underperforming_hours"`
	TotalRevenueLossGBP decimal.Decimal `json:"total_revenue_loss_gbp"`
	ByCategory          []categoryJSON  `json:"by_category"`
	ByFarm              []farmJSON      `json:"by_farm"`
	ByWindBin           []windBinJSON   `json:"by_wind_bin"`
}

type categoryJSON struct {
	Category         string          `json:"category"`
	Hours            int             `json:"hours"`
	MeanCFPct        float64         `json:"mean_cf_pct"`
	MeanDeviationPct float64         `json:"mean_deviation_pct"`
	LostMW           float64         `json:"lost_mw"`
	RevenueLossGBP   decimal.Decimal `json:"revenue_loss_gbp"`
	ShareOfLossPct   float64         `json:"share_of_loss_pct"`
	Farms            int             `json:"farms"`
}

type farmJSON struct {
	FarmID            string          `json:"farm_id"`
	Hours             int             `json:"hours"`
	MeanCFPct         float64         `json:"mean_cf_pct"`
	MeanExpectedCFPct float64         `json:"mean_expected_cf_pct"`
	MeanDeviationPct  float64         `json:"mean_deviation_pct"`
	LostMW            float64         `json:"lost_mw"`
	RevenueLossGBP    decimal.Decimal `json:"revenue_loss_gbp"`
	CurtailedHours    int             `json:"curtailed_hours"`
}

type windBinJSON struct {
	Label            string          `json:"label"`
	Hours            int             `json:"hours"`
	MeanWindSpeed    float64         `json:"mean_wind_speed"`
	MeanCFPct        float64         `json:"mean_cf_pct"`
	MeanExpectedCF   float64         `json:"mean_expected_cf_pct"`
	MeanDeviationPct float64         `json:"mean_deviation_pct"`
	LostMW           float64         `json:"lost_mw"`
	RevenueLossGBP   decimal.Decimal `json:"revenue_loss_gbp"`
}

type episodeJSON struct {
	FarmID         string    `json:"farm_id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Hours          int       `json:"hours"`
	MeanTemp       float64   `json:"mean_temperature"`
	MeanSpread     float64   `json:"mean_dew_point_spread"`
	MeanWindSpeed  float64   `json:"mean_wind_speed"`
	MeanGustFactor *float64  `json:"mean_gust_factor"`
}

type levelJSON struct {
	Level          string   `json:"risk_level"`
	Hours          int      `json:"hours"`
	Percentage     float64  `json:"percentage"`
	MeanTemp       float64  `json:"mean_temperature"`
	MeanSpread     float64  `json:"mean_dew_point_spread"`
	MeanWindSpeed  float64  `json:"mean_wind_speed"`
	MeanGustFactor *float64 `json:"mean_gust_factor"`
}

type distributionJSON struct {
	Levels     []levelJSON    `json:"levels"`
	Mechanisms mechanismsJSON `json:"mechanisms"`
}

type mechanismsJSON struct {
	Total               int `json:"total"`
	SupercooledDroplet  int `json:"supercooled_droplet"`
	BladeTipCoolingRisk int `json:"blade_tip_cooling_risk"`
	TurbulentIcingRisk  int `json:"turbulent_icing_risk"`
}

func (h *Handler) getAttribution(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.window(w, r)
	if !ok {
		return
	}
	farmID := r.URL.Query().Get("farm")

	hours, err := h.service.Hours(r.Context(), farmID, from, to)
	if err != nil {
		slog.Error("get attribution failed", "err", err, "farm", farmID, "from", from, "to", to)
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := make([]hourJSON, 0, len(hours))
	for _, a := range hours {
		resp = append(resp, hourJSON{
			FarmID:             a.FarmID,
			Hour:               a.Hour,
			ActualMW:           a.ActualMW,
			ExpectedMW:         a.ExpectedMW,
			CapacityMW:         a.CapacityMW,
			CapacityFactorPct:  a.CapacityFactorPct,
			ExpectedCFPct:      a.ExpectedCFPct,
			CFDeviationPct:     a.CFDeviationPct,
			LostGenerationMW:   a.LostGenerationMW,
			RevenueLossGBP:     a.RevenueLossGBP,
			PriceGBPPerMWh:     a.PriceGBPPerMWh,
			WindSpeed100m:      a.WindSpeed100m,
			Temperature2m:      a.Temperature2m,
			GustFactor:         a.GustFactor,
			IcingRiskLevel:     string(a.IcingRiskLevel),
			IsCurtailed:        a.IsCurtailed,
			CurtailmentPrice:   a.CurtailmentPrice,
			CurtailmentVolume:  a.CurtailmentVolume,
			CurtailmentEvents:  a.CurtailmentEvents,
			ConstraintSeverity: a.ConstraintSeverity,
			ImpactCategory:     string(a.ImpactCategory),
		})
	}
	writeJSON(w, resp)
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.window(w, r)
	if !ok {
		return
	}

	sum, err := h.service.Summary(r.Context(), from, to)
	if err != nil {
		slog.Error("get summary failed", "err", err, "from", from, "to", to)
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := summaryJSON{
		From:                sum.From,
		To:                  sum.To,
		Hours:               sum.Hours,
		Underperforming:     sum.Underperforming,
		TotalRevenueLossGBP: sum.TotalRevenueLossGBP,
		ByCategory:          []categoryJSON{},
		ByFarm:              []farmJSON{},
		ByWindBin:           []windBinJSON{},
	}
	for _, c := range sum.ByCategory {
		resp.ByCategory = append(resp.ByCategory, categoryJSON{
			Category:         string(c.Category),
			Hours:            c.Hours,
			MeanCFPct:        c.MeanCFPct,
			MeanDeviationPct: c.MeanDeviationPct,
			LostMW:           c.LostMW,
			RevenueLossGBP:   c.RevenueLossGBP,
			ShareOfLossPct:   c.ShareOfLossPct,
			Farms:            c.Farms,
		})
	}
	for _, f := range sum.ByFarm {
		resp.ByFarm = append(resp.ByFarm, farmJSON{
			FarmID:            f.FarmID,
			Hours:             f.Hours,
			MeanCFPct:         f.MeanCFPct,
			MeanExpectedCFPct: f.MeanExpectedCFPct,
			MeanDeviationPct:  f.MeanDeviationPct,
			LostMW:            f.LostMW,
			RevenueLossGBP:    f.RevenueLossGBP,
			CurtailedHours:    f.CurtailedHours,
		})
	}
	for _, b := range sum.ByWindBin {
		resp.ByWindBin = append(resp.ByWindBin, windBinJSON{
			Label:            b.Label,
			Hours:            b.Hours,
			MeanWindSpeed:    b.MeanWindSpeed,
			MeanCFPct:        b.MeanCFPct,
			MeanExpectedCF:   b.MeanExpectedCF,
			MeanDeviationPct: b.MeanDeviationPct,
			LostMW:           b.LostMW,
			RevenueLossGBP:   b.RevenueLossGBP,
		})
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, resp)
}

func (h *Handler) getEpisodes(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.window(w, r)
	if !ok {
		return
	}
	minHours := icing.DefaultEpisodeMinHours
	if v := r.URL.Query().Get("min_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSONError(w, "invalid min_hours parameter", http.StatusBadRequest)
			return
		}
		minHours = n
	}

	eps, err := h.service.Episodes(r.Context(), from, to, minHours)
	if err != nil {
		slog.Error("get icing episodes failed", "err", err, "from", from, "to", to)
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := make([]episodeJSON, 0, len(eps))
	for _, e := range eps {
		resp = append(resp, episodeJSON{
			FarmID:         e.FarmID,
			Start:          e.Start,
			End:            e.End,
			Hours:          e.Hours,
			MeanTemp:       e.MeanTemp,
			MeanSpread:     e.MeanSpread,
			MeanWindSpeed:  e.MeanWindSpeed,
			MeanGustFactor: e.MeanGustFactor,
		})
	}
	writeJSON(w, resp)
}

func (h *Handler) getDistribution(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.window(w, r)
	if !ok {
		return
	}

	rep, err := h.service.Icing(r.Context(), from, to)
	if err != nil {
		slog.Error("get icing distribution failed", "err", err, "from", from, "to", to)
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := distributionJSON{
		Levels: []levelJSON{},
		Mechanisms: mechanismsJSON{
			Total:               rep.Mechanisms.Total,
			SupercooledDroplet:  rep.Mechanisms.SupercooledDroplet,
			BladeTipCoolingRisk: rep.Mechanisms.BladeTipCoolingRisk,
			TurbulentIcingRisk:  rep.Mechanisms.TurbulentIcingRisk,
		},
	}
	for _, l := range rep.Levels {
		resp.Levels = append(resp.Levels, levelJSON{
			Level:          string(l.Level),
			Hours:          l.Hours,
			Percentage:     l.Percentage,
			MeanTemp:       l.MeanTemp,
			MeanSpread:     l.MeanSpread,
			MeanWindSpeed:  l.MeanWindSpeed,
			MeanGustFactor: l.MeanGustFactor,
		})
	}
	writeJSON(w, resp)
}

// window reads from/to as RFC 3339 timestamps or plain dates. Missing
// bounds default to the seven days ending at the current hour.
func (h *Handler) window(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	to := h.now().UTC().Truncate(time.Hour)
	if v := q.Get("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			writeJSONError(w, "invalid to parameter", http.StatusBadRequest)
			return time.Time{}, time.Time{}, false
		}
		to = t
	}
	from := to.Add(-defaultWindow)
	if v := q.Get("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			writeJSONError(w, "invalid from parameter", http.StatusBadRequest)
			return time.Time{}, time.Time{}, false
		}
		from = t
	}
	if !from.Before(to) {
		writeJSONError(w, "from must be before to", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	if to.Sub(from) > maxWindow {
		writeJSONError(w, "window too large", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.ParseInLocation(time.DateOnly, v, time.UTC)
}

// writeJSON encodes before writing so an unencodable value (NaN or Inf
// in a float field) becomes a 500 instead of an empty 200.
func writeJSON(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "err", err)
		writeJSONError(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(append(body, '\n'))
}

func writeJSONError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
