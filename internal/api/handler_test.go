package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"windperf/internal/attribution"
	"windperf/internal/icing"
	"windperf/internal/metrics"
	"windperf/internal/pipeline"
)

var now = time.Date(2023, 1, 20, 14, 25, 0, 0, time.UTC)

type fakeService struct {
	farm     string
	from, to time.Time
	minHours int
	err      error
	nan      bool
}

func (f *fakeService) Hours(_ context.Context, farmID string, from, to time.Time) ([]attribution.AttributedHour, error) {
	f.farm, f.from, f.to = farmID, from, to
	if f.err != nil {
		return nil, f.err
	}
	h := attribution.AttributedHour{
		FarmID: "WHILW", Hour: from, ActualMW: 10, ExpectedMW: 60, CapacityMW: 100,
		CFDeviationPct: -50, IcingRiskLevel: icing.RiskHigh, ImpactCategory: attribution.CategoryIcing,
	}
	if f.nan {
		h.ActualMW = math.NaN()
	}
	return []attribution.AttributedHour{h}, nil
}

func (f *fakeService) Summary(_ context.Context, from, to time.Time) (*pipeline.Summary, error) {
	f.from, f.to = from, to
	loss := decimal.RequireFromString("2500.50")
	return &pipeline.Summary{
		From:                from,
		To:                  to,
		Hours:               2,
		Underperforming:     1,
		TotalRevenueLossGBP: loss,
		ByCategory: []attribution.CategorySummary{
			{Category: attribution.CategoryIcing, Hours: 1, RevenueLossGBP: loss, ShareOfLossPct: 100, Farms: 1},
		},
	}, nil
}

func (f *fakeService) Episodes(_ context.Context, from, to time.Time, minHours int) ([]icing.Episode, error) {
	f.from, f.to, f.minHours = from, to, minHours
	return []icing.Episode{{FarmID: "WHILW", Start: from, End: from.Add(3 * time.Hour), Hours: 4}}, nil
}

func (f *fakeService) Icing(_ context.Context, from, to time.Time) (*pipeline.IcingReport, error) {
	return &pipeline.IcingReport{
		Levels:     []icing.LevelStats{{Level: icing.RiskHigh, Hours: 4, Percentage: 100}},
		Mechanisms: icing.MechanismCounts{Total: 4, SupercooledDroplet: 2},
	}, nil
}

func newTestMux(svc Service) (*http.ServeMux, *Handler) {
	h := NewHandler(svc, metrics.New())
	h.now = func() time.Time { return now }
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, h
}

func do(t *testing.T, mux *http.ServeMux, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestGetAttribution(t *testing.T) {
	svc := &fakeService{}
	mux, _ := newTestMux(svc)

	rec := do(t, mux, "/v1/attribution?farm=WHILW&from=2023-01-15&to=2023-01-16T06:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	assert.Equal(t, "WHILW", svc.farm)
	assert.Equal(t, time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC), svc.from)
	assert.Equal(t, time.Date(2023, 1, 16, 6, 0, 0, 0, time.UTC), svc.to)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "ICING", body[0]["impact_category"])
	assert.Equal(t, "HIGH", body[0]["icing_risk_level"])
	assert.Nil(t, body[0]["gust_factor"])
}

func TestGetAttribution_UnencodableHour(t *testing.T) {
	mux, _ := newTestMux(&fakeService{nan: true})

	rec := do(t, mux, "/v1/attribution?from=2023-01-10&to=2023-01-11")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "failed to encode response", body["error"])
}

func TestDefaultWindow(t *testing.T) {
	svc := &fakeService{}
	mux, _ := newTestMux(svc)

	rec := do(t, mux, "/v1/attribution")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2023, 1, 20, 14, 0, 0, 0, time.UTC), svc.to)
	assert.Equal(t, 7*24*time.Hour, svc.to.Sub(svc.from))
	assert.Empty(t, svc.farm)
}

func TestWindowValidation(t *testing.T) {
	mux, _ := newTestMux(&fakeService{})
	tests := []struct {
		target string
		want   string
	}{
		{"/v1/summary?from=yesterday", "invalid from parameter"},
		{"/v1/summary?to=2023-13-01", "invalid to parameter"},
		{"/v1/summary?from=2023-01-10&to=2023-01-10", "from must be before to"},
		{"/v1/summary?from=2020-01-01&to=2023-01-10", "window too large"},
		{"/v1/icing/episodes?min_hours=0", "invalid min_hours parameter"},
	}
	for _, tt := range tests {
		rec := do(t, mux, tt.target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tt.target)
		assert.Contains(t, rec.Body.String(), tt.want, tt.target)
	}
}

func TestGetSummary(t *testing.T) {
	mux, _ := newTestMux(&fakeService{})

	rec := do(t, mux, "/v1/summary?from=2023-01-15&to=2023-01-16")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))

	var body struct {
		Hours           int    `json:"hours"`
		Underperforming int    `json:"underperforming_hours"`
		Total           string `json:"total_revenue_loss_gbp"`
		ByCategory      []struct {
			Category string `json:"category"`
			Loss     string `json:"revenue_loss_gbp"`
		} `json:"by_category"`
		ByFarm []json.RawMessage `json:"by_farm"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Hours)
	assert.Equal(t, "2500.5", body.Total)
	require.Len(t, body.ByCategory, 1)
	assert.Equal(t, "ICING", body.ByCategory[0].Category)
	assert.NotNil(t, body.ByFarm, "empty groups encode as []")
}

func TestGetEpisodesAndDistribution(t *testing.T) {
	svc := &fakeService{}
	mux, _ := newTestMux(svc)

	rec := do(t, mux, "/v1/icing/episodes?from=2023-01-15&to=2023-01-16")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, icing.DefaultEpisodeMinHours, svc.minHours)
	assert.Contains(t, rec.Body.String(), `"hours":4`)

	rec = do(t, mux, "/v1/icing/episodes?min_hours=6")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, svc.minHours)

	rec = do(t, mux, "/v1/icing/distribution")
	require.Equal(t, http.StatusOK, rec.Code)
	var dist struct {
		Levels []struct {
			Level string `json:"risk_level"`
		} `json:"levels"`
		Mechanisms struct {
			Total       int `json:"total"`
			Supercooled int `json:"supercooled_droplet"`
		} `json:"mechanisms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dist))
	require.Len(t, dist.Levels, 1)
	assert.Equal(t, "HIGH", dist.Levels[0].Level)
	assert.Equal(t, 2, dist.Mechanisms.Supercooled)
}

func TestServiceError(t *testing.T) {
	mux, _ := newTestMux(&fakeService{err: errors.New("db gone")})
	rec := do(t, mux, "/v1/attribution")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db gone")
}

func TestHealthAndMetrics(t *testing.T) {
	mux, _ := newTestMux(&fakeService{})

	rec := do(t, mux, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	do(t, mux, "/v1/attribution")
	rec = do(t, mux, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `windperf_http_requests_total{route="GET /v1/attribution",status="200"} 1`))
}
