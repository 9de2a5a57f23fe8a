//go:build integration

// Package test contains integration tests that exercise the full API
// stack against a real on-disk SQLite store. They are skipped during
// plain `go test ./...` and must be run explicitly:
//
//	go test -v -tags integration ./test/
package test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soilwatch/internal/api/handlers"
	"soilwatch/internal/config"
	"soilwatch/internal/core"
	"soilwatch/internal/ratelimit"
	"soilwatch/internal/store"
	"soilwatch/internal/types"
	"soilwatch/internal/update"
)

// fixedFetcher serves a canned granule result, standing in for the
// remote archive so the stack under test stops at the HTTP boundary.
type fixedFetcher struct {
	records []types.SoilMoistureRecord
}

func (f *fixedFetcher) Fetch(ctx context.Context) ([]types.SoilMoistureRecord, error) {
	return f.records, nil
}

type testStack struct {
	server  *core.Server
	gateway *store.Gateway
	handler http.Handler
}

func newTestStack(t *testing.T, quota int) *testStack {
	t.Helper()

	gateway, err := store.Open(filepath.Join(t.TempDir(), "soilwatch-it.db"))
	require.NoError(t, err)
	t.Cleanup(func() { gateway.Close() })

	cfg := &config.Config{}
	cfg.RateLimit.Requests = quota
	cfg.RateLimit.Window = time.Minute
	cfg.RateLimit.IdentityHeader = "X-Forwarded-For"
	cfg.Server.RequestTimeout = 10 * time.Second

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := core.NewServer(cfg, logger)
	require.NoError(t, err)
	srv.Limiter = ratelimit.New(quota, time.Minute, 10*time.Minute)
	t.Cleanup(srv.Limiter.Close)

	date, err := types.ParseDate("2024-07-29")
	require.NoError(t, err)

	fetcher := &fixedFetcher{records: []types.SoilMoistureRecord{
		{Date: date, Lat: 10, Lon: 30, Moisture: 0.12},
		{Date: date, Lat: 20, Lon: 40, Moisture: 0.35},
	}}

	checker, err := update.NewPinnedChecker("https://updates.example.com/", []string{"k1"}, logger)
	require.NoError(t, err)

	h := handlers.NewMoistureHandler(gateway, fetcher, gateway, checker, logger)
	srv.RouteRegistrars = append(srv.RouteRegistrars, func(r chi.Router) {
		h.RegisterRoutes(r, srv.RateLimit)
	})
	srv.HealthProbes = []core.HealthProbe{gatewayProbe{gateway}}
	srv.MountRoutes()

	return &testStack{server: srv, gateway: gateway, handler: srv.Handler()}
}

type gatewayProbe struct {
	gateway *store.Gateway
}

func (p gatewayProbe) Name() string                    { return "database" }
func (p gatewayProbe) Check(ctx context.Context) error { return p.gateway.Ping(ctx) }

func (s *testStack) do(method, target, identity string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if identity != "" {
		req.Header.Set("X-Forwarded-For", identity)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestIngestThenQueryRoundTrip(t *testing.T) {
	stack := newTestStack(t, 100)

	// Trigger a manual ingestion cycle.
	rec := stack.do(http.MethodPost, "/update_smap", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SMAP data updated", rec.Body.String())

	// The stored cell is now queryable by exact coordinates.
	rec = stack.do(http.MethodGet,
		"/soil_moisture?lat=10&lon=30&start_date=2024-07-01&end_date=2024-07-31", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var records []types.SoilMoistureRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, 0.12, records[0].Moisture)

	// A second ingestion of the same composite replaces the rows
	// instead of duplicating them.
	rec = stack.do(http.MethodPost, "/update_smap", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = stack.do(http.MethodGet,
		"/soil_moisture?lat=10&lon=30&start_date=2024-07-01&end_date=2024-07-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 1)
}

func TestQueryOutsideRangeIsEmptyArray(t *testing.T) {
	stack := newTestStack(t, 100)

	rec := stack.do(http.MethodPost, "/update_smap", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = stack.do(http.MethodGet,
		"/soil_moisture?lat=10&lon=30&start_date=2024-08-01&end_date=2024-08-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestQueryRateLimitedPerIdentity(t *testing.T) {
	stack := newTestStack(t, 3)

	target := "/soil_moisture?lat=10&lon=30&start_date=2024-07-01&end_date=2024-07-31"

	for i := 0; i < 3; i++ {
		rec := stack.do(http.MethodGet, target, "203.0.113.9")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := stack.do(http.MethodGet, target, "203.0.113.9")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// A different caller keeps its own budget.
	rec = stack.do(http.MethodGet, target, "198.51.100.4")
	assert.Equal(t, http.StatusOK, rec.Code)

	// The manual ingestion trigger is not metered.
	for i := 0; i < 5; i++ {
		rec = stack.do(http.MethodPost, "/update_smap", "203.0.113.9")
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestUpdateTUFEndpoint(t *testing.T) {
	stack := newTestStack(t, 100)

	rec := stack.do(http.MethodPost, "/update_tuf", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var outcome types.UpdateOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, types.UpdateStatusCurrent, outcome.Status)
}

func TestHealthEndpoint(t *testing.T) {
	stack := newTestStack(t, 100)

	rec := stack.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database"`)
}
