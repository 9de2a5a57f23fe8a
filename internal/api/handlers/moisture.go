// Package handlers contains the HTTP handler implementations for the
// SoilWatch API: soil moisture queries (GET /soil_moisture), manual
// ingestion triggers (POST /update_smap), and secure-update checks
// (POST /update_tuf).
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"soilwatch/internal/core"
	"soilwatch/internal/types"
)

// MoistureReader defines the storage contract the handler depends on.
// Matches the store gateway but is defined locally to avoid tight
// coupling per the handler injection pattern.
type MoistureReader interface {
	Query(ctx context.Context, q types.MoistureQuery) ([]types.SoilMoistureRecord, error)
}

// GranuleFetcher runs one download-and-decode cycle against the SMAP
// archive.
type GranuleFetcher interface {
	Fetch(ctx context.Context) ([]types.SoilMoistureRecord, error)
}

// RecordWriter persists decoded records.
type RecordWriter interface {
	Upsert(ctx context.Context, records []types.SoilMoistureRecord) error
}

// UpdateChecker runs one secure-update check.
type UpdateChecker interface {
	CheckForUpdate(ctx context.Context) (types.UpdateOutcome, error)
}

// MoistureHandler maps HTTP requests to the soil moisture domain
// operations.
type MoistureHandler struct {
	reader  MoistureReader
	fetcher GranuleFetcher
	writer  RecordWriter
	checker UpdateChecker
	logger  *slog.Logger
}

// NewMoistureHandler creates a new MoistureHandler with the provided
// dependencies.
func NewMoistureHandler(
	reader MoistureReader,
	fetcher GranuleFetcher,
	writer RecordWriter,
	checker UpdateChecker,
	logger *slog.Logger,
) *MoistureHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MoistureHandler{
		reader:  reader,
		fetcher: fetcher,
		writer:  writer,
		checker: checker,
		logger:  logger,
	}
}

// RegisterRoutes mounts the moisture endpoints onto the mux. The query
// endpoint is metered; the trigger endpoints deliberately are not, so
// operators behind a shared proxy are never locked out of a manual
// refresh.
func (h *MoistureHandler) RegisterRoutes(r chi.Router, rateLimit func(http.Handler) http.Handler) {
	if rateLimit != nil {
		r.With(rateLimit).Get("/soil_moisture", h.HandleGetMoisture)
	} else {
		r.Get("/soil_moisture", h.HandleGetMoisture)
	}
	r.Post("/update_smap", h.HandleUpdateSMAP)
	r.Post("/update_tuf", h.HandleUpdateTUF)
}

// HandleGetMoisture handles GET /soil_moisture.
//
//  1. Parse query params: lat, lon, start_date, end_date (all required).
//  2. Query the store for the exact coordinate over the date range.
//  3. Return the matching records as a JSON array.
func (h *MoistureHandler) HandleGetMoisture(w http.ResponseWriter, r *http.Request) {
	query, err := parseMoistureQuery(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	records, err := h.reader.Query(r.Context(), *query)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "moisture query failed",
			"lat", query.Lat,
			"lon", query.Lon,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, records)
}

// HandleUpdateSMAP handles POST /update_smap. It runs one synchronous
// ingestion cycle: download the granule, decode it, and upsert every
// record. The request blocks until the cycle finishes.
func (h *MoistureHandler) HandleUpdateSMAP(w http.ResponseWriter, r *http.Request) {
	records, err := h.fetcher.Fetch(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "manual ingestion fetch failed", "error", err)
		core.Error(w, r, err)
		return
	}

	if err := h.writer.Upsert(r.Context(), records); err != nil {
		h.logger.ErrorContext(r.Context(), "manual ingestion store failed",
			"records", len(records),
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "manual ingestion complete", "records", len(records))
	core.Text(w, http.StatusOK, "SMAP data updated")
}

// HandleUpdateTUF handles POST /update_tuf. It runs one secure-update
// check against the pinned metadata repository.
func (h *MoistureHandler) HandleUpdateTUF(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.checker.CheckForUpdate(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "update check failed", "error", err)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, outcome)
}

// parseMoistureQuery extracts and validates the four required query
// parameters of GET /soil_moisture.
func parseMoistureQuery(r *http.Request) (*types.MoistureQuery, error) {
	q := r.URL.Query()

	lat, err := parseCoordinate(q.Get("lat"), "lat", -90, 90, types.ErrCodeValidationInvalidLat)
	if err != nil {
		return nil, err
	}
	lon, err := parseCoordinate(q.Get("lon"), "lon", -180, 180, types.ErrCodeValidationInvalidLon)
	if err != nil {
		return nil, err
	}

	startDate, err := parseDateParam(q.Get("start_date"), "start_date")
	if err != nil {
		return nil, err
	}
	endDate, err := parseDateParam(q.Get("end_date"), "end_date")
	if err != nil {
		return nil, err
	}

	return &types.MoistureQuery{
		Lat:       lat,
		Lon:       lon,
		StartDate: startDate,
		EndDate:   endDate,
	}, nil
}

func parseCoordinate(raw, name string, min, max float64, code types.ErrorCode) (float64, error) {
	if raw == "" {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			name+" query parameter is required",
			nil,
			map[string]any{"field": name},
		)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, types.NewAppError(code, name+" must be a valid number", err)
	}
	if v < min || v > max {
		return 0, types.NewAppErrorWithDetails(
			code,
			name+" is out of range",
			nil,
			map[string]any{"min": min, "max": max},
		)
	}
	return v, nil
}

func parseDateParam(raw, name string) (types.Date, error) {
	if raw == "" {
		return types.Date{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			name+" query parameter is required",
			nil,
			map[string]any{"field": name},
		)
	}
	d, err := types.ParseDate(raw)
	if err != nil {
		return types.Date{}, types.NewAppError(
			types.ErrCodeValidationInvalidDate,
			name+" must be a date in YYYY-MM-DD format",
			err,
		)
	}
	return d, nil
}
