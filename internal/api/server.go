// Package api serves the calibration HTTP surface: table CRUD, calibrated
// lookups, table quality diagnostics, and a debug chart of the fitted curve.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/calibrate.report/internal/calibrate"
	"github.com/banshee-data/calibrate.report/internal/db"
	"github.com/banshee-data/calibrate.report/internal/monitoring"
	"github.com/banshee-data/calibrate.report/internal/stats"
)

// ANSI escape codes for status-code colouring in request logs
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	db    *db.DB
	units string // default units label for tables created without one
	limit bool   // default limit_to_range for new tables
}

func NewServer(d *db.DB, units string, limitToRange bool) *Server {
	return &Server{
		db:    d,
		units: units,
		limit: limitToRange,
	}
}

// ServeMux returns the API routes. Mount under /api.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/tables", s.handleTables)
	mux.HandleFunc("/tables/", s.handleTable)
	mux.HandleFunc("/calibrate", s.handleCalibrate)
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			r.URL.Path, queryString(r), time.Since(start).Milliseconds(),
		)
	})
}

func queryString(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return ""
	}
	return "?" + r.URL.RawQuery
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response.
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// handleTables serves GET (list) and POST (create) on /tables.
func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listTables(w, r)
	case http.MethodPost:
		s.createTable(w, r)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use GET or POST")
	}
}

func (s *Server) listTables(w http.ResponseWriter, _ *http.Request) {
	tables, err := s.db.ListTables()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list tables: %v", err))
		return
	}
	if tables == nil {
		tables = []db.TableSummary{}
	}
	s.writeJSON(w, http.StatusOK, tables)
}

type createTableRequest struct {
	Name         string  `json:"name"`
	Units        string  `json:"units"`
	LimitToRange *bool   `json:"limit_to_range"`
	Points       []point `json:"points"`
}

type point struct {
	Raw        float64 `json:"raw"`
	Calibrated float64 `json:"calibrated"`
}

func (s *Server) createTable(w http.ResponseWriter, r *http.Request) {
	var req createTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	units := req.Units
	if units == "" {
		units = s.units
	}
	limit := s.limit
	if req.LimitToRange != nil {
		limit = *req.LimitToRange
	}

	// Reject tables the calibrator would refuse to fit, so a stored table
	// is always usable for lookups.
	raw := make([]float64, len(req.Points))
	cal := make([]float64, len(req.Points))
	for i, p := range req.Points {
		raw[i], cal[i] = p.Raw, p.Calibrated
	}
	c := calibrate.New(raw, cal, limit)
	if !c.Begin() {
		s.writeJSONError(w, http.StatusBadRequest, c.Err().Error())
		return
	}

	points := make([]db.CalibrationPoint, len(req.Points))
	for i, p := range req.Points {
		points[i] = db.CalibrationPoint{Raw: p.Raw, Calibrated: p.Calibrated}
	}
	table, err := s.db.CreateTable(req.Name, units, limit, points)
	if err != nil {
		s.writeJSONError(w, http.StatusConflict, fmt.Sprintf("failed to create table: %v", err))
		return
	}
	s.writeJSON(w, http.StatusCreated, table)
}

// handleTable routes /tables/{id} and its /quality, /chart, /observations
// subpaths.
func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tables/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		s.writeJSONError(w, http.StatusNotFound, "table id required")
		return
	}

	table, err := s.lookupTable(id)
	if errors.Is(err, db.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "no such table")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load table: %v", err))
		return
	}

	switch sub {
	case "":
		switch r.Method {
		case http.MethodGet:
			s.writeJSON(w, http.StatusOK, table)
		case http.MethodDelete:
			if err := s.db.DeleteTable(table.ID); err != nil {
				s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to delete table: %v", err))
				return
			}
			s.writeJSON(w, http.StatusOK, map[string]string{"deleted": table.ID})
		default:
			s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use GET or DELETE")
		}
	case "quality":
		s.tableQuality(w, r, table)
	case "chart":
		s.tableChart(w, r, table)
	case "observations":
		s.tableObservations(w, r, table)
	default:
		s.writeJSONError(w, http.StatusNotFound, "unknown table subresource")
	}
}

// lookupTable resolves an id-or-name reference to a table.
func (s *Server) lookupTable(ref string) (*db.CalibrationTable, error) {
	table, err := s.db.GetTable(ref)
	if errors.Is(err, db.ErrNotFound) {
		return s.db.GetTableByName(ref)
	}
	return table, err
}

func (s *Server) tableQuality(w http.ResponseWriter, r *http.Request, table *db.CalibrationTable) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}
	report, err := stats.Evaluate(table.RawValues(), table.CalibratedValues())
	if err != nil {
		s.writeJSONError(w, http.StatusUnprocessableEntity, fmt.Sprintf("table not evaluable: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) tableObservations(w http.ResponseWriter, r *http.Request, table *db.CalibrationTable) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 10000 {
			limit = v
		}
	}
	obs, err := s.db.ListObservations(table.ID, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list observations: %v", err))
		return
	}
	if obs == nil {
		obs = []db.Observation{}
	}
	s.writeJSON(w, http.StatusOK, obs)
}

type calibrateRequest struct {
	Table  string    `json:"table"` // id or name
	Values []float64 `json:"values"`
	Record *bool     `json:"record"` // default true
}

type calibrateResponse struct {
	TableID string    `json:"table_id"`
	Units   string    `json:"units"`
	Limited bool      `json:"limited"`
	Values  []float64 `json:"values"`
}

// handleCalibrate maps a batch of raw values through a stored table.
func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req calibrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Table == "" {
		s.writeJSONError(w, http.StatusBadRequest, "table is required")
		return
	}
	if len(req.Values) == 0 {
		s.writeJSONError(w, http.StatusBadRequest, "values must not be empty")
		return
	}

	table, err := s.lookupTable(req.Table)
	if errors.Is(err, db.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "no such table")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load table: %v", err))
		return
	}

	c, err := table.Calibrator()
	if err != nil {
		s.writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	record := req.Record == nil || *req.Record
	resp := calibrateResponse{
		TableID: table.ID,
		Units:   table.Units,
		Limited: table.LimitToRange,
		Values:  make([]float64, len(req.Values)),
	}
	for i, v := range req.Values {
		resp.Values[i] = c.Calibrate(v)
		if record {
			if err := s.db.RecordObservation(table.ID, v, resp.Values[i]); err != nil {
				monitoring.Logf("failed to record observation: %v", err)
			}
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}
