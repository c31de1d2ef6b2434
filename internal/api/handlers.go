package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yegors/livemap/internal/airport"
	"github.com/yegors/livemap/internal/datasets"
	"github.com/yegors/livemap/internal/storage/sqlite"
	"github.com/yegors/livemap/internal/weather"
	"github.com/yegors/livemap/internal/websocket"
	"github.com/yegors/livemap/pkg/logger"
)

const (
	defaultNearbyRadiusNM = 50.0
	maxNearbyRadiusNM     = 500.0
)

// HistoryReader reads stored METAR changes
type HistoryReader interface {
	History(ctx context.Context, icao string, limit int) ([]sqlite.HistoryRecord, error)
}

// Options holds the settings the handlers need from the configuration
type Options struct {
	METARAge     time.Duration
	HistoryLimit int
}

// Handler contains the API handlers
type Handler struct {
	directory *airport.Directory
	tracker   *datasets.Tracker
	history   HistoryReader
	wsServer  *websocket.Server
	opts      Options
	logger    *logger.Logger
	now       func() time.Time
	started   time.Time
}

// NewHandler creates a new API handler. history and wsServer may be nil.
func NewHandler(directory *airport.Directory, tracker *datasets.Tracker, history HistoryReader, wsServer *websocket.Server, opts Options, log *logger.Logger) *Handler {
	return &Handler{
		directory: directory,
		tracker:   tracker,
		history:   history,
		wsServer:  wsServer,
		opts:      opts,
		logger:    log.Named("api-handler"),
		now:       time.Now,
		started:   time.Now(),
	}
}

// AirportResponse is an airport as served to the map
type AirportResponse struct {
	airport.State
	DisplayCategory weather.Category        `json:"display_category"`
	BestRunway      *airport.RunwayChoice   `json:"best_runway,omitempty"`
	ForecastNow     *weather.ForecastPeriod `json:"taf_now,omitempty"`
}

// LEDEntry is one position of the LED string
type LEDEntry struct {
	LED      int              `json:"led"`
	ICAO     string           `json:"icao"`
	Category weather.Category `json:"category"`
	Heatmap  int              `json:"heatmap"`
}

// WXResponse is the compact weather summary of one airport
type WXResponse struct {
	ICAO             string              `json:"icao"`
	Name             string              `json:"name,omitempty"`
	Category         weather.Category    `json:"flight_category"`
	DisplayCategory  weather.Category    `json:"display_category"`
	RawText          string              `json:"raw_text"`
	ObservationTime  *time.Time          `json:"observation_time,omitempty"`
	WindDirDegrees   int                 `json:"wind_dir_degrees"`
	WindSpeedKt      int                 `json:"wind_speed_kt"`
	WindGustKt       int                 `json:"wind_gust_kt"`
	Visibility       weather.Measurement `json:"visibility_statute_mi"`
	Ceiling          weather.Measurement `json:"ceiling_ft_agl"`
	Phenomena        []string            `json:"wx,omitempty"`
	Conditions       []weather.Condition `json:"conditions,omitempty"`
	ForecastCategory weather.Category    `json:"taf_category,omitempty"`
}

func (h *Handler) airportResponse(st airport.State, now time.Time) AirportResponse {
	resp := AirportResponse{
		State:           st,
		DisplayCategory: st.DisplayCategory(now, h.opts.METARAge),
	}
	if choice, ok := st.BestRunway(); ok && st.METAR != nil {
		resp.BestRunway = &choice
	}
	if st.Forecast != nil {
		if p, ok := st.Forecast.PeriodAt(now); ok {
			resp.ForecastNow = &p
		}
	}
	return resp
}

// GetAirports returns the web view. ?category= narrows it to one displayed category.
func (h *Handler) GetAirports(w http.ResponseWriter, r *http.Request) {
	var filter weather.Category
	if raw := r.URL.Query().Get("category"); raw != "" {
		c, ok := weather.ParseCategory(raw)
		if !ok {
			http.Error(w, fmt.Sprintf("Unknown category %q", raw), http.StatusBadRequest)
			return
		}
		filter = c
	}

	now := h.now()
	airports := h.directory.WebView()
	out := make([]AirportResponse, 0, len(airports))
	for _, a := range airports {
		resp := h.airportResponse(a.Snapshot(), now)
		if filter != "" && resp.DisplayCategory != filter {
			continue
		}
		out = append(out, resp)
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"airports":  out,
		"count":     len(out),
		"timestamp": now.UTC(),
	})
}

// GetLEDAirports returns the LED view in LED order
func (h *Handler) GetLEDAirports(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	airports := h.directory.LEDView()
	out := make([]LEDEntry, 0, len(airports))
	for _, a := range airports {
		st := a.Snapshot()
		out = append(out, LEDEntry{
			LED:      st.LED,
			ICAO:     st.ICAO,
			Category: st.DisplayCategory(now, h.opts.METARAge),
			Heatmap:  st.Heatmap,
		})
	}
	WriteJSON(w, http.StatusOK, out)
}

// GetAirport returns one airport with its best runway and current forecast period
func (h *Handler) GetAirport(w http.ResponseWriter, r *http.Request) {
	st, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, h.airportResponse(st, h.now()))
}

// GetWX returns the compact weather summary of one airport
func (h *Handler) GetWX(w http.ResponseWriter, r *http.Request) {
	st, ok := h.lookup(w, r)
	if !ok {
		return
	}

	now := h.now()
	resp := WXResponse{
		ICAO:            st.ICAO,
		Name:            st.Name,
		Category:        st.Category,
		DisplayCategory: st.DisplayCategory(now, h.opts.METARAge),
		RawText:         weather.MissingText,
		Conditions:      st.Conditions,
	}
	if m := st.METAR; m != nil {
		resp.RawText = m.RawText
		if !m.ObservationTime.IsZero() {
			t := m.ObservationTime
			resp.ObservationTime = &t
		}
		resp.WindDirDegrees = m.WindDirDegrees
		resp.WindSpeedKt = m.WindSpeedKt
		resp.WindGustKt = m.WindGustKt
		resp.Visibility = m.Visibility
		resp.Ceiling = m.Ceiling
		resp.Phenomena = m.Phenomena
	}
	if st.Forecast != nil {
		if p, ok := st.Forecast.PeriodAt(now); ok {
			resp.ForecastCategory = p.Category
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetMETAR returns the current and previous raw report
func (h *Handler) GetMETAR(w http.ResponseWriter, r *http.Request) {
	st, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if st.METAR == nil {
		http.Error(w, "No METAR for airport", http.StatusNotFound)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"icao":              st.ICAO,
		"raw_text":          st.METAR.RawText,
		"previous_raw_text": st.PreviousRaw,
		"observation_time":  st.METAR.ObservationTime,
		"flight_category":   st.Category,
	})
}

// GetTAF returns the forecast and the period in force at ?at= (RFC 3339, default now)
func (h *Handler) GetTAF(w http.ResponseWriter, r *http.Request) {
	st, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if st.Forecast == nil {
		http.Error(w, "No TAF for airport", http.StatusNotFound)
		return
	}

	at := h.now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "Invalid at parameter, expected RFC 3339", http.StatusBadRequest)
			return
		}
		at = t
	}

	resp := map[string]any{
		"icao":           st.ICAO,
		"taf":            st.Forecast,
		"worst_category": st.Forecast.WorstCategory(),
		"at":             at.UTC(),
	}
	if p, ok := st.Forecast.PeriodAt(at); ok {
		resp["period"] = p
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetNearby returns airports within ?radius= nautical miles, nearest first
func (h *Handler) GetNearby(w http.ResponseWriter, r *http.Request) {
	icao := chi.URLParam(r, "icao")

	radius := defaultNearbyRadiusNM
	if raw := r.URL.Query().Get("radius"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || v > maxNearbyRadiusNM {
			http.Error(w, fmt.Sprintf("Invalid radius, expected 0 < radius <= %.0f", maxNearbyRadiusNM), http.StatusBadRequest)
			return
		}
		radius = v
	}

	nearby, err := h.directory.Nearby(icao, radius)
	if errors.Is(err, airport.ErrNotFound) {
		http.Error(w, "Airport not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"icao":      airport.NormalizeICAO(icao),
		"radius_nm": radius,
		"airports":  nearby,
		"count":     len(nearby),
	})
}

// GetHistory returns stored METAR changes, newest first, up to ?limit=
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "History storage disabled", http.StatusServiceUnavailable)
		return
	}

	st, ok := h.lookup(w, r)
	if !ok {
		return
	}

	limit := h.opts.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(v, h.opts.HistoryLimit)
	}

	records, err := h.history.History(r.Context(), st.ICAO, limit)
	if err != nil {
		h.logger.Error("Failed to read history",
			logger.String("icao", st.ICAO),
			logger.Error(err))
		http.Error(w, "Failed to read history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []sqlite.HistoryRecord{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"icao":    st.ICAO,
		"history": records,
		"count":   len(records),
	})
}

// GetDatasets returns the freshness of every dataset
func (h *Handler) GetDatasets(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"datasets": h.tracker.Stats(),
	})
}

// GetStats returns per-view and per-category counts
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.directory.Stats(h.now(), h.opts.METARAge))
}

// GetHealth returns the health status of the API
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":   "ok",
		"uptime":   h.now().Sub(h.started).Round(time.Second).String(),
		"airports": h.directory.Len(),
	}
	if h.wsServer != nil {
		resp["websocket_clients"] = h.wsServer.ClientCount()
	}
	WriteJSON(w, http.StatusOK, resp)
}

// ExportAirports streams the configured airports as an xlsx workbook
func (h *Handler) ExportAirports(w http.ResponseWriter, r *http.Request) {
	configured := h.directory.Configured()
	states := make([]airport.State, 0, len(configured))
	for _, a := range configured {
		states = append(states, a.Snapshot())
	}

	now := h.now()
	f, err := BuildWorkbook(states, now, h.opts.METARAge)
	if err != nil {
		h.logger.Error("Failed to build workbook", logger.Error(err))
		http.Error(w, "Failed to build workbook", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	filename := fmt.Sprintf("livemap_%s.xlsx", now.UTC().Format("2006-01-02_1504"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := f.Write(w); err != nil {
		h.logger.Error("Failed to write workbook", logger.Error(err))
	}
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (airport.State, bool) {
	icao := chi.URLParam(r, "icao")
	if icao == "" {
		http.Error(w, "Missing airport identifier", http.StatusBadRequest)
		return airport.State{}, false
	}

	a, err := h.directory.Lookup(icao)
	if err != nil {
		http.Error(w, "Airport not found", http.StatusNotFound)
		return airport.State{}, false
	}
	return a.Snapshot(), true
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
