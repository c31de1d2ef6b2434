package airport

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/yegors/livemap/internal/weather"
)

// NoLED marks an airport that is not bound to a position on the LED string
const NoLED = -1

// Placeholder identifiers fill LED positions that do not map to a real airport
const (
	PlaceholderNull   = "null"
	PlaceholderLegend = "lgnd"
)

// Purpose selects which views an airport appears in
type Purpose string

const (
	PurposeLED Purpose = "led"
	PurposeWeb Purpose = "web"
	PurposeAll Purpose = "all"
	PurposeOff Purpose = "off"
	// PurposeNone is used for stations only ever seen in a feed
	PurposeNone Purpose = ""
)

// ParsePurpose parses a configured display purpose
func ParsePurpose(s string) (Purpose, bool) {
	switch p := Purpose(strings.ToLower(strings.TrimSpace(s))); p {
	case PurposeLED, PurposeWeb, PurposeAll, PurposeOff, PurposeNone:
		return p, true
	default:
		return PurposeNone, false
	}
}

// InLEDView reports whether the purpose binds the airport to the LED string
func (p Purpose) InLEDView() bool {
	return p == PurposeLED || p == PurposeAll || p == PurposeOff
}

// InWebView reports whether the purpose shows the airport on the web map
func (p Purpose) InWebView() bool {
	return p == PurposeWeb || p == PurposeAll
}

// NormalizeICAO returns the canonical lowercase form of an identifier
func NormalizeICAO(icao string) string {
	return strings.ToLower(strings.TrimSpace(icao))
}

// IsPlaceholder reports whether the identifier is a layout placeholder
func IsPlaceholder(icao string) bool {
	switch NormalizeICAO(icao) {
	case PlaceholderNull, PlaceholderLegend:
		return true
	}
	return false
}

// Key returns the directory key of an airport. Placeholders share an identifier,
// so their LED index is appended to keep them apart.
func Key(icao string, led int) string {
	icao = NormalizeICAO(icao)
	if IsPlaceholder(icao) {
		return fmt.Sprintf("%s:%d", icao, led)
	}
	return icao
}

// Config is the persisted configuration of an airport
type Config struct {
	ICAO    string
	LED     int
	Active  bool
	Purpose Purpose
	Heatmap int
	Source  WeatherSource
}

// Airport is one station or placeholder slot. Weather fields are written only by the
// ingestion worker; readers take a consistent copy through Snapshot.
type Airport struct {
	mu sync.RWMutex

	key  string
	icao string
	iata string
	name string

	active  bool
	purpose Purpose
	led     int
	heatmap int
	source  WeatherSource

	metar       weather.MetarFields
	hasMETAR    bool
	previousRaw string
	updatedAt   time.Time
	category    weather.Category

	validCoords bool
	latitude    float64
	longitude   float64
	elevationFt float64

	forecast *weather.ForecastRecord
	runways  []Runway
}

// New creates an airport record from its configuration
func New(cfg Config) *Airport {
	a := &Airport{
		icao:     NormalizeICAO(cfg.ICAO),
		led:      cfg.LED,
		category: weather.CategoryUnknown,
	}
	a.key = Key(a.icao, cfg.LED)
	a.applyConfig(cfg)
	return a
}

// newFromFeed creates a record for a station first seen in a feed
func newFromFeed(icao string) *Airport {
	icao = NormalizeICAO(icao)
	return &Airport{
		key:      icao,
		icao:     icao,
		led:      NoLED,
		active:   true,
		purpose:  PurposeNone,
		category: weather.CategoryUnknown,
	}
}

func (a *Airport) applyConfig(cfg Config) {
	a.active = cfg.Active
	a.purpose = cfg.Purpose
	a.led = cfg.LED
	a.heatmap = clampHeatmap(cfg.Heatmap)
	a.source = cfg.Source
}

func clampHeatmap(v int) int {
	return min(max(v, 0), 100)
}

// Key returns the directory key
func (a *Airport) Key() string { return a.key }

// ICAO returns the lowercase identifier
func (a *Airport) ICAO() string { return a.icao }

// IsPlaceholder reports whether the record is a layout placeholder
func (a *Airport) IsPlaceholder() bool { return IsPlaceholder(a.icao) }

// Config returns the persisted configuration
func (a *Airport) Config() Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Config{
		ICAO:    a.icao,
		LED:     a.led,
		Active:  a.active,
		Purpose: a.purpose,
		Heatmap: a.heatmap,
		Source:  a.source,
	}
}

// UpdateConfig overwrites the configuration fields in place
func (a *Airport) UpdateConfig(cfg Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applyConfig(cfg)
}

// Activate includes the airport in ingestion and the views again
func (a *Airport) Activate() {
	a.mu.Lock()
	a.active = true
	a.mu.Unlock()
}

// Deactivate keeps the record but skips it in ingestion and the views
func (a *Airport) Deactivate() {
	a.mu.Lock()
	a.active = false
	a.mu.Unlock()
}

// IsActive reports whether the airport takes part in ingestion
func (a *Airport) IsActive() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

// SetWeatherSource changes where the airport's observation comes from
func (a *Airport) SetWeatherSource(src WeatherSource) {
	a.mu.Lock()
	a.source = src
	a.mu.Unlock()
}

// WeatherSource returns the configured observation source
func (a *Airport) WeatherSource() WeatherSource {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.source
}

// Purpose returns which views the airport belongs to
func (a *Airport) Purpose() Purpose {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.purpose
}

// LED returns the LED index, NoLED when the airport drives none
func (a *Airport) LED() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.led
}

// ApplyMETAR overwrites the observation with already normalized fields and stamps the
// update time. The previous raw text is kept when the report changed; the return value
// reports whether it did. Coordinates are taken only from the airport's own station.
func (a *Airport) ApplyMETAR(fields weather.MetarFields, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	changed := !a.hasMETAR || fields.RawText != a.metar.RawText
	if changed && a.hasMETAR {
		a.previousRaw = a.metar.RawText
	}

	// A borrowed report describes the other station's position
	if fields.Station != "" && NormalizeICAO(fields.Station) != a.icao {
		fields.Latitude = weather.Missing()
		fields.Longitude = weather.Missing()
	}
	fields.Station = a.icao
	if fields.Category == "" {
		fields.Category = weather.CategoryUnknown
	}
	a.metar = fields
	a.hasMETAR = true
	a.category = fields.Category
	a.updatedAt = now

	if fields.Latitude.Valid && fields.Longitude.Valid {
		a.latitude = fields.Latitude.Value
		a.longitude = fields.Longitude.Value
		a.validCoords = true
	}
	return changed
}

// ApplyForecast replaces the forecast record
func (a *Airport) ApplyForecast(record weather.ForecastRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	record.Station = a.icao
	record.Periods = slices.Clone(record.Periods)
	a.forecast = &record
}

// SetCategory forces the flight category without touching the observation
func (a *Airport) SetCategory(c weather.Category) {
	a.mu.Lock()
	a.category = c
	a.mu.Unlock()
}

// SetLocation fills in coordinates for airports the feed could not place
func (a *Airport) SetLocation(lat, lon, elevationFt float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.validCoords {
		a.latitude = lat
		a.longitude = lon
		a.validCoords = true
	}
	a.elevationFt = elevationFt
}

// SetInfo records descriptive data from the airport dataset
func (a *Airport) SetInfo(name, iata string) {
	a.mu.Lock()
	a.name = name
	a.iata = strings.ToUpper(strings.TrimSpace(iata))
	a.mu.Unlock()
}

// SetRunways attaches the runway dataset
func (a *Airport) SetRunways(runways []Runway) {
	a.mu.Lock()
	a.runways = slices.Clone(runways)
	a.mu.Unlock()
}

// FlightCategory returns the classified category, ignoring observation age
func (a *Airport) FlightCategory() weather.Category {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.category
}

// RawMETAR returns the current report text, if any
func (a *Airport) RawMETAR() (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.metar.RawText, a.hasMETAR
}

// METARAge returns the observation time, falling back to the update stamp when the
// report carried none. The zero time means no observation yet.
func (a *Airport) METARAge() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.metarTime()
}

func (a *Airport) metarTime() time.Time {
	if !a.metar.ObservationTime.IsZero() {
		return a.metar.ObservationTime
	}
	return a.updatedAt
}

// DisplayCategory is the category to show: OLD when the observation is older than
// maxAge, the classified category otherwise
func (a *Airport) DisplayCategory(now time.Time, maxAge time.Duration) weather.Category {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.displayCategory(now, maxAge)
}

func (a *Airport) displayCategory(now time.Time, maxAge time.Duration) weather.Category {
	return ageCategory(a.category, a.hasMETAR, a.metarTime(), now, maxAge)
}

func ageCategory(c weather.Category, hasMETAR bool, observed, now time.Time, maxAge time.Duration) weather.Category {
	if c == weather.CategoryOff || !hasMETAR || maxAge <= 0 {
		return c
	}
	if now.Sub(observed) > maxAge {
		return weather.CategoryOld
	}
	return c
}

// IsStale reports whether the observation is missing or older than maxAge
func (a *Airport) IsStale(now time.Time, maxAge time.Duration) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.hasMETAR || now.Sub(a.metarTime()) > maxAge
}

// State is a consistent copy of an airport record
type State struct {
	Key              string                  `json:"key"`
	ICAO             string                  `json:"icao"`
	IATA             string                  `json:"iata,omitempty"`
	Name             string                  `json:"name,omitempty"`
	Active           bool                    `json:"active"`
	Purpose          Purpose                 `json:"purpose"`
	LED              int                     `json:"led"`
	Heatmap          int                     `json:"heatmap"`
	Source           WeatherSource           `json:"wxsrc"`
	Category         weather.Category        `json:"flight_category"`
	METAR            *weather.MetarFields    `json:"metar,omitempty"`
	PreviousRaw      string                  `json:"previous_raw_text,omitempty"`
	UpdatedAt        time.Time               `json:"updated_at"`
	ValidCoordinates bool                    `json:"valid_coordinates"`
	Latitude         float64                 `json:"latitude"`
	Longitude        float64                 `json:"longitude"`
	ElevationFt      float64                 `json:"elevation_ft"`
	Conditions       []weather.Condition     `json:"conditions,omitempty"`
	Forecast         *weather.ForecastRecord `json:"taf,omitempty"`
	Runways          []Runway                `json:"runways,omitempty"`
}

// Snapshot returns a copy taken under a single read lock, so a reader never sees a
// report paired with the category of another
func (a *Airport) Snapshot() State {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := State{
		Key:              a.key,
		ICAO:             a.icao,
		IATA:             a.iata,
		Name:             a.name,
		Active:           a.active,
		Purpose:          a.purpose,
		LED:              a.led,
		Heatmap:          a.heatmap,
		Source:           a.source,
		Category:         a.category,
		PreviousRaw:      a.previousRaw,
		UpdatedAt:        a.updatedAt,
		ValidCoordinates: a.validCoords,
		Latitude:         a.latitude,
		Longitude:        a.longitude,
		ElevationFt:      a.elevationFt,
		Runways:          slices.Clone(a.runways),
	}
	if a.hasMETAR {
		m := a.metar
		m.SkyCondition = slices.Clone(m.SkyCondition)
		m.Phenomena = slices.Clone(m.Phenomena)
		s.METAR = &m
		s.Conditions = m.Conditions()
	}
	if a.forecast != nil {
		f := *a.forecast
		f.Periods = slices.Clone(f.Periods)
		s.Forecast = &f
	}
	return s
}

// WindDirDegrees returns the observed wind direction, zero when unknown
func (s State) WindDirDegrees() int {
	if s.METAR == nil {
		return 0
	}
	return s.METAR.WindDirDegrees
}

// DisplayCategory mirrors Airport.DisplayCategory on the copy
func (s State) DisplayCategory(now time.Time, maxAge time.Duration) weather.Category {
	if s.METAR == nil {
		return ageCategory(s.Category, false, time.Time{}, now, maxAge)
	}
	observed := s.METAR.ObservationTime
	if observed.IsZero() {
		observed = s.UpdatedAt
	}
	return ageCategory(s.Category, true, observed, now, maxAge)
}
