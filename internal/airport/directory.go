package airport

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yegors/livemap/internal/physics"
	"github.com/yegors/livemap/internal/weather"
	"github.com/yegors/livemap/pkg/logger"
)

var (
	// ErrNotFound is returned when no airport is stored under a key
	ErrNotFound = errors.New("airport not found")

	errInvalidCoordinates = errors.New("coordinates invalid")
)

// Change describes an observation or category change of one airport
type Change struct {
	Key              string           `json:"key"`
	ICAO             string           `json:"icao"`
	LED              int              `json:"led"`
	Purpose          Purpose          `json:"purpose"`
	PreviousCategory weather.Category `json:"previous_category"`
	Category         weather.Category `json:"category"`
	PreviousRaw      string           `json:"previous_raw_text,omitempty"`
	RawText          string           `json:"raw_text"`
	ObservedAt       time.Time        `json:"observed_at"`
	RawChanged       bool             `json:"raw_changed"`
}

// CategoryChanged reports whether the flight category moved
func (c Change) CategoryChanged() bool {
	return c.PreviousCategory != c.Category
}

// MergeResult summarizes one merge batch
type MergeResult struct {
	Updated int
	Created int
	Skipped int
	Failed  int
	Changes []Change
}

// Stats counts airports per view and per displayed category
type Stats struct {
	Total      int                      `json:"total"`
	Active     int                      `json:"active"`
	LED        int                      `json:"led"`
	Web        int                      `json:"web"`
	Configured int                      `json:"configured"`
	Categories map[weather.Category]int `json:"categories"`
}

// Nearby is an airport together with its distance from a reference airport
type Nearby struct {
	State
	DistanceNM float64 `json:"distance_nm"`
}

// Directory owns every airport record. The ingestion worker is its only writer;
// any number of readers may use the views concurrently.
type Directory struct {
	mu       sync.RWMutex
	airports map[string]*Airport
	logger   *logger.Logger
	now      func() time.Time
}

// NewDirectory creates an empty directory
func NewDirectory(log *logger.Logger) *Directory {
	return &Directory{
		airports: make(map[string]*Airport),
		logger:   log.Named("airport-directory"),
		now:      time.Now,
	}
}

// SetClock replaces the clock used to stamp updates
func (d *Directory) SetClock(now func() time.Time) {
	d.now = now
}

// Len returns the number of records
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.airports)
}

// Lookup returns the airport stored under the identifier or placeholder key.
// Inactive airports are found like any other.
func (d *Directory) Lookup(icao string) (*Airport, error) {
	key := NormalizeICAO(icao)
	d.mu.RLock()
	a, ok := d.airports[key]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return a, nil
}

// getOrCreate returns the record for a feed station, creating it when unseen
func (d *Directory) getOrCreate(station string) (*Airport, bool) {
	key := NormalizeICAO(station)

	d.mu.RLock()
	a, ok := d.airports[key]
	d.mu.RUnlock()
	if ok {
		return a, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.airports[key]; ok {
		return a, false
	}
	a = newFromFeed(key)
	d.airports[key] = a
	return a, true
}

// MergeConfig creates configured airports or updates their configuration in place.
// Records are never removed.
func (d *Directory) MergeConfig(entries []Config) MergeResult {
	var result MergeResult

	for _, cfg := range entries {
		if NormalizeICAO(cfg.ICAO) == "" {
			result.Skipped++
			continue
		}
		key := Key(cfg.ICAO, cfg.LED)

		d.mu.Lock()
		a, ok := d.airports[key]
		if !ok {
			d.airports[key] = New(cfg)
		}
		d.mu.Unlock()

		if ok {
			a.UpdateConfig(cfg)
			result.Updated++
		} else {
			result.Created++
		}
	}

	d.logger.Debug("Merged airport configuration",
		logger.Int("created", result.Created),
		logger.Int("updated", result.Updated),
		logger.Int("skipped", result.Skipped))
	return result
}

// MergeMETAR applies a parsed feed to every active, feed-sourced airport it names.
// Stations absent from the feed keep their previous observation. A failure on one
// station is logged and the batch carries on.
func (d *Directory) MergeMETAR(parsed map[string]weather.MetarFields) MergeResult {
	var result MergeResult

	for _, station := range sortedKeys(parsed) {
		fields := parsed[station]

		err := guard(func() {
			a, created := d.getOrCreate(station)
			if created {
				result.Created++
			}
			if !a.IsActive() || a.WeatherSource().Kind() != SourcePrimary {
				result.Skipped++
				return
			}
			if change, ok := d.ApplyMETAR(a, fields); ok {
				result.Changes = append(result.Changes, change)
			}
			result.Updated++
		})
		if err != nil {
			result.Failed++
			d.logger.Error("Failed to merge METAR",
				logger.String("icao", station),
				logger.Error(err))
		}
	}
	return result
}

// ApplyMETAR stores an observation on a single airport and reports the resulting change
func (d *Directory) ApplyMETAR(a *Airport, fields weather.MetarFields) (Change, bool) {
	before := a.Snapshot()
	rawChanged := a.ApplyMETAR(fields, d.now())
	after := a.Snapshot()

	if !rawChanged && before.Category == after.Category {
		return Change{}, false
	}
	return changeOf(before, after, rawChanged), true
}

// ForceCategory sets a category that does not come from an observation, such as OFF
func (d *Directory) ForceCategory(a *Airport, c weather.Category) (Change, bool) {
	before := a.Snapshot()
	if before.Category == c {
		return Change{}, false
	}
	a.SetCategory(c)
	return changeOf(before, a.Snapshot(), false), true
}

func changeOf(before, after State, rawChanged bool) Change {
	c := Change{
		Key:              after.Key,
		ICAO:             after.ICAO,
		LED:              after.LED,
		Purpose:          after.Purpose,
		PreviousCategory: before.Category,
		Category:         after.Category,
		RawChanged:       rawChanged,
	}
	if before.METAR != nil {
		c.PreviousRaw = before.METAR.RawText
	}
	if after.METAR != nil {
		c.RawText = after.METAR.RawText
		c.ObservedAt = after.METAR.ObservationTime
	}
	return c
}

// MergeTAF stores parsed forecasts on every active airport they name
func (d *Directory) MergeTAF(parsed map[string]weather.ForecastRecord) MergeResult {
	var result MergeResult

	for _, station := range sortedKeys(parsed) {
		record := parsed[station]

		err := guard(func() {
			a, created := d.getOrCreate(station)
			if created {
				result.Created++
			}
			if !a.IsActive() {
				result.Skipped++
				return
			}
			a.ApplyForecast(record)
			result.Updated++
		})
		if err != nil {
			result.Failed++
			d.logger.Error("Failed to merge TAF",
				logger.String("icao", station),
				logger.Error(err))
		}
	}
	return result
}

// AttachRunways hands every active airport its runways, with magnetic headings computed
// for the given date where the airport position is known
func (d *Directory) AttachRunways(runways map[string][]Runway, at time.Time) int {
	attached := 0
	for _, a := range d.All() {
		if !a.IsActive() || a.IsPlaceholder() {
			continue
		}
		set, ok := runways[a.ICAO()]
		if !ok {
			continue
		}
		set = slices.Clone(set)

		if decl, err := a.Snapshot().Declination(at); err == nil {
			applyDeclination(set, decl)
		} else {
			d.logger.Debug("Magnetic headings unavailable",
				logger.String("icao", a.ICAO()),
				logger.Error(err))
		}
		a.SetRunways(set)
		attached++
	}
	return attached
}

// ApplyAirportInfo fills names and missing positions from the airport dataset
func (d *Directory) ApplyAirportInfo(info map[string]Info) int {
	applied := 0
	for _, a := range d.All() {
		if a.IsPlaceholder() {
			continue
		}
		i, ok := info[a.ICAO()]
		if !ok {
			continue
		}
		a.SetInfo(i.Name, i.IATA)
		if i.ValidCoords {
			a.SetLocation(i.Latitude, i.Longitude, i.ElevationFt)
		}
		applied++
	}
	return applied
}

// All returns every record ordered by key
func (d *Directory) All() []*Airport {
	d.mu.RLock()
	out := make([]*Airport, 0, len(d.airports))
	for _, a := range d.airports {
		out = append(out, a)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// LEDView returns the active LED-bound airports ordered by LED index
func (d *Directory) LEDView() []*Airport {
	var out []*Airport
	for _, a := range d.All() {
		cfg := a.Config()
		if cfg.Active && cfg.Purpose.InLEDView() {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LED() < out[j].LED() })
	return out
}

// WebView returns the active airports shown on the web map, ordered by key.
// Inactive records stay reachable through Lookup.
func (d *Directory) WebView() []*Airport {
	var out []*Airport
	for _, a := range d.All() {
		cfg := a.Config()
		if cfg.Active && cfg.Purpose.InWebView() {
			out = append(out, a)
		}
	}
	return out
}

// Configured returns the airports that came from configuration rather than a feed
func (d *Directory) Configured() []*Airport {
	var out []*Airport
	for _, a := range d.All() {
		if a.Purpose() != PurposeNone || a.IsPlaceholder() {
			out = append(out, a)
		}
	}
	return out
}

// Stats counts the directory contents. Categories are the displayed ones over
// the union of both views.
func (d *Directory) Stats(now time.Time, maxAge time.Duration) Stats {
	s := Stats{Categories: make(map[weather.Category]int)}
	for _, a := range d.All() {
		st := a.Snapshot()
		s.Total++
		if st.Purpose != PurposeNone || IsPlaceholder(st.ICAO) {
			s.Configured++
		}
		if !st.Active {
			continue
		}
		s.Active++
		led, web := st.Purpose.InLEDView(), st.Purpose.InWebView()
		if led {
			s.LED++
		}
		if web {
			s.Web++
		}
		if led || web {
			s.Categories[st.DisplayCategory(now, maxAge)]++
		}
	}
	return s
}

// Nearby lists airports with known positions within radiusNM of the given airport,
// closest first
func (d *Directory) Nearby(icao string, radiusNM float64) ([]Nearby, error) {
	origin, err := d.Lookup(icao)
	if err != nil {
		return nil, err
	}
	o := origin.Snapshot()
	if !o.ValidCoordinates {
		return nil, fmt.Errorf("%s: %w", o.ICAO, errInvalidCoordinates)
	}

	var out []Nearby
	for _, a := range d.All() {
		if a == origin || a.IsPlaceholder() {
			continue
		}
		st := a.Snapshot()
		if !st.ValidCoordinates {
			continue
		}
		dist := physics.DistanceNM(o.Latitude, o.Longitude, st.Latitude, st.Longitude)
		if dist <= radiusNM {
			out = append(out, Nearby{State: st, DistanceNM: dist})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceNM < out[j].DistanceNM })
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// guard runs fn and turns a panic into an error
func guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn()
	return nil
}
