package airport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/livemap/internal/weather"
	"github.com/yegors/livemap/pkg/logger"
)

func newTestDirectory() *Directory {
	d := NewDirectory(logger.NewNop())
	d.SetClock(func() time.Time { return testNow })
	return d
}

func testConfigs() []Config {
	return []Config{
		{ICAO: "KSEA", LED: 2, Active: true, Purpose: PurposeLED, Source: Primary()},
		{ICAO: "KPAE", LED: 0, Active: true, Purpose: PurposeAll, Source: Primary()},
		{ICAO: "KBFI", LED: NoLED, Active: true, Purpose: PurposeWeb, Source: Primary()},
		{ICAO: "KRNT", LED: 1, Active: false, Purpose: PurposeLED, Source: Primary()},
		{ICAO: "null", LED: 3, Active: true, Purpose: PurposeOff, Source: Disabled()},
		{ICAO: "null", LED: 4, Active: true, Purpose: PurposeOff, Source: Disabled()},
		{ICAO: "KAWO", LED: 5, Active: true, Purpose: PurposeLED, Source: Neighbor("kpae")},
	}
}

func feedMap() map[string]weather.MetarFields {
	sea := seaMETAR()
	pae := seaMETAR()
	pae.Station = "kpae"
	pae.RawText = "KPAE 121855Z 00000KT 1/2SM FG OVC002 09/09 A3010"
	pae.Category = weather.CategoryLIFR
	unseen := seaMETAR()
	unseen.Station = "kolm"
	unseen.RawText = "KOLM 121854Z 20005KT 10SM CLR 14/04 A3011"
	return map[string]weather.MetarFields{"ksea": sea, "kpae": pae, "kolm": unseen}
}

func TestDirectory_MergeConfig(t *testing.T) {
	d := newTestDirectory()
	res := d.MergeConfig(testConfigs())
	assert.Equal(t, 7, res.Created)
	assert.Equal(t, 7, d.Len())

	_, err := d.Lookup("null:3")
	require.NoError(t, err)
	_, err = d.Lookup("null:4")
	require.NoError(t, err)

	res = d.MergeConfig([]Config{{ICAO: "ksea", LED: 2, Active: false, Purpose: PurposeWeb, Heatmap: 40}})
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 7, d.Len(), "update in place, never duplicated")

	a, err := d.Lookup("KSEA")
	require.NoError(t, err)
	cfg := a.Config()
	assert.False(t, cfg.Active)
	assert.Equal(t, PurposeWeb, cfg.Purpose)
	assert.Equal(t, 40, cfg.Heatmap)
}

func TestDirectory_Lookup(t *testing.T) {
	d := newTestDirectory()
	d.MergeConfig(testConfigs())

	_, err := d.Lookup("kzzz")
	assert.ErrorIs(t, err, ErrNotFound)

	inactive, err := d.Lookup("krnt")
	require.NoError(t, err, "inactive airports are still found")
	assert.False(t, inactive.IsActive())
}

func TestDirectory_KeyNormalization(t *testing.T) {
	d := newTestDirectory()
	d.MergeConfig([]Config{{ICAO: "KSEA", LED: 0, Active: true, Purpose: PurposeLED}})

	res := d.MergeMETAR(map[string]weather.MetarFields{"ksea": seaMETAR()})
	assert.Zero(t, res.Created)
	assert.Equal(t, 1, d.Len())

	a, err := d.Lookup("KSEA")
	require.NoError(t, err)
	assert.Equal(t, weather.CategoryVFR, a.FlightCategory())
}

func TestDirectory_MergeMETAR(t *testing.T) {
	d := newTestDirectory()
	d.MergeConfig(testConfigs())

	res := d.MergeMETAR(feedMap())
	assert.Equal(t, 1, res.Created, "unseen station is created")
	assert.Equal(t, 3, res.Updated)
	assert.Len(t, res.Changes, 3)

	olm, err := d.Lookup("kolm")
	require.NoError(t, err)
	assert.Equal(t, PurposeNone, olm.Purpose())
	assert.Equal(t, NoLED, olm.LED())

	pae, err := d.Lookup("kpae")
	require.NoError(t, err)
	assert.Equal(t, weather.CategoryLIFR, pae.FlightCategory())

	awo, err := d.Lookup("kawo")
	require.NoError(t, err)
	_, ok := awo.RawMETAR()
	assert.False(t, ok, "neighbor-sourced airports are not fed directly")
}

func TestDirectory_MergeMETAR_SkipsInactive(t *testing.T) {
	d := newTestDirectory()
	d.MergeConfig(testConfigs())

	fields := seaMETAR()
	fields.Station = "krnt"
	res := d.MergeMETAR(map[string]weather.MetarFields{"krnt": fields})
	assert.Equal(t, 1, res.Skipped)

	rnt, err := d.Lookup("krnt")
	require.NoError(t, err)
	_, ok := rnt.RawMETAR()
	assert.False(t, ok)
}

func TestDirectory_MergeMETAR_Idempotent(t *testing.T) {
	once := newTestDirectory()
	once.MergeConfig(testConfigs())
	once.MergeMETAR(feedMap())

	twice := newTestDirectory()
	twice.MergeConfig(testConfigs())
	twice.MergeMETAR(feedMap())
	res := twice.MergeMETAR(feedMap())
	assert.Empty(t, res.Changes)

	require.Equal(t, once.Len(), twice.Len())
	for _, a := range once.All() {
		b, err := twice.Lookup(a.Key())
		require.NoError(t, err)
		assert.Equal(t, a.Snapshot(), b.Snapshot(), a.Key())
	}
}

func TestDirectory_MergeMETAR_MissingStation(t *testing.T) {
	d := newTestDirectory()
	d.MergeConfig(testConfigs())
	d.MergeMETAR(feedMap())

	pae, err := d.Lookup("kpae")
	require.NoError(t, err)
	before := pae.Snapshot()

	feed := feedMap()
	delete(feed, "kpae")
	d.MergeMETAR(feed)

	after := pae.Snapshot()
	assert.Equal(t, before.Category, after.Category)
	assert.Equal(t, before.METAR.RawText, after.METAR.RawText)
}

func TestDirectory_MergeMETAR_MissingWindDirection(t *testing.T) {
	d := newTestDirectory()
	d.MergeConfig(testConfigs())

	fields := seaMETAR()
	fields.WindDirDegrees = 0
	d.MergeMETAR(map[string]weather.MetarFields{"ksea": fields})

	sea, err := d.Lookup("ksea")
	require.NoError(t, err)
	assert.Equal(t, 0, sea.Snapshot().WindDirDegrees())
}

func TestDirectory_Changes(t *testing.T) {
	d := newTestDirectory()
	d.MergeConfig(testConfigs())
	d.MergeMETAR(feedMap())

	next := seaMETAR()
	next.RawText = "KSEA 121953Z 18012KT 2SM BR OVC008 12/10 A3010"
	next.Category = weather.CategoryIFR
	res := d.MergeMETAR(map[string]weather.MetarFields{"ksea": next})

	require.Len(t, res.Changes, 1)
	c := res.Changes[0]
	assert.Equal(t, "ksea", c.ICAO)
	assert.Equal(t, 2, c.LED)
	assert.True(t, c.RawChanged)
	assert.True(t, c.CategoryChanged())
	assert.Equal(t, weather.CategoryVFR, c.PreviousCategory)
	assert.Equal(t, weather.CategoryIFR, c.Category)
	assert.Equal(t, seaMETAR().RawText, c.PreviousRaw)

	off, err := d.Lookup("null:3")
	require.NoError(t, err)
	c, ok := d.ForceCategory(off, weather.CategoryOff)
	require.True(t, ok)
	assert.Equal(t, weather.CategoryOff, c.Category)
	_, ok = d.ForceCategory(off, weather.CategoryOff)
	assert.False(t, ok)
}

func TestDirectory_MergeTAF(t *testing.T) {
	d := newTestDirectory()
	d.MergeConfig(testConfigs())

	res := d.MergeTAF(map[string]weather.ForecastRecord{
		"ksea": {Station: "ksea", RawText: "TAF KSEA ...", Periods: []weather.ForecastPeriod{{Category: weather.CategoryMVFR}}},
		"krnt": {Station: "krnt"},
	})
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Skipped)

	sea, err := d.Lookup("ksea")
	require.NoError(t, err)
	st := sea.Snapshot()
	require.NotNil(t, st.Forecast)
	assert.Equal(t, weather.CategoryMVFR, st.Forecast.Periods[0].Category)
}

func TestDirectory_Views(t *testing.T) {
	d := newTestDirectory()
	d.MergeConfig(testConfigs())
	d.MergeMETAR(feedMap())

	var led []string
	for _, a := range d.LEDView() {
		led = append(led, a.Key())
	}
	assert.Equal(t, []string{"kpae", "ksea", "null:3", "null:4", "kawo"}, led)

	var web []string
	for _, a := range d.WebView() {
		web = append(web, a.Key())
	}
	assert.Equal(t, []string{"kbfi", "kpae"}, web)

	bfi, err := d.Lookup("kbfi")
	require.NoError(t, err)
	bfi.Deactivate()
	web = nil
	for _, a := range d.WebView() {
		web = append(web, a.Key())
	}
	assert.Equal(t, []string{"kpae"}, web, "inactive airports leave the web view")
	_, err = d.Lookup("kbfi")
	assert.NoError(t, err, "inactive airports remain reachable")

	assert.Len(t, d.Configured(), 7)
}

func TestDirectory_Stats(t *testing.T) {
	d := newTestDirectory()
	d.MergeConfig(testConfigs())
	d.MergeMETAR(feedMap())

	s := d.Stats(testNow, time.Hour)
	assert.Equal(t, 8, s.Total)
	assert.Equal(t, 7, s.Configured)
	assert.Equal(t, 7, s.Active)
	assert.Equal(t, 5, s.LED)
	assert.Equal(t, 2, s.Web)
	assert.Equal(t, 1, s.Categories[weather.CategoryVFR])
	assert.Equal(t, 1, s.Categories[weather.CategoryLIFR])
}

func TestDirectory_AttachRunwaysAndInfo(t *testing.T) {
	d := newTestDirectory()
	d.MergeConfig(testConfigs())

	applied := d.ApplyAirportInfo(map[string]Info{
		"ksea": {ICAO: "ksea", IATA: "SEA", Name: "Seattle", Latitude: 47.449, Longitude: -122.309, ElevationFt: 433, ValidCoords: true},
	})
	assert.Equal(t, 1, applied)

	attached := d.AttachRunways(map[string][]Runway{"ksea": seaRunways(), "krnt": seaRunways()}, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, attached, "inactive airports get no runways")

	sea, err := d.Lookup("ksea")
	require.NoError(t, err)
	st := sea.Snapshot()
	assert.Equal(t, "Seattle", st.Name)
	assert.Equal(t, "SEA", st.IATA)
	require.Len(t, st.Runways, 3)
	assert.NotEqual(t, st.Runways[0].LE.TrueHeading, st.Runways[0].LE.MagneticHeading)
}

func TestDirectory_Nearby(t *testing.T) {
	d := newTestDirectory()
	d.MergeConfig(testConfigs())
	d.MergeMETAR(feedMap())

	bfi, err := d.Lookup("kbfi")
	require.NoError(t, err)
	bfi.SetLocation(47.53, -122.30, 21)

	near, err := d.Nearby("kbfi", 10)
	require.NoError(t, err)
	require.NotEmpty(t, near)
	for _, n := range near {
		assert.LessOrEqual(t, n.DistanceNM, 10.0)
		assert.NotEqual(t, "kbfi", n.ICAO)
	}

	_, err = d.Nearby("kzzz", 10)
	assert.ErrorIs(t, err, ErrNotFound)
}
