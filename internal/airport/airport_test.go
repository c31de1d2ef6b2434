package airport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/livemap/internal/weather"
)

var testNow = time.Date(2024, 5, 12, 19, 0, 0, 0, time.UTC)

func seaMETAR() weather.MetarFields {
	return weather.MetarFields{
		Station:         "ksea",
		RawText:         "KSEA 121853Z 18010KT 10SM FEW040 12/08 A3012",
		ObservationTime: time.Date(2024, 5, 12, 18, 53, 0, 0, time.UTC),
		WindDirDegrees:  180,
		WindSpeedKt:     10,
		Visibility:      weather.Known(10),
		Ceiling:         weather.Known(weather.UnlimitedCeilingFt),
		Latitude:        weather.Known(47.4447),
		Longitude:       weather.Known(-122.3144),
		Category:        weather.CategoryVFR,
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "ksea", Key(" KSEA ", 3))
	assert.Equal(t, "null:3", Key("NULL", 3))
	assert.Equal(t, "lgnd:7", Key("lgnd", 7))
}

func TestPurposeViews(t *testing.T) {
	assert.True(t, PurposeLED.InLEDView())
	assert.True(t, PurposeAll.InLEDView())
	assert.True(t, PurposeOff.InLEDView())
	assert.False(t, PurposeWeb.InLEDView())

	assert.True(t, PurposeWeb.InWebView())
	assert.True(t, PurposeAll.InWebView())
	assert.False(t, PurposeLED.InWebView())
	assert.False(t, PurposeNone.InWebView())

	_, ok := ParsePurpose("billboard")
	assert.False(t, ok)
}

func TestAirport_ApplyMETAR(t *testing.T) {
	a := New(Config{ICAO: "KSEA", LED: 1, Active: true, Purpose: PurposeLED})
	assert.Equal(t, weather.CategoryUnknown, a.FlightCategory())
	_, ok := a.RawMETAR()
	assert.False(t, ok)

	assert.True(t, a.ApplyMETAR(seaMETAR(), testNow))
	raw, ok := a.RawMETAR()
	require.True(t, ok)
	assert.Equal(t, seaMETAR().RawText, raw)
	assert.Equal(t, weather.CategoryVFR, a.FlightCategory())
	assert.Equal(t, seaMETAR().ObservationTime, a.METARAge())

	st := a.Snapshot()
	assert.True(t, st.ValidCoordinates)
	assert.Equal(t, 47.4447, st.Latitude)
	assert.Empty(t, st.PreviousRaw)
	assert.Equal(t, testNow, st.UpdatedAt)

	assert.False(t, a.ApplyMETAR(seaMETAR(), testNow), "same report is not a change")

	next := seaMETAR()
	next.RawText = "KSEA 121953Z 18012KT 2SM BR OVC008 12/10 A3010"
	next.Category = weather.CategoryIFR
	next.Latitude = weather.Missing()
	assert.True(t, a.ApplyMETAR(next, testNow.Add(time.Hour)))

	st = a.Snapshot()
	assert.Equal(t, seaMETAR().RawText, st.PreviousRaw)
	assert.Equal(t, weather.CategoryIFR, st.Category)
	assert.True(t, st.ValidCoordinates, "missing coordinates keep the known position")
}

func TestAirport_InvalidCoordinates(t *testing.T) {
	a := New(Config{ICAO: "KPAE", Active: true, Purpose: PurposeWeb})
	fields := seaMETAR()
	fields.Latitude = weather.Missing()
	a.ApplyMETAR(fields, testNow)

	assert.False(t, a.Snapshot().ValidCoordinates)

	a.SetLocation(47.9, -122.28, 606)
	st := a.Snapshot()
	assert.True(t, st.ValidCoordinates)
	assert.Equal(t, 47.9, st.Latitude)
}

func TestAirport_BorrowedMETARKeepsPosition(t *testing.T) {
	d := newTestDirectory()
	d.MergeConfig([]Config{{ICAO: "KBFI", LED: 0, Active: true, Purpose: PurposeAll, Source: Neighbor("ksea")}})
	bfi, err := d.Lookup("kbfi")
	require.NoError(t, err)
	bfi.SetLocation(47.53, -122.30, 21)

	change, ok := d.ApplyMETAR(bfi, seaMETAR())
	require.True(t, ok)
	assert.Equal(t, weather.CategoryVFR, change.Category)

	st := bfi.Snapshot()
	assert.Equal(t, 47.53, st.Latitude)
	assert.Equal(t, -122.30, st.Longitude)
	assert.Equal(t, "kbfi", st.METAR.Station)
	assert.False(t, st.METAR.Latitude.Valid)
	assert.False(t, st.METAR.Longitude.Valid)

	unplaced := New(Config{ICAO: "KRNT", Active: true})
	unplaced.ApplyMETAR(seaMETAR(), testNow)
	assert.False(t, unplaced.Snapshot().ValidCoordinates, "another station's report never places the airport")
}

func TestAirport_DisplayCategory(t *testing.T) {
	a := New(Config{ICAO: "KSEA", Active: true, Purpose: PurposeLED})
	assert.Equal(t, weather.CategoryUnknown, a.DisplayCategory(testNow, time.Hour))

	a.ApplyMETAR(seaMETAR(), testNow)
	assert.Equal(t, weather.CategoryVFR, a.DisplayCategory(testNow, time.Hour))
	assert.Equal(t, weather.CategoryOld, a.DisplayCategory(testNow.Add(2*time.Hour), time.Hour))
	assert.Equal(t, weather.CategoryOld, a.Snapshot().DisplayCategory(testNow.Add(2*time.Hour), time.Hour))
	assert.False(t, a.IsStale(testNow, time.Hour))
	assert.True(t, a.IsStale(testNow.Add(2*time.Hour), time.Hour))

	a.SetCategory(weather.CategoryOff)
	assert.Equal(t, weather.CategoryOff, a.DisplayCategory(testNow.Add(2*time.Hour), time.Hour))
}

func TestAirport_ActiveAndSource(t *testing.T) {
	a := New(Config{ICAO: "KBFI", Active: true, Heatmap: 250})
	assert.True(t, a.IsActive())
	assert.Equal(t, 100, a.Config().Heatmap)

	a.Deactivate()
	assert.False(t, a.IsActive())
	a.Activate()
	assert.True(t, a.IsActive())

	a.SetWeatherSource(Neighbor("ksea"))
	assert.Equal(t, SourceNeighbor, a.WeatherSource().Kind())
}

func TestAirport_SnapshotIsCopy(t *testing.T) {
	a := New(Config{ICAO: "KSEA", Active: true})
	fields := seaMETAR()
	fields.Phenomena = []string{"-RA"}
	a.ApplyMETAR(fields, testNow)

	st := a.Snapshot()
	st.METAR.Phenomena[0] = "+SN"
	assert.Equal(t, []string{"-RA"}, a.Snapshot().METAR.Phenomena)
}
