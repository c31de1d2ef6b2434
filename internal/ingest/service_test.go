package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/livemap/internal/airport"
	"github.com/yegors/livemap/internal/datasets"
	"github.com/yegors/livemap/internal/weather"
	"github.com/yegors/livemap/pkg/logger"
)

const metarFeed = `<?xml version="1.0" encoding="UTF-8"?>
<response version="1.3">
  <data num_results="2">
    <METAR>
      <raw_text>KSEA 121853Z 18010KT 10SM FEW040 BKN250 12/08 A3012</raw_text>
      <station_id>KSEA</station_id>
      <observation_time>2024-05-12T18:53:00Z</observation_time>
      <latitude>47.4447</latitude>
      <longitude>-122.3144</longitude>
      <wind_dir_degrees>180</wind_dir_degrees>
      <wind_speed_kt>10</wind_speed_kt>
      <visibility_statute_mi>10+</visibility_statute_mi>
      <sky_condition sky_cover="FEW" cloud_base_ft_agl="4000" />
      <flight_category>VFR</flight_category>
    </METAR>
    <METAR>
      <raw_text>KPAE 121855Z VRB03KT 1SM BR OVC004 11/09 A3010</raw_text>
      <station_id>KPAE</station_id>
      <observation_time>2024-05-12T18:55:00Z</observation_time>
      <visibility_statute_mi>1</visibility_statute_mi>
      <sky_condition sky_cover="OVC" cloud_base_ft_agl="400" />
    </METAR>
  </data>
</response>`

const runwaysCSV = `"id","airport_ref","airport_ident","length_ft","width_ft","surface","lighted","closed","le_ident","le_latitude_deg","le_longitude_deg","le_elevation_ft","le_heading_degT","le_displaced_threshold_ft","he_ident","he_latitude_deg","he_longitude_deg","he_elevation_ft","he_heading_degT","he_displaced_threshold_ft"
1,3875,"KSEA",11901,150,"CON",1,0,"16L",47.4638,-122.308,363,180,,"34R",47.4312,-122.308,347,360,
`

const airportsCSV = `"id","ident","type","name","latitude_deg","longitude_deg","elevation_ft","continent","iso_country","iso_region","municipality","scheduled_service","icao_code","iata_code","gps_code","local_code","home_link","wikipedia_link","keywords"
3875,"KSEA","large_airport","Seattle Tacoma International Airport",47.449001,-122.308998,433,"NA","US","US-WA","Seattle","yes","KSEA","SEA","KSEA","SEA",,,
`

type recordingSink struct {
	mu      sync.Mutex
	batches [][]airport.Change
}

func (s *recordingSink) HandleChanges(_ context.Context, changes []airport.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, changes)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

type fakeFetcher struct {
	mu     sync.Mutex
	calls  int
	fields weather.MetarFields
	err    error
}

func (f *fakeFetcher) FetchMETAR(_ context.Context, _ string) (weather.MetarFields, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.fields, f.err
}

type fixture struct {
	dir     string
	cfg     Config
	dirctry *airport.Directory
	tracker *datasets.Tracker
	sink    *recordingSink
	svc     *Service
}

func newFixture(t *testing.T, direct METARFetcher, entries ...airport.Config) *fixture {
	t.Helper()
	tmp := t.TempDir()
	log := logger.NewNop()

	f := &fixture{
		dir: tmp,
		cfg: Config{
			PollInterval: time.Hour,
			METARExpiry:  time.Hour,
			METARFile:    filepath.Join(tmp, "metars.xml"),
			TAFFile:      filepath.Join(tmp, "tafs.xml"),
			RunwaysFile:  filepath.Join(tmp, "runways.csv"),
			AirportsFile: filepath.Join(tmp, "airports.csv"),
		},
		dirctry: airport.NewDirectory(log),
		tracker: datasets.NewTracker(),
		sink:    &recordingSink{},
	}
	f.dirctry.MergeConfig(entries)
	f.svc = NewService(f.cfg, f.dirctry, f.tracker, weather.NewParser(log), direct, log, f.sink)
	f.svc.now = func() time.Time { return time.Date(2024, 5, 12, 19, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func configured(icao string, led int, src airport.WeatherSource) airport.Config {
	return airport.Config{ICAO: icao, LED: led, Active: true, Purpose: airport.PurposeAll, Source: src}
}

func snapshot(t *testing.T, d *airport.Directory, icao string) airport.State {
	t.Helper()
	a, err := d.Lookup(icao)
	require.NoError(t, err)
	return a.Snapshot()
}

func TestRunCycle_SeedsFromDiskAndResolvesSources(t *testing.T) {
	f := newFixture(t, nil,
		configured("KSEA", 0, airport.Primary()),
		configured("KRNT", 1, airport.Neighbor("KSEA")),
		configured("KBFI", 2, airport.Disabled()),
	)
	f.write(t, f.cfg.METARFile, metarFeed)

	result := f.svc.RunCycle(context.Background())
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, []datasets.Kind{datasets.KindMETAR}, result.Datasets)
	assert.NotEmpty(t, result.ID)

	sea := snapshot(t, f.dirctry, "ksea")
	assert.Equal(t, weather.CategoryVFR, sea.Category)

	rnt := snapshot(t, f.dirctry, "krnt")
	require.NotNil(t, rnt.METAR)
	assert.Equal(t, sea.METAR.RawText, rnt.METAR.RawText, "neighbor borrows the observation")
	assert.Equal(t, weather.CategoryVFR, rnt.Category)

	bfi := snapshot(t, f.dirctry, "kbfi")
	assert.Equal(t, weather.CategoryOff, bfi.Category)

	pae := snapshot(t, f.dirctry, "kpae")
	assert.Equal(t, weather.CategoryLIFR, pae.Category, "feed stations are tracked even when unconfigured")

	require.Equal(t, 1, f.sink.count())
	keys := make(map[string]bool)
	for _, c := range f.sink.batches[0] {
		keys[c.Key] = true
	}
	assert.True(t, keys["ksea"])
	assert.True(t, keys["krnt"])
	assert.True(t, keys["kbfi"])

	// nothing new on disk
	again := f.svc.RunCycle(context.Background())
	assert.Empty(t, again.Datasets)
	assert.Empty(t, again.Changes)
	assert.Equal(t, 1, f.sink.count())
}

func TestRunCycle_WaitsForSerial(t *testing.T) {
	f := newFixture(t, nil, configured("KSEA", 0, airport.Primary()))

	result := f.svc.RunCycle(context.Background())
	assert.Empty(t, result.Datasets, "no file on disk yet")

	f.write(t, f.cfg.METARFile, metarFeed)
	f.tracker.MarkUpdated(datasets.KindMETAR)

	result = f.svc.RunCycle(context.Background())
	assert.Equal(t, []datasets.Kind{datasets.KindMETAR}, result.Datasets)
	assert.Equal(t, weather.CategoryVFR, snapshot(t, f.dirctry, "ksea").Category)
}

func TestRunCycle_MalformedFeedIsRetried(t *testing.T) {
	f := newFixture(t, nil, configured("KSEA", 0, airport.Primary()))
	f.write(t, f.cfg.METARFile, "<response><data><METAR>")
	f.tracker.MarkUpdated(datasets.KindMETAR)

	result := f.svc.RunCycle(context.Background())
	assert.Equal(t, 1, result.Errors)
	assert.Empty(t, result.Datasets)
	assert.Equal(t, weather.CategoryUnknown, snapshot(t, f.dirctry, "ksea").Category)

	// the same serial is processed again once the file parses
	f.write(t, f.cfg.METARFile, metarFeed)
	result = f.svc.RunCycle(context.Background())
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, []datasets.Kind{datasets.KindMETAR}, result.Datasets)
	assert.Equal(t, weather.CategoryVFR, snapshot(t, f.dirctry, "ksea").Category)
}

func TestRunCycle_DirectQuery(t *testing.T) {
	fetcher := &fakeFetcher{fields: weather.MetarFields{
		Station:         "KXYZ",
		RawText:         "KXYZ 121850Z 27005KT 2SM BR OVC009 10/09 A3001",
		ObservationTime: time.Date(2024, 5, 12, 18, 50, 0, 0, time.UTC),
		Category:        weather.CategoryIFR,
	}}
	f := newFixture(t, fetcher, configured("KXYZ", 0, airport.DirectQuery()))

	result := f.svc.RunCycle(context.Background())
	require.Len(t, result.Changes, 1)
	assert.Equal(t, weather.CategoryIFR, result.Changes[0].Category)
	assert.Equal(t, 1, fetcher.calls)

	// fresh observation, no query
	f.svc.RunCycle(context.Background())
	assert.Equal(t, 1, fetcher.calls)

	// stale again
	f.svc.now = func() time.Time { return time.Date(2024, 5, 12, 21, 0, 0, 0, time.UTC) }
	f.svc.RunCycle(context.Background())
	assert.Equal(t, 2, fetcher.calls)
}

func TestRunCycle_DirectQueryUnknownStationDeactivates(t *testing.T) {
	fetcher := &fakeFetcher{err: weather.ErrStationNotFound}
	f := newFixture(t, fetcher, configured("KXYZ", 0, airport.DirectQuery()))

	result := f.svc.RunCycle(context.Background())
	assert.Empty(t, result.Changes)

	a, err := f.dirctry.Lookup("kxyz")
	require.NoError(t, err)
	assert.False(t, a.IsActive())

	f.svc.RunCycle(context.Background())
	assert.Equal(t, 1, fetcher.calls, "inactive airports are not queried")
}

func TestRunCycle_Datasets(t *testing.T) {
	f := newFixture(t, nil, configured("KSEA", 0, airport.Primary()))
	f.write(t, f.cfg.RunwaysFile, runwaysCSV)
	f.write(t, f.cfg.AirportsFile, airportsCSV)

	result := f.svc.RunCycle(context.Background())
	assert.ElementsMatch(t, []datasets.Kind{datasets.KindAirports, datasets.KindRunways}, result.Datasets)

	sea := snapshot(t, f.dirctry, "ksea")
	assert.Equal(t, "Seattle Tacoma International Airport", sea.Name)
	assert.Equal(t, "SEA", sea.IATA)
	assert.True(t, sea.ValidCoordinates)
	require.Len(t, sea.Runways, 1)
	assert.True(t, sea.Runways[0].LE.HeadingValid)
	assert.NotEqual(t, sea.Runways[0].LE.TrueHeading, sea.Runways[0].LE.MagneticHeading,
		"declination applied once the position is known")
}

func TestRunCycle_NeighborKeepsOwnPosition(t *testing.T) {
	f := newFixture(t, nil,
		configured("KSEA", 0, airport.Primary()),
		configured("KRNT", 1, airport.Neighbor("KSEA")),
	)
	f.write(t, f.cfg.METARFile, metarFeed)
	f.write(t, f.cfg.AirportsFile, airportsCSV+
		`3876,"KRNT","medium_airport","Renton Municipal Airport",47.4931,-122.216003,32,"NA","US","US-WA","Renton","no","KRNT","RNT","KRNT","RNT",,,
`)

	result := f.svc.RunCycle(context.Background())
	assert.Equal(t, 0, result.Errors)

	rnt := snapshot(t, f.dirctry, "krnt")
	require.NotNil(t, rnt.METAR)
	assert.Equal(t, weather.CategoryVFR, rnt.Category)
	assert.True(t, rnt.ValidCoordinates)
	assert.InDelta(t, 47.4931, rnt.Latitude, 1e-6)
	assert.InDelta(t, -122.216003, rnt.Longitude, 1e-6)
	assert.False(t, rnt.METAR.Latitude.Valid, "borrowed report carries no position")

	sea := snapshot(t, f.dirctry, "ksea")
	assert.InDelta(t, 47.4447, sea.Latitude, 1e-6, "own report still places the station")
}

func TestService_StartStop(t *testing.T) {
	f := newFixture(t, nil, configured("KSEA", 0, airport.Primary()))
	f.write(t, f.cfg.METARFile, metarFeed)

	require.NoError(t, f.svc.Start())
	require.NoError(t, f.svc.Start())

	assert.Eventually(t, func() bool {
		return snapshot(t, f.dirctry, "ksea").Category == weather.CategoryVFR
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.svc.Stop())
	require.NoError(t, f.svc.Stop())
}
