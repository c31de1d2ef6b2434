package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yegors/livemap/internal/airport"
	"github.com/yegors/livemap/internal/datasets"
	"github.com/yegors/livemap/internal/weather"
	"github.com/yegors/livemap/pkg/logger"
)

// Sink receives the airport changes produced by a cycle
type Sink interface {
	HandleChanges(ctx context.Context, changes []airport.Change) error
}

// METARFetcher fetches a single station's current observation
type METARFetcher interface {
	FetchMETAR(ctx context.Context, icao string) (weather.MetarFields, error)
}

// Config holds the worker settings and the local dataset files it parses
type Config struct {
	PollInterval time.Duration
	METARExpiry  time.Duration
	METARFile    string
	TAFFile      string
	RunwaysFile  string
	AirportsFile string
}

// CycleResult summarizes one ingestion cycle
type CycleResult struct {
	ID       string
	Datasets []datasets.Kind
	Changes  []airport.Change
	Errors   int
}

// Service is the single writer of the airport directory. Each cycle it compares dataset
// serials with the ones it last processed, parses what changed, merges it and resolves
// the non-feed weather sources.
type Service struct {
	cfg       Config
	directory *airport.Directory
	tracker   *datasets.Tracker
	parser    *weather.Parser
	direct    METARFetcher
	sinks     []Sink
	logger    *logger.Logger
	now       func() time.Time

	// worker-owned state, only touched from RunCycle
	lastSeen  map[datasets.Kind]uint64
	lastMETAR map[string]weather.MetarFields
	runways   map[string][]airport.Runway

	// Service lifecycle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
	cycleMu sync.Mutex
}

// NewService creates the ingestion worker
func NewService(cfg Config, directory *airport.Directory, tracker *datasets.Tracker, parser *weather.Parser, direct METARFetcher, log *logger.Logger, sinks ...Sink) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:       cfg,
		directory: directory,
		tracker:   tracker,
		parser:    parser,
		direct:    direct,
		sinks:     sinks,
		logger:    log.Named("ingest"),
		now:       time.Now,
		lastSeen:  make(map[datasets.Kind]uint64),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the poll loop
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info("Starting ingestion worker",
		logger.Duration("poll_interval", s.cfg.PollInterval),
		logger.Int("sinks", len(s.sinks)))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()

	s.started = true
	return nil
}

// Stop cancels the loop and waits for the running cycle to finish
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info("Stopping ingestion worker")
	s.cancel()
	s.wg.Wait()
	s.started = false
	s.logger.Info("Ingestion worker stopped")
	return nil
}

func (s *Service) loop() {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.RunCycle(s.ctx)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.RunCycle(s.ctx)
		}
	}
}

// RunCycle performs one ingestion pass. A panic anywhere in the cycle is logged and
// the cycle abandoned; the directory keeps whatever was merged before it.
func (s *Service) RunCycle(ctx context.Context) (result CycleResult) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	result.ID = uuid.NewString()
	log := s.logger.With(logger.String("cycle", result.ID))

	defer func() {
		if r := recover(); r != nil {
			result.Errors++
			log.Error("Ingestion cycle aborted", logger.Error(fmt.Errorf("panic: %v", r)))
		}
	}()

	if err := s.ingestAirports(log, &result); err != nil {
		result.Errors++
		log.Error("Airport dataset not applied", logger.Error(err))
	}
	if err := s.ingestRunways(log, &result); err != nil {
		result.Errors++
		log.Error("Runway dataset not applied", logger.Error(err))
	}
	if err := s.ingestMETAR(log, &result); err != nil {
		result.Errors++
		log.Error("METAR feed not applied", logger.Error(err))
	}
	if err := s.ingestTAF(log, &result); err != nil {
		result.Errors++
		log.Error("TAF feed not applied", logger.Error(err))
	}

	result.Changes = append(result.Changes, s.resolveSources(ctx, log)...)

	if len(result.Changes) > 0 {
		s.publish(ctx, log, result.Changes)
	}

	log.Debug("Ingestion cycle complete",
		logger.Int("datasets", len(result.Datasets)),
		logger.Int("changes", len(result.Changes)),
		logger.Int("errors", result.Errors))
	return result
}

// due reports whether a dataset must be processed. Before the first successful pass a
// dataset already on disk from a previous run counts as new.
func (s *Service) due(kind datasets.Kind, path string) (uint64, bool) {
	serial := s.tracker.Serial(kind)
	last, seen := s.lastSeen[kind]
	if !seen {
		if path == "" {
			return serial, false
		}
		if _, err := os.Stat(path); err != nil {
			return serial, false
		}
		return serial, true
	}
	return serial, serial != last
}

func (s *Service) ingestMETAR(log *logger.Logger, result *CycleResult) error {
	serial, ok := s.due(datasets.KindMETAR, s.cfg.METARFile)
	if !ok {
		return nil
	}

	parsed, err := s.parser.ParseMETARFile(s.cfg.METARFile)
	if err != nil {
		return err
	}

	merged := s.directory.MergeMETAR(parsed)
	s.lastMETAR = parsed
	s.lastSeen[datasets.KindMETAR] = serial
	result.Datasets = append(result.Datasets, datasets.KindMETAR)
	result.Changes = append(result.Changes, merged.Changes...)
	result.Errors += merged.Failed

	log.Info("Merged METAR feed",
		logger.Int64("serial", int64(serial)),
		logger.Int("stations", len(parsed)),
		logger.Int("updated", merged.Updated),
		logger.Int("created", merged.Created),
		logger.Int("changes", len(merged.Changes)))
	return nil
}

func (s *Service) ingestTAF(log *logger.Logger, result *CycleResult) error {
	serial, ok := s.due(datasets.KindTAF, s.cfg.TAFFile)
	if !ok {
		return nil
	}

	parsed, err := s.parser.ParseTAFFile(s.cfg.TAFFile)
	if err != nil {
		return err
	}

	merged := s.directory.MergeTAF(parsed)
	s.lastSeen[datasets.KindTAF] = serial
	result.Datasets = append(result.Datasets, datasets.KindTAF)
	result.Errors += merged.Failed

	log.Info("Merged TAF feed",
		logger.Int64("serial", int64(serial)),
		logger.Int("stations", len(parsed)),
		logger.Int("updated", merged.Updated))
	return nil
}

func (s *Service) ingestAirports(log *logger.Logger, result *CycleResult) error {
	serial, ok := s.due(datasets.KindAirports, s.cfg.AirportsFile)
	if !ok {
		return nil
	}

	f, err := os.Open(s.cfg.AirportsFile)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := airport.ParseAirportInfo(f)
	if err != nil {
		return err
	}
	applied := s.directory.ApplyAirportInfo(info)
	s.lastSeen[datasets.KindAirports] = serial
	result.Datasets = append(result.Datasets, datasets.KindAirports)

	// positions may have changed, so magnetic headings are recomputed
	if s.runways != nil {
		s.directory.AttachRunways(s.runways, s.now())
	}

	log.Info("Applied airport dataset",
		logger.Int64("serial", int64(serial)),
		logger.Int("rows", len(info)),
		logger.Int("applied", applied))
	return nil
}

func (s *Service) ingestRunways(log *logger.Logger, result *CycleResult) error {
	serial, ok := s.due(datasets.KindRunways, s.cfg.RunwaysFile)
	if !ok {
		return nil
	}

	f, err := os.Open(s.cfg.RunwaysFile)
	if err != nil {
		return err
	}
	defer f.Close()

	runways, err := airport.ParseRunways(f)
	if err != nil {
		return err
	}
	s.runways = runways
	attached := s.directory.AttachRunways(runways, s.now())
	s.lastSeen[datasets.KindRunways] = serial
	result.Datasets = append(result.Datasets, datasets.KindRunways)

	log.Info("Attached runway dataset",
		logger.Int64("serial", int64(serial)),
		logger.Int("airports", len(runways)),
		logger.Int("attached", attached))
	return nil
}

// resolveSources updates every active airport whose weather does not come straight
// from the bulk feed
func (s *Service) resolveSources(ctx context.Context, log *logger.Logger) []airport.Change {
	var changes []airport.Change

	for _, a := range s.directory.All() {
		if !a.IsActive() || a.IsPlaceholder() {
			continue
		}

		var (
			change airport.Change
			ok     bool
		)
		src := a.WeatherSource()
		switch src.Kind() {
		case airport.SourcePrimary:
			continue
		case airport.SourceNeighbor:
			change, ok = s.applyNeighbor(log, a, src.NeighborICAO())
		case airport.SourceDirect:
			change, ok = s.applyDirect(ctx, log, a)
		case airport.SourceDisabled:
			change, ok = s.directory.ForceCategory(a, weather.CategoryOff)
		default:
			panic(fmt.Sprintf("unhandled weather source kind %d", src.Kind()))
		}
		if ok {
			changes = append(changes, change)
		}
	}
	return changes
}

func (s *Service) applyNeighbor(log *logger.Logger, a *airport.Airport, neighbor string) (airport.Change, bool) {
	if fields, ok := s.lastMETAR[neighbor]; ok {
		return s.directory.ApplyMETAR(a, fields)
	}

	other, err := s.directory.Lookup(neighbor)
	if err != nil {
		log.Debug("Neighbor station unknown",
			logger.String("icao", a.ICAO()),
			logger.String("neighbor", neighbor))
		return airport.Change{}, false
	}
	st := other.Snapshot()
	if st.METAR == nil {
		return airport.Change{}, false
	}
	return s.directory.ApplyMETAR(a, *st.METAR)
}

func (s *Service) applyDirect(ctx context.Context, log *logger.Logger, a *airport.Airport) (airport.Change, bool) {
	if s.direct == nil || !a.IsStale(s.now(), s.cfg.METARExpiry) {
		return airport.Change{}, false
	}

	fields, err := s.direct.FetchMETAR(ctx, a.ICAO())
	if errors.Is(err, weather.ErrStationNotFound) {
		a.Deactivate()
		log.Warn("Station not served by direct query, deactivating",
			logger.String("icao", a.ICAO()))
		return airport.Change{}, false
	}
	if err != nil {
		log.Warn("Direct METAR query failed",
			logger.String("icao", a.ICAO()),
			logger.Error(err))
		return airport.Change{}, false
	}
	return s.directory.ApplyMETAR(a, fields)
}

func (s *Service) publish(ctx context.Context, log *logger.Logger, changes []airport.Change) {
	for _, sink := range s.sinks {
		if err := sink.HandleChanges(ctx, changes); err != nil {
			log.Warn("Change sink failed",
				logger.String("sink", fmt.Sprintf("%T", sink)),
				logger.Error(err))
		}
	}
}
