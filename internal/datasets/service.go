package datasets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yegors/livemap/pkg/logger"
)

// Service keeps the local dataset copies current and bumps the tracker on every change
type Service struct {
	sources    []Source
	interval   time.Duration
	downloader *Downloader
	tracker    *Tracker
	logger     *logger.Logger

	etagsMu sync.Mutex
	etags   map[Kind]string

	// Service lifecycle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewService creates the dataset fetch loop
func NewService(sources []Source, interval time.Duration, downloader *Downloader, tracker *Tracker, log *logger.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		sources:    sources,
		interval:   interval,
		downloader: downloader,
		tracker:    tracker,
		logger:     log.Named("dataset-service"),
		etags:      make(map[Kind]string),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Tracker returns the freshness tracker fed by this service
func (s *Service) Tracker() *Tracker { return s.tracker }

// Start begins the background fetch loop
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info("Starting dataset service",
		logger.Int("datasets", len(s.sources)),
		logger.Duration("interval", s.interval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()

	s.started = true
	return nil
}

// Stop cancels the loop and waits for an in-flight cycle to finish
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info("Stopping dataset service")
	s.cancel()
	s.wg.Wait()
	s.started = false
	s.logger.Info("Dataset service stopped")
	return nil
}

func (s *Service) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(s.ctx)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(s.ctx)
		}
	}
}

// RunOnce checks every dataset once. Failures are logged per dataset and never stop
// the remaining ones.
func (s *Service) RunOnce(ctx context.Context) {
	for _, src := range s.sources {
		if ctx.Err() != nil {
			return
		}
		if err := s.refresh(ctx, src); err != nil {
			s.logger.Warn("Dataset refresh failed",
				logger.String("dataset", string(src.Kind)),
				logger.String("url", src.URL),
				logger.Error(err))
		}
	}
	s.logger.Debug("Dataset refresh complete", logger.String("status", s.tracker.String()))
}

func (s *Service) refresh(ctx context.Context, src Source) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during refresh: %v", r)
		}
	}()

	s.etagsMu.Lock()
	etag := s.etags[src.Kind]
	s.etagsMu.Unlock()

	res, err := s.downloader.FetchIfNewer(ctx, src, etag)

	s.etagsMu.Lock()
	s.etags[src.Kind] = res.ETag
	s.etagsMu.Unlock()

	if err != nil {
		return err
	}
	if res.Updated {
		serial := s.tracker.MarkUpdated(src.Kind)
		s.logger.Info("Dataset changed",
			logger.String("dataset", string(src.Kind)),
			logger.Int64("serial", int64(serial)))
	}
	return nil
}
