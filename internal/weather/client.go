package weather

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yegors/livemap/pkg/logger"
)

// ErrStationNotFound is returned when the station service has no report for an airport
var ErrStationNotFound = errors.New("station not found")

// stationTimeLayout is the header line of a station text report
const stationTimeLayout = "2006/01/02 15:04"

// DirectConfig configures single-station METAR queries
type DirectConfig struct {
	BaseURL        string
	MaxRetries     int
	RequestTimeout time.Duration
}

// DirectClient fetches the latest METAR of a single station from a per-station text service
type DirectClient struct {
	config     DirectConfig
	httpClient *http.Client
	logger     *logger.Logger
	now        func() time.Time
}

// NewDirectClient creates a new single-station METAR client
func NewDirectClient(config DirectConfig, log *logger.Logger) *DirectClient {
	return &DirectClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
		logger: log.Named("direct-metar"),
		now:    time.Now,
	}
}

// FetchMETAR fetches and decodes the current report of a station
func (c *DirectClient) FetchMETAR(ctx context.Context, icao string) (MetarFields, error) {
	station := strings.ToUpper(strings.TrimSpace(icao))
	url := fmt.Sprintf("%s/%s.TXT", strings.TrimRight(c.config.BaseURL, "/"), station)

	body, err := c.fetchWithRetry(ctx, url, station)
	if err != nil {
		return MetarFields{}, err
	}
	return parseStationReport(station, body, c.now())
}

// parseStationReport reads a station text report: an optional timestamp header
// followed by the report line beginning with the station id
func parseStationReport(station, body string, ref time.Time) (MetarFields, error) {
	var (
		observed time.Time
		report   string
	)
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if t, err := time.Parse(stationTimeLayout, line); err == nil {
			observed = t
			continue
		}
		if strings.HasPrefix(line, station+" ") {
			report = line
			break
		}
	}
	if report == "" {
		return MetarFields{}, fmt.Errorf("%w: no report line for %s", ErrNotMETAR, station)
	}

	if !observed.IsZero() {
		ref = observed
	}
	fields, err := DecodeRawMETAR(report, ref)
	if err != nil {
		return MetarFields{}, err
	}
	if !observed.IsZero() {
		fields.ObservationTime = observed
	}
	return fields, nil
}

// fetchWithRetry performs the HTTP request with exponential backoff between attempts.
// A 404 is final and is not retried.
func (c *DirectClient) fetchWithRetry(ctx context.Context, url, station string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoffDuration := time.Duration(500*(1<<uint(attempt-1))) * time.Millisecond
			c.logger.Info("Retrying station METAR fetch",
				logger.String("station", station),
				logger.Int("attempt", attempt),
				logger.Duration("backoff", backoffDuration))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoffDuration):
			}
		}

		body, status, err := c.get(ctx, url)
		if err != nil {
			lastErr = fmt.Errorf("error requesting station METAR: %w", err)
			c.logger.Warn("Station METAR request failed, may retry",
				logger.String("station", station),
				logger.Error(err),
				logger.Int("attempt", attempt+1),
				logger.Int("max_attempts", c.config.MaxRetries+1))
			continue
		}

		if status == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s", ErrStationNotFound, station)
		}
		if status != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status code: %d", status)
			c.logger.Warn("Station service returned non-OK status, may retry",
				logger.String("station", station),
				logger.Int("status_code", status),
				logger.Int("attempt", attempt+1),
				logger.Int("max_attempts", c.config.MaxRetries+1))
			continue
		}

		if attempt > 0 {
			c.logger.Info("Fetched station METAR after retries",
				logger.String("station", station),
				logger.Int("attempts_needed", attempt+1))
		}
		return body, nil
	}

	c.logger.Error("All attempts to fetch station METAR failed",
		logger.String("station", station),
		logger.Error(lastErr),
		logger.Int("max_attempts", c.config.MaxRetries+1))
	return "", lastErr
}

func (c *DirectClient) get(ctx context.Context, url string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(data), resp.StatusCode, nil
}
