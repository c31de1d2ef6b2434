package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/yegors/livemap/internal/airport"
	"github.com/yegors/livemap/internal/weather"
	"github.com/yegors/livemap/pkg/logger"
)

// HistoryRecord is one stored observation change
type HistoryRecord struct {
	ID               int64            `json:"id"`
	ICAO             string           `json:"icao"`
	RawText          string           `json:"raw_text"`
	PreviousCategory weather.Category `json:"previous_category,omitempty"`
	Category         weather.Category `json:"flight_category"`
	ObservedAt       *time.Time       `json:"observation_time,omitempty"`
	RecordedAt       time.Time        `json:"recorded_at"`
}

// HistoryStorage records every METAR change the ingestion worker reports
type HistoryStorage struct {
	db     *sql.DB
	logger *logger.Logger
	now    func() time.Time
}

// NewHistoryStorage creates the history store on an open database
func NewHistoryStorage(db *sql.DB, log *logger.Logger) (*HistoryStorage, error) {
	s := &HistoryStorage{
		db:     db,
		logger: log.Named("sqlite-history"),
		now:    time.Now,
	}
	if err := s.initDB(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *HistoryStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS metar_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			icao TEXT NOT NULL,
			raw_text TEXT NOT NULL,
			previous_category TEXT,
			category TEXT NOT NULL,
			observed_at TEXT,
			recorded_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create metar_history table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_history_icao ON metar_history(icao, id)`)
	if err != nil {
		return fmt.Errorf("failed to create icao index: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_history_recorded_at ON metar_history(recorded_at)`)
	if err != nil {
		return fmt.Errorf("failed to create recorded_at index: %w", err)
	}
	return nil
}

// HandleChanges stores the changes that carry a new report. Category-only changes
// such as OFF are not observations and are skipped.
func (s *HistoryStorage) HandleChanges(ctx context.Context, changes []airport.Change) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO metar_history
		(icao, raw_text, previous_category, category, observed_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	recordedAt := s.now().UTC().Format(time.RFC3339Nano)
	stored := 0
	for _, c := range changes {
		if !c.RawChanged || c.RawText == "" {
			continue
		}

		var observed any
		if !c.ObservedAt.IsZero() {
			observed = c.ObservedAt.UTC().Format(time.RFC3339)
		}
		if _, err := stmt.ExecContext(ctx,
			c.ICAO,
			c.RawText,
			string(c.PreviousCategory),
			string(c.Category),
			observed,
			recordedAt,
		); err != nil {
			return fmt.Errorf("failed to insert history for %s: %w", c.ICAO, err)
		}
		stored++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}

	if stored > 0 {
		s.logger.Debug("Stored METAR history", logger.Int("records", stored))
	}
	return nil
}

// History returns the most recent records of one airport, newest first
func (s *HistoryStorage) History(ctx context.Context, icao string, limit int) ([]HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, icao, raw_text, previous_category, category, observed_at, recorded_at
		FROM metar_history
		WHERE icao = ?
		ORDER BY id DESC
		LIMIT ?`,
		airport.NormalizeICAO(icao), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()
	return scanHistory(rows)
}

// Recent returns the latest records across all airports, newest first
func (s *HistoryStorage) Recent(ctx context.Context, limit int) ([]HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, icao, raw_text, previous_category, category, observed_at, recorded_at
		FROM metar_history
		ORDER BY id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent history: %w", err)
	}
	defer rows.Close()
	return scanHistory(rows)
}

// Prune deletes records stored before the cutoff and returns how many were removed
func (s *HistoryStorage) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM metar_history WHERE recorded_at < ?`,
		before.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned rows: %w", err)
	}
	if n > 0 {
		s.logger.Info("Pruned METAR history", logger.Int64("records", n))
	}
	return n, nil
}

func scanHistory(rows *sql.Rows) ([]HistoryRecord, error) {
	var records []HistoryRecord
	for rows.Next() {
		var (
			r                    HistoryRecord
			previous, observedAt sql.NullString
			recordedAt           string
			category             string
		)
		if err := rows.Scan(&r.ID, &r.ICAO, &r.RawText, &previous, &category, &observedAt, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}

		r.Category = weather.Category(category)
		if previous.Valid {
			r.PreviousCategory = weather.Category(previous.String)
		}
		if observedAt.Valid && observedAt.String != "" {
			t, err := time.Parse(time.RFC3339, observedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse observed_at: %w", err)
			}
			r.ObservedAt = &t
		}

		var err error
		r.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
