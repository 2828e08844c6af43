package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/nicktill/demandcast/pkg/bucket"
	"github.com/nicktill/demandcast/pkg/demand"
	"github.com/nicktill/demandcast/pkg/storage"
)

// schema is the four-table layout shared with the Flask login service, so
// its databases can be read as-is.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS login_history (
		id CHAR(13) NOT NULL PRIMARY KEY,
		day_name CHAR(2) NOT NULL,
		hour TINYINT NOT NULL,
		num_logins INT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS history_outliers (
		id CHAR(13) NOT NULL PRIMARY KEY,
		reason VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS prediction_outliers (
		id CHAR(13) NOT NULL PRIMARY KEY,
		multiplier DOUBLE NOT NULL,
		reason VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS login_predictions (
		id CHAR(13) NOT NULL PRIMARY KEY,
		num_logins DOUBLE NOT NULL
	)`,
}

var tables = []string{"login_history", "history_outliers", "prediction_outliers", "login_predictions"}

// Config holds connection settings.
type Config struct {
	// DSN in go-sql-driver form, e.g. user:pass@tcp(localhost:3306)/demand
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DriverConfig parses the DSN into a go-sql-driver configuration.
func (c Config) DriverConfig() (*mysql.Config, error) {
	dc, err := mysql.ParseDSN(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	if dc.DBName == "" {
		return nil, errors.New("invalid mysql dsn: database name is required")
	}
	dc.ParseTime = true
	return dc, nil
}

// Storage implements storage.Store on MySQL.
type Storage struct {
	db *sql.DB
}

// New connects, verifies the connection and creates missing tables.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	dc, err := cfg.DriverConfig()
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(dc)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql config: %w", err)
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 10))
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 5))
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}

	s := &Storage{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// EnsureSchema creates the tables if they do not exist.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// History returns all history records in the requested order
func (s *Storage) History(ctx context.Context, order storage.Order) ([]demand.HistoryRecord, error) {
	query := `SELECT id, day_name, hour, num_logins FROM login_history ORDER BY id ASC`
	if order == storage.Descending {
		query = `SELECT id, day_name, hour, num_logins FROM login_history ORDER BY id DESC`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []demand.HistoryRecord
	for rows.Next() {
		var r demand.HistoryRecord
		if err := rows.Scan(&r.Bucket, &r.Weekday, &r.Hour, &r.Count); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// HistoryRecord looks up a single hour
func (s *Storage) HistoryRecord(ctx context.Context, id bucket.ID) (demand.HistoryRecord, error) {
	var r demand.HistoryRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, day_name, hour, num_logins FROM login_history WHERE id = ?`, id.String(),
	).Scan(&r.Bucket, &r.Weekday, &r.Hour, &r.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return demand.HistoryRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return demand.HistoryRecord{}, fmt.Errorf("failed to query history: %w", err)
	}
	return r, nil
}

// AddCounts inserts or increments hourly counts in one transaction.
func (s *Storage) AddCounts(ctx context.Context, counts map[bucket.ID]int) (storage.AddResult, error) {
	var res storage.AddResult

	// Lock rows in a fixed order so concurrent loads cannot deadlock.
	ids := make([]bucket.ID, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Before(ids[j]) })

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO login_history (id, day_name, hour, num_logins) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE num_logins = num_logins + VALUES(num_logins)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, id := range ids {
			r := demand.NewHistoryRecord(id, counts[id])
			result, err := stmt.ExecContext(ctx, id.String(), r.Weekday, r.Hour, r.Count)
			if err != nil {
				return fmt.Errorf("failed to add %s: %w", id, err)
			}
			// MySQL reports 1 affected row for an insert and 2 for an update.
			n, err := result.RowsAffected()
			if err != nil {
				return err
			}
			if n == 1 {
				res.Inserted++
			} else {
				res.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return storage.AddResult{}, err
	}
	return res, nil
}

// Reset empties every table
func (s *Storage) Reset(ctx context.Context) error {
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("failed to reset %s: %w", t, err)
		}
	}
	return nil
}

// Outliers returns outlier tags in bucket order
func (s *Storage) Outliers(ctx context.Context) ([]demand.ManualOutlier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, reason FROM history_outliers ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query outliers: %w", err)
	}
	defer rows.Close()

	var out []demand.ManualOutlier
	for rows.Next() {
		var o demand.ManualOutlier
		if err := rows.Scan(&o.Bucket, &o.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan outlier: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// PutOutlier inserts or replaces an outlier tag
func (s *Storage) PutOutlier(ctx context.Context, o demand.ManualOutlier) error {
	_, err := s.db.ExecContext(ctx,
		`REPLACE INTO history_outliers (id, reason) VALUES (?, ?)`, o.Bucket.String(), o.Reason)
	if err != nil {
		return fmt.Errorf("failed to put outlier: %w", err)
	}
	return nil
}

// Multipliers returns multipliers in bucket order
func (s *Storage) Multipliers(ctx context.Context) ([]demand.PredictedMultiplier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, multiplier, reason FROM prediction_outliers ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query multipliers: %w", err)
	}
	defer rows.Close()

	var out []demand.PredictedMultiplier
	for rows.Next() {
		var m demand.PredictedMultiplier
		if err := rows.Scan(&m.Bucket, &m.Multiplier, &m.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan multiplier: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PutMultiplier inserts or replaces a multiplier
func (s *Storage) PutMultiplier(ctx context.Context, m demand.PredictedMultiplier) error {
	_, err := s.db.ExecContext(ctx,
		`REPLACE INTO prediction_outliers (id, multiplier, reason) VALUES (?, ?, ?)`,
		m.Bucket.String(), m.Multiplier, m.Reason)
	if err != nil {
		return fmt.Errorf("failed to put multiplier: %w", err)
	}
	return nil
}

// Predictions returns forecasts in ascending bucket order
func (s *Storage) Predictions(ctx context.Context) ([]demand.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, num_logins FROM login_predictions ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var out []demand.Prediction
	for rows.Next() {
		var p demand.Prediction
		if err := rows.Scan(&p.Bucket, &p.Count); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PutPredictions inserts or replaces forecasts
func (s *Storage) PutPredictions(ctx context.Context, ps []demand.Prediction) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `REPLACE INTO login_predictions (id, num_logins) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range ps {
			if _, err := stmt.ExecContext(ctx, p.Bucket.String(), p.Count); err != nil {
				return fmt.Errorf("failed to put prediction %s: %w", p.Bucket, err)
			}
		}
		return nil
	})
}

// DeletePredictions removes forecasts for the given hours
func (s *Storage) DeletePredictions(ctx context.Context, ids []bucket.ID) (int, error) {
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM login_predictions WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, id := range ids {
			result, err := stmt.ExecContext(ctx, id.String())
			if err != nil {
				return fmt.Errorf("failed to delete prediction %s: %w", id, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return err
			}
			deleted += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(deleted), nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}

	counts := []struct {
		table string
		n     *uint64
	}{
		{"login_history", &stats.HistoryRows},
		{"history_outliers", &stats.Outliers},
		{"prediction_outliers", &stats.Multipliers},
		{"login_predictions", &stats.Predictions},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}

	if stats.HistoryRows > 0 {
		if err := s.db.QueryRowContext(ctx,
			`SELECT MIN(id), MAX(id) FROM login_history`,
		).Scan(&stats.OldestBucket, &stats.NewestBucket); err != nil {
			return nil, fmt.Errorf("failed to query history range: %w", err)
		}
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(data_length + index_length), 0)
		FROM information_schema.tables WHERE table_schema = DATABASE()`,
	).Scan(&stats.SizeBytes); err != nil {
		return nil, fmt.Errorf("failed to query table sizes: %w", err)
	}

	return stats, nil
}

// Close closes the connection pool
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

var _ storage.Store = (*Storage)(nil)
