package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// SQLiteStore persists pipeline output to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex

	// StaleAfter lets an in_progress marker older than this be reclaimed.
	StaleAfter time.Duration
}

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}

	// WAL lets the read API query while a run commits.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: migrate")
	}

	zap.L().Info("sqlite store opened", zap.String("path", dbPath))
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS normalized_prices (
			item_code      TEXT NOT NULL,
			market_code    TEXT NOT NULL,
			date           TEXT NOT NULL,
			source         TEXT NOT NULL,
			price          TEXT NOT NULL,
			canonical_unit TEXT NOT NULL,
			PRIMARY KEY (item_code, market_code, date, source)
		)`,

		`CREATE TABLE IF NOT EXISTS aggregates (
			item_code   TEXT NOT NULL,
			market_code TEXT NOT NULL,
			date        TEXT NOT NULL,
			avg         TEXT NOT NULL,
			min         TEXT NOT NULL,
			max         TEXT NOT NULL,
			count       INTEGER NOT NULL,
			PRIMARY KEY (item_code, market_code, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_aggregates_date ON aggregates(date)`,

		`CREATE TABLE IF NOT EXISTS trends (
			item_code      TEXT NOT NULL,
			market_code    TEXT NOT NULL,
			date           TEXT NOT NULL,
			avg            TEXT NOT NULL,
			moving_average TEXT NOT NULL,
			ratio          TEXT NOT NULL,
			deviation      TEXT NOT NULL,
			label          TEXT NOT NULL,
			anomaly        INTEGER NOT NULL,
			history_days   INTEGER NOT NULL,
			PRIMARY KEY (item_code, market_code, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trends_date ON trends(date)`,

		`CREATE TABLE IF NOT EXISTS run_markers (
			run_interval TEXT PRIMARY KEY,
			run_id       TEXT NOT NULL,
			status       TEXT NOT NULL,
			started_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		)`,
	}

	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return eris.Wrapf(err, "exec %q", st[:40])
		}
	}
	return nil
}

const sqliteAcquireMarker = `INSERT INTO run_markers (run_interval, run_id, status, started_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (run_interval) DO UPDATE SET
		run_id = excluded.run_id, status = excluded.status,
		started_at = excluded.started_at, updated_at = excluded.updated_at
	WHERE run_markers.status = 'failed'
		OR (run_markers.status = 'in_progress' AND run_markers.updated_at < ?)`

func (s *SQLiteStore) AcquireRunMarker(ctx context.Context, interval, runID string) (*model.RunMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, sqliteAcquireMarker, interval, runID, string(model.MarkerInProgress), now.Unix(), now.Unix(),
		staleCutoff(now, s.StaleAfter).Unix())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: acquire run marker")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: acquire run marker rows")
	}
	cur, err := s.getMarker(ctx, s.db, interval)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return cur, ErrMarkerHeld
	}
	return cur, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) getMarker(ctx context.Context, q queryRower, interval string) (*model.RunMarker, error) {
	var (
		m                  model.RunMarker
		status             string
		started, updatedAt int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT run_interval, run_id, status, started_at, updated_at FROM run_markers WHERE run_interval = ?`,
		interval,
	).Scan(&m.Interval, &m.RunID, &status, &started, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get run marker")
	}
	m.Status = model.MarkerStatus(status)
	m.StartedAt = time.Unix(started, 0).UTC()
	m.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &m, nil
}

func (s *SQLiteStore) GetRunMarker(ctx context.Context, interval string) (*model.RunMarker, error) {
	return s.getMarker(ctx, s.db, interval)
}

func (s *SQLiteStore) SetRunMarker(ctx context.Context, interval, runID string, status model.MarkerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_markers SET status = ?, updated_at = ? WHERE run_interval = ? AND run_id = ?`,
		string(status), time.Now().UTC().Unix(), interval, runID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: set run marker")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMarkerLost
	}
	return nil
}

func (s *SQLiteStore) ListRunMarkers(ctx context.Context, limit int) ([]model.RunMarker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_interval, run_id, status, started_at, updated_at FROM run_markers ORDER BY run_interval DESC LIMIT ?`,
		historyLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list run markers")
	}
	defer rows.Close()

	var out []model.RunMarker
	for rows.Next() {
		var (
			m                  model.RunMarker
			status             string
			started, updatedAt int64
		)
		if err := rows.Scan(&m.Interval, &m.RunID, &status, &started, &updatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run marker")
		}
		m.Status = model.MarkerStatus(status)
		m.StartedAt = time.Unix(started, 0).UTC()
		m.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertBatch(ctx context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin batch")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range b.Normalized {
		if _, err := tx.ExecContext(ctx, `INSERT INTO normalized_prices
			(item_code, market_code, date, source, price, canonical_unit)
			VALUES (?,?,?,?,?,?)
			ON CONFLICT (item_code, market_code, date, source) DO UPDATE SET
				price = excluded.price, canonical_unit = excluded.canonical_unit`,
			r.ItemCode, r.MarketCode, dateKey(r.Date), r.Source, r.Price.String(), r.CanonicalUnit,
		); err != nil {
			return eris.Wrap(err, "sqlite: upsert normalized price")
		}
	}

	for _, a := range b.Aggregates {
		if _, err := tx.ExecContext(ctx, `INSERT INTO aggregates
			(item_code, market_code, date, avg, min, max, count)
			VALUES (?,?,?,?,?,?,?)
			ON CONFLICT (item_code, market_code, date) DO UPDATE SET
				avg = excluded.avg, min = excluded.min, max = excluded.max, count = excluded.count`,
			a.ItemCode, a.MarketCode, dateKey(a.Date), a.Avg.String(), a.Min.String(), a.Max.String(), a.Count,
		); err != nil {
			return eris.Wrap(err, "sqlite: upsert aggregate")
		}
	}

	for _, t := range b.Trends {
		if _, err := tx.ExecContext(ctx, `INSERT INTO trends
			(item_code, market_code, date, avg, moving_average, ratio, deviation, label, anomaly, history_days)
			VALUES (?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (item_code, market_code, date) DO UPDATE SET
				avg = excluded.avg, moving_average = excluded.moving_average, ratio = excluded.ratio,
				deviation = excluded.deviation, label = excluded.label, anomaly = excluded.anomaly,
				history_days = excluded.history_days`,
			t.ItemCode, t.MarketCode, dateKey(t.Date), t.Avg.String(), t.MovingAverage.String(),
			t.Ratio.String(), t.Deviation.String(), string(t.Label), t.Anomaly, t.HistoryDays,
		); err != nil {
			return eris.Wrap(err, "sqlite: upsert trend")
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE run_markers SET status = ?, updated_at = ? WHERE run_interval = ? AND run_id = ? AND status = ?`,
		string(model.MarkerCompleted), time.Now().UTC().Unix(), b.Marker.Interval, b.Marker.RunID, string(model.MarkerInProgress),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: complete run marker")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMarkerLost
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit batch")
	}
	return nil
}

func (s *SQLiteStore) QueryHistory(ctx context.Context, item, market string, before time.Time, limit int) ([]model.Aggregate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_code, market_code, date, avg, min, max, count FROM aggregates
		WHERE item_code = ? AND market_code = ? AND date < ?
		ORDER BY date DESC LIMIT ?`,
		item, market, dateKey(before), historyLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query history")
	}
	out, err := scanSQLiteAggregates(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func sqliteFilter(f Filter) (string, []any) {
	where := " WHERE 1=1"
	var args []any
	if f.ItemCode != "" {
		where += " AND item_code = ?"
		args = append(args, f.ItemCode)
	}
	if !f.From.IsZero() {
		where += " AND date >= ?"
		args = append(args, dateKey(f.From))
	}
	if !f.To.IsZero() {
		where += " AND date <= ?"
		args = append(args, dateKey(f.To))
	}
	return where, args
}

func (s *SQLiteStore) ListAggregates(ctx context.Context, f Filter) ([]model.Aggregate, error) {
	where, args := sqliteFilter(f)
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_code, market_code, date, avg, min, max, count FROM aggregates`+where+
			` ORDER BY item_code, market_code, date`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list aggregates")
	}
	return scanSQLiteAggregates(rows)
}

func scanSQLiteAggregates(rows *sql.Rows) ([]model.Aggregate, error) {
	defer rows.Close()
	var out []model.Aggregate
	for rows.Next() {
		var (
			a                 model.Aggregate
			date, avg, lo, hi string
		)
		if err := rows.Scan(&a.ItemCode, &a.MarketCode, &date, &avg, &lo, &hi, &a.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan aggregate")
		}
		var err error
		if a.Date, err = parseDateKey(date); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse aggregate date")
		}
		if a.Avg, err = decimal.NewFromString(avg); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse avg")
		}
		if a.Min, err = decimal.NewFromString(lo); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse min")
		}
		if a.Max, err = decimal.NewFromString(hi); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse max")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListTrends(ctx context.Context, f Filter) ([]model.TrendResult, error) {
	where, args := sqliteFilter(f)
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_code, market_code, date, avg, moving_average, ratio, deviation, label, anomaly, history_days
		FROM trends`+where+` ORDER BY item_code, market_code, date`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list trends")
	}
	defer rows.Close()

	var out []model.TrendResult
	for rows.Next() {
		var (
			t                             model.TrendResult
			date, avg, ma, ratio, dev, lb string
		)
		if err := rows.Scan(&t.ItemCode, &t.MarketCode, &date, &avg, &ma, &ratio, &dev, &lb, &t.Anomaly, &t.HistoryDays); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trend")
		}
		var err error
		if t.Date, err = parseDateKey(date); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse trend date")
		}
		t.Label = model.TrendLabel(lb)
		for _, p := range []struct {
			dst *decimal.Decimal
			src string
		}{{&t.Avg, avg}, {&t.MovingAverage, ma}, {&t.Ratio, ratio}, {&t.Deviation, dev}} {
			if *p.dst, err = decimal.NewFromString(p.src); err != nil {
				return nil, eris.Wrap(err, "sqlite: parse trend value")
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	zap.L().Info("closing sqlite store")
	return s.db.Close()
}
