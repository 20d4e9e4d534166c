package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store on PostgreSQL. The unique key on
// run_markers.run_interval makes marker acquisition safe across processes.
type PostgresStore struct {
	pool Pool

	// StaleAfter lets an in_progress marker older than this be reclaimed.
	StaleAfter time.Duration
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns"`
	MinConns int32 `yaml:"min_conns"`
}

// NewPostgresStore connects, pings and migrates.
func NewPostgresStore(ctx context.Context, connString string, poolCfg PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 1
	if poolCfg.MaxConns > 0 {
		pgxCfg.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		pgxCfg.MinConns = poolCfg.MinConns
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS normalized_prices (
	item_code      TEXT NOT NULL,
	market_code    TEXT NOT NULL,
	date           DATE NOT NULL,
	source         TEXT NOT NULL,
	price          NUMERIC(16,2) NOT NULL,
	canonical_unit TEXT NOT NULL,
	PRIMARY KEY (item_code, market_code, date, source)
);

CREATE TABLE IF NOT EXISTS aggregates (
	item_code   TEXT NOT NULL,
	market_code TEXT NOT NULL,
	date        DATE NOT NULL,
	avg         NUMERIC(16,2) NOT NULL,
	min         NUMERIC(16,2) NOT NULL,
	max         NUMERIC(16,2) NOT NULL,
	count       INTEGER NOT NULL,
	PRIMARY KEY (item_code, market_code, date)
);

CREATE TABLE IF NOT EXISTS trends (
	item_code      TEXT NOT NULL,
	market_code    TEXT NOT NULL,
	date           DATE NOT NULL,
	avg            NUMERIC(16,2) NOT NULL,
	moving_average NUMERIC(16,2) NOT NULL,
	ratio          NUMERIC(10,4) NOT NULL,
	deviation      NUMERIC(10,4) NOT NULL,
	label          TEXT NOT NULL,
	anomaly        BOOLEAN NOT NULL,
	history_days   INTEGER NOT NULL,
	PRIMARY KEY (item_code, market_code, date)
);

CREATE TABLE IF NOT EXISTS run_markers (
	run_interval TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_aggregates_date ON aggregates(date);
CREATE INDEX IF NOT EXISTS idx_trends_date ON trends(date);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

const pgAcquireMarker = `INSERT INTO run_markers (run_interval, run_id, status, started_at, updated_at)
	VALUES ($1, $2, $3, $4, $4)
	ON CONFLICT (run_interval) DO UPDATE SET
		run_id = EXCLUDED.run_id, status = EXCLUDED.status,
		started_at = EXCLUDED.started_at, updated_at = EXCLUDED.updated_at
	WHERE run_markers.status = 'failed'
		OR (run_markers.status = 'in_progress' AND run_markers.updated_at < $5)`

func (s *PostgresStore) AcquireRunMarker(ctx context.Context, interval, runID string) (*model.RunMarker, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, pgAcquireMarker, interval, runID, string(model.MarkerInProgress), now,
		staleCutoff(now, s.StaleAfter))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: acquire run marker")
	}
	cur, err := s.GetRunMarker(ctx, interval)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return cur, ErrMarkerHeld
	}
	return cur, nil
}

func (s *PostgresStore) GetRunMarker(ctx context.Context, interval string) (*model.RunMarker, error) {
	var (
		m      model.RunMarker
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT run_interval, run_id, status, started_at, updated_at FROM run_markers WHERE run_interval = $1`,
		interval,
	).Scan(&m.Interval, &m.RunID, &status, &m.StartedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get run marker")
	}
	m.Status = model.MarkerStatus(status)
	return &m, nil
}

func (s *PostgresStore) SetRunMarker(ctx context.Context, interval, runID string, status model.MarkerStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_markers SET status = $1, updated_at = $2 WHERE run_interval = $3 AND run_id = $4`,
		string(status), time.Now().UTC(), interval, runID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: set run marker")
	}
	if tag.RowsAffected() == 0 {
		return ErrMarkerLost
	}
	return nil
}

func (s *PostgresStore) ListRunMarkers(ctx context.Context, limit int) ([]model.RunMarker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_interval, run_id, status, started_at, updated_at FROM run_markers ORDER BY run_interval DESC LIMIT $1`,
		historyLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list run markers")
	}
	defer rows.Close()

	var out []model.RunMarker
	for rows.Next() {
		var (
			m      model.RunMarker
			status string
		)
		if err := rows.Scan(&m.Interval, &m.RunID, &status, &m.StartedAt, &m.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run marker")
		}
		m.Status = model.MarkerStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertBatch(ctx context.Context, b Batch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin batch")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, r := range b.Normalized {
		if _, err := tx.Exec(ctx, `INSERT INTO normalized_prices (item_code, market_code, date, source, price, canonical_unit)
			VALUES ($1, $2, $3, $4, $5::numeric, $6)
			ON CONFLICT (item_code, market_code, date, source) DO UPDATE SET
				price = EXCLUDED.price, canonical_unit = EXCLUDED.canonical_unit`,
			r.ItemCode, r.MarketCode, r.Date, r.Source, r.Price.String(), r.CanonicalUnit); err != nil {
			return eris.Wrapf(err, "postgres: upsert normalized %s/%s", r.ItemCode, r.MarketCode)
		}
	}
	for _, a := range b.Aggregates {
		if _, err := tx.Exec(ctx, `INSERT INTO aggregates (item_code, market_code, date, avg, min, max, count)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7)
			ON CONFLICT (item_code, market_code, date) DO UPDATE SET
				avg = EXCLUDED.avg, min = EXCLUDED.min, max = EXCLUDED.max, count = EXCLUDED.count`,
			a.ItemCode, a.MarketCode, a.Date, a.Avg.String(), a.Min.String(), a.Max.String(), a.Count); err != nil {
			return eris.Wrapf(err, "postgres: upsert aggregate %s/%s", a.ItemCode, a.MarketCode)
		}
	}
	for _, t := range b.Trends {
		if _, err := tx.Exec(ctx, `INSERT INTO trends (item_code, market_code, date, avg, moving_average, ratio, deviation, label, anomaly, history_days)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10)
			ON CONFLICT (item_code, market_code, date) DO UPDATE SET
				avg = EXCLUDED.avg, moving_average = EXCLUDED.moving_average, ratio = EXCLUDED.ratio,
				deviation = EXCLUDED.deviation, label = EXCLUDED.label, anomaly = EXCLUDED.anomaly,
				history_days = EXCLUDED.history_days`,
			t.ItemCode, t.MarketCode, t.Date, t.Avg.String(), t.MovingAverage.String(),
			t.Ratio.String(), t.Deviation.String(), string(t.Label), t.Anomaly, t.HistoryDays); err != nil {
			return eris.Wrapf(err, "postgres: upsert trend %s/%s", t.ItemCode, t.MarketCode)
		}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE run_markers SET status = $1, updated_at = $2 WHERE run_interval = $3 AND run_id = $4 AND status = $5`,
		string(model.MarkerCompleted), time.Now().UTC(), b.Marker.Interval, b.Marker.RunID, string(model.MarkerInProgress),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: complete run marker")
	}
	if tag.RowsAffected() == 0 {
		return ErrMarkerLost
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit batch")
	}
	return nil
}

func (s *PostgresStore) QueryHistory(ctx context.Context, item, market string, before time.Time, limit int) ([]model.Aggregate, error) {
	rows, err := s.pool.Query(ctx, `SELECT item_code, market_code, date, avg::text, min::text, max::text, count
		FROM aggregates WHERE item_code = $1 AND market_code = $2 AND date < $3
		ORDER BY date DESC LIMIT $4`,
		item, market, before, historyLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query history")
	}
	out, err := scanPgAggregates(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func pgFilter(f Filter) (string, []any) {
	where := " WHERE TRUE"
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where += " AND " + clause + " $" + strconv.Itoa(len(args))
	}
	if f.ItemCode != "" {
		add("item_code =", f.ItemCode)
	}
	if !f.From.IsZero() {
		add("date >=", f.From)
	}
	if !f.To.IsZero() {
		add("date <=", f.To)
	}
	return where, args
}

func (s *PostgresStore) ListAggregates(ctx context.Context, f Filter) ([]model.Aggregate, error) {
	where, args := pgFilter(f)
	rows, err := s.pool.Query(ctx,
		`SELECT item_code, market_code, date, avg::text, min::text, max::text, count FROM aggregates`+where+
			` ORDER BY item_code, market_code, date`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list aggregates")
	}
	return scanPgAggregates(rows)
}

func scanPgAggregates(rows pgx.Rows) ([]model.Aggregate, error) {
	defer rows.Close()
	var out []model.Aggregate
	for rows.Next() {
		var (
			a           model.Aggregate
			avg, lo, hi string
		)
		if err := rows.Scan(&a.ItemCode, &a.MarketCode, &a.Date, &avg, &lo, &hi, &a.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan aggregate")
		}
		var err error
		if a.Avg, err = decimal.NewFromString(avg); err != nil {
			return nil, eris.Wrap(err, "postgres: parse avg")
		}
		if a.Min, err = decimal.NewFromString(lo); err != nil {
			return nil, eris.Wrap(err, "postgres: parse min")
		}
		if a.Max, err = decimal.NewFromString(hi); err != nil {
			return nil, eris.Wrap(err, "postgres: parse max")
		}
		a.Date = a.Date.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTrends(ctx context.Context, f Filter) ([]model.TrendResult, error) {
	where, args := pgFilter(f)
	rows, err := s.pool.Query(ctx,
		`SELECT item_code, market_code, date, avg::text, moving_average::text, ratio::text, deviation::text,
			label, anomaly, history_days FROM trends`+where+` ORDER BY item_code, market_code, date`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list trends")
	}
	defer rows.Close()

	var out []model.TrendResult
	for rows.Next() {
		var (
			t                       model.TrendResult
			avg, ma, ratio, dev, lb string
		)
		if err := rows.Scan(&t.ItemCode, &t.MarketCode, &t.Date, &avg, &ma, &ratio, &dev, &lb, &t.Anomaly, &t.HistoryDays); err != nil {
			return nil, eris.Wrap(err, "postgres: scan trend")
		}
		t.Date = t.Date.UTC()
		t.Label = model.TrendLabel(lb)
		var err error
		for _, p := range []struct {
			dst *decimal.Decimal
			src string
		}{{&t.Avg, avg}, {&t.MovingAverage, ma}, {&t.Ratio, ratio}, {&t.Deviation, dev}} {
			if *p.dst, err = decimal.NewFromString(p.src); err != nil {
				return nil, eris.Wrap(err, "postgres: parse trend value")
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
