// Package postgres implements store.Backend on PostgreSQL using
// pgx/v5's pgxpool, grounded on the teacher's
// internal/database/postgres.PostgresPool: DSN-based pgxpool.ParseConfig,
// connect-time ping, and structured connect logging. Migrations run
// through database/sql via pgx's stdlib adapter, since goose only
// understands *sql.DB.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mounaiban/muteacle/internal/muteacle/hasher"
	"github.com/mounaiban/muteacle/internal/muteacle/migrations"
	"github.com/mounaiban/muteacle/internal/muteacle/muterrors"
	"github.com/mounaiban/muteacle/internal/muteacle/store"
)

// Config holds pgxpool connection parameters.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = time.Hour
	}
	if c.MaxConnIdleTime == 0 {
		c.MaxConnIdleTime = 10 * time.Minute
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

// Backend is a store.Backend backed by a PostgreSQL pgxpool.Pool.
type Backend struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to PostgreSQL, applies pending migrations, and returns a
// ready Backend.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	logger.Info("muteacle: connecting to postgres", "max_conns", cfg.MaxConns, "min_conns", cfg.MinConns)

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if err := migrate(cfg.DSN); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	logger.Info("muteacle: postgres store opened")
	return &Backend{pool: pool, logger: logger}, nil
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()
	return migrations.UpPostgres(db)
}

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

func (b *Backend) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	pgxTx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	t := &tx{ctx: ctx, q: pgxTx}
	if err := fn(t); err != nil {
		_ = pgxTx.Rollback(ctx)
		return err
	}
	if err := pgxTx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (b *Backend) View(ctx context.Context, fn func(store.Tx) error) error {
	pgxTx, err := b.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("postgres: begin read-only tx: %w", err)
	}
	defer pgxTx.Rollback(ctx)
	return fn(&tx{ctx: ctx, q: pgxTx})
}

// tx adapts a pgx.Tx to store.Tx.
type tx struct {
	ctx context.Context
	q   pgx.Tx
}

func (t *tx) InsertConfig(ctx context.Context, row store.ConfigRow) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO configs (activation_instant, config_json, config_hash) VALUES ($1, $2, $3)`,
		row.ActivationInstant, string(row.ConfigJSON), row.ConfigHash)
	if err != nil {
		return fmt.Errorf("postgres: insert config: %w", err)
	}
	return nil
}

func (t *tx) DeleteConfigsAfter(ctx context.Context, now time.Time) error {
	_, err := t.q.Exec(ctx, `DELETE FROM configs WHERE activation_instant > $1`, now)
	if err != nil {
		return fmt.Errorf("postgres: delete pending configs: %w", err)
	}
	return nil
}

func (t *tx) ConfigsAt(ctx context.Context, at time.Time) ([]store.ConfigRow, error) {
	var greatest sql.NullTime
	err := t.q.QueryRow(ctx,
		`SELECT MAX(activation_instant) FROM configs WHERE activation_instant <= $1`, at).Scan(&greatest)
	if err != nil {
		return nil, fmt.Errorf("postgres: max activation instant: %w", err)
	}
	if !greatest.Valid {
		return nil, nil
	}
	rows, err := t.q.Query(ctx,
		`SELECT activation_instant, config_json, config_hash FROM configs WHERE activation_instant = $1 ORDER BY id DESC`,
		greatest.Time)
	if err != nil {
		return nil, fmt.Errorf("postgres: configs at: %w", err)
	}
	defer rows.Close()
	return scanConfigRows(rows)
}

func (t *tx) PendingConfigsAfter(ctx context.Context, now time.Time) ([]store.ConfigRow, error) {
	rows, err := t.q.Query(ctx,
		`SELECT activation_instant, config_json, config_hash FROM configs WHERE activation_instant > $1 ORDER BY activation_instant ASC`,
		now)
	if err != nil {
		return nil, fmt.Errorf("postgres: pending configs: %w", err)
	}
	defer rows.Close()
	return scanConfigRows(rows)
}

func scanConfigRows(rows pgx.Rows) ([]store.ConfigRow, error) {
	var out []store.ConfigRow
	for rows.Next() {
		var activationInstant time.Time
		var configJSON, configHash string
		if err := rows.Scan(&activationInstant, &configJSON, &configHash); err != nil {
			return nil, fmt.Errorf("postgres: scan config row: %w", err)
		}
		out = append(out, store.ConfigRow{
			ActivationInstant: activationInstant,
			ConfigJSON:        []byte(configJSON),
			ConfigHash:        configHash,
		})
	}
	return out, rows.Err()
}

func (t *tx) InsertHasher(ctx context.Context, row store.HasherRow) error {
	if !hasher.Supported(hasher.Class(row.ClassName)) {
		return fmt.Errorf("postgres: %w: %s", muterrors.ErrUnsupportedHasherClass, row.ClassName)
	}

	var typeID int64
	err := t.q.QueryRow(ctx, `SELECT id FROM hasher_types WHERE name = $1`, row.ClassName).Scan(&typeID)
	if err != nil {
		err = t.q.QueryRow(ctx,
			`INSERT INTO hasher_types (name) VALUES ($1) ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id`,
			row.ClassName).Scan(&typeID)
		if err != nil {
			return fmt.Errorf("postgres: upsert hasher type %q: %w", row.ClassName, err)
		}
	}

	_, err = t.q.Exec(ctx,
		`INSERT INTO hashers (interval_start, hasher_type_id, parameters_json, parameters_hash, salt_b64) VALUES ($1, $2, $3, $4, $5)`,
		row.IntervalStart, typeID, string(row.ParametersJSON), row.ParametersHash, row.SaltB64)
	if err != nil {
		return fmt.Errorf("postgres: insert hasher: %w", err)
	}
	return nil
}

func (t *tx) HashersAt(ctx context.Context, intervalStart time.Time) ([]store.HasherRow, error) {
	rows, err := t.q.Query(ctx,
		`SELECT h.interval_start, ht.name, h.parameters_json, h.parameters_hash, h.salt_b64
		 FROM hashers h JOIN hasher_types ht ON ht.id = h.hasher_type_id
		 WHERE h.interval_start = $1 ORDER BY h.id DESC`,
		intervalStart)
	if err != nil {
		return nil, fmt.Errorf("postgres: hashers at: %w", err)
	}
	defer rows.Close()

	var out []store.HasherRow
	for rows.Next() {
		var row store.HasherRow
		var paramsJSON string
		if err := rows.Scan(&row.IntervalStart, &row.ClassName, &paramsJSON, &row.ParametersHash, &row.SaltB64); err != nil {
			return nil, fmt.Errorf("postgres: scan hasher row: %w", err)
		}
		row.ParametersJSON = []byte(paramsJSON)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (t *tx) InsertLog(ctx context.Context, digestB64 string) error {
	_, err := t.q.Exec(ctx, `INSERT INTO log (digest_b64) VALUES ($1) ON CONFLICT (digest_b64) DO NOTHING`, digestB64)
	if err != nil {
		return fmt.Errorf("postgres: insert log: %w", err)
	}
	return nil
}

func (t *tx) LogContains(ctx context.Context, digestB64 string) (bool, error) {
	var one int
	err := t.q.QueryRow(ctx, `SELECT 1 FROM log WHERE digest_b64 = $1`, digestB64).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: log contains: %w", err)
	}
	return true, nil
}
