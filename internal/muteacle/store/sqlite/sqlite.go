// Package sqlite implements store.Backend on top of a local SQLite file,
// grounded on the teacher's internal/storage/sqlite package: WAL mode,
// 0600 file permissions, path traversal checks, and a bounded connection
// pool, using the pure Go modernc.org/sqlite driver so the module stays
// CGO-free. Schema is applied via the migrations package rather than an
// inline initSchema, since Muteacle's schema is shared with postgres.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mounaiban/muteacle/internal/muteacle/hasher"
	"github.com/mounaiban/muteacle/internal/muteacle/migrations"
	"github.com/mounaiban/muteacle/internal/muteacle/muterrors"
	"github.com/mounaiban/muteacle/internal/muteacle/store"
)

// Backend is a store.Backend backed by a single SQLite database file.
type Backend struct {
	db     *sql.DB
	logger *slog.Logger
	path   string
}

// Open creates (if necessary) and opens the SQLite database at path,
// applies pending migrations, and returns a ready Backend.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, fmt.Errorf("sqlite: path cannot be empty")
	}
	if strings.Contains(path, "..") {
		return nil, fmt.Errorf("sqlite: invalid path contains '..': %s", path)
	}
	for _, prefix := range []string{"/etc", "/sys", "/proc", "/dev"} {
		if strings.HasPrefix(path, prefix) {
			return nil, fmt.Errorf("sqlite: forbidden path prefix %s: %s", prefix, path)
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	if err := migrations.UpSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	if err := os.Chmod(path, 0600); err != nil {
		logger.Warn("muteacle: failed to set sqlite file permissions to 0600", "path", path, "error", err)
	}

	logger.Info("muteacle: sqlite store opened", "path", path, "wal_mode", true)
	return &Backend{db: db, logger: logger, path: path}, nil
}

func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	sqlTx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	t := &tx{ctx: ctx, tx: sqlTx}
	if err := fn(t); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (b *Backend) View(ctx context.Context, fn func(store.Tx) error) error {
	sqlTx, err := b.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("sqlite: begin read-only tx: %w", err)
	}
	defer sqlTx.Rollback()
	return fn(&tx{ctx: ctx, tx: sqlTx})
}

type tx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *tx) InsertConfig(ctx context.Context, row store.ConfigRow) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO configs (activation_instant, config_json, config_hash) VALUES (?, ?, ?)`,
		timeToUnix(row.ActivationInstant), string(row.ConfigJSON), row.ConfigHash)
	if err != nil {
		return fmt.Errorf("sqlite: insert config: %w", err)
	}
	return nil
}

func (t *tx) DeleteConfigsAfter(ctx context.Context, now time.Time) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM configs WHERE activation_instant > ?`, timeToUnix(now))
	if err != nil {
		return fmt.Errorf("sqlite: delete pending configs: %w", err)
	}
	return nil
}

func (t *tx) ConfigsAt(ctx context.Context, at time.Time) ([]store.ConfigRow, error) {
	var greatest sql.NullFloat64
	err := t.tx.QueryRowContext(ctx,
		`SELECT MAX(activation_instant) FROM configs WHERE activation_instant <= ?`, timeToUnix(at)).Scan(&greatest)
	if err != nil {
		return nil, fmt.Errorf("sqlite: max activation instant: %w", err)
	}
	if !greatest.Valid {
		return nil, nil
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT activation_instant, config_json, config_hash FROM configs WHERE activation_instant = ? ORDER BY id DESC`,
		greatest.Float64)
	if err != nil {
		return nil, fmt.Errorf("sqlite: configs at: %w", err)
	}
	defer rows.Close()
	return scanConfigRows(rows)
}

func (t *tx) PendingConfigsAfter(ctx context.Context, now time.Time) ([]store.ConfigRow, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT activation_instant, config_json, config_hash FROM configs WHERE activation_instant > ? ORDER BY activation_instant ASC`,
		timeToUnix(now))
	if err != nil {
		return nil, fmt.Errorf("sqlite: pending configs: %w", err)
	}
	defer rows.Close()
	return scanConfigRows(rows)
}

func scanConfigRows(rows *sql.Rows) ([]store.ConfigRow, error) {
	var out []store.ConfigRow
	for rows.Next() {
		var unixSeconds float64
		var configJSON, configHash string
		if err := rows.Scan(&unixSeconds, &configJSON, &configHash); err != nil {
			return nil, fmt.Errorf("sqlite: scan config row: %w", err)
		}
		out = append(out, store.ConfigRow{
			ActivationInstant: unixToTime(unixSeconds),
			ConfigJSON:        []byte(configJSON),
			ConfigHash:        configHash,
		})
	}
	return out, rows.Err()
}

func (t *tx) InsertHasher(ctx context.Context, row store.HasherRow) error {
	if !hasher.Supported(hasher.Class(row.ClassName)) {
		return fmt.Errorf("sqlite: %w: %s", muterrors.ErrUnsupportedHasherClass, row.ClassName)
	}

	var typeID int64
	err := t.tx.QueryRowContext(ctx, `SELECT id FROM hasher_types WHERE name = ?`, row.ClassName).Scan(&typeID)
	if err == sql.ErrNoRows {
		res, insErr := t.tx.ExecContext(ctx, `INSERT INTO hasher_types (name) VALUES (?)`, row.ClassName)
		if insErr != nil {
			return fmt.Errorf("sqlite: insert hasher type %q: %w", row.ClassName, insErr)
		}
		typeID, _ = res.LastInsertId()
	} else if err != nil {
		return fmt.Errorf("sqlite: lookup hasher type: %w", err)
	}

	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO hashers (interval_start, hasher_type_id, parameters_json, parameters_hash, salt_b64) VALUES (?, ?, ?, ?, ?)`,
		timeToUnix(row.IntervalStart), typeID, string(row.ParametersJSON), row.ParametersHash, row.SaltB64)
	if err != nil {
		return fmt.Errorf("sqlite: insert hasher: %w", err)
	}
	return nil
}

func (t *tx) HashersAt(ctx context.Context, intervalStart time.Time) ([]store.HasherRow, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT h.interval_start, t.name, h.parameters_json, h.parameters_hash, h.salt_b64
		 FROM hashers h JOIN hasher_types t ON t.id = h.hasher_type_id
		 WHERE h.interval_start = ? ORDER BY h.id DESC`,
		timeToUnix(intervalStart))
	if err != nil {
		return nil, fmt.Errorf("sqlite: hashers at: %w", err)
	}
	defer rows.Close()

	var out []store.HasherRow
	for rows.Next() {
		var unixSeconds float64
		var className, paramsJSON, paramsHash, saltB64 string
		if err := rows.Scan(&unixSeconds, &className, &paramsJSON, &paramsHash, &saltB64); err != nil {
			return nil, fmt.Errorf("sqlite: scan hasher row: %w", err)
		}
		out = append(out, store.HasherRow{
			IntervalStart:  unixToTime(unixSeconds),
			ClassName:      className,
			ParametersJSON: []byte(paramsJSON),
			ParametersHash: paramsHash,
			SaltB64:        saltB64,
		})
	}
	return out, rows.Err()
}

func (t *tx) InsertLog(ctx context.Context, digestB64 string) error {
	_, err := t.tx.ExecContext(ctx, `INSERT OR IGNORE INTO log (digest_b64) VALUES (?)`, digestB64)
	if err != nil {
		return fmt.Errorf("sqlite: insert log: %w", err)
	}
	return nil
}

func (t *tx) LogContains(ctx context.Context, digestB64 string) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx, `SELECT 1 FROM log WHERE digest_b64 = ?`, digestB64).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: log contains: %w", err)
	}
	return true, nil
}

// timeToUnix and unixToTime round-trip through a REAL column, which loses
// sub-microsecond precision once the nanosecond count exceeds float64's
// 53-bit mantissa. Equality checks are unaffected since both sides of a
// comparison are re-derived the same way; only the instant reported back
// to callers can drift by under a microsecond.
func timeToUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func unixToTime(seconds float64) time.Time {
	return time.Unix(0, int64(seconds*1e9)).UTC()
}
