// Package store defines the opaque, key-ordered, transactional backend
// contract that Muteacle's Repository is built on (spec component D's
// persistence backend, treated by the spec as an external collaborator).
// Concrete implementations live in the sqlite, postgres, redisstore and
// memory subpackages.
package store

import (
	"context"
	"time"
)

// ConfigRow is one row of the logical configs table:
// configs(activation_instant, config_json, config_hash).
type ConfigRow struct {
	ActivationInstant time.Time
	ConfigJSON        []byte
	ConfigHash        string
}

// HasherRow is one row of the logical hashers table:
// hashers(interval_start_instant, class_name, parameters_json,
// parameters_hash, salt_b64).
type HasherRow struct {
	IntervalStart  time.Time
	ClassName      string
	ParametersJSON []byte
	ParametersHash string
	SaltB64        string
}

// Tx is a single backend transaction (or, for backends without native
// transactions, a unit-of-work scope). All methods operate within it.
type Tx interface {
	// InsertConfig appends a row to the configs table.
	InsertConfig(ctx context.Context, row ConfigRow) error

	// DeleteConfigsAfter deletes every config row whose activation
	// instant is strictly after now (the pending configs).
	DeleteConfigsAfter(ctx context.Context, now time.Time) error

	// ConfigsAt returns every config row whose activation instant equals
	// the greatest activation instant <= at, newest-inserted first. An
	// empty slice means no config with activation instant <= at has been
	// stored (pending configs may still exist).
	ConfigsAt(ctx context.Context, at time.Time) ([]ConfigRow, error)

	// PendingConfigsAfter returns every config row with activation
	// instant strictly after now, ordered by activation instant
	// ascending (earliest pending first).
	PendingConfigsAfter(ctx context.Context, now time.Time) ([]ConfigRow, error)

	// InsertHasher appends a row to the hashers table. Implementations
	// validate row.ClassName against the supported hasher enumeration
	// and must fail if it is not recognised.
	InsertHasher(ctx context.Context, row HasherRow) error

	// HashersAt returns every hasher row whose interval_start equals
	// intervalStart, newest-inserted first.
	HashersAt(ctx context.Context, intervalStart time.Time) ([]HasherRow, error)

	// InsertLog appends one digest to the append-only log.
	InsertLog(ctx context.Context, digestB64 string) error

	// LogContains reports whether digestB64 has ever been logged.
	LogContains(ctx context.Context, digestB64 string) (bool, error)
}

// Backend is an opaque, key-ordered table store with transactions. It is
// the sole persistence seam the Repository depends on; every concrete
// backend (sqlite, postgres, redisstore, memory) implements it.
type Backend interface {
	// WithTx runs fn inside a single read-write transaction. If fn
	// returns an error the transaction is rolled back and the error is
	// returned unchanged; otherwise the transaction commits.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// View runs fn inside a read-only unit of work. Backends that have
	// no native read-only transaction concept may alias this to WithTx.
	View(ctx context.Context, fn func(Tx) error) error

	// Close releases any resources (connections, files) held by the
	// backend. Safe to call multiple times.
	Close() error
}
