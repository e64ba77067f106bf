// Package repository implements Muteacle's Repository (spec component
// D): the backend-agnostic facade over a store.Backend that ties
// together bucket arithmetic, hasher lifecycle and repository
// configuration into witness (append_log) and verify (check_log)
// operations, grounded on the original SQLiteRepository's method set and
// the teacher's repository-over-interface style (internal/core.Database).
package repository

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mounaiban/muteacle/internal/muteacle/bucket"
	"github.com/mounaiban/muteacle/internal/muteacle/hasher"
	"github.com/mounaiban/muteacle/internal/muteacle/metrics"
	"github.com/mounaiban/muteacle/internal/muteacle/muterrors"
	"github.com/mounaiban/muteacle/internal/muteacle/repoconfig"
	"github.com/mounaiban/muteacle/internal/muteacle/store"
)

// DefaultHasherClass is the class new hashers are created with when a
// repository has no hashing history yet.
const DefaultHasherClass = hasher.ClassScrypt

// hasherCacheSize bounds the in-process LRU cache of rehydrated hashers
// keyed by interval start, trading a little staleness risk against
// repeated salt/parameter decode-and-construct work on busy verify paths.
const hasherCacheSize = 256

// AppendReport summarises the outcome of a Witness call.
type AppendReport struct {
	IntervalStart time.Time
	ItemsLogged   int
	ItemsTotal    int
}

// Repository is the facade client code uses to witness and verify data
// against a persistence backend.
type Repository struct {
	backend  store.Backend
	logger   *slog.Logger
	readOnly bool

	hasherCache *lru.Cache[int64, *hasher.Hasher]
}

// Open wraps backend as a Repository. If the backend has never been
// configured, the default RepositoryConfig is written immediately,
// backdated to the start of the current interval. If more than one
// pending (future-activation) configuration is found, the repository
// opens in read-only mode: this can only happen if the system clock was
// rolled back after scheduling a change, or a backend was shared across
// writers racing SetConfig, so further configuration and logging writes
// are refused until an operator intervenes. initial is only used the
// first time a backend is ever opened, to seed its configuration; pass
// repoconfig.New() with no values set to fall back to repoconfig.Defaults.
func Open(ctx context.Context, backend store.Backend, logger *slog.Logger, initial repoconfig.Record) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[int64, *hasher.Hasher](hasherCacheSize)
	if err != nil {
		return nil, fmt.Errorf("repository: new hasher cache: %w", err)
	}
	r := &Repository{backend: backend, logger: logger, hasherCache: cache}

	now := time.Now().UTC()
	var pendingCount int
	err = backend.View(ctx, func(tx store.Tx) error {
		rows, err := tx.PendingConfigsAfter(ctx, now)
		if err != nil {
			return err
		}
		pendingCount = len(rows)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repository: inspect pending configs: %w", err)
	}

	if pendingCount > 1 {
		r.readOnly = true
		metrics.RepositoryReadOnly.Set(1)
		logger.Warn("muteacle: repository opened read-only: multiple pending configurations detected",
			"pending_count", pendingCount)
		return r, nil
	}
	metrics.RepositoryReadOnly.Set(0)

	active, err := r.loadActive(ctx, now)
	if err != nil {
		return nil, err
	}
	if active == nil {
		if initial.IsZero() {
			initial.Set(repoconfig.Defaults)
		}
		if _, err := r.SetConfig(ctx, initial); err != nil {
			return nil, fmt.Errorf("repository: write initial config: %w", err)
		}
	}
	return r, nil
}

// ReadOnly reports whether the repository has latched into read-only
// mode due to clock-tamper detection at Open.
func (r *Repository) ReadOnly() bool { return r.readOnly }

func (r *Repository) mustWrite() error {
	if r.readOnly {
		return muterrors.ErrReadOnly
	}
	return nil
}

func (r *Repository) loadActive(ctx context.Context, at time.Time) (*repoconfig.Record, error) {
	var rows []store.ConfigRow
	err := r.backend.View(ctx, func(tx store.Tx) error {
		var err error
		rows, err = tx.ConfigsAt(ctx, at)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("repository: load active config: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	rec, err := repoconfig.DecodeConfigJSON(rows[0].ConfigJSON, rows[0].ActivationInstant)
	if err != nil {
		return nil, err
	}
	if !repoconfig.VerifyHash(rows[0].ConfigJSON, rows[0].ConfigHash) {
		return nil, fmt.Errorf("repository: active config: %w", muterrors.ErrIntegrity)
	}
	return &rec, nil
}

func (r *Repository) loadPending(ctx context.Context, at time.Time) (*repoconfig.Record, error) {
	var rows []store.ConfigRow
	err := r.backend.View(ctx, func(tx store.Tx) error {
		var err error
		rows, err = tx.PendingConfigsAfter(ctx, at)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("repository: load pending config: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	rec, err := repoconfig.DecodeConfigJSON(rows[0].ConfigJSON, rows[0].ActivationInstant)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetConfig returns the configuration in effect at the current instant.
func (r *Repository) GetConfig(ctx context.Context) (repoconfig.Record, error) {
	rec, err := r.loadActive(ctx, time.Now().UTC())
	if err != nil {
		return repoconfig.Record{}, err
	}
	if rec == nil {
		return repoconfig.New(), nil
	}
	return *rec, nil
}

// PendingConfig returns the nearest not-yet-active configuration change,
// if any.
func (r *Repository) PendingConfig(ctx context.Context) (*repoconfig.Record, error) {
	return r.loadPending(ctx, time.Now().UTC())
}

// LoadConfigs returns every configuration row whose activation instant
// equals the greatest activation instant at or before at, newest-saved
// first; used to reconstruct the configuration that was in effect when a
// past hash was committed.
func (r *Repository) LoadConfigs(ctx context.Context, at time.Time) ([]repoconfig.Record, error) {
	var rows []store.ConfigRow
	err := r.backend.View(ctx, func(tx store.Tx) error {
		var err error
		rows, err = tx.ConfigsAt(ctx, at)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("repository: load configs at %s: %w", at, err)
	}
	out := make([]repoconfig.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := repoconfig.DecodeConfigJSON(row.ConfigJSON, row.ActivationInstant)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// SetConfig requests a configuration change, applying the merge rules in
// repoconfig.Merge against the currently active and pending
// configuration. It returns the activation instant at which the
// requested configuration will (or already does) take effect.
func (r *Repository) SetConfig(ctx context.Context, requested repoconfig.Record) (time.Time, error) {
	if err := r.mustWrite(); err != nil {
		return time.Time{}, err
	}
	if err := requested.Validate(); err != nil {
		return time.Time{}, err
	}

	now := time.Now().UTC()
	active, err := r.loadActive(ctx, now)
	if err != nil {
		return time.Time{}, err
	}
	pending, err := r.loadPending(ctx, now)
	if err != nil {
		return time.Time{}, err
	}

	toWrite, deletePending, writeNeeded := repoconfig.Merge(active, pending, requested, now)
	if !writeNeeded && !deletePending {
		return toWrite.ActivationInstant, nil
	}

	err = r.backend.WithTx(ctx, func(tx store.Tx) error {
		if deletePending {
			if err := tx.DeleteConfigsAfter(ctx, now); err != nil {
				return err
			}
		}
		if !writeNeeded {
			return nil
		}
		configJSON, err := toWrite.ConfigJSON()
		if err != nil {
			return err
		}
		return tx.InsertConfig(ctx, store.ConfigRow{
			ActivationInstant: toWrite.ActivationInstant,
			ConfigJSON:        configJSON,
			ConfigHash:        repoconfig.Hash(configJSON),
		})
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: set config: %w", err)
	}
	return toWrite.ActivationInstant, nil
}

// NewHasher returns the hasher that should be used to witness data right
// now: the most recently saved hasher if its class matches and
// reconfiguring it with config produces no effective parameter change,
// or else a freshly salted hasher of the given (or last-used) class.
// A nil class reuses the class of the most recently saved hasher, or
// DefaultHasherClass if none has ever been saved.
func (r *Repository) NewHasher(ctx context.Context, class hasher.Class, config map[string]any) (*hasher.Hasher, time.Time, error) {
	if err := r.mustWrite(); err != nil {
		return nil, time.Time{}, err
	}
	now := time.Now().UTC()

	last, err := r.latestHasher(ctx, now)
	if err != nil {
		return nil, time.Time{}, err
	}
	cfg, err := r.GetConfig(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	currentStart := bucket.CurrentIntervalStart(now, cfg.Resolution())

	if last != nil {
		if class == "" {
			class = last.Class()
		}
		if last.Class() == class {
			// A nil/empty override asks for "whatever is current", not a
			// reset to defaults: Configurable.Set(nil) takes the reset
			// branch and reports every recognised key as changed even
			// though nothing was requested to change, so treat it as no
			// override at all rather than probing Reconfigure with it.
			if len(config) == 0 {
				return last, currentStart, nil
			}
			// Probe on a throwaway copy: Reconfigure mutates in place, and
			// last may be the very pointer cached in r.hasherCache, so
			// mutating it directly before deciding whether to keep it
			// would corrupt the cache on the discard path below.
			probeJSON, err := last.ParametersJSON()
			if err != nil {
				return nil, time.Time{}, err
			}
			probe, err := hasher.Rehydrate(last.Class(), probeJSON, last.Salt())
			if err != nil {
				return nil, time.Time{}, err
			}
			if probe.Reconfigure(config) <= 0 {
				return last, currentStart, nil
			}
		}
	}
	if class == "" {
		class = DefaultHasherClass
	}

	salt, err := hasher.NewSalt(cfg.SaltLength())
	if err != nil {
		return nil, time.Time{}, err
	}
	h, err := hasher.New(class, salt, config)
	if err != nil {
		return nil, time.Time{}, err
	}
	at, err := r.SaveHasher(ctx, h)
	if err != nil {
		return nil, time.Time{}, err
	}
	return h, at, nil
}

// SaveHasher persists h so that a future GetHashers(at) for the interval
// currently active can recall it. Returns the interval start at which
// the saved hasher becomes recallable.
func (r *Repository) SaveHasher(ctx context.Context, h *hasher.Hasher) (time.Time, error) {
	if err := r.mustWrite(); err != nil {
		return time.Time{}, err
	}
	if !hasher.Supported(h.Class()) {
		return time.Time{}, fmt.Errorf("repository: %w: %s", muterrors.ErrUnsupportedHasherClass, h.Class())
	}

	cfg, err := r.GetConfig(ctx)
	if err != nil {
		return time.Time{}, err
	}
	now := time.Now().UTC()
	n := bucket.IntervalNumber(now, cfg.Resolution())
	intervalStart := bucket.IntervalStart(now, cfg.Resolution(), n)

	paramsJSON, err := h.ParametersJSON()
	if err != nil {
		return time.Time{}, err
	}

	err = r.backend.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertHasher(ctx, store.HasherRow{
			IntervalStart:  intervalStart,
			ClassName:      string(h.Class()),
			ParametersJSON: paramsJSON,
			ParametersHash: repoconfig.Hash(paramsJSON),
			SaltB64:        base64.StdEncoding.EncodeToString(h.Salt()),
		})
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: save hasher: %w", err)
	}
	r.hasherCache.Remove(intervalStart.UnixNano())
	return intervalStart, nil
}

// GetHashers returns every hasher capable of reproducing a digest
// committed at approximately dt: for each configuration returned by
// LoadConfigs(dt) (those sharing the greatest activation instant at or
// before dt), the hashers saved for dt's interval under that
// configuration's resolution. Configurations activated earlier than that
// instant are not consulted.
func (r *Repository) GetHashers(ctx context.Context, dt time.Time) ([]*hasher.Hasher, error) {
	configs, err := r.LoadConfigs(ctx, dt)
	if err != nil {
		return nil, err
	}

	var out []*hasher.Hasher
	seen := make(map[int64]bool)
	for _, c := range configs {
		n := bucket.IntervalNumber(dt, c.Resolution())
		intervalStart := bucket.IntervalStart(dt, c.Resolution(), n)
		key := intervalStart.UnixNano()
		if seen[key] {
			continue
		}
		seen[key] = true

		hashers, err := r.hashersAtInterval(ctx, intervalStart)
		if err != nil {
			return nil, err
		}
		out = append(out, hashers...)
	}
	return out, nil
}

func (r *Repository) latestHasher(ctx context.Context, now time.Time) (*hasher.Hasher, error) {
	hashers, err := r.GetHashers(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(hashers) == 0 {
		return nil, nil
	}
	return hashers[0], nil
}

func (r *Repository) hashersAtInterval(ctx context.Context, intervalStart time.Time) ([]*hasher.Hasher, error) {
	if cached, ok := r.hasherCache.Get(intervalStart.UnixNano()); ok {
		return []*hasher.Hasher{cached}, nil
	}

	var rows []store.HasherRow
	err := r.backend.View(ctx, func(tx store.Tx) error {
		var err error
		rows, err = tx.HashersAt(ctx, intervalStart)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("repository: hashers at %s: %w", intervalStart, err)
	}

	out := make([]*hasher.Hasher, 0, len(rows))
	for _, row := range rows {
		salt, err := base64.StdEncoding.DecodeString(row.SaltB64)
		if err != nil {
			return nil, fmt.Errorf("repository: decode salt: %w", err)
		}
		h, err := hasher.Rehydrate(hasher.Class(row.ClassName), row.ParametersJSON, salt)
		if err != nil {
			return nil, err
		}
		if !repoconfig.VerifyHash(row.ParametersJSON, row.ParametersHash) {
			return nil, fmt.Errorf("repository: hasher parameters: %w", muterrors.ErrIntegrity)
		}
		out = append(out, h)
	}
	if len(out) == 1 {
		r.hasherCache.Add(intervalStart.UnixNano(), out[0])
	}
	return out, nil
}

// Witness records every byte-slice item as witnessed at the current
// interval, using class/config to select or create a hasher when class
// is non-empty, or the repository's default hasher selection otherwise.
func (r *Repository) Witness(ctx context.Context, items [][]byte, class hasher.Class, config map[string]any) (AppendReport, error) {
	if err := r.mustWrite(); err != nil {
		return AppendReport{}, err
	}
	h, at, err := r.NewHasher(ctx, class, config)
	if err != nil {
		return AppendReport{}, err
	}

	logged := 0
	err = r.backend.WithTx(ctx, func(tx store.Tx) error {
		for _, item := range items {
			digest, err := h.Digest(item)
			if err != nil {
				return err
			}
			if err := tx.InsertLog(ctx, base64.StdEncoding.EncodeToString(digest)); err != nil {
				return err
			}
			logged++
		}
		return nil
	})
	if err != nil {
		return AppendReport{}, fmt.Errorf("repository: witness: %w", err)
	}
	return AppendReport{IntervalStart: at, ItemsLogged: logged, ItemsTotal: len(items)}, nil
}

// CheckLog reports whether item was witnessed at approximately dt, by
// recomputing its digest under every hasher that could plausibly have
// been used at that time and looking each one up in the append-only log.
func (r *Repository) CheckLog(ctx context.Context, dt time.Time, item []byte) (bool, error) {
	hashers, err := r.GetHashers(ctx, dt)
	if err != nil {
		return false, err
	}

	found := false
	err = r.backend.View(ctx, func(tx store.Tx) error {
		for _, h := range hashers {
			digest, err := h.Digest(item)
			if err != nil {
				return err
			}
			ok, err := tx.LogContains(ctx, base64.StdEncoding.EncodeToString(digest))
			if err != nil {
				return err
			}
			if ok {
				found = true
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("repository: check log: %w", err)
	}
	return found, nil
}

// Close releases the underlying backend.
func (r *Repository) Close() error {
	return r.backend.Close()
}
