// Package redisstore implements store.Backend on Redis, grounded on the
// teacher's internal/infrastructure/grouping.RedisTimerStorage: a
// sorted-set index alongside plain key/list storage, JSON payloads, and
// a *redis.Client injected by the caller. Redis has no cross-command
// read-then-write transaction primitive usable from a generic Tx
// interface, so WithTx serializes access with a local mutex, then issues
// the underlying Redis commands directly. Unlike the in-memory backend it
// keeps no draft copy: each command takes effect as it is issued, and
// commands already issued are not rolled back when fn returns an error.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mounaiban/muteacle/internal/muteacle/hasher"
	"github.com/mounaiban/muteacle/internal/muteacle/muterrors"
	"github.com/mounaiban/muteacle/internal/muteacle/store"
)

const (
	configsListKey = "muteacle:configs"
	hashersIndex   = "muteacle:hashers:index"
	logSetKey      = "muteacle:log"
)

func hashersListKey(intervalStart time.Time) string {
	return fmt.Sprintf("muteacle:hashers:%d", intervalStart.UnixNano())
}

// Backend is a store.Backend backed by a Redis client. Any *redis.Client,
// including one pointed at a miniredis instance in tests, satisfies this.
type Backend struct {
	client *redis.Client
	logger *slog.Logger
	mu     sync.Mutex
}

// New wraps an already-connected Redis client as a store.Backend.
func New(client *redis.Client, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{client: client, logger: logger}
}

func (b *Backend) Close() error { return b.client.Close() }

func (b *Backend) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(&tx{ctx: ctx, client: b.client})
}

func (b *Backend) View(ctx context.Context, fn func(store.Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(&tx{ctx: ctx, client: b.client, readOnly: true})
}

type tx struct {
	ctx      context.Context
	client   *redis.Client
	readOnly bool
}

func (t *tx) mustWrite() error {
	if t.readOnly {
		return fmt.Errorf("redisstore: write attempted in a read-only view")
	}
	return nil
}

type wireConfigRow struct {
	ActivationInstant int64  `json:"activation_instant_unix_nano"`
	ConfigJSON        string `json:"config_json"`
	ConfigHash        string `json:"config_hash"`
}

func (t *tx) InsertConfig(ctx context.Context, row store.ConfigRow) error {
	if err := t.mustWrite(); err != nil {
		return err
	}
	payload, err := json.Marshal(wireConfigRow{
		ActivationInstant: row.ActivationInstant.UnixNano(),
		ConfigJSON:        string(row.ConfigJSON),
		ConfigHash:        row.ConfigHash,
	})
	if err != nil {
		return fmt.Errorf("redisstore: marshal config row: %w", err)
	}
	if err := t.client.RPush(ctx, configsListKey, payload).Err(); err != nil {
		return fmt.Errorf("redisstore: rpush config: %w", err)
	}
	return nil
}

func (t *tx) allConfigs(ctx context.Context) ([]store.ConfigRow, error) {
	raw, err := t.client.LRange(ctx, configsListKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: lrange configs: %w", err)
	}
	out := make([]store.ConfigRow, 0, len(raw))
	for _, r := range raw {
		var w wireConfigRow
		if err := json.Unmarshal([]byte(r), &w); err != nil {
			return nil, fmt.Errorf("redisstore: unmarshal config row: %w", err)
		}
		out = append(out, store.ConfigRow{
			ActivationInstant: time.Unix(0, w.ActivationInstant).UTC(),
			ConfigJSON:        []byte(w.ConfigJSON),
			ConfigHash:        w.ConfigHash,
		})
	}
	return out, nil
}

func (t *tx) DeleteConfigsAfter(ctx context.Context, now time.Time) error {
	if err := t.mustWrite(); err != nil {
		return err
	}
	all, err := t.allConfigs(ctx)
	if err != nil {
		return err
	}
	pipe := t.client.TxPipeline()
	pipe.Del(ctx, configsListKey)
	for _, c := range all {
		if !c.ActivationInstant.After(now) {
			payload, merr := json.Marshal(wireConfigRow{
				ActivationInstant: c.ActivationInstant.UnixNano(),
				ConfigJSON:        string(c.ConfigJSON),
				ConfigHash:        c.ConfigHash,
			})
			if merr != nil {
				return fmt.Errorf("redisstore: marshal config row: %w", merr)
			}
			pipe.RPush(ctx, configsListKey, payload)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: rewrite configs list: %w", err)
	}
	return nil
}

func (t *tx) ConfigsAt(ctx context.Context, at time.Time) ([]store.ConfigRow, error) {
	all, err := t.allConfigs(ctx)
	if err != nil {
		return nil, err
	}
	var greatest time.Time
	found := false
	for _, c := range all {
		if !c.ActivationInstant.After(at) && (!found || c.ActivationInstant.After(greatest)) {
			greatest = c.ActivationInstant
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	var out []store.ConfigRow
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].ActivationInstant.Equal(greatest) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

func (t *tx) PendingConfigsAfter(ctx context.Context, now time.Time) ([]store.ConfigRow, error) {
	all, err := t.allConfigs(ctx)
	if err != nil {
		return nil, err
	}
	var out []store.ConfigRow
	for _, c := range all {
		if c.ActivationInstant.After(now) {
			out = append(out, c)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ActivationInstant.Before(out[j-1].ActivationInstant); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

type wireHasherRow struct {
	ClassName      string `json:"class_name"`
	ParametersJSON string `json:"parameters_json"`
	ParametersHash string `json:"parameters_hash"`
	SaltB64        string `json:"salt_b64"`
}

func (t *tx) InsertHasher(ctx context.Context, row store.HasherRow) error {
	if err := t.mustWrite(); err != nil {
		return err
	}
	if !hasher.Supported(hasher.Class(row.ClassName)) {
		return fmt.Errorf("redisstore: %w: %s", muterrors.ErrUnsupportedHasherClass, row.ClassName)
	}
	payload, err := json.Marshal(wireHasherRow{
		ClassName:      row.ClassName,
		ParametersJSON: string(row.ParametersJSON),
		ParametersHash: row.ParametersHash,
		SaltB64:        row.SaltB64,
	})
	if err != nil {
		return fmt.Errorf("redisstore: marshal hasher row: %w", err)
	}

	key := hashersListKey(row.IntervalStart)
	pipe := t.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.ZAdd(ctx, hashersIndex, redis.Z{Score: float64(row.IntervalStart.UnixNano()), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: insert hasher: %w", err)
	}
	return nil
}

func (t *tx) HashersAt(ctx context.Context, intervalStart time.Time) ([]store.HasherRow, error) {
	key := hashersListKey(intervalStart)
	raw, err := t.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: lrange hashers: %w", err)
	}
	out := make([]store.HasherRow, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var w wireHasherRow
		if err := json.Unmarshal([]byte(raw[i]), &w); err != nil {
			return nil, fmt.Errorf("redisstore: unmarshal hasher row: %w", err)
		}
		out = append(out, store.HasherRow{
			IntervalStart:  intervalStart,
			ClassName:      w.ClassName,
			ParametersJSON: []byte(w.ParametersJSON),
			ParametersHash: w.ParametersHash,
			SaltB64:        w.SaltB64,
		})
	}
	return out, nil
}

func (t *tx) InsertLog(ctx context.Context, digestB64 string) error {
	if err := t.mustWrite(); err != nil {
		return err
	}
	if err := t.client.SAdd(ctx, logSetKey, digestB64).Err(); err != nil {
		return fmt.Errorf("redisstore: sadd log: %w", err)
	}
	return nil
}

func (t *tx) LogContains(ctx context.Context, digestB64 string) (bool, error) {
	ok, err := t.client.SIsMember(ctx, logSetKey, digestB64).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: sismember log: %w", err)
	}
	return ok, nil
}
