// Package memory implements store.Backend using in-process maps and
// slices, grounded on the teacher's own in-memory fallback storage
// (internal/storage/memory/memory_storage.go): RWMutex-guarded, with the
// same "data is NOT persisted" caveat. It is the backend spec.md §5 calls
// for ephemeral sessions, and is always single-handle.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mounaiban/muteacle/internal/muteacle/hasher"
	"github.com/mounaiban/muteacle/internal/muteacle/muterrors"
	"github.com/mounaiban/muteacle/internal/muteacle/store"
)

// Backend is an in-memory store.Backend implementation. Safe for
// concurrent use by a single Repository handle.
type Backend struct {
	mu      sync.RWMutex
	configs []store.ConfigRow
	hashers []store.HasherRow
	log     map[string]struct{}
	logger  *slog.Logger
}

// New creates an empty in-memory backend.
func New(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("muteacle: in-memory store backend created; nothing will be persisted")
	return &Backend{log: make(map[string]struct{}), logger: logger}
}

func (b *Backend) Close() error { return nil }

func (b *Backend) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	draft := &tx{
		configs: append([]store.ConfigRow(nil), b.configs...),
		hashers: append([]store.HasherRow(nil), b.hashers...),
		log:     cloneSet(b.log),
	}
	if err := fn(draft); err != nil {
		return err
	}
	b.configs = draft.configs
	b.hashers = draft.hashers
	b.log = draft.log
	return nil
}

func (b *Backend) View(ctx context.Context, fn func(store.Tx) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := &tx{configs: b.configs, hashers: b.hashers, log: b.log, readOnly: true}
	return fn(snap)
}

func cloneSet(m map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

type tx struct {
	configs  []store.ConfigRow
	hashers  []store.HasherRow
	log      map[string]struct{}
	readOnly bool
}

func (t *tx) mustWrite() error {
	if t.readOnly {
		return fmt.Errorf("memory: write attempted in a read-only view")
	}
	return nil
}

func (t *tx) InsertConfig(ctx context.Context, row store.ConfigRow) error {
	if err := t.mustWrite(); err != nil {
		return err
	}
	t.configs = append(t.configs, row)
	return nil
}

func (t *tx) DeleteConfigsAfter(ctx context.Context, now time.Time) error {
	if err := t.mustWrite(); err != nil {
		return err
	}
	kept := t.configs[:0:0]
	for _, c := range t.configs {
		if !c.ActivationInstant.After(now) {
			kept = append(kept, c)
		}
	}
	t.configs = kept
	return nil
}

func (t *tx) ConfigsAt(ctx context.Context, at time.Time) ([]store.ConfigRow, error) {
	var greatest time.Time
	found := false
	for _, c := range t.configs {
		if !c.ActivationInstant.After(at) && (!found || c.ActivationInstant.After(greatest)) {
			greatest = c.ActivationInstant
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	var out []store.ConfigRow
	for i := len(t.configs) - 1; i >= 0; i-- {
		if t.configs[i].ActivationInstant.Equal(greatest) {
			out = append(out, t.configs[i])
		}
	}
	return out, nil
}

func (t *tx) PendingConfigsAfter(ctx context.Context, now time.Time) ([]store.ConfigRow, error) {
	var out []store.ConfigRow
	for _, c := range t.configs {
		if c.ActivationInstant.After(now) {
			out = append(out, c)
		}
	}
	// ascending by activation instant, earliest pending first
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ActivationInstant.Before(out[j-1].ActivationInstant); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (t *tx) InsertHasher(ctx context.Context, row store.HasherRow) error {
	if err := t.mustWrite(); err != nil {
		return err
	}
	if !hasher.Supported(hasher.Class(row.ClassName)) {
		return fmt.Errorf("memory: %w: %s", muterrors.ErrUnsupportedHasherClass, row.ClassName)
	}
	t.hashers = append(t.hashers, row)
	return nil
}

func (t *tx) HashersAt(ctx context.Context, intervalStart time.Time) ([]store.HasherRow, error) {
	var out []store.HasherRow
	for i := len(t.hashers) - 1; i >= 0; i-- {
		if t.hashers[i].IntervalStart.Equal(intervalStart) {
			out = append(out, t.hashers[i])
		}
	}
	return out, nil
}

func (t *tx) InsertLog(ctx context.Context, digestB64 string) error {
	if err := t.mustWrite(); err != nil {
		return err
	}
	t.log[digestB64] = struct{}{}
	return nil
}

func (t *tx) LogContains(ctx context.Context, digestB64 string) (bool, error) {
	_, ok := t.log[digestB64]
	return ok, nil
}
