package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mounaiban/muteacle/internal/muteacle/hasher"
	"github.com/mounaiban/muteacle/internal/muteacle/muterrors"
	"github.com/mounaiban/muteacle/internal/muteacle/store"
	"github.com/mounaiban/muteacle/internal/muteacle/store/redisstore"
)

func setupTestBackend(t *testing.T) (*redisstore.Backend, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	backend := redisstore.New(client, nil)

	return backend, func() {
		backend.Close()
		mr.Close()
	}
}

func TestInsertAndLookupLog(t *testing.T) {
	backend, cleanup := setupTestBackend(t)
	defer cleanup()
	ctx := context.Background()

	err := backend.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertLog(ctx, "ZGlnZXN0")
	})
	require.NoError(t, err)

	err = backend.View(ctx, func(tx store.Tx) error {
		found, err := tx.LogContains(ctx, "ZGlnZXN0")
		require.NoError(t, err)
		assert.True(t, found)

		missing, err := tx.LogContains(ctx, "bm90aGluZw==")
		require.NoError(t, err)
		assert.False(t, missing)
		return nil
	})
	require.NoError(t, err)
}

func TestConfigsAtReturnsGreatestActivationAtOrBefore(t *testing.T) {
	backend, cleanup := setupTestBackend(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err := backend.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertConfig(ctx, store.ConfigRow{ActivationInstant: base, ConfigJSON: []byte(`{"a":1}`)}); err != nil {
			return err
		}
		return tx.InsertConfig(ctx, store.ConfigRow{ActivationInstant: base.Add(time.Hour), ConfigJSON: []byte(`{"a":2}`)})
	})
	require.NoError(t, err)

	err = backend.View(ctx, func(tx store.Tx) error {
		rows, err := tx.ConfigsAt(ctx, base.Add(30*time.Minute))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, `{"a":1}`, string(rows[0].ConfigJSON))
		return nil
	})
	require.NoError(t, err)
}

func TestPendingConfigsAfterOrderedAscending(t *testing.T) {
	backend, cleanup := setupTestBackend(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err := backend.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertConfig(ctx, store.ConfigRow{ActivationInstant: now.Add(2 * time.Hour)}); err != nil {
			return err
		}
		return tx.InsertConfig(ctx, store.ConfigRow{ActivationInstant: now.Add(time.Hour)})
	})
	require.NoError(t, err)

	err = backend.View(ctx, func(tx store.Tx) error {
		rows, err := tx.PendingConfigsAfter(ctx, now)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.True(t, rows[0].ActivationInstant.Before(rows[1].ActivationInstant))
		return nil
	})
	require.NoError(t, err)
}

func TestInsertHasherRejectsUnsupportedClass(t *testing.T) {
	backend, cleanup := setupTestBackend(t)
	defer cleanup()
	ctx := context.Background()

	err := backend.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertHasher(ctx, store.HasherRow{
			IntervalStart: time.Now().UTC(),
			ClassName:     "not-a-class",
		})
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, muterrors.ErrUnsupportedHasherClass)
}

func TestHashersAtRoundTrip(t *testing.T) {
	backend, cleanup := setupTestBackend(t)
	defer cleanup()
	ctx := context.Background()

	intervalStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err := backend.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertHasher(ctx, store.HasherRow{
			IntervalStart:  intervalStart,
			ClassName:      string(hasher.ClassScrypt),
			ParametersJSON: []byte(`{"n":1024,"r":16,"p":64,"keylen":32}`),
			SaltB64:        "c2FsdA==",
		})
	})
	require.NoError(t, err)

	err = backend.View(ctx, func(tx store.Tx) error {
		rows, err := tx.HashersAt(ctx, intervalStart)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, string(hasher.ClassScrypt), rows[0].ClassName)
		assert.Equal(t, "c2FsdA==", rows[0].SaltB64)
		return nil
	})
	require.NoError(t, err)
}

func TestViewRejectsWrites(t *testing.T) {
	backend, cleanup := setupTestBackend(t)
	defer cleanup()
	ctx := context.Background()

	err := backend.View(ctx, func(tx store.Tx) error {
		return tx.InsertLog(ctx, "xxx")
	})
	assert.Error(t, err)
}
