package repository_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mounaiban/muteacle/internal/muteacle/hasher"
	"github.com/mounaiban/muteacle/internal/muteacle/muterrors"
	"github.com/mounaiban/muteacle/internal/muteacle/repoconfig"
	"github.com/mounaiban/muteacle/internal/muteacle/repository"
	"github.com/mounaiban/muteacle/internal/muteacle/store"
	"github.com/mounaiban/muteacle/internal/muteacle/store/memory"
	"github.com/mounaiban/muteacle/internal/muteacle/store/sqlite"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// backendFactories lets every scenario below run against each concrete
// store.Backend, mirroring the teacher's newTestStorage(t) helper pattern
// generalised over more than one backend.
var backendFactories = map[string]func(t *testing.T) store.Backend{
	"memory": func(t *testing.T) store.Backend {
		return memory.New(quietLogger())
	},
	"sqlite": func(t *testing.T) store.Backend {
		path := t.TempDir() + "/repo.db"
		b, err := sqlite.Open(context.Background(), path, quietLogger())
		require.NoError(t, err)
		return b
	},
}

func openRepo(t *testing.T, backend store.Backend) *repository.Repository {
	t.Helper()
	repo, err := repository.Open(context.Background(), backend, quietLogger(), repoconfig.New())
	require.NoError(t, err)
	return repo
}

func forEachBackend(t *testing.T, fn func(t *testing.T, backend store.Backend)) {
	for name, factory := range backendFactories {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestOpenSeedsDefaultConfig(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend store.Backend) {
		repo := openRepo(t, backend)
		defer repo.Close()

		cfg, err := repo.GetConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 5, int(cfg.Resolution()))
		assert.Equal(t, 32, cfg.SaltLength())
		assert.False(t, repo.ReadOnly())
	})
}

func TestWitnessThenVerifyFindsItem(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend store.Backend) {
		repo := openRepo(t, backend)
		defer repo.Close()

		ctx := context.Background()
		item := []byte("payload one")

		report, err := repo.Witness(ctx, [][]byte{item}, "", nil)
		require.NoError(t, err)
		assert.Equal(t, 1, report.ItemsLogged)
		assert.Equal(t, 1, report.ItemsTotal)

		found, err := repo.CheckLog(ctx, time.Now().UTC(), item)
		require.NoError(t, err)
		assert.True(t, found)
	})
}

func TestVerifyMissesUnwitnessedItem(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend store.Backend) {
		repo := openRepo(t, backend)
		defer repo.Close()

		ctx := context.Background()
		_, err := repo.Witness(ctx, [][]byte{[]byte("witnessed")}, "", nil)
		require.NoError(t, err)

		found, err := repo.CheckLog(ctx, time.Now().UTC(), []byte("never witnessed"))
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestNewHasherReusesUnchangedConfig(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend store.Backend) {
		repo := openRepo(t, backend)
		defer repo.Close()

		ctx := context.Background()
		h1, _, err := repo.NewHasher(ctx, hasher.ClassScrypt, nil)
		require.NoError(t, err)
		h2, _, err := repo.NewHasher(ctx, hasher.ClassScrypt, nil)
		require.NoError(t, err)

		assert.True(t, h1.Equal(h2), "requesting the same class/config twice should reuse the same hasher")
	})
}

func TestNewHasherRotatesSaltOnParameterChange(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend store.Backend) {
		repo := openRepo(t, backend)
		defer repo.Close()

		ctx := context.Background()
		h1, _, err := repo.NewHasher(ctx, hasher.ClassScrypt, nil)
		require.NoError(t, err)
		h2, _, err := repo.NewHasher(ctx, hasher.ClassScrypt, map[string]any{"r": 8})
		require.NoError(t, err)

		assert.False(t, h1.Equal(h2))
		assert.NotEqual(t, h1.Salt(), h2.Salt())
	})
}

func TestSetConfigBackdatesFirstConfig(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend store.Backend) {
		ctx := context.Background()
		repo, err := repository.Open(ctx, backend, quietLogger(), repoconfig.New())
		require.NoError(t, err)
		defer repo.Close()

		cfg, err := repo.GetConfig(ctx)
		require.NoError(t, err)
		assert.False(t, cfg.ActivationInstant.After(time.Now().UTC()))
	})
}

func TestSetConfigSchedulesChangeAtNextCommonStart(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend store.Backend) {
		repo := openRepo(t, backend)
		defer repo.Close()

		ctx := context.Background()
		requested := repoconfig.New()
		requested.Set(map[string]any{"resolution": 3600, "salt_length": 32})

		at, err := repo.SetConfig(ctx, requested)
		require.NoError(t, err)
		assert.True(t, at.After(time.Now().UTC()) || at.Equal(time.Now().UTC()))

		pending, err := repo.PendingConfig(ctx)
		require.NoError(t, err)
		require.NotNil(t, pending)
		assert.Equal(t, 3600, int(pending.Resolution()))
	})
}

func TestSetConfigNoOpWhenEqualToActive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend store.Backend) {
		repo := openRepo(t, backend)
		defer repo.Close()

		ctx := context.Background()
		active, err := repo.GetConfig(ctx)
		require.NoError(t, err)

		at, err := repo.SetConfig(ctx, active)
		require.NoError(t, err)
		assert.Equal(t, active.ActivationInstant.Unix(), at.Unix())

		pending, err := repo.PendingConfig(ctx)
		require.NoError(t, err)
		assert.Nil(t, pending)
	})
}

func TestSetConfigRejectsInadmissibleResolution(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend store.Backend) {
		repo := openRepo(t, backend)
		defer repo.Close()

		bad := repoconfig.New()
		bad.Set(map[string]any{"resolution": 13, "salt_length": 32})

		_, err := repo.SetConfig(context.Background(), bad)
		require.Error(t, err)
		assert.ErrorIs(t, err, muterrors.ErrInvalidResolution)
	})
}

func TestUnsupportedHasherClassRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend store.Backend) {
		repo := openRepo(t, backend)
		defer repo.Close()

		_, _, err := repo.NewHasher(context.Background(), hasher.Class("not-a-class"), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, muterrors.ErrUnsupportedHasherClass)
	})
}

// TestReadOnlyLatchRefusesWrites seeds two future-dated config rows
// directly through the backend's write path (bypassing SetConfig's merge
// rules, the way a tampered clock or a racing writer might), then reopens
// the repository and asserts it comes up latched read-only and refuses
// further writes.
func TestReadOnlyLatchRefusesWrites(t *testing.T) {
	path := func(t *testing.T) string { return t.TempDir() + "/latch.db" }(t)
	ctx := context.Background()

	seed, err := sqlite.Open(ctx, path, quietLogger())
	require.NoError(t, err)

	now := time.Now().UTC()
	err = seed.WithTx(ctx, func(tx store.Tx) error {
		for _, offset := range []time.Duration{time.Hour, 2 * time.Hour} {
			rec := repoconfig.New()
			rec.Set(repoconfig.Defaults)
			rec.ActivationInstant = now.Add(offset)
			configJSON, err := rec.ConfigJSON()
			if err != nil {
				return err
			}
			if err := tx.InsertConfig(ctx, store.ConfigRow{
				ActivationInstant: rec.ActivationInstant,
				ConfigJSON:        configJSON,
				ConfigHash:        repoconfig.Hash(configJSON),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	reopened, err := sqlite.Open(ctx, path, quietLogger())
	require.NoError(t, err)
	repo, err := repository.Open(ctx, reopened, quietLogger(), repoconfig.New())
	require.NoError(t, err)
	defer repo.Close()

	assert.True(t, repo.ReadOnly())

	_, err = repo.Witness(ctx, [][]byte{[]byte("x")}, "", nil)
	assert.ErrorIs(t, err, muterrors.ErrReadOnly)

	_, err = repo.SetConfig(ctx, repoconfig.New())
	assert.ErrorIs(t, err, muterrors.ErrReadOnly)
}
