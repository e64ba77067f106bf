package hasher_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mounaiban/muteacle/internal/muteacle/hasher"
)

func TestSupported(t *testing.T) {
	assert.True(t, hasher.Supported(hasher.ClassScrypt))
	assert.True(t, hasher.Supported(hasher.ClassPBKDF2))
	assert.False(t, hasher.Supported(hasher.Class("blake3")))
}

func TestNewFillsDefaults(t *testing.T) {
	salt, err := hasher.NewSalt(16)
	require.NoError(t, err)

	h, err := hasher.New(hasher.ClassScrypt, salt, nil)
	require.NoError(t, err)

	params := h.Parameters()
	assert.Equal(t, 1024, params["n"])
	assert.Equal(t, 16, params["r"])
	assert.Equal(t, 64, params["p"])
	assert.Equal(t, 32, params["keylen"])
}

func TestNewUnsupportedClass(t *testing.T) {
	_, err := hasher.New(hasher.Class("nope"), []byte("salt"), nil)
	assert.Error(t, err)
}

func TestNewSaltRejectsNegativeLength(t *testing.T) {
	_, err := hasher.NewSalt(-1)
	assert.Error(t, err)
}

func TestRehydrateRoundTrip(t *testing.T) {
	salt, err := hasher.NewSalt(32)
	require.NoError(t, err)

	original, err := hasher.New(hasher.ClassPBKDF2, salt, map[string]any{"i": 1000})
	require.NoError(t, err)

	paramsJSON, err := original.ParametersJSON()
	require.NoError(t, err)

	rehydrated, err := hasher.Rehydrate(hasher.ClassPBKDF2, paramsJSON, original.Salt())
	require.NoError(t, err)

	assert.True(t, original.Equal(rehydrated))

	data := []byte("witness me")
	d1, err := original.Digest(data)
	require.NoError(t, err)
	d2, err := rehydrated.Digest(data)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestEqualRequiresSameSaltClassAndParams(t *testing.T) {
	saltA, _ := hasher.NewSalt(16)
	saltB, _ := hasher.NewSalt(16)

	a, err := hasher.New(hasher.ClassScrypt, saltA, nil)
	require.NoError(t, err)
	b, err := hasher.New(hasher.ClassScrypt, saltB, nil)
	require.NoError(t, err)

	assert.False(t, a.Equal(b), "different salts must not be equal")
	assert.False(t, a.Equal(nil))

	c, err := hasher.New(hasher.ClassScrypt, saltA, nil)
	require.NoError(t, err)
	assert.True(t, a.Equal(c))
}

func TestReconfigureReportsChangeCount(t *testing.T) {
	salt, _ := hasher.NewSalt(16)
	h, err := hasher.New(hasher.ClassScrypt, salt, nil)
	require.NoError(t, err)

	changes := h.Reconfigure(map[string]any{"n": 1024, "r": 16, "p": 64, "keylen": 32})
	assert.Zero(t, changes, "reconfiguring with identical effective values changes nothing")

	changes = h.Reconfigure(map[string]any{"r": 8})
	assert.Equal(t, 1, changes)
	assert.Equal(t, 8, h.Parameters()["r"])
}

func TestDigestDeterministic(t *testing.T) {
	salt, _ := hasher.NewSalt(16)
	h, err := hasher.New(hasher.ClassScrypt, salt, map[string]any{"n": 16, "r": 1, "p": 1, "keylen": 16})
	require.NoError(t, err)

	data := []byte("hello muteacle")
	d1, err := h.Digest(data)
	require.NoError(t, err)
	d2, err := h.Digest(data)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	other, err := h.Digest([]byte("different data"))
	require.NoError(t, err)
	assert.NotEqual(t, d1, other)
}
