package kdf

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Voornaamenachternaam/ballooncrypt/internal/secure"
)

const testVersion Version = 200

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(WithVersion(testVersion, Params{MemoryCost: 64 * BlockSize, TimeCost: 2, Parallelism: 1}))
	require.NoError(t, err)
	return h
}

func derive(t *testing.T, h *Hasher, password string, salt secure.Salt, v Version) []byte {
	t.Helper()
	key, err := h.Derive([]byte(password), salt, v)
	require.NoError(t, err)
	defer key.Destroy()
	require.Equal(t, KeySize, key.Len())
	return append([]byte(nil), key.Bytes()...)
}

func TestDeriveDeterministic(t *testing.T) {
	h := newTestHasher(t)
	salt := secure.Salt{1, 2, 3}

	a := derive(t, h, "correct horse", salt, testVersion)
	b := derive(t, h, "correct horse", salt, testVersion)
	assert.Equal(t, a, b)
}

func TestDeriveSaltIndependence(t *testing.T) {
	h := newTestHasher(t)

	a := derive(t, h, "correct horse", secure.Salt{1}, testVersion)
	b := derive(t, h, "correct horse", secure.Salt{2}, testVersion)
	assert.NotEqual(t, a, b)
}

func TestDerivePasswordSensitivity(t *testing.T) {
	h := newTestHasher(t)
	salt := secure.Salt{9}

	a := derive(t, h, "password1", salt, testVersion)
	b := derive(t, h, "password2", salt, testVersion)
	assert.NotEqual(t, a, b)
}

func TestDeriveVersionSensitivity(t *testing.T) {
	h, err := NewHasher(
		WithVersion(testVersion, Params{MemoryCost: 64 * BlockSize, TimeCost: 1, Parallelism: 1}),
		WithVersion(testVersion+1, Params{MemoryCost: 64 * BlockSize, TimeCost: 2, Parallelism: 1}),
	)
	require.NoError(t, err)

	a := derive(t, h, "password", secure.Salt{}, testVersion)
	b := derive(t, h, "password", secure.Salt{}, testVersion+1)
	assert.NotEqual(t, a, b)
}

func TestDeriveEmptyPassword(t *testing.T) {
	h := newTestHasher(t)
	key, err := h.Derive(nil, secure.Salt{}, testVersion)
	assert.Nil(t, key)
	assert.Equal(t, ErrEmptyPassword, err)
}

func TestDeriveUnsupportedVersion(t *testing.T) {
	h := newTestHasher(t)
	for _, v := range []Version{0, 1, 3, 6, 255} {
		key, err := h.Derive([]byte("pw"), secure.Salt{}, v)
		assert.Nil(t, key)
		assert.True(t, errors.Is(err, ErrUnsupportedParameterVersion), "version %d", v)
	}
}

func TestWithVersionCannotRedefine(t *testing.T) {
	_, err := NewHasher(WithVersion(V5, Params{MemoryCost: 64 * BlockSize, TimeCost: 1, Parallelism: 1}))
	assert.Error(t, err)

	_, err = NewHasher(
		WithVersion(testVersion, Params{MemoryCost: 64 * BlockSize, TimeCost: 1, Parallelism: 1}),
		WithVersion(testVersion, Params{MemoryCost: 128 * BlockSize, TimeCost: 1, Parallelism: 1}),
	)
	assert.Error(t, err)
}

func TestWithVersionValidatesParams(t *testing.T) {
	cases := map[string]Params{
		"unaligned memory": {MemoryCost: 100, TimeCost: 1, Parallelism: 1},
		"tiny memory":      {MemoryCost: BlockSize, TimeCost: 1, Parallelism: 1},
		"zero time":        {MemoryCost: 64 * BlockSize, TimeCost: 0, Parallelism: 1},
		"parallel":         {MemoryCost: 64 * BlockSize, TimeCost: 1, Parallelism: 4},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewHasher(WithVersion(testVersion, p))
			assert.Error(t, err)
		})
	}
}

func TestBuiltinVersions(t *testing.T) {
	h := Default()
	assert.Equal(t, []Version{V4, V5}, h.Versions())
	assert.Equal(t, V5, Latest)

	p, err := h.Params(V5)
	require.NoError(t, err)
	assert.Equal(t, uint32(8_912_896), p.MemoryCost)
	assert.Equal(t, 278_528, p.Blocks())
	assert.Equal(t, uint32(1), p.TimeCost)
	assert.Equal(t, uint32(1), p.Parallelism)

	p, err = h.Params(V4)
	require.NoError(t, err)
	assert.Equal(t, 262_144, p.Blocks())

	// Registering extra versions on a private Hasher leaves the default alone.
	_ = newTestHasher(t)
	_, err = Default().Params(testVersion)
	assert.True(t, errors.Is(err, ErrUnsupportedParameterVersion))
}

func TestVersionString(t *testing.T) {
	assert.Equal(t, "BLAKE3-Balloon v5", V5.String())
}

func TestDeriveLatest(t *testing.T) {
	if testing.Short() {
		t.Skip("full-cost derivation")
	}
	salt := secure.Salt{0xaa}
	a := derive(t, Default(), "mysupersecretpassword", salt, Latest)
	b := derive(t, Default(), "mysupersecretpassword", salt, Latest)
	assert.Equal(t, a, b)
	assert.NotEqual(t, make([]byte, KeySize), a)
}

func TestBalloonWipesWorkingMemory(t *testing.T) {
	p := Params{MemoryCost: 64 * BlockSize, TimeCost: 1, Parallelism: 1}
	salt := []byte("0123456789abcdef")

	s := newBalloonState(p)
	out := make([]byte, KeySize)
	s.run([]byte("pw"), salt, p.TimeCost, out)

	zero := make([]byte, len(s.buf))
	require.NotEqual(t, zero, s.buf)
	require.NotEqual(t, [8]byte{}, s.scratch)
	require.NotEqual(t, [BlockSize]byte{}, s.idx)
	require.NotEqual(t, [BlockSize]byte{}, s.other)

	s.wipe()
	assert.Equal(t, zero, s.buf)
	assert.Equal(t, [8]byte{}, s.scratch)
	assert.Equal(t, [BlockSize]byte{}, s.idx)
	assert.Equal(t, [BlockSize]byte{}, s.other)
	assert.Zero(t, s.cnt)

	again := make([]byte, KeySize)
	balloon([]byte("pw"), salt, p, again)
	assert.Equal(t, out, again)
}
