package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashers(t *testing.T) {
	t.Parallel()

	hashers := map[string]Hasher{
		"bcrypt":   NewBcrypt(4),
		"argon2id": NewArgon2id(),
	}

	for name, h := range hashers {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			hash, err := h.Hash("p@ss1234")
			require.NoError(t, err)
			assert.NotContains(t, hash, "p@ss1234")

			assert.True(t, h.Verify("p@ss1234", hash))
			assert.False(t, h.Verify("wrong", hash))

			other, err := h.Hash("p@ss1234")
			require.NoError(t, err)
			assert.NotEqual(t, hash, other, "hashes must be salted")
		})
	}
}

func TestHashers_EmptyPassword(t *testing.T) {
	t.Parallel()

	_, err := NewBcrypt(4).Hash("")
	assert.ErrorIs(t, err, ErrEmptyPassword)

	_, err = NewArgon2id().Hash("")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestVerify_MalformedHash(t *testing.T) {
	t.Parallel()

	h, err := New(AlgorithmBcrypt, 4)
	require.NoError(t, err)

	tests := []struct {
		name string
		hash string
	}{
		{name: "empty", hash: ""},
		{name: "garbage", hash: "invalidhash"},
		{name: "truncated bcrypt", hash: "$2a$10$abc"},
		{name: "argon2id wrong part count", hash: "$argon2id$v=19$m=65536"},
		{name: "argon2id bad params", hash: "$argon2id$v=19$m=x,t=y,p=z$c2FsdA$aGFzaA"},
		{name: "argon2id bad base64", hash: "$argon2id$v=19$m=65536,t=3,p=4$!!!$!!!"},
		{name: "argon2id zero params", hash: "$argon2id$v=19$m=0,t=0,p=0$c2FsdA$aGFzaA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, h.Verify("p@ss1234", tt.hash))
			})
		})
	}
}

func TestNew_VerifiesAcrossAlgorithms(t *testing.T) {
	t.Parallel()

	bc, err := New(AlgorithmBcrypt, 4)
	require.NoError(t, err)
	ar, err := New(AlgorithmArgon2id, 4)
	require.NoError(t, err)

	bcryptHash, err := bc.Hash("secret-one")
	require.NoError(t, err)
	argonHash, err := ar.Hash("secret-two")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(bcryptHash, "$2a$"))
	assert.True(t, strings.HasPrefix(argonHash, argon2idPrefix))

	assert.True(t, ar.Verify("secret-one", bcryptHash))
	assert.True(t, bc.Verify("secret-two", argonHash))
}

func TestNew_UnknownAlgorithm(t *testing.T) {
	t.Parallel()

	_, err := New(Algorithm("md5"), 10)
	assert.Error(t, err)
}

func TestNewBcrypt_ClampsCost(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultBcryptCost, NewBcrypt(0).cost)
	assert.Equal(t, DefaultBcryptCost, NewBcrypt(99).cost)
	assert.Equal(t, 12, NewBcrypt(12).cost)
}
