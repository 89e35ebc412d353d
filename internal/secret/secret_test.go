package secret

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		length  int
		wantErr error
	}{
		{name: "default length", length: DefaultLength},
		{name: "single byte", length: 1},
		{name: "zero length", length: 0, wantErr: ErrInvalidLength},
		{name: "negative length", length: -4, wantErr: ErrInvalidLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, err := Generate(tt.length)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, s)
				return
			}

			require.NoError(t, err)
			assert.Len(t, s, tt.length*2)
			_, err = hex.DecodeString(s)
			assert.NoError(t, err)
		})
	}
}

func TestGenerate_Unique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		s, err := Generate(DefaultLength)
		require.NoError(t, err)
		_, dup := seen[s]
		require.False(t, dup, "duplicate secret generated")
		seen[s] = struct{}{}
	}
}

func TestURLToken(t *testing.T) {
	t.Parallel()

	a, err := URLToken()
	require.NoError(t, err)
	b, err := URLToken()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	raw, err := base64.URLEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}
