package artifactfetcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashString(t *testing.T) {
	// BLAKE3 hash of empty string
	h := HashBytes([]byte{})
	expected := "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"
	require.Equal(t, expected, h.String())
}

func TestHashShortString(t *testing.T) {
	h := HashBytes([]byte("zkey contents"))
	short := h.ShortString()
	require.Len(t, short, 16)
	require.True(t, strings.HasPrefix(h.String(), short))
}

func TestHashIsZero(t *testing.T) {
	var zero Hash
	require.True(t, zero.IsZero())
	require.False(t, HashBytes([]byte("vkey")).IsZero())
}

func TestHashMarshalText(t *testing.T) {
	h := HashBytes([]byte("wasm"))
	text, err := h.MarshalText()
	require.NoError(t, err)
	require.Equal(t, h.String(), string(text))
}

func TestParseHash(t *testing.T) {
	h := HashBytes([]byte("proving key"))

	parsed, err := ParseHash(h.String())
	require.NoError(t, err)
	require.Equal(t, h, parsed)

	parsed, err = ParseHash("  BLAKE3:" + strings.ToUpper(h.String()))
	require.NoError(t, err)
	require.Equal(t, h, parsed)

	_, err = ParseHash(h.ShortString())
	require.Error(t, err)

	_, err = ParseHash(strings.Repeat("zz", HashSize))
	require.Error(t, err)
}

func TestHashUnmarshalText(t *testing.T) {
	want := HashBytes([]byte("wasm"))
	text, err := want.MarshalText()
	require.NoError(t, err)

	var got Hash
	require.NoError(t, got.UnmarshalText(text))
	require.Equal(t, want, got)
}
