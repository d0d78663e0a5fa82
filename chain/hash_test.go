package chain_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/witnet/witnet-go/chain"
)

func TestHashFromBytesDeterministic(t *testing.T) {
	a := chain.HashFromBytes([]byte("witnet"))
	b := chain.HashFromBytes([]byte("witnet"))
	require.Equal(t, a, b)

	c := chain.HashFromBytes([]byte("witnet2"))
	require.NotEqual(t, a, c)
}

func TestHashStringRoundTrip(t *testing.T) {
	h := chain.HashFromBytes([]byte("round trip"))

	parsed, err := chain.NewHashFromString(h.String())
	require.NoError(t, err)
	require.Equal(t, h, parsed)
}

func TestZeroHashIsZero(t *testing.T) {
	require.True(t, chain.ZeroHash.IsZero())

	h := chain.HashFromBytes([]byte("not zero"))
	require.False(t, h.IsZero())
}

func TestNewHashFromStringRejectsGarbage(t *testing.T) {
	_, err := chain.NewHashFromString("not-a-hash")
	require.Error(t, err)
}

func TestHashMarshalTextRoundTrip(t *testing.T) {
	h := chain.HashFromBytes([]byte("marshal"))

	text, err := h.MarshalText()
	require.NoError(t, err)

	var out chain.Hash
	require.NoError(t, out.UnmarshalText(text))
	require.Equal(t, h, out)
}
