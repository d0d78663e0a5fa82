package config

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNetworkMagicDerivation(t *testing.T) {
	c := DefaultConfig().ConsensusConstants

	// The magic must be exactly the first two bytes of the SHA-256 of
	// the canonical constants encoding, big-endian.
	sum := sha256.Sum256(c.serialize())
	require.Equal(t, binary.BigEndian.Uint16(sum[:2]), c.NetworkMagic())
}

func TestNetworkMagicChangesWithConstants(t *testing.T) {
	a := DefaultConfig().ConsensusConstants
	b := a
	b.SuperblockPeriod++

	require.NotEqual(t, a.NetworkMagic(), b.NetworkMagic())
}

func TestValidateRejectsZeroPeriods(t *testing.T) {
	c := DefaultConfig().ConsensusConstants
	require.NoError(t, c.Validate())

	c.CheckpointsPeriod = 0
	require.Error(t, c.Validate())

	c = DefaultConfig().ConsensusConstants
	c.SuperblockPeriod = 0
	require.Error(t, c.Validate())
}
