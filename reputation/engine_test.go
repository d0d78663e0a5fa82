package reputation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/witnet/witnet-go/chain"
)

func TestAddAndPenalizeReputation(t *testing.T) {
	e := New(100)
	pkh := chain.PublicKeyHash{1}

	e.AddReputation(pkh, 50, 10)
	require.Equal(t, uint64(50), e.GetReputation(pkh))

	e.Penalize(pkh, 20)
	require.Equal(t, uint64(30), e.GetReputation(pkh))

	e.Penalize(pkh, 1000)
	require.Equal(t, uint64(0), e.GetReputation(pkh))
}

func TestARSExcludesInactiveWitnesses(t *testing.T) {
	e := New(100)
	active := chain.PublicKeyHash{1}
	stale := chain.PublicKeyHash{2}

	e.AddReputation(active, 10, 200)
	e.AddReputation(stale, 10, 10)

	ars := e.ARS(250)
	require.Len(t, ars, 1)
	require.Equal(t, active, ars[0].PKH)

	trs := e.TRS()
	require.Len(t, trs, 2)
}
