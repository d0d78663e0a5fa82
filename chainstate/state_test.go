package chainstate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/witnet/witnet-go/chain"
	"github.com/witnet/witnet-go/reputation"
)

func TestApplyUtxoDiffAtomicity(t *testing.T) {
	s := New("test", reputation.New(100))
	pointer := chain.OutputPointer{TransactionHash: chain.HashFromBytes([]byte("a")), OutputIndex: 0}

	diff := NewUtxoDiff()
	diff.Add[pointer] = chain.Output{Kind: chain.OutputValueTransfer, ValueNanoWit: 10}
	require.NoError(t, s.ApplyUtxoDiff(diff, 1))
	require.True(t, s.Contains(pointer))

	spend := UtxoDiff{Remove: []chain.OutputPointer{pointer, {TransactionHash: chain.HashFromBytes([]byte("missing"))}}}
	err := s.ApplyUtxoDiff(spend, 2)
	require.Error(t, err)
	// Partial-failure rejection: the valid removal must not have applied either.
	require.True(t, s.Contains(pointer))
}

func TestTipInvariant(t *testing.T) {
	s := New("test", reputation.New(100))
	hash := chain.HashFromBytes([]byte("block"))
	s.SetTip(5, hash)
	require.NoError(t, s.CheckTipInvariant())

	s.BlockChain[5] = chain.HashFromBytes([]byte("other"))
	require.Error(t, s.CheckTipInvariant())
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := New("test", reputation.New(100))
	pointer := chain.OutputPointer{TransactionHash: chain.HashFromBytes([]byte("a")), OutputIndex: 0}
	diff := NewUtxoDiff()
	diff.Add[pointer] = chain.Output{Kind: chain.OutputValueTransfer, ValueNanoWit: 10}
	require.NoError(t, s.ApplyUtxoDiff(diff, 1))
	s.SetTip(1, chain.HashFromBytes([]byte("block")))

	snap := s.Snapshot()

	require.NoError(t, s.ApplyUtxoDiff(UtxoDiff{Remove: []chain.OutputPointer{pointer}}, 2))
	require.False(t, s.Contains(pointer))

	s.Restore(snap)
	require.True(t, s.Contains(pointer))
	require.Equal(t, uint64(1), s.Stats.ForksRolledBack)
}
