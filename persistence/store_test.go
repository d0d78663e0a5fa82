package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/witnet/witnet-go/chain"
	"github.com/witnet/witnet-go/chainstate"
	"github.com/witnet/witnet-go/reputation"
)

func TestOpenRejectsNetworkMagicMismatch(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, 0x1234)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(dir, 0x5678)
	require.ErrorIs(t, err, ErrNetworkMagicMismatch)
}

func TestOpenIsIdempotentForTheSameMagic(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir, 0x1234)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(dir, 0x1234)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestChainStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0x1234)
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.GetChainState()
	require.NoError(t, err)
	require.False(t, ok)

	state := chainstate.New("test", reputation.New(100))
	pointer := chain.OutputPointer{TransactionHash: chain.HashFromBytes([]byte("a"))}
	require.NoError(t, state.ApplyUtxoDiff(chainstate.UtxoDiff{
		Add: map[chain.OutputPointer]chain.Output{pointer: {Kind: chain.OutputValueTransfer, ValueNanoWit: 5}},
	}, 1))
	state.SetTip(1, chain.HashFromBytes([]byte("block")))

	require.NoError(t, s.PutChainState(state.Snapshot()))

	snap, ok, err := s.GetChainState()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, chain.Epoch(1), snap.Info.HighestBlockCheckpoint.Checkpoint)
	require.Contains(t, snap.Utxo, pointer)
}

func TestFinishedDataRequestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0x1234)
	require.NoError(t, err)
	defer s.Close()

	pointer := chain.OutputPointer{TransactionHash: chain.HashFromBytes([]byte("dr")), OutputIndex: 2}

	_, ok, err := s.GetFinishedDataRequest(pointer)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.PutFinishedDataRequest(pointer, []byte("report")))

	report, ok, err := s.GetFinishedDataRequest(pointer)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("report"), report)
}

func TestBlockRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0x1234)
	require.NoError(t, err)
	defer s.Close()

	mint := chain.Transaction{Outputs: []chain.Output{{Kind: chain.OutputValueTransfer, ValueNanoWit: 1}}}
	b := chain.Block{
		Header: chain.BlockHeader{
			Beacon:      chain.CheckpointBeacon{Checkpoint: 3},
			MerkleRoots: chain.MerkleRoots{MintHash: mint.Hash()},
		},
		Txns: chain.BlockTransactions{Mint: mint},
	}

	require.NoError(t, s.PutBlock(b))

	raw, ok, err := s.GetBlockBytes(b.Hash())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, EncodeBlock(b), raw)
}
