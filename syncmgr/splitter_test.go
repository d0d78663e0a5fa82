package syncmgr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/witnet/witnet-go/chain"
)

func blocksAt(epochs ...chain.Epoch) []chain.Block {
	out := make([]chain.Block, len(epochs))
	for i, e := range epochs {
		out[i] = chain.Block{Header: chain.BlockHeader{Beacon: chain.CheckpointBeacon{Checkpoint: e}}}
	}
	return out
}

func epochsOf(blocks []chain.Block) []chain.Epoch {
	out := make([]chain.Epoch, len(blocks))
	for i, b := range blocks {
		out[i] = epochOf(b)
	}
	return out
}

// A batch ending below the target boundary needs more requests.
func TestSplitBatchTargetNotReached(t *testing.T) {
	target := SyncTarget{
		Superblock: chain.CheckpointBeacon{Checkpoint: 10},
		Block:      chain.CheckpointBeacon{Checkpoint: 1000},
	}

	result, err := SplitBatch(blocksAt(1, 8, 18), 101, target, 10)
	require.NoError(t, err)
	require.Equal(t, TargetNotReached, result.Kind)
	require.Equal(t, []chain.Epoch{1, 8, 18}, epochsOf(result.Remaining))
}

// A batch reaching the target and spanning into the candidate window.
func TestSplitBatchSyncWithCandidate(t *testing.T) {
	target := SyncTarget{Superblock: chain.CheckpointBeacon{Checkpoint: 2}}

	result, err := SplitBatch(blocksAt(105, 110), 111, target, 10)
	require.NoError(t, err)
	require.Equal(t, SyncWithCandidate, result.Kind)
	require.Empty(t, result.Consolidate)
	require.Equal(t, []chain.Epoch{105}, epochsOf(result.Candidate))
	require.Equal(t, []chain.Epoch{110}, epochsOf(result.Remaining))
}

// A block epoch inside the reverted-chain gap signals a reverted chain.
func TestSplitBatchWrongBlocksForSuperblock(t *testing.T) {
	target := SyncTarget{Superblock: chain.CheckpointBeacon{Checkpoint: 3}}

	_, err := SplitBatch(blocksAt(1, 8, 18, 70, 100), 101, target, 10)
	require.Error(t, err)

	var wrongErr *WrongBlocksForSuperblockError
	require.ErrorAs(t, err, &wrongErr)
	require.Equal(t, chain.Epoch(70), wrongErr.WrongIndex)
	require.Equal(t, chain.Epoch(3), wrongErr.ConsolidatedSuperblockIndex)
	require.Equal(t, chain.Epoch(10), wrongErr.CurrentSuperblockIndex)
}

func TestSplitBatchSyncWithoutCandidateEvenDifference(t *testing.T) {
	target := SyncTarget{}

	result, err := SplitBatch(blocksAt(0, 8), 9, target, 10)
	require.NoError(t, err)
	require.Equal(t, SyncWithoutCandidate, result.Kind)
	require.Empty(t, result.Consolidate)
	require.Equal(t, []chain.Epoch{0, 8}, epochsOf(result.Remaining))
}

func TestSplitBatchSyncWithCandidateOddDifferenceConsolidatesPastEntries(t *testing.T) {
	target := SyncTarget{Superblock: chain.CheckpointBeacon{Checkpoint: 1}}

	result, err := SplitBatch(blocksAt(0, 9, 10, 18, 26), 29, target, 10)
	require.NoError(t, err)
	require.Equal(t, SyncWithCandidate, result.Kind)
	require.Equal(t, []chain.Epoch{0, 9}, epochsOf(result.Consolidate))
	require.Equal(t, []chain.Epoch{10, 18}, epochsOf(result.Candidate))
	require.Equal(t, []chain.Epoch{26}, epochsOf(result.Remaining))
}

func TestSplitBatchEmptyBatchIsTargetNotReached(t *testing.T) {
	target := SyncTarget{
		Superblock: chain.CheckpointBeacon{Checkpoint: 2},
		Block:      chain.CheckpointBeacon{Checkpoint: 1000},
	}

	result, err := SplitBatch(nil, 111, target, 10)
	require.NoError(t, err)
	require.Equal(t, TargetNotReached, result.Kind)
	require.Empty(t, result.Remaining)
}
