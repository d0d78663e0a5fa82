// Package syncmgr implements the Sync Engine: it batch-splits
// blocks fetched from a peer around the target superblock boundary so the
// Chain State Machine knows which blocks can be consolidated immediately,
// which form a not-yet-final candidate span, and which still need to be
// requested.
package syncmgr

import (
	"fmt"

	"github.com/witnet/witnet-go/chain"
)

// SyncTarget is the beacon pair the Sync Engine is chasing, as decided by
// the Peer-Consensus Arbiter.
type SyncTarget struct {
	Superblock chain.CheckpointBeacon
	Block      chain.CheckpointBeacon
}

// WrongBlocksForSuperblockError signals a reverted chain: a block epoch
// falls inside the gap between the last consolidated superblock and the
// first epoch that can legitimately follow it.
type WrongBlocksForSuperblockError struct {
	WrongIndex                  chain.Epoch
	ConsolidatedSuperblockIndex chain.Epoch
	CurrentSuperblockIndex      chain.Epoch
}

func (e *WrongBlocksForSuperblockError) Error() string {
	return fmt.Sprintf("syncmgr: block at epoch %d cannot exist between consolidated superblock %d and current superblock %d",
		e.WrongIndex, e.ConsolidatedSuperblockIndex, e.CurrentSuperblockIndex)
}

// Kind identifies which of the three batch shapes a SplitBatch call
// produced.
type Kind int

const (
	TargetNotReached Kind = iota
	SyncWithoutCandidate
	SyncWithCandidate
)

func (k Kind) String() string {
	switch k {
	case TargetNotReached:
		return "TargetNotReached"
	case SyncWithoutCandidate:
		return "SyncWithoutCandidate"
	case SyncWithCandidate:
		return "SyncWithCandidate"
	default:
		return "unknown"
	}
}

// Batches is the outcome of SplitBatch. Only the fields relevant to Kind
// are populated: TargetNotReached uses Remaining alone, SyncWithoutCandidate
// uses Consolidate and Remaining, SyncWithCandidate uses all three.
type Batches struct {
	Kind        Kind
	Consolidate []chain.Block
	Candidate   []chain.Block
	Remaining   []chain.Block
}

func epochOf(b chain.Block) chain.Epoch {
	return b.Header.Beacon.Checkpoint
}

// SplitBatch partitions blocks relative to (target, currentEpoch,
// superblockPeriod). blocks must already be sorted by epoch,
// ascending, as delivered by a peer's AddBlocks response.
func SplitBatch(blocks []chain.Block, currentEpoch chain.Epoch, target SyncTarget, superblockPeriod uint32) (Batches, error) {
	currentSuperblockIndex := chain.Epoch(uint32(currentEpoch) / superblockPeriod)
	if currentSuperblockIndex < target.Superblock.Checkpoint {
		panic("syncmgr: sync target is in the future")
	}

	diff := currentSuperblockIndex - target.Superblock.Checkpoint
	firstValidBlock := chain.Epoch((uint32(currentSuperblockIndex) - uint32(diff)%2) * superblockPeriod)
	consolidatedTarget := chain.Epoch(uint32(target.Superblock.Checkpoint) * superblockPeriod)

	for _, b := range blocks {
		e := epochOf(b)
		if e >= consolidatedTarget && e < firstValidBlock {
			log.Warnf("syncmgr: block at epoch %d is inside the reverted-chain gap [%d, %d)", e, consolidatedTarget, firstValidBlock)
			return Batches{}, &WrongBlocksForSuperblockError{
				WrongIndex:                  e,
				ConsolidatedSuperblockIndex: target.Superblock.Checkpoint,
				CurrentSuperblockIndex:      currentSuperblockIndex,
			}
		}
	}

	var lastEpoch chain.Epoch
	if len(blocks) > 0 {
		lastEpoch = epochOf(blocks[len(blocks)-1])
	}

	saturatingSub1 := chain.Epoch(0)
	if consolidatedTarget > 0 {
		saturatingSub1 = consolidatedTarget - 1
	}
	if lastEpoch < saturatingSub1 && lastEpoch < target.Block.Checkpoint {
		log.Debugf("syncmgr: target not reached, last epoch %d", lastEpoch)
		return Batches{Kind: TargetNotReached, Remaining: blocks}, nil
	}

	if diff%2 == 0 {
		splitAt := len(blocks)
		for i, b := range blocks {
			if epochOf(b) >= consolidatedTarget {
				splitAt = i
				break
			}
		}
		return Batches{
			Kind:        SyncWithoutCandidate,
			Consolidate: blocks[:splitAt],
			Remaining:   blocks[splitAt:],
		}, nil
	}

	candidateTarget := chain.Epoch(uint32(currentSuperblockIndex) * superblockPeriod)

	candidateSplitAt := len(blocks)
	for i, b := range blocks {
		if epochOf(b) >= consolidatedTarget {
			candidateSplitAt = i
			break
		}
	}
	consolidate := blocks[:candidateSplitAt]
	rest := blocks[candidateSplitAt:]

	remainingSplitAt := len(rest)
	for i, b := range rest {
		if epochOf(b) >= candidateTarget {
			remainingSplitAt = i
			break
		}
	}

	return Batches{
		Kind:        SyncWithCandidate,
		Consolidate: consolidate,
		Candidate:   rest[:remainingSplitAt],
		Remaining:   rest[remainingSplitAt:],
	}, nil
}
