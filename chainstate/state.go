// Package chainstate implements the UTXO / Chain State component: the
// unspent-outputs pool, the block-chain index, and the other fields
// ChainState bundles together, all singly owned by the Chain State
// Machine. Every other component reaches it only through
// request/response messages.
package chainstate

import (
	"fmt"
	"sync"

	"github.com/witnet/witnet-go/chain"
	"github.com/witnet/witnet-go/reputation"
)

// ChainInfo is the environment/consensus-parameter/tip record bundled
// into chain state as chain_info.
type ChainInfo struct {
	Environment             string
	HighestBlockCheckpoint  chain.CheckpointBeacon
	HighestVRFOutput        chain.Hash
}

// SuperblockState tracks the last consolidated superblock. Its Index
// only ever increases.
type SuperblockState struct {
	Index  uint32
	Beacon chain.CheckpointBeacon
}

// NodeStats counts operational events for observability.
type NodeStats struct {
	BlocksConsolidated   uint64
	DataRequestsFinished uint64
	ForksRolledBack      uint64
}

// UtxoDiff describes the additions and removals the Block Validator
// computed for one block, to be applied
// atomically on consolidation.
type UtxoDiff struct {
	Add    map[chain.OutputPointer]chain.Output
	Remove []chain.OutputPointer
}

// NewUtxoDiff returns an empty, ready-to-use UtxoDiff.
func NewUtxoDiff() UtxoDiff {
	return UtxoDiff{Add: make(map[chain.OutputPointer]chain.Output)}
}

// State is the full ChainState record: the UTXO pool, the block
// index, chain info, reputation, superblock state and node stats. The
// data-request pool is owned and mutated alongside it by the same
// component (chainmanager) but is not embedded here: it is its own
// package (datarequest) so that validation/ and mempool/ do not need to
// import chainstate just to resolve a DR pointer's stage.
type State struct {
	mu sync.RWMutex

	Info       ChainInfo
	Utxo       map[chain.OutputPointer]chain.Output
	// UtxoOrigin tracks the epoch each unspent output was consolidated
	// at, so the Block Validator can enforce collateral age
	// without re-deriving it from block_chain on every commit.
	UtxoOrigin map[chain.OutputPointer]chain.Epoch
	BlockChain map[chain.Epoch]chain.Hash
	OwnUtxos   map[chain.OutputPointer]chain.Output

	Reputation *reputation.Engine
	Superblock SuperblockState
	Stats      NodeStats
}

// New constructs an empty State.
func New(environment string, rep *reputation.Engine) *State {
	return &State{
		Info:       ChainInfo{Environment: environment},
		Utxo:       make(map[chain.OutputPointer]chain.Output),
		UtxoOrigin: make(map[chain.OutputPointer]chain.Epoch),
		BlockChain: make(map[chain.Epoch]chain.Hash),
		OwnUtxos:   make(map[chain.OutputPointer]chain.Output),
		Reputation: rep,
	}
}

// Contains reports whether pointer names a currently unspent output. It
// satisfies mempool.UTXOSet.
func (s *State) Contains(pointer chain.OutputPointer) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.Utxo[pointer]
	return ok
}

// Get returns the output pointer names, if unspent.
func (s *State) Get(pointer chain.OutputPointer) (chain.Output, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.Utxo[pointer]
	return out, ok
}

// ApplyUtxoDiff applies diff atomically: every removal must currently be
// present or the whole diff is rejected without
// any partial mutation. Additions are stamped with originEpoch so later
// collateral-age checks can look up a UTXO's age without
// touching block_chain.
func (s *State) ApplyUtxoDiff(diff UtxoDiff, originEpoch chain.Epoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pointer := range diff.Remove {
		if _, ok := s.Utxo[pointer]; !ok {
			return fmt.Errorf("chainstate: invariant violated: cannot remove %s, not in unspent_outputs_pool", pointer)
		}
	}

	for _, pointer := range diff.Remove {
		delete(s.Utxo, pointer)
		delete(s.OwnUtxos, pointer)
		delete(s.UtxoOrigin, pointer)
	}
	for pointer, out := range diff.Add {
		s.Utxo[pointer] = out
		s.UtxoOrigin[pointer] = originEpoch
	}

	return nil
}

// UtxoAge returns how many epochs have elapsed since pointer was
// consolidated, as of currentEpoch.
func (s *State) UtxoAge(pointer chain.OutputPointer, currentEpoch chain.Epoch) (chain.Epoch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	origin, ok := s.UtxoOrigin[pointer]
	if !ok {
		return 0, false
	}
	return currentEpoch - origin, true
}

// SetTip advances block_chain[epoch] = hash and updates
// chain_info.highest_block_checkpoint, keeping the tip and the index in
// lockstep.
func (s *State) SetTip(epoch chain.Epoch, hash chain.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.BlockChain[epoch] = hash
	s.Info.HighestBlockCheckpoint = chain.CheckpointBeacon{Checkpoint: epoch, HashPrevBlock: hash}
}

// SetHighestVRF records the VRF output of the last consolidated block,
// the seed the next epoch's eligibility proofs must chain from.
func (s *State) SetHighestVRF(h chain.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Info.HighestVRFOutput = h
}

// HighestVRF returns the VRF output eligibility proofs currently chain
// from.
func (s *State) HighestVRF() chain.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Info.HighestVRFOutput
}

// HashAt returns the consolidated block hash at epoch, if any.
func (s *State) HashAt(epoch chain.Epoch) (chain.Hash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.BlockChain[epoch]
	return h, ok
}

// Tip returns the current highest block checkpoint.
func (s *State) Tip() chain.CheckpointBeacon {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Info.HighestBlockCheckpoint
}

// SuperblockInfo returns the last consolidated superblock state.
func (s *State) SuperblockInfo() SuperblockState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Superblock
}

// SetSuperblock records a newly consolidated superblock. Index must never
// go backwards; a violation is reported so the
// caller can abort rather than rewrite consolidated history.
func (s *State) SetSuperblock(index uint32, beacon chain.CheckpointBeacon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < s.Superblock.Index {
		return fmt.Errorf("chainstate: superblock index %d precedes consolidated index %d",
			index, s.Superblock.Index)
	}
	s.Superblock = SuperblockState{Index: index, Beacon: beacon}
	return nil
}

// CheckTipInvariant verifies that block_chain[highest.checkpoint] ==
// highest.hash. A violation is a logic-invariant failure and should
// drive the caller to abort.
func (s *State) CheckTipInvariant() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tip := s.Info.HighestBlockCheckpoint
	h, ok := s.BlockChain[tip.Checkpoint]
	if !ok || h != tip.HashPrevBlock {
		return fmt.Errorf("chainstate: block_chain[%d]=%s does not match highest_block_checkpoint %s",
			tip.Checkpoint, h, tip.HashPrevBlock)
	}
	return nil
}

// Snapshot returns a deep copy of the mutable UTXO/chain-index state,
// suitable for the Persistence Bridge to serialize or for the Chain State
// Machine to restore from on a fork.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	utxo := make(map[chain.OutputPointer]chain.Output, len(s.Utxo))
	for k, v := range s.Utxo {
		utxo[k] = v
	}
	origin := make(map[chain.OutputPointer]chain.Epoch, len(s.UtxoOrigin))
	for k, v := range s.UtxoOrigin {
		origin[k] = v
	}
	blockChain := make(map[chain.Epoch]chain.Hash, len(s.BlockChain))
	for k, v := range s.BlockChain {
		blockChain[k] = v
	}
	ownUtxos := make(map[chain.OutputPointer]chain.Output, len(s.OwnUtxos))
	for k, v := range s.OwnUtxos {
		ownUtxos[k] = v
	}

	return Snapshot{
		Info:       s.Info,
		Utxo:       utxo,
		UtxoOrigin: origin,
		BlockChain: blockChain,
		OwnUtxos:   ownUtxos,
		Superblock: s.Superblock,
	}
}

// Restore replaces the mutable state from a previously captured Snapshot.
// Used on fork rollback: reputation is left untouched since it is not
// part of the snapshot a rollback restores; witnesses keep the
// reputation they earned regardless of which fork it was earned on.
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Info = snap.Info
	s.Utxo = snap.Utxo
	s.UtxoOrigin = snap.UtxoOrigin
	s.BlockChain = snap.BlockChain
	s.OwnUtxos = snap.OwnUtxos
	s.Superblock = snap.Superblock
	s.Stats.ForksRolledBack++
}

// Snapshot is the serializable projection of State that the Persistence
// Bridge writes and the Chain State Machine restores from.
type Snapshot struct {
	Info       ChainInfo
	Utxo       map[chain.OutputPointer]chain.Output
	UtxoOrigin map[chain.OutputPointer]chain.Epoch
	BlockChain map[chain.Epoch]chain.Hash
	OwnUtxos   map[chain.OutputPointer]chain.Output
	Superblock SuperblockState
}
