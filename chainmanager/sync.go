package chainmanager

import (
	"errors"

	"github.com/witnet/witnet-go/chain"
	"github.com/witnet/witnet-go/session"
	"github.com/witnet/witnet-go/syncmgr"
)

// handleAddBlocks processes a batch of blocks fetched from a peer during
// synchronization. Batches arriving in any other state
// are stale replies and dropped.
func (m *Manager) handleAddBlocks(ab session.AddBlocks) {
	if m.sm != Synchronizing {
		log.Debugf("Dropping %d-block batch from %s in state %s", len(ab.Blocks), ab.Peer, m.sm)
		return
	}
	if !m.haveTarget {
		log.Warnf("Block batch from %s with no sync target", ab.Peer)
		return
	}

	m.lastBatchEpoch = m.currentEpoch

	blocks := m.dedupBatchHead(ab.Blocks)

	batches, err := syncmgr.SplitBatch(blocks, m.currentEpoch, m.target, m.cfg.Constants.SuperblockPeriod)
	if err != nil {
		var wrong *syncmgr.WrongBlocksForSuperblockError
		if errors.As(err, &wrong) {
			// The peer served us a chain that was reverted by a
			// superblock we already consolidated; nothing in the
			// batch is usable.
			log.Warnf("Reverted chain from %s: %v", ab.Peer, wrong)
			m.cfg.Sessions.Unregister([]string{ab.Peer})
			m.transition(WaitingConsensus)
			return
		}
		log.Errorf("Batch split failed: %v", err)
		return
	}

	switch batches.Kind {
	case syncmgr.TargetNotReached:
		// Everything in the batch is below the target boundary:
		// consolidate it all and ask for more.
		if !m.processBlocks(batches.Remaining, ab.Peer) {
			return
		}
		m.requestBlocks()

	case syncmgr.SyncWithoutCandidate:
		if !m.processBlocks(batches.Consolidate, ab.Peer) {
			return
		}
		m.finishSynchronizing(batches.Remaining, ab.Peer)

	case syncmgr.SyncWithCandidate:
		if !m.processBlocks(batches.Consolidate, ab.Peer) {
			return
		}
		// The candidate span belongs to a superblock window that has
		// not been voted on yet: its blocks are validated and applied,
		// but a later superblock vote may still revert them, which the
		// fork-rollback path handles from the persisted snapshot.
		if !m.processBlocks(batches.Candidate, ab.Peer) {
			return
		}
		m.finishSynchronizing(batches.Remaining, ab.Peer)
	}
}

// finishSynchronizing handles reaching the sync target: any remaining
// blocks past the candidate window are fed through the candidate path, and
// the machine moves to AlmostSynced pending one confirming beacon round.
func (m *Manager) finishSynchronizing(remaining []chain.Block, peer string) {
	for _, b := range remaining {
		m.considerCandidate(b, peer)
	}

	log.Infof("Sync target %s reached at tip %s", m.target.Block, m.cfg.State.Tip())
	m.transition(AlmostSynced)
	m.persistState()
}

// dedupBatchHead drops the batch's first element when it is the caller's
// own current tip: peers answer RequestBlocks(from) inclusively in one
// branch of the protocol, so the first block may be one we already
// consolidated.
func (m *Manager) dedupBatchHead(blocks []chain.Block) []chain.Block {
	if len(blocks) == 0 {
		return blocks
	}

	tip := m.cfg.State.Tip()
	if tip.HashPrevBlock == m.cfg.Constants.BootstrapHash {
		return blocks
	}

	first := blocks[0]
	if first.Hash() == tip.HashPrevBlock && first.Header.Beacon.Checkpoint <= tip.Checkpoint {
		return blocks[1:]
	}
	return blocks
}

// processBlocks validates and consolidates a span of fetched blocks in
// order. A validation failure poisons the rest of the span: the peer that
// served it gets unregistered and the machine re-enters WaitingConsensus.
func (m *Manager) processBlocks(blocks []chain.Block, peer string) bool {
	for _, b := range blocks {
		if err := m.validateAndConsolidate(b); err != nil {
			log.Warnf("Invalid block %s from %s: %v", b.Hash(), peer, err)
			m.cfg.Sessions.Unregister([]string{peer})
			m.transition(WaitingConsensus)
			return false
		}
	}
	return true
}

// validateAndConsolidate runs both validator passes against the current
// tip and, on success, consolidates the block.
func (m *Manager) validateAndConsolidate(b chain.Block) error {
	epoch := b.Header.Beacon.Checkpoint
	prev := m.cfg.State.Tip()

	if err := m.cfg.Validator.ValidateStructure(b, prev, epoch); err != nil {
		return err
	}

	diff, err := m.cfg.Validator.ValidateSemantic(b, m.cfg.State, epoch)
	if err != nil {
		return err
	}

	return m.consolidateBlock(b, diff)
}

// considerCandidate records a candidate block for the current epoch,
// keeping the one whose VRF output is smallest: lower output means a
// better eligibility draw, the same total order every honest node applies,
// so all nodes consolidate the same candidate.
func (m *Manager) considerCandidate(b chain.Block, peer string) {
	hash := b.Hash()
	if _, seen := m.seenCandidates[hash]; seen {
		return
	}
	m.seenCandidates[hash] = struct{}{}

	epoch := b.Header.Beacon.Checkpoint
	prev := m.cfg.State.Tip()

	if err := m.cfg.Validator.ValidateStructure(b, prev, epoch); err != nil {
		log.Debugf("Rejecting candidate %s from %s: %v", hash, peer, err)
		return
	}
	if m.cfg.VRF != nil {
		if err := m.cfg.Validator.ValidateVRFEligibility(b.Header.VRFProof,
			m.cfg.State.HighestVRF(), m.cfg.VRF.Verify); err != nil {
			log.Debugf("Rejecting candidate %s from %s: %v", hash, peer, err)
			return
		}
	}

	diff, err := m.cfg.Validator.ValidateSemantic(b, m.cfg.State, epoch)
	if err != nil {
		log.Debugf("Rejecting candidate %s from %s: %v", hash, peer, err)
		return
	}

	cand := &BlockCandidate{Block: b, UtxoDiff: diff, VRFProof: b.Header.VRFProof}
	if m.bestCandidate == nil || vrfLess(cand.VRFProof.Output, m.bestCandidate.VRFProof.Output) {
		m.bestCandidate = cand
		log.Debugf("New best candidate %s for epoch %d", hash, epoch)
	}
}

// handleAddCandidates feeds unsolicited candidate blocks through the
// candidate selection path. Candidates only matter to a node that is (or
// is about to be) in consensus.
func (m *Manager) handleAddCandidates(ac session.AddCandidates) {
	if m.sm != Synced && m.sm != AlmostSynced {
		return
	}
	for _, b := range ac.Blocks {
		m.considerCandidate(b, ac.Peer)
	}
}

func vrfLess(a, b chain.Hash) bool {
	ab, bb := a.Bytes(), b.Bytes()
	for i := range ab {
		if ab[i] != bb[i] {
			return ab[i] < bb[i]
		}
	}
	return false
}
