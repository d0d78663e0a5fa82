package chainmanager

import (
	"github.com/witnet/witnet-go/arbiter"
	"github.com/witnet/witnet-go/chain"
	"github.com/witnet/witnet-go/session"
	"github.com/witnet/witnet-go/syncmgr"
)

// handlePeersBeacons arbitrates the beacons every outbound peer reported
// this epoch and drives the state machine accordingly.
func (m *Manager) handlePeersBeacons(pb session.PeersBeacons) {
	m.peersBeaconsReceived = true

	outboundLimit := pb.OutboundLimit
	if outboundLimit == 0 {
		outboundLimit = int(m.cfg.Connections.OutboundLimit)
	}

	result, ok := arbiter.Consensus(pb.PB, outboundLimit, int(m.cfg.Connections.ConsensusC))
	if !ok {
		m.handleNoConsensus(pb)
		return
	}

	// Peers that disagree with the consensus get unregistered regardless
	// of our own state; the Session layer owns the actual disconnect.
	if peers := arbiter.DecidePeersToUnregister(pb.PB, result.Beacon); len(peers) > 0 {
		log.Debugf("Unregistering %d peers out of consensus", len(peers))
		m.cfg.Sessions.Unregister(peers)
	}

	consensus := result.Beacon

	// Until the network has produced a genesis block, the consensus
	// beacon still points at the bootstrap hash: there is nothing to
	// synchronize towards yet.
	if consensus.HighestBlockCheckpoint.HashPrevBlock == m.cfg.Constants.BootstrapHash {
		log.Debugf("Consensus beacon is still the bootstrap hash, waiting for genesis")
		m.transition(WaitingConsensus)
		return
	}

	ours := m.ourLastBeacon()

	switch m.sm {
	case WaitingConsensus:
		m.setSyncTarget(consensus)
		if ours.HighestBlockCheckpoint == consensus.HighestBlockCheckpoint {
			m.transition(AlmostSynced)
			return
		}
		m.transition(Synchronizing)
		m.requestBlocks()

	case Synchronizing:
		// Keep chasing the freshest consensus; the network does not
		// stop while this node catches up.
		m.setSyncTarget(consensus)

	case AlmostSynced, Synced:
		ourTip := ours.HighestBlockCheckpoint
		ctip := consensus.HighestBlockCheckpoint

		if ctip.Checkpoint == ourTip.Checkpoint && ctip.HashPrevBlock != ourTip.HashPrevBlock {
			// Fork: the network agrees on a different block at our
			// own checkpoint.
			m.rollbackFork(consensus)
			return
		}

		if ctip == ourTip {
			if m.sm == AlmostSynced {
				m.transition(Synced)
			}
			return
		}

		// The consensus tip moved somewhere we have not consolidated:
		// this node fell out of consensus.
		log.Warnf("Out of consensus: our tip %s, network tip %s", ourTip, ctip)
		m.setSyncTarget(consensus)
		m.transition(WaitingConsensus)
	}
}

// handleNoConsensus is the "no consensus" arm: silent peers are pruned,
// and an otherwise-synced node falls back to WaitingConsensus since it can
// no longer tell whether it is on the majority chain.
func (m *Manager) handleNoConsensus(pb session.PeersBeacons) {
	if peers := arbiter.PeersWithNoBeacon(pb.PB); len(peers) > 0 {
		log.Debugf("Unregistering %d silent peers", len(peers))
		m.cfg.Sessions.Unregister(peers)
	}

	if m.sm != WaitingConsensus {
		log.Warnf("No beacon consensus among peers (state %s)", m.sm)
		m.transition(WaitingConsensus)
	}
}

// rollbackFork restores chain state from the last persisted snapshot and
// re-enters WaitingConsensus with the network's beacon as the new sync
// target.
func (m *Manager) rollbackFork(consensus chain.LastBeacon) {
	log.Warnf("Fork detected at checkpoint %d: our hash %s, consensus hash %s; rolling back",
		consensus.HighestBlockCheckpoint.Checkpoint,
		m.cfg.State.Tip().HashPrevBlock,
		consensus.HighestBlockCheckpoint.HashPrevBlock)

	snap, ok, err := m.cfg.Store.GetChainState()
	if err != nil {
		// Losing the snapshot mid-rollback leaves no consistent state
		// to continue from.
		panicInvariant("cannot restore chain state during fork rollback: %v", err)
	}
	if ok {
		m.cfg.State.Restore(snap)
		log.Infof("Chain state restored at tip %s", snap.Info.HighestBlockCheckpoint)
	}

	m.setSyncTarget(consensus)
	m.transition(WaitingConsensus)
	m.metrics.forkRollback()
}

func (m *Manager) setSyncTarget(consensus chain.LastBeacon) {
	m.target = syncmgr.SyncTarget{
		Block:      consensus.HighestBlockCheckpoint,
		Superblock: consensus.HighestSuperblockCheckpoint,
	}
	m.haveTarget = true
}
