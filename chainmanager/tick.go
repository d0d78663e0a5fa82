package chainmanager

import (
	"github.com/witnet/witnet-go/chain"
	"github.com/witnet/witnet-go/epochmanager"
	"github.com/witnet/witnet-go/session"
)

// handleEpochNotification processes one epoch boundary. The whole
// sequence runs to completion before the next message is dispatched, so
// consolidation is never interleaved with another tick.
func (m *Manager) handleEpochNotification(n epochmanager.Notification) {
	prevEpoch := m.currentEpoch
	m.currentEpoch = n.Epoch
	m.metrics.setEpoch(n.Epoch)

	log.Debugf("Epoch %d tick (state %s)", n.Epoch, m.sm)

	// A tick with zero PeersBeacons since the previous one means the
	// Session layer went silent: no peer signal, no consensus to act
	// on. Checked before anything else, gap included.
	if m.sm != WaitingConsensus && !m.peersBeaconsReceived {
		log.Warnf("No peer beacons received during epoch %d", prevEpoch)
		m.transition(WaitingConsensus)
	}
	m.peersBeaconsReceived = false

	// A missed tick means this node's view of the epoch stream has a
	// hole in it; whatever candidates were collected belong to an epoch
	// we no longer trust.
	if n.Gap {
		log.Warnf("Missed epoch notifications between %d and %d, dropping candidates", prevEpoch, n.Epoch)
		m.transition(WaitingConsensus)
		return
	}

	// 1. Clear pending transactions and per-epoch commits.
	m.cfg.Mempool.ClearPendingTransactions()
	m.cfg.Mempool.ClearCommits()

	if m.sm == Synced || m.sm == AlmostSynced {
		// 2. Consolidate the best candidate collected during the
		// previous epoch, if any.
		if m.bestCandidate != nil {
			c := m.bestCandidate
			if err := m.consolidateBlock(c.Block, c.UtxoDiff); err != nil {
				log.Errorf("Failed to consolidate candidate %s: %v", c.Block.Hash(), err)
			} else {
				m.persistState()
			}
		}

		// 3. On a superblock boundary, roll up the window and vote.
		if uint32(n.Epoch)%m.cfg.Constants.SuperblockPeriod == 0 {
			m.buildAndVoteSuperblock(n.Epoch)
		}

		// 4. Advance data-request stages and broadcast the reveals
		// whose commit window just closed with enough commits.
		m.broadcastDueReveals(n.Epoch)
	}

	m.dropCandidates()

	// 5. Emit our LastBeacon to outbound sessions.
	beacon := m.ourLastBeacon()
	m.cfg.Sessions.SetLastBeacon(beacon)
	m.cfg.Sessions.Broadcast(&session.LastBeaconMsg{Beacon: beacon}, false)

	if m.sm == Synced && m.cfg.Mining.Enabled {
		// 6. Mine: data requests first, then the block candidate,
		// in that fixed order.
		m.mineDataRequests(n.Epoch)
		m.mineBlock(n.Epoch)
	}

	// Synchronizing re-request timer.
	if m.sm == Synchronizing && m.haveTarget &&
		n.Epoch > m.lastBatchEpoch+reBroadcastEpochs {
		log.Infof("No block batch for %d epochs, re-requesting from %s",
			n.Epoch-m.lastBatchEpoch, m.cfg.State.Tip())
		m.requestBlocks()
	}

	m.metrics.observePools(m.cfg.Mempool, m.cfg.DRPool)
}

// broadcastDueReveals advances the DR pool's stages for the new epoch and
// broadcasts every reveal transaction this node was holding for a data
// request whose reveal stage just opened.
func (m *Manager) broadcastDueReveals(epoch chain.Epoch) {
	for _, pointer := range m.cfg.DRPool.UpdateDataRequestStages(epoch) {
		for _, reveal := range m.cfg.DRPool.TakeStashedReveals(pointer) {
			if err := m.cfg.Mempool.InsertReveal(reveal, m.cfg.State); err != nil {
				log.Debugf("Stashed reveal for %s not insertable: %v", pointer, err)
				continue
			}
			m.cfg.Sessions.Broadcast(&session.TransactionMsg{
				Kind: session.TxKindReveal,
				Body: reveal.Body,
			}, false)
		}
	}
}

func (m *Manager) requestBlocks() {
	m.lastBatchEpoch = m.currentEpoch
	m.cfg.Sessions.RequestBlocks(m.cfg.State.Tip(), blockRequestLimit)
}
