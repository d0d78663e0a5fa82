package chainmanager

import (
	"github.com/witnet/witnet-go/chain"
	"github.com/witnet/witnet-go/chainstate"
	"github.com/witnet/witnet-go/datarequest"
	"github.com/witnet/witnet-go/session"
)

// Epoch windows each data-request stage stays open for once its block is
// consolidated. Two epochs gives slow witnesses a margin without
// stretching time-to-tally.
const (
	commitWindowEpochs = 2
	revealWindowEpochs = 2
)

// consolidateBlock applies a validated block to chain state: UTXO diff,
// data-request pool transitions, persistence, and the tip advance. The
// sequence is linear with explicit early return; a failure in the UTXO
// apply is an abort, since the diff was already validated against this
// very state.
func (m *Manager) consolidateBlock(b chain.Block, diff chainstate.UtxoDiff) error {
	hash := b.Hash()
	epoch := b.Header.Beacon.Checkpoint

	if err := m.cfg.State.ApplyUtxoDiff(diff, epoch); err != nil {
		panicInvariant("validated block %s failed UTXO apply: %v", hash, err)
	}

	m.applyDataRequests(b, epoch)
	m.applyCommitsAndReveals(b)
	m.applyTallies(b, epoch)

	// Consolidated transactions leave the mempool.
	for _, tx := range b.Txns.VT {
		m.cfg.Mempool.Remove(tx.Body.Hash())
	}
	for _, tx := range b.Txns.DR {
		m.cfg.Mempool.Remove(tx.Body.Hash())
	}
	for _, tx := range b.Txns.Commit {
		m.cfg.Mempool.Remove(tx.Body.Hash())
	}
	for _, tx := range b.Txns.Reveal {
		m.cfg.Mempool.Remove(tx.Body.Hash())
	}

	m.cfg.State.SetTip(epoch, hash)
	m.cfg.State.SetHighestVRF(b.Header.VRFProof.Output)

	if err := m.cfg.State.CheckTipInvariant(); err != nil {
		panicInvariant("%v", err)
	}

	if err := m.cfg.Store.PutBlock(b); err != nil {
		log.Errorf("Failed to persist block %s: %v", hash, err)
	}

	m.cfg.Sessions.AnnounceBlock(hash)
	m.metrics.blockConsolidated()

	log.Infof("Consolidated block %s at epoch %d (%d vt, %d dr, %d commit, %d reveal, %d tally)",
		hash, epoch, len(b.Txns.VT), len(b.Txns.DR), len(b.Txns.Commit),
		len(b.Txns.Reveal), len(b.Txns.Tally))
	return nil
}

// applyDataRequests opens the commit window of every data request the
// block carries.
func (m *Manager) applyDataRequests(b chain.Block, epoch chain.Epoch) {
	for _, tx := range b.Txns.DR {
		txHash := tx.Body.Hash()
		for i, out := range tx.Body.Outputs {
			if out.Kind != chain.OutputDataRequest || out.DataRequest == nil {
				continue
			}
			pointer := chain.OutputPointer{TransactionHash: txHash, OutputIndex: uint32(i)}
			minCommits := out.DataRequest.Witnesses
			m.cfg.DRPool.AddDataRequest(pointer, *out.DataRequest, epoch,
				commitWindowEpochs, revealWindowEpochs, minCommits)
		}
	}
}

// applyCommitsAndReveals feeds the block's commit and reveal transactions
// into the data-request pool. The block already passed semantic
// validation, so a pool-level rejection here means the DR advanced past
// the stage this transaction belongs to; that is a drop, not an abort.
func (m *Manager) applyCommitsAndReveals(b chain.Block) {
	for _, tx := range b.Txns.Commit {
		txHash := tx.Body.Hash()
		for _, out := range tx.Body.Outputs {
			if out.Kind != chain.OutputCommit || out.Commit == nil {
				continue
			}
			entry := datarequest.CommitEntry{
				PKH:        out.PKH,
				Commitment: out.Commit.Commitment,
				TxHash:     txHash,
			}
			if err := m.cfg.DRPool.AddCommit(out.Commit.DRPointer, entry, b.Header.Beacon.Checkpoint); err != nil {
				log.Debugf("Consolidated commit %s not accepted by DR pool: %v", txHash, err)
			}
		}
	}

	for _, tx := range b.Txns.Reveal {
		txHash := tx.Body.Hash()
		for _, out := range tx.Body.Outputs {
			if out.Kind != chain.OutputReveal || out.Reveal == nil {
				continue
			}
			entry := datarequest.RevealEntry{
				PKH:    out.PKH,
				Reveal: out.Reveal.Reveal,
				TxHash: txHash,
			}
			if err := m.cfg.DRPool.AddReveal(out.Reveal.DRPointer, entry); err != nil {
				log.Debugf("Consolidated reveal %s not accepted by DR pool: %v", txHash, err)
			}
		}
	}
}

// applyTallies retires each tallied data request: its report is written to
// stable storage before the in-memory entry is released, and
// reputation is settled for every witness the tally named.
func (m *Manager) applyTallies(b chain.Block, epoch chain.Epoch) {
	for _, tx := range b.Txns.Tally {
		for _, out := range tx.Body.Outputs {
			if out.Kind != chain.OutputTally || out.Tally == nil {
				continue
			}
			pointer := out.Tally.DRPointer

			if _, ok := m.cfg.DRPool.Get(pointer); !ok {
				log.Debugf("Tally for unknown data request %s", pointer)
				continue
			}

			if err := m.cfg.Store.PutFinishedDataRequest(pointer, out.Tally.Result); err != nil {
				log.Errorf("Failed to persist finished data request %s: %v", pointer, err)
			}

			st, err := m.cfg.DRPool.Tally(pointer)
			if err != nil {
				log.Debugf("Tally for unknown data request %s: %v", pointer, err)
				continue
			}

			m.settleReputation(st, out.Tally, epoch)
			m.metrics.dataRequestFinished()
		}
	}
}

// settleReputation credits every in-consensus witness and penalizes the
// ones the tally marked out of consensus or erroring.
func (m *Manager) settleReputation(st *datarequest.State, tally *chain.TallyOutput, epoch chain.Epoch) {
	outOfConsensus := make(map[chain.PublicKeyHash]struct{}, len(tally.OutOfConsensus))
	for _, pkh := range tally.OutOfConsensus {
		outOfConsensus[pkh] = struct{}{}
	}
	for _, pkh := range tally.Error {
		outOfConsensus[pkh] = struct{}{}
	}

	rep := m.cfg.State.Reputation
	for _, commit := range st.Commits {
		if _, bad := outOfConsensus[commit.PKH]; bad {
			rep.Penalize(commit.PKH, 1)
			continue
		}
		rep.AddReputation(commit.PKH, 1, epoch)
	}
}

// handleAddTransaction routes a peer-announced transaction into the
// mempool partition matching its kind. Rejections are logged and
// dropped, never escalated. An accepted transaction is held pending
// until the external signature service confirms it; only then is it
// visible to mining and gossiped onward.
func (m *Manager) handleAddTransaction(at session.AddTransaction) {
	var err error
	stashed := false
	switch at.Tx.Kind {
	case session.TxKindValueTransfer:
		err = m.cfg.Mempool.InsertVT(chain.VTTransaction{Body: at.Tx.Body}, m.cfg.State)

	case session.TxKindDataRequest:
		err = m.cfg.Mempool.InsertDR(chain.DRTransaction{Body: at.Tx.Body}, m.cfg.State)

	case session.TxKindCommit:
		err = m.cfg.Mempool.InsertCommit(chain.CommitTransaction{Body: at.Tx.Body}, m.cfg.State)

	case session.TxKindReveal:
		stashed, err = m.insertOrStashReveal(chain.RevealTransaction{Body: at.Tx.Body})

	default:
		log.Warnf("Transaction from %s with unknown kind %d", at.Peer, at.Tx.Kind)
		return
	}

	if err != nil {
		log.Debugf("Rejected %s transaction from %s: %v", at.Tx.Kind, at.Peer, err)
		return
	}
	if stashed {
		// Stashed reveals are rebroadcast when their reveal window
		// opens, not now.
		return
	}

	if m.cfg.VerifyTx == nil {
		m.cfg.Sessions.Broadcast(&at.Tx, false)
		return
	}

	// Hold the transaction out of iteration while the signature service
	// works; the verdict re-enters the actor loop as a txVerifiedMsg. A
	// verification still unfinished at the next epoch boundary is
	// discarded by ClearPendingTransactions.
	m.cfg.Mempool.MarkPending(at.Tx.Body.Hash())
	tx := at.Tx
	go func() {
		m.send(txVerifiedMsg{tx: tx, err: m.cfg.VerifyTx(tx.Body)})
	}()
}

// handleTxVerified settles a pending transaction once its signature
// verification finished: failures are removed, successes become visible
// to mining again and are gossiped onward.
func (m *Manager) handleTxVerified(t txVerifiedMsg) {
	hash := t.tx.Body.Hash()

	if t.err != nil {
		log.Debugf("Signature verification failed for %s transaction %s: %v", t.tx.Kind, hash, t.err)
		m.cfg.Mempool.Remove(hash)
		return
	}

	if !m.cfg.Mempool.Has(hash) {
		// The epoch boundary cleared this transaction while its
		// verification was still in flight; the verdict is stale.
		return
	}

	m.cfg.Mempool.ResolvePending(hash)
	m.cfg.Sessions.Broadcast(&t.tx, false)
}

// insertOrStashReveal holds a reveal whose data request is still in its
// commit stage, meaning the commit it discloses has not been
// consolidated yet, and inserts it normally otherwise. stashed reports
// which path was taken.
func (m *Manager) insertOrStashReveal(tx chain.RevealTransaction) (stashed bool, err error) {
	for _, out := range tx.Body.Outputs {
		if out.Kind != chain.OutputReveal || out.Reveal == nil {
			continue
		}
		if st, ok := m.cfg.DRPool.Get(out.Reveal.DRPointer); ok && st.Stage == datarequest.StageCommit {
			return true, m.cfg.DRPool.StashReveal(out.Reveal.DRPointer, tx)
		}
	}
	return false, m.cfg.Mempool.InsertReveal(tx, m.cfg.State)
}

// persistState writes the current chain state snapshot through the
// Persistence Bridge in one batched write.
func (m *Manager) persistState() {
	if err := m.cfg.Store.PutChainState(m.cfg.State.Snapshot()); err != nil {
		log.Errorf("Failed to persist chain state: %v", err)
	}
}
