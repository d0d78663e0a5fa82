package chainmanager

import (
	"context"

	"github.com/witnet/witnet-go/chain"
	"github.com/witnet/witnet-go/datarequest"
	"github.com/witnet/witnet-go/radon"
	"github.com/witnet/witnet-go/session"
)

// mintReward is the block subsidy paid to the proposer's mint output, in
// nanowits.
const mintReward uint64 = 50_000_000_000

// mineDataRequests witnesses open data requests: for each data request
// whose commit window is open (up to the per-epoch retrieval budget) it
// runs the retrieve and aggregate stages, commits to the result, and
// stashes the reveal for broadcast once the commit consolidates.
func (m *Manager) mineDataRequests(epoch chain.Epoch) {
	budget := m.cfg.Mining.DataRequestMaxRetrievalsPerEpoch
	if budget <= 0 {
		return
	}

	for _, st := range m.cfg.DRPool.InCommitStage(epoch) {
		if m.hasOwnCommit(st) {
			continue
		}

		retrievals := len(st.Output.DataRequest.Retrieve)
		if retrievals > budget {
			log.Debugf("Skipping data request %s: %d sources exceed remaining budget %d",
				st.Pointer, retrievals, budget)
			continue
		}
		budget -= retrievals

		reveal, ok := m.executeRetrieval(st)
		if !ok {
			continue
		}
		m.commitToDataRequest(st, reveal)
	}
}

func (m *Manager) hasOwnCommit(st datarequest.State) bool {
	for _, c := range st.Commits {
		if c.PKH == m.cfg.OwnPKH {
			return true
		}
	}
	return false
}

// executeRetrieval runs the retrieve and aggregate stages for one data
// request. RadonError results are still committable values (the tally
// stage must be able to count failed witnesses), so only infrastructure
// errors (malformed scripts, encode faults) abort the attempt.
func (m *Manager) executeRetrieval(st datarequest.State) ([]byte, bool) {
	ctx := context.Background()
	if m.cfg.Mining.DataRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Mining.DataRequestTimeout)
		defer cancel()
	}

	dr := st.Output.DataRequest
	values := make([]radon.Value, 0, len(dr.Retrieve))
	for _, source := range dr.Retrieve {
		v, err := m.cfg.Rad.RunRetrieval(ctx, source)
		if err != nil {
			log.Warnf("Retrieval for %s failed: %v", st.Pointer, err)
			return nil, false
		}
		values = append(values, v)
	}

	aggregated, err := m.cfg.Rad.RunAggregation(values, dr.Aggregate)
	if err != nil {
		log.Warnf("Aggregation for %s failed: %v", st.Pointer, err)
		return nil, false
	}

	encoded, err := aggregated.Encode()
	if err != nil {
		log.Warnf("Cannot encode aggregation result for %s: %v", st.Pointer, err)
		return nil, false
	}
	return encoded, true
}

// commitToDataRequest builds and broadcasts this node's commit transaction
// and stashes the matching reveal with the DR pool.
func (m *Manager) commitToDataRequest(st datarequest.State, reveal []byte) {
	commitTx := chain.CommitTransaction{Body: chain.Transaction{
		Version: chain.TransactionVersion,
		Inputs:  []chain.OutputPointer{st.Pointer},
		Outputs: []chain.Output{{
			Kind: chain.OutputCommit,
			PKH:  m.cfg.OwnPKH,
			Commit: &chain.CommitOutput{
				DRPointer:        st.Pointer,
				Commitment:       chain.HashFromBytes(reveal),
				CollateralAmount: st.Output.CollateralAmount,
			},
		}},
	}}

	if err := m.cfg.Mempool.InsertCommit(commitTx, m.cfg.State); err != nil {
		log.Debugf("Own commit for %s rejected by mempool: %v", st.Pointer, err)
		return
	}

	revealTx := chain.RevealTransaction{Body: chain.Transaction{
		Version: chain.TransactionVersion,
		Inputs:  []chain.OutputPointer{{TransactionHash: commitTx.Body.Hash(), OutputIndex: 0}},
		Outputs: []chain.Output{{
			Kind: chain.OutputReveal,
			PKH:  m.cfg.OwnPKH,
			Reveal: &chain.RevealOutput{
				DRPointer: st.Pointer,
				Reveal:    reveal,
			},
		}},
	}}
	if err := m.cfg.DRPool.StashReveal(st.Pointer, revealTx); err != nil {
		log.Debugf("Cannot stash reveal for %s: %v", st.Pointer, err)
	}

	log.Infof("Committed to data request %s", st.Pointer)
	m.cfg.Sessions.Broadcast(&session.TransactionMsg{
		Kind: session.TxKindCommit,
		Body: commitTx.Body,
	}, false)
}

// mineBlock builds this node's block candidate for the epoch, if the VRF
// draw makes it eligible, and feeds it through the same candidate
// selection every peer-announced candidate goes through.
func (m *Manager) mineBlock(epoch chain.Epoch) {
	if m.cfg.VRF == nil {
		return
	}
	proof, eligible := m.cfg.VRF.Prove(m.cfg.State.HighestVRF())
	if !eligible {
		log.Debugf("Not eligible to propose a block for epoch %d", epoch)
		return
	}

	tip := m.cfg.State.Tip()

	txns := chain.BlockTransactions{
		Mint:   chain.NewMintTransaction(epoch, m.cfg.OwnPKH, mintReward),
		VT:     m.cfg.Mempool.VTIter(),
		DR:     m.cfg.Mempool.DRIter(),
		Commit: m.cfg.Mempool.CommitIter(),
		Reveal: m.cfg.Mempool.RevealIter(),
		Tally:  m.buildTallies(epoch),
	}

	block := chain.Block{
		Header: chain.BlockHeader{
			Version: chain.TransactionVersion,
			Beacon: chain.CheckpointBeacon{
				Checkpoint:    epoch,
				HashPrevBlock: tip.HashPrevBlock,
			},
			MerkleRoots: chain.ComputeMerkleRoots(txns),
			VRFProof:    proof,
		},
		Txns: txns,
	}

	diff, err := m.cfg.Validator.ValidateSemantic(block, m.cfg.State, epoch)
	if err != nil {
		log.Warnf("Own candidate failed semantic validation: %v", err)
		return
	}

	hash := block.Hash()
	log.Infof("Proposing block candidate %s for epoch %d", hash, epoch)

	cand := &BlockCandidate{Block: block, UtxoDiff: diff, VRFProof: proof}
	m.seenCandidates[hash] = struct{}{}
	if m.bestCandidate == nil || vrfLess(proof.Output, m.bestCandidate.VRFProof.Output) {
		m.bestCandidate = cand
	}

	m.cfg.Sessions.Broadcast(&session.BlockMsg{Block: block}, false)
	m.cfg.Sessions.AnnounceBlock(hash)
}

// buildTallies runs the tally stage for every data request whose reveal
// window has closed, turning its reveals into a Tally transaction. A data
// request none of whose reveals decode is still tallied: its tally script
// then runs over an empty array.
func (m *Manager) buildTallies(epoch chain.Epoch) []chain.TallyTransaction {
	var out []chain.TallyTransaction

	for _, pointer := range m.cfg.DRPool.ReadyForTally(epoch) {
		st, ok := m.cfg.DRPool.Get(pointer)
		if !ok {
			continue
		}

		var values []radon.Value
		var errored []chain.PublicKeyHash
		revealed := make(map[chain.PublicKeyHash]struct{}, len(st.Reveals))
		for _, r := range st.Reveals {
			revealed[r.PKH] = struct{}{}
			v, err := radon.Decode(r.Reveal)
			if err != nil {
				errored = append(errored, r.PKH)
				continue
			}
			if v.IsError() {
				errored = append(errored, r.PKH)
			}
			values = append(values, v)
		}

		var absent []chain.PublicKeyHash
		var inputs []chain.OutputPointer
		for _, c := range st.Commits {
			inputs = append(inputs, chain.OutputPointer{TransactionHash: c.TxHash, OutputIndex: 0})
			if _, ok := revealed[c.PKH]; !ok {
				absent = append(absent, c.PKH)
			}
		}

		result := m.cfg.Rad.RunTally(values, st.Output.DataRequest.Tally)
		encoded, err := result.Encode()
		if err != nil {
			log.Errorf("Cannot encode tally result for %s: %v", pointer, err)
			continue
		}

		out = append(out, chain.TallyTransaction{Body: chain.Transaction{
			Version: chain.TransactionVersion,
			Inputs:  inputs,
			Outputs: []chain.Output{{
				Kind: chain.OutputTally,
				PKH:  m.cfg.OwnPKH,
				Tally: &chain.TallyOutput{
					DRPointer:      pointer,
					Result:         encoded,
					OutOfConsensus: absent,
					Error:          errored,
				},
			}},
		}})
	}

	return out
}
