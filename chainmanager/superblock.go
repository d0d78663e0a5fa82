package chainmanager

import (
	"github.com/witnet/witnet-go/chain"
	"github.com/witnet/witnet-go/session"
)

// superblockVotes accumulates ARS members' votes per superblock index
// until one beacon reaches a two-thirds majority of the ARS.
type superblockVotes struct {
	byIndex map[uint32]map[chain.CheckpointBeacon]map[chain.PublicKeyHash]struct{}
}

func newSuperblockVotes() *superblockVotes {
	return &superblockVotes{
		byIndex: make(map[uint32]map[chain.CheckpointBeacon]map[chain.PublicKeyHash]struct{}),
	}
}

// record registers one vote, deduplicating by voter: an ARS member gets
// exactly one vote per index, first one wins. Returns the number of
// distinct voters now behind the vote's beacon.
func (v *superblockVotes) record(vote session.SuperBlockVote) int {
	beacons, ok := v.byIndex[vote.Index]
	if !ok {
		beacons = make(map[chain.CheckpointBeacon]map[chain.PublicKeyHash]struct{})
		v.byIndex[vote.Index] = beacons
	}

	for _, voters := range beacons {
		if _, voted := voters[vote.Voter]; voted {
			return len(beacons[vote.Beacon])
		}
	}

	voters, ok := beacons[vote.Beacon]
	if !ok {
		voters = make(map[chain.PublicKeyHash]struct{})
		beacons[vote.Beacon] = voters
	}
	voters[vote.Voter] = struct{}{}
	return len(voters)
}

// prune drops vote bookkeeping for every index at or below consolidated.
func (v *superblockVotes) prune(consolidated uint32) {
	for idx := range v.byIndex {
		if idx <= consolidated {
			delete(v.byIndex, idx)
		}
	}
}

// buildAndVoteSuperblock rolls the blocks consolidated since the previous
// superblock boundary into a superblock and, when this node is an ARS
// member, signs and broadcasts a vote for it.
func (m *Manager) buildAndVoteSuperblock(epoch chain.Epoch) {
	period := m.cfg.Constants.SuperblockPeriod
	index := uint32(epoch) / period
	if index == 0 {
		return
	}

	// The window being rolled up is the one that just closed:
	// [(index-1)*period, index*period).
	windowStart := chain.Epoch((index - 1) * period)
	var hashes []chain.Hash
	for e := windowStart; e < epoch; e++ {
		if h, ok := m.cfg.State.HashAt(e); ok {
			hashes = append(hashes, h)
		}
	}
	if len(hashes) == 0 {
		log.Debugf("Superblock window %d is empty, nothing to roll up", index)
		return
	}

	sbHash := superblockHash(index, hashes)
	beacon := chain.CheckpointBeacon{
		Checkpoint:    chain.Epoch(index * period),
		HashPrevBlock: sbHash,
	}

	vote := session.SuperBlockVote{Index: index, Beacon: beacon, Voter: m.cfg.OwnPKH}

	rep := m.cfg.State.Reputation
	if rep != nil && rep.IsActive(m.cfg.OwnPKH, epoch) && rep.GetReputation(m.cfg.OwnPKH) > 0 {
		log.Infof("Voting for superblock %d (%s, %d blocks)", index, sbHash, len(hashes))
		m.votes.record(vote)
		m.cfg.Sessions.Broadcast(&session.SuperBlockVoteMsg{Vote: vote}, false)
		m.maybeConsolidateSuperblock(vote)
	}
}

// handleAddSuperBlockVote counts one ARS member's superblock vote. Votes
// from identities outside the ARS carry no weight and are dropped.
func (m *Manager) handleAddSuperBlockVote(av session.AddSuperBlockVote) {
	vote := av.Vote

	rep := m.cfg.State.Reputation
	if rep == nil || !rep.IsActive(vote.Voter, m.currentEpoch) || rep.GetReputation(vote.Voter) == 0 {
		log.Debugf("Superblock vote from non-ARS identity %s via %s", vote.Voter, av.Peer)
		return
	}
	if vote.Index <= m.cfg.State.SuperblockInfo().Index && m.cfg.State.SuperblockInfo().Index != 0 {
		// Votes for already consolidated windows can never change
		// anything.
		return
	}

	m.votes.record(vote)
	m.maybeConsolidateSuperblock(vote)
}

// maybeConsolidateSuperblock consolidates vote's beacon once the distinct
// voters behind it reach a two-thirds majority of the current ARS.
func (m *Manager) maybeConsolidateSuperblock(vote session.SuperBlockVote) {
	rep := m.cfg.State.Reputation
	if rep == nil {
		return
	}

	arsSize := len(rep.ARS(m.currentEpoch))
	if arsSize == 0 {
		return
	}

	voters := len(m.votes.byIndex[vote.Index][vote.Beacon])
	needed := (2*arsSize + 2) / 3
	if voters < needed {
		return
	}

	if err := m.cfg.State.SetSuperblock(vote.Index, vote.Beacon); err != nil {
		panicInvariant("%v", err)
	}
	m.votes.prune(vote.Index)
	m.persistState()

	log.Infof("Superblock %d consolidated with %d/%d ARS votes: %s",
		vote.Index, voters, arsSize, vote.Beacon)
}

// superblockHash digests a superblock's identity: one SHA-256 over its
// big-endian index followed by the concatenated block hashes inside its
// window, in epoch order.
func superblockHash(index uint32, hashes []chain.Hash) chain.Hash {
	buf := make([]byte, 0, 4+len(hashes)*chain.HashSize)
	buf = append(buf, byte(index>>24), byte(index>>16), byte(index>>8), byte(index))
	for _, h := range hashes {
		buf = append(buf, h.Bytes()...)
	}
	return chain.HashFromBytes(buf)
}
