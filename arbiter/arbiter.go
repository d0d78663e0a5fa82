// Package arbiter implements the Peer-Consensus Arbiter: it
// aggregates the LastBeacon each outbound peer reported this epoch into a
// single target beacon the Sync Engine should chase, and decides which
// peers disagreed enough to be disconnected.
package arbiter

import (
	"github.com/witnet/witnet-go/chain"
)

// PeerBeacons is the map of peer identifier to the LastBeacon it reported
// this epoch, or nil if the peer reported nothing.
type PeerBeacons map[string]*chain.LastBeacon

// Result is the outcome of a successful Consensus call: the agreed-upon
// beacon and whether the block half of it carries a strict majority.
type Result struct {
	Beacon              chain.LastBeacon
	BlockConsensusStrong bool
}

type beaconSlot struct {
	has    bool
	beacon chain.CheckpointBeacon
}

// quorum computes ceil(outboundLimit * thresholdPct / 100): the number of
// agreeing peers required for consensus.
func quorum(outboundLimit, thresholdPct int) int {
	if outboundLimit <= 0 {
		return 0
	}
	return (outboundLimit*thresholdPct + 99) / 100
}

// Consensus computes the target beacon: pad pb with
// outbound_limit - len(pb) "no-beacon" entries, find the modal superblock
// beacon among all of them, and, if that reaches quorum, find the modal
// block beacon among only the peers that reported that same superblock.
//
// It returns ok=false when no superblock beacon reaches quorum, or when
// the modal entry is itself "no beacon" (a peer sample dominated by
// silence carries no consensus signal, even if it technically reaches
// quorum).
func Consensus(pb PeerBeacons, outboundLimit int, thresholdPct int) (Result, bool) {
	needed := quorum(outboundLimit, thresholdPct)

	slots := make([]beaconSlot, 0, outboundLimit)
	for _, b := range pb {
		if b == nil {
			slots = append(slots, beaconSlot{has: false})
			continue
		}
		slots = append(slots, beaconSlot{has: true, beacon: b.HighestSuperblockCheckpoint})
	}
	for len(slots) < outboundLimit {
		slots = append(slots, beaconSlot{has: false})
	}

	sbMode, sbCount := modeOf(slots)
	if !sbMode.has || sbCount < needed {
		log.Debugf("arbiter: no superblock consensus: best count %d, needed %d", sbCount, needed)
		return Result{}, false
	}

	var blockSlots []beaconSlot
	for _, b := range pb {
		if b != nil && b.HighestSuperblockCheckpoint == sbMode.beacon {
			blockSlots = append(blockSlots, beaconSlot{has: true, beacon: b.HighestBlockCheckpoint})
		}
	}

	blockMode, blockCount := modeOf(blockSlots)
	strong := 2*blockCount > len(blockSlots)

	return Result{
		Beacon: chain.LastBeacon{
			HighestSuperblockCheckpoint: sbMode.beacon,
			HighestBlockCheckpoint:      blockMode.beacon,
		},
		BlockConsensusStrong: strong,
	}, true
}

// modeOf returns the most frequent slot and its count, breaking ties by
// the smallest beacon hash, so Consensus is pure and reproducible given
// identical inputs.
func modeOf(slots []beaconSlot) (beaconSlot, int) {
	type key struct {
		has    bool
		beacon chain.CheckpointBeacon
	}
	counts := make(map[key]int)
	for _, s := range slots {
		counts[key{has: s.has, beacon: s.beacon}]++
	}

	var best beaconSlot
	bestCount := 0
	haveBest := false
	for k, c := range counts {
		cand := beaconSlot{has: k.has, beacon: k.beacon}
		if !haveBest || c > bestCount || (c == bestCount && less(cand, best)) {
			best, bestCount, haveBest = cand, c, true
		}
	}
	return best, bestCount
}

func less(a, b beaconSlot) bool {
	if a.has != b.has {
		return !a.has
	}
	ah, bh := a.beacon.HashPrevBlock.Bytes(), b.beacon.HashPrevBlock.Bytes()
	for i := range ah {
		if ah[i] != bh[i] {
			return ah[i] < bh[i]
		}
	}
	return false
}

// DecidePeersToUnregister returns the peers whose reported beacon
// disagrees with the consensus beacon.
func DecidePeersToUnregister(pb PeerBeacons, beacon chain.LastBeacon) []string {
	var out []string
	for peer, b := range pb {
		if b == nil || *b != beacon {
			out = append(out, peer)
		}
	}
	return out
}

// PeersWithNoBeacon returns the peers that reported nothing this epoch.
func PeersWithNoBeacon(pb PeerBeacons) []string {
	var out []string
	for peer, b := range pb {
		if b == nil {
			out = append(out, peer)
		}
	}
	return out
}
