package session

import (
	"sync"

	"github.com/witnet/witnet-go/chain"
)

// Registry tracks every live peer session and aggregates their beacons.
// It sits between the per-connection Peer actors and the Chain State
// Machine: per-peer LastBeacon messages accumulate here and are delivered
// to the chain handler as one PeersBeacons per epoch, while
// the chain side's outbound calls fan out to the registered peers.
type Registry struct {
	mu sync.Mutex

	peers         map[string]*Peer
	outboundLimit int

	// beacons holds the latest beacon each peer reported since the last
	// Flush; a nil entry is a peer that is connected but silent.
	beacons map[string]*chain.LastBeacon

	// ownBeacon is what this node advertises, per SetLastBeacon.
	ownBeacon chain.LastBeacon

	chainHandler Handler
}

// NewRegistry constructs a Registry delivering aggregate messages to
// chainHandler.
func NewRegistry(outboundLimit int, chainHandler Handler) *Registry {
	return &Registry{
		peers:         make(map[string]*Peer),
		beacons:       make(map[string]*chain.LastBeacon),
		outboundLimit: outboundLimit,
		chainHandler:  chainHandler,
	}
}

// Register adds a started peer session.
func (r *Registry) Register(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.id] = p
	r.beacons[p.id] = nil
	log.Infof("session: registered peer %s (%d connected)", p.id, len(r.peers))
}

// Unregister disconnects and forgets the named peers. Implements the
// chain side's disconnect policy hook.
func (r *Registry) Unregister(peers []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range peers {
		p, ok := r.peers[id]
		if !ok {
			continue
		}
		delete(r.peers, id)
		delete(r.beacons, id)
		go p.Stop()
		log.Infof("session: unregistered peer %s", id)
	}
}

// HandlePeersBeacons implements Handler for the per-connection Peer
// actors: a single peer's beacon report is folded into this epoch's
// accumulator rather than forwarded directly.
func (r *Registry) HandlePeersBeacons(pb PeersBeacons) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, b := range pb.PB {
		if _, known := r.beacons[id]; known {
			r.beacons[id] = b
		}
	}
}

// HandleAddBlocks implements Handler, forwarding to the chain side.
func (r *Registry) HandleAddBlocks(ab AddBlocks) { r.chainHandler.HandleAddBlocks(ab) }

// HandleAddCandidates implements Handler, forwarding to the chain side.
func (r *Registry) HandleAddCandidates(ac AddCandidates) { r.chainHandler.HandleAddCandidates(ac) }

// HandleAddTransaction implements Handler, forwarding to the chain side.
func (r *Registry) HandleAddTransaction(at AddTransaction) { r.chainHandler.HandleAddTransaction(at) }

// HandleAddSuperBlockVote implements Handler, forwarding to the chain side.
func (r *Registry) HandleAddSuperBlockVote(av AddSuperBlockVote) {
	r.chainHandler.HandleAddSuperBlockVote(av)
}

// FlushBeacons delivers the epoch's accumulated PeersBeacons to the chain
// handler and resets the accumulator. Called once per epoch tick by the
// node wiring, before the tick itself reaches the Chain State Machine.
func (r *Registry) FlushBeacons() {
	r.mu.Lock()
	pb := make(map[string]*chain.LastBeacon, len(r.beacons))
	for id, b := range r.beacons {
		pb[id] = b
		r.beacons[id] = nil
	}
	limit := r.outboundLimit
	r.mu.Unlock()

	if len(pb) == 0 {
		return
	}
	r.chainHandler.HandlePeersBeacons(PeersBeacons{PB: pb, OutboundLimit: limit})
}

// Broadcast sends msg to every connected peer.
// OnlyInbound restricts gossip echo to peers that dialed us.
func (r *Registry) Broadcast(msg Message, onlyInbound bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.peers {
		if onlyInbound && !p.inbound {
			continue
		}
		p.QueueMessage(msg)
	}
}

// RequestBlocks asks one connected peer for a batch of blocks starting at
// from. Peers are tried in map order; the
// choice of peer is not consensus-relevant, only its answer is.
func (r *Registry) RequestBlocks(from chain.CheckpointBeacon, limit uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.peers {
		p.QueueMessage(&InventoryRequest{From: from, Limit: limit})
		return
	}
	log.Warnf("session: no peer available for block request from %s", from)
}

// AnnounceBlock advertises a freshly consolidated block hash to every
// peer.
func (r *Registry) AnnounceBlock(hash chain.Hash) {
	r.Broadcast(&InventoryAnnouncement{Hashes: []chain.Hash{hash}}, false)
}

// SetLastBeacon records the beacon this node advertises.
func (r *Registry) SetLastBeacon(b chain.LastBeacon) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ownBeacon = b
}

// OwnBeacon returns the last beacon set by the chain side, answered to
// peers that ask.
func (r *Registry) OwnBeacon() chain.LastBeacon {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ownBeacon
}

// Len reports the number of connected peers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
