package session

import (
	"container/list"
	"io"
	"sync"
	"sync/atomic"

	"github.com/witnet/witnet-go/chain"
)

// outgoingMsg pairs a message with an optional channel closed once it has
// been written to the wire, letting callers synchronize sends when needed.
type outgoingMsg struct {
	msg  Message
	sent chan struct{}
}

// Peer is a minimal Session actor: one goroutine drains messages off the
// wire and dispatches them to a Handler, another drains an outgoing queue
// and writes them out, so a slow write never blocks an inbound message
// pump.
type Peer struct {
	id      string
	conn    io.ReadWriteCloser
	inbound bool

	handler Handler

	outgoingQueue chan outgoingMsg
	sendQueue     chan outgoingMsg

	disconnect int32
	quit       chan struct{}
	wg         sync.WaitGroup
}

// NewPeer wraps conn as a Session actor identified by id, dispatching
// inbound messages to handler. inbound records which side dialed: it
// gates Broadcast's only_inbound filter.
func NewPeer(id string, conn io.ReadWriteCloser, inbound bool, handler Handler) *Peer {
	return &Peer{
		id:            id,
		conn:          conn,
		inbound:       inbound,
		handler:       handler,
		outgoingQueue: make(chan outgoingMsg, 50),
		sendQueue:     make(chan outgoingMsg),
		quit:          make(chan struct{}),
	}
}

// Start launches the peer's read, write and queue goroutines.
func (p *Peer) Start() {
	p.wg.Add(3)
	go p.queueHandler()
	go p.writeHandler()
	go p.readHandler()
}

// Disconnect tears the connection down and signals every goroutine to
// exit, without waiting for them. Safe to call from the peer's own
// goroutines. Idempotent.
func (p *Peer) Disconnect() {
	if !atomic.CompareAndSwapInt32(&p.disconnect, 0, 1) {
		return
	}
	p.conn.Close()
	close(p.quit)
}

// Stop disconnects and blocks until every goroutine has exited. Must not
// be called from the peer's own goroutines; they use Disconnect.
func (p *Peer) Stop() error {
	p.Disconnect()
	p.wg.Wait()
	return nil
}

// QueueMessage enqueues msg for delivery to the peer without blocking the
// caller on the write itself.
func (p *Peer) QueueMessage(msg Message) {
	select {
	case p.outgoingQueue <- outgoingMsg{msg: msg}:
	case <-p.quit:
	}
}

func (p *Peer) readHandler() {
	defer p.wg.Done()
	for atomic.LoadInt32(&p.disconnect) == 0 {
		msg, err := ReadMessage(p.conn)
		if err != nil {
			log.Debugf("session: peer %s read error: %v", p.id, err)
			break
		}
		p.dispatch(msg)
	}
	p.Disconnect()
}

func (p *Peer) dispatch(msg Message) {
	switch m := msg.(type) {
	case *LastBeaconMsg:
		p.handler.HandlePeersBeacons(PeersBeacons{
			PB: map[string]*chain.LastBeacon{p.id: &m.Beacon},
		})
	case *BlockMsg:
		p.handler.HandleAddCandidates(AddCandidates{Peer: p.id, Blocks: []chain.Block{m.Block}})
	case *TransactionMsg:
		p.handler.HandleAddTransaction(AddTransaction{Peer: p.id, Tx: *m})
	case *SuperBlockVoteMsg:
		p.handler.HandleAddSuperBlockVote(AddSuperBlockVote{Peer: p.id, Vote: m.Vote})
	default:
		log.Warnf("session: peer %s sent unhandled message %T", p.id, msg)
	}
}

func (p *Peer) writeHandler() {
	defer p.wg.Done()
	for {
		select {
		case out := <-p.sendQueue:
			if err := WriteMessage(p.conn, out.msg); err != nil {
				log.Errorf("session: peer %s write error: %v", p.id, err)
				if out.sent != nil {
					close(out.sent)
				}
				p.Disconnect()
				return
			}
			if out.sent != nil {
				close(out.sent)
			}
		case <-p.quit:
			return
		}
	}
}

// queueHandler drains outgoingQueue into sendQueue, buffering in a list so
// a burst of QueueMessage calls never blocks on a stalled writeHandler.
func (p *Peer) queueHandler() {
	defer p.wg.Done()

	pending := list.New()
	for {
		front := pending.Front()
		if front != nil {
			select {
			case p.sendQueue <- front.Value.(outgoingMsg):
				pending.Remove(front)
				continue
			case <-p.quit:
				return
			case msg := <-p.outgoingQueue:
				pending.PushBack(msg)
				continue
			}
		}

		select {
		case msg := <-p.outgoingQueue:
			pending.PushBack(msg)
		case <-p.quit:
			return
		}
	}
}
