// Package session implements the Session Interface: the
// contract between a peer connection and the Chain State Machine, plus the
// wire framing peer messages travel over.
package session

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/witnet/witnet-go/arbiter"
	"github.com/witnet/witnet-go/chain"
)

// Command is the single identifier byte a peer message is framed behind.
type Command uint8

const (
	CmdLastBeacon Command = iota + 1
	CmdInventoryAnnouncement
	CmdInventoryRequest
	CmdBlock
	CmdTransaction
	CmdSuperBlockVote
)

func (c Command) String() string {
	switch c {
	case CmdLastBeacon:
		return "LastBeacon"
	case CmdInventoryAnnouncement:
		return "InventoryAnnouncement"
	case CmdInventoryRequest:
		return "InventoryRequest"
	case CmdBlock:
		return "Block"
	case CmdTransaction:
		return "Transaction"
	case CmdSuperBlockVote:
		return "SuperBlockVote"
	default:
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
}

// MaxPayload bounds a single framed message, regardless of command.
const MaxPayload = 16 << 20

// Message is a peer wire message: an identifier byte, a length prefix, and a
// cbor-encoded payload.
type Message interface {
	Command() Command
}

// LastBeaconMsg announces the sender's current beacon.
type LastBeaconMsg struct {
	Beacon chain.LastBeacon
}

func (LastBeaconMsg) Command() Command { return CmdLastBeacon }

// InventoryAnnouncement advertises block hashes the sender has available.
type InventoryAnnouncement struct {
	Hashes []chain.Hash
}

func (InventoryAnnouncement) Command() Command { return CmdInventoryAnnouncement }

// InventoryRequest asks a peer for blocks starting at From, up to Limit.
type InventoryRequest struct {
	From  chain.CheckpointBeacon
	Limit uint32
}

func (InventoryRequest) Command() Command { return CmdInventoryRequest }

// BlockMsg carries a single consolidated or candidate block.
type BlockMsg struct {
	Block chain.Block
}

func (BlockMsg) Command() Command { return CmdBlock }

// TransactionMsg carries a mempool-bound transaction. Kind disambiguates
// which pool it belongs in, since the wire envelope doesn't carry a Go type.
type TransactionKind uint8

const (
	TxKindValueTransfer TransactionKind = iota
	TxKindDataRequest
	TxKindCommit
	TxKindReveal
)

func (k TransactionKind) String() string {
	switch k {
	case TxKindValueTransfer:
		return "ValueTransfer"
	case TxKindDataRequest:
		return "DataRequest"
	case TxKindCommit:
		return "Commit"
	case TxKindReveal:
		return "Reveal"
	default:
		return fmt.Sprintf("TransactionKind(%d)", uint8(k))
	}
}

type TransactionMsg struct {
	Kind TransactionKind
	Body chain.Transaction
}

func (TransactionMsg) Command() Command { return CmdTransaction }

// SuperBlockVote is a vote by an ARS member for a superblock index/beacon.
type SuperBlockVote struct {
	Index  uint32
	Beacon chain.CheckpointBeacon
	Voter  chain.PublicKeyHash
}

type SuperBlockVoteMsg struct {
	Vote SuperBlockVote
}

func (SuperBlockVoteMsg) Command() Command { return CmdSuperBlockVote }

func commandFor(c Command) (Message, error) {
	switch c {
	case CmdLastBeacon:
		return &LastBeaconMsg{}, nil
	case CmdInventoryAnnouncement:
		return &InventoryAnnouncement{}, nil
	case CmdInventoryRequest:
		return &InventoryRequest{}, nil
	case CmdBlock:
		return &BlockMsg{}, nil
	case CmdTransaction:
		return &TransactionMsg{}, nil
	case CmdSuperBlockVote:
		return &SuperBlockVoteMsg{}, nil
	default:
		return nil, fmt.Errorf("session: unknown command %d", c)
	}
}

// WriteMessage frames msg as [command byte][uint32 length][cbor payload]
// and writes it to w.
func WriteMessage(w io.Writer, msg Message) error {
	payload, err := cbor.Marshal(msg)
	if err != nil {
		return err
	}
	if len(payload) > MaxPayload {
		return fmt.Errorf("session: payload of %d bytes exceeds max %d", len(payload), MaxPayload)
	}

	header := make([]byte, 5)
	header[0] = byte(msg.Command())
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadMessage reads and decodes a single framed message from r.
func ReadMessage(r io.Reader) (Message, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[1:])
	if length > MaxPayload {
		return nil, fmt.Errorf("session: announced payload of %d bytes exceeds max %d", length, MaxPayload)
	}

	msg, err := commandFor(Command(header[0]))
	if err != nil {
		return nil, err
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	if err := cbor.Unmarshal(payload, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Broadcast requests every (or every inbound) connected peer be sent the
// given command.
type Broadcast struct {
	Msg         Message
	OnlyInbound bool
}

// RequestBlocks asks the sync target's peer for blocks from a given beacon.
type RequestBlocks struct {
	From  chain.CheckpointBeacon
	Limit uint32
}

// AnnounceBlock tells peers a new block hash is available.
type AnnounceBlock struct {
	Hash chain.Hash
}

// SetLastBeacon updates the beacon a peer advertises to others.
type SetLastBeacon struct {
	Beacon chain.LastBeacon
}

// PeersBeacons is delivered once per epoch: every outbound peer's reported
// beacon (or none), for the Peer-Consensus Arbiter to judge.
type PeersBeacons struct {
	PB            arbiter.PeerBeacons
	OutboundLimit int
}

// AddBlocks delivers a batch of blocks fetched from a peer in response to a
// RequestBlocks.
type AddBlocks struct {
	Peer   string
	Blocks []chain.Block
}

// AddCandidates delivers unsolicited candidate blocks announced by a peer.
type AddCandidates struct {
	Peer   string
	Blocks []chain.Block
}

// AddTransaction delivers a transaction announced by a peer.
type AddTransaction struct {
	Peer string
	Tx   TransactionMsg
}

// AddSuperBlockVote delivers an ARS member's superblock vote.
type AddSuperBlockVote struct {
	Peer string
	Vote SuperBlockVote
}

// Handler is the Chain State Machine's side of the contract: every inbound
// message a Peer can deliver.
type Handler interface {
	HandlePeersBeacons(PeersBeacons)
	HandleAddBlocks(AddBlocks)
	HandleAddCandidates(AddCandidates)
	HandleAddTransaction(AddTransaction)
	HandleAddSuperBlockVote(AddSuperBlockVote)
}
