// Package persistence implements the Persistence Bridge: a
// bbolt-backed store keyed by network magic, so a node can
// restore its chain state and finished data requests across restarts.
// Every write is its own synchronous bbolt transaction; there is no
// write-behind queue.
package persistence

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"

	"github.com/witnet/witnet-go/chain"
	"github.com/witnet/witnet-go/chainstate"
)

const (
	dbName           = "witnet.db"
	dbFilePermission = 0600
)

var (
	metaBucket  = []byte("meta")
	stateBucket = []byte("chain-state")
	drBucket    = []byte("dr-report")
	blockBucket = []byte("block")
)

// ErrNetworkMagicMismatch is returned by Open when an existing database was
// created under a different consensus configuration.
var ErrNetworkMagicMismatch = fmt.Errorf("persistence: network magic of existing database does not match configuration")

// Store is the node's key-value store. It owns exactly the buckets this
// package manages; nothing outside persistence talks to bbolt directly.
type Store struct {
	db     *bbolt.DB
	dbPath string
	magic  uint16
}

// Open opens (creating if necessary) the store at dbPath for the given
// network magic. If the store already holds a different magic, Open fails
// with ErrNetworkMagicMismatch rather than silently mixing chain data.
func Open(dbPath string, magic uint16) (*Store, error) {
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return nil, err
	}

	path := filepath.Join(dbPath, dbName)
	bdb, err := bbolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return nil, err
	}

	s := &Store{db: bdb, dbPath: dbPath, magic: magic}

	if err := s.db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(stateBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(drBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(blockBucket); err != nil {
			return err
		}

		existing := meta.Get(magicKey)
		if existing == nil {
			return meta.Put(magicKey, encodeMagic(magic))
		}
		if decodeMagic(existing) != magic {
			return ErrNetworkMagicMismatch
		}
		return nil
	}); err != nil {
		bdb.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

var magicKey = []byte("network-magic")

func encodeMagic(m uint16) []byte {
	return []byte{byte(m >> 8), byte(m)}
}

func decodeMagic(b []byte) uint16 {
	if len(b) != 2 {
		return 0
	}
	return uint16(b[0])<<8 | uint16(b[1])
}

// chainStateKey is fixed: a node tracks exactly one chain state per magic,
// and the magic is already namespaced by the database file itself.
var chainStateKey = []byte("snapshot")

// PutChainState writes a full chain state snapshot in a single batched
// transaction, so a crash mid-write never leaves a partially updated
// snapshot on disk.
func (s *Store) PutChainState(snap chainstate.Snapshot) error {
	log.Debugf("persistence: writing chain state snapshot at tip %s", snap.Info.HighestBlockCheckpoint)

	buf, err := cbor.Marshal(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(stateBucket).Put(chainStateKey, buf)
	})
}

// GetChainState restores the most recently persisted chain state snapshot.
// ok is false when the store has never been written to.
func (s *Store) GetChainState() (snap chainstate.Snapshot, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		buf := tx.Bucket(stateBucket).Get(chainStateKey)
		if buf == nil {
			return nil
		}
		if decodeErr := cbor.Unmarshal(buf, &snap); decodeErr != nil {
			return decodeErr
		}
		ok = true
		return nil
	})
	return snap, ok, err
}

// PutFinishedDataRequest persists a data request's terminal state. Callers
// must write it to the store before removing it from the in-memory pool,
// so a finished DR is never lost between the two.
func (s *Store) PutFinishedDataRequest(pointer chain.OutputPointer, report []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(drBucket).Put(drKey(pointer), report)
	})
}

// GetFinishedDataRequest fetches a previously persisted data request report.
func (s *Store) GetFinishedDataRequest(pointer chain.OutputPointer) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(drBucket).Get(drKey(pointer)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, out != nil, err
}

func drKey(pointer chain.OutputPointer) []byte {
	return append(pointer.TransactionHash.Bytes(), byte(pointer.OutputIndex))
}

// EncodeBlock canonically encodes a full block for archival storage:
// header and every transaction group, length-prefixed, using the same
// canonical transaction encoding the block's merkle roots are built from.
// Unlike SerializeBlockHeader this is not the block's identity encoding
// (that's the header alone); it exists purely so PutBlock has durable bytes
// to write.
func EncodeBlock(b chain.Block) []byte {
	var buf bytes.Buffer
	writeChunk(&buf, chain.SerializeBlockHeader(b.Header))
	writeChunk(&buf, chain.SerializeTransaction(b.Txns.Mint))

	writeUint32(&buf, uint32(len(b.Txns.VT)))
	for _, t := range b.Txns.VT {
		writeChunk(&buf, chain.SerializeTransaction(t.Body))
	}
	writeUint32(&buf, uint32(len(b.Txns.DR)))
	for _, t := range b.Txns.DR {
		writeChunk(&buf, chain.SerializeTransaction(t.Body))
	}
	writeUint32(&buf, uint32(len(b.Txns.Commit)))
	for _, t := range b.Txns.Commit {
		writeChunk(&buf, chain.SerializeTransaction(t.Body))
	}
	writeUint32(&buf, uint32(len(b.Txns.Reveal)))
	for _, t := range b.Txns.Reveal {
		writeChunk(&buf, chain.SerializeTransaction(t.Body))
	}
	writeUint32(&buf, uint32(len(b.Txns.Tally)))
	for _, t := range b.Txns.Tally {
		writeChunk(&buf, chain.SerializeTransaction(t.Body))
	}

	return buf.Bytes()
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	_ = binary.Write(buf, binary.BigEndian, v)
}

func writeChunk(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

// PutBlock persists a consolidated block's canonical encoding, indexed by
// its identity hash.
func (s *Store) PutBlock(b chain.Block) error {
	raw := EncodeBlock(b)
	hash := b.Hash()
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(blockBucket).Put(hash.Bytes(), raw)
	})
}

// GetBlockBytes fetches a previously consolidated block's canonical
// encoding by hash. Full block reconstruction is out of scope here: the
// wire-level decoder lives wherever a block is fetched from a peer, not in
// the persistence layer.
func (s *Store) GetBlockBytes(hash chain.Hash) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(blockBucket).Get(hash.Bytes()); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, out != nil, err
}
