package chain

import (
	"bytes"
	"encoding/binary"
)

// Canonical, versioned binary serialization for transactions and blocks.
//
// The protocol only fixes the round-trip law (Serialize(Deserialize(b))
// == b) and the hashing rule (identity = SHA-256 of the canonical
// serialization); it deliberately leaves the wire encoding unspecified
// beyond that. This encoder follows the same length-prefixed,
// big-endian-field style as elkrem/serdes.go's ToBytes/FromBytes pair: fixed
// fields are written with binary.Write, variable-length fields are
// length-prefixed.

func writeUint8(buf *bytes.Buffer, v uint8) {
	_ = binary.Write(buf, binary.BigEndian, v)
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	_ = binary.Write(buf, binary.BigEndian, v)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	_ = binary.Write(buf, binary.BigEndian, v)
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	_ = binary.Write(buf, binary.BigEndian, v)
}

func writeHash(buf *bytes.Buffer, h Hash) {
	buf.Write(h.Bytes())
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func writePKH(buf *bytes.Buffer, p PublicKeyHash) {
	buf.Write(p[:])
}

func writeOutputPointer(buf *bytes.Buffer, p OutputPointer) {
	writeHash(buf, p.TransactionHash)
	writeUint32(buf, p.OutputIndex)
}

// SerializeOutput canonically encodes a single tagged Output.
func SerializeOutput(o Output) []byte {
	var buf bytes.Buffer
	writeUint8(&buf, uint8(o.Kind))
	writePKH(&buf, o.PKH)
	writeUint64(&buf, o.ValueNanoWit)

	switch o.Kind {
	case OutputDataRequest:
		if dr := o.DataRequest; dr != nil {
			writeUint16(&buf, dr.Witnesses)
			writeUint64(&buf, dr.CommitFee)
			writeUint64(&buf, dr.RevealFee)
			writeUint64(&buf, dr.TallyFee)
			writeUint64(&buf, dr.WitnessReward)
			writeUint32(&buf, dr.MinConsensusPct)
			writeUint64(&buf, dr.CollateralAmount)
			writeUint32(&buf, uint32(len(dr.DataRequest.Retrieve)))
			for _, r := range dr.DataRequest.Retrieve {
				writeUint8(&buf, uint8(r.Kind))
				writeBytes(&buf, []byte(r.URL))
				writeBytes(&buf, r.Script)
			}
			writeBytes(&buf, dr.DataRequest.Aggregate)
			writeBytes(&buf, dr.DataRequest.Tally)
		}
	case OutputCommit:
		if c := o.Commit; c != nil {
			writeOutputPointer(&buf, c.DRPointer)
			writeHash(&buf, c.Commitment)
			writeUint64(&buf, c.CollateralAmount)
		}
	case OutputReveal:
		if r := o.Reveal; r != nil {
			writeOutputPointer(&buf, r.DRPointer)
			writeBytes(&buf, r.Reveal)
		}
	case OutputTally:
		if t := o.Tally; t != nil {
			writeOutputPointer(&buf, t.DRPointer)
			writeBytes(&buf, t.Result)
			writeUint32(&buf, uint32(len(t.OutOfConsensus)))
			for _, p := range t.OutOfConsensus {
				writePKH(&buf, p)
			}
			writeUint32(&buf, uint32(len(t.Error)))
			for _, p := range t.Error {
				writePKH(&buf, p)
			}
		}
	}

	return buf.Bytes()
}

// SerializeTransaction canonically encodes a Transaction: version, inputs,
// outputs, signatures, in that order. Signatures are included in the hashed
// form deliberately.
func SerializeTransaction(t Transaction) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, t.Version)

	writeUint32(&buf, uint32(len(t.Inputs)))
	for _, in := range t.Inputs {
		writeOutputPointer(&buf, in)
	}

	writeUint32(&buf, uint32(len(t.Outputs)))
	for _, out := range t.Outputs {
		writeBytes(&buf, SerializeOutput(out))
	}

	writeUint32(&buf, uint32(len(t.Signatures)))
	for _, sig := range t.Signatures {
		writeBytes(&buf, sig.Signature)
		if sig.PublicKey != nil {
			writeBytes(&buf, sig.PublicKey.SerializeCompressed())
		} else {
			writeBytes(&buf, nil)
		}
	}

	return buf.Bytes()
}

// SerializeBlockHeader canonically encodes a BlockHeader. This is precisely
// the value whose hash is the block's identity (Block.Hash).
func SerializeBlockHeader(h BlockHeader) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, h.Version)
	writeUint32(&buf, uint32(h.Beacon.Checkpoint))
	writeHash(&buf, h.Beacon.HashPrevBlock)

	writeHash(&buf, h.MerkleRoots.MintHash)
	writeHash(&buf, h.MerkleRoots.ValueTransferRoot)
	writeHash(&buf, h.MerkleRoots.DataRequestRoot)
	writeHash(&buf, h.MerkleRoots.CommitRoot)
	writeHash(&buf, h.MerkleRoots.RevealRoot)
	writeHash(&buf, h.MerkleRoots.TallyRoot)

	writeBytes(&buf, h.VRFProof.Proof)
	writeHash(&buf, h.VRFProof.Output)

	return buf.Bytes()
}
