// Copyright 2024 The emerald Authors

package assembly

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/shimerr"
)

// Serialization per spec.md §4.3: fixed-width integers big-endian,
// addresses 20 bytes raw, hashes 32 bytes raw, variable-length fields
// length-prefixed with an unsigned 32-bit length.

func putUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func putUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func putBytes(buf []byte, b []byte) []byte {
	buf = putUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) uint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, shimerr.Errorf(shimerr.KindProtocol, "assembly-truncated", "truncated uint32 at offset %d", r.pos)
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) uint64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, shimerr.Errorf(shimerr.KindProtocol, "assembly-truncated", "truncated uint64 at offset %d", r.pos)
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) fixed(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, shimerr.Errorf(shimerr.KindProtocol, "assembly-truncated", "truncated %d-byte field at offset %d", n, r.pos)
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	return r.fixed(int(n))
}

// EncodeInit serializes an InitPart to the wire format of spec.md §4.3.
func EncodeInit(p InitPart) []byte {
	buf := make([]byte, 0, 256)
	buf = putUint64(buf, uint64(p.Height))
	buf = putUint32(buf, uint32(p.Round))
	buf = append(buf, p.Proposer.Bytes()...)
	buf = append(buf, p.FeeRecipient.Bytes()...)
	buf = append(buf, p.Hash.Bytes()...)
	buf = append(buf, p.ParentHash.Bytes()...)
	buf = putUint64(buf, p.Timestamp)
	buf = putUint64(buf, p.BlockNumber)
	buf = putUint64(buf, p.GasLimit)
	buf = putUint64(buf, p.GasUsed)
	baseFee := new(big.Int)
	if p.BaseFeePerGas != nil {
		baseFee = p.BaseFeePerGas.ToBig()
	}
	buf = putBytes(buf, baseFee.Bytes())
	return buf
}

// DecodeInit parses the wire format produced by EncodeInit.
func DecodeInit(raw []byte) (InitPart, error) {
	r := &reader{buf: raw}
	var p InitPart
	h, err := r.uint64()
	if err != nil {
		return p, err
	}
	p.Height = chaintypes.Height(h)
	round, err := r.uint32()
	if err != nil {
		return p, err
	}
	p.Round = chaintypes.Round(round)

	proposer, err := r.fixed(common.AddressLength)
	if err != nil {
		return p, err
	}
	p.Proposer = common.BytesToAddress(proposer)

	feeRecipient, err := r.fixed(common.AddressLength)
	if err != nil {
		return p, err
	}
	p.FeeRecipient = common.BytesToAddress(feeRecipient)

	hash, err := r.fixed(common.HashLength)
	if err != nil {
		return p, err
	}
	p.Hash = common.BytesToHash(hash)

	parentHash, err := r.fixed(common.HashLength)
	if err != nil {
		return p, err
	}
	p.ParentHash = common.BytesToHash(parentHash)

	if p.Timestamp, err = r.uint64(); err != nil {
		return p, err
	}
	if p.BlockNumber, err = r.uint64(); err != nil {
		return p, err
	}
	if p.GasLimit, err = r.uint64(); err != nil {
		return p, err
	}
	if p.GasUsed, err = r.uint64(); err != nil {
		return p, err
	}
	baseFee, err := r.bytes()
	if err != nil {
		return p, err
	}
	p.BaseFeePerGas = new(uint256.Int).SetBytes(baseFee)
	return p, nil
}

// EncodeTx serializes a TxPart.
func EncodeTx(p TxPart) []byte {
	buf := make([]byte, 0, 256)
	buf = putUint32(buf, p.Index)
	buf = putUint32(buf, uint32(len(p.Transactions)))
	for _, tx := range p.Transactions {
		buf = putBytes(buf, tx)
	}
	return buf
}

// DecodeTx parses the wire format produced by EncodeTx.
func DecodeTx(raw []byte) (TxPart, error) {
	r := &reader{buf: raw}
	var p TxPart
	idx, err := r.uint32()
	if err != nil {
		return p, err
	}
	p.Index = idx

	count, err := r.uint32()
	if err != nil {
		return p, err
	}
	p.Transactions = make([][]byte, count)
	for i := range p.Transactions {
		tx, err := r.bytes()
		if err != nil {
			return p, err
		}
		p.Transactions[i] = append([]byte(nil), tx...)
	}
	return p, nil
}

// EncodeFin serializes a FinPart.
func EncodeFin(p FinPart) []byte {
	return append([]byte(nil), p.PayloadHash.Bytes()...)
}

// DecodeFin parses the wire format produced by EncodeFin.
func DecodeFin(raw []byte) (FinPart, error) {
	r := &reader{buf: raw}
	hash, err := r.fixed(common.HashLength)
	if err != nil {
		return FinPart{}, err
	}
	return FinPart{PayloadHash: common.BytesToHash(hash)}, nil
}

// EncodePart wraps a Part's body with its one-byte kind tag, the unit
// actually placed on the wire and the unit the Fin hash is computed over.
func EncodePart(kind PartKind, body []byte) []byte {
	return append([]byte{byte(kind)}, body...)
}

// DecodePartKind strips and returns the kind tag, leaving body for the
// matching Decode* function.
func DecodePartKind(raw []byte) (PartKind, []byte, error) {
	if len(raw) < 1 {
		return 0, nil, shimerr.Errorf(shimerr.KindProtocol, "assembly-empty-part", "empty wire part")
	}
	return PartKind(raw[0]), raw[1:], nil
}
