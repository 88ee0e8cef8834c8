// Copyright 2024 The emerald Authors

package assembly

import (
	"sort"

	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/shimerr"
)

// Buffer accumulates the parts of one in-flight proposal for a single
// (H,R), the in-memory form of a ReassemblyBuffers entry (spec.md §4.2).
// Only one proposal identity is ever held per (H,R): adding a part whose
// (H,R) disagrees with what is already buffered is rejected.
type Buffer struct {
	init *InitPart
	fin  *FinPart
	tx   map[uint32]TxPart

	wireInit []byte
	wireTx   map[uint32][]byte
}

// NewBuffer returns an empty reassembly buffer.
func NewBuffer() *Buffer {
	return &Buffer{tx: make(map[uint32]TxPart), wireTx: make(map[uint32][]byte)}
}

// AddInit ingests an Init part body as produced by EncodeInit, without its
// kind tag.
func (b *Buffer) AddInit(wire []byte) error {
	init, err := DecodeInit(wire)
	if err != nil {
		return err
	}
	if err := validateOrder(b.init, init.Height, init.Round); err != nil {
		return err
	}
	b.init = &init
	b.wireInit = wire
	return nil
}

// AddTx ingests a Tx part body as produced by EncodeTx, without its kind
// tag.
func (b *Buffer) AddTx(wire []byte) error {
	tx, err := DecodeTx(wire)
	if err != nil {
		return err
	}
	b.tx[tx.Index] = tx
	b.wireTx[tx.Index] = wire
	return nil
}

// AddFin ingests a Fin part body as produced by EncodeFin, without its kind
// tag.
func (b *Buffer) AddFin(wire []byte) error {
	fin, err := DecodeFin(wire)
	if err != nil {
		return err
	}
	b.fin = &fin
	return nil
}

// Complete reports whether Init+Fin are present, every Tx part from index
// 0 up to the highest seen is present with no gaps, and the reassembled
// bytes hash to Fin's declared value (spec.md §4.3's completion rule).
// Any mismatch means the buffer is not complete; callers discard it and
// let the round proceed to timeout.
func (b *Buffer) Complete() bool {
	if b.init == nil || b.fin == nil {
		return false
	}
	if !b.txContiguous() {
		return false
	}
	return b.computedHash() == b.fin.PayloadHash
}

func (b *Buffer) txContiguous() bool {
	indices := make([]int, 0, len(b.tx))
	for i := range b.tx {
		indices = append(indices, int(i))
	}
	sort.Ints(indices)
	for i, idx := range indices {
		if idx != i {
			return false
		}
	}
	return true
}

// computedHash re-applies each part's kind tag, since the Fin hash covers
// the tagged wire parts (see HashConcatenatedParts).
func (b *Buffer) computedHash() (h [32]byte) {
	wireParts := make([][]byte, 0, 1+len(b.wireTx))
	wireParts = append(wireParts, EncodePart(PartInit, b.wireInit))
	indices := make([]int, 0, len(b.wireTx))
	for i := range b.wireTx {
		indices = append(indices, int(i))
	}
	sort.Ints(indices)
	for _, idx := range indices {
		wireParts = append(wireParts, EncodePart(PartTx, b.wireTx[uint32(idx)]))
	}
	return HashConcatenatedParts(wireParts)
}

// Reassemble builds the proposal's header fields and ordered transactions
// once Complete reports true. It does not reconstruct the execution
// client's state/receipts roots; those come from the proposer's locally
// cached Payload (for the proposer) or from get_payload_bodies_by_range
// plus the retained BlockHeader (for everyone else, spec.md §4.6).
func (b *Buffer) Reassemble() (chaintypes.Height, chaintypes.Round, InitPart, [][]byte, error) {
	if !b.Complete() {
		return 0, 0, InitPart{}, nil, shimerr.Errorf(shimerr.KindProtocol, "assembly-incomplete",
			"reassembly buffer for round is not complete")
	}
	indices := make([]int, 0, len(b.tx))
	for i := range b.tx {
		indices = append(indices, int(i))
	}
	sort.Ints(indices)

	var txs [][]byte
	for _, idx := range indices {
		txs = append(txs, b.tx[uint32(idx)].Transactions...)
	}
	return b.init.Height, b.init.Round, *b.init, txs, nil
}
