// Copyright 2024 The emerald Authors

// Package assembly implements proposal splitting and reassembly (spec.md
// §4.3): a proposed DecidedValue is carried across the network as an
// ordered Init, zero-or-more Tx, and terminal Fin part, amortizing the
// cost of broadcasting a full payload.
package assembly

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/shimerr"
)

// PartKind discriminates the three part types of a proposal.
type PartKind uint8

const (
	PartInit PartKind = iota + 1
	PartTx
	PartFin
)

// InitPart identifies the proposal and carries the target payload header:
// proposer, fee recipient, and the header fields needed to recognize the
// block being proposed (spec.md §4.3).
type InitPart struct {
	Height       chaintypes.Height
	Round        chaintypes.Round
	Proposer     common.Address
	FeeRecipient common.Address

	Hash          common.Hash
	ParentHash    common.Hash
	Timestamp     uint64
	BlockNumber   uint64
	GasLimit      uint64
	GasUsed       uint64
	BaseFeePerGas *uint256.Int
}

// TxPart carries one ordered batch of transactions.
type TxPart struct {
	Index        uint32
	Transactions [][]byte
}

// FinPart terminates a proposal with the hash of the concatenated payload
// bytes (Init + all Tx parts, in order), per spec.md §4.3.
type FinPart struct {
	PayloadHash common.Hash
}

// Part is a single unit received over the wire, exactly one of Init, Tx,
// or Fin populated according to Kind.
type Part struct {
	Kind PartKind
	Init *InitPart
	Tx   *TxPart
	Fin  *FinPart
}

// InitPartFrom derives an InitPart from a locally assembled payload, used
// by the proposer to announce its proposal (spec.md §4.5 GetValue).
func InitPartFrom(h chaintypes.Height, r chaintypes.Round, proposer common.Address, p chaintypes.Payload) InitPart {
	return InitPart{
		Height:        h,
		Round:         r,
		Proposer:      proposer,
		FeeRecipient:  p.FeeRecipient,
		Hash:          p.BlockHash,
		ParentHash:    p.ParentHash,
		Timestamp:     p.Timestamp,
		BlockNumber:   p.BlockNumber,
		GasLimit:      p.GasLimit,
		GasUsed:       p.GasUsed,
		BaseFeePerGas: p.BaseFeePerGas,
	}
}

// SplitTransactions groups txs into Tx parts of at most maxPerPart
// transactions each, preserving order.
func SplitTransactions(txs [][]byte, maxPerPart int) []TxPart {
	if maxPerPart <= 0 {
		maxPerPart = len(txs)
		if maxPerPart == 0 {
			maxPerPart = 1
		}
	}
	var parts []TxPart
	for i := 0; i < len(txs); i += maxPerPart {
		end := i + maxPerPart
		if end > len(txs) {
			end = len(txs)
		}
		parts = append(parts, TxPart{Index: uint32(len(parts)), Transactions: txs[i:end]})
	}
	return parts
}

// validateOrder enforces spec.md §3's "only one proposal identity per
// (H,R)": every part in a buffer must name the same (height, round).
func validateOrder(existing *InitPart, h chaintypes.Height, r chaintypes.Round) error {
	if existing == nil {
		return nil
	}
	if existing.Height != h || existing.Round != r {
		return shimerr.Errorf(shimerr.KindProtocol, "assembly-mismatched-identity",
			"part for (H=%d,R=%d) does not match buffer's (H=%d,R=%d)", h, r, existing.Height, existing.Round)
	}
	return nil
}
