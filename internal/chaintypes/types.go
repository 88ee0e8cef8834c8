// Copyright 2024 The emerald Authors

// Package chaintypes holds the data model shared by every component of the
// consensus-execution shim: heights and rounds, validators and validator
// sets, the execution Payload envelope, decided values and their
// certificates, pruned block headers, and proposal parts.
package chaintypes

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Height is a monotonically increasing, non-negative block height. Genesis
// is height 0 conceptually; the first decided height is 1.
type Height uint64

// Round is a per-height round number, reset to 0 at the start of each height.
type Round uint32

// Validator is one member of a ValidatorSet.
type Validator struct {
	Address common.Address
	Key     ValidatorKey
	Power   uint64
}

// ValidatorKey is a canonicalized secp256k1 public key. The wire format
// (compressed or uncompressed) is normalized to (X, Y) on read; see
// internal/validatorset for the canonicalization path from the PoA
// registry's raw bytes.
type ValidatorKey struct {
	X, Y [32]byte
}

// Payload is the execution-layer block produced or validated through the
// Engine API. Fields mirror the subset of the execution payload envelope
// the shim must round-trip; it does not interpret transaction contents.
type Payload struct {
	ParentHash    common.Hash
	FeeRecipient  common.Address
	StateRoot     common.Hash
	ReceiptsRoot  common.Hash
	LogsBloom     [256]byte
	PrevRandao    common.Hash // always zero: spec.md §6.5, no beacon randomness
	BlockNumber   uint64
	GasLimit      uint64
	GasUsed       uint64
	Timestamp     uint64
	ExtraData     []byte
	BaseFeePerGas *uint256.Int
	BlockHash     common.Hash
	Transactions  [][]byte // opaque RLP-encoded transactions
	Withdrawals   []Withdrawal

	BlobGasUsed           uint64      // always 0: spec.md §1, no EIP-4844
	ExcessBlobGas         uint64      // always 0
	ParentBeaconBlockRoot common.Hash // parent execution header hash, not a beacon root
	ExecutionRequests     [][]byte    // always empty: spec.md §1, no EIP-7685
}

// Withdrawal mirrors the standard Ethereum withdrawal tuple.
type Withdrawal struct {
	Index          uint64
	ValidatorIndex uint64
	Address        common.Address
	AmountGwei     uint64
}

// Vote is one validator's signature over a decided value id, as carried in
// a Certificate. Signature verification and aggregation belong to the BFT
// library (spec.md §1 scopes the voting algorithm itself out); the shim
// only tallies voting power over the addresses that signed.
type Vote struct {
	ValidatorAddress common.Address
	Signature        []byte
}

// Certificate is the BFT commit record for a height: enough weighted votes
// to exceed 2/3 of ValidatorSet(H).total_power.
type Certificate struct {
	Height         Height
	Round          Round
	DecidedValueID common.Hash
	Votes          []Vote
}

// DecidedValue is the full committed value for a height.
type DecidedValue struct {
	Height      Height
	Round       Round
	Proposer    common.Address
	Payload     Payload
	Certificate Certificate
}

// BlockHeader is payload metadata retained even when the full body has been
// pruned: transactions and withdrawals are replaced by empty sequences.
type BlockHeader struct {
	Height                Height
	Hash                  common.Hash
	ParentHash            common.Hash
	FeeRecipient          common.Address
	StateRoot             common.Hash
	ReceiptsRoot          common.Hash
	Timestamp             uint64
	GasLimit              uint64
	GasUsed               uint64
	BaseFeePerGas         *uint256.Int
	ParentBeaconBlockRoot common.Hash
}

// HeaderFromPayload extracts the retained header fields from a full Payload.
func HeaderFromPayload(h Height, p Payload) BlockHeader {
	return BlockHeader{
		Height:                h,
		Hash:                  p.BlockHash,
		ParentHash:            p.ParentHash,
		FeeRecipient:          p.FeeRecipient,
		StateRoot:             p.StateRoot,
		ReceiptsRoot:          p.ReceiptsRoot,
		Timestamp:             p.Timestamp,
		GasLimit:              p.GasLimit,
		GasUsed:               p.GasUsed,
		BaseFeePerGas:         p.BaseFeePerGas,
		ParentBeaconBlockRoot: p.ParentBeaconBlockRoot,
	}
}

// Body is the part of a Payload that the execution client stores separately
// from the header and returns via engine_getPayloadBodiesByRangeV1.
type Body struct {
	Transactions [][]byte
	Withdrawals  []Withdrawal
}

// WithBody reconstructs a full Payload from a retained header plus a body
// fetched from the execution client, per spec.md §4.6 step 3.
func WithBody(h BlockHeader, b Body) Payload {
	return Payload{
		ParentHash:            h.ParentHash,
		FeeRecipient:          h.FeeRecipient,
		StateRoot:             h.StateRoot,
		ReceiptsRoot:          h.ReceiptsRoot,
		BlockNumber:           uint64(h.Height),
		GasLimit:              h.GasLimit,
		GasUsed:               h.GasUsed,
		Timestamp:             h.Timestamp,
		BaseFeePerGas:         h.BaseFeePerGas,
		BlockHash:             h.Hash,
		Transactions:          b.Transactions,
		Withdrawals:           b.Withdrawals,
		ParentBeaconBlockRoot: h.ParentBeaconBlockRoot,
	}
}

// SlotTimestamp returns when a DecidedValue was produced, for logging.
func (d DecidedValue) SlotTimestamp() time.Time {
	return time.Unix(int64(d.Payload.Timestamp), 0)
}
