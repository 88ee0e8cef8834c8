// Copyright 2024 The emerald Authors

// Package bft defines the boundary between the shim and the external BFT
// consensus library (spec.md §1, §4.5). The shim never implements voting,
// leader election messaging, or the gossip layer itself — it only reacts
// to the events this interface delivers, each carrying a reply callback
// that MUST be invoked exactly once.
package bft

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/emerald-chain/emerald/internal/chaintypes"
)

// Event is the sum type of everything the consensus library delivers to
// the host event loop (spec.md §4.5's event table).
type Event interface {
	isEvent()
}

// ConsensusReadyEvent fires once, at startup, after the consensus library
// has initialized.
type ConsensusReadyEvent struct {
	Reply func(ConsensusReadyReply, error)
}

func (ConsensusReadyEvent) isEvent() {}

// ConsensusReadyReply answers ConsensusReadyEvent.
type ConsensusReadyReply struct {
	LatestHeight    chaintypes.Height
	NextValidators  *chaintypes.ValidatorSet
	ChainID         uint64
}

// StartedRoundEvent fires when a new round begins for height H.
type StartedRoundEvent struct {
	Height chaintypes.Height
	Round  chaintypes.Round
	Reply  func(StartedRoundReply, error)
}

func (StartedRoundEvent) isEvent() {}

// StartedRoundReply optionally surfaces an already-validated cached
// proposal for (H,R), e.g. the local build from an earlier GetValue.
type StartedRoundReply struct {
	CachedProposal *chaintypes.DecidedValue
}

// GetValueEvent fires when the local validator is proposer for (H,R) and
// must build a value before deadline.
type GetValueEvent struct {
	Height   chaintypes.Height
	Round    chaintypes.Round
	Deadline int64 // unix millis
	Reply    func(GetValueReply, error)
}

func (GetValueEvent) isEvent() {}

// GetValueReply carries the split proposal parts for broadcast.
type GetValueReply struct {
	Parts      [][]byte
	TotalParts int
	ValueID    common.Hash
}

// ProposalPartEvent fires when a proposal part arrives from another
// validator.
type ProposalPartEvent struct {
	From  common.Address
	Part  []byte
	Reply func(ProposalPartReply, error)
}

func (ProposalPartEvent) isEvent() {}

// ProposalPartReply optionally reports validity once the buffer completes.
type ProposalPartReply struct {
	Valid *bool
}

// DecidedEvent fires when consensus commits a certificate for H.
type DecidedEvent struct {
	Height      chaintypes.Height
	Certificate chaintypes.Certificate
	Reply       func(DecidedReply, error)
}

func (DecidedEvent) isEvent() {}

// DecidedReply acknowledges persistence and hands back the next validator set.
type DecidedReply struct {
	Ack            bool
	NextValidators *chaintypes.ValidatorSet
}

// GetDecidedValueEvent is the sync server's request for height H.
type GetDecidedValueEvent struct {
	Height chaintypes.Height
	Reply  func(GetDecidedValueReply, error)
}

func (GetDecidedValueEvent) isEvent() {}

// GetDecidedValueReply carries the servable value, or Value == nil if H
// falls outside [earliest_available, latest_decided].
type GetDecidedValueReply struct {
	Value *chaintypes.DecidedValue
}

// ProcessSyncedValueEvent asks the shim to validate a value received from
// a sync peer, without persisting it.
type ProcessSyncedValueEvent struct {
	Height   chaintypes.Height
	Round    chaintypes.Round
	Proposer common.Address
	Bytes    []byte
	Reply    func(ProcessSyncedValueReply, error)
}

func (ProcessSyncedValueEvent) isEvent() {}

// ProcessSyncedValueReply reports the execution client's verdict.
type ProcessSyncedValueReply struct {
	Valid bool
}

// GetValidatorSetEvent asks for the validator set effective at H.
type GetValidatorSetEvent struct {
	Height chaintypes.Height
	Reply  func(GetValidatorSetReply, error)
}

func (GetValidatorSetEvent) isEvent() {}

// GetValidatorSetReply carries the requested set, or Set == nil if absent.
type GetValidatorSetReply struct {
	Set *chaintypes.ValidatorSet
}

// Channel is the inbound half of the consensus library's event stream.
// A concrete BFT library implements this by translating its own WAL/gossip
// events into the Event sum type above.
type Channel interface {
	// Events returns the channel the host reads consensus events from.
	// The channel is closed when the consensus library shuts down.
	Events() <-chan Event
}
