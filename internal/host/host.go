// Copyright 2024 The emerald Authors

// Package host is the event loop that drives the consensus-execution
// shim: it consumes bft.Event values one at a time (spec.md §4.5, §5 —
// "the event loop is single-logical-task, events serialized") and turns
// them into Engine-API calls, state-store writes, and validator-set
// refreshes.
package host

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/emerald-chain/emerald/internal/assembly"
	"github.com/emerald-chain/emerald/internal/bft"
	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/engineapi"
	"github.com/emerald-chain/emerald/internal/store"
)

// Host is the shim's single event-loop task. Only the goroutine running
// Run ever touches roundBuffers, validated, and cachedNextVS; the
// state store and engine client are safe for concurrent use by their own
// contract but the host never calls them from two goroutines at once.
type Host struct {
	Store          *store.Store
	Engine         *engineapi.Client
	ChainID        uint64
	FeeRecipient   common.Address
	Retention      store.RetentionPolicy
	RetryPolicy    engineapi.RetryPolicy

	mu             sync.Mutex
	roundBuffers   map[roundKey]*assembly.Buffer
	validated      *validatedCache // I6: new_payload called at most once per (H,R) for a non-proposer
	buildCache     map[roundKey]builtProposal
	cachedNextVS   *chaintypes.ValidatorSet
	decidedCache   *decidedValueCache
}

type roundKey struct {
	Height chaintypes.Height
	Round  chaintypes.Round
}

type builtProposal struct {
	value chaintypes.DecidedValue
	init  assembly.InitPart
}

// New constructs a Host. The caller dials engine and opens store before
// calling New; Host does not own their lifecycle.
func New(st *store.Store, engine *engineapi.Client, chainID uint64, feeRecipient common.Address, retention store.RetentionPolicy, retry engineapi.RetryPolicy) *Host {
	return &Host{
		Store:        st,
		Engine:       engine,
		ChainID:      chainID,
		FeeRecipient: feeRecipient,
		Retention:    retention,
		RetryPolicy:  retry,
		roundBuffers: make(map[roundKey]*assembly.Buffer),
		validated:    newValidatedCache(),
		buildCache:   make(map[roundKey]builtProposal),
		decidedCache: newDecidedValueCache(),
	}
}

// Run consumes ch until it closes or ctx is cancelled, dispatching one
// event at a time.
func (h *Host) Run(ctx context.Context, ch bft.Channel) error {
	events := ch.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			h.dispatch(ctx, ev)
		}
	}
}

func (h *Host) dispatch(ctx context.Context, ev bft.Event) {
	switch e := ev.(type) {
	case bft.ConsensusReadyEvent:
		reply, err := h.handleConsensusReady(ctx)
		e.Reply(reply, err)
	case bft.StartedRoundEvent:
		reply, err := h.handleStartedRound(e)
		e.Reply(reply, err)
	case bft.GetValueEvent:
		reply, err := h.handleGetValue(ctx, e)
		e.Reply(reply, err)
	case bft.ProposalPartEvent:
		reply, err := h.handleProposalPart(ctx, e)
		e.Reply(reply, err)
	case bft.DecidedEvent:
		reply, err := h.handleDecided(ctx, e)
		e.Reply(reply, err)
	case bft.GetDecidedValueEvent:
		reply, err := h.handleGetDecidedValue(e)
		e.Reply(reply, err)
	case bft.ProcessSyncedValueEvent:
		reply, err := h.handleProcessSyncedValue(ctx, e)
		e.Reply(reply, err)
	case bft.GetValidatorSetEvent:
		reply, err := h.handleGetValidatorSet(e)
		e.Reply(reply, err)
	default:
		log.Crit("Unhandled consensus event type; reply contract would be violated", "type", ev)
	}
}
