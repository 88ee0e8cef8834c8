// Copyright 2024 The emerald Authors

package host

import (
	"context"

	"github.com/ethereum/go-ethereum/log"

	"github.com/emerald-chain/emerald/internal/assembly"
	"github.com/emerald-chain/emerald/internal/bft"
	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/engineapi"
	"github.com/emerald-chain/emerald/internal/shimerr"
)

// handleStartedRound clears the reassembly buffer for (H,R) and surfaces
// any cached, already-validated proposal (spec.md §4.5's StartedRound
// row) — e.g. the local build from a prior GetValue. The cache is held in
// memory only, so nothing is surfaced for a round validated before a
// restart.
func (h *Host) handleStartedRound(e bft.StartedRoundEvent) (bft.StartedRoundReply, error) {
	key := roundKey{Height: e.Height, Round: e.Round}

	h.mu.Lock()
	delete(h.roundBuffers, key)
	built, ok := h.buildCache[key]
	h.mu.Unlock()

	if !ok {
		return bft.StartedRoundReply{}, nil
	}
	return bft.StartedRoundReply{CachedProposal: &built.value}, nil
}

// handleProposalPart appends an incoming Init part to the (H,R) buffer it
// names. The height/round aren't carried outside the Init part, so Tx and
// Fin parts are rejected here with a proposalpart-needs-round error;
// transports deliver those through AppendToRound.
func (h *Host) handleProposalPart(ctx context.Context, e bft.ProposalPartEvent) (bft.ProposalPartReply, error) {
	kind, body, err := assembly.DecodePartKind(e.Part)
	if err != nil {
		return bft.ProposalPartReply{}, shimerr.Wrap(shimerr.KindProtocol, "proposalpart-bad-wire", err)
	}

	var key roundKey
	buf, isNewInit := (*assembly.Buffer)(nil), false

	switch kind {
	case assembly.PartInit:
		init, err := assembly.DecodeInit(body)
		if err != nil {
			return bft.ProposalPartReply{}, shimerr.Wrap(shimerr.KindProtocol, "proposalpart-bad-init", err)
		}
		key = roundKey{Height: init.Height, Round: init.Round}
		h.mu.Lock()
		buf = h.bufferLocked(key)
		h.mu.Unlock()
		if err := buf.AddInit(body); err != nil {
			return bft.ProposalPartReply{}, err
		}
		isNewInit = true

	default:
		// Tx and Fin parts don't carry (H,R); the caller is expected to
		// route them by session/stream identity to the buffer already
		// opened by this peer's Init. The host exposes AppendToRound for
		// transports that can supply (H,R) out of band.
		return bft.ProposalPartReply{}, shimerr.Errorf(shimerr.KindProtocol, "proposalpart-needs-round",
			"non-Init part requires an explicit (height,round) route; use AppendToRound")
	}

	if isNewInit {
		return h.checkCompletion(ctx, key, buf)
	}
	return bft.ProposalPartReply{}, nil
}

// AppendToRound is the routed entry point transports use once they know
// which (H,R) a Tx or Fin part belongs to (carried alongside the part by
// the gossip layer, outside the part's own wire encoding).
func (h *Host) AppendToRound(ctx context.Context, height chaintypes.Height, round chaintypes.Round, wirePart []byte) (bft.ProposalPartReply, error) {
	kind, body, err := assembly.DecodePartKind(wirePart)
	if err != nil {
		return bft.ProposalPartReply{}, shimerr.Wrap(shimerr.KindProtocol, "proposalpart-bad-wire", err)
	}

	key := roundKey{Height: height, Round: round}
	h.mu.Lock()
	buf := h.bufferLocked(key)
	h.mu.Unlock()

	switch kind {
	case assembly.PartTx:
		if _, err := assembly.DecodeTx(body); err != nil {
			return bft.ProposalPartReply{}, shimerr.Wrap(shimerr.KindProtocol, "proposalpart-bad-tx", err)
		}
		if err := buf.AddTx(body); err != nil {
			return bft.ProposalPartReply{}, err
		}
	case assembly.PartFin:
		if _, err := assembly.DecodeFin(body); err != nil {
			return bft.ProposalPartReply{}, shimerr.Wrap(shimerr.KindProtocol, "proposalpart-bad-fin", err)
		}
		if err := buf.AddFin(body); err != nil {
			return bft.ProposalPartReply{}, err
		}
	case assembly.PartInit:
		if err := buf.AddInit(body); err != nil {
			return bft.ProposalPartReply{}, err
		}
	}

	return h.checkCompletion(ctx, key, buf)
}

func (h *Host) bufferLocked(key roundKey) *assembly.Buffer {
	buf, ok := h.roundBuffers[key]
	if !ok {
		buf = assembly.NewBuffer()
		h.roundBuffers[key] = buf
	}
	return buf
}

// checkCompletion validates a newly-complete buffer by new_payload and
// caches the verdict so Decided doesn't re-validate (I6: at most one
// new_payload call per (H,R) for a non-proposer).
func (h *Host) checkCompletion(ctx context.Context, key roundKey, buf *assembly.Buffer) (bft.ProposalPartReply, error) {
	if !buf.Complete() {
		return bft.ProposalPartReply{}, nil
	}

	alreadyValidated := h.validated.has(key)
	if alreadyValidated {
		// Only proposals that passed validation are in buildCache.
		h.mu.Lock()
		_, valid := h.buildCache[key]
		h.mu.Unlock()
		return bft.ProposalPartReply{Valid: &valid}, nil
	}

	height, round, init, txs, err := buf.Reassemble()
	if err != nil {
		return bft.ProposalPartReply{}, err
	}

	parentHash, err := h.parentHashFor(ctx, height)
	if err != nil {
		return bft.ProposalPartReply{}, err
	}

	payload := chaintypes.Payload{
		ParentHash:            parentHash,
		FeeRecipient:          init.FeeRecipient,
		Timestamp:             init.Timestamp,
		BlockNumber:           init.BlockNumber,
		GasLimit:              init.GasLimit,
		GasUsed:               init.GasUsed,
		BaseFeePerGas:         init.BaseFeePerGas,
		BlockHash:             init.Hash,
		Transactions:          txs,
		ParentBeaconBlockRoot: parentHash,
	}

	status, err := h.Engine.NewPayload(ctx, payload, nil, parentHash, nil)
	if err != nil {
		return bft.ProposalPartReply{}, shimerr.Wrap(shimerr.KindTransient, "proposalpart-new-payload-failed", err)
	}
	engineapi.LogCall("new_payload", height, round, err)

	valid := status.Status.IsValidForConsensus()
	value := chaintypes.DecidedValue{Height: height, Round: round, Proposer: init.Proposer, Payload: payload}

	h.validated.mark(key)
	if valid {
		h.mu.Lock()
		h.buildCache[key] = builtProposal{value: value, init: init}
		h.mu.Unlock()
	}

	log.Info("Validated proposal", "height", height, "round", round, "valid", valid)
	return bft.ProposalPartReply{Valid: &valid}, nil
}
