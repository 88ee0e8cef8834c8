// Copyright 2024 The emerald Authors

package host

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"

	"github.com/emerald-chain/emerald/internal/assembly"
	"github.com/emerald-chain/emerald/internal/bft"
	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/engineapi"
	"github.com/emerald-chain/emerald/internal/shimerr"
)

const maxTransactionsPerTxPart = 200

// handleGetValue builds a new payload when the local validator is
// proposer for (H,R), per spec.md §4.5's GetValue row: ensure the
// execution client isn't syncing, call forkchoice_updated with build
// attributes, await the payload, split it into proposal parts, and cache
// the full value locally so Decided doesn't have to re-fetch or
// re-validate it.
func (h *Host) handleGetValue(ctx context.Context, e bft.GetValueEvent) (bft.GetValueReply, error) {
	syncing, err := h.Engine.EthSyncing(ctx)
	if err != nil {
		return bft.GetValueReply{}, shimerr.Wrap(shimerr.KindTransient, "getvalue-syncing-check-failed", err)
	}
	if syncing {
		return bft.GetValueReply{}, shimerr.Errorf(shimerr.KindTransient, "getvalue-execution-syncing",
			"execution client is syncing, cannot build (H=%d,R=%d)", e.Height, e.Round)
	}

	parentHash, err := h.parentHashFor(ctx, e.Height)
	if err != nil {
		return bft.GetValueReply{}, err
	}

	fcState := engineapi.ForkchoiceState{HeadBlockHash: parentHash, SafeBlockHash: parentHash, FinalizedBlockHash: parentHash}
	attrs := &engineapi.PayloadAttributes{
		Timestamp:             hexutil.Uint64(time.Now().Unix()),
		SuggestedFeeRecipient: h.FeeRecipient,
		ParentBeaconBlockRoot: parentHash,
	}
	result, err := h.Engine.ForkchoiceUpdated(ctx, fcState, attrs)
	if err != nil {
		return bft.GetValueReply{}, shimerr.Wrap(shimerr.KindTransient, "getvalue-fcu-failed", err)
	}
	if result.PayloadID == nil {
		return bft.GetValueReply{}, shimerr.Errorf(shimerr.KindProtocol, "getvalue-no-payload-id",
			"forkchoice_updated returned no payload_id for (H=%d,R=%d)", e.Height, e.Round)
	}

	deadline := time.UnixMilli(e.Deadline)
	buildCtx := ctx
	if e.Deadline > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	payload, _, _, err := h.Engine.GetPayload(buildCtx, *result.PayloadID)
	if err != nil {
		return bft.GetValueReply{}, shimerr.Wrap(shimerr.KindTransient, "getvalue-get-payload-failed", err)
	}
	// get_payload does not return the beacon root; it is the parent hash
	// the build was requested on.
	payload.ParentBeaconBlockRoot = parentHash

	proposerAddr, err := h.localProposerAddress(e.Height, e.Round)
	if err != nil {
		return bft.GetValueReply{}, err
	}

	value := chaintypes.DecidedValue{
		Height:   e.Height,
		Round:    e.Round,
		Proposer: proposerAddr,
		Payload:  payload,
	}

	init := assembly.InitPartFrom(e.Height, e.Round, proposerAddr, payload)
	txParts := assembly.SplitTransactions(payload.Transactions, maxTransactionsPerTxPart)

	var wireParts [][]byte
	wireParts = append(wireParts, assembly.EncodePart(assembly.PartInit, assembly.EncodeInit(init)))
	for _, tp := range txParts {
		wireParts = append(wireParts, assembly.EncodePart(assembly.PartTx, assembly.EncodeTx(tp)))
	}
	finHash := assembly.HashConcatenatedParts(wireParts)
	wireParts = append(wireParts, assembly.EncodePart(assembly.PartFin, assembly.EncodeFin(assembly.FinPart{PayloadHash: finHash})))

	key := roundKey{Height: e.Height, Round: e.Round}
	h.mu.Lock()
	h.buildCache[key] = builtProposal{value: value, init: init}
	h.mu.Unlock()
	// The proposer's own build path already validated the payload via
	// get_payload; do not let Decided call new_payload again (I6).
	h.validated.mark(key)

	log.Info("Built proposal", "height", e.Height, "round", e.Round, "txs", len(payload.Transactions), "parts", len(wireParts))

	return bft.GetValueReply{Parts: wireParts, TotalParts: len(wireParts), ValueID: finHash}, nil
}

func (h *Host) localProposerAddress(height chaintypes.Height, round chaintypes.Round) (common.Address, error) {
	vs, err := h.Store.GetValidatorSet(height)
	if err != nil {
		return common.Address{}, shimerr.Wrap(shimerr.KindFatalConsistency, "getvalue-missing-validatorset", err)
	}
	return vs.ProposerForRound(height, round)
}

func (h *Host) parentHashFor(ctx context.Context, height chaintypes.Height) (common.Hash, error) {
	if height == 0 {
		return common.Hash{}, nil
	}
	if height-1 == 0 {
		meta, err := h.Store.LoadMeta()
		if err != nil {
			return common.Hash{}, shimerr.Wrap(shimerr.KindFatalConsistency, "getvalue-missing-parent", err)
		}
		return common.Hash(meta.GenesisHash), nil
	}
	dv, err := h.Store.GetDecidedValue(height - 1)
	if err == nil {
		return dv.Payload.BlockHash, nil
	}
	header, herr := h.Store.GetBlockHeader(height - 1)
	if herr == nil {
		return header.Hash, nil
	}
	return common.Hash{}, shimerr.Errorf(shimerr.KindFatalConsistency, "getvalue-missing-parent",
		"no decided value or header for H=%d: %w / %w", height-1, err, herr)
}
