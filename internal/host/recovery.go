// Copyright 2024 The emerald Authors

package host

import (
	"context"

	"github.com/ethereum/go-ethereum/log"

	"github.com/emerald-chain/emerald/internal/bft"
	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/engineapi"
	"github.com/emerald-chain/emerald/internal/shimerr"
)

// handleConsensusReady runs the crash-recovery replay of spec.md §4.7 and
// answers with the store's view of the chain: realign the execution
// client's head to the store's latest_decided, then read the validator
// set effective at latest_decided+1. Consensus must not advance before
// this completes.
func (h *Host) handleConsensusReady(ctx context.Context) (bft.ConsensusReadyReply, error) {
	if err := h.Store.TruncateAbove(mustLatestDecided(h)); err != nil {
		return bft.ConsensusReadyReply{}, err
	}

	meta, err := h.Store.LoadMeta()
	if err != nil {
		return bft.ConsensusReadyReply{}, shimerr.Wrap(shimerr.KindFatalConsistency, "consensusready-meta-failed", err)
	}
	if !meta.HasDecidedAnything {
		return h.readyFromGenesis(ctx)
	}

	executionLatest, executionHash, err := h.Engine.EthGetBlockByNumber(ctx, "latest")
	if err != nil {
		return bft.ConsensusReadyReply{}, shimerr.Wrap(shimerr.KindFatalConfig, "consensusready-execution-unreachable", err)
	}

	storeLatest := uint64(meta.LatestDecided)
	switch {
	case executionLatest < storeLatest:
		if err := h.replayMissingHeights(ctx, chaintypes.Height(executionLatest), meta.LatestDecided); err != nil {
			return bft.ConsensusReadyReply{}, err
		}
	case executionLatest > storeLatest:
		// The store holds nothing above latest_decided, so the execution
		// client's extra blocks are dropped from its canonical chain by
		// moving its head back to the store's top.
		log.Warn("Execution client ahead of store at startup, resetting its head to the store's top", "execution", executionLatest, "store", storeLatest)
		header, err := h.Store.GetBlockHeader(meta.LatestDecided)
		if err != nil {
			return bft.ConsensusReadyReply{}, shimerr.Wrap(shimerr.KindFatalConsistency, "consensusready-missing-header", err)
		}
		head := engineapi.ForkchoiceState{HeadBlockHash: header.Hash, SafeBlockHash: header.Hash, FinalizedBlockHash: header.Hash}
		if _, err := h.Engine.ForkchoiceUpdated(ctx, head, nil); err != nil {
			return bft.ConsensusReadyReply{}, shimerr.Wrap(shimerr.KindFatalConsistency, "recovery-fcu-failed", err)
		}
	}

	decided, err := h.Store.GetDecidedValue(meta.LatestDecided)
	if err == nil && executionLatest >= storeLatest {
		if decided.Payload.BlockHash != executionHash && executionLatest == storeLatest {
			return bft.ConsensusReadyReply{}, shimerr.Errorf(shimerr.KindFatalConsistency, "consensusready-hash-mismatch",
				"execution client head %s does not match decided value hash %s at H=%d", executionHash, decided.Payload.BlockHash, meta.LatestDecided)
		}
	}

	nextVS, err := h.Store.GetValidatorSet(meta.LatestDecided + 1)
	if err != nil {
		return bft.ConsensusReadyReply{}, shimerr.Wrap(shimerr.KindFatalConsistency, "consensusready-missing-validatorset", err)
	}

	h.mu.Lock()
	h.cachedNextVS = nextVS
	h.mu.Unlock()

	return bft.ConsensusReadyReply{LatestHeight: meta.LatestDecided, NextValidators: nextVS, ChainID: h.ChainID}, nil
}

func mustLatestDecided(h *Host) chaintypes.Height {
	meta, err := h.Store.LoadMeta()
	if err != nil || !meta.HasDecidedAnything {
		return 0
	}
	return meta.LatestDecided
}

func (h *Host) readyFromGenesis(_ context.Context) (bft.ConsensusReadyReply, error) {
	vs, err := h.Store.GetValidatorSet(1)
	if err != nil {
		return bft.ConsensusReadyReply{}, shimerr.Wrap(shimerr.KindFatalConsistency, "consensusready-missing-validatorset", err)
	}

	h.mu.Lock()
	h.cachedNextVS = vs
	h.mu.Unlock()

	return bft.ConsensusReadyReply{LatestHeight: 0, NextValidators: vs, ChainID: h.ChainID}, nil
}

// replayMissingHeights drives new_payload for every height the store has
// but the execution client doesn't yet, per spec.md §4.7, then commits a
// forkchoice_updated to the final replayed height.
func (h *Host) replayMissingHeights(ctx context.Context, from, to chaintypes.Height) error {
	var lastHash [32]byte
	for height := from + 1; height <= to; height++ {
		dv, err := h.Store.GetDecidedValue(height)
		if err != nil {
			return shimerr.Errorf(shimerr.KindFatalConsistency, "recovery-archive-required",
				"height %d has no full value to replay (archive requirement): %w", height, err)
		}
		status, err := h.Engine.NewPayload(ctx, dv.Payload, nil, dv.Payload.ParentHash, nil)
		engineapi.LogCall("new_payload", height, dv.Round, err)
		if err != nil {
			return shimerr.Wrap(shimerr.KindTransient, "recovery-new-payload-failed", err)
		}
		if !status.Status.IsValidForConsensus() {
			return shimerr.Errorf(shimerr.KindFatalConsistency, "recovery-payload-rejected",
				"execution client rejected replayed payload at H=%d: %s", height, status.Status)
		}
		lastHash = dv.Payload.BlockHash
		log.Info("Replayed height during crash recovery", "height", height)
	}

	_, err := h.Engine.ForkchoiceUpdated(ctx, engineapi.ForkchoiceState{
		HeadBlockHash:      lastHash,
		SafeBlockHash:      lastHash,
		FinalizedBlockHash: lastHash,
	}, nil)
	if err != nil {
		return shimerr.Wrap(shimerr.KindFatalConsistency, "recovery-fcu-failed", err)
	}
	return nil
}
