// Copyright 2024 The emerald Authors

package host

import (
	"context"

	"github.com/ethereum/go-ethereum/log"

	"github.com/emerald-chain/emerald/internal/bft"
	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/engineapi"
	"github.com/emerald-chain/emerald/internal/shimerr"
	"github.com/emerald-chain/emerald/internal/validatorset"
)

// handleDecided commits a quorum certificate for H (spec.md §4.5's Decided
// row): retrieve the reassembled/cached value, validate it if that has
// not already happened this round, commit the execution client's head,
// persist DecidedValue+Certificate+ValidatorSet(H+1), and advance Meta.
func (h *Host) handleDecided(ctx context.Context, e bft.DecidedEvent) (bft.DecidedReply, error) {
	key := roundKey{Height: e.Height, Round: e.Certificate.Round}

	h.mu.Lock()
	built, haveValue := h.buildCache[key]
	h.mu.Unlock()
	alreadyValidated := h.validated.has(key)

	if !haveValue {
		return bft.DecidedReply{}, shimerr.Errorf(shimerr.KindFatalConsistency, "decided-missing-value",
			"no reassembled value cached for decided (H=%d,R=%d)", e.Height, e.Certificate.Round)
	}

	vs, err := h.Store.GetValidatorSet(e.Height)
	if err != nil {
		return bft.DecidedReply{}, shimerr.Wrap(shimerr.KindFatalConsistency, "decided-missing-validatorset", err)
	}
	if err := chaintypes.VerifyCertificate(vs, e.Certificate); err != nil {
		return bft.DecidedReply{}, err
	}

	if !alreadyValidated {
		status, err := h.Engine.NewPayload(ctx, built.value.Payload, nil, built.value.Payload.ParentHash, nil)
		engineapi.LogCall("new_payload", e.Height, e.Certificate.Round, err)
		if err != nil {
			return bft.DecidedReply{}, shimerr.Wrap(shimerr.KindTransient, "decided-new-payload-failed", err)
		}
		if !status.Status.IsValidForConsensus() {
			return bft.DecidedReply{}, shimerr.Errorf(shimerr.KindProtocol, "decided-invalid-payload",
				"execution client rejected decided payload at H=%d: %s", e.Height, status.Status)
		}
	}

	decidedHash := built.value.Payload.BlockHash
	fcResult, err := h.Engine.ForkchoiceUpdated(ctx, engineapi.ForkchoiceState{
		HeadBlockHash:      decidedHash,
		SafeBlockHash:      decidedHash,
		FinalizedBlockHash: decidedHash,
	}, nil)
	if err != nil {
		return bft.DecidedReply{}, shimerr.Wrap(shimerr.KindTransient, "decided-fcu-failed", err)
	}
	if fcResult.PayloadStatus.Status == engineapi.StatusInvalid {
		return bft.DecidedReply{}, shimerr.Errorf(shimerr.KindFatalConsistency, "decided-fcu-rejected",
			"execution client rejected decided head at H=%d", e.Height)
	}

	value := built.value
	value.Certificate = e.Certificate

	nextVS, err := validatorset.Read(ctx, h.Engine, "latest")
	if err != nil {
		return bft.DecidedReply{}, err
	}

	earliest := h.Retention.EarliestAvailable(e.Height)
	if err := h.Store.CommitHeight(value, nextVS, earliest); err != nil {
		return bft.DecidedReply{}, err
	}
	if err := h.Store.DeleteReassemblyBuffer(e.Height, e.Certificate.Round); err != nil {
		log.Warn("Failed to clear reassembly buffer after commit", "height", e.Height, "err", err)
	}

	h.mu.Lock()
	h.cachedNextVS = nextVS
	delete(h.roundBuffers, key)
	delete(h.buildCache, key)
	h.mu.Unlock()
	h.validated.delete(key)

	log.Info("Decided", "height", e.Height, "round", e.Certificate.Round, "hash", decidedHash)
	return bft.DecidedReply{Ack: true, NextValidators: nextVS}, nil
}
