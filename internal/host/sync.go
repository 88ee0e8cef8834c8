// Copyright 2024 The emerald Authors

package host

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/sync/singleflight"

	"github.com/emerald-chain/emerald/internal/bft"
	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/shimerr"
	"github.com/emerald-chain/emerald/internal/store"
)

func decodePayloadBytes(raw []byte, out *chaintypes.Payload) error {
	return rlp.DecodeBytes(raw, out)
}

var bodyFetchGroup singleflight.Group

// handleGetDecidedValue serves a sync peer's request for height H, per
// spec.md §4.6: return the full value if stored, reconstruct it from the
// retained header plus execution-client body if only pruned, or nil if H
// falls outside the servable range.
func (h *Host) handleGetDecidedValue(e bft.GetDecidedValueEvent) (bft.GetDecidedValueReply, error) {
	meta, err := h.Store.LoadMeta()
	if err != nil {
		return bft.GetDecidedValueReply{}, shimerr.Wrap(shimerr.KindFatalConsistency, "getdecidedvalue-meta-failed", err)
	}
	if !meta.HasDecidedAnything || e.Height < meta.EarliestAvailable || e.Height > meta.LatestDecided {
		return bft.GetDecidedValueReply{}, nil
	}

	if dv, err := h.Store.GetDecidedValue(e.Height); err == nil {
		return bft.GetDecidedValueReply{Value: dv}, nil
	} else if err != store.ErrNotFound {
		return bft.GetDecidedValueReply{}, shimerr.Wrap(shimerr.KindFatalConsistency, "getdecidedvalue-read-failed", err)
	}

	if raw, ok := h.decidedCache.get(e.Height); ok {
		var cached chaintypes.DecidedValue
		if err := rlp.DecodeBytes(raw, &cached); err == nil {
			return bft.GetDecidedValueReply{Value: &cached}, nil
		}
	}

	header, err := h.Store.GetBlockHeader(e.Height)
	if err != nil {
		return bft.GetDecidedValueReply{}, shimerr.Errorf(shimerr.KindFatalConsistency, "getdecidedvalue-no-header",
			"height %d is within servable range but has neither value nor header: %w", e.Height, err)
	}
	cert, err := h.Store.GetCertificate(e.Height)
	if err != nil {
		return bft.GetDecidedValueReply{}, shimerr.Wrap(shimerr.KindFatalConsistency, "getdecidedvalue-no-certificate", err)
	}

	key := fmt.Sprintf("%d", e.Height)
	bodyAny, err, _ := bodyFetchGroup.Do(key, func() (any, error) {
		bodies, err := h.Engine.GetPayloadBodiesByRange(context.Background(), e.Height, 1)
		if err != nil {
			return nil, shimerr.Wrap(shimerr.KindTransient, "getdecidedvalue-bodies-failed", err)
		}
		if len(bodies) == 0 || bodies[0] == nil {
			return nil, shimerr.Errorf(shimerr.KindFatalConsistency, "getdecidedvalue-body-missing",
				"execution client has no body for height %d", e.Height)
		}
		return bodies[0], nil
	})
	if err != nil {
		return bft.GetDecidedValueReply{}, err
	}
	body := bodyAny.(*chaintypes.Body)

	payload := chaintypes.WithBody(*header, *body)
	value := &chaintypes.DecidedValue{
		Height:      e.Height,
		Proposer:    header.FeeRecipient, // proposer identity isn't retained in BlockHeader; fee recipient is the closest durable hint
		Payload:     payload,
		Certificate: *cert,
	}
	if raw, err := rlp.EncodeToBytes(value); err == nil {
		h.decidedCache.put(e.Height, raw)
	}
	return bft.GetDecidedValueReply{Value: value}, nil
}

// handleProcessSyncedValue validates a value received from a sync peer
// without persisting it — persistence only happens when Decided arrives
// for this height (spec.md §4.6).
func (h *Host) handleProcessSyncedValue(ctx context.Context, e bft.ProcessSyncedValueEvent) (bft.ProcessSyncedValueReply, error) {
	var payload chaintypes.Payload
	if err := decodePayloadBytes(e.Bytes, &payload); err != nil {
		return bft.ProcessSyncedValueReply{}, shimerr.Wrap(shimerr.KindProtocol, "processsynced-bad-bytes", err)
	}

	status, err := h.Engine.NewPayload(ctx, payload, nil, payload.ParentHash, nil)
	if err != nil {
		return bft.ProcessSyncedValueReply{}, shimerr.Wrap(shimerr.KindTransient, "processsynced-new-payload-failed", err)
	}
	return bft.ProcessSyncedValueReply{Valid: status.Status.IsValidForConsensus()}, nil
}

// handleGetValidatorSet returns the validator set the store holds for H,
// or a nil set if it holds none. It reads the store on every call and
// does not consult cachedNextVS.
func (h *Host) handleGetValidatorSet(e bft.GetValidatorSetEvent) (bft.GetValidatorSetReply, error) {
	vs, err := h.Store.GetValidatorSet(e.Height)
	if err == nil {
		return bft.GetValidatorSetReply{Set: vs}, nil
	}
	if err != store.ErrNotFound {
		return bft.GetValidatorSetReply{}, shimerr.Wrap(shimerr.KindFatalConsistency, "getvalidatorset-read-failed", err)
	}
	return bft.GetValidatorSetReply{Set: nil}, nil
}
