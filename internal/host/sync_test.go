// Copyright 2024 The emerald Authors

package host

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/emerald-chain/emerald/internal/bft"
	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/engineapi"
	"github.com/emerald-chain/emerald/internal/store"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, nil, 1337, common.BytesToAddress([]byte{9}), store.RetentionPolicy{Mode: store.RetentionArchive}, engineapi.DefaultRetryPolicy())
}

func commitTestHeight(t *testing.T, h *Host, height chaintypes.Height) {
	t.Helper()
	vs, err := chaintypes.NewValidatorSet([]chaintypes.Validator{
		{Address: common.BytesToAddress([]byte{1}), Power: 100},
	})
	require.NoError(t, err)
	dv := chaintypes.DecidedValue{
		Height: height,
		Payload: chaintypes.Payload{
			BlockNumber:   uint64(height),
			BaseFeePerGas: uint256.NewInt(1),
			BlockHash:     common.BytesToHash([]byte{byte(height)}),
		},
		Certificate: chaintypes.Certificate{Height: height},
	}
	require.NoError(t, h.Store.CommitHeight(dv, vs, 1))
}

func TestHandleGetDecidedValueServesStoredRange(t *testing.T) {
	h := newTestHost(t)
	commitTestHeight(t, h, 1)
	commitTestHeight(t, h, 2)

	reply, err := h.handleGetDecidedValue(bft.GetDecidedValueEvent{Height: 2})
	require.NoError(t, err)
	require.NotNil(t, reply.Value)
	require.Equal(t, chaintypes.Height(2), reply.Value.Height)
}

func TestHandleGetDecidedValueOutsideRangeReturnsNil(t *testing.T) {
	h := newTestHost(t)
	commitTestHeight(t, h, 5)

	reply, err := h.handleGetDecidedValue(bft.GetDecidedValueEvent{Height: 6})
	require.NoError(t, err)
	require.Nil(t, reply.Value)

	reply, err = h.handleGetDecidedValue(bft.GetDecidedValueEvent{Height: 100})
	require.NoError(t, err)
	require.Nil(t, reply.Value)
}

func TestHandleGetValidatorSetFallsBackToStore(t *testing.T) {
	h := newTestHost(t)
	commitTestHeight(t, h, 1)

	reply, err := h.handleGetValidatorSet(bft.GetValidatorSetEvent{Height: 2})
	require.NoError(t, err)
	require.NotNil(t, reply.Set)
	require.Equal(t, 1, reply.Set.Len())
}

func TestHandleGetValidatorSetMissingReturnsNil(t *testing.T) {
	h := newTestHost(t)
	reply, err := h.handleGetValidatorSet(bft.GetValidatorSetEvent{Height: 999})
	require.NoError(t, err)
	require.Nil(t, reply.Set)
}
