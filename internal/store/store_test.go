// Copyright 2024 The emerald Authors

package store

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/emerald-chain/emerald/internal/chaintypes"
)

func testValidatorSet(t *testing.T) *chaintypes.ValidatorSet {
	t.Helper()
	vs, err := chaintypes.NewValidatorSet([]chaintypes.Validator{
		{Address: common.BytesToAddress([]byte{1}), Power: 100},
		{Address: common.BytesToAddress([]byte{2}), Power: 100},
	})
	require.NoError(t, err)
	return vs
}

func testDecidedValue(h chaintypes.Height) chaintypes.DecidedValue {
	return chaintypes.DecidedValue{
		Height:   h,
		Round:    0,
		Proposer: common.BytesToAddress([]byte{1}),
		Payload: chaintypes.Payload{
			BlockNumber:   uint64(h),
			BaseFeePerGas: uint256.NewInt(1_000_000_000),
			BlockHash:     common.BytesToHash([]byte{byte(h)}),
		},
		Certificate: chaintypes.Certificate{
			Height:         h,
			DecidedValueID: common.BytesToHash([]byte{byte(h)}),
			Votes: []chaintypes.Vote{
				{ValidatorAddress: common.BytesToAddress([]byte{1}), Signature: []byte("sig")},
			},
		},
	}
}

func TestCommitAndGetDecidedValueRoundTrips(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	dv := testDecidedValue(5)
	require.NoError(t, s.CommitHeight(dv, testValidatorSet(t), 1))

	got, err := s.GetDecidedValue(5)
	require.NoError(t, err)
	require.Equal(t, dv.Height, got.Height)
	require.Equal(t, dv.Payload.BlockHash, got.Payload.BlockHash)
	require.Equal(t, dv.Payload.BaseFeePerGas.Uint64(), got.Payload.BaseFeePerGas.Uint64())

	header, err := s.GetBlockHeader(5)
	require.NoError(t, err)
	require.Equal(t, dv.Payload.BlockHash, header.Hash)

	cert, err := s.GetCertificate(5)
	require.NoError(t, err)
	require.Len(t, cert.Votes, 1)

	vs, err := s.GetValidatorSet(6)
	require.NoError(t, err)
	require.Equal(t, uint64(200), vs.TotalPower())
}

func TestGetDecidedValueNotFound(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetDecidedValue(1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMetaAdvancesMonotonically(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CommitHeight(testDecidedValue(1), testValidatorSet(t), 1))
	require.NoError(t, s.CommitHeight(testDecidedValue(2), testValidatorSet(t), 1))

	meta, err := s.LoadMeta()
	require.NoError(t, err)
	require.True(t, meta.HasDecidedAnything)
	require.Equal(t, chaintypes.Height(2), meta.LatestDecided)
	require.Equal(t, chaintypes.Height(1), meta.EarliestAvailable)
}

func TestTruncateAboveDiscardsFutureHeights(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CommitHeight(testDecidedValue(1), testValidatorSet(t), 1))
	require.NoError(t, s.CommitHeight(testDecidedValue(2), testValidatorSet(t), 1))
	require.NoError(t, s.CommitHeight(testDecidedValue(3), testValidatorSet(t), 1))

	require.NoError(t, s.TruncateAbove(1))

	_, err = s.GetDecidedValue(2)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetDecidedValue(3)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetDecidedValue(1)
	require.NoError(t, err)
	require.Equal(t, chaintypes.Height(1), got.Height)
}

func TestReassemblyBufferLifecycle(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutReassemblyBuffer(7, 0, []byte("partial")))
	raw, err := s.GetReassemblyBuffer(7, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("partial"), raw)

	require.NoError(t, s.DeleteReassemblyBuffer(7, 0))
	_, err = s.GetReassemblyBuffer(7, 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPruneCustomRetentionDropsOldDecidedValues(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	for h := chaintypes.Height(1); h <= 5; h++ {
		require.NoError(t, s.CommitHeight(testDecidedValue(h), testValidatorSet(t), 1))
	}

	policy := RetentionPolicy{Mode: RetentionCustom, MaxRetainBlocks: 2}
	require.NoError(t, s.Prune(policy, 5, 0))

	_, err = s.GetDecidedValue(3)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetDecidedValue(4)
	require.NoError(t, err)
	require.Equal(t, chaintypes.Height(4), got.Height)

	// headers survive DecidedValues pruning.
	_, err = s.GetBlockHeader(3)
	require.NoError(t, err)
}
