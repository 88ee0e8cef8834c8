// Copyright 2024 The emerald Authors

package assembly

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/emerald-chain/emerald/internal/chaintypes"
)

func buildProposal(t *testing.T, txs [][]byte) (InitPart, []TxPart, FinPart, [][]byte) {
	t.Helper()
	init := InitPart{
		Height:        10,
		Round:         0,
		Proposer:      common.BytesToAddress([]byte{1}),
		FeeRecipient:  common.BytesToAddress([]byte{2}),
		Hash:          common.BytesToHash([]byte{3}),
		ParentHash:    common.BytesToHash([]byte{4}),
		Timestamp:     100,
		BlockNumber:   10,
		GasLimit:      30_000_000,
		GasUsed:       21_000,
		BaseFeePerGas: uint256.NewInt(7),
	}
	txParts := SplitTransactions(txs, 2)

	var wireParts [][]byte
	wireParts = append(wireParts, EncodePart(PartInit, EncodeInit(init)))
	for _, tp := range txParts {
		wireParts = append(wireParts, EncodePart(PartTx, EncodeTx(tp)))
	}

	fin := FinPart{PayloadHash: HashConcatenatedParts(wireParts)}
	return init, txParts, fin, wireParts
}

func TestRoundTripInitEncodeDecode(t *testing.T) {
	init, _, _, _ := buildProposal(t, nil)
	wire := EncodeInit(init)
	got, err := DecodeInit(wire)
	require.NoError(t, err)
	require.Equal(t, init.Height, got.Height)
	require.Equal(t, init.Proposer, got.Proposer)
	require.Equal(t, init.BaseFeePerGas.Uint64(), got.BaseFeePerGas.Uint64())
}

func TestBufferCompletesOnMatchingHash(t *testing.T) {
	txs := [][]byte{[]byte("tx0"), []byte("tx1"), []byte("tx2")}
	init, txParts, fin, _ := buildProposal(t, txs)

	buf := NewBuffer()
	require.NoError(t, buf.AddInit(EncodeInit(init)))
	for _, tp := range txParts {
		require.NoError(t, buf.AddTx(EncodeTx(tp)))
	}
	require.False(t, buf.Complete()) // Fin not yet seen
	require.NoError(t, buf.AddFin(EncodeFin(fin)))
	require.True(t, buf.Complete())

	h, r, gotInit, gotTxs, err := buf.Reassemble()
	require.NoError(t, err)
	require.Equal(t, chaintypes.Height(10), h)
	require.Equal(t, chaintypes.Round(0), r)
	require.Equal(t, init.Proposer, gotInit.Proposer)
	require.Equal(t, txs, gotTxs)
}

func TestBufferRejectsMismatchedHash(t *testing.T) {
	init, txParts, _, _ := buildProposal(t, [][]byte{[]byte("tx0")})

	buf := NewBuffer()
	require.NoError(t, buf.AddInit(EncodeInit(init)))
	for _, tp := range txParts {
		require.NoError(t, buf.AddTx(EncodeTx(tp)))
	}
	require.NoError(t, buf.AddFin(EncodeFin(FinPart{PayloadHash: common.BytesToHash([]byte("bogus"))})))
	require.False(t, buf.Complete())
}

func TestBufferIncompleteWithGap(t *testing.T) {
	txs := [][]byte{[]byte("tx0"), []byte("tx1"), []byte("tx2"), []byte("tx3")}
	init, txParts, fin, _ := buildProposal(t, txs)

	buf := NewBuffer()
	require.NoError(t, buf.AddInit(EncodeInit(init)))
	// Skip index 1 to create a gap in the declared Tx sequence.
	require.NoError(t, buf.AddTx(EncodeTx(txParts[0])))
	require.NoError(t, buf.AddFin(EncodeFin(fin)))
	require.False(t, buf.Complete())
}

func TestAddInitRejectsMismatchedIdentity(t *testing.T) {
	init, _, _, _ := buildProposal(t, nil)
	buf := NewBuffer()
	require.NoError(t, buf.AddInit(EncodeInit(init)))

	other := init
	other.Round = 1
	err := buf.AddInit(EncodeInit(other))
	require.Error(t, err)
}
