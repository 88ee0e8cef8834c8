// Copyright 2024 The emerald Authors

package engineapi

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/emerald-chain/emerald/internal/chaintypes"
)

func toWireWithdrawals(ws []chaintypes.Withdrawal) []wireWithdrawal {
	out := make([]wireWithdrawal, len(ws))
	for i, w := range ws {
		out[i] = wireWithdrawal{
			Index:          hexutil.Uint64(w.Index),
			ValidatorIndex: hexutil.Uint64(w.ValidatorIndex),
			Address:        w.Address,
			Amount:         hexutil.Uint64(w.AmountGwei),
		}
	}
	return out
}

func fromWireWithdrawals(ws []wireWithdrawal) []chaintypes.Withdrawal {
	out := make([]chaintypes.Withdrawal, len(ws))
	for i, w := range ws {
		out[i] = chaintypes.Withdrawal{
			Index:          uint64(w.Index),
			ValidatorIndex: uint64(w.ValidatorIndex),
			Address:        w.Address,
			AmountGwei:     uint64(w.Amount),
		}
	}
	return out
}

func toWireTransactions(txs [][]byte) []hexutil.Bytes {
	out := make([]hexutil.Bytes, len(txs))
	for i, tx := range txs {
		out[i] = hexutil.Bytes(tx)
	}
	return out
}

func fromWireTransactions(txs []hexutil.Bytes) [][]byte {
	out := make([][]byte, len(txs))
	for i, tx := range txs {
		out[i] = []byte(tx)
	}
	return out
}

// payloadFromWire converts the Engine-API wire envelope into the shim's
// domain Payload type. parentBeaconBlockRoot is threaded through separately
// because the wire envelope omits it (it travels alongside new_payload's
// parameters, not inside the payload object itself).
func payloadFromWire(w wireExecutionPayload, parentBeaconBlockRoot [32]byte) chaintypes.Payload {
	p := chaintypes.Payload{
		ParentHash:    w.ParentHash,
		FeeRecipient:  w.FeeRecipient,
		StateRoot:     w.StateRoot,
		ReceiptsRoot:  w.ReceiptsRoot,
		BlockNumber:   uint64(w.BlockNumber),
		GasLimit:      uint64(w.GasLimit),
		GasUsed:       uint64(w.GasUsed),
		Timestamp:     uint64(w.Timestamp),
		ExtraData:     []byte(w.ExtraData),
		BlockHash:     w.BlockHash,
		Transactions:  fromWireTransactions(w.Transactions),
		Withdrawals:   fromWireWithdrawals(w.Withdrawals),
		BlobGasUsed:   uint64(w.BlobGasUsed),
		ExcessBlobGas: uint64(w.ExcessBlobGas),
	}
	p.ParentBeaconBlockRoot = parentBeaconBlockRoot
	copy(p.LogsBloom[:], w.LogsBloom)
	if w.BaseFeePerGas != nil {
		p.BaseFeePerGas, _ = uint256.FromBig((*big.Int)(w.BaseFeePerGas))
	}
	return p
}

func payloadToWire(p chaintypes.Payload) wireExecutionPayload {
	w := wireExecutionPayload{
		ParentHash:    p.ParentHash,
		FeeRecipient:  p.FeeRecipient,
		StateRoot:     p.StateRoot,
		ReceiptsRoot:  p.ReceiptsRoot,
		LogsBloom:     hexutil.Bytes(p.LogsBloom[:]),
		PrevRandao:    p.PrevRandao,
		BlockNumber:   hexutil.Uint64(p.BlockNumber),
		GasLimit:      hexutil.Uint64(p.GasLimit),
		GasUsed:       hexutil.Uint64(p.GasUsed),
		Timestamp:     hexutil.Uint64(p.Timestamp),
		ExtraData:     hexutil.Bytes(p.ExtraData),
		BlockHash:     p.BlockHash,
		Transactions:  toWireTransactions(p.Transactions),
		Withdrawals:   toWireWithdrawals(p.Withdrawals),
		BlobGasUsed:   hexutil.Uint64(p.BlobGasUsed),
		ExcessBlobGas: hexutil.Uint64(p.ExcessBlobGas),
	}
	if p.BaseFeePerGas != nil {
		w.BaseFeePerGas = (*hexutil.Big)(p.BaseFeePerGas.ToBig())
	}
	return w
}
