// Copyright 2024 The emerald Authors

package engineapi

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ForkVersion selects which Engine-API method family the client speaks
// (spec.md §4.1/§6.1). It is fixed by the caller of Dial; the result of
// exchange_capabilities does not change it.
type ForkVersion int

const (
	ForkPrague ForkVersion = iota
	ForkOsaka
)

func (f ForkVersion) forkchoiceMethod() string {
	if f == ForkOsaka {
		return "engine_forkchoiceUpdatedV4"
	}
	return "engine_forkchoiceUpdatedV3"
}

func (f ForkVersion) getPayloadMethod() string {
	if f == ForkOsaka {
		return "engine_getPayloadV5"
	}
	return "engine_getPayloadV4"
}

func (f ForkVersion) newPayloadMethod() string {
	if f == ForkOsaka {
		return "engine_newPayloadV5"
	}
	return "engine_newPayloadV4"
}

// PayloadStatusValue is the validity status returned by forkchoice_updated
// and new_payload.
type PayloadStatusValue string

const (
	StatusValid   PayloadStatusValue = "VALID"
	StatusInvalid PayloadStatusValue = "INVALID"
	StatusSyncing PayloadStatusValue = "SYNCING"
	// StatusAccepted is treated identically to StatusValid for the purpose
	// of a consensus reply, per spec.md §4.1.
	StatusAccepted PayloadStatusValue = "ACCEPTED"
)

// IsValidForConsensus reports whether status should be reported to
// consensus as VALID (covers both VALID and ACCEPTED).
func (s PayloadStatusValue) IsValidForConsensus() bool {
	return s == StatusValid || s == StatusAccepted
}

// IsTerminal reports whether status requires no further SYNCING retries.
func (s PayloadStatusValue) IsTerminal() bool {
	return s == StatusValid || s == StatusInvalid || s == StatusAccepted
}

// PayloadStatus is the wire envelope engine_newPayload* and
// engine_forkchoiceUpdated* both return.
type PayloadStatus struct {
	Status          PayloadStatusValue `json:"status"`
	LatestValidHash *common.Hash       `json:"latestValidHash"`
	ValidationError *string            `json:"validationError"`
}

// ForkchoiceState names the canonical/safe/finalized heads, per spec.md §4.1.
type ForkchoiceState struct {
	HeadBlockHash      common.Hash `json:"headBlockHash"`
	SafeBlockHash      common.Hash `json:"safeBlockHash"`
	FinalizedBlockHash common.Hash `json:"finalizedBlockHash"`
}

// PayloadAttributes requests that the execution client begin building a
// payload on top of the forkchoice's head.
type PayloadAttributes struct {
	Timestamp             hexutil.Uint64 `json:"timestamp"`
	PrevRandao            common.Hash    `json:"prevRandao"`
	SuggestedFeeRecipient common.Address `json:"suggestedFeeRecipient"`
	Withdrawals           []wireWithdrawal `json:"withdrawals"`
	ParentBeaconBlockRoot common.Hash    `json:"parentBeaconBlockRoot"`
}

// ForkchoiceUpdatedResult is the response to forkchoice_updated.
type ForkchoiceUpdatedResult struct {
	PayloadStatus PayloadStatus   `json:"payloadStatus"`
	PayloadID     *hexutil.Bytes  `json:"payloadId"`
}

// GetPayloadResult is the response to get_payload: the built envelope plus
// whether the block was "constructed" (non-empty), per spec.md §4.1.
type GetPayloadResult struct {
	ExecutionPayload      wireExecutionPayload `json:"executionPayload"`
	BlockValue            *hexutil.Big         `json:"blockValue"`
	BlobsBundle           any                  `json:"blobsBundle"`
	ShouldOverrideBuilder bool                 `json:"shouldOverrideBuilder"`
	ExecutionRequests     []hexutil.Bytes      `json:"executionRequests"`
}

// Constructed reports whether the execution client actually built a
// non-empty block (spec.md §4.1: "a flag indicating whether the block was
// 'constructed'"), inferred from a non-zero transaction count since not
// every execution client surfaces an explicit flag.
func (r GetPayloadResult) Constructed() bool {
	return len(r.ExecutionPayload.Transactions) > 0
}

type wireWithdrawal struct {
	Index          hexutil.Uint64 `json:"index"`
	ValidatorIndex hexutil.Uint64 `json:"validatorIndex"`
	Address        common.Address `json:"address"`
	Amount         hexutil.Uint64 `json:"amount"`
}

// wireExecutionPayload is the JSON shape of the V4/V5 execution payload
// envelope. Field names match the Engine API spec exactly; blob/beacon
// fields are always present but always zero/empty per spec.md §6.5.
type wireExecutionPayload struct {
	ParentHash    common.Hash      `json:"parentHash"`
	FeeRecipient  common.Address   `json:"feeRecipient"`
	StateRoot     common.Hash      `json:"stateRoot"`
	ReceiptsRoot  common.Hash      `json:"receiptsRoot"`
	LogsBloom     hexutil.Bytes    `json:"logsBloom"`
	PrevRandao    common.Hash      `json:"prevRandao"`
	BlockNumber   hexutil.Uint64   `json:"blockNumber"`
	GasLimit      hexutil.Uint64   `json:"gasLimit"`
	GasUsed       hexutil.Uint64   `json:"gasUsed"`
	Timestamp     hexutil.Uint64   `json:"timestamp"`
	ExtraData     hexutil.Bytes    `json:"extraData"`
	BaseFeePerGas *hexutil.Big     `json:"baseFeePerGas"`
	BlockHash     common.Hash      `json:"blockHash"`
	Transactions  []hexutil.Bytes  `json:"transactions"`
	Withdrawals   []wireWithdrawal `json:"withdrawals"`
	BlobGasUsed   hexutil.Uint64   `json:"blobGasUsed"`
	ExcessBlobGas hexutil.Uint64   `json:"excessBlobGas"`
}

// PayloadBody is one entry of engine_getPayloadBodiesByRangeV1's result;
// a nil entry (JSON null) means the execution client has no body for that
// height, which the caller must treat the same as a missing height.
type PayloadBody struct {
	Transactions []hexutil.Bytes `json:"transactions"`
	Withdrawals  []wireWithdrawal `json:"withdrawals"`
}
