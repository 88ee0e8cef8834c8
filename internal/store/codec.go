// Copyright 2024 The emerald Authors

package store

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/shimerr"
)

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// storedValidatorSet is the RLP-friendly projection of chaintypes.ValidatorSet,
// which keeps its derived fields (byAddress index, total power) unexported
// and rebuilt on load via chaintypes.NewValidatorSet.
type storedValidatorSet struct {
	Validators []chaintypes.Validator
}

func encodeValidatorSet(vs *chaintypes.ValidatorSet) ([]byte, error) {
	return rlp.EncodeToBytes(&storedValidatorSet{Validators: vs.Validators()})
}

func decodeValidatorSet(raw []byte) (*chaintypes.ValidatorSet, error) {
	var stored storedValidatorSet
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, shimerr.Wrap(shimerr.KindFatalConsistency, "store-decode-validatorset-failed", err)
	}
	return chaintypes.NewValidatorSet(stored.Validators)
}
