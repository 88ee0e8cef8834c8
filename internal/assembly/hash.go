// Copyright 2024 The emerald Authors

package assembly

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// HashConcatenatedParts computes the Fin value for an ordered sequence of
// wire-encoded, kind-tagged parts (Init followed by zero or more Tx, in
// order), per spec.md §4.3: "a terminal Fin part carries the final
// payload hash over the concatenated payload bytes."
func HashConcatenatedParts(wireParts [][]byte) common.Hash {
	var concatenated []byte
	for _, p := range wireParts {
		concatenated = append(concatenated, p...)
	}
	return crypto.Keccak256Hash(concatenated)
}
