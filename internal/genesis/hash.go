// Copyright 2024 The emerald Authors

package genesis

import "github.com/ethereum/go-ethereum/crypto"

func hashBytes(b []byte) [32]byte {
	return crypto.Keccak256Hash(b)
}
