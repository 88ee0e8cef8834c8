// Copyright 2024 The emerald Authors

package chaintypes

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressFromKey derives the 20-byte validator address from an uncompressed
// secp256k1 public key (X, Y), per spec.md §3: keccak256(x||y)[12..32].
func AddressFromKey(key ValidatorKey) common.Address {
	buf := make([]byte, 0, 64)
	buf = append(buf, key.X[:]...)
	buf = append(buf, key.Y[:]...)
	digest := crypto.Keccak256(buf)
	return common.BytesToAddress(digest[12:])
}

// DecompressKey canonicalizes a compressed (33-byte, 0x02/0x03 prefix) or
// uncompressed (65-byte, 0x04 prefix) secp256k1 public key into (X, Y).
// spec.md §6.2: "compressed keys are decompressed on-contract"; the shim
// must still be able to canonicalize whichever form a genesis file or the
// registry returns off-chain.
func DecompressKey(raw []byte) (ValidatorKey, error) {
	var pub *ecdsa.PublicKey
	var err error
	switch len(raw) {
	case 33:
		pub, err = crypto.DecompressPubkey(raw)
	default:
		pub, err = crypto.UnmarshalPubkey(raw)
	}
	if err != nil {
		return ValidatorKey{}, err
	}

	var key ValidatorKey
	pub.X.FillBytes(key.X[:])
	pub.Y.FillBytes(key.Y[:])
	return key, nil
}
