// Copyright 2024 The emerald Authors

// Package keys loads and generates the validator's secp256k1 identity
// (spec.md §6.3's priv_validator_key file).
package keys

import (
	"crypto/ecdsa"
	"encoding/json"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/shimerr"
)

// ValidatorKey is the on-disk JSON shape of priv_validator_key: hex-encoded
// secp256k1 public and private keys.
type ValidatorKey struct {
	PubKey  string `json:"pub_key"`
	PrivKey string `json:"priv_key"`
}

// Load reads and parses the validator key file at path.
func Load(path string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, shimerr.Errorf(shimerr.KindFatalConfig, "validatorkey-open-failed", "opening validator key %s: %w", path, err)
	}
	var vk ValidatorKey
	if err := json.Unmarshal(raw, &vk); err != nil {
		return nil, shimerr.Errorf(shimerr.KindFatalConfig, "validatorkey-parse-failed", "parsing validator key %s: %w", path, err)
	}
	priv, err := crypto.HexToECDSA(vk.PrivKey)
	if err != nil {
		return nil, shimerr.Errorf(shimerr.KindFatalConfig, "validatorkey-bad-privkey", "validator key %s has malformed priv_key: %w", path, err)
	}
	return priv, nil
}

// Generate creates a fresh secp256k1 keypair and writes it to path as
// priv_validator_key JSON, for the `init` CLI subcommand.
func Generate(path string) (*ecdsa.PrivateKey, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, shimerr.Wrap(shimerr.KindFatalConfig, "validatorkey-generate-failed", err)
	}
	if err := save(path, priv); err != nil {
		return nil, err
	}
	return priv, nil
}

func save(path string, priv *ecdsa.PrivateKey) error {
	vk := ValidatorKey{
		PubKey:  common.Bytes2Hex(crypto.FromECDSAPub(&priv.PublicKey)),
		PrivKey: common.Bytes2Hex(crypto.FromECDSA(priv)),
	}
	raw, err := json.MarshalIndent(vk, "", "  ")
	if err != nil {
		return shimerr.Wrap(shimerr.KindFatalConfig, "validatorkey-encode-failed", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return shimerr.Errorf(shimerr.KindFatalConfig, "validatorkey-write-failed", "writing validator key %s: %w", path, err)
	}
	return nil
}

// Address derives the shim's canonical validator address from a key pair
// (spec.md §3: keccak256(x||y)[12:32]).
func Address(priv *ecdsa.PrivateKey) (common.Address, error) {
	key, err := chaintypes.DecompressKey(crypto.FromECDSAPub(&priv.PublicKey))
	if err != nil {
		return common.Address{}, err
	}
	return chaintypes.AddressFromKey(key), nil
}

// PubkeyHex returns the hex-encoded uncompressed public key, for the
// `show-pubkey` CLI subcommand.
func PubkeyHex(priv *ecdsa.PrivateKey) string {
	return common.Bytes2Hex(crypto.FromECDSAPub(&priv.PublicKey))
}
