// Copyright 2024 The emerald Authors

package validatorset

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/engineapi"
	"github.com/emerald-chain/emerald/internal/shimerr"
)

// caller is the subset of engineapi.Client the reader depends on, so tests
// can substitute a fake without dialing a real execution client.
type caller interface {
	EthCall(ctx context.Context, to common.Address, data []byte, blockTag string) ([]byte, error)
}

var _ caller = (*engineapi.Client)(nil)

// Read calls the PoA registry's view functions at blockTag and returns the
// canonicalized ValidatorSet, per spec.md §4 ("after each decision the
// shim issues eth_call against the PoA registry... canonicalized to
// (address, power) and installed as ValidatorSet(H+1)").
//
// Any eth_call failure is fatal, and so is a registry that reports zero
// validators: "consensus MUST NOT advance without it" (spec.md §4).
func Read(ctx context.Context, c caller, blockTag string) (*chaintypes.ValidatorSet, error) {
	countData, err := parsedRegistryABI.Pack("validatorCount")
	if err != nil {
		return nil, shimerr.Wrap(shimerr.KindFatalConsistency, "validatorset-pack-count-failed", err)
	}
	countRaw, err := c.EthCall(ctx, RegistryAddress, countData, blockTag)
	if err != nil {
		return nil, shimerr.Errorf(shimerr.KindFatalConsistency, "validatorset-read-count-failed",
			"reading validator count from PoA registry: %w", err)
	}
	countOut, err := parsedRegistryABI.Unpack("validatorCount", countRaw)
	if err != nil {
		return nil, shimerr.Wrap(shimerr.KindFatalConsistency, "validatorset-unpack-count-failed", err)
	}
	count := countOut[0].(*big.Int)

	if count.Sign() == 0 {
		return nil, shimerr.Errorf(shimerr.KindFatalConsistency, "validatorset-empty",
			"PoA registry at %s reports zero validators", blockTag)
	}

	validators := make([]chaintypes.Validator, 0, count.Int64())
	for i := int64(0); i < count.Int64(); i++ {
		v, err := readOne(ctx, c, blockTag, big.NewInt(i))
		if err != nil {
			return nil, err
		}
		validators = append(validators, v)
	}

	vs, err := chaintypes.NewValidatorSet(validators)
	if err != nil {
		return nil, shimerr.Wrap(shimerr.KindFatalConsistency, "validatorset-canonicalize-failed", err)
	}
	return vs, nil
}

func readOne(ctx context.Context, c caller, blockTag string, index *big.Int) (chaintypes.Validator, error) {
	data, err := parsedRegistryABI.Pack("validatorAt", index)
	if err != nil {
		return chaintypes.Validator{}, shimerr.Wrap(shimerr.KindFatalConsistency, "validatorset-pack-entry-failed", err)
	}
	raw, err := c.EthCall(ctx, RegistryAddress, data, blockTag)
	if err != nil {
		return chaintypes.Validator{}, shimerr.Errorf(shimerr.KindFatalConsistency, "validatorset-read-entry-failed",
			"reading validator %d from PoA registry: %w", index, err)
	}
	out, err := parsedRegistryABI.Unpack("validatorAt", raw)
	if err != nil {
		return chaintypes.Validator{}, shimerr.Wrap(shimerr.KindFatalConsistency, "validatorset-unpack-entry-failed", err)
	}

	addr := out[0].(common.Address)
	pubkey := out[1].([]byte)
	power := out[2].(uint64)

	key, err := chaintypes.DecompressKey(pubkey)
	if err != nil {
		return chaintypes.Validator{}, shimerr.Errorf(shimerr.KindFatalConsistency, "validatorset-bad-pubkey",
			"validator %s has unparseable public key: %w", addr, err)
	}

	// Address is the canonical identity (spec.md's Open Question decision,
	// DESIGN.md), derived from the key as keccak256(x||y)[12:32]; the
	// registry's own addr field only names the entry in error messages.
	return chaintypes.Validator{Address: chaintypes.AddressFromKey(key), Key: key, Power: power}, nil
}
