// Copyright 2024 The emerald Authors

// Package genesis parses the combined eth+consensus genesis file of
// spec.md §6.3: standard Ethereum genesis JSON plus chain_id and the
// initial PoA validator list with powers.
package genesis

import (
	"encoding/json"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/shimerr"
)

// ValidatorEntry is one initial validator in genesis.json.
type ValidatorEntry struct {
	Address hexutil.Bytes `json:"address"`
	PubKey  hexutil.Bytes `json:"pub_key"`
	Power   uint64        `json:"power"`
}

// Genesis is the parsed genesis.json: an Ethereum-style genesis (timestamp,
// gas limit, extra data, alloc) plus the chain_id and the embedded PoA
// validator set used until the first on-chain read (spec.md §4).
type Genesis struct {
	ChainID      uint64                        `json:"chain_id"`
	Timestamp    uint64                        `json:"timestamp"`
	GasLimit     uint64                        `json:"gas_limit"`
	ExtraData    hexutil.Bytes                 `json:"extra_data"`
	Alloc        map[common.Address]AllocEntry `json:"alloc"`
	Validators   []ValidatorEntry              `json:"validators"`
	ParentHash   common.Hash                   `json:"parent_hash"`
	FeeRecipient common.Address                `json:"fee_recipient"`
}

// AllocEntry is a genesis account balance, in the standard geth genesis shape.
type AllocEntry struct {
	Balance *hexutil.Big `json:"balance"`
}

// Load reads and parses a genesis file.
func Load(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, shimerr.Errorf(shimerr.KindFatalConfig, "genesis-open-failed", "opening genesis %s: %w", path, err)
	}
	var g Genesis
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, shimerr.Errorf(shimerr.KindFatalConfig, "genesis-parse-failed", "parsing genesis %s: %w", path, err)
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

func (g *Genesis) validate() error {
	if g.ChainID == 0 {
		return shimerr.Errorf(shimerr.KindFatalConfig, "genesis-missing-chain-id", "genesis must set chain_id")
	}
	if len(g.Validators) == 0 {
		return shimerr.Errorf(shimerr.KindFatalConfig, "genesis-no-validators", "genesis must list at least one initial validator")
	}
	return nil
}

// ValidatorSet canonicalizes the genesis validator list into a
// chaintypes.ValidatorSet, used at startup before the PoA registry has
// ever been read (spec.md §4: "At startup, the validator set is taken
// from the genesis file's embedded PoA state").
func (g *Genesis) ValidatorSet() (*chaintypes.ValidatorSet, error) {
	validators := make([]chaintypes.Validator, 0, len(g.Validators))
	for _, v := range g.Validators {
		key, err := chaintypes.DecompressKey(v.PubKey)
		if err != nil {
			return nil, shimerr.Errorf(shimerr.KindFatalConfig, "genesis-bad-pubkey",
				"genesis validator %s has unparseable public key: %w", common.BytesToAddress(v.Address), err)
		}
		validators = append(validators, chaintypes.Validator{
			Address: common.BytesToAddress(v.Address),
			Key:     key,
			Power:   v.Power,
		})
	}
	vs, err := chaintypes.NewValidatorSet(validators)
	if err != nil {
		return nil, shimerr.Wrap(shimerr.KindFatalConfig, "genesis-bad-validatorset", err)
	}
	return vs, nil
}

// Hash computes a content hash identifying this genesis, stored as the
// store's genesis_hash Meta entry and checked against it on subsequent
// startups.
func (g *Genesis) Hash() ([32]byte, error) {
	raw, err := json.Marshal(g)
	if err != nil {
		return [32]byte{}, shimerr.Wrap(shimerr.KindFatalConfig, "genesis-hash-failed", err)
	}
	return hashBytes(raw), nil
}
