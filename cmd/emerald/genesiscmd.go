// Copyright 2024 The emerald Authors

package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/genesis"
)

// pubkeyEntry is one line of the input pubkey list (spec.md §6.4's
// "materialize eth+consensus genesis from a pubkey list").
type pubkeyEntry struct {
	PubKey string `json:"pub_key"`
	Power  uint64 `json:"power"`
}

var genesisCommand = &cli.Command{
	Name:  "genesis",
	Usage: "materialize eth+consensus genesis from a pubkey list",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "validators", Usage: "path to a JSON list of {pub_key, power}", Required: true},
		&cli.Uint64Flag{Name: "chain-id", Usage: "chain id", Required: true},
		&cli.Uint64Flag{Name: "gas-limit", Usage: "genesis gas limit", Value: 30_000_000},
		&cli.StringFlag{Name: "out", Usage: "path to write genesis.json", Value: "genesis.json"},
	},
	Action: func(c *cli.Context) error {
		entries, err := loadPubkeyList(c.String("validators"))
		if err != nil {
			return err
		}
		g, err := buildGenesis(c.Uint64("chain-id"), c.Uint64("gas-limit"), entries)
		if err != nil {
			return err
		}
		return writeGenesisFile(c.String("out"), g)
	},
}

func loadPubkeyList(path string) ([]pubkeyEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading validator list %s: %w", path, err)
	}
	var entries []pubkeyEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parsing validator list %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("validator list %s is empty", path)
	}
	return entries, nil
}

// buildGenesis canonicalizes a pubkey list into a genesis.Genesis, deriving
// each validator's address the same way the PoA registry does
// (spec.md §6.2: keccak256(x||y)[12:32]).
func buildGenesis(chainID, gasLimit uint64, entries []pubkeyEntry) (*genesis.Genesis, error) {
	validators := make([]genesis.ValidatorEntry, 0, len(entries))
	alloc := make(map[common.Address]genesis.AllocEntry, len(entries))

	for _, e := range entries {
		raw, err := hexutil.Decode(ensureHexPrefix(e.PubKey))
		if err != nil {
			return nil, fmt.Errorf("validator pub_key %q is not hex: %w", e.PubKey, err)
		}
		key, err := chaintypes.DecompressKey(raw)
		if err != nil {
			return nil, fmt.Errorf("validator pub_key %q is not a valid secp256k1 key: %w", e.PubKey, err)
		}
		addr := chaintypes.AddressFromKey(key)

		power := e.Power
		if power == 0 {
			power = 1
		}
		validators = append(validators, genesis.ValidatorEntry{
			Address: addr.Bytes(),
			PubKey:  raw,
			Power:   power,
		})
		alloc[addr] = genesis.AllocEntry{Balance: (*hexutil.Big)(big.NewInt(0))}
	}

	return &genesis.Genesis{
		ChainID:      chainID,
		Timestamp:    uint64(time.Now().Unix()),
		GasLimit:     gasLimit,
		ExtraData:    []byte{},
		Alloc:        alloc,
		Validators:   validators,
		ParentHash:   common.Hash{},
		FeeRecipient: common.Address{},
	}, nil
}

func writeGenesisFile(path string, g *genesis.Genesis) error {
	raw, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("writing genesis %s: %w", path, err)
	}
	fmt.Printf("genesis written to %s (chain_id=%d, validators=%d)\n", path, g.ChainID, len(g.Validators))
	return nil
}

func ensureHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s
	}
	return "0x" + s
}
