// Copyright 2024 The emerald Authors

// Package validatorset reads the PoA registry contract's view functions
// via eth_call and canonicalizes its output into chaintypes.ValidatorSet,
// per spec.md §4 and §6.2.
package validatorset

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// RegistryAddress is the PoA registry's fixed address (spec.md §6.2).
var RegistryAddress = common.HexToAddress("0x0000000000000000000000000000000000002000")

// registryABI covers only the view functions the shim relies on; the
// owner-gated mutators (register/unregister/updatePower/...) are invoked
// by operators out-of-band and have no reader-side representation.
const registryABI = `[
  {"type":"function","name":"validatorCount","stateMutability":"view",
   "inputs":[], "outputs":[{"name":"count","type":"uint256"}]},
  {"type":"function","name":"validatorAt","stateMutability":"view",
   "inputs":[{"name":"index","type":"uint256"}],
   "outputs":[
     {"name":"addr","type":"address"},
     {"name":"pubkey","type":"bytes"},
     {"name":"power","type":"uint64"}
   ]}
]`

var parsedRegistryABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		panic("validatorset: malformed registry abi: " + err.Error())
	}
	parsedRegistryABI = parsed
}
