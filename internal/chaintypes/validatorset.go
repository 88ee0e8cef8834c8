// Copyright 2024 The emerald Authors

package chaintypes

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/emerald-chain/emerald/internal/shimerr"
)

// ValidatorSet is the ordered, deduplicated set of validators active at a
// given height, per spec.md §3. It is immutable once built: updates to the
// PoA registry produce a new ValidatorSet for the following height rather
// than mutating this one in place.
type ValidatorSet struct {
	validators []Validator
	byAddress  map[common.Address]Validator
	totalPower uint64
}

// NewValidatorSet validates and builds a ValidatorSet from raw (address,
// power, key) tuples, enforcing the invariants of spec.md §4.4:
//   - every power is strictly > 0
//   - no duplicate addresses
//   - aggregate power fits in a uint64
func NewValidatorSet(validators []Validator) (*ValidatorSet, error) {
	seen := mapset.NewThreadUnsafeSet[common.Address]()
	byAddress := make(map[common.Address]Validator, len(validators))

	total := new(uint256.Int)
	for _, v := range validators {
		if v.Power == 0 {
			return nil, shimerr.Errorf(shimerr.KindProtocol, "validatorset-zero-power",
				"validator %s has zero power", v.Address)
		}
		if seen.Contains(v.Address) {
			return nil, shimerr.Errorf(shimerr.KindProtocol, "validatorset-duplicate",
				"duplicate validator address %s", v.Address)
		}
		seen.Add(v.Address)
		byAddress[v.Address] = v

		total.Add(total, uint256.NewInt(v.Power))
		if !total.IsUint64() {
			return nil, shimerr.Errorf(shimerr.KindFatalConsistency, "validatorset-power-overflow",
				"aggregate power overflows uint64 at validator %s", v.Address)
		}
	}

	sorted := make([]Validator, len(validators))
	copy(sorted, validators)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Address.Cmp(sorted[j].Address) < 0
	})

	return &ValidatorSet{
		validators: sorted,
		byAddress:  byAddress,
		totalPower: total.Uint64(),
	}, nil
}

// Validators returns the ordered validator list. The slice is owned by the
// caller; mutating it does not affect the ValidatorSet.
func (vs *ValidatorSet) Validators() []Validator {
	out := make([]Validator, len(vs.validators))
	copy(out, vs.validators)
	return out
}

// Len returns the number of validators in the set.
func (vs *ValidatorSet) Len() int { return len(vs.validators) }

// TotalPower returns the sum of every validator's power.
func (vs *ValidatorSet) TotalPower() uint64 { return vs.totalPower }

// ByAddress looks up a validator by address.
func (vs *ValidatorSet) ByAddress(addr common.Address) (Validator, bool) {
	v, ok := vs.byAddress[addr]
	return v, ok
}

// QuorumThreshold returns the minimum voting power a certificate must carry
// to exceed 2/3 of total power. Computed as floor(2*total/3) + 1 so that
// exactly 2/3 is insufficient and any strictly greater amount passes.
func (vs *ValidatorSet) QuorumThreshold() uint64 {
	return vs.totalPower*2/3 + 1
}

// ProposerForRound implements the deterministic, weighted round-robin
// proposer selection named in spec.md's Glossary ("a deterministic function
// of H, R, and ValidatorSet(H)"). Validators are laid out on a cumulative
// power line in set order and (height + round) mod totalPower selects a
// position on it, so each validator owns a share of positions equal to its
// power and each further round at one height moves the position one unit
// of power along the line.
func (vs *ValidatorSet) ProposerForRound(h Height, r Round) (common.Address, error) {
	if len(vs.validators) == 0 {
		return common.Address{}, shimerr.Errorf(shimerr.KindFatalConsistency, "proposer-empty-set",
			"cannot select a proposer from an empty validator set")
	}
	if vs.totalPower == 0 {
		return common.Address{}, shimerr.Errorf(shimerr.KindFatalConsistency, "proposer-zero-power",
			"validator set has zero total power")
	}

	seed := (uint64(h) + uint64(r)) % vs.totalPower
	var cumulative uint64
	for _, v := range vs.validators {
		cumulative += v.Power
		if seed < cumulative {
			return v.Address, nil
		}
	}
	// Unreachable given seed < totalPower, but fail closed rather than
	// returning the zero address.
	return common.Address{}, fmt.Errorf("proposer selection fell through cumulative power line")
}

// VerifyCertificate checks that cert carries enough distinct, known-validator
// signatures to exceed vs.QuorumThreshold(). It does not verify the
// signatures themselves (the BFT library's concern, spec.md §1); it verifies
// weight, not authenticity.
func VerifyCertificate(vs *ValidatorSet, cert Certificate) error {
	seen := mapset.NewThreadUnsafeSet[common.Address]()
	var power uint64
	for _, vote := range cert.Votes {
		if seen.Contains(vote.ValidatorAddress) {
			continue // duplicate vote from the same validator does not add weight
		}
		v, ok := vs.ByAddress(vote.ValidatorAddress)
		if !ok {
			return shimerr.Errorf(shimerr.KindProtocol, "certificate-unknown-signer",
				"certificate for height %d signed by non-validator %s", cert.Height, vote.ValidatorAddress)
		}
		seen.Add(vote.ValidatorAddress)
		power += v.Power
	}

	if power < vs.QuorumThreshold() {
		return shimerr.Errorf(shimerr.KindProtocol, "certificate-insufficient-power",
			"certificate for height %d carries power %d, need > 2/3 of %d", cert.Height, power, vs.totalPower)
	}
	return nil
}
