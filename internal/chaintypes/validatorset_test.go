// Copyright 2024 The emerald Authors

package chaintypes

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func TestNewValidatorSetRejectsZeroPower(t *testing.T) {
	_, err := NewValidatorSet([]Validator{{Address: addr(1), Power: 0}})
	require.Error(t, err)
}

func TestNewValidatorSetRejectsDuplicates(t *testing.T) {
	_, err := NewValidatorSet([]Validator{
		{Address: addr(1), Power: 10},
		{Address: addr(1), Power: 20},
	})
	require.Error(t, err)
}

func TestNewValidatorSetTotalPower(t *testing.T) {
	vs, err := NewValidatorSet([]Validator{
		{Address: addr(1), Power: 100},
		{Address: addr(2), Power: 100},
		{Address: addr(3), Power: 100},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(300), vs.TotalPower())
	require.Equal(t, uint64(201), vs.QuorumThreshold())
}

func TestVerifyCertificateScenario6(t *testing.T) {
	// spec.md §8 scenario 6: A,B,C,D with powers 100,100,100,50 (total 350).
	vs, err := NewValidatorSet([]Validator{
		{Address: addr(1), Power: 100},
		{Address: addr(2), Power: 100},
		{Address: addr(3), Power: 100},
		{Address: addr(4), Power: 50},
	})
	require.NoError(t, err)

	okCert := Certificate{Height: 8, Votes: []Vote{
		{ValidatorAddress: addr(1)}, {ValidatorAddress: addr(2)}, {ValidatorAddress: addr(3)},
	}}
	require.NoError(t, VerifyCertificate(vs, okCert)) // 300 of 350 > 233

	badCert := Certificate{Height: 8, Votes: []Vote{
		{ValidatorAddress: addr(1)}, {ValidatorAddress: addr(2)},
	}}
	require.Error(t, VerifyCertificate(vs, badCert)) // 200 of 350 < 234
}

func TestVerifyCertificateRejectsUnknownSigner(t *testing.T) {
	vs, err := NewValidatorSet([]Validator{{Address: addr(1), Power: 100}})
	require.NoError(t, err)

	cert := Certificate{Votes: []Vote{{ValidatorAddress: addr(9)}}}
	require.Error(t, VerifyCertificate(vs, cert))
}

func TestProposerForRoundIsDeterministic(t *testing.T) {
	vs, err := NewValidatorSet([]Validator{
		{Address: addr(1), Power: 100},
		{Address: addr(2), Power: 100},
	})
	require.NoError(t, err)

	p1, err := vs.ProposerForRound(5, 0)
	require.NoError(t, err)
	p2, err := vs.ProposerForRound(5, 0)
	require.NoError(t, err)
	require.Equal(t, p1, p2)
}

func TestProposerForRoundEmptySet(t *testing.T) {
	vs := &ValidatorSet{}
	_, err := vs.ProposerForRound(1, 0)
	require.Error(t, err)
}
