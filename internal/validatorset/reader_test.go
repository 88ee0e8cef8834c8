// Copyright 2024 The emerald Authors

package validatorset

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// fakeRegistry answers eth_call as if it were the PoA registry contract,
// dispatching on the packed function selector the way a real node would.
type fakeRegistry struct {
	validators []struct {
		addr   common.Address
		pubkey []byte
		power  uint64
	}
}

func (f *fakeRegistry) EthCall(_ context.Context, to common.Address, data []byte, _ string) ([]byte, error) {
	if to != RegistryAddress {
		return nil, errUnexpectedAddress
	}
	method, err := parsedRegistryABI.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "validatorCount":
		return parsedRegistryABI.Methods["validatorCount"].Outputs.Pack(big.NewInt(int64(len(f.validators))))
	case "validatorAt":
		args, err := method.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, err
		}
		idx := args[0].(*big.Int).Int64()
		v := f.validators[idx]
		return method.Outputs.Pack(v.addr, v.pubkey, v.power)
	default:
		return nil, errUnexpectedAddress
	}
}

var errUnexpectedAddress = &fakeErr{"unexpected call"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

func TestReadCanonicalizesRegistryOutput(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	pubkey := crypto.FromECDSAPub(&key.PublicKey)

	reg := &fakeRegistry{}
	reg.validators = append(reg.validators, struct {
		addr   common.Address
		pubkey []byte
		power  uint64
	}{addr: crypto.PubkeyToAddress(key.PublicKey), pubkey: pubkey, power: 100})

	vs, err := Read(context.Background(), reg, "latest")
	require.NoError(t, err)
	require.Equal(t, 1, vs.Len())
	require.Equal(t, uint64(100), vs.TotalPower())
}

func TestReadRejectsEmptyRegistry(t *testing.T) {
	reg := &fakeRegistry{}
	_, err := Read(context.Background(), reg, "latest")
	require.Error(t, err)
}
