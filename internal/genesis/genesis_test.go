// Copyright 2024 The emerald Authors

package genesis

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func writeGenesis(t *testing.T, chainID uint64, numValidators int) string {
	t.Helper()
	var validators []ValidatorEntry
	for i := 0; i < numValidators; i++ {
		priv, err := crypto.GenerateKey()
		require.NoError(t, err)
		validators = append(validators, ValidatorEntry{
			Address: crypto.PubkeyToAddress(priv.PublicKey).Bytes(),
			PubKey:  crypto.FromECDSAPub(&priv.PublicKey),
			Power:   100,
		})
	}
	g := Genesis{ChainID: chainID, Validators: validators}
	raw, err := json.Marshal(g)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "genesis.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestLoadValidGenesis(t *testing.T) {
	path := writeGenesis(t, 1337, 3)
	g, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint64(1337), g.ChainID)

	vs, err := g.ValidatorSet()
	require.NoError(t, err)
	require.Equal(t, 3, vs.Len())
	require.Equal(t, uint64(300), vs.TotalPower())
}

func TestLoadRejectsMissingChainID(t *testing.T) {
	path := writeGenesis(t, 0, 1)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsNoValidators(t *testing.T) {
	path := writeGenesis(t, 1337, 0)
	_, err := Load(path)
	require.Error(t, err)
}
