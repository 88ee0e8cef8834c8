// Copyright 2024 The emerald Authors

package keys

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priv_validator_key")
	priv, err := Generate(path)
	require.NoError(t, err)

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, priv.D, loaded.D)
}

func TestAddressIsDeterministic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priv_validator_key")
	priv, err := Generate(path)
	require.NoError(t, err)

	addr1, err := Address(priv)
	require.NoError(t, err)
	addr2, err := Address(priv)
	require.NoError(t, err)
	require.Equal(t, addr1, addr2)
}
