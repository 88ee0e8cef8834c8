// Copyright 2024 The emerald Authors

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
engine_authrpc_address = "http://127.0.0.1:8551"
execution_authrpc_address = "http://127.0.0.1:8545"
jwt_token_path = "/tmp/jwtsecret"
fee_recipient = "0x0000000000000000000000000000000000000001"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, int64(5000), cfg.SyncTimeoutMS)
	require.Equal(t, NodeArchive, cfg.ELNodeType)
}

func TestLoadRejectsCustomWithoutRetainBlocks(t *testing.T) {
	path := writeConfig(t, `
engine_authrpc_address = "http://127.0.0.1:8551"
execution_authrpc_address = "http://127.0.0.1:8545"
jwt_token_path = "/tmp/jwtsecret"
fee_recipient = "0x0000000000000000000000000000000000000001"
el_node_type = "custom"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadFeeRecipient(t *testing.T) {
	path := writeConfig(t, `
engine_authrpc_address = "http://127.0.0.1:8551"
execution_authrpc_address = "http://127.0.0.1:8545"
jwt_token_path = "/tmp/jwtsecret"
fee_recipient = "not-an-address"
`)
	_, err := Load(path)
	require.Error(t, err)
}
