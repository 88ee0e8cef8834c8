// Copyright 2024 The emerald Authors

package engineapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/engineapi/enginetest"
)

var errAlwaysFails = errors.New("simulated transport failure")

func writeJWTSecret(t *testing.T) string {
	t.Helper()
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "jwtsecret")
	require.NoError(t, os.WriteFile(path, []byte(hex.EncodeToString(secret)), 0o600))
	return path
}

func dialTestClient(t *testing.T, srv *enginetest.Server) *Client {
	t.Helper()
	c, err := Dial(context.Background(), srv.URL(), srv.URL(), writeJWTSecret(t), ForkOsaka, DefaultRetryPolicy())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestExchangeCapabilitiesRoundTrips(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	c := dialTestClient(t, srv)

	got, err := c.ExchangeCapabilities(context.Background(), []string{"engine_newPayloadV5"})
	require.NoError(t, err)
	require.Equal(t, []string{"engine_newPayloadV5"}, got)
}

func TestForkchoiceUpdatedReturnsPayloadIDWhenBuilding(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	c := dialTestClient(t, srv)

	result, err := c.ForkchoiceUpdated(context.Background(), ForkchoiceState{}, &PayloadAttributes{})
	require.NoError(t, err)
	require.Equal(t, StatusValid, result.PayloadStatus.Status)
	require.NotNil(t, result.PayloadID)
}

func TestNewPayloadReportsInvalid(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	srv.Handle("engine_newPayloadV5", func(params []json.RawMessage) (any, error) {
		return map[string]any{"status": "INVALID", "latestValidHash": nil, "validationError": "bad block"}, nil
	})
	c := dialTestClient(t, srv)

	status, err := c.NewPayload(context.Background(), chaintypes.Payload{}, nil, common.Hash{}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusInvalid, status.Status)
}

func TestEthSyncingReportsBool(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	srv.Handle("eth_syncing", func(params []json.RawMessage) (any, error) { return true, nil })
	c := dialTestClient(t, srv)

	syncing, err := c.EthSyncing(context.Background())
	require.NoError(t, err)
	require.True(t, syncing)
}

func TestRetryExhaustsBudgetOnPersistentTransportError(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	srv.Handle("eth_syncing", func(params []json.RawMessage) (any, error) {
		return nil, errAlwaysFails
	})
	policy := DefaultRetryPolicy()
	policy.TotalBudget = 0
	policy.InitialBackoff = 0

	c, err := Dial(context.Background(), srv.URL(), srv.URL(), writeJWTSecret(t), ForkOsaka, policy)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.EthSyncing(context.Background())
	require.Error(t, err)
}
