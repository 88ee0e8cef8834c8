// Copyright 2024 The emerald Authors

package host

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/emerald-chain/emerald/internal/bft"
	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/engineapi"
	"github.com/emerald-chain/emerald/internal/engineapi/enginetest"
	"github.com/emerald-chain/emerald/internal/store"
)

// registryTestABI mirrors internal/validatorset's registry ABI so these
// tests can script eth_call responses for the PoA registry without
// depending on that package's unexported parsed ABI.
const registryTestABI = `[
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

// wireEngineHost dials a real engineapi.Client against srv so host tests
// exercise the same JSON-RPC path production code takes, instead of a
// mocked Engine field.
func wireEngineHost(t *testing.T, srv *enginetest.Server) *Host {
	t.Helper()
	secret := writeTestJWTSecret(t)
	c, err := engineapi.Dial(context.Background(), srv.URL(), srv.URL(), secret, engineapi.ForkOsaka, engineapi.DefaultRetryPolicy())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return New(st, c, 1337, common.BytesToAddress([]byte{9}), store.RetentionPolicy{Mode: store.RetentionArchive}, engineapi.DefaultRetryPolicy())
}

func writeTestJWTSecret(t *testing.T) string {
	t.Helper()
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "jwtsecret")
	require.NoError(t, os.WriteFile(path, []byte(hex.EncodeToString(secret)), 0o600))
	return path
}

// registerRegistryHandler scripts eth_call against srv to
// answer as the PoA registry would for a single-validator set, so
// handleDecided's validatorset.Read call succeeds end to end.
func registerRegistryHandler(t *testing.T, srv *enginetest.Server, addr common.Address, pubkey []byte, power uint64) {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(registryTestABI))
	require.NoError(t, err)

	srv.Handle("eth_call", func(params []json.RawMessage) (any, error) {
		if len(params) == 0 {
			return nil, fmt.Errorf("eth_call: missing call message")
		}
		var msg struct {
			Data string `json:"data"`
		}
		if err := json.Unmarshal(params[0], &msg); err != nil {
			return nil, err
		}
		data, err := hexutil.Decode(msg.Data)
		if err != nil {
			return nil, err
		}
		method, err := parsed.MethodById(data[:4])
		if err != nil {
			return nil, err
		}
		switch method.Name {
		case "validatorCount":
			packed, err := parsed.Methods["validatorCount"].Outputs.Pack(big.NewInt(1))
			if err != nil {
				return nil, err
			}
			return hexutil.Encode(packed), nil
		case "validatorAt":
			packed, err := parsed.Methods["validatorAt"].Outputs.Pack(addr, pubkey, power)
			if err != nil {
				return nil, err
			}
			return hexutil.Encode(packed), nil
		default:
			return nil, fmt.Errorf("unexpected registry call %s", method.Name)
		}
	})
}

func singleValidatorSet(t *testing.T, addr common.Address, power uint64) *chaintypes.ValidatorSet {
	t.Helper()
	vs, err := chaintypes.NewValidatorSet([]chaintypes.Validator{{Address: addr, Power: power}})
	require.NoError(t, err)
	return vs
}

func TestHandleGetValueBuildsAndCachesProposal(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	h := wireEngineHost(t, srv)

	addr := common.BytesToAddress([]byte{7})
	require.NoError(t, h.Store.PutValidatorSet(0, singleValidatorSet(t, addr, 100)))

	reply, err := h.handleGetValue(context.Background(), bft.GetValueEvent{Height: 0, Round: 0})
	require.NoError(t, err)
	require.NotEmpty(t, reply.Parts)
	require.Equal(t, len(reply.Parts), reply.TotalParts)

	key := roundKey{Height: 0, Round: 0}
	h.mu.Lock()
	_, cached := h.buildCache[key]
	h.mu.Unlock()
	require.True(t, cached)
	require.True(t, h.validated.has(key), "proposer's own build must be treated as already-validated (I6)")
}

func TestHandleGetValueFailsWhenExecutionSyncing(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	srv.Handle("eth_syncing", func(params []json.RawMessage) (any, error) { return true, nil })
	h := wireEngineHost(t, srv)

	addr := common.BytesToAddress([]byte{7})
	require.NoError(t, h.Store.PutValidatorSet(0, singleValidatorSet(t, addr, 100)))

	_, err := h.handleGetValue(context.Background(), bft.GetValueEvent{Height: 0, Round: 0})
	require.Error(t, err)
}

func TestHandleGetValueAtHeightOneUsesGenesisHashAsParent(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	h := wireEngineHost(t, srv)

	addr := common.BytesToAddress([]byte{7})
	require.NoError(t, h.Store.PutValidatorSet(1, singleValidatorSet(t, addr, 100)))

	var genesisHash [32]byte
	copy(genesisHash[:], []byte("unit-test-genesis-hash-marker"))
	require.NoError(t, h.Store.InitGenesis(genesisHash, [32]byte{}))

	var sawParent common.Hash
	srv.Handle("engine_forkchoiceUpdatedV4", func(params []json.RawMessage) (any, error) {
		var fc struct {
			HeadBlockHash common.Hash `json:"headBlockHash"`
		}
		if len(params) > 0 {
			require.NoError(t, json.Unmarshal(params[0], &fc))
		}
		sawParent = fc.HeadBlockHash
		return map[string]any{
			"payloadStatus": map[string]any{"status": "VALID", "latestValidHash": nil, "validationError": nil},
			"payloadId":     "0x0000000000000001",
		}, nil
	})

	reply, err := h.handleGetValue(context.Background(), bft.GetValueEvent{Height: 1, Round: 0})
	require.NoError(t, err)
	require.NotEmpty(t, reply.Parts)
	require.Equal(t, common.Hash(genesisHash), sawParent, "parent of H=1 must be the genesis hash, not a missing-parent error")
}

func TestHandleProposalPartValidatesNonProposerValue(t *testing.T) {
	// Build the wire parts as the proposer would, on one host...
	proposerSrv := enginetest.NewServer()
	defer proposerSrv.Close()
	proposer := wireEngineHost(t, proposerSrv)
	addr := common.BytesToAddress([]byte{7})
	require.NoError(t, proposer.Store.PutValidatorSet(0, singleValidatorSet(t, addr, 100)))
	built, err := proposer.handleGetValue(context.Background(), bft.GetValueEvent{Height: 0, Round: 0})
	require.NoError(t, err)

	// ...then feed those same parts into a different host acting as a
	// non-proposer receiving them over the wire.
	srv := enginetest.NewServer()
	defer srv.Close()
	h := wireEngineHost(t, srv)
	require.NoError(t, h.Store.PutValidatorSet(0, singleValidatorSet(t, addr, 100)))

	var reply bft.ProposalPartReply
	for _, part := range built.Parts {
		reply, err = h.AppendToRound(context.Background(), 0, 0, part)
		require.NoError(t, err)
	}
	require.NotNil(t, reply.Valid)
	require.True(t, *reply.Valid)

	key := roundKey{Height: 0, Round: 0}
	h.mu.Lock()
	_, cached := h.buildCache[key]
	h.mu.Unlock()
	require.True(t, h.validated.has(key))
	require.True(t, cached)
}

func TestHandleProposalPartReportsInvalid(t *testing.T) {
	proposerSrv := enginetest.NewServer()
	defer proposerSrv.Close()
	proposer := wireEngineHost(t, proposerSrv)
	addr := common.BytesToAddress([]byte{7})
	require.NoError(t, proposer.Store.PutValidatorSet(0, singleValidatorSet(t, addr, 100)))
	built, err := proposer.handleGetValue(context.Background(), bft.GetValueEvent{Height: 0, Round: 0})
	require.NoError(t, err)

	srv := enginetest.NewServer()
	defer srv.Close()
	srv.Handle("engine_newPayloadV5", func(params []json.RawMessage) (any, error) {
		return map[string]any{"status": "INVALID", "latestValidHash": nil, "validationError": "bad block"}, nil
	})
	h := wireEngineHost(t, srv)
	require.NoError(t, h.Store.PutValidatorSet(0, singleValidatorSet(t, addr, 100)))

	var reply bft.ProposalPartReply
	for _, part := range built.Parts {
		reply, err = h.AppendToRound(context.Background(), 0, 0, part)
		require.NoError(t, err)
	}
	require.NotNil(t, reply.Valid)
	require.False(t, *reply.Valid)
}

func TestHandleDecidedCommitsAndAdvancesValidatorSet(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	h := wireEngineHost(t, srv)

	addr := common.BytesToAddress([]byte{7})
	require.NoError(t, h.Store.PutValidatorSet(0, singleValidatorSet(t, addr, 100)))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	nextAddr := crypto.PubkeyToAddress(key.PublicKey)
	registerRegistryHandler(t, srv, nextAddr, crypto.FromECDSAPub(&key.PublicKey), 100)

	built, err := h.handleGetValue(context.Background(), bft.GetValueEvent{Height: 0, Round: 0})
	require.NoError(t, err)

	cert := chaintypes.Certificate{
		Height:         0,
		Round:          0,
		DecidedValueID: built.ValueID,
		Votes:          []chaintypes.Vote{{ValidatorAddress: addr, Signature: []byte("sig")}},
	}

	reply, err := h.handleDecided(context.Background(), bft.DecidedEvent{Height: 0, Certificate: cert})
	require.NoError(t, err)
	require.True(t, reply.Ack)
	require.NotNil(t, reply.NextValidators)
	require.Equal(t, 1, reply.NextValidators.Len())

	dv, err := h.Store.GetDecidedValue(0)
	require.NoError(t, err)
	require.Equal(t, cert, dv.Certificate)

	nextVS, err := h.Store.GetValidatorSet(1)
	require.NoError(t, err)
	v, ok := nextVS.ByAddress(nextAddr)
	require.True(t, ok)
	require.Equal(t, uint64(100), v.Power)
}

func TestHandleDecidedRejectsInsufficientQuorum(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	h := wireEngineHost(t, srv)

	addrHigh := common.BytesToAddress([]byte{7})
	addrLow := common.BytesToAddress([]byte{8})
	vs, err := chaintypes.NewValidatorSet([]chaintypes.Validator{
		{Address: addrHigh, Power: 100},
		{Address: addrLow, Power: 1},
	})
	require.NoError(t, err)
	require.NoError(t, h.Store.PutValidatorSet(0, vs))

	built, err := h.handleGetValue(context.Background(), bft.GetValueEvent{Height: 0, Round: 0})
	require.NoError(t, err)

	cert := chaintypes.Certificate{
		Height:         0,
		Round:          0,
		DecidedValueID: built.ValueID,
		Votes:          []chaintypes.Vote{{ValidatorAddress: addrLow, Signature: []byte("sig")}},
	}

	_, err = h.handleDecided(context.Background(), bft.DecidedEvent{Height: 0, Certificate: cert})
	require.Error(t, err)
}

func TestHandleConsensusReadyReplaysMissingHeightsThenMatchesExecutionHead(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	h := wireEngineHost(t, srv)

	addr := common.BytesToAddress([]byte{7})
	vs := singleValidatorSet(t, addr, 100)
	require.NoError(t, h.Store.PutValidatorSet(0, vs))

	// Two heights are durable in the store but the execution client (per
	// eth_getBlockByNumber below) only reached height 0 before the crash,
	// so handleConsensusReady must replay height 1.
	dv0 := chaintypes.DecidedValue{
		Height:      0,
		Payload:     chaintypes.Payload{BlockNumber: 0, BlockHash: common.BytesToHash([]byte{0x01})},
		Certificate: chaintypes.Certificate{Height: 0},
	}
	require.NoError(t, h.Store.CommitHeight(dv0, vs, 0))

	dv1 := chaintypes.DecidedValue{
		Height:      1,
		Payload:     chaintypes.Payload{BlockNumber: 1, ParentHash: dv0.Payload.BlockHash, BlockHash: common.BytesToHash([]byte{0x02})},
		Certificate: chaintypes.Certificate{Height: 1},
	}
	require.NoError(t, h.Store.CommitHeight(dv1, vs, 0))

	srv.Handle("eth_getBlockByNumber", func(params []json.RawMessage) (any, error) {
		return map[string]any{"number": "0x0", "hash": "0x" + strings.Repeat("0", 64)}, nil
	})

	var replayed bool
	srv.Handle("engine_newPayloadV5", func(params []json.RawMessage) (any, error) {
		replayed = true
		return map[string]any{"status": "VALID", "latestValidHash": nil, "validationError": nil}, nil
	})

	reply, err := h.handleConsensusReady(context.Background())
	require.NoError(t, err)
	require.Equal(t, chaintypes.Height(1), reply.LatestHeight)
	require.True(t, replayed, "replay must call new_payload for a height the execution client lacks")
}
