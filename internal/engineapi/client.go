// Copyright 2024 The emerald Authors

// Package engineapi is the authenticated JSON-RPC channel to the execution
// client, per spec.md §4.1. It speaks the Engine-API method family of the
// ForkVersion passed to Dial, signs every call with a rotating HS256 bearer
// token, and retries failed calls with backoff within the shim's retry
// budget. Only new_payload also retries SYNCING responses; the other calls
// return whatever status the execution client reports.
package engineapi

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/shimerr"
)

// Client talks to one execution client over its authenticated Engine-API
// endpoint and its plain JSON-RPC endpoint.
type Client struct {
	fork   ForkVersion
	policy RetryPolicy

	engineRPC *rpc.Client
	ethRPC    *rpc.Client
	eth       *ethclient.Client

	jwt *jwtSource
}

// Dial connects to both the authenticated Engine-API endpoint and the
// plain JSON-RPC endpoint, wiring JWT auth only into the former.
func Dial(ctx context.Context, engineAddr, rpcAddr, jwtSecretPath string, fork ForkVersion, policy RetryPolicy) (*Client, error) {
	jwt, err := newJWTSource(jwtSecretPath)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &authRoundTripper{jwt: jwt, base: http.DefaultTransport},
	}

	engineRPC, err := rpc.DialOptions(ctx, engineAddr, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, shimerr.Errorf(shimerr.KindFatalConfig, "engine-dial-failed", "dialing engine-api endpoint %s: %w", engineAddr, err)
	}

	ethRPC, err := rpc.DialContext(ctx, rpcAddr)
	if err != nil {
		return nil, shimerr.Errorf(shimerr.KindFatalConfig, "eth-dial-failed", "dialing json-rpc endpoint %s: %w", rpcAddr, err)
	}

	return &Client{
		fork:      fork,
		policy:    policy,
		engineRPC: engineRPC,
		ethRPC:    ethRPC,
		eth:       ethclient.NewClient(ethRPC),
		jwt:       jwt,
	}, nil
}

// Close releases both RPC connections and stops the JWT file watcher.
func (c *Client) Close() {
	c.engineRPC.Close()
	c.ethRPC.Close()
	c.jwt.close()
}

// authRoundTripper attaches a freshly minted bearer token to every request,
// since tokens are only valid within a ±60s window (spec.md §4.1).
type authRoundTripper struct {
	jwt  *jwtSource
	base http.RoundTripper
}

func (rt *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := rt.jwt.token()
	if err != nil {
		return nil, err
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+token)
	return rt.base.RoundTrip(req)
}

// ExchangeCapabilities sends the shim's supported Engine-API methods and
// returns the execution client's list (spec.md §4.1). The result does not
// change which method family this Client uses.
func (c *Client) ExchangeCapabilities(ctx context.Context, supported []string) ([]string, error) {
	return withTransportRetry(ctx, c.policy, "engine_exchangeCapabilities", func(ctx context.Context) ([]string, error) {
		var result []string
		err := c.engineRPC.CallContext(ctx, &result, "engine_exchangeCapabilities", supported)
		return result, err
	})
}

// ForkchoiceUpdated sets the execution client's canonical/safe/finalized
// heads and, if attrs is non-nil, begins building a new payload on top of
// head. spec.md §4.1/§5: must be called build-attributes (proposer) →
// new_payload (validation) → update-head-finalized (commit), in that order,
// within one height — callers are responsible for the ordering, this
// method only executes one call.
func (c *Client) ForkchoiceUpdated(ctx context.Context, state ForkchoiceState, attrs *PayloadAttributes) (ForkchoiceUpdatedResult, error) {
	method := c.fork.forkchoiceMethod()
	return withTransportRetry(ctx, c.policy, method, func(ctx context.Context) (ForkchoiceUpdatedResult, error) {
		var result ForkchoiceUpdatedResult
		var err error
		if attrs != nil {
			err = c.engineRPC.CallContext(ctx, &result, method, state, attrs)
		} else {
			err = c.engineRPC.CallContext(ctx, &result, method, state, nil)
		}
		return result, err
	})
}

// GetPayload retrieves the payload built for payloadID. Per spec.md §4.1
// the proposer MUST submit the fields returned here unchanged; callers
// should not mutate the returned chaintypes.Payload before handing it to
// block assembly, apart from ParentBeaconBlockRoot, which the envelope
// does not carry and which is returned zero for the caller to fill in.
func (c *Client) GetPayload(ctx context.Context, payloadID []byte) (chaintypes.Payload, *big.Int, bool, error) {
	method := c.fork.getPayloadMethod()
	type out struct {
		payload     chaintypes.Payload
		blockValue  *big.Int
		constructed bool
	}
	result, err := withTransportRetry(ctx, c.policy, method, func(ctx context.Context) (out, error) {
		var raw GetPayloadResult
		if err := c.engineRPC.CallContext(ctx, &raw, method, hexutil.Bytes(payloadID)); err != nil {
			return out{}, err
		}
		var root common.Hash // filled by caller from the forkchoice head that requested the build
		p := payloadFromWire(raw.ExecutionPayload, root)
		var value *big.Int
		if raw.BlockValue != nil {
			value = (*big.Int)(raw.BlockValue)
		}
		return out{payload: p, blockValue: value, constructed: raw.Constructed()}, nil
	})
	if err != nil {
		return chaintypes.Payload{}, nil, false, err
	}
	return result.payload, result.blockValue, result.constructed, nil
}

// NewPayload submits a payload for validation and inclusion into the
// execution client's local chain state without changing canonical head.
// SYNCING responses are retried internally per spec.md §4.1/§4.6; the
// caller only ever observes a terminal status or an error.
func (c *Client) NewPayload(ctx context.Context, payload chaintypes.Payload, versionedHashes []common.Hash, parentBeaconBlockRoot common.Hash, executionRequests [][]byte) (PayloadStatus, error) {
	method := c.fork.newPayloadMethod()
	wire := payloadToWire(payload)
	reqs := make([]hexutil.Bytes, len(executionRequests))
	for i, r := range executionRequests {
		reqs[i] = hexutil.Bytes(r)
	}

	return awaitTerminalStatus(ctx, c.policy, method, func(ctx context.Context) (PayloadStatus, error) {
		var status PayloadStatus
		err := c.engineRPC.CallContext(ctx, &status, method, wire, versionedHashes, parentBeaconBlockRoot, reqs)
		return status, err
	})
}

// GetPayloadBodiesByRange returns transaction/withdrawal bodies for
// [from, from+count). A nil entry in the result means the execution client
// has no body for that height.
func (c *Client) GetPayloadBodiesByRange(ctx context.Context, from chaintypes.Height, count uint64) ([]*chaintypes.Body, error) {
	return withTransportRetry(ctx, c.policy, "engine_getPayloadBodiesByRangeV1", func(ctx context.Context) ([]*chaintypes.Body, error) {
		var raw []*PayloadBody
		if err := c.engineRPC.CallContext(ctx, &raw, "engine_getPayloadBodiesByRangeV1", hexutil.Uint64(from), hexutil.Uint64(count)); err != nil {
			return nil, err
		}
		out := make([]*chaintypes.Body, len(raw))
		for i, b := range raw {
			if b == nil {
				continue
			}
			out[i] = &chaintypes.Body{
				Transactions: fromWireTransactions(b.Transactions),
				Withdrawals:  fromWireWithdrawals(b.Withdrawals),
			}
		}
		return out, nil
	})
}

// EthGetBlockByNumber returns the execution client's notion of a block's
// number and hash for the given tag ("latest", "finalized", or a hex
// number), used for genesis alignment and crash-recovery replay.
func (c *Client) EthGetBlockByNumber(ctx context.Context, tag string) (number uint64, hash common.Hash, err error) {
	type header struct {
		Number hexutil.Uint64 `json:"number"`
		Hash   common.Hash    `json:"hash"`
	}
	h, err := withTransportRetry(ctx, c.policy, "eth_getBlockByNumber", func(ctx context.Context) (header, error) {
		var h header
		err := c.ethRPC.CallContext(ctx, &h, "eth_getBlockByNumber", tag, false)
		return h, err
	})
	if err != nil {
		return 0, common.Hash{}, err
	}
	return uint64(h.Number), h.Hash, nil
}

// EthSyncing reports whether the execution client considers itself
// syncing, gating GetValue per spec.md §4.5.
func (c *Client) EthSyncing(ctx context.Context) (bool, error) {
	return withTransportRetry(ctx, c.policy, "eth_syncing", func(ctx context.Context) (bool, error) {
		var raw any
		if err := c.ethRPC.CallContext(ctx, &raw, "eth_syncing"); err != nil {
			return false, err
		}
		if b, ok := raw.(bool); ok {
			return b, nil
		}
		return raw != nil, nil // a syncing-status object means: syncing
	})
}

// EthCall invokes a read-only contract call, used by internal/validatorset
// to read the PoA registry.
func (c *Client) EthCall(ctx context.Context, to common.Address, data []byte, blockTag string) ([]byte, error) {
	return withTransportRetry(ctx, c.policy, "eth_call", func(ctx context.Context) ([]byte, error) {
		msg := map[string]any{"to": to, "data": hexutil.Bytes(data)}
		var result hexutil.Bytes
		err := c.ethRPC.CallContext(ctx, &result, "eth_call", msg, blockTag)
		return result, err
	})
}

// LogCall is a small convenience wrapper most call sites use to get a
// consistent "height/round" log line on failure per spec.md §7.
func LogCall(name string, h chaintypes.Height, r chaintypes.Round, err error) {
	if err == nil {
		return
	}
	log.Warn("Engine API call failed", "call", name, "height", h, "round", r, "kind", shimerr.KindOf(err), "err", err)
}
