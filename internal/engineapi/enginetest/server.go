// Copyright 2024 The emerald Authors

// Package enginetest is a fake Engine-API + eth_* JSON-RPC server for
// exercising internal/engineapi and internal/host without a real
// execution client. It mocks only the HTTP/JSON-RPC boundary the shim
// actually talks to (spec.md §4.1), not an execution client's internals.
package enginetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

// HandlerFunc answers one JSON-RPC method call given its raw params.
type HandlerFunc func(params []json.RawMessage) (any, error)

// Server is an httptest-backed Engine-API double. Defaults answer every
// method the shim calls with a plausible VALID/empty response; tests
// override individual methods with Handle to script specific behavior
// (SYNCING, INVALID, transport errors via Handle returning an error).
type Server struct {
	httpServer *httptest.Server

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	calls    map[string]int
}

// URL is the server's base HTTP address, usable as both the engine and
// plain JSON-RPC endpoint (the fake serves both from one mux).
func (s *Server) URL() string { return s.httpServer.URL }

// Close shuts down the underlying httptest.Server.
func (s *Server) Close() { s.httpServer.Close() }

// Handle overrides (or adds) the handler for one JSON-RPC method.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

// CallCount reports how many times method has been invoked.
func (s *Server) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// NewServer starts a fake Engine-API server with default handlers for
// every method internal/engineapi.Client calls.
func NewServer() *Server {
	s := &Server{handlers: make(map[string]HandlerFunc), calls: make(map[string]int)}
	s.installDefaults()
	s.httpServer = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	return s
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	fn, ok := s.handlers[req.Method]
	s.calls[req.Method]++
	s.mu.Unlock()

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if !ok {
		resp.Error = &rpcError{Code: -32601, Message: "method not found: " + req.Method}
	} else if result, err := fn(req.Params); err != nil {
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
	} else {
		resp.Result = result
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) installDefaults() {
	s.handlers["engine_exchangeCapabilities"] = func(params []json.RawMessage) (any, error) {
		var supported []string
		if len(params) > 0 {
			_ = json.Unmarshal(params[0], &supported)
		}
		return supported, nil
	}

	validStatus := map[string]any{"status": "VALID", "latestValidHash": nil, "validationError": nil}

	forkchoiceOK := func(params []json.RawMessage) (any, error) {
		result := map[string]any{"payloadStatus": validStatus}
		if len(params) > 1 {
			var attrs any
			if err := json.Unmarshal(params[1], &attrs); err == nil && attrs != nil {
				result["payloadId"] = "0x0000000000000001"
			}
		}
		return result, nil
	}
	s.handlers["engine_forkchoiceUpdatedV3"] = forkchoiceOK
	s.handlers["engine_forkchoiceUpdatedV4"] = forkchoiceOK

	getPayload := func(params []json.RawMessage) (any, error) {
		return map[string]any{
			"executionPayload": defaultExecutionPayload(),
			"blockValue":       "0x0",
			"blobsBundle":      nil,
		}, nil
	}
	s.handlers["engine_getPayloadV4"] = getPayload
	s.handlers["engine_getPayloadV5"] = getPayload

	newPayloadOK := func(params []json.RawMessage) (any, error) { return validStatus, nil }
	s.handlers["engine_newPayloadV4"] = newPayloadOK
	s.handlers["engine_newPayloadV5"] = newPayloadOK

	s.handlers["engine_getPayloadBodiesByRangeV1"] = func(params []json.RawMessage) (any, error) {
		return []any{}, nil
	}

	s.handlers["eth_getBlockByNumber"] = func(params []json.RawMessage) (any, error) {
		return map[string]any{
			"number": "0x0",
			"hash":   "0x0000000000000000000000000000000000000000000000000000000000000000",
		}, nil
	}

	s.handlers["eth_syncing"] = func(params []json.RawMessage) (any, error) { return false, nil }
	s.handlers["eth_call"] = func(params []json.RawMessage) (any, error) { return "0x", nil }
}

func defaultExecutionPayload() map[string]any {
	zeroHash := "0x0000000000000000000000000000000000000000000000000000000000000000"
	zeroAddr := "0x0000000000000000000000000000000000000000"
	return map[string]any{
		"parentHash":    zeroHash,
		"feeRecipient":  zeroAddr,
		"stateRoot":     zeroHash,
		"receiptsRoot":  zeroHash,
		"logsBloom":     "0x",
		"prevRandao":    zeroHash,
		"blockNumber":   "0x1",
		"gasLimit":      "0x1c9c380",
		"gasUsed":       "0x0",
		"timestamp":     "0x1",
		"extraData":     "0x",
		"baseFeePerGas": "0x1",
		"blockHash":     zeroHash,
		"transactions":  []any{},
		"withdrawals":   []any{},
		"blobGasUsed":   "0x0",
		"excessBlobGas": "0x0",
	}
}
