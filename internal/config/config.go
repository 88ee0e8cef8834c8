// Copyright 2024 The emerald Authors

// Package config loads and validates the per-node TOML configuration of
// spec.md §6.3, in the same naoina/toml style go-ethereum's cmd/geth uses
// for its node config file.
package config

import (
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/naoina/toml"

	"github.com/emerald-chain/emerald/internal/shimerr"
)

// NodeType selects the store's pruning policy (spec.md §4.2, §6.3).
type NodeType string

const (
	NodeArchive NodeType = "archive"
	NodeCustom  NodeType = "custom"
)

// Config is the per-node configuration loaded from TOML at startup.
type Config struct {
	EngineAuthRPCAddress    string `toml:"engine_authrpc_address"`
	ExecutionAuthRPCAddress string `toml:"execution_authrpc_address"`
	JWTTokenPath            string `toml:"jwt_token_path"`
	Moniker                 string `toml:"moniker"`

	SyncTimeoutMS      int64 `toml:"sync_timeout_ms"`
	SyncInitialDelayMS int64 `toml:"sync_initial_delay_ms"`
	RetryInitialMS     int64 `toml:"retry_initial_backoff_ms"`
	RetryMaxBackoffMS  int64 `toml:"retry_max_backoff_ms"`
	RetryTotalBudgetMS int64 `toml:"retry_total_budget_ms"`

	ELNodeType      NodeType `toml:"el_node_type"`
	MaxRetainBlocks uint64   `toml:"max_retain_blocks"`

	FeeRecipient string `toml:"fee_recipient"`

	DataDir string `toml:"data_dir"`

	// ConsensusSocketPath is where the external BFT consensus library
	// connects to deliver events (spec.md §1: "provided by a consensus
	// library that emits events over a channel"). Defaults to
	// consensus.sock under DataDir.
	ConsensusSocketPath string `toml:"consensus_socket_path"`
}

// Load reads and validates a Config from path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, shimerr.Errorf(shimerr.KindFatalConfig, "config-open-failed", "opening config %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, shimerr.Errorf(shimerr.KindFatalConfig, "config-parse-failed", "parsing config %s: %w", path, err)
	}
	if err := cfg.applyDefaults().validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() *Config {
	if c.SyncTimeoutMS == 0 {
		c.SyncTimeoutMS = 5000
	}
	if c.SyncInitialDelayMS == 0 {
		c.SyncInitialDelayMS = 100
	}
	if c.RetryInitialMS == 0 {
		c.RetryInitialMS = 100
	}
	if c.RetryMaxBackoffMS == 0 {
		c.RetryMaxBackoffMS = 2000
	}
	if c.RetryTotalBudgetMS == 0 {
		c.RetryTotalBudgetMS = 10000
	}
	if c.ELNodeType == "" {
		c.ELNodeType = NodeArchive
	}
	if c.ConsensusSocketPath == "" && c.DataDir != "" {
		c.ConsensusSocketPath = c.DataDir + "/consensus.sock"
	}
	return c
}

func (c *Config) validate() error {
	if c.EngineAuthRPCAddress == "" {
		return shimerr.Errorf(shimerr.KindFatalConfig, "config-missing-engine-addr", "engine_authrpc_address must be set")
	}
	if c.ExecutionAuthRPCAddress == "" {
		return shimerr.Errorf(shimerr.KindFatalConfig, "config-missing-execution-addr", "execution_authrpc_address must be set")
	}
	if c.JWTTokenPath == "" {
		return shimerr.Errorf(shimerr.KindFatalConfig, "config-missing-jwt", "jwt_token_path must be set")
	}
	if c.ELNodeType != NodeArchive && c.ELNodeType != NodeCustom {
		return shimerr.Errorf(shimerr.KindFatalConfig, "config-bad-node-type", "el_node_type must be archive or custom, got %q", c.ELNodeType)
	}
	if c.ELNodeType == NodeCustom && c.MaxRetainBlocks == 0 {
		return shimerr.Errorf(shimerr.KindFatalConfig, "config-missing-retain-blocks", "max_retain_blocks is required when el_node_type=custom")
	}
	if !common.IsHexAddress(c.FeeRecipient) {
		return shimerr.Errorf(shimerr.KindFatalConfig, "config-bad-fee-recipient", "fee_recipient %q is not a 40-hex address", c.FeeRecipient)
	}
	return nil
}

func (c *Config) SyncTimeout() time.Duration      { return time.Duration(c.SyncTimeoutMS) * time.Millisecond }
func (c *Config) SyncInitialDelay() time.Duration { return time.Duration(c.SyncInitialDelayMS) * time.Millisecond }
func (c *Config) RetryInitialBackoff() time.Duration {
	return time.Duration(c.RetryInitialMS) * time.Millisecond
}
func (c *Config) RetryMaxBackoff() time.Duration {
	return time.Duration(c.RetryMaxBackoffMS) * time.Millisecond
}
func (c *Config) RetryTotalBudget() time.Duration {
	return time.Duration(c.RetryTotalBudgetMS) * time.Millisecond
}

func (c *Config) FeeRecipientAddress() common.Address {
	return common.HexToAddress(c.FeeRecipient)
}
