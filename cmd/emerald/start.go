// Copyright 2024 The emerald Authors

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"
	"github.com/urfave/cli/v2"

	"github.com/emerald-chain/emerald/internal/config"
	"github.com/emerald-chain/emerald/internal/engineapi"
	"github.com/emerald-chain/emerald/internal/genesis"
	"github.com/emerald-chain/emerald/internal/host"
	"github.com/emerald-chain/emerald/internal/ipc"
	"github.com/emerald-chain/emerald/internal/shimerr"
	"github.com/emerald-chain/emerald/internal/store"
)

var (
	configFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "path to the node's TOML config file",
		Required: true,
	}
	genesisFlag = &cli.StringFlag{
		Name:  "genesis",
		Usage: "path to genesis.json",
		Value: "genesis.json",
	}
)

var startCommand = &cli.Command{
	Name:  "start",
	Usage: "run the consensus-execution shim",
	Flags: []cli.Flag{configFlag, genesisFlag},
	Action: func(c *cli.Context) error {
		return runStart(c.String("config"), c.String("genesis"))
	},
}

func runStart(configPath, genesisPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Advisory lock: two shim processes must never open the same
	// store directory concurrently (spec.md §7's store-write-failure
	// class, caught earlier and more cheaply).
	lockPath := cfg.DataDir + "/LOCK"
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		log.Crit("Another emerald process already holds the data directory lock", "path", cfg.DataDir)
	}
	defer fl.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := engineapi.Dial(ctx, cfg.EngineAuthRPCAddress, cfg.ExecutionAuthRPCAddress, cfg.JWTTokenPath,
		engineapi.ForkOsaka, retryPolicyFromConfig(cfg))
	if err != nil {
		return err
	}
	defer engine.Close()

	if _, err := engine.ExchangeCapabilities(ctx, supportedCapabilities); err != nil {
		return err
	}

	st, err := store.Open(cfg.DataDir + "/store")
	if err != nil {
		return err
	}
	defer st.Close()

	g, err := genesis.Load(genesisPath)
	if err != nil {
		return err
	}

	meta, err := st.LoadMeta()
	if err != nil {
		return err
	}
	hash, err := g.Hash()
	if err != nil {
		return err
	}
	if meta.HasDecidedAnything && meta.GenesisHash != hash {
		return shimerr.Errorf(shimerr.KindFatalConfig, "genesis-hash-mismatch",
			"genesis file %s does not match the genesis hash recorded in the store", genesisPath)
	}
	if !meta.HasDecidedAnything {
		if err := st.InitGenesis(hash, hash); err != nil {
			return err
		}
		vs, err := g.ValidatorSet()
		if err != nil {
			return err
		}
		if err := st.PutValidatorSet(1, vs); err != nil {
			return err
		}
		log.Info("Initialized fresh genesis", "chain_id", g.ChainID, "validators", vs.Len())
	}

	h := host.New(st, engine, g.ChainID, cfg.FeeRecipientAddress(), store.RetentionPolicy{
		Mode:            retentionModeFromConfig(cfg),
		MaxRetainBlocks: cfg.MaxRetainBlocks,
	}, retryPolicyFromConfig(cfg))

	bridge, err := ipc.Listen(cfg.ConsensusSocketPath)
	if err != nil {
		return err
	}
	defer bridge.Close()

	go func() {
		if err := bridge.Serve(); err != nil {
			log.Warn("Consensus IPC bridge stopped accepting connections", "err", err)
		}
	}()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- h.Run(ctx, bridge) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("Received shutdown signal")
		cancel()
		<-runErrCh
		return nil
	case err := <-runErrCh:
		return err
	}
}

func retentionModeFromConfig(cfg *config.Config) store.RetentionMode {
	if cfg.ELNodeType == config.NodeCustom {
		return store.RetentionCustom
	}
	return store.RetentionArchive
}

func retryPolicyFromConfig(cfg *config.Config) engineapi.RetryPolicy {
	return engineapi.RetryPolicy{
		InitialBackoff:   cfg.RetryInitialBackoff(),
		MaxBackoff:       cfg.RetryMaxBackoff(),
		TotalBudget:      cfg.RetryTotalBudget(),
		SyncInitialDelay: cfg.SyncInitialDelay(),
		SyncTimeout:      cfg.SyncTimeout(),
	}
}

var supportedCapabilities = []string{
	"engine_forkchoiceUpdatedV3",
	"engine_forkchoiceUpdatedV4",
	"engine_getPayloadV4",
	"engine_getPayloadV5",
	"engine_newPayloadV4",
	"engine_newPayloadV5",
	"engine_getPayloadBodiesByRangeV1",
}
