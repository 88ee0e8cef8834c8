// Copyright 2024 The emerald Authors

// Command emerald is the consensus-execution shim's CLI surface
// (spec.md §6.4): start, init, show-pubkey, testnet, genesis.
package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	glogger := log.NewGlogHandler(log.NewTerminalHandler(os.Stderr, false))
	glogger.Verbosity(log.LvlInfo)
	log.SetDefault(log.NewLogger(glogger))

	app := &cli.App{
		Name:                 "emerald",
		Usage:                "consensus-execution shim for the Emerald PoA chain",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			startCommand,
			initCommand,
			showPubkeyCommand,
			testnetCommand,
			genesisCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "emerald:", err)
		os.Exit(1)
	}
}
