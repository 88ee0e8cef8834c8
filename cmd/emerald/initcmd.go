// Copyright 2024 The emerald Authors

package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/emerald-chain/emerald/internal/keys"
)

var initCommand = &cli.Command{
	Name:  "init",
	Usage: "generate a fresh validator key",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "key-file",
			Usage: "path to write priv_validator_key",
			Value: "priv_validator_key.json",
		},
	},
	Action: func(c *cli.Context) error {
		path := c.String("key-file")
		priv, err := keys.Generate(path)
		if err != nil {
			return err
		}
		addr, err := keys.Address(priv)
		if err != nil {
			return err
		}
		fmt.Printf("validator key written to %s\n", path)
		fmt.Printf("address: %s\n", addr)
		return nil
	},
}
