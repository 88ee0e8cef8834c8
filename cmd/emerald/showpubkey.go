// Copyright 2024 The emerald Authors

package main

import (
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/emerald-chain/emerald/internal/keys"
)

var showPubkeyCommand = &cli.Command{
	Name:  "show-pubkey",
	Usage: "print the hex public key from a validator key file",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "key-file",
			Usage: "path to priv_validator_key",
			Value: "priv_validator_key.json",
		},
	},
	Action: func(c *cli.Context) error {
		path := c.String("key-file")
		priv, err := keys.Load(path)
		if err != nil {
			return err
		}
		addr, err := keys.Address(priv)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"field", "value"})
		table.Append([]string{"pub_key", keys.PubkeyHex(priv)})
		table.Append([]string{"address", addr.String()})
		table.Render()
		return nil
	},
}
