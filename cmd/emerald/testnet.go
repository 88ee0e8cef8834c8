// Copyright 2024 The emerald Authors

package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/emerald-chain/emerald/internal/keys"
)

// nodeManifestEntry describes one generated node for the testnet layout
// manifest (spec.md §6.4's "generate a multi-node layout").
type nodeManifestEntry struct {
	Moniker                 string `yaml:"moniker"`
	Address                 string `yaml:"address"`
	DataDir                 string `yaml:"data_dir"`
	ConfigPath              string `yaml:"config_path"`
	EngineAuthRPCAddress    string `yaml:"engine_authrpc_address"`
	ExecutionAuthRPCAddress string `yaml:"execution_authrpc_address"`
}

type testnetManifest struct {
	ChainID int                 `yaml:"chain_id"`
	Genesis string              `yaml:"genesis"`
	Nodes   []nodeManifestEntry `yaml:"nodes"`
}

var testnetCommand = &cli.Command{
	Name:  "testnet",
	Usage: "generate a multi-node testnet layout",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "nodes", Usage: "number of validator nodes", Value: 4},
		&cli.StringFlag{Name: "out", Usage: "output directory", Value: "testnet"},
		&cli.Uint64Flag{Name: "chain-id", Usage: "chain id", Value: 424242},
		&cli.IntFlag{Name: "base-engine-port", Value: 8551},
		&cli.IntFlag{Name: "base-rpc-port", Value: 8545},
	},
	Action: func(c *cli.Context) error {
		return runTestnet(c.Int("nodes"), c.String("out"), c.Uint64("chain-id"), c.Int("base-engine-port"), c.Int("base-rpc-port"))
	},
}

func runTestnet(n int, outDir string, chainID uint64, baseEnginePort, baseRPCPort int) error {
	if n <= 0 {
		return fmt.Errorf("testnet: --nodes must be positive, got %d", n)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	jwtSecret, err := writeSharedJWTSecret(outDir)
	if err != nil {
		return err
	}

	entries := make([]pubkeyEntry, 0, n)
	manifest := testnetManifest{ChainID: int(chainID), Genesis: filepath.Join(outDir, "genesis.json")}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"node", "address", "engine", "rpc"})

	type nodePaths struct {
		dir, config string
	}
	var nodes []nodePaths

	for i := 1; i <= n; i++ {
		moniker := fmt.Sprintf("node%d", i)
		nodeDir := filepath.Join(outDir, moniker)
		if err := os.MkdirAll(filepath.Join(nodeDir, "data"), 0o755); err != nil {
			return err
		}

		keyPath := filepath.Join(nodeDir, "priv_validator_key.json")
		priv, err := keys.Generate(keyPath)
		if err != nil {
			return err
		}
		addr, err := keys.Address(priv)
		if err != nil {
			return err
		}

		enginePort := baseEnginePort + i
		rpcPort := baseRPCPort + i
		engineAddr := fmt.Sprintf("http://127.0.0.1:%d", enginePort)
		rpcAddr := fmt.Sprintf("http://127.0.0.1:%d", rpcPort)

		configPath := filepath.Join(nodeDir, "config.toml")
		if err := writeNodeConfig(configPath, nodeConfigParams{
			Moniker:      moniker,
			EngineAddr:   engineAddr,
			ExecAddr:     rpcAddr,
			JWTPath:      jwtSecret,
			DataDir:      filepath.Join(nodeDir, "data"),
			FeeRecipient: addr.Hex(),
		}); err != nil {
			return err
		}

		entries = append(entries, pubkeyEntry{PubKey: keys.PubkeyHex(priv), Power: 100})
		manifest.Nodes = append(manifest.Nodes, nodeManifestEntry{
			Moniker:                 moniker,
			Address:                 addr.Hex(),
			DataDir:                 filepath.Join(nodeDir, "data"),
			ConfigPath:              configPath,
			EngineAuthRPCAddress:    engineAddr,
			ExecutionAuthRPCAddress: rpcAddr,
		})
		nodes = append(nodes, nodePaths{dir: nodeDir, config: configPath})
		table.Append([]string{moniker, addr.Hex(), engineAddr, rpcAddr})
	}

	g, err := buildGenesis(chainID, 30_000_000, entries)
	if err != nil {
		return err
	}
	if err := writeGenesisFile(manifest.Genesis, g); err != nil {
		return err
	}

	manifestPath := filepath.Join(outDir, "testnet.yaml")
	raw, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encoding testnet manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, raw, 0o644); err != nil {
		return fmt.Errorf("writing testnet manifest %s: %w", manifestPath, err)
	}

	table.Render()
	fmt.Printf("testnet layout written to %s (manifest: %s)\n", outDir, manifestPath)
	return nil
}

func writeSharedJWTSecret(outDir string) (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generating jwt secret: %w", err)
	}
	path := filepath.Join(outDir, "jwtsecret")
	if err := os.WriteFile(path, []byte(hex.EncodeToString(secret)), 0o600); err != nil {
		return "", fmt.Errorf("writing jwt secret %s: %w", path, err)
	}
	return path, nil
}

type nodeConfigParams struct {
	Moniker      string
	EngineAddr   string
	ExecAddr     string
	JWTPath      string
	DataDir      string
	FeeRecipient string
}

func writeNodeConfig(path string, p nodeConfigParams) error {
	body := fmt.Sprintf(`moniker = %q
engine_authrpc_address = %q
execution_authrpc_address = %q
jwt_token_path = %q
data_dir = %q
fee_recipient = %q
el_node_type = "archive"
`, p.Moniker, p.EngineAddr, p.ExecAddr, p.JWTPath, p.DataDir, p.FeeRecipient)
	return os.WriteFile(path, []byte(body), 0o644)
}
