package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/airchains-network/evm-ledger/config"
	"github.com/airchains-network/evm-ledger/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/spf13/cobra"
)

// InitCmd represents the init command
var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the ledger home directory",
	Long: `Initialize the ledger with the required configuration.
This command creates the data directories, config.toml and, if missing, an empty genesis.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return initCommand(cmd)
	},
}

func init() {
	InitCmd.Flags().String("rpc-address", ":8545", "JSON-RPC listen address")
	InitCmd.Flags().String("ws-address", ":8546", "WebSocket listen address")
	InitCmd.Flags().Uint64("chain-id", 1337, "Chain id accepted in signed transactions")
	InitCmd.Flags().String("coinbase", common.Address{}.Hex(), "Account credited with gas fees")
	InitCmd.Flags().Int("max-call-depth", 1024, "Maximum nested call depth")
	InitCmd.Flags().Uint64("block-gas-limit", 30_000_000, "Upper bound on the gas limit of one transaction")
	InitCmd.Flags().Bool("charge-intrinsic", true, "Charge intrinsic transaction gas")
}

func initCommand(cmd *cobra.Command) error {
	log := newLogger()
	home := homeFlag(cmd)

	rpcAddress, _ := cmd.Flags().GetString("rpc-address")
	wsAddress, _ := cmd.Flags().GetString("ws-address")
	chainID, _ := cmd.Flags().GetUint64("chain-id")
	coinbase, _ := cmd.Flags().GetString("coinbase")
	maxDepth, _ := cmd.Flags().GetInt("max-call-depth")
	blockGasLimit, _ := cmd.Flags().GetUint64("block-gas-limit")
	chargeIntrinsic, _ := cmd.Flags().GetBool("charge-intrinsic")

	if !common.IsHexAddress(coinbase) {
		return fmt.Errorf("invalid --coinbase: %s", coinbase)
	}
	if maxDepth <= 0 {
		return fmt.Errorf("invalid --max-call-depth: %d", maxDepth)
	}

	cfg := config.DefaultConfig(home)
	cfg.General.RPCAddress = rpcAddress
	cfg.General.WebSocketAddress = wsAddress
	cfg.General.ChainID = chainID
	cfg.Engine.Coinbase = common.HexToAddress(coinbase).Hex()
	cfg.Engine.MaxCallDepth = maxDepth
	cfg.Engine.BlockGasLimit = blockGasLimit
	cfg.Engine.ChargeIntrinsic = chargeIntrinsic

	dirs := []string{
		home,
		filepath.Join(home, "keys"),
		cfg.Database.StatePath,
		cfg.Database.ReceiptPath,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	path := configPath(home)
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	log.Infof("Created config file at: %s", path)

	if _, err := os.Stat(cfg.Genesis.FilePath); os.IsNotExist(err) {
		genesis := state.Genesis{
			ChainID:  math.HexOrDecimal64(chainID),
			Accounts: []state.GenesisAlloc{},
		}
		data, err := json.MarshalIndent(genesis, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode genesis: %w", err)
		}
		if err := os.WriteFile(cfg.Genesis.FilePath, data, 0644); err != nil {
			return fmt.Errorf("failed to write genesis file: %w", err)
		}
		log.Infof("Created empty genesis file at: %s", cfg.Genesis.FilePath)
	}

	fmt.Println("\n=== Configuration Summary ===")
	fmt.Printf("RPC Address: %s\n", cfg.General.RPCAddress)
	fmt.Printf("WebSocket Address: %s\n", cfg.General.WebSocketAddress)
	fmt.Printf("Chain ID: %d\n", cfg.General.ChainID)
	fmt.Printf("Coinbase: %s\n", cfg.Engine.Coinbase)
	fmt.Printf("Max Call Depth: %d\n", cfg.Engine.MaxCallDepth)
	fmt.Printf("Block Gas Limit: %d\n", cfg.Engine.BlockGasLimit)
	fmt.Printf("Config File: %s\n", path)

	log.Info("Initialization completed successfully!")
	log.Infof("Add funded accounts to %s, then start the node with: evm-ledger start", cfg.Genesis.FilePath)
	return nil
}
