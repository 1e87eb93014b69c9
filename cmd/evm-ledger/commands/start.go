package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/airchains-network/evm-ledger/config"
	"github.com/airchains-network/evm-ledger/db"
	"github.com/airchains-network/evm-ledger/executor"
	"github.com/airchains-network/evm-ledger/proxy"
	"github.com/airchains-network/evm-ledger/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// StartCmd represents the start command
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ledger node",
	Long: `Start the ledger with the configuration from <home>/config.toml.
Genesis is applied on the first start; afterwards the node serves JSON-RPC until stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startCommand(cmd)
	},
}

func startCommand(cmd *cobra.Command) error {
	log := newLogger()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(cfg.Engine.Coinbase) {
		return fmt.Errorf("invalid coinbase in config: %s", cfg.Engine.Coinbase)
	}

	stateDB, receiptDB, err := db.NewLevelDBs(cfg.Database.StatePath, cfg.Database.ReceiptPath)
	if err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}
	defer receiptDB.Close()

	ledger, err := state.Open(stateDB, log)
	if err != nil {
		stateDB.Close()
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer ledger.Close()

	if err := ensureGenesis(ledger, cfg, log); err != nil {
		return err
	}
	log.Infof("State root: %s", state.StateRoot(ledger).Hex())

	exec := executor.New(ledger, executor.Config{
		ChainID:         cfg.General.ChainID,
		Coinbase:        common.HexToAddress(cfg.Engine.Coinbase),
		BlockGasLimit:   cfg.Engine.BlockGasLimit,
		MaxCallDepth:    cfg.Engine.MaxCallDepth,
		ChargeIntrinsic: cfg.Engine.ChargeIntrinsic,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infof("Starting evm-ledger on %s...", cfg.General.RPCAddress)
	if err := proxy.Start(ctx, cfg.General.RPCAddress, cfg.General.WebSocketAddress, exec, executor.NewReceiptStore(receiptDB), log); err != nil {
		return fmt.Errorf("proxy server failed: %w", err)
	}
	log.Info("Ledger node stopped")
	return nil
}

func ensureGenesis(ledger *state.Ledger, cfg config.Config, log *logrus.Logger) error {
	if ledger.GenesisApplied() {
		return nil
	}
	if _, err := os.Stat(cfg.Genesis.FilePath); os.IsNotExist(err) {
		return fmt.Errorf("genesis.json not found at %s", cfg.Genesis.FilePath)
	}

	genesis, err := state.LoadGenesisFile(cfg.Genesis.FilePath)
	if err != nil {
		return err
	}
	if genesis.ChainID != 0 && uint64(genesis.ChainID) != cfg.General.ChainID {
		return fmt.Errorf("genesis chain id %d does not match configured chain id %d", genesis.ChainID, cfg.General.ChainID)
	}
	root, err := state.InitGenesis(ledger, genesis)
	if err != nil {
		return err
	}
	log.Infof("Applied genesis with %d accounts, state root %s", len(genesis.Accounts), root.Hex())
	return nil
}
