package main

import (
	"os"

	"github.com/airchains-network/evm-ledger/cmd/evm-ledger/commands"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "evm-ledger",
		Short: "An EVM-compatible account ledger and contract execution engine",
		Long: `evm-ledger keeps a durable ledger of accounts, executes EVM bytecode against it
and serves the result over an Ethereum-style JSON-RPC interface.`,
	}
	rootCmd.PersistentFlags().String("home", commands.DefaultHome(), "Node home directory")

	rootCmd.AddCommand(commands.InitCmd)
	rootCmd.AddCommand(commands.StartCmd)
	rootCmd.AddCommand(commands.CreateAccountCmd)
	rootCmd.AddCommand(commands.DeployCmd)
	rootCmd.AddCommand(commands.CallCmd)
	rootCmd.AddCommand(commands.StateRootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
