package commands

import (
	"context"
	"fmt"

	"github.com/airchains-network/evm-ledger/db"
	"github.com/airchains-network/evm-ledger/state"
	"github.com/spf13/cobra"
)

// StateRootCmd prints the root of the committed ledger state
var StateRootCmd = &cobra.Command{
	Use:   "state-root",
	Short: "Print the ledger state root",
	Long: `Print the state root of a running node, or with --offline read it straight from the
state database. The database is locked while the node runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if offline, _ := cmd.Flags().GetBool("offline"); offline {
			return offlineStateRoot(cmd)
		}

		client, err := dial(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		root, err := client.StateRoot(ctx)
		if err != nil {
			return err
		}
		fmt.Println(root.Hex())
		return nil
	},
}

func init() {
	StateRootCmd.Flags().String("rpc", "", "Node JSON-RPC URL (defaults to the configured address)")
	StateRootCmd.Flags().Bool("offline", false, "Read the local state database instead of a running node")
}

func offlineStateRoot(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	database, err := db.NewLevelDB(cfg.Database.StatePath)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	ledger, err := state.Open(database, nil)
	if err != nil {
		database.Close()
		return err
	}
	defer ledger.Close()

	fmt.Println(state.StateRoot(ledger).Hex())
	return nil
}
