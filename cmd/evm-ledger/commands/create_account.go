package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var CreateAccountCmd = &cobra.Command{
	Use:   "create-account [name]",
	Short: "Create a new secp256k1 account",
	Long:  `Create a new account key with the specified name and store it under <home>/keys`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		path := keyPath(homeFlag(cmd), name)
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return fmt.Errorf("failed to create keys directory: %w", err)
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("account %s already exists at %s", name, path)
		}

		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		if err := crypto.SaveECDSA(path, key); err != nil {
			return fmt.Errorf("failed to save key: %w", err)
		}

		fmt.Printf("Account created successfully!\n")
		fmt.Printf("Name: %s\n", name)
		fmt.Printf("Address: %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
		fmt.Printf("Key File: %s\n", path)
		fmt.Println("\nIMPORTANT: The key file holds the unencrypted private key!")
		return nil
	},
}
