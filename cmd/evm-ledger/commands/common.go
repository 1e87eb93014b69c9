package commands

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/airchains-network/evm-ledger/config"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const homeDirName = ".evm-ledger"

// DefaultHome returns ~/.evm-ledger, or a relative directory when the home cannot be resolved
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return homeDirName
	}
	return filepath.Join(home, homeDirName)
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
	})
	log.SetLevel(logrus.InfoLevel)
	return log
}

func homeFlag(cmd *cobra.Command) string {
	home, _ := cmd.Flags().GetString("home")
	if home == "" {
		return DefaultHome()
	}
	return home
}

func configPath(home string) string {
	return filepath.Join(home, "config.toml")
}

func keyPath(home, name string) string {
	return filepath.Join(home, "keys", name+".key")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.LoadConfig(configPath(homeFlag(cmd)))
	if err != nil {
		return cfg, fmt.Errorf("failed to load config (did you run init?): %w", err)
	}
	return cfg, nil
}

func loadKey(cmd *cobra.Command) (*ecdsa.PrivateKey, error) {
	name, _ := cmd.Flags().GetString("key")
	if name == "" {
		return nil, fmt.Errorf("--key is required")
	}
	key, err := crypto.LoadECDSA(keyPath(homeFlag(cmd), name))
	if err != nil {
		return nil, fmt.Errorf("failed to load key %s: %w", name, err)
	}
	return key, nil
}

// rpcURL prefers --rpc and falls back to the configured listen address
func rpcURL(cmd *cobra.Command) (string, error) {
	if url, _ := cmd.Flags().GetString("rpc"); url != "" {
		return url, nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	addr := cfg.General.RPCAddress
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr, nil
}
