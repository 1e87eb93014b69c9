package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"
)

// Config holds the application configuration
type Config struct {
	General  GeneralConfig  `toml:"general"`
	Database DatabaseConfig `toml:"database"`
	Genesis  GenesisConfig  `toml:"genesis"`
	Engine   EngineConfig   `toml:"engine"`
}

// GeneralConfig holds the network settings
type GeneralConfig struct {
	RPCAddress       string `toml:"rpc_address"`
	WebSocketAddress string `toml:"ws_address"`
	ChainID          uint64 `toml:"chain_id"`
}

// DatabaseConfig holds database paths
type DatabaseConfig struct {
	StatePath   string `toml:"state_path"`
	ReceiptPath string `toml:"receipt_path"`
}

type GenesisConfig struct {
	FilePath string `toml:"file_path"`
}

// EngineConfig holds the execution engine settings
type EngineConfig struct {
	MaxCallDepth    int    `toml:"max_call_depth"`
	Coinbase        string `toml:"coinbase"`
	BlockGasLimit   uint64 `toml:"block_gas_limit"`
	ChargeIntrinsic bool   `toml:"charge_intrinsic"`
}

// DefaultConfig returns a configuration rooted at home
func DefaultConfig(home string) Config {
	dataDir := filepath.Join(home, "data")
	return Config{
		General: GeneralConfig{
			RPCAddress:       ":8545",
			WebSocketAddress: ":8546",
			ChainID:          1337,
		},
		Database: DatabaseConfig{
			StatePath:   filepath.Join(dataDir, "state_db"),
			ReceiptPath: filepath.Join(dataDir, "receipt_db"),
		},
		Genesis: GenesisConfig{
			FilePath: filepath.Join(home, "genesis.json"),
		},
		Engine: EngineConfig{
			MaxCallDepth:    1024,
			Coinbase:        "0x0000000000000000000000000000000000000000",
			BlockGasLimit:   30_000_000,
			ChargeIntrinsic: true,
		},
	}
}

// LoadConfig reads from config.toml and returns Config struct
func LoadConfig(path string) (Config, error) {
	var cfg Config
	file, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	err = toml.Unmarshal(file, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration as TOML
func (c Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
