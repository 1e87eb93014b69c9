package state

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/airchains-network/evm-ledger/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"
)

// Genesis is the on-disk genesis description. The fee recipient is engine configuration,
// not genesis state.
type Genesis struct {
	ChainID  math.HexOrDecimal64 `json:"chainId"`
	Accounts []GenesisAlloc      `json:"accounts"`
}

// GenesisAlloc is one account entry of the genesis file
type GenesisAlloc struct {
	Address common.Address              `json:"address"`
	Balance *math.HexOrDecimal256       `json:"balance"`
	Nonce   math.HexOrDecimal64         `json:"nonce"`
	Code    hexutil.Bytes               `json:"code,omitempty"`
	Storage map[common.Hash]common.Hash `json:"storage,omitempty"`
}

// LoadGenesisFile reads and parses a genesis JSON file
func LoadGenesisFile(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read genesis file: %w", err)
	}

	var genesis Genesis
	if err := json.Unmarshal(data, &genesis); err != nil {
		return nil, fmt.Errorf("failed to parse genesis file: %w", err)
	}
	return &genesis, nil
}

// Alloc converts the file entries into genesis accounts, keeping their order
func (g *Genesis) Alloc() ([]types.GenesisAccount, error) {
	seen := make(map[common.Address]struct{}, len(g.Accounts))
	accounts := make([]types.GenesisAccount, 0, len(g.Accounts))
	for _, alloc := range g.Accounts {
		if _, dup := seen[alloc.Address]; dup {
			return nil, fmt.Errorf("duplicate genesis account %s", alloc.Address.Hex())
		}
		seen[alloc.Address] = struct{}{}

		balance := new(uint256.Int)
		if alloc.Balance != nil {
			b := (*big.Int)(alloc.Balance)
			if b.Sign() < 0 {
				return nil, fmt.Errorf("negative balance for genesis account %s", alloc.Address.Hex())
			}
			var overflow bool
			balance, overflow = uint256.FromBig(b)
			if overflow {
				return nil, fmt.Errorf("balance overflow for genesis account %s", alloc.Address.Hex())
			}
		}
		accounts = append(accounts, types.GenesisAccount{
			Address: alloc.Address,
			Balance: balance,
			Nonce:   uint64(alloc.Nonce),
			Code:    alloc.Code,
			Storage: alloc.Storage,
		})
	}
	return accounts, nil
}

// InitGenesis applies genesis to an empty ledger and returns the resulting state root
func InitGenesis(l *Ledger, genesis *Genesis) (common.Hash, error) {
	accounts, err := genesis.Alloc()
	if err != nil {
		return common.Hash{}, err
	}
	if err := l.ApplyGenesis(accounts); err != nil {
		return common.Hash{}, fmt.Errorf("failed to apply genesis: %w", err)
	}

	root := StateRoot(l)
	if l.log != nil {
		for _, acc := range accounts {
			l.log.Debugf("Saved genesis account %s", acc.Address.Hex())
		}
		l.log.Infof("Genesis state root: %s", root.Hex())
	}
	return root, nil
}
