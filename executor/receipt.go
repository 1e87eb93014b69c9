package executor

import (
	"encoding/json"
	"fmt"

	"github.com/airchains-network/evm-ledger/db"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

const receiptPrefix = "receipt:"

// ReceiptStore keeps transaction receipts as JSON keyed by transaction hash
type ReceiptStore struct {
	db db.DB
}

func NewReceiptStore(database db.DB) *ReceiptStore {
	return &ReceiptStore{db: database}
}

func (s *ReceiptStore) Put(receipt *ethtypes.Receipt) error {
	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}
	if err := s.db.Put(receiptKey(receipt.TxHash), data); err != nil {
		return fmt.Errorf("failed to store receipt %s: %w", receipt.TxHash.Hex(), err)
	}
	return nil
}

// Get returns the receipt of a transaction, or nil if it is unknown
func (s *ReceiptStore) Get(hash common.Hash) (*ethtypes.Receipt, error) {
	data, err := s.db.Get(receiptKey(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt %s: %w", hash.Hex(), err)
	}
	if data == nil {
		return nil, nil
	}
	var receipt ethtypes.Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("failed to decode receipt %s: %w", hash.Hex(), err)
	}
	return &receipt, nil
}

func receiptKey(hash common.Hash) []byte {
	return append([]byte(receiptPrefix), hash[:]...)
}
