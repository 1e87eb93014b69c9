package executor

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// ApplyTransaction verifies the signature of a raw transaction and runs it as a create or
// a call from the recovered sender. The transaction nonce must match the sender's.
func (e *Executor) ApplyTransaction(ctx context.Context, tx *ethtypes.Transaction) (*Result, common.Address, error) {
	if tx == nil {
		return nil, common.Address{}, fmt.Errorf("transaction is nil")
	}
	chainID := new(big.Int).SetUint64(e.cfg.ChainID)
	if tx.Protected() && tx.ChainId().Cmp(chainID) != 0 {
		return nil, common.Address{}, fmt.Errorf("%w: have %s, want %s", ErrInvalidChainID, tx.ChainId(), chainID)
	}

	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("failed to get sender address: %w", err)
	}

	value, overflow := uint256.FromBig(tx.Value())
	if overflow {
		return nil, from, ErrValueOverflow
	}
	// there is no base fee, so a dynamic fee transaction pays its fee cap
	price, overflow := uint256.FromBig(tx.GasPrice())
	if overflow {
		return nil, from, ErrGasPriceOverflow
	}
	nonce := tx.Nonce()

	var res *Result
	if tx.To() == nil {
		res, err = e.Create(ctx, CreateRequest{
			Caller:   from,
			Code:     tx.Data(),
			Value:    value,
			GasLimit: tx.Gas(),
			GasPrice: price,
			Nonce:    &nonce,
		})
	} else {
		res, err = e.Call(ctx, CallRequest{
			Caller:   from,
			To:       *tx.To(),
			Input:    tx.Data(),
			Value:    value,
			GasLimit: tx.Gas(),
			GasPrice: price,
			Nonce:    &nonce,
		})
	}
	if err != nil {
		return nil, from, err
	}
	return res, from, nil
}

// NewReceipt builds the receipt of an applied transaction
func NewReceipt(tx *ethtypes.Transaction, res *Result) *ethtypes.Receipt {
	receipt := &ethtypes.Receipt{
		Type:              tx.Type(),
		CumulativeGasUsed: res.GasUsed,
		TxHash:            tx.Hash(),
		GasUsed:           res.GasUsed,
		EffectiveGasPrice: tx.GasPrice(),
		BlockNumber:       big.NewInt(1),
		Logs:              make([]*ethtypes.Log, 0, len(res.Logs)),
	}
	if res.Reason.IsSucceed() {
		receipt.Status = ethtypes.ReceiptStatusSuccessful
	} else {
		receipt.Status = ethtypes.ReceiptStatusFailed
	}
	if tx.To() == nil {
		receipt.ContractAddress = res.ContractAddress
	}
	for i, log := range res.Logs {
		l := *log
		l.TxHash = tx.Hash()
		l.Index = uint(i)
		l.BlockNumber = 1
		receipt.Logs = append(receipt.Logs, &l)
	}
	receipt.Bloom = ethtypes.CreateBloom(ethtypes.Receipts{receipt})
	return receipt
}

// StatusReason describes a failed result for logs and RPC errors
func StatusReason(res *Result) string {
	if res.Reason.IsRevert() && len(res.Output) > 0 {
		return fmt.Sprintf("%s: 0x%x", res.Reason, res.Output)
	}
	return res.Reason.String()
}
