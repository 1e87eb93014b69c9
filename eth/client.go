package eth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

const maxRetries = 5

// Client wraps both rpc.Client and ethclient.Client for talking to a ledger node
type Client struct {
	Rpc *rpc.Client
	Eth *ethclient.Client
}

// NewClient dials url once and shares the connection between the raw and typed clients
func NewClient(url string) (*Client, error) {
	rpcClient, err := rpc.Dial(url)
	if err != nil {
		return nil, err
	}

	return &Client{
		Rpc: rpcClient,
		Eth: ethclient.NewClient(rpcClient),
	}, nil
}

func (c *Client) Close() {
	c.Eth.Close()
}

// StateRoot asks the node for the root of its committed state
func (c *Client) StateRoot(ctx context.Context) (common.Hash, error) {
	var root common.Hash
	if err := c.Rpc.CallContext(ctx, &root, "ledger_stateRoot"); err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch state root: %w", err)
	}
	return root, nil
}

// TxParams describes a transaction to sign. A nil To deploys Data as init code.
type TxParams struct {
	To       *common.Address
	Data     []byte
	Value    *big.Int
	Gas      uint64
	GasPrice *big.Int
}

// SendTransaction signs a legacy transaction with key at the sender's pending nonce, submits
// it and waits for its receipt
func (c *Client) SendTransaction(ctx context.Context, key *ecdsa.PrivateKey, p TxParams) (*ethtypes.Transaction, *ethtypes.Receipt, error) {
	chainID, err := c.Eth.ChainID(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch chain id: %w", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	nonce, err := c.Eth.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch nonce of %s: %w", from.Hex(), err)
	}

	value := p.Value
	if value == nil {
		value = new(big.Int)
	}
	price := p.GasPrice
	if price == nil {
		price = new(big.Int)
	}
	tx, err := ethtypes.SignNewTx(key, ethtypes.LatestSignerForChainID(chainID), &ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: price,
		Gas:      p.Gas,
		To:       p.To,
		Value:    value,
		Data:     p.Data,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.Eth.SendTransaction(ctx, tx); err != nil {
		return tx, nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	receipt, err := c.WaitReceipt(ctx, tx.Hash())
	if err != nil {
		return tx, nil, err
	}
	return tx, receipt, nil
}

// WaitReceipt polls for the receipt of hash, backing off between attempts
func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		receipt, err := c.Eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to fetch receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond * time.Duration(attempt+1)):
		}
	}
	return nil, fmt.Errorf("receipt %s not found after %d retries", hash.Hex(), maxRetries)
}
