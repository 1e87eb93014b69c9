package commands

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/airchains-network/evm-ledger/eth"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
)

const requestTimeout = 30 * time.Second

// DeployCmd signs a contract creation and sends it to a running node
var DeployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a contract",
	RunE: func(cmd *cobra.Command, args []string) error {
		code, _ := cmd.Flags().GetString("code")
		initCode, err := hexutil.Decode(code)
		if err != nil {
			return fmt.Errorf("invalid --code: %w", err)
		}
		return sendTx(cmd, nil, initCode)
	},
}

// CallCmd sends a signed call, or with --read evaluates it without a transaction
var CallCmd = &cobra.Command{
	Use:   "call",
	Short: "Call a contract",
	RunE: func(cmd *cobra.Command, args []string) error {
		toFlag, _ := cmd.Flags().GetString("to")
		if !common.IsHexAddress(toFlag) {
			return fmt.Errorf("invalid --to: %q", toFlag)
		}
		to := common.HexToAddress(toFlag)

		dataFlag, _ := cmd.Flags().GetString("data")
		data, err := hexutil.Decode(dataFlag)
		if err != nil {
			return fmt.Errorf("invalid --data: %w", err)
		}

		if read, _ := cmd.Flags().GetBool("read"); read {
			return readCall(cmd, to, data)
		}
		return sendTx(cmd, &to, data)
	},
}

func init() {
	for _, c := range []*cobra.Command{DeployCmd, CallCmd} {
		c.Flags().String("key", "", "Name of the signing account")
		c.Flags().String("rpc", "", "Node JSON-RPC URL (defaults to the configured address)")
		c.Flags().String("value", "0", "Wei sent with the transaction")
		c.Flags().Uint64("gas", 1_000_000, "Gas limit")
		c.Flags().String("gas-price", "1", "Gas price in wei")
	}
	DeployCmd.Flags().String("code", "", "Init code as 0x-prefixed hex")
	DeployCmd.MarkFlagRequired("code")

	CallCmd.Flags().String("to", "", "Target contract address")
	CallCmd.Flags().String("data", "0x", "Calldata as 0x-prefixed hex")
	CallCmd.Flags().Bool("read", false, "Evaluate the call without sending a transaction")
	CallCmd.MarkFlagRequired("to")
}

func bigFlag(cmd *cobra.Command, name string) (*big.Int, error) {
	s, _ := cmd.Flags().GetString(name)
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid --%s: %q", name, s)
	}
	return v, nil
}

func dial(cmd *cobra.Command) (*eth.Client, error) {
	url, err := rpcURL(cmd)
	if err != nil {
		return nil, err
	}
	client, err := eth.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return client, nil
}

func sendTx(cmd *cobra.Command, to *common.Address, data []byte) error {
	key, err := loadKey(cmd)
	if err != nil {
		return err
	}
	value, err := bigFlag(cmd, "value")
	if err != nil {
		return err
	}
	price, err := bigFlag(cmd, "gas-price")
	if err != nil {
		return err
	}
	gas, _ := cmd.Flags().GetUint64("gas")

	client, err := dial(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	tx, receipt, err := client.SendTransaction(ctx, key, eth.TxParams{
		To:       to,
		Data:     data,
		Value:    value,
		Gas:      gas,
		GasPrice: price,
	})
	if err != nil {
		return err
	}
	printReceipt(tx, receipt)
	return nil
}

func readCall(cmd *cobra.Command, to common.Address, data []byte) error {
	value, err := bigFlag(cmd, "value")
	if err != nil {
		return err
	}
	gas, _ := cmd.Flags().GetUint64("gas")

	client, err := dial(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	out, err := client.Eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data, Value: value, Gas: gas}, nil)
	if err != nil {
		return fmt.Errorf("call failed: %w", err)
	}
	fmt.Println(hexutil.Encode(out))
	return nil
}

func printReceipt(tx *ethtypes.Transaction, receipt *ethtypes.Receipt) {
	status := "success"
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		status = "failed"
	}
	fmt.Printf("Transaction: %s\n", tx.Hash().Hex())
	fmt.Printf("Status: %s\n", status)
	fmt.Printf("Gas Used: %d\n", receipt.GasUsed)
	if tx.To() == nil {
		fmt.Printf("Contract Address: %s\n", receipt.ContractAddress.Hex())
	}
	for i, log := range receipt.Logs {
		fmt.Printf("Log %d: address %s, %d topics, data %s\n", i, log.Address.Hex(), len(log.Topics), hexutil.Encode(log.Data))
	}
}
