package executor

import (
	"context"
	"testing"

	"github.com/airchains-network/evm-ledger/db"
	"github.com/airchains-network/evm-ledger/state"
	"github.com/airchains-network/evm-ledger/types"
	"github.com/airchains-network/evm-ledger/vm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var (
	alice    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bob      = common.HexToAddress("0x2000000000000000000000000000000000000002")
	coinbase = common.HexToAddress("0x00000000000000000000000000000000000000cb")

	aliceBalance = uint64(1_000_000_000_000_000)

	multiplierCode = common.FromHex("608060405234801561001057600080fd5b5060b88061001f6000396000f3fe6080604052348015600f57600080fd5b506004361060285760003560e01c8063165c4a1614602d575b600080fd5b606060048036036040811015604157600080fd5b8101908080359060200190929190803590602001909291905050506076565b6040518082815260200191505060405180910390f35b600081830290509291505056fea265627a7a723158201f3db7301354b88b310868daf4395a6ab6cd42d16b1d8e68cdf4fdd9d34fffbf64736f6c63430005110032")
	multiplierAddress = common.HexToAddress("0x5f8bd49cd9f0cb2bd5bb9d4320dfe9b61023249d")
)

func multiplyInput(a, b uint64) []byte {
	input := common.FromHex("165c4a16")
	x, y := uint256.NewInt(a).Bytes32(), uint256.NewInt(b).Bytes32()
	input = append(input, x[:]...)
	return append(input, y[:]...)
}

func newTestExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()
	database, err := db.NewMemLevelDB()
	require.NoError(t, err)
	ledger, err := state.Open(database, nil)
	require.NoError(t, err)
	t.Cleanup(ledger.Close)

	require.NoError(t, ledger.ApplyGenesis([]types.GenesisAccount{
		{Address: alice, Balance: uint256.NewInt(aliceBalance), Nonce: 1, Code: []byte{0x00}},
	}))
	cfg.Coinbase = coinbase
	return New(ledger, cfg, logrus.New())
}

func u64(v uint64) *uint64 { return &v }

func TestDeployAndCallMultiplier(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	ctx := context.Background()

	res, err := e.Create(ctx, CreateRequest{
		Caller:   alice,
		Code:     multiplierCode,
		Value:    new(uint256.Int),
		GasLimit: 1_000_000,
		GasPrice: uint256.NewInt(1),
		Nonce:    u64(1),
	})
	require.NoError(t, err)
	require.Equal(t, vm.ExitSucceed(vm.Returned), res.Reason)
	require.Equal(t, multiplierAddress, res.ContractAddress)
	require.NotEmpty(t, e.Ledger().Account(multiplierAddress).Code)
	require.Equal(t, uint64(2), e.Ledger().Account(alice).Nonce)

	res, err = e.Call(ctx, CallRequest{
		Caller:   alice,
		To:       multiplierAddress,
		Input:    multiplyInput(2, 3),
		Value:    new(uint256.Int),
		GasLimit: 1_000_000,
		GasPrice: uint256.NewInt(1_000_000),
	})
	require.NoError(t, err)
	require.Equal(t, vm.ExitSucceed(vm.Returned), res.Reason)
	require.Equal(t, uint256.NewInt(6), new(uint256.Int).SetBytes(res.Output))
	require.Equal(t, uint64(3), e.Ledger().Account(alice).Nonce)
}

func TestDeployStopLeavesEmptyCode(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	res, err := e.Create(context.Background(), CreateRequest{
		Caller:   alice,
		Code:     []byte{0x00},
		GasLimit: 100_000,
		GasPrice: uint256.NewInt(1),
	})
	require.NoError(t, err)
	require.Equal(t, vm.ExitSucceed(vm.Stopped), res.Reason)
	require.Empty(t, res.Output)

	acc := e.Ledger().Account(res.ContractAddress)
	require.Empty(t, acc.Code)
	require.Equal(t, uint64(1), acc.Nonce)
}

func TestGasSettlement(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	price := uint64(7)
	value := uint64(1_000)

	res, err := e.Call(context.Background(), CallRequest{
		Caller:   alice,
		To:       bob,
		Value:    uint256.NewInt(value),
		GasLimit: 50_000,
		GasPrice: uint256.NewInt(price),
	})
	require.NoError(t, err)
	require.False(t, res.Failed())
	require.Equal(t, uint64(21_000), res.GasUsed)

	l := e.Ledger()
	require.Equal(t, aliceBalance-value-res.GasUsed*price, l.Account(alice).Balance.Uint64())
	require.Equal(t, value, l.Account(bob).Balance.Uint64())
	require.Equal(t, res.GasUsed*price, l.Account(coinbase).Balance.Uint64())
	require.Equal(t, aliceBalance, l.TotalBalance().Uint64())
}

func TestRevertKeepsNonceAndFee(t *testing.T) {
	e := newTestExecutor(t, Config{ChainID: 1, BlockGasLimit: 1_000_000})
	// SSTORE(0, 1) REVERT(0, 0)
	target := deployRaw(t, e, common.FromHex("600160005560006000fd"))
	before := e.Ledger().Account(alice)

	res, err := e.Call(context.Background(), CallRequest{
		Caller:   alice,
		To:       target,
		GasLimit: 100_000,
		GasPrice: uint256.NewInt(1),
	})
	require.NoError(t, err)
	require.True(t, res.Reason.IsRevert())
	require.Equal(t, uint64(20_012), res.GasUsed)

	after := e.Ledger().Account(alice)
	require.Equal(t, before.Nonce+1, after.Nonce)
	require.Equal(t, before.Balance.Uint64()-res.GasUsed, after.Balance.Uint64())
	require.Equal(t, common.Hash{}, e.Ledger().Storage(target, common.Hash{}))
}

func TestErrorConsumesAllGas(t *testing.T) {
	e := newTestExecutor(t, Config{ChainID: 1, BlockGasLimit: 1_000_000})
	target := deployRaw(t, e, []byte{byte(vm.INVALID)})

	res, err := e.Call(context.Background(), CallRequest{
		Caller:   alice,
		To:       target,
		GasLimit: 100_000,
		GasPrice: uint256.NewInt(1),
	})
	require.NoError(t, err)
	require.Equal(t, vm.ExitError(vm.InvalidOpcode), res.Reason)
	require.Equal(t, uint64(100_000), res.GasUsed)
}

func TestFatalLeavesLedgerUntouched(t *testing.T) {
	e := newTestExecutor(t, Config{ChainID: 1, BlockGasLimit: 1_000_000, MaxCallDepth: 2})
	// CALL(GAS, ADDRESS, 0, 0, 0, 0, 0) STOP
	target := deployRaw(t, e, common.FromHex("60006000600060006000305af100"))
	before := state.StateRoot(e.Ledger())

	res, err := e.Call(context.Background(), CallRequest{
		Caller:   alice,
		To:       target,
		GasLimit: 500_000,
		GasPrice: uint256.NewInt(1),
	})
	require.NoError(t, err)
	require.Equal(t, vm.ExitFatal(vm.CallDepthExceeded), res.Reason)
	require.Equal(t, before, state.StateRoot(e.Ledger()))
}

func TestValidationErrors(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	ctx := context.Background()
	root := state.StateRoot(e.Ledger())

	_, err := e.Call(ctx, CallRequest{Caller: alice, To: bob, GasLimit: 21_000, Nonce: u64(7)})
	require.ErrorIs(t, err, ErrInvalidNonce)

	_, err = e.Call(ctx, CallRequest{Caller: alice, To: bob, GasLimit: 20_999})
	require.ErrorIs(t, err, ErrIntrinsicGas)

	_, err = e.Call(ctx, CallRequest{Caller: bob, To: alice, GasLimit: 21_000, GasPrice: uint256.NewInt(1)})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = e.Call(ctx, CallRequest{Caller: alice, To: bob, GasLimit: 21_000, Value: uint256.NewInt(aliceBalance + 1)})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	maxPrice := new(uint256.Int).SetAllOne()
	_, err = e.Call(ctx, CallRequest{Caller: alice, To: bob, GasLimit: 21_000, GasPrice: maxPrice})
	require.ErrorIs(t, err, ErrGasPriceOverflow)

	_, err = e.Call(ctx, CallRequest{Caller: alice, To: bob, GasLimit: 40_000_000})
	require.ErrorIs(t, err, ErrGasLimitExceeded)

	require.Equal(t, root, state.StateRoot(e.Ledger()))
}

func TestCreateCollision(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	ov := e.Ledger().Overlay()
	require.NoError(t, ov.SetCode(multiplierAddress, []byte{0x00}))
	require.NoError(t, ov.Commit())

	_, err := e.Create(context.Background(), CreateRequest{Caller: alice, Code: multiplierCode, GasLimit: 1_000_000})
	require.ErrorIs(t, err, ErrAddressCollision)
	require.ErrorIs(t, err, ErrCodeAlreadySet)
	require.Equal(t, uint64(1), e.Ledger().Account(alice).Nonce)
}

func TestSimulateDiscardsState(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	// SSTORE(0, 1) MSTORE(0, 9) RETURN(0, 32)
	target := deployRaw(t, e, common.FromHex("6001600055600960005260206000f3"))
	root := state.StateRoot(e.Ledger())

	res, err := e.Simulate(context.Background(), CallRequest{Caller: alice, To: target})
	require.NoError(t, err)
	require.Equal(t, vm.ExitSucceed(vm.Returned), res.Reason)
	require.Equal(t, uint256.NewInt(9), new(uint256.Int).SetBytes(res.Output))
	require.Equal(t, root, state.StateRoot(e.Ledger()))
}

func TestCanceledContext(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Call(ctx, CallRequest{Caller: alice, To: bob, GasLimit: 21_000})
	require.ErrorIs(t, err, context.Canceled)
}

func TestIntrinsicGas(t *testing.T) {
	gas, err := IntrinsicGas(nil, false)
	require.NoError(t, err)
	require.Equal(t, uint64(21_000), gas)

	gas, err = IntrinsicGas([]byte{0, 1, 0, 2}, true)
	require.NoError(t, err)
	require.Equal(t, uint64(53_000+2*16+2*4), gas)
}

// deployRaw installs code at a fresh address outside of any call
func deployRaw(t *testing.T, e *Executor, code []byte) common.Address {
	t.Helper()
	addr := common.HexToAddress("0x3000000000000000000000000000000000000003")
	ov := e.Ledger().Overlay()
	require.NoError(t, ov.SetCode(addr, code))
	require.NoError(t, ov.Commit())
	return addr
}

func TestRevertedSubcallKeepsParentWrites(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	callee := common.HexToAddress("0x4000000000000000000000000000000000000004")

	// callee: SSTORE(0, 1) CALL(GAS, bob, 100, 0, 0, 0, 0) POP REVERT(0, 0)
	calleeCode := common.FromHex("6001600055" + "60006000600060006064" + "73")
	calleeCode = append(calleeCode, bob.Bytes()...)
	calleeCode = append(calleeCode, common.FromHex("5af150"+"60006000fd")...)

	// parent: SSTORE(0, 1) CALL(GAS, callee, 0, 0, 0, 0, 0) POP STOP
	parentCode := common.FromHex("6001600055" + "60006000600060006000" + "73")
	parentCode = append(parentCode, callee.Bytes()...)
	parentCode = append(parentCode, common.FromHex("5af15000")...)

	ov := e.Ledger().Overlay()
	require.NoError(t, ov.SetCode(callee, calleeCode))
	ov.SetBalance(callee, uint256.NewInt(100))
	require.NoError(t, ov.Commit())
	parent := deployRaw(t, e, parentCode)
	total := e.Ledger().TotalBalance()

	res, err := e.Call(context.Background(), CallRequest{
		Caller:   alice,
		To:       parent,
		GasLimit: 500_000,
		GasPrice: uint256.NewInt(1),
	})
	require.NoError(t, err)
	require.Equal(t, vm.ExitSucceed(vm.Stopped), res.Reason)

	l := e.Ledger()
	require.Equal(t, common.HexToHash("0x01"), l.Storage(parent, common.Hash{}))
	require.Equal(t, common.Hash{}, l.Storage(callee, common.Hash{}))
	require.True(t, l.Account(bob).Balance.IsZero())
	require.Equal(t, uint64(100), l.Account(callee).Balance.Uint64())
	require.Equal(t, total, l.TotalBalance())
}

func TestSimulateWithoutBlockGasLimit(t *testing.T) {
	e := newTestExecutor(t, Config{ChainID: 1})
	// MSTORE(0, 9) RETURN(0, 32)
	target := deployRaw(t, e, common.FromHex("600960005260206000f3"))

	res, err := e.Simulate(context.Background(), CallRequest{Caller: alice, To: target})
	require.NoError(t, err)
	require.Equal(t, vm.ExitSucceed(vm.Returned), res.Reason)
	require.Equal(t, uint256.NewInt(9), new(uint256.Int).SetBytes(res.Output))
	require.Equal(t, uint64(18), res.GasUsed)
}
