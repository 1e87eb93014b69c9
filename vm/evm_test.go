package vm

import (
	"testing"

	"github.com/airchains-network/evm-ledger/db"
	"github.com/airchains-network/evm-ledger/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	sender   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	target   = common.HexToAddress("0x3000000000000000000000000000000000000003")
	callee   = common.HexToAddress("0x4000000000000000000000000000000000000004")
	testGas  = uint64(1_000_000)
	zeroWord = make([]byte, 32)
)

func newTestOverlay(t *testing.T) *state.Overlay {
	t.Helper()
	database, err := db.NewMemLevelDB()
	require.NoError(t, err)
	l, err := state.Open(database, nil)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l.Overlay()
}

func newTestEVM(cfg Config) *EVM {
	return NewEVM(
		BlockContext{Number: 1, ChainID: 1, GasLimit: 30_000_000},
		TxContext{Origin: sender, GasPrice: uint256.NewInt(1)},
		cfg, nil,
	)
}

// run installs code at target and calls it from sender
func run(t *testing.T, code []byte, gas uint64) (Outcome, *state.Overlay) {
	t.Helper()
	st := newTestOverlay(t)
	require.NoError(t, st.SetCode(target, code))
	evm := newTestEVM(DefaultConfig())
	return evm.Call(st, sender, target, nil, gas, new(uint256.Int)), st
}

func word(v uint64) []byte {
	b := uint256.NewInt(v).Bytes32()
	return b[:]
}

func TestReturnAddition(t *testing.T) {
	// PUSH1 3 PUSH1 2 ADD PUSH1 0 MSTORE PUSH1 32 PUSH1 0 RETURN
	code := common.FromHex("600360020160005260206000f3")
	out, _ := run(t, code, testGas)

	require.Equal(t, ExitSucceed(Returned), out.Reason)
	require.Equal(t, word(5), out.Output)
	require.Equal(t, testGas-24, out.GasLeft)
}

func TestArithmeticEdgeCases(t *testing.T) {
	tests := []struct {
		name string
		ops  string
		want []byte
	}{
		{"div by zero", "6000600704", zeroWord},
		{"mod by zero", "6000600706", zeroWord},
		{"sub wraps", "6001600003", common.FromHex("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")},
		{"shl past width", "60016101001b", zeroWord},
		{"exp", "600360020a", word(8)},
		{"signextend", "60ff60000b", common.FromHex("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")},
	}
	for _, tt := range tests {
		code := common.FromHex(tt.ops + "60005260206000f3")
		out, _ := run(t, code, testGas)
		require.Equal(t, ExitSucceed(Returned), out.Reason, tt.name)
		require.Equal(t, tt.want, out.Output, tt.name)
	}
}

func TestStopAndEmptyCode(t *testing.T) {
	out, _ := run(t, []byte{byte(STOP)}, testGas)
	require.Equal(t, ExitSucceed(Stopped), out.Reason)
	require.Equal(t, testGas, out.GasLeft)

	st := newTestOverlay(t)
	out = newTestEVM(DefaultConfig()).Call(st, sender, callee, nil, testGas, new(uint256.Int))
	require.Equal(t, ExitSucceed(Stopped), out.Reason)
	require.Equal(t, testGas, out.GasLeft)
}

func TestExecutionErrorsConsumeAllGas(t *testing.T) {
	overflow := make([]byte, 1025)
	for i := range overflow {
		overflow[i] = byte(PUSH0)
	}
	tests := []struct {
		name string
		code []byte
		gas  uint64
		want ExitReason
	}{
		{"stack underflow", []byte{byte(ADD)}, testGas, ExitError(StackUnderflow)},
		{"stack overflow", overflow, testGas, ExitError(StackOverflow)},
		{"jump to non jumpdest", common.FromHex("60035600"), testGas, ExitError(InvalidJump)},
		{"jump into push data", common.FromHex("605b600156"), testGas, ExitError(InvalidJump)},
		{"invalid opcode", []byte{byte(INVALID)}, testGas, ExitError(InvalidOpcode)},
		{"undefined opcode", []byte{0x0c}, testGas, ExitError(InvalidOpcode)},
		{"out of gas", common.FromHex("6001"), 2, ExitError(OutOfGas)},
		{"returndatacopy past end", common.FromHex("6001600060003e"), testGas, ExitError(ReturnDataOutOfBounds)},
	}
	for _, tt := range tests {
		out, _ := run(t, tt.code, tt.gas)
		require.Equal(t, tt.want, out.Reason, tt.name)
		require.Zero(t, out.GasLeft, tt.name)
		require.Nil(t, out.Output, tt.name)
	}
}

func TestValidJump(t *testing.T) {
	// PUSH1 4 JUMP INVALID JUMPDEST STOP
	out, _ := run(t, common.FromHex("600456fe5b00"), testGas)
	require.Equal(t, ExitSucceed(Stopped), out.Reason)
}

func TestSuccessCommitsStorage(t *testing.T) {
	// PUSH1 1 PUSH1 0 SSTORE STOP
	out, st := run(t, common.FromHex("600160005500"), testGas)
	require.Equal(t, ExitSucceed(Stopped), out.Reason)
	require.Equal(t, common.HexToHash("0x01"), st.Storage(target, common.Hash{}))
	require.Equal(t, testGas-20006, out.GasLeft)
}

func TestRevertDiscardsStateAndKeepsGas(t *testing.T) {
	// PUSH1 1 PUSH1 0 SSTORE PUSH1 0 PUSH1 0 REVERT
	out, st := run(t, common.FromHex("600160005560006000fd"), testGas)
	require.Equal(t, ExitRevert(), out.Reason)
	require.Equal(t, common.Hash{}, st.Storage(target, common.Hash{}))
	require.Equal(t, testGas-20012, out.GasLeft)
}

func TestSStoreSentry(t *testing.T) {
	// not enough gas left above the stipend
	out, st := run(t, common.FromHex("600160005500"), 2306)
	require.Equal(t, ExitError(OutOfGas), out.Reason)
	require.Equal(t, common.Hash{}, st.Storage(target, common.Hash{}))
}

func TestValueTransferFailsWithoutFunds(t *testing.T) {
	st := newTestOverlay(t)
	st.SetBalance(sender, uint256.NewInt(10))
	evm := newTestEVM(DefaultConfig())

	out := evm.Call(st, sender, callee, nil, testGas, uint256.NewInt(11))
	require.Equal(t, ExitError(InsufficientBalance), out.Reason)
	require.Equal(t, testGas, out.GasLeft)
	require.Equal(t, uint64(10), st.Balance(sender).Uint64())

	out = evm.Call(st, sender, callee, nil, testGas, uint256.NewInt(4))
	require.True(t, out.Reason.IsSucceed())
	require.Equal(t, uint64(6), st.Balance(sender).Uint64())
	require.Equal(t, uint64(4), st.Balance(callee).Uint64())
}

// callCode builds: CALL(gas, to, 0, 0, 0, 0, 32) POP RETURN(0, 32)
func callCode(to common.Address, gas uint16) []byte {
	code := common.FromHex("60206000600060006000")
	code = append(code, byte(PUSH20))
	code = append(code, to.Bytes()...)
	code = append(code, byte(PUSH2), byte(gas>>8), byte(gas))
	code = append(code, byte(CALL), byte(POP))
	return append(code, common.FromHex("60206000f3")...)
}

func TestNestedCallRefundsUnusedGas(t *testing.T) {
	st := newTestOverlay(t)
	// PUSH1 42 PUSH1 0 MSTORE PUSH1 32 PUSH1 0 RETURN
	require.NoError(t, st.SetCode(callee, common.FromHex("602a60005260206000f3")))
	require.NoError(t, st.SetCode(target, callCode(callee, 0xffff)))

	out := newTestEVM(DefaultConfig()).Call(st, sender, target, nil, testGas, new(uint256.Int))
	require.Equal(t, ExitSucceed(Returned), out.Reason)
	require.Equal(t, word(42), out.Output)
	// pushes 21, CALL 700 + 3 memory, callee 18, POP 2, RETURN setup 6
	require.Equal(t, testGas-750, out.GasLeft)
}

func TestNestedErrorIsContained(t *testing.T) {
	st := newTestOverlay(t)
	// PUSH1 1 PUSH1 0 SSTORE INVALID
	require.NoError(t, st.SetCode(callee, common.FromHex("6001600055fe")))
	require.NoError(t, st.SetCode(target, callCode(callee, 0x1000)))

	out := newTestEVM(DefaultConfig()).Call(st, sender, target, nil, testGas, new(uint256.Int))
	require.Equal(t, ExitSucceed(Returned), out.Reason)
	require.Equal(t, zeroWord, out.Output)
	require.Equal(t, common.Hash{}, st.Storage(callee, common.Hash{}))
	// the callee burns everything it was given
	require.Equal(t, testGas-(21+703+0x1000+2+6), out.GasLeft)
}

func TestStaticCallForbidsWrites(t *testing.T) {
	st := newTestOverlay(t)
	require.NoError(t, st.SetCode(callee, common.FromHex("600160005500")))
	evm := newTestEVM(DefaultConfig())

	out := evm.StaticCall(st, sender, callee, nil, testGas)
	require.Equal(t, ExitError(WriteProtection), out.Reason)
	require.False(t, evm.readOnly)

	out = evm.Call(st, sender, callee, nil, testGas, new(uint256.Int))
	require.True(t, out.Reason.IsSucceed())
}

func TestCallDepthExceededIsFatal(t *testing.T) {
	st := newTestOverlay(t)
	// CALL(GAS, ADDRESS, 0, 0, 0, 0, 0) STOP
	require.NoError(t, st.SetCode(target, common.FromHex("60006000600060006000305af100")))
	st.SetStorage(target, common.Hash{}, common.HexToHash("0x07"))

	evm := newTestEVM(Config{MaxCallDepth: 3})
	out := evm.Call(st, sender, target, nil, testGas, new(uint256.Int))
	require.Equal(t, ExitFatal(CallDepthExceeded), out.Reason)
	require.Zero(t, out.GasLeft)
	require.Zero(t, evm.Depth())
	require.Equal(t, common.HexToHash("0x07"), st.Storage(target, common.Hash{}))
}

func TestCreateDeploysReturnedCode(t *testing.T) {
	st := newTestOverlay(t)
	st.SetNonce(sender, 5)
	// MSTORE8(0, 0x00) RETURN(0, 1)
	init := common.FromHex("600060005360016000f3")

	addr, out := newTestEVM(DefaultConfig()).Create(st, sender, init, testGas, new(uint256.Int))
	require.Equal(t, ExitSucceed(Returned), out.Reason)
	require.Equal(t, state.CreateAddress(sender, 5), addr)
	require.Equal(t, []byte{0x00}, st.Code(addr))
	require.Equal(t, uint64(1), st.Nonce(addr))
	require.Equal(t, uint64(6), st.Nonce(sender))
}

func TestCreateRejectsInvalidCode(t *testing.T) {
	st := newTestOverlay(t)
	// MSTORE8(0, 0xef) RETURN(0, 1)
	init := common.FromHex("60ef60005360016000f3")

	addr, out := newTestEVM(DefaultConfig()).Create(st, sender, init, testGas, new(uint256.Int))
	require.Equal(t, ExitError(InvalidCode), out.Reason)
	require.Zero(t, out.GasLeft)
	require.False(t, st.Exist(addr))
	// the nonce increment survives the failed creation
	require.Equal(t, uint64(1), st.Nonce(sender))
}

func TestCreateCodeStoreOutOfGas(t *testing.T) {
	st := newTestOverlay(t)
	// RETURN(0, 100) costs 200 gas per byte to deposit
	init := common.FromHex("60646000f3")

	_, out := newTestEVM(DefaultConfig()).Create(st, sender, init, 10_000, new(uint256.Int))
	require.Equal(t, ExitError(CodeStoreOutOfGas), out.Reason)
}

func TestCreateCollision(t *testing.T) {
	st := newTestOverlay(t)
	require.NoError(t, st.SetCode(state.CreateAddress(sender, 0), []byte{0x00}))

	_, out := newTestEVM(DefaultConfig()).Create(st, sender, []byte{byte(STOP)}, testGas, new(uint256.Int))
	require.Equal(t, ExitError(CreateCollision), out.Reason)
	require.Zero(t, out.GasLeft)
}

func TestCreate2Address(t *testing.T) {
	st := newTestOverlay(t)
	init := []byte{byte(STOP)}
	var salt [32]byte
	salt[31] = 1

	addr, out := newTestEVM(DefaultConfig()).Create2(st, sender, init, testGas, new(uint256.Int), salt)
	require.Equal(t, ExitSucceed(Stopped), out.Reason)
	require.Equal(t, state.CreateAddress2(sender, salt, common.FromHex("bc36789e7a1e281436464229828f817d6612f7b477d66591ff96a9e064bcc98a")), addr)
	require.True(t, st.Exist(addr))
	require.Empty(t, st.Code(addr))
}

func TestCreateOpcodeFailureKeepsNonce(t *testing.T) {
	st := newTestOverlay(t)
	// MSTORE8(0, INVALID) CREATE(0, 0, 1) MSTORE(0, result) RETURN(0, 32)
	require.NoError(t, st.SetCode(target, common.FromHex("60fe600053600160006000f060005260206000f3")))

	out := newTestEVM(DefaultConfig()).Call(st, sender, target, nil, testGas, new(uint256.Int))
	require.Equal(t, ExitSucceed(Returned), out.Reason)
	require.Equal(t, zeroWord, out.Output)
	require.Equal(t, uint64(1), st.Nonce(target))
	require.False(t, st.Exist(state.CreateAddress(target, 0)))
}

func TestSelfDestruct(t *testing.T) {
	st := newTestOverlay(t)
	st.SetBalance(target, uint256.NewInt(50))
	// SELFDESTRUCT(callee)
	code := append([]byte{byte(PUSH20)}, callee.Bytes()...)
	require.NoError(t, st.SetCode(target, append(code, byte(SELFDESTRUCT))))

	out := newTestEVM(DefaultConfig()).Call(st, sender, target, nil, testGas, new(uint256.Int))
	require.Equal(t, ExitSucceed(Suicided), out.Reason)
	require.False(t, st.Exist(target))
	require.Equal(t, uint64(50), st.Balance(callee).Uint64())
}

func TestLogsFollowCommit(t *testing.T) {
	st := newTestOverlay(t)
	// LOG1(0, 0, topic 0x07) then REVERT or STOP
	require.NoError(t, st.SetCode(target, common.FromHex("600760006000a100")))
	require.NoError(t, st.SetCode(callee, common.FromHex("600760006000a160006000fd")))
	evm := newTestEVM(DefaultConfig())

	out := evm.Call(st, sender, callee, nil, testGas, new(uint256.Int))
	require.True(t, out.Reason.IsRevert())
	require.Empty(t, st.Logs())

	out = evm.Call(st, sender, target, nil, testGas, new(uint256.Int))
	require.True(t, out.Reason.IsSucceed())
	require.Len(t, st.Logs(), 1)
	require.Equal(t, target, st.Logs()[0].Address)
	require.Equal(t, common.HexToHash("0x07"), st.Logs()[0].Topics[0])
}

func TestParentRevertRestoresSelfDestructedChild(t *testing.T) {
	st := newTestOverlay(t)
	heir := common.HexToAddress("0x5000000000000000000000000000000000000005")
	// SELFDESTRUCT(heir)
	victim := append([]byte{byte(PUSH20)}, heir.Bytes()...)
	victim = append(victim, byte(SELFDESTRUCT))
	require.NoError(t, st.SetCode(callee, victim))
	st.SetBalance(callee, uint256.NewInt(50))
	st.SetStorage(callee, common.Hash{}, common.HexToHash("0x07"))

	// CALL(GAS, callee, 0, 0, 0, 0, 0) POP REVERT(0, 0)
	code := common.FromHex("60006000600060006000" + "73")
	code = append(code, callee.Bytes()...)
	code = append(code, common.FromHex("5af150"+"60006000fd")...)
	require.NoError(t, st.SetCode(target, code))
	before := st.Account(callee)

	out := newTestEVM(DefaultConfig()).Call(st, sender, target, nil, testGas, new(uint256.Int))
	require.Equal(t, ExitRevert(), out.Reason)
	require.True(t, before.Equal(st.Account(callee)))
	require.Equal(t, common.HexToHash("0x07"), st.Storage(callee, common.Hash{}))
	require.False(t, st.Exist(heir))
}
