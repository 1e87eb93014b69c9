package vm

import (
	"errors"

	"github.com/airchains-network/evm-ledger/types"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// errStopToken halts the loop without an error
var errStopToken = errors.New("stop token")

func opAdd(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Add(&x, y)
	return nil, nil
}

func opSub(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Sub(&x, y)
	return nil, nil
}

func opMul(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Mul(&x, y)
	return nil, nil
}

// Division and modulo by zero leave zero on the stack.
func opDiv(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Div(&x, y)
	return nil, nil
}

func opSdiv(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.SDiv(&x, y)
	return nil, nil
}

func opMod(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Mod(&x, y)
	return nil, nil
}

func opSmod(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.SMod(&x, y)
	return nil, nil
}

func opAddmod(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y, z := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.peek()
	z.AddMod(&x, &y, z)
	return nil, nil
}

func opMulmod(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y, z := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.peek()
	z.MulMod(&x, &y, z)
	return nil, nil
}

func opExp(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	base, exponent := scope.Stack.pop(), scope.Stack.peek()
	exponent.Exp(&base, exponent)
	return nil, nil
}

func opSignExtend(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	back, num := scope.Stack.pop(), scope.Stack.peek()
	num.ExtendSign(num, &back)
	return nil, nil
}

func opLt(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	setBool(y, x.Lt(y))
	return nil, nil
}

func opGt(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	setBool(y, x.Gt(y))
	return nil, nil
}

func opSlt(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	setBool(y, x.Slt(y))
	return nil, nil
}

func opSgt(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	setBool(y, x.Sgt(y))
	return nil, nil
}

func opEq(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	setBool(y, x.Eq(y))
	return nil, nil
}

func opIszero(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x := scope.Stack.peek()
	setBool(x, x.IsZero())
	return nil, nil
}

func setBool(z *uint256.Int, b bool) {
	if b {
		z.SetOne()
	} else {
		z.Clear()
	}
}

func opAnd(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.And(&x, y)
	return nil, nil
}

func opOr(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Or(&x, y)
	return nil, nil
}

func opXor(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Xor(&x, y)
	return nil, nil
}

func opNot(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x := scope.Stack.peek()
	x.Not(x)
	return nil, nil
}

func opByte(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	th, val := scope.Stack.pop(), scope.Stack.peek()
	val.Byte(&th)
	return nil, nil
}

func opSHL(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	shift, value := scope.Stack.pop(), scope.Stack.peek()
	if shift.LtUint64(256) {
		value.Lsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	return nil, nil
}

func opSHR(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	shift, value := scope.Stack.pop(), scope.Stack.peek()
	if shift.LtUint64(256) {
		value.Rsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	return nil, nil
}

func opSAR(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	shift, value := scope.Stack.pop(), scope.Stack.peek()
	if shift.GtUint64(255) {
		if value.Sign() >= 0 {
			value.Clear()
		} else {
			value.SetAllOne()
		}
		return nil, nil
	}
	value.SRsh(value, uint(shift.Uint64()))
	return nil, nil
}

func opKeccak256(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	offset, size := scope.Stack.pop(), scope.Stack.peek()
	data := scope.Memory.GetPtr(offset.Uint64(), size.Uint64())
	size.SetBytes(crypto.Keccak256(data))
	return nil, nil
}

func opAddress(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(types.AddressToWord(scope.Frame.Address))
	return nil, nil
}

func opBalance(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	slot := scope.Stack.peek()
	slot.Set(scope.Frame.State.Balance(types.WordToAddress(slot)))
	return nil, nil
}

func opOrigin(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(types.AddressToWord(in.evm.Tx.Origin))
	return nil, nil
}

func opCaller(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(types.AddressToWord(scope.Frame.Caller))
	return nil, nil
}

func opCallValue(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).Set(scope.Frame.Value))
	return nil, nil
}

func opCallDataLoad(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x := scope.Stack.peek()
	if offset, overflow := x.Uint64WithOverflow(); !overflow {
		data := getData(scope.Frame.Input, offset, 32)
		x.SetBytes(data)
	} else {
		x.Clear()
	}
	return nil, nil
}

func opCallDataSize(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(uint64(len(scope.Frame.Input))))
	return nil, nil
}

func opCallDataCopy(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	memOffset, dataOffset, length := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop()
	dataOffset64, overflow := dataOffset.Uint64WithOverflow()
	if overflow {
		dataOffset64 = ^uint64(0)
	}
	scope.Memory.Set(memOffset.Uint64(), length.Uint64(), getData(scope.Frame.Input, dataOffset64, length.Uint64()))
	return nil, nil
}

func opReturnDataSize(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(uint64(len(scope.returnData))))
	return nil, nil
}

func opReturnDataCopy(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	memOffset, dataOffset, length := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop()

	offset64, overflow := dataOffset.Uint64WithOverflow()
	if overflow {
		return nil, ErrReturnDataOutOfBounds
	}
	end := new(uint256.Int).Add(&dataOffset, &length)
	end64, overflow := end.Uint64WithOverflow()
	if overflow || uint64(len(scope.returnData)) < end64 {
		return nil, ErrReturnDataOutOfBounds
	}
	scope.Memory.Set(memOffset.Uint64(), length.Uint64(), scope.returnData[offset64:end64])
	return nil, nil
}

func opCodeSize(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(uint64(len(scope.Frame.Code))))
	return nil, nil
}

func opCodeCopy(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	memOffset, codeOffset, length := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop()
	uint64CodeOffset, overflow := codeOffset.Uint64WithOverflow()
	if overflow {
		uint64CodeOffset = ^uint64(0)
	}
	codeCopy := getData(scope.Frame.Code, uint64CodeOffset, length.Uint64())
	scope.Memory.Set(memOffset.Uint64(), length.Uint64(), codeCopy)
	return nil, nil
}

func opGasprice(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).Set(in.evm.Tx.GasPrice))
	return nil, nil
}

func opExtCodeSize(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	slot := scope.Stack.peek()
	slot.SetUint64(uint64(scope.Frame.State.CodeSize(types.WordToAddress(slot))))
	return nil, nil
}

func opExtCodeCopy(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	a, memOffset, codeOffset, length := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop()
	uint64CodeOffset, overflow := codeOffset.Uint64WithOverflow()
	if overflow {
		uint64CodeOffset = ^uint64(0)
	}
	code := scope.Frame.State.Code(types.WordToAddress(&a))
	scope.Memory.Set(memOffset.Uint64(), length.Uint64(), getData(code, uint64CodeOffset, length.Uint64()))
	return nil, nil
}

// opExtCodeHash pushes zero for empty accounts and the code hash otherwise
func opExtCodeHash(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	slot := scope.Stack.peek()
	address := types.WordToAddress(slot)
	if scope.Frame.State.Empty(address) {
		slot.Clear()
	} else {
		slot.SetBytes(scope.Frame.State.CodeHash(address).Bytes())
	}
	return nil, nil
}

func opBlockhash(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	num := scope.Stack.peek()
	num64, overflow := num.Uint64WithOverflow()
	if overflow || in.evm.Block.GetHash == nil {
		num.Clear()
		return nil, nil
	}
	upper := in.evm.Block.Number
	var lower uint64
	if upper > 256 {
		lower = upper - 256
	}
	if num64 >= lower && num64 < upper {
		num.SetBytes(in.evm.Block.GetHash(num64).Bytes())
	} else {
		num.Clear()
	}
	return nil, nil
}

func opCoinbase(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(types.AddressToWord(in.evm.Block.Coinbase))
	return nil, nil
}

func opTimestamp(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(in.evm.Block.Time))
	return nil, nil
}

func opNumber(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(in.evm.Block.Number))
	return nil, nil
}

func opRandom(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(types.HashToWord(in.evm.Block.Random))
	return nil, nil
}

func opGasLimit(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(in.evm.Block.GasLimit))
	return nil, nil
}

func opChainID(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(in.evm.Block.ChainID))
	return nil, nil
}

func opSelfBalance(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(scope.Frame.State.Balance(scope.Frame.Address))
	return nil, nil
}

func opBaseFee(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	fee := new(uint256.Int)
	if in.evm.Block.BaseFee != nil {
		fee.Set(in.evm.Block.BaseFee)
	}
	scope.Stack.push(fee)
	return nil, nil
}

func opPop(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.pop()
	return nil, nil
}

func opMload(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	v := scope.Stack.peek()
	offset := v.Uint64()
	v.SetBytes(scope.Memory.GetPtr(offset, 32))
	return nil, nil
}

func opMstore(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	mStart, val := scope.Stack.pop(), scope.Stack.pop()
	scope.Memory.Set32(mStart.Uint64(), &val)
	return nil, nil
}

func opMstore8(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	off, val := scope.Stack.pop(), scope.Stack.pop()
	scope.Memory.store[off.Uint64()] = byte(val.Uint64())
	return nil, nil
}

func opSload(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	loc := scope.Stack.peek()
	val := scope.Frame.State.Storage(scope.Frame.Address, types.WordToHash(loc))
	loc.SetBytes(val.Bytes())
	return nil, nil
}

func opSstore(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	loc, val := scope.Stack.pop(), scope.Stack.pop()
	scope.Frame.State.SetStorage(scope.Frame.Address, types.WordToHash(&loc), types.WordToHash(&val))
	return nil, nil
}

func opJump(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	pos := scope.Stack.pop()
	if !scope.Frame.validJumpdest(&pos) {
		return nil, ErrInvalidJump
	}
	// the loop increments pc after every instruction
	*pc = pos.Uint64() - 1
	return nil, nil
}

func opJumpi(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	pos, cond := scope.Stack.pop(), scope.Stack.pop()
	if !cond.IsZero() {
		if !scope.Frame.validJumpdest(&pos) {
			return nil, ErrInvalidJump
		}
		*pc = pos.Uint64() - 1
	}
	return nil, nil
}

func opJumpdest(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	return nil, nil
}

func opPc(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(*pc))
	return nil, nil
}

func opMsize(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(uint64(scope.Memory.Len())))
	return nil, nil
}

func opGas(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(scope.Frame.Gas.Remaining()))
	return nil, nil
}

func opPush0(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int))
	return nil, nil
}

// makePush reads size immediate bytes, zero-padding past the end of code
func makePush(size uint64) executionFunc {
	return func(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
		code := scope.Frame.Code
		start := *pc + 1
		scope.Stack.push(new(uint256.Int).SetBytes(getData(code, start, size)))
		*pc += size
		return nil, nil
	}
}

func makeDup(size int) executionFunc {
	return func(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
		scope.Stack.dup(size)
		return nil, nil
	}
}

func makeSwap(size int) executionFunc {
	return func(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
		scope.Stack.swap(size)
		return nil, nil
	}
}

func makeLog(size int) executionFunc {
	return func(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
		topics := make([]common.Hash, size)
		mStart, mSize := scope.Stack.pop(), scope.Stack.pop()
		for i := 0; i < size; i++ {
			addr := scope.Stack.pop()
			topics[i] = types.WordToHash(&addr)
		}
		scope.Frame.State.AddLog(&ethtypes.Log{
			Address:     scope.Frame.Address,
			Topics:      topics,
			Data:        scope.Memory.GetCopy(mStart.Uint64(), mSize.Uint64()),
			BlockNumber: in.evm.Block.Number,
		})
		return nil, nil
	}
}

func opCreate(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	value, offset, size := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop()
	input := scope.Memory.GetCopy(offset.Uint64(), size.Uint64())

	gas := scope.Frame.Gas.Remaining()
	gas -= gas / 64
	if err := scope.Frame.Gas.Charge(gas); err != nil {
		return nil, err
	}

	addr, outcome := in.evm.Create(scope.Frame.State, scope.Frame.Address, input, gas, &value)
	return in.finishCreate(scope, addr, outcome)
}

func opCreate2(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	endowment, offset, size, salt := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop()
	input := scope.Memory.GetCopy(offset.Uint64(), size.Uint64())

	gas := scope.Frame.Gas.Remaining()
	gas -= gas / 64
	if err := scope.Frame.Gas.Charge(gas); err != nil {
		return nil, err
	}

	addr, outcome := in.evm.Create2(scope.Frame.State, scope.Frame.Address, input, gas, &endowment, salt.Bytes32())
	return in.finishCreate(scope, addr, outcome)
}

func (in *Interpreter) finishCreate(scope *ScopeContext, addr common.Address, outcome Outcome) ([]byte, error) {
	if outcome.Reason.IsFatal() {
		return nil, outcome.Reason.Err()
	}
	result := new(uint256.Int)
	if outcome.Reason.IsSucceed() {
		result = types.AddressToWord(addr)
	}
	scope.Stack.push(result)
	scope.Frame.Gas.Refund(outcome.GasLeft)

	if outcome.Reason.IsRevert() {
		scope.returnData = outcome.Output
		return outcome.Output, nil
	}
	scope.returnData = nil
	return nil, nil
}

func opCall(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	stack := scope.Stack
	// the requested gas was already folded into callGasTemp by the gas function
	stack.pop()
	gas := in.evm.callGasTemp
	addr, value, inOffset, inSize, retOffset, retSize := stack.pop(), stack.pop(), stack.pop(), stack.pop(), stack.pop(), stack.pop()
	toAddr := types.WordToAddress(&addr)
	args := scope.Memory.GetPtr(inOffset.Uint64(), inSize.Uint64())

	if in.evm.readOnly && !value.IsZero() {
		return nil, ErrWriteProtection
	}
	if !value.IsZero() {
		gas += params.CallStipend
	}
	outcome := in.evm.Call(scope.Frame.State, scope.Frame.Address, toAddr, args, gas, &value)
	return in.finishCall(scope, outcome, &retOffset, &retSize)
}

func opCallCode(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	stack := scope.Stack
	stack.pop()
	gas := in.evm.callGasTemp
	addr, value, inOffset, inSize, retOffset, retSize := stack.pop(), stack.pop(), stack.pop(), stack.pop(), stack.pop(), stack.pop()
	toAddr := types.WordToAddress(&addr)
	args := scope.Memory.GetPtr(inOffset.Uint64(), inSize.Uint64())

	if !value.IsZero() {
		gas += params.CallStipend
	}
	outcome := in.evm.CallCode(scope.Frame.State, scope.Frame.Address, toAddr, args, gas, &value)
	return in.finishCall(scope, outcome, &retOffset, &retSize)
}

func opDelegateCall(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	stack := scope.Stack
	stack.pop()
	gas := in.evm.callGasTemp
	addr, inOffset, inSize, retOffset, retSize := stack.pop(), stack.pop(), stack.pop(), stack.pop(), stack.pop()
	toAddr := types.WordToAddress(&addr)
	args := scope.Memory.GetPtr(inOffset.Uint64(), inSize.Uint64())

	outcome := in.evm.DelegateCall(scope.Frame.State, scope.Frame, toAddr, args, gas)
	return in.finishCall(scope, outcome, &retOffset, &retSize)
}

func opStaticCall(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	stack := scope.Stack
	stack.pop()
	gas := in.evm.callGasTemp
	addr, inOffset, inSize, retOffset, retSize := stack.pop(), stack.pop(), stack.pop(), stack.pop(), stack.pop()
	toAddr := types.WordToAddress(&addr)
	args := scope.Memory.GetPtr(inOffset.Uint64(), inSize.Uint64())

	outcome := in.evm.StaticCall(scope.Frame.State, scope.Frame.Address, toAddr, args, gas)
	return in.finishCall(scope, outcome, &retOffset, &retSize)
}

// finishCall pushes the success flag, copies output into memory and refunds unused gas.
// A fatal child aborts this frame too.
func (in *Interpreter) finishCall(scope *ScopeContext, outcome Outcome, retOffset, retSize *uint256.Int) ([]byte, error) {
	if outcome.Reason.IsFatal() {
		return nil, outcome.Reason.Err()
	}
	ok := new(uint256.Int)
	if outcome.Reason.IsSucceed() {
		ok.SetOne()
	}
	scope.Stack.push(ok)

	if outcome.Reason.IsSucceed() || outcome.Reason.IsRevert() {
		n := retSize.Uint64()
		if uint64(len(outcome.Output)) < n {
			n = uint64(len(outcome.Output))
		}
		scope.Memory.Set(retOffset.Uint64(), n, outcome.Output)
	}
	scope.Frame.Gas.Refund(outcome.GasLeft)
	scope.returnData = outcome.Output
	return outcome.Output, nil
}

func opReturn(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	offset, size := scope.Stack.pop(), scope.Stack.pop()
	ret := scope.Memory.GetCopy(offset.Uint64(), size.Uint64())
	scope.exit = Returned
	return ret, errStopToken
}

func opRevert(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	offset, size := scope.Stack.pop(), scope.Stack.pop()
	ret := scope.Memory.GetCopy(offset.Uint64(), size.Uint64())
	return ret, ErrExecutionReverted
}

func opUndefined(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	return nil, ErrInvalidOpcode
}

func opStop(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	return nil, errStopToken
}

// opSelfdestruct moves the whole balance to the beneficiary and removes the account
func opSelfdestruct(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	beneficiary := scope.Stack.pop()
	st := scope.Frame.State
	balance := st.Balance(scope.Frame.Address)
	st.SetBalance(scope.Frame.Address, new(uint256.Int))
	st.AddBalance(types.WordToAddress(&beneficiary), balance)
	st.SelfDestruct(scope.Frame.Address)
	scope.exit = Suicided
	return nil, errStopToken
}

// getData returns size bytes of data starting at start, zero-padded on the right
func getData(data []byte, start uint64, size uint64) []byte {
	length := uint64(len(data))
	if start > length {
		start = length
	}
	end := start + size
	if end > length || end < start {
		end = length
	}
	return common.RightPadBytes(data[start:end], int(size))
}
