package vm

import (
	"github.com/airchains-network/evm-ledger/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// Gas tiers of the fixed-cost instructions
const (
	GasQuickStep   uint64 = 2
	GasFastestStep uint64 = 3
	GasFastStep    uint64 = 5
	GasMidStep     uint64 = 8
	GasSlowStep    uint64 = 10
	GasExtStep     uint64 = 20
)

func memoryGas(evm *EVM, scope *ScopeContext, memorySize uint64) (uint64, error) {
	return memoryGasCost(scope.Memory, memorySize)
}

// memoryCopierGas charges memory expansion plus CopyGas per word of the length at stackpos
func memoryCopierGas(stackpos int) gasFunc {
	return func(evm *EVM, scope *ScopeContext, memorySize uint64) (uint64, error) {
		gas, err := memoryGasCost(scope.Memory, memorySize)
		if err != nil {
			return 0, err
		}
		words, overflow := scope.Stack.back(stackpos).Uint64WithOverflow()
		if overflow {
			return 0, ErrGasUintOverflow
		}
		if words, overflow = math.SafeMul(toWordSize(words), params.CopyGas); overflow {
			return 0, ErrGasUintOverflow
		}
		if gas, overflow = math.SafeAdd(gas, words); overflow {
			return 0, ErrGasUintOverflow
		}
		return gas, nil
	}
}

var (
	gasCallDataCopy   = memoryCopierGas(2)
	gasCodeCopy       = memoryCopierGas(2)
	gasExtCodeCopy    = memoryCopierGas(3)
	gasReturnDataCopy = memoryCopierGas(2)
)

func gasKeccak256(evm *EVM, scope *ScopeContext, memorySize uint64) (uint64, error) {
	gas, err := memoryGasCost(scope.Memory, memorySize)
	if err != nil {
		return 0, err
	}
	wordGas, overflow := scope.Stack.back(1).Uint64WithOverflow()
	if overflow {
		return 0, ErrGasUintOverflow
	}
	if wordGas, overflow = math.SafeMul(toWordSize(wordGas), params.Keccak256WordGas); overflow {
		return 0, ErrGasUintOverflow
	}
	if gas, overflow = math.SafeAdd(gas, wordGas); overflow {
		return 0, ErrGasUintOverflow
	}
	return gas, nil
}

func gasExp(evm *EVM, scope *ScopeContext, memorySize uint64) (uint64, error) {
	expByteLen := uint64((scope.Stack.back(1).BitLen() + 7) / 8)
	gas, overflow := math.SafeMul(expByteLen, params.ExpByteEIP158)
	if overflow {
		return 0, ErrGasUintOverflow
	}
	return gas, nil
}

// gasSStore charges 20000 for setting a zero slot and 5000 for any other write.
// Writes fail when no more than the call stipend is left.
func gasSStore(evm *EVM, scope *ScopeContext, memorySize uint64) (uint64, error) {
	if scope.Frame.Gas.Remaining() <= params.SstoreSentryGasEIP2200 {
		return 0, ErrOutOfGas
	}
	current := scope.Frame.State.Storage(scope.Frame.Address, types.WordToHash(scope.Stack.back(0)))
	value := scope.Stack.back(1)
	if current == (common.Hash{}) && !value.IsZero() {
		return params.SstoreSetGas, nil
	}
	return params.SstoreResetGas, nil
}

func makeGasLog(n uint64) gasFunc {
	return func(evm *EVM, scope *ScopeContext, memorySize uint64) (uint64, error) {
		requestedSize, overflow := scope.Stack.back(1).Uint64WithOverflow()
		if overflow {
			return 0, ErrGasUintOverflow
		}
		gas, err := memoryGasCost(scope.Memory, memorySize)
		if err != nil {
			return 0, err
		}
		if gas, overflow = math.SafeAdd(gas, params.LogGas); overflow {
			return 0, ErrGasUintOverflow
		}
		if gas, overflow = math.SafeAdd(gas, n*params.LogTopicGas); overflow {
			return 0, ErrGasUintOverflow
		}
		var memorySizeGas uint64
		if memorySizeGas, overflow = math.SafeMul(requestedSize, params.LogDataGas); overflow {
			return 0, ErrGasUintOverflow
		}
		if gas, overflow = math.SafeAdd(gas, memorySizeGas); overflow {
			return 0, ErrGasUintOverflow
		}
		return gas, nil
	}
}

// gasCreate2 adds hashing of the init code to memory expansion
func gasCreate2(evm *EVM, scope *ScopeContext, memorySize uint64) (uint64, error) {
	gas, err := memoryGasCost(scope.Memory, memorySize)
	if err != nil {
		return 0, err
	}
	wordGas, overflow := scope.Stack.back(2).Uint64WithOverflow()
	if overflow {
		return 0, ErrGasUintOverflow
	}
	if wordGas, overflow = math.SafeMul(toWordSize(wordGas), params.Keccak256WordGas); overflow {
		return 0, ErrGasUintOverflow
	}
	if gas, overflow = math.SafeAdd(gas, wordGas); overflow {
		return 0, ErrGasUintOverflow
	}
	return gas, nil
}

// callGas returns the gas forwarded to a child frame: at most all but one 64th of
// what is left after base is paid.
func callGas(availableGas, base uint64, callCost *uint256.Int) (uint64, error) {
	if availableGas < base {
		return 0, ErrOutOfGas
	}
	availableGas = availableGas - base
	gas := availableGas - availableGas/64
	if !callCost.IsUint64() || gas < callCost.Uint64() {
		return gas, nil
	}
	return callCost.Uint64(), nil
}

// withCallGas adds the forwarded gas to the base cost and parks it in callGasTemp
func withCallGas(base gasFunc) gasFunc {
	return func(evm *EVM, scope *ScopeContext, memorySize uint64) (uint64, error) {
		gas, err := base(evm, scope, memorySize)
		if err != nil {
			return 0, err
		}
		evm.callGasTemp, err = callGas(scope.Frame.Gas.Remaining(), gas, scope.Stack.back(0))
		if err != nil {
			return 0, err
		}
		var overflow bool
		if gas, overflow = math.SafeAdd(gas, evm.callGasTemp); overflow {
			return 0, ErrGasUintOverflow
		}
		return gas, nil
	}
}

func gasCallBase(evm *EVM, scope *ScopeContext, memorySize uint64) (uint64, error) {
	var (
		gas            uint64
		transfersValue = !scope.Stack.back(2).IsZero()
		address        = types.WordToAddress(scope.Stack.back(1))
	)
	if transfersValue && scope.Frame.State.Empty(address) {
		gas += params.CallNewAccountGas
	}
	if transfersValue {
		gas += params.CallValueTransferGas
	}
	memoryGas, err := memoryGasCost(scope.Memory, memorySize)
	if err != nil {
		return 0, err
	}
	var overflow bool
	if gas, overflow = math.SafeAdd(gas, memoryGas); overflow {
		return 0, ErrGasUintOverflow
	}
	return gas, nil
}

func gasCallCodeBase(evm *EVM, scope *ScopeContext, memorySize uint64) (uint64, error) {
	memoryGas, err := memoryGasCost(scope.Memory, memorySize)
	if err != nil {
		return 0, err
	}
	var (
		gas      uint64
		overflow bool
	)
	if !scope.Stack.back(2).IsZero() {
		gas += params.CallValueTransferGas
	}
	if gas, overflow = math.SafeAdd(gas, memoryGas); overflow {
		return 0, ErrGasUintOverflow
	}
	return gas, nil
}

var (
	gasCall         = withCallGas(gasCallBase)
	gasCallCode     = withCallGas(gasCallCodeBase)
	gasDelegateCall = withCallGas(memoryGas)
	gasStaticCall   = withCallGas(memoryGas)
)

func gasSelfdestruct(evm *EVM, scope *ScopeContext, memorySize uint64) (uint64, error) {
	address := types.WordToAddress(scope.Stack.back(0))
	if scope.Frame.State.Empty(address) && !scope.Frame.State.Balance(scope.Frame.Address).IsZero() {
		return params.CreateBySelfdestructGas, nil
	}
	return 0, nil
}
