package executor

import (
	"math"

	"github.com/airchains-network/evm-ledger/vm"
	"github.com/ethereum/go-ethereum/params"
)

// IntrinsicGas is the gas charged before any code runs: a flat fee per top-level call plus
// a per-byte fee for the input.
func IntrinsicGas(data []byte, isCreate bool) (uint64, error) {
	gas := params.TxGas
	if isCreate {
		gas = params.TxGasContractCreation
	}
	if len(data) == 0 {
		return gas, nil
	}

	var nz uint64
	for _, b := range data {
		if b != 0 {
			nz++
		}
	}
	if (math.MaxUint64-gas)/params.TxDataNonZeroGasEIP2028 < nz {
		return 0, vm.ErrGasUintOverflow
	}
	gas += nz * params.TxDataNonZeroGasEIP2028

	z := uint64(len(data)) - nz
	if (math.MaxUint64-gas)/params.TxDataZeroGas < z {
		return 0, vm.ErrGasUintOverflow
	}
	gas += z * params.TxDataZeroGas
	return gas, nil
}
