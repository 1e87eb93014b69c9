package vm

import (
	"errors"

	"github.com/airchains-network/evm-ledger/state"
)

// Execution errors. They end the current frame only.
var (
	ErrOutOfGas                 = errors.New("out of gas")
	ErrCodeStoreOutOfGas        = errors.New("contract creation code storage out of gas")
	ErrStackUnderflow           = errors.New("stack underflow")
	ErrStackOverflow            = errors.New("stack overflow")
	ErrInvalidJump              = errors.New("invalid jump destination")
	ErrInvalidOpcode            = errors.New("invalid opcode")
	ErrWriteProtection          = errors.New("write protection")
	ErrReturnDataOutOfBounds    = errors.New("return data out of bounds")
	ErrMaxCodeSizeExceeded      = errors.New("max code size exceeded")
	ErrInvalidCode              = errors.New("invalid code: must not begin with 0xef")
	ErrContractAddressCollision = errors.New("contract address collision")
	ErrInsufficientBalance      = state.ErrInsufficientBalance
	ErrNonceOverflow            = errors.New("nonce uint64 overflow")
	ErrGasUintOverflow          = errors.New("gas uint64 overflow")
	ErrPrecompileFailed         = errors.New("precompile execution failed")

	// ErrExecutionReverted is returned by REVERT. Remaining gas goes back to the caller.
	ErrExecutionReverted = errors.New("execution reverted")
)

// Fatal errors abort the whole top-level call.
var (
	ErrCallDepthExceeded = errors.New("max call depth exceeded")
	ErrStateCorrupted    = errors.New("execution state corrupted")
)
