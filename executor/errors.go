package executor

import (
	"errors"

	"github.com/airchains-network/evm-ledger/state"
)

// Validation errors. They are returned before any state is touched.
var (
	ErrInsufficientBalance = errors.New("insufficient balance for value and gas")
	ErrAddressCollision    = errors.New("contract address collision")
	ErrCodeAlreadySet      = state.ErrCodeAlreadySet
	ErrInvalidNonce        = errors.New("invalid nonce")
	ErrNonceMax            = errors.New("nonce has max value")
	ErrIntrinsicGas        = errors.New("intrinsic gas too low")
	ErrGasPriceOverflow    = errors.New("gas limit times gas price overflows")
	ErrGasLimitExceeded    = errors.New("gas limit exceeds block gas limit")
	ErrInvalidChainID      = errors.New("invalid chain id")
	ErrValueOverflow       = errors.New("value overflows 256 bits")
)
