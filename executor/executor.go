package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/airchains-network/evm-ledger/state"
	"github.com/airchains-network/evm-ledger/vm"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// Config holds the engine settings of an Executor
type Config struct {
	ChainID       uint64
	Coinbase      common.Address
	BlockGasLimit uint64
	MaxCallDepth  int
	// ChargeIntrinsic adds the flat per-call and per-byte input fee on top of execution gas
	ChargeIntrinsic bool
}

func DefaultConfig() Config {
	return Config{
		ChainID:         1337,
		BlockGasLimit:   30_000_000,
		MaxCallDepth:    int(params.CallCreateDepth),
		ChargeIntrinsic: true,
	}
}

// simulateGasCap bounds eth_call style simulations when no block gas limit is configured
const simulateGasCap = 50_000_000

// CreateRequest deploys Code as a new contract owned by Caller
type CreateRequest struct {
	Caller   common.Address
	Code     []byte
	Value    *uint256.Int
	GasLimit uint64
	GasPrice *uint256.Int
	// Nonce, when set, must match the caller's current nonce
	Nonce *uint64
}

// CallRequest invokes the code at To
type CallRequest struct {
	Caller   common.Address
	To       common.Address
	Input    []byte
	Value    *uint256.Int
	GasLimit uint64
	GasPrice *uint256.Int
	Nonce    *uint64
}

// Result is the observable outcome of one top-level call
type Result struct {
	Reason  vm.ExitReason
	Output  []byte
	GasUsed uint64
	// ContractAddress is the derived address of a create, zero for calls
	ContractAddress common.Address
	Logs            []*ethtypes.Log
}

// Failed reports whether the call did not succeed
func (r *Result) Failed() bool {
	return !r.Reason.IsSucceed()
}

// Executor runs top-level creates and calls against the ledger. Calls are serialized:
// each one has exclusive access to the ledger until it has been settled.
type Executor struct {
	mu     sync.Mutex
	ledger *state.Ledger
	cfg    Config
	log    *logrus.Logger
}

func New(ledger *state.Ledger, cfg Config, log *logrus.Logger) *Executor {
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = int(params.CallCreateDepth)
	}
	if log == nil {
		log = logrus.New()
	}
	return &Executor{
		ledger: ledger,
		cfg:    cfg,
		log:    log,
	}
}

// Ledger gives read access to the underlying ledger. Callers must not mutate it while
// calls are running.
func (e *Executor) Ledger() *state.Ledger {
	return e.ledger
}

func (e *Executor) Config() Config {
	return e.cfg
}

// View runs fn while holding the executor lock, so it observes a settled ledger
func (e *Executor) View(fn func(l *state.Ledger) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.ledger)
}

// Create deploys a contract at the address derived from the caller and its nonce
func (e *Executor) Create(ctx context.Context, req CreateRequest) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ov := e.ledger.Overlay()
	defer discardOpen(ov)

	value, price := orZero(req.Value), orZero(req.GasPrice)
	gas, err := e.validate(ov, req.Caller, req.Nonce, req.Code, true, value, req.GasLimit, price)
	if err != nil {
		return nil, err
	}

	address := state.CreateAddress(req.Caller, ov.Nonce(req.Caller))
	if ov.Nonce(address) != 0 {
		return nil, fmt.Errorf("%w at %s", ErrAddressCollision, address.Hex())
	}
	if ov.CodeSize(address) != 0 {
		return nil, fmt.Errorf("%w: %w at %s", ErrAddressCollision, ErrCodeAlreadySet, address.Hex())
	}

	if err := e.buyGas(ov, req.Caller, req.GasLimit, price); err != nil {
		return nil, err
	}
	evm := e.newEVM(req.Caller, price)
	// the EVM moves the caller's nonce as part of the creation
	_, out := evm.Create(ov, req.Caller, req.Code, gas, value)

	res, err := e.settle(ov, req.Caller, req.GasLimit, price, out)
	if err != nil {
		return nil, err
	}
	res.ContractAddress = address
	e.log.Infof("Create from %s at %s: %s, gas used %d", req.Caller.Hex(), address.Hex(), res.Reason, res.GasUsed)
	return res, nil
}

// Call invokes the code at req.To. A target without code receives a plain value transfer.
func (e *Executor) Call(ctx context.Context, req CallRequest) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ov := e.ledger.Overlay()
	defer discardOpen(ov)

	value, price := orZero(req.Value), orZero(req.GasPrice)
	gas, err := e.validate(ov, req.Caller, req.Nonce, req.Input, false, value, req.GasLimit, price)
	if err != nil {
		return nil, err
	}

	ov.IncrementNonce(req.Caller)
	if err := e.buyGas(ov, req.Caller, req.GasLimit, price); err != nil {
		return nil, err
	}
	evm := e.newEVM(req.Caller, price)
	out := evm.Call(ov, req.Caller, req.To, req.Input, gas, value)

	res, err := e.settle(ov, req.Caller, req.GasLimit, price, out)
	if err != nil {
		return nil, err
	}
	e.log.Infof("Call from %s to %s: %s, gas used %d", req.Caller.Hex(), req.To.Hex(), res.Reason, res.GasUsed)
	return res, nil
}

// Simulate runs a call without charging fees or moving the nonce and throws the resulting
// state away
func (e *Executor) Simulate(ctx context.Context, req CallRequest) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ov := e.ledger.Overlay()
	defer ov.Discard()

	gasCap := e.cfg.BlockGasLimit
	if gasCap == 0 {
		gasCap = simulateGasCap
	}
	gasLimit := req.GasLimit
	if gasLimit == 0 || gasLimit > gasCap {
		gasLimit = gasCap
	}
	value := orZero(req.Value)
	if ov.Balance(req.Caller).Lt(value) {
		return nil, ErrInsufficientBalance
	}

	evm := e.newEVM(req.Caller, orZero(req.GasPrice))
	out := evm.Call(ov, req.Caller, req.To, req.Input, gasLimit, value)
	res := &Result{
		Reason:  out.Reason,
		Output:  out.Output,
		GasUsed: gasLimit - out.GasLeft,
		Logs:    ov.Logs(),
	}
	e.log.Debugf("Simulated call from %s to %s: %s", req.Caller.Hex(), req.To.Hex(), res.Reason)
	return res, nil
}

// validate checks everything that must hold before execution and returns the gas left for
// the code once the intrinsic fee is taken
func (e *Executor) validate(ov *state.Overlay, caller common.Address, nonce *uint64, data []byte, isCreate bool, value *uint256.Int, gasLimit uint64, price *uint256.Int) (uint64, error) {
	current := ov.Nonce(caller)
	if nonce != nil && *nonce != current {
		return 0, fmt.Errorf("%w: have %d, want %d", ErrInvalidNonce, *nonce, current)
	}
	if current+1 < current {
		return 0, fmt.Errorf("%w: %s", ErrNonceMax, caller.Hex())
	}
	if e.cfg.BlockGasLimit > 0 && gasLimit > e.cfg.BlockGasLimit {
		return 0, fmt.Errorf("%w: %d > %d", ErrGasLimitExceeded, gasLimit, e.cfg.BlockGasLimit)
	}

	gas := gasLimit
	if e.cfg.ChargeIntrinsic {
		intrinsic, err := IntrinsicGas(data, isCreate)
		if err != nil {
			return 0, err
		}
		if gasLimit < intrinsic {
			return 0, fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, gasLimit, intrinsic)
		}
		gas -= intrinsic
	}

	fee, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(gasLimit), price)
	if overflow {
		return 0, ErrGasPriceOverflow
	}
	cost, overflow := new(uint256.Int).AddOverflow(fee, value)
	if overflow {
		return 0, ErrGasPriceOverflow
	}
	if have := ov.Balance(caller); have.Lt(cost) {
		return 0, fmt.Errorf("%w: address %s have %s want %s", ErrInsufficientBalance, caller.Hex(), have.ToBig(), cost.ToBig())
	}
	return gas, nil
}

// buyGas withdraws the whole gas allowance up front
func (e *Executor) buyGas(ov *state.Overlay, caller common.Address, gasLimit uint64, price *uint256.Int) error {
	fee := new(uint256.Int).Mul(uint256.NewInt(gasLimit), price)
	if err := ov.SubBalance(caller, fee); err != nil {
		return fmt.Errorf("failed to withdraw gas fee: %w", err)
	}
	return nil
}

// settle refunds unused gas, pays the coinbase and commits the call. A fatal outcome
// leaves the ledger exactly as it was.
func (e *Executor) settle(ov *state.Overlay, caller common.Address, gasLimit uint64, price *uint256.Int, out vm.Outcome) (*Result, error) {
	res := &Result{Reason: out.Reason, Output: out.Output}
	if out.Reason.IsFatal() {
		ov.Discard()
		res.GasUsed = gasLimit
		e.log.Warnf("Call from %s aborted: %s", caller.Hex(), out.Reason)
		return res, nil
	}

	res.GasUsed = gasLimit - out.GasLeft
	ov.AddBalance(caller, new(uint256.Int).Mul(uint256.NewInt(out.GasLeft), price))
	ov.AddBalance(e.cfg.Coinbase, new(uint256.Int).Mul(uint256.NewInt(res.GasUsed), price))
	res.Logs = ov.Logs()

	if err := ov.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit call: %w", err)
	}
	return res, nil
}

func (e *Executor) newEVM(origin common.Address, price *uint256.Int) *vm.EVM {
	block := vm.BlockContext{
		Coinbase: e.cfg.Coinbase,
		Number:   1,
		GasLimit: e.cfg.BlockGasLimit,
		ChainID:  e.cfg.ChainID,
		BaseFee:  new(uint256.Int),
	}
	tx := vm.TxContext{Origin: origin, GasPrice: price}
	return vm.NewEVM(block, tx, vm.Config{MaxCallDepth: e.cfg.MaxCallDepth}, e.log)
}

func discardOpen(ov *state.Overlay) {
	if !ov.Closed() {
		ov.Discard()
	}
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
