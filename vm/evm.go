package vm

import (
	"github.com/airchains-network/evm-ledger/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// BlockContext is the environment visible through the block opcodes
type BlockContext struct {
	Coinbase common.Address
	Number   uint64
	Time     uint64
	GasLimit uint64
	ChainID  uint64
	Random   common.Hash
	BaseFee  *uint256.Int
	// GetHash resolves BLOCKHASH; nil makes every lookup return zero
	GetHash func(uint64) common.Hash
}

// TxContext describes the top-level call being executed
type TxContext struct {
	Origin   common.Address
	GasPrice *uint256.Int
}

type Config struct {
	// MaxCallDepth bounds frame nesting. Going deeper aborts the whole call.
	MaxCallDepth int
}

func DefaultConfig() Config {
	return Config{MaxCallDepth: int(params.CallCreateDepth)}
}

// EVM dispatches nested frames. Every frame runs against a child overlay of its caller's
// state which is committed on success and discarded otherwise. An EVM serves one top-level
// call at a time.
type EVM struct {
	Block BlockContext
	Tx    TxContext

	cfg         Config
	interpreter *Interpreter
	precompiles map[common.Address]PrecompiledContract
	log         *logrus.Logger

	depth    int
	readOnly bool
	// callGasTemp carries the gas computed by a call's gas function into its execution
	callGasTemp uint64
}

func NewEVM(block BlockContext, tx TxContext, cfg Config, log *logrus.Logger) *EVM {
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = int(params.CallCreateDepth)
	}
	if tx.GasPrice == nil {
		tx.GasPrice = new(uint256.Int)
	}
	evm := &EVM{
		Block:       block,
		Tx:          tx,
		cfg:         cfg,
		precompiles: Precompiles(),
		log:         log,
	}
	evm.interpreter = NewInterpreter(evm)
	return evm
}

// Depth is the number of frames currently running
func (evm *EVM) Depth() int {
	return evm.depth
}

// Call runs the code at addr with value transferred from caller
func (evm *EVM) Call(st *state.Overlay, caller, addr common.Address, input []byte, gas uint64, value *uint256.Int) Outcome {
	return evm.call(st, &Frame{
		Caller:      caller,
		Address:     addr,
		CodeAddress: addr,
		Value:       value,
		Input:       input,
	}, gas, true)
}

// CallCode runs the code at addr in the context of caller
func (evm *EVM) CallCode(st *state.Overlay, caller, addr common.Address, input []byte, gas uint64, value *uint256.Int) Outcome {
	return evm.call(st, &Frame{
		Caller:      caller,
		Address:     caller,
		CodeAddress: addr,
		Value:       value,
		Input:       input,
	}, gas, true)
}

// DelegateCall runs the code at addr keeping the parent's caller, value and storage context
func (evm *EVM) DelegateCall(st *state.Overlay, parent *Frame, addr common.Address, input []byte, gas uint64) Outcome {
	return evm.call(st, &Frame{
		Caller:      parent.Caller,
		Address:     parent.Address,
		CodeAddress: addr,
		Value:       parent.Value,
		Input:       input,
	}, gas, false)
}

// StaticCall runs the code at addr with every state mutation forbidden, nested calls included
func (evm *EVM) StaticCall(st *state.Overlay, caller, addr common.Address, input []byte, gas uint64) Outcome {
	if !evm.readOnly {
		evm.readOnly = true
		defer func() { evm.readOnly = false }()
	}
	return evm.call(st, &Frame{
		Caller:      caller,
		Address:     addr,
		CodeAddress: addr,
		Value:       new(uint256.Int),
		Input:       input,
	}, gas, false)
}

func (evm *EVM) call(parent *state.Overlay, f *Frame, gas uint64, transfer bool) Outcome {
	if f.Value == nil {
		f.Value = new(uint256.Int)
	}
	if evm.depth > evm.cfg.MaxCallDepth {
		return Outcome{Reason: ExitFatal(CallDepthExceeded)}
	}
	if transfer && !f.Value.IsZero() && parent.Balance(f.Caller).Lt(f.Value) {
		return Outcome{Reason: ExitError(InsufficientBalance), GasLeft: gas}
	}

	f.State = parent.Child()
	f.Gas = NewGasMeter(gas)
	f.Depth = evm.depth
	if transfer {
		if err := f.State.Transfer(f.Caller, f.Address, f.Value); err != nil {
			f.State.Discard()
			return Outcome{Reason: ExitError(InsufficientBalance), GasLeft: gas}
		}
	}

	if p, ok := evm.precompiles[f.CodeAddress]; ok {
		ret, err := RunPrecompiledContract(p, f.Input, f.Gas)
		return evm.finish(f, ret, classify(err, Returned))
	}

	f.Code = f.State.Code(f.CodeAddress)
	evm.depth++
	ret, exit, err := evm.interpreter.Run(f)
	evm.depth--
	if evm.log != nil {
		evm.log.Debugf("Frame %s at depth %d: %v", f.Address.Hex(), f.Depth, err)
	}
	return evm.finish(f, ret, classify(err, exit))
}

// finish settles a frame: success commits its overlay, anything else discards it.
// Errors burn the frame's gas; a revert hands the rest back.
func (evm *EVM) finish(f *Frame, ret []byte, reason ExitReason) Outcome {
	switch {
	case reason.IsSucceed():
		if err := f.State.Commit(); err != nil {
			f.State.Discard()
			return Outcome{Reason: ExitFatal(StateCorrupted)}
		}
		return Outcome{Reason: reason, Output: ret, GasLeft: f.Gas.Remaining()}
	case reason.IsRevert():
		f.State.Discard()
		return Outcome{Reason: reason, Output: ret, GasLeft: f.Gas.Remaining()}
	default:
		f.State.Discard()
		f.Gas.ConsumeAll()
		return Outcome{Reason: reason}
	}
}

// Create deploys init code at the address derived from caller and its nonce
func (evm *EVM) Create(st *state.Overlay, caller common.Address, code []byte, gas uint64, value *uint256.Int) (common.Address, Outcome) {
	return evm.create(st, caller, code, gas, value, func(nonce uint64) common.Address {
		return state.CreateAddress(caller, nonce)
	})
}

// Create2 deploys init code at an address derived from caller, salt and the code hash
func (evm *EVM) Create2(st *state.Overlay, caller common.Address, code []byte, gas uint64, value *uint256.Int, salt [32]byte) (common.Address, Outcome) {
	return evm.create(st, caller, code, gas, value, func(uint64) common.Address {
		return state.CreateAddress2(caller, salt, crypto.Keccak256(code))
	})
}

func (evm *EVM) create(parent *state.Overlay, caller common.Address, code []byte, gas uint64, value *uint256.Int, derive func(uint64) common.Address) (common.Address, Outcome) {
	if value == nil {
		value = new(uint256.Int)
	}
	if evm.depth > evm.cfg.MaxCallDepth {
		return common.Address{}, Outcome{Reason: ExitFatal(CallDepthExceeded)}
	}
	if parent.Balance(caller).Lt(value) {
		return common.Address{}, Outcome{Reason: ExitError(InsufficientBalance), GasLeft: gas}
	}
	nonce := parent.Nonce(caller)
	if nonce+1 < nonce {
		return common.Address{}, Outcome{Reason: ExitError(NonceOverflow), GasLeft: gas}
	}
	// the creator's nonce moves in the parent so it survives a failed creation
	parent.SetNonce(caller, nonce+1)

	address := derive(nonce)
	if parent.Nonce(address) != 0 || parent.CodeSize(address) != 0 {
		return address, Outcome{Reason: ExitError(CreateCollision)}
	}

	f := &Frame{
		Caller:      caller,
		Address:     address,
		CodeAddress: address,
		Value:       value,
		Code:        code,
		State:       parent.Child(),
		Gas:         NewGasMeter(gas),
		Depth:       evm.depth,
	}
	f.State.SetNonce(address, 1)
	if err := f.State.Transfer(caller, address, value); err != nil {
		f.State.Discard()
		return address, Outcome{Reason: ExitError(InsufficientBalance), GasLeft: gas}
	}

	evm.depth++
	ret, exit, err := evm.interpreter.Run(f)
	evm.depth--

	if err == nil {
		err = evm.depositCode(f, ret)
	}
	if evm.log != nil {
		evm.log.Debugf("Create %s at depth %d: %v", address.Hex(), f.Depth, err)
	}
	return address, evm.finish(f, ret, classify(err, exit))
}

// depositCode validates the returned runtime code, charges for it and installs it
func (evm *EVM) depositCode(f *Frame, code []byte) error {
	if len(code) > params.MaxCodeSize {
		return ErrMaxCodeSizeExceeded
	}
	if len(code) > 0 && code[0] == 0xEF {
		return ErrInvalidCode
	}
	if err := f.Gas.Charge(uint64(len(code)) * params.CreateDataGas); err != nil {
		return ErrCodeStoreOutOfGas
	}
	if len(code) == 0 {
		return nil
	}
	if err := f.State.SetCode(f.Address, code); err != nil {
		return ErrStateCorrupted
	}
	return nil
}
