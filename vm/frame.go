package vm

import (
	"github.com/airchains-network/evm-ledger/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Frame is one execution context on the call stack
type Frame struct {
	Caller common.Address
	// Address owns the storage and balance the code operates on
	Address     common.Address
	CodeAddress common.Address
	Value       *uint256.Int
	Input       []byte
	Code        []byte
	Gas         *GasMeter
	State       *state.Overlay
	Depth       int

	analysis bitvec
}

func (f *Frame) getOp(pc uint64) OpCode {
	if pc < uint64(len(f.Code)) {
		return OpCode(f.Code[pc])
	}
	return STOP
}

func (f *Frame) validJumpdest(dest *uint256.Int) bool {
	udest, overflow := dest.Uint64WithOverflow()
	if overflow || udest >= uint64(len(f.Code)) {
		return false
	}
	if OpCode(f.Code[udest]) != JUMPDEST {
		return false
	}
	if f.analysis == nil {
		f.analysis = codeBitmap(f.Code)
	}
	return f.analysis.codeSegment(udest)
}

// ScopeContext holds the per-frame machine state handed to every instruction
type ScopeContext struct {
	Memory *Memory
	Stack  *Stack
	Frame  *Frame

	returnData []byte
	exit       SucceedKind
}
