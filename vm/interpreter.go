package vm

import (
	"github.com/ethereum/go-ethereum/common/math"
)

// Interpreter runs bytecode frames against the jump table
type Interpreter struct {
	evm   *EVM
	table *JumpTable
}

func NewInterpreter(evm *EVM) *Interpreter {
	return &Interpreter{evm: evm, table: &instructionSet}
}

// Run executes the frame's code until it halts. The returned data is the RETURN or REVERT
// payload; the error is nil on a successful halt.
func (in *Interpreter) Run(frame *Frame) (ret []byte, exit SucceedKind, err error) {
	if len(frame.Code) == 0 {
		return nil, Stopped, nil
	}

	var (
		op    OpCode
		mem   = newMemory()
		stack = newStack()
		scope = &ScopeContext{
			Memory: mem,
			Stack:  stack,
			Frame:  frame,
		}
		pc  = uint64(0)
		res []byte
	)

	for {
		op = frame.getOp(pc)
		operation := in.table[op]
		if operation == nil {
			err = ErrInvalidOpcode
			break
		}
		if sLen := stack.len(); sLen < operation.minStack {
			err = ErrStackUnderflow
			break
		} else if sLen > operation.maxStack {
			err = ErrStackOverflow
			break
		}
		if in.evm.readOnly && operation.writes {
			err = ErrWriteProtection
			break
		}
		if err = frame.Gas.Charge(operation.constantGas); err != nil {
			break
		}

		var memorySize uint64
		if operation.memorySize != nil {
			memSize, overflow := operation.memorySize(stack)
			if overflow {
				err = ErrGasUintOverflow
				break
			}
			if memorySize, overflow = math.SafeMul(toWordSize(memSize), 32); overflow {
				err = ErrGasUintOverflow
				break
			}
		}
		if operation.dynamicGas != nil {
			var dynamicCost uint64
			dynamicCost, err = operation.dynamicGas(in.evm, scope, memorySize)
			if err != nil {
				break
			}
			if err = frame.Gas.Charge(dynamicCost); err != nil {
				break
			}
		}
		if memorySize > 0 {
			mem.Resize(memorySize)
		}

		res, err = operation.execute(&pc, in, scope)
		if err != nil {
			break
		}
		pc++
	}

	if err == errStopToken {
		return res, scope.exit, nil
	}
	return res, scope.exit, err
}
