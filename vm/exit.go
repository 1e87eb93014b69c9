package vm

import (
	"errors"
	"fmt"
)

// ExitClass separates the four families of exit reasons
type ExitClass uint8

const (
	ClassSucceed ExitClass = iota
	ClassRevert
	ClassError
	ClassFatal
)

// SucceedKind tells how a frame finished successfully
type SucceedKind uint8

const (
	Stopped SucceedKind = iota
	Returned
	Suicided
)

// ErrorKind classifies execution errors
type ErrorKind uint8

const (
	OutOfGas ErrorKind = iota
	StackUnderflow
	StackOverflow
	InvalidJump
	InvalidOpcode
	WriteProtection
	ReturnDataOutOfBounds
	CodeStoreOutOfGas
	MaxCodeSizeExceeded
	InvalidCode
	CreateCollision
	InsufficientBalance
	NonceOverflow
	PrecompileFailure
)

// FatalKind classifies errors that abort the top-level call
type FatalKind uint8

const (
	CallDepthExceeded FatalKind = iota
	StateCorrupted
)

var (
	succeedNames = [...]string{"Stopped", "Returned", "Suicided"}

	errorKinds = []struct {
		err  error
		kind ErrorKind
		name string
	}{
		{ErrOutOfGas, OutOfGas, "OutOfGas"},
		{ErrStackUnderflow, StackUnderflow, "StackUnderflow"},
		{ErrStackOverflow, StackOverflow, "StackOverflow"},
		{ErrInvalidJump, InvalidJump, "InvalidJump"},
		{ErrInvalidOpcode, InvalidOpcode, "InvalidOpcode"},
		{ErrWriteProtection, WriteProtection, "WriteProtection"},
		{ErrReturnDataOutOfBounds, ReturnDataOutOfBounds, "ReturnDataOutOfBounds"},
		{ErrCodeStoreOutOfGas, CodeStoreOutOfGas, "CodeStoreOutOfGas"},
		{ErrMaxCodeSizeExceeded, MaxCodeSizeExceeded, "MaxCodeSizeExceeded"},
		{ErrInvalidCode, InvalidCode, "InvalidCode"},
		{ErrContractAddressCollision, CreateCollision, "CreateCollision"},
		{ErrInsufficientBalance, InsufficientBalance, "InsufficientBalance"},
		{ErrNonceOverflow, NonceOverflow, "NonceOverflow"},
		{ErrPrecompileFailed, PrecompileFailure, "PrecompileFailure"},
	}

	fatalKinds = []struct {
		err  error
		kind FatalKind
		name string
	}{
		{ErrCallDepthExceeded, CallDepthExceeded, "CallDepthExceeded"},
		{ErrStateCorrupted, StateCorrupted, "StateCorrupted"},
	}
)

// ExitReason is the tagged result of one execution frame
type ExitReason struct {
	class ExitClass
	kind  uint8
}

func ExitSucceed(kind SucceedKind) ExitReason { return ExitReason{ClassSucceed, uint8(kind)} }
func ExitRevert() ExitReason                 { return ExitReason{class: ClassRevert} }
func ExitError(kind ErrorKind) ExitReason     { return ExitReason{ClassError, uint8(kind)} }
func ExitFatal(kind FatalKind) ExitReason     { return ExitReason{ClassFatal, uint8(kind)} }

func (r ExitReason) Class() ExitClass { return r.class }
func (r ExitReason) IsSucceed() bool  { return r.class == ClassSucceed }
func (r ExitReason) IsRevert() bool   { return r.class == ClassRevert }
func (r ExitReason) IsError() bool    { return r.class == ClassError }
func (r ExitReason) IsFatal() bool    { return r.class == ClassFatal }

// SucceedKind is only meaningful for ClassSucceed
func (r ExitReason) SucceedKind() SucceedKind { return SucceedKind(r.kind) }

// ErrorKind is only meaningful for ClassError
func (r ExitReason) ErrorKind() ErrorKind { return ErrorKind(r.kind) }

// FatalKind is only meaningful for ClassFatal
func (r ExitReason) FatalKind() FatalKind { return FatalKind(r.kind) }

// Err maps the reason back to its sentinel error, nil on success
func (r ExitReason) Err() error {
	switch r.class {
	case ClassRevert:
		return ErrExecutionReverted
	case ClassError:
		for _, e := range errorKinds {
			if e.kind == r.ErrorKind() {
				return e.err
			}
		}
	case ClassFatal:
		for _, e := range fatalKinds {
			if e.kind == r.FatalKind() {
				return e.err
			}
		}
	}
	return nil
}

func (r ExitReason) String() string {
	switch r.class {
	case ClassSucceed:
		if int(r.kind) < len(succeedNames) {
			return "Succeed(" + succeedNames[r.kind] + ")"
		}
	case ClassRevert:
		return "Revert"
	case ClassError:
		for _, e := range errorKinds {
			if e.kind == r.ErrorKind() {
				return "Error(" + e.name + ")"
			}
		}
	case ClassFatal:
		for _, e := range fatalKinds {
			if e.kind == r.FatalKind() {
				return "Fatal(" + e.name + ")"
			}
		}
	}
	return fmt.Sprintf("ExitReason(%d,%d)", r.class, r.kind)
}

// IsFatalError reports whether err must abort the top-level call
func IsFatalError(err error) bool {
	for _, e := range fatalKinds {
		if errors.Is(err, e.err) {
			return true
		}
	}
	return false
}

// classify turns the error returned by a frame into an exit reason. Unknown errors are
// engine bugs and are treated as fatal.
func classify(err error, succeed SucceedKind) ExitReason {
	if err == nil {
		return ExitSucceed(succeed)
	}
	if errors.Is(err, ErrExecutionReverted) {
		return ExitRevert()
	}
	for _, e := range fatalKinds {
		if errors.Is(err, e.err) {
			return ExitFatal(e.kind)
		}
	}
	if errors.Is(err, ErrGasUintOverflow) {
		return ExitError(OutOfGas)
	}
	for _, e := range errorKinds {
		if errors.Is(err, e.err) {
			return ExitError(e.kind)
		}
	}
	return ExitFatal(StateCorrupted)
}

// Outcome is what a frame hands back to its caller
type Outcome struct {
	Reason  ExitReason
	Output  []byte
	GasLeft uint64
}
