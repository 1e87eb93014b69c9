package vm

import (
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// Memory is the byte-addressed scratch space of a frame. It only grows, in 32-byte words.
type Memory struct {
	store       []byte
	lastGasCost uint64
}

func newMemory() *Memory {
	return &Memory{}
}

// Set copies value into memory. The region must have been resized already.
func (m *Memory) Set(offset, size uint64, value []byte) {
	if size == 0 {
		return
	}
	copy(m.store[offset:offset+size], value)
}

// Set32 writes val as a 32-byte big-endian word at offset
func (m *Memory) Set32(offset uint64, val *uint256.Int) {
	b := val.Bytes32()
	copy(m.store[offset:offset+32], b[:])
}

// Resize grows memory to size bytes
func (m *Memory) Resize(size uint64) {
	if uint64(len(m.store)) < size {
		m.store = append(m.store, make([]byte, size-uint64(len(m.store)))...)
	}
}

// GetCopy returns a copy of a memory region
func (m *Memory) GetCopy(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	cpy := make([]byte, size)
	copy(cpy, m.store[offset:offset+size])
	return cpy
}

// GetPtr returns a slice into memory, valid until the next resize
func (m *Memory) GetPtr(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	return m.store[offset : offset+size]
}

func (m *Memory) Len() int {
	return len(m.store)
}

func (m *Memory) Data() []byte {
	return m.store
}

// maxMemorySize keeps the quadratic cost computation inside uint64
const maxMemorySize = 0x1FFFFFFFE0

// memoryGasCost returns the extra gas needed to grow memory to newSize bytes:
// words*3 + words*words/512, minus what was already paid.
func memoryGasCost(mem *Memory, newSize uint64) (uint64, error) {
	if newSize == 0 {
		return 0, nil
	}
	if newSize > maxMemorySize {
		return 0, ErrGasUintOverflow
	}
	words := toWordSize(newSize)
	newSize = words * 32

	if newSize > uint64(mem.Len()) {
		square := words * words
		linCoef := words * params.MemoryGas
		quadCoef := square / params.QuadCoeffDiv
		newTotalFee := linCoef + quadCoef

		fee := newTotalFee - mem.lastGasCost
		mem.lastGasCost = newTotalFee
		return fee, nil
	}
	return 0, nil
}

// toWordSize rounds a byte count up to 32-byte words
func toWordSize(size uint64) uint64 {
	if size > ^uint64(0)-31 {
		return ^uint64(0)/32 + 1
	}
	return (size + 31) / 32
}
