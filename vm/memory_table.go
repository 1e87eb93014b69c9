package vm

import "github.com/holiman/uint256"

// calcMemSize64 returns off+l, reporting overflow. A zero length needs no memory.
func calcMemSize64(off, l *uint256.Int) (uint64, bool) {
	if !l.IsUint64() {
		return 0, true
	}
	return calcMemSize64WithUint(off, l.Uint64())
}

func calcMemSize64WithUint(off *uint256.Int, length64 uint64) (uint64, bool) {
	if length64 == 0 {
		return 0, false
	}
	offset64, overflow := off.Uint64WithOverflow()
	if overflow {
		return 0, true
	}
	val := offset64 + length64
	return val, val < offset64
}

func memoryKeccak256(stack *Stack) (uint64, bool) {
	return calcMemSize64(stack.back(0), stack.back(1))
}

func memoryCallDataCopy(stack *Stack) (uint64, bool) {
	return calcMemSize64(stack.back(0), stack.back(2))
}

func memoryReturnDataCopy(stack *Stack) (uint64, bool) {
	return calcMemSize64(stack.back(0), stack.back(2))
}

func memoryCodeCopy(stack *Stack) (uint64, bool) {
	return calcMemSize64(stack.back(0), stack.back(2))
}

func memoryExtCodeCopy(stack *Stack) (uint64, bool) {
	return calcMemSize64(stack.back(1), stack.back(3))
}

func memoryMLoad(stack *Stack) (uint64, bool) {
	return calcMemSize64WithUint(stack.back(0), 32)
}

func memoryMStore8(stack *Stack) (uint64, bool) {
	return calcMemSize64WithUint(stack.back(0), 1)
}

func memoryMStore(stack *Stack) (uint64, bool) {
	return calcMemSize64WithUint(stack.back(0), 32)
}

func memoryCreate(stack *Stack) (uint64, bool) {
	return calcMemSize64(stack.back(1), stack.back(2))
}

func memoryCreate2(stack *Stack) (uint64, bool) {
	return calcMemSize64(stack.back(1), stack.back(2))
}

func memoryCall(stack *Stack) (uint64, bool) {
	x, overflow := calcMemSize64(stack.back(5), stack.back(6))
	if overflow {
		return 0, true
	}
	y, overflow := calcMemSize64(stack.back(3), stack.back(4))
	if overflow {
		return 0, true
	}
	if x > y {
		return x, false
	}
	return y, false
}

func memoryDelegateCall(stack *Stack) (uint64, bool) {
	x, overflow := calcMemSize64(stack.back(4), stack.back(5))
	if overflow {
		return 0, true
	}
	y, overflow := calcMemSize64(stack.back(2), stack.back(3))
	if overflow {
		return 0, true
	}
	if x > y {
		return x, false
	}
	return y, false
}

func memoryStaticCall(stack *Stack) (uint64, bool) {
	return memoryDelegateCall(stack)
}

func memoryReturn(stack *Stack) (uint64, bool) {
	return calcMemSize64(stack.back(0), stack.back(1))
}

func memoryRevert(stack *Stack) (uint64, bool) {
	return calcMemSize64(stack.back(0), stack.back(1))
}

func memoryLog(stack *Stack) (uint64, bool) {
	return calcMemSize64(stack.back(0), stack.back(1))
}
