package vm

// bitvec marks which bytes of the code are opcodes, as opposed to PUSH data
type bitvec []byte

func (b bitvec) set(pos uint64) {
	b[pos/8] |= 0x80 >> (pos % 8)
}

func (b bitvec) codeSegment(pos uint64) bool {
	return b[pos/8]&(0x80>>(pos%8)) == 0
}

// codeBitmap flags every byte that belongs to PUSH immediate data
func codeBitmap(code []byte) bitvec {
	// extra bytes so a trailing PUSH32 never indexes out of range
	bits := make(bitvec, len(code)/8+1+4)
	for pc := uint64(0); pc < uint64(len(code)); {
		op := OpCode(code[pc])
		pc++
		if op >= PUSH1 && op <= PUSH32 {
			n := uint64(op - PUSH1 + 1)
			for i := uint64(0); i < n; i++ {
				bits.set(pc + i)
			}
			pc += n
		}
	}
	return bits
}
