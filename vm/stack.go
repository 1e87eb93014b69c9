package vm

import "github.com/holiman/uint256"

// Stack is the operand stack of one frame
type Stack struct {
	data []uint256.Int
}

func newStack() *Stack {
	return &Stack{data: make([]uint256.Int, 0, 16)}
}

func (st *Stack) push(v *uint256.Int) {
	st.data = append(st.data, *v)
}

func (st *Stack) pop() uint256.Int {
	v := st.data[len(st.data)-1]
	st.data = st.data[:len(st.data)-1]
	return v
}

// peek returns the top item in place
func (st *Stack) peek() *uint256.Int {
	return &st.data[len(st.data)-1]
}

// back returns the n'th item from the top, 0 being the top
func (st *Stack) back(n int) *uint256.Int {
	return &st.data[len(st.data)-n-1]
}

func (st *Stack) swap(n int) {
	top := len(st.data) - 1
	st.data[top], st.data[top-n] = st.data[top-n], st.data[top]
}

func (st *Stack) dup(n int) {
	st.data = append(st.data, st.data[len(st.data)-n])
}

func (st *Stack) len() int {
	return len(st.data)
}
