package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// CreateAddress derives the address of a contract created by caller at the given nonce:
// the low 160 bits of keccak256(rlp([caller, nonce])).
func CreateAddress(caller common.Address, nonce uint64) common.Address {
	data, _ := rlp.EncodeToBytes([]interface{}{caller, nonce})
	return common.BytesToAddress(crypto.Keccak256(data)[12:])
}

// CreateAddress2 derives a CREATE2 address from caller, salt and the init code hash
func CreateAddress2(caller common.Address, salt [32]byte, initCodeHash []byte) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte{0xff}, caller.Bytes(), salt[:], initCodeHash)[12:])
}
