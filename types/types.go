package types

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// EmptyCodeHash is the keccak256 hash of empty code
var EmptyCodeHash = crypto.Keccak256Hash(nil)

// Account represents a ledger account. Storage is held by the state layer.
type Account struct {
	Nonce   uint64
	Balance *uint256.Int
	Code    []byte
}

// NewAccount returns a zero-valued account
func NewAccount() *Account {
	return &Account{Balance: new(uint256.Int)}
}

// Copy returns a deep copy of the account
func (a *Account) Copy() *Account {
	cpy := &Account{
		Nonce:   a.Nonce,
		Balance: new(uint256.Int),
	}
	if a.Balance != nil {
		cpy.Balance.Set(a.Balance)
	}
	if len(a.Code) > 0 {
		cpy.Code = common.CopyBytes(a.Code)
	}
	return cpy
}

// IsEmpty reports whether the account has zero nonce, zero balance and no code
func (a *Account) IsEmpty() bool {
	return a.Nonce == 0 && (a.Balance == nil || a.Balance.IsZero()) && len(a.Code) == 0
}

// CodeHash returns the keccak256 hash of the account code
func (a *Account) CodeHash() common.Hash {
	if len(a.Code) == 0 {
		return EmptyCodeHash
	}
	return crypto.Keccak256Hash(a.Code)
}

// Equal compares two accounts field by field
func (a *Account) Equal(b *Account) bool {
	return a.Nonce == b.Nonce && a.Balance.Eq(b.Balance) && bytes.Equal(a.Code, b.Code)
}

// GenesisAccount is one entry applied to the ledger at initialization
type GenesisAccount struct {
	Address common.Address
	Balance *uint256.Int
	Nonce   uint64
	Code    []byte
	Storage map[common.Hash]common.Hash
}

// WordToHash encodes a 256-bit word as a big-endian 32-byte hash
func WordToHash(w *uint256.Int) common.Hash {
	return common.Hash(w.Bytes32())
}

// HashToWord decodes a 32-byte big-endian hash into a word
func HashToWord(h common.Hash) *uint256.Int {
	return new(uint256.Int).SetBytes32(h[:])
}

// WordToAddress keeps the low 160 bits of a word
func WordToAddress(w *uint256.Int) common.Address {
	return common.Address(w.Bytes20())
}

// AddressToWord zero-extends an address into a word
func AddressToWord(addr common.Address) *uint256.Int {
	return new(uint256.Int).SetBytes20(addr[:])
}
