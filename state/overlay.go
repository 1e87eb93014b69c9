package state

import (
	"github.com/airchains-network/evm-ledger/types"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// backend is what an overlay reads through to and commits into
type backend interface {
	account(addr common.Address) (*types.Account, bool)
	slot(addr common.Address, key common.Hash) common.Hash
	absorb(o *Overlay) error
}

// Overlay is a private layer of uncommitted account mutations. Reads fall through to the
// parent; writes stay local until Commit merges them into the parent. Discard drops them,
// together with everything children have already committed into this layer.
type Overlay struct {
	parent   backend
	accounts map[common.Address]*types.Account
	storage  map[common.Address]map[common.Hash]common.Hash
	// deleted accounts had their state and storage wiped in this layer
	deleted map[common.Address]struct{}
	logs    []*ethtypes.Log
	closed  bool
}

func newOverlay(parent backend) *Overlay {
	return &Overlay{
		parent:   parent,
		accounts: make(map[common.Address]*types.Account),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		deleted:  make(map[common.Address]struct{}),
	}
}

// Child opens a nested overlay on top of this one
func (o *Overlay) Child() *Overlay {
	return newOverlay(o)
}

// Commit merges the overlay into its parent. The overlay is closed afterwards.
func (o *Overlay) Commit() error {
	if o.closed {
		return ErrOverlayClosed
	}
	if err := o.parent.absorb(o); err != nil {
		return err
	}
	o.closed = true
	return nil
}

// Discard drops every mutation held by the overlay
func (o *Overlay) Discard() {
	o.accounts = nil
	o.storage = nil
	o.deleted = nil
	o.logs = nil
	o.closed = true
}

// Closed reports whether the overlay was committed or discarded
func (o *Overlay) Closed() bool {
	return o.closed
}

func (o *Overlay) account(addr common.Address) (*types.Account, bool) {
	if acc, ok := o.accounts[addr]; ok {
		return acc, true
	}
	if _, ok := o.deleted[addr]; ok {
		return nil, false
	}
	return o.parent.account(addr)
}

func (o *Overlay) slot(addr common.Address, key common.Hash) common.Hash {
	if slots, ok := o.storage[addr]; ok {
		if v, ok := slots[key]; ok {
			return v
		}
	}
	if _, ok := o.deleted[addr]; ok {
		return common.Hash{}
	}
	return o.parent.slot(addr, key)
}

func (o *Overlay) absorb(child *Overlay) error {
	if o.closed {
		return ErrOverlayClosed
	}
	for addr := range child.deleted {
		o.wipe(addr)
	}
	for addr, acc := range child.accounts {
		o.accounts[addr] = acc
	}
	for addr, slots := range child.storage {
		dst := o.storage[addr]
		if dst == nil {
			dst = make(map[common.Hash]common.Hash, len(slots))
			o.storage[addr] = dst
		}
		for k, v := range slots {
			dst[k] = v
		}
	}
	o.logs = append(o.logs, child.logs...)
	return nil
}

func (o *Overlay) wipe(addr common.Address) {
	delete(o.accounts, addr)
	delete(o.storage, addr)
	o.deleted[addr] = struct{}{}
}

// mutable returns the local copy of an account, copying it up from the parent on first write
func (o *Overlay) mutable(addr common.Address) *types.Account {
	if acc, ok := o.accounts[addr]; ok {
		return acc
	}
	var acc *types.Account
	if parent, ok := o.account(addr); ok {
		acc = parent.Copy()
	} else {
		acc = types.NewAccount()
	}
	o.accounts[addr] = acc
	return acc
}

// Account returns a copy of the account as seen by this overlay, zero-valued if absent
func (o *Overlay) Account(addr common.Address) *types.Account {
	if acc, ok := o.account(addr); ok {
		return acc.Copy()
	}
	return types.NewAccount()
}

// Exist reports whether the account is present
func (o *Overlay) Exist(addr common.Address) bool {
	_, ok := o.account(addr)
	return ok
}

// Empty reports whether the account is absent or has no nonce, balance and code
func (o *Overlay) Empty(addr common.Address) bool {
	acc, ok := o.account(addr)
	return !ok || acc.IsEmpty()
}

func (o *Overlay) Balance(addr common.Address) *uint256.Int {
	if acc, ok := o.account(addr); ok {
		return new(uint256.Int).Set(acc.Balance)
	}
	return new(uint256.Int)
}

func (o *Overlay) Nonce(addr common.Address) uint64 {
	if acc, ok := o.account(addr); ok {
		return acc.Nonce
	}
	return 0
}

// Code returns the account code. The slice must not be modified.
func (o *Overlay) Code(addr common.Address) []byte {
	if acc, ok := o.account(addr); ok {
		return acc.Code
	}
	return nil
}

func (o *Overlay) CodeSize(addr common.Address) int {
	return len(o.Code(addr))
}

// CodeHash returns the code hash, or the zero hash for absent accounts
func (o *Overlay) CodeHash(addr common.Address) common.Hash {
	acc, ok := o.account(addr)
	if !ok {
		return common.Hash{}
	}
	return acc.CodeHash()
}

func (o *Overlay) SetBalance(addr common.Address, amount *uint256.Int) {
	o.mutable(addr).Balance.Set(amount)
}

func (o *Overlay) AddBalance(addr common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	acc := o.mutable(addr)
	acc.Balance.Add(acc.Balance, amount)
}

// SubBalance debits the account, failing without any change when the balance is short
func (o *Overlay) SubBalance(addr common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if o.Balance(addr).Lt(amount) {
		return ErrInsufficientBalance
	}
	acc := o.mutable(addr)
	acc.Balance.Sub(acc.Balance, amount)
	return nil
}

// Transfer moves amount from one account to another
func (o *Overlay) Transfer(from, to common.Address, amount *uint256.Int) error {
	if err := o.SubBalance(from, amount); err != nil {
		return err
	}
	o.AddBalance(to, amount)
	return nil
}

func (o *Overlay) SetNonce(addr common.Address, nonce uint64) {
	o.mutable(addr).Nonce = nonce
}

// IncrementNonce bumps the nonce and returns the value it had before
func (o *Overlay) IncrementNonce(addr common.Address) uint64 {
	acc := o.mutable(addr)
	prev := acc.Nonce
	acc.Nonce++
	return prev
}

// SetCode installs code on an account. Code can be written once.
func (o *Overlay) SetCode(addr common.Address, code []byte) error {
	if len(o.Code(addr)) > 0 {
		return ErrCodeAlreadySet
	}
	o.mutable(addr).Code = common.CopyBytes(code)
	return nil
}

// Storage returns the value of a slot, zero if unset
func (o *Overlay) Storage(addr common.Address, key common.Hash) common.Hash {
	return o.slot(addr, key)
}

func (o *Overlay) SetStorage(addr common.Address, key, value common.Hash) {
	slots := o.storage[addr]
	if slots == nil {
		slots = make(map[common.Hash]common.Hash)
		o.storage[addr] = slots
	}
	slots[key] = value
	// a storage write on an account that does not exist yet brings it into existence
	o.mutable(addr)
}

// SelfDestruct removes the account and its storage. The balance goes with it, so callers
// move it to the beneficiary first.
func (o *Overlay) SelfDestruct(addr common.Address) {
	o.wipe(addr)
}

func (o *Overlay) AddLog(log *ethtypes.Log) {
	o.logs = append(o.logs, log)
}

// Logs returns the logs recorded in this overlay, including committed children
func (o *Overlay) Logs() []*ethtypes.Log {
	return o.logs
}
