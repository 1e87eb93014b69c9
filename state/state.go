package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/airchains-network/evm-ledger/db"
	"github.com/airchains-network/evm-ledger/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

const (
	accountPrefix = "account:"
	storagePrefix = "storage:"
	genesisKey    = "genesis"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrCodeAlreadySet      = errors.New("code already set")
	ErrOverlayClosed       = errors.New("overlay already committed or discarded")
	ErrGenesisApplied      = errors.New("genesis already applied")
)

// storedAccount is the RLP layout of an account record
type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
	Code    []byte
}

// Ledger is the durable account store. The committed state is kept in memory and every
// commit is mirrored into the database with one atomic batch. A Ledger is not safe for
// concurrent use; callers serialize access to it.
type Ledger struct {
	db             db.DB
	accounts       map[common.Address]*types.Account
	storage        map[common.Address]map[common.Hash]common.Hash
	genesisApplied bool
	log            *logrus.Logger
}

// Open loads the ledger stored in database
func Open(database db.DB, log *logrus.Logger) (*Ledger, error) {
	l := &Ledger{
		db:       database,
		accounts: make(map[common.Address]*types.Account),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		log:      log,
	}

	marker, err := database.Get([]byte(genesisKey))
	if err != nil {
		return nil, fmt.Errorf("failed to read genesis marker: %w", err)
	}
	l.genesisApplied = marker != nil

	err = database.Iterate([]byte(accountPrefix), func(key, value []byte) error {
		if len(key) != len(accountPrefix)+common.AddressLength {
			return fmt.Errorf("malformed account key %x", key)
		}
		var stored storedAccount
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			return fmt.Errorf("failed to decode account %x: %w", key[len(accountPrefix):], err)
		}
		balance, overflow := uint256.FromBig(stored.Balance)
		if overflow {
			return fmt.Errorf("balance overflow for account %x", key[len(accountPrefix):])
		}
		l.accounts[common.BytesToAddress(key[len(accountPrefix):])] = &types.Account{
			Nonce:   stored.Nonce,
			Balance: balance,
			Code:    common.CopyBytes(stored.Code),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	err = database.Iterate([]byte(storagePrefix), func(key, value []byte) error {
		if len(key) != len(storagePrefix)+common.AddressLength+common.HashLength {
			return fmt.Errorf("malformed storage key %x", key)
		}
		rest := key[len(storagePrefix):]
		addr := common.BytesToAddress(rest[:common.AddressLength])
		slot := common.BytesToHash(rest[common.AddressLength:])
		if l.storage[addr] == nil {
			l.storage[addr] = make(map[common.Hash]common.Hash)
		}
		l.storage[addr][slot] = common.BytesToHash(value)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load storage: %w", err)
	}

	if log != nil {
		log.Debugf("Loaded ledger with %d accounts", len(l.accounts))
	}
	return l, nil
}

// Overlay opens a root overlay whose commit writes into the ledger
func (l *Ledger) Overlay() *Overlay {
	return newOverlay(l)
}

// Account returns a copy of the committed account, zero-valued if absent
func (l *Ledger) Account(addr common.Address) *types.Account {
	if acc, ok := l.accounts[addr]; ok {
		return acc.Copy()
	}
	return types.NewAccount()
}

// Storage returns the committed value of a storage slot
func (l *Ledger) Storage(addr common.Address, key common.Hash) common.Hash {
	return l.storage[addr][key]
}

// StorageOf returns a copy of all committed storage slots of an account
func (l *Ledger) StorageOf(addr common.Address) map[common.Hash]common.Hash {
	out := make(map[common.Hash]common.Hash, len(l.storage[addr]))
	for k, v := range l.storage[addr] {
		out[k] = v
	}
	return out
}

// Addresses returns all account addresses in ascending byte order
func (l *Ledger) Addresses() []common.Address {
	addrs := make([]common.Address, 0, len(l.accounts))
	for addr := range l.accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
	return addrs
}

// TotalBalance sums all account balances
func (l *Ledger) TotalBalance() *uint256.Int {
	total := new(uint256.Int)
	for _, acc := range l.accounts {
		total.Add(total, acc.Balance)
	}
	return total
}

// GenesisApplied reports whether genesis has been written to this ledger
func (l *Ledger) GenesisApplied() bool {
	return l.genesisApplied
}

// ApplyGenesis writes the genesis accounts in order. It may succeed only once per ledger.
func (l *Ledger) ApplyGenesis(accounts []types.GenesisAccount) error {
	if l.genesisApplied {
		return ErrGenesisApplied
	}

	ov := l.Overlay()
	for _, ga := range accounts {
		if ga.Balance != nil {
			ov.SetBalance(ga.Address, ga.Balance)
		}
		ov.SetNonce(ga.Address, ga.Nonce)
		if len(ga.Code) > 0 {
			if err := ov.SetCode(ga.Address, ga.Code); err != nil {
				ov.Discard()
				return fmt.Errorf("failed to set genesis code for %s: %w", ga.Address.Hex(), err)
			}
		}
		for k, v := range ga.Storage {
			ov.SetStorage(ga.Address, k, v)
		}
	}

	batch := db.NewBatch(true)
	batch.Put([]byte(genesisKey), []byte{1})
	if err := l.write(ov, batch); err != nil {
		return err
	}
	ov.closed = true
	l.genesisApplied = true
	return nil
}

// Close shuts down the underlying database
func (l *Ledger) Close() {
	l.db.Close()
}

func (l *Ledger) account(addr common.Address) (*types.Account, bool) {
	acc, ok := l.accounts[addr]
	return acc, ok
}

func (l *Ledger) slot(addr common.Address, key common.Hash) common.Hash {
	return l.storage[addr][key]
}

func (l *Ledger) absorb(o *Overlay) error {
	return l.write(o, db.NewBatch(false))
}

// write persists the overlay first and only then applies it to the in-memory state, so a
// failed database write leaves the ledger untouched.
func (l *Ledger) write(o *Overlay, batch *db.Batch) error {
	for addr := range o.deleted {
		batch.Delete(accountKey(addr))
		for slot := range l.storage[addr] {
			batch.Delete(storageKey(addr, slot))
		}
	}
	for addr, acc := range o.accounts {
		data, err := rlp.EncodeToBytes(&storedAccount{
			Nonce:   acc.Nonce,
			Balance: acc.Balance.ToBig(),
			Code:    acc.Code,
		})
		if err != nil {
			return fmt.Errorf("failed to encode account %s: %w", addr.Hex(), err)
		}
		batch.Put(accountKey(addr), data)
	}
	for addr, slots := range o.storage {
		for slot, value := range slots {
			if value == (common.Hash{}) {
				batch.Delete(storageKey(addr, slot))
			} else {
				batch.Put(storageKey(addr, slot), value[:])
			}
		}
	}
	if err := l.db.Write(batch); err != nil {
		return fmt.Errorf("failed to write ledger batch: %w", err)
	}

	for addr := range o.deleted {
		delete(l.accounts, addr)
		delete(l.storage, addr)
	}
	for addr, acc := range o.accounts {
		l.accounts[addr] = acc
	}
	for addr, slots := range o.storage {
		for slot, value := range slots {
			if value == (common.Hash{}) {
				delete(l.storage[addr], slot)
				continue
			}
			if l.storage[addr] == nil {
				l.storage[addr] = make(map[common.Hash]common.Hash)
			}
			l.storage[addr][slot] = value
		}
		if len(l.storage[addr]) == 0 {
			delete(l.storage, addr)
		}
	}
	return nil
}

func accountKey(addr common.Address) []byte {
	return append([]byte(accountPrefix), addr[:]...)
}

func storageKey(addr common.Address, slot common.Hash) []byte {
	key := make([]byte, 0, len(storagePrefix)+common.AddressLength+common.HashLength)
	key = append(key, storagePrefix...)
	key = append(key, addr[:]...)
	return append(key, slot[:]...)
}
