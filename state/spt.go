package state

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/sha3"
)

// SPTNode represents a node in the sparse prefix tree
type SPTNode struct {
	Hash     []byte
	Children map[byte]*SPTNode
	Value    []byte
	IsLeaf   bool
}

// NewSPTNode creates a new SPT node
func NewSPTNode() *SPTNode {
	return &SPTNode{
		Children: make(map[byte]*SPTNode),
	}
}

// SPT is a 256-ary prefix tree keyed by raw bytes. Hashes are computed lazily by Root.
type SPT struct {
	Root  *SPTNode
	dirty bool
}

// NewSPT creates a new empty tree
func NewSPT() *SPT {
	return &SPT{
		Root:  NewSPTNode(),
		dirty: true,
	}
}

func keccak(data ...[]byte) []byte {
	hash := sha3.NewLegacyKeccak256()
	for _, d := range data {
		hash.Write(d)
	}
	return hash.Sum(nil)
}

// hash commits to the present children in index order
func (n *SPTNode) hash() []byte {
	if n.IsLeaf {
		return keccak(n.Value)
	}

	idx := make([]int, 0, len(n.Children))
	for b := range n.Children {
		idx = append(idx, int(b))
	}
	sort.Ints(idx)

	buf := make([]byte, 0, len(idx)*(1+common.HashLength))
	for _, i := range idx {
		buf = append(buf, byte(i))
		buf = append(buf, n.Children[byte(i)].Hash...)
	}
	return keccak(buf)
}

// Insert inserts a key-value pair into the tree
func (t *SPT) Insert(key []byte, value []byte) {
	current := t.Root
	for _, b := range key {
		if _, exists := current.Children[b]; !exists {
			current.Children[b] = NewSPTNode()
		}
		current = current.Children[b]
	}
	current.IsLeaf = true
	current.Value = value
	t.dirty = true
}

// Get retrieves a value from the tree
func (t *SPT) Get(key []byte) ([]byte, bool) {
	current := t.Root
	for _, b := range key {
		child, exists := current.Children[b]
		if !exists {
			return nil, false
		}
		current = child
	}
	if current.IsLeaf {
		return current.Value, true
	}
	return nil, false
}

func (t *SPT) updateNodeHash(node *SPTNode) {
	for _, child := range node.Children {
		t.updateNodeHash(child)
	}
	node.Hash = node.hash()
}

// RootHash returns the root hash, recomputing node hashes after inserts
func (t *SPT) RootHash() common.Hash {
	if t.dirty {
		t.updateNodeHash(t.Root)
		t.dirty = false
	}
	return common.BytesToHash(t.Root.Hash)
}

type rootAccount struct {
	Nonce       uint64
	Balance     *big.Int
	CodeHash    common.Hash
	StorageRoot common.Hash
}

// StorageRoot hashes the committed storage of one account
func StorageRoot(l *Ledger, addr common.Address) common.Hash {
	spt := NewSPT()
	for slot, value := range l.storage[addr] {
		spt.Insert(slot.Bytes(), value.Bytes())
	}
	return spt.RootHash()
}

// StateRoot commits to every account and its storage. Equal ledgers give equal roots.
func StateRoot(l *Ledger) common.Hash {
	spt := NewSPT()
	for _, addr := range l.Addresses() {
		acc := l.accounts[addr]
		value, err := rlp.EncodeToBytes(&rootAccount{
			Nonce:       acc.Nonce,
			Balance:     acc.Balance.ToBig(),
			CodeHash:    acc.CodeHash(),
			StorageRoot: StorageRoot(l, addr),
		})
		if err != nil {
			// every field has a fixed RLP encoding
			panic(err)
		}
		spt.Insert(addr.Bytes(), value)
	}
	return spt.RootHash()
}
