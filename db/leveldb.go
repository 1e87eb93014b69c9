package db

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB wraps a LevelDB instance
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates a new LevelDB instance
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{ErrorIfMissing: false})
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// NewMemLevelDB creates a LevelDB instance backed by memory, used by tests and dry runs
func NewMemLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put stores a key-value pair in the database
func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

// Get retrieves a value by key from the database
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	data, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	return data, err
}

// Delete removes a key from the database
func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

// Write applies a batch atomically
func (l *LevelDB) Write(batch *Batch) error {
	if batch == nil || batch.b.Len() == 0 {
		return nil
	}
	return l.db.Write(batch.b, &opt.WriteOptions{Sync: batch.sync})
}

// Iterate calls fn for every key with the given prefix in key order
func (l *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Close shuts down the database connection
func (l *LevelDB) Close() error {
	return l.db.Close()
}

// Batch collects writes that are applied atomically
type Batch struct {
	b    *leveldb.Batch
	sync bool
}

// NewBatch creates an empty batch. Synced batches are fsynced on write.
func NewBatch(sync bool) *Batch {
	return &Batch{b: new(leveldb.Batch), sync: sync}
}

// Put queues a key-value pair
func (b *Batch) Put(key, value []byte) {
	b.b.Put(key, value)
}

// Delete queues a key removal
func (b *Batch) Delete(key []byte) {
	b.b.Delete(key)
}

// Len returns the number of queued operations
func (b *Batch) Len() int {
	return b.b.Len()
}
