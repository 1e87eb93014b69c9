package db

// DB defines the interface for database operations
type DB interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	Write(batch *Batch) error
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// NewLevelDBs initializes the state and receipt databases
func NewLevelDBs(statePath, receiptPath string) (DB, DB, error) {
	stateDB, err := NewLevelDB(statePath)
	if err != nil {
		return nil, nil, err
	}
	receiptDB, err := NewLevelDB(receiptPath)
	if err != nil {
		stateDB.Close()
		return nil, nil, err
	}
	return stateDB, receiptDB, nil
}
