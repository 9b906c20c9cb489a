package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	gethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store backing the settlement
// state. Both backends share a single trie database so the state trie and any
// raw key/value reads observe the same data.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	// TrieDB exposes the node database used by storage/trie.
	TrieDB() *triedb.Database
	Close()
}

type kvDatabase struct {
	kv     ethdb.KeyValueStore
	trieDB *triedb.Database
}

func newKVDatabase(kv ethdb.KeyValueStore) kvDatabase {
	disk := rawdb.NewDatabase(kv)
	return kvDatabase{kv: kv, trieDB: triedb.NewDatabase(disk, triedb.HashDefaults)}
}

func (db kvDatabase) Put(key []byte, value []byte) error {
	return db.kv.Put(key, value)
}

func (db kvDatabase) Get(key []byte) ([]byte, error) {
	ok, err := db.kv.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrNotFound, key)
	}
	return db.kv.Get(key)
}

func (db kvDatabase) Has(key []byte) (bool, error) {
	return db.kv.Has(key)
}

func (db kvDatabase) TrieDB() *triedb.Database {
	return db.trieDB
}

// --- In-Memory DB (tests and dry runs) ---

// MemDB is a volatile database used by tests and the CLI dry-run mode.
type MemDB struct {
	kvDatabase
}

func NewMemDB() *MemDB {
	return &MemDB{kvDatabase: newKVDatabase(memorydb.New())}
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	db.trieDB.Close()
}

// --- Persistent DB ---

// LevelDBOptions tunes the persistent backend.
type LevelDBOptions struct {
	CacheMB   int
	Handles   int
	Namespace string
}

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	kvDatabase
	ldb *gethleveldb.Database
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	return NewLevelDBWithOptions(path, LevelDBOptions{})
}

// NewLevelDBWithOptions opens a LevelDB database applying the supplied cache
// and file handle budget.
func NewLevelDBWithOptions(path string, opts LevelDBOptions) (*LevelDB, error) {
	cache := opts.CacheMB
	if cache <= 0 {
		cache = 16
	}
	handles := opts.Handles
	if handles <= 0 {
		handles = 64
	}
	ldb, err := gethleveldb.NewCustom(path, opts.Namespace, func(o *opt.Options) {
		o.OpenFilesCacheCapacity = handles
		o.BlockCacheCapacity = cache / 2 * opt.MiB
		o.WriteBuffer = cache / 4 * opt.MiB
	})
	if err != nil {
		return nil, err
	}
	return &LevelDB{kvDatabase: newKVDatabase(ldb), ldb: ldb}, nil
}

// Close flushes the trie database and closes the underlying LevelDB handle.
func (db *LevelDB) Close() {
	db.trieDB.Close()
	db.ldb.Close()
}
