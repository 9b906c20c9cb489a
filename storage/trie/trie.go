package trie

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/trie/trienode"
	"github.com/ethereum/go-ethereum/triedb"

	"pharmaclear/storage"
)

// ErrEmptyProof is returned when verifying a proof with no nodes.
var ErrEmptyProof = errors.New("trie: empty proof")

// Trie is the state trie every engine writes through. It remembers the last
// committed root so a failed runtime call can be undone with Reset(Root()).
//
// Keys are hashed by core/state before they arrive here. Not safe for
// concurrent use; the runtime serializes access.
type Trie struct {
	store  storage.Database
	nodes  *triedb.Database
	active *gethtrie.Trie
	root   common.Hash
}

// NewTrie opens the trie at root. A nil or empty root is the empty trie.
func NewTrie(store storage.Database, root []byte) (*Trie, error) {
	t := &Trie{store: store, nodes: store.TrieDB()}
	rootHash := gethtypes.EmptyRootHash
	if len(root) > 0 {
		rootHash = common.BytesToHash(root)
	}
	if err := t.open(rootHash); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trie) open(root common.Hash) error {
	active, err := gethtrie.New(gethtrie.TrieID(root), t.nodes)
	if err != nil {
		return err
	}
	t.active = active
	t.root = root
	return nil
}

func (t *Trie) Get(key []byte) ([]byte, error) { return t.active.Get(key) }

func (t *Trie) Update(key, value []byte) error { return t.active.Update(key, value) }

func (t *Trie) Delete(key []byte) error { return t.active.Delete(key) }

// Hash is the root including uncommitted writes.
func (t *Trie) Hash() common.Hash { return t.active.Hash() }

// Root is the last committed root.
func (t *Trie) Root() common.Hash { return t.root }

// Store exposes the backing database, used for the head-root pointer.
func (t *Trie) Store() storage.Database { return t.store }

// Reset drops uncommitted writes and reopens the trie at root.
func (t *Trie) Reset(root common.Hash) error { return t.open(root) }

// Commit writes dirty nodes under round and returns the new root. A call that
// changed nothing returns the current root without touching the node database.
func (t *Trie) Commit(parent common.Hash, round uint64) (common.Hash, error) {
	newRoot, dirty := t.active.Commit(false)
	if dirty != nil && newRoot != parent {
		merged := trienode.NewMergedNodeSet()
		if err := merged.Merge(dirty); err != nil {
			return common.Hash{}, err
		}
		if err := t.nodes.Update(newRoot, parent, round, merged, nil); err != nil {
			return common.Hash{}, err
		}
		if err := t.nodes.Commit(newRoot, false); err != nil {
			return common.Hash{}, err
		}
	}
	if err := t.open(newRoot); err != nil {
		return common.Hash{}, err
	}
	return newRoot, nil
}

type proofCollector struct {
	nodes [][]byte
}

func (c *proofCollector) Put(_ []byte, value []byte) error {
	c.nodes = append(c.nodes, common.CopyBytes(value))
	return nil
}

func (c *proofCollector) Delete([]byte) error { return nil }

// Prove returns the trie nodes on the path to key in the committed trie,
// root first. Absent keys yield an exclusion proof.
func (t *Trie) Prove(key []byte) ([][]byte, error) {
	committed, err := gethtrie.New(gethtrie.TrieID(t.root), t.nodes)
	if err != nil {
		return nil, err
	}
	collector := &proofCollector{}
	if err := committed.Prove(key, collector); err != nil {
		return nil, err
	}
	return collector.nodes, nil
}

// VerifyProof checks proof against root and returns the value stored under
// key, or nil when the proof shows the key is absent.
func VerifyProof(root common.Hash, key []byte, proof [][]byte) ([]byte, error) {
	if len(proof) == 0 {
		return nil, ErrEmptyProof
	}
	db := memorydb.New()
	for _, node := range proof {
		if err := db.Put(crypto.Keccak256(node), node); err != nil {
			return nil, err
		}
	}
	return gethtrie.VerifyProof(root, key, db)
}
