package state

import (
	"bytes"
	"errors"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"pharmaclear/storage/trie"
)

var (
	errEmptyKey    = errors.New("kv: key must not be empty")
	errBadListDest = errors.New("kv: destination must be a non-nil pointer to a slice")
)

// Manager is the key/value view of the state trie shared by the engines.
// Each engine owns its key prefix; values are RLP encoded and keys are
// keccak256 hashed before they reach the trie.
type Manager struct {
	trie *trie.Trie
}

func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

// Trie returns the trie the manager writes to.
func (m *Manager) Trie() *trie.Trie {
	return m.trie
}

// HashKey maps an engine key onto its trie path.
func HashKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) raw(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, errEmptyKey
	}
	return m.trie.Get(HashKey(key))
}

func (m *Manager) store(key []byte, value interface{}) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.trie.Update(HashKey(key), encoded)
}

// KVPut stores value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	return m.store(key, value)
}

// KVGet decodes the value under key into out and reports whether it existed.
// A nil out only checks existence.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	data, err := m.raw(key)
	if err != nil || len(data) == 0 {
		return false, err
	}
	if out != nil {
		if err := rlp.DecodeBytes(data, out); err != nil {
			return false, err
		}
	}
	return true, nil
}

// KVDelete removes key. Deleting an absent key is a no-op.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	return m.trie.Delete(HashKey(key))
}

// KVAppend adds value to the byte-slice list under key unless it is already
// present, so batch and index lists stay duplicate free.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	return m.store(key, append(list, common.CopyBytes(value)))
}

// KVGetList decodes the list under key into out, a pointer to a slice.
// Missing keys yield an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	dest := reflect.ValueOf(out)
	if dest.Kind() != reflect.Ptr || dest.IsNil() || dest.Elem().Kind() != reflect.Slice {
		return errBadListDest
	}
	data, err := m.raw(key)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		dest.Elem().Set(reflect.MakeSlice(dest.Elem().Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// Prove returns an inclusion (or exclusion) proof for key against the last
// committed root.
func (m *Manager) Prove(key []byte) (common.Hash, [][]byte, error) {
	if len(key) == 0 {
		return common.Hash{}, nil, errEmptyKey
	}
	proof, err := m.trie.Prove(HashKey(key))
	if err != nil {
		return common.Hash{}, nil, err
	}
	return m.trie.Root(), proof, nil
}

// VerifyKV checks proof for key against root and decodes the proven value
// into out. It reports false when the proof shows the key is absent.
func VerifyKV(root common.Hash, key []byte, proof [][]byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, errEmptyKey
	}
	data, err := trie.VerifyProof(root, HashKey(key), proof)
	if err != nil || len(data) == 0 {
		return false, err
	}
	if out != nil {
		if err := rlp.DecodeBytes(data, out); err != nil {
			return false, err
		}
	}
	return true, nil
}
