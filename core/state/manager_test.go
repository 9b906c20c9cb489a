package state

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"pharmaclear/storage"
	"pharmaclear/storage/trie"
)

type storedTotal struct {
	Manufacturer [20]byte
	Amount       *big.Int
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	return NewManager(tr)
}

func TestKVPutGetRoundTrip(t *testing.T) {
	mgr := newTestManager(t)

	var manufacturer [20]byte
	manufacturer[19] = 0x42
	key := []byte("rebate/total/42")
	if err := mgr.KVPut(key, storedTotal{Manufacturer: manufacturer, Amount: big.NewInt(15_000_000)}); err != nil {
		t.Fatalf("put: %v", err)
	}

	var got storedTotal
	ok, err := mgr.KVGet(key, &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("expected key to exist")
	}
	if got.Manufacturer != manufacturer || got.Amount.Cmp(big.NewInt(15_000_000)) != 0 {
		t.Fatalf("unexpected value: %+v", got)
	}

	ok, err = mgr.KVGet([]byte("rebate/total/missing"), &got)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatalf("expected missing key")
	}
}

func TestKVRejectsEmptyKey(t *testing.T) {
	mgr := newTestManager(t)
	if err := mgr.KVPut(nil, uint64(1)); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := mgr.KVGet(nil, nil); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if err := mgr.KVAppend(nil, []byte{1}); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestKVAppendDeduplicates(t *testing.T) {
	mgr := newTestManager(t)
	key := []byte("claims/batch-claims/00002-0777-A1")

	for _, value := range [][]byte{{0x01}, {0x02}, {0x01}} {
		if err := mgr.KVAppend(key, value); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var list [][]byte
	if err := mgr.KVGetList(key, &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}

	var empty [][]byte
	if err := mgr.KVGetList([]byte("claims/batch-claims/none"), &empty); err != nil {
		t.Fatalf("get empty list: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected initialised empty list, got %v", empty)
	}
}

func TestKVDeleteAndRollback(t *testing.T) {
	mgr := newTestManager(t)
	key := []byte("gov/proposal/1")
	if err := mgr.KVPut(key, uint64(7)); err != nil {
		t.Fatalf("put: %v", err)
	}
	root, err := mgr.Trie().Commit(common.Hash{}, 1)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := mgr.KVDelete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := mgr.KVGet(key, nil); ok {
		t.Fatalf("expected key removed")
	}

	if err := mgr.Trie().Reset(root); err != nil {
		t.Fatalf("reset: %v", err)
	}
	var value uint64
	ok, err := mgr.KVGet(key, &value)
	if err != nil || !ok || value != 7 {
		t.Fatalf("expected rollback to restore value, got ok=%v value=%d err=%v", ok, value, err)
	}
}

func TestProveCommittedValue(t *testing.T) {
	mgr := newTestManager(t)
	key := []byte("claims/record/01")
	want := storedTotal{Manufacturer: [20]byte{9}, Amount: big.NewInt(20_000_000)}
	if err := mgr.KVPut(key, &want); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := mgr.Trie().Commit(common.Hash{}, 1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	root, proof, err := mgr.Prove(key)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	var got storedTotal
	ok, err := VerifyKV(root, key, proof, &got)
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}
	if got.Manufacturer != want.Manufacturer || got.Amount.Cmp(want.Amount) != 0 {
		t.Fatalf("unexpected proven value %+v", got)
	}

	absent := []byte("claims/record/02")
	root, proof, err = mgr.Prove(absent)
	if err != nil {
		t.Fatalf("prove absent: %v", err)
	}
	if ok, err := VerifyKV(root, absent, proof, nil); err != nil || ok {
		t.Fatalf("expected exclusion proof, ok=%v err=%v", ok, err)
	}
}
