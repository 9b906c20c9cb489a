package crypto

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAddressBech32RoundTrip(t *testing.T) {
	var raw [20]byte
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	encoded := FromRaw(raw).String()
	if !strings.HasPrefix(encoded, "phc1") {
		t.Fatalf("unexpected prefix: %s", encoded)
	}
	parsed, err := ParseAddress(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != raw {
		t.Fatalf("round trip mismatch: %x != %x", parsed, raw)
	}
}

func TestParseAddressHex(t *testing.T) {
	parsed, err := ParseAddress("0x00000000000000000000000000000000000000ff")
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if parsed[19] != 0xff {
		t.Fatalf("unexpected decode: %x", parsed)
	}
	if _, err := ParseAddress("0x1234"); err == nil {
		t.Fatalf("expected short hex to fail")
	}
	if _, err := ParseAddress("  "); err == nil {
		t.Fatalf("expected empty address to fail")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "operator.keystore")
	if err := SaveToKeystoreWithStrength(path, key, "secret", KeystoreLight); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PubKey().Address().String() != key.PubKey().Address().String() {
		t.Fatalf("address mismatch after reload")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
	info, err := os.Stat(path)
	if err != nil || info.Mode().Perm() != 0o600 {
		t.Fatalf("keystore must be private, got %v err=%v", info.Mode(), err)
	}
}

func TestKeystoreRejectsTamperedAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "operator.keystore")
	if err := SaveToKeystoreWithStrength(path, key, "secret", KeystoreLight); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	doc["address"] = "00000000000000000000000000000000000000aa"
	tampered, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(path, tampered, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFromKeystore(path, "secret"); !errors.Is(err, ErrKeystoreAddressMismatch) {
		t.Fatalf("expected address mismatch, got %v", err)
	}
}
