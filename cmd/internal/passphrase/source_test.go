package passphrase

import (
	"errors"
	"testing"
)

func testSource(env map[string]string, terminal bool, secret string) *Source {
	src := NewSource("TEST_PASS", "operator keystore")
	src.lookupEnv = func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
	src.isTerminal = func() bool { return terminal }
	src.readSecret = func() ([]byte, error) { return []byte(secret), nil }
	return src
}

func TestSourcePrefersEnvironment(t *testing.T) {
	src := testSource(map[string]string{"TEST_PASS": "hunter2"}, true, "prompted")
	got, err := src.Get()
	if err != nil || got != "hunter2" {
		t.Fatalf("expected env passphrase, got %q err=%v", got, err)
	}
}

func TestSourceRejectsBlankValues(t *testing.T) {
	if _, err := testSource(map[string]string{"TEST_PASS": "  "}, true, "x").Get(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected blank env rejection, got %v", err)
	}
	if _, err := testSource(nil, true, " ").Get(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected blank prompt rejection, got %v", err)
	}
}

func TestSourceCachesPromptedValue(t *testing.T) {
	src := testSource(nil, true, "prompted")
	calls := 0
	src.readSecret = func() ([]byte, error) {
		calls++
		return []byte("prompted"), nil
	}
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil || got != "prompted" {
			t.Fatalf("unexpected result %q err=%v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single prompt, got %d", calls)
	}
	if _, err := testSource(nil, false, "").Get(); err == nil {
		t.Fatalf("expected failure without a terminal")
	}
}
