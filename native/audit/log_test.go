package audit

import (
	"encoding/hex"
	"errors"
	"math/big"
	"testing"
	"time"

	"pharmaclear/core/events"
)

func newTestLog() (*Log, *events.Recorder) {
	rec := &events.Recorder{}
	l := NewLog()
	l.SetEmitter(rec)
	l.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return l, rec
}

func TestLogSettlementDigest(t *testing.T) {
	l, rec := newTestLog()
	fp := [32]byte{1}
	pharmacy := [20]byte{2}
	digest, err := l.LogSettlement(fp, pharmacy, big.NewInt(970), big.NewInt(30))
	if err != nil {
		t.Fatalf("log settlement: %v", err)
	}
	expected, err := Digest(&SettlementRecord{
		Fingerprint: fp,
		Pharmacy:    pharmacy,
		Payout:      big.NewInt(970),
		Fee:         big.NewInt(30),
		Total:       big.NewInt(1000),
		Timestamp:   1_700_000_000,
	})
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if digest != expected {
		t.Fatalf("digest mismatch")
	}
	evts := rec.Events()
	if len(evts) != 1 || evts[0].Type != EventTypeSettlement {
		t.Fatalf("unexpected events %+v", evts)
	}
	if evts[0].Attributes["total"] != "1000" || evts[0].Attributes["digest"] != hex.EncodeToString(digest[:]) {
		t.Fatalf("unexpected attributes %+v", evts[0].Attributes)
	}
}

func TestDigestChangesWithPayload(t *testing.T) {
	l, _ := newTestLog()
	a, err := l.LogDispute([32]byte{1}, [20]byte{2}, "overbilled", big.NewInt(10))
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	b, err := l.LogDispute([32]byte{1}, [20]byte{2}, "overbilled", big.NewInt(11))
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if a == b {
		t.Fatalf("digest must cover the amount")
	}
}

func TestRequiredFields(t *testing.T) {
	l, rec := newTestLog()
	cases := []struct {
		name string
		fn   func() error
	}{
		{"entry category", func() error { _, err := l.LogEvent(Entry{Fingerprint: [32]byte{1}}); return err }},
		{"entry fingerprint", func() error { _, err := l.LogEvent(Entry{Category: CategoryCalculation}); return err }},
		{"settlement fingerprint", func() error { _, err := l.LogSettlement([32]byte{}, [20]byte{1}, big.NewInt(1), nil); return err }},
		{"settlement pharmacy", func() error { _, err := l.LogSettlement([32]byte{1}, [20]byte{}, big.NewInt(1), nil); return err }},
		{"dispute reason", func() error { _, err := l.LogDispute([32]byte{1}, [20]byte{1}, " ", nil); return err }},
		{"lock manufacturer", func() error { _, err := l.LogFormularyLock([20]byte{}, "0002", "BIOSIMILAR"); return err }},
		{"milestone type", func() error { _, err := l.LogVolumeMilestone([20]byte{1}, 10, ""); return err }},
		{"recall severity", func() error { _, err := l.LogRecall("0002-B1", "x", 0, 1); return err }},
	}
	for _, tc := range cases {
		if err := tc.fn(); !errors.Is(err, ErrInvalidEventPayload) {
			t.Fatalf("%s: expected invalid payload, got %v", tc.name, err)
		}
	}
	if len(rec.Events()) != 0 {
		t.Fatalf("rejected payloads must not emit")
	}
}

func TestAdvisoryLoggers(t *testing.T) {
	l, rec := newTestLog()
	if _, err := l.LogFormularyLock([20]byte{1}, "", "BIOSIMILAR_EXCLUSION"); err != nil {
		t.Fatalf("formulary lock: %v", err)
	}
	if _, err := l.LogVolumeMilestone([20]byte{1}, 1001, "BONUS_TIER"); err != nil {
		t.Fatalf("milestone: %v", err)
	}
	if _, err := l.LogRecall("0002-B1", "contamination", 1, 3); err != nil {
		t.Fatalf("recall: %v", err)
	}
	if _, err := l.LogEvent(Entry{Category: CategoryCalculation, Fingerprint: [32]byte{9}, Amount: big.NewInt(5)}); err != nil {
		t.Fatalf("entry: %v", err)
	}
	want := []string{EventTypeAntitrustFlag, EventTypeVolumeMilestone, EventTypeRecall, EventTypeEntry}
	evts := rec.Events()
	if len(evts) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(evts))
	}
	for i, typ := range want {
		if evts[i].Type != typ {
			t.Fatalf("event %d: expected %s, got %s", i, typ, evts[i].Type)
		}
		if evts[i].Attributes["timestamp"] != "1700000000" {
			t.Fatalf("event %d: unexpected timestamp %s", i, evts[i].Attributes["timestamp"])
		}
	}
	if evts[3].Attributes["fee"] != "0" {
		t.Fatalf("missing fee should encode as zero")
	}
}
