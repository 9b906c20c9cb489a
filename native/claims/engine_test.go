package claims

import (
	"errors"
	"math"
	"testing"
	"time"

	"pharmaclear/core/events"
	"pharmaclear/core/state"
	"pharmaclear/storage"
	"pharmaclear/storage/trie"
)

const testNow = int64(1_700_000_000)

func newTestEngine(t *testing.T) (*Engine, *events.Recorder) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	rec := &events.Recorder{}
	engine := NewEngine()
	engine.SetState(state.NewManager(tr))
	engine.SetEmitter(rec)
	engine.SetNowFunc(func() time.Time { return time.Unix(testNow, 0) })
	return engine, rec
}

func sampleIdentity() Identity {
	return Identity{ClaimID: "CLM-001", NDC: "0002-8215-01", NPI: "1234567890", DispenseDate: uint64(testNow - 86400)}
}

func countType(rec *events.Recorder, typ string) int {
	n := 0
	for _, evt := range rec.Events() {
		if evt.Type == typ {
			n++
		}
	}
	return n
}

func TestSubmitRejectsDuplicate(t *testing.T) {
	engine, rec := newTestEngine(t)
	var pharmacy [20]byte
	pharmacy[0] = 0x01

	fp, err := engine.Submit(pharmacy, sampleIdentity(), []byte("proof"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if fp != ComputeFingerprint(sampleIdentity(), []byte("proof")) {
		t.Fatalf("fingerprint mismatch")
	}
	if _, err := engine.Submit(pharmacy, sampleIdentity(), []byte("proof")); !errors.Is(err, ErrDuplicateClaim) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	// A different proof yields a different base fingerprint.
	if _, err := engine.Submit(pharmacy, sampleIdentity(), []byte("other")); err != nil {
		t.Fatalf("submit with second proof: %v", err)
	}
	if countType(rec, EventTypeClaimSubmitted) != 2 {
		t.Fatalf("expected two submitted events, got %d", countType(rec, EventTypeClaimSubmitted))
	}

	ok, err := engine.Verify(fp)
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}
	meta, err := engine.Metadata(fp)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.Submitter != pharmacy || meta.SubmittedAt != uint64(testNow) || meta.Enhanced {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if _, err := engine.Metadata([32]byte{9}); !errors.Is(err, ErrClaimNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	if _, err := engine.Submit([20]byte{}, sampleIdentity(), nil); !errors.Is(err, ErrAuthenticationMissing) {
		t.Fatalf("expected missing auth, got %v", err)
	}
	id := sampleIdentity()
	id.NPI = "  "
	if _, err := engine.Submit([20]byte{}, id, []byte("p")); !errors.Is(err, ErrInvalidClaim) {
		t.Fatalf("expected invalid claim, got %v", err)
	}
	if _, err := engine.SubmitEnhanced([20]byte{}, sampleIdentity(), []byte("p"), Provenance{LotNumber: "L1"}); !errors.Is(err, ErrInvalidClaim) {
		t.Fatalf("expected missing batch rejection, got %v", err)
	}
	if _, err := engine.SubmitEnhanced([20]byte{}, sampleIdentity(), []byte("p"), Provenance{BatchNumber: "B1", CountryCode: "ZZZ"}); !errors.Is(err, ErrInvalidClaim) {
		t.Fatalf("expected country rejection, got %v", err)
	}
}

func TestFingerprintDeterminism(t *testing.T) {
	id := sampleIdentity()
	padded := Identity{ClaimID: " CLM-001 ", NDC: id.NDC, NPI: id.NPI, DispenseDate: id.DispenseDate}
	if ComputeFingerprint(id, []byte("x")) != ComputeFingerprint(padded, []byte("x")) {
		t.Fatalf("whitespace must not change the fingerprint")
	}
	prov := Provenance{BatchNumber: "B1", LotNumber: "L1"}
	if ComputeEnhancedFingerprint(id, prov) == ComputeFingerprint(id, nil) {
		t.Fatalf("enhanced fingerprint must include provenance")
	}
	other := prov
	other.LotNumber = "L2"
	if ComputeEnhancedFingerprint(id, prov) == ComputeEnhancedFingerprint(id, other) {
		t.Fatalf("lot number must affect the fingerprint")
	}
	parsed, err := ParseFingerprint("0x" + FormatFingerprint(ComputeEnhancedFingerprint(id, prov)))
	if err != nil || parsed != ComputeEnhancedFingerprint(id, prov) {
		t.Fatalf("parse fingerprint: %v", err)
	}
}

func TestEnhancedDuplicateIgnoresProof(t *testing.T) {
	engine, _ := newTestEngine(t)
	prov := Provenance{BatchNumber: "B1", LotNumber: "L1", ExpirationDate: uint64(testNow + 90*86400), CountryCode: "us"}
	if _, err := engine.SubmitEnhanced([20]byte{1}, sampleIdentity(), []byte("proof-a"), prov); err != nil {
		t.Fatalf("submit enhanced: %v", err)
	}
	if _, err := engine.SubmitEnhanced([20]byte{1}, sampleIdentity(), []byte("proof-b"), prov); !errors.Is(err, ErrDuplicateClaim) {
		t.Fatalf("expected duplicate across proofs, got %v", err)
	}
	country, ok, err := engine.PharmacyCountry(sampleIdentity().NPI)
	if err != nil || !ok || country != "US" {
		t.Fatalf("unexpected country %q ok=%v err=%v", country, ok, err)
	}
}

func TestRecallPropagation(t *testing.T) {
	engine, rec := newTestEngine(t)
	id := sampleIdentity()
	prov := Provenance{BatchNumber: "B7", LotNumber: "L1"}
	if _, err := engine.SubmitEnhanced([20]byte{1}, id, []byte("p"), prov); err != nil {
		t.Fatalf("submit: %v", err)
	}
	second := id
	second.ClaimID = "CLM-002"
	if _, err := engine.SubmitEnhanced([20]byte{1}, second, []byte("p"), prov); err != nil {
		t.Fatalf("submit second: %v", err)
	}

	if _, err := engine.IssueRecall(id.NDC, "B7", "contamination", 4); !errors.Is(err, ErrInvalidSeverity) {
		t.Fatalf("expected severity rejection, got %v", err)
	}
	affected, err := engine.IssueRecall(id.NDC, "B7", "contamination", SeverityLifeThreatening)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if affected != 2 {
		t.Fatalf("expected 2 affected claims, got %d", affected)
	}
	recalled, err := engine.IsBatchRecalled(id.NDC, "B7")
	if err != nil || !recalled {
		t.Fatalf("expected recalled batch, got %v err=%v", recalled, err)
	}

	third := id
	third.ClaimID = "CLM-003"
	if _, err := engine.SubmitEnhanced([20]byte{1}, third, []byte("p"), prov); err != nil {
		t.Fatalf("claims on recalled batches are still accepted: %v", err)
	}
	if countType(rec, EventTypeRecalledDrugDispensed) != 1 {
		t.Fatalf("expected one advisory event")
	}
	count, err := engine.BatchClaimCount(id.NDC, "B7")
	if err != nil || count != 3 {
		t.Fatalf("expected 3 linked claims, got %d err=%v", count, err)
	}
	fps, err := engine.BatchClaims(id.NDC, "B7")
	if err != nil || len(fps) != 3 {
		t.Fatalf("batch claims: %v len=%d", err, len(fps))
	}
}

func TestRecallOfUnknownBatchCreatesIt(t *testing.T) {
	engine, _ := newTestEngine(t)
	affected, err := engine.IssueRecall("0002-0000-01", "X1", "label", SeverityMinor)
	if err != nil || affected != 0 {
		t.Fatalf("recall: affected=%d err=%v", affected, err)
	}
	batch, ok, err := engine.Batch("0002-0000-01", "X1")
	if err != nil || !ok {
		t.Fatalf("batch lookup: ok=%v err=%v", ok, err)
	}
	if !batch.Recalled || batch.Severity != SeverityMinor || batch.ID != "0002-0000-01-X1" {
		t.Fatalf("unexpected batch %+v", batch)
	}
}

func TestExpiredDispenseAndExpiringReport(t *testing.T) {
	engine, rec := newTestEngine(t)
	expired := sampleIdentity()
	if _, err := engine.SubmitEnhanced([20]byte{1}, expired, []byte("p"), Provenance{BatchNumber: "B1", ExpirationDate: uint64(testNow - 1)}); err != nil {
		t.Fatalf("submit expired: %v", err)
	}
	if countType(rec, EventTypeExpiredDrugDispensed) != 1 {
		t.Fatalf("expected expired-drug advisory")
	}

	soon := Identity{ClaimID: "CLM-010", NDC: "0003-1111-01", NPI: "1", DispenseDate: 1}
	if _, err := engine.SubmitEnhanced([20]byte{1}, soon, []byte("p"), Provenance{BatchNumber: "B2", ExpirationDate: uint64(testNow + 10*86400)}); err != nil {
		t.Fatalf("submit soon: %v", err)
	}
	later := Identity{ClaimID: "CLM-011", NDC: "0004-2222-01", NPI: "1", DispenseDate: 1}
	if _, err := engine.SubmitEnhanced([20]byte{1}, later, []byte("p"), Provenance{BatchNumber: "B3", ExpirationDate: uint64(testNow + 400*86400)}); err != nil {
		t.Fatalf("submit later: %v", err)
	}
	unknown := Identity{ClaimID: "CLM-012", NDC: "0005-3333-01", NPI: "1", DispenseDate: 1}
	if _, err := engine.SubmitEnhanced([20]byte{1}, unknown, []byte("p"), Provenance{BatchNumber: "B4"}); err != nil {
		t.Fatalf("submit unknown expiry: %v", err)
	}
	if countType(rec, EventTypeExpiredDrugDispensed) != 1 {
		t.Fatalf("unknown expiry must not raise the expired advisory")
	}

	report, err := engine.ExpiringDrugs(30)
	if err != nil {
		t.Fatalf("expiring: %v", err)
	}
	if len(report) != 2 {
		t.Fatalf("expected 2 expiring drugs, got %+v", report)
	}
	if report[0].NDC != expired.NDC || report[1].NDC != soon.NDC {
		t.Fatalf("unexpected ordering %+v", report)
	}

	for _, days := range []uint64{math.MaxUint64 / secondsPerDay, math.MaxUint64} {
		all, err := engine.ExpiringDrugs(days)
		if err != nil {
			t.Fatalf("expiring(%d): %v", days, err)
		}
		if len(all) != 3 || all[2].NDC != later.NDC {
			t.Fatalf("huge threshold %d should report every dated drug, got %+v", days, all)
		}
	}
}

func TestEngineWithoutState(t *testing.T) {
	engine := NewEngine()
	if _, err := engine.Submit([20]byte{}, sampleIdentity(), []byte("p")); err == nil {
		t.Fatalf("expected state error")
	}
}
