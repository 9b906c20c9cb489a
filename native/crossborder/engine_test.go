package crossborder

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"pharmaclear/core/events"
	"pharmaclear/core/host"
	"pharmaclear/core/state"
	"pharmaclear/storage"
	"pharmaclear/storage/trie"
)

const eurcAsset uint64 = 227855942

func addr(b byte) [20]byte {
	var out [20]byte
	out[0] = b
	return out
}

var (
	app       = addr(0xaa)
	oracle    = addr(0x01)
	caller    = addr(0x02)
	pharmacy  = addr(0x03)
	collector = addr(0x04)
)

func newTestEngine(t *testing.T) (*Engine, *events.Recorder) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	engine := NewEngine()
	engine.SetState(state.NewManager(tr))
	rec := &events.Recorder{}
	engine.SetEmitter(rec)
	engine.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return engine, rec
}

func newGroup(t *testing.T, escrow int64) (*host.Simulator, *host.Group) {
	t.Helper()
	sim := host.NewSimulator(app)
	if err := sim.Fund(app, eurcAsset, big.NewInt(escrow)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := sim.Fund(oracle, host.NativeAsset, big.NewInt(10_000)); err != nil {
		t.Fatalf("fund oracle: %v", err)
	}
	group, err := sim.NewGroup([]*host.Transaction{
		{Type: host.TxTypePayment, Sender: oracle, Receiver: app, Amount: big.NewInt(1_000)},
		{Type: host.TxTypeAppCall, Sender: caller, Receiver: app},
	}, 1)
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	return sim, group
}

func setupEUR(t *testing.T, engine *Engine, feeBps uint64) {
	t.Helper()
	if _, err := engine.RegisterCurrency("eur", eurcAsset); err != nil {
		t.Fatalf("register currency: %v", err)
	}
	if _, err := engine.UpdateExchangeRate("USD", "EUR", 920_000); err != nil {
		t.Fatalf("rate: %v", err)
	}
	if _, err := engine.SetJurisdiction(pharmacy, "EU", feeBps, true); err != nil {
		t.Fatalf("jurisdiction: %v", err)
	}
}

func TestSettleConvertsAndPays(t *testing.T) {
	engine, rec := newTestEngine(t)
	setupEUR(t, engine, 200)
	sim, group := newGroup(t, 10_000_000)

	fp := [32]byte{1}
	record, err := engine.Settle(group, Request{
		Fingerprint:    fp,
		AmountUSD:      big.NewInt(1_000_000),
		Pharmacy:       pharmacy,
		TargetCurrency: "EUR",
		FeeCollector:   collector,
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if record.Converted.Cmp(big.NewInt(920_000)) != 0 || record.Fee.Cmp(big.NewInt(18_400)) != 0 || record.Payout.Cmp(big.NewInt(901_600)) != 0 {
		t.Fatalf("unexpected amounts %+v", record)
	}
	if err := group.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := sim.Balance(pharmacy, eurcAsset); got.Cmp(big.NewInt(901_600)) != 0 {
		t.Fatalf("pharmacy balance %s", got)
	}
	if got := sim.Balance(collector, eurcAsset); got.Cmp(big.NewInt(18_400)) != 0 {
		t.Fatalf("collector balance %s", got)
	}
	stored, ok, err := engine.SettlementDetails(fp)
	if err != nil || !ok || stored.Jurisdiction != "EU" {
		t.Fatalf("settlement details: %+v ok=%v err=%v", stored, ok, err)
	}
	conversion, ok, err := engine.ConversionRecord(fp)
	if err != nil || !ok || conversion.AmountOut.Cmp(big.NewInt(920_000)) != 0 {
		t.Fatalf("conversion record: %+v ok=%v err=%v", conversion, ok, err)
	}

	_, again := newGroup(t, 10_000_000)
	if _, err := engine.Settle(again, Request{Fingerprint: fp, AmountUSD: big.NewInt(1), Pharmacy: pharmacy, TargetCurrency: "EUR", FeeCollector: collector}); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected duplicate settlement rejection, got %v", err)
	}
	last := rec.Events()[len(rec.Events())-1]
	if last.Type != EventTypeSettled {
		t.Fatalf("expected settled event last, got %s", last.Type)
	}
}

func TestSettleValidationOrder(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, group := newGroup(t, 10_000_000)
	req := Request{Fingerprint: [32]byte{2}, AmountUSD: big.NewInt(1_000), Pharmacy: pharmacy, TargetCurrency: "EUR", FeeCollector: collector}

	if _, err := engine.Settle(group, req); !errors.Is(err, ErrKYCNotVerified) {
		t.Fatalf("expected KYC failure, got %v", err)
	}
	if _, err := engine.SetJurisdiction(pharmacy, "EU", 300, false); err != nil {
		t.Fatalf("jurisdiction: %v", err)
	}
	if _, err := engine.Settle(group, req); !errors.Is(err, ErrKYCNotVerified) {
		t.Fatalf("expected KYC failure for unverified pharmacy, got %v", err)
	}
	if _, err := engine.SetJurisdiction(pharmacy, "EU", 300, true); err != nil {
		t.Fatalf("jurisdiction: %v", err)
	}
	if _, err := engine.Settle(group, req); !errors.Is(err, ErrRateUnavailable) {
		t.Fatalf("expected missing rate, got %v", err)
	}
	if _, err := engine.UpdateExchangeRate("EUR", "USD", 1_080_000); err != nil {
		t.Fatalf("reverse rate: %v", err)
	}
	if _, err := engine.Settle(group, req); !errors.Is(err, ErrRateUnavailable) {
		t.Fatalf("reverse rates must not be derived, got %v", err)
	}
	if _, err := engine.UpdateExchangeRate("USD", "EUR", 920_000); err != nil {
		t.Fatalf("rate: %v", err)
	}
	if _, err := engine.Settle(group, req); !errors.Is(err, ErrFeeExceedsJurisdictionCap) {
		t.Fatalf("expected EU cap of 250 to reject 300, got %v", err)
	}
	if _, err := engine.SetJurisdiction(pharmacy, "EU", 250, true); err != nil {
		t.Fatalf("jurisdiction: %v", err)
	}
	if _, err := engine.Settle(group, req); !errors.Is(err, ErrCurrencyNotSupported) {
		t.Fatalf("expected unsupported currency, got %v", err)
	}
	if len(group.Transfers()) != 0 {
		t.Fatalf("rejected settlements must not transfer")
	}
}

func TestAMLFlagIsAdvisory(t *testing.T) {
	engine, rec := newTestEngine(t)
	setupEUR(t, engine, 100)
	if _, err := engine.FlagAMLRisk(pharmacy, "extreme", "x"); !errors.Is(err, ErrInvalidRiskLevel) {
		t.Fatalf("expected risk level rejection, got %v", err)
	}
	if _, err := engine.FlagAMLRisk(pharmacy, "high", "structuring"); err != nil {
		t.Fatalf("flag: %v", err)
	}
	profile, ok, err := engine.Profile(pharmacy)
	if err != nil || !ok || profile.AMLRisk != RiskHigh || !profile.KYCVerified {
		t.Fatalf("unexpected profile %+v", profile)
	}
	_, group := newGroup(t, 10_000_000)
	if _, err := engine.Settle(group, Request{Fingerprint: [32]byte{3}, AmountUSD: big.NewInt(1_000), Pharmacy: pharmacy, TargetCurrency: "EUR", FeeCollector: collector}); err != nil {
		t.Fatalf("flagged pharmacy still settles: %v", err)
	}
	found := false
	for _, evt := range rec.Events() {
		if evt.Type == EventTypeAMLReviewRequired {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected AML review advisory")
	}
}

func TestRegistries(t *testing.T) {
	engine, _ := newTestEngine(t)
	if _, err := engine.RegisterCurrency("EURO", 1); !errors.Is(err, ErrInvalidCurrency) {
		t.Fatalf("expected invalid currency, got %v", err)
	}
	if _, err := engine.UpdateExchangeRate("USD", "EUR", 0); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected zero rate rejection, got %v", err)
	}
	if _, err := engine.SetJurisdiction(pharmacy, "not-a-region", 100, true); !errors.Is(err, ErrInvalidJurisdiction) {
		t.Fatalf("expected jurisdiction rejection, got %v", err)
	}
	for _, code := range []string{"GBP", "EUR", "GBP"} {
		if _, err := engine.RegisterCurrency(code, 7); err != nil {
			t.Fatalf("register %s: %v", code, err)
		}
	}
	codes, err := engine.SupportedCurrencies()
	if err != nil || len(codes) != 2 || codes[0] != "EUR" || codes[1] != "GBP" {
		t.Fatalf("unexpected currencies %v err=%v", codes, err)
	}

	estimate, err := engine.EstimateConversion(big.NewInt(1_000_000), "JPY")
	if err != nil || estimate.Sign() != 0 {
		t.Fatalf("missing rate should estimate zero, got %s err=%v", estimate, err)
	}
	if _, err := engine.UpdateExchangeRate("USD", "JPY", 149_500_000); err != nil {
		t.Fatalf("rate: %v", err)
	}
	estimate, err = engine.EstimateConversion(big.NewInt(2_000_000), "jpy")
	if err != nil || estimate.Cmp(big.NewInt(299_000_000)) != 0 {
		t.Fatalf("unexpected estimate %s err=%v", estimate, err)
	}
}

func TestFeeCapTable(t *testing.T) {
	engine, _ := newTestEngine(t)
	if engine.FeeCap("US") != 300 || engine.FeeCap("EU") != 250 || engine.FeeCap("CA") != 200 || engine.FeeCap("MX") != DefaultFeeCapBps {
		t.Fatalf("unexpected built-in caps")
	}
	engine.SetFeeCaps(map[string]uint64{"mx": 150})
	if engine.FeeCap("MX") != 150 || engine.FeeCap("CA") != 200 {
		t.Fatalf("override should merge with defaults")
	}
}

func TestSettleRequiresOracleStake(t *testing.T) {
	engine, rec := newTestEngine(t)
	setupEUR(t, engine, 200)
	emitted := len(rec.Events())
	req := Request{Fingerprint: [32]byte{4}, AmountUSD: big.NewInt(1_000_000), Pharmacy: pharmacy, TargetCurrency: "EUR", FeeCollector: collector}

	sim := host.NewSimulator(app)
	if err := sim.Fund(app, eurcAsset, big.NewInt(10_000_000)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	single, err := sim.NewGroup([]*host.Transaction{{Type: host.TxTypeAppCall, Sender: caller, Receiver: app}}, 0)
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if _, err := engine.Settle(single, req); !errors.Is(err, ErrNotInAtomicGroup) {
		t.Fatalf("expected atomic group rejection, got %v", err)
	}

	if err := sim.Fund(oracle, host.NativeAsset, big.NewInt(10_000)); err != nil {
		t.Fatalf("fund oracle: %v", err)
	}
	low, err := sim.NewGroup([]*host.Transaction{
		{Type: host.TxTypePayment, Sender: oracle, Receiver: app, Amount: big.NewInt(999)},
		{Type: host.TxTypeAppCall, Sender: caller, Receiver: app},
	}, 1)
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if _, err := engine.Settle(low, req); !errors.Is(err, ErrInvalidOracleTransaction) {
		t.Fatalf("expected stake rejection, got %v", err)
	}
	req.OracleTxIndex = 1
	if _, err := engine.Settle(low, req); !errors.Is(err, ErrInvalidOracleTransaction) {
		t.Fatalf("app call at the oracle index must be rejected, got %v", err)
	}
	if len(single.Transfers()) != 0 || len(low.Transfers()) != 0 {
		t.Fatalf("rejected settlements must not transfer")
	}
	if _, ok, err := engine.SettlementDetails(req.Fingerprint); err != nil || ok {
		t.Fatalf("rejected settlement must not be stored, ok=%v err=%v", ok, err)
	}
	if len(rec.Events()) != emitted {
		t.Fatalf("rejected settlements must not emit, got %d new events", len(rec.Events())-emitted)
	}
}
