package rebate

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"pharmaclear/core/events"
	"pharmaclear/core/types"
)

type memoryStore struct {
	data map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.data[string(key)] = encoded
	return nil
}

func (m *memoryStore) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.data[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	return true, rlp.DecodeBytes(encoded, out)
}

type captureEmitter struct {
	events []*types.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.events = append(c.events, events.Payload(evt))
}

func (c *captureEmitter) count(typ string) int {
	n := 0
	for _, evt := range c.events {
		if evt.Type == typ {
			n++
		}
	}
	return n
}

func newTestEngine() (*Engine, *captureEmitter) {
	engine := NewEngine()
	engine.SetState(newMemoryStore())
	emitter := &captureEmitter{}
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return engine, emitter
}

var manufacturer = [20]byte{0x4d}

func TestBonusTierBoundary(t *testing.T) {
	engine, emitter := newTestEngine()
	if _, err := engine.RegisterSchedule(manufacturer, 1500, 1000, 500, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	wac := big.NewInt(100_000_000)

	atThreshold, err := engine.CalculateAccrual([32]byte{1}, manufacturer, wac, 1000)
	if err != nil {
		t.Fatalf("accrue at threshold: %v", err)
	}
	if atThreshold.Amount.Cmp(big.NewInt(15_000_000)) != 0 || atThreshold.Bonus {
		t.Fatalf("expected base tier 15000000, got %s bonus=%v", atThreshold.Amount, atThreshold.Bonus)
	}
	above, err := engine.CalculateAccrual([32]byte{2}, manufacturer, wac, 1001)
	if err != nil {
		t.Fatalf("accrue above threshold: %v", err)
	}
	if above.Amount.Cmp(big.NewInt(20_000_000)) != 0 || above.RateBps != 2000 {
		t.Fatalf("expected bonus tier 20000000, got %s", above.Amount)
	}
	if emitter.count(EventTypeBonusTierActivated) != 1 || emitter.count(EventTypeAccrualCalculated) != 2 {
		t.Fatalf("unexpected events %+v", emitter.events)
	}
	total, err := engine.ManufacturerTotal(manufacturer)
	if err != nil || total.Cmp(big.NewInt(35_000_000)) != 0 {
		t.Fatalf("unexpected total %s err=%v", total, err)
	}
}

func TestAccrualFloors(t *testing.T) {
	engine, _ := newTestEngine()
	if _, err := engine.RegisterSchedule(manufacturer, 1, 0, 0, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	record, err := engine.CalculateAccrual([32]byte{1}, manufacturer, big.NewInt(9_999), 0)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if record.Amount.Sign() != 0 {
		t.Fatalf("expected floor to zero, got %s", record.Amount)
	}
}

func TestAccrualPolicies(t *testing.T) {
	wac := big.NewInt(1_000_000)
	fp := [32]byte{7}

	accumulate, _ := newTestEngine()
	if _, err := accumulate.RegisterSchedule(manufacturer, 1000, 0, 0, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := accumulate.CalculateAccrual(fp, manufacturer, wac, 1); err != nil {
			t.Fatalf("accrue: %v", err)
		}
	}
	total, _ := accumulate.ManufacturerTotal(manufacturer)
	if total.Cmp(big.NewInt(200_000)) != 0 {
		t.Fatalf("accumulate policy should double count, got %s", total)
	}

	replace, _ := newTestEngine()
	replace.SetAccrualPolicy(AccrualPolicyReplace)
	if _, err := replace.RegisterSchedule(manufacturer, 1000, 0, 0, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := replace.CalculateAccrual(fp, manufacturer, wac, 1); err != nil {
			t.Fatalf("accrue: %v", err)
		}
	}
	total, _ = replace.ManufacturerTotal(manufacturer)
	if total.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("replace policy should keep one contribution, got %s", total)
	}
	amount, _ := replace.Accrual(fp)
	if amount.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("unexpected accrual %s", amount)
	}
}

func TestReplacePolicyMovesContributionBetweenManufacturers(t *testing.T) {
	engine, _ := newTestEngine()
	engine.SetAccrualPolicy(AccrualPolicyReplace)
	other := [20]byte{0x4e}
	for _, m := range [][20]byte{manufacturer, other} {
		if _, err := engine.RegisterSchedule(m, 1000, 0, 0, false); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	fp := [32]byte{0x33}
	if _, err := engine.CalculateAccrual(fp, manufacturer, big.NewInt(1_000_000), 1); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if _, err := engine.CalculateAccrual(fp, other, big.NewInt(2_000_000), 1); err != nil {
		t.Fatalf("re-accrue: %v", err)
	}
	first, _ := engine.ManufacturerTotal(manufacturer)
	second, _ := engine.ManufacturerTotal(other)
	if first.Sign() != 0 || second.Cmp(big.NewInt(200_000)) != 0 {
		t.Fatalf("expected contribution to move, got %s and %s", first, second)
	}
}

func TestRegisterScheduleValidation(t *testing.T) {
	engine, emitter := newTestEngine()
	if _, err := engine.RegisterSchedule(manufacturer, 9000, 10, 1001, false); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected invalid rate, got %v", err)
	}
	if _, err := engine.RegisterSchedule([20]byte{}, 100, 10, 100, false); !errors.Is(err, ErrInvalidManufacturer) {
		t.Fatalf("expected manufacturer rejection, got %v", err)
	}
	if _, err := engine.RegisterSchedule(manufacturer, 100, 10, 100, true); err != nil {
		t.Fatalf("register: %v", err)
	}
	if emitter.count(EventTypeFormularyLock) != 1 {
		t.Fatalf("expected formulary lock advisory")
	}
	if _, err := engine.RegisterSchedule(manufacturer, 200, 20, 0, false); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	schedule, ok, err := engine.Schedule(manufacturer)
	if err != nil || !ok || schedule.BaseRateBps != 200 || schedule.ExcludesBiosimilars {
		t.Fatalf("expected replaced schedule, got %+v", schedule)
	}
}

func TestCalculateAccrualErrors(t *testing.T) {
	engine, _ := newTestEngine()
	if _, err := engine.CalculateAccrual([32]byte{1}, manufacturer, big.NewInt(1), 1); !errors.Is(err, ErrManufacturerNotRegistered) {
		t.Fatalf("expected unregistered, got %v", err)
	}
	if _, err := engine.CalculateAccrual([32]byte{1}, manufacturer, big.NewInt(-1), 1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	amount, err := engine.Accrual([32]byte{99})
	if err != nil || amount.Sign() != 0 {
		t.Fatalf("unknown accrual should be zero, got %s err=%v", amount, err)
	}
	total, err := engine.ManufacturerTotal([20]byte{0x01})
	if err != nil || total.Sign() != 0 {
		t.Fatalf("unknown total should be zero")
	}
}

func TestParseAccrualPolicy(t *testing.T) {
	for input, want := range map[string]AccrualPolicy{"": AccrualPolicyAccumulate, "Accumulate": AccrualPolicyAccumulate, " replace ": AccrualPolicyReplace} {
		got, err := ParseAccrualPolicy(input)
		if err != nil || got != want {
			t.Fatalf("ParseAccrualPolicy(%q) = %s, %v", input, got, err)
		}
	}
	if _, err := ParseAccrualPolicy("double"); err == nil {
		t.Fatalf("expected unknown policy error")
	}
}
