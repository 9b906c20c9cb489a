package rebate

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"pharmaclear/core/events"
	"pharmaclear/core/types"
)

var (
	ErrManufacturerNotRegistered = errors.New("rebate: manufacturer not registered")
	ErrInvalidRate               = errors.New("rebate: combined rate exceeds 10000 bps")
	ErrInvalidAmount             = errors.New("rebate: invalid wholesale acquisition cost")
	ErrInvalidManufacturer       = errors.New("rebate: manufacturer address required")

	errStateNotConfigured = errors.New("rebate: state not configured")
)

type rebateState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Engine computes tiered rebate accruals against registered manufacturer
// schedules and keeps a running total per manufacturer.
type Engine struct {
	state   rebateState
	emitter events.Emitter
	nowFn   func() time.Time
	policy  AccrualPolicy
}

func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
		policy:  AccrualPolicyAccumulate,
	}
}

func (e *Engine) SetState(state rebateState) { e.state = state }

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

// SetAccrualPolicy selects how recomputed accruals feed the manufacturer total.
func (e *Engine) SetAccrualPolicy(policy AccrualPolicy) { e.policy = policy }

// AccrualPolicy returns the active policy.
func (e *Engine) AccrualPolicy() AccrualPolicy { return e.policy }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(rebateEvent{evt: event})
}

func (e *Engine) now() uint64 {
	ts := e.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// RegisterSchedule stores or replaces the manufacturer's schedule.
func (e *Engine) RegisterSchedule(manufacturer [20]byte, baseBps, threshold, bonusBps uint64, excludesBiosimilars bool) (*Schedule, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	if manufacturer == ([20]byte{}) {
		return nil, ErrInvalidManufacturer
	}
	if baseBps > BasisPoints || bonusBps > BasisPoints || baseBps+bonusBps > BasisPoints {
		return nil, ErrInvalidRate
	}
	schedule := &Schedule{
		Manufacturer:        manufacturer,
		BaseRateBps:         baseBps,
		BonusThreshold:      threshold,
		BonusRateBps:        bonusBps,
		ExcludesBiosimilars: excludesBiosimilars,
		RegisteredAt:        e.now(),
	}
	if err := e.state.KVPut(scheduleKey(manufacturer), schedule); err != nil {
		return nil, err
	}
	e.emit(newScheduleRegisteredEvent(schedule))
	if excludesBiosimilars {
		e.emit(newFormularyLockEvent(schedule))
	}
	return schedule, nil
}

// CalculateAccrual computes floor(wac*rate/10000) for the claim and adds it to
// the manufacturer's total according to the active policy.
func (e *Engine) CalculateAccrual(fp [32]byte, manufacturer [20]byte, wac *big.Int, volume uint64) (*Accrual, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	if wac == nil || wac.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	schedule, ok, err := e.Schedule(manufacturer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrManufacturerNotRegistered
	}

	rate, bonus := schedule.EffectiveRate(volume)
	amount := new(big.Int).Mul(wac, new(big.Int).SetUint64(rate))
	amount.Quo(amount, new(big.Int).SetUint64(BasisPoints))

	total, err := e.ManufacturerTotal(manufacturer)
	if err != nil {
		return nil, err
	}
	// Under replace a recomputed fingerprint leaves its previous manufacturer,
	// which may differ from the current one.
	var previous *big.Int
	var previousOwner [20]byte
	if e.policy == AccrualPolicyReplace {
		prior, ok, err := e.AccrualRecord(fp)
		if err != nil {
			return nil, err
		}
		if ok && prior.Amount != nil {
			previousOwner = prior.Manufacturer
			if prior.Manufacturer == manufacturer {
				previous = total
			} else if previous, err = e.ManufacturerTotal(prior.Manufacturer); err != nil {
				return nil, err
			}
			previous.Sub(previous, prior.Amount)
			if previous.Sign() < 0 {
				return nil, fmt.Errorf("rebate: manufacturer total underflow for %x", prior.Manufacturer)
			}
		}
	}
	total.Add(total, amount)

	record := &Accrual{
		Fingerprint:  fp,
		Manufacturer: manufacturer,
		WAC:          new(big.Int).Set(wac),
		Volume:       volume,
		RateBps:      rate,
		Bonus:        bonus,
		Amount:       amount,
		CalculatedAt: e.now(),
	}
	if err := e.state.KVPut(accrualKey(fp), record); err != nil {
		return nil, err
	}
	if previous != nil && previousOwner != manufacturer {
		if err := e.state.KVPut(totalKey(previousOwner), previous); err != nil {
			return nil, err
		}
	}
	if err := e.state.KVPut(totalKey(manufacturer), total); err != nil {
		return nil, err
	}
	if bonus {
		e.emit(newBonusTierEvent(record, schedule.BonusThreshold))
	}
	e.emit(newCalculatedEvent(record))
	return record, nil
}

// Accrual returns the accrued amount for the fingerprint, zero when unknown.
func (e *Engine) Accrual(fp [32]byte) (*big.Int, error) {
	record, ok, err := e.AccrualRecord(fp)
	if err != nil {
		return nil, err
	}
	if !ok || record.Amount == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(record.Amount), nil
}

// AccrualRecord returns the full accrual record.
func (e *Engine) AccrualRecord(fp [32]byte) (*Accrual, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errStateNotConfigured
	}
	var record Accrual
	ok, err := e.state.KVGet(accrualKey(fp), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	return &record, true, nil
}

// ManufacturerTotal returns the running accrual total, zero when unknown.
func (e *Engine) ManufacturerTotal(manufacturer [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	total := new(big.Int)
	ok, err := e.state.KVGet(totalKey(manufacturer), total)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return total, nil
}

// Schedule returns the manufacturer's current schedule.
func (e *Engine) Schedule(manufacturer [20]byte) (*Schedule, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errStateNotConfigured
	}
	var schedule Schedule
	ok, err := e.state.KVGet(scheduleKey(manufacturer), &schedule)
	if err != nil || !ok {
		return nil, false, err
	}
	return &schedule, true, nil
}
