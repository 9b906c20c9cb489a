package rebate

import (
	"encoding/hex"
	"strconv"

	"pharmaclear/core/types"
)

const (
	EventTypeScheduleRegistered  = "rebate.schedule_registered"
	EventTypeFormularyLock       = "rebate.formulary_lock"
	EventTypeBonusTierActivated  = "rebate.bonus_tier_activated"
	EventTypeAccrualCalculated   = "rebate.calculated"
	ExclusionTypeBiosimilar      = "BIOSIMILAR_EXCLUSION"
	MilestoneTypeBonusTierUnlock = "BONUS_TIER"
)

type rebateEvent struct {
	evt *types.Event
}

func (e rebateEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e rebateEvent) Event() *types.Event { return e.evt }

func newScheduleRegisteredEvent(s *Schedule) *types.Event {
	return &types.Event{
		Type: EventTypeScheduleRegistered,
		Attributes: map[string]string{
			"manufacturer":        hex.EncodeToString(s.Manufacturer[:]),
			"baseRateBps":         strconv.FormatUint(s.BaseRateBps, 10),
			"bonusThreshold":      strconv.FormatUint(s.BonusThreshold, 10),
			"bonusRateBps":        strconv.FormatUint(s.BonusRateBps, 10),
			"excludesBiosimilars": strconv.FormatBool(s.ExcludesBiosimilars),
		},
	}
}

func newFormularyLockEvent(s *Schedule) *types.Event {
	return &types.Event{
		Type: EventTypeFormularyLock,
		Attributes: map[string]string{
			"manufacturer":  hex.EncodeToString(s.Manufacturer[:]),
			"exclusionType": ExclusionTypeBiosimilar,
		},
	}
}

func newBonusTierEvent(a *Accrual, threshold uint64) *types.Event {
	return &types.Event{
		Type: EventTypeBonusTierActivated,
		Attributes: map[string]string{
			"manufacturer": hex.EncodeToString(a.Manufacturer[:]),
			"volume":       strconv.FormatUint(a.Volume, 10),
			"threshold":    strconv.FormatUint(threshold, 10),
			"rateBps":      strconv.FormatUint(a.RateBps, 10),
		},
	}
}

func newCalculatedEvent(a *Accrual) *types.Event {
	return &types.Event{
		Type: EventTypeAccrualCalculated,
		Attributes: map[string]string{
			"fingerprint":  hex.EncodeToString(a.Fingerprint[:]),
			"manufacturer": hex.EncodeToString(a.Manufacturer[:]),
			"wac":          a.WAC.String(),
			"volume":       strconv.FormatUint(a.Volume, 10),
			"rateBps":      strconv.FormatUint(a.RateBps, 10),
			"bonus":        strconv.FormatBool(a.Bonus),
			"amount":       a.Amount.String(),
		},
	}
}
