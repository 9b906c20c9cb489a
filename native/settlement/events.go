package settlement

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"pharmaclear/core/types"
)

const (
	EventTypeInitialized   = "settlement.initialized"
	EventTypeFeeCapUpdated = "settlement.fee_cap_updated"
	EventTypeRebateSettled = "settlement.rebate_settled"
	EventTypeEscrowFunded  = "settlement.escrow_funded"
)

type settlementEvent struct {
	evt *types.Event
}

func (e settlementEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e settlementEvent) Event() *types.Event { return e.evt }

func newInitializedEvent(p *Params) *types.Event {
	return &types.Event{
		Type: EventTypeInitialized,
		Attributes: map[string]string{
			"assetId":        strconv.FormatUint(p.AssetID, 10),
			"adminFeeCapBps": strconv.FormatUint(p.AdminFeeCapBps, 10),
		},
	}
}

func newFeeCapUpdatedEvent(previous, next uint64) *types.Event {
	return &types.Event{
		Type: EventTypeFeeCapUpdated,
		Attributes: map[string]string{
			"previousBps":    strconv.FormatUint(previous, 10),
			"adminFeeCapBps": strconv.FormatUint(next, 10),
		},
	}
}

func newRebateSettledEvent(r *Result) *types.Event {
	return &types.Event{
		Type: EventTypeRebateSettled,
		Attributes: map[string]string{
			"fingerprint":  hex.EncodeToString(r.Fingerprint[:]),
			"pharmacy":     hex.EncodeToString(r.Pharmacy[:]),
			"feeCollector": hex.EncodeToString(r.FeeCollector[:]),
			"assetId":      strconv.FormatUint(r.AssetID, 10),
			"payout":       r.Payout.String(),
			"fee":          r.Fee.String(),
			"timestamp":    strconv.FormatUint(r.SettledAt, 10),
		},
	}
}

func newEscrowFundedEvent(funder [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeEscrowFunded,
		Attributes: map[string]string{
			"funder": hex.EncodeToString(funder[:]),
			"amount": amount.String(),
		},
	}
}
