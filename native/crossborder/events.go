package crossborder

import (
	"encoding/hex"
	"strconv"

	"pharmaclear/core/types"
)

const (
	EventTypeCurrencyRegistered     = "xborder.currency_registered"
	EventTypeExchangeRateUpdated    = "xborder.rate_updated"
	EventTypeJurisdictionRegistered = "xborder.jurisdiction_registered"
	EventTypeAMLFlagRaised          = "xborder.aml_flag_raised"
	EventTypeAMLReviewRequired      = "xborder.aml_review_required"
	EventTypeSettled                = "xborder.settled"
)

type crossBorderEvent struct {
	evt *types.Event
}

func (e crossBorderEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e crossBorderEvent) Event() *types.Event { return e.evt }

func newCurrencyRegisteredEvent(c *Currency) *types.Event {
	return &types.Event{
		Type: EventTypeCurrencyRegistered,
		Attributes: map[string]string{
			"currency": c.Code,
			"assetId":  strconv.FormatUint(c.AssetID, 10),
		},
	}
}

func newRateUpdatedEvent(r *ExchangeRate) *types.Event {
	return &types.Event{
		Type: EventTypeExchangeRateUpdated,
		Attributes: map[string]string{
			"from":      r.From,
			"to":        r.To,
			"rate":      strconv.FormatUint(r.Rate, 10),
			"timestamp": strconv.FormatUint(r.UpdatedAt, 10),
		},
	}
}

func newJurisdictionEvent(p *PharmacyProfile, feeBps uint64) *types.Event {
	return &types.Event{
		Type: EventTypeJurisdictionRegistered,
		Attributes: map[string]string{
			"pharmacy":     hex.EncodeToString(p.Pharmacy[:]),
			"jurisdiction": p.Jurisdiction,
			"feeBps":       strconv.FormatUint(feeBps, 10),
			"kycVerified":  strconv.FormatBool(p.KYCVerified),
		},
	}
}

func newAMLFlagEvent(p *PharmacyProfile, ts uint64) *types.Event {
	return &types.Event{
		Type: EventTypeAMLFlagRaised,
		Attributes: map[string]string{
			"pharmacy":  hex.EncodeToString(p.Pharmacy[:]),
			"riskLevel": string(p.AMLRisk),
			"reason":    p.AMLReason,
			"timestamp": strconv.FormatUint(ts, 10),
		},
	}
}

func newAMLReviewEvent(p *PharmacyProfile, fp [32]byte) *types.Event {
	return &types.Event{
		Type: EventTypeAMLReviewRequired,
		Attributes: map[string]string{
			"pharmacy":    hex.EncodeToString(p.Pharmacy[:]),
			"fingerprint": hex.EncodeToString(fp[:]),
			"riskLevel":   string(p.AMLRisk),
		},
	}
}

func newSettledEvent(s *Settlement) *types.Event {
	return &types.Event{
		Type: EventTypeSettled,
		Attributes: map[string]string{
			"fingerprint":  hex.EncodeToString(s.Fingerprint[:]),
			"pharmacy":     hex.EncodeToString(s.Pharmacy[:]),
			"currency":     s.TargetCurrency,
			"assetId":      strconv.FormatUint(s.AssetID, 10),
			"amountUsd":    s.AmountUSD.String(),
			"converted":    s.Converted.String(),
			"rate":         strconv.FormatUint(s.Rate, 10),
			"payout":       s.Payout.String(),
			"fee":          s.Fee.String(),
			"jurisdiction": s.Jurisdiction,
			"timestamp":    strconv.FormatUint(s.SettledAt, 10),
		},
	}
}
