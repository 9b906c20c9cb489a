package claims

import (
	"encoding/hex"
	"strconv"

	"pharmaclear/core/types"
)

const (
	EventTypeClaimSubmitted         = "claims.submitted"
	EventTypeClaimSubmittedEnhanced = "claims.submitted_enhanced"
	EventTypeRecalledDrugDispensed  = "claims.recalled_drug_dispensed"
	EventTypeExpiredDrugDispensed   = "claims.expired_drug_dispensed"
	EventTypeRecallIssued           = "claims.recall_issued"
)

type claimEvent struct {
	evt *types.Event
}

func (e claimEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e claimEvent) Event() *types.Event { return e.evt }

func newSubmittedEvent(r *Record) *types.Event {
	return &types.Event{
		Type: EventTypeClaimSubmitted,
		Attributes: map[string]string{
			"fingerprint":  hex.EncodeToString(r.Fingerprint[:]),
			"claimId":      r.ClaimID,
			"ndc":          r.NDC,
			"npi":          r.NPI,
			"dispenseDate": strconv.FormatUint(r.DispenseDate, 10),
			"submitter":    hex.EncodeToString(r.Submitter[:]),
		},
	}
}

func newSubmittedEnhancedEvent(r *Record, batchID string) *types.Event {
	evt := newSubmittedEvent(r)
	evt.Type = EventTypeClaimSubmittedEnhanced
	evt.Attributes["batchId"] = batchID
	evt.Attributes["lotNumber"] = r.LotNumber
	evt.Attributes["expirationDate"] = strconv.FormatUint(r.ExpirationDate, 10)
	if r.CountryCode != "" {
		evt.Attributes["country"] = r.CountryCode
	}
	return evt
}

// The advisory events carry only the fingerprint and drug context; the claim
// is still accepted.
func newRecalledDispensedEvent(r *Record, b *Batch) *types.Event {
	return &types.Event{
		Type: EventTypeRecalledDrugDispensed,
		Attributes: map[string]string{
			"fingerprint": hex.EncodeToString(r.Fingerprint[:]),
			"ndc":         r.NDC,
			"batchId":     b.ID,
			"severity":    strconv.FormatUint(b.Severity, 10),
			"reason":      b.RecallReason,
		},
	}
}

func newExpiredDispensedEvent(r *Record, now uint64) *types.Event {
	return &types.Event{
		Type: EventTypeExpiredDrugDispensed,
		Attributes: map[string]string{
			"fingerprint":    hex.EncodeToString(r.Fingerprint[:]),
			"ndc":            r.NDC,
			"expirationDate": strconv.FormatUint(r.ExpirationDate, 10),
			"observedAt":     strconv.FormatUint(now, 10),
		},
	}
}

func newRecallIssuedEvent(b *Batch, affected uint64) *types.Event {
	return &types.Event{
		Type: EventTypeRecallIssued,
		Attributes: map[string]string{
			"batchId":        b.ID,
			"ndc":            b.NDC,
			"batchNumber":    b.BatchNumber,
			"severity":       strconv.FormatUint(b.Severity, 10),
			"reason":         b.RecallReason,
			"affectedClaims": strconv.FormatUint(affected, 10),
		},
	}
}
