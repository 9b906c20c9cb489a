package audit

import (
	"encoding/hex"
	"strconv"

	"pharmaclear/core/types"
)

const (
	EventTypeEntry           = "audit.entry"
	EventTypeSettlement      = "audit.settlement"
	EventTypeDispute         = "audit.dispute"
	EventTypeAntitrustFlag   = "audit.antitrust_flag"
	EventTypeVolumeMilestone = "audit.volume_milestone"
	EventTypeRecall          = "audit.recall"
)

type auditEvent struct {
	evt *types.Event
}

func (e auditEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e auditEvent) Event() *types.Event { return e.evt }

func withDigest(evt *types.Event, digest [32]byte, ts uint64) *types.Event {
	evt.Attributes["digest"] = hex.EncodeToString(digest[:])
	evt.Attributes["timestamp"] = strconv.FormatUint(ts, 10)
	return evt
}

func newEntryEvent(e *Entry, digest [32]byte) *types.Event {
	return withDigest(&types.Event{
		Type: EventTypeEntry,
		Attributes: map[string]string{
			"category":     e.Category,
			"fingerprint":  hex.EncodeToString(e.Fingerprint[:]),
			"pharmacy":     hex.EncodeToString(e.Pharmacy[:]),
			"pbm":          hex.EncodeToString(e.PBM[:]),
			"manufacturer": hex.EncodeToString(e.Manufacturer[:]),
			"amount":       e.Amount.String(),
			"fee":          e.Fee.String(),
			"metadata":     e.Metadata,
		},
	}, digest, e.Timestamp)
}

func newSettlementEvent(r *SettlementRecord, digest [32]byte) *types.Event {
	return withDigest(&types.Event{
		Type: EventTypeSettlement,
		Attributes: map[string]string{
			"fingerprint": hex.EncodeToString(r.Fingerprint[:]),
			"pharmacy":    hex.EncodeToString(r.Pharmacy[:]),
			"payout":      r.Payout.String(),
			"fee":         r.Fee.String(),
			"total":       r.Total.String(),
		},
	}, digest, r.Timestamp)
}

func newDisputeEvent(r *DisputeRecord, digest [32]byte) *types.Event {
	return withDigest(&types.Event{
		Type: EventTypeDispute,
		Attributes: map[string]string{
			"fingerprint": hex.EncodeToString(r.Fingerprint[:]),
			"party":       hex.EncodeToString(r.Party[:]),
			"reason":      r.Reason,
			"amount":      r.Amount.String(),
		},
	}, digest, r.Timestamp)
}

func newAntitrustEvent(r *FormularyLockRecord, digest [32]byte) *types.Event {
	return withDigest(&types.Event{
		Type: EventTypeAntitrustFlag,
		Attributes: map[string]string{
			"manufacturer":  hex.EncodeToString(r.Manufacturer[:]),
			"ndc":           r.NDC,
			"exclusionType": r.ExclusionType,
		},
	}, digest, r.Timestamp)
}

func newMilestoneEvent(r *MilestoneRecord, digest [32]byte) *types.Event {
	return withDigest(&types.Event{
		Type: EventTypeVolumeMilestone,
		Attributes: map[string]string{
			"manufacturer":  hex.EncodeToString(r.Manufacturer[:]),
			"volume":        strconv.FormatUint(r.Volume, 10),
			"milestoneType": r.MilestoneType,
		},
	}, digest, r.Timestamp)
}

func newRecallEvent(r *RecallRecord, digest [32]byte) *types.Event {
	return withDigest(&types.Event{
		Type: EventTypeRecall,
		Attributes: map[string]string{
			"batchId":        r.BatchID,
			"reason":         r.Reason,
			"severity":       strconv.FormatUint(r.Severity, 10),
			"affectedClaims": strconv.FormatUint(r.AffectedClaims, 10),
		},
	}, digest, r.Timestamp)
}
