package governance

import (
	"encoding/hex"
	"strconv"

	"pharmaclear/core/types"
)

const (
	EventTypeInitialized      = "gov.initialized"
	EventTypeProposed         = "gov.proposed"
	EventTypeVoteCast         = "gov.vote"
	EventTypeFinalized        = "gov.finalized"
	EventTypeExecuted         = "gov.executed"
	EventTypeOracleRegistered = "gov.oracle_registered"
	EventTypeOracleSlashed    = "gov.oracle_slashed"
	EventTypeOracleRemoved    = "gov.oracle_removed"
	EventTypeDisputeFiled     = "gov.dispute_filed"
)

type governanceEvent struct {
	evt *types.Event
}

func (g governanceEvent) EventType() string {
	if g.evt == nil {
		return ""
	}
	return g.evt.Type
}

func (g governanceEvent) Event() *types.Event { return g.evt }

func newInitializedEvent(p *Params) *types.Event {
	return &types.Event{
		Type: EventTypeInitialized,
		Attributes: map[string]string{
			"quorum":      strconv.FormatUint(p.QuorumThreshold, 10),
			"approvalBps": strconv.FormatUint(p.ApprovalThreshold, 10),
		},
	}
}

func newProposedEvent(p *Proposal) *types.Event {
	attrs := map[string]string{
		"id":          strconv.FormatUint(p.ID, 10),
		"kind":        string(p.Kind),
		"proposer":    hex.EncodeToString(p.Proposer[:]),
		"description": p.Description,
	}
	if p.Kind == ProposalKindFeeAdjustment {
		attrs["targetValue"] = strconv.FormatUint(p.TargetValue, 10)
	}
	return &types.Event{Type: EventTypeProposed, Attributes: attrs}
}

func newVoteEvent(id uint64, voter [20]byte, v *VoteRecord) *types.Event {
	return &types.Event{
		Type: EventTypeVoteCast,
		Attributes: map[string]string{
			"id":      strconv.FormatUint(id, 10),
			"voter":   hex.EncodeToString(voter[:]),
			"support": strconv.FormatBool(v.Support),
			"power":   strconv.FormatUint(v.Power, 10),
		},
	}
}

func newFinalizedEvent(p *Proposal) *types.Event {
	return &types.Event{
		Type: EventTypeFinalized,
		Attributes: map[string]string{
			"id":          strconv.FormatUint(p.ID, 10),
			"status":      string(p.Status),
			"yesVotes":    strconv.FormatUint(p.YesVotes, 10),
			"noVotes":     strconv.FormatUint(p.NoVotes, 10),
			"approvalBps": strconv.FormatUint(p.ApprovalBps, 10),
		},
	}
}

func newExecutedEvent(p *Proposal) *types.Event {
	return &types.Event{
		Type: EventTypeExecuted,
		Attributes: map[string]string{
			"id":          strconv.FormatUint(p.ID, 10),
			"kind":        string(p.Kind),
			"targetValue": strconv.FormatUint(p.TargetValue, 10),
		},
	}
}

func newOracleEvent(typ string, o *OracleEntry, reason string) *types.Event {
	attrs := map[string]string{
		"oracle":     hex.EncodeToString(o.Address[:]),
		"reputation": strconv.FormatUint(o.Reputation, 10),
		"approved":   strconv.FormatBool(o.Approved),
	}
	if reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: typ, Attributes: attrs}
}

func newDisputeFiledEvent(d *Dispute) *types.Event {
	return &types.Event{
		Type: EventTypeDisputeFiled,
		Attributes: map[string]string{
			"fingerprint": hex.EncodeToString(d.Fingerprint[:]),
			"disputer":    hex.EncodeToString(d.Disputer[:]),
			"reason":      d.Reason,
			"amount":      d.Amount.String(),
		},
	}
}
