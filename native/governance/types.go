package governance

import (
	"math/big"
	"strings"
)

// ProposalKind selects what a proposal changes once it passes.
type ProposalKind string

const (
	ProposalKindFeeAdjustment     ProposalKind = "FEE_ADJUSTMENT"
	ProposalKindOracleAdd         ProposalKind = "ORACLE_ADD"
	ProposalKindDisputeResolution ProposalKind = "DISPUTE_RESOLUTION"
	ProposalKindGeneral           ProposalKind = "GENERAL"
)

// Valid reports whether the kind is supported.
func (k ProposalKind) Valid() bool {
	switch k {
	case ProposalKindFeeAdjustment, ProposalKindOracleAdd, ProposalKindDisputeResolution, ProposalKindGeneral:
		return true
	default:
		return false
	}
}

// ParseProposalKind normalises user input into a ProposalKind.
func ParseProposalKind(value string) (ProposalKind, bool) {
	kind := ProposalKind(strings.ToUpper(strings.TrimSpace(value)))
	return kind, kind.Valid()
}

// ProposalStatus enumerates the lifecycle of a proposal. Every status other
// than ProposalStatusActive is terminal.
type ProposalStatus string

const (
	ProposalStatusNotFound     ProposalStatus = "NOT_FOUND"
	ProposalStatusActive       ProposalStatus = "ACTIVE"
	ProposalStatusPassed       ProposalStatus = "PASSED"
	ProposalStatusRejected     ProposalStatus = "REJECTED"
	ProposalStatusQuorumNotMet ProposalStatus = "QUORUM_NOT_MET"
)

// Default thresholds applied until Initialize runs.
const (
	DefaultQuorumThreshold   uint64 = 10_000
	DefaultApprovalThreshold uint64 = 6_667
	DefaultReputationFloor   uint64 = 100

	minApprovalBps uint64 = 5_000
	maxApprovalBps uint64 = 10_000
)

// Params holds the voting thresholds.
type Params struct {
	QuorumThreshold   uint64
	ApprovalThreshold uint64
}

// Proposal is the persisted proposal record.
type Proposal struct {
	ID          uint64
	Kind        ProposalKind
	Description string
	TargetValue uint64
	Proposer    [20]byte
	CreatedAt   uint64
	YesVotes    uint64
	NoVotes     uint64
	Status      ProposalStatus
	FinalizedAt uint64
	ApprovalBps uint64
	Executed    bool
}

// VoteRecord is one entry of a voter's history.
type VoteRecord struct {
	ProposalID uint64
	Support    bool
	Power      uint64
	Timestamp  uint64
}

// OracleEntry tracks an oracle's standing.
type OracleEntry struct {
	Address    [20]byte
	Approved   bool
	Reputation uint64
	UpdatedAt  uint64
}

// Dispute is a claim challenge awaiting off-chain resolution.
type Dispute struct {
	Fingerprint [32]byte
	Disputer    [20]byte
	Reason      string
	Amount      *big.Int
	FiledAt     uint64
}

// Executor applies a passed proposal.
type Executor func(p *Proposal) error
