package governance

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"pharmaclear/core/events"
	"pharmaclear/core/types"
)

var (
	ErrInvalidApprovalThreshold = errors.New("governance: approval threshold must be within 5000..10000 bps")
	ErrInvalidProposalKind      = errors.New("governance: unsupported proposal kind")
	ErrProposalNotFound         = errors.New("governance: proposal not found")
	ErrProposalNotActive        = errors.New("governance: proposal not active")
	ErrNoVotingPower            = errors.New("governance: no voting power")
	ErrProposalNotPassed        = errors.New("governance: proposal not passed")
	ErrAlreadyExecuted          = errors.New("governance: proposal already executed")
	ErrNoExecutor               = errors.New("governance: no executor for proposal kind")
	ErrTallyOverflow            = errors.New("governance: tally overflow")
	ErrInvalidOracle            = errors.New("governance: oracle address required")
	ErrOracleNotFound           = errors.New("governance: oracle not registered")
	ErrInvalidDispute           = errors.New("governance: invalid dispute")

	errStateNotConfigured = errors.New("governance: state not configured")
)

type governanceState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Engine runs proposal voting, the oracle registry and dispute intake.
type Engine struct {
	state           governanceState
	emitter         events.Emitter
	nowFn           func() time.Time
	reputationFloor uint64
	executors       map[ProposalKind]Executor
}

// NewEngine constructs a governance engine with default no-op dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter:         events.NoopEmitter{},
		nowFn:           func() time.Time { return time.Now().UTC() },
		reputationFloor: DefaultReputationFloor,
		executors:       make(map[ProposalKind]Executor),
	}
}

// SetState wires the engine to the state backend providing persistence helpers.
func (e *Engine) SetState(state governanceState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used to stamp proposals. Nil restores the
// default UTC clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

// SetReputationFloor sets the reputation below which an oracle loses approval.
func (e *Engine) SetReputationFloor(floor uint64) { e.reputationFloor = floor }

// RegisterExecutor installs the executor used for passed proposals of kind.
// A nil executor removes the registration.
func (e *Engine) RegisterExecutor(kind ProposalKind, exec Executor) {
	if exec == nil {
		delete(e.executors, kind)
		return
	}
	e.executors[kind] = exec
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(governanceEvent{evt: event})
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := e.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// Params returns the active thresholds, falling back to the defaults when
// Initialize has not run.
func (e *Engine) Params() (*Params, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	params := Params{QuorumThreshold: DefaultQuorumThreshold, ApprovalThreshold: DefaultApprovalThreshold}
	if _, err := e.state.KVGet(paramsKey, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

// Initialize replaces the quorum and approval thresholds.
func (e *Engine) Initialize(quorum, approvalBps uint64) (*Params, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	if approvalBps < minApprovalBps || approvalBps > maxApprovalBps {
		return nil, ErrInvalidApprovalThreshold
	}
	params := &Params{QuorumThreshold: quorum, ApprovalThreshold: approvalBps}
	if err := e.state.KVPut(paramsKey, params); err != nil {
		return nil, err
	}
	e.emit(newInitializedEvent(params))
	return params, nil
}

// CreateProposal allocates the next proposal id and opens the proposal for
// voting. The target value is only kept for fee adjustments.
func (e *Engine) CreateProposal(proposer [20]byte, kind ProposalKind, description string, target uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errStateNotConfigured
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidProposalKind, kind)
	}
	var counter uint64
	if _, err := e.state.KVGet(proposalCounterKey, &counter); err != nil {
		return 0, err
	}
	if counter == math.MaxUint64 {
		return 0, fmt.Errorf("governance: proposal counter exhausted")
	}
	counter++
	if err := e.state.KVPut(proposalCounterKey, counter); err != nil {
		return 0, err
	}
	proposal := &Proposal{
		ID:          counter,
		Kind:        kind,
		Description: strings.TrimSpace(description),
		Proposer:    proposer,
		CreatedAt:   e.now(),
		Status:      ProposalStatusActive,
	}
	if kind == ProposalKindFeeAdjustment {
		proposal.TargetValue = target
	}
	if err := e.putProposal(proposal); err != nil {
		return 0, err
	}
	e.emit(newProposedEvent(proposal))
	return counter, nil
}

// Vote adds power to the yes or no tally of an active proposal and appends
// the ballot to the voter's history. Repeat votes accumulate.
func (e *Engine) Vote(id uint64, voter [20]byte, support bool, power uint64) error {
	proposal, err := e.loadProposal(id)
	if err != nil {
		return err
	}
	if proposal.Status != ProposalStatusActive {
		return ErrProposalNotActive
	}
	if power == 0 {
		return ErrNoVotingPower
	}
	if support {
		if math.MaxUint64-proposal.YesVotes < power {
			return ErrTallyOverflow
		}
		proposal.YesVotes += power
	} else {
		if math.MaxUint64-proposal.NoVotes < power {
			return ErrTallyOverflow
		}
		proposal.NoVotes += power
	}
	if err := e.putProposal(proposal); err != nil {
		return err
	}
	record := &VoteRecord{ProposalID: id, Support: support, Power: power, Timestamp: e.now()}
	if err := e.appendHistory(voter, record); err != nil {
		return err
	}
	e.emit(newVoteEvent(id, voter, record))
	return nil
}

func (e *Engine) appendHistory(voter [20]byte, record *VoteRecord) error {
	var count uint64
	if _, err := e.state.KVGet(voterHistoryCountKey(voter), &count); err != nil {
		return err
	}
	if err := e.state.KVPut(voterHistoryEntryKey(voter, count), record); err != nil {
		return err
	}
	return e.state.KVPut(voterHistoryCountKey(voter), count+1)
}

// Finalize closes voting and assigns the terminal status.
func (e *Engine) Finalize(id uint64) (ProposalStatus, error) {
	proposal, err := e.loadProposal(id)
	if err != nil {
		return ProposalStatusNotFound, err
	}
	if proposal.Status != ProposalStatusActive {
		return proposal.Status, ErrProposalNotActive
	}
	params, err := e.Params()
	if err != nil {
		return ProposalStatusActive, err
	}
	if math.MaxUint64-proposal.YesVotes < proposal.NoVotes {
		return ProposalStatusActive, ErrTallyOverflow
	}
	total := proposal.YesVotes + proposal.NoVotes
	switch {
	case total < params.QuorumThreshold || total == 0:
		proposal.Status = ProposalStatusQuorumNotMet
	default:
		pct := new(big.Int).SetUint64(proposal.YesVotes)
		pct.Mul(pct, big.NewInt(10_000))
		pct.Quo(pct, new(big.Int).SetUint64(total))
		proposal.ApprovalBps = pct.Uint64()
		if proposal.ApprovalBps >= params.ApprovalThreshold {
			proposal.Status = ProposalStatusPassed
		} else {
			proposal.Status = ProposalStatusRejected
		}
	}
	proposal.FinalizedAt = e.now()
	if err := e.putProposal(proposal); err != nil {
		return ProposalStatusActive, err
	}
	e.emit(newFinalizedEvent(proposal))
	return proposal.Status, nil
}

// Execute runs the registered executor for a passed proposal once.
func (e *Engine) Execute(id uint64) (*Proposal, error) {
	proposal, err := e.loadProposal(id)
	if err != nil {
		return nil, err
	}
	if proposal.Status != ProposalStatusPassed {
		return nil, ErrProposalNotPassed
	}
	if proposal.Executed {
		return nil, ErrAlreadyExecuted
	}
	exec, ok := e.executors[proposal.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoExecutor, proposal.Kind)
	}
	if err := exec(proposal); err != nil {
		return nil, fmt.Errorf("governance: execute proposal %d: %w", id, err)
	}
	proposal.Executed = true
	if err := e.putProposal(proposal); err != nil {
		return nil, err
	}
	e.emit(newExecutedEvent(proposal))
	return proposal, nil
}

// ProposalStatus returns the status, or ProposalStatusNotFound.
func (e *Engine) ProposalStatus(id uint64) (ProposalStatus, error) {
	proposal, err := e.loadProposal(id)
	if errors.Is(err, ErrProposalNotFound) {
		return ProposalStatusNotFound, nil
	}
	if err != nil {
		return "", err
	}
	return proposal.Status, nil
}

// VoteCount returns the yes and no tallies. Unknown proposals report zeros.
func (e *Engine) VoteCount(id uint64) (yes, no uint64, err error) {
	proposal, err := e.loadProposal(id)
	if errors.Is(err, ErrProposalNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return proposal.YesVotes, proposal.NoVotes, nil
}

// Proposal returns the stored proposal.
func (e *Engine) Proposal(id uint64) (*Proposal, error) {
	return e.loadProposal(id)
}

// VoterHistory returns the voter's ballots in the order they were cast.
func (e *Engine) VoterHistory(voter [20]byte) ([]VoteRecord, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	var count uint64
	if _, err := e.state.KVGet(voterHistoryCountKey(voter), &count); err != nil {
		return nil, err
	}
	history := make([]VoteRecord, 0, count)
	for i := uint64(0); i < count; i++ {
		var record VoteRecord
		ok, err := e.state.KVGet(voterHistoryEntryKey(voter, i), &record)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("governance: voter history entry %d missing", i)
		}
		history = append(history, record)
	}
	return history, nil
}

// RegisterOracle approves an oracle with the given starting reputation.
func (e *Engine) RegisterOracle(addr [20]byte, reputation uint64) (*OracleEntry, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	if addr == ([20]byte{}) {
		return nil, ErrInvalidOracle
	}
	entry := &OracleEntry{Address: addr, Approved: true, Reputation: reputation, UpdatedAt: e.now()}
	if err := e.state.KVPut(oracleKey(addr), entry); err != nil {
		return nil, err
	}
	e.emit(newOracleEvent(EventTypeOracleRegistered, entry, ""))
	return entry, nil
}

// SlashOracle reduces reputation, flooring at zero, and revokes approval once
// reputation falls below the floor.
func (e *Engine) SlashOracle(addr [20]byte, amount uint64, reason string) (*OracleEntry, error) {
	entry, ok, err := e.Oracle(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOracleNotFound
	}
	if entry.Reputation < amount {
		entry.Reputation = 0
	} else {
		entry.Reputation -= amount
	}
	reason = strings.TrimSpace(reason)
	removed := entry.Approved && entry.Reputation < e.reputationFloor
	if entry.Reputation < e.reputationFloor {
		entry.Approved = false
	}
	entry.UpdatedAt = e.now()
	if err := e.state.KVPut(oracleKey(addr), entry); err != nil {
		return nil, err
	}
	if removed {
		e.emit(newOracleEvent(EventTypeOracleRemoved, entry, reason))
	}
	e.emit(newOracleEvent(EventTypeOracleSlashed, entry, reason))
	return entry, nil
}

// Oracle returns the registry entry for addr.
func (e *Engine) Oracle(addr [20]byte) (*OracleEntry, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errStateNotConfigured
	}
	var entry OracleEntry
	ok, err := e.state.KVGet(oracleKey(addr), &entry)
	if err != nil || !ok {
		return nil, false, err
	}
	return &entry, true, nil
}

// IsApprovedOracle reports whether addr is currently approved.
func (e *Engine) IsApprovedOracle(addr [20]byte) (bool, error) {
	entry, ok, err := e.Oracle(addr)
	if err != nil || !ok {
		return false, err
	}
	return entry.Approved, nil
}

// FileDispute records a dispute against a claim. A later filing for the same
// fingerprint replaces the earlier one.
func (e *Engine) FileDispute(fp [32]byte, disputer [20]byte, reason string, amount *big.Int) (*Dispute, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	reason = strings.TrimSpace(reason)
	if fp == ([32]byte{}) || disputer == ([20]byte{}) || reason == "" {
		return nil, ErrInvalidDispute
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount must be non-negative", ErrInvalidDispute)
	}
	dispute := &Dispute{
		Fingerprint: fp,
		Disputer:    disputer,
		Reason:      reason,
		Amount:      new(big.Int).Set(amount),
		FiledAt:     e.now(),
	}
	if err := e.state.KVPut(disputeKey(fp), dispute); err != nil {
		return nil, err
	}
	e.emit(newDisputeFiledEvent(dispute))
	return dispute, nil
}

// Dispute returns the dispute filed against fp.
func (e *Engine) Dispute(fp [32]byte) (*Dispute, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errStateNotConfigured
	}
	var dispute Dispute
	ok, err := e.state.KVGet(disputeKey(fp), &dispute)
	if err != nil || !ok {
		return nil, false, err
	}
	return &dispute, true, nil
}

func (e *Engine) loadProposal(id uint64) (*Proposal, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	var proposal Proposal
	ok, err := e.state.KVGet(proposalKey(id), &proposal)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrProposalNotFound, id)
	}
	return &proposal, nil
}

func (e *Engine) putProposal(p *Proposal) error {
	return e.state.KVPut(proposalKey(p.ID), p)
}
