package core

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"

	"pharmaclear/core/host"
	"pharmaclear/native/claims"
	"pharmaclear/native/crossborder"
	"pharmaclear/native/governance"
	"pharmaclear/native/rebate"
	"pharmaclear/native/settlement"
)

func (r *Runtime) requireOperator(ledger host.Ledger) error {
	caller, err := host.Caller(ledger)
	if err != nil {
		return err
	}
	if caller != r.operator {
		return fmt.Errorf("%w: %x", ErrUnauthorized, caller)
	}
	return nil
}

// SubmitClaim records a base claim sent by the group's caller.
func (r *Runtime) SubmitClaim(group Group, id claims.Identity, proof []byte) ([32]byte, error) {
	var fp [32]byte
	err := r.Execute(group, "claims.Submit", func(ledger host.Ledger) error {
		caller, err := host.Caller(ledger)
		if err != nil {
			return err
		}
		fp, err = r.Claims.Submit(caller, id, proof)
		return err
	})
	if err == nil {
		r.logger.Debug("claim submitted",
			slog.String("fingerprint", hex.EncodeToString(fp[:])),
			slog.String("ndc", id.NDC),
			slog.String("npi", id.NPI))
	}
	return fp, err
}

// SubmitEnhancedClaim records a claim with supply-chain provenance.
func (r *Runtime) SubmitEnhancedClaim(group Group, id claims.Identity, proof []byte, prov claims.Provenance) ([32]byte, error) {
	var fp [32]byte
	err := r.Execute(group, "claims.SubmitEnhanced", func(ledger host.Ledger) error {
		caller, err := host.Caller(ledger)
		if err != nil {
			return err
		}
		fp, err = r.Claims.SubmitEnhanced(caller, id, proof, prov)
		return err
	})
	return fp, err
}

// IssueRecall flags a batch as recalled and writes the recall audit record.
// Operator only.
func (r *Runtime) IssueRecall(group Group, ndc, batchNumber, reason string, severity uint64) (uint64, error) {
	var affected uint64
	err := r.Execute(group, "claims.IssueRecall", func(ledger host.Ledger) error {
		if err := r.requireOperator(ledger); err != nil {
			return err
		}
		var err error
		affected, err = r.Claims.IssueRecall(ndc, batchNumber, reason, severity)
		if err != nil {
			return err
		}
		_, err = r.Audit.LogRecall(claims.BatchID(ndc, batchNumber), reason, severity, affected)
		return err
	})
	return affected, err
}

// RegisterSchedule registers the caller's rebate schedule. A schedule that
// excludes biosimilars is logged as a formulary lock.
func (r *Runtime) RegisterSchedule(group Group, baseBps, threshold, bonusBps uint64, excludesBiosimilars bool) (*rebate.Schedule, error) {
	var schedule *rebate.Schedule
	err := r.Execute(group, "rebate.RegisterSchedule", func(ledger host.Ledger) error {
		manufacturer, err := host.Caller(ledger)
		if err != nil {
			return err
		}
		schedule, err = r.Rebates.RegisterSchedule(manufacturer, baseBps, threshold, bonusBps, excludesBiosimilars)
		if err != nil {
			return err
		}
		if excludesBiosimilars {
			_, err = r.Audit.LogFormularyLock(manufacturer, "", rebate.ExclusionTypeBiosimilar)
		}
		return err
	})
	return schedule, err
}

// Accrue computes the rebate accrual for a recorded claim. Bonus-tier accruals
// are logged as volume milestones.
func (r *Runtime) Accrue(group Group, fp [32]byte, manufacturer [20]byte, wac *big.Int, volume uint64) (*rebate.Accrual, error) {
	var accrual *rebate.Accrual
	err := r.Execute(group, "rebate.CalculateAccrual", func(host.Ledger) error {
		known, err := r.Claims.Verify(fp)
		if err != nil {
			return err
		}
		if !known {
			return fmt.Errorf("%w: %s", claims.ErrClaimNotFound, claims.FormatFingerprint(fp))
		}
		accrual, err = r.Rebates.CalculateAccrual(fp, manufacturer, wac, volume)
		if err != nil {
			return err
		}
		if accrual.Bonus {
			_, err = r.Audit.LogVolumeMilestone(manufacturer, volume, rebate.MilestoneTypeBonusTierUnlock)
		}
		return err
	})
	return accrual, err
}

// InitializeSettlement configures the payout asset and admin fee cap. Operator only.
func (r *Runtime) InitializeSettlement(group Group, assetID, adminFeeCapBps uint64) (*settlement.Params, error) {
	var params *settlement.Params
	err := r.Execute(group, "settlement.Initialize", func(ledger host.Ledger) error {
		if err := r.requireOperator(ledger); err != nil {
			return err
		}
		var err error
		params, err = r.Settlement.Initialize(assetID, adminFeeCapBps)
		return err
	})
	return params, err
}

// FundEscrow credits the escrow with the asset transfer at txIndex.
func (r *Runtime) FundEscrow(group Group, txIndex int) (*big.Int, error) {
	var amount *big.Int
	err := r.Execute(group, "settlement.FundEscrow", func(ledger host.Ledger) error {
		var err error
		amount, err = r.Settlement.FundEscrow(ledger, txIndex)
		return err
	})
	return amount, err
}

// ClaimRebate settles an explicit amount and writes the settlement audit record.
func (r *Runtime) ClaimRebate(group Group, req settlement.ClaimRequest) (*settlement.Result, error) {
	var result *settlement.Result
	err := r.Execute(group, "settlement.ClaimRebate", func(ledger host.Ledger) error {
		var err error
		result, err = r.claimRebate(ledger, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.metrics.RecordSettlement(result.AssetID, result.Payout, result.Fee)
	return result, nil
}

// SettleAccrual pays out the accrual recorded for fp.
func (r *Runtime) SettleAccrual(group Group, fp [32]byte, pharmacy, feeCollector [20]byte) (*settlement.Result, error) {
	var result *settlement.Result
	err := r.Execute(group, "settlement.SettleAccrual", func(ledger host.Ledger) error {
		record, ok, err := r.Rebates.AccrualRecord(fp)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrAccrualNotFound, claims.FormatFingerprint(fp))
		}
		result, err = r.claimRebate(ledger, settlement.ClaimRequest{
			Fingerprint:   fp,
			Amount:        record.Amount,
			Pharmacy:      pharmacy,
			FeeCollector:  feeCollector,
			OracleTxIndex: r.oracleTxIndex,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	r.metrics.RecordSettlement(result.AssetID, result.Payout, result.Fee)
	return result, nil
}

func (r *Runtime) claimRebate(ledger host.Ledger, req settlement.ClaimRequest) (*settlement.Result, error) {
	result, err := r.Settlement.ClaimRebate(ledger, req)
	if err != nil {
		return nil, err
	}
	if _, err := r.Audit.LogSettlement(result.Fingerprint, result.Pharmacy, result.Payout, result.Fee); err != nil {
		return nil, err
	}
	return result, nil
}

// SettleCrossBorder converts and pays a USD rebate in the pharmacy's
// currency. The fingerprint must belong to a recorded claim and the group must
// carry the oracle stake at req.OracleTxIndex.
func (r *Runtime) SettleCrossBorder(group Group, req crossborder.Request) (*crossborder.Settlement, error) {
	var record *crossborder.Settlement
	err := r.Execute(group, "crossborder.Settle", func(ledger host.Ledger) error {
		known, err := r.Claims.Verify(req.Fingerprint)
		if err != nil {
			return err
		}
		if !known {
			return fmt.Errorf("%w: %s", claims.ErrClaimNotFound, claims.FormatFingerprint(req.Fingerprint))
		}
		record, err = r.CrossBorder.Settle(ledger, req)
		if err != nil {
			return err
		}
		_, err = r.Audit.LogSettlement(record.Fingerprint, record.Pharmacy, record.Payout, record.Fee)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.metrics.RecordSettlement(record.AssetID, record.Payout, record.Fee)
	return record, nil
}

// RegisterCurrency adds a settlement currency. Operator only.
func (r *Runtime) RegisterCurrency(group Group, code string, assetID uint64) (*crossborder.Currency, error) {
	var currency *crossborder.Currency
	err := r.Execute(group, "crossborder.RegisterCurrency", func(ledger host.Ledger) error {
		if err := r.requireOperator(ledger); err != nil {
			return err
		}
		var err error
		currency, err = r.CrossBorder.RegisterCurrency(code, assetID)
		return err
	})
	return currency, err
}

// UpdateExchangeRate publishes a rate. The operator or an approved oracle may call it.
func (r *Runtime) UpdateExchangeRate(group Group, from, to string, rate uint64) (*crossborder.ExchangeRate, error) {
	var updated *crossborder.ExchangeRate
	err := r.Execute(group, "crossborder.UpdateExchangeRate", func(ledger host.Ledger) error {
		caller, err := host.Caller(ledger)
		if err != nil {
			return err
		}
		if caller != r.operator {
			approved, err := r.Governance.IsApprovedOracle(caller)
			if err != nil {
				return err
			}
			if !approved {
				return fmt.Errorf("%w: %x is not an approved oracle", ErrUnauthorized, caller)
			}
		}
		updated, err = r.CrossBorder.UpdateExchangeRate(from, to, rate)
		return err
	})
	return updated, err
}

// SetJurisdiction registers a pharmacy's jurisdiction and KYC status. Operator only.
func (r *Runtime) SetJurisdiction(group Group, pharmacy [20]byte, code string, feeBps uint64, kycVerified bool) (*crossborder.PharmacyProfile, error) {
	var profile *crossborder.PharmacyProfile
	err := r.Execute(group, "crossborder.SetJurisdiction", func(ledger host.Ledger) error {
		if err := r.requireOperator(ledger); err != nil {
			return err
		}
		var err error
		profile, err = r.CrossBorder.SetJurisdiction(pharmacy, code, feeBps, kycVerified)
		return err
	})
	return profile, err
}

// FlagAMLRisk marks a pharmacy for review. Operator only.
func (r *Runtime) FlagAMLRisk(group Group, pharmacy [20]byte, level, reason string) (*crossborder.PharmacyProfile, error) {
	var profile *crossborder.PharmacyProfile
	err := r.Execute(group, "crossborder.FlagAMLRisk", func(ledger host.Ledger) error {
		if err := r.requireOperator(ledger); err != nil {
			return err
		}
		var err error
		profile, err = r.CrossBorder.FlagAMLRisk(pharmacy, level, reason)
		return err
	})
	return profile, err
}

// InitializeGovernance sets quorum and approval thresholds. Operator only.
func (r *Runtime) InitializeGovernance(group Group, quorum, approvalBps uint64) (*governance.Params, error) {
	var params *governance.Params
	err := r.Execute(group, "governance.Initialize", func(ledger host.Ledger) error {
		if err := r.requireOperator(ledger); err != nil {
			return err
		}
		var err error
		params, err = r.Governance.Initialize(quorum, approvalBps)
		return err
	})
	return params, err
}

// Propose opens a proposal on behalf of the caller.
func (r *Runtime) Propose(group Group, kind governance.ProposalKind, description string, target uint64) (uint64, error) {
	var id uint64
	err := r.Execute(group, "governance.CreateProposal", func(ledger host.Ledger) error {
		proposer, err := host.Caller(ledger)
		if err != nil {
			return err
		}
		id, err = r.Governance.CreateProposal(proposer, kind, description, target)
		return err
	})
	return id, err
}

// Vote casts the caller's vote.
func (r *Runtime) Vote(group Group, id uint64, support bool, power uint64) error {
	return r.Execute(group, "governance.Vote", func(ledger host.Ledger) error {
		voter, err := host.Caller(ledger)
		if err != nil {
			return err
		}
		return r.Governance.Vote(id, voter, support, power)
	})
}

// Finalize closes voting on a proposal.
func (r *Runtime) Finalize(group Group, id uint64) (governance.ProposalStatus, error) {
	var status governance.ProposalStatus
	err := r.Execute(group, "governance.Finalize", func(host.Ledger) error {
		var err error
		status, err = r.Governance.Finalize(id)
		return err
	})
	return status, err
}

// ExecuteProposal applies a passed proposal.
func (r *Runtime) ExecuteProposal(group Group, id uint64) (*governance.Proposal, error) {
	var proposal *governance.Proposal
	err := r.Execute(group, "governance.Execute", func(host.Ledger) error {
		var err error
		proposal, err = r.Governance.Execute(id)
		return err
	})
	return proposal, err
}

// RegisterOracle approves an oracle. Operator only.
func (r *Runtime) RegisterOracle(group Group, oracle [20]byte, reputation uint64) (*governance.OracleEntry, error) {
	var entry *governance.OracleEntry
	err := r.Execute(group, "governance.RegisterOracle", func(ledger host.Ledger) error {
		if err := r.requireOperator(ledger); err != nil {
			return err
		}
		var err error
		entry, err = r.Governance.RegisterOracle(oracle, reputation)
		return err
	})
	return entry, err
}

// SlashOracle reduces an oracle's reputation. Operator only.
func (r *Runtime) SlashOracle(group Group, oracle [20]byte, amount uint64, reason string) (*governance.OracleEntry, error) {
	var entry *governance.OracleEntry
	err := r.Execute(group, "governance.SlashOracle", func(ledger host.Ledger) error {
		if err := r.requireOperator(ledger); err != nil {
			return err
		}
		var err error
		entry, err = r.Governance.SlashOracle(oracle, amount, reason)
		return err
	})
	return entry, err
}

// FileDispute records the caller's dispute and its audit entry.
func (r *Runtime) FileDispute(group Group, fp [32]byte, reason string, amount *big.Int) (*governance.Dispute, error) {
	var dispute *governance.Dispute
	err := r.Execute(group, "governance.FileDispute", func(ledger host.Ledger) error {
		disputer, err := host.Caller(ledger)
		if err != nil {
			return err
		}
		dispute, err = r.Governance.FileDispute(fp, disputer, reason, amount)
		if err != nil {
			return err
		}
		_, err = r.Audit.LogDispute(fp, disputer, reason, amount)
		return err
	})
	return dispute, err
}
