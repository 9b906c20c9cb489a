package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"pharmaclear/core"
	"pharmaclear/core/host"
	"pharmaclear/native/claims"
	"pharmaclear/native/crossborder"
	"pharmaclear/native/governance"
	"pharmaclear/native/settlement"
)

type command struct {
	usage string
	run   func(a *app, args []string, stderr io.Writer) (interface{}, error)
}

var commands = map[string]command{
	"init":              {"initialize settlement and governance from the config", runInit},
	"faucet":            {"credit a simulated account (--to --asset --amount)", runFaucet},
	"fund-escrow":       {"transfer settlement asset into the application (--from --amount)", runFundEscrow},
	"submit-claim":      {"record a dispensing claim (--from --claim-id --ndc --npi --dispense-date [--batch --lot --expiry --country])", runSubmitClaim},
	"recall":            {"recall a batch (--ndc --batch --reason --severity)", runRecall},
	"claim":             {"show a claim (--fingerprint [--proof])", runShowClaim},
	"register-schedule": {"register the caller's rebate schedule (--from --base-bps --threshold --bonus-bps [--exclude-biosimilars])", runRegisterSchedule},
	"accrue":            {"accrue a rebate for a claim (--from --fingerprint --wac --volume)", runAccrue},
	"settle":            {"settle a claim's accrual or an explicit amount (--fingerprint --pharmacy [--amount --fee-collector --oracle --stake])", runSettle},
	"xborder":           {"cross-border registry and settlement (currency|rate|jurisdiction|flag|settle|estimate)", runCrossBorder},
	"gov":               {"governance (init|propose|vote|finalize|execute|oracle|slash|dispute|show)", runGovernance},
	"status":            {"show state root, parameters and balances", runStatus},
	"export":            {"export indexed settlements as JSONL, CSV and Parquet (--out)", runExport},
}

func printUsage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "Usage: pharmaclear [--config path] <command> [flags]")
	fmt.Fprintln(w, "Commands:")
	for _, name := range names {
		fmt.Fprintf(w, "  %-18s %s\n", name, commands[name].usage)
	}
}

func runInit(a *app, args []string, stderr io.Writer) (interface{}, error) {
	if err := parseFlags(newFlagSet("init", stderr), args); err != nil {
		return nil, err
	}
	group, err := a.call(a.operator)
	if err != nil {
		return nil, err
	}
	params, err := a.rt.InitializeSettlement(group, a.cfg.Settlement.AssetID, a.cfg.Settlement.AdminFeeCapBps)
	if err := a.commit(err); err != nil {
		return nil, err
	}
	group, err = a.call(a.operator)
	if err != nil {
		return nil, err
	}
	gov, err := a.rt.InitializeGovernance(group, a.cfg.Governance.QuorumThreshold, a.cfg.Governance.ApprovalThresholdBps)
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"assetId":           params.AssetID,
		"adminFeeCapBps":    params.AdminFeeCapBps,
		"quorumThreshold":   gov.QuorumThreshold,
		"approvalThreshold": gov.ApprovalThreshold,
		"operator":          bech32(a.operator),
		"application":       bech32(a.appAddr),
	}, nil
}

func runFaucet(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("faucet", stderr)
	to := fs.String("to", "", "recipient account")
	asset := fs.Uint64("asset", 0, "asset id (0 is the native asset)")
	amountStr := fs.String("amount", "", "amount in base units")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	recipient, err := parseAccount("to", *to, nil)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", *amountStr)
	if err != nil {
		return nil, err
	}
	if err := a.sim.Fund(recipient, *asset, amount); err != nil {
		return nil, err
	}
	if err := a.saveLedger(); err != nil {
		return nil, err
	}
	return map[string]string{"account": bech32(recipient), "balance": bigString(a.sim.Balance(recipient, *asset))}, nil
}

func runFundEscrow(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("fund-escrow", stderr)
	from := fs.String("from", "", "funding account (defaults to the operator)")
	amountStr := fs.String("amount", "", "amount of the settlement asset")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	funder, err := parseAccount("from", *from, &a.operator)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", *amountStr)
	if err != nil {
		return nil, err
	}
	group, err := a.sim.NewGroup([]*host.Transaction{
		{Type: host.TxTypeAssetTransfer, Sender: funder, Receiver: a.appAddr, Asset: a.cfg.Settlement.AssetID, Amount: amount},
		{Type: host.TxTypeAppCall, Sender: funder, Receiver: a.appAddr},
	}, 1)
	if err != nil {
		return nil, err
	}
	funded, err := a.rt.FundEscrow(group, 0)
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return map[string]string{
		"funded":  funded.String(),
		"balance": bigString(a.sim.Balance(a.appAddr, a.cfg.Settlement.AssetID)),
	}, nil
}

func runSubmitClaim(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("submit-claim", stderr)
	from := fs.String("from", "", "submitting pharmacy account (defaults to the operator)")
	claimID := fs.String("claim-id", "", "claim identifier")
	ndc := fs.String("ndc", "", "national drug code")
	npi := fs.String("npi", "", "pharmacy NPI")
	dispensed := fs.String("dispense-date", "", "dispense date (unix seconds or YYYY-MM-DD)")
	proof := fs.String("proof", "", "authorization proof")
	batch := fs.String("batch", "", "batch number (enables the enhanced claim)")
	lot := fs.String("lot", "", "lot number")
	expiry := fs.String("expiry", "", "expiration date (unix seconds or YYYY-MM-DD)")
	country := fs.String("country", "", "ISO 3166 country code")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	submitter, err := parseAccount("from", *from, &a.operator)
	if err != nil {
		return nil, err
	}
	dispenseDate, err := parseDate("dispense-date", *dispensed)
	if err != nil {
		return nil, err
	}
	id := claims.Identity{ClaimID: *claimID, NDC: *ndc, NPI: *npi, DispenseDate: dispenseDate}
	group, err := a.call(submitter)
	if err != nil {
		return nil, err
	}
	var fp [32]byte
	if strings.TrimSpace(*batch) == "" {
		fp, err = a.rt.SubmitClaim(group, id, []byte(*proof))
	} else {
		expiration, dateErr := parseDate("expiry", *expiry)
		if dateErr != nil {
			group.Discard()
			return nil, dateErr
		}
		fp, err = a.rt.SubmitEnhancedClaim(group, id, []byte(*proof), claims.Provenance{
			BatchNumber:    *batch,
			LotNumber:      *lot,
			ExpirationDate: expiration,
			CountryCode:    *country,
		})
	}
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return map[string]string{"fingerprint": hexFingerprint(fp)}, nil
}

func runRecall(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("recall", stderr)
	ndc := fs.String("ndc", "", "national drug code")
	batch := fs.String("batch", "", "batch number")
	reason := fs.String("reason", "", "recall reason")
	severity := fs.Uint64("severity", 0, "recall class (1-3)")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	group, err := a.call(a.operator)
	if err != nil {
		return nil, err
	}
	affected, err := a.rt.IssueRecall(group, *ndc, *batch, *reason, *severity)
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return map[string]uint64{"affectedClaims": affected}, nil
}

func runShowClaim(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("claim", stderr)
	fpStr := fs.String("fingerprint", "", "claim fingerprint (hex)")
	withProof := fs.Bool("proof", false, "include a state proof for the claim record")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	fp, err := parseFingerprint(*fpStr)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	if *withProof {
		proof, err := a.rt.ProveClaim(fp)
		if err != nil {
			return nil, err
		}
		if _, err := core.VerifyClaimProof(proof); err != nil {
			return nil, fmt.Errorf("claim proof: %w", err)
		}
		nodes := make([]string, len(proof.Nodes))
		for i, node := range proof.Nodes {
			nodes[i] = "0x" + hex.EncodeToString(node)
		}
		out["stateRoot"] = proof.StateRoot.Hex()
		out["proof"] = nodes
	}
	err = a.rt.View(func() error {
		record, err := a.rt.Claims.Metadata(fp)
		if err != nil {
			return err
		}
		out["claimId"] = record.ClaimID
		out["ndc"] = record.NDC
		out["npi"] = record.NPI
		out["dispenseDate"] = record.DispenseDate
		out["enhanced"] = record.Enhanced
		out["submitter"] = bech32(record.Submitter)
		if record.Enhanced {
			out["batchNumber"] = record.BatchNumber
			out["lotNumber"] = record.LotNumber
			out["expirationDate"] = record.ExpirationDate
			out["country"] = record.CountryCode
		}
		accrual, ok, err := a.rt.Rebates.AccrualRecord(fp)
		if err != nil {
			return err
		}
		if ok {
			out["accrual"] = bigString(accrual.Amount)
			out["accrualRateBps"] = accrual.RateBps
		}
		if xb, ok, err := a.rt.CrossBorder.SettlementDetails(fp); err != nil {
			return err
		} else if ok {
			out["crossBorderPayout"] = bigString(xb.Payout)
			out["crossBorderCurrency"] = xb.TargetCurrency
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out["fingerprint"] = hexFingerprint(fp)
	return out, nil
}

func runRegisterSchedule(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("register-schedule", stderr)
	from := fs.String("from", "", "manufacturer account (defaults to the operator)")
	base := fs.Uint64("base-bps", 0, "base rebate rate in basis points")
	threshold := fs.Uint64("threshold", 0, "volume above which the bonus tier applies")
	bonus := fs.Uint64("bonus-bps", 0, "bonus rate in basis points")
	exclude := fs.Bool("exclude-biosimilars", false, "lock biosimilars out of the formulary")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	manufacturer, err := parseAccount("from", *from, &a.operator)
	if err != nil {
		return nil, err
	}
	group, err := a.call(manufacturer)
	if err != nil {
		return nil, err
	}
	schedule, err := a.rt.RegisterSchedule(group, *base, *threshold, *bonus, *exclude)
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"manufacturer":        bech32(schedule.Manufacturer),
		"baseRateBps":         schedule.BaseRateBps,
		"bonusThreshold":      schedule.BonusThreshold,
		"bonusRateBps":        schedule.BonusRateBps,
		"excludesBiosimilars": schedule.ExcludesBiosimilars,
	}, nil
}

func runAccrue(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("accrue", stderr)
	from := fs.String("from", "", "manufacturer account (defaults to the operator)")
	fpStr := fs.String("fingerprint", "", "claim fingerprint (hex)")
	wacStr := fs.String("wac", "", "wholesale acquisition cost in base units")
	volume := fs.Uint64("volume", 0, "units dispensed")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	manufacturer, err := parseAccount("from", *from, &a.operator)
	if err != nil {
		return nil, err
	}
	fp, err := parseFingerprint(*fpStr)
	if err != nil {
		return nil, err
	}
	wac, err := parseAmount("wac", *wacStr)
	if err != nil {
		return nil, err
	}
	group, err := a.call(manufacturer)
	if err != nil {
		return nil, err
	}
	accrual, err := a.rt.Accrue(group, fp, manufacturer, wac, *volume)
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"fingerprint": hexFingerprint(fp),
		"amount":      bigString(accrual.Amount),
		"rateBps":     accrual.RateBps,
		"bonus":       accrual.Bonus,
	}, nil
}

func runSettle(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("settle", stderr)
	fpStr := fs.String("fingerprint", "", "claim fingerprint (hex)")
	pharmacyStr := fs.String("pharmacy", "", "pharmacy receiving the payout")
	amountStr := fs.String("amount", "", "explicit rebate amount (defaults to the recorded accrual)")
	collectorStr := fs.String("fee-collector", "", "admin fee recipient (defaults to the configured collector)")
	oracleStr := fs.String("oracle", "", "oracle account staking the settlement (defaults to the operator)")
	stakeStr := fs.String("stake", "", "oracle stake in native units (defaults to the configured minimum)")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	fp, err := parseFingerprint(*fpStr)
	if err != nil {
		return nil, err
	}
	pharmacy, err := parseAccount("pharmacy", *pharmacyStr, nil)
	if err != nil {
		return nil, err
	}
	collector, err := a.feeCollector(*collectorStr)
	if err != nil {
		return nil, err
	}
	group, err := a.stakedCall(*oracleStr, *stakeStr)
	if err != nil {
		return nil, err
	}
	var result *settlement.Result
	if strings.TrimSpace(*amountStr) == "" {
		result, err = a.rt.SettleAccrual(group, fp, pharmacy, collector)
	} else {
		amount, parseErr := parseAmount("amount", *amountStr)
		if parseErr != nil {
			group.Discard()
			return nil, parseErr
		}
		result, err = a.rt.ClaimRebate(group, settlement.ClaimRequest{
			Fingerprint:   fp,
			Amount:        amount,
			Pharmacy:      pharmacy,
			FeeCollector:  collector,
			OracleTxIndex: a.cfg.Settlement.OracleTxIndex,
		})
	}
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"fingerprint":  hexFingerprint(result.Fingerprint),
		"pharmacy":     bech32(result.Pharmacy),
		"feeCollector": bech32(result.FeeCollector),
		"assetId":      result.AssetID,
		"payout":       bigString(result.Payout),
		"fee":          bigString(result.Fee),
	}, nil
}

func (a *app) feeCollector(value string) ([20]byte, error) {
	fallback := a.operator
	if configured := strings.TrimSpace(a.cfg.Settlement.FeeCollector); configured != "" {
		parsed, err := parseAccount("fee-collector", configured, nil)
		if err != nil {
			return [20]byte{}, err
		}
		fallback = parsed
	}
	return parseAccount("fee-collector", value, &fallback)
}

func runStatus(a *app, args []string, stderr io.Writer) (interface{}, error) {
	if err := parseFlags(newFlagSet("status", stderr), args); err != nil {
		return nil, err
	}
	out := map[string]interface{}{
		"stateRoot":   a.rt.Root().Hex(),
		"round":       a.sim.Round(),
		"operator":    bech32(a.operator),
		"application": bech32(a.appAddr),
	}
	err := a.rt.View(func() error {
		params, err := a.rt.Settlement.Params()
		if err != nil {
			return err
		}
		out["settlement"] = map[string]interface{}{
			"initialized":    params.Initialized,
			"assetId":        params.AssetID,
			"adminFeeCapBps": params.AdminFeeCapBps,
			"escrow":         bigString(a.sim.Balance(a.appAddr, params.AssetID)),
		}
		gov, err := a.rt.Governance.Params()
		if err != nil {
			return err
		}
		out["governance"] = map[string]uint64{
			"quorumThreshold":   gov.QuorumThreshold,
			"approvalThreshold": gov.ApprovalThreshold,
		}
		currencies, err := a.rt.CrossBorder.SupportedCurrencies()
		if err != nil {
			return err
		}
		out["currencies"] = currencies
		return nil
	})
	if err != nil {
		return nil, err
	}
	if a.checkpoint != nil {
		round, err := a.checkpoint.LastRound()
		if err != nil {
			return nil, err
		}
		out["indexedRound"] = round
	}
	return out, nil
}

var errIndexerDisabled = errors.New("indexer is disabled in the configuration")
