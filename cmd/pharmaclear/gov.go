package main

import (
	"fmt"
	"io"
	"strings"

	"pharmaclear/native/governance"
)

var governanceCommands = map[string]func(a *app, args []string, stderr io.Writer) (interface{}, error){
	"init":     runGovInit,
	"propose":  runPropose,
	"vote":     runVote,
	"finalize": runFinalize,
	"execute":  runExecute,
	"oracle":   runRegisterOracle,
	"slash":    runSlashOracle,
	"dispute":  runFileDispute,
	"show":     runShowProposal,
}

func runGovernance(a *app, args []string, stderr io.Writer) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("usage: pharmaclear gov <init|propose|vote|finalize|execute|oracle|slash|dispute|show> [flags]")
	}
	sub, ok := governanceCommands[args[0]]
	if !ok {
		return nil, fmt.Errorf("unknown gov subcommand: %s", args[0])
	}
	return sub(a, args[1:], stderr)
}

func runGovInit(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("gov init", stderr)
	quorum := fs.Uint64("quorum", a.cfg.Governance.QuorumThreshold, "total voting power required")
	approval := fs.Uint64("approval-bps", a.cfg.Governance.ApprovalThresholdBps, "yes share required, in basis points")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	group, err := a.call(a.operator)
	if err != nil {
		return nil, err
	}
	params, err := a.rt.InitializeGovernance(group, *quorum, *approval)
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return map[string]uint64{"quorumThreshold": params.QuorumThreshold, "approvalThreshold": params.ApprovalThreshold}, nil
}

func runPropose(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("gov propose", stderr)
	from := fs.String("from", "", "proposer account (defaults to the operator)")
	kindStr := fs.String("kind", "", "FEE_ADJUSTMENT, ORACLE_ADD, DISPUTE_RESOLUTION or GENERAL")
	description := fs.String("description", "", "proposal description")
	target := fs.Uint64("target", 0, "target value (e.g. fee cap in bps)")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	proposer, err := parseAccount("from", *from, &a.operator)
	if err != nil {
		return nil, err
	}
	kind, ok := governance.ParseProposalKind(*kindStr)
	if !ok {
		return nil, fmt.Errorf("--kind %q is not a proposal kind", *kindStr)
	}
	group, err := a.call(proposer)
	if err != nil {
		return nil, err
	}
	id, err := a.rt.Propose(group, kind, *description, *target)
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return map[string]uint64{"proposalId": id}, nil
}

func runVote(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("gov vote", stderr)
	from := fs.String("from", "", "voter account (defaults to the operator)")
	id := fs.Uint64("id", 0, "proposal id")
	choice := fs.String("choice", "", "yes or no")
	power := fs.Uint64("power", 0, "voting power")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	voter, err := parseAccount("from", *from, &a.operator)
	if err != nil {
		return nil, err
	}
	var support bool
	switch strings.ToLower(strings.TrimSpace(*choice)) {
	case "yes", "y", "true":
		support = true
	case "no", "n", "false":
	default:
		return nil, fmt.Errorf("--choice must be yes or no")
	}
	group, err := a.call(voter)
	if err != nil {
		return nil, err
	}
	if err := a.commit(a.rt.Vote(group, *id, support, *power)); err != nil {
		return nil, err
	}
	var yes, no uint64
	err = a.rt.View(func() error {
		var viewErr error
		yes, no, viewErr = a.rt.Governance.VoteCount(*id)
		return viewErr
	})
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"proposalId": *id, "yes": yes, "no": no}, nil
}

func runFinalize(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("gov finalize", stderr)
	id := fs.Uint64("id", 0, "proposal id")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	group, err := a.call(a.operator)
	if err != nil {
		return nil, err
	}
	status, err := a.rt.Finalize(group, *id)
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return map[string]interface{}{"proposalId": *id, "status": string(status)}, nil
}

func runExecute(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("gov execute", stderr)
	id := fs.Uint64("id", 0, "proposal id")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	group, err := a.call(a.operator)
	if err != nil {
		return nil, err
	}
	proposal, err := a.rt.ExecuteProposal(group, *id)
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return proposalOutput(proposal), nil
}

func runShowProposal(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("gov show", stderr)
	id := fs.Uint64("id", 0, "proposal id")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	var proposal *governance.Proposal
	err := a.rt.View(func() error {
		var viewErr error
		proposal, viewErr = a.rt.Governance.Proposal(*id)
		return viewErr
	})
	if err != nil {
		return nil, err
	}
	return proposalOutput(proposal), nil
}

func proposalOutput(p *governance.Proposal) map[string]interface{} {
	return map[string]interface{}{
		"id":          p.ID,
		"kind":        string(p.Kind),
		"description": p.Description,
		"target":      p.TargetValue,
		"proposer":    bech32(p.Proposer),
		"yes":         p.YesVotes,
		"no":          p.NoVotes,
		"status":      string(p.Status),
		"approvalBps": p.ApprovalBps,
		"executed":    p.Executed,
	}
}

func runRegisterOracle(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("gov oracle", stderr)
	oracleStr := fs.String("oracle", "", "oracle account")
	reputation := fs.Uint64("reputation", 0, "initial reputation")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	oracle, err := parseAccount("oracle", *oracleStr, nil)
	if err != nil {
		return nil, err
	}
	group, err := a.call(a.operator)
	if err != nil {
		return nil, err
	}
	entry, err := a.rt.RegisterOracle(group, oracle, *reputation)
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return oracleOutput(entry), nil
}

func runSlashOracle(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("gov slash", stderr)
	oracleStr := fs.String("oracle", "", "oracle account")
	amount := fs.Uint64("amount", 0, "reputation to remove")
	reason := fs.String("reason", "", "reason for the slash")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	oracle, err := parseAccount("oracle", *oracleStr, nil)
	if err != nil {
		return nil, err
	}
	group, err := a.call(a.operator)
	if err != nil {
		return nil, err
	}
	entry, err := a.rt.SlashOracle(group, oracle, *amount, *reason)
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return oracleOutput(entry), nil
}

func oracleOutput(entry *governance.OracleEntry) map[string]interface{} {
	return map[string]interface{}{
		"oracle":     bech32(entry.Address),
		"approved":   entry.Approved,
		"reputation": entry.Reputation,
	}
}

func runFileDispute(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("gov dispute", stderr)
	from := fs.String("from", "", "disputing account (defaults to the operator)")
	fpStr := fs.String("fingerprint", "", "claim fingerprint (hex)")
	reason := fs.String("reason", "", "dispute reason")
	amountStr := fs.String("amount", "", "disputed amount")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	disputer, err := parseAccount("from", *from, &a.operator)
	if err != nil {
		return nil, err
	}
	fp, err := parseFingerprint(*fpStr)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", *amountStr)
	if err != nil {
		return nil, err
	}
	group, err := a.call(disputer)
	if err != nil {
		return nil, err
	}
	dispute, err := a.rt.FileDispute(group, fp, *reason, amount)
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"fingerprint": hexFingerprint(dispute.Fingerprint),
		"disputer":    bech32(dispute.Disputer),
		"reason":      dispute.Reason,
		"amount":      bigString(dispute.Amount),
	}, nil
}
