package main

import (
	"fmt"
	"io"

	"pharmaclear/native/crossborder"
)

var crossBorderCommands = map[string]func(a *app, args []string, stderr io.Writer) (interface{}, error){
	"currency":     runRegisterCurrency,
	"rate":         runUpdateRate,
	"jurisdiction": runSetJurisdiction,
	"flag":         runFlagAML,
	"settle":       runSettleCrossBorder,
	"estimate":     runEstimate,
}

func runCrossBorder(a *app, args []string, stderr io.Writer) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("usage: pharmaclear xborder <currency|rate|jurisdiction|flag|settle|estimate> [flags]")
	}
	sub, ok := crossBorderCommands[args[0]]
	if !ok {
		return nil, fmt.Errorf("unknown xborder subcommand: %s", args[0])
	}
	return sub(a, args[1:], stderr)
}

func runRegisterCurrency(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("xborder currency", stderr)
	code := fs.String("code", "", "ISO 4217 currency code")
	asset := fs.Uint64("asset", 0, "stablecoin asset id")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	group, err := a.call(a.operator)
	if err != nil {
		return nil, err
	}
	currency, err := a.rt.RegisterCurrency(group, *code, *asset)
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return map[string]interface{}{"code": currency.Code, "assetId": currency.AssetID}, nil
}

func runUpdateRate(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("xborder rate", stderr)
	from := fs.String("from-currency", "USD", "source currency")
	to := fs.String("to-currency", "", "target currency")
	rate := fs.Uint64("rate", 0, "rate scaled by 1e6")
	sender := fs.String("from", "", "operator or approved oracle (defaults to the operator)")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	caller, err := parseAccount("from", *sender, &a.operator)
	if err != nil {
		return nil, err
	}
	group, err := a.call(caller)
	if err != nil {
		return nil, err
	}
	updated, err := a.rt.UpdateExchangeRate(group, *from, *to, *rate)
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return map[string]interface{}{"from": updated.From, "to": updated.To, "rate": updated.Rate}, nil
}

func runSetJurisdiction(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("xborder jurisdiction", stderr)
	pharmacyStr := fs.String("pharmacy", "", "pharmacy account")
	code := fs.String("code", "", "jurisdiction (ISO country or EU)")
	feeBps := fs.Uint64("fee-bps", 0, "admin fee in basis points")
	kyc := fs.Bool("kyc", false, "pharmacy passed KYC")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	pharmacy, err := parseAccount("pharmacy", *pharmacyStr, nil)
	if err != nil {
		return nil, err
	}
	group, err := a.call(a.operator)
	if err != nil {
		return nil, err
	}
	profile, err := a.rt.SetJurisdiction(group, pharmacy, *code, *feeBps, *kyc)
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return profileOutput(profile), nil
}

func runFlagAML(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("xborder flag", stderr)
	pharmacyStr := fs.String("pharmacy", "", "pharmacy account")
	level := fs.String("level", "", "risk level (low|medium|high)")
	reason := fs.String("reason", "", "reason for the flag")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	pharmacy, err := parseAccount("pharmacy", *pharmacyStr, nil)
	if err != nil {
		return nil, err
	}
	group, err := a.call(a.operator)
	if err != nil {
		return nil, err
	}
	profile, err := a.rt.FlagAMLRisk(group, pharmacy, *level, *reason)
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return profileOutput(profile), nil
}

func profileOutput(p *crossborder.PharmacyProfile) map[string]interface{} {
	return map[string]interface{}{
		"pharmacy":     bech32(p.Pharmacy),
		"jurisdiction": p.Jurisdiction,
		"kycVerified":  p.KYCVerified,
		"amlRisk":      string(p.AMLRisk),
	}
}

func runSettleCrossBorder(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("xborder settle", stderr)
	fpStr := fs.String("fingerprint", "", "claim fingerprint (hex)")
	pharmacyStr := fs.String("pharmacy", "", "pharmacy receiving the payout")
	amountStr := fs.String("amount-usd", "", "rebate amount in USD base units")
	currency := fs.String("currency", "", "target currency")
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
	amount, err := parseAmount("amount-usd", *amountStr)
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
	settled, err := a.rt.SettleCrossBorder(group, crossborder.Request{
		Fingerprint:    fp,
		AmountUSD:      amount,
		Pharmacy:       pharmacy,
		TargetCurrency: *currency,
		FeeCollector:   collector,
		OracleTxIndex:  a.cfg.Settlement.OracleTxIndex,
	})
	if err := a.commit(err); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"fingerprint":  hexFingerprint(settled.Fingerprint),
		"currency":     settled.TargetCurrency,
		"assetId":      settled.AssetID,
		"converted":    bigString(settled.Converted),
		"fee":          bigString(settled.Fee),
		"payout":       bigString(settled.Payout),
		"jurisdiction": settled.Jurisdiction,
	}, nil
}

func runEstimate(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("xborder estimate", stderr)
	amountStr := fs.String("amount-usd", "", "amount in USD base units")
	currency := fs.String("currency", "", "target currency")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount-usd", *amountStr)
	if err != nil {
		return nil, err
	}
	var estimate string
	err = a.rt.View(func() error {
		converted, err := a.rt.CrossBorder.EstimateConversion(amount, *currency)
		if err != nil {
			return err
		}
		estimate = bigString(converted)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"currency": *currency, "estimate": estimate}, nil
}
