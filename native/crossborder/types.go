package crossborder

import (
	"math/big"
	"strings"
)

// RateScale is the fixed-point scale of exchange rates (6 decimals).
const RateScale uint64 = 1_000_000

const basisPoints uint64 = 10_000

// BaseCurrency is the currency rebates are denominated in before conversion.
const BaseCurrency = "USD"

// DefaultFeeCapBps applies to jurisdictions without an explicit cap.
const DefaultFeeCapBps uint64 = 300

// DefaultFeeCaps returns the built-in jurisdiction fee caps.
func DefaultFeeCaps() map[string]uint64 {
	return map[string]uint64{
		"US": 300,
		"EU": 250,
		"CA": 200,
	}
}

// RiskLevel is an AML review level.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// ParseRiskLevel normalises input into a RiskLevel.
func ParseRiskLevel(value string) (RiskLevel, bool) {
	level := RiskLevel(strings.ToUpper(strings.TrimSpace(value)))
	switch level {
	case RiskLow, RiskMedium, RiskHigh:
		return level, true
	default:
		return "", false
	}
}

// Currency maps an ISO 4217 code onto the ledger asset that settles it.
type Currency struct {
	Code    string
	AssetID uint64
}

// ExchangeRate is a directional rate in RateScale fixed point.
type ExchangeRate struct {
	From      string
	To        string
	Rate      uint64
	UpdatedAt uint64
}

// PharmacyProfile is the compliance profile of a pharmacy.
type PharmacyProfile struct {
	Pharmacy     [20]byte
	Jurisdiction string
	KYCVerified  bool
	AMLRisk      RiskLevel
	AMLReason    string
}

// Request describes a cross-border settlement.
type Request struct {
	Fingerprint    [32]byte
	AmountUSD      *big.Int
	Pharmacy       [20]byte
	TargetCurrency string
	FeeCollector   [20]byte
	OracleTxIndex  int
}

// Settlement is the durable settlement record, keyed by fingerprint.
type Settlement struct {
	Fingerprint    [32]byte
	Pharmacy       [20]byte
	AmountUSD      *big.Int
	TargetCurrency string
	AssetID        uint64
	Rate           uint64
	Converted      *big.Int
	Fee            *big.Int
	Payout         *big.Int
	FeeBps         uint64
	Jurisdiction   string
	SettledAt      uint64
}

// Conversion is the audit line kept for each conversion.
type Conversion struct {
	From      string
	To        string
	AmountIn  *big.Int
	AmountOut *big.Int
	Rate      uint64
}

// Convert returns floor(amount*rate/RateScale).
func Convert(amount *big.Int, rate uint64) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(rate))
	return out.Quo(out, new(big.Int).SetUint64(RateScale))
}
