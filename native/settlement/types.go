package settlement

import (
	"math/big"

	"pharmaclear/core/host"
)

const (
	// MaxAdminFeeBps is the hard ceiling on administrative fees (3%).
	MaxAdminFeeBps uint64 = 300
	basisPoints    uint64 = 10_000
)

// DefaultMinOracleStake is the smallest oracle payment accepted as group
// authentication.
var DefaultMinOracleStake = host.DefaultMinOracleStake

// Params is the persisted settlement configuration.
type Params struct {
	AssetID        uint64
	AdminFeeCapBps uint64
	Initialized    bool
}

// ClaimRequest describes one settlement call. Amount is the rebate owed in
// the settlement asset's smallest unit.
type ClaimRequest struct {
	Fingerprint   [32]byte
	Amount        *big.Int
	Pharmacy      [20]byte
	FeeCollector  [20]byte
	OracleTxIndex int
}

// Result is the outcome of a successful settlement. It is not persisted.
type Result struct {
	Fingerprint  [32]byte
	Pharmacy     [20]byte
	FeeCollector [20]byte
	AssetID      uint64
	Payout       *big.Int
	Fee          *big.Int
	SettledAt    uint64
}

// SplitFee returns the capped fee and the remaining payout for amount.
func SplitFee(amount *big.Int, capBps uint64) (fee, payout *big.Int) {
	fee = new(big.Int).Mul(amount, new(big.Int).SetUint64(capBps))
	fee.Quo(fee, new(big.Int).SetUint64(basisPoints))
	payout = new(big.Int).Sub(amount, fee)
	return fee, payout
}

func maxFee(amount *big.Int) *big.Int {
	limit := new(big.Int).Mul(amount, new(big.Int).SetUint64(MaxAdminFeeBps))
	return limit.Quo(limit, new(big.Int).SetUint64(basisPoints))
}
