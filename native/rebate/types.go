package rebate

import (
	"fmt"
	"math/big"
	"strings"
)

// BasisPoints is the denominator for every rate in the package.
const BasisPoints uint64 = 10_000

// AccrualPolicy selects how a recomputed accrual affects the manufacturer
// total.
type AccrualPolicy uint8

const (
	// AccrualPolicyAccumulate adds every computation to the total, including
	// recomputations of the same fingerprint.
	AccrualPolicyAccumulate AccrualPolicy = iota
	// AccrualPolicyReplace removes the previous contribution of a fingerprint
	// before adding the new amount.
	AccrualPolicyReplace
)

func (p AccrualPolicy) String() string {
	switch p {
	case AccrualPolicyReplace:
		return "replace"
	default:
		return "accumulate"
	}
}

// ParseAccrualPolicy maps a configuration string onto a policy. An empty
// value selects AccrualPolicyAccumulate.
func ParseAccrualPolicy(value string) (AccrualPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "accumulate":
		return AccrualPolicyAccumulate, nil
	case "replace":
		return AccrualPolicyReplace, nil
	default:
		return AccrualPolicyAccumulate, fmt.Errorf("rebate: unknown accrual policy %q", value)
	}
}

// Schedule is a manufacturer's tiered rebate contract.
type Schedule struct {
	Manufacturer        [20]byte
	BaseRateBps         uint64
	BonusThreshold      uint64
	BonusRateBps        uint64
	ExcludesBiosimilars bool
	RegisteredAt        uint64
}

// EffectiveRate returns the rate applied at the given volume. The bonus tier
// starts strictly above the threshold.
func (s *Schedule) EffectiveRate(volume uint64) (uint64, bool) {
	if volume > s.BonusThreshold {
		return s.BaseRateBps + s.BonusRateBps, true
	}
	return s.BaseRateBps, false
}

// Accrual is the stored result of one rebate computation.
type Accrual struct {
	Fingerprint  [32]byte
	Manufacturer [20]byte
	WAC          *big.Int
	Volume       uint64
	RateBps      uint64
	Bonus        bool
	Amount       *big.Int
	CalculatedAt uint64
}
