package config

import (
	"fmt"
	"strings"

	"pharmaclear/crypto"
	"pharmaclear/native/rebate"
	"pharmaclear/native/settlement"
)

var (
	MinApprovalThresholdBps = uint64(5000)
	MaxApprovalThresholdBps = uint64(10_000)
)

// Validate checks the values the engines would otherwise reject at runtime.
func (c *Config) Validate() error {
	if c.Settlement.AdminFeeCapBps > settlement.MaxAdminFeeBps {
		return fmt.Errorf("settlement: AdminFeeCapBps %d exceeds %d", c.Settlement.AdminFeeCapBps, settlement.MaxAdminFeeBps)
	}
	if c.Settlement.OracleTxIndex < 0 {
		return fmt.Errorf("settlement: OracleTxIndex must be non-negative")
	}
	if _, err := rebate.ParseAccrualPolicy(c.Settlement.AccrualPolicy); err != nil {
		return fmt.Errorf("settlement: %w", err)
	}
	if fc := strings.TrimSpace(c.Settlement.FeeCollector); fc != "" {
		if _, err := crypto.ParseAddress(fc); err != nil {
			return fmt.Errorf("settlement: FeeCollector: %w", err)
		}
	}
	if _, err := crypto.ParseAddress(c.ApplicationAddress); err != nil {
		return fmt.Errorf("ApplicationAddress: %w", err)
	}
	g := c.Governance
	if g.ApprovalThresholdBps < MinApprovalThresholdBps || g.ApprovalThresholdBps > MaxApprovalThresholdBps {
		return fmt.Errorf("governance: ApprovalThresholdBps must be within [%d, %d]", MinApprovalThresholdBps, MaxApprovalThresholdBps)
	}
	for code, bps := range c.CrossBorder.JurisdictionFeeCaps {
		if strings.TrimSpace(code) == "" {
			return fmt.Errorf("crossborder: empty jurisdiction code")
		}
		if bps > 10_000 {
			return fmt.Errorf("crossborder: fee cap for %s exceeds 10000 bps", code)
		}
	}
	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0, 1]")
	}
	return nil
}
