package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pharmaclear/crypto"
)

func init() {
	DefaultKeystoreStrength = crypto.KeystoreLight
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Settlement.AdminFeeCapBps != 300 || cfg.Governance.ApprovalThresholdBps != 6667 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.OperatorKeystorePath != filepath.Join(dir, "operator.keystore") {
		t.Fatalf("unexpected keystore path %q", cfg.OperatorKeystorePath)
	}
	key, err := cfg.OperatorKey()
	if err != nil {
		t.Fatalf("operator key: %v", err)
	}
	if cfg.Settlement.FeeCollector != key.PubKey().Address().String() {
		t.Fatalf("fee collector should default to the operator")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.ApplicationAddress != cfg.ApplicationAddress || reloaded.CrossBorder.JurisdictionFeeCaps["EU"] != 250 {
		t.Fatalf("reloaded config differs: %+v", reloaded)
	}
}

func TestLoadParsesSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `DataDir = "./data"
Environment = "staging"
LogLevel = "debug"

[Settlement]
AssetID = 7
AdminFeeCapBps = 250
OracleTxIndex = 1
MinOracleStake = 5000
AccrualPolicy = "replace"

[Governance]
QuorumThreshold = 500
ApprovalThresholdBps = 7500
ReputationFloor = 150

[CrossBorder]
JurisdictionFeeCaps = { MX = 150 }

[Telemetry]
Endpoint = "otel:4318"
Traces = true
SampleRatio = 0.25
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Settlement.AssetID != 7 || cfg.Settlement.OracleTxIndex != 1 || cfg.Settlement.AccrualPolicy != "replace" {
		t.Fatalf("unexpected settlement section %+v", cfg.Settlement)
	}
	if cfg.Governance.QuorumThreshold != 500 || cfg.Governance.ReputationFloor != 150 {
		t.Fatalf("unexpected governance section %+v", cfg.Governance)
	}
	if cfg.CrossBorder.JurisdictionFeeCaps["MX"] != 150 {
		t.Fatalf("unexpected caps %v", cfg.CrossBorder.JurisdictionFeeCaps)
	}
	if !cfg.Telemetry.Traces || cfg.Telemetry.SampleRatio != 0.25 {
		t.Fatalf("unexpected telemetry %+v", cfg.Telemetry)
	}
	if _, err := os.Stat(filepath.Join(dir, "operator.keystore")); err != nil {
		t.Fatalf("expected generated keystore: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(data), "OperatorKeystorePath") {
		t.Fatalf("keystore path should be persisted")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"fee cap":  "[Settlement]\nAdminFeeCapBps = 301\n",
		"approval": "[Governance]\nApprovalThresholdBps = 4999\n",
		"policy":   "[Settlement]\nAccrualPolicy = \"double\"\n",
		"unknown":  "ValidatorKey = \"abc\"\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected %s to be rejected", name)
			}
		})
	}
}
