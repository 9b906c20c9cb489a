package config

// Settlement configures the base settlement layer and the accrual flow.
type Settlement struct {
	AssetID        uint64 `toml:"AssetID"`
	AdminFeeCapBps uint64 `toml:"AdminFeeCapBps"`
	// OracleTxIndex is the group index of the oracle stake payment.
	OracleTxIndex  int    `toml:"OracleTxIndex"`
	MinOracleStake uint64 `toml:"MinOracleStake"`
	// FeeCollector receives the admin fee (bech32 or hex).
	FeeCollector  string `toml:"FeeCollector"`
	AccrualPolicy string `toml:"AccrualPolicy"`
}

// Governance captures the thresholds applied when proposals are finalized.
type Governance struct {
	QuorumThreshold      uint64 `toml:"QuorumThreshold"`
	ApprovalThresholdBps uint64 `toml:"ApprovalThresholdBps"`
	ReputationFloor      uint64 `toml:"ReputationFloor"`
}

type CrossBorder struct {
	JurisdictionFeeCaps map[string]uint64 `toml:"JurisdictionFeeCaps"`
}

// Telemetry configures the OTLP exporters and the Prometheus listener.
type Telemetry struct {
	Endpoint       string  `toml:"Endpoint"`
	Insecure       bool    `toml:"Insecure"`
	Headers        string  `toml:"Headers,omitempty"`
	Traces         bool    `toml:"Traces"`
	Metrics        bool    `toml:"Metrics"`
	SampleRatio    float64 `toml:"SampleRatio"`
	MetricsAddress string  `toml:"MetricsAddress,omitempty"`
}

// Indexer configures the event sink the CLI installs behind the runtime.
// Relative paths resolve against DataDir.
type Indexer struct {
	Enabled        bool   `toml:"Enabled"`
	Database       string `toml:"Database,omitempty"`
	CheckpointPath string `toml:"CheckpointPath,omitempty"`
}
