package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pharmaclear/crypto"

	"github.com/BurntSushi/toml"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// KeystorePassphraseEnv names the environment variable holding the operator
// keystore passphrase. An unset variable means an empty passphrase.
const KeystorePassphraseEnv = "PHARMACLEAR_KEYSTORE_PASSPHRASE"

// PassphraseSource resolves the operator keystore passphrase.
type PassphraseSource func() (string, error)

// Option customises Load.
type Option func(*loadOptions)

type loadOptions struct {
	passphrase PassphraseSource
}

// WithKeystorePassphraseSource overrides how the keystore passphrase is
// resolved. The default reads KeystorePassphraseEnv.
func WithKeystorePassphraseSource(source PassphraseSource) Option {
	return func(o *loadOptions) {
		if source != nil {
			o.passphrase = source
		}
	}
}

// DefaultKeystoreStrength is the scrypt cost used for generated operator keys.
var DefaultKeystoreStrength = crypto.KeystoreStandard

type Config struct {
	DataDir              string      `toml:"DataDir"`
	Environment          string      `toml:"Environment"`
	ApplicationAddress   string      `toml:"ApplicationAddress"`
	OperatorKeystorePath string      `toml:"OperatorKeystorePath"`
	LogLevel             string      `toml:"LogLevel"`
	LogFile              string      `toml:"LogFile,omitempty"`
	Settlement           Settlement  `toml:"Settlement"`
	Governance           Governance  `toml:"Governance"`
	CrossBorder          CrossBorder `toml:"CrossBorder"`
	Telemetry            Telemetry   `toml:"Telemetry"`
	Indexer              Indexer     `toml:"Indexer"`

	passphrase PassphraseSource
}

// Load loads the configuration from the given path. A missing file is created
// with defaults and a freshly generated operator keystore.
func Load(path string, opts ...Option) (*Config, error) {
	options := loadOptions{passphrase: KeystorePassphrase}
	for _, opt := range opts {
		opt(&options)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options.passphrase)
	}

	cfg := Default()
	cfg.passphrase = options.passphrase
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0].String())
	}
	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.ApplicationAddress) == "" {
		cfg.ApplicationAddress = DefaultApplicationAddress()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration used for new deployments.
func Default() *Config {
	return &Config{
		DataDir:            "./pharmaclear-data",
		Environment:        "local",
		ApplicationAddress: DefaultApplicationAddress(),
		LogLevel:           "info",
		Settlement: Settlement{
			AssetID:        31566704,
			AdminFeeCapBps: 300,
			OracleTxIndex:  0,
			MinOracleStake: 1000,
			AccrualPolicy:  "accumulate",
		},
		Governance: Governance{
			QuorumThreshold:      10_000,
			ApprovalThresholdBps: 6667,
			ReputationFloor:      100,
		},
		CrossBorder: CrossBorder{
			JurisdictionFeeCaps: map[string]uint64{"US": 300, "EU": 250, "CA": 200},
		},
		Telemetry: Telemetry{
			Endpoint:    "localhost:4318",
			Insecure:    true,
			SampleRatio: 1,
		},
		Indexer: Indexer{Enabled: true},
	}
}

// DefaultApplicationAddress derives the settlement application's account from
// a fixed seed so local deployments agree on it.
func DefaultApplicationAddress() string {
	digest := ethcrypto.Keccak256([]byte("pharmaclear/settlement-app"))
	return crypto.NewAddress(crypto.PharmaPrefix, digest[:20]).String()
}

// KeystorePassphrase returns the operator keystore passphrase from the environment.
func KeystorePassphrase() (string, error) {
	return os.Getenv(KeystorePassphraseEnv), nil
}

// OperatorKey decrypts the operator key referenced by the configuration.
func (c *Config) OperatorKey() (*crypto.PrivateKey, error) {
	source := c.passphrase
	if source == nil {
		source = KeystorePassphrase
	}
	passphrase, err := source()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(c.OperatorKeystorePath, passphrase)
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		passphrase, passErr := cfg.passphrase()
		if passErr != nil {
			return passErr
		}
		if err := crypto.SaveToKeystoreWithStrength(keystorePath, key, passphrase, DefaultKeystoreStrength); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystorePath != keystorePath {
		cfg.OperatorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string, source PassphraseSource) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	passphrase, err := source()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystoreWithStrength(keystorePath, key, passphrase, DefaultKeystoreStrength); err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.passphrase = source
	cfg.OperatorKeystorePath = keystorePath
	cfg.Settlement.FeeCollector = key.PubKey().Address().String()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
