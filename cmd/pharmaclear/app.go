package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"gorm.io/gorm"

	"pharmaclear/cmd/internal/passphrase"
	"pharmaclear/config"
	"pharmaclear/core"
	"pharmaclear/core/events"
	"pharmaclear/core/host"
	"pharmaclear/crypto"
	"pharmaclear/native/rebate"
	"pharmaclear/observability/logging"
	"pharmaclear/observability/otel"
	"pharmaclear/services/indexer"
	"pharmaclear/storage"
)

var hostLedgerKey = []byte("pharmaclear/host-ledger")

// app is one CLI invocation's view of the settlement deployment: the runtime
// over LevelDB state, the simulated host ledger and the optional indexer sink.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *storage.LevelDB
	rt       *core.Runtime
	sim      *host.Simulator
	operator [20]byte
	appAddr  [20]byte

	indexDB    *gorm.DB
	checkpoint *indexer.Checkpoint
	shutdown   func(context.Context) error
}

// openApp loads the configuration and opens the runtime. Logs go to logOut so
// stdout carries only command results.
func openApp(configPath string, logOut io.Writer) (*app, error) {
	source := passphrase.NewSource(config.KeystorePassphraseEnv, "operator keystore")
	cfg, err := config.Load(configPath, config.WithKeystorePassphraseSource(source.Get))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup("pharmaclear", cfg.Environment, logging.Options{
		Level:  logging.ParseLevel(cfg.LogLevel),
		File:   resolvePath(cfg.DataDir, cfg.LogFile),
		Output: logOut,
	})

	shutdown, err := otel.Init(context.Background(), otel.Config{
		ServiceName: "pharmaclear",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     otel.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	key, err := cfg.OperatorKey()
	if err != nil {
		return nil, fmt.Errorf("load operator key: %w", err)
	}
	appAddr, err := crypto.ParseAddress(cfg.ApplicationAddress)
	if err != nil {
		return nil, fmt.Errorf("application address: %w", err)
	}
	policy, err := rebate.ParseAccrualPolicy(cfg.Settlement.AccrualPolicy)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		sim:      host.NewSimulator(appAddr),
		operator: key.PubKey().Address().Raw(),
		appAddr:  appAddr,
		shutdown: shutdown,
	}
	if err := a.restoreLedger(); err != nil {
		a.Close()
		return nil, err
	}

	var emitter events.Emitter = events.NoopEmitter{}
	if cfg.Indexer.Enabled {
		sink, err := a.openIndexer()
		if err != nil {
			a.Close()
			return nil, err
		}
		emitter = sink
	}

	rt, err := core.OpenRuntime(db, core.Options{
		Operator:        a.operator,
		OracleTxIndex:   cfg.Settlement.OracleTxIndex,
		MinOracleStake:  new(big.Int).SetUint64(cfg.Settlement.MinOracleStake),
		ReputationFloor: cfg.Governance.ReputationFloor,
		FeeCaps:         cfg.CrossBorder.JurisdictionFeeCaps,
		AccrualPolicy:   policy,
		Emitter:         emitter,
		Logger:          logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.rt = rt
	return a, nil
}

func (a *app) openIndexer() (*indexer.Sink, error) {
	dsn := a.cfg.Indexer.Database
	if strings.TrimSpace(dsn) == "" {
		dsn = "indexer.db"
	}
	if !strings.Contains(dsn, "://") {
		dsn = resolvePath(a.cfg.DataDir, dsn)
	}
	db, err := indexer.OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	a.indexDB = db
	checkpointPath := a.cfg.Indexer.CheckpointPath
	if strings.TrimSpace(checkpointPath) == "" {
		checkpointPath = "indexer.checkpoint"
	}
	cp, err := indexer.OpenCheckpoint(resolvePath(a.cfg.DataDir, checkpointPath))
	if err != nil {
		return nil, fmt.Errorf("open indexer checkpoint: %w", err)
	}
	a.checkpoint = cp
	return indexer.NewSink(db, cp, hex.EncodeToString(a.appAddr[:]), a.logger), nil
}

func (a *app) Close() {
	if a.checkpoint != nil {
		_ = a.checkpoint.Close()
	}
	if a.indexDB != nil {
		if sqlDB, err := a.indexDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.shutdown(ctx)
	}
}

func (a *app) restoreLedger() error {
	ok, err := a.db.Has(hostLedgerKey)
	if err != nil || !ok {
		return err
	}
	raw, err := a.db.Get(hostLedgerKey)
	if err != nil {
		return err
	}
	var snap host.Snapshot
	if err := rlp.DecodeBytes(raw, &snap); err != nil {
		return fmt.Errorf("decode host ledger: %w", err)
	}
	return a.sim.Restore(snap)
}

func (a *app) saveLedger() error {
	snap := a.sim.Snapshot()
	encoded, err := rlp.EncodeToBytes(&snap)
	if err != nil {
		return err
	}
	return a.db.Put(hostLedgerKey, encoded)
}

// call opens a single app-call group sent by from.
func (a *app) call(from [20]byte) (*host.Group, error) {
	return a.sim.NewGroup([]*host.Transaction{{Type: host.TxTypeAppCall, Sender: from, Receiver: a.appAddr}}, 0)
}

// oracleCall opens a group carrying the oracle stake payment at the configured
// index followed (or preceded) by the app call.
func (a *app) oracleCall(from, oracle [20]byte, stake *big.Int) (*host.Group, error) {
	payment := &host.Transaction{Type: host.TxTypePayment, Sender: oracle, Receiver: a.appAddr, Asset: host.NativeAsset, Amount: stake}
	appCall := &host.Transaction{Type: host.TxTypeAppCall, Sender: from, Receiver: a.appAddr}
	switch a.cfg.Settlement.OracleTxIndex {
	case 0:
		return a.sim.NewGroup([]*host.Transaction{payment, appCall}, 1)
	case 1:
		return a.sim.NewGroup([]*host.Transaction{appCall, payment}, 0)
	default:
		return nil, errors.New("oracle tx index must be 0 or 1 for cli groups")
	}
}

// stakedCall resolves the --oracle and --stake flags and opens an oracleCall
// sent by the operator.
func (a *app) stakedCall(oracleFlag, stakeFlag string) (*host.Group, error) {
	oracle, err := parseAccount("oracle", oracleFlag, &a.operator)
	if err != nil {
		return nil, err
	}
	stake := new(big.Int).SetUint64(a.cfg.Settlement.MinOracleStake)
	if strings.TrimSpace(stakeFlag) != "" {
		if stake, err = parseAmount("stake", stakeFlag); err != nil {
			return nil, err
		}
	}
	return a.oracleCall(a.operator, oracle, stake)
}

// commit persists the host ledger after a runtime call returned err == nil.
func (a *app) commit(err error) error {
	if err != nil {
		return err
	}
	return a.saveLedger()
}

func resolvePath(base, path string) string {
	if strings.TrimSpace(path) == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
