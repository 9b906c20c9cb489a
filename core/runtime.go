package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"pharmaclear/core/events"
	"pharmaclear/core/host"
	corestate "pharmaclear/core/state"
	"pharmaclear/native/audit"
	"pharmaclear/native/claims"
	"pharmaclear/native/crossborder"
	"pharmaclear/native/governance"
	"pharmaclear/native/rebate"
	"pharmaclear/native/settlement"
	"pharmaclear/observability"
	telemetry "pharmaclear/observability/otel"
	"pharmaclear/storage"
	"pharmaclear/storage/trie"
)

var headRootKey = []byte("pharmaclear/head-root")

// advisoryEvents never block a call but need review downstream.
var advisoryEvents = map[string]bool{
	claims.EventTypeRecalledDrugDispensed:  true,
	claims.EventTypeExpiredDrugDispensed:   true,
	crossborder.EventTypeAMLReviewRequired: true,
	rebate.EventTypeFormularyLock:          true,
	audit.EventTypeAntitrustFlag:           true,
}

var (
	// ErrUnauthorized is returned when a privileged call is not sent by the
	// operator (or, for rate updates, an approved oracle).
	ErrUnauthorized = errors.New("runtime: caller not authorized")
	// ErrAccrualNotFound is returned when settling a fingerprint without an accrual.
	ErrAccrualNotFound = errors.New("runtime: no accrual for fingerprint")
	// ErrNilGroup is returned when Execute is called without a host group.
	ErrNilGroup = errors.New("runtime: host group required")
	// ErrHeadRootNotPersisted is returned when a call committed and its events
	// were emitted but the new head root could not be written.
	ErrHeadRootNotPersisted = errors.New("runtime: head root not persisted")
)

// Group is an atomic host-ledger group the runtime can commit or discard.
type Group interface {
	host.Ledger
	Commit() error
	Discard()
}

// Options configures a Runtime. Zero values fall back to engine defaults.
type Options struct {
	Operator        [20]byte
	OracleTxIndex   int
	MinOracleStake  *big.Int
	ReputationFloor uint64
	FeeCaps         map[string]uint64
	AccrualPolicy   rebate.AccrualPolicy
	Emitter         events.Emitter
	Logger          *slog.Logger
}

// Runtime owns the state trie and the six settlement engines. Every mutating
// call runs inside Execute so that state, inner transfers and events either all
// commit or all roll back.
type Runtime struct {
	mu sync.Mutex

	trie          *trie.Trie
	state         *corestate.Manager
	committedRoot common.Hash
	buffer        *events.Recorder
	downstream    events.Emitter
	logger        *slog.Logger
	metrics       *observability.SettlementMetrics

	operator      [20]byte
	oracleTxIndex int
	clock         time.Time

	Claims      *claims.Engine
	Rebates     *rebate.Engine
	Settlement  *settlement.Engine
	Audit       *audit.Log
	Governance  *governance.Engine
	CrossBorder *crossborder.Engine
}

// OpenRuntime opens the runtime at the head root persisted in db, or at the
// empty trie for a fresh database.
func OpenRuntime(db storage.Database, opts Options) (*Runtime, error) {
	var root []byte
	ok, err := db.Has(headRootKey)
	if err != nil {
		return nil, err
	}
	if ok {
		if root, err = db.Get(headRootKey); err != nil {
			return nil, err
		}
	}
	tr, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("open state trie: %w", err)
	}
	return NewRuntime(tr, opts), nil
}

// NewRuntime wires the engines over tr.
func NewRuntime(tr *trie.Trie, opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	downstream := opts.Emitter
	if downstream == nil {
		downstream = events.NoopEmitter{}
	}
	r := &Runtime{
		trie:          tr,
		state:         corestate.NewManager(tr),
		committedRoot: tr.Root(),
		buffer:        &events.Recorder{},
		downstream:    downstream,
		logger:        logger.With("component", "runtime"),
		metrics:       observability.Settlement(),
		operator:      opts.Operator,
		oracleTxIndex: opts.OracleTxIndex,
		clock:         time.Now().UTC(),
		Claims:        claims.NewEngine(),
		Rebates:       rebate.NewEngine(),
		Settlement:    settlement.NewEngine(),
		Audit:         audit.NewLog(),
		Governance:    governance.NewEngine(),
		CrossBorder:   crossborder.NewEngine(),
	}

	r.Claims.SetState(r.state)
	r.Claims.SetEmitter(r.buffer)
	r.Claims.SetNowFunc(r.now)

	r.Rebates.SetState(r.state)
	r.Rebates.SetEmitter(r.buffer)
	r.Rebates.SetNowFunc(r.now)
	r.Rebates.SetAccrualPolicy(opts.AccrualPolicy)

	r.Settlement.SetState(r.state)
	r.Settlement.SetEmitter(r.buffer)
	r.Settlement.SetNowFunc(r.now)
	if opts.MinOracleStake != nil {
		r.Settlement.SetMinOracleStake(opts.MinOracleStake)
		r.CrossBorder.SetMinOracleStake(opts.MinOracleStake)
	}

	r.Audit.SetEmitter(r.buffer)
	r.Audit.SetNowFunc(r.now)

	r.Governance.SetState(r.state)
	r.Governance.SetEmitter(r.buffer)
	r.Governance.SetNowFunc(r.now)
	if opts.ReputationFloor > 0 {
		r.Governance.SetReputationFloor(opts.ReputationFloor)
	}
	r.Governance.RegisterExecutor(governance.ProposalKindFeeAdjustment, func(p *governance.Proposal) error {
		return r.Settlement.SetAdminFeeCap(p.TargetValue)
	})
	r.Governance.RegisterExecutor(governance.ProposalKindGeneral, func(*governance.Proposal) error { return nil })

	r.CrossBorder.SetState(r.state)
	r.CrossBorder.SetEmitter(r.buffer)
	r.CrossBorder.SetNowFunc(r.now)
	if len(opts.FeeCaps) > 0 {
		r.CrossBorder.SetFeeCaps(opts.FeeCaps)
	}
	return r
}

func (r *Runtime) now() time.Time { return r.clock }

// Root returns the last committed state root.
func (r *Runtime) Root() common.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committedRoot
}

// Operator returns the operator account.
func (r *Runtime) Operator() [20]byte { return r.operator }

// View runs fn under the runtime lock without opening a call. fn must only use
// the engines' read accessors.
func (r *Runtime) View(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn()
}

// Execute runs fn as one atomic application call within group. On success the
// trie is committed, then the host group, then the buffered events are flushed
// downstream annotated with round and txId. Any failure leaves the trie at the
// previous root, discards the group and drops the buffered events. Each call
// is traced as one span named after call.
func (r *Runtime) Execute(group Group, call string, fn func(host.Ledger) error) error {
	if group == nil {
		return ErrNilGroup
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	round := group.Round()
	r.clock = time.Unix(group.CurrentTimestamp(), 0).UTC()
	r.buffer.Reset()

	_, span := telemetry.StartCall(context.Background(), call, round)
	err := r.execute(group, round, call, fn)
	telemetry.EndCall(span, err)
	component, method := splitCall(call)
	r.metrics.ObserveCall(component, method, err, time.Since(start))
	if err != nil {
		r.logger.Warn("runtime call rejected",
			slog.String("call", call),
			slog.Uint64("round", round),
			slog.String("error", err.Error()))
	}
	return err
}

func (r *Runtime) execute(group Group, round uint64, call string, fn func(host.Ledger) error) error {
	prevRoot := r.committedRoot
	rollback := func() {
		if resetErr := r.trie.Reset(prevRoot); resetErr != nil {
			r.logger.Error("reset state trie", slog.String("error", resetErr.Error()))
		}
		group.Discard()
		r.buffer.Reset()
	}

	if err := fn(group); err != nil {
		rollback()
		return err
	}
	newRoot, err := r.trie.Commit(prevRoot, round)
	if err != nil {
		rollback()
		return fmt.Errorf("runtime: commit state: %w", err)
	}
	if err := group.Commit(); err != nil {
		rollback()
		return fmt.Errorf("runtime: commit group: %w", err)
	}
	r.committedRoot = newRoot
	r.metrics.SetCommittedRound(round)

	// The group is applied from here on, so its events go downstream even if
	// the head root cannot be persisted.
	txID := groupID(group, round, call)
	for _, evt := range r.buffer.Events() {
		annotated := evt.Clone()
		annotated.Attributes["round"] = strconv.FormatUint(round, 10)
		annotated.Attributes["txId"] = txID
		observability.Events().RecordEvent(annotated.Type, advisoryEvents[annotated.Type])
		r.downstream.Emit(events.Wrap(annotated))
	}
	r.buffer.Reset()
	if err := r.trie.Store().Put(headRootKey, newRoot.Bytes()); err != nil {
		r.logger.Error("head root not persisted after commit",
			slog.String("call", call),
			slog.Uint64("round", round),
			slog.String("root", newRoot.Hex()),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrHeadRootNotPersisted, err)
	}
	r.logger.Debug("runtime call committed",
		slog.String("call", call),
		slog.Uint64("round", round),
		slog.String("root", newRoot.Hex()))
	return nil
}

type groupDigest struct {
	Round     uint64
	Timestamp uint64
	Call      string
	Caller    uint64
	Txs       []groupTx
}

type groupTx struct {
	Type     uint8
	Sender   [20]byte
	Receiver [20]byte
	Asset    uint64
	Amount   *big.Int
}

// groupID derives a stable transaction id from the group contents.
func groupID(group host.Ledger, round uint64, call string) string {
	digest := groupDigest{Round: round, Call: call, Caller: uint64(group.CallerIndex())}
	if ts := group.CurrentTimestamp(); ts > 0 {
		digest.Timestamp = uint64(ts)
	}
	for i := 0; i < group.GroupSize(); i++ {
		tx, err := group.TransactionAt(i)
		if err != nil {
			continue
		}
		amount := tx.Amount
		if amount == nil {
			amount = new(big.Int)
		}
		digest.Txs = append(digest.Txs, groupTx{
			Type:     uint8(tx.Type),
			Sender:   tx.Sender,
			Receiver: tx.Receiver,
			Asset:    tx.Asset,
			Amount:   amount,
		})
	}
	encoded, err := rlp.EncodeToBytes(&digest)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(ethcrypto.Keccak256(encoded))
}

func splitCall(call string) (string, string) {
	if component, method, ok := strings.Cut(call, "."); ok {
		return component, method
	}
	return "runtime", call
}
