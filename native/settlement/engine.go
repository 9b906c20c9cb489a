package settlement

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"pharmaclear/core/events"
	"pharmaclear/core/host"
	"pharmaclear/core/types"
)

var (
	ErrNotInitialized            = errors.New("settlement: not initialized")
	ErrAlreadyInitialized        = errors.New("settlement: already initialized")
	ErrNotInAtomicGroup          = errors.New("settlement: must be part of atomic group")
	ErrInvalidOracleTransaction  = errors.New("settlement: invalid oracle transaction")
	ErrFeeCapExceeded            = errors.New("settlement: admin fee exceeds 3% cap")
	ErrFeeCapTooHigh             = errors.New("settlement: admin fee cap cannot exceed 300 bps")
	ErrInvalidFundingTransaction = errors.New("settlement: invalid funding transaction")
	ErrInvalidAmount             = errors.New("settlement: invalid rebate amount")
	ErrInvalidRecipient          = errors.New("settlement: recipient address required")

	errStateNotConfigured = errors.New("settlement: state not configured")
)

var paramsKey = []byte("settlement/params")

type settlementState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Engine moves rebate funds out of the application account through inner
// transfers issued on the host ledger.
type Engine struct {
	state    settlementState
	emitter  events.Emitter
	nowFn    func() time.Time
	minStake *big.Int
}

func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		nowFn:    func() time.Time { return time.Now().UTC() },
		minStake: new(big.Int).Set(DefaultMinOracleStake),
	}
}

func (e *Engine) SetState(state settlementState) { e.state = state }

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

// SetMinOracleStake overrides the minimum oracle payment. Nil or negative
// values restore the default.
func (e *Engine) SetMinOracleStake(amount *big.Int) {
	if amount == nil || amount.Sign() < 0 {
		e.minStake = new(big.Int).Set(DefaultMinOracleStake)
		return
	}
	e.minStake = new(big.Int).Set(amount)
}

// MinOracleStake returns the active minimum oracle payment.
func (e *Engine) MinOracleStake() *big.Int { return new(big.Int).Set(e.minStake) }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(settlementEvent{evt: event})
}

func (e *Engine) now() uint64 {
	ts := e.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// Params returns the stored parameters. The zero value is returned before
// initialization.
func (e *Engine) Params() (*Params, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	var params Params
	if _, err := e.state.KVGet(paramsKey, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

// Initialize records the settlement asset and admin fee cap. It can only run
// once.
func (e *Engine) Initialize(assetID, adminFeeCapBps uint64) (*Params, error) {
	current, err := e.Params()
	if err != nil {
		return nil, err
	}
	if current.Initialized {
		return nil, ErrAlreadyInitialized
	}
	if adminFeeCapBps > MaxAdminFeeBps {
		return nil, ErrFeeCapTooHigh
	}
	params := &Params{AssetID: assetID, AdminFeeCapBps: adminFeeCapBps, Initialized: true}
	if err := e.state.KVPut(paramsKey, params); err != nil {
		return nil, err
	}
	e.emit(newInitializedEvent(params))
	return params, nil
}

// SetAdminFeeCap updates the admin fee cap. Governance executes fee
// adjustment proposals through it.
func (e *Engine) SetAdminFeeCap(bps uint64) error {
	params, err := e.Params()
	if err != nil {
		return err
	}
	if !params.Initialized {
		return ErrNotInitialized
	}
	if bps > MaxAdminFeeBps {
		return ErrFeeCapTooHigh
	}
	previous := params.AdminFeeCapBps
	params.AdminFeeCapBps = bps
	if err := e.state.KVPut(paramsKey, params); err != nil {
		return err
	}
	e.emit(newFeeCapUpdatedEvent(previous, bps))
	return nil
}

// ClaimRebate validates the atomic group and pays the rebate out to the
// pharmacy, with the admin fee going to the collector. Every check runs before
// the first transfer is issued.
//
// The oracle check only requires a payment of at least the minimum stake at
// the given index. It does not authenticate the oracle's identity and must not
// be treated as production-grade authentication.
func (e *Engine) ClaimRebate(ledger host.Ledger, req ClaimRequest) (*Result, error) {
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	if !params.Initialized {
		return nil, ErrNotInitialized
	}
	if !host.InAtomicGroup(ledger) {
		return nil, ErrNotInAtomicGroup
	}
	if err := e.checkOracle(ledger, req.OracleTxIndex); err != nil {
		return nil, err
	}
	if req.Amount == nil || req.Amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if req.Pharmacy == ([20]byte{}) || req.FeeCollector == ([20]byte{}) {
		return nil, ErrInvalidRecipient
	}

	fee, payout := SplitFee(req.Amount, params.AdminFeeCapBps)
	if fee.Cmp(maxFee(req.Amount)) > 0 {
		return nil, ErrFeeCapExceeded
	}

	if payout.Sign() > 0 {
		if err := ledger.IssueTransfer(params.AssetID, payout, req.Pharmacy); err != nil {
			return nil, fmt.Errorf("settlement: pharmacy transfer: %w", err)
		}
	}
	if fee.Sign() > 0 {
		if err := ledger.IssueTransfer(params.AssetID, fee, req.FeeCollector); err != nil {
			return nil, fmt.Errorf("settlement: fee transfer: %w", err)
		}
	}

	result := &Result{
		Fingerprint:  req.Fingerprint,
		Pharmacy:     req.Pharmacy,
		FeeCollector: req.FeeCollector,
		AssetID:      params.AssetID,
		Payout:       payout,
		Fee:          fee,
		SettledAt:    e.now(),
	}
	e.emit(newRebateSettledEvent(result))
	return result, nil
}

func (e *Engine) checkOracle(ledger host.Ledger, index int) error {
	if err := host.CheckOracleStake(ledger, index, e.minStake); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOracleTransaction, err)
	}
	return nil
}

// FundEscrow accepts an asset transfer into the application account. The
// transfer itself is applied by the host when the group commits.
func (e *Engine) FundEscrow(ledger host.Ledger, txIndex int) (*big.Int, error) {
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	if !params.Initialized {
		return nil, ErrNotInitialized
	}
	if ledger == nil {
		return nil, ErrInvalidFundingTransaction
	}
	tx, err := ledger.TransactionAt(txIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFundingTransaction, err)
	}
	if tx.Type != host.TxTypeAssetTransfer {
		return nil, fmt.Errorf("%w: expected asset transfer", ErrInvalidFundingTransaction)
	}
	if tx.Receiver != ledger.ApplicationAddress() {
		return nil, fmt.Errorf("%w: invalid receiver", ErrInvalidFundingTransaction)
	}
	if tx.Asset != params.AssetID {
		return nil, fmt.Errorf("%w: invalid asset %d", ErrInvalidFundingTransaction, tx.Asset)
	}
	amount := new(big.Int).Set(tx.Amount)
	e.emit(newEscrowFundedEvent(tx.Sender, amount))
	return amount, nil
}

// Balance returns the application's balance in the settlement asset.
func (e *Engine) Balance(ledger host.Ledger) (*big.Int, error) {
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	if !params.Initialized {
		return nil, ErrNotInitialized
	}
	return ledger.BalanceOf(ledger.ApplicationAddress(), params.AssetID)
}
