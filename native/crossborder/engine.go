package crossborder

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"

	"pharmaclear/core/events"
	"pharmaclear/core/host"
	"pharmaclear/core/types"
)

var (
	ErrInvalidCurrency           = errors.New("crossborder: invalid ISO 4217 currency code")
	ErrInvalidRate               = errors.New("crossborder: exchange rate must be positive")
	ErrInvalidJurisdiction       = errors.New("crossborder: invalid jurisdiction code")
	ErrInvalidRiskLevel          = errors.New("crossborder: risk level must be LOW, MEDIUM or HIGH")
	ErrInvalidRequest            = errors.New("crossborder: invalid settlement request")
	ErrKYCNotVerified            = errors.New("crossborder: KYC not verified")
	ErrJurisdictionUnknown       = errors.New("crossborder: jurisdiction unknown")
	ErrRateUnavailable           = errors.New("crossborder: exchange rate not available")
	ErrFeeExceedsJurisdictionCap = errors.New("crossborder: fee exceeds jurisdiction cap")
	ErrCurrencyNotSupported      = errors.New("crossborder: currency not supported")
	ErrAlreadySettled            = errors.New("crossborder: claim already settled")
	ErrNotInAtomicGroup          = errors.New("crossborder: must be part of atomic group")
	ErrInvalidOracleTransaction  = errors.New("crossborder: invalid oracle transaction")

	errStateNotConfigured = errors.New("crossborder: state not configured")
)

type crossBorderState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Engine converts USD rebates into registered stablecoins and settles them
// subject to KYC, AML and per-jurisdiction fee caps.
type Engine struct {
	state    crossBorderState
	emitter  events.Emitter
	nowFn    func() time.Time
	feeCaps  map[string]uint64
	minStake *big.Int
}

func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		nowFn:    func() time.Time { return time.Now().UTC() },
		feeCaps:  DefaultFeeCaps(),
		minStake: new(big.Int).Set(host.DefaultMinOracleStake),
	}
}

func (e *Engine) SetState(state crossBorderState) { e.state = state }

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
		e.minStake = new(big.Int).Set(host.DefaultMinOracleStake)
		return
	}
	e.minStake = new(big.Int).Set(amount)
}

// SetFeeCaps overlays caps onto the built-in table. Codes are upper-cased.
func (e *Engine) SetFeeCaps(caps map[string]uint64) {
	merged := DefaultFeeCaps()
	for code, bps := range caps {
		merged[strings.ToUpper(strings.TrimSpace(code))] = bps
	}
	e.feeCaps = merged
}

// FeeCap returns the fee cap applied to the jurisdiction.
func (e *Engine) FeeCap(jurisdiction string) uint64 {
	if bps, ok := e.feeCaps[strings.ToUpper(strings.TrimSpace(jurisdiction))]; ok {
		return bps
	}
	return DefaultFeeCapBps
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(crossBorderEvent{evt: event})
}

func (e *Engine) now() uint64 {
	ts := e.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func normalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return unit.String(), nil
}

func normalizeJurisdiction(code string) (string, error) {
	region, err := language.ParseRegion(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidJurisdiction, code)
	}
	return region.String(), nil
}

// RegisterCurrency maps a currency code onto the asset that settles it.
func (e *Engine) RegisterCurrency(code string, assetID uint64) (*Currency, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	normalized, err := normalizeCurrency(code)
	if err != nil {
		return nil, err
	}
	entry := &Currency{Code: normalized, AssetID: assetID}
	if err := e.state.KVPut(currencyKey(normalized), entry); err != nil {
		return nil, err
	}
	if err := e.state.KVAppend(currencyIndexKey, []byte(normalized)); err != nil {
		return nil, err
	}
	e.emit(newCurrencyRegisteredEvent(entry))
	return entry, nil
}

// Currency returns the registration for code.
func (e *Engine) Currency(code string) (*Currency, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errStateNotConfigured
	}
	normalized, err := normalizeCurrency(code)
	if err != nil {
		return nil, false, err
	}
	var entry Currency
	ok, err := e.state.KVGet(currencyKey(normalized), &entry)
	if err != nil || !ok {
		return nil, false, err
	}
	return &entry, true, nil
}

// SupportedCurrencies lists registered currency codes in lexical order.
func (e *Engine) SupportedCurrencies() ([]string, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	var raw [][]byte
	if err := e.state.KVGetList(currencyIndexKey, &raw); err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(raw))
	for _, code := range raw {
		codes = append(codes, string(code))
	}
	sort.Strings(codes)
	return codes, nil
}

// UpdateExchangeRate stores the directional rate from -> to. The reverse
// direction is never derived.
func (e *Engine) UpdateExchangeRate(from, to string, rate uint64) (*ExchangeRate, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	if rate == 0 {
		return nil, ErrInvalidRate
	}
	src, err := normalizeCurrency(from)
	if err != nil {
		return nil, err
	}
	dst, err := normalizeCurrency(to)
	if err != nil {
		return nil, err
	}
	entry := &ExchangeRate{From: src, To: dst, Rate: rate, UpdatedAt: e.now()}
	if err := e.state.KVPut(rateKey(src, dst), entry); err != nil {
		return nil, err
	}
	e.emit(newRateUpdatedEvent(entry))
	return entry, nil
}

// ExchangeRate returns the stored rate from -> to.
func (e *Engine) ExchangeRate(from, to string) (*ExchangeRate, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errStateNotConfigured
	}
	src, err := normalizeCurrency(from)
	if err != nil {
		return nil, false, err
	}
	dst, err := normalizeCurrency(to)
	if err != nil {
		return nil, false, err
	}
	var entry ExchangeRate
	ok, err := e.state.KVGet(rateKey(src, dst), &entry)
	if err != nil || !ok {
		return nil, false, err
	}
	return &entry, true, nil
}

// SetJurisdiction registers the pharmacy's jurisdiction and KYC status. The
// fee is stored per jurisdiction, so it applies to every pharmacy there. An
// existing AML flag is kept.
func (e *Engine) SetJurisdiction(pharmacy [20]byte, code string, feeBps uint64, kycVerified bool) (*PharmacyProfile, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	if pharmacy == ([20]byte{}) {
		return nil, fmt.Errorf("%w: pharmacy required", ErrInvalidRequest)
	}
	jurisdiction, err := normalizeJurisdiction(code)
	if err != nil {
		return nil, err
	}
	profile, _, err := e.Profile(pharmacy)
	if err != nil {
		return nil, err
	}
	profile.Jurisdiction = jurisdiction
	profile.KYCVerified = kycVerified
	if err := e.state.KVPut(profileKey(pharmacy), profile); err != nil {
		return nil, err
	}
	if err := e.state.KVPut(jurisdictionFeeKey(jurisdiction), feeBps); err != nil {
		return nil, err
	}
	e.emit(newJurisdictionEvent(profile, feeBps))
	return profile, nil
}

// FlagAMLRisk marks the pharmacy for AML review. Settlements still proceed
// but raise an advisory event.
func (e *Engine) FlagAMLRisk(pharmacy [20]byte, level string, reason string) (*PharmacyProfile, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	risk, ok := ParseRiskLevel(level)
	if !ok {
		return nil, ErrInvalidRiskLevel
	}
	profile, _, err := e.Profile(pharmacy)
	if err != nil {
		return nil, err
	}
	profile.AMLRisk = risk
	profile.AMLReason = strings.TrimSpace(reason)
	if err := e.state.KVPut(profileKey(pharmacy), profile); err != nil {
		return nil, err
	}
	e.emit(newAMLFlagEvent(profile, e.now()))
	return profile, nil
}

// Profile returns the pharmacy profile. Unknown pharmacies yield an empty
// profile and false.
func (e *Engine) Profile(pharmacy [20]byte) (*PharmacyProfile, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errStateNotConfigured
	}
	profile := PharmacyProfile{Pharmacy: pharmacy}
	ok, err := e.state.KVGet(profileKey(pharmacy), &profile)
	if err != nil {
		return nil, false, err
	}
	return &profile, ok, nil
}

// JurisdictionFee returns the stored fee for the jurisdiction, defaulting to
// DefaultFeeCapBps.
func (e *Engine) JurisdictionFee(jurisdiction string) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errStateNotConfigured
	}
	fee := DefaultFeeCapBps
	if _, err := e.state.KVGet(jurisdictionFeeKey(jurisdiction), &fee); err != nil {
		return 0, err
	}
	return fee, nil
}

// Settle converts the USD rebate into the target currency and pays the
// pharmacy, with the jurisdiction fee going to the collector. The group must
// carry an oracle stake payment at req.OracleTxIndex, checked before anything
// is read or written.
func (e *Engine) Settle(ledger host.Ledger, req Request) (*Settlement, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	if !host.InAtomicGroup(ledger) {
		return nil, ErrNotInAtomicGroup
	}
	if err := host.CheckOracleStake(ledger, req.OracleTxIndex, e.minStake); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOracleTransaction, err)
	}
	if req.AmountUSD == nil || req.AmountUSD.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount must be non-negative", ErrInvalidRequest)
	}
	target := strings.ToUpper(strings.TrimSpace(req.TargetCurrency))

	profile, known, err := e.Profile(req.Pharmacy)
	if err != nil {
		return nil, err
	}
	if !known || !profile.KYCVerified {
		return nil, ErrKYCNotVerified
	}
	if profile.Jurisdiction == "" {
		return nil, ErrJurisdictionUnknown
	}
	if profile.AMLRisk != "" {
		e.emit(newAMLReviewEvent(profile, req.Fingerprint))
	}

	var rate ExchangeRate
	ok, err := e.state.KVGet(rateKey(BaseCurrency, target), &rate)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s_%s", ErrRateUnavailable, BaseCurrency, target)
	}
	converted := Convert(req.AmountUSD, rate.Rate)

	feeBps, err := e.JurisdictionFee(profile.Jurisdiction)
	if err != nil {
		return nil, err
	}
	if feeBps > e.FeeCap(profile.Jurisdiction) {
		return nil, ErrFeeExceedsJurisdictionCap
	}
	fee := new(big.Int).Mul(converted, new(big.Int).SetUint64(feeBps))
	fee.Quo(fee, new(big.Int).SetUint64(basisPoints))
	payout := new(big.Int).Sub(converted, fee)

	var unit Currency
	ok, err = e.state.KVGet(currencyKey(target), &unit)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCurrencyNotSupported
	}

	exists, err := e.state.KVGet(settlementKey(req.Fingerprint), nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadySettled
	}
	if fee.Sign() > 0 && req.FeeCollector == ([20]byte{}) {
		return nil, fmt.Errorf("%w: fee collector required", ErrInvalidRequest)
	}

	record := &Settlement{
		Fingerprint:    req.Fingerprint,
		Pharmacy:       req.Pharmacy,
		AmountUSD:      new(big.Int).Set(req.AmountUSD),
		TargetCurrency: target,
		AssetID:        unit.AssetID,
		Rate:           rate.Rate,
		Converted:      converted,
		Fee:            fee,
		Payout:         payout,
		FeeBps:         feeBps,
		Jurisdiction:   profile.Jurisdiction,
		SettledAt:      e.now(),
	}
	if err := e.state.KVPut(settlementKey(req.Fingerprint), record); err != nil {
		return nil, err
	}
	conversion := &Conversion{From: BaseCurrency, To: target, AmountIn: record.AmountUSD, AmountOut: converted, Rate: rate.Rate}
	if err := e.state.KVPut(conversionKey(req.Fingerprint), conversion); err != nil {
		return nil, err
	}

	if payout.Sign() > 0 {
		if err := ledger.IssueTransfer(unit.AssetID, payout, req.Pharmacy); err != nil {
			return nil, fmt.Errorf("crossborder: pharmacy transfer: %w", err)
		}
	}
	if fee.Sign() > 0 {
		if err := ledger.IssueTransfer(unit.AssetID, fee, req.FeeCollector); err != nil {
			return nil, fmt.Errorf("crossborder: fee transfer: %w", err)
		}
	}
	e.emit(newSettledEvent(record))
	return record, nil
}

// SettlementDetails returns the stored settlement for fp.
func (e *Engine) SettlementDetails(fp [32]byte) (*Settlement, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errStateNotConfigured
	}
	var record Settlement
	ok, err := e.state.KVGet(settlementKey(fp), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	return &record, true, nil
}

// ConversionRecord returns the conversion line stored with the settlement.
func (e *Engine) ConversionRecord(fp [32]byte) (*Conversion, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errStateNotConfigured
	}
	var record Conversion
	ok, err := e.state.KVGet(conversionKey(fp), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	return &record, true, nil
}

// EstimateConversion converts amountUSD at the stored USD rate. It returns
// zero when no rate is stored.
func (e *Engine) EstimateConversion(amountUSD *big.Int, target string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	if amountUSD == nil || amountUSD.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount must be non-negative", ErrInvalidRequest)
	}
	var rate ExchangeRate
	ok, err := e.state.KVGet(rateKey(BaseCurrency, strings.ToUpper(strings.TrimSpace(target))), &rate)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return Convert(amountUSD, rate.Rate), nil
}
