package claims

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/language"

	"pharmaclear/core/events"
	"pharmaclear/core/types"
)

var (
	// ErrAuthenticationMissing is returned when a claim arrives without an
	// oracle proof.
	ErrAuthenticationMissing = errors.New("claims: oracle authentication missing")
	// ErrDuplicateClaim is returned when the fingerprint already exists.
	ErrDuplicateClaim = errors.New("claims: duplicate claim")
	// ErrClaimNotFound is returned by metadata lookups for unknown fingerprints.
	ErrClaimNotFound = errors.New("claims: claim not found")
	// ErrInvalidClaim marks claims with missing identity or provenance fields.
	ErrInvalidClaim = errors.New("claims: invalid claim")
	// ErrInvalidSeverity is returned for recall severities outside 1..3.
	ErrInvalidSeverity = errors.New("claims: invalid recall severity")

	errStateNotConfigured = errors.New("claims: state not configured")
)

const secondsPerDay = 86400

type claimState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Engine deduplicates claims and tracks batch provenance and recalls.
type Engine struct {
	state   claimState
	emitter events.Emitter
	nowFn   func() time.Time
}

// NewEngine constructs a claim ledger with no-op dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetState wires the engine to the KV state backend.
func (e *Engine) SetState(state claimState) { e.state = state }

// SetEmitter configures the event emitter. Nil resets to a no-op emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used for submission timestamps and expiry
// checks. Nil restores the UTC wall clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(claimEvent{evt: event})
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := e.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// Submit records a base claim. The oracle proof is only checked for presence;
// it is not verified cryptographically.
func (e *Engine) Submit(submitter [20]byte, id Identity, proof []byte) ([32]byte, error) {
	var fp [32]byte
	if e == nil || e.state == nil {
		return fp, errStateNotConfigured
	}
	if len(proof) == 0 {
		return fp, ErrAuthenticationMissing
	}
	id = id.Normalize()
	if err := id.Validate(); err != nil {
		return fp, err
	}
	fp = ComputeFingerprint(id, proof)
	if err := e.ensureUnique(fp); err != nil {
		return fp, err
	}
	record := &Record{
		Fingerprint:  fp,
		ClaimID:      id.ClaimID,
		NDC:          id.NDC,
		NPI:          id.NPI,
		DispenseDate: id.DispenseDate,
		Submitter:    submitter,
		SubmittedAt:  e.now(),
	}
	if err := e.state.KVPut(RecordKey(fp), record); err != nil {
		return fp, err
	}
	e.emit(newSubmittedEvent(record))
	return fp, nil
}

// SubmitEnhanced records a claim with batch, lot, expiry and country
// provenance. Recalled batches and expired drugs raise advisory events but do
// not block the claim.
func (e *Engine) SubmitEnhanced(submitter [20]byte, id Identity, proof []byte, prov Provenance) ([32]byte, error) {
	var fp [32]byte
	if e == nil || e.state == nil {
		return fp, errStateNotConfigured
	}
	if len(proof) == 0 {
		return fp, ErrAuthenticationMissing
	}
	id = id.Normalize()
	if err := id.Validate(); err != nil {
		return fp, err
	}
	prov.BatchNumber = strings.TrimSpace(prov.BatchNumber)
	prov.LotNumber = strings.TrimSpace(prov.LotNumber)
	if prov.BatchNumber == "" {
		return fp, fmt.Errorf("%w: batch number required", ErrInvalidClaim)
	}
	country, err := normalizeCountry(prov.CountryCode)
	if err != nil {
		return fp, err
	}
	prov.CountryCode = country

	fp = ComputeEnhancedFingerprint(id, prov)
	if err := e.ensureUnique(fp); err != nil {
		return fp, err
	}

	now := e.now()
	record := &Record{
		Fingerprint:    fp,
		ClaimID:        id.ClaimID,
		NDC:            id.NDC,
		NPI:            id.NPI,
		DispenseDate:   id.DispenseDate,
		BatchNumber:    prov.BatchNumber,
		LotNumber:      prov.LotNumber,
		ExpirationDate: prov.ExpirationDate,
		CountryCode:    prov.CountryCode,
		Enhanced:       true,
		Submitter:      submitter,
		SubmittedAt:    now,
	}

	batchID := BatchID(id.NDC, prov.BatchNumber)
	batch, exists, err := e.loadBatch(batchID)
	if err != nil {
		return fp, err
	}
	if exists && batch.Recalled {
		e.emit(newRecalledDispensedEvent(record, batch))
	}
	if prov.ExpirationDate != 0 && prov.ExpirationDate < now {
		e.emit(newExpiredDispensedEvent(record, now))
	}

	if err := e.state.KVPut(RecordKey(fp), record); err != nil {
		return fp, err
	}
	if !exists {
		batch = &Batch{
			ID:           batchID,
			NDC:          id.NDC,
			BatchNumber:  prov.BatchNumber,
			RegisteredAt: now,
		}
		if err := e.state.KVPut(batchKey(batchID), batch); err != nil {
			return fp, err
		}
	}
	if err := e.state.KVAppend(batchClaimsKey(batchID), fp[:]); err != nil {
		return fp, err
	}
	if prov.CountryCode != "" {
		if err := e.state.KVPut(countryKey(id.NPI), prov.CountryCode); err != nil {
			return fp, err
		}
	}
	if prov.ExpirationDate != 0 {
		if err := e.state.KVPut(expiryKey(id.NDC), prov.ExpirationDate); err != nil {
			return fp, err
		}
		if err := e.state.KVAppend(ndcIndexKey, []byte(id.NDC)); err != nil {
			return fp, err
		}
	}

	e.emit(newSubmittedEnhancedEvent(record, batchID))
	return fp, nil
}

// IssueRecall flags a batch as recalled and returns the number of claims
// already linked to it. Recalling twice refreshes the reason but the flag can
// never be cleared.
func (e *Engine) IssueRecall(ndc, batchNumber, reason string, severity uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errStateNotConfigured
	}
	ndc = strings.TrimSpace(ndc)
	batchNumber = strings.TrimSpace(batchNumber)
	if ndc == "" || batchNumber == "" {
		return 0, fmt.Errorf("%w: ndc and batch number required", ErrInvalidClaim)
	}
	if severity < SeverityLifeThreatening || severity > SeverityMinor {
		return 0, ErrInvalidSeverity
	}
	batchID := BatchID(ndc, batchNumber)
	batch, exists, err := e.loadBatch(batchID)
	if err != nil {
		return 0, err
	}
	now := e.now()
	if !exists {
		batch = &Batch{ID: batchID, NDC: ndc, BatchNumber: batchNumber, RegisteredAt: now}
	}
	batch.Recalled = true
	batch.RecallReason = strings.TrimSpace(reason)
	batch.Severity = severity
	batch.RecalledAt = now
	if err := e.state.KVPut(batchKey(batchID), batch); err != nil {
		return 0, err
	}
	affected, err := e.batchClaimCount(batchID)
	if err != nil {
		return 0, err
	}
	e.emit(newRecallIssuedEvent(batch, affected))
	return affected, nil
}

// Verify reports whether the fingerprint has been recorded.
func (e *Engine) Verify(fp [32]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errStateNotConfigured
	}
	return e.state.KVGet(RecordKey(fp), nil)
}

// Metadata returns the stored claim record.
func (e *Engine) Metadata(fp [32]byte) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	var record Record
	ok, err := e.state.KVGet(RecordKey(fp), &record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrClaimNotFound
	}
	return &record, nil
}

// IsBatchRecalled reports whether the batch has ever been recalled.
func (e *Engine) IsBatchRecalled(ndc, batchNumber string) (bool, error) {
	batch, ok, err := e.Batch(ndc, batchNumber)
	if err != nil || !ok {
		return false, err
	}
	return batch.Recalled, nil
}

// Batch returns the batch registration for the pair.
func (e *Engine) Batch(ndc, batchNumber string) (*Batch, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errStateNotConfigured
	}
	return e.loadBatch(BatchID(ndc, batchNumber))
}

// BatchClaims returns the fingerprints linked to the batch in submission order.
func (e *Engine) BatchClaims(ndc, batchNumber string) ([][32]byte, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	var raw [][]byte
	if err := e.state.KVGetList(batchClaimsKey(BatchID(ndc, batchNumber)), &raw); err != nil {
		return nil, err
	}
	out := make([][32]byte, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 32 {
			return nil, fmt.Errorf("claims: corrupt batch index entry of %d bytes", len(entry))
		}
		var fp [32]byte
		copy(fp[:], entry)
		out = append(out, fp)
	}
	return out, nil
}

// BatchClaimCount returns how many claims reference the batch.
func (e *Engine) BatchClaimCount(ndc, batchNumber string) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errStateNotConfigured
	}
	return e.batchClaimCount(BatchID(ndc, batchNumber))
}

// PharmacyCountry returns the last country recorded for the pharmacy NPI.
func (e *Engine) PharmacyCountry(npi string) (string, bool, error) {
	if e == nil || e.state == nil {
		return "", false, errStateNotConfigured
	}
	var country string
	ok, err := e.state.KVGet(countryKey(strings.TrimSpace(npi)), &country)
	if err != nil || !ok {
		return "", false, err
	}
	return country, true, nil
}

// expiryCutoff returns now + days, saturating at math.MaxUint64.
func expiryCutoff(now, days uint64) uint64 {
	hi, span := bits.Mul64(days, secondsPerDay)
	cutoff, carry := bits.Add64(now, span, 0)
	if hi != 0 || carry != 0 {
		return math.MaxUint64
	}
	return cutoff
}

// ExpiringDrugs lists drug codes whose last recorded expiry falls on or before
// now + thresholdDays, earliest first.
func (e *Engine) ExpiringDrugs(thresholdDays uint64) ([]ExpiringDrug, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	cutoff := expiryCutoff(e.now(), thresholdDays)
	var ndcs [][]byte
	if err := e.state.KVGetList(ndcIndexKey, &ndcs); err != nil {
		return nil, err
	}
	report := make([]ExpiringDrug, 0)
	for _, raw := range ndcs {
		ndc := string(raw)
		var expiry uint64
		ok, err := e.state.KVGet(expiryKey(ndc), &expiry)
		if err != nil {
			return nil, err
		}
		if !ok || expiry > cutoff {
			continue
		}
		report = append(report, ExpiringDrug{NDC: ndc, ExpirationDate: expiry})
	}
	sort.SliceStable(report, func(i, j int) bool {
		if report[i].ExpirationDate == report[j].ExpirationDate {
			return report[i].NDC < report[j].NDC
		}
		return report[i].ExpirationDate < report[j].ExpirationDate
	})
	return report, nil
}

func (e *Engine) ensureUnique(fp [32]byte) error {
	exists, err := e.state.KVGet(RecordKey(fp), nil)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateClaim
	}
	return nil
}

func (e *Engine) loadBatch(batchID string) (*Batch, bool, error) {
	var batch Batch
	ok, err := e.state.KVGet(batchKey(batchID), &batch)
	if err != nil || !ok {
		return nil, false, err
	}
	return &batch, true, nil
}

func (e *Engine) batchClaimCount(batchID string) (uint64, error) {
	var raw [][]byte
	if err := e.state.KVGetList(batchClaimsKey(batchID), &raw); err != nil {
		return 0, err
	}
	return uint64(len(raw)), nil
}

func normalizeCountry(code string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		return "", nil
	}
	region, err := language.ParseRegion(trimmed)
	if err != nil || !region.IsCountry() {
		return "", fmt.Errorf("%w: unknown country code %q", ErrInvalidClaim, code)
	}
	return region.String(), nil
}
