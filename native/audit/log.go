package audit

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"pharmaclear/core/events"
	"pharmaclear/core/types"
)

// ErrInvalidEventPayload is returned when a required audit field is missing.
var ErrInvalidEventPayload = errors.New("audit: invalid event payload")

// Log emits tamper-evident audit records. It keeps no state; each emission
// carries a digest of its own payload.
type Log struct {
	emitter events.Emitter
	nowFn   func() time.Time
}

func NewLog() *Log {
	return &Log{
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

func (l *Log) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Log) SetNowFunc(now func() time.Time) {
	if now == nil {
		l.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	l.nowFn = now
}

func (l *Log) emit(event *types.Event) {
	if l == nil || l.emitter == nil || event == nil {
		return
	}
	l.emitter.Emit(auditEvent{evt: event})
}

func (l *Log) now() uint64 {
	ts := l.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func missing(field string) error {
	return fmt.Errorf("%w: %s required", ErrInvalidEventPayload, field)
}

// LogEvent records a general audit entry. The entry timestamp is overwritten
// with the current clock.
func (l *Log) LogEvent(entry Entry) ([32]byte, error) {
	entry.Category = strings.TrimSpace(entry.Category)
	if entry.Category == "" {
		return [32]byte{}, missing("category")
	}
	if entry.Fingerprint == ([32]byte{}) {
		return [32]byte{}, missing("fingerprint")
	}
	entry.Amount = amountOrZero(entry.Amount)
	entry.Fee = amountOrZero(entry.Fee)
	entry.Timestamp = l.now()
	digest, err := Digest(&entry)
	if err != nil {
		return [32]byte{}, err
	}
	l.emit(newEntryEvent(&entry, digest))
	return digest, nil
}

// LogSettlement records a settlement summary.
func (l *Log) LogSettlement(fp [32]byte, pharmacy [20]byte, payout, fee *big.Int) ([32]byte, error) {
	if fp == ([32]byte{}) {
		return [32]byte{}, missing("fingerprint")
	}
	if pharmacy == ([20]byte{}) {
		return [32]byte{}, missing("pharmacy")
	}
	if payout == nil || payout.Sign() < 0 || (fee != nil && fee.Sign() < 0) {
		return [32]byte{}, missing("non-negative payout")
	}
	record := &SettlementRecord{
		Fingerprint: fp,
		Pharmacy:    pharmacy,
		Payout:      amountOrZero(payout),
		Fee:         amountOrZero(fee),
		Timestamp:   l.now(),
	}
	record.Total = new(big.Int).Add(record.Payout, record.Fee)
	digest, err := Digest(record)
	if err != nil {
		return [32]byte{}, err
	}
	l.emit(newSettlementEvent(record, digest))
	return digest, nil
}

// LogDispute records a dispute raised against a claim.
func (l *Log) LogDispute(fp [32]byte, party [20]byte, reason string, amount *big.Int) ([32]byte, error) {
	reason = strings.TrimSpace(reason)
	switch {
	case fp == [32]byte{}:
		return [32]byte{}, missing("fingerprint")
	case party == [20]byte{}:
		return [32]byte{}, missing("disputing party")
	case reason == "":
		return [32]byte{}, missing("reason")
	}
	if amount != nil && amount.Sign() < 0 {
		return [32]byte{}, missing("non-negative amount")
	}
	record := &DisputeRecord{Fingerprint: fp, Party: party, Reason: reason, Amount: amountOrZero(amount), Timestamp: l.now()}
	digest, err := Digest(record)
	if err != nil {
		return [32]byte{}, err
	}
	l.emit(newDisputeEvent(record, digest))
	return digest, nil
}

// LogFormularyLock raises an antitrust flag against a manufacturer. An empty
// NDC means the exclusion applies to the whole schedule.
func (l *Log) LogFormularyLock(manufacturer [20]byte, ndc, exclusionType string) ([32]byte, error) {
	exclusionType = strings.TrimSpace(exclusionType)
	if manufacturer == ([20]byte{}) {
		return [32]byte{}, missing("manufacturer")
	}
	if exclusionType == "" {
		return [32]byte{}, missing("exclusion type")
	}
	record := &FormularyLockRecord{Manufacturer: manufacturer, NDC: strings.TrimSpace(ndc), ExclusionType: exclusionType, Timestamp: l.now()}
	digest, err := Digest(record)
	if err != nil {
		return [32]byte{}, err
	}
	l.emit(newAntitrustEvent(record, digest))
	return digest, nil
}

// LogVolumeMilestone records a manufacturer crossing a volume milestone.
func (l *Log) LogVolumeMilestone(manufacturer [20]byte, volume uint64, milestoneType string) ([32]byte, error) {
	milestoneType = strings.TrimSpace(milestoneType)
	if manufacturer == ([20]byte{}) {
		return [32]byte{}, missing("manufacturer")
	}
	if milestoneType == "" {
		return [32]byte{}, missing("milestone type")
	}
	record := &MilestoneRecord{Manufacturer: manufacturer, Volume: volume, MilestoneType: milestoneType, Timestamp: l.now()}
	digest, err := Digest(record)
	if err != nil {
		return [32]byte{}, err
	}
	l.emit(newMilestoneEvent(record, digest))
	return digest, nil
}

// LogRecall records a recall notice with the number of affected claims.
func (l *Log) LogRecall(batchID, reason string, severity, affected uint64) ([32]byte, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return [32]byte{}, missing("batch id")
	}
	if severity < 1 || severity > 3 {
		return [32]byte{}, missing("severity 1..3")
	}
	record := &RecallRecord{BatchID: batchID, Reason: strings.TrimSpace(reason), Severity: severity, AffectedClaims: affected, Timestamp: l.now()}
	digest, err := Digest(record)
	if err != nil {
		return [32]byte{}, err
	}
	l.emit(newRecallEvent(record, digest))
	return digest, nil
}
