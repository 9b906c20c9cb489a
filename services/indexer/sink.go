package indexer

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pharmaclear/core/events"
	"pharmaclear/core/types"
	"pharmaclear/native/claims"
	"pharmaclear/native/crossborder"
	"pharmaclear/native/settlement"
)

// Sink persists committed runtime events. It is installed as the runtime's
// downstream emitter, so it only ever sees events of calls that committed.
// Failures are logged and never propagate back into the runtime.
type Sink struct {
	db         *gorm.DB
	checkpoint *Checkpoint
	app        string
	logger     *slog.Logger
}

// NewSink constructs a sink writing to db. app is the hex application
// account stamped on every record; checkpoint may be nil.
func NewSink(db *gorm.DB, checkpoint *Checkpoint, app string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	app = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(app), "0x"))
	return &Sink{db: db, checkpoint: checkpoint, app: app, logger: logger.With("component", "indexer")}
}

// Emit implements events.Emitter.
func (s *Sink) Emit(evt events.Event) {
	payload := events.Payload(evt)
	if payload == nil || payload.Type == "" {
		return
	}
	if err := s.store(payload); err != nil {
		s.logger.Error("index event",
			slog.String("type", payload.Type),
			slog.String("txId", payload.Attributes["txId"]),
			slog.String("error", err.Error()))
	}
}

func (s *Sink) store(payload *types.Event) error {
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		return err
	}
	round := parseUint(payload.Attributes["round"])
	record := EventRecord{
		App:        s.app,
		Round:      round,
		TxID:       payload.Attributes["txId"],
		Type:       payload.Type,
		Attributes: string(attrs),
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		if claim := decodeClaim(payload); claim != nil {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(claim).Error; err != nil {
				return err
			}
		}
		if row := decodeSettlement(payload); row != nil {
			if err := tx.Create(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.checkpoint != nil && round > 0 {
		return s.checkpoint.Advance(round)
	}
	return nil
}

func decodeClaim(evt *types.Event) *ClaimRow {
	switch evt.Type {
	case claims.EventTypeClaimSubmitted, claims.EventTypeClaimSubmittedEnhanced:
	default:
		return nil
	}
	a := evt.Attributes
	return &ClaimRow{
		Fingerprint:    a["fingerprint"],
		ClaimID:        a["claimId"],
		NDC:            a["ndc"],
		NPI:            a["npi"],
		BatchID:        a["batchId"],
		LotNumber:      a["lotNumber"],
		ExpirationDate: parseUint(a["expirationDate"]),
		Country:        a["country"],
		Enhanced:       evt.Type == claims.EventTypeClaimSubmittedEnhanced,
		Submitter:      a["submitter"],
		Round:          parseUint(a["round"]),
		TxID:           a["txId"],
	}
}

func decodeSettlement(evt *types.Event) *SettlementRow {
	a := evt.Attributes
	row := &SettlementRow{
		Fingerprint: a["fingerprint"],
		Pharmacy:    a["pharmacy"],
		AssetID:     parseUint(a["assetId"]),
		Payout:      a["payout"],
		Fee:         a["fee"],
		SettledAt:   parseUint(a["timestamp"]),
		Round:       parseUint(a["round"]),
		TxID:        a["txId"],
	}
	switch evt.Type {
	case settlement.EventTypeRebateSettled:
		row.Kind = SettlementKindDomestic
		row.FeeCollector = a["feeCollector"]
	case crossborder.EventTypeSettled:
		row.Kind = SettlementKindCrossBorder
		row.Currency = a["currency"]
	default:
		return nil
	}
	return row
}

func parseUint(value string) uint64 {
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
