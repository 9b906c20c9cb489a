package indexer

import (
	"time"

	"gorm.io/gorm"
)

// EventRecord is one committed runtime event.
type EventRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	App        string `gorm:"size:64;index"`
	Round      uint64 `gorm:"index"`
	TxID       string `gorm:"size:64;index"`
	Type       string `gorm:"size:64;index"`
	Attributes string `gorm:"type:text"`
	CreatedAt  time.Time
}

// ClaimRow is the decoded form of claims.submitted and claims.submitted_enhanced.
type ClaimRow struct {
	Fingerprint    string `gorm:"size:64;primaryKey" json:"fingerprint"`
	ClaimID        string `gorm:"size:128;index" json:"claimId"`
	NDC            string `gorm:"size:32;index" json:"ndc"`
	NPI            string `gorm:"size:32" json:"npi"`
	BatchID        string `gorm:"size:96;index" json:"batchId,omitempty"`
	LotNumber      string `gorm:"size:64" json:"lotNumber,omitempty"`
	ExpirationDate uint64 `json:"expirationDate,omitempty"`
	Country        string `gorm:"size:8" json:"country,omitempty"`
	Enhanced       bool   `json:"enhanced"`
	Submitter      string `gorm:"size:40" json:"submitter"`
	Round          uint64 `gorm:"index" json:"round"`
	TxID           string `gorm:"size:64" json:"txId"`
}

// Settlement kinds.
const (
	SettlementKindDomestic    = "domestic"
	SettlementKindCrossBorder = "crossborder"
)

// SettlementRow is the decoded form of a completed payout.
type SettlementRow struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Fingerprint  string `gorm:"size:64;index" json:"fingerprint"`
	Kind         string `gorm:"size:16;index" json:"kind"`
	Pharmacy     string `gorm:"size:40;index" json:"pharmacy"`
	FeeCollector string `gorm:"size:40" json:"feeCollector,omitempty"`
	AssetID      uint64 `json:"assetId"`
	Currency     string `gorm:"size:8" json:"currency,omitempty"`
	Payout       string `gorm:"size:80" json:"payout"`
	Fee          string `gorm:"size:80" json:"fee"`
	SettledAt    uint64 `json:"settledAt"`
	Round        uint64 `gorm:"index" json:"round"`
	TxID         string `gorm:"size:64" json:"txId"`
}

// AutoMigrate creates or updates the indexer tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{}, &ClaimRow{}, &SettlementRow{})
}
