package audit

import (
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"
)

// Categories used by the helper loggers.
const (
	CategorySettlement  = "SETTLEMENT"
	CategoryCalculation = "CALCULATION"
	CategoryDispute     = "DISPUTE"
	CategoryRecall      = "RECALL"
)

// Entry is a canonical audit record. Zero-valued optional fields are encoded
// as-is so the digest stays stable.
type Entry struct {
	Category     string
	Fingerprint  [32]byte
	Pharmacy     [20]byte
	PBM          [20]byte
	Manufacturer [20]byte
	Amount       *big.Int
	Fee          *big.Int
	Metadata     string
	Timestamp    uint64
}

// SettlementRecord summarises a completed settlement.
type SettlementRecord struct {
	Fingerprint [32]byte
	Pharmacy    [20]byte
	Payout      *big.Int
	Fee         *big.Int
	Total       *big.Int
	Timestamp   uint64
}

// DisputeRecord captures a reconciliation dispute.
type DisputeRecord struct {
	Fingerprint [32]byte
	Party       [20]byte
	Reason      string
	Amount      *big.Int
	Timestamp   uint64
}

// FormularyLockRecord flags a potentially anti-competitive exclusion.
type FormularyLockRecord struct {
	Manufacturer  [20]byte
	NDC           string
	ExclusionType string
	Timestamp     uint64
}

// MilestoneRecord tracks manufacturer volume milestones.
type MilestoneRecord struct {
	Manufacturer  [20]byte
	Volume        uint64
	MilestoneType string
	Timestamp     uint64
}

// RecallRecord captures a recall notice and its reach.
type RecallRecord struct {
	BatchID        string
	Reason         string
	Severity       uint64
	AffectedClaims uint64
	Timestamp      uint64
}

// Digest returns the BLAKE3-256 hash of the RLP encoding of record.
func Digest(record interface{}) ([32]byte, error) {
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(encoded), nil
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
