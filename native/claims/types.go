package claims

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Recall severity levels follow the FDA classification.
const (
	SeverityLifeThreatening uint64 = 1
	SeveritySerious         uint64 = 2
	SeverityMinor           uint64 = 3
)

// Identity holds the fields that identify a dispensed claim.
type Identity struct {
	ClaimID      string
	NDC          string
	NPI          string
	DispenseDate uint64
}

// Normalize trims whitespace from every string field.
func (i Identity) Normalize() Identity {
	return Identity{
		ClaimID:      strings.TrimSpace(i.ClaimID),
		NDC:          strings.TrimSpace(i.NDC),
		NPI:          strings.TrimSpace(i.NPI),
		DispenseDate: i.DispenseDate,
	}
}

// Validate ensures the identity carries every field used by the fingerprint.
func (i Identity) Validate() error {
	if i.ClaimID == "" {
		return fmt.Errorf("%w: claim id required", ErrInvalidClaim)
	}
	if i.NDC == "" {
		return fmt.Errorf("%w: ndc required", ErrInvalidClaim)
	}
	if i.NPI == "" {
		return fmt.Errorf("%w: npi required", ErrInvalidClaim)
	}
	return nil
}

func (i Identity) bytes() []byte {
	var date [8]byte
	binary.BigEndian.PutUint64(date[:], i.DispenseDate)
	buf := make([]byte, 0, len(i.ClaimID)+len(i.NDC)+len(i.NPI)+8)
	buf = append(buf, i.ClaimID...)
	buf = append(buf, i.NDC...)
	buf = append(buf, i.NPI...)
	buf = append(buf, date[:]...)
	return buf
}

// Provenance carries the supply-chain fields of an enhanced claim. A zero
// ExpirationDate means the expiry is unknown.
type Provenance struct {
	BatchNumber    string
	LotNumber      string
	ExpirationDate uint64
	CountryCode    string
}

// Record is the immutable metadata stored for each accepted claim.
type Record struct {
	Fingerprint    [32]byte
	ClaimID        string
	NDC            string
	NPI            string
	DispenseDate   uint64
	BatchNumber    string
	LotNumber      string
	ExpirationDate uint64
	CountryCode    string
	Enhanced       bool
	Submitter      [20]byte
	SubmittedAt    uint64
}

// BatchID returns the batch identifier for the pair.
func (r *Record) BatchID() string {
	if r == nil || !r.Enhanced {
		return ""
	}
	return BatchID(r.NDC, r.BatchNumber)
}

// Batch tracks a manufacturer batch and its recall status.
type Batch struct {
	ID           string
	NDC          string
	BatchNumber  string
	RegisteredAt uint64
	Recalled     bool
	RecallReason string
	Severity     uint64
	RecalledAt   uint64
}

// ExpiringDrug is one line of the expiring-inventory report.
type ExpiringDrug struct {
	NDC            string
	ExpirationDate uint64
}

// BatchID derives the batch identifier from the drug code and batch number.
func BatchID(ndc, batchNumber string) string {
	return strings.TrimSpace(ndc) + "-" + strings.TrimSpace(batchNumber)
}

// ComputeFingerprint hashes claim_id, ndc, npi, the big-endian dispense date
// and the oracle proof with SHA-256.
func ComputeFingerprint(id Identity, proof []byte) [32]byte {
	data := id.Normalize().bytes()
	data = append(data, proof...)
	return sha256.Sum256(data)
}

// ComputeEnhancedFingerprint hashes the identity followed by batch and lot
// numbers. The oracle proof is not part of the enhanced fingerprint so the
// same dispensation cannot be resubmitted under a different proof.
func ComputeEnhancedFingerprint(id Identity, prov Provenance) [32]byte {
	data := id.Normalize().bytes()
	data = append(data, strings.TrimSpace(prov.BatchNumber)...)
	data = append(data, strings.TrimSpace(prov.LotNumber)...)
	return sha256.Sum256(data)
}

// FormatFingerprint renders a fingerprint as lowercase hex.
func FormatFingerprint(fp [32]byte) string {
	return hex.EncodeToString(fp[:])
}

// ParseFingerprint decodes a hex fingerprint, with or without 0x prefix.
func ParseFingerprint(input string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(input), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("claims: invalid fingerprint: %w", err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("claims: fingerprint must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
