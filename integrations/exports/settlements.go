package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"pharmaclear/services/indexer"
)

var settlementHeader = []string{
	"fingerprint", "kind", "pharmacy", "fee_collector", "asset_id", "currency",
	"payout", "fee", "settled_at", "round", "tx_id",
}

// SettlementsJSONL builds a JSON Lines export of the supplied settlement rows
// and returns the payload alongside its SHA-256 checksum.
func SettlementsJSONL(rows []indexer.SettlementRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, row := range rows {
		payload := map[string]interface{}{
			"fingerprint":   row.Fingerprint,
			"kind":          row.Kind,
			"pharmacy":      "0x" + row.Pharmacy,
			"fee_collector": prefixed(row.FeeCollector),
			"asset_id":      row.AssetID,
			"currency":      row.Currency,
			"payout":        amountOrZero(row.Payout),
			"fee":           amountOrZero(row.Fee),
			"settled_at":    formatUnix(row.SettledAt),
			"round":         row.Round,
			"tx_id":         row.TxID,
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}

// SettlementsCSV builds a CSV export of the supplied settlement rows.
func SettlementsCSV(rows []indexer.SettlementRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	w := csv.NewWriter(buffer)
	if err := w.Write(settlementHeader); err != nil {
		return nil, "", err
	}
	for _, row := range rows {
		record := []string{
			row.Fingerprint,
			row.Kind,
			"0x" + row.Pharmacy,
			prefixed(row.FeeCollector),
			strconv.FormatUint(row.AssetID, 10),
			row.Currency,
			amountOrZero(row.Payout),
			amountOrZero(row.Fee),
			formatUnix(row.SettledAt),
			strconv.FormatUint(row.Round, 10),
			row.TxID,
		}
		if err := w.Write(record); err != nil {
			return nil, "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}

type parquetRow struct {
	Fingerprint  string `parquet:"name=fingerprint, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind         string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Pharmacy     string `parquet:"name=pharmacy, type=BYTE_ARRAY, convertedtype=UTF8"`
	FeeCollector string `parquet:"name=fee_collector, type=BYTE_ARRAY, convertedtype=UTF8"`
	AssetID      int64  `parquet:"name=asset_id, type=INT64"`
	Currency     string `parquet:"name=currency, type=BYTE_ARRAY, convertedtype=UTF8"`
	Payout       string `parquet:"name=payout, type=BYTE_ARRAY, convertedtype=UTF8"`
	Fee          string `parquet:"name=fee, type=BYTE_ARRAY, convertedtype=UTF8"`
	SettledAt    int64  `parquet:"name=settled_at, type=INT64"`
	Round        int64  `parquet:"name=round, type=INT64"`
	TxID         string `parquet:"name=tx_id, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteSettlementsParquet writes rows to a Snappy-compressed Parquet file.
func WriteSettlementsParquet(path string, rows []indexer.SettlementRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("exports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		pr := &parquetRow{
			Fingerprint:  row.Fingerprint,
			Kind:         row.Kind,
			Pharmacy:     "0x" + row.Pharmacy,
			FeeCollector: prefixed(row.FeeCollector),
			AssetID:      int64(row.AssetID),
			Currency:     row.Currency,
			Payout:       amountOrZero(row.Payout),
			Fee:          amountOrZero(row.Fee),
			SettledAt:    int64(row.SettledAt),
			Round:        int64(row.Round),
			TxID:         row.TxID,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("exports: close parquet file: %w", err)
	}
	return nil
}

// Manifest describes one export run.
type Manifest struct {
	RunID       string            `json:"runId"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Count       int               `json:"count"`
	Files       map[string]string `json:"files"`
	Checksums   map[string]string `json:"checksums"`
}

// Run writes the JSONL, CSV and Parquet artefacts for rows into a fresh
// directory under outputDir, plus a manifest.json listing their checksums.
func Run(outputDir string, rows []indexer.SettlementRow, now time.Time) (*Manifest, error) {
	manifest := &Manifest{
		RunID:       uuid.NewString(),
		GeneratedAt: now.UTC(),
		Count:       len(rows),
		Files:       make(map[string]string, 3),
		Checksums:   make(map[string]string, 3),
	}
	runDir := filepath.Join(outputDir, manifest.GeneratedAt.Format("20060102T150405Z")+"-"+manifest.RunID[:8])
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("exports: create run dir: %w", err)
	}

	jsonl, sum, err := SettlementsJSONL(rows)
	if err != nil {
		return nil, fmt.Errorf("exports: jsonl: %w", err)
	}
	if err := manifest.write(runDir, "settlements.jsonl", "jsonl", jsonl, sum); err != nil {
		return nil, err
	}
	csvData, sum, err := SettlementsCSV(rows)
	if err != nil {
		return nil, fmt.Errorf("exports: csv: %w", err)
	}
	if err := manifest.write(runDir, "settlements.csv", "csv", csvData, sum); err != nil {
		return nil, err
	}
	parquetPath := filepath.Join(runDir, "settlements.parquet")
	if err := WriteSettlementsParquet(parquetPath, rows); err != nil {
		return nil, err
	}
	parquetData, err := os.ReadFile(parquetPath)
	if err != nil {
		return nil, fmt.Errorf("exports: read parquet: %w", err)
	}
	manifest.Files["parquet"] = parquetPath
	manifest.Checksums["parquet"] = checksum(parquetData)

	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(runDir, "manifest.json"), encoded, 0o644); err != nil {
		return nil, fmt.Errorf("exports: write manifest: %w", err)
	}
	return manifest, nil
}

func (m *Manifest) write(dir, name, format string, data []byte, sum string) error {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("exports: write %s: %w", name, err)
	}
	m.Files[format] = path
	m.Checksums[format] = sum
	return nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func prefixed(hexAddr string) string {
	if hexAddr == "" {
		return ""
	}
	return "0x" + hexAddr
}

func amountOrZero(value string) string {
	if value == "" {
		return "0"
	}
	return value
}

func formatUnix(ts uint64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
}
