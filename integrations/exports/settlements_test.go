package exports

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"pharmaclear/services/indexer"
)

func sampleRows() []indexer.SettlementRow {
	return []indexer.SettlementRow{
		{
			Fingerprint:  "ab",
			Kind:         indexer.SettlementKindDomestic,
			Pharmacy:     "03",
			FeeCollector: "04",
			AssetID:      31566704,
			Payout:       "19400000",
			Fee:          "600000",
			SettledAt:    1_700_000_000,
			Round:        9,
		},
		{
			Fingerprint: "cd",
			Kind:        indexer.SettlementKindCrossBorder,
			Pharmacy:    "05",
			AssetID:     227855942,
			Currency:    "EUR",
			Payout:      "90160000",
			Round:       10,
		},
	}
}

func TestSettlementsCSV(t *testing.T) {
	data, sum, err := SettlementsCSV(sampleRows())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(sum) != 64 {
		t.Fatalf("unexpected checksum %q", sum)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus two rows, got %d", len(lines))
	}
	if lines[0] != strings.Join(settlementHeader, ",") {
		t.Fatalf("unexpected header %s", lines[0])
	}
	if !strings.Contains(lines[1], "0x03,0x04,31566704,,19400000,600000,2023-11-14T22:13:20Z,9") {
		t.Fatalf("unexpected domestic row %s", lines[1])
	}
	if !strings.Contains(lines[2], "EUR,90160000,0,") {
		t.Fatalf("missing fee should export as zero: %s", lines[2])
	}
}

func TestSettlementsJSONLChecksumIsStable(t *testing.T) {
	first, sum1, err := SettlementsJSONL(sampleRows())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	_, sum2, err := SettlementsJSONL(sampleRows())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if sum1 != sum2 {
		t.Fatalf("checksum changed between identical exports")
	}
	if !strings.Contains(string(first), `"kind":"crossborder"`) {
		t.Fatalf("unexpected payload: %s", first)
	}
}

func TestRunWritesArtefactsAndManifest(t *testing.T) {
	dir := t.TempDir()
	manifest, err := Run(dir, sampleRows(), time.Unix(1_700_000_000, 0))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if manifest.Count != 2 || len(manifest.Files) != 3 || len(manifest.Checksums) != 3 {
		t.Fatalf("unexpected manifest %+v", manifest)
	}
	for format, path := range manifest.Files {
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			t.Fatalf("%s artefact missing: %v", format, err)
		}
	}
	raw, err := os.ReadFile(strings.TrimSuffix(manifest.Files["csv"], "settlements.csv") + "manifest.json")
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var decoded Manifest
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if decoded.RunID != manifest.RunID || decoded.Checksums["jsonl"] != manifest.Checksums["jsonl"] {
		t.Fatalf("manifest mismatch")
	}
}
