package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestSetupRenamesKeysAndWritesFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "pharmaclear.log")
	logger := Setup("pharmaclear", "test", Options{Level: slog.LevelDebug, Output: &buf, File: path})
	logger.Debug("claim submitted", slog.String("npi", "1234567890"), slog.String("proof", "prior-auth"), slog.String("fingerprint", "ab"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if line["severity"] != "DEBUG" || line["message"] != "claim submitted" || line["service"] != "pharmaclear" {
		t.Fatalf("unexpected log line %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp key")
	}
	if line["npi"] != "******7890" || line["proof"] != RedactedValue || line["fingerprint"] != "ab" {
		t.Fatalf("unexpected redaction %v", line)
	}
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		t.Fatalf("expected rotated file output, err=%v", err)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("WARN") != slog.LevelWarn || ParseLevel("") != slog.LevelInfo || ParseLevel("debug") != slog.LevelDebug {
		t.Fatalf("unexpected level mapping")
	}
	if MaskValue("") != "" || MaskValue("secret") != RedactedValue {
		t.Fatalf("unexpected mask value")
	}
	if MaskIdentifier("123") != RedactedValue || redact(slog.String("HMAC_Secret", "s3")).Value.String() != RedactedValue {
		t.Fatalf("short identifiers and secrets must be fully masked")
	}
	if redact(slog.String("ndc", "0002-8215-01")).Value.String() != "0002-8215-01" {
		t.Fatalf("drug codes are not sensitive")
	}
}
