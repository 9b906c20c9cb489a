package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"pharmaclear/crypto"
)

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected positional arguments: %s", strings.Join(fs.Args(), " "))
	}
	return nil
}

// parseAccount accepts bech32 or 0x-hex accounts. An empty value falls back
// to def when one is supplied.
func parseAccount(name, value string, def *[20]byte) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		if def != nil {
			return *def, nil
		}
		return [20]byte{}, fmt.Errorf("--%s is required", name)
	}
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("--%s: %w", name, err)
	}
	return addr, nil
}

func parseFingerprint(value string) ([32]byte, error) {
	var fp [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return fp, errors.New("--fingerprint is required")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != len(fp) {
		return fp, errors.New("--fingerprint must be 32 bytes of hex")
	}
	copy(fp[:], raw)
	return fp, nil
}

func parseAmount(name, value string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("--%s is required", name)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("--%s must be a non-negative integer", name)
	}
	return amount, nil
}

// parseDate accepts unix seconds or a YYYY-MM-DD calendar date (UTC).
func parseDate(name, value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	if seconds, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
		return seconds, nil
	}
	parsed, err := time.Parse("2006-01-02", trimmed)
	if err != nil {
		return 0, fmt.Errorf("--%s must be unix seconds or YYYY-MM-DD", name)
	}
	return uint64(parsed.Unix()), nil
}

func bech32(addr [20]byte) string {
	return crypto.FromRaw(addr).String()
}

func hexFingerprint(fp [32]byte) string {
	return hex.EncodeToString(fp[:])
}

func bigString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}
