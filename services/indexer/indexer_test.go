package indexer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pharmaclear/core/events"
	"pharmaclear/core/types"
	"pharmaclear/native/claims"
	"pharmaclear/native/crossborder"
	"pharmaclear/native/settlement"
)

const testFingerprint = "0a0b0c0d0e0f00000000000000000000000000000000000000000000000000ff"

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := OpenDB(dsn)
	require.NoError(t, err)
	return db
}

func setupCheckpoint(t *testing.T) *Checkpoint {
	t.Helper()
	cp, err := OpenCheckpoint(filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cp.Close() })
	return cp
}

func emit(sink *Sink, eventType string, round uint64, attrs map[string]string) {
	payload := &types.Event{Type: eventType, Attributes: map[string]string{
		"round": fmt.Sprint(round),
		"txId":  fmt.Sprintf("%064x", round),
	}}
	for k, v := range attrs {
		payload.Attributes[k] = v
	}
	sink.Emit(events.Wrap(payload))
}

func seed(t *testing.T, db *gorm.DB, cp *Checkpoint) {
	t.Helper()
	sink := NewSink(db, cp, "0xAA00", nil)
	emit(sink, claims.EventTypeClaimSubmittedEnhanced, 7, map[string]string{
		"fingerprint":    testFingerprint,
		"claimId":        "CLM-1",
		"ndc":            "12345-6789-01",
		"npi":            "1234567890",
		"batchId":        "LOT42-12345-6789-01",
		"lotNumber":      "LOT42",
		"expirationDate": "1900000000",
		"country":        "US",
	})
	emit(sink, settlement.EventTypeRebateSettled, 9, map[string]string{
		"fingerprint":  testFingerprint,
		"pharmacy":     "03",
		"feeCollector": "04",
		"assetId":      "31566704",
		"payout":       "19400000",
		"fee":          "600000",
		"timestamp":    "1700000000",
	})
	emit(sink, crossborder.EventTypeSettled, 8, map[string]string{
		"fingerprint": "ff",
		"pharmacy":    "05",
		"currency":    "EUR",
		"assetId":     "227855942",
		"payout":      "90160000",
		"fee":         "1840000",
	})
}

func TestSinkDecodesRowsAndAdvancesCheckpoint(t *testing.T) {
	db := setupDB(t)
	cp := setupCheckpoint(t)
	seed(t, db, cp)

	var claim ClaimRow
	require.NoError(t, db.First(&claim, "fingerprint = ?", testFingerprint).Error)
	require.True(t, claim.Enhanced)
	require.Equal(t, "LOT42", claim.LotNumber)
	require.Equal(t, uint64(1_900_000_000), claim.ExpirationDate)
	require.Equal(t, uint64(7), claim.Round)

	var rows []SettlementRow
	require.NoError(t, db.Order("id asc").Find(&rows).Error)
	require.Len(t, rows, 2)
	require.Equal(t, SettlementKindDomestic, rows[0].Kind)
	require.Equal(t, "600000", rows[0].Fee)
	require.Equal(t, SettlementKindCrossBorder, rows[1].Kind)
	require.Equal(t, "EUR", rows[1].Currency)

	round, err := cp.LastRound()
	require.NoError(t, err)
	require.Equal(t, uint64(9), round, "checkpoint must not regress")
}

func TestServerQueries(t *testing.T) {
	db := setupDB(t)
	cp := setupCheckpoint(t)
	seed(t, db, cp)
	srv := NewServer(ServerConfig{DB: db, Checkpoint: cp})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events?type="+settlement.EventTypeRebateSettled, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	var evts []eventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evts))
	require.Len(t, evts, 1)
	require.Equal(t, "19400000", evts[0].Attributes["payout"])
	require.Equal(t, "aa00", evts[0].App)
	note, err := base64.StdEncoding.DecodeString(evts[0].Note)
	require.NoError(t, err)
	require.Contains(t, string(note), `"payout":"19400000"`)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events?app=0xaa00&fromRound=8&toRound=8", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evts))
	require.Len(t, evts, 1)
	require.Equal(t, crossborder.EventTypeSettled, evts[0].Type)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events?toRound=x", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/claims/0x"+testFingerprint, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var claim claimResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &claim))
	require.Equal(t, "CLM-1", claim.Claim.ClaimID)
	require.Len(t, claim.Events, 2)
	require.Len(t, claim.Settlements, 1)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/claims/00", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/settlements?kind=crossborder", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []SettlementRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	require.Equal(t, "05", rows[0].Pharmacy)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/settlements?kind=bogus", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, statusResponse{LastRound: 9, Events: 3, Claims: 1, Settlements: 2}, status)
}

func TestStatusWithoutCheckpointUsesHighestRound(t *testing.T) {
	db := setupDB(t)
	seed(t, db, nil)
	srv := NewServer(ServerConfig{DB: db})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, uint64(9), status.LastRound)
	require.Equal(t, int64(3), status.Events)
}

func TestServerRequiresToken(t *testing.T) {
	db := setupDB(t)
	auth := AuthConfig{Enabled: true, HMACSecret: "secret", Issuer: "pharmaclear", Audience: "indexer"}
	srv := NewServer(ServerConfig{DB: db, Auth: auth})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	sign := func(aud string) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iss": "pharmaclear",
			"aud": aud,
			"exp": time.Now().Add(time.Minute).Unix(),
		})
		signed, err := token.SignedString([]byte("secret"))
		require.NoError(t, err)
		return signed
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	req.Header.Set("Authorization", "Bearer "+sign("other"))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	req.Header.Set("Authorization", "Bearer "+sign("indexer"))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	db := setupDB(t)
	srv := NewServer(ServerConfig{DB: db, RateLimit: RateLimitConfig{RequestsPerMinute: 1, Burst: 2}})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
		req.Header.Set("X-Real-IP", "10.0.0.1")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestFollowerBroadcastsNewRows(t *testing.T) {
	db := setupDB(t)
	hub := NewHub()
	updates, cancel := hub.Subscribe()
	defer cancel()
	follower := NewFollower(db, hub, time.Millisecond, nil)

	seed(t, db, nil)
	require.NoError(t, follower.Poll(context.Background()))
	got := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		got = append(got, (<-updates).Type)
	}
	require.Equal(t, []string{claims.EventTypeClaimSubmittedEnhanced, settlement.EventTypeRebateSettled, crossborder.EventTypeSettled}, got)

	require.NoError(t, follower.Poll(context.Background()))
	select {
	case record := <-updates:
		t.Fatalf("unexpected rebroadcast of %d", record.ID)
	default:
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":9000\"\npoll_interval: 250ms\nauth:\n  enabled: false\n"), 0o600))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, 250*time.Millisecond, cfg.PollInterval.Duration)
	require.Equal(t, "indexer.db", cfg.Database)
	require.Equal(t, 60, cfg.RateLimit.Burst)

	require.NoError(t, os.WriteFile(path, []byte("auth:\n  enabled: true\n"), 0o600))
	_, err = LoadConfig(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("poll_interval: soon\n"), 0o600))
	_, err = LoadConfig(path)
	require.Error(t, err)
}
