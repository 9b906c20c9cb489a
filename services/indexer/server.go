package indexer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"
	"nhooyr.io/websocket"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
	wsWriteTimeout  = 5 * time.Second
)

// ServerConfig captures the dependencies of the query API.
type ServerConfig struct {
	DB         *gorm.DB
	Checkpoint *Checkpoint
	Hub        *Hub
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Logger     *slog.Logger
}

// Server exposes indexed events, claims and settlements over HTTP.
type Server struct {
	db         *gorm.DB
	checkpoint *Checkpoint
	hub        *Hub
	logger     *slog.Logger
	router     http.Handler
}

func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub()
	}
	srv := &Server{
		db:         cfg.DB,
		checkpoint: cfg.Checkpoint,
		hub:        hub,
		logger:     logger.With("component", "indexerd"),
	}
	srv.router = srv.buildRouter(cfg)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(cfg ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	auth := NewAuthenticator(cfg.Auth, s.logger)
	limiter := NewRateLimiter(cfg.RateLimit)
	r.Route("/v1", func(api chi.Router) {
		api.Use(limiter.Middleware)
		api.Use(auth.Middleware)
		api.Get("/status", s.status)
		api.Get("/events", s.listEvents)
		api.Get("/claims/{fingerprint}", s.getClaim)
		api.Get("/settlements", s.listSettlements)
		api.Get("/ws/events", s.streamEvents)
	})
	return otelhttp.NewHandler(r, "indexerd")
}

// requestID assigns a uuid request id unless the caller supplied one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(chimw.RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(chimw.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), chimw.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	LastRound   uint64 `json:"lastRound"`
	Events      int64  `json:"events"`
	Claims      int64  `json:"claims"`
	Settlements int64  `json:"settlements"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	var resp statusResponse
	db := s.db.WithContext(r.Context())
	if s.checkpoint != nil {
		round, err := s.checkpoint.LastRound()
		if err != nil {
			s.internalError(w, err)
			return
		}
		resp.LastRound = round
	} else {
		var round *uint64
		if err := db.Model(&EventRecord{}).Select("MAX(round)").Scan(&round).Error; err != nil {
			s.internalError(w, err)
			return
		}
		if round != nil {
			resp.LastRound = *round
		}
	}
	if err := db.Model(&EventRecord{}).Count(&resp.Events).Error; err != nil {
		s.internalError(w, err)
		return
	}
	if err := db.Model(&ClaimRow{}).Count(&resp.Claims).Error; err != nil {
		s.internalError(w, err)
		return
	}
	if err := db.Model(&SettlementRow{}).Count(&resp.Settlements).Error; err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// eventResponse is the envelope served for an indexed event. Note carries
// the attribute JSON base64-encoded, as an application-call note would.
type eventResponse struct {
	ID         uint64            `json:"id"`
	App        string            `json:"app"`
	Round      uint64            `json:"round"`
	TxID       string            `json:"txId"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Note       string            `json:"note"`
}

func toEventResponse(record EventRecord) eventResponse {
	resp := eventResponse{
		ID:    record.ID,
		App:   record.App,
		Round: record.Round,
		TxID:  record.TxID,
		Type:  record.Type,
		Note:  base64.StdEncoding.EncodeToString([]byte(record.Attributes)),
	}
	if err := json.Unmarshal([]byte(record.Attributes), &resp.Attributes); err != nil {
		resp.Attributes = map[string]string{}
	}
	return resp
}

// roundFilters applies the numeric query parameters shared by the list
// endpoints.
func roundFilters(tx *gorm.DB, query url.Values, params []roundParam) (*gorm.DB, error) {
	for _, param := range params {
		raw := strings.TrimSpace(query.Get(param.name))
		if raw == "" {
			continue
		}
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s", param.name)
		}
		tx = tx.Where(param.clause, value)
	}
	return tx, nil
}

type roundParam struct{ name, clause string }

var (
	eventRoundParams = []roundParam{
		{"after", "id > ?"},
		{"round", "round = ?"},
		{"fromRound", "round >= ?"},
		{"toRound", "round <= ?"},
	}
	settlementRoundParams = []roundParam{
		{"fromRound", "round >= ?"},
		{"toRound", "round <= ?"},
	}
)

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := pageSize(query.Get("limit"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tx := s.db.WithContext(r.Context()).Order("id asc").Limit(limit)
	if value := strings.TrimSpace(query.Get("app")); value != "" {
		tx = tx.Where("app = ?", strings.ToLower(strings.TrimPrefix(value, "0x")))
	}
	if value := strings.TrimSpace(query.Get("type")); value != "" {
		tx = tx.Where("type = ?", value)
	}
	if value := strings.TrimSpace(query.Get("txId")); value != "" {
		tx = tx.Where("tx_id = ?", strings.ToLower(value))
	}
	tx, err = roundFilters(tx, query, eventRoundParams)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var records []EventRecord
	if err := tx.Find(&records).Error; err != nil {
		s.internalError(w, err)
		return
	}
	out := make([]eventResponse, 0, len(records))
	for _, record := range records {
		out = append(out, toEventResponse(record))
	}
	writeJSON(w, http.StatusOK, out)
}

type claimResponse struct {
	Claim       ClaimRow        `json:"claim"`
	Events      []eventResponse `json:"events"`
	Settlements []SettlementRow `json:"settlements"`
}

func (s *Server) getClaim(w http.ResponseWriter, r *http.Request) {
	fingerprint := strings.ToLower(strings.TrimPrefix(chi.URLParam(r, "fingerprint"), "0x"))
	db := s.db.WithContext(r.Context())
	var resp claimResponse
	if err := db.First(&resp.Claim, "fingerprint = ?", fingerprint).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "claim not found", http.StatusNotFound)
			return
		}
		s.internalError(w, err)
		return
	}
	var records []EventRecord
	if err := db.Where("attributes LIKE ?", "%\"fingerprint\":\""+fingerprint+"\"%").Order("id asc").Find(&records).Error; err != nil {
		s.internalError(w, err)
		return
	}
	resp.Events = make([]eventResponse, 0, len(records))
	for _, record := range records {
		resp.Events = append(resp.Events, toEventResponse(record))
	}
	if err := db.Where("fingerprint = ?", fingerprint).Order("id asc").Find(&resp.Settlements).Error; err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listSettlements(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := pageSize(query.Get("limit"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tx := s.db.WithContext(r.Context()).Order("id asc").Limit(limit)
	if value := strings.TrimSpace(query.Get("pharmacy")); value != "" {
		tx = tx.Where("pharmacy = ?", strings.ToLower(strings.TrimPrefix(value, "0x")))
	}
	switch kind := strings.TrimSpace(query.Get("kind")); kind {
	case "":
	case SettlementKindDomestic, SettlementKindCrossBorder:
		tx = tx.Where("kind = ?", kind)
	default:
		http.Error(w, "invalid kind", http.StatusBadRequest)
		return
	}
	tx, err = roundFilters(tx, query, settlementRoundParams)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var rows []SettlementRow
	if err := tx.Find(&rows).Error; err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// streamEvents pushes newly indexed events to a websocket client. An optional
// type query parameter filters the stream.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	filter := strings.TrimSpace(r.URL.Query().Get("type"))
	updates, cancel := s.hub.Subscribe()
	defer cancel()
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case record, ok := <-updates:
			if !ok {
				return
			}
			if filter != "" && record.Type != filter {
				continue
			}
			if err := writeEvent(ctx, conn, record); err != nil {
				if websocket.CloseStatus(err) == -1 {
					_ = conn.Close(websocket.StatusInternalError, "stream error")
				}
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, record EventRecord) error {
	data, err := json.Marshal(toEventResponse(record))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func pageSize(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultPageSize, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, errors.New("invalid limit")
	}
	if value > maxPageSize {
		value = maxPageSize
	}
	return value, nil
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error("query failed", slog.String("error", err.Error()))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
