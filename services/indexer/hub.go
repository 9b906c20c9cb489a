package indexer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
)

const subscriberBuffer = 64

// Hub fans indexed events out to websocket subscribers. Slow subscribers drop
// events rather than block the follower.
type Hub struct {
	mu   sync.Mutex
	subs map[chan EventRecord]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan EventRecord]struct{})}
}

// Subscribe registers a new subscriber. The returned cancel func must be called
// once the subscriber is done.
func (h *Hub) Subscribe() (<-chan EventRecord, func()) {
	ch := make(chan EventRecord, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast delivers record to every subscriber that has room.
func (h *Hub) Broadcast(record EventRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- record:
		default:
		}
	}
}

// Follower polls the event table and broadcasts rows as they appear. The
// writer (the settlement CLI) and indexerd share the database, not a process.
type Follower struct {
	db       *gorm.DB
	hub      *Hub
	interval time.Duration
	logger   *slog.Logger
	lastID   uint64
}

func NewFollower(db *gorm.DB, hub *Hub, interval time.Duration, logger *slog.Logger) *Follower {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Follower{db: db, hub: hub, interval: interval, logger: logger.With("component", "follower")}
}

// Run starts at the current head of the event table and broadcasts every new
// row until ctx is cancelled.
func (f *Follower) Run(ctx context.Context) error {
	var head EventRecord
	if err := f.db.WithContext(ctx).Order("id desc").Limit(1).Find(&head).Error; err != nil {
		return err
	}
	f.lastID = head.ID
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := f.Poll(ctx); err != nil {
				f.logger.Warn("poll events", slog.String("error", err.Error()))
			}
		}
	}
}

// Poll broadcasts rows newer than the last seen id.
func (f *Follower) Poll(ctx context.Context) error {
	var rows []EventRecord
	if err := f.db.WithContext(ctx).Where("id > ?", f.lastID).Order("id asc").Limit(500).Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		f.hub.Broadcast(row)
		f.lastID = row.ID
	}
	return nil
}
