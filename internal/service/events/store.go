// Package events implements the resilient append-only user-event log: write
// buffering with bulk flush, independent read/write circuit breakers, an
// on-disk fallback journal with background recovery, and lazy profile
// materialization.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/retail-reco/internal/adapter/kv"
	"github.com/fairyhunter13/retail-reco/internal/adapter/observability"
	"github.com/fairyhunter13/retail-reco/internal/domain"
	obsctx "github.com/fairyhunter13/retail-reco/internal/observability"
)

const (
	eventKeyPrefix   = "event:"
	userIndexPrefix  = "user:events:"
	profileKeyPrefix = "user:profile:"

	// userIndexCap bounds the per-user event index to the last 1000 ids.
	userIndexCap = 1000

	// recoveryBatch and journalFilesPerTick bound one recovery iteration.
	recoveryBatch       = 50
	journalFilesPerTick = 3
)

// Options configures the store. Zero values take the defaults of the
// canonical configuration.
type Options struct {
	BufferSize    int
	FlushInterval time.Duration
	EventTTL      time.Duration
	ProfileTTL    time.Duration
	CacheTTL      time.Duration
	FallbackDir   string
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = 200
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 30 * time.Second
	}
	if o.EventTTL <= 0 {
		o.EventTTL = 30 * 24 * time.Hour
	}
	if o.ProfileTTL <= 0 {
		o.ProfileTTL = 24 * time.Hour
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 5 * time.Minute
	}
	return o
}

// RecordInput carries one event submission.
type RecordInput struct {
	UserID    string
	Type      domain.EventType
	Data      map[string]any
	SessionID string
	MarketID  string
	IP        string
	UserAgent string
}

type cachedProfile struct {
	profile      *domain.UserProfile
	cachedAt     time.Time
	needsRefresh bool
}

// Store is the event store. The write and read paths fail independently, each
// guarded by its own circuit breaker.
type Store struct {
	store kv.Store
	opts  Options
	sink  domain.EventSink // optional stream mirror

	writeBreaker *obsctx.CircuitBreaker
	readBreaker  *obsctx.CircuitBreaker

	bufMu     sync.Mutex
	pending   []domain.Event
	failed    []domain.Event
	lastFlush time.Time

	profMu   sync.RWMutex
	profiles map[string]*cachedProfile

	eventsBuffered  atomic.Int64
	eventsStored    atomic.Int64
	eventsFailed    atomic.Int64
	bulkOperations  atomic.Int64
	localStorageOps atomic.Int64
	recoveryOps     atomic.Int64
	streamFailures  atomic.Int64

	entropy *ulid.MonotonicEntropy
	entMu   sync.Mutex
}

// New builds a Store over the KV adapter. sink may be nil.
func New(store kv.Store, sink domain.EventSink, opts Options) *Store {
	s := &Store{
		store:     store,
		opts:      opts.withDefaults(),
		sink:      sink,
		profiles:  make(map[string]*cachedProfile),
		lastFlush: time.Now(),
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0), //nolint:gosec // id entropy, not crypto
	}
	s.writeBreaker = obsctx.NewCircuitBreaker("event_store_write", obsctx.DefaultBreakerConfig())
	s.readBreaker = obsctx.NewCircuitBreaker("event_store_read", obsctx.DefaultBreakerConfig())
	gauge := func(name string, st obsctx.CircuitBreakerState) {
		observability.SetBreakerState(name, int(st))
	}
	s.writeBreaker.OnStateChange(gauge)
	s.readBreaker.OnStateChange(gauge)
	return s
}

// WriteBreaker exposes the write-path breaker for health surfaces and tests.
func (s *Store) WriteBreaker() *obsctx.CircuitBreaker { return s.writeBreaker }

// ReadBreaker exposes the read-path breaker for health surfaces and tests.
func (s *Store) ReadBreaker() *obsctx.CircuitBreaker { return s.readBreaker }

func (s *Store) newEventID() string {
	s.entMu.Lock()
	defer s.entMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Record validates, buffers and possibly flushes one event. Invalid events go
// to the failed buffer and Record returns false; the caller keeps going.
func (s *Store) Record(ctx context.Context, in RecordInput) bool {
	ev := domain.Event{
		ID:        s.newEventID(),
		UserID:    in.UserID,
		Type:      in.Type,
		Timestamp: time.Now().UTC(),
		SessionID: in.SessionID,
		MarketID:  in.MarketID,
		IP:        in.IP,
		UserAgent: in.UserAgent,
		Data:      in.Data,
	}
	if in.UserID == "" || !validateData(in.Type, in.Data) {
		s.eventsFailed.Add(1)
		observability.EventOutcome("failed", 1)
		s.bufMu.Lock()
		s.failed = append(s.failed, ev)
		s.bufMu.Unlock()
		return false
	}

	s.bufMu.Lock()
	s.pending = append(s.pending, ev)
	n := len(s.pending)
	due := n >= s.opts.BufferSize || time.Since(s.lastFlush) >= s.opts.FlushInterval
	s.bufMu.Unlock()

	s.eventsBuffered.Add(1)
	observability.EventOutcome("buffered", 1)
	observability.EventBufferSize.WithLabelValues("pending").Set(float64(n))

	// A new event invalidates the cached profile; it is regenerated on the
	// next read rather than deleted now.
	s.markProfileStale(in.UserID)

	if due {
		if err := s.Flush(ctx); err != nil {
			obsctx.LoggerFromContext(ctx).Warn("event flush degraded",
				slog.Any("error", err))
		}
	}
	return true
}

func (s *Store) markProfileStale(userID string) {
	s.profMu.Lock()
	if cp, ok := s.profiles[userID]; ok {
		cp.needsRefresh = true
	}
	s.profMu.Unlock()
}

// Flush snapshots the pending buffer and bulk-persists it under the write
// breaker. On breaker OPEN or persistence failure the snapshot is routed to
// the failed buffer and, when configured, the on-disk journal.
func (s *Store) Flush(ctx context.Context) error {
	s.bufMu.Lock()
	if len(s.pending) == 0 {
		s.lastFlush = time.Now()
		s.bufMu.Unlock()
		return nil
	}
	snapshot := s.pending
	s.pending = nil
	s.lastFlush = time.Now()
	s.bufMu.Unlock()
	observability.EventBufferSize.WithLabelValues("pending").Set(0)

	err := s.writeBreaker.Do(ctx,
		func(opCtx context.Context) error {
			return s.bulkPersist(opCtx, snapshot)
		},
		func(fbCtx context.Context, cause error) error {
			s.routeToFallback(fbCtx, snapshot, cause)
			return fmt.Errorf("event flush: %w", cause)
		},
	)
	if err != nil {
		return err
	}

	s.eventsStored.Add(int64(len(snapshot)))
	s.bulkOperations.Add(1)
	observability.EventOutcome("stored", len(snapshot))
	if s.sink != nil {
		// Best-effort mirror; a sink failure never fails a flush.
		if serr := s.sink.Publish(ctx, snapshot); serr != nil {
			s.streamFailures.Add(1)
			obsctx.LoggerFromContext(ctx).Warn("event stream mirror failed",
				slog.Int("events", len(snapshot)), slog.Any("error", serr))
		}
	}
	return nil
}

// bulkPersist writes a batch: every event as event:<id>, every affected
// user's index updated newest-first and re-capped, and every affected user's
// materialized profile dropped.
func (s *Store) bulkPersist(ctx context.Context, events []domain.Event) error {
	start := time.Now()

	items := make(map[string][]byte, len(events))
	byUser := make(map[string][]string)
	for _, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("bulk persist marshal %s: %w", ev.ID, err)
		}
		items[eventKeyPrefix+ev.ID] = raw
		byUser[ev.UserID] = append(byUser[ev.UserID], ev.ID)
	}
	if err := s.store.SetMulti(ctx, items, s.opts.EventTTL); err != nil {
		return err
	}
	for userID, ids := range byUser {
		key := userIndexPrefix + userID
		if err := s.store.LPush(ctx, key, ids...); err != nil {
			return err
		}
		if err := s.store.LTrim(ctx, key, 0, userIndexCap-1); err != nil {
			return err
		}
		if err := s.store.Expire(ctx, key, s.opts.EventTTL); err != nil {
			return err
		}
		if _, err := s.store.Delete(ctx, profileKeyPrefix+userID); err != nil {
			return err
		}
	}

	observability.EventFlushDuration.Observe(time.Since(start).Seconds())
	return nil
}

// routeToFallback pushes a failed snapshot onto the failed buffer and appends
// it to the on-disk journal when a fallback dir is configured.
func (s *Store) routeToFallback(ctx context.Context, events []domain.Event, cause error) {
	s.bufMu.Lock()
	s.failed = append(s.failed, events...)
	n := len(s.failed)
	s.bufMu.Unlock()
	observability.EventBufferSize.WithLabelValues("failed").Set(float64(n))

	lg := obsctx.LoggerFromContext(ctx)
	lg.Warn("event bulk persist failed, routing to fallback",
		slog.Int("events", len(events)), slog.Any("error", cause))

	if s.opts.FallbackDir != "" {
		if err := s.writeJournal(events); err != nil {
			lg.Error("fallback journal write failed", slog.Any("error", err))
		} else {
			s.localStorageOps.Add(1)
			observability.EventOutcome("journaled", len(events))
		}
	}
}

// RunFlushLoop flushes pending events on the configured cadence until ctx is
// cancelled, then drains with one final flush.
func (s *Store) RunFlushLoop(ctx context.Context) {
	lg := obsctx.TaskLogger(ctx, "event_flush")
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Flush(drainCtx); err != nil {
				lg.Warn("final flush degraded", slog.Any("error", err))
			}
			cancel()
			return
		case <-ticker.C:
			s.bufMu.Lock()
			pending := len(s.pending)
			s.bufMu.Unlock()
			if pending == 0 {
				continue
			}
			if err := s.Flush(ctx); err != nil {
				lg.Warn("periodic flush degraded", slog.Any("error", err))
			}
		}
	}
}

// Pending returns the current pending-buffer occupancy.
func (s *Store) Pending() int {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return len(s.pending)
}

// FailedBuffered returns the current failed-buffer occupancy.
func (s *Store) FailedBuffered() int {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return len(s.failed)
}

// HealthCheck reports healthy, degraded or unhealthy from the two breakers
// and a KV ping.
func (s *Store) HealthCheck(ctx context.Context) map[string]any {
	writeState := s.writeBreaker.GetState()
	readState := s.readBreaker.GetState()
	_, pingErr := s.store.Ping(ctx)

	status := "healthy"
	degraded := writeState != obsctx.StateClosed ||
		readState != obsctx.StateClosed || pingErr != nil
	if degraded {
		status = "degraded"
	}
	if (writeState == obsctx.StateOpen && readState == obsctx.StateOpen) ||
		(pingErr != nil && writeState == obsctx.StateOpen) {
		status = "unhealthy"
	}
	return map[string]any{
		"status":        status,
		"write_breaker": writeState.String(),
		"read_breaker":  readState.String(),
		"kv_connected":  pingErr == nil,
	}
}

// Stats exposes every counter, buffer occupancy and both breakers' stats.
func (s *Store) Stats() map[string]any {
	s.bufMu.Lock()
	pending, failed := len(s.pending), len(s.failed)
	s.bufMu.Unlock()
	return map[string]any{
		"events_buffered":          s.eventsBuffered.Load(),
		"events_stored":            s.eventsStored.Load(),
		"events_failed":            s.eventsFailed.Load(),
		"bulk_operations":          s.bulkOperations.Load(),
		"local_storage_operations": s.localStorageOps.Load(),
		"recovery_operations":      s.recoveryOps.Load(),
		"stream_failures":          s.streamFailures.Load(),
		"pending_buffer_size":      pending,
		"failed_buffer_size":       failed,
		"write_breaker":            s.writeBreaker.GetStats(),
		"read_breaker":             s.readBreaker.GetStats(),
	}
}
