package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/fairyhunter13/retail-reco/internal/adapter/observability"
	"github.com/fairyhunter13/retail-reco/internal/domain"
	obsctx "github.com/fairyhunter13/retail-reco/internal/observability"
)

const journalFilePrefix = "events_fallback_"

// journalFile is the on-disk fallback record.
type journalFile struct {
	Events    []domain.Event `json:"events"`
	Timestamp int64          `json:"timestamp"`
}

// writeJournal appends one fallback file named
// events_fallback_<unix_ts>_<uuid8>.json under the configured dir.
func (s *Store) writeJournal(events []domain.Event) error {
	if err := os.MkdirAll(s.opts.FallbackDir, 0o750); err != nil {
		return fmt.Errorf("journal mkdir: %w", err)
	}
	name := fmt.Sprintf("%s%d_%s.json", journalFilePrefix, time.Now().Unix(), uuid.NewString()[:8])
	path := filepath.Join(s.opts.FallbackDir, name)
	raw, err := json.Marshal(journalFile{Events: events, Timestamp: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("journal marshal: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("journal write: %w", err)
	}
	return nil
}

// RunRecoveryLoop retries failed-buffer batches and replays journal files
// until ctx is cancelled.
func (s *Store) RunRecoveryLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RecoverOnce(ctx)
		}
	}
}

// RecoverOnce runs one recovery iteration: while the write circuit is
// healthy, retry up to recoveryBatch buffered events, then replay up to
// journalFilesPerTick journal files. Unreadable files move to corrupted/.
func (s *Store) RecoverOnce(ctx context.Context) {
	if !s.writeBreaker.CanExecute() {
		return
	}
	lg := obsctx.TaskLogger(ctx, "event_recovery")

	s.bufMu.Lock()
	n := len(s.failed)
	if n > recoveryBatch {
		n = recoveryBatch
	}
	batch := make([]domain.Event, n)
	copy(batch, s.failed[:n])
	s.failed = s.failed[n:]
	s.bufMu.Unlock()

	if len(batch) > 0 {
		if err := s.replay(ctx, batch); err != nil {
			// Re-queue; the next tick tries again.
			s.bufMu.Lock()
			s.failed = append(batch, s.failed...)
			s.bufMu.Unlock()
			lg.Warn("failed-buffer retry unsuccessful",
				slog.Int("events", len(batch)), slog.Any("error", err))
		} else {
			s.recoveryOps.Add(1)
			s.eventsStored.Add(int64(len(batch)))
			observability.EventOutcome("recovered", len(batch))
			lg.Info("failed-buffer events recovered", slog.Int("events", len(batch)))
		}
	}

	if s.opts.FallbackDir != "" {
		s.recoverJournal(ctx, lg)
	}
}

func (s *Store) recoverJournal(ctx context.Context, lg *slog.Logger) {
	entries, err := os.ReadDir(s.opts.FallbackDir)
	if err != nil {
		if !os.IsNotExist(err) {
			lg.Warn("journal scan failed", slog.Any("error", err))
		}
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), journalFilePrefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) > journalFilesPerTick {
		names = names[:journalFilesPerTick]
	}

	for _, name := range names {
		path := filepath.Join(s.opts.FallbackDir, name)
		raw, err := os.ReadFile(path) // #nosec G304 -- paths come from our own journal dir
		if err != nil {
			lg.Warn("journal read failed", slog.String("file", name), slog.Any("error", err))
			continue
		}
		var jf journalFile
		if err := json.Unmarshal(raw, &jf); err != nil {
			s.quarantine(path, lg)
			continue
		}
		if err := s.replay(ctx, jf.Events); err != nil {
			lg.Warn("journal replay unsuccessful",
				slog.String("file", name), slog.Any("error", err))
			return
		}
		if err := os.Remove(path); err != nil {
			lg.Warn("journal cleanup failed", slog.String("file", name), slog.Any("error", err))
		}
		s.recoveryOps.Add(1)
		s.eventsStored.Add(int64(len(jf.Events)))
		observability.EventOutcome("recovered", len(jf.Events))
		lg.Info("journal file replayed",
			slog.String("file", name), slog.Int("events", len(jf.Events)))
	}
}

// replay bulk-persists a recovered batch with a short transient-error retry.
func (s *Store) replay(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	return backoff.Retry(func() error {
		return s.writeBreaker.Do(ctx, func(opCtx context.Context) error {
			return s.bulkPersist(opCtx, events)
		}, nil)
	}, bo)
}

func (s *Store) quarantine(path string, lg *slog.Logger) {
	dir := filepath.Join(s.opts.FallbackDir, "corrupted")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		lg.Warn("quarantine mkdir failed", slog.Any("error", err))
		return
	}
	dst := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		lg.Warn("quarantine move failed", slog.String("file", path), slog.Any("error", err))
		return
	}
	lg.Warn("corrupted journal file quarantined", slog.String("file", filepath.Base(path)))
}
