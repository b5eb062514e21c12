package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/retail-reco/internal/domain"
	obsctx "github.com/fairyhunter13/retail-reco/internal/observability"
)

const (
	fallbackExpiredCache   = "expired_cache"
	fallbackGeneratedEmpty = "generated_empty"

	maxRecentIntents   = 10
	maxRecentSearches  = 20
	maxRecentPurchases = 10
)

// GetProfile returns the user's materialized profile. Read order: in-memory
// cache, KV, regeneration from the event log. On a read-circuit failure it
// degrades to a stale cached copy or an empty profile, tagged accordingly.
func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	if cached := s.cachedProfile(userID); cached != nil {
		return cached, nil
	}

	var profile *domain.UserProfile
	err := s.readBreaker.Do(ctx,
		func(opCtx context.Context) error {
			p, err := s.loadOrGenerate(opCtx, userID)
			if err != nil {
				return err
			}
			profile = p
			return nil
		},
		func(fbCtx context.Context, cause error) error {
			profile = s.staleOrEmpty(fbCtx, userID, cause)
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	s.cacheProfile(profile)
	return profile, nil
}

func (s *Store) cachedProfile(userID string) *domain.UserProfile {
	s.profMu.RLock()
	defer s.profMu.RUnlock()
	cp, ok := s.profiles[userID]
	if !ok || cp.needsRefresh || time.Since(cp.cachedAt) > s.opts.CacheTTL {
		return nil
	}
	return cp.profile
}

func (s *Store) cacheProfile(p *domain.UserProfile) {
	s.profMu.Lock()
	s.profiles[p.UserID] = &cachedProfile{profile: p, cachedAt: time.Now()}
	s.profMu.Unlock()
}

// staleOrEmpty is the read-path fallback: any cached copy, however stale,
// beats an empty profile.
func (s *Store) staleOrEmpty(ctx context.Context, userID string, cause error) *domain.UserProfile {
	obsctx.LoggerFromContext(ctx).Warn("profile read degraded",
		slog.String("user_id", userID), slog.Any("error", cause))
	s.profMu.RLock()
	cp, ok := s.profiles[userID]
	s.profMu.RUnlock()
	if ok {
		stale := *cp.profile
		stale.Fallback = fallbackExpiredCache
		return &stale
	}
	return &domain.UserProfile{
		UserID:        userID,
		ActivityLevel: domain.ActivityNew,
		GeneratedAt:   time.Now().UTC(),
		Fallback:      fallbackGeneratedEmpty,
	}
}

func (s *Store) loadOrGenerate(ctx context.Context, userID string) (*domain.UserProfile, error) {
	raw, err := s.store.Get(ctx, profileKeyPrefix+userID)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		var p domain.UserProfile
		if uerr := json.Unmarshal(raw, &p); uerr == nil {
			return &p, nil
		}
		// Corrupt profile: fall through and regenerate.
	}
	return s.generateProfile(ctx, userID)
}

// generateProfile materializes the profile from the user's event log in one
// pass and persists it with the profile TTL.
func (s *Store) generateProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	ids, err := s.store.LRange(ctx, userIndexPrefix+userID, 0, -1)
	if err != nil {
		return nil, err
	}
	events, err := s.fetchEvents(ctx, ids)
	if err != nil {
		return nil, err
	}

	profile := materialize(userID, events)
	raw, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("profile marshal: %w", err)
	}
	if err := s.store.Set(ctx, profileKeyPrefix+userID, raw, s.opts.ProfileTTL); err != nil {
		return nil, err
	}
	return profile, nil
}

// fetchEvents pipelines event hydration via MGET and returns the events in
// chronological order (the index list is newest-first).
func (s *Store) fetchEvents(ctx context.Context, ids []string) ([]domain.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = eventKeyPrefix + id
	}
	vals, err := s.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	events := make([]domain.Event, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- {
		if vals[i] == nil {
			continue // expired event, index entry outlived it
		}
		var ev domain.Event
		if uerr := json.Unmarshal(vals[i], &ev); uerr != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// SeenProducts returns the distinct product ids the user has viewed, carted
// or purchased, newest first. The recommender excludes these from fresh
// recommendations. Read failures degrade to an empty set.
func (s *Store) SeenProducts(ctx context.Context, userID string) []string {
	var seen []string
	_ = s.readBreaker.Do(ctx,
		func(opCtx context.Context) error {
			ids, err := s.store.LRange(opCtx, userIndexPrefix+userID, 0, -1)
			if err != nil {
				return err
			}
			evs, err := s.fetchEvents(opCtx, ids)
			if err != nil {
				return err
			}
			dedup := make(map[string]struct{})
			for i := len(evs) - 1; i >= 0; i-- {
				ev := evs[i]
				switch ev.Type {
				case domain.EventProductView, domain.EventAddToCart, domain.EventPurchase:
					if id, ok := ev.Data["product_id"].(string); ok && id != "" {
						if _, dup := dedup[id]; !dup {
							dedup[id] = struct{}{}
							seen = append(seen, id)
						}
					}
				}
			}
			return nil
		},
		func(fbCtx context.Context, cause error) error {
			obsctx.LoggerFromContext(fbCtx).Debug("seen-set lookup degraded",
				slog.String("user_id", userID), slog.Any("error", cause))
			return nil
		},
	)
	return seen
}

// materialize aggregates raw events into the profile schema in a single pass.
func materialize(userID string, events []domain.Event) *domain.UserProfile {
	p := &domain.UserProfile{
		UserID:        userID,
		TotalEvents:   len(events),
		ActivityLevel: domain.ActivityNew,
		GeneratedAt:   time.Now().UTC(),
	}
	if len(events) == 0 {
		return p
	}

	sessions := make(map[string]struct{})
	markets := make(map[string]int)
	catViews := make(map[string]float64)
	var totalViews float64
	var intents, searches, purchases []string

	p.FirstActivity = events[0].Timestamp
	p.LastActivity = events[0].Timestamp
	for _, ev := range events {
		if ev.Timestamp.Before(p.FirstActivity) {
			p.FirstActivity = ev.Timestamp
		}
		if ev.Timestamp.After(p.LastActivity) {
			p.LastActivity = ev.Timestamp
		}
		if ev.SessionID != "" {
			sessions[ev.SessionID] = struct{}{}
		}
		if ev.MarketID != "" {
			markets[ev.MarketID]++
		}
		switch ev.Type {
		case domain.EventProductView:
			totalViews++
			if cat, ok := ev.Data["category"].(string); ok && cat != "" {
				catViews[cat]++
			}
		case domain.EventProductSearch:
			if q, ok := ev.Data["query"].(string); ok && q != "" {
				searches = append(searches, q)
			}
		case domain.EventPurchase:
			if id, ok := ev.Data["product_id"].(string); ok && id != "" {
				purchases = append(purchases, id)
			}
		case domain.EventConversationIntent:
			if in, ok := ev.Data["intent"].(string); ok && in != "" {
				intents = append(intents, in)
			}
		}
	}

	p.SessionCount = len(sessions)
	if len(markets) > 0 {
		p.MarketCounts = markets
	}
	if totalViews > 0 {
		p.CategoryAffinity = make(map[string]float64, len(catViews))
		for cat, n := range catViews {
			p.CategoryAffinity[cat] = n / totalViews
		}
	}
	p.RecentIntents = lastN(intents, maxRecentIntents)
	p.RecentSearches = lastN(searches, maxRecentSearches)
	p.RecentPurchases = lastN(purchases, maxRecentPurchases)
	// Whole days between first and last activity, inclusive: same-day
	// activity counts as one day.
	p.DaysActive = int(p.LastActivity.Sub(p.FirstActivity).Hours()/24) + 1
	p.ActivityLevel = activityLevel(len(events), p.SessionCount)
	return p
}

func lastN(xs []string, n int) []string {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

// activityLevel is monotone in both event count and session count.
func activityLevel(events, sessions int) domain.ActivityLevel {
	switch {
	case events >= 50 && sessions >= 10:
		return domain.ActivityHigh
	case events >= 20 && sessions >= 5:
		return domain.ActivityMedium
	case events >= 5:
		return domain.ActivityLow
	default:
		return domain.ActivityNew
	}
}
