package events_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/retail-reco/internal/adapter/kv"
	"github.com/fairyhunter13/retail-reco/internal/domain"
	"github.com/fairyhunter13/retail-reco/internal/service/events"
)

func recordViews(t *testing.T, s *events.Store, user string, byCategory map[string]int) {
	t.Helper()
	ctx := context.Background()
	i := 0
	for cat, n := range byCategory {
		for j := 0; j < n; j++ {
			ok := s.Record(ctx, events.RecordInput{
				UserID:    user,
				Type:      domain.EventProductView,
				Data:      map[string]any{"product_id": fmt.Sprintf("p-%s-%d", cat, j), "category": cat},
				SessionID: "sess-1",
			})
			require.True(t, ok)
			i++
		}
	}
	require.NoError(t, s.Flush(ctx))
}

func TestProfileNormalization(t *testing.T) {
	s, mem := newStore(t, events.Options{})
	recordViews(t, s, "u1", map[string]int{"c1": 4, "c2": 3, "c3": 3})

	p, err := s.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Equal(t, 10, p.TotalEvents)
	assert.Equal(t, domain.ActivityLow, p.ActivityLevel)
	assert.InDelta(t, 0.4, p.CategoryAffinity["c1"], 1e-9)
	assert.InDelta(t, 0.3, p.CategoryAffinity["c2"], 1e-9)
	assert.InDelta(t, 0.3, p.CategoryAffinity["c3"], 1e-9)
	var sum float64
	for _, v := range p.CategoryAffinity {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9, "affinities sum to 1 over observed categories")
	assert.Equal(t, 1, p.SessionCount)
	assert.GreaterOrEqual(t, p.DaysActive, 1)

	// The materialized profile lands in KV with the profile TTL.
	raw, err := mem.Get(context.Background(), "user:profile:u1")
	require.NoError(t, err)
	require.NotNil(t, raw)
	var stored domain.UserProfile
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, 10, stored.TotalEvents)
}

func TestProfileEmptyUser(t *testing.T) {
	s, _ := newStore(t, events.Options{})
	p, err := s.GetProfile(context.Background(), "nobody")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 0, p.TotalEvents)
	assert.Empty(t, p.CategoryAffinity)
	assert.Equal(t, domain.ActivityNew, p.ActivityLevel)
}

func TestProfileRecentSlicesBounded(t *testing.T) {
	s, _ := newStore(t, events.Options{})
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		ok := s.Record(ctx, events.RecordInput{
			UserID: "u2",
			Type:   domain.EventConversationIntent,
			Data:   map[string]any{"intent": fmt.Sprintf("intent_%02d", i)},
		})
		require.True(t, ok)
	}
	for i := 0; i < 12; i++ {
		ok := s.Record(ctx, events.RecordInput{
			UserID: "u2",
			Type:   domain.EventPurchase,
			Data:   map[string]any{"product_id": fmt.Sprintf("p%02d", i)},
		})
		require.True(t, ok)
	}
	require.NoError(t, s.Flush(ctx))

	p, err := s.GetProfile(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, p.RecentIntents, 10)
	assert.Equal(t, "intent_14", p.RecentIntents[9], "the latest intent closes the slice")
	assert.Equal(t, "intent_05", p.RecentIntents[0])
	assert.Len(t, p.RecentPurchases, 10)
	assert.GreaterOrEqual(t, p.TotalEvents, len(p.RecentIntents))
	assert.GreaterOrEqual(t, p.TotalEvents, len(p.RecentPurchases))
}

func TestProfileInvalidatedByNewEvent(t *testing.T) {
	s, _ := newStore(t, events.Options{})
	ctx := context.Background()
	recordViews(t, s, "u3", map[string]int{"c1": 2})

	p1, err := s.GetProfile(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, 2, p1.TotalEvents)

	// Buffering a new event marks the cached profile stale; the next read
	// regenerates from the flushed log.
	require.True(t, s.Record(ctx, events.RecordInput{
		UserID: "u3",
		Type:   domain.EventProductView,
		Data:   map[string]any{"product_id": "px", "category": "c1"},
	}))
	require.NoError(t, s.Flush(ctx))

	p2, err := s.GetProfile(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, 3, p2.TotalEvents)
}

func TestProfileFallbackWhenReadCircuitOpen(t *testing.T) {
	mem, err := kv.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	s := events.New(mem, nil, events.Options{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.ReadBreaker().RecordFailure()
	}

	p, err := s.GetProfile(ctx, "u4")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "generated_empty", p.Fallback)
	assert.Equal(t, domain.ActivityNew, p.ActivityLevel)
}

func TestActivityLevelThresholds(t *testing.T) {
	s, _ := newStore(t, events.Options{})
	ctx := context.Background()
	// 50 events over 10 sessions push the user to the high tier.
	for i := 0; i < 50; i++ {
		ok := s.Record(ctx, events.RecordInput{
			UserID:    "u5",
			Type:      domain.EventProductView,
			Data:      map[string]any{"product_id": fmt.Sprintf("p%02d", i)},
			SessionID: fmt.Sprintf("sess-%d", i%10),
		})
		require.True(t, ok)
	}
	require.NoError(t, s.Flush(ctx))

	p, err := s.GetProfile(ctx, "u5")
	require.NoError(t, err)
	assert.Equal(t, domain.ActivityHigh, p.ActivityLevel)
	assert.Equal(t, 10, p.SessionCount)
	assert.False(t, p.GeneratedAt.IsZero())
}
