package app

import (
	"context"
	"fmt"

	"github.com/fairyhunter13/retail-reco/internal/adapter/kv"
	"github.com/fairyhunter13/retail-reco/internal/service/content"
	"github.com/fairyhunter13/retail-reco/internal/service/events"
)

// BuildReadinessChecks returns the three readiness probes: the KV store, the
// local content engine, and the resilient event store. A degraded event store
// still serves, so only "unhealthy" fails that probe.
func BuildReadinessChecks(store kv.Store, engine *content.Engine, eventStore *events.Store) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	kvCheck := func(ctx context.Context) error {
		if store == nil {
			return fmt.Errorf("kv not configured")
		}
		_, err := store.Ping(ctx)
		return err
	}
	contentCheck := func(ctx context.Context) error {
		if engine == nil {
			return fmt.Errorf("content engine not configured")
		}
		if !engine.Loaded() {
			return fmt.Errorf("catalog not loaded")
		}
		return nil
	}
	eventsCheck := func(ctx context.Context) error {
		if eventStore == nil {
			return fmt.Errorf("event store not configured")
		}
		h := eventStore.HealthCheck(ctx)
		if h["status"] == "unhealthy" {
			return fmt.Errorf("event store unhealthy")
		}
		return nil
	}
	return kvCheck, contentCheck, eventsCheck
}
