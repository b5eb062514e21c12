// Package factory owns service construction and lifetime: lazily built
// singletons behind per-service locks, the KV connect guard with its
// in-process fallback, and the background task group (health probe, cache
// warm-up, event flush and recovery).
package factory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/retail-reco/internal/adapter/catalog"
	"github.com/fairyhunter13/retail-reco/internal/adapter/collab"
	"github.com/fairyhunter13/retail-reco/internal/adapter/convai"
	"github.com/fairyhunter13/retail-reco/internal/adapter/inventory"
	"github.com/fairyhunter13/retail-reco/internal/adapter/kv"
	"github.com/fairyhunter13/retail-reco/internal/adapter/observability"
	"github.com/fairyhunter13/retail-reco/internal/adapter/stream"
	"github.com/fairyhunter13/retail-reco/internal/config"
	"github.com/fairyhunter13/retail-reco/internal/domain"
	obsctx "github.com/fairyhunter13/retail-reco/internal/observability"
	"github.com/fairyhunter13/retail-reco/internal/service/content"
	"github.com/fairyhunter13/retail-reco/internal/service/diversity"
	"github.com/fairyhunter13/retail-reco/internal/service/events"
	"github.com/fairyhunter13/retail-reco/internal/service/products"
	"github.com/fairyhunter13/retail-reco/internal/service/recommender"
	"github.com/fairyhunter13/retail-reco/internal/usecase"
)

const (
	guardThreshold = 5
	guardCooldown  = 60 * time.Second

	healthProbeInterval = 30 * time.Second
	recoveryInterval    = 60 * time.Second
	adaptiveInterval    = 10 * time.Minute
	adaptiveTrendingN   = 20
)

// Factory builds and holds the service graph. Every getter is safe for
// concurrent use and returns the same instance on every call.
type Factory struct {
	cfg config.Config

	// KV slot and connect guard. The guard stops repeated dial attempts
	// against a dead store: after guardThreshold consecutive init failures
	// every call inside the cooldown gets the in-process fallback without
	// touching the network.
	kvMu       sync.Mutex
	kvStore    kv.Store
	fallbackKV *kv.Memory

	guardMu       sync.Mutex
	guardFailures int
	guardLast     time.Time
	guardOpen     bool

	vocabOnce sync.Once
	vocab     *config.Vocabulary

	contentMu sync.Mutex
	content   *content.Engine

	collabMu     sync.Mutex
	collabEngine domain.CollaborativeEngine
	collabBuilt  bool

	remoteMu      sync.Mutex
	remoteCatalog domain.ProductSource
	remoteBuilt   bool

	productsMu   sync.Mutex
	productCache *products.Cache

	diversityMu    sync.Mutex
	diversityCache *diversity.Cache

	sinkMu    sync.Mutex
	sink      domain.EventSink
	sinkBuilt bool

	eventsMu   sync.Mutex
	eventStore *events.Store

	generatorMu sync.Mutex
	generator   domain.ResponseGenerator

	inventoryMu sync.Mutex
	stock       domain.InventoryService

	hybridMu sync.Mutex
	hybrid   *recommender.Hybrid

	orchMu sync.Mutex
	orch   *usecase.Orchestrator

	bgMu     sync.Mutex
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// Option overrides an auto-wired dependency, primarily for tests.
type Option func(*Factory)

// WithKV installs a pre-built KV store, bypassing the connect protocol.
func WithKV(s kv.Store) Option { return func(f *Factory) { f.kvStore = s } }

// WithCollab installs a collaborative engine.
func WithCollab(c domain.CollaborativeEngine) Option {
	return func(f *Factory) { f.collabEngine = c; f.collabBuilt = true }
}

// WithRemoteCatalog installs a remote catalog source.
func WithRemoteCatalog(s domain.ProductSource) Option {
	return func(f *Factory) { f.remoteCatalog = s; f.remoteBuilt = true }
}

// WithContent installs a content engine.
func WithContent(e *content.Engine) Option { return func(f *Factory) { f.content = e } }

// WithGenerator installs a response generator.
func WithGenerator(g domain.ResponseGenerator) Option { return func(f *Factory) { f.generator = g } }

// WithSink installs an event stream sink.
func WithSink(s domain.EventSink) Option {
	return func(f *Factory) { f.sink = s; f.sinkBuilt = true }
}

// WithVocabulary installs an intent vocabulary.
func WithVocabulary(v *config.Vocabulary) Option {
	return func(f *Factory) { f.vocabOnce.Do(func() {}); f.vocab = v }
}

// New creates a factory over cfg.
func New(cfg config.Config, opts ...Option) *Factory {
	f := &Factory{cfg: cfg}
	for _, o := range opts {
		o(f)
	}
	return f
}

// --- KV slot -----------------------------------------------------------

// KV returns the key-value store, connecting lazily. A live store that
// cannot be reached degrades to the shared in-process fallback; repeated
// failures open the guard so later calls skip the dial entirely until the
// cooldown passes.
func (f *Factory) KV(ctx context.Context) kv.Store {
	f.kvMu.Lock()
	defer f.kvMu.Unlock()
	if f.kvStore != nil {
		return f.kvStore
	}

	if !f.cfg.KVEnabled {
		f.kvStore = f.memoryFallback(ctx)
		return f.kvStore
	}

	if f.guardBlocked() {
		return f.memoryFallback(ctx)
	}

	store, err := f.connectKV(ctx)
	if err != nil {
		f.recordGuardFailure(ctx, err)
		return f.memoryFallback(ctx)
	}
	f.resetGuard()
	f.kvStore = store
	observability.SetKVHealthy(true)
	return f.kvStore
}

// connectKV dials the live store with the configured budget and retries once
// at 0.8x before giving up.
func (f *Factory) connectKV(ctx context.Context) (kv.Store, error) {
	attempt := func(connectTimeout, opTimeout time.Duration) (kv.Store, error) {
		r := kv.NewRedis(kv.Options{
			Addr:           f.cfg.KVAddr(),
			DB:             f.cfg.KVDB,
			Username:       f.cfg.KVUser,
			Password:       f.cfg.KVPassword,
			TLS:            f.cfg.KVTLS,
			ConnectTimeout: connectTimeout,
			OpTimeout:      opTimeout,
			PoolSize:       f.cfg.KVMaxConns,
		})
		pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		if _, err := r.Ping(pingCtx); err != nil {
			_ = r.Close()
			return nil, err
		}
		return r, nil
	}

	store, err := attempt(f.cfg.KVConnectTimeout(), f.cfg.KVOpTimeout())
	if err == nil {
		return store, nil
	}
	store, rerr := attempt(
		time.Duration(float64(f.cfg.KVConnectTimeout())*0.8),
		time.Duration(float64(f.cfg.KVOpTimeout())*0.8),
	)
	if rerr == nil {
		return store, nil
	}
	return nil, fmt.Errorf("kv connect: %w (retry: %w)", err, rerr)
}

// memoryFallback lazily creates the single shared in-process store.
func (f *Factory) memoryFallback(ctx context.Context) kv.Store {
	if f.fallbackKV == nil {
		mem, err := kv.NewMemory()
		if err != nil {
			// miniredis startup cannot realistically fail; panicking here
			// beats serving with a nil store.
			panic(fmt.Sprintf("embedded kv: %v", err))
		}
		f.fallbackKV = mem
		if f.cfg.KVEnabled {
			obsctx.LoggerFromContext(ctx).Warn("kv unavailable, serving from embedded store")
		}
	}
	return f.fallbackKV
}

func (f *Factory) guardBlocked() bool {
	f.guardMu.Lock()
	defer f.guardMu.Unlock()
	if !f.guardOpen {
		return false
	}
	if time.Since(f.guardLast) >= guardCooldown {
		// Cooldown over: allow one fresh attempt.
		f.guardOpen = false
		f.guardFailures = 0
		return false
	}
	return true
}

func (f *Factory) recordGuardFailure(ctx context.Context, err error) {
	f.guardMu.Lock()
	f.guardFailures++
	f.guardLast = time.Now()
	if f.guardFailures >= guardThreshold {
		f.guardOpen = true
	}
	open := f.guardOpen
	n := f.guardFailures
	f.guardMu.Unlock()

	observability.SetKVHealthy(false)
	obsctx.LoggerFromContext(ctx).Warn("kv connect failed",
		slog.Int("consecutive_failures", n),
		slog.Bool("guard_open", open),
		slog.Any("error", err))
}

func (f *Factory) resetGuard() {
	f.guardMu.Lock()
	f.guardFailures = 0
	f.guardOpen = false
	f.guardMu.Unlock()
}

// GuardState exposes the connect guard for health surfaces.
func (f *Factory) GuardState() map[string]any {
	f.guardMu.Lock()
	defer f.guardMu.Unlock()
	return map[string]any{
		"open":                 f.guardOpen,
		"consecutive_failures": f.guardFailures,
	}
}

// --- leaf services -----------------------------------------------------

// Vocabulary loads the intent vocabulary once.
func (f *Factory) Vocabulary() *config.Vocabulary {
	f.vocabOnce.Do(func() {
		f.vocab = config.VocabularyOrDefault(f.cfg.VocabPath)
	})
	return f.vocab
}

// Content returns the content engine, loading the local catalog from
// Postgres or a feed file when configured. An empty engine serves nothing
// but is still valid; the recommender degrades around it.
func (f *Factory) Content(ctx context.Context) *content.Engine {
	f.contentMu.Lock()
	defer f.contentMu.Unlock()
	if f.content != nil {
		return f.content
	}
	eng := content.New()
	lg := obsctx.LoggerFromContext(ctx)
	switch {
	case f.cfg.CatalogDBURL != "":
		pool, err := catalog.NewPool(ctx, f.cfg.CatalogDBURL)
		if err != nil {
			lg.Warn("catalog db unavailable", slog.Any("error", err))
			break
		}
		prods, err := catalog.NewRepo(pool).ListProducts(ctx)
		if err != nil {
			lg.Warn("catalog load failed", slog.Any("error", err))
			break
		}
		eng.Load(prods)
		lg.Info("local catalog loaded", slog.String("source", "postgres"), slog.Int("products", len(prods)))
	case f.cfg.CatalogFeedPath != "":
		prods, err := catalog.LoadFeed(f.cfg.CatalogFeedPath)
		if err != nil {
			lg.Warn("catalog feed load failed",
				slog.String("path", f.cfg.CatalogFeedPath), slog.Any("error", err))
			break
		}
		eng.Load(prods)
		lg.Info("local catalog loaded", slog.String("source", "feed"), slog.Int("products", len(prods)))
	}
	f.content = eng
	return f.content
}

// Collab returns the collaborative engine client, or nil when no endpoint is
// configured.
func (f *Factory) Collab() domain.CollaborativeEngine {
	f.collabMu.Lock()
	defer f.collabMu.Unlock()
	if !f.collabBuilt {
		if f.cfg.CollabURL != "" {
			f.collabEngine = collab.New(f.cfg.CollabURL, f.cfg.CollabTimeout())
		}
		f.collabBuilt = true
	}
	return f.collabEngine
}

// RemoteCatalog returns the remote catalog client, or nil when unset.
func (f *Factory) RemoteCatalog() domain.ProductSource {
	f.remoteMu.Lock()
	defer f.remoteMu.Unlock()
	if !f.remoteBuilt {
		if f.cfg.CatalogURL != "" {
			f.remoteCatalog = catalog.NewClient(f.cfg.CatalogURL, f.cfg.CatalogAPIKey, 10*time.Second)
		}
		f.remoteBuilt = true
	}
	return f.remoteCatalog
}

// Products returns the multi-source product cache.
func (f *Factory) Products(ctx context.Context) *products.Cache {
	f.productsMu.Lock()
	defer f.productsMu.Unlock()
	if f.productCache == nil {
		f.productCache = products.New(f.KV(ctx), f.Content(ctx), f.RemoteCatalog(), products.Options{
			Prefix:          f.cfg.CachePrefix,
			TTL:             f.cfg.CacheTTL(),
			SynthMinimal:    f.cfg.MinProductSynth,
			DefaultCurrency: f.cfg.DefaultCurrency,
		})
	}
	return f.productCache
}

// Diversity returns the diversity-aware response cache, its classifier fed
// by the configured vocabulary plus the live catalog categories.
func (f *Factory) Diversity(ctx context.Context) *diversity.Cache {
	f.diversityMu.Lock()
	defer f.diversityMu.Unlock()
	if f.diversityCache == nil {
		eng := f.Content(ctx)
		classifier := diversity.NewClassifier(f.Vocabulary(), eng.Categories)
		f.diversityCache = diversity.New(f.KV(ctx), classifier)
	}
	return f.diversityCache
}

// Sink returns the event stream mirror, or nil when no brokers are set or
// the connection failed (the event store works without it).
func (f *Factory) Sink(ctx context.Context) domain.EventSink {
	f.sinkMu.Lock()
	defer f.sinkMu.Unlock()
	if !f.sinkBuilt {
		if f.cfg.StreamEnabled() {
			p, err := stream.NewProducer(ctx, f.cfg.StreamBrokers, f.cfg.StreamTopic)
			if err != nil {
				obsctx.LoggerFromContext(ctx).Warn("event stream disabled", slog.Any("error", err))
			} else {
				f.sink = p
			}
		}
		f.sinkBuilt = true
	}
	return f.sink
}

// Events returns the event store.
func (f *Factory) Events(ctx context.Context) *events.Store {
	f.eventsMu.Lock()
	defer f.eventsMu.Unlock()
	if f.eventStore == nil {
		f.eventStore = events.New(f.KV(ctx), f.Sink(ctx), events.Options{
			BufferSize:    f.cfg.EventBufferSize,
			FlushInterval: f.cfg.EventFlushInterval(),
			EventTTL:      f.cfg.EventTTL(),
			ProfileTTL:    f.cfg.ProfileTTL(),
			CacheTTL:      f.cfg.EventCacheTTL(),
			FallbackDir:   f.cfg.EventFallbackDir,
		})
	}
	return f.eventStore
}

// Generator returns the conversational response generator; Noop when no
// endpoint is configured or the encoder cannot initialize.
func (f *Factory) Generator(ctx context.Context) domain.ResponseGenerator {
	f.generatorMu.Lock()
	defer f.generatorMu.Unlock()
	if f.generator == nil {
		f.generator = domain.ResponseGenerator(convai.Noop{})
		if f.cfg.ConvAIURL != "" {
			g, err := convai.NewHTTP(f.cfg.ConvAIURL, f.cfg.ConvAIModel, f.cfg.ConvAITokenBudget, f.cfg.ConvAITimeout())
			if err != nil {
				obsctx.LoggerFromContext(ctx).Warn("conversational generator disabled", slog.Any("error", err))
			} else {
				f.generator = g
			}
		}
	}
	return f.generator
}

// Inventory returns the stock service: KV-backed flags when a live KV is
// configured, optimistic otherwise.
func (f *Factory) Inventory(ctx context.Context) domain.InventoryService {
	f.inventoryMu.Lock()
	defer f.inventoryMu.Unlock()
	if f.stock == nil {
		if f.cfg.KVEnabled {
			f.stock = inventory.NewKVStock(f.KV(ctx))
		} else {
			f.stock = inventory.Optimistic{}
		}
	}
	return f.stock
}

// --- composites --------------------------------------------------------

// Hybrid returns the hybrid recommender.
func (f *Factory) Hybrid(ctx context.Context) *recommender.Hybrid {
	f.hybridMu.Lock()
	defer f.hybridMu.Unlock()
	if f.hybrid == nil {
		eng := f.Content(ctx)
		f.hybrid = recommender.New(eng, f.Collab(), eng, f.Products(ctx), f.Events(ctx), recommender.Options{
			ContentWeight:   f.cfg.ContentWeight,
			ExcludeSeen:     f.cfg.ExcludeSeen,
			DefaultN:        f.cfg.RecsDefaultN,
			DefaultCurrency: f.cfg.DefaultCurrency,
			Placeholders:    f.Vocabulary().Placeholders,
		})
	}
	return f.hybrid
}

// Orchestrator returns the recommendation orchestrator.
func (f *Factory) Orchestrator(ctx context.Context) *usecase.Orchestrator {
	f.orchMu.Lock()
	defer f.orchMu.Unlock()
	if f.orch == nil {
		f.orch = usecase.New(
			f.KV(ctx),
			f.Diversity(ctx),
			f.Hybrid(ctx),
			f.Generator(ctx),
			f.Events(ctx),
			f.Products(ctx),
			f.cfg.RecsDefaultN,
		)
	}
	return f.orch
}

// --- task group --------------------------------------------------------

// Start launches the background tasks: KV health probe, event flush and
// recovery loops, and the cache warm-up/adaptive cycle when enabled.
func (f *Factory) Start(ctx context.Context) {
	f.bgMu.Lock()
	defer f.bgMu.Unlock()
	if f.bgCancel != nil {
		return
	}
	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f.bgCancel = cancel

	store := f.Events(bgCtx)
	f.goTask(func() { store.RunFlushLoop(bgCtx) })
	f.goTask(func() { store.RunRecoveryLoop(bgCtx, recoveryInterval) })
	f.goTask(func() { f.healthProbeLoop(bgCtx) })

	if f.cfg.CacheBGTasks {
		cache := f.Products(bgCtx)
		f.goTask(func() {
			if len(f.cfg.WarmupMarkets) > 0 {
				cache.Warmup(bgCtx, f.cfg.WarmupMarkets, f.cfg.WarmupBudget)
			}
			cache.RunAdaptive(bgCtx, adaptiveInterval, f.cfg.StaleAfter(), adaptiveTrendingN)
		})
	}
}

func (f *Factory) goTask(fn func()) {
	f.bgWG.Add(1)
	go func() {
		defer f.bgWG.Done()
		fn()
	}()
}

func (f *Factory) healthProbeLoop(ctx context.Context) {
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, f.cfg.KVOpTimeout())
			_, err := f.KV(probeCtx).Ping(probeCtx)
			cancel()
			observability.SetKVHealthy(err == nil)
		}
	}
}

// Shutdown stops the task group, drains the event buffer and releases every
// held resource. The factory is reusable afterwards (slots reset).
func (f *Factory) Shutdown(ctx context.Context) {
	f.bgMu.Lock()
	if f.bgCancel != nil {
		f.bgCancel()
		f.bgCancel = nil
	}
	f.bgMu.Unlock()

	done := make(chan struct{})
	go func() {
		f.bgWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		obsctx.LoggerFromContext(ctx).Warn("background tasks did not drain in time")
	case <-ctx.Done():
	}

	f.eventsMu.Lock()
	store := f.eventStore
	f.eventsMu.Unlock()
	if store != nil {
		if err := store.Flush(context.WithoutCancel(ctx)); err != nil {
			obsctx.LoggerFromContext(ctx).Warn("final event flush failed", slog.Any("error", err))
		}
	}

	f.sinkMu.Lock()
	if f.sink != nil {
		f.sink.Close()
		f.sink = nil
	}
	f.sinkBuilt = false
	f.sinkMu.Unlock()

	f.kvMu.Lock()
	if f.kvStore != nil {
		_ = f.kvStore.Close()
		f.kvStore = nil
	}
	if f.fallbackKV != nil {
		_ = f.fallbackKV.Close()
		f.fallbackKV = nil
	}
	f.kvMu.Unlock()
	f.resetGuard()

	f.contentMu.Lock()
	f.content = nil
	f.contentMu.Unlock()
	f.productsMu.Lock()
	f.productCache = nil
	f.productsMu.Unlock()
	f.diversityMu.Lock()
	f.diversityCache = nil
	f.diversityMu.Unlock()
	f.eventsMu.Lock()
	f.eventStore = nil
	f.eventsMu.Unlock()
	f.hybridMu.Lock()
	f.hybrid = nil
	f.hybridMu.Unlock()
	f.orchMu.Lock()
	f.orch = nil
	f.orchMu.Unlock()
}
