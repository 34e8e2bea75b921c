// Package worker provides the HTTP gateway service for strand.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/strand/internal/config"
	gormdb "github.com/thebtf/strand/internal/db/gorm"
	"github.com/thebtf/strand/internal/dispatch"
	"github.com/thebtf/strand/internal/inference"
	"github.com/thebtf/strand/internal/intent"
	"github.com/thebtf/strand/internal/memory"
	"github.com/thebtf/strand/internal/stream"
	"github.com/thebtf/strand/internal/watcher"
	"github.com/thebtf/strand/internal/worker/sse"
)

// Service is the gateway: it owns the HTTP surface, the stream registry, the
// SSE hub, and the dispatch pipeline behind them.
type Service struct {
	version  string
	config   *config.Config
	router   chi.Router
	registry *stream.Registry
	hub      *sse.Hub
	provider inference.Provider

	// The persistence-backed pipeline is rebuilt when the datastore is
	// recreated; handlers read it through pipeline().
	mu         sync.RWMutex
	store      *gormdb.Store
	stores     *gormdb.Stores
	cache      *memory.Cache
	dispatcher *dispatch.Dispatcher

	dbWatcher  *watcher.Watcher
	httpServer *http.Server

	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	ready     atomic.Bool
}

// NewService wires the full pipeline from configuration.
func NewService(version string, cfg *config.Config) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:   version,
		config:    cfg,
		router:    chi.NewRouter(),
		registry:  stream.NewRegistry(cfg.GenerationTimeout),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}

	svc.hub = sse.NewHub(func(connID string) {
		if n := svc.registry.CancelOwned(connID, "connection closed"); n > 0 {
			log.Info().Str("connId", connID).Int("cancelled", n).
				Msg("Cancelled streams for closed connection")
		}
	})

	svc.provider = inference.NewHTTPProvider(inference.HTTPConfig{
		APIBase: cfg.Provider.APIBase,
		APIKey:  cfg.Provider.APIKey,
		Model:   cfg.Provider.Model,
		Timeout: cfg.Provider.RequestTimeout,
	})

	store, err := gormdb.NewStore(gormdb.Config{
		Driver:   cfg.DBDriver,
		Path:     cfg.DBPath,
		DSN:      cfg.PostgresDSN,
		MaxConns: cfg.MaxConns,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open datastore: %w", err)
	}
	svc.installPipeline(store)

	if cfg.DBDriver != "postgres" {
		w, err := watcher.New(cfg.DBPath, svc.recoverDatastore)
		if err != nil {
			log.Warn().Err(err).Msg("Database watcher unavailable")
		} else {
			svc.dbWatcher = w
		}
	}

	svc.setupRoutes()
	svc.ready.Store(true)
	return svc, nil
}

// installPipeline builds the persistence-dependent layers on top of a store.
func (s *Service) installPipeline(store *gormdb.Store) {
	stores := gormdb.NewStores(store)
	cache := memory.New(stores, memory.Config{
		TTL:          s.config.Memory.TTL,
		MaxEntries:   s.config.Memory.MaxEntries,
		MaxExchanges: s.config.Memory.MaxExchanges,
	})

	classifierModel := s.config.Provider.ClassifierModel
	if classifierModel == "" {
		classifierModel = s.config.Provider.Model
	}
	classifier := intent.New(s.provider, classifierModel, s.config.Memory.ClassifyExchanges)

	dispatcher := dispatch.New(s.registry, cache, classifier, s.provider, stores, s.hub, dispatch.Config{
		Model:       s.config.Provider.Model,
		TokenBudget: s.config.Memory.TokenBudget,
	})

	s.mu.Lock()
	s.store = store
	s.stores = stores
	s.cache = cache
	s.dispatcher = dispatcher
	s.mu.Unlock()
}

// pipeline returns the current persistence-backed components.
func (s *Service) pipeline() (*gormdb.Stores, *memory.Cache, *dispatch.Dispatcher) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stores, s.cache, s.dispatcher
}

// recoverDatastore handles the backing database file vanishing at runtime:
// every in-flight stream is cancelled, cached snapshots are dropped, and the
// store is recreated from scratch (migrations included).
func (s *Service) recoverDatastore() {
	s.ready.Store(false)
	log.Error().Str("path", s.config.DBPath).Msg("Database file removed, recreating datastore")

	s.registry.CancelAll("datastore removed")

	s.mu.RLock()
	old := s.store
	cache := s.cache
	s.mu.RUnlock()
	cache.Purge()

	if err := old.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close removed datastore")
	}

	store, err := gormdb.NewStore(gormdb.Config{
		Driver:   s.config.DBDriver,
		Path:     s.config.DBPath,
		DSN:      s.config.PostgresDSN,
		MaxConns: s.config.MaxConns,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to recreate datastore, service stays unready")
		return
	}

	s.installPipeline(store)
	s.ready.Store(true)
	log.Info().Str("path", s.config.DBPath).Msg("Datastore recreated")
}

// Start runs the HTTP server until ctx is cancelled or the listener fails.
func (s *Service) Start() error {
	if s.dbWatcher != nil {
		if err := s.dbWatcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start database watcher")
		}
	}

	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().
		Str("addr", s.config.ListenAddr).
		Str("version", s.version).
		Msg("Gateway listening")

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, interrupts every active stream, and
// closes the datastore.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.cancel()

	if n := s.registry.CancelAll("shutdown"); n > 0 {
		log.Info().Int("cancelled", n).Msg("Cancelled active streams for shutdown")
	}

	if s.dbWatcher != nil {
		_ = s.dbWatcher.Stop()
	}

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if closeErr := store.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Router exposes the HTTP handler, mainly for tests.
func (s *Service) Router() http.Handler {
	return s.router
}
