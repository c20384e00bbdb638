package ingestion

import (
	"context"
	"sync"

	"github.com/flowscope/iac/infrastructure/logging"
)

// Service is the top-level lifecycle wrapper around the ingestion core:
// it owns the event store and orchestrator and exposes a single
// Start/Stop pair for the process entrypoint to drive.
type Service struct {
	cfg   *Config
	store EventStore
	orch  *Orchestrator
	log   *logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService validates cfg and wires a Postgres-backed store and
// orchestrator around it. Use NewServiceWithStore to inject an
// alternative EventStore (e.g. MemoryStore) for tests or local runs.
func NewService(cfg *Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := NewPostgresStore(cfg.GetPostgresDSN())
	if err != nil {
		return nil, err
	}
	return NewServiceWithStore(cfg, store), nil
}

// NewServiceWithStore wires a Service around an already-constructed store.
func NewServiceWithStore(cfg *Config, store EventStore) *Service {
	return &Service{
		cfg:   cfg,
		store: store,
		orch:  NewOrchestrator(cfg, store),
		log:   logging.Default(),
	}
}

// Orchestrator exposes the underlying orchestrator for admin wiring
// (mode/stage control, health sampling).
func (s *Service) Orchestrator() *Orchestrator { return s.orch }

// Store exposes the underlying event store for aggregation wiring.
func (s *Service) Store() EventStore { return s.store }

// Start launches the orchestrator's per-chain workers in the background
// and returns immediately. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.orch.Run(runCtx); err != nil {
			s.log.WithError(err).Error("ingestion orchestrator exited with error")
		}
	}()

	s.log.Info("ingestion service started")
}

// Stop signals every chain worker to finish its in-flight window and
// exit, then blocks until they have all returned.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("ingestion service stopped")

	if closer, ok := s.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.log.WithError(err).Warn("error closing event store")
		}
	}
}
