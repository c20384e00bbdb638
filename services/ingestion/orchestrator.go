package ingestion

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowscope/iac/domain/network"
	ierrors "github.com/flowscope/iac/infrastructure/errors"
	"github.com/flowscope/iac/infrastructure/logging"
	"github.com/flowscope/iac/infrastructure/metrics"
	"github.com/flowscope/iac/infrastructure/resilience"
)

// Mode is the externally controlled operating mode for the whole core.
type Mode string

const (
	ModeLimited  Mode = "LIMITED"
	ModeStandard Mode = "STANDARD"
	ModeFull     Mode = "FULL"
	ModeBoost    Mode = "BOOST"
)

// Stage is one of the independent toggles gating which kinds of work the
// orchestrator performs per loop re-entry.
type Stage string

const (
	StagePools     Stage = "pools"
	StageSwaps     Stage = "swaps"
	StageLiquidity Stage = "liquidity"
)

// Controller holds the admin-mutable operating state: mode, stage toggles,
// and per-chain pause flags. It is consulted, never mutated, from inside
// a chain's worker loop — all writes come from the external admin surface
// described in the external-interfaces section.
type Controller struct {
	mu          sync.RWMutex
	mode        Mode
	boostUntil  time.Time
	stages      map[Stage]bool
	chainPaused map[string]bool
	limitedSet  map[string]bool // chains active while in LIMITED mode
}

// NewController starts in STANDARD mode with every stage enabled.
func NewController() *Controller {
	return &Controller{
		mode: ModeStandard,
		stages: map[Stage]bool{
			StagePools:     true,
			StageSwaps:     true,
			StageLiquidity: true,
		},
		chainPaused: make(map[string]bool),
		limitedSet:  make(map[string]bool),
	}
}

// SetMode changes the operating mode. STANDARD/FULL/LIMITED take effect
// immediately; BOOST is temporary FULL with an expiry.
func (c *Controller) SetMode(mode Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
	if mode != ModeBoost {
		c.boostUntil = time.Time{}
	}
}

// Boost switches to FULL behavior for the given duration, reverting to
// STANDARD once it elapses.
func (c *Controller) Boost(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = ModeBoost
	c.boostUntil = time.Now().Add(duration)
}

// EffectiveMode resolves an expired BOOST back to STANDARD.
func (c *Controller) EffectiveMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeBoost && time.Now().After(c.boostUntil) {
		c.mode = ModeStandard
	}
	return c.mode
}

// SetLimitedChains restricts which chains run while in LIMITED mode.
func (c *Controller) SetLimitedChains(chains []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limitedSet = make(map[string]bool, len(chains))
	for _, ch := range chains {
		c.limitedSet[ch] = true
	}
}

// SetStage enables or disables a stage toggle.
func (c *Controller) SetStage(stage Stage, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages[stage] = enabled
}

// StageEnabled reports whether a stage is currently active.
func (c *Controller) StageEnabled(stage Stage) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stages[stage]
}

// PauseChain/ResumeChain gate a single chain's worker independently of
// ChainSyncState's own PAUSED status — this is the operator-driven pause,
// distinct from the auto-pause C3 applies after repeated errors.
func (c *Controller) PauseChain(chain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chainPaused[chain] = true
}

func (c *Controller) ResumeChain(chain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.chainPaused, chain)
}

// ChainActive reports whether chain should run a loop iteration: it must
// not be operator-paused, and in LIMITED mode it must be in the active set.
func (c *Controller) ChainActive(chain string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.chainPaused[chain] {
		return false
	}
	if c.mode == ModeLimited && !c.limitedSet[chain] {
		return false
	}
	return true
}

// Orchestrator drives the per-chain ingestion loop described in §4.6:
// read state, fetch head, plan a window, fetch and normalize events,
// persist them idempotently, and advance the sync state machine.
type Orchestrator struct {
	cfg        *Config
	syncStates *SyncStateStore
	store      EventStore
	pools      map[network.ID]*ProviderPool
	adapters   map[network.ID]*ChainAdapter
	breakers   map[network.ID]*resilience.CircuitBreaker
	controller *Controller
	log        *logging.Logger
}

// NewOrchestrator wires together the per-network adapters/pools from cfg
// around a shared sync-state store and event store.
func NewOrchestrator(cfg *Config, store EventStore) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		syncStates: NewSyncStateStore(),
		store:      store,
		pools:      make(map[network.ID]*ProviderPool),
		adapters:   make(map[network.ID]*ChainAdapter),
		breakers:   make(map[network.ID]*resilience.CircuitBreaker),
		controller: NewController(),
		log:        logging.Default(),
	}

	startBlocks := make(map[string]uint64, len(cfg.Networks))
	for _, nc := range cfg.Networks {
		pool := NewProviderPool(string(nc.Network), nc.Providers)
		o.pools[nc.Network] = pool
		o.adapters[nc.Network] = NewChainAdapter(nc.Network, pool, cfg.RequestTimeout)
		o.breakers[nc.Network] = resilience.New(resilience.DefaultConfig())
		startBlocks[string(nc.Network)] = nc.StartBlock
	}
	o.syncStates.InitAll(startBlocks)

	return o
}

// Controller exposes the admin-mutable mode/stage/pause surface.
func (o *Orchestrator) Controller() *Controller { return o.controller }

// SyncStates exposes the underlying per-chain sync state store, read by
// C12 for health rollups.
func (o *Orchestrator) SyncStates() *SyncStateStore { return o.syncStates }

// SetMetrics attaches a metrics sink to every configured chain's adapter,
// so each RPC call records duration and outcome.
func (o *Orchestrator) SetMetrics(m *metrics.Metrics) {
	for _, adapter := range o.adapters {
		adapter.SetMetrics(m)
	}
}

// Run launches one worker per configured chain and blocks until every
// worker has returned: on ctx cancellation, or early for a chain with no
// sync state record. Workers always return nil, so Run does too. Each worker
// finishes its in-flight window atomically before observing cancellation,
// since InsertMany either commits or aborts the whole batch.
func (o *Orchestrator) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	for _, nc := range o.cfg.Networks {
		chain := nc.Network
		maxWindow := nc.MaxWindowSize
		group.Go(func() error {
			o.runChainLoop(gctx, chain, maxWindow)
			return nil
		})
	}

	go o.syncStates.RunErrorResetLoop(ctx, o.cfg.ErrorResetPeriod)

	return group.Wait()
}

func (o *Orchestrator) runChainLoop(ctx context.Context, chain network.ID, maxWindow uint64) {
	chainKey := string(chain)
	adapter := o.adapters[chain]
	pool := o.pools[chain]
	breaker := o.breakers[chain]
	backoff := newBackoff(o.cfg.MaxBackoff)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !o.controller.ChainActive(chainKey) || !o.controller.StageEnabled(StagePools) {
			sleepOrDone(ctx, o.cfg.IdleSleep)
			continue
		}

		state, err := o.syncStates.Get(chainKey)
		if err != nil {
			o.log.WithError(err).Error("unknown chain in sync loop, exiting worker")
			return
		}
		if state.Status == StatusPaused {
			sleepOrDone(ctx, o.cfg.IdleSleep)
			continue
		}

		head, err := adapter.LatestBlock(ctx)
		if err != nil {
			o.handleError(chainKey, err, backoff)
			continue
		}
		o.syncStates.UpdateHead(chainKey, head)

		window := NextWindow(state, head, maxWindow)
		if window.WindowSize == 0 {
			backoff.reset()
			sleepOrDone(ctx, o.cfg.IdleSleep)
			continue
		}

		if err := Validate(window, state); err != nil {
			o.log.WithError(err).WithFields(map[string]interface{}{"chain": chainKey}).
				Error("gap or overlap detected, pausing chain for manual reconciliation")
			o.syncStates.Pause(chainKey, err.Error())
			continue
		}

		start := time.Now()
		var raw []RawEvent
		err = breaker.Execute(ctx, func() error {
			var fetchErr error
			raw, fetchErr = adapter.Fetch(ctx, window.FromBlock, window.ToBlock)
			return fetchErr
		})
		if err != nil {
			o.handleProviderError(chainKey, pool, err, backoff)
			continue
		}

		events := adapter.Normalize(raw)
		report, err := o.store.InsertMany(ctx, events)
		if err != nil {
			o.handleError(chainKey, err, backoff)
			continue
		}

		latencyMs := float64(time.Since(start).Milliseconds())
		o.syncStates.OnSuccess(chainKey, window.FromBlock, window.ToBlock, head, SyncResult{
			EventCount: report.Inserted,
			LatencyMs:  latencyMs,
		})
		backoff.reset()
	}
}

func (o *Orchestrator) handleProviderError(chain string, pool *ProviderPool, err error, b *backoffState) {
	if se := ierrors.GetServiceError(err); se != nil &&
		(se.Code == ierrors.ErrCodeRPCRateLimited || se.Code == ierrors.ErrCodeRPCNoProviders) {
		b.wait()
		return
	}
	o.handleError(chain, err, b)
}

func (o *Orchestrator) handleError(chain string, err error, b *backoffState) {
	shouldPause, stateErr := o.syncStates.OnError(chain, err)
	if stateErr != nil {
		o.log.WithError(stateErr).Error("failed to record sync error")
		return
	}
	if shouldPause {
		o.log.WithFields(map[string]interface{}{"chain": chain}).Warn("chain auto-paused after repeated errors")
		return
	}
	b.wait()
}

// backoffState implements jittered exponential backoff capped at max,
// reset to the base delay on any success.
type backoffState struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(max time.Duration) *backoffState {
	return &backoffState{base: 500 * time.Millisecond, max: max, current: 500 * time.Millisecond}
}

func (b *backoffState) wait() {
	jitter := time.Duration(rand.Int63n(int64(b.current) / 2))
	time.Sleep(b.current/2 + jitter)
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
}

func (b *backoffState) reset() {
	b.current = b.base
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
