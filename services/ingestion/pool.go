package ingestion

import (
	"context"
	"sort"
	"sync"
	"time"

	ierrors "github.com/flowscope/iac/infrastructure/errors"
	"github.com/flowscope/iac/infrastructure/ratelimit"
)

// providerCooldown is how long a provider sits out after tripping its
// error budget, before it is eligible for selection again.
const providerCooldown = 30 * time.Second

// providerErrorBudget is the error count at which a provider is put into
// cooldown rather than simply weighted down.
const providerErrorBudget = 5

// pooledProvider pairs the static/runtime RpcProvider record with the
// token bucket enforcing its requests-per-minute budget.
type pooledProvider struct {
	state   RpcProvider
	limiter *ratelimit.RateLimiter
}

// ProviderPool selects, rate-limits, and tracks health for one network's
// set of RPC endpoints. Selection is weighted: fewer in-flight requests,
// higher configured weight, and fewer recent errors all favor a provider.
type ProviderPool struct {
	mu      sync.Mutex
	network string
	pool    []*pooledProvider
}

// NewProviderPool builds a pool from configuration, one token bucket per
// provider sized to its configured per-minute rate limit.
func NewProviderPool(network string, providers []ProviderConfig) *ProviderPool {
	pool := make([]*pooledProvider, 0, len(providers))
	for _, p := range providers {
		limit := p.RateLimit
		if limit <= 0 {
			limit = 300
		}
		pool = append(pool, &pooledProvider{
			state: RpcProvider{
				ProviderID: p.ProviderID,
				URL:        p.URL,
				Weight:     maxInt(p.Weight, 1),
				RateLimit:  limit,
				CooldownMs: p.CooldownMs,
				Enabled:    p.Enabled,
			},
			limiter: ratelimit.New(ratelimit.RateLimitConfig{
				RequestsPerSecond: float64(limit) / 60.0,
				Burst:             limit,
			}),
		})
	}
	return &ProviderPool{network: network, pool: pool}
}

// Acquire selects the best available provider, blocks on its rate-limit
// token if necessary (bounded by ctx), and marks it in-flight. The caller
// must call Release when the request completes.
func (p *ProviderPool) Acquire(ctx context.Context) (*RpcProvider, error) {
	pp, err := p.selectProvider()
	if err != nil {
		return nil, err
	}

	if err := pp.limiter.Wait(ctx); err != nil {
		return nil, ierrors.RPCRateLimited(pp.state.ProviderID)
	}

	p.mu.Lock()
	pp.state.InFlight++
	pp.state.RequestCount++
	snapshot := pp.state
	p.mu.Unlock()

	return &snapshot, nil
}

// Release records the outcome of a request against its provider,
// decrementing in-flight and applying cooldown/weight adjustments.
func (p *ProviderPool) Release(providerID string, reqErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pp := range p.pool {
		if pp.state.ProviderID != providerID {
			continue
		}
		if pp.state.InFlight > 0 {
			pp.state.InFlight--
		}
		if reqErr != nil {
			pp.state.ErrorCount++
			pp.state.LastError = reqErr.Error()
			if pp.state.ErrorCount >= providerErrorBudget {
				pp.state.CooldownUntil = time.Now().Add(providerCooldown)
			}
		} else {
			pp.state.ErrorCount = 0
		}
		return
	}
}

// selectProvider picks the lowest-cost enabled, non-cooldown provider.
// Cost favors low in-flight count, high configured weight, and few
// recent errors.
func (p *ProviderPool) selectProvider() (*pooledProvider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	candidates := make([]*pooledProvider, 0, len(p.pool))
	for _, pp := range p.pool {
		if !pp.state.Enabled {
			continue
		}
		if now.Before(pp.state.CooldownUntil) {
			continue
		}
		candidates = append(candidates, pp)
	}

	if len(candidates) == 0 {
		return nil, ierrors.RPCNoProviders(p.network)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return selectionCost(candidates[i].state) < selectionCost(candidates[j].state)
	})
	return candidates[0], nil
}

// selectionCost is lower for providers that should be preferred: it
// penalizes in-flight load and recent errors, and rewards configured
// weight.
func selectionCost(s RpcProvider) float64 {
	weight := float64(s.Weight)
	if weight <= 0 {
		weight = 1
	}
	return (float64(s.InFlight) + 1) * (float64(s.ErrorCount) + 1) / weight
}

// Snapshot returns the current state of every provider in the pool.
func (p *ProviderPool) Snapshot() []RpcProvider {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]RpcProvider, len(p.pool))
	for i, pp := range p.pool {
		out[i] = pp.state
	}
	return out
}

// HealthyCount returns how many providers are currently selectable.
func (p *ProviderPool) HealthyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	count := 0
	for _, pp := range p.pool {
		if pp.state.Enabled && now.After(pp.state.CooldownUntil) {
			count++
		}
	}
	return count
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
