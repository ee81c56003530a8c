// Package selection implements the interchangeable provider-selection
// policies. All policies are safe for concurrent use; only round robin
// carries state (one rotation cursor per capability).
package selection

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/vnmchuo/content-engine/internal/provider"
	"github.com/vnmchuo/content-engine/internal/quota"
)

// Policy names a selection strategy.
type Policy string

const (
	PolicyRoundRobin    Policy = "round_robin"
	PolicyPriority      Policy = "priority"
	PolicyCostOptimized Policy = "cost_optimized"
)

// Selector chooses a provider for a capability given the current quota
// state. Exhaustion is an expected outcome, reported via ok=false rather
// than an error.
type Selector struct {
	registry *provider.Registry
	quota    *quota.Tracker
	logger   *slog.Logger

	mu      sync.Mutex
	cursors map[provider.Capability]int
}

func NewSelector(registry *provider.Registry, tracker *quota.Tracker, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		registry: registry,
		quota:    tracker,
		logger:   logger,
		cursors:  make(map[provider.Capability]int),
	}
}

// Select returns the name of the provider to use for the capability under
// the given policy. An unrecognized policy falls back to the first
// registered candidate with no quota check, with a warning so the
// misconfiguration shows up in logs.
func (s *Selector) Select(c provider.Capability, policy Policy) (string, bool) {
	candidates := s.registry.Candidates(c)
	if len(candidates) == 0 {
		return "", false
	}

	switch policy {
	case PolicyRoundRobin:
		return s.roundRobin(c, candidates)
	case PolicyPriority:
		return s.cheapestBy(candidates, func(p provider.Provider) float64 { return float64(p.Priority) })
	case PolicyCostOptimized:
		return s.cheapestBy(candidates, func(p provider.Provider) float64 { return p.UnitCost })
	default:
		s.logger.Warn("unknown selection policy, falling back to first candidate without quota check",
			"policy", string(policy), "capability", string(c), "provider", candidates[0].Name)
		return candidates[0].Name, true
	}
}

// roundRobin sweeps at most one full rotation from the shared cursor. The
// cursor advances on every probe, whether or not the probed provider has
// quota, so its position persists across calls and a temporarily exhausted
// provider rejoins the rotation once its quota resets.
func (s *Selector) roundRobin(c provider.Capability, candidates []provider.Provider) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempts := 0; attempts < len(candidates); attempts++ {
		idx := s.cursors[c] % len(candidates)
		s.cursors[c] = (idx + 1) % len(candidates)

		p := candidates[idx]
		if s.quota.HasQuota(p.Name, c) {
			s.logger.Debug("selected provider", "provider", p.Name, "policy", string(PolicyRoundRobin))
			return p.Name, true
		}
	}
	s.logger.Warn("all providers exhausted", "capability", string(c))
	return "", false
}

// cheapestBy returns the first candidate, in ascending rank order, that
// passes an any-capability quota check. The sort is stable, so ties keep
// registration order.
func (s *Selector) cheapestBy(candidates []provider.Provider, rank func(provider.Provider) float64) (string, bool) {
	ordered := make([]provider.Provider, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(ordered[i]) < rank(ordered[j])
	})

	for _, p := range ordered {
		if s.quota.HasQuota(p.Name, quota.CapabilityAny) {
			return p.Name, true
		}
	}
	return "", false
}
