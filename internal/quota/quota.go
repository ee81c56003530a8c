package quota

import (
	"sync"
	"time"

	"github.com/vnmchuo/content-engine/internal/provider"
)

// CapabilityAny requests the most permissive check: the maximum limit across
// every capability the provider is registered for.
const CapabilityAny provider.Capability = "any"

// Stats is one provider's row in a usage snapshot.
type Stats struct {
	Used      int
	Limit     int
	Remaining int
	Unlimited bool
	ResetIn   time.Duration
}

type record struct {
	count   int
	resetAt time.Time
}

// Tracker counts calls per provider against rolling daily limits. Resets are
// lazy: any check that observes the deadline passed zeroes the counter and
// advances the deadline, so no background timer is needed.
type Tracker struct {
	registry *provider.Registry
	now      func() time.Time

	mu    sync.Mutex
	usage map[string]*record
}

func NewTracker(registry *provider.Registry) *Tracker {
	return NewTrackerWithClock(registry, time.Now)
}

// NewTrackerWithClock injects the clock, used by tests to drive resets.
func NewTrackerWithClock(registry *provider.Registry, now func() time.Time) *Tracker {
	return &Tracker{
		registry: registry,
		now:      now,
		usage:    make(map[string]*record),
	}
}

func nextMidnight(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
}

// record returns the usage record for name, lazily created and reset.
// Callers must hold t.mu. The reset deadline only moves forward, in fixed
// 24h steps from its previous value.
func (t *Tracker) record(name string) *record {
	r, ok := t.usage[name]
	if !ok {
		r = &record{resetAt: nextMidnight(t.now())}
		t.usage[name] = r
	}
	if now := t.now(); !now.Before(r.resetAt) {
		r.count = 0
		for !now.Before(r.resetAt) {
			r.resetAt = r.resetAt.Add(24 * time.Hour)
		}
	}
	return r
}

// effectiveLimit resolves the limit for a capability-scoped check. Unknown
// providers get a zero limit, so they never have quota.
func (t *Tracker) effectiveLimit(name string, c provider.Capability) (limit int, unlimited bool) {
	if c == CapabilityAny {
		for _, p := range t.registry.Registrations(name) {
			if p.Unlimited {
				unlimited = true
			}
			if p.DailyLimit > limit {
				limit = p.DailyLimit
			}
		}
		return limit, unlimited
	}
	p, ok := t.registry.Lookup(name, c)
	if !ok {
		return 0, false
	}
	return p.DailyLimit, p.Unlimited
}

// HasQuota reports whether the provider may serve another call for the
// capability. It never fails: unknown providers simply report false.
func (t *Tracker) HasQuota(name string, c provider.Capability) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.record(name)
	limit, unlimited := t.effectiveLimit(name, c)
	if unlimited {
		return true
	}
	return r.count < limit
}

// Record adds delta calls to the provider's counter. There is no bounds
// check: callers are expected to have passed HasQuota first, and a benign
// one-over-limit race between concurrent dispatches is accepted.
func (t *Tracker) Record(name string, delta int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(name).count += delta
}

// Snapshot reports current usage for every registered provider.
func (t *Tracker) Snapshot() map[string]Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	stats := make(map[string]Stats)
	for _, name := range t.registry.Names() {
		r := t.record(name)
		limit, unlimited := t.effectiveLimit(name, CapabilityAny)
		remaining := limit - r.count
		if remaining < 0 {
			remaining = 0
		}
		stats[name] = Stats{
			Used:      r.count,
			Limit:     limit,
			Remaining: remaining,
			Unlimited: unlimited,
			ResetIn:   r.resetAt.Sub(now),
		}
	}
	return stats
}
