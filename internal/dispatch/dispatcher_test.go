package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vnmchuo/content-engine/internal/cache"
	"github.com/vnmchuo/content-engine/internal/provider"
	"github.com/vnmchuo/content-engine/internal/quota"
	"github.com/vnmchuo/content-engine/internal/selection"
)

type mockAdapter struct {
	mu       sync.Mutex
	calls    []string
	failures int // fail this many calls before succeeding
	content  string
}

func (a *mockAdapter) Invoke(_ context.Context, name string, _ provider.Capability, _ map[string]any) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, name)
	if a.failures > 0 {
		a.failures--
		return "", errors.New("upstream unavailable")
	}
	if a.content != "" {
		return a.content, nil
	}
	return "generated by " + name, nil
}

func (a *mockAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return nil
}

type fixture struct {
	dispatcher *Dispatcher
	tracker    *quota.Tracker
	adapter    *mockAdapter
	sleeps     *sleepRecorder
	store      *cache.MemoryStore
}

func newFixture(t *testing.T, providers []provider.Provider, cacheEnabled bool) *fixture {
	t.Helper()
	reg, err := provider.NewRegistry(providers)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	tracker := quota.NewTrackerWithClock(reg, func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	})
	adapter := &mockAdapter{}
	sleeps := &sleepRecorder{}
	store := cache.NewMemoryStore()
	d := New(reg, tracker, selection.NewSelector(reg, tracker, nil), cache.New(store, cacheEnabled), adapter, Options{
		Sleep: sleeps.sleep,
	})
	return &fixture{dispatcher: d, tracker: tracker, adapter: adapter, sleeps: sleeps, store: store}
}

func twoProviders() []provider.Provider {
	return []provider.Provider{
		{Name: "alpha", Capability: provider.CapabilityText, DailyLimit: 1},
		{Name: "beta", Capability: provider.CapabilityText, DailyLimit: 1},
	}
}

func TestDispatch_RotationThenPlaceholder(t *testing.T) {
	f := newFixture(t, twoProviders(), false)
	req := Request{
		Capability: provider.CapabilityText,
		Prompt:     "hello",
		Strategy:   selection.PolicyRoundRobin,
		MaxRetries: 3,
	}

	first := f.dispatcher.Dispatch(context.Background(), req)
	if first.Provider != "alpha" || first.Degraded {
		t.Fatalf("first dispatch: got %+v, want alpha", first)
	}

	second := f.dispatcher.Dispatch(context.Background(), req)
	if second.Provider != "beta" || second.Degraded {
		t.Fatalf("second dispatch: got %+v, want beta", second)
	}

	// Both limits consumed, cache disabled: placeholder.
	third := f.dispatcher.Dispatch(context.Background(), req)
	if third.Content != TextPlaceholder || !third.Degraded {
		t.Fatalf("third dispatch: got %+v, want placeholder", third)
	}
	if f.adapter.callCount() != 2 {
		t.Errorf("expected 2 adapter calls, got %d", f.adapter.callCount())
	}
}

func TestDispatch_RetriesThenSucceeds(t *testing.T) {
	f := newFixture(t, twoProviders(), false)
	f.adapter.failures = 2

	res := f.dispatcher.Dispatch(context.Background(), Request{
		Capability: provider.CapabilityText,
		Prompt:     "hello",
		Strategy:   selection.PolicyRoundRobin,
		MaxRetries: 3,
	})

	if res.Degraded || res.Provider != "alpha" {
		t.Fatalf("expected successful dispatch on alpha, got %+v", res)
	}
	if got := f.sleeps.sleeps; len(got) != 2 || got[0] != time.Second || got[1] != 2*time.Second {
		t.Errorf("expected backoff sleeps [1s 2s], got %v", got)
	}
	// Usage recorded once, not per attempt.
	if used := f.tracker.Snapshot()["alpha"].Used; used != 1 {
		t.Errorf("expected usage 1, got %d", used)
	}
}

func TestDispatch_AlwaysFailingAdapterIsTotal(t *testing.T) {
	f := newFixture(t, twoProviders(), false)
	f.adapter.failures = 1 << 30

	for i := 0; i < 5; i++ {
		res := f.dispatcher.Dispatch(context.Background(), Request{
			Capability: provider.CapabilityText,
			Prompt:     "hello",
			Strategy:   selection.PolicyRoundRobin,
			MaxRetries: 4,
		})
		if res.Content != TextPlaceholder || !res.Degraded {
			t.Fatalf("dispatch %d: got %+v, want placeholder", i, res)
		}
	}
	// No usage recorded for failed calls.
	for name, s := range f.tracker.Snapshot() {
		if s.Used != 0 {
			t.Errorf("provider %s: expected no usage, got %d", name, s.Used)
		}
	}
}

func TestDispatch_CacheShortCircuit(t *testing.T) {
	f := newFixture(t, twoProviders(), true)
	req := Request{
		Capability: provider.CapabilityText,
		Prompt:     "describe the menu",
		Strategy:   selection.PolicyRoundRobin,
		MaxRetries: 3,
		UseCache:   true,
	}

	first := f.dispatcher.Dispatch(context.Background(), req)
	if first.Cached || first.Degraded {
		t.Fatalf("first dispatch should hit a provider, got %+v", first)
	}

	// Exhaust every provider; the identical prompt must come from cache
	// with no adapter involvement.
	f.tracker.Record("alpha", 10)
	f.tracker.Record("beta", 10)
	before := f.adapter.callCount()

	second := f.dispatcher.Dispatch(context.Background(), req)
	if !second.Cached || second.Content != first.Content {
		t.Fatalf("expected cached content, got %+v", second)
	}
	if f.adapter.callCount() != before {
		t.Error("cache hit must not invoke the adapter")
	}
	// Cache hits record no usage.
	if used := f.tracker.Snapshot()["alpha"].Used; used != 10 {
		t.Errorf("expected usage unchanged at 10, got %d", used)
	}
}

func TestDispatch_FallbackPrefersCacheOverPlaceholder(t *testing.T) {
	f := newFixture(t, twoProviders(), true)

	// Seed the cache, then exhaust all quota.
	fp := cache.Fingerprint(provider.CapabilityText, "seeded")
	f.store.Put(context.Background(), fp, "stale but useful")
	f.tracker.Record("alpha", 10)
	f.tracker.Record("beta", 10)

	res := f.dispatcher.Dispatch(context.Background(), Request{
		Capability: provider.CapabilityText,
		Prompt:     "seeded",
		Strategy:   selection.PolicyRoundRobin,
		MaxRetries: 3,
		// UseCache deliberately false: the fallback cascade still
		// consults the cache before giving up.
	})
	if !res.Degraded || !res.Cached || res.Content != "stale but useful" {
		t.Fatalf("expected degraded cached content, got %+v", res)
	}
}

func TestDispatch_ImagePlaceholder(t *testing.T) {
	f := newFixture(t, twoProviders(), false)
	res := f.dispatcher.Dispatch(context.Background(), Request{
		Capability: provider.CapabilityImage,
		Prompt:     "sunset",
		Strategy:   selection.PolicyRoundRobin,
	})
	if res.Content != ImagePlaceholder {
		t.Errorf("expected image placeholder when no image providers exist, got %q", res.Content)
	}
}

func TestDispatch_PayloadBuilderReceivesSelectedProvider(t *testing.T) {
	f := newFixture(t, twoProviders(), false)

	var builtFor string
	f.dispatcher.Dispatch(context.Background(), Request{
		Capability: provider.CapabilityText,
		Prompt:     "hello",
		Strategy:   selection.PolicyPriority,
		BuildPayload: func(name string) map[string]any {
			builtFor = name
			return map[string]any{"prompt": "hello"}
		},
	})
	if builtFor != "alpha" {
		t.Errorf("payload built for %q, want alpha", builtFor)
	}
}
