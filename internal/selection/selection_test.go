package selection

import (
	"testing"
	"time"

	"github.com/vnmchuo/content-engine/internal/provider"
	"github.com/vnmchuo/content-engine/internal/quota"
)

func setup(t *testing.T, providers []provider.Provider) (*Selector, *quota.Tracker) {
	t.Helper()
	reg, err := provider.NewRegistry(providers)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	tracker := quota.NewTrackerWithClock(reg, func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	})
	return NewSelector(reg, tracker, nil), tracker
}

func textProviders() []provider.Provider {
	return []provider.Provider{
		{Name: "openai", Capability: provider.CapabilityText, DailyLimit: 100, UnitCost: 0.002, Priority: 2},
		{Name: "gemini", Capability: provider.CapabilityText, DailyLimit: 100, UnitCost: 0.00005, Priority: 1},
		{Name: "anthropic", Capability: provider.CapabilityText, DailyLimit: 100, UnitCost: 0.003, Priority: 3},
	}
}

func TestRoundRobin_Fairness(t *testing.T) {
	sel, _ := setup(t, textProviders())

	want := []string{"openai", "gemini", "anthropic", "openai", "gemini", "anthropic"}
	for i, expected := range want {
		got, ok := sel.Select(provider.CapabilityText, PolicyRoundRobin)
		if !ok {
			t.Fatalf("selection %d: no provider available", i)
		}
		if got != expected {
			t.Errorf("selection %d: got %s, want %s", i, got, expected)
		}
	}
}

func TestRoundRobin_SkipsExhausted(t *testing.T) {
	sel, tracker := setup(t, textProviders())

	// Exhaust gemini.
	tracker.Record("gemini", 100)

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		got, ok := sel.Select(provider.CapabilityText, PolicyRoundRobin)
		if !ok {
			t.Fatalf("selection %d: no provider available", i)
		}
		seen[got]++
	}
	if seen["gemini"] != 0 {
		t.Errorf("exhausted provider was selected %d times", seen["gemini"])
	}
	if seen["openai"] != 2 || seen["anthropic"] != 2 {
		t.Errorf("expected remaining providers to alternate, got %v", seen)
	}
}

func TestRoundRobin_AllExhausted(t *testing.T) {
	sel, tracker := setup(t, textProviders())
	for _, name := range []string{"openai", "gemini", "anthropic"} {
		tracker.Record(name, 100)
	}
	if got, ok := sel.Select(provider.CapabilityText, PolicyRoundRobin); ok {
		t.Errorf("expected no provider, got %s", got)
	}
}

func TestRoundRobin_SeparateCursorsPerCapability(t *testing.T) {
	providers := append(textProviders(),
		provider.Provider{Name: "imagen", Capability: provider.CapabilityImage, DailyLimit: 10},
		provider.Provider{Name: "stability", Capability: provider.CapabilityImage, DailyLimit: 10},
	)
	sel, _ := setup(t, providers)

	// Advancing the text cursor must not move the image cursor.
	sel.Select(provider.CapabilityText, PolicyRoundRobin)
	sel.Select(provider.CapabilityText, PolicyRoundRobin)

	got, ok := sel.Select(provider.CapabilityImage, PolicyRoundRobin)
	if !ok || got != "imagen" {
		t.Errorf("expected image rotation to start at imagen, got %s (ok=%v)", got, ok)
	}
}

func TestPriority_LowestRankWins(t *testing.T) {
	sel, tracker := setup(t, textProviders())

	got, _ := sel.Select(provider.CapabilityText, PolicyPriority)
	if got != "gemini" {
		t.Errorf("expected gemini (rank 1), got %s", got)
	}

	// Exhaust gemini; next rank should win, regardless of call order.
	tracker.Record("gemini", 100)
	for i := 0; i < 3; i++ {
		got, _ = sel.Select(provider.CapabilityText, PolicyPriority)
		if got != "openai" {
			t.Errorf("expected openai (rank 2) after gemini exhausted, got %s", got)
		}
	}
}

func TestCostOptimized_CheapestWins(t *testing.T) {
	sel, tracker := setup(t, textProviders())

	got, _ := sel.Select(provider.CapabilityText, PolicyCostOptimized)
	if got != "gemini" {
		t.Errorf("expected cheapest provider gemini, got %s", got)
	}

	tracker.Record("gemini", 100)
	got, _ = sel.Select(provider.CapabilityText, PolicyCostOptimized)
	if got != "openai" {
		t.Errorf("expected openai once gemini exhausted, got %s", got)
	}
}

func TestCostOptimized_StableTieBreak(t *testing.T) {
	sel, _ := setup(t, []provider.Provider{
		{Name: "first", Capability: provider.CapabilityText, DailyLimit: 10, UnitCost: 0.001},
		{Name: "second", Capability: provider.CapabilityText, DailyLimit: 10, UnitCost: 0.001},
	})
	got, _ := sel.Select(provider.CapabilityText, PolicyCostOptimized)
	if got != "first" {
		t.Errorf("tie should keep registration order, got %s", got)
	}
}

func TestUnknownPolicy_PermissiveFirstCandidate(t *testing.T) {
	sel, tracker := setup(t, textProviders())

	// Even fully exhausted, the permissive default picks the first
	// registered candidate with no quota check.
	tracker.Record("openai", 100)
	got, ok := sel.Select(provider.CapabilityText, Policy("weighted"))
	if !ok || got != "openai" {
		t.Errorf("expected permissive fallback to openai, got %s (ok=%v)", got, ok)
	}
}

func TestSelect_NoCandidates(t *testing.T) {
	sel, _ := setup(t, textProviders())
	if got, ok := sel.Select(provider.CapabilityImage, PolicyRoundRobin); ok {
		t.Errorf("expected no image providers, got %s", got)
	}
}
