package cache

import (
	"context"
	"testing"

	"github.com/vnmchuo/content-engine/internal/provider"
)

func TestFingerprint_TypeDiscriminator(t *testing.T) {
	text := Fingerprint(provider.CapabilityText, "sunset over mountains")
	image := Fingerprint(provider.CapabilityImage, "sunset over mountains")
	if text == image {
		t.Error("text and image fingerprints for the same prompt must differ")
	}
	if text != Fingerprint(provider.CapabilityText, "sunset over mountains") {
		t.Error("fingerprint must be deterministic")
	}
}

func TestCache_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), true)

	if _, ok := c.Get(ctx, provider.CapabilityText, "x"); ok {
		t.Fatal("expected miss on never-written key")
	}

	c.Put(ctx, provider.CapabilityText, "x", "v1")
	if got, ok := c.Get(ctx, provider.CapabilityText, "x"); !ok || got != "v1" {
		t.Fatalf("expected v1, got %q (ok=%v)", got, ok)
	}

	c.Put(ctx, provider.CapabilityText, "x", "v2")
	if got, _ := c.Get(ctx, provider.CapabilityText, "x"); got != "v2" {
		t.Fatalf("expected last write to win, got %q", got)
	}
}

func TestCache_Clear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := New(store, true)

	c.Put(ctx, provider.CapabilityText, "a", "1")
	c.Put(ctx, provider.CapabilityImage, "a", "2")
	if store.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", store.Len())
	}

	c.Clear(ctx)
	if store.Len() != 0 {
		t.Errorf("expected empty store after clear, got %d entries", store.Len())
	}
}

func TestCache_DisabledIsNoop(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := New(store, false)

	c.Put(ctx, provider.CapabilityText, "x", "v")
	if store.Len() != 0 {
		t.Error("disabled cache must not write")
	}

	store.Put(ctx, Fingerprint(provider.CapabilityText, "x"), "v")
	if _, ok := c.Get(ctx, provider.CapabilityText, "x"); ok {
		t.Error("disabled cache must always report a miss")
	}
}
