package provider

import (
	"context"
	"fmt"
)

// Capability is the category of generation request a provider can serve.
type Capability string

const (
	CapabilityText  Capability = "text"
	CapabilityImage Capability = "image"
)

// Provider describes one registered capability endpoint. A provider that
// serves both text and image is registered twice, once per capability.
type Provider struct {
	Name       string
	Capability Capability
	DailyLimit int
	Unlimited  bool
	UnitCost   float64 // approximate USD per call
	Priority   int     // lower = preferred
}

// Adapter is the transport boundary to an external generation endpoint.
// Any non-success outcome (HTTP error, timeout, malformed response) is
// reported as an error.
type Adapter interface {
	Invoke(ctx context.Context, providerName string, capability Capability, payload map[string]any) (string, error)
}

// Registry holds the providers registered at startup. It is immutable after
// construction, so reads need no locking.
type Registry struct {
	entries []Provider
	byKey   map[string]Provider
}

func key(name string, c Capability) string {
	return name + "/" + string(c)
}

func NewRegistry(providers []Provider) (*Registry, error) {
	r := &Registry{byKey: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p.Name == "" {
			return nil, fmt.Errorf("provider with empty name")
		}
		if p.Capability != CapabilityText && p.Capability != CapabilityImage {
			return nil, fmt.Errorf("provider %s: unknown capability %q", p.Name, p.Capability)
		}
		if p.UnitCost < 0 {
			return nil, fmt.Errorf("provider %s: negative unit cost", p.Name)
		}
		k := key(p.Name, p.Capability)
		if _, dup := r.byKey[k]; dup {
			return nil, fmt.Errorf("duplicate provider registration: %s/%s", p.Name, p.Capability)
		}
		r.byKey[k] = p
		r.entries = append(r.entries, p)
	}
	return r, nil
}

// Candidates returns the providers registered for a capability, in
// registration order.
func (r *Registry) Candidates(c Capability) []Provider {
	var out []Provider
	for _, p := range r.entries {
		if p.Capability == c {
			out = append(out, p)
		}
	}
	return out
}

// Registrations returns every registration for a provider name, across
// capabilities, in registration order.
func (r *Registry) Registrations(name string) []Provider {
	var out []Provider
	for _, p := range r.entries {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) Lookup(name string, c Capability) (Provider, bool) {
	p, ok := r.byKey[key(name, c)]
	return p, ok
}

// Names returns the distinct provider names in registration order.
func (r *Registry) Names() []string {
	seen := make(map[string]bool, len(r.entries))
	var out []string
	for _, p := range r.entries {
		if !seen[p.Name] {
			seen[p.Name] = true
			out = append(out, p.Name)
		}
	}
	return out
}
