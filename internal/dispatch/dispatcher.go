// Package dispatch orchestrates quota-aware provider calls: select a
// provider, invoke it with bounded retries and exponential backoff, and on
// total failure degrade through the fallback cascade (cache, then a static
// placeholder). Dispatch never returns an error; callers always get content.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/content-engine/internal/cache"
	"github.com/vnmchuo/content-engine/internal/provider"
	"github.com/vnmchuo/content-engine/internal/quota"
	"github.com/vnmchuo/content-engine/internal/selection"
)

// Internal failure signals. Both are absorbed by the fallback cascade and
// never escape Dispatch.
var (
	ErrProviderExhausted = errors.New("no provider available")
	ErrAllRetriesFailed  = errors.New("all retry attempts failed")
)

// Placeholder tokens returned when the whole cascade comes up empty. They
// are deterministic so callers can detect degraded content by value, and
// Result.Degraded carries the same signal out of band.
const (
	TextPlaceholder  = "[TEXT_PLACEHOLDER]"
	ImagePlaceholder = "[IMAGE_PLACEHOLDER]"
)

const defaultMaxRetries = 3

// Placeholder returns the degradation token for a capability.
func Placeholder(c provider.Capability) string {
	if c == provider.CapabilityImage {
		return ImagePlaceholder
	}
	return TextPlaceholder
}

// Request describes one generation dispatch. BuildPayload, when set, shapes
// the adapter payload for the provider that ends up selected; otherwise the
// bare prompt is sent.
type Request struct {
	Capability   provider.Capability
	Prompt       string
	Strategy     selection.Policy
	MaxRetries   int
	UseCache     bool
	BuildPayload func(providerName string) map[string]any
}

func (r Request) payload(providerName string) map[string]any {
	if r.BuildPayload != nil {
		return r.BuildPayload(providerName)
	}
	return map[string]any{"prompt": r.Prompt}
}

// Result is the outcome of a dispatch. Degraded marks fallback-produced
// content (cached or placeholder); Cached marks content served from cache.
type Result struct {
	Content  string
	Provider string
	Cached   bool
	Degraded bool
}

// Options tune a Dispatcher. The zero value is usable: no per-call timeout,
// real sleeping, default logger, no tracing.
type Options struct {
	// Timeout bounds each adapter invocation. A timeout consumes a retry
	// attempt like any other adapter failure.
	Timeout time.Duration
	// Sleep is the wait between retries; injectable so tests skip real
	// backoff delays.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
	Tracer trace.Tracer
}

type Dispatcher struct {
	quota    *quota.Tracker
	selector *selection.Selector
	cache    *cache.Cache
	adapter  provider.Adapter
	breakers map[string]*gobreaker.CircuitBreaker
	timeout  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
	tracer   trace.Tracer
}

func New(registry *provider.Registry, tracker *quota.Tracker, selector *selection.Selector, c *cache.Cache, adapter provider.Adapter, opts Options) *Dispatcher {
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("dispatch")
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, name := range registry.Names() {
		breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}

	return &Dispatcher{
		quota:    tracker,
		selector: selector,
		cache:    c,
		adapter:  adapter,
		breakers: breakers,
		timeout:  opts.Timeout,
		sleep:    opts.Sleep,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
	}
}

// Dispatch runs the full pipeline for one request. It is total: whatever the
// cache, quota, and adapter do, the result carries real content, cached
// content, or a placeholder.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	ctx, span := d.tracer.Start(ctx, "dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("capability", string(req.Capability)),
		attribute.String("strategy", string(req.Strategy)),
	)

	res := d.dispatch(ctx, req)

	span.SetAttributes(
		attribute.String("provider", res.Provider),
		attribute.Bool("cached", res.Cached),
		attribute.Bool("degraded", res.Degraded),
	)
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) Result {
	if req.UseCache {
		if content, ok := d.cache.Get(ctx, req.Capability, req.Prompt); ok {
			d.logger.Debug("cache hit", "capability", string(req.Capability))
			return Result{Content: content, Cached: true}
		}
	}

	name, ok := d.selector.Select(req.Capability, req.Strategy)
	if !ok {
		return d.fallback(ctx, req, ErrProviderExhausted)
	}

	content, err := d.attempt(ctx, req, name)
	if err != nil {
		return d.fallback(ctx, req, err)
	}

	d.quota.Record(name, 1)
	if req.UseCache {
		d.cache.Put(ctx, req.Capability, req.Prompt, content)
	}
	return Result{Content: content, Provider: name}
}

// attempt calls one provider up to MaxRetries times, sleeping 2^attempt
// seconds between tries. Retries stay on the same provider so the backoff
// stays attributable to one endpoint; rotation happens only on the next
// top-level Dispatch via the round-robin cursor.
func (d *Dispatcher) attempt(ctx context.Context, req Request, name string) (string, error) {
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.RandomizationFactor = 0
	bo.Multiplier = 2

	payload := req.payload(name)
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		content, err := d.invoke(ctx, name, req.Capability, payload)
		if err == nil {
			return content, nil
		}
		lastErr = err
		d.logger.Warn("provider call failed",
			"provider", name, "attempt", attempt+1, "max_retries", maxRetries, "error", err)

		if attempt < maxRetries-1 {
			if err := d.sleep(ctx, bo.NextBackOff()); err != nil {
				return "", fmt.Errorf("%w: %s: backoff interrupted: %v", ErrAllRetriesFailed, name, err)
			}
		}
	}
	return "", fmt.Errorf("%w: provider %s: %v", ErrAllRetriesFailed, name, lastErr)
}

// invoke runs a single adapter call through the provider's circuit breaker,
// bounded by the configured timeout. An open breaker reads as an ordinary
// adapter failure.
func (d *Dispatcher) invoke(ctx context.Context, name string, c provider.Capability, payload map[string]any) (string, error) {
	call := func() (string, error) {
		callCtx := ctx
		if d.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		return d.adapter.Invoke(callCtx, name, c, payload)
	}

	cb := d.breakers[name]
	if cb == nil {
		return call()
	}
	out, err := cb.Execute(func() (interface{}, error) {
		return call()
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// fallback is the degradation cascade: consult the cache once more, even
// when the request opted out of caching, then hand back the capability's
// placeholder.
func (d *Dispatcher) fallback(ctx context.Context, req Request, cause error) Result {
	d.logger.Warn("generation failed, entering fallback cascade",
		"capability", string(req.Capability), "error", cause)

	if content, ok := d.cache.Get(ctx, req.Capability, req.Prompt); ok {
		return Result{Content: content, Cached: true, Degraded: true}
	}
	return Result{Content: Placeholder(req.Capability), Degraded: true}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
