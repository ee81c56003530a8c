// Package analytics provides in-process A/B testing: variant assignment,
// event recording, and winner analysis per page.
package analytics

import (
	"log/slog"
	"math/rand"
	"sync"
)

// variantResult accumulates the raw counters for one variant.
type variantResult struct {
	Views       int `json:"views"`
	Conversions int `json:"conversions"`
}

type test struct {
	pageID   string
	variants int
	metric   string
	results  []variantResult
}

// Analysis is the outcome of analyzing one test.
type Analysis struct {
	PageID          string          `json:"page_id"`
	Metric          string          `json:"metric"`
	ConversionRates map[int]float64 `json:"conversion_rates"`
	Winner          int             `json:"winner"`
	Decided         bool            `json:"decided"`
}

// minViews is the sample size a variant needs before it can be declared a
// winner.
const minViews = 100

type Engine struct {
	logger *slog.Logger

	mu    sync.Mutex
	tests map[string]*test
	randn func(n int) int
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger: logger,
		tests:  make(map[string]*test),
		randn:  rand.Intn,
	}
}

// CreateTest registers an A/B test for a page. Creating a test again for the
// same page and metric resets its counters.
func (e *Engine) CreateTest(pageID string, variants int, metric string) {
	if variants < 1 {
		variants = 1
	}
	e.mu.Lock()
	e.tests[pageID] = &test{
		pageID:   pageID,
		variants: variants,
		metric:   metric,
		results:  make([]variantResult, variants),
	}
	e.mu.Unlock()
	e.logger.Info("A/B test created", "page", pageID, "variants", variants, "metric", metric)
}

// Variant assigns a variant for a page view. Pages without a test always get
// variant 0.
func (e *Engine) Variant(pageID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tests[pageID]
	if !ok {
		return 0
	}
	return e.randn(t.variants)
}

// RecordEvent records a view or conversion for a variant. Unknown pages or
// out-of-range variants are ignored.
func (e *Engine) RecordEvent(pageID string, variant int, eventType string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tests[pageID]
	if !ok || variant < 0 || variant >= t.variants {
		return
	}
	switch eventType {
	case "view":
		t.results[variant].Views++
	case "conversion":
		t.results[variant].Conversions++
	}
}

// Analyze computes conversion rates per variant and names a winner once the
// best variant has enough views.
func (e *Engine) Analyze(pageID string) (Analysis, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tests[pageID]
	if !ok {
		return Analysis{}, false
	}

	a := Analysis{
		PageID:          t.pageID,
		Metric:          t.metric,
		ConversionRates: make(map[int]float64, t.variants),
		Winner:          -1,
	}

	best := -1.0
	for v, r := range t.results {
		rate := 0.0
		if r.Views > 0 {
			rate = float64(r.Conversions) / float64(r.Views)
		}
		a.ConversionRates[v] = rate
		if rate > best {
			best = rate
			a.Winner = v
		}
	}
	a.Decided = a.Winner >= 0 && t.results[a.Winner].Views >= minViews
	return a, true
}
