package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/content-engine/internal/analytics"
	"github.com/vnmchuo/content-engine/internal/batch"
	"github.com/vnmchuo/content-engine/internal/cache"
	"github.com/vnmchuo/content-engine/internal/dispatch"
	"github.com/vnmchuo/content-engine/internal/gen"
	"github.com/vnmchuo/content-engine/internal/optimizer"
	"github.com/vnmchuo/content-engine/internal/provider"
	"github.com/vnmchuo/content-engine/internal/quota"
	"github.com/vnmchuo/content-engine/internal/selection"
	"github.com/vnmchuo/content-engine/internal/usage"
	"github.com/vnmchuo/content-engine/pkg/ratelimit"
)

// Deps collects everything the HTTP layer needs.
type Deps struct {
	Text      *gen.TextGenerator
	Image     *gen.ImageGenerator
	Batch     *batch.Coordinator
	Registry  *provider.Registry
	Quota     *quota.Tracker
	Cache     *cache.Cache
	Usage     usage.Store
	Analytics *analytics.Engine
	Optimizer *optimizer.Optimizer
	Limiter   *ratelimit.Limiter
	Tracer    trace.Tracer
	Logger    *slog.Logger

	// Defaults applied when a request leaves them unset.
	Strategy   selection.Policy
	MaxRetries int
}

type Handler struct {
	deps Deps
}

func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("server")
	}
	return &Handler{deps: deps}
}

type generateTextRequest struct {
	Prompt     string `json:"prompt"`
	Strategy   string `json:"strategy,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
	UseCache   *bool  `json:"use_cache,omitempty"`
}

type generateImagesRequest struct {
	Prompts  []string `json:"prompts"`
	Style    string   `json:"style,omitempty"`
	UseCache *bool    `json:"use_cache,omitempty"`
}

type resultPayload struct {
	Content  string `json:"content"`
	Provider string `json:"provider,omitempty"`
	Cached   bool   `json:"cached"`
	Degraded bool   `json:"degraded"`
}

func toPayload(res dispatch.Result) resultPayload {
	return resultPayload{
		Content:  res.Content,
		Provider: res.Provider,
		Cached:   res.Cached,
		Degraded: res.Degraded,
	}
}

func (h *Handler) HandleGenerateText(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}

	var req generateTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "invalid request body: prompt is required")
		return
	}

	ctx, span := h.deps.Tracer.Start(r.Context(), "server.generate_text")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", GetRequestID(ctx)))

	opts := h.options(req.Strategy, req.MaxRetries, req.UseCache)
	start := time.Now()
	res := h.deps.Text.Generate(ctx, req.Prompt, opts)
	h.logUsage(res, provider.CapabilityText, opts.Strategy, time.Since(start))

	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": GetRequestID(ctx),
		"result":     toPayload(res),
	})
}

func (h *Handler) HandleGenerateImages(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}

	var req generateImagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Prompts) == 0 {
		writeError(w, http.StatusBadRequest, "invalid request body: prompts are required")
		return
	}
	style := req.Style
	if style == "" {
		style = gen.DefaultStyle
	}

	ctx, span := h.deps.Tracer.Start(r.Context(), "server.generate_images")
	defer span.End()
	span.SetAttributes(attribute.Int("prompts", len(req.Prompts)))

	opts := h.options("", 0, req.UseCache)
	start := time.Now()
	results := h.deps.Image.GenerateAll(ctx, req.Prompts, style, opts)
	latency := time.Since(start)

	payloads := make([]resultPayload, 0, len(results))
	for _, res := range results {
		h.logUsage(res, provider.CapabilityImage, opts.Strategy, latency/time.Duration(len(results)))
		payloads = append(payloads, toPayload(res))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": GetRequestID(ctx),
		"results":    payloads,
	})
}

type batchItem struct {
	ID         string `json:"id,omitempty"`
	Capability string `json:"capability"`
	Prompt     string `json:"prompt"`
	Style      string `json:"style,omitempty"`
	Strategy   string `json:"strategy,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
	UseCache   *bool  `json:"use_cache,omitempty"`
}

type batchRequest struct {
	Mode     string      `json:"mode,omitempty"`
	Requests []batchItem `json:"requests"`
}

func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Requests) == 0 {
		writeError(w, http.StatusBadRequest, "invalid request body: requests are required")
		return
	}

	mode := batch.ModeSequential
	if req.Mode == string(batch.ModeParallel) {
		mode = batch.ModeParallel
	}

	requests := make([]batch.Request, 0, len(req.Requests))
	capabilities := make(map[string]provider.Capability, len(req.Requests))
	for _, item := range req.Requests {
		dreq, err := h.toDispatchRequest(item)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		capabilities[item.ID] = dreq.Capability
		requests = append(requests, batch.Request{ID: item.ID, Request: dreq})
	}

	ctx, span := h.deps.Tracer.Start(r.Context(), "server.batch")
	defer span.End()
	span.SetAttributes(attribute.Int("requests", len(requests)), attribute.String("mode", string(mode)))

	start := time.Now()
	results := h.deps.Batch.Run(ctx, requests, mode)
	latency := time.Since(start)

	payloads := make(map[string]resultPayload, len(results))
	for id, res := range results {
		h.logUsage(res, capabilities[id], h.deps.Strategy, latency/time.Duration(len(results)))
		payloads[id] = toPayload(res)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": GetRequestID(ctx),
		"mode":       string(mode),
		"results":    payloads,
	})
}

func (h *Handler) toDispatchRequest(item batchItem) (dispatch.Request, error) {
	capability := provider.Capability(item.Capability)
	if capability != provider.CapabilityText && capability != provider.CapabilityImage {
		return dispatch.Request{}, fmt.Errorf("unknown capability %q", item.Capability)
	}
	if item.Prompt == "" {
		return dispatch.Request{}, fmt.Errorf("prompt is required")
	}

	opts := h.options(item.Strategy, item.MaxRetries, item.UseCache)
	prompt := item.Prompt
	buildPayload := func(name string) map[string]any {
		return gen.TextPayload(name, prompt)
	}
	if capability == provider.CapabilityImage {
		style := item.Style
		if style == "" {
			style = gen.DefaultStyle
		}
		enhanced := gen.EnhancePrompt(prompt, style)
		buildPayload = func(name string) map[string]any {
			return gen.ImagePayload(name, enhanced)
		}
	}

	return dispatch.Request{
		Capability:   capability,
		Prompt:       prompt,
		Strategy:     opts.Strategy,
		MaxRetries:   opts.MaxRetries,
		UseCache:     opts.UseCache,
		BuildPayload: buildPayload,
	}, nil
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	now := time.Now()
	from := now.AddDate(0, 0, -30) // Default: last 30 days

	logs, err := h.deps.Usage.GetRecent(ctx, from, now, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	totalCost, err := h.deps.Usage.GetTotalCost(ctx, from, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	quotaStats := make(map[string]map[string]any)
	for name, s := range h.deps.Quota.Snapshot() {
		quotaStats[name] = map[string]any{
			"used":             s.Used,
			"limit":            s.Limit,
			"remaining":        s.Remaining,
			"unlimited":        s.Unlimited,
			"reset_in_seconds": int(s.ResetIn.Seconds()),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"quota":          quotaStats,
		"recent":         logs,
		"total_cost_usd": totalCost,
		"from":           from,
		"to":             now,
	})
}

// HandleCacheClear is the administrative cache wipe. Nothing calls it
// automatically.
func (h *Handler) HandleCacheClear(w http.ResponseWriter, r *http.Request) {
	h.deps.Cache.Clear(r.Context())
	h.deps.Logger.Info("cache cleared via admin request", "request_id", GetRequestID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

type createTestRequest struct {
	PageID   string `json:"page_id"`
	Variants int    `json:"variants"`
	Metric   string `json:"metric"`
}

func (h *Handler) HandleCreateABTest(w http.ResponseWriter, r *http.Request) {
	var req createTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PageID == "" {
		writeError(w, http.StatusBadRequest, "invalid request body: page_id is required")
		return
	}
	h.deps.Analytics.CreateTest(req.PageID, req.Variants, req.Metric)
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) HandleABVariant(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "pageID")
	writeJSON(w, http.StatusOK, map[string]any{
		"page_id": pageID,
		"variant": h.deps.Analytics.Variant(pageID),
	})
}

type abEventRequest struct {
	Variant   int    `json:"variant"`
	EventType string `json:"event_type"`
}

func (h *Handler) HandleABEvent(w http.ResponseWriter, r *http.Request) {
	var req abEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.deps.Analytics.RecordEvent(chi.URLParam(r, "pageID"), req.Variant, req.EventType)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) HandleABAnalysis(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "pageID")
	analysis, ok := h.deps.Analytics.Analyze(pageID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no test for page %s", pageID))
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

type optimizeRequest struct {
	PageID  string             `json:"page_id"`
	Metrics map[string]float64 `json:"metrics"`
}

func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PageID == "" {
		writeError(w, http.StatusBadRequest, "invalid request body: page_id is required")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Optimizer.Optimize(req.PageID, req.Metrics))
}

// options merges request fields with the configured defaults. Caching is on
// unless the request turns it off.
func (h *Handler) options(strategy string, maxRetries int, useCache *bool) gen.Options {
	opts := gen.Options{
		Strategy:   h.deps.Strategy,
		MaxRetries: h.deps.MaxRetries,
		UseCache:   true,
	}
	if strategy != "" {
		opts.Strategy = selection.Policy(strategy)
	}
	if maxRetries > 0 {
		opts.MaxRetries = maxRetries
	}
	if useCache != nil {
		opts.UseCache = *useCache
	}
	return opts
}

// allow applies the per-client rate limit. A limiter error counts as a
// denial so Redis outages cannot bypass the limit.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	if h.deps.Limiter == nil {
		return true
	}
	allowed, err := h.deps.Limiter.Allow(r.Context(), r.RemoteAddr, 1)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

// logUsage records the dispatch outcome asynchronously so reporting never
// blocks a response.
func (h *Handler) logUsage(res dispatch.Result, capability provider.Capability, strategy selection.Policy, latency time.Duration) {
	if h.deps.Usage == nil {
		return
	}
	var cost float64
	if res.Provider != "" && !res.Cached {
		if p, ok := h.deps.Registry.Lookup(res.Provider, capability); ok {
			cost = p.UnitCost
		}
	}
	go func() {
		err := h.deps.Usage.LogUsage(context.Background(), &usage.Log{
			RequestID:  uuid.New().String(),
			Provider:   res.Provider,
			Capability: string(capability),
			Strategy:   string(strategy),
			CostUSD:    cost,
			LatencyMs:  latency.Milliseconds(),
			Cached:     res.Cached,
			Degraded:   res.Degraded,
		})
		if err != nil {
			h.deps.Logger.Warn("failed to log usage", "error", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
