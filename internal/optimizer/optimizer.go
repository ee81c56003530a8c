// Package optimizer turns page metrics into content-improvement
// recommendations.
package optimizer

import (
	"log/slog"
	"sync"
)

type Recommendation struct {
	Type       string `json:"type"`
	Reason     string `json:"reason"`
	Suggestion string `json:"suggestion"`
}

type Report struct {
	PageID          string           `json:"page_id"`
	Recommendations []Recommendation `json:"recommendations"`
}

type Optimizer struct {
	logger *slog.Logger

	mu      sync.Mutex
	enabled bool
	metrics []string
}

func New(logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{logger: logger}
}

// Enable turns the optimizer on for the given metrics.
func (o *Optimizer) Enable(metrics []string, interval string) {
	o.mu.Lock()
	o.enabled = true
	o.metrics = metrics
	o.mu.Unlock()
	o.logger.Info("optimizer enabled", "metrics", metrics, "interval", interval)
}

// Optimize analyzes a page's metrics and returns recommendations. A disabled
// optimizer returns an empty report.
func (o *Optimizer) Optimize(pageID string, metrics map[string]float64) Report {
	o.mu.Lock()
	enabled := o.enabled
	o.mu.Unlock()

	report := Report{PageID: pageID}
	if !enabled {
		return report
	}

	if bounce, ok := metrics["bounce_rate"]; ok && bounce > 0.5 {
		report.Recommendations = append(report.Recommendations, Recommendation{
			Type:       "improve_content",
			Reason:     "High bounce rate",
			Suggestion: "Make content more engaging",
		})
	}
	if top, ok := metrics["time_on_page"]; ok && top < 30 {
		report.Recommendations = append(report.Recommendations, Recommendation{
			Type:       "add_media",
			Reason:     "Low time on page",
			Suggestion: "Add more images or videos",
		})
	}

	o.logger.Info("generated optimization recommendations",
		"page", pageID, "count", len(report.Recommendations))
	return report
}
