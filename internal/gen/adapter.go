package gen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vnmchuo/content-engine/internal/provider"
)

// Endpoint is one provider's transport configuration.
type Endpoint struct {
	URL    string
	APIKey string
}

// HTTPAdapter posts shaped payloads to per-provider endpoints. Every
// non-success outcome (connection error, non-2xx status, empty or
// malformed body) is an error so the dispatcher can retry or fall back.
type HTTPAdapter struct {
	endpoints map[string]Endpoint
	client    *http.Client
}

func NewHTTPAdapter(endpoints map[string]Endpoint) *HTTPAdapter {
	return &HTTPAdapter{
		endpoints: endpoints,
		client:    http.DefaultClient,
	}
}

type adapterResponse struct {
	Data string `json:"data"`
}

func (a *HTTPAdapter) Invoke(ctx context.Context, providerName string, capability provider.Capability, payload map[string]any) (string, error) {
	ep, ok := a.endpoints[providerName]
	if !ok {
		return "", fmt.Errorf("no endpoint configured for provider %s", providerName)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Capability", string(capability))
	if ep.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%s api error (status %d): %s", providerName, resp.StatusCode, string(respBody))
	}

	var parsed adapterResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%s api returned malformed response: %w", providerName, err)
	}
	if parsed.Data == "" {
		return "", fmt.Errorf("%s api returned no content", providerName)
	}
	return parsed.Data, nil
}
