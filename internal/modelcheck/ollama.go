package modelcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// blockedPrefixes are private networks a configured endpoint may not target.
// Loopback stays allowed for local model servers.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// ValidateEndpoint rejects endpoints that are not http(s) or that point at
// a private network address
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint %q: scheme must be http or https", endpoint)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("endpoint %q: missing host", endpoint)
	}
	if host == "localhost" {
		return nil
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		// hostnames are not resolved here
		return nil
	}
	addr = addr.Unmap()
	if addr.IsLoopback() {
		return nil
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return fmt.Errorf("endpoint %q: private network addresses are not allowed", endpoint)
		}
	}
	return nil
}

// OllamaClient talks to a local Ollama server
type OllamaClient struct {
	endpoint string
	model    string
	http     *http.Client
}

// NewOllamaClient validates endpoint and returns a client for model
func NewOllamaClient(endpoint, model string) (*OllamaClient, error) {
	if err := ValidateEndpoint(endpoint); err != nil {
		return nil, err
	}
	if model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	return &OllamaClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		http:     &http.Client{},
	}, nil
}

// Name returns the model tag
func (c *OllamaClient) Name() string { return c.model }

// Probe lists local models
func (c *OllamaClient) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: probe returned %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	// TotalDuration is in nanoseconds
	TotalDuration int64 `json:"total_duration"`
}

// Generate runs a non-streaming completion
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (Response, error) {
	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt})
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("ollama generate failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Response{}, fmt.Errorf("ollama generate returned %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("failed to decode ollama response: %w", err)
	}
	d := time.Duration(out.TotalDuration)
	if d <= 0 {
		d = time.Since(start)
	}
	return Response{Text: out.Response, Duration: d}, nil
}
