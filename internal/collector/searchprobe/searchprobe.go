// Package searchprobe implements the web search signal collector.
package searchprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zzpscan/presence-verifier/internal/verify"
)

// Config controls probe behavior.
type Config struct {
	// Endpoint is the search API base URL. The probe issues
	// GET <Endpoint>?q=<name city> and expects a JSON result list.
	Endpoint  string
	UserAgent string
	Timeout   time.Duration
}

// searchResponse is the wire shape of the search API.
type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Probe queries a search API for the business and matches result hosts
// against the candidate domains. A matching result is positive evidence with
// a concrete URL; results that all miss are inconclusive (the business may
// simply be outranked); an empty result set is negative.
type Probe struct {
	cfg    Config
	client *http.Client
}

// New builds a Probe.
func New(cfg Config) *Probe {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Probe{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Type reports the check type this collector produces.
func (p *Probe) Type() verify.CheckType {
	return verify.CheckSearch
}

// Probe searches for the business and inspects the result hosts.
func (p *Probe) Probe(ctx context.Context, b verify.Business) verify.Signal {
	start := time.Now()
	signal := verify.Signal{Check: verify.CheckSearch}

	if p.cfg.Endpoint == "" {
		signal.Outcome = verify.OutcomeInconclusive
		signal.Detail = "no search endpoint configured"
		signal.Latency = time.Since(start)
		return signal
	}

	results, status, err := p.search(ctx, b)
	signal.StatusCode = status
	if err != nil {
		signal.Outcome = verify.OutcomeError
		signal.Detail = "search query failed"
		signal.Latency = time.Since(start)
		return signal
	}

	if len(results) == 0 {
		signal.Outcome = verify.OutcomeNegative
		signal.Detail = "no search results"
		signal.Latency = time.Since(start)
		return signal
	}

	domains := verify.CandidateDomains(b)
	for _, res := range results {
		if host := hostOf(res.URL); host != "" && matchesCandidate(host, domains) {
			signal.Outcome = verify.OutcomePositive
			signal.URL = res.URL
			signal.Detail = "search hit " + host
			signal.Latency = time.Since(start)
			return signal
		}
	}

	signal.Outcome = verify.OutcomeInconclusive
	signal.Detail = fmt.Sprintf("%d results, none on a candidate domain", len(results))
	signal.Latency = time.Since(start)
	return signal
}

func (p *Probe) search(ctx context.Context, b verify.Business) ([]searchResult, int, error) {
	query := b.Name
	if b.City != "" {
		query += " " + b.City
	}

	endpoint := p.cfg.Endpoint + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build search request: %w", err)
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("search status %d", resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode search response: %w", err)
	}
	return payload.Results, resp.StatusCode, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
}

func matchesCandidate(host string, domains []string) bool {
	for _, domain := range domains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
