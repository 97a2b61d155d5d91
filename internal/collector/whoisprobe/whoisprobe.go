// Package whoisprobe implements the WHOIS signal collector.
package whoisprobe

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/zzpscan/presence-verifier/internal/verify"
)

// Dialer is the narrow network surface the probe depends on. *net.Dialer
// satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config controls probe behavior.
type Config struct {
	// Server overrides the per-TLD registry server selection, mainly for
	// tests and corporate proxies. Host:port.
	Server  string
	Timeout time.Duration
}

// tldServers maps the candidate TLDs to their registry WHOIS servers.
var tldServers = map[string]string{
	"nl":  "whois.domain-registry.nl:43",
	"com": "whois.verisign-grs.com:43",
	"be":  "whois.dns.be:43",
	"de":  "whois.denic.de:43",
	"lu":  "whois.dnslu.lu:43",
}

// negativeMarkers are registry phrasings for an unregistered domain.
var negativeMarkers = []string{
	"no match",
	"not found",
	"is free",
	"no entries found",
	"status: free",
	"status: available",
}

// positiveMarkers indicate an active registration record.
var positiveMarkers = []string{
	"registrar:",
	"status: active",
	"creation date:",
	"changed:",
	"nserver:",
}

// Probe queries registry WHOIS for a business's candidate domains. A
// registration record is positive evidence; an explicit "no match" across
// candidates is negative; anything unparseable stays inconclusive.
type Probe struct {
	cfg    Config
	dialer Dialer
}

// New builds a Probe. A nil dialer falls back to net.Dialer.
func New(cfg Config, dialer Dialer) *Probe {
	if dialer == nil {
		dialer = &net.Dialer{Timeout: 10 * time.Second}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Probe{cfg: cfg, dialer: dialer}
}

// Type reports the check type this collector produces.
func (p *Probe) Type() verify.CheckType {
	return verify.CheckWHOIS
}

// Probe queries WHOIS for each candidate domain until one answers
// conclusively.
func (p *Probe) Probe(ctx context.Context, b verify.Business) verify.Signal {
	start := time.Now()
	signal := verify.Signal{Check: verify.CheckWHOIS}

	domains := verify.CandidateDomains(b)
	if len(domains) == 0 {
		signal.Outcome = verify.OutcomeInconclusive
		signal.Detail = "no candidate domains"
		signal.Latency = time.Since(start)
		return signal
	}

	sawNegative := false
	sawTransient := false
	sawInconclusive := false
	for _, domain := range domains {
		server := p.serverFor(domain)
		if server == "" {
			sawInconclusive = true
			continue
		}
		response, err := p.query(ctx, server, domain)
		if err != nil {
			sawTransient = true
			if ctx.Err() != nil {
				break
			}
			continue
		}
		switch classify(response) {
		case verify.OutcomePositive:
			signal.Outcome = verify.OutcomePositive
			signal.Detail = "registered " + domain
			signal.Latency = time.Since(start)
			return signal
		case verify.OutcomeNegative:
			sawNegative = true
		default:
			sawInconclusive = true
		}
	}

	signal.Latency = time.Since(start)
	switch {
	case sawTransient && !sawNegative:
		signal.Outcome = verify.OutcomeError
		signal.Detail = "whois query failed"
	case sawInconclusive && !sawNegative:
		signal.Outcome = verify.OutcomeInconclusive
		signal.Detail = "whois response unparseable"
	case sawNegative:
		signal.Outcome = verify.OutcomeNegative
		signal.Detail = "no registration found"
	default:
		signal.Outcome = verify.OutcomeInconclusive
	}
	return signal
}

func (p *Probe) serverFor(domain string) string {
	if p.cfg.Server != "" {
		return p.cfg.Server
	}
	idx := strings.LastIndex(domain, ".")
	if idx < 0 {
		return ""
	}
	return tldServers[domain[idx+1:]]
}

func (p *Probe) query(ctx context.Context, server, domain string) (string, error) {
	queryCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(queryCtx, "tcp", server)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", server, err)
	}
	defer conn.Close()

	if deadline, ok := queryCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := io.WriteString(conn, domain+"\r\n"); err != nil {
		return "", fmt.Errorf("send query: %w", err)
	}
	raw, err := io.ReadAll(io.LimitReader(conn, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(raw), nil
}

func classify(response string) verify.Outcome {
	lower := strings.ToLower(response)
	for _, marker := range negativeMarkers {
		if strings.Contains(lower, marker) {
			return verify.OutcomeNegative
		}
	}
	for _, marker := range positiveMarkers {
		if strings.Contains(lower, marker) {
			return verify.OutcomePositive
		}
	}
	return verify.OutcomeInconclusive
}
