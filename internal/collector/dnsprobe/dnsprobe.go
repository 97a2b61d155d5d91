// Package dnsprobe implements the DNS signal collector.
package dnsprobe

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/zzpscan/presence-verifier/internal/verify"
)

// Resolver is the narrow DNS lookup surface the probe depends on.
// *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Probe resolves a business's candidate domains. Resolution of any candidate
// is positive evidence; NXDOMAIN across the board is negative; resolver
// failures stay errors so transient DNS trouble never reads as absence.
type Probe struct {
	resolver Resolver
}

// New builds a Probe. A nil resolver falls back to the system resolver.
func New(resolver Resolver) *Probe {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Probe{resolver: resolver}
}

// Type reports the check type this collector produces.
func (p *Probe) Type() verify.CheckType {
	return verify.CheckDNS
}

// Probe checks whether any candidate domain resolves.
func (p *Probe) Probe(ctx context.Context, b verify.Business) verify.Signal {
	start := time.Now()
	signal := verify.Signal{Check: verify.CheckDNS}

	domains := verify.CandidateDomains(b)
	if len(domains) == 0 {
		signal.Outcome = verify.OutcomeInconclusive
		signal.Detail = "no candidate domains"
		signal.Latency = time.Since(start)
		return signal
	}

	sawTransient := false
	for _, domain := range domains {
		addrs, err := p.resolver.LookupHost(ctx, domain)
		if err == nil && len(addrs) > 0 {
			signal.Outcome = verify.OutcomePositive
			signal.URL = "http://" + domain
			signal.Detail = "resolved " + domain
			signal.Latency = time.Since(start)
			return signal
		}

		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			continue
		}
		sawTransient = true
		if ctx.Err() != nil {
			break
		}
	}

	signal.Latency = time.Since(start)
	if sawTransient {
		signal.Outcome = verify.OutcomeError
		signal.Detail = "dns lookup failed"
		return signal
	}
	signal.Outcome = verify.OutcomeNegative
	signal.Detail = "no candidate domain resolves"
	return signal
}
