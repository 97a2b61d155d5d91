// Package httpprobe implements the HTTP signal collector using gocolly.
package httpprobe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/zzpscan/presence-verifier/internal/verify"
)

// Config controls probe behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Probe fetches a business's candidate domains over HTTP. A served page is
// the strongest positive evidence and supplies the website URL; an HTTP
// error status is negative evidence; network timeouts stay errors.
type Probe struct {
	cfg           Config
	baseCollector *colly.Collector
	urlsFor       func(verify.Business) []string
}

// New builds a Probe.
func New(cfg Config) *Probe {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	return &Probe{
		cfg:           cfg,
		baseCollector: c,
		urlsFor:       candidateURLs,
	}
}

func candidateURLs(b verify.Business) []string {
	domains := verify.CandidateDomains(b)
	urls := make([]string, 0, len(domains))
	for _, domain := range domains {
		urls = append(urls, "https://"+domain)
	}
	return urls
}

// Type reports the check type this collector produces.
func (p *Probe) Type() verify.CheckType {
	return verify.CheckHTTP
}

type fetchResult struct {
	statusCode int
	finalURL   string
	err        error
}

// Probe tries each candidate domain until one serves a page.
func (p *Probe) Probe(ctx context.Context, b verify.Business) verify.Signal {
	start := time.Now()
	signal := verify.Signal{Check: verify.CheckHTTP}

	urls := p.urlsFor(b)
	if len(urls) == 0 {
		signal.Outcome = verify.OutcomeInconclusive
		signal.Detail = "no candidate domains"
		signal.Latency = time.Since(start)
		return signal
	}

	var lastStatus int
	sawHTTPStatus := false
	sawTransient := false
	for _, url := range urls {
		res := p.fetch(ctx, url)
		if res.err == nil && res.statusCode >= 200 && res.statusCode < 400 {
			signal.Outcome = verify.OutcomePositive
			signal.URL = res.finalURL
			signal.StatusCode = res.statusCode
			signal.Detail = "served " + url
			signal.Latency = time.Since(start)
			return signal
		}
		if res.statusCode >= 400 {
			sawHTTPStatus = true
			lastStatus = res.statusCode
			continue
		}
		if res.err != nil {
			if isHostNotFound(res.err) {
				continue
			}
			sawTransient = true
			if ctx.Err() != nil {
				break
			}
		}
	}

	signal.Latency = time.Since(start)
	switch {
	case sawHTTPStatus:
		// A server answered but refused every candidate root.
		signal.Outcome = verify.OutcomeNegative
		signal.StatusCode = lastStatus
		signal.Detail = fmt.Sprintf("http status %d", lastStatus)
	case sawTransient:
		signal.Outcome = verify.OutcomeError
		signal.Detail = "fetch failed"
	default:
		signal.Outcome = verify.OutcomeNegative
		signal.Detail = "no candidate domain serves a page"
	}
	return signal
}

func (p *Probe) fetch(ctx context.Context, url string) fetchResult {
	var res fetchResult

	collector := p.baseCollector.Clone()
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	timeout := p.cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnResponse(func(r *colly.Response) {
		res.statusCode = r.StatusCode
		res.finalURL = r.Request.URL.String()
	})
	collector.OnError(func(r *colly.Response, err error) {
		res.err = err
		if r != nil {
			res.statusCode = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fetchResult{err: fmt.Errorf("fetch canceled: %w", ctx.Err())}
	case err := <-done:
		if res.err == nil && err != nil {
			res.err = err
		}
		return res
	}
}

func isHostNotFound(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}
	// colly flattens some transport errors to plain strings.
	return strings.Contains(err.Error(), "no such host")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
