// Package directory discovers candidate businesses by scraping an online
// business directory's listing pages.
package directory

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/zzpscan/presence-verifier/internal/verify"
)

// Config controls the directory scraper.
type Config struct {
	// BaseURL is the listing endpoint, e.g. "https://directory.example/search".
	// The location and industry scope are appended as "where" and "what"
	// query parameters.
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// MaxPages caps rel=next pagination. Zero means first page only.
	MaxPages int
	// Source tags discovered businesses for source_id deduplication.
	Source string
}

// Discoverer scrapes listing pages into Business candidates. Listings are
// expected as elements with class "listing" carrying a data-id attribute and
// name/address/postal-code/city child classes, the markup the ZZP directory
// partners serve.
type Discoverer struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Discoverer.
func New(cfg Config) *Discoverer {
	if cfg.Source == "" {
		cfg.Source = "directory"
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	return &Discoverer{cfg: cfg, baseCollector: c}
}

// Discover fetches listing pages for the scope and returns the candidates in
// page order. Businesses carry no ID; the store assigns one on insert.
func (d *Discoverer) Discover(ctx context.Context, scope verify.JobScope) ([]verify.Business, error) {
	if d.cfg.BaseURL == "" {
		return nil, fmt.Errorf("directory base url is not configured")
	}

	collector := d.baseCollector.Clone()
	if d.cfg.UserAgent != "" {
		collector.UserAgent = d.cfg.UserAgent
	}
	timeout := d.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		businesses []verify.Business
		nextPage   string
	)
	collector.OnHTML("div.listing", func(e *colly.HTMLElement) {
		b := verify.Business{
			Name:       strings.TrimSpace(e.ChildText(".name")),
			Address:    strings.TrimSpace(e.ChildText(".address")),
			PostalCode: strings.TrimSpace(e.ChildText(".postal-code")),
			City:       strings.TrimSpace(e.ChildText(".city")),
			Industry:   scope.Industry,
			Source:     d.cfg.Source,
			SourceID:   strings.TrimSpace(e.Attr("data-id")),
			Presence:   verify.PresenceUnknown,
		}
		if b.City == "" {
			b.City = scope.Location
		}
		if b.Name == "" {
			return
		}
		businesses = append(businesses, b)
	})
	collector.OnHTML("a[rel=next]", func(e *colly.HTMLElement) {
		nextPage = e.Request.AbsoluteURL(e.Attr("href"))
	})

	page, err := d.listingURL(scope)
	if err != nil {
		return nil, err
	}
	for visited := 0; page != "" && visited < d.cfg.MaxPages; visited++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("discovery canceled: %w", err)
		}
		nextPage = ""
		if err := collector.Visit(page); err != nil {
			return nil, fmt.Errorf("fetch listing page: %w", err)
		}
		page = nextPage
	}
	return businesses, nil
}

func (d *Discoverer) listingURL(scope verify.JobScope) (string, error) {
	u, err := url.Parse(d.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse directory base url: %w", err)
	}
	q := u.Query()
	if scope.Location != "" {
		q.Set("where", scope.Location)
	}
	if scope.Industry != "" {
		q.Set("what", scope.Industry)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
