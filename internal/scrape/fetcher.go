package scrape

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/pkg/firecrawl"
	"github.com/sells-group/prospect-cli/pkg/jina"
)

// ErrNotConfigured is returned when no page-fetch service is available.
var ErrNotConfigured = eris.New("scrape: no page fetcher configured")

// Fetcher retrieves page text for extraction.
type Fetcher interface {
	// ScrapeURL returns the markdown of a single page.
	ScrapeURL(ctx context.Context, url string) (string, error)
	// CrawlURL follows links from url and returns the markdown of up to
	// limit pages.
	CrawlURL(ctx context.Context, url string, limit int) ([]string, error)
}

// Searcher runs a web search and returns the results as one document.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Chain tries scrapers in priority order for single pages and uses
// Firecrawl crawls for multi-page fetches.
type Chain struct {
	scrapers []Scraper
	fcClient firecrawl.Client
	pollOpts []firecrawl.PollOption
}

// NewChain creates a Chain. Scrapers are tried in order; the first one that
// returns non-empty text wins.
func NewChain(scrapers ...Scraper) *Chain {
	return &Chain{scrapers: scrapers}
}

// WithFirecrawlClient enables CrawlURL.
func (c *Chain) WithFirecrawlClient(fc firecrawl.Client, opts ...firecrawl.PollOption) *Chain {
	c.fcClient = fc
	c.pollOpts = opts
	return c
}

// NewDefaultChain wires Firecrawl first and Jina Reader as the fallback.
// Either client may be nil.
func NewDefaultChain(fc firecrawl.Client, jc jina.Client, crawlTimeout time.Duration) *Chain {
	var scrapers []Scraper
	if fc != nil {
		scrapers = append(scrapers, NewFirecrawlAdapter(fc))
	}
	if jc != nil {
		scrapers = append(scrapers, NewJinaAdapter(jc))
	}
	c := NewChain(scrapers...)
	if fc != nil {
		var opts []firecrawl.PollOption
		if crawlTimeout > 0 {
			opts = append(opts, firecrawl.WithPollTimeout(crawlTimeout))
		}
		c.WithFirecrawlClient(fc, opts...)
	}
	return c
}

// Configured reports whether at least one scraper is wired.
func (c *Chain) Configured() bool {
	return len(c.scrapers) > 0
}

// Scrape tries each scraper in order for a single URL.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var lastErr error
	tried := false
	for _, s := range c.scrapers {
		if !s.Supports(targetURL) {
			continue
		}
		tried = true
		result, err := s.Scrape(ctx, targetURL)
		if err == nil && result != nil && strings.TrimSpace(result.Page.Markdown) != "" {
			return result, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			zap.L().Debug("scrape: scraper failed, trying next",
				zap.String("scraper", s.Name()),
				zap.String("url", targetURL),
				zap.Error(err),
			)
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, eris.Wrap(lastErr, "scrape: all scrapers failed")
	}
	if !tried {
		return nil, eris.Errorf("scrape: no suitable scraper for url: %s", targetURL)
	}
	return &Result{Page: Page{URL: targetURL}}, nil
}

// ScrapeURL implements Fetcher. An empty page is not an error.
func (c *Chain) ScrapeURL(ctx context.Context, targetURL string) (string, error) {
	res, err := c.Scrape(ctx, targetURL)
	if err != nil {
		return "", err
	}
	return res.Page.Markdown, nil
}

// CrawlURL implements Fetcher using a Firecrawl crawl job.
func (c *Chain) CrawlURL(ctx context.Context, targetURL string, limit int) ([]string, error) {
	if c.fcClient == nil {
		return nil, eris.Wrap(ErrNotConfigured, "scrape: crawl requires firecrawl")
	}

	resp, err := c.fcClient.Crawl(ctx, firecrawl.CrawlRequest{
		URL:           targetURL,
		Limit:         limit,
		ScrapeOptions: &firecrawl.ScrapeOptions{Formats: []string{firecrawl.FormatMarkdown}},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: start crawl %s", targetURL)
	}
	if !resp.Success || resp.ID == "" {
		return nil, eris.Errorf("scrape: crawl %s not accepted", targetURL)
	}

	status, err := firecrawl.PollCrawl(ctx, c.fcClient, resp.ID, c.pollOpts...)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: crawl %s", targetURL)
	}

	var pages []string
	for _, d := range status.Data {
		text := d.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		if blocked, _ := DetectBlock(text); blocked {
			continue
		}
		pages = append(pages, text)
	}

	zap.L().Info("scrape: crawl complete",
		zap.String("url", targetURL),
		zap.Int("limit", limit),
		zap.Int("pages", len(pages)),
	)
	return pages, nil
}

// JinaSearcher adapts Jina Search to Searcher.
type JinaSearcher struct {
	client jina.Client
}

// NewJinaSearcher creates a JinaSearcher.
func NewJinaSearcher(client jina.Client) *JinaSearcher {
	return &JinaSearcher{client: client}
}

// Search implements Searcher, biased to French results.
func (s *JinaSearcher) Search(ctx context.Context, query string) (string, error) {
	resp, err := s.client.Search(ctx, query, jina.WithCountry("FR"))
	if err != nil {
		return "", eris.Wrap(err, "scrape: web search")
	}
	return resp.Text(), nil
}
