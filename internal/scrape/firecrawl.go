package scrape

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/pkg/firecrawl"
)

// FirecrawlAdapter wraps a Firecrawl client as a Scraper for single-page scrapes.
type FirecrawlAdapter struct {
	client firecrawl.Client
}

// NewFirecrawlAdapter creates a FirecrawlAdapter from a Firecrawl client.
func NewFirecrawlAdapter(client firecrawl.Client) *FirecrawlAdapter {
	return &FirecrawlAdapter{client: client}
}

// Name implements Scraper.
func (f *FirecrawlAdapter) Name() string { return "firecrawl" }

// Supports returns true; Firecrawl renders any URL.
func (f *FirecrawlAdapter) Supports(_ string) bool { return true }

// Scrape fetches a single URL via Firecrawl's scrape API.
func (f *FirecrawlAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:     targetURL,
		Formats: []string{firecrawl.FormatMarkdown},
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, eris.New("firecrawl: scrape not successful")
	}

	text := resp.Data.Text()
	if blocked, kind := DetectBlock(text); blocked {
		return nil, eris.Errorf("firecrawl: page blocked (%s)", kind)
	}

	page := Page{
		URL:        resp.Data.URL,
		Title:      resp.Data.Title,
		Markdown:   text,
		StatusCode: resp.Data.StatusCode,
	}
	if page.URL == "" {
		page.URL = resp.Data.Metadata.SourceURL
	}
	if page.Title == "" {
		page.Title = resp.Data.Metadata.Title
	}
	return &Result{Page: page, Source: "firecrawl"}, nil
}
