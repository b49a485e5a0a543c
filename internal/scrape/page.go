package scrape

import (
	"context"
)

// Page is a fetched document converted to markdown.
type Page struct {
	URL        string
	Title      string
	Markdown   string
	StatusCode int
}

// Result holds a fetched page with the scraper that produced it.
type Result struct {
	Page   Page
	Source string // e.g. "firecrawl", "jina"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}
