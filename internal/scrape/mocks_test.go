package scrape

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/prospect-cli/pkg/firecrawl"
	"github.com/sells-group/prospect-cli/pkg/jina"
)

type mockFirecrawl struct {
	mock.Mock
}

func (m *mockFirecrawl) Crawl(ctx context.Context, req firecrawl.CrawlRequest) (*firecrawl.CrawlResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*firecrawl.CrawlResponse)
	return resp, args.Error(1)
}

func (m *mockFirecrawl) GetCrawlStatus(ctx context.Context, id string) (*firecrawl.CrawlStatusResponse, error) {
	args := m.Called(ctx, id)
	resp, _ := args.Get(0).(*firecrawl.CrawlStatusResponse)
	return resp, args.Error(1)
}

func (m *mockFirecrawl) Scrape(ctx context.Context, req firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*firecrawl.ScrapeResponse)
	return resp, args.Error(1)
}

type mockJina struct {
	mock.Mock
}

func (m *mockJina) Read(ctx context.Context, url string) (*jina.ReadResponse, error) {
	args := m.Called(ctx, url)
	resp, _ := args.Get(0).(*jina.ReadResponse)
	return resp, args.Error(1)
}

func (m *mockJina) Search(ctx context.Context, query string, opts ...jina.SearchOption) (*jina.SearchResponse, error) {
	args := m.Called(ctx, query)
	resp, _ := args.Get(0).(*jina.SearchResponse)
	return resp, args.Error(1)
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) ScrapeURL(ctx context.Context, url string) (string, error) {
	args := m.Called(ctx, url)
	return args.String(0), args.Error(1)
}

func (m *mockFetcher) CrawlURL(ctx context.Context, url string, limit int) ([]string, error) {
	args := m.Called(ctx, url, limit)
	pages, _ := args.Get(0).([]string)
	return pages, args.Error(1)
}

type mockSearcher struct {
	mock.Mock
}

func (m *mockSearcher) Search(ctx context.Context, query string) (string, error) {
	args := m.Called(ctx, query)
	return args.String(0), args.Error(1)
}
