package collector

import (
	"context"
	"sync"
	"time"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// Query selects the observations to collect.
type Query struct {
	ItemCodes   []string
	MarketCodes []string
	StartDate   time.Time
	EndDate     time.Time
}

// Page is one decoded page of the upstream listing.
type Page struct {
	Index      int // 1-based
	Records    []model.RawRecord
	TotalCount int
	PageSize   int
}

// HasNext reports whether the upstream has pages after p.
func (p *Page) HasNext() bool {
	if len(p.Records) == 0 || p.PageSize <= 0 {
		return false
	}
	return p.Index*p.PageSize < p.TotalCount
}

// PageCount returns the number of pages the upstream reported.
func (p *Page) PageCount() int {
	if p.PageSize <= 0 || p.TotalCount <= 0 {
		return p.Index
	}
	return (p.TotalCount + p.PageSize - 1) / p.PageSize
}

// Fetcher fetches a single page of raw price records.
type Fetcher interface {
	FetchPage(ctx context.Context, q Query, page int) (*Page, error)
	Name() string
}

// MockFetcher serves fixed records for development and testing. Errors
// queued in Failures are returned for a page before its records are served.
type MockFetcher struct {
	Records  []model.RawRecord
	PageSize int
	Failures map[int][]error

	mu    sync.Mutex
	calls map[int]int
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchPage(_ context.Context, _ Query, page int) (*Page, error) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[int]int)
	}
	n := m.calls[page]
	m.calls[page]++
	m.mu.Unlock()

	if errs := m.Failures[page]; n < len(errs) && errs[n] != nil {
		return nil, errs[n]
	}

	size := m.PageSize
	if size <= 0 {
		size = len(m.Records)
		if size == 0 {
			size = 1
		}
	}
	start := (page - 1) * size
	end := start + size
	if start > len(m.Records) {
		start = len(m.Records)
	}
	if end > len(m.Records) {
		end = len(m.Records)
	}
	out := make([]model.RawRecord, 0, end-start)
	for i, r := range m.Records[start:end] {
		r.PageIndex = page
		r.Seq = i
		out = append(out, r)
	}
	return &Page{Index: page, Records: out, TotalCount: len(m.Records), PageSize: size}, nil
}

// Calls returns how many times page was requested.
func (m *MockFetcher) Calls(page int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[page]
}
