package collector

import (
	"context"
	"iter"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// DefaultMaxPages caps pagination when no cap is configured.
const DefaultMaxPages = 500

// PageResult is the outcome of fetching one page. Exactly one of Records
// (possibly empty) or Err is meaningful.
type PageResult struct {
	Index   int
	Records []model.RawRecord
	Err     error
}

// Collector pages through a Fetcher with retry, pacing and bounded fan-out.
type Collector struct {
	Fetcher  Fetcher
	Policy   RetryPolicy
	Workers  int
	MaxPages int
	Limiter  *rate.Limiter

	// OnRetry, if set, is called before every backoff wait.
	OnRetry func(page int, st *RetryState)
}

// NewCollector creates a Collector with the default retry policy.
func NewCollector(fetcher Fetcher, workers, maxPages int, limiter *rate.Limiter) *Collector {
	return &Collector{
		Fetcher:  fetcher,
		Policy:   DefaultRetryPolicy(),
		Workers:  workers,
		MaxPages: maxPages,
		Limiter:  limiter,
	}
}

func (c *Collector) maxPages() int {
	if c.MaxPages > 0 {
		return c.MaxPages
	}
	return DefaultMaxPages
}

func (c *Collector) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return 1
}

// FetchPage fetches a single page, retrying transient failures.
func (c *Collector) FetchPage(ctx context.Context, q Query, page int) (*Page, error) {
	logRetry := RetryLogger(c.Fetcher.Name(), page)
	onRetry := func(st *RetryState) {
		logRetry(st)
		if c.OnRetry != nil {
			c.OnRetry(page, st)
		}
	}
	return Retry(ctx, c.Policy, func(actx context.Context) (*Page, error) {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "collector: rate limiter")
			}
		}
		return c.Fetcher.FetchPage(actx, q, page)
	}, onRetry)
}

// Pages returns a lazy sequence of pages in index order. Each iteration
// starts again from page 1. A failed page is yielded with its error and
// iteration continues, except for page 1 since the page count is unknown
// without it. Iteration stops when ctx is cancelled.
func (c *Collector) Pages(ctx context.Context, q Query) iter.Seq[PageResult] {
	return func(yield func(PageResult) bool) {
		last := c.maxPages()
		for page := 1; page <= last; page++ {
			if ctx.Err() != nil {
				return
			}
			p, err := c.FetchPage(ctx, q, page)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !yield(PageResult{Index: page, Err: err}) || page == 1 {
					return
				}
				continue
			}
			if !yield(PageResult{Index: page, Records: p.Records}) {
				return
			}
			if !p.HasNext() {
				return
			}
			if n := p.PageCount(); n < last {
				last = n
			}
		}
	}
}

// Collection is the full result of CollectAll, sorted by page index.
type Collection struct {
	Pages []PageResult
}

// Records returns the records of every successful page in canonical order.
func (c *Collection) Records() []model.RawRecord {
	var out []model.RawRecord
	for _, p := range c.Pages {
		if p.Err == nil {
			out = append(out, p.Records...)
		}
	}
	return out
}

// Fetched returns the number of pages fetched successfully.
func (c *Collection) Fetched() int {
	n := 0
	for _, p := range c.Pages {
		if p.Err == nil {
			n++
		}
	}
	return n
}

// Failures counts failed pages by kind.
func (c *Collection) Failures() map[model.PageFailureKind]int {
	out := make(map[model.PageFailureKind]int)
	for _, p := range c.Pages {
		if p.Err != nil {
			out[FailureKind(p.Err)]++
		}
	}
	return out
}

// CollectAll fetches page 1, then the remaining pages through a bounded
// worker pool. Page-level failures are recorded in the Collection; the
// only returned error is cancellation.
func (c *Collector) CollectAll(ctx context.Context, q Query) (*Collection, error) {
	log := zap.L().With(zap.String("source", c.Fetcher.Name()))

	first, err := c.FetchPage(ctx, q, 1)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "collector: cancelled")
		}
		log.Warn("collector: first page failed", zap.Error(err))
		return &Collection{Pages: []PageResult{{Index: 1, Err: err}}}, nil
	}

	last := 1
	if first.HasNext() {
		last = min(first.PageCount(), c.maxPages())
	}
	results := make([]PageResult, last)
	results[0] = PageResult{Index: 1, Records: first.Records}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())
	for page := 2; page <= last; page++ {
		g.Go(func() error {
			p, err := c.FetchPage(gctx, q, page)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("collector: page skipped", zap.Int("page", page), zap.Error(err))
				results[page-1] = PageResult{Index: page, Err: err}
				return nil
			}
			results[page-1] = PageResult{Index: page, Records: p.Records}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "collector: cancelled")
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	col := &Collection{Pages: results}
	log.Info("collector: collection finished",
		zap.Int("pages", last),
		zap.Int("fetched", col.Fetched()),
		zap.Int("records", len(col.Records())),
	)
	return col, nil
}
