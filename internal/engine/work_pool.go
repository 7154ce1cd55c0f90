package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"divetrader/internal/model"
)

// portfolioFetchWorkers bounds concurrent market data requests per
// portfolio load.
const portfolioFetchWorkers = 4

type series struct {
	symbol string
	bars   []model.Bar
	source model.DataSource
}

// fetchPool runs one fetch job per symbol across a fixed set of
// workers. Order of results follows job completion, not input order;
// callers key results by symbol.
type fetchPool struct {
	workers int
	logger  *zap.Logger
}

func newFetchPool(workers int, logger *zap.Logger) *fetchPool {
	if workers < 1 {
		workers = 1
	}
	return &fetchPool{workers: workers, logger: logger}
}

func (p *fetchPool) run(ctx context.Context, symbols []string, fetch func(context.Context, string) series) []series {
	jobs := make(chan string, len(symbols))
	out := make(chan series, len(symbols))

	workers := p.workers
	if workers > len(symbols) {
		workers = len(symbols)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				if ctx.Err() != nil {
					p.logger.Debug("fetch pool cancelled", zap.String("symbol", symbol))
					return
				}
				out <- fetch(ctx, symbol)
			}
		}()
	}

	for _, symbol := range symbols {
		jobs <- symbol
	}
	close(jobs)
	wg.Wait()
	close(out)

	results := make([]series, 0, len(symbols))
	for s := range out {
		results = append(results, s)
	}
	return results
}
