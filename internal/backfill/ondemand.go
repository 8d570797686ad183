package backfill

import (
	"context"
	"fmt"

	"candle-retriever/internal/model"
)

// OnDemand wraps a Fetcher to serve the façade's POST /api/fetch route: a
// single (symbol, timeframe) run capped at a fixed iteration count instead
// of running to full exhaustion.
type OnDemand struct {
	Provider string
	Fetcher  *Fetcher
}

// FetchUntilExhaustedOrLimit runs FetchOneBatch repeatedly until either the
// timeframe reports exhausted or maxIterations batches have run, whichever
// comes first.
func (o *OnDemand) FetchUntilExhaustedOrLimit(ctx context.Context, symbol, timeframe string, maxIterations int) (inserted, iterations int, err error) {
	key := model.Key{Provider: o.Provider, Symbol: symbol, Timeframe: timeframe}

	for i := 0; i < maxIterations; i++ {
		if ctx.Err() != nil {
			return inserted, iterations, ctx.Err()
		}

		n, exhausted, err := o.Fetcher.FetchOneBatch(ctx, key, 0)
		if err != nil {
			return inserted, iterations, fmt.Errorf("on-demand fetch: %w", err)
		}
		inserted += n
		iterations++
		if exhausted {
			break
		}
	}

	return inserted, iterations, nil
}
