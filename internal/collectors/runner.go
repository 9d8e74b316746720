package collectors

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hetulpatel/crossmatch/internal/domain"
	"github.com/hetulpatel/crossmatch/internal/logging"
)

// FetchResult is one collector's outcome within a FetchAll call.
type FetchResult struct {
	Venue  Venue
	Events []Event
	Err    error
}

// FetchAll runs every collector concurrently, each bounded by timeout. A failing
// collector does not cancel the others; its error is reported in its result and
// wrapped as domain.ErrUpstreamFetch. Results follow the collectors' order.
func FetchAll(ctx context.Context, limit int, timeout time.Duration, cs ...Collector) []FetchResult {
	results := make([]FetchResult, len(cs))
	var g errgroup.Group
	for i, c := range cs {
		i, c := i, c
		g.Go(func() error {
			fetchCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				fetchCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			start := time.Now()
			events, err := c.Fetch(fetchCtx, limit)
			res := FetchResult{Venue: c.Venue()}
			if err != nil {
				res.Err = fmt.Errorf("%w: %s: %v", domain.ErrUpstreamFetch, c.Name(), err)
				logging.Errorf("[%s] fetch failed after %s: %v", c.Name(), time.Since(start).Round(time.Millisecond), err)
			} else {
				res.Events = Sanitize(events)
				logging.Infof("[%s] fetched %d events in %s", c.Name(), len(res.Events), time.Since(start).Round(time.Millisecond))
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
