package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Runner fires the analysis of every chain and category on each tick.
type Runner struct {
	inspectors []*Inspector
	log        *slog.Logger
	nowFunc    func() time.Time
	lastTick   atomic.Int64
}

// NewRunner builds a runner over the given inspectors.
func NewRunner(inspectors []*Inspector, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{inspectors: inspectors, log: log, nowFunc: time.Now}
}

// Tick runs every inspector and category concurrently and waits for them.
// Results come back in inspector order, trade before staking.
func (r *Runner) Tick(ctx context.Context) []Result {
	results := make([]Result, len(r.inspectors)*len(Categories))
	var g errgroup.Group
	for n, insp := range r.inspectors {
		for m, cat := range Categories {
			n, insp, m, cat := n, insp, m, cat
			g.Go(func() error {
				results[n*len(Categories)+m] = insp.Analyze(ctx, cat)
				return nil
			})
		}
	}
	_ = g.Wait()
	r.lastTick.Store(r.nowFunc().UnixNano())
	return results
}

// Run ticks immediately and then on every interval until ctx is done. Ticks
// are not awaited, so a slow run overlaps the next tick and the category lock
// turns the overlap into a skipped run.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s", interval)
	}
	var wg sync.WaitGroup
	defer wg.Wait()

	fire := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, res := range r.Tick(ctx) {
				if res.Status == StatusSkipped {
					r.log.Info("previous run still in progress", "chain", res.ChainID, "category", res.Category)
				}
			}
		}()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	fire()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fire()
		}
	}
}

// Healthy returns a probe that fails when no tick completed within maxAge.
// Before the first tick completes the probe passes.
func (r *Runner) Healthy(maxAge time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		last := r.lastTick.Load()
		if last == 0 {
			return nil
		}
		age := r.nowFunc().Sub(time.Unix(0, last))
		if age > maxAge {
			return fmt.Errorf("last tick completed %s ago", age.Round(time.Second))
		}
		return nil
	}
}
