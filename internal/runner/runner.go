// Package runner fans work out over a fixed number of workers that pull
// from a shared queue. A failing item never stops its siblings.
package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DefaultConcurrency is the worker width used by extraction and delivery.
const DefaultConcurrency = 5

// Result aggregates the outcome of a Run.
type Result struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Observer receives the final Result of a named run.
type Observer func(name string, res Result)

type options struct {
	name     string
	logger   zerolog.Logger
	observer Observer
}

// Option configures a Run.
type Option func(*options)

// WithName labels log lines and observer calls.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger used for per-item failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver registers fn to be called once the run has drained.
func WithObserver(fn Observer) Option {
	return func(o *options) { o.observer = fn }
}

// Run calls handler for every item using min(concurrency, len(items))
// workers. Workers claim the next index from a shared counter, so a slow item
// does not hold back a fixed partition. Handler errors and panics are counted
// as failures. Run returns once every worker has exited.
func Run[T any](ctx context.Context, items []T, concurrency int, handler func(context.Context, T) error, opts ...Option) Result {
	o := options{name: "runner", logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	total := len(items)
	res := Result{Total: total}
	if total == 0 {
		return res
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > total {
		concurrency = total
	}

	var (
		next      atomic.Int64
		completed atomic.Int64
		failed    atomic.Int64
		wg        sync.WaitGroup
	)
	next.Store(-1)

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				i := int(next.Add(1))
				if i >= total {
					return
				}
				if err := invoke(ctx, handler, items[i]); err != nil {
					failed.Add(1)
					o.logger.Warn().
						Err(err).
						Str("run", o.name).
						Int("worker", worker).
						Int("item", i).
						Msg("item failed")
					continue
				}
				completed.Add(1)
			}
		}(w)
	}
	wg.Wait()

	res.Completed = int(completed.Load())
	res.Failed = int(failed.Load())
	o.logger.Debug().
		Str("run", o.name).
		Int("completed", res.Completed).
		Int("failed", res.Failed).
		Int("total", res.Total).
		Msg("run drained")
	if o.observer != nil {
		o.observer(o.name, res)
	}
	return res
}

func invoke[T any](ctx context.Context, handler func(context.Context, T) error, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runner: handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return handler(ctx, item)
}
