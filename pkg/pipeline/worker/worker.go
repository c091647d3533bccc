// Package worker runs slow external calls (column description requests,
// artifact uploads) on a bounded pool with retries.
package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
)

type Options struct {
	Workers        int
	MaxRetries     int
	RequestTimeout time.Duration

	// RateLimitRPS is a global limit across all workers. Set to <=0 to disable.
	RateLimitRPS float64

	// BackoffInitial is the initial sleep before retrying a transient failure.
	BackoffInitial time.Duration
	// BackoffMax caps exponential backoff.
	BackoffMax time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64
}

// Result holds the output for one input item. Output is whatever the last
// attempt returned, even when Err is set.
type Result[In any, Out any] struct {
	Input  In
	Output Out
	Err    error
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 200 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 2 * time.Second
	}
	if o.BackoffJitterFrac <= 0 {
		o.BackoffJitterFrac = 0.2
	}
	return o
}

// Errors joins the per-item failures of results, or returns nil.
func Errors[In any, Out any](results []Result[In, Out]) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// ProcessAll runs fn over every item. Item failures land in the results; the
// returned error is only set when ctx ends first.
func ProcessAll[In any, Out any](
	ctx context.Context,
	items []In,
	fn func(context.Context, In) (Out, error),
	opts Options,
) ([]Result[In, Out], error) {
	return ProcessAllWithCallback(ctx, items, fn, nil, opts)
}

// ProcessAllWithCallback is ProcessAll with onDone called once per item, in
// completion order, from the calling goroutine.
func ProcessAllWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	fn func(context.Context, In) (Out, error),
	onDone func(Result[In, Out]),
	opts Options,
) ([]Result[In, Out], error) {
	r := &retrier[In, Out]{fn: fn, opts: opts.withDefaults()}
	if r.opts.RateLimitRPS > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(r.opts.RateLimitRPS), 1)
	}

	type indexed struct {
		idx int
		res Result[In, Out]
	}
	next := make(chan int)
	done := make(chan indexed)

	var wg sync.WaitGroup
	for w := 0; w < min(r.opts.Workers, max(len(items), 1)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				out, err := r.run(ctx, items[i])
				done <- indexed{idx: i, res: Result[In, Out]{Input: items[i], Output: out, Err: err}}
			}
		}()
	}
	go func() {
		defer close(next)
		for i := range items {
			select {
			case next <- i:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	results := make([]Result[In, Out], len(items))
	for d := range done {
		results[d.idx] = d.res
		if onDone != nil {
			onDone(d.res)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

type retrier[In any, Out any] struct {
	fn      func(context.Context, In) (Out, error)
	opts    Options
	limiter *rate.Limiter
}

func (r *retrier[In, Out]) run(ctx context.Context, item In) (Out, error) {
	var out Out
	for attempt := 0; ; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return out, err
			}
		} else if err := ctx.Err(); err != nil {
			return out, err
		}

		var err error
		out, err = r.once(ctx, item)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if !isTransient(err) || attempt >= retryLimit(r.opts.MaxRetries, err) {
			return out, err
		}

		t := time.NewTimer(backoffSleep(r.opts.BackoffInitial, r.opts.BackoffMax, r.opts.BackoffJitterFrac, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return out, ctx.Err()
		}
	}
}

func (r *retrier[In, Out]) once(ctx context.Context, item In) (Out, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.opts.RequestTimeout)
	defer cancel()
	return r.fn(reqCtx, item)
}

// retryLimit lowers the configured retry count for errors that carry their
// own cap, such as a malformed model response.
func retryLimit(configured int, err error) int {
	var lte *core.LimitedTransientError
	if errors.As(err, &lte) {
		return max(0, min(configured, lte.MaxExtraRetries()))
	}
	return configured
}

func isTransient(err error) bool {
	var te *core.TransientError
	if errors.As(err, &te) {
		return true
	}
	var lte *core.LimitedTransientError
	if errors.As(err, &lte) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func backoffSleep(initial, ceiling time.Duration, jitterFrac float64, attempt int) time.Duration {
	sleep := initial
	for i := 0; i < attempt && sleep < ceiling; i++ {
		sleep = min(sleep*2, ceiling)
	}
	if jitterFrac <= 0 {
		return sleep
	}
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(sleep) * j)
}
