// Package runner drives a constant number of virtual users, each running
// one iteration after another for a fixed duration.
package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis-performance/grpc-cache-loadtest/internal/keyspace"
	"golang.org/x/time/rate"
)

const DefaultGracefulStop = 30 * time.Second

type Options struct {
	VUs      int
	Duration time.Duration
	// GracefulStop is how long in-flight iterations may run once the
	// duration is over before their context is cancelled.
	GracefulStop time.Duration
	// RPS caps iterations per second across all VUs; 0 is unlimited.
	RPS int
	// StartDelay staggers VU start to avoid a connection storm.
	StartDelay time.Duration
}

func (o Options) Validate() error {
	switch {
	case o.VUs < 1:
		return errors.New("vus must be at least 1")
	case o.Duration <= 0:
		return errors.New("duration must be positive")
	case o.GracefulStop < 0:
		return errors.New("graceful stop must not be negative")
	case o.RPS < 0:
		return errors.New("rps must not be negative")
	}
	return nil
}

// Func is one iteration. ctx is cancelled when the graceful stop expires.
type Func func(ctx context.Context, cc keyspace.ClientContext)

type Summary struct {
	// Iterations that returned before the graceful stop expired.
	Iterations int64
	// Interrupted iterations were still running when their context was
	// cancelled.
	Interrupted int64
	Elapsed     time.Duration
	// Cancelled is set when the parent context ended the run early.
	Cancelled bool
}

// Run blocks until every VU has stopped. VU n runs with ClientID n
// (1-based) and IterationIDs 0, 1, 2, ...
func Run(ctx context.Context, opts Options, fn Func) (Summary, error) {
	if err := opts.Validate(); err != nil {
		return Summary{}, err
	}

	start := time.Now()
	// Iterations outlive the scheduling window, and a cancelled parent
	// still gets the graceful stop.
	iterCtx, cancelIter := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelIter()
	schedCtx, cancelSched := context.WithTimeout(ctx, opts.Duration)
	defer cancelSched()

	var (
		wg          sync.WaitGroup
		iterations  atomic.Int64
		interrupted atomic.Int64
	)

	for vu := 1; vu <= opts.VUs; vu++ {
		var limiter *rate.Limiter
		if opts.RPS > 0 {
			clientRPS := float64(opts.RPS) / float64(opts.VUs)
			limiter = rate.NewLimiter(rate.Limit(clientRPS), 1)
		}

		if opts.StartDelay > 0 && vu > 1 {
			select {
			case <-schedCtx.Done():
			case <-time.After(opts.StartDelay):
			}
		}
		if schedCtx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			for iter := int64(0); ; iter++ {
				if schedCtx.Err() != nil {
					return
				}
				if limiter != nil {
					if err := limiter.Wait(schedCtx); err != nil {
						return
					}
				}
				fn(iterCtx, keyspace.ClientContext{ClientID: clientID, IterationID: iter})
				if iterCtx.Err() != nil {
					interrupted.Add(1)
					return
				}
				iterations.Add(1)
			}
		}(vu)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-schedCtx.Done():
		timer := time.NewTimer(opts.GracefulStop)
		select {
		case <-done:
			timer.Stop()
		case <-timer.C:
			cancelIter()
			<-done
		}
	}

	return Summary{
		Iterations:  iterations.Load(),
		Interrupted: interrupted.Load(),
		Elapsed:     time.Since(start),
		Cancelled:   ctx.Err() != nil,
	}, nil
}
