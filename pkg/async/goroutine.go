package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/restoreassist/pkg/observability"
)

// SafeGo runs fn in a goroutine with panic recovery and a timeout. The task
// keeps the values of parentCtx but not its cancellation, so work started
// by a request outlives the response. Errors and panics are logged.
//
// The returned channel is closed when fn has returned.
//
//	async.SafeGo(r.Context(), logger, 5*time.Second, "api key usage", func(ctx context.Context) error {
//	    return keys.LogUsage(ctx, record)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	if logger == nil {
		logger = observability.FromContext(parentCtx)
	}

	go func() {
		defer close(done)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				}).Error("background task panicked")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()

	return done
}

// Batch runs fn over items with at most workers running at once and waits
// for all of them. Each call gets its own timeout. The returned errors are
// in item order; successful items contribute nothing.
//
//	errs := async.Batch(ctx, jobs, 3, time.Minute, func(ctx context.Context, job Job) error {
//	    return job.Run(ctx)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration, fn func(context.Context, T) error) []error {
	if workers <= 0 {
		workers = 1
	}

	results := make([]error, len(items))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, item := range items {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = ctx.Err()
			continue
		}

		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					results[i] = fmt.Errorf("panic: %v", r)
				}
			}()

			taskCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[i] = fn(taskCtx, item)
		}(i, item)
	}
	wg.Wait()

	var errs []error
	for _, err := range results {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
