package fetch

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ligustah/hfslurp/internal/retry"
)

// WithSleep replaces the backoff sleep. Tests use it to observe delays.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *options) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithAbort sets a context whose cancellation aborts a running attempt.
// Without it, an attempt in progress always runs to completion.
func WithAbort(ctx context.Context) Option {
	return func(o *options) {
		o.abort = ctx
	}
}

// Retrier retries transfer attempts with backoff.
type Retrier struct {
	attempter Attempter
	policy    retry.Policy
	opts      options
}

// NewRetrier wraps attempter with policy.
func NewRetrier(attempter Attempter, policy retry.Policy, opts ...Option) *Retrier {
	o := buildOptions(opts)
	if o.sleep == nil {
		o.sleep = retry.Sleep
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Retrier{attempter: attempter, policy: policy, opts: o}
}

// Policy returns the backoff policy in use.
func (r *Retrier) Policy() retry.Policy {
	return r.policy
}

// FetchWithRetry downloads url into localPath.
//
// The first attempt resumes from the local file size when resume is true and
// truncates otherwise. Later attempts always resume from whatever the failed
// attempt left on disk, except after an integrity failure, where the bytes on
// disk are known bad and the transfer restarts from zero.
//
// Canceling ctx stops further attempts and backoff sleeps, but an attempt
// already in progress finishes unless the abort context is canceled too.
//
// Network and integrity failures are retried. I/O failures and cancellation
// are returned immediately. When every attempt fails the result is a
// *FailedError wrapping the last failure.
func (r *Retrier) FetchWithRetry(ctx context.Context, url, localPath string, resume bool, expectedDigest string) (Result, error) {
	attempts := r.policy.MaxAttempts
	fromStart := !resume

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		var offset int64
		if !fromStart {
			offset = localSize(localPath)
		}

		r.opts.progress.FileStarted(localPath, offset)
		start := time.Now()
		attemptCtx, done := r.attemptContext(ctx)
		res, err := r.attempter.Fetch(attemptCtx, url, localPath, offset, expectedDigest)
		done()
		r.opts.metrics.ObserveFetchDuration(time.Since(start), err == nil)
		if err == nil {
			if i > 0 {
				r.opts.logger.Info("download succeeded after retry",
					zap.String("path", localPath),
					zap.Int("attempt", i+1))
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if !IsRetryable(err) {
			return Result{}, err
		}

		lastErr = err
		// Bytes that failed verification are not resumed.
		fromStart = IsIntegrity(err)
		if i == attempts-1 {
			break
		}

		delay := r.policy.Delay(i)
		r.opts.logger.Warn("download attempt failed, retrying",
			zap.String("path", localPath),
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", attempts),
			zap.Duration("backoff", delay),
			zap.Error(err))
		r.opts.metrics.IncRetry(KindOf(err).String())

		if err := r.opts.sleep(ctx, delay); err != nil {
			return Result{}, err
		}
	}

	r.opts.logger.Error("download failed",
		zap.String("path", localPath),
		zap.Int("attempt", attempts),
		zap.Error(lastErr))
	return Result{}, &FailedError{Path: localPath, Attempts: attempts, Err: lastErr}
}

// attemptContext detaches an attempt from ctx cancellation. The attempt is
// only canceled through the abort context.
func (r *Retrier) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	attemptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if r.opts.abort == nil {
		return attemptCtx, cancel
	}
	stop := context.AfterFunc(r.opts.abort, cancel)
	return attemptCtx, func() {
		stop()
		cancel()
	}
}

// localSize returns the size of path, or 0 if it does not exist.
func localSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0
	}
	return info.Size()
}
