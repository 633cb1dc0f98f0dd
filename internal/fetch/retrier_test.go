package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ligustah/hfslurp/internal/retry"
)

type attemptCall struct {
	offset   int64
	expected string
}

// scriptedAttempter returns errs in order, then succeeds.
type scriptedAttempter struct {
	mu    sync.Mutex
	errs  []error
	calls []attemptCall
	// before runs ahead of each attempt, e.g. to leave bytes on disk.
	before func(localPath string, call int)
}

func (s *scriptedAttempter) Fetch(_ context.Context, _ string, localPath string, resumeFrom int64, expected string) (Result, error) {
	s.mu.Lock()
	n := len(s.calls)
	s.calls = append(s.calls, attemptCall{offset: resumeFrom, expected: expected})
	s.mu.Unlock()

	if s.before != nil {
		s.before(localPath, n)
	}
	if n < len(s.errs) {
		return Result{}, s.errs[n]
	}
	status := StatusDownloaded
	if resumeFrom > 0 {
		status = StatusResumed
	}
	return Result{LocalPath: localPath, Status: status}, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func TestRetrySucceedsOnThirdAttempt(t *testing.T) {
	sleeper := &sleepRecorder{}
	att := &scriptedAttempter{errs: []error{
		networkError("f", errors.New("connection reset")),
		networkError("f", errors.New("timeout")),
	}}
	r := NewRetrier(att, retry.DefaultPolicy(), WithSleep(sleeper.Sleep), WithLogger(zaptest.NewLogger(t)))

	res, err := r.FetchWithRetry(context.Background(), "http://x", filepath.Join(t.TempDir(), "f"), true, "")
	require.NoError(t, err)
	assert.Equal(t, StatusDownloaded, res.Status)
	assert.Len(t, att.calls, 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
}

func TestRetryExhausted(t *testing.T) {
	sleeper := &sleepRecorder{}
	last := networkError("f", errors.New("third"))
	att := &scriptedAttempter{errs: []error{
		networkError("f", errors.New("first")),
		integrityError("f", ErrDigestMismatch),
		last,
	}}
	r := NewRetrier(att, retry.DefaultPolicy(), WithSleep(sleeper.Sleep))

	_, err := r.FetchWithRetry(context.Background(), "http://x", filepath.Join(t.TempDir(), "f"), true, "abc")
	require.Error(t, err)

	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 3, failed.Attempts)
	assert.Same(t, last, failed.Err)
	assert.Len(t, att.calls, 3)
	assert.Len(t, sleeper.delays, 2, "no sleep after the final attempt")
	for _, c := range att.calls {
		assert.Equal(t, "abc", c.expected)
	}
}

func TestRetryDoesNotRetryIOErrors(t *testing.T) {
	sleeper := &sleepRecorder{}
	att := &scriptedAttempter{errs: []error{ioError("f", os.ErrPermission)}}
	r := NewRetrier(att, retry.DefaultPolicy(), WithSleep(sleeper.Sleep))

	_, err := r.FetchWithRetry(context.Background(), "http://x", filepath.Join(t.TempDir(), "f"), true, "")
	require.Error(t, err)
	assert.True(t, IsIO(err))
	assert.ErrorIs(t, err, os.ErrPermission)

	var failed *FailedError
	assert.False(t, errors.As(err, &failed))
	assert.Len(t, att.calls, 1)
	assert.Empty(t, sleeper.delays)
}

func TestRetryResumesFromBytesOnDisk(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "f")
	att := &scriptedAttempter{
		errs: []error{networkError("f", errors.New("reset"))},
		before: func(localPath string, call int) {
			if call == 0 {
				_ = os.WriteFile(localPath, make([]byte, 500), 0o644)
			}
		},
	}
	r := NewRetrier(att, retry.DefaultPolicy(), WithSleep((&sleepRecorder{}).Sleep))

	res, err := r.FetchWithRetry(context.Background(), "http://x", dest, true, "")
	require.NoError(t, err)
	assert.Equal(t, StatusResumed, res.Status)
	require.Len(t, att.calls, 2)
	assert.Equal(t, int64(0), att.calls[0].offset)
	assert.Equal(t, int64(500), att.calls[1].offset)
}

func TestRetryResumeDisabledTruncatesFirstAttemptOnly(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(dest, make([]byte, 100), 0o644))

	att := &scriptedAttempter{
		errs: []error{networkError("f", errors.New("reset"))},
		before: func(localPath string, call int) {
			if call == 0 {
				_ = os.WriteFile(localPath, make([]byte, 40), 0o644)
			}
		},
	}
	r := NewRetrier(att, retry.DefaultPolicy(), WithSleep((&sleepRecorder{}).Sleep))

	_, err := r.FetchWithRetry(context.Background(), "http://x", dest, false, "")
	require.NoError(t, err)
	require.Len(t, att.calls, 2)
	assert.Equal(t, int64(0), att.calls[0].offset)
	assert.Equal(t, int64(40), att.calls[1].offset)
}

func TestRetryRestartsAfterIntegrityFailure(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(dest, make([]byte, 100), 0o644))

	att := &scriptedAttempter{errs: []error{integrityError("f", ErrDigestMismatch)}}
	r := NewRetrier(att, retry.DefaultPolicy(), WithSleep((&sleepRecorder{}).Sleep))

	_, err := r.FetchWithRetry(context.Background(), "http://x", dest, true, "abc")
	require.NoError(t, err)
	require.Len(t, att.calls, 2)
	assert.Equal(t, int64(100), att.calls[0].offset)
	assert.Equal(t, int64(0), att.calls[1].offset)
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	att := &scriptedAttempter{errs: []error{
		networkError("f", errors.New("one")),
		networkError("f", errors.New("two")),
	}}
	sleep := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	r := NewRetrier(att, retry.DefaultPolicy(), WithSleep(sleep))

	_, err := r.FetchWithRetry(ctx, "http://x", filepath.Join(t.TempDir(), "f"), true, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, att.calls, 1)
}

func TestRetryResumesAfterAbortedStream(t *testing.T) {
	content := testContent(256 * 1024)
	half := len(content) / 2

	var (
		mu     sync.Mutex
		ranges []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ranges = append(ranges, r.Header.Get("Range"))
		first := len(ranges) == 1
		mu.Unlock()

		if first {
			w.Header().Set("Content-Length", "262144")
			w.WriteHeader(http.StatusOK)
			w.Write(content[:half])
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler)
		}
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	sleeper := &sleepRecorder{}
	reporter := &recordingReporter{}
	dest := filepath.Join(t.TempDir(), "file.bin")
	r := NewRetrier(NewFetcher(newClient(), WithProgress(reporter)), retry.DefaultPolicy(),
		WithSleep(sleeper.Sleep), WithProgress(reporter))

	res, err := r.FetchWithRetry(context.Background(), srv.URL, dest, true, md5Hex(content))
	require.NoError(t, err)

	assert.Equal(t, StatusResumed, res.Status)
	assert.Equal(t, int64(len(content)), res.TotalSize)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.delays)

	mu.Lock()
	require.Len(t, ranges, 2)
	assert.Equal(t, "", ranges[0])
	assert.Equal(t, "bytes=131072-", ranges[1])
	mu.Unlock()
	assert.Equal(t, []int64{0, int64(half)}, reporter.offsets)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

type attemptFunc func(ctx context.Context, localPath string, resumeFrom int64) (Result, error)

func (f attemptFunc) Fetch(ctx context.Context, _ string, localPath string, resumeFrom int64, _ string) (Result, error) {
	return f(ctx, localPath, resumeFrom)
}

func TestRetryFinishesAttemptInProgressOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	att := attemptFunc(func(attemptCtx context.Context, localPath string, _ int64) (Result, error) {
		calls++
		cancel()
		// The attempt keeps running after the caller stops the run.
		assert.NoError(t, attemptCtx.Err())
		return Result{LocalPath: localPath, Status: StatusDownloaded}, nil
	})
	r := NewRetrier(att, retry.DefaultPolicy(), WithSleep((&sleepRecorder{}).Sleep))

	res, err := r.FetchWithRetry(ctx, "http://x", filepath.Join(t.TempDir(), "f"), true, "")
	require.NoError(t, err)
	assert.Equal(t, StatusDownloaded, res.Status)
	assert.Equal(t, 1, calls)
}

func TestRetryNoNewAttemptAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	att := attemptFunc(func(context.Context, string, int64) (Result, error) {
		calls++
		cancel()
		return Result{}, networkError("f", errors.New("reset by peer"))
	})
	r := NewRetrier(att, retry.DefaultPolicy(), WithSleep((&sleepRecorder{}).Sleep))

	_, err := r.FetchWithRetry(ctx, "http://x", filepath.Join(t.TempDir(), "f"), true, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)

	_, err = r.FetchWithRetry(ctx, "http://x", filepath.Join(t.TempDir(), "f"), true, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "no attempt starts once canceled")
}

func TestRetryAbortStopsAttemptInProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	abort, abortNow := context.WithCancel(context.Background())
	defer abortNow()

	att := attemptFunc(func(attemptCtx context.Context, _ string, _ int64) (Result, error) {
		cancel()
		abortNow()
		<-attemptCtx.Done()
		return Result{}, attemptCtx.Err()
	})
	r := NewRetrier(att, retry.DefaultPolicy(), WithSleep((&sleepRecorder{}).Sleep), WithAbort(abort))

	_, err := r.FetchWithRetry(ctx, "http://x", filepath.Join(t.TempDir(), "f"), true, "")
	assert.ErrorIs(t, err, context.Canceled)
}
