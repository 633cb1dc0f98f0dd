package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocloud.dev/blob"

	"github.com/ligustah/hfslurp/internal/checksum"
	"github.com/ligustah/hfslurp/internal/fetch"
	hfhttp "github.com/ligustah/hfslurp/internal/http"
	"github.com/ligustah/hfslurp/internal/hub"
	"github.com/ligustah/hfslurp/internal/metrics"
	"github.com/ligustah/hfslurp/internal/progress"
	"github.com/ligustah/hfslurp/internal/retry"
	"github.com/ligustah/hfslurp/internal/state"
)

// DefaultWorkers is the worker count used when Options.Workers is unset.
const DefaultWorkers = 4

// ErrStatePersist is returned when a completed file could not be recorded.
// It aborts the run.
var ErrStatePersist = errors.New("downloader: persist state")

// ErrUnsafePath is reported for candidate paths that escape the save directory.
var ErrUnsafePath = errors.New("downloader: path escapes save directory")

// Fetcher downloads one file with retries.
type Fetcher interface {
	FetchWithRetry(ctx context.Context, url, localPath string, resume bool, expectedDigest string) (fetch.Result, error)
}

// Options configures a run.
type Options struct {
	// RepoID is the repository identifier, e.g. "org/model".
	RepoID string

	// Revision is the branch, tag or commit. Default: "main"
	Revision string

	// SaveDir is where files and the state record are written. Default: "."
	SaveDir string

	// Workers is the number of parallel downloads. Default: 4
	Workers int

	// Resume continues partial local files instead of truncating them.
	Resume bool

	// URLs builds the download URL of each path.
	URLs hub.URLBuilder

	// Bucket holds the state record. Default: a file bucket on SaveDir.
	Bucket *blob.Bucket

	// Fetcher performs transfers. Default: a Retrier built from
	// HTTPOptions and Retry.
	Fetcher Fetcher

	// HTTPOptions configures the default fetcher's HTTP client.
	HTTPOptions hfhttp.Options

	// Retry is the default fetcher's backoff policy.
	Retry retry.Policy

	// Abort, when canceled, interrupts transfers in progress. Canceling the
	// context passed to Run only stops dispatching; files already being
	// transferred finish their current attempt.
	Abort context.Context

	// Progress is an optional progress reporter.
	Progress progress.Reporter

	// Metrics is an optional metrics recorder.
	Metrics metrics.Recorder

	// Logger is an optional logger.
	Logger *zap.Logger

	// RunID tags log lines of this run. Default: a random UUID.
	RunID string
}

func (o Options) withDefaults() (Options, error) {
	if o.RepoID == "" {
		return o, errors.New("downloader: repo id is required")
	}
	if o.URLs == nil {
		return o, errors.New("downloader: url builder is required")
	}
	if o.Revision == "" {
		o.Revision = "main"
	}
	if o.SaveDir == "" {
		o.SaveDir = "."
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Progress == nil {
		o.Progress = progress.Noop{}
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NoopRecorder{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	if o.Fetcher == nil {
		if o.HTTPOptions.Timeout == 0 {
			o.HTTPOptions = hfhttp.DefaultOptions()
		}
		if o.Retry.MaxAttempts == 0 {
			o.Retry = retry.DefaultPolicy()
		}
		client := hfhttp.NewClient(o.HTTPOptions)
		fopts := []fetch.Option{
			fetch.WithProgress(o.Progress),
			fetch.WithMetrics(o.Metrics),
			fetch.WithLogger(o.Logger),
		}
		o.Fetcher = fetch.NewRetrier(fetch.NewFetcher(client, fopts...), o.Retry, append(fopts, fetch.WithAbort(o.Abort))...)
	}
	return o, nil
}

// job is one file assigned to a worker.
type job struct {
	path      string
	url       string
	localPath string
	expected  string
}

// Run downloads candidates of opts.RepoID into opts.SaveDir and blocks until
// every dispatched file reaches a terminal outcome.
//
// Per-file failures are reported in the Summary. The returned error is
// non-nil only when the state could not be persisted or ctx was canceled;
// the Summary is valid in both cases.
//
// Canceling ctx stops dispatching. Workers finish the attempt they are in,
// record it if it succeeded and then exit; see Options.Abort.
func Run(ctx context.Context, candidates []string, opts Options) (*Summary, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	logger := opts.Logger.With(
		zap.String("run_id", opts.RunID),
		zap.String("repo", opts.RepoID),
		zap.String("revision", opts.Revision),
	)

	bucket := opts.Bucket
	if bucket == nil {
		bucket, err = state.OpenDir(opts.SaveDir)
		if err != nil {
			return nil, err
		}
		defer bucket.Close()
	}

	store, err := state.Open(ctx, bucket, state.StateKey(opts.RepoID), state.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStatePersist, err)
	}
	if _, err := store.Reconcile(ctx, opts.RepoID, opts.Revision); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStatePersist, err)
	}

	files := FilterCandidates(candidates)
	summary := &Summary{
		RepoID:   opts.RepoID,
		Revision: opts.Revision,
		SaveDir:  opts.SaveDir,
		RunID:    opts.RunID,
		Total:    len(files),
		Errors:   make(map[string]error),
	}
	logger.Info("starting download",
		zap.Int("files", len(files)),
		zap.Int("filtered", len(candidates)-len(files)),
		zap.Int("workers", opts.Workers),
		zap.Bool("resume", opts.Resume))

	opts.Progress.Start(len(files))
	defer opts.Progress.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan job, opts.Workers)
	outcomes := make(chan Outcome, opts.Workers)
	var wg sync.WaitGroup
	var inFlight atomic.Int64

	// Start workers
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				opts.Metrics.SetInFlight(int(inFlight.Add(1)))
				outcomes <- process(runCtx, j, store, opts)
				opts.Metrics.SetInFlight(int(inFlight.Add(-1)))
			}
		}()
	}

	// Feed jobs to workers, resolving skips before dispatch
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobs)
		for _, p := range files {
			if runCtx.Err() != nil {
				return
			}
			j, out, dispatch := prepare(p, store, opts)
			if !dispatch {
				outcomes <- out
				continue
			}
			select {
			case jobs <- j:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var fatal error
	for out := range outcomes {
		summary.record(out)
		opts.Progress.FileFinished(out.Path, string(out.Status), out.Err)
		logOutcome(logger, out)
		if label, ok := out.Status.metricLabel(); ok {
			opts.Metrics.IncFileOutcome(label)
		}
		if errors.Is(out.Err, ErrStatePersist) && fatal == nil {
			fatal = out.Err
			cancel()
		}
	}

	summary.finish(time.Since(start))
	opts.Metrics.ObserveRunDuration(summary.Duration)

	switch {
	case fatal != nil:
		logger.Error("state persistence failed, run aborted", zap.Error(fatal))
		return summary, fatal
	case ctx.Err() != nil:
		logger.Warn("run canceled", zap.Int("unfinished", summary.Canceled))
		return summary, ctx.Err()
	}
	logger.Info("download finished",
		zap.Int("skipped", summary.Skipped),
		zap.Int("resumed", summary.Resumed),
		zap.Int("downloaded", summary.Downloaded),
		zap.Int("failed", len(summary.Failed)),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// prepare decides whether p can be skipped. It returns the job to dispatch,
// or a terminal outcome when dispatch is false.
//
// It runs on the feeder goroutine, so a re-run over many recorded files
// digests them one at a time while workers wait for the first job to fetch.
func prepare(p string, store *state.Store, opts Options) (job, Outcome, bool) {
	localPath, err := LocalPath(opts.SaveDir, p)
	if err != nil {
		return job{}, Outcome{Path: p, Status: StatusFailed, Err: err}, false
	}

	rec, ok := store.Lookup(p)
	if ok {
		if match, reason := matchesRecord(localPath, rec); match {
			return job{}, Outcome{Path: p, Status: StatusSkipped, Reason: reason, Size: rec.Size, Digest: rec.MD5}, false
		}
	}

	url, err := opts.URLs.FileURL(opts.RepoID, opts.Revision, p)
	if err != nil {
		return job{}, Outcome{Path: p, Status: StatusFailed, Err: err}, false
	}
	j := job{path: p, url: url, localPath: localPath}
	if ok {
		j.expected = rec.MD5
	}
	return j, Outcome{}, true
}

// matchesRecord reports whether the file at localPath still has the recorded
// size and digest.
func matchesRecord(localPath string, rec state.FileRecord) (bool, string) {
	info, err := os.Stat(localPath)
	if err != nil || !info.Mode().IsRegular() {
		return false, ""
	}
	if info.Size() != rec.Size {
		return false, ""
	}
	digest, err := checksum.File(localPath)
	if err != nil {
		return false, ""
	}
	if !checksum.Equal(digest, rec.MD5) {
		return false, ""
	}
	return true, "unchanged"
}

// process runs one job and records its result.
func process(ctx context.Context, j job, store *state.Store, opts Options) Outcome {
	res, err := opts.Fetcher.FetchWithRetry(ctx, j.url, j.localPath, opts.Resume, j.expected)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Path: j.path, Status: StatusCanceled, Err: err}
		}
		return Outcome{Path: j.path, Status: StatusFailed, Err: err}
	}

	// Records of completed files survive cancellation.
	if _, err := store.Update(context.WithoutCancel(ctx), j.path, res.TotalSize, res.Digest); err != nil {
		return Outcome{Path: j.path, Status: StatusFailed, Err: fmt.Errorf("%w: %w", ErrStatePersist, err)}
	}

	status := StatusDownloaded
	if res.Status == fetch.StatusResumed {
		status = StatusResumed
	}
	return Outcome{
		Path:   j.path,
		Status: status,
		Size:   res.TotalSize,
		Bytes:  res.BytesWritten,
		Digest: res.Digest,
	}
}

func logOutcome(logger *zap.Logger, out Outcome) {
	switch out.Status {
	case StatusFailed:
		logger.Error("file failed", zap.String("path", out.Path), zap.Error(out.Err))
	case StatusCanceled:
		logger.Debug("file canceled", zap.String("path", out.Path))
	default:
		logger.Debug("file done",
			zap.String("path", out.Path),
			zap.String("status", string(out.Status)),
			zap.Int64("bytes", out.Bytes))
	}
}

// FilterCandidates drops directory markers and version-control metadata,
// preserving the order of the remaining paths.
func FilterCandidates(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" || strings.HasSuffix(p, "/") || strings.Contains(p, ".git") {
			continue
		}
		out = append(out, p)
	}
	return out
}

// LocalPath returns where remote path p is stored under saveDir.
func LocalPath(saveDir, p string) (string, error) {
	rel := filepath.FromSlash(p)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, p)
	}
	return filepath.Join(saveDir, rel), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
