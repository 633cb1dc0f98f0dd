package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ligustah/hfslurp/internal/checksum"
	hfhttp "github.com/ligustah/hfslurp/internal/http"
	"github.com/ligustah/hfslurp/internal/metrics"
	"github.com/ligustah/hfslurp/internal/progress"
)

// bufferSize is the size of each write to disk.
const bufferSize = 32 * 1024

// Status describes how a file was obtained.
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusResumed    Status = "resumed"
)

// Result describes a completed transfer.
type Result struct {
	LocalPath    string
	Status       Status
	BytesWritten int64  // bytes received in this attempt
	TotalSize    int64  // size of the local file afterwards
	Digest       string // md5 of the local file
}

// Getter opens a download stream starting at offset.
type Getter interface {
	GetFrom(ctx context.Context, url string, offset int64) (*hfhttp.Response, error)
}

// Attempter performs a single transfer attempt.
type Attempter interface {
	Fetch(ctx context.Context, url, localPath string, resumeFrom int64, expectedDigest string) (Result, error)
}

// Option configures a Fetcher or Retrier.
type Option func(*options)

type options struct {
	progress progress.Reporter
	metrics  metrics.Recorder
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
	abort    context.Context
}

// WithProgress sets the reporter receiving byte counts.
func WithProgress(r progress.Reporter) Option {
	return func(o *options) {
		if r != nil {
			o.progress = r
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		progress: progress.Noop{},
		metrics:  metrics.NoopRecorder{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Fetcher performs single transfer attempts.
type Fetcher struct {
	client Getter
	opts   options
}

// NewFetcher creates a Fetcher using client for requests.
func NewFetcher(client Getter, opts ...Option) *Fetcher {
	return &Fetcher{client: client, opts: buildOptions(opts)}
}

// Fetch transfers url into localPath.
//
// With resumeFrom > 0 the file is opened for append and only the bytes from
// that offset are requested. If the server ignores the range the file is
// truncated and written from the start.
//
// A 416 response means the local file is at least as long as the remote one.
// When the announced size equals resumeFrom and expectedDigest is set, the
// file is taken as complete and only verified. In every other case the
// local bytes cannot be trusted and the transfer restarts from zero.
//
// If expectedDigest is non-empty the finished file must match it.
func (f *Fetcher) Fetch(ctx context.Context, url, localPath string, resumeFrom int64, expectedDigest string) (Result, error) {
	if resumeFrom < 0 {
		resumeFrom = 0
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return Result{}, ioError(localPath, fmt.Errorf("create directory: %w", err))
	}

	var (
		written  int64
		total    int64 = -1
		complete bool
	)
	resumed := resumeFrom > 0

	resp, err := f.client.GetFrom(ctx, url, resumeFrom)
	var rnse *hfhttp.RangeNotSatisfiableError
	if resumeFrom > 0 && errors.As(err, &rnse) {
		if rnse.Total == resumeFrom && expectedDigest != "" {
			complete = true
		} else {
			f.opts.logger.Warn("local file does not fit remote size, restarting from zero",
				zap.String("path", localPath),
				zap.Int64("local_bytes", resumeFrom),
				zap.Int64("remote_bytes", rnse.Total))
			resumeFrom = 0
			resumed = false
			resp, err = f.client.GetFrom(ctx, url, 0)
		}
	}

	switch {
	case complete:
		f.opts.logger.Debug("file already complete",
			zap.String("path", localPath),
			zap.Int64("bytes", resumeFrom))
	case err == nil:
		total = resp.Total
		written, err = f.stream(ctx, resp, localPath, resumeFrom)
		if err != nil {
			return Result{}, err
		}
		if !resp.Partial {
			resumed = false
		}
	default:
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, networkError(localPath, err)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return Result{}, ioError(localPath, err)
	}
	if total >= 0 && info.Size() != total {
		return Result{}, networkError(localPath,
			fmt.Errorf("%w: local %d bytes, remote %d bytes", ErrSizeMismatch, info.Size(), total))
	}

	digest, err := checksum.File(localPath)
	if err != nil {
		return Result{}, ioError(localPath, err)
	}
	if expectedDigest != "" && !checksum.Equal(digest, expectedDigest) {
		return Result{}, integrityError(localPath,
			fmt.Errorf("%w: expected %s, got %s", ErrDigestMismatch, expectedDigest, digest))
	}

	status := StatusDownloaded
	if resumed {
		status = StatusResumed
	}
	return Result{
		LocalPath:    localPath,
		Status:       status,
		BytesWritten: written,
		TotalSize:    info.Size(),
		Digest:       digest,
	}, nil
}

// stream writes the response body to localPath and closes it.
func (f *Fetcher) stream(ctx context.Context, resp *hfhttp.Response, localPath string, offset int64) (int64, error) {
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	if resp.Partial && offset > 0 {
		flags |= os.O_APPEND
	} else {
		if offset > 0 {
			f.opts.logger.Warn("server ignored range request, restarting from zero",
				zap.String("path", localPath),
				zap.Int64("offset", offset))
		}
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(localPath, flags, 0o644)
	if err != nil {
		return 0, ioError(localPath, fmt.Errorf("open: %w", err))
	}

	written, err := f.copy(ctx, file, resp.Body, localPath)
	if cerr := file.Close(); cerr != nil && err == nil {
		err = ioError(localPath, fmt.Errorf("close: %w", cerr))
	}
	if err != nil {
		return written, err
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		return written, networkError(localPath,
			fmt.Errorf("short body: got %d of %d bytes: %w", written, resp.ContentLength, io.ErrUnexpectedEOF))
	}
	return written, nil
}

func (f *Fetcher) copy(ctx context.Context, dst io.Writer, src io.Reader, localPath string) (int64, error) {
	buf := make([]byte, bufferSize)
	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			if nw > 0 {
				written += int64(nw)
				f.opts.progress.BytesWritten(localPath, int64(nw))
				f.opts.metrics.AddBytes(int64(nw))
			}
			if werr != nil {
				return written, ioError(localPath, fmt.Errorf("write: %w", werr))
			}
			if nw != nr {
				return written, ioError(localPath, io.ErrShortWrite)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			return written, networkError(localPath, fmt.Errorf("read body: %w", rerr))
		}
	}
}
