package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Reporter receives transfer events from download workers.
// Implementations must be safe for concurrent use.
type Reporter interface {
	// Start is called once with the number of files that will be processed.
	Start(totalFiles int)
	// FileStarted is called when a transfer attempt begins at offset.
	FileStarted(path string, offset int64)
	// BytesWritten is called as bytes of path reach the disk.
	BytesWritten(path string, n int64)
	// FileFinished is called once per file with its terminal status.
	FileFinished(path string, status string, err error)
	// Stop flushes any output. It is safe to call more than once.
	Stop()
}

// Noop is a Reporter that does nothing.
type Noop struct{}

func (Noop) Start(int)                         {}
func (Noop) FileStarted(string, int64)         {}
func (Noop) BytesWritten(string, int64)        {}
func (Noop) FileFinished(string, string, error) {}
func (Noop) Stop()                             {}

// Options configures the text reporter.
type Options struct {
	// Repo is the repository being downloaded (for display).
	Repo string

	// Workers is the number of parallel workers.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 2s
	UpdateInterval time.Duration
}

// Text outputs human-readable progress lines at a fixed interval.
type Text struct {
	opts Options

	totalFiles    atomic.Int64
	bytes         atomic.Int64
	finishedFiles atomic.Int64
	failedFiles   atomic.Int64
	inProgress    atomic.Int64

	mu        sync.Mutex
	active    map[string]bool
	startTime time.Time
	lastTime  time.Time
	lastBytes int64
	started   bool
	stopped   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewText creates a new text reporter.
func NewText(opts Options) *Text {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 2 * time.Second
	}
	return &Text{
		opts:   opts,
		active: make(map[string]bool),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start prints the header and begins periodic updates.
func (r *Text) Start(totalFiles int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.totalFiles.Store(int64(totalFiles))
	r.startTime = time.Now()
	r.lastTime = r.startTime

	fmt.Fprintf(r.opts.Output, "[hfslurp] Downloading: %s | Files: %d | Workers: %d\n",
		r.opts.Repo, totalFiles, r.opts.Workers)

	go r.updateLoop()
}

// FileStarted marks a file as in progress. Retries of the same file do not
// count twice.
func (r *Text) FileStarted(path string, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active[path] {
		r.active[path] = true
		r.inProgress.Add(1)
	}
}

// BytesWritten adds n to the transferred byte count.
func (r *Text) BytesWritten(_ string, n int64) {
	r.bytes.Add(n)
}

// FileFinished marks a file as done.
func (r *Text) FileFinished(path string, status string, err error) {
	r.mu.Lock()
	if r.active[path] {
		delete(r.active, path)
		r.inProgress.Add(-1)
	}
	r.mu.Unlock()

	r.finishedFiles.Add(1)
	if err != nil {
		r.failedFiles.Add(1)
	}
}

// Stop stops periodic updates and prints the final status.
func (r *Text) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// updateLoop periodically updates the progress display.
func (r *Text) updateLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Text) printProgress() {
	now := time.Now()
	completed := r.bytes.Load()

	// Calculate speed
	elapsed := now.Sub(r.lastTime).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed
	r.lastTime = now
	r.lastBytes = completed

	fmt.Fprintf(r.opts.Output, "[hfslurp] Progress: %d/%d files | %s | Speed: %s/s | %d in-progress\n",
		r.finishedFiles.Load(),
		r.totalFiles.Load(),
		FormatBytes(completed),
		FormatBytes(int64(speed)),
		r.inProgress.Load(),
	)
}

// printFinalStatus outputs the final status.
func (r *Text) printFinalStatus() {
	completed := r.bytes.Load()
	duration := time.Since(r.startTime)
	avgSpeed := float64(completed) / duration.Seconds()

	fmt.Fprintf(r.opts.Output, "[hfslurp] Files: %d done (%d failed) | %s in %s | Average speed: %s/s\n",
		r.finishedFiles.Load(),
		r.failedFiles.Load(),
		FormatBytes(completed),
		FormatDuration(duration),
		FormatBytes(int64(avgSpeed)),
	)
}
