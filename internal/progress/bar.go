package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Bar renders a terminal progress bar counting finished files, with the
// transferred byte count in the description.
type Bar struct {
	out     io.Writer
	bar     *progressbar.ProgressBar
	bytes   atomic.Int64
	failed  atomic.Int64
	once    sync.Once
	stopped atomic.Bool
}

// NewBar creates a bar reporter writing to out (default os.Stderr).
func NewBar(out io.Writer) *Bar {
	if out == nil {
		out = os.Stderr
	}
	return &Bar{out: out}
}

// Start creates the bar for totalFiles files.
func (b *Bar) Start(totalFiles int) {
	b.once.Do(func() {
		b.bar = progressbar.NewOptions64(int64(totalFiles),
			progressbar.OptionSetWriter(b.out),
			progressbar.OptionSetDescription(b.describe()),
			progressbar.OptionShowCount(),
			progressbar.OptionSetElapsedTime(true),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionEnableColorCodes(false),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(b.out) }),
		)
	})
}

func (b *Bar) FileStarted(string, int64) {}

// BytesWritten updates the byte counter shown in the description.
func (b *Bar) BytesWritten(_ string, n int64) {
	b.bytes.Add(n)
	if b.bar != nil && !b.stopped.Load() {
		b.bar.Describe(b.describe())
	}
}

// FileFinished advances the bar by one file.
func (b *Bar) FileFinished(path string, status string, err error) {
	if err != nil {
		b.failed.Add(1)
	}
	if b.bar == nil || b.stopped.Load() {
		return
	}
	b.bar.Describe(b.describe())
	_ = b.bar.Add(1)
}

// Stop finishes the bar.
func (b *Bar) Stop() {
	if b.bar == nil || !b.stopped.CompareAndSwap(false, true) {
		return
	}
	if !b.bar.IsFinished() {
		_ = b.bar.Finish()
	}
}

func (b *Bar) describe() string {
	desc := "[hfslurp] " + FormatBytes(b.bytes.Load())
	if f := b.failed.Load(); f > 0 {
		desc += fmt.Sprintf(" | %d failed", f)
	}
	return desc
}
