package downloader

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ligustah/hfslurp/internal/metrics"
)

// Status is the terminal state of one file.
type Status string

const (
	StatusSkipped    Status = "skipped"
	StatusDownloaded Status = "downloaded"
	StatusResumed    Status = "resumed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

func (s Status) metricLabel() (metrics.OutcomeLabel, bool) {
	switch s {
	case StatusSkipped:
		return metrics.OutcomeSkipped, true
	case StatusDownloaded:
		return metrics.OutcomeDownloaded, true
	case StatusResumed:
		return metrics.OutcomeResumed, true
	case StatusFailed:
		return metrics.OutcomeFailed, true
	default:
		return "", false
	}
}

// Outcome is the result of processing one candidate file.
type Outcome struct {
	Path   string
	Status Status
	Reason string // why a file was skipped
	Size   int64  // size of the local file
	Bytes  int64  // bytes transferred in this run
	Digest string
	Err    error
}

// Summary aggregates the outcomes of a run.
type Summary struct {
	RepoID   string
	Revision string
	SaveDir  string
	RunID    string

	Total      int
	Skipped    int
	Resumed    int
	Downloaded int
	// Failed lists the paths that reached the failed state, sorted.
	Failed []string
	// Canceled counts files that never reached a terminal state.
	Canceled int

	// Errors holds the failure of every path in Failed.
	Errors map[string]error

	// Bytes is the number of bytes transferred.
	Bytes    int64
	Duration time.Duration
}

func (s *Summary) record(out Outcome) {
	switch out.Status {
	case StatusSkipped:
		s.Skipped++
	case StatusDownloaded:
		s.Downloaded++
	case StatusResumed:
		s.Resumed++
	case StatusFailed:
		s.Errors[out.Path] = out.Err
	}
	s.Bytes += out.Bytes
}

func (s *Summary) finish(d time.Duration) {
	s.Failed = sortedKeys(s.Errors)
	s.Canceled = s.Total - s.Skipped - s.Resumed - s.Downloaded - len(s.Failed)
	s.Duration = d
}

// Succeeded is the number of files that are present and verified.
func (s *Summary) Succeeded() int {
	return s.Skipped + s.Resumed + s.Downloaded
}

// OK reports whether every file succeeded.
func (s *Summary) OK() bool {
	return len(s.Failed) == 0 && s.Canceled == 0
}

// Print writes a human-readable report to w.
func (s *Summary) Print(w io.Writer) {
	dir := s.SaveDir
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	fmt.Fprintf(w, "\nDownload finished\n")
	fmt.Fprintf(w, "Repository: %s (revision: %s)\n", s.RepoID, s.Revision)
	fmt.Fprintf(w, "Saved to:   %s\n", dir)
	fmt.Fprintf(w, "Total files: %d\n", s.Total)
	fmt.Fprintf(w, "Skipped:     %d\n", s.Skipped)
	fmt.Fprintf(w, "Resumed:     %d\n", s.Resumed)
	fmt.Fprintf(w, "Downloaded:  %d\n", s.Downloaded)
	fmt.Fprintf(w, "Transferred: %s in %s\n", humanize.IBytes(uint64(s.Bytes)), s.Duration.Round(time.Millisecond))
	if s.Canceled > 0 {
		fmt.Fprintf(w, "Canceled:    %d\n", s.Canceled)
	}
	if len(s.Failed) > 0 {
		fmt.Fprintf(w, "Failed:      %d\n", len(s.Failed))
		for _, p := range s.Failed {
			fmt.Fprintf(w, "  - %s: %v\n", p, s.Errors[p])
		}
	}
}
