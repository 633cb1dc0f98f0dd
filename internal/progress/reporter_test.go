package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{256 * 1024 * 1024, "256 MiB"},
		{1024 * 1024 * 1024, "1.0 GiB"},
		{1024 * 1024 * 1024 * 1024, "1.0 TiB"},
		{2.5 * 1024 * 1024 * 1024 * 1024, "2.5 TiB"},
	}

	for _, tt := range tests {
		result := FormatBytes(tt.input)
		if result != tt.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"100", 100},
		{"100B", 100},
		{"1KiB", 1024},
		{"1.5KiB", 1536},
		{"256MiB", 256 * 1024 * 1024},
		{"1GiB", 1024 * 1024 * 1024},
		{"1TiB", 1024 * 1024 * 1024 * 1024},
		// SI units
		{"1KB", 1000},
		{"1MB", 1000 * 1000},
		{"1GB", 1000 * 1000 * 1000},
	}

	for _, tt := range tests {
		result, err := ParseBytes(tt.input)
		if err != nil {
			t.Errorf("ParseBytes(%q): %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("ParseBytes(%q) = %d, want %d", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytesInvalid(t *testing.T) {
	_, err := ParseBytes("invalid")
	if err == nil {
		t.Error("expected error for invalid input")
	}
}

func TestTextFileTracking(t *testing.T) {
	reporter := NewText(Options{
		Repo:           "org/model",
		Workers:        2,
		UpdateInterval: 100 * time.Millisecond,
		Output:         &bytes.Buffer{},
	})

	// Tracking works without starting the reporter
	reporter.FileStarted("a.bin", 0)
	if reporter.inProgress.Load() != 1 {
		t.Errorf("expected 1 in-progress, got %d", reporter.inProgress.Load())
	}

	// A retry of the same file is not counted twice
	reporter.FileStarted("a.bin", 128)
	if reporter.inProgress.Load() != 1 {
		t.Errorf("expected 1 in-progress after retry, got %d", reporter.inProgress.Load())
	}

	reporter.BytesWritten("a.bin", 256)
	reporter.FileFinished("a.bin", "downloaded", nil)
	if reporter.inProgress.Load() != 0 {
		t.Errorf("expected 0 in-progress after finish, got %d", reporter.inProgress.Load())
	}
	if reporter.finishedFiles.Load() != 1 {
		t.Errorf("expected 1 finished, got %d", reporter.finishedFiles.Load())
	}
	if reporter.bytes.Load() != 256 {
		t.Errorf("expected 256 bytes, got %d", reporter.bytes.Load())
	}

	reporter.FileStarted("b.bin", 0)
	reporter.FileFinished("b.bin", "failed", errors.New("boom"))
	if reporter.inProgress.Load() != 0 {
		t.Errorf("expected 0 in-progress after fail, got %d", reporter.inProgress.Load())
	}
	if reporter.failedFiles.Load() != 1 {
		t.Errorf("expected 1 failed, got %d", reporter.failedFiles.Load())
	}
}

func TestTextStartStop(t *testing.T) {
	var out bytes.Buffer
	reporter := NewText(Options{
		Repo:           "org/model",
		Workers:        2,
		UpdateInterval: 10 * time.Millisecond,
		Output:         &out,
	})

	reporter.Start(2)

	reporter.FileStarted("a.bin", 0)
	reporter.BytesWritten("a.bin", 256*1024)
	reporter.FileFinished("a.bin", "downloaded", nil)

	reporter.FileStarted("b.bin", 0)
	reporter.BytesWritten("b.bin", 256*1024)
	reporter.FileFinished("b.bin", "downloaded", nil)

	time.Sleep(50 * time.Millisecond) // Let updates run

	reporter.Stop()
	reporter.Stop()

	output := out.String()
	if !strings.Contains(output, "[hfslurp] Downloading: org/model | Files: 2 | Workers: 2") {
		t.Errorf("missing header in output:\n%s", output)
	}
	if !strings.Contains(output, "2 done (0 failed) | 512 KiB") {
		t.Errorf("missing final status in output:\n%s", output)
	}
}

func TestTextStopWithoutStart(t *testing.T) {
	var out bytes.Buffer
	reporter := NewText(Options{Output: &out})
	reporter.Stop()
	if out.Len() != 0 {
		t.Errorf("expected no output, got %q", out.String())
	}
}

func TestBar(t *testing.T) {
	var out bytes.Buffer
	bar := NewBar(&out)
	bar.Start(2)

	bar.FileStarted("a.bin", 0)
	bar.BytesWritten("a.bin", 1024)
	bar.FileFinished("a.bin", "downloaded", nil)
	bar.FileFinished("b.bin", "failed", errors.New("boom"))
	bar.Stop()
	bar.Stop()

	if bar.failed.Load() != 1 {
		t.Errorf("expected 1 failed, got %d", bar.failed.Load())
	}
	if desc := bar.describe(); desc != "[hfslurp] 1.0 KiB | 1 failed" {
		t.Errorf("describe() = %q", desc)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{5 * time.Second, "5s"},
		{2*time.Minute + 31*time.Second, "2m 31s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 2m 3s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.input); got != tt.expected {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

var _ Reporter = Noop{}
var _ Reporter = (*Text)(nil)
var _ Reporter = (*Bar)(nil)
