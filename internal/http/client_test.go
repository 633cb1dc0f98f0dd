package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

// rangeServer serves data with support for open-ended range requests.
func rangeServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Header().Set("ETag", `"full-etag"`)
			w.Write(data)
			return
		}

		start, _ := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(rangeHeader, "bytes="), "-"), 10, 64)
		if start >= int64(len(data)) {
			w.Header().Set("Content-Range", "bytes */"+strconv.Itoa(len(data)))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		end := int64(len(data)) - 1
		w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.Itoa(len(data)))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.Header().Set("ETag", `"test-etag"`)
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start:])
	}))
}

func TestGetFromStart(t *testing.T) {
	data := []byte("Hello, World! This is test data for range requests.")
	server := rangeServer(t, data)
	defer server.Close()

	client := NewClient(DefaultOptions())
	resp, err := client.GetFrom(context.Background(), server.URL, 0)
	if err != nil {
		t.Fatalf("GetFrom: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != string(data) {
		t.Errorf("unexpected body %q", body)
	}
	if !resp.Partial {
		t.Error("expected Partial for a request from offset 0")
	}
	if resp.Total != int64(len(data)) {
		t.Errorf("expected total %d, got %d", len(data), resp.Total)
	}
}

func TestGetFromOffset(t *testing.T) {
	data := []byte("Hello, World! This is test data for range requests.")
	server := rangeServer(t, data)
	defer server.Close()

	client := NewClient(DefaultOptions())
	resp, err := client.GetFrom(context.Background(), server.URL, 7)
	if err != nil {
		t.Fatalf("GetFrom: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != string(data[7:]) {
		t.Errorf("expected %q, got %q", data[7:], body)
	}
	if !resp.Partial || resp.StatusCode != http.StatusPartialContent {
		t.Errorf("expected partial 206 response, got %d partial=%v", resp.StatusCode, resp.Partial)
	}
	if resp.Total != int64(len(data)) {
		t.Errorf("expected total %d, got %d", len(data), resp.Total)
	}
}

func TestGetFromRangeIgnored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Server ignores Range header and returns full content
		w.Header().Set("Content-Length", "10")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("0123456789"))
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	resp, err := client.GetFrom(context.Background(), server.URL, 4)
	if err != nil {
		t.Fatalf("GetFrom: %v", err)
	}
	defer resp.Body.Close()
	if resp.Partial {
		t.Error("expected Partial to be false when the range is ignored")
	}
}

func TestGetFromRangeMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-9/10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("0123456789"))
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	_, err := client.GetFrom(context.Background(), server.URL, 5)
	if !errors.Is(err, ErrRangeMismatch) {
		t.Errorf("expected ErrRangeMismatch, got %v", err)
	}
}

func TestGetFromRangeNotSatisfiable(t *testing.T) {
	server := rangeServer(t, []byte("0123456789"))
	defer server.Close()

	client := NewClient(DefaultOptions())
	_, err := client.GetFrom(context.Background(), server.URL, 10)
	var rns *RangeNotSatisfiableError
	if !errors.As(err, &rns) {
		t.Fatalf("expected RangeNotSatisfiableError, got %v", err)
	}
	if rns.Total != 10 {
		t.Errorf("expected total 10, got %d", rns.Total)
	}
	if !errors.Is(err, ErrRangeNotSatisfiable) {
		t.Error("expected errors.Is ErrRangeNotSatisfiable")
	}
}

func TestGetFromStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusServiceUnavailable, ErrServerError},
		{http.StatusTeapot, ErrUnexpectedStatus},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		client := NewClient(DefaultOptions())
		_, err := client.GetFrom(context.Background(), server.URL, 0)
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
		server.Close()
	}
}

func TestGetFromHeaderTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	opts := DefaultOptions()
	opts.Timeout = 50 * time.Millisecond
	client := NewClient(opts)

	_, err := client.GetFrom(context.Background(), server.URL, 0)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestBodyIdleTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	opts := DefaultOptions()
	opts.Timeout = 100 * time.Millisecond
	client := NewClient(opts)

	resp, err := client.GetFrom(context.Background(), server.URL, 0)
	if err != nil {
		t.Fatalf("GetFrom: %v", err)
	}
	defer resp.Body.Close()

	_, err = io.ReadAll(resp.Body)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	data := make([]byte, 96*1024)
	server := rangeServer(t, data)
	defer server.Close()

	opts := DefaultOptions()
	opts.RateLimit = 64 * 1024
	client := NewClient(opts)

	start := time.Now()
	resp, err := client.GetFrom(context.Background(), server.URL, 0)
	if err != nil {
		t.Fatalf("GetFrom: %v", err)
	}
	n, err := io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("expected %d bytes, got %d", len(data), n)
	}
	// The bucket starts full (64KiB), the remaining 32KiB take about 500ms.
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("expected rate limiting to slow the transfer, took %v", elapsed)
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header string
		start  int64
		end    int64
		total  int64
		err    bool
	}{
		{"bytes 0-99/1000", 0, 99, 1000, false},
		{"bytes 100-199/1000", 100, 199, 1000, false},
		{"bytes 0-99/*", 0, 99, -1, false},
		{"invalid", 0, 0, 0, true},
		{"bytes 0-99", 0, 0, 0, true},
	}

	for _, tt := range tests {
		start, end, total, err := ParseContentRange(tt.header)
		if tt.err {
			if err == nil {
				t.Errorf("ParseContentRange(%q): expected error", tt.header)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseContentRange(%q): %v", tt.header, err)
			continue
		}
		if start != tt.start || end != tt.end || total != tt.total {
			t.Errorf("ParseContentRange(%q) = %d, %d, %d; want %d, %d, %d",
				tt.header, start, end, total, tt.start, tt.end, tt.total)
		}
	}
}

func TestParseUnsatisfiedRange(t *testing.T) {
	if got := parseUnsatisfiedRange("bytes */1234"); got != 1234 {
		t.Errorf("expected 1234, got %d", got)
	}
	if got := parseUnsatisfiedRange(""); got != -1 {
		t.Errorf("expected -1, got %d", got)
	}
	if got := parseUnsatisfiedRange("bytes */x"); got != -1 {
		t.Errorf("expected -1, got %d", got)
	}
}
