// Package http provides an HTTP client for resumable large file downloads.
//
// This package handles:
//   - Connection pooling shared by all download workers
//   - Open-ended range requests ("bytes=N-") for resume
//   - Mapping of status codes to sentinel errors
//   - Per-attempt timeouts for connect, response headers and idle body reads
//   - An optional bandwidth cap shared by every response body
//
// Retries are not performed here; callers decide whether an error is worth
// another attempt.
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	resp, err := client.GetFrom(ctx, url, offset)
//	if err != nil {
//	    return err
//	}
//	defer resp.Body.Close()
//	// resp.Partial reports whether the server honoured the range
package http
