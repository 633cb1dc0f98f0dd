// Package fetch transfers single files over HTTP with range resume.
//
// Fetcher performs one attempt: it opens the local file for append or
// truncation, streams the response body to disk and verifies the digest.
// Retrier wraps a Fetcher with a backoff policy; every retry resumes from the
// bytes already on disk.
//
// Failures are reported as *Error values classified by Kind. Network and
// integrity failures are retryable, I/O failures are not. When attempts run
// out, Retrier returns a *FailedError wrapping the last failure.
package fetch
