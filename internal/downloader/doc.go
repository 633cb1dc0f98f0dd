// Package downloader orchestrates resumable downloads of repository files.
//
// The scheduler reconciles the persisted state with the requested repository
// identity, skips files whose local content still matches their record, and
// dispatches the rest to a fixed-size worker pool. Every completed file is
// recorded in the state store before the worker takes its next job.
//
// # Usage
//
//	summary, err := downloader.Run(ctx, files, downloader.Options{
//	    RepoID:   "org/model",
//	    Revision: "main",
//	    SaveDir:  "./model",
//	    Workers:  4,
//	    Resume:   true,
//	    URLs:     hub.ResolveURLs{},
//	})
//
// # Worker Pool
//
// Workers receive file assignments from a channel and report a typed Outcome
// per file. Outcomes are merged by the scheduler; one file's failure never
// stops the others.
//
// # Graceful Shutdown
//
// On context cancellation:
//   - Stop dispatching new files
//   - Let in-flight transfers finish their current attempt and record them
//   - Keep every record already persisted
//
// Canceling Options.Abort as well interrupts in-flight transfers; their bytes
// stay on disk and the next run resumes them.
package downloader
