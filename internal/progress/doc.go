// Package progress provides progress reporting for repository downloads.
//
// The download engine reports events through the Reporter interface. Three
// implementations are provided:
//   - Noop discards every event
//   - Text prints periodic status lines, suitable for logs and non-TTY output
//   - Bar renders a terminal progress bar
//
// # Usage
//
//	reporter := progress.NewText(progress.Options{
//	    Repo:    "org/model",
//	    Workers: 4,
//	    Output:  os.Stderr,
//	})
//
//	reporter.Start(len(files))
//	defer reporter.Stop()
//
// # Output Format
//
//	[hfslurp] Downloading: org/model | Files: 42 | Workers: 4
//	[hfslurp] Progress: 12/42 files | 1.3 GiB | Speed: 85 MiB/s | 4 in-progress
//	[hfslurp] Files: 42 done (3 failed) | 12 GiB in 2m 31s | Average speed: 81 MiB/s
package progress
