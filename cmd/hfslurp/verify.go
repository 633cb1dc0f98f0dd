package main

import (
	"errors"
	"fmt"

	"github.com/ligustah/hfslurp/internal/config"
	"github.com/ligustah/hfslurp/internal/downloader"
)

// VerifyCmd implements the 'verify' command.
type VerifyCmd struct {
	RepoID   string `arg:"" name:"repo-id" help:"Repository id, e.g. org/model"`
	SaveDir  string `short:"o" name:"save-dir" help:"Directory the files were saved into (default: .)"`
	Revision string `short:"r" help:"Only accept state recorded for this revision"`
	StateURL string `name:"state-url" help:"Bucket URL for state records (default: save dir)"`
}

// Run re-digests every recorded file. Does not touch the network.
func (c *VerifyCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig(config.Config{Repo: c.RepoID, SaveDir: c.SaveDir, StateURL: c.StateURL})
	if err != nil {
		return err
	}
	bucket, err := openStateBucket(g.Ctx, cfg)
	if err != nil {
		return err
	}
	defer bucket.Close()

	report, err := downloader.Verify(g.Ctx, bucket, cfg.Repo, c.Revision, cfg.SaveDir)
	if err != nil {
		if errors.Is(err, downloader.ErrNoState) {
			return withCode(ExitValidationFailed, err)
		}
		return withCode(ExitStorageError, err)
	}

	fmt.Fprintf(g.Stdout, "Repository: %s\n", cfg.Repo)
	fmt.Fprintf(g.Stdout, "Recorded files: %d\n", len(report.OK)+len(report.Missing)+len(report.Mismatched))
	if report.Clean() {
		fmt.Fprintln(g.Stdout, "Status: VALID")
		return nil
	}

	fmt.Fprintln(g.Stdout, "Status: INVALID")
	fmt.Fprintf(g.Stdout, "Missing: %d\n", len(report.Missing))
	for _, p := range report.Missing {
		fmt.Fprintf(g.Stdout, "  - %s\n", p)
	}
	fmt.Fprintf(g.Stdout, "Mismatched: %d\n", len(report.Mismatched))
	for _, p := range report.Mismatched {
		fmt.Fprintf(g.Stdout, "  - %s\n", p)
	}
	return withCode(ExitValidationFailed, fmt.Errorf("%d files missing, %d mismatched", len(report.Missing), len(report.Mismatched)))
}
