package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ligustah/hfslurp/internal/config"
	"github.com/ligustah/hfslurp/internal/downloader"
	hfhttp "github.com/ligustah/hfslurp/internal/http"
	"github.com/ligustah/hfslurp/internal/hub"
	"github.com/ligustah/hfslurp/internal/progress"
)

// PullCmd implements the 'pull' command.
type PullCmd struct {
	RepoID    string        `arg:"" name:"repo-id" help:"Repository id, e.g. org/model"`
	SaveDir   string        `short:"o" name:"save-dir" help:"Directory to save files into (default: .)"`
	Revision  string        `short:"r" help:"Branch, tag or commit (default: main)"`
	RepoType  string        `name:"repo-type" help:"Repository type: model or dataset"`
	Endpoint  string        `help:"Hub endpoint (default: https://huggingface.co)"`
	Workers   int           `short:"w" help:"Number of parallel workers (default: 4)"`
	NoResume  bool          `name:"no-resume" help:"Restart partial files from zero"`
	FilesFrom string        `name:"files-from" help:"Read file paths from this file (- for stdin) instead of listing the repository"`
	Progress  string        `help:"Progress display: bar, text or none"`
	Timeout   time.Duration `help:"Connect and idle read timeout per attempt (default: 30s)"`
	RateLimit string        `name:"rate-limit" help:"Bandwidth cap shared by all workers, e.g. 20MiB"`
	StateURL  string        `name:"state-url" help:"Bucket URL for state records, e.g. s3://bucket (default: save dir)"`
	Retries   int           `help:"Attempts per file (default: 3)"`
}

func (c *PullCmd) Run(g *Globals) error {
	override := config.Config{
		Repo:     c.RepoID,
		Revision: c.Revision,
		RepoType: c.RepoType,
		SaveDir:  c.SaveDir,
		StateURL: c.StateURL,
		Endpoint: c.Endpoint,
		Workers:  c.Workers,
		NoResume: c.NoResume,
		Progress: c.Progress,
		Timeout:  c.Timeout,
		Retry:    config.RetryConfig{Attempts: c.Retries},
	}
	if c.RateLimit != "" {
		n, err := progress.ParseBytes(c.RateLimit)
		if err != nil {
			return withCode(ExitInvalidArgs, fmt.Errorf("invalid rate limit: %w", err))
		}
		override.RateLimit = n
	}

	cfg, err := g.loadConfig(override)
	if err != nil {
		return err
	}
	logger, err := g.newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	repoType, err := hub.ParseRepoType(cfg.RepoType)
	if err != nil {
		return withCode(ExitInvalidArgs, err)
	}

	recorder, stopMetrics, err := startMetrics(cfg, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	bucket, err := openStateBucket(g.Ctx, cfg)
	if err != nil {
		return err
	}
	defer bucket.Close()

	httpOpts := cfg.HTTPOptions()
	files, err := c.listFiles(g.Ctx, cfg, repoType, httpOpts)
	if err != nil {
		return withCode(ExitSourceNotAccess, err)
	}
	logger.Debug("listed repository files", zap.Int("files", len(files)))

	summary, err := downloader.Run(g.Ctx, files, downloader.Options{
		RepoID:      cfg.Repo,
		Revision:    cfg.Revision,
		SaveDir:     cfg.SaveDir,
		Workers:     cfg.Workers,
		Resume:      !cfg.NoResume,
		URLs:        hub.ResolveURLs{Endpoint: cfg.Endpoint, RepoType: repoType},
		Bucket:      bucket,
		HTTPOptions: httpOpts,
		Retry:       cfg.RetryPolicy(),
		Abort:       g.Abort,
		Progress:    newReporter(cfg, g),
		Metrics:     recorder,
		Logger:      logger,
	})
	if summary != nil {
		summary.Print(g.Stdout)
	}

	switch {
	case err != nil && g.Ctx.Err() != nil:
		fmt.Fprintln(g.Stderr, "[hfslurp] Interrupted, completed files are recorded for resume")
		return withCode(ExitInterrupted, err)
	case errors.Is(err, downloader.ErrStatePersist):
		return withCode(ExitStorageError, err)
	case err != nil:
		return err
	case !summary.OK():
		return withCode(ExitDownloadFailed, fmt.Errorf("%d of %d files failed", len(summary.Failed), summary.Total))
	}
	return nil
}

func (c *PullCmd) listFiles(ctx context.Context, cfg config.Config, repoType hub.RepoType, opts hfhttp.Options) ([]string, error) {
	var lister hub.Lister
	if c.FilesFrom != "" {
		list, err := hub.ReadListFile(c.FilesFrom)
		if err != nil {
			return nil, err
		}
		lister = list
	} else {
		lister = &hub.APILister{
			Client:   hfhttp.NewClient(opts),
			Endpoint: cfg.Endpoint,
			RepoType: repoType,
		}
	}
	return lister.ListFiles(ctx, cfg.Repo, cfg.Revision)
}
