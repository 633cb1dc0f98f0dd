package main

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ligustah/hfslurp/internal/config"
	"github.com/ligustah/hfslurp/internal/state"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct {
	RepoID   string `arg:"" name:"repo-id" help:"Repository id, e.g. org/model"`
	SaveDir  string `short:"o" name:"save-dir" help:"Directory the files were saved into (default: .)"`
	StateURL string `name:"state-url" help:"Bucket URL for state records (default: save dir)"`
}

func (c *StatusCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig(config.Config{Repo: c.RepoID, SaveDir: c.SaveDir, StateURL: c.StateURL})
	if err != nil {
		return err
	}
	bucket, err := openStateBucket(g.Ctx, cfg)
	if err != nil {
		return err
	}
	defer bucket.Close()

	key := state.StateKey(cfg.Repo)
	s, err := state.Load(g.Ctx, bucket, key)
	if err != nil {
		return withCode(ExitStorageError, err)
	}
	if s.Repo != cfg.Repo {
		fmt.Fprintf(g.Stdout, "No download state recorded for %s\n", cfg.Repo)
		return nil
	}

	fmt.Fprintf(g.Stdout, "Repository: %s\n", s.Repo)
	fmt.Fprintf(g.Stdout, "Revision:   %s\n", s.Revision)
	fmt.Fprintf(g.Stdout, "State:      %s\n", key)
	fmt.Fprintf(g.Stdout, "Files:      %d\n", len(s.Files))
	fmt.Fprintf(g.Stdout, "Total size: %s\n", humanize.IBytes(uint64(s.TotalSize())))
	if last := s.LastCompleted(); !last.IsZero() {
		fmt.Fprintf(g.Stdout, "Last file:  %s (%s)\n", last.Format(time.RFC3339), humanize.Time(last))
	}
	return nil
}

// ResetCmd implements the 'reset' command.
type ResetCmd struct {
	RepoID   string `arg:"" name:"repo-id" help:"Repository id, e.g. org/model"`
	SaveDir  string `short:"o" name:"save-dir" help:"Directory the files were saved into (default: .)"`
	StateURL string `name:"state-url" help:"Bucket URL for state records (default: save dir)"`
	Force    bool   `short:"f" help:"Skip confirmation prompt"`
}

// Run deletes the state record. Downloaded files are left in place.
func (c *ResetCmd) Run(g *Globals) error {
	if !c.Force {
		fmt.Fprintf(g.Stdout, "Delete download state of %s? [y/N]: ", c.RepoID)
		response, _ := bufio.NewReader(g.Stdin).ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(g.Stderr, "Cancelled")
			return nil
		}
	}
	cfg, err := g.loadConfig(config.Config{Repo: c.RepoID, SaveDir: c.SaveDir, StateURL: c.StateURL})
	if err != nil {
		return err
	}
	bucket, err := openStateBucket(g.Ctx, cfg)
	if err != nil {
		return err
	}
	defer bucket.Close()

	key := state.StateKey(cfg.Repo)
	if err := state.Delete(g.Ctx, bucket, key); err != nil {
		return withCode(ExitStorageError, err)
	}
	fmt.Fprintf(g.Stderr, "[hfslurp] Deleted state %s\n", key)
	return nil
}
