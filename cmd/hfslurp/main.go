package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitInvalidArgs      = 2
	ExitSourceNotAccess  = 3
	ExitStorageError     = 4
	ExitDownloadFailed   = 5
	ExitValidationFailed = 6
	ExitInterrupted      = 130
)

var version = "dev"

// CLI is the command tree. Global flags override the config file and the
// environment.
type CLI struct {
	Config      string           `short:"c" help:"Configuration file path (YAML)" type:"path"`
	LogLevel    string           `name:"log-level" help:"Log level: debug, info, warn, error"`
	LogFormat   string           `name:"log-format" help:"Log format: console or json"`
	MetricsAddr string           `name:"metrics-addr" help:"Serve Prometheus metrics on this address, e.g. :9090"`
	Version     kong.VersionFlag `name:"version" help:"Show version and exit"`

	Pull   PullCmd   `cmd:"" help:"Download a repository snapshot, resuming where a previous run stopped"`
	Verify VerifyCmd `cmd:"" help:"Re-digest downloaded files against the state file"`
	Status StatusCmd `cmd:"" help:"Show the recorded download state of a repository"`
	Reset  ResetCmd  `cmd:"" help:"Delete the recorded download state of a repository"`
}

// Globals is bound to every command's Run method.
type Globals struct {
	// Ctx is canceled by the first interrupt, Abort by the second.
	Ctx    context.Context
	Abort  context.Context
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	cli *CLI
}

// exitError carries the process exit code for a command failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	abort, abortNow := context.WithCancel(context.Background())
	defer abortNow()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[hfslurp] Received interrupt, finishing files in progress (interrupt again to abort)...")
		cancel()
		<-sigCh
		fmt.Fprintln(os.Stderr, "[hfslurp] Aborting, partial files are kept for resume")
		abortNow()
	}()

	code := run(ctx, abort, os.Args[1:], os.Stdout, os.Stderr)
	signal.Stop(sigCh)
	os.Exit(code)
}

// run executes args. Canceling ctx stops a pull after the files in progress;
// canceling abort interrupts those files too.
func run(ctx, abort context.Context, args []string, stdout, stderr io.Writer) int {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("hfslurp"),
		kong.Description("Resumable concurrent downloader for Hugging Face repositories."),
		kong.Writers(stdout, stderr),
		kong.Vars{"version": version},
	)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	err = kctx.Run(&Globals{Ctx: ctx, Abort: abort, Stdin: os.Stdin, Stdout: stdout, Stderr: stderr, cli: &cli})
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitGeneralError
}
