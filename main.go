// marketrefresh refreshes market data (daily bars, fundamentals, analyst
// estimates and news) for a universe of instruments.
//
// Usage:
//
//	marketrefresh seed
//	marketrefresh run --all [--symbols AAPL,MSFT] [--dry-run] [--output json]
//	marketrefresh run --ohlcv --lookback 10 --workers 4
//	marketrefresh schedule
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"marketrefresh/internal/refresh"
)

// version is set at build time via -ldflags.
var version = "dev"

// Exit statuses
const (
	exitOK          = 0
	exitFailures    = 1
	exitUsage       = 2
	exitInterrupted = 130
)

// exitError carries the process exit status for an error.
// A nil err exits silently.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageError(format string, args ...any) error {
	return &exitError{code: exitUsage, err: fmt.Errorf(format, args...)}
}

// globalFlags are shared by every command
type globalFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "marketrefresh",
		Short: "Batch refresh of market data into a local store",
		Long: "marketrefresh pulls daily bars, financial statements, analyst estimates and news\n" +
			"for the configured instrument universe and upserts them idempotently.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Path to a config file (default: ./config.yaml or $HOME/.marketrefresh/config.yaml)")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "Enable debug logging")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{code: exitUsage, err: err}
	})

	root.AddCommand(newRunCmd(g))
	root.AddCommand(newScheduleCmd(g))
	root.AddCommand(newSeedCmd(g))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "marketrefresh %s\n", version)
		},
	})
	return root
}

// execute runs the CLI and returns the process exit status
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	var ee *exitError
	if err != nil && !(errors.As(err, &ee) && ee.err == nil) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var ce *refresh.ConfigurationError
	if errors.As(err, &ce) {
		return exitUsage
	}
	if errors.Is(err, refresh.ErrInterrupted) || errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	return exitFailures
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
