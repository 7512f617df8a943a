// Package cli implements the pyext command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/contriboss/python-extension-go"
)

// Version is set at link time (-ldflags "-X ...cli.Version=v1.2.3").
var Version = "dev"

type globalOptions struct {
	configFile string
	verbose    bool
	debug      bool
	noColor    bool
}

// app carries the per-invocation state shared by all commands.
type app struct {
	stdout io.Writer
	stderr io.Writer
	opts   globalOptions
	logger zerolog.Logger
}

// NewRootCmd creates the pyext command tree writing to stdout and stderr.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, logger: zerolog.Nop()}

	root := &cobra.Command{
		Use:   "pyext",
		Short: "Build native Python extension modules",
		Long: `pyext compiles the native extension modules a pyext.toml (or pyext.yaml)
declares and places each binary in the package tree under the name the
Python interpreter imports it by.

Built artifact paths are printed to stdout, diagnostics to stderr.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			color := !a.opts.noColor && os.Getenv("NO_COLOR") == ""
			a.logger = newLogger(a.stderr, color, a.opts.verbose, a.opts.debug)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.opts.configFile, "config", "", "config file (default .pyext/config.toml, then the user config directory)")
	flags.BoolVarP(&a.opts.verbose, "verbose", "v", false, "show toolchain output")
	flags.BoolVar(&a.opts.debug, "debug", false, "debug logging with error stack traces")
	flags.BoolVar(&a.opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		a.newBuildCmd(),
		a.newPlanCmd(),
		a.newCleanCmd(),
		a.newPlatformsCmd(),
		a.newVersionCmd(),
	)

	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
	}
	return exitCode(err)
}

func (a *app) newPlatformsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List the platforms extensions can be built for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			host, _ := pyext.HostPlatform()

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TRIPLE\tGO\tTAG\tSUFFIX\t")
			for _, p := range pyext.KnownPlatforms() {
				marker := ""
				if p == host {
					marker = "(host)"
				}
				fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s\t%s\n", p.Triple, p.OS, p.Arch, p.Tag, p.ExtensionSuffix("", true), marker)
			}
			return tw.Flush()
		},
	}
}

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pyext version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(a.stdout, "pyext %s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return err
		},
	}
}
