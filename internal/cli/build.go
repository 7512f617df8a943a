package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/contriboss/python-extension-go"
	"github.com/contriboss/python-extension-go/internal/config"
	"github.com/contriboss/python-extension-go/internal/manifest"
)

// outputTail is how many toolchain output lines are shown for a failure
// without parsed diagnostics.
const outputTail = 20

// project is a loaded declaration with a builder ready for it.
type project struct {
	decl     *manifest.Declaration
	config   *config.Config
	builder  *pyext.Builder
	platform pyext.Platform
}

func addBuildFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("platform", "", "target platform: a triple, os/arch or host")
	flags.IntP("jobs", "j", 0, "number of targets built in parallel")
	flags.String("out", "", "package tree to publish into (default the declaration directory)")
	flags.String("build-dir", "", "scratch directory for toolchains (default build/pyext)")
	flags.String("python", "", "interpreter used for ABI detection")
	flags.String("abi-tag", "", "ABI tag embedded in artifact names, such as cpython-312")
}

// absolutizeFlags resolves path flags against the working directory, not
// the declaration directory.
func absolutizeFlags(flags *pflag.FlagSet, names ...string) error {
	for _, name := range names {
		flag := flags.Lookup(name)
		if flag == nil || !flag.Changed || flag.Value.String() == "" {
			continue
		}
		abs, err := filepath.Abs(flag.Value.String())
		if err != nil {
			return err
		}
		if err := flags.Set(name, abs); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) loadProject(cmd *cobra.Command, args []string) (*project, error) {
	declPath := "."
	if len(args) > 0 {
		declPath = args[0]
	}
	projectDir := declPath
	if info, err := os.Stat(declPath); err == nil && !info.IsDir() {
		projectDir = filepath.Dir(declPath)
	}

	if err := absolutizeFlags(cmd.Flags(), "out", "build-dir"); err != nil {
		return nil, usageError(err)
	}

	cfg, cfgPath, err := config.Load(cmd.Context(), config.LoadOptions{
		ConfigFile: a.opts.configFile,
		ProjectDir: projectDir,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return nil, usageError(err)
	}
	if cfg.Verbose && a.logger.GetLevel() > zerolog.DebugLevel {
		a.logger = a.logger.Level(zerolog.DebugLevel)
	}
	if cfgPath != "" {
		a.logger.Debug().Str("path", cfgPath).Msg("Loaded config")
	}

	decl, err := manifest.Load(declPath)
	if err != nil {
		return nil, usageError(err)
	}
	for _, warning := range decl.Warnings {
		a.logger.Warn().Msg(warning)
	}

	platform, err := cfg.TargetPlatform()
	if err != nil {
		return nil, usageError(err)
	}

	build := cfg.BuildConfig(decl.Root)
	factory, err := cfg.Factory(build)
	if err != nil {
		return nil, usageError(err)
	}
	builder, err := pyext.NewBuilder(build, factory)
	if err != nil {
		return nil, &ExitError{Code: ExitBuildFailed, Err: err}
	}

	return &project{decl: decl, config: cfg, builder: builder, platform: platform}, nil
}

func (a *app) newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [declaration]",
		Short: "Compile and place every declared extension module",
		Long: `Compile every extension the declaration lists and publish each binary into
the package tree. The declaration defaults to pyext.toml, pyext.yaml or
pyext.yml in the current directory.

Exit status is 0 when every required target was built, 1 when a required
target failed and 2 for invalid declarations, configuration or usage.
Optional targets never affect the exit status.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.loadProject(cmd, args)
			if err != nil {
				return err
			}
			ctx := pyext.WithLogger(cmd.Context(), &a.logger)

			report, err := p.builder.Build(ctx, p.decl.Targets(), p.platform)
			if err != nil {
				return classify(err)
			}

			for _, res := range report.Succeeded() {
				fmt.Fprintln(a.stdout, res.Artifact.Path)
			}
			a.printFailures(report)

			if failed := len(report.RequiredFailures()); failed > 0 {
				return &ExitError{
					Code: ExitBuildFailed,
					Err:  fmt.Errorf("%d of %d targets failed", failed, len(report.Results)),
				}
			}
			a.logger.Info().Msgf("Built %d of %d targets for %s", len(report.Succeeded()), len(report.Results), p.platform)
			return nil
		},
	}
	addBuildFlags(cmd)
	return cmd
}

// printFailures writes each failed target with its diagnostics, or the
// tail of its toolchain output when none were recognized.
func (a *app) printFailures(report *pyext.Report) {
	for _, res := range report.Failed() {
		label := "FAILED"
		if res.Target.Optional {
			label = "SKIPPED (optional)"
		}
		fmt.Fprintf(a.stderr, "%s %s: %v\n", label, res.Target.Module, res.Err)

		for _, d := range res.Diagnostics {
			fmt.Fprintf(a.stderr, "  %s\n", d)
		}
		if len(res.Diagnostics) > 0 {
			continue
		}
		output := res.Output
		if len(output) > outputTail {
			output = output[len(output)-outputTail:]
		}
		for _, line := range output {
			fmt.Fprintf(a.stderr, "  | %s\n", line)
		}
	}
}

func (a *app) newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan [declaration]",
		Short: "Show which toolchain builds each module and where it is placed",
		Long: `Validate the declaration and print, for every target, the toolchain that
would build it and its destination in the package tree. Nothing is compiled.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.loadProject(cmd, args)
			if err != nil {
				return err
			}
			ctx := pyext.WithLogger(cmd.Context(), &a.logger)

			plan, err := p.builder.Plan(ctx, p.decl.Targets(), p.platform)
			if err != nil {
				return classify(err)
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODULE\tTOOLCHAIN\tDESTINATION\t")
			for _, pt := range plan.Targets {
				name := pt.ToolchainName()
				if name == "" {
					name = "-"
				}
				note := ""
				if pt.Target.Optional {
					note = "optional"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", pt.Target.Module, name, pt.RelPath, note)
			}
			return tw.Flush()
		},
	}
	addBuildFlags(cmd)
	return cmd
}

func (a *app) newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean [declaration]",
		Short: "Remove published artifacts and toolchain scratch files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.loadProject(cmd, args)
			if err != nil {
				return err
			}
			ctx := pyext.WithLogger(cmd.Context(), &a.logger)

			removed, err := p.builder.Clean(ctx, p.decl.Targets(), p.platform)
			for _, path := range removed {
				fmt.Fprintln(a.stdout, path)
			}
			if err != nil {
				return classify(err)
			}
			return nil
		},
	}
	addBuildFlags(cmd)
	return cmd
}
