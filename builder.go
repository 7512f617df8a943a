package pyext

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// Builder compiles extension targets and publishes them into a package layout.
//
// # Usage
//
//	config := &pyext.BuildConfig{
//	    Root:             "/path/to/project",
//	    PythonExecutable: "python3",
//	    DetectSuffix:     true,
//	    Jobs:             4,
//	}
//	builder, err := pyext.NewBuilder(config, nil)
//	platform, _ := pyext.HostPlatform()
//	report, err := builder.Build(ctx, targets, platform)
//
// Build returns an error only for declaration problems (invalid module
// names, name collisions, unknown toolchain names); nothing is compiled in
// that case. Every other failure is reported per target in the Report so
// one failing target never masks the success of others.
//
// # Thread Safety
//
// A Builder is safe for concurrent use. Concurrent builds that publish to
// the same destination are serialized per path.
type Builder struct {
	config  BuildConfig
	factory *ToolchainFactory
	layout  Layout
	lockDir string

	detectSuffix func(ctx context.Context, python string) (string, error)
}

// NewBuilder creates a Builder.
//
// The configuration is copied; defaults are applied to the copy:
//   - Root: current directory
//   - LayoutDir: Root (relative values are resolved against Root)
//   - BuildDir: Root/build/pyext
//   - Jobs: 1
//
// A nil factory means NewToolchainFactory(config).
func NewBuilder(config *BuildConfig, factory *ToolchainFactory) (*Builder, error) {
	if config == nil {
		config = &BuildConfig{}
	}
	cfg := *config

	if cfg.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, eris.Wrap(err, "failed to determine working directory")
		}
		cfg.Root = wd
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve root %s", cfg.Root)
	}
	cfg.Root = root

	cfg.LayoutDir = resolveAgainst(root, cfg.LayoutDir, ".")
	cfg.BuildDir = resolveAgainst(root, cfg.BuildDir, filepath.Join("build", "pyext"))

	if cfg.Jobs <= 0 {
		cfg.Jobs = 1
	}
	if cfg.SourceDateEpoch <= 0 {
		cfg.SourceDateEpoch = DefaultSourceDateEpoch
	}

	if factory == nil {
		factory = NewToolchainFactory(&cfg)
	}

	return &Builder{
		config:       cfg,
		factory:      factory,
		layout:       Layout{Root: cfg.LayoutDir},
		lockDir:      lockDirectory(),
		detectSuffix: DetectExtSuffix,
	}, nil
}

func resolveAgainst(root, path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	return filepath.Clean(path)
}

// Config returns the effective configuration (defaults applied).
func (b *Builder) Config() BuildConfig {
	return b.config
}

// Layout returns the package layout artifacts are published into.
func (b *Builder) Layout() Layout {
	return b.layout
}

// PlannedTarget is a validated target with its resolved toolchain and destination.
type PlannedTarget struct {
	Target      ExtensionTarget
	SourcePath  string
	Toolchain   Toolchain // nil when no registered toolchain matches the source
	Suffix      string
	ABITag      string
	Destination string
	RelPath     string
}

// ToolchainName returns the resolved toolchain name, or "".
func (pt *PlannedTarget) ToolchainName() string {
	if pt.Toolchain == nil {
		return ""
	}
	return pt.Toolchain.Name()
}

// Plan is the validated, compile-free view of one invocation.
type Plan struct {
	Platform Platform
	Targets  []*PlannedTarget
}

// Plan validates targets and resolves where each one will be published.
//
// No toolchain runs. Errors are declaration errors (DeclarationError or
// NameCollision) joined into one error; errors.Is identifies the kinds.
func (b *Builder) Plan(ctx context.Context, targets []ExtensionTarget, platform Platform) (*Plan, error) {
	if platform.IsZero() {
		return nil, newError(KindUnsupportedPlatform, "", "", fmt.Errorf("no platform given"))
	}

	suffix, err := b.resolveSuffix(ctx, platform)
	if err != nil {
		return nil, err
	}

	var errs []error
	planned := make([]*PlannedTarget, 0, len(targets))
	claimed := make(map[string]string, len(targets))

	for _, target := range targets {
		if err := ValidateModuleName(target.Module); err != nil {
			errs = append(errs, newError(KindDeclaration, target.Module, "", err))
			continue
		}

		pt := &PlannedTarget{
			Target:     target,
			SourcePath: b.sourcePath(target),
			Suffix:     suffix,
		}
		if target.LimitedAPI {
			pt.Suffix = platform.ExtensionSuffix("", true)
		}
		pt.ABITag = ABITagFromSuffix(pt.Suffix)
		pt.RelPath = b.layout.RelPathFor(target.Module, pt.Suffix)
		pt.Destination = b.layout.PathFor(target.Module, pt.Suffix)

		// Same module path means same import name, whatever the suffix
		key := collisionKey(b.layout.RelPathFor(target.Module, ""), platform)
		if other, ok := claimed[key]; ok {
			errs = append(errs, newError(KindNameCollision, target.Module, "",
				fmt.Errorf("resolves to the same layout path as %s (%s)", other, pt.RelPath)))
			continue
		}
		claimed[key] = target.Module

		if target.Toolchain != "" {
			toolchain, ok := b.factory.Lookup(target.Toolchain)
			if !ok {
				errs = append(errs, newError(KindDeclaration, target.Module, target.Toolchain,
					fmt.Errorf("unknown toolchain %q", target.Toolchain)))
				continue
			}
			pt.Toolchain = toolchain
		} else if toolchain, err := b.factory.ToolchainFor(pt.SourcePath); err == nil {
			pt.Toolchain = toolchain
		}

		planned = append(planned, pt)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &Plan{Platform: platform, Targets: planned}, nil
}

func (b *Builder) sourcePath(target ExtensionTarget) string {
	source := filepath.FromSlash(target.SourceOrDefault())
	if filepath.IsAbs(source) {
		return filepath.Clean(source)
	}
	return filepath.Join(b.config.Root, source)
}

// resolveSuffix picks the extension suffix for non-limited targets:
// explicit override, then ABI tag, then interpreter detection (host only),
// then the untagged suffix.
func (b *Builder) resolveSuffix(ctx context.Context, platform Platform) (string, error) {
	if b.config.ExtSuffix != "" {
		if err := validateExtSuffix(b.config.ExtSuffix, platform); err != nil {
			return "", newError(KindDeclaration, "", "", err)
		}
		return b.config.ExtSuffix, nil
	}

	if b.config.ABITag != "" {
		return platform.ExtensionSuffix(b.config.ABITag, false), nil
	}

	if b.config.DetectSuffix && platform.IsHost() && b.config.PythonExecutable != "" {
		suffix, err := b.detectSuffix(ctx, b.config.PythonExecutable)
		if err == nil && validateExtSuffix(suffix, platform) == nil {
			return suffix, nil
		}
		logger(ctx).Warn().Err(err).Str("python", b.config.PythonExecutable).
			Msg("Could not detect the interpreter's extension suffix, using the untagged suffix")
	}

	return platform.ExtensionSuffix("", false), nil
}

// Build compiles every target for platform and publishes the artifacts.
//
// # Return Values
//
//   - (nil, err) for declaration errors; nothing was compiled or written
//   - (report, nil) otherwise, with one TargetResult per target
//
// Targets build in parallel, at most Jobs at a time. Failures are isolated:
// a failing target never cancels its siblings.
//
// # Context Cancellation
//
// Canceling ctx kills running toolchain processes. Canceled targets fail
// with KindCanceled and leave nothing at their destination; targets that
// were already published stay published.
func (b *Builder) Build(ctx context.Context, targets []ExtensionTarget, platform Platform) (*Report, error) {
	plan, err := b.Plan(ctx, targets, platform)
	if err != nil {
		return nil, err
	}
	return b.BuildPlan(ctx, plan), nil
}

// BuildPlan builds an already validated plan.
func (b *Builder) BuildPlan(ctx context.Context, plan *Plan) *Report {
	results := make([]*TargetResult, len(plan.Targets))

	g := new(errgroup.Group)
	g.SetLimit(b.config.Jobs)

	for i, pt := range plan.Targets {
		result := &TargetResult{
			Target:      pt.Target,
			State:       StateDeclared,
			Toolchain:   pt.ToolchainName(),
			Destination: pt.Destination,
		}
		results[i] = result

		g.Go(func() error {
			b.buildTarget(ctx, plan.Platform, pt, result)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Target.Module < results[j].Target.Module
	})

	return &Report{Platform: plan.Platform, Results: results}
}

// workDir returns the persistent scratch directory for a target.
func (b *Builder) workDir(platform Platform, module string) string {
	return filepath.Join(b.config.BuildDir, platform.Triple, module)
}

func (b *Builder) buildTarget(ctx context.Context, platform Platform, pt *PlannedTarget, result *TargetResult) {
	start := time.Now()
	result.State = StateBuilding
	module := pt.Target.Module

	log := logger(ctx).With().Str("module", module).Logger()
	defer func() { result.Duration = time.Since(start) }()

	fail := func(be *BuildError) {
		result.State = StateFailed
		result.Err = be
		event := log.Error()
		if pt.Target.Optional {
			event = log.Warn().Bool("optional", true)
		}
		event.Err(be).Msg("Build failed")
	}

	if err := ctx.Err(); err != nil {
		fail(newError(KindCanceled, module, "", err))
		return
	}

	info, err := os.Stat(pt.SourcePath)
	if err != nil {
		fail(newError(KindSourceNotFound, module, "", eris.Wrapf(err, "source %s", pt.SourcePath)))
		return
	}
	if info.IsDir() {
		fail(newError(KindSourceNotFound, module, "", fmt.Errorf("source %s is a directory, not a build file", pt.SourcePath)))
		return
	}

	toolchain := pt.Toolchain
	if toolchain == nil {
		fail(newError(KindUnsupportedPlatform, module, "",
			fmt.Errorf("no toolchain can build %s", filepath.Base(pt.SourcePath))))
		return
	}
	name := toolchain.Name()
	result.Toolchain = name

	if !toolchain.Supports(platform) {
		fail(newError(KindUnsupportedPlatform, module, name,
			fmt.Errorf("%s cannot build for %s", name, platform)))
		return
	}
	if err := checkTools(toolchain, pt.SourcePath, platform); err != nil {
		fail(newError(KindUnsupportedPlatform, module, name, err))
		return
	}

	workDir := b.workDir(platform, module)
	outputDir := filepath.Join(workDir, "out")
	if err := resetDir(outputDir); err != nil {
		fail(newError(KindPlacement, module, name, err))
		return
	}

	req := &CompileRequest{
		Target:     pt.Target,
		SourcePath: pt.SourcePath,
		SourceDir:  filepath.Dir(pt.SourcePath),
		WorkDir:    workDir,
		OutputDir:  outputDir,
		Platform:   platform,
		Config:     &b.config,
	}

	log.Info().Str("toolchain", name).Str("platform", platform.Triple).Msg("Building")

	compiled, err := toolchain.Build(ctx, req)
	if compiled != nil {
		result.Output = compiled.Output
	}
	for _, line := range result.Output {
		log.Debug().Str("toolchain", name).Msg(line)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		_ = os.RemoveAll(outputDir)
		fail(newError(KindCanceled, module, name, ctxErr))
		return
	}

	if err == nil && (compiled == nil || !compiled.Success) {
		err = CompileError(name, result.Output, nil)
	}
	if err != nil {
		result.Diagnostics = ParseDiagnostics(result.Output)
		be := newError(KindCompileFailure, module, name, err)
		be.Output = result.Output
		be.Diagnostics = result.Diagnostics
		fail(be)
		return
	}

	library, ok := pickLibrary(compiled.Libraries, moduleStem(module))
	if !ok {
		be := newError(KindCompileFailure, module, name,
			CompileError(name, result.Output, fmt.Errorf("no shared library produced")))
		be.Output = result.Output
		fail(be)
		return
	}
	if len(compiled.Libraries) > 1 {
		log.Warn().Strs("libraries", compiled.Libraries).Str("using", library).
			Msg("Toolchain produced several libraries")
	}

	artifact, err := b.publish(ctx, platform, pt, library)
	if err != nil {
		kind := KindPlacement
		if ctx.Err() != nil {
			kind = KindCanceled
		}
		fail(newError(kind, module, name, err))
		return
	}

	result.Artifact = artifact
	result.State = StateBuilt

	event := log.Info().Str("path", artifact.RelPath)
	if artifact.Unchanged {
		event = event.Bool("unchanged", true)
	}
	event.Msg("Published")
}

// checkTools verifies the external tools toolchain needs for this target.
func checkTools(toolchain Toolchain, sourcePath string, platform Platform) error {
	if checker, ok := toolchain.(TargetToolChecker); ok {
		return checker.CheckToolsFor(sourcePath, platform)
	}
	if checker, ok := toolchain.(ToolChecker); ok {
		return checker.CheckTools()
	}
	return nil
}

// publish places library at the target's destination under the destination lock
// and removes stale artifacts that would shadow it.
func (b *Builder) publish(ctx context.Context, platform Platform, pt *PlannedTarget, library string) (*BuildArtifact, error) {
	lock, err := lockDestination(b.lockDir, pt.Destination)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	// Last chance to honor cancellation; past this point the rename is atomic
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	epoch := time.Unix(b.config.SourceDateEpoch, 0)
	digest, size, unchanged, err := publishFile(library, pt.Destination, publishOptions{
		ModTime: epoch,
		Mode:    0o755,
	})
	if err != nil {
		return nil, err
	}

	removed, err := removeStale(b.layout, pt.Target.Module, platform, pt.Destination)
	for _, path := range removed {
		logger(ctx).Info().Str("module", pt.Target.Module).Str("path", path).Msg("Removed stale artifact")
	}
	if err != nil {
		return nil, err
	}

	return &BuildArtifact{
		Module:    pt.Target.Module,
		Platform:  platform,
		Path:      pt.Destination,
		RelPath:   pt.RelPath,
		ABITag:    pt.ABITag,
		Suffix:    pt.Suffix,
		SHA256:    digest,
		Size:      size,
		Unchanged: unchanged,
	}, nil
}

// pickLibrary chooses the library named after the module stem, else the
// first in lexical order. It reports false when libraries is empty.
func pickLibrary(libraries []string, stem string) (string, bool) {
	if len(libraries) == 0 {
		return "", false
	}
	sorted := append([]string{}, libraries...)
	sort.Strings(sorted)
	for _, lib := range sorted {
		if strings.EqualFold(libraryStem(lib), stem) {
			return lib, true
		}
	}
	return sorted[0], true
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return eris.Wrapf(err, "failed to clear %s", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "failed to create %s", dir)
	}
	return nil
}

// Clean removes published artifacts of the targets for platform and the
// toolchains' intermediate files. It returns the removed artifact paths.
func (b *Builder) Clean(ctx context.Context, targets []ExtensionTarget, platform Platform) ([]string, error) {
	plan, err := b.Plan(ctx, targets, platform)
	if err != nil {
		return nil, err
	}

	var removed []string
	var errs []error

	for _, pt := range plan.Targets {
		paths, err := removeStale(b.layout, pt.Target.Module, platform, "")
		removed = append(removed, paths...)
		if err != nil {
			errs = append(errs, newError(KindPlacement, pt.Target.Module, "", err))
		}

		workDir := b.workDir(platform, pt.Target.Module)
		if pt.Toolchain != nil {
			req := &CompileRequest{
				Target:     pt.Target,
				SourcePath: pt.SourcePath,
				SourceDir:  filepath.Dir(pt.SourcePath),
				WorkDir:    workDir,
				OutputDir:  filepath.Join(workDir, "out"),
				Platform:   platform,
				Config:     &b.config,
			}
			if err := pt.Toolchain.Clean(ctx, req); err != nil {
				logger(ctx).Warn().Err(err).Str("module", pt.Target.Module).Msg("Toolchain clean failed")
			}
		}
		if err := os.RemoveAll(workDir); err != nil {
			errs = append(errs, newError(KindPlacement, pt.Target.Module, "", eris.Wrapf(err, "failed to remove %s", workDir)))
		}
	}

	return removed, errors.Join(errs...)
}
