package pyext

import (
	"context"
	"errors"
	"time"
)

// ExtensionTarget declares one native source unit to build.
//
// Module is the dotted import path the Python runtime uses (pkg.native_a).
// Source is relative to BuildConfig.Root unless absolute; an empty Source
// means "Cargo.toml", matching setuptools-rust's RustExtension default.
//
// Targets are build inputs and are never modified by the builder.
type ExtensionTarget struct {
	Module     string            // Dotted import path
	Source     string            // Source location (file)
	Toolchain  string            // Explicit toolchain name; detected from Source when empty
	Optional   bool              // Failure does not fail the invocation
	LimitedAPI bool              // Build for the stable ABI (.abi3.so)
	Debug      bool              // Debug profile instead of release
	Features   []string          // Cargo features
	Args       []string          // Extra toolchain arguments
	Env        map[string]string // Extra toolchain environment
}

// DefaultSource is used when a target does not name its source.
const DefaultSource = "Cargo.toml"

// SourceOrDefault returns Source, or DefaultSource when it is empty.
func (t ExtensionTarget) SourceOrDefault() string {
	if t.Source == "" {
		return DefaultSource
	}
	return t.Source
}

// BuildArtifact describes a compiled extension module placed in the layout.
type BuildArtifact struct {
	Module    string   // Dotted import path
	Platform  Platform // Platform the binary was built for
	Path      string   // Absolute path in the layout
	RelPath   string   // Slash-separated path relative to the layout root
	ABITag    string   // ABI tag embedded in the suffix ("" or "abi3" or "cpython-312")
	Suffix    string   // File name suffix (.cpython-312-x86_64-linux-gnu.so)
	SHA256    string   // Hex digest of the published bytes
	Size      int64    // Size in bytes
	Unchanged bool     // Destination already held identical bytes
}

// TargetState is the lifecycle state of one target within one invocation.
//
//	Declared -> Building -> Built
//	                     -> Failed
//
// Every invocation starts all targets at Declared; Failed is not sticky.
type TargetState int

const (
	StateDeclared TargetState = iota
	StateBuilding
	StateBuilt
	StateFailed
)

func (s TargetState) String() string {
	switch s {
	case StateDeclared:
		return "declared"
	case StateBuilding:
		return "building"
	case StateBuilt:
		return "built"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TargetResult is the outcome of building one target.
type TargetResult struct {
	Target      ExtensionTarget
	State       TargetState
	Toolchain   string         // Name of the toolchain that ran, if any
	Destination string         // Layout path the artifact is published to
	Artifact    *BuildArtifact // Set when State is StateBuilt
	Output      []string       // Toolchain output, verbatim
	Diagnostics []Diagnostic   // Diagnostics parsed from Output
	Err         error          // *BuildError when State is StateFailed
	Duration    time.Duration
}

// Kind returns the error kind of a failed result, or 0.
func (r *TargetResult) Kind() ErrorKind {
	return KindOf(r.Err)
}

// Report collects the per-target results of one Build invocation.
//
// Results are sorted by module name. Partial success is normal: some
// targets may be built while others failed.
type Report struct {
	Platform Platform
	Results  []*TargetResult
}

// Succeeded returns the results in StateBuilt.
func (r *Report) Succeeded() []*TargetResult {
	var out []*TargetResult
	for _, res := range r.Results {
		if res.State == StateBuilt {
			out = append(out, res)
		}
	}
	return out
}

// Failed returns the results in StateFailed, optional ones included.
func (r *Report) Failed() []*TargetResult {
	var out []*TargetResult
	for _, res := range r.Results {
		if res.State == StateFailed {
			out = append(out, res)
		}
	}
	return out
}

// RequiredFailures returns failed results of non-optional targets.
func (r *Report) RequiredFailures() []*TargetResult {
	var out []*TargetResult
	for _, res := range r.Failed() {
		if !res.Target.Optional {
			out = append(out, res)
		}
	}
	return out
}

// Err joins the errors of failed non-optional targets, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.RequiredFailures() {
		errs = append(errs, res.Err)
	}
	return errors.Join(errs...)
}

// BuildConfig is the explicit toolchain configuration handed to a Builder.
//
// Nothing in this package reads ambient configuration: tool paths, platform
// defaults and reproducibility settings all come from this value.
//
// Paths:
//   - Root: directory relative sources are resolved against (declaration dir)
//   - LayoutDir: package tree root artifacts are published into (default Root)
//   - BuildDir: scratch space for toolchains (default Root/build/pyext)
//
// Python:
//   - PythonExecutable: interpreter used for ABI detection and PYO3_PYTHON
//   - ABITag: "cpython-312" style tag; empty means untagged suffix
//   - ExtSuffix: explicit full suffix override (".cpython-312-x86_64-linux-gnu.so")
//   - DetectSuffix: ask the interpreter for EXT_SUFFIX when building for the host
//   - PythonIncludeDir: headers for C toolchains
//
// Tools default to their conventional names on PATH.
type BuildConfig struct {
	Root      string
	LayoutDir string
	BuildDir  string

	Jobs int // Parallel targets (0 = 1); also passed to toolchains as job count

	PythonExecutable string
	ABITag           string
	ExtSuffix        string
	DetectSuffix     bool
	PythonIncludeDir string

	Cargo string
	CC    string
	CXX   string
	CMake string
	Make  string
	Go    string
	Zig   string

	CrossCompilers     map[string]string // Target triple -> C compiler
	CMakeToolchainFile string

	SourceDateEpoch int64             // Timestamp embedded in and applied to artifacts
	Env             map[string]string // Extra environment for every toolchain
	Verbose         bool
}

// DefaultSourceDateEpoch is 1980-01-01T00:00:00Z, the earliest time wheel
// (zip) archives can represent.
const DefaultSourceDateEpoch int64 = 315532800

// CompileRequest is what a Toolchain receives for one target.
//
// OutputDir is empty when Build is called; toolchains place the libraries
// they produce there (or report paths elsewhere in WorkDir).
type CompileRequest struct {
	Target     ExtensionTarget
	SourcePath string // Absolute path to the source file
	SourceDir  string // Directory containing SourcePath
	WorkDir    string // Persistent per-target scratch directory
	OutputDir  string // Fresh, empty directory for outputs
	Platform   Platform
	Config     *BuildConfig
}

// Stem returns the final segment of the target's module name.
func (r *CompileRequest) Stem() string {
	return moduleStem(r.Target.Module)
}

// CompileResult contains the output and status of a toolchain run.
type CompileResult struct {
	Success   bool     // True if the toolchain completed without errors
	Output    []string // Lines of output from the toolchain (stdout/stderr)
	Libraries []string // Absolute paths of produced shared libraries
	Error     error    // Error if the build failed, nil otherwise
}

// CommonBuildSteps defines the configure/build/find pattern shared by toolchains.
//
//  1. Configure: prepare the build (cmake configure, nothing for cargo)
//  2. Build: compile the extension
//  3. Find: locate the produced shared libraries
type CommonBuildSteps struct {
	ConfigureFunc func(ctx context.Context, req *CompileRequest, result *CompileResult) error
	BuildFunc     func(ctx context.Context, req *CompileRequest, result *CompileResult) error
	FindFunc      func(req *CompileRequest) ([]string, error)
}
