package pyext

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CargoToolchain handles Rust-based extensions (pyo3, rust-cpython) using Cargo.
//
// Build command:
//
//	cargo rustc --lib --manifest-path Cargo.toml --target <triple> \
//	    --crate-type cdylib --release -- <link args>
//
// Cargo's target directory lives in the target's work dir so concurrent
// builds of different targets never share intermediate files.
type CargoToolchain struct {
	cargo string
}

// NewCargoToolchain creates a Cargo toolchain using config.Cargo (default "cargo").
func NewCargoToolchain(config *BuildConfig) *CargoToolchain {
	return &CargoToolchain{cargo: toolOrDefault(config.Cargo, "cargo")}
}

// Name returns the toolchain name
func (t *CargoToolchain) Name() string {
	return "Cargo"
}

// RequiredTools returns the tools needed for Cargo builds
func (t *CargoToolchain) RequiredTools() []ToolRequirement {
	return []ToolRequirement{
		{Name: t.cargo, Purpose: "Rust compiler and package manager"},
	}
}

// CheckTools verifies that cargo is available
func (t *CargoToolchain) CheckTools() error {
	return CheckRequiredTools(t.RequiredTools())
}

// CanBuild checks if this toolchain can handle the source file
func (t *CargoToolchain) CanBuild(sourceFile string) bool {
	return MatchesPattern(sourceFile, `^Cargo\.toml$`)
}

// Supports reports true for every known platform; cargo cross compiles via --target.
func (t *CargoToolchain) Supports(p Platform) bool {
	return !p.IsZero()
}

// Build compiles the crate as a cdylib
func (t *CargoToolchain) Build(ctx context.Context, req *CompileRequest) (*CompileResult, error) {
	return runCommonBuild(ctx, t.Name(), req, CommonBuildSteps{
		BuildFunc: t.runCargo,
		FindFunc:  t.findCargoOutputs,
	})
}

// Clean removes the target's cargo target directory
func (t *CargoToolchain) Clean(_ context.Context, req *CompileRequest) error {
	return os.RemoveAll(t.targetDir(req))
}

func (t *CargoToolchain) targetDir(req *CompileRequest) string {
	return filepath.Join(req.WorkDir, "target")
}

func (t *CargoToolchain) profile(req *CompileRequest) string {
	if req.Target.Debug {
		return "debug"
	}
	return "release"
}

// cargoArgs builds the cargo command line for req
func (t *CargoToolchain) cargoArgs(req *CompileRequest) []string {
	args := []string{
		"rustc", "--lib",
		"--manifest-path", req.SourcePath,
		"--target", req.Platform.Triple,
		"--crate-type", "cdylib",
	}

	if !req.Target.Debug {
		args = append(args, "--release")
	}

	if len(req.Target.Features) > 0 {
		args = append(args, "--features", strings.Join(req.Target.Features, ","))
	}

	// Use locked dependencies if Cargo.lock exists
	if fileExists(filepath.Join(req.SourceDir, "Cargo.lock")) {
		args = append(args, "--locked")
	}

	if req.Config.Jobs > 0 {
		args = append(args, "--jobs", fmt.Sprintf("%d", req.Config.Jobs))
	}

	args = append(args, req.Target.Args...)

	args = append(args, "--")
	args = append(args, t.rustcArgs(req)...)
	return args
}

// rustcArgs returns arguments for the final crate only
func (t *CargoToolchain) rustcArgs(req *CompileRequest) []string {
	args := []string{
		// Keep absolute source paths out of the binary
		fmt.Sprintf("--remap-path-prefix=%s=.", req.SourceDir),
	}

	if req.Platform.OS == platformDarwin {
		// Python symbols are resolved from the interpreter at load time
		args = append(args, "-C", "link-arg=-undefined", "-C", "link-arg=dynamic_lookup")
	}

	return args
}

func (t *CargoToolchain) env(req *CompileRequest) []string {
	env := map[string]string{
		"CARGO_TARGET_DIR": t.targetDir(req),
	}
	if req.Config.PythonExecutable != "" {
		env["PYO3_PYTHON"] = req.Config.PythonExecutable
	}
	if req.Target.LimitedAPI {
		env["PYO3_USE_ABI3_FORWARD_COMPATIBILITY"] = "1"
	}
	return append(toolchainEnv(req), mapEnv(env)...)
}

// runCargo executes cargo to build the Rust extension
func (t *CargoToolchain) runCargo(ctx context.Context, req *CompileRequest, result *CompileResult) error {
	return runTool(ctx, req, toolCommand{
		Label: t.Name(),
		Path:  t.cargo,
		Args:  t.cargoArgs(req),
		Dir:   req.SourceDir,
		Env:   t.env(req),
	}, result)
}

// findCargoOutputs locates built dynamic libraries under target/<triple>/<profile>
func (t *CargoToolchain) findCargoOutputs(req *CompileRequest) ([]string, error) {
	dir := filepath.Join(t.targetDir(req), req.Platform.Triple, t.profile(req))

	var patterns []string
	switch req.Platform.OS {
	case platformWindows:
		patterns = []string{"*.dll"}
	case platformDarwin:
		patterns = []string{"lib*.dylib"}
	default:
		patterns = []string{"lib*.so"}
	}

	var outputs []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to glob pattern %s: %v", pattern, err)
		}
		outputs = append(outputs, matches...)
	}

	return outputs, nil
}

// libraryStem converts a produced library file name to its crate stem:
// libmy_module.so -> my_module, my_module.dll -> my_module.
func libraryStem(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return strings.TrimPrefix(name, "lib")
}

func mapEnv(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for key, value := range m {
		env = append(env, key+"="+value)
	}
	return env
}
