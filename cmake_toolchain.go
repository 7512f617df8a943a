package pyext

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CMakeToolchain handles CMake-based C/C++ extensions (pybind11, nanobind, plain CPython API).
//
// The project is configured out of tree in the target's work dir and every
// library target is directed into the request's output directory:
//
//	cmake -S <source dir> -B <work dir>/cmake -DCMAKE_BUILD_TYPE=Release \
//	    -DCMAKE_LIBRARY_OUTPUT_DIRECTORY=<output dir> -DPython_EXECUTABLE=python3
//	cmake --build <work dir>/cmake --config Release --parallel N
//
// The module stem is passed as PYEXT_MODULE_NAME so projects can name their
// library target after it.
type CMakeToolchain struct {
	cmake         string
	toolchainFile string
}

// NewCMakeToolchain creates a CMake toolchain using config.CMake (default "cmake").
func NewCMakeToolchain(config *BuildConfig) *CMakeToolchain {
	return &CMakeToolchain{
		cmake:         toolOrDefault(config.CMake, "cmake"),
		toolchainFile: config.CMakeToolchainFile,
	}
}

// Name returns the toolchain name
func (t *CMakeToolchain) Name() string {
	return "CMake"
}

// RequiredTools returns the tools needed for CMake builds
func (t *CMakeToolchain) RequiredTools() []ToolRequirement {
	return []ToolRequirement{
		{Name: t.cmake, Purpose: "CMake build system"},
	}
}

// CheckTools verifies that cmake is available
func (t *CMakeToolchain) CheckTools() error {
	return CheckRequiredTools(t.RequiredTools())
}

// CanBuild checks if this toolchain can handle the source file
func (t *CMakeToolchain) CanBuild(sourceFile string) bool {
	return MatchesPattern(sourceFile, `^CMakeLists\.txt$`)
}

// Supports reports the host platform, or any platform when a CMake
// toolchain file is configured for cross compilation.
func (t *CMakeToolchain) Supports(p Platform) bool {
	return p.IsHost() || t.toolchainFile != ""
}

// Build compiles the extension using the cmake configure → build workflow
func (t *CMakeToolchain) Build(ctx context.Context, req *CompileRequest) (*CompileResult, error) {
	return runCommonBuild(ctx, t.Name(), req, CommonBuildSteps{
		ConfigureFunc: t.runConfigure,
		BuildFunc:     t.runBuild,
		FindFunc:      findLibraries,
	})
}

// Clean removes the CMake binary directory
func (t *CMakeToolchain) Clean(_ context.Context, req *CompileRequest) error {
	return os.RemoveAll(t.binaryDir(req))
}

func (t *CMakeToolchain) binaryDir(req *CompileRequest) string {
	return filepath.Join(req.WorkDir, "cmake")
}

func (t *CMakeToolchain) buildType(req *CompileRequest) string {
	if req.Target.Debug {
		return "Debug"
	}
	return "Release"
}

// configureArgs builds the cmake configure command line
func (t *CMakeToolchain) configureArgs(req *CompileRequest) []string {
	buildType := t.buildType(req)
	args := []string{
		"-S", req.SourceDir,
		"-B", t.binaryDir(req),
		"-DCMAKE_BUILD_TYPE=" + buildType,
		"-DCMAKE_LIBRARY_OUTPUT_DIRECTORY=" + req.OutputDir,
		// Multi-config generators (Visual Studio, Xcode) append the config name otherwise
		fmt.Sprintf("-DCMAKE_LIBRARY_OUTPUT_DIRECTORY_%s=%s", strings.ToUpper(buildType), req.OutputDir),
		fmt.Sprintf("-DCMAKE_RUNTIME_OUTPUT_DIRECTORY_%s=%s", strings.ToUpper(buildType), req.OutputDir),
		"-DPYEXT_MODULE_NAME=" + req.Stem(),
	}

	if req.Config.PythonExecutable != "" {
		args = append(args, "-DPython_EXECUTABLE="+req.Config.PythonExecutable)
	}
	if req.Config.PythonIncludeDir != "" {
		args = append(args, "-DPython_INCLUDE_DIR="+req.Config.PythonIncludeDir)
	}
	if t.toolchainFile != "" {
		args = append(args, "-DCMAKE_TOOLCHAIN_FILE="+t.toolchainFile)
	}

	return append(args, req.Target.Args...)
}

// runConfigure executes cmake to configure the build
func (t *CMakeToolchain) runConfigure(ctx context.Context, req *CompileRequest, result *CompileResult) error {
	return runTool(ctx, req, toolCommand{
		Label: t.Name(),
		Path:  t.cmake,
		Args:  t.configureArgs(req),
		Dir:   req.SourceDir,
		Env:   toolchainEnv(req),
	}, result)
}

// runBuild executes cmake --build
func (t *CMakeToolchain) runBuild(ctx context.Context, req *CompileRequest, result *CompileResult) error {
	args := []string{
		"--build", t.binaryDir(req),
		"--config", t.buildType(req),
		"--parallel", fmt.Sprintf("%d", jobCount(req.Config)),
	}

	return runTool(ctx, req, toolCommand{
		Label: "CMake Build",
		Path:  t.cmake,
		Args:  args,
		Dir:   req.SourceDir,
		Env:   toolchainEnv(req),
	}, result)
}
