package pyext

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// MakefileToolchain handles plain Makefile-based builds.
//
// This toolchain handles projects that provide a Makefile directly without
// CMake, Cargo or another build system. make runs in the source directory
// and is told where the library must land:
//
//	make -j4 PYEXT_OUTPUT=<out>/native.so PYEXT_OUTPUT_DIR=<out> PYEXT_MODULE=pkg.native PYTHON=python3
//
// Libraries are collected from the output directory first; Makefiles that
// ignore PYEXT_OUTPUT are picked up from the source directory instead.
type MakefileToolchain struct {
	make string
}

// NewMakefileToolchain creates a Make toolchain. The program is config.Make,
// then $MAKE, then "make".
func NewMakefileToolchain(config *BuildConfig) *MakefileToolchain {
	program := config.Make
	if program == "" {
		program = os.Getenv("MAKE")
	}
	return &MakefileToolchain{make: toolOrDefault(program, "make")}
}

// Name returns the toolchain name
func (t *MakefileToolchain) Name() string {
	return "Make"
}

// RequiredTools returns the tools needed for Makefile builds
func (t *MakefileToolchain) RequiredTools() []ToolRequirement {
	return []ToolRequirement{
		{
			Name:         t.make,
			Alternatives: []string{"gmake"},
			Purpose:      "Build automation tool",
		},
	}
}

// CheckTools verifies that make is available
func (t *MakefileToolchain) CheckTools() error {
	return CheckRequiredTools(t.RequiredTools())
}

// CanBuild checks if this toolchain can handle the source file
func (t *MakefileToolchain) CanBuild(sourceFile string) bool {
	filename := strings.ToLower(filepath.Base(sourceFile))
	return filename == "makefile" || filename == "gnumakefile"
}

// Supports reports the host platform only; Makefiles carry their own compiler choice.
func (t *MakefileToolchain) Supports(p Platform) bool {
	return p.IsHost()
}

// Build compiles the extension using make
func (t *MakefileToolchain) Build(ctx context.Context, req *CompileRequest) (*CompileResult, error) {
	return runCommonBuild(ctx, t.Name(), req, CommonBuildSteps{
		BuildFunc: t.runMake,
		FindFunc:  t.findOutputs,
	})
}

// Clean runs "make clean"
func (t *MakefileToolchain) Clean(ctx context.Context, req *CompileRequest) error {
	cleanCmd := exec.CommandContext(ctx, t.program(), "-f", filepath.Base(req.SourcePath), "clean")
	cleanCmd.Dir = req.SourceDir
	cleanCmd.Env = toolchainEnv(req)

	// Ignore errors - clean target may not exist
	_ = cleanCmd.Run()
	return nil
}

// program returns make, or the first available alternative.
func (t *MakefileToolchain) program() string {
	if program, ok := ResolveTool(t.RequiredTools()[0]); ok {
		return program
	}
	return t.make
}

func (t *MakefileToolchain) makeArgs(req *CompileRequest) []string {
	args := []string{
		"-f", filepath.Base(req.SourcePath),
		fmt.Sprintf("-j%d", jobCount(req.Config)),
		"PYEXT_OUTPUT=" + filepath.Join(req.OutputDir, req.Stem()+req.Platform.FileExtension()),
		"PYEXT_OUTPUT_DIR=" + req.OutputDir,
		"PYEXT_MODULE=" + req.Target.Module,
	}
	if req.Config.PythonExecutable != "" {
		args = append(args, "PYTHON="+req.Config.PythonExecutable)
	}
	if req.Config.PythonIncludeDir != "" {
		args = append(args, "PYTHON_INCLUDE="+req.Config.PythonIncludeDir)
	}
	return append(args, req.Target.Args...)
}

func (t *MakefileToolchain) runMake(ctx context.Context, req *CompileRequest, result *CompileResult) error {
	return runTool(ctx, req, toolCommand{
		Label: "Make",
		Path:  t.program(),
		Args:  t.makeArgs(req),
		Dir:   req.SourceDir,
		Env:   toolchainEnv(req),
	}, result)
}

func (t *MakefileToolchain) findOutputs(req *CompileRequest) ([]string, error) {
	libraries, err := findLibraries(req)
	if err != nil || len(libraries) > 0 {
		return libraries, err
	}
	return globLibraries(req.SourceDir, req.Platform)
}
