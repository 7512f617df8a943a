package pyext

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
)

// limitedAPIVersion is the Py_LIMITED_API value for limited-API C builds (3.8).
const limitedAPIVersion = "0x03080000"

// CCToolchain compiles a single C or C++ translation unit with the system compiler.
//
// This is the simplest CPython extension layout: one source file using
// Python.h, built straight into a loadable module:
//
//	cc -shared -fPIC -O2 -I<python include> -o <output dir>/<stem>.so module.c
//
// macOS links with -bundle -undefined dynamic_lookup so the module resolves
// Python symbols from the interpreter. Windows (MSVC) is not supported.
type CCToolchain struct {
	cc    string
	cxx   string
	cross map[string]string
}

// NewCCToolchain creates a C toolchain using config.CC / config.CXX
// (defaults "cc" / "c++") and config.CrossCompilers for foreign targets.
func NewCCToolchain(config *BuildConfig) *CCToolchain {
	return &CCToolchain{
		cc:    toolOrDefault(config.CC, "cc"),
		cxx:   toolOrDefault(config.CXX, "c++"),
		cross: config.CrossCompilers,
	}
}

// Name returns the toolchain name
func (t *CCToolchain) Name() string {
	return "CC"
}

// RequiredTools returns the host C compiler, plus the C++ and cross
// compilers that only some targets need.
func (t *CCToolchain) RequiredTools() []ToolRequirement {
	cxx := t.hostCompiler(true)
	cxx.Optional = true
	tools := []ToolRequirement{t.hostCompiler(false), cxx}

	triples := make([]string, 0, len(t.cross))
	for triple := range t.cross {
		triples = append(triples, triple)
	}
	sort.Strings(triples)
	for _, triple := range triples {
		tools = append(tools, ToolRequirement{
			Name:     t.cross[triple],
			Optional: true,
			Purpose:  "C cross compiler for " + triple,
		})
	}
	return tools
}

// CheckTools verifies that a C compiler is available
func (t *CCToolchain) CheckTools() error {
	return CheckRequiredTools(t.RequiredTools())
}

// CheckToolsFor verifies the compiler that would build sourcePath for p
func (t *CCToolchain) CheckToolsFor(sourcePath string, p Platform) error {
	return CheckRequiredTools([]ToolRequirement{t.compilerFor(sourcePath, p)})
}

// CanBuild checks if this toolchain can handle the source file
func (t *CCToolchain) CanBuild(sourceFile string) bool {
	return MatchesExtension(sourceFile, ".c", ".cc", ".cpp", ".cxx")
}

// Supports reports the host platform, or platforms with a configured cross compiler.
func (t *CCToolchain) Supports(p Platform) bool {
	if p.OS == platformWindows {
		return false
	}
	if p.IsHost() {
		return true
	}
	_, ok := t.cross[p.Triple]
	return ok
}

// Build compiles the source file into a loadable module
func (t *CCToolchain) Build(ctx context.Context, req *CompileRequest) (*CompileResult, error) {
	return runCommonBuild(ctx, t.Name(), req, CommonBuildSteps{
		BuildFunc: t.runCompile,
		FindFunc:  findLibraries,
	})
}

// Clean is a no-op: all outputs live in the per-build output directory
func (t *CCToolchain) Clean(context.Context, *CompileRequest) error {
	return nil
}

// hostCompiler describes the host C or C++ compiler. Common driver names
// stand in when the configured one is missing.
func (t *CCToolchain) hostCompiler(cxx bool) ToolRequirement {
	if cxx {
		return ToolRequirement{
			Name:         t.cxx,
			Alternatives: []string{"g++", "clang++"},
			Purpose:      "C++ compiler",
		}
	}
	return ToolRequirement{
		Name:         t.cc,
		Alternatives: []string{"gcc", "clang"},
		Purpose:      "C compiler",
	}
}

// compilerFor describes the compiler for a source file and platform
func (t *CCToolchain) compilerFor(sourcePath string, p Platform) ToolRequirement {
	if !p.IsHost() {
		if cross, ok := t.cross[p.Triple]; ok {
			return ToolRequirement{Name: cross, Purpose: "C cross compiler for " + p.Triple}
		}
	}
	return t.hostCompiler(isCXXSource(sourcePath))
}

// compiler returns the compiler to run for the request
func (t *CCToolchain) compiler(req *CompileRequest) string {
	requirement := t.compilerFor(req.SourcePath, req.Platform)
	if tool, ok := ResolveTool(requirement); ok {
		return tool
	}
	return requirement.Name
}

func isCXXSource(path string) bool {
	return MatchesExtension(path, ".cc", ".cpp", ".cxx")
}

// compileArgs builds the compiler command line
func (t *CCToolchain) compileArgs(req *CompileRequest, includeDir string) []string {
	var args []string

	if req.Platform.OS == platformDarwin {
		args = append(args, "-bundle", "-undefined", "dynamic_lookup")
	} else {
		args = append(args, "-shared", "-fPIC")
	}

	if req.Target.Debug {
		args = append(args, "-O0", "-g")
	} else {
		args = append(args, "-O2")
	}

	if includeDir != "" {
		args = append(args, "-I"+includeDir)
	}

	if req.Target.LimitedAPI {
		args = append(args, "-DPy_LIMITED_API="+limitedAPIVersion)
	}

	// Keep absolute source paths out of debug info and __FILE__
	args = append(args, fmt.Sprintf("-ffile-prefix-map=%s=.", req.SourceDir))

	args = append(args, req.Target.Args...)

	output := filepath.Join(req.OutputDir, req.Stem()+req.Platform.FileExtension())
	return append(args, "-o", output, req.SourcePath)
}

// runCompile invokes the compiler
func (t *CCToolchain) runCompile(ctx context.Context, req *CompileRequest, result *CompileResult) error {
	includeDir := req.Config.PythonIncludeDir
	if includeDir == "" && req.Config.PythonExecutable != "" && req.Platform.IsHost() {
		detected, err := DetectPythonIncludeDir(ctx, req.Config.PythonExecutable)
		if err != nil {
			result.Output = append(result.Output, fmt.Sprintf("warning: %v", err))
		}
		includeDir = detected
	}

	return runTool(ctx, req, toolCommand{
		Label: t.Name(),
		Path:  t.compiler(req),
		Args:  t.compileArgs(req, includeDir),
		Dir:   req.SourceDir,
		Env:   toolchainEnv(req),
	}, result)
}
