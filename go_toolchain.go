package pyext

import (
	"context"
	"path/filepath"
	"strings"
)

// GoToolchain handles Go-based extensions built with cgo into shared libraries.
//
// The package is expected to export PyInit_<stem> through cgo. Build command:
//
//	go build -buildmode=c-shared -trimpath -ldflags=-buildid= -o <output dir>/<stem>.so .
//
// -trimpath and an empty build ID keep rebuilds byte-for-byte identical.
type GoToolchain struct {
	goTool string
	cc     string
	cross  map[string]string
}

// NewGoToolchain creates a Go toolchain using config.Go (default "go") and
// config.CC (default "gcc") as the cgo C compiler.
func NewGoToolchain(config *BuildConfig) *GoToolchain {
	return &GoToolchain{
		goTool: toolOrDefault(config.Go, "go"),
		cc:     toolOrDefault(config.CC, "gcc"),
		cross:  config.CrossCompilers,
	}
}

// Name returns the toolchain name
func (t *GoToolchain) Name() string {
	return "Go"
}

// RequiredTools returns the tools needed for host Go builds
func (t *GoToolchain) RequiredTools() []ToolRequirement {
	return []ToolRequirement{
		{
			Name:    t.goTool,
			Purpose: "Go compiler and toolchain",
		},
		t.cCompilerFor(Platform{}),
	}
}

// CheckTools verifies that Go toolchain is available
func (t *GoToolchain) CheckTools() error {
	return CheckRequiredTools(t.RequiredTools())
}

// CheckToolsFor verifies go and the C compiler cgo would use for p
func (t *GoToolchain) CheckToolsFor(_ string, p Platform) error {
	return CheckRequiredTools([]ToolRequirement{
		{Name: t.goTool, Purpose: "Go compiler and toolchain"},
		t.cCompilerFor(p),
	})
}

// cCompilerFor describes the cgo C compiler for p. The zero platform means host.
func (t *GoToolchain) cCompilerFor(p Platform) ToolRequirement {
	if !p.IsZero() && !p.IsHost() {
		if cross, ok := t.cross[p.Triple]; ok {
			return ToolRequirement{Name: cross, Purpose: "C cross compiler for " + p.Triple + " (required for CGO)"}
		}
	}
	return ToolRequirement{
		Name:         t.cc,
		Alternatives: []string{"clang", "cc"},
		Purpose:      "C compiler (required for CGO)",
	}
}

// CanBuild checks if this toolchain can handle the source file
func (t *GoToolchain) CanBuild(sourceFile string) bool {
	ext := strings.ToLower(filepath.Ext(sourceFile))
	base := strings.ToLower(filepath.Base(sourceFile))
	return ext == ".go" || base == "go.mod"
}

// Supports reports the host platform, or platforms with a configured
// cross C compiler (cgo needs one).
func (t *GoToolchain) Supports(p Platform) bool {
	if p.IsHost() {
		return true
	}
	_, ok := t.cross[p.Triple]
	return ok
}

// Build compiles the Go package into a shared library
func (t *GoToolchain) Build(ctx context.Context, req *CompileRequest) (*CompileResult, error) {
	return runCommonBuild(ctx, t.Name(), req, CommonBuildSteps{
		BuildFunc: t.runGoBuild,
		FindFunc:  findLibraries,
	})
}

// Clean is a no-op: the Go build cache is shared and managed by go itself
func (t *GoToolchain) Clean(context.Context, *CompileRequest) error {
	return nil
}

// runGoBuild executes go build to compile the shared library
func (t *GoToolchain) runGoBuild(ctx context.Context, req *CompileRequest, result *CompileResult) error {
	output := filepath.Join(req.OutputDir, req.Stem()+req.Platform.FileExtension())

	args := []string{"build", "-buildmode=c-shared", "-trimpath", "-ldflags=-buildid=", "-o", output}
	args = append(args, req.Target.Args...)
	args = append(args, ".")

	env := map[string]string{
		"CGO_ENABLED": "1",
		"GOOS":        req.Platform.OS,
		"GOARCH":      req.Platform.Arch,
	}
	compiler := t.cCompilerFor(req.Platform)
	if cc, ok := ResolveTool(compiler); ok {
		env["CC"] = cc
	} else {
		env["CC"] = compiler.Name
	}

	return runTool(ctx, req, toolCommand{
		Label: t.Name(),
		Path:  t.goTool,
		Args:  args,
		Dir:   req.SourceDir,
		Env:   append(toolchainEnv(req), mapEnv(env)...),
	}, result)
}
