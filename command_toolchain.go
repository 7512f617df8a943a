package pyext

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/shell"
)

// CommandToolchain is a configurable toolchain for any compiler that can
// emit a shared library from a command line.
//
// It covers systems languages (Zig, Nim, D, ...) and project-specific
// build scripts without a new Go type for each.
//
// # Configuration
//
// The command is a single shell-quoted string. It is split into words with
// shell rules, never run through a shell, and these variables are expanded:
//
//	$PYEXT_INPUT       absolute source path
//	$PYEXT_OUTPUT      absolute path of the library to produce
//	$PYEXT_OUTPUT_DIR  directory the library must land in
//	$PYEXT_SOURCE_DIR  directory containing the source
//	$PYEXT_WORKDIR     persistent per-target scratch directory
//	$PYEXT_MODULE      dotted module name
//	$PYEXT_STEM        last module segment
//	$PYEXT_TRIPLE      target triple
//	$PYEXT_OS          GOOS-style OS name
//	$PYEXT_ARCH        GOARCH-style architecture
//	$PYEXT_ZIG_TARGET  zig -target spelling of the platform
//
// Other variables come from the process environment.
//
// # Example
//
//	nim, err := NewCommandToolchain(&CommandToolchainConfig{
//	    Name:     "Nim",
//	    Patterns: []string{"*.nim"},
//	    Command:  `nim c --app:lib --out:"$PYEXT_OUTPUT" "$PYEXT_INPUT"`,
//	})
type CommandToolchain struct {
	name           string
	patterns       []string
	tools          []ToolRequirement
	command        string
	cleanCommand   string
	platforms      map[string]struct{}
	outputPatterns []string
}

// CommandToolchainConfig defines configuration for a CommandToolchain.
type CommandToolchainConfig struct {
	// Name is the toolchain name (e.g., "Zig")
	Name string

	// Patterns are file name globs to match (e.g., "*.zig", "build.zig")
	Patterns []string

	// Tools are the required build tools. When empty, the first word of
	// Command is required.
	Tools []ToolRequirement

	// Command builds the library; see CommandToolchain for variables.
	Command string

	// CleanCommand is an optional command run by Clean.
	CleanCommand string

	// Platforms lists the supported target triples. Empty means host only;
	// "*" means every known platform.
	Platforms []string

	// OutputPatterns are globs relative to the output directory.
	// Defaults to the platform's shared library patterns.
	OutputPatterns []string
}

// NewCommandToolchain creates a CommandToolchain from configuration.
// The command must be non-empty and split cleanly into words.
func NewCommandToolchain(config *CommandToolchainConfig) (*CommandToolchain, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("command toolchain needs a name")
	}
	if len(config.Patterns) == 0 {
		return nil, fmt.Errorf("command toolchain %s needs at least one file pattern", config.Name)
	}

	words, err := shell.Fields(config.Command, func(string) string { return "" })
	if err != nil {
		return nil, fmt.Errorf("command toolchain %s: invalid command: %w", config.Name, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("command toolchain %s: empty command", config.Name)
	}

	tools := config.Tools
	if len(tools) == 0 {
		tools = []ToolRequirement{{Name: words[0], Purpose: config.Name + " toolchain"}}
	}

	var platforms map[string]struct{}
	if len(config.Platforms) > 0 {
		platforms = make(map[string]struct{}, len(config.Platforms))
		for _, triple := range config.Platforms {
			platforms[triple] = struct{}{}
		}
	}

	return &CommandToolchain{
		name:           config.Name,
		patterns:       config.Patterns,
		tools:          tools,
		command:        config.Command,
		cleanCommand:   config.CleanCommand,
		platforms:      platforms,
		outputPatterns: config.OutputPatterns,
	}, nil
}

// Name returns the toolchain name
func (t *CommandToolchain) Name() string {
	return t.name
}

// RequiredTools returns the tools needed for this toolchain
func (t *CommandToolchain) RequiredTools() []ToolRequirement {
	return t.tools
}

// CheckTools verifies that all required tools are available
func (t *CommandToolchain) CheckTools() error {
	return CheckRequiredTools(t.RequiredTools())
}

// CanBuild checks if this toolchain can handle the source file
func (t *CommandToolchain) CanBuild(sourceFile string) bool {
	filename := strings.ToLower(filepath.Base(sourceFile))

	for _, pattern := range t.patterns {
		if matched, _ := filepath.Match(strings.ToLower(pattern), filename); matched {
			return true
		}
	}

	return false
}

// Supports checks the configured platform list
func (t *CommandToolchain) Supports(p Platform) bool {
	if p.IsZero() {
		return false
	}
	if t.platforms == nil {
		return p.IsHost()
	}
	if _, ok := t.platforms["*"]; ok {
		return true
	}
	_, ok := t.platforms[p.Triple]
	return ok
}

// Build runs the configured command
func (t *CommandToolchain) Build(ctx context.Context, req *CompileRequest) (*CompileResult, error) {
	return runCommonBuild(ctx, t.Name(), req, CommonBuildSteps{
		BuildFunc: t.runBuild,
		FindFunc:  t.findOutputs,
	})
}

// Clean runs the clean command, if one is configured
func (t *CommandToolchain) Clean(ctx context.Context, req *CompileRequest) error {
	if t.cleanCommand == "" {
		return nil
	}

	args, err := t.expand(t.cleanCommand, req)
	if err != nil {
		return err
	}

	result := &CompileResult{}
	return runTool(ctx, req, toolCommand{
		Label: t.Name(),
		Path:  args[0],
		Args:  args[1:],
		Dir:   req.SourceDir,
		Env:   toolchainEnv(req),
	}, result)
}

// commandVars returns the PYEXT_* variables for req
func (t *CommandToolchain) commandVars(req *CompileRequest) map[string]string {
	return map[string]string{
		"PYEXT_INPUT":      req.SourcePath,
		"PYEXT_OUTPUT":     filepath.Join(req.OutputDir, req.Stem()+req.Platform.FileExtension()),
		"PYEXT_OUTPUT_DIR": req.OutputDir,
		"PYEXT_SOURCE_DIR": req.SourceDir,
		"PYEXT_WORKDIR":    req.WorkDir,
		"PYEXT_MODULE":     req.Target.Module,
		"PYEXT_STEM":       req.Stem(),
		"PYEXT_TRIPLE":     req.Platform.Triple,
		"PYEXT_OS":         req.Platform.OS,
		"PYEXT_ARCH":       req.Platform.Arch,
		"PYEXT_ZIG_TARGET": zigTarget(req.Platform),
	}
}

// expand splits command into words with the request's variables
func (t *CommandToolchain) expand(command string, req *CompileRequest) ([]string, error) {
	vars := t.commandVars(req)
	lookup := func(name string) string {
		if value, ok := vars[name]; ok {
			return value
		}
		if value, ok := req.Target.Env[name]; ok {
			return value
		}
		if value, ok := req.Config.Env[name]; ok {
			return value
		}
		return os.Getenv(name)
	}

	args, err := shell.Fields(command, lookup)
	if err != nil {
		return nil, fmt.Errorf("failed to expand %s command: %w", t.name, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s command expanded to nothing", t.name)
	}
	return args, nil
}

// runBuild executes the configured build command
func (t *CommandToolchain) runBuild(ctx context.Context, req *CompileRequest, result *CompileResult) error {
	args, err := t.expand(t.command, req)
	if err != nil {
		return err
	}
	args = append(args, req.Target.Args...)

	return runTool(ctx, req, toolCommand{
		Label: t.Name(),
		Path:  args[0],
		Args:  args[1:],
		Dir:   req.SourceDir,
		Env:   append(toolchainEnv(req), mapEnv(t.commandVars(req))...),
	}, result)
}

// findOutputs locates produced libraries using the configured patterns
func (t *CommandToolchain) findOutputs(req *CompileRequest) ([]string, error) {
	if len(t.outputPatterns) == 0 {
		return findLibraries(req)
	}

	var outputs []string
	for _, pattern := range t.outputPatterns {
		matches, err := filepath.Glob(filepath.Join(req.OutputDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to glob pattern %s in %s: %v", pattern, req.OutputDir, err)
		}
		for _, match := range matches {
			if fileExists(match) {
				outputs = append(outputs, match)
			}
		}
	}

	return outputs, nil
}

// zigTarget returns the zig -target spelling for p
func zigTarget(p Platform) string {
	arch := strings.SplitN(p.Triple, "-", 2)[0]
	switch p.OS {
	case platformDarwin:
		return arch + "-macos"
	case platformWindows:
		return arch + "-windows-msvc"
	default:
		// linux tags are already arch-os-abi
		return p.Tag
	}
}

// NewZigToolchain creates the Zig preset.
func NewZigToolchain(config *BuildConfig) *CommandToolchain {
	zig := toolOrDefault(config.Zig, "zig")
	toolchain, err := NewCommandToolchain(&CommandToolchainConfig{
		Name:     "Zig",
		Patterns: []string{"*.zig"},
		Tools: []ToolRequirement{
			{Name: zig, Purpose: "Zig compiler"},
		},
		Command: shellQuote(zig) + ` build-lib -dynamic -lc -O ReleaseSafe -target "$PYEXT_ZIG_TARGET"` +
			` -femit-bin="$PYEXT_OUTPUT" "$PYEXT_INPUT"`,
		Platforms: []string{"*"},
	})
	if err != nil {
		// The preset command is constant apart from the quoted tool path
		panic(err)
	}
	return toolchain
}

// shellQuote single-quotes s for use in a command string.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
