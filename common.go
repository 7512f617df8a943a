package pyext

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// runCommonBuild executes the standard 3-step build process.
//
// # Process Flow
//
//  1. Create empty CompileResult
//  2. Call ConfigureFunc to prepare the build
//  3. Call BuildFunc to compile the extension
//  4. Call FindFunc to locate the produced libraries
//  5. Return CompileResult with Success=true
//
// If any step fails, processing stops and the error is returned with
// Success=false. Output collected so far stays in the result.
//
// A nil ConfigureFunc is skipped.
//
// # Example
//
//	func (t *MyToolchain) Build(ctx context.Context, req *CompileRequest) (*CompileResult, error) {
//	    return runCommonBuild(ctx, t.Name(), req, CommonBuildSteps{
//	        BuildFunc: t.compile,
//	        FindFunc:  findLibraries,
//	    })
//	}
func runCommonBuild(ctx context.Context, name string, req *CompileRequest, steps CommonBuildSteps) (*CompileResult, error) {
	result := &CompileResult{
		Success: false,
		Output:  []string{},
	}

	if steps.ConfigureFunc != nil {
		if err := steps.ConfigureFunc(ctx, req, result); err != nil {
			result.Error = err
			return result, err
		}
	}

	if err := steps.BuildFunc(ctx, req, result); err != nil {
		result.Error = err
		return result, err
	}

	libraries, err := steps.FindFunc(req)
	if err != nil {
		result.Error = err
		return result, err
	}

	if len(libraries) == 0 {
		err = CompileError(name, result.Output, fmt.Errorf("no shared library produced in %s", req.OutputDir))
		result.Error = err
		return result, err
	}

	result.Libraries = libraries
	result.Success = true
	return result, nil
}

// waitDelay bounds how long a killed tool's output pipes are drained.
const waitDelay = 5 * time.Second

// toolCommand describes one external process invocation.
type toolCommand struct {
	Label string // Toolchain name used in error messages
	Path  string
	Args  []string
	Dir   string
	Env   []string
}

// runTool executes cmd, appending its combined output to result.
// The process is killed when ctx is canceled.
func runTool(ctx context.Context, req *CompileRequest, cmd toolCommand, result *CompileResult) error {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	// Grandchildren (rustc under cargo) may hold the output pipes open after the kill
	c.WaitDelay = waitDelay

	if req.Config.Verbose {
		result.Output = append(result.Output,
			fmt.Sprintf("Running: %s %s", cmd.Path, strings.Join(cmd.Args, " ")),
			fmt.Sprintf("Working directory: %s", cmd.Dir))
	}

	output, err := c.CombinedOutput()
	result.Output = append(result.Output, splitOutput(output)...)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return CompileError(cmd.Label, result.Output, err)
	}
	return nil
}

// toolchainEnv is the environment shared by every toolchain invocation.
func toolchainEnv(req *CompileRequest) []string {
	base := map[string]string{
		"SOURCE_DATE_EPOCH": fmt.Sprintf("%d", sourceDateEpoch(req.Config)),
	}
	return mergeEnv(base, req.Config.Env, req.Target.Env)
}

func sourceDateEpoch(config *BuildConfig) int64 {
	if config.SourceDateEpoch > 0 {
		return config.SourceDateEpoch
	}
	return DefaultSourceDateEpoch
}

// findLibraries globs req.OutputDir for the platform's shared libraries.
func findLibraries(req *CompileRequest) ([]string, error) {
	return globLibraries(req.OutputDir, req.Platform)
}

func globLibraries(dir string, platform Platform) ([]string, error) {
	var libraries []string
	seen := make(map[string]struct{})

	for _, pattern := range platform.LibraryPatterns() {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to glob pattern %s in %s: %v", pattern, dir, err)
		}
		for _, match := range matches {
			if _, ok := seen[match]; ok || !fileExists(match) {
				continue
			}
			seen[match] = struct{}{}
			libraries = append(libraries, match)
		}
	}

	return libraries, nil
}

func jobCount(config *BuildConfig) int {
	if config.Jobs > 0 {
		return config.Jobs
	}
	return 1
}
