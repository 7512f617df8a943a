package pyext

import (
	"fmt"
	"os/exec"
	"strings"
)

// execLookPath is replaced in tests.
var execLookPath = exec.LookPath

// ToolChecker is an optional interface for toolchains that require external tools.
//
// The builder calls CheckTools before compiling a target. A missing required
// tool means the toolchain is not available, so the target fails with
// UnsupportedPlatform instead of an opaque exec error.
//
// # Example Implementation
//
//	func (t *CMakeToolchain) RequiredTools() []ToolRequirement {
//	    return []ToolRequirement{
//	        {Name: "cmake", Purpose: "CMake build system"},
//	        {Name: "ninja", Optional: true, Purpose: "Ninja build tool"},
//	    }
//	}
//
//	func (t *CMakeToolchain) CheckTools() error {
//	    return CheckRequiredTools(t.RequiredTools())
//	}
type ToolChecker interface {
	// RequiredTools returns the list of tools this toolchain needs.
	RequiredTools() []ToolRequirement

	// CheckTools verifies that all required tools are available.
	// Optional tools don't cause errors if missing.
	CheckTools() error
}

// TargetToolChecker is implemented by toolchains whose tools depend on the
// source or platform, such as a C++ compiler for .cpp sources or a cross
// compiler for foreign targets. The builder prefers it over CheckTools.
type TargetToolChecker interface {
	CheckToolsFor(sourcePath string, p Platform) error
}

// ToolRequirement describes a build tool dependency.
//
// Required tool:
//
//	ToolRequirement{Name: "cargo", Purpose: "Rust package manager"}
//
// Tool with alternatives:
//
//	ToolRequirement{Name: "cc", Alternatives: []string{"gcc", "clang"}, Purpose: "C compiler"}
type ToolRequirement struct {
	// Name is the primary tool binary name or path.
	Name string

	// Alternatives can satisfy the requirement when Name is not found.
	Alternatives []string

	// Optional tools are checked but never fail the check.
	Optional bool

	// Purpose is a human-readable description of why this tool is needed.
	Purpose string
}

// CheckToolAvailable checks if a tool is available in the system PATH.
// Absolute and relative paths are checked directly.
func CheckToolAvailable(tool string) error {
	if _, err := execLookPath(tool); err != nil {
		return fmt.Errorf("%s not found in PATH", tool)
	}
	return nil
}

// ResolveTool returns the first available tool of a requirement.
func ResolveTool(req ToolRequirement) (string, bool) {
	for _, candidate := range append([]string{req.Name}, req.Alternatives...) {
		if candidate == "" {
			continue
		}
		if CheckToolAvailable(candidate) == nil {
			return candidate, true
		}
	}
	return "", false
}

// CheckRequiredTools verifies all required tools are available.
//
// # Error Format
//
// Single missing tool:
//
//	cargo (Rust package manager) not found in PATH
//
// Multiple missing tools:
//
//	missing required tools: cmake (CMake build system), cc (C compiler)
func CheckRequiredTools(requirements []ToolRequirement) error {
	var missingTools []string

	for _, req := range requirements {
		if _, found := ResolveTool(req); found || req.Optional {
			continue
		}
		if req.Purpose != "" {
			missingTools = append(missingTools, fmt.Sprintf("%s (%s)", req.Name, req.Purpose))
		} else {
			missingTools = append(missingTools, req.Name)
		}
	}

	switch len(missingTools) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("%s not found in PATH", missingTools[0])
	default:
		return fmt.Errorf("missing required tools: %s", strings.Join(missingTools, ", "))
	}
}

// toolOrDefault returns configured, or fallback when configured is empty.
func toolOrDefault(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}
