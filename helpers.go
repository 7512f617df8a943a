package pyext

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// MatchesPattern checks if a filename matches any of the given regex patterns.
//
// Toolchain implementations use it to decide whether they can handle a
// source file based on its name. Invalid patterns are silently skipped.
//
// # Example
//
//	if MatchesPattern(filename, `^Cargo\.toml$`) {
//	    // Rust crate
//	}
//
// # Thread Safety
//
// This function is thread-safe and can be called concurrently.
func MatchesPattern(filename string, patterns ...string) bool {
	for _, pattern := range patterns {
		if matched, _ := regexp.MatchString(pattern, filename); matched {
			return true
		}
	}
	return false
}

// MatchesExtension checks if a filename has any of the given extensions.
//
// The check is case-insensitive and works with or without the leading dot.
//
//	MatchesExtension("module.C", ".c", ".cc") // true
func MatchesExtension(filename string, extensions ...string) bool {
	for _, ext := range extensions {
		if strings.HasSuffix(strings.ToLower(filename), strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// CompileError creates a standardized toolchain error with output context.
//
// The message contains the toolchain name, the underlying error (if any) and
// the full toolchain output so diagnostics are never swallowed.
//
// # Format
//
// With error and output:
//
//	Cargo build failed: exit status 101
//
//	Build output:
//	error[E0425]: cannot find value `x` in this scope
//	 --> src/lib.rs:3:5
//
// With error but no output:
//
//	Cargo build failed: exit status 101
func CompileError(toolchain string, output []string, err error) error {
	outputStr := strings.TrimRight(strings.Join(output, "\n"), "\n")

	var prefix string
	if err != nil {
		prefix = fmt.Sprintf("%s build failed: %v", toolchain, err)
	} else {
		prefix = fmt.Sprintf("%s build failed", toolchain)
	}

	if outputStr != "" {
		return eris.Errorf("%s\n\nBuild output:\n%s", prefix, outputStr)
	}

	return eris.New(prefix)
}

// splitOutput turns combined process output into lines, dropping the
// trailing empty line produced by a final newline.
func splitOutput(output []byte) []string {
	text := strings.TrimRight(string(output), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// mergeEnv returns the process environment extended with the given maps.
// Later maps win over earlier ones and over the process environment.
func mergeEnv(maps ...map[string]string) []string {
	env := os.Environ()
	for _, m := range maps {
		env = append(env, mapEnv(m)...)
	}
	return env
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
