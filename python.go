package pyext

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// queryPython runs a one-line script with the interpreter and returns its trimmed stdout.
func queryPython(ctx context.Context, python, script string) (string, error) {
	cmd := exec.CommandContext(ctx, python, "-c", script)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to query %s: %w", python, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// DetectExtSuffix asks the interpreter for its EXT_SUFFIX
// (".cpython-312-x86_64-linux-gnu.so" on Linux).
func DetectExtSuffix(ctx context.Context, python string) (string, error) {
	suffix, err := queryPython(ctx, python, "import sysconfig; print(sysconfig.get_config_var('EXT_SUFFIX') or '')")
	if err != nil {
		return "", err
	}
	if suffix == "" || suffix == "None" {
		return "", fmt.Errorf("%s reports no EXT_SUFFIX", python)
	}
	return suffix, nil
}

// DetectPythonIncludeDir asks the interpreter where Python.h lives.
func DetectPythonIncludeDir(ctx context.Context, python string) (string, error) {
	dir, err := queryPython(ctx, python, "import sysconfig; print(sysconfig.get_paths()['include'])")
	if err != nil {
		return "", err
	}
	return dir, nil
}

// ABITagFromSuffix extracts the ABI tag from an extension suffix:
// ".cpython-312-x86_64-linux-gnu.so" -> "cpython-312", ".abi3.so" -> "abi3",
// ".so" -> "".
func ABITagFromSuffix(suffix string) string {
	trimmed := strings.TrimPrefix(suffix, ".")
	parts := strings.Split(trimmed, ".")
	if len(parts) < 2 {
		return ""
	}
	tag := parts[0]

	switch {
	case tag == "abi3":
		return tag
	case strings.HasPrefix(tag, "cpython-"), strings.HasPrefix(tag, "pypy"):
		// Drop the platform part: cpython-312-x86_64-linux-gnu -> cpython-312
		if fields := strings.SplitN(tag, "-", 3); len(fields) >= 2 {
			return fields[0] + "-" + fields[1]
		}
		return tag
	case strings.HasPrefix(tag, "cp"):
		// Windows spelling: cp312-win_amd64 -> cpython-312
		version, _, _ := strings.Cut(strings.TrimPrefix(tag, "cp"), "-")
		return "cpython-" + version
	default:
		return tag
	}
}

// validateExtSuffix checks that an explicit suffix override can be imported on p.
func validateExtSuffix(suffix string, p Platform) error {
	if !strings.HasPrefix(suffix, ".") {
		return fmt.Errorf("extension suffix %q must start with a dot", suffix)
	}
	if !strings.HasSuffix(suffix, p.FileExtension()) {
		return fmt.Errorf("extension suffix %q does not end in %s for %s", suffix, p.FileExtension(), p)
	}
	return nil
}
