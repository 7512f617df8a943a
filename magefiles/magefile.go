//go:build mage

// Development tasks for python-extension-go. Run "mage -l" to list them.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Default target to run when none is specified.
var Default = Build

const binary = "pyext"

func binaryPath() string {
	name := binary
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join("bin", name)
}

// Build compiles the pyext command into bin/.
func Build() error {
	version, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil || version == "" {
		version = "dev"
	}
	ldflags := fmt.Sprintf("-X github.com/contriboss/python-extension-go/internal/cli.Version=%s", version)
	return sh.RunV("go", "build", "-trimpath", "-ldflags", ldflags, "-o", binaryPath(), "./cmd/pyext")
}

// Test runs the unit tests with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "-count=1", "./...")
}

// Short runs the tests that do not spawn toolchain processes.
func Short() error {
	return sh.RunV("go", "test", "-short", "./...")
}

// Lint runs go vet and, when installed, staticcheck.
func Lint() error {
	if err := sh.RunV("go", "vet", "./..."); err != nil {
		return err
	}
	if _, err := sh.Output("staticcheck", "-version"); err != nil {
		fmt.Println("staticcheck not installed, skipping")
		return nil
	}
	return sh.RunV("staticcheck", "./...")
}

// Check runs Lint and Test.
func Check() {
	mg.SerialDeps(Lint, Test)
}

// Clean removes build outputs.
func Clean() error {
	return os.RemoveAll("bin")
}
