package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/contriboss/python-extension-go"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const tomlDeclaration = `
[package]
name = "predictables_rs"
version = "0.1"
packages = ["predictables_rs"]

[[extension]]
module = "predictables_rs.core"

[[extension]]
module = "predictables_rs.fast"
source = "native/fast.c"
optional = true
limited_api = true
args = ["-O3"]
env = { FAST = "1" }
`

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pyext.toml", tomlDeclaration)

	decl, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if decl.Package.Name != "predictables_rs" {
		t.Errorf("Expected package name predictables_rs, got %s", decl.Package.Name)
	}
	if decl.Package.Version == nil || decl.Package.Version.String() != "0.1.0" {
		t.Errorf("Expected version 0.1.0, got %v", decl.Package.Version)
	}
	if decl.Root != dir {
		t.Errorf("Expected root %s, got %s", dir, decl.Root)
	}
	if len(decl.Warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", decl.Warnings)
	}

	targets := decl.Targets()
	if len(targets) != 2 {
		t.Fatalf("Expected 2 targets, got %d", len(targets))
	}
	if targets[0].Module != "predictables_rs.core" || targets[0].SourceOrDefault() != pyext.DefaultSource {
		t.Errorf("Unexpected first target %+v", targets[0])
	}
	fast := targets[1]
	if fast.Source != "native/fast.c" || !fast.Optional || !fast.LimitedAPI {
		t.Errorf("Unexpected second target %+v", fast)
	}
	if len(fast.Args) != 1 || fast.Args[0] != "-O3" || fast.Env["FAST"] != "1" {
		t.Errorf("Expected args and env to be carried, got %+v", fast)
	}
}

func TestTargetsReturnsCopies(t *testing.T) {
	path := writeFile(t, t.TempDir(), "pyext.toml", tomlDeclaration)
	decl, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	first := decl.Targets()
	first[1].Args[0] = "-O0"
	first[1].Env["FAST"] = "0"

	second := decl.Targets()
	if second[1].Args[0] != "-O3" || second[1].Env["FAST"] != "1" {
		t.Errorf("Expected declaration targets to be unaffected by caller edits, got %+v", second[1])
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pyext.yaml", `
package:
  name: demo
  packages: [demo]
extension:
  - module: demo._speedups
    source: speedups.go
    toolchain: Go
`)

	decl, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if decl.Package.Version != nil {
		t.Errorf("Expected no version, got %v", decl.Package.Version)
	}

	targets := decl.Targets()
	if len(targets) != 1 || targets[0].Toolchain != "Go" || targets[0].Source != "speedups.go" {
		t.Errorf("Unexpected targets %+v", targets)
	}
}

func TestFindPrefersTOML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pyext.yml", "package:\n  name: demo\n")
	writeFile(t, dir, "pyext.toml", "[package]\nname = \"demo\"\n")

	path, err := Find(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "pyext.toml" {
		t.Errorf("Expected pyext.toml, got %s", path)
	}
}

func TestLoadErrors(t *testing.T) {
	testCases := []struct {
		name     string
		file     string
		contents string
		contains string
	}{
		{"missing name", "pyext.toml", "[package]\nversion = \"1.0\"\n", "package.name"},
		{"invalid name", "pyext.toml", "[package]\nname = \"-demo\"\n", "package.name"},
		{"invalid version", "pyext.toml", "[package]\nname = \"demo\"\nversion = \"one\"\n", "package.version"},
		{"unknown key", "pyext.toml", "[package]\nname = \"demo\"\n\n[[extension]]\nmodul = \"demo.x\"\n", "unknown keys"},
		{"bad module", "pyext.toml", "[package]\nname = \"demo\"\n\n[[extension]]\nmodule = \"demo.class\"\n", "extension[0].module"},
		{"blank source", "pyext.toml", "[package]\nname = \"demo\"\n\n[[extension]]\nmodule = \"demo.x\"\nsource = \"  \"\n", "extension[0].source"},
		{"invalid toml", "pyext.toml", "[package\n", "invalid TOML"},
		{"unknown yaml key", "pyext.yaml", "package:\n  name: demo\n  nmae: x\n", "invalid YAML"},
		{"empty yaml", "pyext.yaml", "", "package.name"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), tc.file, tc.contents)

			_, err := Load(path)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !errors.Is(err, pyext.ErrDeclaration) {
				t.Errorf("Expected a declaration error, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.contains) {
				t.Errorf("Expected error to mention %q, got %v", tc.contains, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	if !errors.Is(err, pyext.ErrDeclaration) {
		t.Errorf("Expected a declaration error for a directory without a declaration, got %v", err)
	}

	_, err = Load(filepath.Join(t.TempDir(), "pyext.toml"))
	if !errors.Is(err, pyext.ErrDeclaration) {
		t.Errorf("Expected a declaration error for a missing file, got %v", err)
	}
}

func TestPackageWarning(t *testing.T) {
	path := writeFile(t, t.TempDir(), "pyext.toml", `
[package]
name = "predictables_rs"
packages = ["predictables_rs"]

[[extension]]
module = "my_package.native"

[[extension]]
module = "toplevel"
`)

	decl, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(decl.Warnings) != 1 {
		t.Fatalf("Expected one warning, got %v", decl.Warnings)
	}
	if !strings.Contains(decl.Warnings[0], `"my_package"`) {
		t.Errorf("Expected warning to name my_package, got %s", decl.Warnings[0])
	}
}
