// Package manifest reads extension declarations from pyext.toml or pyext.yaml.
//
// A declaration names the Python distribution and lists the native
// extension targets to build:
//
//	[package]
//	name = "predictables_rs"
//	version = "0.1"
//	packages = ["predictables_rs"]
//
//	[[extension]]
//	module = "predictables_rs.core"
//	source = "Cargo.toml"
//
// Unknown keys are rejected so typos never silently drop a setting.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/contriboss/python-extension-go"
)

// FileNames are the declaration files looked up in a directory, in order.
var FileNames = []string{"pyext.toml", "pyext.yaml", "pyext.yml"}

// distributionName follows the PEP 508 name rule.
var distributionName = regexp.MustCompile(`(?i)^([a-z0-9]|[a-z0-9][a-z0-9._-]*[a-z0-9])$`)

// Package is the [package] table.
type Package struct {
	Name     string
	Version  *semver.Version
	Packages []string
}

// Declaration is a loaded, validated declaration file.
//
// Targets are returned by value; callers get their own copy.
type Declaration struct {
	Path     string // Absolute path of the file
	Root     string // Directory relative sources resolve against
	Package  Package
	Warnings []string

	targets []pyext.ExtensionTarget
}

// Targets returns a copy of the declared extension targets.
func (d *Declaration) Targets() []pyext.ExtensionTarget {
	out := make([]pyext.ExtensionTarget, len(d.targets))
	for i, target := range d.targets {
		target.Features = slices.Clone(target.Features)
		target.Args = slices.Clone(target.Args)
		target.Env = maps.Clone(target.Env)
		out[i] = target
	}
	return out
}

// Find returns the first declaration file in dir.
func Find(dir string) (string, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", declarationError(dir, fmt.Errorf("no declaration file found (looked for %s)", strings.Join(FileNames, ", ")))
}

// Load reads a declaration. path may be a file or a directory to search.
//
// Every failure is a *pyext.BuildError of kind DeclarationError.
func Load(path string) (*Declaration, error) {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, declarationError(path, err)
	}

	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		abs, err = Find(abs)
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, declarationError(abs, eris.Wrap(err, "failed to read declaration"))
	}

	return Parse(abs, data)
}

// Parse decodes and validates declaration data. The format follows the
// file extension of path; anything but .yaml/.yml is TOML.
func Parse(path string, data []byte) (*Declaration, error) {
	var dto fileDTO
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = decodeYAML(data, &dto)
	default:
		err = decodeTOML(data, &dto)
	}
	if err != nil {
		return nil, declarationError(path, err)
	}

	return mapDeclaration(path, dto)
}

func decodeTOML(data []byte, dto *fileDTO) error {
	d := toml.NewDecoder(bytes.NewReader(data))
	d.DisallowUnknownFields()
	if err := d.Decode(dto); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("unknown keys:\n%s", strict.String())
		}
		return eris.Wrap(err, "invalid TOML")
	}
	return nil
}

func decodeYAML(data []byte, dto *fileDTO) error {
	d := yaml.NewDecoder(bytes.NewReader(data))
	d.KnownFields(true)
	if err := d.Decode(dto); err != nil && !errors.Is(err, io.EOF) {
		return eris.Wrap(err, "invalid YAML")
	}
	return nil
}

func mapDeclaration(path string, dto fileDTO) (*Declaration, error) {
	name := strings.TrimSpace(dto.Package.Name)
	if name == "" {
		return nil, invalidField(path, "package.name", "is required")
	}
	if !distributionName.MatchString(name) {
		return nil, invalidField(path, "package.name", fmt.Sprintf("%q is not a valid distribution name", name))
	}

	pkg := Package{Name: name, Packages: slices.Clone(dto.Package.Packages)}
	if strings.TrimSpace(dto.Package.Version) != "" {
		version, err := semver.NewVersion(strings.TrimSpace(dto.Package.Version))
		if err != nil {
			return nil, invalidField(path, "package.version", err.Error())
		}
		pkg.Version = version
	}

	decl := &Declaration{
		Path:    path,
		Root:    filepath.Dir(path),
		Package: pkg,
	}

	for i, ext := range dto.Extensions {
		field := fmt.Sprintf("extension[%d]", i)
		module := strings.TrimSpace(ext.Module)
		if err := pyext.ValidateModuleName(module); err != nil {
			return nil, invalidField(path, field+".module", err.Error())
		}
		if ext.Source != "" && strings.TrimSpace(ext.Source) == "" {
			return nil, invalidField(path, field+".source", "must not be blank")
		}

		decl.targets = append(decl.targets, pyext.ExtensionTarget{
			Module:     module,
			Source:     ext.Source,
			Toolchain:  ext.Toolchain,
			Optional:   ext.Optional,
			LimitedAPI: ext.LimitedAPI,
			Debug:      ext.Debug,
			Features:   ext.Features,
			Args:       ext.Args,
			Env:        ext.Env,
		})

		if warning := packageWarning(pkg.Packages, module); warning != "" {
			decl.Warnings = append(decl.Warnings, warning)
		}
	}

	return decl, nil
}

// packageWarning flags extensions whose top-level package is not in the
// distribution's package list: the module would build but never ship.
func packageWarning(packages []string, module string) string {
	top, _, nested := strings.Cut(module, ".")
	if !nested || len(packages) == 0 {
		return ""
	}
	for _, pkg := range packages {
		if pkg == top || strings.HasPrefix(pkg, top+".") {
			return ""
		}
	}
	return fmt.Sprintf("extension %s: package %q is not listed in package.packages %v", module, top, packages)
}

func invalidField(path, field, msg string) error {
	return declarationError(path, fmt.Errorf("%s: %s", field, msg))
}

func declarationError(path string, err error) error {
	return &pyext.BuildError{
		Kind: pyext.KindDeclaration,
		Err:  fmt.Errorf("%s: %w", path, err),
	}
}
