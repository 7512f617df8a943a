package pyext

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ToolchainFactory manages the registration and selection of toolchains.
//
// # Usage
//
// Create a factory with all standard toolchains:
//
//	factory := pyext.NewToolchainFactory(config)
//
// Or create an empty factory and register custom toolchains:
//
//	factory := &pyext.ToolchainFactory{}
//	factory.Register(&MyToolchain{})
//
// # Toolchain Selection
//
// For a target without an explicit toolchain name, the factory:
//  1. Extracts the file name from the source path
//  2. Calls CanBuild() on each registered toolchain in order
//  3. Uses the first toolchain that returns true
//
// # Thread Safety
//
// Registration is NOT thread-safe. Register all toolchains before the
// factory is handed to a Builder; lookups are safe afterwards.
type ToolchainFactory struct {
	toolchains []Toolchain
}

// NewToolchainFactory creates a factory with the standard toolchains.
//
// Extra toolchains are registered first so they take precedence over the
// standard ones. The standard toolchains are registered in this order:
//  1. CargoToolchain - Cargo.toml
//  2. CMakeToolchain - CMakeLists.txt
//  3. MakefileToolchain - Makefile, GNUmakefile
//  4. CCToolchain - *.c, *.cc, *.cpp, *.cxx
//  5. GoToolchain - go.mod, *.go
//  6. Zig (CommandToolchain) - *.zig
func NewToolchainFactory(config *BuildConfig, extra ...Toolchain) *ToolchainFactory {
	factory := &ToolchainFactory{}

	for _, toolchain := range extra {
		factory.Register(toolchain)
	}

	factory.Register(NewCargoToolchain(config))
	factory.Register(NewCMakeToolchain(config))
	factory.Register(NewMakefileToolchain(config))
	factory.Register(NewCCToolchain(config))
	factory.Register(NewGoToolchain(config))
	factory.Register(NewZigToolchain(config))

	return factory
}

// Register adds a toolchain to the factory.
// Toolchains are checked in the order they are registered.
func (f *ToolchainFactory) Register(toolchain Toolchain) {
	f.toolchains = append(f.toolchains, toolchain)
}

// Lookup returns the toolchain registered under name (case-insensitive).
func (f *ToolchainFactory) Lookup(name string) (Toolchain, bool) {
	for _, toolchain := range f.toolchains {
		if strings.EqualFold(toolchain.Name(), name) {
			return toolchain, true
		}
	}
	return nil, false
}

// ToolchainFor returns the first toolchain that can build sourceFile.
// Only the base file name is used for matching.
func (f *ToolchainFactory) ToolchainFor(sourceFile string) (Toolchain, error) {
	filename := filepath.Base(sourceFile)

	for _, toolchain := range f.toolchains {
		if toolchain.CanBuild(filename) {
			return toolchain, nil
		}
	}

	return nil, fmt.Errorf("no toolchain found for source file: %s", filename)
}

// ListToolchains returns a copy of all registered toolchains.
func (f *ToolchainFactory) ListToolchains() []Toolchain {
	return append([]Toolchain{}, f.toolchains...)
}
