// Package pyext compiles native extension modules for Python packages.
//
// It plays the role setuptools-rust and setuptools' build_ext play for a
// setup.py build: each declared target names a dotted module path and a
// native source unit; the builder compiles it with a matching toolchain and
// publishes the shared library where the interpreter's import system will
// find it.
//
// # Supported Toolchains
//
// The package includes toolchains for:
//   - Cargo.toml - Rust extensions (pyo3, rust-cpython) via cargo rustc
//   - CMakeLists.txt - C/C++ extensions (pybind11, nanobind)
//   - Makefile - hand-written Makefiles
//   - *.c, *.cpp - single-unit C/C++ extensions compiled directly
//   - go.mod, *.go - cgo c-shared libraries
//   - *.zig - Zig build-lib
//
// Additional toolchains are described by a command line (CommandToolchain)
// or implemented against the Toolchain interface.
//
// # Basic Usage
//
//	config := &pyext.BuildConfig{
//	    Root:             "/path/to/project",
//	    PythonExecutable: "python3",
//	    DetectSuffix:     true,
//	}
//	builder, err := pyext.NewBuilder(config, nil)
//
//	targets := []pyext.ExtensionTarget{
//	    {Module: "my_package.my_module"}, // Cargo.toml
//	    {Module: "my_package._speedups", Source: "src/speedups.c"},
//	}
//	platform, _ := pyext.HostPlatform()
//	report, err := builder.Build(ctx, targets, platform)
//
// report.Results holds one result per target; report.Err() joins the
// failures of non-optional targets.
//
// # Layout
//
// Module pkg.sub.native built by CPython 3.12 on x86_64 Linux lands at:
//
//	<LayoutDir>/pkg/sub/native.cpython-312-x86_64-linux-gnu.so
//
// Publishing is atomic and serialized per destination. Stale artifacts for
// the same module that would shadow the new one are removed.
//
// # Logging
//
// Builders log through the zerolog logger attached with WithLogger.
//
// # Requirements
//
// Requires Go 1.25 or later.
package pyext
