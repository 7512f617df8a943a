package pyext

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
)

func TestToolchainFactory(t *testing.T) {
	factory := NewToolchainFactory(&BuildConfig{})

	// Test that all expected toolchains are registered
	toolchains := factory.ListToolchains()
	if len(toolchains) != 6 {
		t.Errorf("Expected 6 toolchains, got %d", len(toolchains))
	}

	// Test toolchain detection for each type
	testCases := []struct {
		sourceFile   string
		expectedName string
	}{
		{"Cargo.toml", "Cargo"},
		{"rust/Cargo.toml", "Cargo"},
		{"ext/CMakeLists.txt", "CMake"},
		{"ext/Makefile", "Make"},
		{"ext/GNUmakefile", "Make"},
		{"src/module.c", "CC"},
		{"src/module.cpp", "CC"},
		{"src/module.CC", "CC"},
		{"go/go.mod", "Go"},
		{"go/main.go", "Go"},
		{"zig/native.zig", "Zig"},
	}

	for _, tc := range testCases {
		t.Run(tc.sourceFile, func(t *testing.T) {
			toolchain, err := factory.ToolchainFor(tc.sourceFile)
			if err != nil {
				t.Fatalf("Expected toolchain for %s, got error: %v", tc.sourceFile, err)
			}

			if toolchain.Name() != tc.expectedName {
				t.Errorf("Expected toolchain %s for %s, got %s", tc.expectedName, tc.sourceFile, toolchain.Name())
			}
		})
	}

	// Test unsupported source
	_, err := factory.ToolchainFor("setup.py")
	if err == nil {
		t.Error("Expected error for unsupported source file")
	}
}

func TestToolchainFactoryExtraToolchainsTakePrecedence(t *testing.T) {
	custom, err := NewCommandToolchain(&CommandToolchainConfig{
		Name:     "MyRust",
		Patterns: []string{"Cargo.toml"},
		Command:  `maturin build`,
	})
	if err != nil {
		t.Fatal(err)
	}

	factory := NewToolchainFactory(&BuildConfig{}, custom)
	toolchain, err := factory.ToolchainFor("Cargo.toml")
	if err != nil {
		t.Fatal(err)
	}
	if toolchain.Name() != "MyRust" {
		t.Errorf("Expected custom toolchain first, got %s", toolchain.Name())
	}

	if found, ok := factory.Lookup("cargo"); !ok || found.Name() != "Cargo" {
		t.Errorf("Expected case-insensitive lookup of Cargo, got %v %v", found, ok)
	}
	if _, ok := factory.Lookup("maven"); ok {
		t.Error("Expected unknown toolchain lookup to fail")
	}
}

func TestToolchainDetection(t *testing.T) {
	testCases := []struct {
		name         string
		toolchain    Toolchain
		validFiles   []string
		invalidFiles []string
	}{
		{
			name:         "Cargo",
			toolchain:    NewCargoToolchain(&BuildConfig{}),
			validFiles:   []string{"Cargo.toml"},
			invalidFiles: []string{"cargo.toml", "Cargo.lock", "CMakeLists.txt"},
		},
		{
			name:         "CMake",
			toolchain:    NewCMakeToolchain(&BuildConfig{}),
			validFiles:   []string{"CMakeLists.txt"},
			invalidFiles: []string{"cmake.txt", "Makefile"},
		},
		{
			name:         "Make",
			toolchain:    NewMakefileToolchain(&BuildConfig{}),
			validFiles:   []string{"Makefile", "makefile", "GNUmakefile"},
			invalidFiles: []string{"Makefile.am", "CMakeLists.txt"},
		},
		{
			name:         "CC",
			toolchain:    NewCCToolchain(&BuildConfig{}),
			validFiles:   []string{"module.c", "module.cc", "module.cpp", "module.cxx"},
			invalidFiles: []string{"module.h", "module.go", "module.pyx"},
		},
		{
			name:         "Go",
			toolchain:    NewGoToolchain(&BuildConfig{}),
			validFiles:   []string{"go.mod", "main.go"},
			invalidFiles: []string{"go.sum", "main.c"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for _, file := range tc.validFiles {
				if !tc.toolchain.CanBuild(file) {
					t.Errorf("%s should be able to build %s", tc.name, file)
				}
			}
			for _, file := range tc.invalidFiles {
				if tc.toolchain.CanBuild(file) {
					t.Errorf("%s should not be able to build %s", tc.name, file)
				}
			}
		})
	}
}

func TestToolchainPlatformSupport(t *testing.T) {
	defer func(saved struct{ GOOS, GOARCH string }) { goruntime = saved }(goruntime)
	goruntime.GOOS, goruntime.GOARCH = platformLinux, "amd64"

	host := linuxPlatform(t)
	arm, _ := ParsePlatform("linux/arm64")
	windows, _ := ParsePlatform("windows/amd64")

	cross := &BuildConfig{CrossCompilers: map[string]string{arm.Triple: "aarch64-linux-gnu-gcc"}}

	testCases := []struct {
		name      string
		toolchain Toolchain
		platform  Platform
		expected  bool
	}{
		{"cargo cross", NewCargoToolchain(&BuildConfig{}), windows, true},
		{"cmake host", NewCMakeToolchain(&BuildConfig{}), host, true},
		{"cmake cross without toolchain file", NewCMakeToolchain(&BuildConfig{}), arm, false},
		{"cmake cross with toolchain file", NewCMakeToolchain(&BuildConfig{CMakeToolchainFile: "arm.cmake"}), arm, true},
		{"make cross", NewMakefileToolchain(&BuildConfig{}), arm, false},
		{"cc cross without compiler", NewCCToolchain(&BuildConfig{}), arm, false},
		{"cc cross with compiler", NewCCToolchain(cross), arm, true},
		{"cc windows", NewCCToolchain(&BuildConfig{}), windows, false},
		{"go cross with compiler", NewGoToolchain(cross), arm, true},
		{"go cross without compiler", NewGoToolchain(&BuildConfig{}), windows, false},
		{"zig anywhere", NewZigToolchain(&BuildConfig{}), windows, true},
	}

	for _, tc := range testCases {
		if got := tc.toolchain.Supports(tc.platform); got != tc.expected {
			t.Errorf("%s: Supports(%s) = %v, expected %v", tc.name, tc.platform, got, tc.expected)
		}
	}
}

func testRequest(t *testing.T, platform Platform, source string, target ExtensionTarget) *CompileRequest {
	t.Helper()
	root := t.TempDir()
	sourcePath := filepath.Join(root, source)
	writeTestFile(t, sourcePath, "")

	work := filepath.Join(root, "build", target.Module)
	return &CompileRequest{
		Target:     target,
		SourcePath: sourcePath,
		SourceDir:  filepath.Dir(sourcePath),
		WorkDir:    work,
		OutputDir:  filepath.Join(work, "out"),
		Platform:   platform,
		Config:     &BuildConfig{Jobs: 3, PythonExecutable: "python3.12"},
	}
}

func TestCargoArgs(t *testing.T) {
	darwin, _ := ParsePlatform("darwin/arm64")
	req := testRequest(t, darwin, "Cargo.toml", ExtensionTarget{
		Module:   "my_package.my_module",
		Features: []string{"pyo3/extension-module", "simd"},
		Args:     []string{"--offline"},
	})
	writeTestFile(t, filepath.Join(req.SourceDir, "Cargo.lock"), "")

	cargo := NewCargoToolchain(req.Config)
	args := cargo.cargoArgs(req)
	joined := strings.Join(args, " ")

	for _, expected := range []string{
		"rustc --lib --manifest-path " + req.SourcePath,
		"--target aarch64-apple-darwin",
		"--crate-type cdylib",
		"--release",
		"--features pyo3/extension-module,simd",
		"--locked",
		"--jobs 3",
		"--offline --",
		"--remap-path-prefix=" + req.SourceDir + "=.",
		"-C link-arg=-undefined -C link-arg=dynamic_lookup",
	} {
		if !strings.Contains(joined, expected) {
			t.Errorf("Expected %q in cargo args: %s", expected, joined)
		}
	}

	env := cargo.env(req)
	for _, expected := range []string{
		"CARGO_TARGET_DIR=" + filepath.Join(req.WorkDir, "target"),
		"PYO3_PYTHON=python3.12",
		"SOURCE_DATE_EPOCH=315532800",
	} {
		if !slices.Contains(env, expected) {
			t.Errorf("Expected %s in cargo env", expected)
		}
	}
}

func TestCargoDebugLimitedAPI(t *testing.T) {
	req := testRequest(t, linuxPlatform(t), "Cargo.toml", ExtensionTarget{Module: "native", Debug: true, LimitedAPI: true})
	cargo := NewCargoToolchain(req.Config)

	if slices.Contains(cargo.cargoArgs(req), "--release") {
		t.Error("Expected no --release for debug builds")
	}
	if slices.Contains(cargo.cargoArgs(req), "--locked") {
		t.Error("Expected no --locked without Cargo.lock")
	}
	if cargo.profile(req) != "debug" {
		t.Errorf("Expected debug profile, got %s", cargo.profile(req))
	}
	if !slices.Contains(cargo.env(req), "PYO3_USE_ABI3_FORWARD_COMPATIBILITY=1") {
		t.Error("Expected abi3 forward compatibility for limited API builds")
	}
}

func TestCMakeConfigureArgs(t *testing.T) {
	req := testRequest(t, linuxPlatform(t), "CMakeLists.txt", ExtensionTarget{Module: "pkg._core", Debug: true})
	req.Config.CMakeToolchainFile = "/toolchains/arm.cmake"
	cmake := NewCMakeToolchain(req.Config)

	joined := strings.Join(cmake.configureArgs(req), " ")
	for _, expected := range []string{
		"-S " + req.SourceDir,
		"-B " + filepath.Join(req.WorkDir, "cmake"),
		"-DCMAKE_BUILD_TYPE=Debug",
		"-DCMAKE_LIBRARY_OUTPUT_DIRECTORY=" + req.OutputDir,
		"-DPYEXT_MODULE_NAME=_core",
		"-DPython_EXECUTABLE=python3.12",
		"-DCMAKE_TOOLCHAIN_FILE=/toolchains/arm.cmake",
	} {
		if !strings.Contains(joined, expected) {
			t.Errorf("Expected %q in cmake args: %s", expected, joined)
		}
	}
}

func TestCCCompileArgs(t *testing.T) {
	linux := linuxPlatform(t)
	req := testRequest(t, linux, "speedups.c", ExtensionTarget{Module: "pkg._speedups", LimitedAPI: true})
	cc := NewCCToolchain(req.Config)

	args := cc.compileArgs(req, "/usr/include/python3.12")
	joined := strings.Join(args, " ")
	for _, expected := range []string{
		"-shared -fPIC",
		"-O2",
		"-I/usr/include/python3.12",
		"-DPy_LIMITED_API=0x03080000",
		"-ffile-prefix-map=" + req.SourceDir + "=.",
		"-o " + filepath.Join(req.OutputDir, "_speedups.so") + " " + req.SourcePath,
	} {
		if !strings.Contains(joined, expected) {
			t.Errorf("Expected %q in cc args: %s", expected, joined)
		}
	}

	darwin, _ := ParsePlatform("darwin/arm64")
	req.Platform = darwin
	if joined := strings.Join(cc.compileArgs(req, ""), " "); !strings.Contains(joined, "-bundle -undefined dynamic_lookup") {
		t.Errorf("Expected macOS bundle flags, got %s", joined)
	}
}

func TestCCCompilerSelection(t *testing.T) {
	defer func(saved struct{ GOOS, GOARCH string }) { goruntime = saved }(goruntime)
	goruntime.GOOS, goruntime.GOARCH = platformLinux, "amd64"
	withFakePath(t, "gcc-13", "c++", "aarch64-linux-gnu-gcc")

	arm, _ := ParsePlatform("linux/arm64")
	cc := NewCCToolchain(&BuildConfig{CC: "gcc-13", CrossCompilers: map[string]string{arm.Triple: "aarch64-linux-gnu-gcc"}})

	c := testRequest(t, linuxPlatform(t), "a.c", ExtensionTarget{Module: "a"})
	cpp := testRequest(t, linuxPlatform(t), "a.cpp", ExtensionTarget{Module: "a"})
	crossReq := testRequest(t, arm, "a.c", ExtensionTarget{Module: "a"})

	if got := cc.compiler(c); got != "gcc-13" {
		t.Errorf("Expected gcc-13 for C, got %s", got)
	}
	if got := cc.compiler(cpp); got != "c++" {
		t.Errorf("Expected c++ for C++, got %s", got)
	}
	if got := cc.compiler(crossReq); got != "aarch64-linux-gnu-gcc" {
		t.Errorf("Expected cross compiler, got %s", got)
	}
}

func TestCCFallsBackToAvailableCompiler(t *testing.T) {
	defer func(saved struct{ GOOS, GOARCH string }) { goruntime = saved }(goruntime)
	goruntime.GOOS, goruntime.GOARCH = platformLinux, "amd64"
	withFakePath(t, "gcc")

	linux := linuxPlatform(t)
	arm, _ := ParsePlatform("linux/arm64")
	cc := NewCCToolchain(&BuildConfig{CrossCompilers: map[string]string{arm.Triple: "aarch64-linux-gnu-gcc"}})

	if err := cc.CheckTools(); err != nil {
		t.Errorf("Expected gcc to satisfy the C compiler, got %v", err)
	}
	if got := cc.compiler(testRequest(t, linux, "a.c", ExtensionTarget{Module: "a"})); got != "gcc" {
		t.Errorf("Expected gcc to be run, got %s", got)
	}

	testCases := []struct {
		name      string
		source    string
		platform  Platform
		expectErr string
	}{
		{"c source", "a.c", linux, ""},
		{"c++ source", "a.cpp", linux, "C++ compiler"},
		{"cross target", "a.c", arm, "aarch64-linux-gnu-gcc"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := cc.CheckToolsFor(tc.source, tc.platform)
			if tc.expectErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.expectErr) {
				t.Errorf("Expected error mentioning %q, got %v", tc.expectErr, err)
			}
		})
	}
}

func TestGoResolvesCgoCompiler(t *testing.T) {
	defer func(saved struct{ GOOS, GOARCH string }) { goruntime = saved }(goruntime)
	goruntime.GOOS, goruntime.GOARCH = platformLinux, "amd64"
	withFakePath(t, "go", "clang")

	arm, _ := ParsePlatform("linux/arm64")
	toolchain := NewGoToolchain(&BuildConfig{CrossCompilers: map[string]string{arm.Triple: "aarch64-linux-gnu-gcc"}})

	if err := toolchain.CheckToolsFor("go.mod", linuxPlatform(t)); err != nil {
		t.Errorf("Expected clang to satisfy cgo, got %v", err)
	}
	if cc, ok := ResolveTool(toolchain.cCompilerFor(linuxPlatform(t))); !ok || cc != "clang" {
		t.Errorf("Expected clang as CC, got %q", cc)
	}
	if err := toolchain.CheckToolsFor("go.mod", arm); err == nil || !strings.Contains(err.Error(), "aarch64-linux-gnu-gcc") {
		t.Errorf("Expected missing cross compiler, got %v", err)
	}
}

func TestBuildWithOnlyGCCOnPath(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes, skipping in short mode")
	}
	if runtime.GOOS == "windows" {
		t.Skip("shell script compiler, skipping on windows")
	}
	host, err := HostPlatform()
	if err != nil {
		t.Skipf("unsupported host: %v", err)
	}

	// A stand-in gcc that writes its -o argument
	bin := t.TempDir()
	writeTestFile(t, filepath.Join(bin, "gcc"), "#!/bin/sh\nwhile [ $# -gt 0 ]; do\n  if [ \"$1\" = \"-o\" ]; then shift; printf lib > \"$1\"; fi\n  shift\ndone\n")
	if err := os.Chmod(filepath.Join(bin, "gcc"), 0o755); err != nil {
		t.Fatal(err)
	}
	isolateLockDir(t)
	t.Setenv("PATH", bin)

	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "src", "native.c"), "int x;")

	config := &BuildConfig{Root: root, ABITag: "cpython-312"}
	factory := &ToolchainFactory{}
	factory.Register(NewCCToolchain(config))
	builder, err := NewBuilder(config, factory)
	if err != nil {
		t.Fatal(err)
	}

	report, err := builder.Build(context.Background(), []ExtensionTarget{{Module: "pkg.native", Source: "src/native.c"}}, host)
	if err != nil {
		t.Fatal(err)
	}
	res := report.Results[0]
	if res.State != StateBuilt {
		t.Fatalf("Expected build with gcc to succeed, got %s (%v)", res.State, res.Err)
	}
	data, err := os.ReadFile(res.Artifact.Path)
	if err != nil || string(data) != "lib" {
		t.Errorf("Expected gcc output in the layout, got %q (%v)", data, err)
	}
}

func TestMakeArgs(t *testing.T) {
	req := testRequest(t, linuxPlatform(t), "Makefile", ExtensionTarget{Module: "pkg.native", Args: []string{"WITH_SIMD=1"}})
	toolchain := NewMakefileToolchain(&BuildConfig{Make: "gmake"})

	args := toolchain.makeArgs(req)
	for _, expected := range []string{
		"-j3",
		"PYEXT_OUTPUT=" + filepath.Join(req.OutputDir, "native.so"),
		"PYEXT_MODULE=pkg.native",
		"PYTHON=python3.12",
		"WITH_SIMD=1",
	} {
		if !slices.Contains(args, expected) {
			t.Errorf("Expected %q in make args: %v", expected, args)
		}
	}
	if toolchain.make != "gmake" {
		t.Errorf("Expected configured make program, got %s", toolchain.make)
	}
}
