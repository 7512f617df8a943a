package pyext

import (
	"fmt"
	"runtime"
	"strings"
)

// Platform constants
const (
	platformWindows = "windows"
	platformDarwin  = "darwin"
	platformLinux   = "linux"
)

// Platform identifies the operating system and architecture an extension is built for.
//
// A platform carries three spellings of the same thing:
//   - OS/Arch: Go naming (linux/amd64), used for GOOS/GOARCH and display
//   - Triple: the Rust/LLVM target triple passed to cargo --target
//   - Tag: the platform part of CPython's EXT_SUFFIX (x86_64-linux-gnu, darwin, win_amd64)
type Platform struct {
	OS     string
	Arch   string
	Triple string
	Tag    string
}

// knownPlatforms lists the platforms the builder can name artifacts for.
// The first entry for an OS/Arch pair is the default for that pair.
var knownPlatforms = []Platform{
	{OS: platformLinux, Arch: "amd64", Triple: "x86_64-unknown-linux-gnu", Tag: "x86_64-linux-gnu"},
	{OS: platformLinux, Arch: "amd64", Triple: "x86_64-unknown-linux-musl", Tag: "x86_64-linux-musl"},
	{OS: platformLinux, Arch: "arm64", Triple: "aarch64-unknown-linux-gnu", Tag: "aarch64-linux-gnu"},
	{OS: platformLinux, Arch: "arm64", Triple: "aarch64-unknown-linux-musl", Tag: "aarch64-linux-musl"},
	{OS: platformLinux, Arch: "386", Triple: "i686-unknown-linux-gnu", Tag: "i386-linux-gnu"},
	{OS: platformLinux, Arch: "ppc64le", Triple: "powerpc64le-unknown-linux-gnu", Tag: "powerpc64le-linux-gnu"},
	{OS: platformLinux, Arch: "s390x", Triple: "s390x-unknown-linux-gnu", Tag: "s390x-linux-gnu"},
	{OS: platformDarwin, Arch: "amd64", Triple: "x86_64-apple-darwin", Tag: "darwin"},
	{OS: platformDarwin, Arch: "arm64", Triple: "aarch64-apple-darwin", Tag: "darwin"},
	{OS: platformWindows, Arch: "amd64", Triple: "x86_64-pc-windows-msvc", Tag: "win_amd64"},
	{OS: platformWindows, Arch: "arm64", Triple: "aarch64-pc-windows-msvc", Tag: "win_arm64"},
	{OS: platformWindows, Arch: "386", Triple: "i686-pc-windows-msvc", Tag: "win32"},
}

// goruntime is swapped in tests to pretend to be another host.
var goruntime = struct{ GOOS, GOARCH string }{runtime.GOOS, runtime.GOARCH}

// KnownPlatforms returns a copy of the platform table.
func KnownPlatforms() []Platform {
	return append([]Platform{}, knownPlatforms...)
}

// HostPlatform returns the platform of the running process.
func HostPlatform() (Platform, error) {
	for _, p := range knownPlatforms {
		if p.OS == goruntime.GOOS && p.Arch == goruntime.GOARCH {
			return p, nil
		}
	}
	return Platform{}, newError(KindUnsupportedPlatform, "", "",
		fmt.Errorf("host platform %s/%s is not supported", goruntime.GOOS, goruntime.GOARCH))
}

// ParsePlatform resolves a platform name.
//
// Accepted spellings:
//   - "" or "host" for the running platform
//   - a target triple such as "aarch64-apple-darwin"
//   - a Go pair such as "linux/arm64"
//
// Unknown names yield an UnsupportedPlatform error.
func ParsePlatform(name string) (Platform, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "host" {
		return HostPlatform()
	}

	for _, p := range knownPlatforms {
		if p.Triple == name {
			return p, nil
		}
	}

	if osName, arch, ok := strings.Cut(name, "/"); ok {
		for _, p := range knownPlatforms {
			if p.OS == osName && p.Arch == arch {
				return p, nil
			}
		}
	}

	return Platform{}, newError(KindUnsupportedPlatform, "", "",
		fmt.Errorf("unknown platform %q", name))
}

// String returns the target triple.
func (p Platform) String() string {
	return p.Triple
}

// IsZero reports whether p is the zero Platform.
func (p Platform) IsZero() bool {
	return p.Triple == ""
}

// IsHost reports whether p matches the running process.
func (p Platform) IsHost() bool {
	return p.OS == goruntime.GOOS && p.Arch == goruntime.GOARCH
}

// CaseInsensitiveFS reports whether the platform's default filesystem folds case.
func (p Platform) CaseInsensitiveFS() bool {
	return p.OS == platformDarwin || p.OS == platformWindows
}

// FileExtension returns the file extension CPython loads extension modules from.
// macOS uses .so as well: the interpreter does not look for .dylib.
func (p Platform) FileExtension() string {
	if p.OS == platformWindows {
		return ".pyd"
	}
	return ".so"
}

// ExtensionSuffix returns the full file name suffix of an extension module.
//
// Examples for abiTag "cpython-312":
//
//	linux/amd64   .cpython-312-x86_64-linux-gnu.so
//	darwin/arm64  .cpython-312-darwin.so
//	windows/amd64 .cp312-win_amd64.pyd
//
// Limited-API builds use .abi3.so (plain .pyd on Windows). An empty abiTag
// yields the untagged suffix, which every CPython accepts.
func (p Platform) ExtensionSuffix(abiTag string, limitedAPI bool) string {
	ext := p.FileExtension()

	if limitedAPI {
		if p.OS == platformWindows {
			return ext
		}
		return ".abi3" + ext
	}

	if abiTag == "" {
		return ext
	}

	if p.OS == platformWindows {
		return fmt.Sprintf(".%s-%s%s", windowsABITag(abiTag), p.Tag, ext)
	}
	return fmt.Sprintf(".%s-%s%s", abiTag, p.Tag, ext)
}

// windowsABITag converts "cpython-312" to "cp312".
func windowsABITag(abiTag string) string {
	if version, ok := strings.CutPrefix(abiTag, "cpython-"); ok {
		return "cp" + version
	}
	return abiTag
}

// LibraryPatterns returns the glob patterns of shared libraries toolchains emit for p.
func (p Platform) LibraryPatterns() []string {
	switch p.OS {
	case platformWindows:
		return []string{"*.dll", "*.pyd"}
	case platformDarwin:
		return []string{"*.dylib", "*.so", "*.bundle"}
	default:
		return []string{"*.so"}
	}
}

// shadowPatterns returns the sibling file globs for stem that CPython on p
// would consider when importing the module. Used to remove stale artifacts.
func (p Platform) shadowPatterns(stem string) []string {
	if p.OS == platformWindows {
		return []string{stem + ".pyd", stem + ".cp*-" + p.Tag + ".pyd"}
	}
	return []string{
		stem + ".so",
		stem + ".abi3.so",
		stem + ".cpython-*-" + p.Tag + ".so",
	}
}
