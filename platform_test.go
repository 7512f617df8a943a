package pyext

import (
	"errors"
	"testing"
)

func TestParsePlatform(t *testing.T) {
	testCases := []struct {
		name   string
		triple string
		tag    string
	}{
		{"x86_64-unknown-linux-gnu", "x86_64-unknown-linux-gnu", "x86_64-linux-gnu"},
		{"linux/arm64", "aarch64-unknown-linux-gnu", "aarch64-linux-gnu"},
		{"x86_64-unknown-linux-musl", "x86_64-unknown-linux-musl", "x86_64-linux-musl"},
		{"darwin/arm64", "aarch64-apple-darwin", "darwin"},
		{"windows/amd64", "x86_64-pc-windows-msvc", "win_amd64"},
		{" i686-pc-windows-msvc ", "i686-pc-windows-msvc", "win32"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParsePlatform(tc.name)
			if err != nil {
				t.Fatalf("ParsePlatform(%q) failed: %v", tc.name, err)
			}
			if p.Triple != tc.triple || p.Tag != tc.tag {
				t.Errorf("Expected %s/%s, got %s/%s", tc.triple, tc.tag, p.Triple, p.Tag)
			}
		})
	}
}

func TestParsePlatformUnknown(t *testing.T) {
	for _, name := range []string{"plan9/amd64", "sparc-sun-solaris", "linux"} {
		_, err := ParsePlatform(name)
		if !errors.Is(err, ErrUnsupportedPlatform) {
			t.Errorf("ParsePlatform(%q): expected UnsupportedPlatform, got %v", name, err)
		}
	}
}

func TestHostPlatform(t *testing.T) {
	defer func(saved struct{ GOOS, GOARCH string }) { goruntime = saved }(goruntime)

	goruntime.GOOS, goruntime.GOARCH = platformDarwin, "arm64"
	for _, name := range []string{"", "host"} {
		p, err := ParsePlatform(name)
		if err != nil {
			t.Fatalf("ParsePlatform(%q) failed: %v", name, err)
		}
		if p.Triple != "aarch64-apple-darwin" || !p.IsHost() {
			t.Errorf("Expected host aarch64-apple-darwin, got %s (host=%v)", p, p.IsHost())
		}
	}

	goruntime.GOOS, goruntime.GOARCH = "plan9", "amd64"
	if _, err := HostPlatform(); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Errorf("Expected UnsupportedPlatform for plan9, got %v", err)
	}
}

func TestExtensionSuffix(t *testing.T) {
	testCases := []struct {
		platform string
		abiTag   string
		limited  bool
		expected string
	}{
		{"linux/amd64", "cpython-312", false, ".cpython-312-x86_64-linux-gnu.so"},
		{"linux/amd64", "", false, ".so"},
		{"linux/amd64", "cpython-312", true, ".abi3.so"},
		{"x86_64-unknown-linux-musl", "cpython-311", false, ".cpython-311-x86_64-linux-musl.so"},
		{"darwin/arm64", "cpython-312", false, ".cpython-312-darwin.so"},
		{"darwin/amd64", "", true, ".abi3.so"},
		{"windows/amd64", "cpython-312", false, ".cp312-win_amd64.pyd"},
		{"windows/amd64", "cpython-312", true, ".pyd"},
		{"windows/386", "", false, ".pyd"},
	}

	for _, tc := range testCases {
		p, err := ParsePlatform(tc.platform)
		if err != nil {
			t.Fatal(err)
		}
		if got := p.ExtensionSuffix(tc.abiTag, tc.limited); got != tc.expected {
			t.Errorf("%s ExtensionSuffix(%q, %v) = %s, expected %s", tc.platform, tc.abiTag, tc.limited, got, tc.expected)
		}
	}
}

func TestCaseInsensitiveFS(t *testing.T) {
	for _, p := range KnownPlatforms() {
		expected := p.OS != platformLinux
		if p.CaseInsensitiveFS() != expected {
			t.Errorf("%s: expected CaseInsensitiveFS=%v", p, expected)
		}
	}
}

func TestKnownPlatformsIsACopy(t *testing.T) {
	platforms := KnownPlatforms()
	platforms[0].Triple = "changed"
	if KnownPlatforms()[0].Triple == "changed" {
		t.Error("KnownPlatforms must not expose the internal table")
	}
}
