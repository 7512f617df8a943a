package pyext

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockDestinationSerializesWriters(t *testing.T) {
	lockDir := filepath.Join(t.TempDir(), "locks")
	dest := filepath.Join(t.TempDir(), "pkg", "native.so")

	var holders, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock, err := lockDestination(lockDir, dest)
			if err != nil {
				t.Errorf("lockDestination failed: %v", err)
				return
			}
			defer lock.Release()

			n := atomic.AddInt32(&holders, 1)
			if n > atomic.LoadInt32(&peak) {
				atomic.StoreInt32(&peak, n)
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&holders, -1)
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Errorf("Expected exclusive access, saw %d holders", peak)
	}
	if n := destinationLocks.size(); n != 0 {
		t.Errorf("Expected released locks to be dropped, %d remain", n)
	}
}

func TestLockReleaseIsIdempotent(t *testing.T) {
	lock, err := lockDestination(t.TempDir(), "/layout/native.so")
	if err != nil {
		t.Fatal(err)
	}
	lock.Release()
	lock.Release()

	// The destination can be locked again
	again, err := lockDestination(t.TempDir(), "/layout/native.so")
	if err != nil {
		t.Fatal(err)
	}
	again.Release()
}

// isolateLockDir keeps lock files out of the developer's cache directory.
func isolateLockDir(t *testing.T) {
	t.Helper()
	cache := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", cache)
	t.Setenv("HOME", cache)
	t.Setenv("LocalAppData", cache)
}

func TestLockDirectoryIgnoresBuildDir(t *testing.T) {
	isolateLockDir(t)
	root := t.TempDir()

	first, err := NewBuilder(&BuildConfig{Root: root, BuildDir: "build-a"}, &ToolchainFactory{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewBuilder(&BuildConfig{Root: root, BuildDir: filepath.Join(t.TempDir(), "build-b")}, &ToolchainFactory{})
	if err != nil {
		t.Fatal(err)
	}

	if first.lockDir != second.lockDir {
		t.Errorf("Expected one lock directory for the layout, got %s and %s", first.lockDir, second.lockDir)
	}
	for _, b := range []*Builder{first, second} {
		if strings.HasPrefix(b.lockDir, b.config.BuildDir) || strings.HasPrefix(b.lockDir, b.config.LayoutDir) {
			t.Errorf("Expected lock directory outside build and layout dirs, got %s", b.lockDir)
		}
	}
}

func TestLockFileNamedAfterAbsoluteDestination(t *testing.T) {
	lockDir := t.TempDir()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	lock, err := lockDestination(lockDir, filepath.Join("pkg", "native.so"))
	if err != nil {
		t.Fatal(err)
	}
	lock.Release()

	again, err := lockDestination(lockDir, filepath.Join(dir, "pkg", "native.so"))
	if err != nil {
		t.Fatal(err)
	}
	again.Release()

	entries, err := os.ReadDir(lockDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected relative and absolute paths to share a lock file, got %d files", len(entries))
	}
}
