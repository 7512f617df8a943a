package pyext

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
)

// pathLocks serializes writers of the same destination path within the
// process. Entries are dropped once no goroutine holds or waits for them.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	sync.Mutex
	refs int
}

var destinationLocks = &pathLocks{locks: make(map[string]*pathLock)}

func (p *pathLocks) acquire(key string) *pathLock {
	p.mu.Lock()
	m, ok := p.locks[key]
	if !ok {
		m = &pathLock{}
		p.locks[key] = m
	}
	m.refs++
	p.mu.Unlock()

	m.Lock()
	return m
}

func (p *pathLocks) release(key string, m *pathLock) {
	m.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	m.refs--
	if m.refs == 0 {
		delete(p.locks, key)
	}
}

func (p *pathLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}

// destinationLock holds exclusive access to one layout path, both against
// other goroutines and, where the OS supports it, other processes.
type destinationLock struct {
	key  string
	mu   *pathLock
	file *os.File
}

// lockDirectory returns the per-user directory for destination lock files.
// It does not depend on the build directory, so builds of one layout with
// different build dirs still exclude each other.
func lockDirectory() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "pyext", "locks")
	}
	return filepath.Join(os.TempDir(), "pyext-locks")
}

// lockDestination blocks until dest can be written exclusively.
// Lock files live in lockDir, named after a hash of the absolute dest.
func lockDestination(lockDir, dest string) (*destinationLock, error) {
	if abs, err := filepath.Abs(dest); err == nil {
		dest = abs
	}
	mu := destinationLocks.acquire(dest)
	unlock := func() { destinationLocks.release(dest, mu) }

	sum := sha256.Sum256([]byte(dest))
	lockPath := filepath.Join(lockDir, hex.EncodeToString(sum[:8])+".lock")

	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		unlock()
		return nil, eris.Wrapf(err, "failed to create lock directory %s", lockDir)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		unlock()
		return nil, eris.Wrapf(err, "failed to open lock file %s", lockPath)
	}

	if err := lockFile(f); err != nil {
		f.Close()
		unlock()
		return nil, eris.Wrapf(err, "failed to lock %s", lockPath)
	}

	return &destinationLock{key: dest, mu: mu, file: f}, nil
}

// Release unlocks the destination. It is safe to call multiple times.
func (l *destinationLock) Release() {
	if l == nil || l.file == nil {
		return
	}
	_ = unlockFile(l.file)
	_ = l.file.Close()
	l.file = nil
	destinationLocks.release(l.key, l.mu)
}
