package pyext

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// pythonKeywords cannot appear as a module name segment.
var pythonKeywords = map[string]struct{}{
	"False": {}, "None": {}, "True": {}, "and": {}, "as": {}, "assert": {},
	"async": {}, "await": {}, "break": {}, "class": {}, "continue": {},
	"def": {}, "del": {}, "elif": {}, "else": {}, "except": {}, "finally": {},
	"for": {}, "from": {}, "global": {}, "if": {}, "import": {}, "in": {},
	"is": {}, "lambda": {}, "nonlocal": {}, "not": {}, "or": {}, "pass": {},
	"raise": {}, "return": {}, "try": {}, "while": {}, "with": {}, "yield": {},
}

// ValidateModuleName checks that name is a dotted path of Python identifiers.
func ValidateModuleName(name string) error {
	if name == "" {
		return fmt.Errorf("module name is empty")
	}
	for _, segment := range strings.Split(name, ".") {
		if segment == "" {
			return fmt.Errorf("module name %q has an empty segment", name)
		}
		if !identifierPattern.MatchString(segment) {
			return fmt.Errorf("module name %q: %q is not a valid identifier", name, segment)
		}
		if _, ok := pythonKeywords[segment]; ok {
			return fmt.Errorf("module name %q: %q is a Python keyword", name, segment)
		}
	}
	return nil
}

func moduleStem(module string) string {
	if i := strings.LastIndexByte(module, '.'); i >= 0 {
		return module[i+1:]
	}
	return module
}

// Layout is the package tree extension modules are published into.
//
// A module's location follows the interpreter's lookup rules: every dotted
// segment but the last is a directory, the last is the file stem:
//
//	pkg.sub.native + .cpython-312-x86_64-linux-gnu.so
//	    -> <Root>/pkg/sub/native.cpython-312-x86_64-linux-gnu.so
type Layout struct {
	Root string
}

// RelPathFor returns the slash-separated path of module relative to the root.
func (l Layout) RelPathFor(module, suffix string) string {
	return strings.ReplaceAll(module, ".", "/") + suffix
}

// PathFor returns the absolute destination of module with the given suffix.
// The module name must already be valid, which keeps the path inside Root.
func (l Layout) PathFor(module, suffix string) string {
	return filepath.Join(l.Root, filepath.FromSlash(l.RelPathFor(module, suffix)))
}

// collisionKey normalizes a destination for collision checks.
func collisionKey(path string, p Platform) string {
	if p.CaseInsensitiveFS() {
		return strings.ToLower(path)
	}
	return path
}

// publishOptions controls how an artifact is placed.
type publishOptions struct {
	ModTime time.Time   // Applied to the published file
	Mode    os.FileMode // Permission bits of the published file
}

// publishFile atomically places the contents of src at dest.
//
// The bytes are copied to a temporary file in dest's directory, synced,
// and renamed over dest, so dest is either the old file, the new file, or
// absent; never a partial write. When dest already holds identical bytes
// nothing is written and unchanged is true.
func publishFile(src, dest string, opts publishOptions) (digest string, size int64, unchanged bool, err error) {
	digest, size, err = fileDigest(src)
	if err != nil {
		return "", 0, false, eris.Wrapf(err, "failed to read built library %s", src)
	}

	if existing, _, derr := fileDigest(dest); derr == nil && existing == digest {
		return digest, size, true, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", 0, false, eris.Wrapf(err, "failed to create %s", filepath.Dir(dest))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp.*")
	if err != nil {
		return "", 0, false, eris.Wrap(err, "failed to create temporary artifact")
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	in, err := os.Open(src)
	if err != nil {
		return "", 0, false, eris.Wrapf(err, "failed to open %s", src)
	}
	defer in.Close()

	if _, err := io.Copy(tmp, in); err != nil {
		return "", 0, false, eris.Wrapf(err, "failed to copy %s", src)
	}
	if err := tmp.Chmod(opts.Mode); err != nil {
		return "", 0, false, eris.Wrap(err, "failed to set artifact permissions")
	}
	if err := tmp.Sync(); err != nil {
		return "", 0, false, eris.Wrap(err, "failed to sync artifact")
	}
	if err := tmp.Close(); err != nil {
		return "", 0, false, eris.Wrap(err, "failed to close artifact")
	}
	if !opts.ModTime.IsZero() {
		if err := os.Chtimes(tmpName, opts.ModTime, opts.ModTime); err != nil {
			return "", 0, false, eris.Wrap(err, "failed to normalize artifact timestamps")
		}
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return "", 0, false, eris.Wrapf(err, "failed to move artifact into %s", dest)
	}
	committed = true

	return digest, size, false, nil
}

func fileDigest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// artifactsFor lists existing files for module that the interpreter on p
// would consider importing, including the current destination.
func artifactsFor(layout Layout, module string, p Platform) ([]string, error) {
	dir := filepath.Dir(layout.PathFor(module, ""))
	stem := moduleStem(module)

	seen := make(map[string]struct{})
	var found []string
	for _, pattern := range p.shadowPatterns(stem) {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			if _, ok := seen[match]; ok || !fileExists(match) {
				continue
			}
			seen[match] = struct{}{}
			found = append(found, match)
		}
	}
	return found, nil
}

// removeStale deletes artifacts for module on p other than keep.
func removeStale(layout Layout, module string, p Platform, keep string) ([]string, error) {
	existing, err := artifactsFor(layout, module, p)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, path := range existing {
		if path == keep {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, eris.Wrapf(err, "failed to remove stale artifact %s", path)
		}
		removed = append(removed, path)
	}
	return removed, nil
}
