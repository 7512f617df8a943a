package pyext

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a build failure.
type ErrorKind int

const (
	// KindDeclaration covers invalid or ambiguous declarations. It aborts the
	// whole invocation before any toolchain runs.
	KindDeclaration ErrorKind = iota + 1
	// KindNameCollision means two targets resolve to the same layout path.
	// It is a declaration error and also aborts the invocation.
	KindNameCollision
	// KindSourceNotFound means a target's source location does not exist.
	KindSourceNotFound
	// KindCompileFailure means the toolchain reported diagnostics.
	KindCompileFailure
	// KindPlacement means writing or moving the artifact into the layout failed.
	KindPlacement
	// KindUnsupportedPlatform means no toolchain can build the target for the platform.
	KindUnsupportedPlatform
	// KindCanceled means the build was canceled before it completed.
	KindCanceled
)

// String returns the kind name used in reports.
func (k ErrorKind) String() string {
	switch k {
	case KindDeclaration:
		return "DeclarationError"
	case KindNameCollision:
		return "NameCollision"
	case KindSourceNotFound:
		return "SourceNotFound"
	case KindCompileFailure:
		return "CompileFailure"
	case KindPlacement:
		return "PlacementError"
	case KindUnsupportedPlatform:
		return "UnsupportedPlatform"
	case KindCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// IsDeclaration reports whether errors of this kind abort the invocation.
func (k ErrorKind) IsDeclaration() bool {
	return k == KindDeclaration || k == KindNameCollision
}

// Sentinels for errors.Is. They match any *BuildError of the same kind.
var (
	ErrDeclaration         = &BuildError{Kind: KindDeclaration}
	ErrNameCollision       = &BuildError{Kind: KindNameCollision}
	ErrSourceNotFound      = &BuildError{Kind: KindSourceNotFound}
	ErrCompileFailure      = &BuildError{Kind: KindCompileFailure}
	ErrPlacement           = &BuildError{Kind: KindPlacement}
	ErrUnsupportedPlatform = &BuildError{Kind: KindUnsupportedPlatform}
	ErrCanceled            = &BuildError{Kind: KindCanceled}
)

// BuildError is the error type returned for every classified failure.
//
// Module and Toolchain are empty when the failure is not tied to a single
// target. Diagnostics and Output are only set for compile failures; Output
// holds the toolchain output verbatim.
type BuildError struct {
	Kind        ErrorKind
	Module      string
	Toolchain   string
	Diagnostics []Diagnostic
	Output      []string
	Err         error
}

func newError(kind ErrorKind, module, toolchain string, err error) *BuildError {
	return &BuildError{Kind: kind, Module: module, Toolchain: toolchain, Err: err}
}

// Error implements error.
func (e *BuildError) Error() string {
	var b strings.Builder
	if e.Module != "" {
		b.WriteString(e.Module)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Toolchain != "" {
		fmt.Fprintf(&b, " (%s)", e.Toolchain)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *BuildError) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind.
func (e *BuildError) Is(target error) bool {
	t, ok := target.(*BuildError)
	if !ok {
		return false
	}
	if t.Module == "" && t.Err == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

// KindOf returns the kind of the first *BuildError in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Kind
	}
	return 0
}
