package pyext

import (
	"errors"
	"fmt"
	"testing"
)

func TestBuildErrorFormat(t *testing.T) {
	testCases := []struct {
		err      *BuildError
		expected string
	}{
		{
			newError(KindCompileFailure, "pkg.native", "Cargo", errors.New("exit status 101")),
			"pkg.native: CompileFailure (Cargo): exit status 101",
		},
		{
			newError(KindSourceNotFound, "pkg.native", "", errors.New("source missing")),
			"pkg.native: SourceNotFound: source missing",
		},
		{
			&BuildError{Kind: KindNameCollision},
			"NameCollision",
		},
	}

	for _, tc := range testCases {
		if tc.err.Error() != tc.expected {
			t.Errorf("Expected %q, got %q", tc.expected, tc.err.Error())
		}
	}
}

func TestBuildErrorIsMatchesKind(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("wrapped: %w", newError(KindPlacement, "pkg.native", "CC", cause))

	if !errors.Is(err, ErrPlacement) {
		t.Error("Expected errors.Is to match the PlacementError sentinel")
	}
	if errors.Is(err, ErrCompileFailure) {
		t.Error("Expected errors.Is not to match a different kind")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected the cause to be reachable")
	}
	if KindOf(err) != KindPlacement {
		t.Errorf("Expected KindOf PlacementError, got %s", KindOf(err))
	}
	if KindOf(cause) != 0 {
		t.Errorf("Expected zero kind for unclassified errors, got %s", KindOf(cause))
	}
}

func TestErrorKindIsDeclaration(t *testing.T) {
	declaration := map[ErrorKind]bool{
		KindDeclaration:         true,
		KindNameCollision:       true,
		KindSourceNotFound:      false,
		KindCompileFailure:      false,
		KindPlacement:           false,
		KindUnsupportedPlatform: false,
		KindCanceled:            false,
	}
	for kind, expected := range declaration {
		if kind.IsDeclaration() != expected {
			t.Errorf("%s: expected IsDeclaration=%v", kind, expected)
		}
	}
}
