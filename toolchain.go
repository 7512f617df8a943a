package pyext

import "context"

// Toolchain defines the interface every native toolchain must implement.
//
// A toolchain turns one source unit (a Cargo.toml, a C file, a go.mod, ...)
// into a shared library for a platform. It knows nothing about Python
// module naming or the package layout: the Builder names and places what
// the toolchain produces.
//
// # Toolchain Lifecycle
//
//  1. CanBuild() - the factory calls this to find the toolchain for a source file
//  2. Supports() - the builder checks the requested platform
//  3. Build() - the builder compiles the target into req.OutputDir
//  4. Clean() - optional cleanup of req.WorkDir
//
// # Example Implementation
//
//	type MyToolchain struct{}
//
//	func (t *MyToolchain) Name() string { return "My" }
//
//	func (t *MyToolchain) CanBuild(sourceFile string) bool {
//	    return strings.HasSuffix(sourceFile, ".my")
//	}
//
//	func (t *MyToolchain) Supports(p Platform) bool { return p.IsHost() }
//
//	func (t *MyToolchain) Build(ctx context.Context, req *CompileRequest) (*CompileResult, error) {
//	    // compile req.SourcePath into req.OutputDir
//	}
//
//	func (t *MyToolchain) Clean(ctx context.Context, req *CompileRequest) error { return nil }
//
// # Thread Safety
//
// Toolchain implementations must be stateless and thread-safe. The same
// instance builds several targets concurrently.
type Toolchain interface {
	// Name returns the human-readable name used in logs, errors and
	// ExtensionTarget.Toolchain. Examples: "Cargo", "CC", "Go".
	Name() string

	// CanBuild reports whether this toolchain handles the given source file.
	// Only the base file name is passed.
	CanBuild(sourceFile string) bool

	// Supports reports whether the toolchain can produce binaries for p.
	Supports(p Platform) bool

	// Build compiles the target.
	//
	// Returns:
	//   - CompileResult with Success=true and Libraries on success
	//   - CompileResult with Success=false and Error on failure
	//
	// When ctx is canceled the toolchain process is killed and ctx.Err()
	// is returned.
	Build(ctx context.Context, req *CompileRequest) (*CompileResult, error)

	// Clean removes intermediate build files in req.WorkDir.
	// Returns nil if cleaning is not supported.
	Clean(ctx context.Context, req *CompileRequest) error
}
