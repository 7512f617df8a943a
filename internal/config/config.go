// Package config loads pyext settings with Viper.
//
// Precedence, lowest first: built-in defaults, the config file, PYEXT_*
// environment variables, then command-line flags. Nested keys map to
// environment variables with dots replaced by underscores, so
// python.abi_tag is PYEXT_PYTHON_ABI_TAG.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/contriboss/python-extension-go"
)

const (
	// AppName is the application name.
	AppName = "pyext"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "PYEXT"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// LocalConfigDir holds a project's config file, relative to the project root.
	LocalConfigDir = ".pyext"
)

// configExtensions are tried in order when searching a directory.
var configExtensions = []string{"toml", "yaml", "yml"}

// Config is the complete pyext configuration.
type Config struct {
	Platform        string            `mapstructure:"platform"`
	Jobs            int               `mapstructure:"jobs"`
	LayoutDir       string            `mapstructure:"layout_dir"`
	BuildDir        string            `mapstructure:"build_dir"`
	SourceDateEpoch int64             `mapstructure:"source_date_epoch"`
	Verbose         bool              `mapstructure:"verbose"`
	Python          PythonConfig      `mapstructure:"python"`
	Tools           ToolsConfig       `mapstructure:"tools"`
	CrossCompilers  map[string]string `mapstructure:"cross_compilers"`
	CMake           CMakeConfig       `mapstructure:"cmake"`
	Toolchains      []ToolchainConfig `mapstructure:"toolchains"`
}

// PythonConfig selects the interpreter ABI artifacts are named for.
type PythonConfig struct {
	Executable   string `mapstructure:"executable"`
	ABITag       string `mapstructure:"abi_tag"`
	ExtSuffix    string `mapstructure:"ext_suffix"`
	IncludeDir   string `mapstructure:"include_dir"`
	DetectSuffix bool   `mapstructure:"detect_suffix"`
}

// ToolsConfig overrides tool binaries. Empty values use PATH lookups.
type ToolsConfig struct {
	Cargo string `mapstructure:"cargo"`
	CC    string `mapstructure:"cc"`
	CXX   string `mapstructure:"cxx"`
	CMake string `mapstructure:"cmake"`
	Make  string `mapstructure:"make"`
	Go    string `mapstructure:"go"`
	Zig   string `mapstructure:"zig"`
}

// CMakeConfig holds CMake-only settings.
type CMakeConfig struct {
	ToolchainFile string `mapstructure:"toolchain_file"`
}

// ToolchainConfig declares a custom command toolchain.
//
//	[[toolchains]]
//	name = "Nim"
//	patterns = ["*.nim"]
//	command = 'nim c --app:lib --out:"$PYEXT_OUTPUT" "$PYEXT_INPUT"'
type ToolchainConfig struct {
	Name         string   `mapstructure:"name"`
	Patterns     []string `mapstructure:"patterns"`
	Command      string   `mapstructure:"command"`
	CleanCommand string   `mapstructure:"clean_command"`
	Tools        []string `mapstructure:"tools"`
	Platforms    []string `mapstructure:"platforms"`
	Outputs      []string `mapstructure:"outputs"`
}

// LoadOptions tune where configuration is read from.
type LoadOptions struct {
	// ConfigFile is used exclusively when set and must exist.
	ConfigFile string
	// ProjectDir is searched for .pyext/config.*; defaults to the working directory.
	ProjectDir string
	// ConfigDir overrides the user configuration directory.
	ConfigDir string
	// Flags are bound to their keys (see FlagKeys) when non-nil.
	Flags *pflag.FlagSet
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"platform":  "platform",
	"jobs":      "jobs",
	"out":       "layout_dir",
	"build-dir": "build_dir",
	"verbose":   "verbose",
	"python":    "python.executable",
	"abi-tag":   "python.abi_tag",
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Jobs:            1,
		LayoutDir:       ".",
		BuildDir:        filepath.Join("build", "pyext"),
		SourceDateEpoch: pyext.DefaultSourceDateEpoch,
		Python: PythonConfig{
			Executable: "python3",
		},
	}
}

// ConfigDir returns the user configuration directory ($XDG_CONFIG_HOME/pyext
// on Linux, the platform equivalent elsewhere).
func ConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", eris.Wrap(err, "failed to locate user config directory")
	}
	return filepath.Join(dir, AppName), nil
}

// Load reads the configuration and returns it with the path of the file
// it came from ("" when only defaults, environment and flags applied).
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for name, key := range FlagKeys {
			if flag := opts.Flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, "", eris.Wrapf(err, "failed to bind flag --%s", name)
				}
			}
		}
	}

	path, err := findConfigFile(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", eris.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", eris.Wrap(err, "failed to parse config")
	}

	if err := cfg.Validate(); err != nil {
		if path != "" {
			return nil, "", eris.Wrapf(err, "invalid config %s", path)
		}
		return nil, "", eris.Wrap(err, "invalid config")
	}

	return &cfg, path, nil
}

func setDefaults(v *viper.Viper, defaults *Config) {
	v.SetDefault("platform", defaults.Platform)
	v.SetDefault("jobs", defaults.Jobs)
	v.SetDefault("layout_dir", defaults.LayoutDir)
	v.SetDefault("build_dir", defaults.BuildDir)
	v.SetDefault("source_date_epoch", defaults.SourceDateEpoch)
	v.SetDefault("verbose", defaults.Verbose)
	v.SetDefault("python.executable", defaults.Python.Executable)
	v.SetDefault("python.abi_tag", defaults.Python.ABITag)
	v.SetDefault("python.ext_suffix", defaults.Python.ExtSuffix)
	v.SetDefault("python.include_dir", defaults.Python.IncludeDir)
	v.SetDefault("python.detect_suffix", defaults.Python.DetectSuffix)
	v.SetDefault("tools.cargo", defaults.Tools.Cargo)
	v.SetDefault("tools.cc", defaults.Tools.CC)
	v.SetDefault("tools.cxx", defaults.Tools.CXX)
	v.SetDefault("tools.cmake", defaults.Tools.CMake)
	v.SetDefault("tools.make", defaults.Tools.Make)
	v.SetDefault("tools.go", defaults.Tools.Go)
	v.SetDefault("tools.zig", defaults.Tools.Zig)
	v.SetDefault("cmake.toolchain_file", defaults.CMake.ToolchainFile)
}

func findConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFile != "" {
		if !fileExists(opts.ConfigFile) {
			return "", eris.Errorf("config file not found: %s", opts.ConfigFile)
		}
		return opts.ConfigFile, nil
	}

	projectDir := opts.ProjectDir
	if projectDir == "" {
		projectDir = "."
	}
	if path := searchDir(filepath.Join(projectDir, LocalConfigDir)); path != "" {
		return path, nil
	}

	userDir := opts.ConfigDir
	if userDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			// No user config directory means no user config.
			return "", nil
		}
		userDir = dir
	}
	return searchDir(userDir), nil
}

func searchDir(dir string) string {
	for _, ext := range configExtensions {
		path := filepath.Join(dir, ConfigFileName+"."+ext)
		if fileExists(path) {
			return path
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Validate checks values Viper cannot type-check.
func (c *Config) Validate() error {
	if c.Jobs < 0 {
		return fmt.Errorf("jobs must not be negative, got %d", c.Jobs)
	}
	if c.SourceDateEpoch < 0 {
		return fmt.Errorf("source_date_epoch must not be negative, got %d", c.SourceDateEpoch)
	}
	if c.Platform != "" {
		if _, err := pyext.ParsePlatform(c.Platform); err != nil {
			return err
		}
	}
	seen := make(map[string]struct{}, len(c.Toolchains))
	for i, tc := range c.Toolchains {
		key := strings.ToLower(tc.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("toolchains[%d]: duplicate toolchain name %q", i, tc.Name)
		}
		seen[key] = struct{}{}
		if _, err := tc.Toolchain(); err != nil {
			return fmt.Errorf("toolchains[%d]: %w", i, err)
		}
	}
	return nil
}

// TargetPlatform resolves the configured platform; empty means the host.
func (c *Config) TargetPlatform() (pyext.Platform, error) {
	return pyext.ParsePlatform(c.Platform)
}

// BuildConfig converts the configuration into the library's explicit
// build configuration. Relative directories resolve against root.
func (c *Config) BuildConfig(root string) *pyext.BuildConfig {
	cross := make(map[string]string, len(c.CrossCompilers))
	for triple, compiler := range c.CrossCompilers {
		cross[triple] = compiler
	}

	return &pyext.BuildConfig{
		Root:               root,
		LayoutDir:          c.LayoutDir,
		BuildDir:           c.BuildDir,
		Jobs:               c.Jobs,
		PythonExecutable:   c.Python.Executable,
		ABITag:             c.Python.ABITag,
		ExtSuffix:          c.Python.ExtSuffix,
		DetectSuffix:       c.Python.DetectSuffix,
		PythonIncludeDir:   c.Python.IncludeDir,
		Cargo:              c.Tools.Cargo,
		CC:                 c.Tools.CC,
		CXX:                c.Tools.CXX,
		CMake:              c.Tools.CMake,
		Make:               c.Tools.Make,
		Go:                 c.Tools.Go,
		Zig:                c.Tools.Zig,
		CrossCompilers:     cross,
		CMakeToolchainFile: c.CMake.ToolchainFile,
		SourceDateEpoch:    c.SourceDateEpoch,
		Verbose:            c.Verbose,
	}
}

// CustomToolchains builds the configured command toolchains in order.
func (c *Config) CustomToolchains() ([]pyext.Toolchain, error) {
	toolchains := make([]pyext.Toolchain, 0, len(c.Toolchains))
	for _, tc := range c.Toolchains {
		toolchain, err := tc.Toolchain()
		if err != nil {
			return nil, err
		}
		toolchains = append(toolchains, toolchain)
	}
	return toolchains, nil
}

// Factory returns a toolchain factory with the custom toolchains ahead of
// the standard ones.
func (c *Config) Factory(build *pyext.BuildConfig) (*pyext.ToolchainFactory, error) {
	custom, err := c.CustomToolchains()
	if err != nil {
		return nil, err
	}
	return pyext.NewToolchainFactory(build, custom...), nil
}

// Toolchain builds the command toolchain this entry declares.
func (tc ToolchainConfig) Toolchain() (*pyext.CommandToolchain, error) {
	var tools []pyext.ToolRequirement
	for _, tool := range tc.Tools {
		tools = append(tools, pyext.ToolRequirement{Name: tool, Purpose: tc.Name + " toolchain"})
	}

	return pyext.NewCommandToolchain(&pyext.CommandToolchainConfig{
		Name:           tc.Name,
		Patterns:       tc.Patterns,
		Tools:          tools,
		Command:        tc.Command,
		CleanCommand:   tc.CleanCommand,
		Platforms:      tc.Platforms,
		OutputPatterns: tc.Outputs,
	})
}
