package manifest

// fileDTO is the on-disk shape of a declaration, shared by TOML and YAML.
type fileDTO struct {
	Package    packageDTO     `toml:"package" yaml:"package"`
	Extensions []extensionDTO `toml:"extension" yaml:"extension"`
}

type packageDTO struct {
	Name     string   `toml:"name" yaml:"name"`
	Version  string   `toml:"version" yaml:"version"`
	Packages []string `toml:"packages" yaml:"packages"`
}

type extensionDTO struct {
	Module     string            `toml:"module" yaml:"module"`
	Source     string            `toml:"source" yaml:"source"`
	Toolchain  string            `toml:"toolchain" yaml:"toolchain"`
	Optional   bool              `toml:"optional" yaml:"optional"`
	LimitedAPI bool              `toml:"limited_api" yaml:"limited_api"`
	Debug      bool              `toml:"debug" yaml:"debug"`
	Features   []string          `toml:"features" yaml:"features"`
	Args       []string          `toml:"args" yaml:"args"`
	Env        map[string]string `toml:"env" yaml:"env"`
}
