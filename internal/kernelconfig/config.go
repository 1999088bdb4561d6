// Package kernelconfig resolves the kernel's ambient configuration: the
// environment variables, layered under an optional
// YAML file, with environment variables always taking precedence.
package kernelconfig

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds every installer and session option the kernel reads from
// its environment.
type Config struct {
	// REPLBinaryPath locates the pre-built Swift REPL executable the REPL
	// Supervisor launches under the debugger.
	REPLBinaryPath string `yaml:"repl_binary_path"`
	// SwiftBuildPath and SwiftPackagePath locate the external builder
	// executables the Package Installer invokes.
	SwiftBuildPath   string `yaml:"swift_build_path"`
	SwiftPackagePath string `yaml:"swift_package_path"`
	// LibraryPath is prepended to the dynamic loader search path at
	// process launch.
	LibraryPath string `yaml:"library_path"`
	// BuildRoot is the on-disk cache root under which package_base/,
	// modules/, and libs/ live.
	BuildRoot string `yaml:"build_root"`
	// SwiftPMFlags are extra flags passed to the package builder
	// (replaced for every later install by %install-swiftpm-flags).
	SwiftPMFlags string `yaml:"swiftpm_flags"`
	// ExtraIncludeCommand's stdout yields additional -I include flags
	// (replaced for every later install by %install-extra-include-command).
	ExtraIncludeCommand string `yaml:"extra_include_command"`
	// BuildTimeout bounds phases 2+3 of package installation.
	BuildTimeout time.Duration `yaml:"build_timeout"`
}

const (
	envREPLBinaryPath   = "SWIFT_REPL_PATH"
	envSwiftBuildPath   = "SWIFT_BUILD_PATH"
	envSwiftPackagePath = "SWIFT_PACKAGE_PATH"
	envLibraryPath      = "SWIFT_LIBRARY_PATH"
	envBuildRoot        = "SWIFT_KERNEL_BUILD_ROOT"
	envSwiftPMFlags     = "SWIFT_SWIFTPM_FLAGS"
	envExtraInclude     = "SWIFT_EXTRA_INCLUDE_COMMAND"
	envBuildTimeout     = "SWIFT_BUILD_TIMEOUT"
)

// DynamicLibrarySuffix returns the platform's shared-library suffix used
// by the Package Installer: ".dylib" on Darwin, ".so"
// elsewhere.
func DynamicLibrarySuffix() string {
	if runtime.GOOS == "darwin" {
		return ".dylib"
	}
	return ".so"
}

// Default returns the built-in defaults, before any file or environment
// overrides are layered on.
func Default() Config {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	return Config{
		REPLBinaryPath:   "swift",
		SwiftBuildPath:   "swift",
		SwiftPackagePath: "swift",
		BuildRoot:        filepath.Join(cacheDir, "swift-jupyter-kernel"),
		BuildTimeout:     600 * time.Second,
	}
}

// Load resolves Config from, in increasing priority: built-in defaults,
// an optional YAML file at path (ignored if empty or missing), and then
// environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, errors.Wrapf(err, "reading kernel config %s", path)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parsing kernel config %s", path)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv(envREPLBinaryPath); ok {
		cfg.REPLBinaryPath = v
	}
	if v, ok := os.LookupEnv(envSwiftBuildPath); ok {
		cfg.SwiftBuildPath = v
	}
	if v, ok := os.LookupEnv(envSwiftPackagePath); ok {
		cfg.SwiftPackagePath = v
	}
	if v, ok := os.LookupEnv(envLibraryPath); ok {
		cfg.LibraryPath = v
	}
	if v, ok := os.LookupEnv(envBuildRoot); ok {
		cfg.BuildRoot = v
	}
	if v, ok := os.LookupEnv(envSwiftPMFlags); ok {
		cfg.SwiftPMFlags = v
	}
	if v, ok := os.LookupEnv(envExtraInclude); ok {
		cfg.ExtraIncludeCommand = v
	}
	if v, ok := os.LookupEnv(envBuildTimeout); ok {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.BuildTimeout = time.Duration(secs) * time.Second
		}
	}
}

// AsYAML renders cfg back to the user for the %swift_config magic.
func AsYAML(cfg Config) (string, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", errors.Wrap(err, "marshaling config")
	}
	return string(out), nil
}

// PackageBaseDir, ModulesDir, and LibsDir implement the on-disk cache
// layout under BuildRoot.
func (c Config) PackageBaseDir() string { return filepath.Join(c.BuildRoot, "package_base") }
func (c Config) ModulesDir() string     { return filepath.Join(c.BuildRoot, "modules") }
func (c Config) LibsDir() string        { return filepath.Join(c.BuildRoot, "libs") }
