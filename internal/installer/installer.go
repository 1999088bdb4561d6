// Package installer implements the Package Installer: the
// five-phase out-of-process SwiftPM build that makes an external
// dependency visible to the already-running Swift REPL.
package installer

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/swiftkernel/swiftkernel/internal/kernelconfig"
	"github.com/swiftkernel/swiftkernel/internal/session"
)

// Phase identifies one of the five install phases, for progress
// messages.
type Phase int

const (
	PhaseManifest Phase = iota
	PhaseFetchResolve
	PhaseBuild
	PhaseArtifactCopy
	PhaseDynamicLoad
)

func (p Phase) String() string {
	switch p {
	case PhaseManifest:
		return "synthesizing package manifest"
	case PhaseFetchResolve:
		return "fetching and resolving dependencies"
	case PhaseBuild:
		return "building"
	case PhaseArtifactCopy:
		return "copying build artifacts"
	case PhaseDynamicLoad:
		return "loading shared libraries"
	default:
		return "unknown phase"
	}
}

// ProgressFunc receives one progress notification per phase.
type ProgressFunc func(phase Phase, detail string)

// Loader dynamically loads a shared library into the running Swift
// process (implemented by repl.Supervisor).
type Loader interface {
	Load(ctx context.Context, path string) error
}

// Installer runs package installs one at a time and tracks installed packages for
// %who/diagnostics.
type Installer struct {
	cfg    kernelconfig.Config
	loader Loader
	log    *zap.Logger
	sem    *semaphore.Weighted

	swiftFlags []string

	installed []session.InstalledPackage
}

// New constructs an Installer bound to cfg's build root and the given
// Loader.
func New(cfg kernelconfig.Config, loader Loader, log *zap.Logger) *Installer {
	return &Installer{
		cfg:    cfg,
		loader: loader,
		log:    log,
		sem:    semaphore.NewWeighted(1),
	}
}

// InstallError is an install-phase failure carrying its sub-kind.
type InstallError struct {
	Kind    session.InstallErrorKind
	Message string
}

func (e *InstallError) Error() string { return e.Message }

// Apply folds one of the install-configuration directives
// (%install-swiftpm-flags, %install-extra-include-command,
// %install-location) into the Installer's effective configuration for
// every subsequent install.
func (in *Installer) Apply(d session.Directive) error {
	switch d.Kind {
	case session.MagicInstallSwiftPMFlags:
		in.cfg.SwiftPMFlags = d.Flags
	case session.MagicInstallExtraIncludeCommand:
		in.cfg.ExtraIncludeCommand = d.ShellCommand
	case session.MagicInstallLocation:
		in.cfg.BuildRoot = d.Path
	default:
		return &InstallError{
			Kind:    session.InstallErrorBadSpec,
			Message: fmt.Sprintf("directive %q is not an install-configuration directive", d.Line),
		}
	}
	return nil
}

// AddSwiftFlags appends %swift_flags compiler flags, forwarded to the
// builder as -Xswiftc arguments on every subsequent install.
func (in *Installer) AddSwiftFlags(flags string) {
	in.swiftFlags = append(in.swiftFlags, strings.Fields(flags)...)
}

// Installed returns a snapshot of every package installed so far this
// session.
func (in *Installer) Installed() []session.InstalledPackage {
	out := make([]session.InstalledPackage, len(in.installed))
	copy(out, in.installed)
	return out
}

// Install runs the five-phase protocol for one %install directive.
// progress is called once per phase, in order.
func (in *Installer) Install(ctx context.Context, d session.Directive, progress ProgressFunc) (session.InstalledPackage, error) {
	if in.cfg.SwiftBuildPath == "" || in.cfg.SwiftPackagePath == "" {
		return session.InstalledPackage{}, &InstallError{
			Kind:    session.InstallErrorMissingConfig,
			Message: "no Swift package builder configured",
		}
	}
	if d.Package == nil || d.Package.DependencySpec == "" || len(d.Package.Products) == 0 {
		return session.InstalledPackage{}, &InstallError{
			Kind:    session.InstallErrorBadSpec,
			Message: "%install requires a dependency spec and at least one product",
		}
	}

	if err := in.sem.Acquire(ctx, 1); err != nil {
		return session.InstalledPackage{}, errors.Wrap(err, "waiting to acquire install slot")
	}
	defer in.sem.Release(1)

	workDir := filepath.Join(in.cfg.PackageBaseDir(), fmt.Sprintf("install-%d", time.Now().UnixNano()))

	progress(PhaseManifest, "")
	manifest, err := renderManifest(*d.Package)
	if err != nil {
		return session.InstalledPackage{}, &InstallError{Kind: session.InstallErrorBadSpec, Message: err.Error()}
	}
	if err := os.MkdirAll(filepath.Join(workDir, "Sources", "JupyterInstall"), 0o755); err != nil {
		return session.InstalledPackage{}, &InstallError{Kind: session.InstallErrorBuildFailure, Message: err.Error()}
	}
	if err := os.WriteFile(filepath.Join(workDir, "Package.swift"), []byte(manifest), 0o644); err != nil {
		return session.InstalledPackage{}, &InstallError{Kind: session.InstallErrorBuildFailure, Message: err.Error()}
	}
	stub := []byte("// placeholder so SwiftPM recognizes a valid target\n")
	if err := os.WriteFile(filepath.Join(workDir, "Sources", "JupyterInstall", "Empty.swift"), stub, 0o644); err != nil {
		return session.InstalledPackage{}, &InstallError{Kind: session.InstallErrorBuildFailure, Message: err.Error()}
	}

	timeout := in.cfg.BuildTimeout
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	buildCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	progress(PhaseFetchResolve, "")
	if err := in.fetchResolve(buildCtx, workDir, d); err != nil {
		if buildCtx.Err() == context.DeadlineExceeded {
			return session.InstalledPackage{}, &InstallError{Kind: session.InstallErrorTimeout, Message: err.Error()}
		}
		return session.InstalledPackage{}, &InstallError{Kind: session.InstallErrorBuildFailure, Message: err.Error()}
	}

	progress(PhaseBuild, "")
	buildDBPath, err := in.build(buildCtx, workDir, d)
	if err != nil {
		if buildCtx.Err() == context.DeadlineExceeded {
			return session.InstalledPackage{}, &InstallError{Kind: session.InstallErrorTimeout, Message: err.Error()}
		}
		// A build database left behind by a failed build means the build
		// ran but resolved no artifacts, which deserves a more pointed
		// message than a generic failure.
		if _, statErr := os.Stat(buildDBPath); statErr == nil {
			return session.InstalledPackage{}, &InstallError{
				Kind:    session.InstallErrorBuildFailure,
				Message: "build ran but resolved no artifacts: " + err.Error(),
			}
		}
		return session.InstalledPackage{}, &InstallError{Kind: session.InstallErrorBuildFailure, Message: err.Error()}
	}
	if _, err := os.Stat(buildDBPath); err != nil {
		return session.InstalledPackage{}, &InstallError{
			Kind:    session.InstallErrorBuildFailure,
			Message: "build reported success but build.db is absent: fatal invariant violation",
		}
	}

	progress(PhaseArtifactCopy, "")
	fingerprint, err := in.copyArtifacts(workDir)
	if err != nil {
		return session.InstalledPackage{}, &InstallError{Kind: session.InstallErrorArtifactCopyFailure, Message: err.Error()}
	}

	progress(PhaseDynamicLoad, "")
	libPaths, err := in.loadLibraries(ctx, workDir)
	if err != nil {
		return session.InstalledPackage{}, &InstallError{Kind: session.InstallErrorLoadFailure, Message: err.Error()}
	}

	pkg := session.InstalledPackage{
		Product:           strings.Join(d.Package.Products, ","),
		DependencySpec:    d.Package.DependencySpec,
		ModuleFingerprint: fingerprint,
		ExtraIncludePaths: libPaths,
	}
	in.installed = append(in.installed, pkg)
	return pkg, nil
}

func (in *Installer) fetchResolve(ctx context.Context, workDir string, d session.Directive) error {
	args := []string{"package", "resolve"}
	args = append(args, in.extraFlags(d)...)

	operation := func() error {
		cmd := exec.CommandContext(ctx, in.cfg.SwiftPackagePath, args...)
		cmd.Dir = workDir
		cmd.Env = in.buildEnv(d)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return errors.Wrapf(err, "swift package resolve: %s", string(out))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	return backoff.Retry(operation, bo)
}

func (in *Installer) build(ctx context.Context, workDir string, d session.Directive) (string, error) {
	args := []string{"build", "-c", "debug"}
	args = append(args, in.extraFlags(d)...)

	buildDir := filepath.Join(workDir, ".build")
	buildDBPath := filepath.Join(buildDir, "build.db")

	// Watch for the build database appearing so long builds show signs of
	// life in the log before the builder exits.
	if err := os.MkdirAll(buildDir, 0o755); err == nil {
		if watcher, err := fsnotify.NewWatcher(); err == nil {
			defer watcher.Close()
			if watcher.Add(buildDir) == nil {
				go func() {
					for ev := range watcher.Events {
						if filepath.Base(ev.Name) == "build.db" && ev.Op.Has(fsnotify.Create) {
							in.log.Debug("build database created", zap.String("path", ev.Name))
							return
						}
					}
				}()
			}
		}
	}

	cmd := exec.CommandContext(ctx, in.cfg.SwiftBuildPath, args...)
	cmd.Dir = workDir
	cmd.Env = in.buildEnv(d)
	out, runErr := cmd.CombinedOutput()
	if runErr != nil && cmd.ProcessState != nil && cmd.ProcessState.ExitCode() != 0 {
		in.log.Warn("swift build reported nonzero exit", zap.String("output", string(out)))
	}
	if runErr != nil {
		return buildDBPath, errors.Wrapf(runErr, "swift build: %s", string(out))
	}
	return buildDBPath, nil
}

func (in *Installer) extraFlags(d session.Directive) []string {
	flags := in.cfg.SwiftPMFlags
	if d.Flags != "" {
		flags = d.Flags
	}
	out := strings.Fields(flags)
	for _, f := range in.swiftFlags {
		out = append(out, "-Xswiftc", f)
	}
	return out
}

func (in *Installer) buildEnv(d session.Directive) []string {
	env := os.Environ()
	if cmdStr := in.cfg.ExtraIncludeCommand; cmdStr != "" {
		if out, err := exec.Command("sh", "-c", cmdStr).Output(); err == nil {
			env = append(env, "CPATH="+strings.TrimSpace(string(out)))
		}
	}
	if d.EnvKey != "" {
		env = append(env, d.EnvKey+"="+d.EnvValue)
	}
	return env
}

func (in *Installer) copyArtifacts(workDir string) (string, error) {
	buildProducts := filepath.Join(workDir, ".build", "debug")
	moduleDir := in.cfg.ModulesDir()
	if err := os.MkdirAll(moduleDir, 0o755); err != nil {
		return "", errors.Wrap(err, "creating module directory")
	}

	suffixes := []string{".swiftmodule", ".swiftdoc", ".swiftinterface"}
	var fingerprint strings.Builder

	entries, err := os.ReadDir(buildProducts)
	if err != nil {
		return "", errors.Wrap(err, "reading build products directory")
	}
	copied := false
	for _, entry := range entries {
		for _, suffix := range suffixes {
			if strings.HasSuffix(entry.Name(), suffix) {
				src := filepath.Join(buildProducts, entry.Name())
				dst := filepath.Join(moduleDir, entry.Name())
				if err := copyFile(src, dst); err != nil {
					return "", errors.Wrapf(err, "copying %s", entry.Name())
				}
				fingerprint.WriteString(entry.Name())
				fingerprint.WriteByte(';')
				copied = true
			}
		}
	}
	if !copied {
		return "", fmt.Errorf("no Swift module artifacts were produced")
	}
	return fingerprint.String(), nil
}

func (in *Installer) loadLibraries(ctx context.Context, workDir string) ([]string, error) {
	buildProducts := filepath.Join(workDir, ".build", "debug")
	libsDir := in.cfg.LibsDir()
	if err := os.MkdirAll(libsDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating libs directory")
	}

	suffix := kernelconfig.DynamicLibrarySuffix()
	entries, err := os.ReadDir(buildProducts)
	if err != nil {
		return nil, errors.Wrap(err, "reading build products directory")
	}

	var loaded []string
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		src := filepath.Join(buildProducts, entry.Name())
		dst := filepath.Join(libsDir, entry.Name())
		if err := copyFile(src, dst); err != nil {
			return nil, errors.Wrapf(err, "copying %s", entry.Name())
		}
		if err := in.loader.Load(ctx, dst); err != nil {
			return nil, errors.Wrapf(err, "loading %s: missing system library, incompatible runtime, stale artifact, or architecture mismatch", entry.Name())
		}
		loaded = append(loaded, dst)
	}
	if len(loaded) == 0 {
		return nil, fmt.Errorf("no shared libraries with suffix %s were produced", suffix)
	}
	return loaded, nil
}

// copyFile writes to a temp file and renames it into place so a failed
// or interrupted copy never leaves a truncated artifact over an existing
// module or library file.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
