package installer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swiftkernel/swiftkernel/internal/kernelconfig"
	"github.com/swiftkernel/swiftkernel/internal/session"
)

type nopLoader struct{}

func (nopLoader) Load(ctx context.Context, path string) error { return nil }

func testConfig(t *testing.T) kernelconfig.Config {
	t.Helper()
	return kernelconfig.Config{
		SwiftBuildPath:   "swift",
		SwiftPackagePath: "swift",
		BuildRoot:        t.TempDir(),
		BuildTimeout:     time.Second,
	}
}

func TestInstallMissingConfigIsMissingConfigKind(t *testing.T) {
	in := New(kernelconfig.Config{}, nopLoader{}, zap.NewNop())
	d := session.Directive{
		Kind:    session.MagicInstall,
		Package: &session.PackageSpec{DependencySpec: "https://example.com/pkg.git", Products: []string{"Pkg"}},
	}
	_, err := in.Install(context.Background(), d, func(Phase, string) {})
	var ie *InstallError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, session.InstallErrorMissingConfig, ie.Kind)
}

func TestInstallRejectsDirectiveWithoutPackage(t *testing.T) {
	in := New(testConfig(t), nopLoader{}, zap.NewNop())
	_, err := in.Install(context.Background(), session.Directive{Kind: session.MagicInstall}, func(Phase, string) {})
	var ie *InstallError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, session.InstallErrorBadSpec, ie.Kind)
}

func TestApplyFoldsConfigDirectives(t *testing.T) {
	in := New(testConfig(t), nopLoader{}, zap.NewNop())

	require.NoError(t, in.Apply(session.Directive{Kind: session.MagicInstallSwiftPMFlags, Flags: "-v"}))
	assert.Equal(t, "-v", in.cfg.SwiftPMFlags)

	require.NoError(t, in.Apply(session.Directive{Kind: session.MagicInstallLocation, Path: "/tmp/elsewhere"}))
	assert.Equal(t, "/tmp/elsewhere", in.cfg.BuildRoot)

	require.NoError(t, in.Apply(session.Directive{Kind: session.MagicInstallExtraIncludeCommand, ShellCommand: "echo -I/x"}))
	assert.Equal(t, "echo -I/x", in.cfg.ExtraIncludeCommand)
}

func TestApplyRejectsNonConfigDirective(t *testing.T) {
	in := New(testConfig(t), nopLoader{}, zap.NewNop())
	err := in.Apply(session.Directive{Kind: session.MagicInstall})
	var ie *InstallError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, session.InstallErrorBadSpec, ie.Kind)
}

func TestExtraFlagsAppendsSwiftFlagsAsXswiftc(t *testing.T) {
	in := New(testConfig(t), nopLoader{}, zap.NewNop())
	in.AddSwiftFlags("-DDEBUG -Onone")
	got := in.extraFlags(session.Directive{})
	assert.Equal(t, []string{"-Xswiftc", "-DDEBUG", "-Xswiftc", "-Onone"}, got)
}

func TestExtraFlagsDirectiveOverridesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.SwiftPMFlags = "--from-config"
	in := New(cfg, nopLoader{}, zap.NewNop())
	got := in.extraFlags(session.Directive{Flags: "--from-cell"})
	assert.Equal(t, []string{"--from-cell"}, got)
}

func TestRenderManifestDeclaresDependencyAndProducts(t *testing.T) {
	manifest, err := renderManifest(session.PackageSpec{
		DependencySpec: "https://github.com/apple/swift-numerics from: \"1.0.0\"",
		Products:       []string{"Numerics", "RealModule"},
	})
	require.NoError(t, err)
	assert.Contains(t, manifest, "swift-tools-version:5.6")
	assert.Contains(t, manifest, `.package(url: "https://github.com/apple/swift-numerics", from: "1.0.0")`)
	assert.Contains(t, manifest, `.product(name: "Numerics", package: "swift-numerics")`)
	assert.Contains(t, manifest, `.product(name: "RealModule", package: "swift-numerics")`)
}

func TestParseDependencySpecDefaultsToMainBranch(t *testing.T) {
	url, requirement, name, err := parseDependencySpec("https://example.com/thing.git")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/thing.git", url)
	assert.Equal(t, `.branch("main")`, requirement)
	assert.Equal(t, "thing", name)
}

func TestParseDependencySpecEmptyIsError(t *testing.T) {
	_, _, _, err := parseDependencySpec("   ")
	assert.Error(t, err)
}

func TestCopyFileReplacesDestinationAtomically(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.swiftmodule")
	dst := filepath.Join(dir, "dst.swiftmodule")
	require.NoError(t, os.WriteFile(src, []byte("new module data"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("stale module data"), 0o644))

	require.NoError(t, copyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new module data", string(data))
	_, err = os.Stat(dst + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a successful copy")
}

func TestCopyFileMissingSourceLeavesDestinationUntouched(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "dst.swiftmodule")
	require.NoError(t, os.WriteFile(dst, []byte("existing"), 0o644))

	require.Error(t, copyFile(filepath.Join(dir, "missing"), dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "existing", string(data))
}

func TestPhaseStringsCoverAllPhases(t *testing.T) {
	phases := []Phase{PhaseManifest, PhaseFetchResolve, PhaseBuild, PhaseArtifactCopy, PhaseDynamicLoad}
	seen := map[string]bool{}
	for _, p := range phases {
		s := p.String()
		assert.NotEqual(t, "unknown phase", s)
		assert.False(t, seen[s], "phase strings must be distinct")
		seen[s] = true
	}
}
