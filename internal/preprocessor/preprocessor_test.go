package preprocessor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swiftkernel/swiftkernel/internal/session"
)

type fakeHooks struct {
	resetCalled   bool
	timeitResult  TimeitResult
	timeitErr     error
	timeitSource  string
	timeitN       int
	historyCells  []session.Cell
	files         map[string]string
	enabled       bool
	swiftVersion  string
	configSummary string
	env           []string
	saved         string
}

func newFakeHooks() *fakeHooks {
	return &fakeHooks{files: map[string]string{}, enabled: true, swiftVersion: "5.9"}
}

func (f *fakeHooks) Timeit(source string, n int) (TimeitResult, error) {
	f.timeitSource, f.timeitN = source, n
	return f.timeitResult, f.timeitErr
}
func (f *fakeHooks) Reset() error { f.resetCalled = true; return nil }
func (f *fakeHooks) History() []session.Cell { return f.historyCells }
func (f *fakeHooks) Save(path string) error { f.saved = path; return nil }
func (f *fakeHooks) LoadFile(path string) (string, error) {
	content, ok := f.files[path]
	if !ok {
		return "", assertNotFound{path}
	}
	return content, nil
}
func (f *fakeHooks) EnableCompletion() { f.enabled = true }
func (f *fakeHooks) DisableCompletion() { f.enabled = false }
func (f *fakeHooks) SwiftVersion() string { return f.swiftVersion }
func (f *fakeHooks) ConfigSummary() string { return f.configSummary }
func (f *fakeHooks) Env() []string { return f.env }

type assertNotFound struct{ path string }

func (e assertNotFound) Error() string { return "not found: " + e.path }

func TestProcessPlainSourceGetsSourceLocation(t *testing.T) {
	p := New(newFakeHooks(), nil)
	result, err := p.Process(3, "print(1)")
	require.NoError(t, err)
	assert.False(t, result.Handled)
	assert.Contains(t, result.Cell.Source, `#sourceLocation(file: "<cell 3>", line: 1)`)
	assert.Contains(t, result.Cell.Source, "print(1)")
}

func TestProcessUnknownMagicIsError(t *testing.T) {
	p := New(newFakeHooks(), nil)
	_, err := p.Process(1, "%nonsense")
	require.Error(t, err)
}

func TestProcessInstallDirectiveRoutesToInstaller(t *testing.T) {
	p := New(newFakeHooks(), nil)
	result, err := p.Process(1, `%install https://example.com/pkg.git Pkg`)
	require.NoError(t, err)
	require.NotNil(t, result.Install)
	assert.Equal(t, session.MagicInstall, result.Install.Kind)
	assert.Equal(t, "https://example.com/pkg.git", result.Install.Package.DependencySpec)
	assert.Equal(t, []string{"Pkg"}, result.Install.Package.Products)
}

func TestProcessTwoInstallDirectivesRejected(t *testing.T) {
	p := New(newFakeHooks(), nil)
	_, err := p.Process(1, "%install-swiftpm-flags -v\n%install-location /tmp/x")
	require.Error(t, err)
}

func TestProcessResetCallsHooks(t *testing.T) {
	hooks := newFakeHooks()
	p := New(hooks, nil)
	result, err := p.Process(1, "%reset")
	require.NoError(t, err)
	assert.True(t, result.Handled)
	assert.True(t, hooks.resetCalled)
}

func TestProcessTimeitParsesIterationCount(t *testing.T) {
	hooks := newFakeHooks()
	hooks.timeitResult = TimeitResult{Runs: 5, Min: time.Millisecond, Mean: 2 * time.Millisecond, Max: 3 * time.Millisecond}
	p := New(hooks, nil)
	result, err := p.Process(1, "%timeit 5 print(1)")
	require.NoError(t, err)
	assert.True(t, result.Handled)
	assert.Contains(t, result.Output, "5 runs")
}

func TestProcessTimeitTimesCellBody(t *testing.T) {
	hooks := newFakeHooks()
	hooks.timeitResult = TimeitResult{Runs: 3, Min: time.Millisecond, Mean: time.Millisecond, Max: time.Millisecond}
	p := New(hooks, nil)
	result, err := p.Process(1, "%timeit 3\nvar total = 0\ntotal += 1")
	require.NoError(t, err)
	assert.True(t, result.Handled)
	assert.Equal(t, 3, hooks.timeitN)
	assert.Contains(t, hooks.timeitSource, "total += 1")
}

func TestProcessTimeitWithoutBodyIsError(t *testing.T) {
	p := New(newFakeHooks(), nil)
	_, err := p.Process(1, "%timeit")
	require.Error(t, err)
}

func TestProcessIncludeMissingFileIsError(t *testing.T) {
	p := New(newFakeHooks(), []string{"."})
	_, err := p.Process(1, "%include missing.swift")
	require.Error(t, err)
}

func TestProcessIncludeSplicesFile(t *testing.T) {
	hooks := newFakeHooks()
	hooks.files["helper.swift"] = "func helper() {}"
	p := New(hooks, nil)
	result, err := p.Process(1, "%include helper.swift")
	require.NoError(t, err)
	assert.Contains(t, result.Cell.Source, "func helper() {}")
}

func TestWhoTracksDeclarations(t *testing.T) {
	p := New(newFakeHooks(), nil)
	_, err := p.Process(1, "let x = 1\nfunc f() {}")
	require.NoError(t, err)
	who := p.Who()
	assert.Contains(t, who, "let x")
	assert.Contains(t, who, "func f")
}

func TestTokenizeHandlesQuotedArguments(t *testing.T) {
	got := tokenize(`%install "https://example.com/a b.git" Pkg`)
	assert.Equal(t, []string{"%install", "https://example.com/a b.git", "Pkg"}, got)
}
