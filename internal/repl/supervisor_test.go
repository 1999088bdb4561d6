package repl

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swiftkernel/swiftkernel/internal/debugger"
	"github.com/swiftkernel/swiftkernel/internal/session"
)

type fakeSession struct {
	state   debugger.ProcessState
	result  debugger.Result
	evalErr error
	frames  []debugger.Frame
}

func (f *fakeSession) Launch(ctx context.Context, replBinaryPath, libraryPath string) error { return nil }
func (f *fakeSession) AddModuleSearchPath(ctx context.Context, path string, framework bool) error {
	return nil
}
func (f *fakeSession) LookupSymbol(ctx context.Context, name string) (bool, error) { return true, nil }
func (f *fakeSession) Evaluate(ctx context.Context, source string) (debugger.Result, error) {
	return f.result, f.evalErr
}
func (f *fakeSession) Interrupt() error { return nil }
func (f *fakeSession) Resume(ctx context.Context) error { return nil }
func (f *fakeSession) ProcessState() debugger.ProcessState { return f.state }
func (f *fakeSession) Backtrace(ctx context.Context) ([]debugger.Frame, error) { return f.frames, nil }
func (f *fakeSession) Complete(ctx context.Context, prefix string) (debugger.Completions, error) {
	return debugger.Completions{}, nil
}
func (f *fakeSession) Load(ctx context.Context, path string) error { return nil }
func (f *fakeSession) ReadStdout() ([]byte, error) { return nil, nil }
func (f *fakeSession) Close() error { return nil }

func newTestSupervisor(t *testing.T, fake *fakeSession) *Supervisor {
	t.Helper()
	sup := New("swift-repl", "/tmp/lib", zap.NewNop(), WithSessionFactory(func() debugger.Session { return fake }))
	require.NoError(t, sup.Start(context.Background()))
	return sup
}

func TestExecuteSuccessWithValue(t *testing.T) {
	fake := &fakeSession{
		state: debugger.StateRunning,
		result: debugger.Result{
			HasValue: true,
			TypeName: "Int",
			Value:    "42",
			Summary:  "42",
		},
	}
	sup := newTestSupervisor(t, fake)

	outcome := sup.Execute(context.Background(), session.Cell{Counter: 1, Source: "x"})
	value, ok := outcome.(session.OutcomeValue)
	require.True(t, ok, "expected OutcomeValue, got %T", outcome)
	assert.Equal(t, "Int", value.Value.TypeName)
	assert.Equal(t, session.RenderPlain, value.Value.Kind)
}

func TestExecuteSuccessWithoutValue(t *testing.T) {
	fake := &fakeSession{state: debugger.StateRunning, result: debugger.Result{HasValue: false}}
	sup := newTestSupervisor(t, fake)

	outcome := sup.Execute(context.Background(), session.Cell{Counter: 1, Source: "print(1)"})
	_, ok := outcome.(session.OutcomeVoid)
	assert.True(t, ok, "expected OutcomeVoid, got %T", outcome)
}

func TestExecuteCompileError(t *testing.T) {
	fake := &fakeSession{
		state: debugger.StateRunning,
		result: debugger.Result{
			ErrorReported:    true,
			ErrorDescription: "error: cannot find 'y' in scope",
		},
	}
	sup := newTestSupervisor(t, fake)

	outcome := sup.Execute(context.Background(), session.Cell{Counter: 1, Source: "y"})
	ce, ok := outcome.(session.OutcomeCompileError)
	require.True(t, ok, "expected OutcomeCompileError, got %T", outcome)
	assert.Contains(t, ce.Message, "cannot find")
}

func TestExecuteStoppedProcessResumesAfterRuntimeError(t *testing.T) {
	fake := &fakeSession{
		state:  debugger.StateStopped,
		result: debugger.Result{ErrorDescription: "fatal error: index out of range"},
		frames: []debugger.Frame{
			{Function: "f", File: "<cell 1>", Line: 4, Column: 2},
			{Function: "g", File: "<cell 1>", Line: 0, Column: 0},
		},
	}
	sup := newTestSupervisor(t, fake)

	outcome := sup.Execute(context.Background(), session.Cell{Counter: 1, Source: "f()"})
	re, ok := outcome.(session.OutcomeRuntimeError)
	require.True(t, ok, "expected OutcomeRuntimeError, got %T", outcome)
	require.Len(t, re.Frames, 1, "frame with line <= 0 should be skipped")
	assert.Equal(t, "f", re.Frames[0].Function)
	assert.False(t, sup.Degraded(), "a stopped (not exited) process must not mark the Supervisor degraded")
}

func TestExecuteExitedProcessMarksDegraded(t *testing.T) {
	fake := &fakeSession{state: debugger.StateExited}
	sup := newTestSupervisor(t, fake)

	outcome := sup.Execute(context.Background(), session.Cell{Counter: 1, Source: "f()"})
	re, ok := outcome.(session.OutcomeRuntimeError)
	require.True(t, ok, "expected OutcomeRuntimeError, got %T", outcome)
	assert.True(t, re.Fatal)
	assert.True(t, sup.Degraded())
}

func TestExecuteInterruptLatchClassifiesAsInterrupted(t *testing.T) {
	fake := &fakeSession{
		state:  debugger.StateStopped,
		result: debugger.Result{ErrorDescription: "Execution was interrupted, reason: signal SIGINT"},
	}
	sup := New("swift-repl", "", zap.NewNop(),
		WithSessionFactory(func() debugger.Session { return fake }),
		WithInterruptLatch(func() bool { return true }))
	require.NoError(t, sup.Start(context.Background()))

	outcome := sup.Execute(context.Background(), session.Cell{Counter: 1, Source: "while true {}"})
	_, ok := outcome.(session.OutcomeInterrupted)
	assert.True(t, ok, "expected OutcomeInterrupted, got %T", outcome)
}

func TestRenderValueSequenceCapsAt100Rows(t *testing.T) {
	children := make([]debugger.Child, 150)
	for i := range children {
		children[i] = debugger.Child{Name: fmt.Sprintf("%d", i), Type: "Int", Value: fmt.Sprintf("%d", i)}
	}
	raw := debugger.Result{HasValue: true, TypeName: "Array<Int>", Children: children}
	r := renderValue(raw)

	assert.Equal(t, session.RenderSequence, r.Kind)
	assert.Len(t, r.Fields, maxSequenceRows)
	assert.True(t, r.Truncated)
}

func TestRenderValueRecordCapsAt50Rows(t *testing.T) {
	children := make([]debugger.Child, 60)
	for i := range children {
		children[i] = debugger.Child{Name: fmt.Sprintf("field%d", i), Type: "Int", Value: "0"}
	}
	raw := debugger.Result{HasValue: true, TypeName: "MyStruct", Children: children}
	r := renderValue(raw)

	assert.Equal(t, session.RenderRecord, r.Kind)
	assert.Len(t, r.Fields, maxRecordRows)
	assert.True(t, r.Truncated)
}
