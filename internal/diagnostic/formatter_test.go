package diagnostic

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/swiftkernel/swiftkernel/internal/session"
)

func TestCompileErrorHintForTypeMismatch(t *testing.T) {
	o := session.OutcomeCompileError{Message: `error: cannot convert value of type 'String' to expected argument type 'Int'`}
	d := Format("CompileError", o)
	assert.Equal(t, session.SeverityError, d.Severity)
	assert.NotContains(t, d.Message, "error: ")
	assert.Len(t, d.Hints, 1)
	assert.Contains(t, d.Hints[0], "explicit conversion")
}

func TestRuntimeErrorFatalHint(t *testing.T) {
	o := session.OutcomeRuntimeError{Message: "fatal error: index out of range", Fatal: true}
	d := Format("RuntimeError", o)
	assert.Equal(t, "FatalRuntimeError", d.Name)
	assert.Contains(t, d.Hints, "re-registration of the kernel may be required")
}

func TestStripPrefixesOnlyStripsOnce(t *testing.T) {
	got := StripPrefixes("error: warning: nested")
	assert.Equal(t, "warning: nested", got)
}

func TestClassifySeverityBySubstring(t *testing.T) {
	assert.Equal(t, session.SeverityWarning, classifySeverity("warning: unused variable"))
	assert.Equal(t, session.SeverityNote, classifySeverity("note: did you mean"))
	assert.Equal(t, session.SeverityError, classifySeverity("error: cannot find"))
}

func TestFormatStackFrames(t *testing.T) {
	frames := []session.StackFrame{
		{Function: "f", File: "<cell 1>", Line: 2, Column: 3},
		{Function: "g", File: "<cell 1>", Line: 5, Column: 1},
	}
	out := FormatStackFrames(frames)
	assert.Contains(t, out, "at f (<cell 1>:2:3)")
	assert.Contains(t, out, "at g (<cell 1>:5:1)")
}

func TestInstallDiagnosticTimeoutHints(t *testing.T) {
	d := InstallDiagnostic(session.InstallErrorTimeout, "build exceeded 600s")
	assert.Equal(t, session.InstallErrorTimeout, d.InstallKind)
	assert.GreaterOrEqual(t, len(d.Hints), 3)
}

func TestRuntimeDiagnosticCarriesFramesVerbatim(t *testing.T) {
	frames := []session.StackFrame{{Function: "f", File: "<cell 2>", Line: 4, Column: 2}}
	o := session.OutcomeRuntimeError{Message: "fatal error: index out of range", Frames: frames}

	got := Format("RuntimeError", o)
	want := session.Diagnostic{
		Severity: session.SeverityError,
		Name:     "RuntimeError",
		Message:  "index out of range",
		Frames:   frames,
		Hints:    []string{"check the collection's count before indexing, or use a safe subscript"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("runtime diagnostic mismatch (-want +got):\n%s", diff)
	}
}
