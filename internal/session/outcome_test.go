package session

import "testing"

func TestStackFrameString(t *testing.T) {
	f := StackFrame{Function: "f", File: "<cell 1>", Line: 3, Column: 5}
	want := "  at f (<cell 1>:3:5)"
	if got := f.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestOutcomeMarkerMethods(t *testing.T) {
	var outcomes = []Outcome{
		OutcomeValue{},
		OutcomeVoid{},
		OutcomePreprocessorError{},
		OutcomeCompileError{},
		OutcomeRuntimeError{},
		OutcomeInterrupted{},
	}
	for _, o := range outcomes {
		if o == nil {
			t.Fatalf("outcome %T is nil", o)
		}
	}
}

func TestMagicKindInstallClass(t *testing.T) {
	cases := map[MagicKind]bool{
		MagicInstall:             true,
		MagicInstallSwiftPMFlags: true,
		MagicInclude:             false,
		MagicReset:               false,
		MagicInstallLocation:     true,
	}
	for kind, want := range cases {
		if got := kind.InstallClass(); got != want {
			t.Errorf("%v.InstallClass() = %v, want %v", kind, got, want)
		}
	}
}

func TestMagicKindSessionOperator(t *testing.T) {
	if !MagicWho.SessionOperator() {
		t.Error("MagicWho should be a session operator")
	}
	if MagicInstall.SessionOperator() {
		t.Error("MagicInstall should not be a session operator")
	}
	if !MagicSwiftConfig.SessionOperator() {
		t.Error("MagicSwiftConfig should be a session operator")
	}
}
