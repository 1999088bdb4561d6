// Package diagnostic implements the Diagnostic Formatter:
// prefix stripping, severity classification, a small hint catalog for
// common Swift mistakes, and defensive byte decoding.
package diagnostic

import (
	"strings"

	"github.com/swiftkernel/swiftkernel/internal/session"
)

// knownPrefixes are the leading debugger markers stripped from a raw
// message before it reaches the client.
var knownPrefixes = []string{
	"error: ",
	"warning: ",
	"note: ",
	"fatal error: ",
	"Execution was interrupted, reason: ",
}

// hintEntry is one row of the remediation-hint catalog.
type hintEntry struct {
	substring string
	hint      string
}

var hintCatalog = []hintEntry{
	{"cannot convert value of type", "add an explicit conversion, e.g. Int(value) or String(value)"},
	{"use of unresolved identifier", "check for a typo, or that the declaring cell ran before this one"},
	{"value of optional type", "unwrap the optional with `if let`, `guard let`, or `!` if you're certain it's non-nil"},
	{"index out of range", "check the collection's count before indexing, or use a safe subscript"},
	{"cannot find", "the symbol may come from a package that needs %install first"},
	{"ambiguous use of", "disambiguate with an explicit type annotation"},
}

// Format produces the structured diagnostic record for a runtime or
// compile outcome. name is used as the diagnostic's Name only for outcome
// types that have no dedicated name of their own.
func Format(name string, outcome session.Outcome) session.Diagnostic {
	switch o := outcome.(type) {
	case session.OutcomeCompileError:
		return compileDiagnostic(o)
	case session.OutcomeRuntimeError:
		return runtimeDiagnostic(o)
	case session.OutcomePreprocessorError:
		return session.Diagnostic{
			Severity: session.SeverityError,
			Name:     "PreprocessorError",
			Message:  o.Message,
		}
	case session.OutcomeInterrupted:
		return session.Diagnostic{
			Severity: session.SeverityError,
			Name:     "Interrupted",
			Message:  "execution was interrupted",
		}
	default:
		return session.Diagnostic{Severity: session.SeverityError, Name: name, Message: "unclassified error"}
	}
}

func compileDiagnostic(o session.OutcomeCompileError) session.Diagnostic {
	msg := StripPrefixes(o.Message)
	d := session.Diagnostic{
		Severity: classifySeverity(o.Message),
		Name:     "CompileError",
		Message:  msg,
	}
	if hint := lookupHint(msg); hint != "" {
		d.Hints = append(d.Hints, hint)
	}
	if o.Hint != "" {
		d.Hints = append(d.Hints, o.Hint)
	}
	return d
}

func runtimeDiagnostic(o session.OutcomeRuntimeError) session.Diagnostic {
	name := "RuntimeError"
	if o.Fatal {
		name = "FatalRuntimeError"
	}
	d := session.Diagnostic{
		Severity: classifySeverity(o.Message),
		Name:     name,
		Message:  StripPrefixes(o.Message),
		Frames:   o.Frames,
	}
	if hint := lookupHint(o.Message); hint != "" {
		d.Hints = append(d.Hints, hint)
	}
	if o.Fatal {
		d.Hints = append(d.Hints, "re-registration of the kernel may be required")
	}
	return d
}

// StripPrefixes removes a single matching leading debugger marker.
func StripPrefixes(msg string) string {
	for _, p := range knownPrefixes {
		if strings.HasPrefix(msg, p) {
			return strings.TrimPrefix(msg, p)
		}
	}
	return msg
}

// classifySeverity classifies severity by substring match against the
// raw message.
func classifySeverity(msg string) session.Severity {
	switch {
	case strings.Contains(msg, "warning:"):
		return session.SeverityWarning
	case strings.Contains(msg, "note:"):
		return session.SeverityNote
	default:
		return session.SeverityError
	}
}

// lookupHint returns the first matching catalog hint, or "" if none
// match. Matching is advisory only; it never alters msg itself.
func lookupHint(msg string) string {
	for _, e := range hintCatalog {
		if strings.Contains(msg, e.substring) {
			return e.hint
		}
	}
	return ""
}

// FormatStackFrames renders frames joined by newlines, for inclusion in
// a client-visible traceback.
func FormatStackFrames(frames []session.StackFrame) string {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString(f.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// InstallDiagnostic builds the structured diagnostic for one of the
// install-error sub-kinds, each carrying fixed remediation text.
func InstallDiagnostic(kind session.InstallErrorKind, detail string) session.Diagnostic {
	d := session.Diagnostic{
		Severity:    session.SeverityError,
		Name:        "InstallError",
		InstallKind: kind,
		Message:     detail,
	}
	switch kind {
	case session.InstallErrorMissingConfig:
		d.Hints = []string{"set SWIFT_BUILD_PATH and SWIFT_PACKAGE_PATH, or swift_build_path / swift_package_path in the kernel config file"}
	case session.InstallErrorBadSpec:
		d.Hints = []string{"check the dependency spec and product names passed to %install"}
	case session.InstallErrorBuildFailure:
		d.Hints = []string{"inspect the build log emitted in the preceding progress messages"}
	case session.InstallErrorTimeout:
		d.Hints = []string{
			"raise the build timeout with SWIFT_BUILD_TIMEOUT",
			"check network connectivity to the package registry",
			"pre-warm the build cache by building the package outside the kernel first",
		}
	case session.InstallErrorArtifactCopyFailure:
		d.Hints = []string{"check write permissions on the kernel's module directory"}
	case session.InstallErrorLoadFailure:
		d.Hints = []string{
			"check for missing system libraries",
			"check for an incompatible runtime or stale artifacts",
			"confirm the built library matches the host architecture",
		}
	}
	return d
}
