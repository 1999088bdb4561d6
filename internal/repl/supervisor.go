// Package repl implements the REPL Supervisor: the component
// that owns the single long-lived Swift process, submits cell source to
// it through the debugger contract, and classifies the raw result into
// one of the Outcome variants.
package repl

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/swiftkernel/swiftkernel/internal/debugger"
	"github.com/swiftkernel/swiftkernel/internal/session"
)

const compileErrorPrefix = "error: "

const (
	maxSequenceRows = 100
	maxMappingRows  = 100
	maxRecordRows   = 50
)

// Supervisor owns the debugger.Session and classifies its raw results
// into session.Outcome values. It is not safe for concurrent Execute
// calls; only Interrupt and ProcessState may be called concurrently with
// an in-flight Execute.
type Supervisor struct {
	log *zap.Logger

	replBinaryPath string
	libraryPath    string
	newSession     func() debugger.Session

	mu       sync.Mutex
	dbg      debugger.Session
	degraded atomic.Bool

	// interruptLatch reports whether an interrupt has been requested
	// since the current evaluation began (the I/O Bridge's latch).
	// Nil means no latch is installed.
	interruptLatch func() bool
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithSessionFactory overrides how a debugger.Session is constructed,
// primarily for tests.
func WithSessionFactory(f func() debugger.Session) Option {
	return func(s *Supervisor) { s.newSession = f }
}

// WithInterruptLatch installs the I/O Bridge's interrupt latch, consulted
// while classifying an evaluation so a pending interrupt is reported as
// OutcomeInterrupted rather than a runtime error.
func WithInterruptLatch(latch func() bool) Option {
	return func(s *Supervisor) { s.interruptLatch = latch }
}

// New constructs a Supervisor for the REPL executable at replBinaryPath,
// configured to see dynamically loaded libraries under libraryPath.
func New(replBinaryPath, libraryPath string, log *zap.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		log:            log,
		replBinaryPath: replBinaryPath,
		libraryPath:    libraryPath,
		newSession:     func() debugger.Session { return debugger.NewLLDBSession() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the Swift process. If it fails, the Supervisor is
// marked degraded and every subsequent Execute returns a fatal runtime
// diagnostic instead of attempting to reach the debugger.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dbg := s.newSession()
	if err := dbg.Launch(ctx, s.replBinaryPath, s.libraryPath); err != nil {
		s.degraded.Store(true)
		s.log.Error("swift repl launch failed", zap.Error(err))
		return errors.Wrap(err, "launching swift repl")
	}
	s.dbg = dbg
	s.degraded.Store(false)
	return nil
}

// Degraded reports whether the Supervisor is unable to evaluate code
// until a restart.
func (s *Supervisor) Degraded() bool { return s.degraded.Load() }

// Restart tears down and relaunches the Swift process. History is
// preserved.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()
	if s.dbg != nil {
		_ = s.dbg.Close()
		s.dbg = nil
	}
	s.mu.Unlock()
	return s.Start(ctx)
}

// Interrupt asynchronously interrupts the hosted process. Safe to call
// concurrently with Execute.
func (s *Supervisor) Interrupt() error {
	s.mu.Lock()
	dbg := s.dbg
	s.mu.Unlock()
	if dbg == nil {
		return nil
	}
	return dbg.Interrupt()
}

// ProcessState reports the hosted process's state. Safe to call
// concurrently with Execute.
func (s *Supervisor) ProcessState() debugger.ProcessState {
	s.mu.Lock()
	dbg := s.dbg
	s.mu.Unlock()
	if dbg == nil {
		return debugger.StateExited
	}
	return dbg.ProcessState()
}

// StdoutDrain exposes the underlying debugger.Session's non-blocking
// stdout read for the I/O Bridge.
func (s *Supervisor) StdoutDrain() func() ([]byte, error) {
	s.mu.Lock()
	dbg := s.dbg
	s.mu.Unlock()
	if dbg == nil {
		return func() ([]byte, error) { return nil, nil }
	}
	return dbg.ReadStdout
}

// Complete proxies a completion query to the hosted debugger.
func (s *Supervisor) Complete(ctx context.Context, prefix string) (debugger.Completions, error) {
	s.mu.Lock()
	dbg := s.dbg
	s.mu.Unlock()
	if dbg == nil {
		return debugger.Completions{}, errors.New("swift repl is not running")
	}
	return dbg.Complete(ctx, prefix)
}

// Load dynamically loads a freshly built shared library into the
// running process after a package install.
func (s *Supervisor) Load(ctx context.Context, path string) error {
	s.mu.Lock()
	dbg := s.dbg
	s.mu.Unlock()
	if dbg == nil {
		return errors.New("swift repl is not running")
	}
	return dbg.Load(ctx, path)
}

// LookupSymbol reports whether name resolves in the hosted process, for
// verifying %swift_link declarations after a load.
func (s *Supervisor) LookupSymbol(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	dbg := s.dbg
	s.mu.Unlock()
	if dbg == nil {
		return false, errors.New("swift repl is not running")
	}
	return dbg.LookupSymbol(ctx, name)
}

// AddModuleSearchPath appends a module (or framework) search path in the
// hosted debugger, after any paths already set, for the %swift_module_path / %swift_framework_path
// magics and the installer's consolidated modules directory.
func (s *Supervisor) AddModuleSearchPath(ctx context.Context, path string, framework bool) error {
	s.mu.Lock()
	dbg := s.dbg
	s.mu.Unlock()
	if dbg == nil {
		return errors.New("swift repl is not running")
	}
	return dbg.AddModuleSearchPath(ctx, path, framework)
}

// PrependLibraryPath adds a dynamic-loader search path used at the next
// (re)launch of the Swift process (%swift_library_path).
func (s *Supervisor) PrependLibraryPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.libraryPath == "" {
		s.libraryPath = path
		return
	}
	s.libraryPath = path + ":" + s.libraryPath
}

// Close terminates the debugger session and the hosted process.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dbg != nil {
		_ = s.dbg.Close()
		s.dbg = nil
	}
}

// Execute submits cell.Source (already carrying its source-location
// directive from the preprocessor), then classifies the raw debugger
// result into an Outcome.
func (s *Supervisor) Execute(ctx context.Context, cell session.Cell) session.Outcome {
	if s.degraded.Load() {
		return session.OutcomeRuntimeError{
			Message: "the Swift process failed to start; re-register the kernel to retry",
			Fatal:   true,
		}
	}

	s.mu.Lock()
	dbg := s.dbg
	s.mu.Unlock()
	if dbg == nil {
		return session.OutcomeRuntimeError{
			Message: "the Swift process is not running; re-register the kernel to retry",
			Fatal:   true,
		}
	}

	raw, err := dbg.Evaluate(ctx, cell.Source)
	if err != nil {
		s.log.Error("swift evaluation failed", zap.Error(err), zap.Int("cell", cell.Counter))
		return session.OutcomeRuntimeError{Message: err.Error()}
	}

	return s.classify(ctx, dbg, raw)
}

func (s *Supervisor) classify(ctx context.Context, dbg debugger.Session, raw debugger.Result) session.Outcome {
	switch dbg.ProcessState() {
	case debugger.StateExited, debugger.StateCrashed:
		s.degraded.Store(true)
		s.log.Error("swift process is no longer running")
		return session.OutcomeRuntimeError{
			Message: "the Swift process exited; re-register the kernel to retry",
			Fatal:   true,
		}
	case debugger.StateStopped:
		if s.interruptPending() {
			if err := dbg.Resume(ctx); err != nil {
				s.log.Warn("resume after interrupt failed", zap.Error(err))
			}
			return session.OutcomeInterrupted{}
		}
		frames, err := dbg.Backtrace(ctx)
		if err != nil {
			s.log.Warn("backtrace unavailable", zap.Error(err))
		}
		if err := dbg.Resume(ctx); err != nil {
			s.log.Warn("resume after stop failed", zap.Error(err))
		}
		return session.OutcomeRuntimeError{
			Message: raw.ErrorDescription,
			Frames:  stackFrames(frames),
		}
	}

	if raw.ErrorReported && s.interruptPending() {
		return session.OutcomeInterrupted{}
	}

	if raw.ErrorReported && raw.ErrorDescription != "" {
		if hasCompileErrorPrefix(raw.ErrorDescription) {
			return session.OutcomeCompileError{Message: stripKnownPrefixes(raw.ErrorDescription)}
		}
		return session.OutcomeRuntimeError{Message: raw.ErrorDescription}
	}

	if !raw.HasValue {
		return session.OutcomeVoid{}
	}

	return session.OutcomeValue{Value: renderValue(raw)}
}

func (s *Supervisor) interruptPending() bool {
	return s.interruptLatch != nil && s.interruptLatch()
}

func hasCompileErrorPrefix(desc string) bool {
	return strings.HasPrefix(desc, compileErrorPrefix)
}

func stripKnownPrefixes(desc string) string {
	return strings.TrimPrefix(desc, compileErrorPrefix)
}

func stackFrames(frames []debugger.Frame) []session.StackFrame {
	out := make([]session.StackFrame, 0, len(frames))
	for _, f := range frames {
		if f.Line <= 0 {
			continue
		}
		out = append(out, session.StackFrame{
			Function: f.Function,
			File:     f.File,
			Line:     f.Line,
			Column:   f.Column,
		})
	}
	return out
}

// renderValue builds the displayed form of an expression value. The
// Supervisor never runs language-specific formatters, only the debugger's
// generic child enumeration, with the 100/100/50 row caps.
func renderValue(raw debugger.Result) session.Rendered {
	r := session.Rendered{
		TypeName: raw.TypeName,
		Summary:  raw.Summary,
		Kind:     session.RenderPlain,
	}
	if r.Summary == "" {
		r.Summary = raw.ValueDescription
	}

	if len(raw.Children) == 0 {
		r.PlainText = raw.Value
		r.HTML = fmt.Sprintf("<pre>%s</pre>", html.EscapeString(raw.Value))
		return r
	}

	kind, rowCap := classifyChildren(raw)
	r.Kind = kind

	n := len(raw.Children)
	r.Truncated = n > rowCap
	if r.Truncated {
		n = rowCap
	}
	for i := 0; i < n; i++ {
		c := raw.Children[i]
		key := c.Name
		if kind == session.RenderSequence && key == "" {
			key = fmt.Sprintf("%d", i)
		}
		r.Fields = append(r.Fields, session.ValueField{Key: key, Type: c.Type, Value: c.Value})
	}

	r.PlainText = renderPlainTable(r)
	r.HTML = renderHTMLTable(r)
	return r
}

func classifyChildren(raw debugger.Result) (session.RenderKind, int) {
	switch {
	case isSequenceType(raw.TypeName):
		return session.RenderSequence, maxSequenceRows
	case isMappingType(raw.TypeName):
		return session.RenderMapping, maxMappingRows
	default:
		return session.RenderRecord, maxRecordRows
	}
}

func isSequenceType(typeName string) bool {
	return containsAny(typeName, "Array<", "[", "ArraySlice", "Set<")
}

func isMappingType(typeName string) bool {
	return containsAny(typeName, "Dictionary<", ": [")
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func renderPlainTable(r session.Rendered) string {
	var out string
	header := "field"
	if r.Kind == session.RenderSequence {
		header = "index"
	} else if r.Kind == session.RenderMapping {
		header = "key"
	}
	out += fmt.Sprintf("%s: %s\n", r.TypeName, r.Summary)
	for _, f := range r.Fields {
		if r.Kind == session.RenderRecord {
			out += fmt.Sprintf("  %s: %s = %s\n", f.Key, f.Type, f.Value)
		} else {
			out += fmt.Sprintf("  %s %s = %s\n", header, f.Key, f.Value)
		}
	}
	if r.Truncated {
		out += "...\n"
	}
	return out
}

func renderHTMLTable(r session.Rendered) string {
	out := fmt.Sprintf("<p><b>%s</b>: %s</p><table>", html.EscapeString(r.TypeName), html.EscapeString(r.Summary))
	for _, f := range r.Fields {
		if r.Kind == session.RenderRecord {
			out += fmt.Sprintf("<tr><td>%s</td><td>%s</td><td>%s</td></tr>",
				html.EscapeString(f.Key), html.EscapeString(f.Type), html.EscapeString(f.Value))
		} else {
			out += fmt.Sprintf("<tr><td>%s</td><td>%s</td></tr>", html.EscapeString(f.Key), html.EscapeString(f.Value))
		}
	}
	if r.Truncated {
		out += "<tr><td colspan=3>&hellip;</td></tr>"
	}
	out += "</table>"
	return out
}

