// Package kernel composes the REPL Supervisor, Async I/O Bridge, Package
// Installer, Cell Preprocessor, and session history into the single
// Session object the Protocol Adapter drives.
package kernel

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/swiftkernel/swiftkernel/internal/debugger"
	"github.com/swiftkernel/swiftkernel/internal/diagnostic"
	"github.com/swiftkernel/swiftkernel/internal/installer"
	"github.com/swiftkernel/swiftkernel/internal/iobridge"
	"github.com/swiftkernel/swiftkernel/internal/kernelconfig"
	"github.com/swiftkernel/swiftkernel/internal/preprocessor"
	"github.com/swiftkernel/swiftkernel/internal/protocol"
	"github.com/swiftkernel/swiftkernel/internal/repl"
	"github.com/swiftkernel/swiftkernel/internal/session"
)

// Session is the Jupyter-facing orchestrator: it implements
// protocol.Handler for the Protocol Adapter and preprocessor.Hooks for
// the Cell Preprocessor's session-operator magics.
type Session struct {
	cfg kernelconfig.Config
	log *zap.Logger

	sup       *repl.Supervisor
	bridge    *iobridge.Bridge
	installer *installer.Installer
	pre       *preprocessor.Preprocessor
	history   *session.History

	counter     atomic.Int64
	hasExecuted atomic.Bool
	completion  atomic.Bool

	mu      sync.Mutex
	current *protocol.Receipt

	// requiredSymbols holds %swift_link declarations, verified after
	// every successful install. Written only from the shell
	// dispatch goroutine.
	requiredSymbols []string

	sigCh chan os.Signal

	swiftVersion string
}

// New builds a Session from a resolved kernelconfig.Config. The Swift
// REPL process is not launched until Start.
func New(cfg kernelconfig.Config, log *zap.Logger) *Session {
	s := &Session{cfg: cfg, log: log, history: &session.History{}}
	s.completion.Store(true)

	s.bridge = iobridge.New(
		func() ([]byte, error) { return s.sup.StdoutDrain()() },
		func() error { return s.sup.Interrupt() },
		s.forwardStdout, log)
	s.sup = repl.New(cfg.REPLBinaryPath, cfg.LibraryPath, log,
		repl.WithInterruptLatch(s.bridge.Interrupted))
	s.installer = installer.New(cfg, s.sup, log)
	s.pre = preprocessor.New(s, []string{"."})

	return s
}

// Start launches the Swift process and the background I/O Bridge
// workers, and installs the legacy signal-based interrupt watcher.
func (s *Session) Start(ctx context.Context) error {
	if err := s.sup.Start(ctx); err != nil {
		// The kernel itself stays up; every execute_request will return a
		// fatal diagnostic.
		s.log.Error("starting swift repl", zap.Error(err))
	} else if err := s.sup.AddModuleSearchPath(ctx, s.cfg.ModulesDir(), false); err != nil {
		s.log.Warn("adding installed-modules search path", zap.Error(err))
	}
	s.swiftVersion = detectSwiftVersion(s.cfg.SwiftBuildPath)

	s.bridge.StartStdoutDrain(ctx)

	s.sigCh = make(chan os.Signal, 1)
	signal.Notify(s.sigCh, syscall.SIGINT)
	forward := make(chan struct{}, 1)
	go func() {
		for range s.sigCh {
			select {
			case forward <- struct{}{}:
			default:
			}
		}
	}()
	s.bridge.StartSignalWatcher(forward)

	return nil
}

// Stop tears down the Swift process and background workers.
func (s *Session) Stop() {
	if s.sigCh != nil {
		signal.Stop(s.sigCh)
		close(s.sigCh)
		s.sigCh = nil
	}
	s.bridge.Stop()
	s.sup.Close()
}

func (s *Session) forwardStdout(text string) {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r == nil {
		return
	}
	w := &protocol.StreamWriter{Stream: protocol.StreamStdout, Receipt: *r}
	if _, err := w.Write([]byte(text)); err != nil {
		s.log.Warn("forwarding stdout failed", zap.Error(err))
	}
}

// KernelInfo implements protocol.Handler.
func (s *Session) KernelInfo() protocol.KernelInfo {
	return protocol.KernelInfo{
		ProtocolVersion:       protocol.Version,
		Implementation:        "swiftkernel",
		ImplementationVersion: s.swiftVersion,
		LanguageInfo: protocol.KernelLanguageInfo{
			Name:           "swift",
			Version:        s.swiftVersion,
			MIMEType:       "text/x-swift",
			FileExtension:  ".swift",
			PygmentsLexer:  "swift",
			CodeMirrorMode: "swift",
		},
		Banner: "Swift " + s.swiftVersion,
		HelpLinks: []protocol.HelpLink{
			{Text: "Swift.org", URL: "https://www.swift.org/documentation/"},
		},
	}
}

// Execute implements protocol.Handler.
func (s *Session) Execute(ctx context.Context, r protocol.Receipt) error {
	content, _ := r.Msg.Content.(map[string]interface{})
	code, _ := content["code"].(string)
	silent, _ := content["silent"].(bool)
	storeHistory := true
	if v, ok := content["store_history"].(bool); ok {
		storeHistory = v
	}

	if !silent {
		s.counter.Add(1)
	}
	execCount := int(s.counter.Load())

	if !silent {
		if err := r.PublishExecutionInput(execCount, code); err != nil {
			s.log.Warn("publish execute_input failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.current = &r
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()

	result, err := s.pre.Process(execCount, code)
	if err != nil {
		return s.replyPreprocessorError(r, execCount, err)
	}

	if result.Install != nil {
		return s.runInstall(ctx, r, execCount, *result.Install)
	}

	if err := s.applyDirectives(ctx, result.Cell.Directives); err != nil {
		return s.replyPreprocessorError(r, execCount, err)
	}

	if result.Handled {
		if !silent && result.Output != "" {
			if err := r.PublishStream(protocol.StreamStdout, result.Output); err != nil {
				s.log.Warn("publish magic output failed", zap.Error(err))
			}
		}
		return r.Reply("execute_reply", executeReplyOK(execCount))
	}

	s.bridge.SetExecuting(true)
	outcome := s.sup.Execute(ctx, result.Cell)
	s.bridge.SetExecuting(false)
	s.bridge.DrainNow()

	switch outcome.(type) {
	case session.OutcomeValue, session.OutcomeVoid:
		s.hasExecuted.Store(true)
		if storeHistory {
			s.history.Append(result.Cell)
		}
	}

	return s.replyOutcome(r, execCount, outcome, silent)
}

// applyDirectives folds a cell's path/flag/env magics into session
// state: loader and module search paths, compiler flags, environment
// variables, and %swift_link symbol requirements.
func (s *Session) applyDirectives(ctx context.Context, ds []session.Directive) error {
	for _, d := range ds {
		switch d.Kind {
		case session.MagicSwiftEnv:
			if err := os.Setenv(d.EnvKey, d.EnvValue); err != nil {
				return fmt.Errorf("%%swift_env %s: %w", d.EnvKey, err)
			}
		case session.MagicSwiftLibraryPath:
			s.sup.PrependLibraryPath(d.Path)
		case session.MagicSwiftModulePath:
			if err := s.sup.AddModuleSearchPath(ctx, d.Path, false); err != nil {
				return fmt.Errorf("%%swift_module_path %s: %w", d.Path, err)
			}
		case session.MagicSwiftFrameworkPath:
			if runtime.GOOS != "darwin" {
				s.log.Warn("%swift_framework_path ignored on this platform", zap.String("path", d.Path))
				continue
			}
			if err := s.sup.AddModuleSearchPath(ctx, d.Path, true); err != nil {
				return fmt.Errorf("%%swift_framework_path %s: %w", d.Path, err)
			}
		case session.MagicSwiftLink:
			s.requiredSymbols = append(s.requiredSymbols, d.Symbol)
		case session.MagicSwiftFlags, session.MagicSwiftIRSetup:
			s.installer.AddSwiftFlags(d.Flags)
		}
	}
	return nil
}

func (s *Session) replyPreprocessorError(r protocol.Receipt, execCount int, err error) error {
	d := diagnostic.Format("PreprocessorError", session.OutcomePreprocessorError{Message: err.Error()})
	if pubErr := r.PublishExecutionError(d.Name, d.Message, nil); pubErr != nil {
		s.log.Warn("publish preprocessor error failed", zap.Error(pubErr))
	}
	return r.Reply("execute_reply", executeReplyError(execCount, d))
}

func (s *Session) replyOutcome(r protocol.Receipt, execCount int, outcome session.Outcome, silent bool) error {
	switch o := outcome.(type) {
	case session.OutcomeValue:
		if !silent {
			data := protocol.MakeData2(protocol.MIMETypeHTML, o.Value.PlainText, o.Value.HTML)
			if err := r.PublishExecutionResult(execCount, data); err != nil {
				s.log.Warn("publish execute_result failed", zap.Error(err))
			}
		}
		return r.Reply("execute_reply", executeReplyOK(execCount))

	case session.OutcomeVoid:
		return r.Reply("execute_reply", executeReplyOK(execCount))

	case session.OutcomeInterrupted:
		d := diagnostic.Format("Interrupted", o)
		_ = r.PublishExecutionError(d.Name, d.Message, nil)
		return r.Reply("execute_reply", executeReplyError(execCount, d))

	default:
		d := diagnostic.Format("Error", outcome)
		trace := diagnostic.FormatStackFrames(framesOf(outcome))
		tb := []string{d.Message}
		if trace != "" {
			tb = append(tb, strings.Split(strings.TrimRight(trace, "\n"), "\n")...)
		}
		if err := r.PublishExecutionError(d.Name, d.Message, tb); err != nil {
			s.log.Warn("publish execute error failed", zap.Error(err))
		}
		return r.Reply("execute_reply", executeReplyError(execCount, d))
	}
}

func framesOf(outcome session.Outcome) []session.StackFrame {
	if o, ok := outcome.(session.OutcomeRuntimeError); ok {
		return o.Frames
	}
	return nil
}

type executeReplyContent struct {
	Status         string `json:"status"`
	ExecutionCount int    `json:"execution_count"`
	Name           string `json:"ename,omitempty"`
	Value          string `json:"evalue,omitempty"`
}

func executeReplyOK(execCount int) executeReplyContent {
	return executeReplyContent{Status: "ok", ExecutionCount: execCount}
}

func executeReplyError(execCount int, d session.Diagnostic) executeReplyContent {
	return executeReplyContent{Status: "error", ExecutionCount: execCount, Name: d.Name, Value: d.Message}
}

// runInstall enforces the ordering invariant and drives the
// Package Installer, publishing one display_data progress message per
// phase.
func (s *Session) runInstall(ctx context.Context, r protocol.Receipt, execCount int, d session.Directive) error {
	if s.hasExecuted.Load() {
		diag := session.Diagnostic{
			Severity: session.SeverityError,
			Name:     "InstallOrderingError",
			Message:  "a package cannot be installed after Swift code has already executed in this session; restart the kernel to install packages",
		}
		_ = r.PublishExecutionError(diag.Name, diag.Message, nil)
		return r.Reply("execute_reply", executeReplyError(execCount, diag))
	}

	if d.Kind != session.MagicInstall {
		if err := s.installer.Apply(d); err != nil {
			diag := diagnostic.InstallDiagnostic(session.InstallErrorBadSpec, err.Error())
			_ = r.PublishExecutionError(diag.Name, diag.Message, nil)
			return r.Reply("execute_reply", executeReplyError(execCount, diag))
		}
		return r.Reply("execute_reply", executeReplyOK(execCount))
	}

	progress := func(phase installer.Phase, detail string) {
		msg := phase.String()
		if detail != "" {
			msg += ": " + detail
		}
		if err := r.PublishDisplayData(protocol.MakeData(protocol.MIMETypeText, msg)); err != nil {
			s.log.Warn("publish install progress failed", zap.Error(err))
		}
	}

	_, err := s.installer.Install(ctx, d, progress)
	if err != nil {
		kind := session.InstallErrorBuildFailure
		if ie, ok := err.(*installer.InstallError); ok {
			kind = ie.Kind
		}
		diag := diagnostic.InstallDiagnostic(kind, err.Error())
		_ = r.PublishExecutionError(diag.Name, diag.Message, nil)
		return r.Reply("execute_reply", executeReplyError(execCount, diag))
	}

	// Every %swift_link symbol declared so far must resolve now that the
	// new libraries are loaded.
	for _, sym := range s.requiredSymbols {
		found, err := s.sup.LookupSymbol(ctx, sym)
		if err != nil || !found {
			msg := fmt.Sprintf("symbol %q is not resolvable after install", sym)
			diag := diagnostic.InstallDiagnostic(session.InstallErrorLoadFailure, msg)
			_ = r.PublishExecutionError(diag.Name, diag.Message, nil)
			return r.Reply("execute_reply", executeReplyError(execCount, diag))
		}
	}

	return r.Reply("execute_reply", executeReplyOK(execCount))
}

// Complete implements protocol.Handler. All position
// arithmetic is in Unicode code points.
func (s *Session) Complete(r protocol.Receipt) error {
	content, _ := r.Msg.Content.(map[string]interface{})
	code, _ := content["code"].(string)
	cursorPosF, _ := content["cursor_pos"].(float64)

	prefix, cursorPos := completionPrefix(code, int(cursorPosF))

	if s.bridge.Executing() {
		return r.Reply("complete_reply", protocol.CompleteReply{
			Status:      "ok",
			Matches:     []string{},
			CursorStart: cursorPos,
			CursorEnd:   cursorPos,
		})
	}
	if !s.completion.Load() {
		return r.Reply("complete_reply", protocol.CompleteReply{Status: "ok", Matches: []string{}, CursorStart: cursorPos, CursorEnd: cursorPos})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	completions, err := s.sup.Complete(ctx, prefix)
	if err != nil {
		s.log.Debug("completion query failed", zap.Error(err))
		return r.Reply("complete_reply", protocol.CompleteReply{Status: "ok", Matches: []string{}, CursorStart: cursorPos, CursorEnd: cursorPos})
	}

	commonLen := len([]rune(completions.CommonPrefix))
	cursorStart := cursorPos - commonLen
	if cursorStart < 0 {
		cursorStart = 0
	}

	return r.Reply("complete_reply", protocol.CompleteReply{
		Status:      "ok",
		Matches:     completions.Candidates,
		CursorStart: cursorStart,
		CursorEnd:   cursorPos,
	})
}

// completionPrefix slices code at cursorPos counted in Unicode code
// points, never bytes, clamping out-of-range positions rather than
// failing on them.
func completionPrefix(code string, cursorPos int) (string, int) {
	runes := []rune(code)
	if cursorPos > len(runes) {
		cursorPos = len(runes)
	}
	if cursorPos < 0 {
		cursorPos = 0
	}
	return string(runes[:cursorPos]), cursorPos
}

// Interrupt implements protocol.Handler. It must not block.
func (s *Session) Interrupt(r protocol.Receipt) error {
	switch s.sup.ProcessState() {
	case debugger.StateExited, debugger.StateCrashed:
		return r.Reply("interrupt_reply", protocol.InterruptReply{Status: "error", EName: "NoProcess"})
	}
	if err := s.bridge.Interrupt(); err != nil {
		s.log.Warn("interrupt delivery failed", zap.Error(err))
	}
	return r.Reply("interrupt_reply", protocol.InterruptReply{Status: "ok"})
}

// Shutdown implements protocol.Handler.
func (s *Session) Shutdown(r protocol.Receipt, restart bool) error {
	s.Stop()
	return r.Reply("shutdown_reply", protocol.ShutdownReply{Status: "ok", Restart: restart})
}

// IsComplete implements protocol.Handler with a brace/paren/bracket
// balance heuristic; Swift's true grammar is not re-implemented here.
func (s *Session) IsComplete(code string) (status, indent string) {
	depth := 0
	for _, r := range code {
		switch r {
		case '{', '(', '[':
			depth++
		case '}', ')', ']':
			depth--
		}
	}
	if depth > 0 {
		return "incomplete", strings.Repeat("    ", depth)
	}
	if depth < 0 {
		return "invalid", ""
	}
	return "complete", ""
}

// --- preprocessor.Hooks ---

// Timeit implements preprocessor.Hooks. With no explicit iteration count
// it keeps running until the cumulative wall-clock time reaches 200ms, up
// to a bounded maximum.
func (s *Session) Timeit(source string, n int) (preprocessor.TimeitResult, error) {
	const (
		autoBudget  = 200 * time.Millisecond
		autoMaxRuns = 100
	)
	max := n
	if n <= 0 {
		max = autoMaxRuns
	}
	durations := make([]time.Duration, 0, max)
	cell := session.Cell{Counter: int(s.counter.Load()), Source: source}

	s.bridge.SetExecuting(true)
	defer s.bridge.SetExecuting(false)

	var total time.Duration
	for i := 0; i < max; i++ {
		if s.bridge.Interrupted() {
			break
		}
		start := time.Now()
		s.sup.Execute(context.Background(), cell)
		d := time.Since(start)
		durations = append(durations, d)
		total += d
		if n <= 0 && total >= autoBudget {
			break
		}
	}
	if len(durations) == 0 {
		return preprocessor.TimeitResult{}, fmt.Errorf("timeit: no runs completed")
	}
	// Timed runs still execute Swift in the REPL, so the install window
	// closes just as it does for an ordinary cell.
	s.hasExecuted.Store(true)
	minD, maxD := durations[0], durations[0]
	for _, d := range durations {
		if d < minD {
			minD = d
		}
		if d > maxD {
			maxD = d
		}
	}
	return preprocessor.TimeitResult{
		Runs: len(durations),
		Min:  minD,
		Mean: total / time.Duration(len(durations)),
		Max:  maxD,
	}, nil
}

// Reset implements preprocessor.Hooks. Relaunching the Swift process also
// reopens the pre-execution window in which installs are allowed, since
// build flags and search paths reach the REPL only at startup.
func (s *Session) Reset() error {
	s.counter.Store(0)
	s.hasExecuted.Store(false)
	return s.sup.Restart(context.Background())
}

// History implements preprocessor.Hooks.
func (s *Session) History() []session.Cell { return s.history.All() }

// Save implements preprocessor.Hooks.
func (s *Session) Save(path string) error {
	var b strings.Builder
	for _, c := range s.history.All() {
		b.WriteString(c.Raw)
		b.WriteString("\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// LoadFile implements preprocessor.Hooks.
func (s *Session) LoadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EnableCompletion implements preprocessor.Hooks.
func (s *Session) EnableCompletion() { s.completion.Store(true) }

// DisableCompletion implements preprocessor.Hooks.
func (s *Session) DisableCompletion() { s.completion.Store(false) }

// SwiftVersion implements preprocessor.Hooks.
func (s *Session) SwiftVersion() string { return s.swiftVersion }

// ConfigSummary implements preprocessor.Hooks.
func (s *Session) ConfigSummary() string {
	out, err := kernelconfig.AsYAML(s.cfg)
	if err != nil {
		return fmt.Sprintf("error rendering config: %v", err)
	}
	return out
}

// Env implements preprocessor.Hooks.
func (s *Session) Env() []string {
	env := os.Environ()
	sort.Strings(env)
	return env
}

// detectSwiftVersion best-effort shells out to `swift --version` and
// extracts a dotted version number.
func detectSwiftVersion(swiftBuildPath string) string {
	if swiftBuildPath == "" {
		return "unknown"
	}
	cmd := exec.Command(swiftBuildPath, "--version")
	out, err := cmd.Output()
	if err != nil {
		return "unknown"
	}
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		if v := extractDottedVersion(scanner.Text()); v != "" {
			return v
		}
	}
	return "unknown"
}

func extractDottedVersion(line string) string {
	fields := strings.Fields(line)
	for _, f := range fields {
		if isDottedVersion(f) {
			return strings.TrimRight(f, ".,")
		}
	}
	return ""
}

func isDottedVersion(s string) bool {
	dot := false
	digit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digit = true
		case r == '.':
			dot = true
		default:
			return false
		}
	}
	return dot && digit
}
