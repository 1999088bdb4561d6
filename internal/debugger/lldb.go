package debugger

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Known debugger-output prefixes the Diagnostic Formatter strips.
// compileErrorPrefix marks the beginning of a Swift compiler
// diagnostic returned by lldb's expression evaluator.
const (
	compileErrorPrefix = "error: "
	warningPrefix      = "warning: "
	notePrefix         = "note: "
)

// promptPattern matches the numbered continuation prompt LLDB's Swift REPL
// prints after it finishes evaluating a submission (e.g. "  1> ",
// " 23> "). Evaluate reads lines until one matches this, treating
// everything read before it as that submission's raw result text -- the
// same "read until the next prompt reappears" sentinel technique
// interactive process drivers use.
var promptPattern = regexp.MustCompile(`^\s*\d+>\s*$`)

var processStoppedPattern = regexp.MustCompile(`Process \d+ stopped`)
var processExitedPattern = regexp.MustCompile(`Process \d+ exited`)

// frameLinePattern parses an lldb `bt` frame line, e.g.:
//
//	frame #0: 0x0000000100003f5c $__lldb_expr3`f() at <cell 3>:2:12
var frameLinePattern = regexp.MustCompile("frame #\\d+:.*`(.+) at ([^:]+):(\\d+):(\\d+)\\s*$")

// LLDBSession drives a real `lldb` command-line process over its
// stdin/stdout pipes. It realizes the debugger.Session contract without
// a cgo binding against liblldb.
type LLDBSession struct {
	mu sync.Mutex

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader

	// targetStdout accumulates bytes captured from the hosted Swift
	// process's own stdout (as distinct from lldb's command/response
	// channel), for ReadStdout's non-blocking drain.
	targetStdoutMu sync.Mutex
	targetStdout   bytes.Buffer

	state atomic.Int32 // ProcessState

	seq atomic.Int64
}

// NewLLDBSession constructs an unstarted session.
func NewLLDBSession() *LLDBSession {
	s := &LLDBSession{}
	s.state.Store(int32(StateExited))
	return s
}

// Launch starts `lldb`, creates a target pointing at replBinaryPath, and
// launches it with libraryPath prepended to the dynamic loader search
// path, detecting aarch64 vs x86_64 from the host architecture.
func (s *LLDBSession) Launch(ctx context.Context, replBinaryPath, libraryPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	arch := hostArch()
	cmd := exec.CommandContext(ctx, "lldb", "--no-lldbinit", "--arch", arch, replBinaryPath)
	if libraryPath != "" {
		cmd.Env = append(os.Environ(), envWithLibraryPath(libraryPath)...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "creating lldb stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "creating lldb stdout pipe")
	}
	cmd.Stderr = cmd.Stdout // diagnostics interleave with the REPL transcript, as lldb does by default

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "starting lldb")
	}

	s.cmd = cmd
	s.stdin = stdin
	s.reader = bufio.NewReader(stdout)
	s.state.Store(int32(StateRunning))

	if _, err := s.writeAndAwaitPrompt(ctx, fmt.Sprintf("process launch -- %s", replBinaryPath)); err != nil {
		return errors.Wrap(err, "launching REPL target")
	}
	return nil
}

func hostArch() string {
	switch runtime.GOARCH {
	case "arm64":
		return "aarch64"
	default:
		return "x86_64"
	}
}

func envWithLibraryPath(path string) []string {
	varName := "LD_LIBRARY_PATH"
	if runtime.GOOS == "darwin" {
		varName = "DYLD_LIBRARY_PATH"
	}
	if existing := os.Getenv(varName); existing != "" {
		path = path + string(os.PathListSeparator) + existing
	}
	return []string{varName + "=" + path}
}

// writeAndAwaitPrompt sends line to lldb's stdin and reads the raw
// response text up to (but excluding) the next continuation prompt.
func (s *LLDBSession) writeAndAwaitPrompt(ctx context.Context, line string) (string, error) {
	if s.stdin == nil {
		return "", errors.New("debugger session not started")
	}
	if _, err := io.WriteString(s.stdin, line+"\n"); err != nil {
		return "", errors.Wrap(err, "writing to lldb stdin")
	}

	type readResult struct {
		text string
		err  error
	}
	done := make(chan readResult, 1)
	go func() {
		var buf strings.Builder
		for {
			text, err := s.reader.ReadString('\n')
			if text != "" {
				if promptPattern.MatchString(text) {
					done <- readResult{text: buf.String()}
					return
				}
				buf.WriteString(text)
				s.captureTargetOutput(text)
			}
			if err != nil {
				done <- readResult{text: buf.String(), err: err}
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.text, r.err
	}
}

// captureTargetOutput appends output lines that look like they came from
// the hosted process (as opposed to lldb's own command echo) into the
// buffer ReadStdout drains. A real integration distinguishes the two via
// separate file descriptors; here any line that is not
// itself a compiler/runtime diagnostic prefix is treated as target stdout.
func (s *LLDBSession) captureTargetOutput(line string) {
	if strings.HasPrefix(line, compileErrorPrefix) || strings.HasPrefix(line, warningPrefix) || strings.HasPrefix(line, notePrefix) {
		return
	}
	if processStoppedPattern.MatchString(line) {
		s.state.Store(int32(StateStopped))
		return
	}
	if processExitedPattern.MatchString(line) {
		s.state.Store(int32(StateExited))
		return
	}
	s.targetStdoutMu.Lock()
	s.targetStdout.WriteString(line)
	s.targetStdoutMu.Unlock()
}

// Evaluate implements debugger.Session.Evaluate.
func (s *LLDBSession) Evaluate(ctx context.Context, source string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.seq.Add(1)
	raw, err := s.writeAndAwaitPrompt(ctx, source)
	if err != nil {
		return Result{}, errors.Wrapf(err, "evaluating submission %d", seq)
	}
	return parseResult(raw), nil
}

// parseResult classifies raw lldb output text into a Result. This is
// deliberately permissive: the REPL Supervisor (internal/repl), not this
// package, is responsible for turning a Result into an execution outcome.
func parseResult(raw string) Result {
	lines := strings.Split(raw, "\n")
	var body []string
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		body = append(body, l)
	}
	if len(body) == 0 {
		return Result{}
	}

	for _, l := range body {
		if strings.Contains(l, compileErrorPrefix) {
			return Result{ErrorDescription: strings.TrimSpace(l), ErrorReported: true}
		}
	}
	if processStoppedPattern.MatchString(raw) {
		return Result{ErrorDescription: strings.TrimSpace(raw), ErrorReported: true}
	}

	// "$R0: Int = 42" is lldb's conventional declaration-result echo.
	last := body[len(body)-1]
	if idx := strings.Index(last, "="); idx > 0 && strings.HasPrefix(strings.TrimSpace(last), "$") {
		decl := strings.TrimSpace(last[:idx])
		value := strings.TrimSpace(last[idx+1:])
		typeName := ""
		if parts := strings.SplitN(decl, ":", 2); len(parts) == 2 {
			typeName = strings.TrimSpace(parts[1])
		}
		return Result{
			HasValue:         true,
			ValueDescription: value,
			Summary:          value,
			Value:            value,
			TypeName:         typeName,
		}
	}
	return Result{}
}

// AddModuleSearchPath implements debugger.Session.AddModuleSearchPath by
// appending to lldb's Swift module (or framework) search-path setting.
// The setting only affects expressions evaluated after it is issued,
// which is why install-class magics must precede any successful
// evaluation.
func (s *LLDBSession) AddModuleSearchPath(ctx context.Context, path string, framework bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	setting := "target.swift-module-search-paths"
	if framework {
		setting = "target.swift-framework-search-paths"
	}
	if _, err := s.writeAndAwaitPrompt(ctx, fmt.Sprintf("settings append %s %q", setting, path)); err != nil {
		return errors.Wrapf(err, "appending %s to %s", path, setting)
	}
	return nil
}

// LookupSymbol implements debugger.Session.LookupSymbol via lldb's image
// lookup command. An empty or error-bearing response means the symbol is
// not resolvable in any loaded image.
func (s *LLDBSession) LookupSymbol(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.writeAndAwaitPrompt(ctx, fmt.Sprintf("image lookup -n %q", name))
	if err != nil {
		return false, errors.Wrapf(err, "looking up symbol %s", name)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "error") {
		return false, nil
	}
	return true, nil
}

// Interrupt implements debugger.Session.Interrupt.
func (s *LLDBSession) Interrupt() error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil // no process present: no-op
	}
	return cmd.Process.Signal(interruptSignal())
}

// ProcessState implements debugger.Session.ProcessState.
func (s *LLDBSession) ProcessState() ProcessState {
	return ProcessState(s.state.Load())
}

// Resume implements debugger.Session.Resume by continuing the stopped
// process so the REPL remains usable after a runtime error.
func (s *LLDBSession) Resume(ctx context.Context) error {
	if _, err := s.writeAndAwaitPrompt(ctx, "process continue"); err != nil {
		return errors.Wrap(err, "resuming process")
	}
	s.state.Store(int32(StateRunning))
	return nil
}

// Backtrace implements debugger.Session.Backtrace.
func (s *LLDBSession) Backtrace(ctx context.Context) ([]Frame, error) {
	raw, err := s.writeAndAwaitPrompt(ctx, "bt")
	if err != nil {
		return nil, errors.Wrap(err, "requesting backtrace")
	}
	var frames []Frame
	for _, line := range strings.Split(raw, "\n") {
		m := frameLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lineNum, _ := strconv.Atoi(m[3])
		col, _ := strconv.Atoi(m[4])
		if lineNum <= 0 {
			continue // frames without source info are skipped
		}
		frames = append(frames, Frame{
			Function: m[1],
			File:     filepath.Base(m[2]),
			Line:     lineNum,
			Column:   col,
		})
	}
	return frames, nil
}

// Complete implements debugger.Session.Complete.
func (s *LLDBSession) Complete(ctx context.Context, prefix string) (Completions, error) {
	raw, err := s.writeAndAwaitPrompt(ctx, fmt.Sprintf("expression -- __complete(%q)", prefix))
	if err != nil {
		return Completions{}, errors.Wrap(err, "requesting completions")
	}
	var candidates []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "$") {
			continue
		}
		candidates = append(candidates, line)
	}
	return Completions{CommonPrefix: commonPrefix(candidates), Candidates: candidates}, nil
}

func commonPrefix(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	p := ss[0]
	for _, s := range ss[1:] {
		for !strings.HasPrefix(s, p) {
			if p == "" {
				return ""
			}
			p = p[:len(p)-1]
		}
	}
	return p
}

// Load implements debugger.Session.Load: lldb's `process load` command is
// the CLI-level equivalent of calling dlopen inside the live process,
// with lazy binding and global symbol visibility.
func (s *LLDBSession) Load(ctx context.Context, path string) error {
	raw, err := s.writeAndAwaitPrompt(ctx, fmt.Sprintf("process load %q", path))
	if err != nil {
		return errors.Wrapf(err, "loading %s", path)
	}
	if strings.Contains(raw, "error") {
		return errors.Errorf("process load %s failed: %s", path, strings.TrimSpace(raw))
	}
	return nil
}

// ReadStdout implements debugger.Session.ReadStdout: a non-blocking drain
// of whatever the hosted process has written since the last call.
func (s *LLDBSession) ReadStdout() ([]byte, error) {
	s.targetStdoutMu.Lock()
	defer s.targetStdoutMu.Unlock()
	if s.targetStdout.Len() == 0 {
		return nil, nil
	}
	data := make([]byte, s.targetStdout.Len())
	copy(data, s.targetStdout.Bytes())
	s.targetStdout.Reset()
	return data, nil
}

// Close implements debugger.Session.Close.
func (s *LLDBSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	s.state.Store(int32(StateExited))
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

var _ Session = (*LLDBSession)(nil)
