// Package preprocessor implements the Cell Preprocessor:
// splitting magic directives from residual Swift source, injecting
// source-location directives, and rendering the output of
// session-operator magics that short-circuit cell execution.
package preprocessor

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/swiftkernel/swiftkernel/internal/session"
)

// Preprocessor holds the configurable include search path and the
// best-effort textual declaration tracker %who reports from.
type Preprocessor struct {
	IncludeSearchPath []string
	hooks             Hooks

	mu           sync.Mutex
	declarations map[string]string // name -> kind (let/var/func/struct/class/enum/protocol)
}

// New constructs a Preprocessor backed by hooks for session-operator
// magics.
func New(hooks Hooks, includeSearchPath []string) *Preprocessor {
	return &Preprocessor{
		hooks:             hooks,
		IncludeSearchPath: includeSearchPath,
		declarations:      make(map[string]string),
	}
}

// Result is what Process produces for one cell.
type Result struct {
	Cell session.Cell

	// Handled is true when a session-operator magic rendered its own
	// output and the cell should not be forwarded to the REPL
	// Supervisor or Package Installer.
	Handled bool
	Output  string

	// Install is populated when the cell carries an install-class
	// directive that must instead be routed to the Package Installer.
	Install *session.Directive
}

// PreprocessorError is a preprocessor-detected failure: unknown magic, missing include file, more than
// one install-class directive, etc.
type PreprocessorError struct {
	Message string
}

func (e *PreprocessorError) Error() string { return e.Message }

var declPattern = regexp.MustCompile(`^\s*(let|var|func|struct|class|enum|protocol)\s+([A-Za-z_][A-Za-z0-9_]*)`)

// Process splits raw cell text into magic directives and residual Swift
// source.
func (p *Preprocessor) Process(counter int, raw string) (Result, error) {
	cell := session.Cell{Counter: counter, Raw: raw}
	lines := strings.Split(raw, "\n")

	var residual []string
	var installDirective *session.Directive
	var timeitDirective *session.Directive

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			residual = append(residual, line)
			continue
		}

		fields := tokenize(trimmed)
		name := fields[0]
		kind, isMagic := magicNames[name]
		if !strings.HasPrefix(name, "%") {
			residual = append(residual, line)
			p.trackDeclarations(line)
			continue
		}
		if !isMagic {
			return Result{}, &PreprocessorError{Message: fmt.Sprintf("unknown special command: %q", name)}
		}

		directive, err := p.parseDirective(kind, name, fields[1:], line)
		if err != nil {
			return Result{}, err
		}
		cell.Directives = append(cell.Directives, directive)

		if kind.InstallClass() {
			if installDirective != nil {
				return Result{}, &PreprocessorError{Message: "at most one install-class directive is allowed per cell"}
			}
			d := directive
			installDirective = &d
			continue
		}

		if kind == session.MagicInclude {
			content, err := p.resolveInclude(directive.Path)
			if err != nil {
				return Result{}, err
			}
			residual = append(residual, content)
			continue
		}

		// %timeit times the rest of the cell's Swift body, so it cannot
		// short-circuit until the remaining lines have been collected.
		if kind == session.MagicTimeit {
			d := directive
			timeitDirective = &d
			continue
		}

		if kind.SessionOperator() {
			out, err := p.runSessionOperator(directive)
			if err != nil {
				return Result{}, err
			}
			cell.Source = ""
			return Result{Cell: cell, Handled: true, Output: out}, nil
		}

		// Compiler-flag / path / link / env directives don't contribute
		// Swift source; the REPL Supervisor and Package Installer read
		// them back off cell.Directives.
	}

	if installDirective != nil {
		cell.Source = strings.Join(residual, "\n")
		return Result{Cell: cell, Install: installDirective}, nil
	}

	if timeitDirective != nil {
		body := strings.TrimSpace(strings.Join(residual, "\n"))
		if body == "" {
			body = strings.Join(timeitDirective.Args, " ")
		}
		out, err := p.runTimeit(*timeitDirective, body)
		if err != nil {
			return Result{}, err
		}
		cell.Source = ""
		return Result{Cell: cell, Handled: true, Output: out}, nil
	}

	source := strings.Join(residual, "\n")
	// Source-location directive, prepended once per cell, so the debugger attributes diagnostics to the cell coordinate
	// the user sees rather than an internal temp-file path.
	cell.Source = fmt.Sprintf("#sourceLocation(file: %q, line: 1)\n%s", cell.FileName(), source)

	return Result{Cell: cell}, nil
}

func (p *Preprocessor) trackDeclarations(line string) {
	m := declPattern.FindStringSubmatch(line)
	if m == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.declarations[m[2]] = m[1]
}

// Who renders the %who magic's best-effort declaration list.
func (p *Preprocessor) Who() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.declarations) == 0 {
		return "(no declarations observed yet)\n"
	}
	names := make([]string, 0, len(p.declarations))
	for name := range p.declarations {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s %s\n", p.declarations[name], name)
	}
	return b.String()
}

func (p *Preprocessor) resolveInclude(name string) (string, error) {
	for _, dir := range p.IncludeSearchPath {
		content, err := p.hooks.LoadFile(dir + "/" + name)
		if err == nil {
			return content, nil
		}
	}
	content, err := p.hooks.LoadFile(name)
	if err == nil {
		return content, nil
	}
	return "", &PreprocessorError{Message: fmt.Sprintf("%%include: file %q not found in search path", name)}
}

func (p *Preprocessor) runSessionOperator(d session.Directive) (string, error) {
	switch d.Kind {
	case session.MagicHelp, session.MagicLsmagic:
		return lsmagicHelp, nil
	case session.MagicWho:
		return p.Who(), nil
	case session.MagicReset:
		if err := p.hooks.Reset(); err != nil {
			return "", errors.Wrap(err, "%reset")
		}
		return "Swift process reset; history preserved.\n", nil
	case session.MagicEnv:
		return strings.Join(p.hooks.Env(), "\n") + "\n", nil
	case session.MagicSwiftConfig:
		return p.hooks.ConfigSummary(), nil
	case session.MagicSwiftVersion:
		return p.hooks.SwiftVersion() + "\n", nil
	case session.MagicLoad:
		content, err := p.hooks.LoadFile(d.HistoryPath)
		if err != nil {
			return "", errors.Wrapf(err, "%%load %s", d.HistoryPath)
		}
		return content, nil
	case session.MagicSave:
		if err := p.hooks.Save(d.HistoryPath); err != nil {
			return "", errors.Wrapf(err, "%%save %s", d.HistoryPath)
		}
		return fmt.Sprintf("Saved session history to %s\n", d.HistoryPath), nil
	case session.MagicHistory:
		var b strings.Builder
		for _, c := range p.hooks.History() {
			fmt.Fprintf(&b, "# cell %d\n%s\n", c.Counter, c.Raw)
		}
		return b.String(), nil
	case session.MagicEnableCompletion:
		p.hooks.EnableCompletion()
		return "Completion enabled.\n", nil
	case session.MagicDisableCompletion:
		p.hooks.DisableCompletion()
		return "Completion disabled.\n", nil
	default:
		return "", &PreprocessorError{Message: "unhandled session operator"}
	}
}

func (p *Preprocessor) runTimeit(d session.Directive, body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", &PreprocessorError{Message: "%timeit requires a Swift body to time"}
	}
	result, err := p.hooks.Timeit(body, d.Iterations)
	if err != nil {
		return "", errors.Wrap(err, "%timeit")
	}
	return fmt.Sprintf("%d runs: min %s, mean %s, max %s\n",
		result.Runs, result.Min, result.Mean, result.Max), nil
}

func (p *Preprocessor) parseDirective(kind session.MagicKind, name string, args []string, line string) (session.Directive, error) {
	d := session.Directive{Kind: kind, Line: line, Args: args}

	switch kind {
	case session.MagicInstall:
		if len(args) < 2 {
			return d, &PreprocessorError{Message: "%install requires a dependency spec and at least one product name"}
		}
		d.Package = &session.PackageSpec{DependencySpec: args[0], Products: args[1:]}
	case session.MagicInstallSwiftPMFlags:
		d.Flags = strings.Join(args, " ")
	case session.MagicInstallExtraIncludeCommand:
		d.ShellCommand = strings.Join(args, " ")
	case session.MagicInstallLocation, session.MagicInclude,
		session.MagicSwiftLibraryPath, session.MagicSwiftModulePath, session.MagicSwiftFrameworkPath:
		if len(args) < 1 {
			return d, &PreprocessorError{Message: fmt.Sprintf("%s requires a path argument", name)}
		}
		d.Path = args[0]
	case session.MagicSwiftLink:
		if len(args) < 1 {
			return d, &PreprocessorError{Message: "%swift_link requires a symbol name"}
		}
		d.Symbol = args[0]
	case session.MagicSwiftFlags, session.MagicSwiftIRSetup:
		d.Flags = strings.Join(args, " ")
	case session.MagicSwiftEnv:
		if len(args) < 2 {
			return d, &PreprocessorError{Message: "%swift_env requires a key and a value"}
		}
		d.EnvKey, d.EnvValue = args[0], args[1]
	case session.MagicTimeit:
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil {
				d.Iterations = n
				d.Args = args[1:]
			}
		}
	case session.MagicLoad, session.MagicSave:
		if len(args) < 1 {
			return d, &PreprocessorError{Message: fmt.Sprintf("%s requires a file path", name)}
		}
		d.HistoryPath = args[0]
	}
	return d, nil
}
