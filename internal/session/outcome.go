package session

import "strconv"

// Outcome is the tagged-variant result of evaluating a cell. It is modeled as an interface with concrete
// structs rather than a class hierarchy, per the "polymorphism instead of
// inheritance" design note.
type Outcome interface {
	isOutcome()
}

// ValueField describes one child field of a structured display (sequence
// element, mapping entry, or record field).
type ValueField struct {
	Key   string // index (sequences), key (mappings), or field name (records)
	Type  string // child's type; only records display it
	Value string
}

// RenderKind distinguishes the renderer disciplines for displayed values.
type RenderKind int

const (
	RenderPlain RenderKind = iota
	RenderSequence
	RenderMapping
	RenderRecord
)

// Rendered is the dual plain-text/HTML rendering of a successfully
// evaluated expression.
type Rendered struct {
	TypeName  string
	Summary   string
	Kind      RenderKind
	Fields    []ValueField // bounded per RenderKind
	Truncated bool
	PlainText string
	HTML      string
}

// OutcomeValue is "success with value".
type OutcomeValue struct {
	Value Rendered
}

func (OutcomeValue) isOutcome() {}

// OutcomeVoid is "success without value": statements producing no
// expression result.
type OutcomeVoid struct{}

func (OutcomeVoid) isOutcome() {}

// OutcomePreprocessorError is a failure detected before code reached the
// debugger (bad magic, missing include file, malformed directive).
type OutcomePreprocessorError struct {
	Message string
}

func (OutcomePreprocessorError) isOutcome() {}

// OutcomeCompileError is "the debugger returned an error whose text begins
// with the compile-diagnostic prefix".
type OutcomeCompileError struct {
	Message string
	Hint    string // advisory remediation, empty if no catalog match
}

func (OutcomeCompileError) isOutcome() {}

// StackFrame is one frame of a captured Swift-level stack trace.
type StackFrame struct {
	Function string
	File     string
	Line     int
	Column   int
}

// String formats the frame as "  at <fn> (<file>:<line>:<col>)".
func (f StackFrame) String() string {
	return "  at " + f.Function + " (" + f.File + ":" + strconv.Itoa(f.Line) + ":" + strconv.Itoa(f.Column) + ")"
}

// OutcomeRuntimeError is "the debugger reported that the process stopped
// in a non-exited state". Fatal indicates the process exited/crashed and
// must be re-launched.
type OutcomeRuntimeError struct {
	Message string
	Frames  []StackFrame
	Fatal   bool
}

func (OutcomeRuntimeError) isOutcome() {}

// OutcomeInterrupted is "a pending interrupt intercepted the evaluation".
type OutcomeInterrupted struct{}

func (OutcomeInterrupted) isOutcome() {}
