// Package session defines the kernel's core data model: cells, magic
// directives, installed packages, execution outcomes, and the Session that
// ties a kernel run together.
package session

import "fmt"

// Cell is a single submission identified by its execution counter.
type Cell struct {
	// Counter is the execution counter this cell was assigned.
	Counter int
	// Raw is the unmodified text the client submitted.
	Raw string
	// Directives holds every magic directive extracted from Raw, in
	// source order.
	Directives []Directive
	// Source is the residual Swift source after magic lines are removed,
	// with the source-location directive already prepended.
	Source string
}

// FileName is the synthetic file name diagnostics should attribute this
// cell's source to, so compiler errors point at the coordinate the user
// actually sees in the notebook.
func (c Cell) FileName() string {
	return fmt.Sprintf("<cell %d>", c.Counter)
}
