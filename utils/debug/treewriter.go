// Package debug has helpers producing human readable dumps for logs and
// debug reports.
package debug

import (
	"fmt"
	"strconv"
	"strings"
)

// TreeWriter accumulates indented lines, one per tree node.
type TreeWriter struct {
	b      *strings.Builder
	indent string
	// values longer than this are cut in Field, 0 means no limit
	limit int
}

func NewTreeWriter(indent string, limit int) *TreeWriter {
	return &TreeWriter{b: &strings.Builder{}, indent: indent, limit: limit}
}

func (tw *TreeWriter) String() string {
	return tw.b.String()
}

func (tw *TreeWriter) pad(depth int) {
	for range depth {
		tw.b.WriteString(tw.indent)
	}
}

// Line writes formatted node line at depth.
func (tw *TreeWriter) Line(depth int, format string, args ...any) {
	tw.pad(depth)
	fmt.Fprintf(tw.b, format, args...)
	tw.b.WriteByte('\n')
}

// Field writes "label: value" with value quoted so that embedded line breaks
// do not break the tree.
func (tw *TreeWriter) Field(depth int, label, value string) {
	tw.pad(depth)
	tw.b.WriteString(label)
	tw.b.WriteString(": ")
	tw.b.WriteString(tw.quote(value))
	tw.b.WriteByte('\n')
}

func (tw *TreeWriter) quote(value string) string {
	if len(value) == 0 {
		return `""`
	}
	if r := []rune(value); tw.limit > 0 && len(r) > tw.limit {
		return strconv.Quote(string(r[:tw.limit])) + "..."
	}
	return strconv.Quote(value)
}
