package stitch

import (
	"path/filepath"

	"jst/utils/debug"
)

// Outcome of a single resource resolution.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeResolved
	OutcomeAbsent
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResolved:
		return "resolved"
	case OutcomeAbsent:
		return "absent"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Trace records how a resource has been resolved. Children are in the order of
// keys of the loaded document.
type Trace struct {
	// Key is the logical name in the parent document, empty for root and link
	// targets.
	Key     string
	ID      ResourceID
	Source  Source
	Schema  string
	Outcome Outcome
	// Link is set for linked resources and describes resolution of the target.
	Link     *Trace
	Children []*Trace
}

// Render produces human readable tree of the resolution.
func (t *Trace) Render() string {
	tw := debug.NewTreeWriter("  ", 120)
	t.render(tw, 0)
	return tw.String()
}

func (t *Trace) render(tw *debug.TreeWriter, depth int) {
	if t == nil {
		return
	}
	label := t.Key
	if len(label) == 0 {
		label = "@"
	}
	tw.Line(depth, "%s [%s] %s: %s", label, t.Source, t.ID, t.Outcome)
	if len(t.Schema) > 0 {
		tw.Field(depth+1, "schema", t.Schema)
	}
	if t.Link != nil {
		tw.Line(depth+1, "->")
		t.Link.render(tw, depth+2)
	}
	for _, c := range t.Children {
		c.render(tw, depth+1)
	}
}

// Dirs returns every directory looked at during resolution, each once, in the
// order of the first visit.
func (t *Trace) Dirs() []string {
	var (
		dirs []string
		seen = make(map[string]struct{})
	)
	var walk func(*Trace)
	walk = func(n *Trace) {
		if n == nil || n.Outcome == OutcomePending {
			return
		}
		for _, d := range []string{n.ID.Dir, filepath.Join(n.ID.Dir, n.ID.Stem)} {
			if _, ok := seen[d]; !ok {
				seen[d] = struct{}{}
				dirs = append(dirs, d)
			}
		}
		walk(n.Link)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t)
	return dirs
}
