package stitch

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ResolveLink computes resource the symbolic link points to: canonical target
// path with the last extension of its base name removed. Target without
// extension names the resource directly.
func ResolveLink(fsys FS, link string) (ResourceID, error) {
	target, err := fsys.Canonical(link)
	if err != nil {
		return ResourceID{}, fmt.Errorf("unable to resolve link: %w", err)
	}
	dir, base := filepath.Split(target)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if len(stem) == 0 {
		return ResourceID{}, fmt.Errorf("%w: %s", ErrEmptyStem, target)
	}
	switch {
	case len(dir) == 0:
		// relative canonical paths are possible with archives
		dir = "."
	case len(dir) > 1:
		dir = strings.TrimSuffix(dir, string(filepath.Separator))
	}
	return ResourceID{Dir: dir, Stem: stem}, nil
}

// chain is a list of resources being resolved on the current branch, used to
// detect link cycles. It is immutable so branches may share it.
type chain struct {
	id     ResourceID
	parent *chain
}

func (c *chain) push(id ResourceID) *chain {
	return &chain{id: id, parent: c}
}

func (c *chain) contains(id ResourceID) bool {
	for ; c != nil; c = c.parent {
		if c.id == id {
			return true
		}
	}
	return false
}
