// Package stitch assembles single document from a tree of fragment files.
//
// Every logical resource "name" in directory "dir" may be represented by
// following files:
//
//	dir/stem.schema  schema for fully assembled value of the resource
//	dir/stem.data    raw payload, embedded as base64 string
//	dir/stem.json    JSON document, may be a symbolic link to another resource
//	dir/stem.bson    BSON document, may be a symbolic link to another resource
//
// Fields of a loaded document are resolved recursively as resources located
// in "dir/stem" directory, so any part of a document could be overridden by a
// dedicated fragment.
package stitch

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrBadLocator is returned when resource locator could not be split into
// directory and stem.
var ErrBadLocator = errors.New("bad resource locator")

// ResourceID identifies node of the fragment tree. Stem is the on-disk (already
// encoded) name.
type ResourceID struct {
	Dir  string
	Stem string
}

// ParseResourceID splits locator "dir/name" on the last path separator. Name is
// used literally, without key encoding, and has no extension.
func ParseResourceID(locator string) (ResourceID, error) {
	if len(locator) == 0 {
		return ResourceID{}, fmt.Errorf("%w: empty", ErrBadLocator)
	}
	i := strings.LastIndexByte(locator, filepath.Separator)
	if filepath.Separator != '/' {
		if j := strings.LastIndexByte(locator, '/'); j > i {
			i = j
		}
	}
	if i < 0 {
		return ResourceID{Dir: ".", Stem: locator}, nil
	}
	id := ResourceID{Dir: filepath.Clean(locator[:i]), Stem: locator[i+1:]}
	if i == 0 {
		// root of the filesystem
		id.Dir = locator[:1]
	}
	if len(id.Stem) == 0 {
		return ResourceID{}, fmt.Errorf("%w: %q has no name", ErrBadLocator, locator)
	}
	return id, nil
}

func (id ResourceID) String() string {
	return filepath.Join(id.Dir, id.Stem)
}

// File returns path to the fragment file with given extension.
func (id ResourceID) File(ext string) string {
	return filepath.Join(id.Dir, id.Stem+ext)
}

// Child returns id of the field "name" of this resource.
func (id ResourceID) Child(name string, encode bool) ResourceID {
	return ResourceID{Dir: filepath.Join(id.Dir, id.Stem), Stem: EncodeKey(name, encode)}
}
