package stitch

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Fragment file extensions.
const (
	ExtSchema = ".schema"
	ExtData   = ".data"
	ExtJSON   = ".json"
	ExtBSON   = ".bson"
)

// SourceKind is the kind of content fragment found for a resource.
type SourceKind int

const (
	SourceNone SourceKind = iota
	SourceRaw
	SourceInline
	SourceLinked
)

func (k SourceKind) String() string {
	switch k {
	case SourceNone:
		return "none"
	case SourceRaw:
		return "data"
	case SourceInline:
		return "inline"
	case SourceLinked:
		return "link"
	default:
		return fmt.Sprintf("source(%d)", int(k))
	}
}

// Format is the on-disk encoding of a document fragment.
type Format int

const (
	FormatJSON Format = iota
	FormatBSON
)

func (f Format) String() string {
	if f == FormatBSON {
		return "bson"
	}
	return "json"
}

// Source describes content fragment of a resource. Format is meaningful for
// SourceInline and SourceLinked only, Path is empty for SourceNone.
type Source struct {
	Kind   SourceKind
	Format Format
	Path   string
}

func (s Source) String() string {
	switch s.Kind {
	case SourceInline, SourceLinked:
		return s.Kind.String() + "/" + s.Format.String()
	default:
		return s.Kind.String()
	}
}

// Classification is what has been found on disk for a resource.
type Classification struct {
	ID     ResourceID
	Source Source
	// SchemaPath is empty when resource has no schema.
	SchemaPath string
}

// Classify looks up fragment files of the resource. Schema is independent of the
// content, but there could be at most one content source.
func Classify(fsys FS, id ResourceID, followLinks bool) (Classification, error) {
	cls := Classification{ID: id}

	if p := id.File(ExtSchema); isRegular(fsys, p) {
		cls.SchemaPath = p
	}

	var found []Source
	if p := id.File(ExtData); isRegular(fsys, p) {
		found = append(found, Source{Kind: SourceRaw, Path: p})
	}
	for _, f := range []Format{FormatJSON, FormatBSON} {
		p := id.File(extOf(f))
		switch {
		case followLinks && isSymlink(fsys, p):
			found = append(found, Source{Kind: SourceLinked, Format: f, Path: p})
		case isRegular(fsys, p):
			found = append(found, Source{Kind: SourceInline, Format: f, Path: p})
		}
	}

	switch len(found) {
	case 0:
	case 1:
		cls.Source = found[0]
	default:
		names := make([]string, 0, len(found))
		for _, s := range found {
			names = append(names, filepath.Base(s.Path))
		}
		return cls, &Error{
			Kind: KindConflict,
			ID:   id,
			Err:  fmt.Errorf("%w: %s", ErrConflictingSources, strings.Join(names, ", ")),
		}
	}
	return cls, nil
}

func extOf(f Format) string {
	if f == FormatBSON {
		return ExtBSON
	}
	return ExtJSON
}
