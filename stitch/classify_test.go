package stitch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseResourceID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    ResourceID
		wantErr bool
	}{
		{name: "relative", in: "a/b/c", want: ResourceID{Dir: "a/b", Stem: "c"}},
		{name: "bare name", in: "root", want: ResourceID{Dir: ".", Stem: "root"}},
		{name: "filesystem root", in: "/root", want: ResourceID{Dir: "/", Stem: "root"}},
		{name: "dots in name", in: "dir/v1.2", want: ResourceID{Dir: "dir", Stem: "v1.2"}},
		{name: "directory is cleaned", in: "a//b/./c", want: ResourceID{Dir: "a/b", Stem: "c"}},
		{name: "trailing separator", in: "dir/", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResourceID(filepath.FromSlash(tt.in))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrBadLocator)
				return
			}
			require.NoError(t, err)
			require.Equal(t, ResourceID{Dir: filepath.FromSlash(tt.want.Dir), Stem: tt.want.Stem}, got)
		})
	}
}

func TestResourceID_Child(t *testing.T) {
	id := ResourceID{Dir: "base", Stem: "doc"}

	require.Equal(t, ResourceID{Dir: filepath.Join("base", "doc"), Stem: "field"}, id.Child("field", false))
	require.Equal(t, ResourceID{Dir: filepath.Join("base", "doc"), Stem: "ZmllbGQ"}, id.Child("field", true))
	require.Equal(t, filepath.Join("base", "doc.schema"), id.File(ExtSchema))
}

func TestEncodeKey(t *testing.T) {
	for _, name := range []string{"plain", "a/b", "with space", "юникод", `<>:"/\|?*`, "..", ""} {
		stem := EncodeKey(name, true)
		for _, r := range stem {
			ok := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_'
			require.True(t, ok, "EncodeKey(%q) = %q contains unsafe character %q", name, stem, r)
		}
		back, err := DecodeKey(stem, true)
		require.NoError(t, err)
		require.Equal(t, name, back)
	}

	require.Equal(t, "a/b", EncodeKey("a/b", false))
}

func TestClassify(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"raw.data", "raw.schema", "doc.json", "bin.bson", "only.schema",
		"both.data", "both.json", "all.json", "all.bson",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder.json"), 0755))

	tests := []struct {
		stem       string
		kind       SourceKind
		format     Format
		withSchema bool
		conflict   bool
	}{
		{stem: "raw", kind: SourceRaw, withSchema: true},
		{stem: "doc", kind: SourceInline, format: FormatJSON},
		{stem: "bin", kind: SourceInline, format: FormatBSON},
		{stem: "only", kind: SourceNone, withSchema: true},
		{stem: "missing", kind: SourceNone},
		{stem: "folder", kind: SourceNone},
		{stem: "both", conflict: true},
		{stem: "all", conflict: true},
	}
	for _, tt := range tests {
		t.Run(tt.stem, func(t *testing.T) {
			cls, err := Classify(OSFS{}, ResourceID{Dir: dir, Stem: tt.stem}, true)
			if tt.conflict {
				require.Equal(t, KindConflict, KindOf(err), "error: %v", err)
				require.ErrorIs(t, err, ErrConflictingSources)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.kind, cls.Source.Kind)
			if tt.kind == SourceInline {
				require.Equal(t, tt.format, cls.Source.Format)
			}
			require.Equal(t, tt.withSchema, len(cls.SchemaPath) > 0, "schema %q", cls.SchemaPath)
		})
	}
}

func TestClassify_Links(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "target.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "payload.bin"), []byte("x"), 0644))
	for name, target := range map[string]string{
		"link.json":  "target.json",
		"link.bson":  "target.json",
		"blob.data":  "payload.bin",
		"stale.json": "missing.json",
	} {
		if err := os.Symlink(target, filepath.Join(dir, name)); err != nil {
			t.Skipf("symbolic links are not supported: %v", err)
		}
	}

	// link and regular document are conflicting even when pointing to the same place
	_, err := Classify(OSFS{}, ResourceID{Dir: dir, Stem: "link"}, true)
	require.Equal(t, KindConflict, KindOf(err), "error: %v", err)

	// data links are read through
	cls, err := Classify(OSFS{}, ResourceID{Dir: dir, Stem: "blob"}, true)
	require.NoError(t, err)
	require.Equal(t, SourceRaw, cls.Source.Kind)

	cls, err = Classify(OSFS{}, ResourceID{Dir: dir, Stem: "stale"}, true)
	require.NoError(t, err)
	require.Equal(t, SourceLinked, cls.Source.Kind)

	cls, err = Classify(OSFS{}, ResourceID{Dir: dir, Stem: "stale"}, false)
	require.NoError(t, err)
	require.Equal(t, SourceNone, cls.Source.Kind)
}

func TestResolveLink(t *testing.T) {
	dir := t.TempDir()
	real, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	for _, name := range []string{"plain.json", "multi.dot.bson", "noext", ".json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0644))
	}

	tests := []struct {
		target  string
		stem    string
		wantErr error
	}{
		{target: "plain.json", stem: "plain"},
		{target: "multi.dot.bson", stem: "multi.dot"},
		{target: "noext", stem: "noext"},
		{target: ".json", wantErr: ErrEmptyStem},
	}
	for i, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			link := filepath.Join(dir, "link"+string(rune('a'+i))+".json")
			if err := os.Symlink(filepath.Join(dir, tt.target), link); err != nil {
				t.Skipf("symbolic links are not supported: %v", err)
			}
			got, err := ResolveLink(OSFS{}, link)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, ResourceID{Dir: real, Stem: tt.stem}, got)
		})
	}
}
