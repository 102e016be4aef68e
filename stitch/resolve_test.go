package stitch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"jst/schema"
	"jst/value"
)

// writeTree creates files relative to root, directories are created as needed.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func symlink(t *testing.T, target, name string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0755))
	if err := os.Symlink(target, name); err != nil {
		t.Skipf("symbolic links are not supported: %v", err)
	}
}

func newResolver(t *testing.T, opts Options) *Resolver {
	return New(OSFS{}, schema.New(), zaptest.NewLogger(t), opts)
}

func resolveJSON(t *testing.T, r *Resolver, id ResourceID) string {
	t.Helper()
	res, err := r.Resolve(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, res.Value)
	out, err := value.EncodeJSON(res.Value, "")
	require.NoError(t, err)
	return string(out)
}

func TestResolve_InlineRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := `{"z":1,"a":{"nested":[1,2.50,"x"]},"m":null}`
	writeTree(t, dir, map[string]string{"doc.json": src})

	got := resolveJSON(t, newResolver(t, DefaultOptions()), ResourceID{Dir: dir, Stem: "doc"})
	require.Equal(t, src, got)
}

func TestResolve_Absent(t *testing.T) {
	res, err := newResolver(t, DefaultOptions()).Resolve(context.Background(), ResourceID{Dir: t.TempDir(), Stem: "nothing"})
	require.NoError(t, err)
	require.Nil(t, res.Value)
	require.Equal(t, OutcomeAbsent, res.Trace.Outcome)
}

func TestResolve_SchemaPassThrough(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"doc.json":   `{"name":"x","count":3}`,
		"doc.schema": `{"type":"object","required":["name","count"]}`,
	})

	res, err := newResolver(t, DefaultOptions()).Resolve(context.Background(), ResourceID{Dir: dir, Stem: "doc"})
	require.NoError(t, err)
	require.NotNil(t, res.Schema)
	require.Equal(t, filepath.Join(dir, "doc.schema"), res.SchemaPath)

	out, err := value.EncodeJSON(res.Value, "")
	require.NoError(t, err)
	require.Equal(t, `{"name":"x","count":3}`, string(out))
}

func TestResolve_SchemaRejection(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"doc.json":   `{"name":"x"}`,
		"doc.schema": `{"type":"object","required":["count"]}`,
	})

	res, err := newResolver(t, DefaultOptions()).Resolve(context.Background(), ResourceID{Dir: dir, Stem: "doc"})
	require.Error(t, err)
	require.Equal(t, KindValidation, KindOf(err))
	require.Nil(t, res.Value)
}

func TestResolve_SchemaAppliesToAssembledValue(t *testing.T) {
	dir := t.TempDir()
	// inline document violates schema, override fixes it
	writeTree(t, dir, map[string]string{
		"doc.json":       `{"count":"three"}`,
		"doc.schema":     `{"type":"object","properties":{"count":{"type":"integer"}}}`,
		"doc/count.json": `3`,
	})

	got := resolveJSON(t, newResolver(t, DefaultOptions()), ResourceID{Dir: dir, Stem: "doc"})
	require.Equal(t, `{"count":3}`, got)
}

func TestResolve_ChildSchemaRejectionNamesChild(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"doc.json":         `{"port":1}`,
		"doc/port.json":    `"not a number"`,
		"doc/port.schema":  `{"type":"integer"}`,
		"doc/other.schema": `{"type":"string"}`,
	})

	_, err := newResolver(t, DefaultOptions()).Resolve(context.Background(), ResourceID{Dir: dir, Stem: "doc"})
	require.Error(t, err)

	var se *Error
	require.True(t, errors.As(err, &se))
	require.Equal(t, KindValidation, se.Kind)
	require.Equal(t, ResourceID{Dir: filepath.Join(dir, "doc"), Stem: "port"}, se.ID)
}

func TestResolve_Conflict(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"doc.json":       `{"a":1}`,
		"doc/a.data":     `garbage`,
		"doc/a.json":     `{ this is not even json`,
		"doc/a.schema":   `{}`,
		"unrelated.data": `x`,
	})

	_, err := newResolver(t, DefaultOptions()).Resolve(context.Background(), ResourceID{Dir: dir, Stem: "doc"})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrConflictingSources)

	var se *Error
	require.True(t, errors.As(err, &se))
	require.Equal(t, KindConflict, se.Kind)
	require.Equal(t, ResourceID{Dir: filepath.Join(dir, "doc"), Stem: "a"}, se.ID)
}

func TestResolve_DecodeError(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"doc.json": `{"a":`})

	_, err := newResolver(t, DefaultOptions()).Resolve(context.Background(), ResourceID{Dir: dir, Stem: "doc"})
	require.Equal(t, KindDecode, KindOf(err))
}

func TestResolve_RawContent(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"doc.json":      `{"blob":null,"keep":true}`,
		"doc/blob.data": "hi",
	})

	got := resolveJSON(t, newResolver(t, DefaultOptions()), ResourceID{Dir: dir, Stem: "doc"})
	require.Equal(t, `{"blob":"aGk=","keep":true}`, got)
}

func TestResolve_OverlayInheritance(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"parent.json":       `{"a":{"x":1,"y":2},"b":3}`,
		"parent/a/x.data":   "hi",
		"parent/b/x.data":   "scalars have no children",
		"parent/a/y/q.json": `"ignored, y is a scalar"`,
	})

	got := resolveJSON(t, newResolver(t, DefaultOptions()), ResourceID{Dir: dir, Stem: "parent"})
	require.Equal(t, `{"a":{"x":"aGk=","y":2},"b":3}`, got)
}

func TestResolve_OverlayDisabled(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"parent.json":     `{"a":{"x":1},"c":2}`,
		"parent/a/x.data": "hi",
		"parent/c.json":   `20`,
	})

	opts := DefaultOptions()
	opts.Recursive = false

	// dedicated fragments of direct children still apply
	got := resolveJSON(t, newResolver(t, opts), ResourceID{Dir: dir, Stem: "parent"})
	require.Equal(t, `{"a":{"x":1},"c":20}`, got)
}

func TestResolve_ArrayIndices(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"doc.json":          `{"list":[1,{"k":"v"},3]}`,
		"doc/list/0.json":   `10`,
		"doc/list/1/k.json": `"w"`,
	})

	got := resolveJSON(t, newResolver(t, DefaultOptions()), ResourceID{Dir: dir, Stem: "doc"})
	require.Equal(t, `{"list":[10,{"k":"w"},3]}`, got)
}

func TestResolve_NestedFragmentsKeepDocumentOrder(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"doc.json":    `{"zz":0,"aa":0,"mm":0}`,
		"doc/aa.json": `{"second":2,"first":1}`,
		"doc/zz.json": `"z"`,
	})

	got := resolveJSON(t, newResolver(t, DefaultOptions()), ResourceID{Dir: dir, Stem: "doc"})
	require.Equal(t, `{"zz":"z","aa":{"second":2,"first":1},"mm":0}`, got)
}

func TestResolve_KeyEncoding(t *testing.T) {
	dir := t.TempDir()
	key := "a/b: c?"
	writeTree(t, dir, map[string]string{
		"doc.json":                                  `{"a/b: c?":1,"plain":2}`,
		"doc/" + EncodeKey(key, true) + ".json":     `"overridden"`,
		"doc/" + EncodeKey("plain", true) + ".json": `3`,
	})

	opts := DefaultOptions()
	opts.EncodeKeys = true
	got := resolveJSON(t, newResolver(t, opts), ResourceID{Dir: dir, Stem: "doc"})
	require.Equal(t, `{"a/b: c?":"overridden","plain":3}`, got)
}

func TestResolve_BSONFragment(t *testing.T) {
	dir := t.TempDir()
	data, err := value.EncodeBSON(value.NewObject(
		value.Member{Key: "b", Value: value.Number("1")},
		value.Member{Key: "a", Value: value.String("x")},
	))
	require.NoError(t, err)
	writeTree(t, dir, map[string]string{
		"doc.json":       `{"sub":null}`,
		"doc/sub.bson":   string(data),
		"doc/sub/a.json": `"y"`,
	})

	got := resolveJSON(t, newResolver(t, DefaultOptions()), ResourceID{Dir: dir, Stem: "doc"})
	require.Equal(t, `{"sub":{"b":1,"a":"y"}}`, got)
}

func TestResolve_LinkIndirection(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"other/thing.json":          `{"shared":{"v":1}}`,
		"other/thing/shared/v.json": `2`,
		"doc.json":                  `{"ref":null}`,
	})
	symlink(t, filepath.Join(dir, "other", "thing.json"), filepath.Join(dir, "doc", "ref.json"))

	r := newResolver(t, DefaultOptions())
	direct := resolveJSON(t, r, ResourceID{Dir: filepath.Join(dir, "other"), Stem: "thing"})
	require.Equal(t, `{"shared":{"v":2}}`, direct)

	got := resolveJSON(t, r, ResourceID{Dir: dir, Stem: "doc"})
	require.Equal(t, `{"ref":`+direct+`}`, got)
}

func TestResolve_LinkRoot(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"real/thing.json": `{"a":1}`})
	symlink(t, filepath.Join("real", "thing.json"), filepath.Join(dir, "alias.json"))

	got := resolveJSON(t, newResolver(t, DefaultOptions()), ResourceID{Dir: dir, Stem: "alias"})
	require.Equal(t, `{"a":1}`, got)
}

func TestResolve_LinkSchemas(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"lib/item.json":   `{"n":5}`,
		"lib/item.schema": `{"type":"object","required":["n"]}`,
		// link node own schema is stricter than the target one
		"doc/ref.schema": `{"type":"object","properties":{"n":{"maximum":3}}}`,
		"doc.json":       `{"ref":{}}`,
	})
	symlink(t, filepath.Join(dir, "lib", "item.json"), filepath.Join(dir, "doc", "ref.json"))

	_, err := newResolver(t, DefaultOptions()).Resolve(context.Background(), ResourceID{Dir: dir, Stem: "doc"})
	require.Equal(t, KindValidation, KindOf(err))

	var se *Error
	require.True(t, errors.As(err, &se))
	require.Equal(t, ResourceID{Dir: filepath.Join(dir, "doc"), Stem: "ref"}, se.ID)
}

func TestResolve_LinksDisabledReadsThrough(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"lib/item.json":   `{"n":5}`,
		"lib/item/n.json": `6`,
		"doc.json":        `{"ref":{}}`,
	})
	symlink(t, filepath.Join(dir, "lib", "item.json"), filepath.Join(dir, "doc", "ref.json"))

	opts := DefaultOptions()
	opts.FollowLinks = false

	// content is read through the link, overrides of the target are not visible
	got := resolveJSON(t, newResolver(t, opts), ResourceID{Dir: dir, Stem: "doc"})
	require.Equal(t, `{"ref":{"n":5}}`, got)
}

func TestResolve_LinkCycle(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"doc.json": `{"self":null}`})
	symlink(t, filepath.Join(dir, "doc.json"), filepath.Join(dir, "doc", "self.json"))

	_, err := newResolver(t, DefaultOptions()).Resolve(context.Background(), ResourceID{Dir: dir, Stem: "doc"})
	require.ErrorIs(t, err, ErrLinkCycle)
	require.Equal(t, KindLink, KindOf(err))
}

func TestResolve_LinkEmptyStem(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"lib/.json": `{}`})
	symlink(t, filepath.Join(dir, "lib", ".json"), filepath.Join(dir, "doc.json"))

	_, err := newResolver(t, DefaultOptions()).Resolve(context.Background(), ResourceID{Dir: dir, Stem: "doc"})
	require.ErrorIs(t, err, ErrEmptyStem)
}

func TestResolve_DanglingLink(t *testing.T) {
	dir := t.TempDir()
	symlink(t, filepath.Join(dir, "missing.json"), filepath.Join(dir, "doc.json"))

	_, err := newResolver(t, DefaultOptions()).Resolve(context.Background(), ResourceID{Dir: dir, Stem: "doc"})
	require.Equal(t, KindLink, KindOf(err))
}

func TestResolve_Idempotent(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"doc.json":     `{"b":{"y":1,"x":2},"a":[3,4]}`,
		"doc/b/x.json": `{"deep":true}`,
		"doc/a/1.data": "payload",
	})

	r := newResolver(t, DefaultOptions())
	first := resolveJSON(t, r, ResourceID{Dir: dir, Stem: "doc"})
	second := resolveJSON(t, r, ResourceID{Dir: dir, Stem: "doc"})
	require.Equal(t, first, second)
}

func TestResolve_ParallelMatchesSequential(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	files := map[string]string{}
	var doc strings.Builder
	doc.WriteString("{")
	for i, k := range []string{"k0", "k1", "k2", "k3", "k4", "k5", "k6", "k7"} {
		if i > 0 {
			doc.WriteString(",")
		}
		doc.WriteString(`"` + k + `":{"a":0,"b":[0,0]}`)
		files["doc/"+k+"/a.json"] = `"` + k + `"`
		files["doc/"+k+"/b/1.data"] = k
	}
	doc.WriteString("}")
	files["doc.json"] = doc.String()
	writeTree(t, dir, files)

	sequential := resolveJSON(t, newResolver(t, DefaultOptions()), ResourceID{Dir: dir, Stem: "doc"})

	opts := DefaultOptions()
	opts.Jobs = 4
	parallel := resolveJSON(t, newResolver(t, opts), ResourceID{Dir: dir, Stem: "doc"})
	require.Equal(t, sequential, parallel)
}

func TestResolve_ParallelFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"doc.json":     `{"a":1,"b":2,"c":3,"d":4}`,
		"doc/c.json":   `{broken`,
		"doc/a.json":   `10`,
		"doc/d/x.json": `1`,
	})

	opts := DefaultOptions()
	opts.Jobs = 3
	res, err := newResolver(t, opts).Resolve(context.Background(), ResourceID{Dir: dir, Stem: "doc"})
	require.Equal(t, KindDecode, KindOf(err))
	require.Nil(t, res.Value)
}

func TestResolve_Canceled(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"doc.json": `{}`})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newResolver(t, DefaultOptions()).Resolve(ctx, ResourceID{Dir: dir, Stem: "doc"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestResolve_Trace(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"doc.json":   `{"a":1,"b":{"c":2}}`,
		"doc.schema": `{}`,
		"doc/a.json": `5`,
	})

	res, err := newResolver(t, DefaultOptions()).Resolve(context.Background(), ResourceID{Dir: dir, Stem: "doc"})
	require.NoError(t, err)

	tr := res.Trace
	require.Equal(t, OutcomeResolved, tr.Outcome)
	require.Equal(t, SourceInline, tr.Source.Kind)
	require.Len(t, tr.Children, 2)
	require.Equal(t, "a", tr.Children[0].Key)
	require.Equal(t, SourceInline, tr.Children[0].Source.Kind)
	require.Equal(t, SourceNone, tr.Children[1].Source.Kind)
	require.Len(t, tr.Children[1].Children, 1)
	require.Equal(t, OutcomeResolved, tr.Children[1].Children[0].Outcome)

	out := tr.Render()
	require.Contains(t, out, "@ [inline/json]")
	require.Contains(t, out, "  a [inline/json]")
	require.Contains(t, out, "    c [none]")
	require.Contains(t, out, "  schema: \"")

	require.Contains(t, tr.Dirs(), dir)
	require.Contains(t, tr.Dirs(), filepath.Join(dir, "doc", "b"))
}

func TestResolve_NoValidator(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"doc.json":   `{"name":"x"}`,
		"doc.schema": `{"type":"array"}`,
	})

	got := resolveJSON(t, New(nil, nil, nil, DefaultOptions()), ResourceID{Dir: dir, Stem: "doc"})
	require.Equal(t, `{"name":"x"}`, got)
}

func TestResolve_InlineScalarChildSchema(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"doc.json":     `{"a":5,"b":[1,2]}`,
		"doc/a.schema": `{"type":"string"}`,
	})

	_, err := newResolver(t, DefaultOptions()).Resolve(context.Background(), ResourceID{Dir: dir, Stem: "doc"})
	require.Error(t, err)

	var se *Error
	require.True(t, errors.As(err, &se))
	require.Equal(t, KindValidation, se.Kind)
	require.Equal(t, ResourceID{Dir: filepath.Join(dir, "doc"), Stem: "a"}, se.ID)

	// matching schema keeps inline value as is
	writeTree(t, dir, map[string]string{"doc/a.schema": `{"type":"integer"}`})
	got := resolveJSON(t, newResolver(t, DefaultOptions()), ResourceID{Dir: dir, Stem: "doc"})
	require.Equal(t, `{"a":5,"b":[1,2]}`, got)
}

func TestResolve_ParentKeyCycle(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"doc.json": `{"..":{"doc":{}}}`})

	_, err := newResolver(t, DefaultOptions()).Resolve(context.Background(), ResourceID{Dir: dir, Stem: "doc"})
	require.ErrorIs(t, err, ErrPathCycle)
	require.Equal(t, KindLink, KindOf(err))

	writeTree(t, dir, map[string]string{"doc.json": `{".":{".":1}}`})
	_, err = newResolver(t, DefaultOptions()).Resolve(context.Background(), ResourceID{Dir: dir, Stem: "doc"})
	require.ErrorIs(t, err, ErrPathCycle)
}

func TestResolve_ParentKeyWithoutCycle(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"doc.json":   `{"..":{"other":1}}`,
		"other.json": `2`,
	})

	got := resolveJSON(t, newResolver(t, DefaultOptions()), ResourceID{Dir: dir, Stem: "doc"})
	require.Equal(t, `{"..":{"other":2}}`, got)
}

func TestResolve_ValidatesEachNodeOnce(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"doc.json":       `{"a":1,"b":{"c":2}}`,
		"doc.schema":     `{}`,
		"doc/a.schema":   `{}`,
		"doc/b/c.schema": `{}`,
	})

	var seen []string
	validator := ValidatorFunc(func(_ context.Context, location string, sch, doc value.Value) error {
		require.NotNil(t, sch)
		require.NotNil(t, doc)
		seen = append(seen, location)
		return nil
	})

	_, err := New(OSFS{}, validator, zaptest.NewLogger(t), DefaultOptions()).Resolve(context.Background(), ResourceID{Dir: dir, Stem: "doc"})
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "doc", "a.schema"),
		filepath.Join(dir, "doc", "b", "c.schema"),
		filepath.Join(dir, "doc.schema"),
	}, seen)
}
