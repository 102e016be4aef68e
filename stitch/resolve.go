package stitch

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"jst/value"
)

// Options control resolution.
type Options struct {
	// EncodeKeys maps field names to base64 encoded stems.
	EncodeKeys bool
	// FollowLinks treats symbolic .json/.bson links as indirection.
	FollowLinks bool
	// Recursive lets fields without dedicated fragment inherit their inline
	// value, so deeper overrides are still looked for.
	Recursive bool
	// Jobs is the maximum number of sibling subtrees resolved concurrently,
	// values below 2 mean strictly sequential resolution.
	Jobs int
}

// DefaultOptions returns options matching command line defaults.
func DefaultOptions() Options {
	return Options{FollowLinks: true, Recursive: true, Jobs: 1}
}

// Result of the resolution. Value is nil when nothing could be found for the
// resource.
type Result struct {
	Value      value.Value
	Schema     value.Value
	SchemaPath string
	Trace      *Trace
}

// Resolver stitches documents. It holds no per resolution state and may be
// used for any number of resolutions.
type Resolver struct {
	fs        FS
	validator Validator
	log       *zap.Logger
	opts      Options
	sem       *semaphore.Weighted
}

// New creates Resolver. Nil validator disables schema validation, nil logger
// disables diagnostics.
func New(fsys FS, validator Validator, log *zap.Logger, opts Options) *Resolver {
	if fsys == nil {
		fsys = OSFS{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Resolver{fs: fsys, validator: validator, log: log, opts: opts}
	if opts.Jobs > 1 {
		// root branch is always running in caller goroutine
		r.sem = semaphore.NewWeighted(int64(opts.Jobs - 1))
	}
	return r
}

// Resolve assembles document rooted at id. Result is never nil, its Trace
// describes what has been done even when error is returned.
func (r *Resolver) Resolve(ctx context.Context, id ResourceID) (*Result, error) {
	res := &Result{Trace: &Trace{}}
	v, schema, err := r.resolve(ctx, id, nil, nil, res.Trace)
	if err != nil {
		return res, err
	}
	res.Value, res.Schema, res.SchemaPath = v, schema, res.Trace.Schema
	return res, nil
}

// resolve runs all stages for a single resource and returns its fully
// assembled and validated value together with its schema.
func (r *Resolver) resolve(ctx context.Context, id ResourceID, inherited value.Value, ch *chain, tr *Trace) (v, schema value.Value, err error) {
	tr.ID = id
	defer func() {
		switch {
		case err != nil:
			tr.Outcome = OutcomeFailed
		case v == nil:
			tr.Outcome = OutcomeAbsent
		default:
			tr.Outcome = OutcomeResolved
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	r.log.Debug("Parse step", zap.Stringer("id", id))

	// keys like ".." lead back up the tree
	if ch.contains(id) {
		return nil, nil, &Error{Kind: KindLink, ID: id, Err: fmt.Errorf("%w: %s", ErrPathCycle, id)}
	}

	cls, err := Classify(r.fs, id, r.opts.FollowLinks)
	if err != nil {
		r.log.Debug("Multiple conflicting sources", zap.Stringer("id", id), zap.Error(err))
		return nil, nil, err
	}
	tr.Source, tr.Schema = cls.Source, cls.SchemaPath
	r.log.Debug("Checked resources", zap.Stringer("id", id), zap.Stringer("source", cls.Source), zap.Bool("schema", len(cls.SchemaPath) > 0))

	if schema, err = r.loadSchema(cls); err != nil {
		return nil, nil, err
	}

	ch = ch.push(id)
	if cls.Source.Kind == SourceLinked {
		tr.Link = &Trace{}
		if v, err = r.follow(ctx, cls, ch, tr.Link); err != nil {
			return nil, nil, err
		}
	} else {
		if v, err = r.load(cls, inherited); err != nil {
			return nil, nil, err
		}
		if value.IsContainer(v) {
			if err = r.expand(ctx, id, v, ch, tr); err != nil {
				return nil, nil, err
			}
		}
	}
	if v == nil {
		return nil, nil, nil
	}

	if err = r.validate(ctx, cls, schema, v); err != nil {
		return nil, nil, err
	}
	return v, schema, nil
}

// follow substitutes complete resolution of the link target.
func (r *Resolver) follow(ctx context.Context, cls Classification, ch *chain, tr *Trace) (value.Value, error) {
	target, err := ResolveLink(r.fs, cls.Source.Path)
	if err != nil {
		return nil, &Error{Kind: KindLink, ID: cls.ID, Path: cls.Source.Path, Err: err}
	}
	if ch.contains(target) {
		return nil, &Error{Kind: KindLink, ID: cls.ID, Path: cls.Source.Path, Err: fmt.Errorf("%w: %s", ErrLinkCycle, target)}
	}
	r.log.Debug("Following link", zap.Stringer("id", cls.ID), zap.Stringer("target", target))

	v, _, err := r.resolve(ctx, target, nil, ch, tr)
	return v, err
}

type slot struct {
	key       string
	inherited value.Value
	resolved  value.Value
	trace     *Trace
}

// expand resolves every field of the container as a child resource and
// substitutes resolved children in place. Keys are never added.
func (r *Resolver) expand(ctx context.Context, id ResourceID, v value.Value, ch *chain, tr *Trace) error {
	var slots []*slot
	switch t := v.(type) {
	case *value.Object:
		for _, m := range t.Members() {
			slots = append(slots, &slot{key: m.Key, inherited: m.Value})
		}
	case value.Array:
		for i, e := range t {
			slots = append(slots, &slot{key: strconv.Itoa(i), inherited: e})
		}
	}
	if len(slots) == 0 {
		return nil
	}

	tr.Children = make([]*Trace, len(slots))
	for i, s := range slots {
		s.trace = &Trace{Key: s.key}
		tr.Children[i] = s.trace
	}

	run := func(ctx context.Context, s *slot) (err error) {
		r.log.Debug("Testing child", zap.Stringer("parent", id), zap.String("key", s.key))
		s.resolved, _, err = r.resolve(ctx, id.Child(s.key, r.opts.EncodeKeys), s.inherited, ch, s.trace)
		return err
	}

	if err := r.resolveSlots(ctx, slots, run); err != nil {
		return err
	}

	for i, s := range slots {
		if s.resolved == nil {
			continue
		}
		r.log.Debug("Child substitution", zap.Stringer("parent", id), zap.String("key", s.key))
		switch t := v.(type) {
		case *value.Object:
			t.Set(s.key, s.resolved)
		case value.Array:
			t[i] = s.resolved
		}
	}
	return nil
}

// resolveSlots runs siblings sequentially or, when allowed, concurrently. A
// sibling which does not get a free slot runs in the calling goroutine so
// nested levels never wait on each other.
func (r *Resolver) resolveSlots(ctx context.Context, slots []*slot, run func(context.Context, *slot) error) error {
	if r.sem == nil {
		for _, s := range slots {
			if err := run(ctx, s); err != nil {
				return err
			}
		}
		return nil
	}

	parent := ctx
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	var inlineErr error
	for _, s := range slots {
		if gctx.Err() != nil {
			break
		}
		if r.sem.TryAcquire(1) {
			g.Go(func() error {
				defer r.sem.Release(1)
				return run(gctx, s)
			})
			continue
		}
		if inlineErr = run(gctx, s); inlineErr != nil {
			cancel()
			break
		}
	}
	err := g.Wait()
	switch {
	case inlineErr != nil && !errors.Is(inlineErr, context.Canceled):
		return inlineErr
	case err != nil:
		return err
	case inlineErr != nil:
		return inlineErr
	}
	// loop above may have stopped early on cancellation
	return parent.Err()
}

// validate checks fully assembled value against resource own schema. For a
// child this happens before parent substitutes it.
func (r *Resolver) validate(ctx context.Context, cls Classification, schema, v value.Value) error {
	if schema == nil || r.validator == nil {
		return nil
	}
	r.log.Debug("Testing schema", zap.Stringer("id", cls.ID), zap.String("schema", cls.SchemaPath))
	if err := r.validator.Validate(ctx, cls.SchemaPath, schema, v); err != nil {
		return &Error{Kind: KindValidation, ID: cls.ID, Path: cls.SchemaPath, Err: err}
	}
	return nil
}
