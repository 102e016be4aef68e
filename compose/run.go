// Package compose runs stitching as requested on command line.
package compose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"jst/archive"
	"jst/config"
	"jst/misc"
	"jst/schema"
	"jst/state"
	"jst/stitch"
	"jst/value"
)

var ErrNoOutput = errors.New("watch mode requires output file")

// Request describes single invocation after command line and configuration
// have been merged.
type Request struct {
	Locator  string
	Options  stitch.Options
	Validate bool
	Output   config.OutputConfig
	// Destination is output file name, empty means STDOUT
	Destination string
	Watch       bool
	WatchDelay  time.Duration
}

// Run is the root command action.
func Run(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("compose")

	if cmd.Args().Len() > 0 {
		log.Warn("Malformed command line, unexpected arguments", zap.Strings("ignoring", cmd.Args().Slice()))
	}

	req, err := NewRequest(cmd, env.Cfg, log)
	if err != nil {
		return err
	}
	return Execute(ctx, env, req)
}

// NewRequest merges command line flags over configuration values, flags which
// were not set explicitly do not override configuration.
func NewRequest(cmd *cli.Command, cfg *config.Config, log *zap.Logger) (*Request, error) {
	req := &Request{
		Locator: cmd.String("file"),
		Options: stitch.Options{
			EncodeKeys:  cfg.Stitch.Base64Keys,
			FollowLinks: cfg.Stitch.FollowLinks,
			Recursive:   cfg.Stitch.Recursive,
			Jobs:        cfg.Stitch.Jobs,
		},
		Validate:    cfg.Stitch.Validate && !cmd.Bool("no-validate"),
		Output:      cfg.Output,
		Destination: cmd.String("output"),
		Watch:       cmd.Bool("watch"),
		WatchDelay:  time.Duration(cfg.Watch.Delay) * time.Millisecond,
	}
	if len(req.Locator) == 0 {
		return nil, errors.New("root resource was not specified")
	}

	if cmd.IsSet("base64") {
		req.Options.EncodeKeys = cmd.Bool("base64")
	}
	if cmd.IsSet("links") {
		req.Options.FollowLinks = cmd.Bool("links")
	}
	if cmd.IsSet("recursive") {
		req.Options.Recursive = cmd.Bool("recursive")
	}
	if cmd.IsSet("pretty") {
		req.Output.Pretty = cmd.Bool("pretty")
	}
	if cmd.IsSet("jobs") {
		req.Options.Jobs = int(cmd.Int("jobs"))
		if req.Options.Jobs < 1 {
			log.Warn("Bad number of jobs requested, switching to sequential processing", zap.Int("jobs", req.Options.Jobs))
			req.Options.Jobs = 1
		}
	}
	if cmd.IsSet("to") {
		format, err := config.ParseOutputFmt(cmd.String("to"))
		if err != nil {
			log.Warn("Unknown output format requested, switching to json", zap.Error(err))
			format = config.OutputFmtJson
		}
		req.Output.Format = format
	}

	if req.Destination == "-" {
		req.Destination = ""
	}
	if req.Watch && len(req.Destination) == 0 {
		return nil, ErrNoOutput
	}
	return req, nil
}

// tree is the fragment tree of a single run.
type tree struct {
	fsys    stitch.FS
	root    stitch.ResourceID
	archive string
}

func openTree(locator string) (*tree, error) {
	arc, inner, ok, err := archive.Split(locator)
	if err != nil {
		return nil, err
	}
	if !ok {
		root, err := stitch.ParseResourceID(locator)
		if err != nil {
			return nil, err
		}
		return &tree{fsys: stitch.OSFS{}, root: root}, nil
	}

	afs, err := archive.Open(arc)
	if err != nil {
		return nil, err
	}
	root, err := stitch.ParseResourceID(inner)
	if err != nil {
		return nil, err
	}
	return &tree{fsys: afs, root: root, archive: arc}, nil
}

// Execute builds document once and, in watch mode, keeps rebuilding it on
// fragment changes until context is canceled.
func Execute(ctx context.Context, env *state.LocalEnv, req *Request) error {
	log := env.Log.Named("compose")

	log.Info("Processing starting",
		zap.String("source", req.Locator),
		zap.String("destination", destinationName(req.Destination)),
		zap.Stringer("format", req.Output.Format))
	defer func(start time.Time) {
		log.Info("Processing completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	t, err := openTree(req.Locator)
	if err != nil {
		return fmt.Errorf("unable to access fragment tree: %w", err)
	}
	storeFragments(env, t)

	res, err := build(ctx, env, req, t, nil)
	if !req.Watch {
		return err
	}
	if err != nil {
		log.Error("Unable to build document, waiting for changes", zap.Error(err))
	}

	w := &watcher{
		log:    log,
		delay:  req.WatchDelay,
		ignore: []string{req.Destination},
	}
	if name := env.Rpt.Name(); len(name) > 0 {
		w.ignore = append(w.ignore, name)
	}
	if env.Cfg != nil && len(env.Cfg.Logging.FileLogger.Destination) > 0 {
		logs := env.Cfg.Logging.FileLogger.Destination
		w.ignore = append(w.ignore, logs, filepath.Join(filepath.Dir(logs), misc.GetAppName()+"-panic.log"))
	}
	if len(t.archive) > 0 {
		w.only = t.archive
	}
	var last value.Value
	if err == nil {
		last = res.Value
	}
	return w.run(ctx, watchList(t, res), func(ctx context.Context) []string {
		t, err := openTree(req.Locator)
		if err != nil {
			log.Error("Unable to access fragment tree, keeping previous output", zap.Error(err))
			return nil
		}
		res, err := build(ctx, env, req, t, last)
		if err != nil {
			log.Error("Unable to build document, keeping previous output", zap.Error(err))
		} else {
			last = res.Value
		}
		return watchList(t, res)
	})
}

// build resolves document and writes it out. Output is left alone when
// document is the same as previously written one. Result is returned even on
// failure to let caller know what has been visited.
func build(ctx context.Context, env *state.LocalEnv, req *Request, t *tree, prev value.Value) (*stitch.Result, error) {
	log := env.Log.Named("compose")

	var validator stitch.Validator = schema.Noop{}
	if req.Validate {
		validator = schema.New()
	}

	r := stitch.New(t.fsys, validator, env.Log.Named("stitch"), req.Options)
	res, err := r.Resolve(ctx, t.root)

	trace := res.Trace.Render()
	log.Debug("Resolution trace", zap.Stringer("root", t.root), zap.String("trace", trace))
	env.Rpt.StoreData("trace.txt", []byte(trace))

	if err != nil {
		return res, err
	}
	if res.Value == nil {
		log.Warn("Nothing found for root resource", zap.Stringer("root", t.root))
	}
	if prev != nil && value.Equal(prev, res.Value) && exists(req.Destination) {
		log.Info("Document did not change, keeping output", zap.String("destination", req.Destination))
		return res, nil
	}

	data, err := Encode(res.Value, req.Output)
	if err != nil {
		return res, fmt.Errorf("unable to encode result: %w", err)
	}
	env.Rpt.StoreData("result"+req.Output.Format.Ext(), data)

	if err := writeOutput(req.Destination, data); err != nil {
		return res, err
	}
	log.Debug("Document written", zap.String("destination", destinationName(req.Destination)), zap.Int("size", len(data)))
	return res, nil
}

func exists(name string) bool {
	if len(name) == 0 {
		return false
	}
	_, err := os.Stat(name)
	return err == nil
}

func destinationName(name string) string {
	if len(name) == 0 {
		return "STDOUT"
	}
	return name
}

// writeOutput replaces destination file as a whole, so readers never see
// partially written document.
func writeOutput(name string, data []byte) error {
	if len(name) == 0 {
		if _, err := os.Stdout.Write(data); err != nil {
			return fmt.Errorf("unable to write result: %w", err)
		}
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".*")
	if err != nil {
		return fmt.Errorf("unable to create destination file '%s': %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("unable to write result: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("unable to write result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("unable to write result: %w", err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("unable to replace destination file '%s': %w", name, err)
	}
	return nil
}

// storeFragments puts snapshot of the root resource files into debug report.
func storeFragments(env *state.LocalEnv, t *tree) {
	if env.Rpt == nil {
		return
	}
	log := env.Log.Named("compose")

	if len(t.archive) > 0 {
		env.Rpt.Store("fragments/"+config.CleanFileName(filepath.Base(t.archive)), t.archive)
		return
	}

	prefix := "fragments/" + config.CleanFileName(t.root.Stem)
	for _, ext := range []string{stitch.ExtSchema, stitch.ExtData, stitch.ExtJSON, stitch.ExtBSON} {
		name := t.root.File(ext)
		if _, err := os.Lstat(name); err != nil {
			continue
		}
		if err := env.Rpt.StoreCopy(prefix+ext, name); err != nil {
			log.Warn("Unable to store fragment in report", zap.String("file", name), zap.Error(err))
		}
	}
	dir := filepath.Join(t.root.Dir, t.root.Stem)
	if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
		if err := env.Rpt.StoreCopy(prefix, dir); err != nil {
			log.Warn("Unable to store fragment tree in report", zap.String("dir", dir), zap.Error(err))
		}
	}
}

// watchList returns directories to watch for changes.
func watchList(t *tree, res *stitch.Result) []string {
	if len(t.archive) > 0 {
		return []string{filepath.Dir(t.archive)}
	}
	if res == nil || res.Trace == nil {
		return []string{t.root.Dir}
	}
	return res.Trace.Dirs()
}
