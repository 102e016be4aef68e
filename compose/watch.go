package compose

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// RebuildFunc builds document again and returns directories which should be
// watched from now on.
type RebuildFunc func(ctx context.Context) []string

type watcher struct {
	log   *zap.Logger
	delay time.Duration
	// files produced by the program itself (output and its temporary
	// siblings, logs, report), changes to them are not interesting
	ignore []string
	// when set only changes to this file are interesting
	only string

	fw      *fsnotify.Watcher
	watched map[string]struct{}
}

// run watches directories and calls rebuild when changes settle down. It
// returns when context is canceled.
func (w *watcher) run(ctx context.Context, dirs []string, rebuild RebuildFunc) (err error) {
	if w.fw, err = fsnotify.NewWatcher(); err != nil {
		return fmt.Errorf("unable to start watching: %w", err)
	}
	defer func() {
		if er := w.fw.Close(); er != nil {
			err = multierr.Append(err, fmt.Errorf("unable to stop watching: %w", er))
		}
	}()
	w.watched = make(map[string]struct{})
	w.update(dirs)

	if w.delay <= 0 {
		w.delay = 200 * time.Millisecond
	}
	settle := time.NewTimer(w.delay)
	settle.Stop()
	defer settle.Stop()

	w.log.Info("Watching for changes", zap.Int("directories", len(w.watched)))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Stopped watching")
			return nil
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !w.interesting(ev) {
				continue
			}
			w.log.Debug("Change detected", zap.String("name", ev.Name), zap.Stringer("op", ev.Op))
			settle.Reset(w.delay)
		case er, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("Watcher problem", zap.Error(er))
		case <-settle.C:
			w.log.Info("Rebuilding document")
			if dirs := rebuild(ctx); dirs != nil {
				w.update(dirs)
			}
		}
	}
}

// update makes watched set equal to dirs. Directories which do not exist yet
// are skipped, their parents are watched and creation triggers rebuild.
func (w *watcher) update(dirs []string) {
	want := make(map[string]struct{}, len(dirs))
	for _, d := range dirs {
		want[filepath.Clean(d)] = struct{}{}
	}
	for d := range w.watched {
		if _, ok := want[d]; ok {
			continue
		}
		if err := w.fw.Remove(d); err != nil {
			w.log.Debug("Unable to stop watching directory", zap.String("dir", d), zap.Error(err))
		}
		delete(w.watched, d)
	}
	for d := range want {
		if _, ok := w.watched[d]; ok {
			continue
		}
		if err := w.fw.Add(d); err != nil {
			w.log.Debug("Unable to watch directory", zap.String("dir", d), zap.Error(err))
			continue
		}
		w.watched[d] = struct{}{}
	}
}

func sameFile(a, b string) bool {
	pa, err := filepath.Abs(a)
	if err != nil {
		return false
	}
	pb, err := filepath.Abs(b)
	if err != nil {
		return false
	}
	return pa == pb
}

func (w *watcher) interesting(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	if len(w.only) > 0 {
		return sameFile(ev.Name, w.only)
	}
	for _, name := range w.ignore {
		if sameFile(ev.Name, name) {
			return false
		}
		// temporary file used to replace output
		if strings.HasPrefix(filepath.Base(ev.Name), "."+filepath.Base(name)+".") && sameFile(filepath.Dir(ev.Name), filepath.Dir(name)) {
			return false
		}
	}
	return true
}
