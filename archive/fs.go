package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/h2non/filetype"
)

// maximum number of symbolic links followed while resolving single name
const maxLinkHops = 40

var (
	ErrLinkLoop   = errors.New("too many levels of symbolic links")
	ErrLinkEscape = errors.New("symbolic link points outside of archive")
)

type node struct {
	hdr  zip.FileHeader
	data []byte
}

// FS is read-only in-memory view of zip archive content. Names are OS paths
// relative to archive root. Directories are implied by entry names, entries
// with symbolic link mode carry link target as content.
type FS struct {
	archive string
	files   map[string]*node
	dirs    map[string]struct{}
}

// Open reads complete archive, it is expected to be reasonably small.
func Open(archive string) (*FS, error) {
	a := &FS{
		archive: archive,
		files:   make(map[string]*node),
		dirs:    map[string]struct{}{".": {}},
	}
	err := walk(archive, func(name string, hdr *zip.FileHeader, data []byte) error {
		a.files[name] = &node{hdr: *hdr, data: data}
		for dir := path.Dir(name); dir != "."; dir = path.Dir(dir) {
			a.dirs[dir] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to read archive %s: %w", archive, err)
	}
	return a, nil
}

// Name returns path to the underlying archive.
func (a *FS) Name() string {
	return a.archive
}

func clean(name string) string {
	return strings.TrimPrefix(path.Clean(filepath.ToSlash(name)), "/")
}

func (a *FS) pathError(op, name string, err error) error {
	return &fs.PathError{Op: op, Path: a.archive + ":" + name, Err: err}
}

func (a *FS) Lstat(name string) (fs.FileInfo, error) {
	p := clean(name)
	if n, ok := a.files[p]; ok {
		return n.hdr.FileInfo(), nil
	}
	if _, ok := a.dirs[p]; ok {
		return dirInfo(path.Base(p)), nil
	}
	return nil, a.pathError("lstat", name, fs.ErrNotExist)
}

func (a *FS) Stat(name string) (fs.FileInfo, error) {
	p, err := a.resolve(clean(name))
	if err != nil {
		return nil, a.pathError("stat", name, err)
	}
	return a.Lstat(p)
}

func (a *FS) ReadFile(name string) ([]byte, error) {
	p, err := a.resolve(clean(name))
	if err != nil {
		return nil, a.pathError("open", name, err)
	}
	n, ok := a.files[p]
	if !ok {
		return nil, a.pathError("read", name, fs.ErrInvalid)
	}
	out := make([]byte, len(n.data))
	copy(out, n.data)
	return out, nil
}

// Canonical returns in-archive path with all symbolic links resolved.
func (a *FS) Canonical(name string) (string, error) {
	p, err := a.resolve(clean(name))
	if err != nil {
		return "", a.pathError("canonical", name, err)
	}
	return filepath.FromSlash(p), nil
}

func isLink(n *node) bool {
	return n.hdr.Mode()&fs.ModeSymlink != 0
}

// resolve follows symbolic links in every component of the name, same as
// filepath.EvalSymlinks does. Resulting name must exist.
func (a *FS) resolve(name string) (string, error) {
	var (
		hops     int
		resolved = "."
		rest     = strings.Split(name, "/")
	)
	for len(rest) > 0 {
		part := rest[0]
		rest = rest[1:]
		if part == "." || part == "" {
			continue
		}

		cur := path.Join(resolved, part)
		n, ok := a.files[cur]
		if !ok || !isLink(n) {
			if _, dir := a.dirs[cur]; !ok && !dir {
				return "", fs.ErrNotExist
			}
			resolved = cur
			continue
		}

		if hops++; hops > maxLinkHops {
			return "", ErrLinkLoop
		}
		target := filepath.ToSlash(string(n.data))
		if path.IsAbs(target) {
			return "", fmt.Errorf("%w: %s -> %s", ErrLinkEscape, cur, target)
		}
		target = path.Join(resolved, target)
		if target == ".." || strings.HasPrefix(target, "../") {
			return "", fmt.Errorf("%w: %s -> %s", ErrLinkEscape, cur, target)
		}
		rest = append(strings.Split(target, "/"), rest...)
		resolved = "."
	}
	return resolved, nil
}

type dirInfo string

func (d dirInfo) Name() string       { return string(d) }
func (d dirInfo) Size() int64        { return 0 }
func (d dirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0555 }
func (d dirInfo) ModTime() time.Time { return time.Time{} }
func (d dirInfo) IsDir() bool        { return true }
func (d dirInfo) Sys() any           { return nil }

// IsArchive checks file signature.
func IsArchive(name string) (bool, error) {
	f, err := os.Open(name)
	if err != nil {
		return false, err
	}
	defer f.Close()

	// enough for any matcher
	head := make([]byte, 262)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	return filetype.Is(head[:n], "zip"), nil
}

// Split looks for the first existing regular file on the path which is zip
// archive and returns it together with the remaining in-archive part. When
// there is no archive on the path ok is false.
func Split(name string) (arc, inner string, ok bool, err error) {
	name = filepath.Clean(name)
	var head string
	for head = name; len(head) != 0; head, _ = filepath.Split(head) {
		head = strings.TrimSuffix(head, string(filepath.Separator))
		if len(head) == 0 {
			break
		}

		fi, err := os.Stat(head)
		if err != nil {
			// does not exists - probably path in archive
			continue
		}
		if !fi.Mode().IsRegular() {
			// existing directory or something else: plain path
			return "", "", false, nil
		}
		zipped, err := IsArchive(head)
		if err != nil {
			return "", "", false, fmt.Errorf("unable to check archive type: %w", err)
		}
		if !zipped {
			return "", "", false, nil
		}
		inner = strings.TrimPrefix(strings.TrimPrefix(name, head), string(filepath.Separator))
		return head, inner, true, nil
	}
	return "", "", false, nil
}
