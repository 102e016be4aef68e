// Package archive gives access to fragment trees packed into zip archives.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// fragments are small documents, anything bigger is most likely not a tree
const maxEntrySize = 64 << 20

var (
	ErrUnsafeEntry   = errors.New("unsafe entry name")
	ErrEntryTooLarge = errors.New("entry is too large")
)

// entryFunc is called by walk for every file of the archive with normalized
// slash separated entry name and complete entry content.
type entryFunc func(name string, hdr *zip.FileHeader, data []byte) error

// walk reads all files of the archive in the order they are stored.
// Directory entries are skipped, names which could escape archive root stop
// the walk.
func walk(archive string, fn entryFunc) error {
	r, err := zip.OpenReader(archive)
	if errors.Is(err, zip.ErrInsecurePath) {
		r.Close()
		return fmt.Errorf("%w: %v", ErrUnsafeEntry, err)
	}
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		if !isSafePath(f.Name) {
			return fmt.Errorf("zip entry %q: %w", f.Name, ErrUnsafeEntry)
		}
		if f.FileInfo().IsDir() {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return fmt.Errorf("zip entry %q: %w", f.Name, err)
		}
		if err := fn(normalize(f.Name), &f.FileHeader, data); err != nil {
			return err
		}
	}
	return nil
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxEntrySize {
		return nil, ErrEntryTooLarge
	}
	r, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// header may lie about the size
	data, err := io.ReadAll(io.LimitReader(r, maxEntrySize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxEntrySize {
		return nil, ErrEntryTooLarge
	}
	return data, nil
}

// normalize turns names written on Windows into slash separated ones.
func normalize(name string) string {
	return path.Clean(strings.ReplaceAll(name, `\`, "/"))
}

// isSafePath returns false for names which could escape archive root:
// absolute paths, drive letters and ".." components.
func isSafePath(name string) bool {
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return false
	}
	if len(name) > 1 && name[1] == ':' {
		return false
	}
	for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return false
		}
	}
	return true
}
