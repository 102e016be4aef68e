package stitch

import (
	"io/fs"
	"os"
	"path/filepath"
)

// FS is a read-only view of the fragment tree. Names are OS paths.
type FS interface {
	// Stat follows symbolic links.
	Stat(name string) (fs.FileInfo, error)
	// Lstat does not follow symbolic links.
	Lstat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	// Canonical returns absolute path with all symbolic links resolved.
	Canonical(name string) (string, error)
}

// OSFS is FS backed by the local filesystem.
type OSFS struct{}

func (OSFS) Stat(name string) (fs.FileInfo, error)  { return os.Stat(name) }
func (OSFS) Lstat(name string) (fs.FileInfo, error) { return os.Lstat(name) }

func (OSFS) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name) // #nosec G304 -- reading fragment tree is the purpose
}

func (OSFS) Canonical(name string) (string, error) {
	p, err := filepath.EvalSymlinks(name)
	if err != nil {
		return "", err
	}
	return filepath.Abs(p)
}

func isRegular(fsys FS, name string) bool {
	fi, err := fsys.Stat(name)
	return err == nil && fi.Mode().IsRegular()
}

func isSymlink(fsys FS, name string) bool {
	fi, err := fsys.Lstat(name)
	return err == nil && fi.Mode()&fs.ModeSymlink != 0
}
