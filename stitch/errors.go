package stitch

import (
	"errors"
	"fmt"
)

var (
	ErrConflictingSources = errors.New("multiple conflicting sources")
	ErrEmptyStem          = errors.New("link target has empty name")
	ErrLinkCycle          = errors.New("link cycle")
	ErrPathCycle          = errors.New("resource refers back to its ancestor")
)

// ErrorKind classifies fatal resolution errors.
type ErrorKind int

const (
	KindIO ErrorKind = iota + 1
	KindConflict
	KindDecode
	KindValidation
	KindLink
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindConflict:
		return "conflict"
	case KindDecode:
		return "decode"
	case KindValidation:
		return "validation"
	case KindLink:
		return "link"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ExitCode is the process exit code reported for errors of this kind.
func (k ErrorKind) ExitCode() int {
	switch k {
	case KindConflict:
		return 2
	case KindDecode:
		return 3
	case KindValidation:
		return 4
	case KindLink:
		return 5
	default:
		return 1
	}
}

// Error is returned for every failure during resolution. It always names the
// resource it happened at.
type Error struct {
	Kind ErrorKind
	ID   ResourceID
	// Path is the offending file, if any.
	Path string
	Err  error
}

func (e *Error) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("%s error at %s (%s): %v", e.Kind, e.ID, e.Path, e.Err)
	}
	return fmt.Sprintf("%s error at %s: %v", e.Kind, e.ID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns kind of resolution error or 0 if err is not one.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
