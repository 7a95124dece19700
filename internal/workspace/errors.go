package workspace

import (
	"errors"
	"fmt"
)

// Kind classifies workspace failures. Tools map kinds onto failed tool
// results with a hint the model can act on.
type Kind string

const (
	// ENotFound: the path does not exist.
	ENotFound Kind = "ENotFound"

	// EScope: the canonical path is outside the workspace root.
	EScope Kind = "EScope"

	// EAnchorMissing: an edit's old text was not found in the file.
	EAnchorMissing Kind = "EAnchorMissing"

	// EAnchorAmbiguous: an edit's old text matched more than once
	// without replace_all.
	EAnchorAmbiguous Kind = "EAnchorAmbiguous"

	// EIO: any other filesystem failure.
	EIO Kind = "EIO"
)

// Error is a typed workspace failure carrying the offending path.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ENotFound:
		return fmt.Sprintf("%s: file not found", e.Path)
	case EScope:
		return fmt.Sprintf("%s: path is outside the workspace root", e.Path)
	case EAnchorMissing:
		return fmt.Sprintf("%s: old text not found in file", e.Path)
	case EAnchorAmbiguous:
		return fmt.Sprintf("%s: old text matches multiple locations; pass replace_all or a longer anchor", e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Path, e.Err)
		}
		return fmt.Sprintf("%s: i/o error", e.Path)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the workspace error kind, or "" for other errors.
func KindOf(err error) Kind {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return ""
}

// Hint returns a short "next step" suggestion derived from the error
// kind, appended to failed tool results.
func Hint(err error) string {
	switch KindOf(err) {
	case ENotFound:
		return "Check the path with list_directory or Glob before reading."
	case EScope:
		return "Only paths inside the workspace root are accessible."
	case EAnchorMissing:
		return "Read the file first and copy the exact text to replace."
	case EAnchorAmbiguous:
		return "Include more surrounding context in old text, or set replace_all."
	default:
		return ""
	}
}

func notFound(path string) error { return &Error{Kind: ENotFound, Path: path} }

func scopeErr(path string) error { return &Error{Kind: EScope, Path: path} }

func ioErr(path string, err error) error { return &Error{Kind: EIO, Path: path, Err: err} }
