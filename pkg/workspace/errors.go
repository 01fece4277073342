package workspace

import (
	"errors"
	"fmt"
)

// InvalidPathError is returned when a path name normalizes to nothing usable
// or names the reserved canonical path where that is not allowed.
type InvalidPathError struct {
	Name string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid path name: %q", e.Name)
}

// NonFastForwardError is returned when a consolidation would need a merge:
// the destination head is not an ancestor of the source head. The
// destination is left untouched.
type NonFastForwardError struct {
	Src     string
	Dst     string
	SrcHead string
	DstHead string
}

func (e *NonFastForwardError) Error() string {
	return fmt.Sprintf("cannot fast-forward %s onto %s: histories diverge", e.Src, e.Dst)
}

// ErrMergeUnsupported is returned by Reconsolidate when histories diverge.
// True merging is a documented limitation; callers re-branch instead.
var ErrMergeUnsupported = errors.New("merge of diverged histories is not supported")
