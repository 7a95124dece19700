package workspace

import (
	"fmt"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffResult is a line-level unified diff for one path, with counts the
// UI shows next to the file name.
type DiffResult struct {
	Path      string `json:"path"`
	Label     string `json:"label"`
	Diff      string `json:"diff"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

const (
	LabelModified = "modified"
	LabelNewFile  = "new file"
	LabelDeleted  = "deleted"
)

// diffTimeout bounds the optimal diff; past it diffmatchpatch falls back
// to its faster approximate path, which is fine for very large files.
const diffTimeout = 2 * time.Second

const contextLines = 3

// FileDiff diffs a file between two states, either of which may be
// absent. Absent-before yields "new file", absent-after "deleted".
func FileDiff(path string, before []byte, beforeExists bool, after []byte, afterExists bool) *DiffResult {
	label := LabelModified
	switch {
	case !beforeExists && afterExists:
		label = LabelNewFile
	case beforeExists && !afterExists:
		label = LabelDeleted
	case !beforeExists && !afterExists:
		return &DiffResult{Path: path, Label: LabelModified}
	}
	r := UnifiedDiff(path, before, after)
	r.Label = label
	return r
}

// UnifiedDiff computes a line-level unified diff with three lines of
// context per hunk.
func UnifiedDiff(path string, before, after []byte) *DiffResult {
	result := &DiffResult{Path: path, Label: LabelModified}
	if string(before) == string(after) {
		return result
	}

	ops := lineOps(string(before), string(after))

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s\n", path, path)

	hunks := groupHunks(ops)
	for _, h := range hunks {
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.oldStart, h.oldCount, h.newStart, h.newCount)
		for _, op := range h.ops {
			switch op.kind {
			case opEqual:
				sb.WriteString(" " + op.text + "\n")
			case opDelete:
				sb.WriteString("-" + op.text + "\n")
				result.Deletions++
			case opInsert:
				sb.WriteString("+" + op.text + "\n")
				result.Additions++
			}
		}
	}
	result.Diff = sb.String()
	return result
}

type opKind int

const (
	opEqual opKind = iota
	opDelete
	opInsert
)

type lineOp struct {
	kind opKind
	text string
}

// lineOps computes per-line edit operations using diffmatchpatch in
// line mode.
func lineOps(before, after string) []lineOp {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = diffTimeout

	chars1, chars2, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(chars1, chars2, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var ops []lineOp
	for _, d := range diffs {
		var kind opKind
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			kind = opEqual
		case diffmatchpatch.DiffDelete:
			kind = opDelete
		case diffmatchpatch.DiffInsert:
			kind = opInsert
		}
		for _, line := range splitLines(d.Text) {
			ops = append(ops, lineOp{kind: kind, text: line})
		}
	}
	return ops
}

// splitLines splits text into lines without the trailing newline of the
// final line producing a phantom empty entry.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

type hunk struct {
	oldStart, oldCount int
	newStart, newCount int
	ops                []lineOp
}

// groupHunks folds the op stream into unified-diff hunks with
// contextLines of equal lines around each change run.
func groupHunks(ops []lineOp) []hunk {
	var hunks []hunk
	oldLine, newLine := 1, 1
	i := 0
	for i < len(ops) {
		if ops[i].kind == opEqual {
			oldLine++
			newLine++
			i++
			continue
		}

		// Back up for leading context.
		start := i
		lead := 0
		for start > 0 && lead < contextLines && ops[start-1].kind == opEqual {
			start--
			lead++
		}
		h := hunk{oldStart: oldLine - lead, newStart: newLine - lead}

		// Extend through the change run, closing only after a gap of more
		// than 2*contextLines equal lines.
		end := i
		equalRun := 0
		for end < len(ops) {
			if ops[end].kind == opEqual {
				equalRun++
				if equalRun > 2*contextLines {
					break
				}
			} else {
				equalRun = 0
			}
			end++
		}
		trail := 0
		if end == len(ops) {
			trail = min(equalRun, contextLines)
			end -= equalRun - trail
		} else {
			trail = contextLines
			end -= equalRun - trail
		}

		for j := start; j < end; j++ {
			h.ops = append(h.ops, ops[j])
			switch ops[j].kind {
			case opEqual:
				h.oldCount++
				h.newCount++
			case opDelete:
				h.oldCount++
			case opInsert:
				h.newCount++
			}
		}
		for j := i; j < end; j++ {
			switch ops[j].kind {
			case opEqual:
				oldLine++
				newLine++
			case opDelete:
				oldLine++
			case opInsert:
				newLine++
			}
		}
		hunks = append(hunks, h)
		i = end
	}
	return hunks
}
