package ledger

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Diff renders a pending edit as a line-oriented diff suitable for the
// terminal: removed lines prefixed with "-", added lines with "+",
// unchanged context with two spaces.
func (l *Ledger) Diff(id string) (string, error) {
	edit, err := l.Get(id)
	if err != nil {
		return "", err
	}
	return renderDiff(edit), nil
}

func renderDiff(edit PendingEdit) string {
	var b strings.Builder
	switch {
	case edit.BaseContent == "":
		fmt.Fprintf(&b, "--- /dev/null\n+++ %s\n", edit.TargetPath)
	default:
		fmt.Fprintf(&b, "--- %s\n+++ %s\n", edit.TargetPath, edit.TargetPath)
	}

	dmp := diffmatchpatch.New()
	oldLines, newLines, lineArray := dmp.DiffLinesToChars(edit.BaseContent, edit.ProposedContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(oldLines, newLines, false), lineArray)

	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		}
		for _, line := range splitKeepNonEmpty(d.Text) {
			b.WriteString(prefix)
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// ChangeCounts reports how many lines an edit adds and removes.
func ChangeCounts(edit PendingEdit) (added, removed int) {
	dmp := diffmatchpatch.New()
	oldLines, newLines, lineArray := dmp.DiffLinesToChars(edit.BaseContent, edit.ProposedContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(oldLines, newLines, false), lineArray)
	for _, d := range diffs {
		n := len(splitKeepNonEmpty(d.Text))
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}

func splitKeepNonEmpty(text string) []string {
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	return lines
}
