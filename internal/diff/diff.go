// Package diff parses unified-diff text into a structured line model
// used by file-change entries.
package diff

import (
	"regexp"
	"strconv"
	"strings"
)

// LineKind classifies one parsed diff line.
type LineKind string

const (
	LineInsert   LineKind = "insert"
	LineDelete   LineKind = "delete"
	LineContext  LineKind = "context"
	LineEllipsis LineKind = "ellipsis"
)

// ellipsisText marks an elided gap between hunks or collapsed context.
const ellipsisText = "⋮"

// Line is one parsed diff line. OldLine/NewLine are nil when the line
// has no number on that side (inserts have no old number, deletes no
// new number, ellipsis neither).
type Line struct {
	Kind    LineKind `json:"kind"`
	Text    string   `json:"text"`
	OldLine *int     `json:"oldLine,omitempty"`
	NewLine *int     `json:"newLine,omitempty"`
}

// Model is the parsed form of one file change diff.
type Model struct {
	Lines       []Line `json:"lines"`
	Added       int    `json:"added"`
	Removed     int    `json:"removed"`
	GutterWidth int    `json:"gutterWidth"`
}

// ChangeKindType is the coarse change classification.
type ChangeKindType string

const (
	ChangeAdd    ChangeKindType = "add"
	ChangeDelete ChangeKindType = "delete"
	ChangeUpdate ChangeKindType = "update"
)

// ChangeKind is a parsed change-kind tag. MovePath is set for
// rename/move operations (always treated as update).
type ChangeKind struct {
	Type     ChangeKindType `json:"type"`
	MovePath string         `json:"movePath,omitempty"`
}

// ParseChangeKind maps a raw change-kind tag to a ChangeKind.
// Rename/move tags use the form "rename:<from>:<to>".
func ParseChangeKind(kind string) ChangeKind {
	if strings.HasPrefix(kind, "rename") || strings.HasPrefix(kind, "move") {
		parts := strings.Split(kind, ":")
		if len(parts) >= 3 {
			return ChangeKind{Type: ChangeUpdate, MovePath: parts[2]}
		}
		return ChangeKind{Type: ChangeUpdate}
	}
	switch kind {
	case "add", "created":
		return ChangeKind{Type: ChangeAdd}
	case "delete", "removed":
		return ChangeKind{Type: ChangeDelete}
	default:
		return ChangeKind{Type: ChangeUpdate}
	}
}

var hunkHeaderRe = regexp.MustCompile(`^@@\s*-(\d+)(?:,\d+)?\s+\+(\d+)(?:,\d+)?\s*@@`)

// HasLineNumbers reports whether the diff text carries unified-diff
// hunk headers (and therefore real line numbers).
func HasLineNumbers(diff string) bool {
	for _, raw := range splitLines(diff) {
		if hunkHeaderRe.MatchString(raw) {
			return true
		}
	}
	return false
}

func splitLines(diff string) []string {
	lines := strings.Split(diff, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func intPtr(v int) *int { return &v }

// Parse scans unified-diff text into a Model.
//
// Hunk headers reset the running old/new counters; lines before the
// first header are ignored. A second and later hunk is separated from
// the previous one by an ellipsis marker. When no hunk header exists
// at all, every +/-/space line is still classified with counters
// starting from 1 (bare blobs produced by some backends).
func Parse(diff string) Model {
	rawLines := splitLines(diff)

	oldLine := 0
	newLine := 0
	sawHunk := false
	inHunk := false
	added := 0
	removed := 0
	var lines []Line

	for _, line := range rawLines {
		if m := hunkHeaderRe.FindStringSubmatch(line); m != nil {
			if sawHunk {
				lines = append(lines, Line{Kind: LineEllipsis, Text: ellipsisText})
			}
			sawHunk = true
			inHunk = true
			oldLine, _ = strconv.Atoi(m[1])
			newLine, _ = strconv.Atoi(m[2])
			continue
		}

		if !inHunk {
			continue
		}

		switch {
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			lines = append(lines, Line{Kind: LineInsert, Text: line[1:], NewLine: intPtr(newLine)})
			newLine++
			added++
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			lines = append(lines, Line{Kind: LineDelete, Text: line[1:], OldLine: intPtr(oldLine)})
			oldLine++
			removed++
		case strings.HasPrefix(line, " "):
			lines = append(lines, Line{Kind: LineContext, Text: line[1:], OldLine: intPtr(oldLine), NewLine: intPtr(newLine)})
			oldLine++
			newLine++
		}
	}

	if !sawHunk {
		fallbackOld := 1
		fallbackNew := 1
		for _, line := range rawLines {
			switch {
			case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
				lines = append(lines, Line{Kind: LineInsert, Text: line[1:], NewLine: intPtr(fallbackNew)})
				fallbackNew++
				added++
			case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
				lines = append(lines, Line{Kind: LineDelete, Text: line[1:], OldLine: intPtr(fallbackOld)})
				fallbackOld++
				removed++
			case strings.HasPrefix(line, " "):
				lines = append(lines, Line{Kind: LineContext, Text: line[1:], OldLine: intPtr(fallbackOld), NewLine: intPtr(fallbackNew)})
				fallbackOld++
				fallbackNew++
			}
		}
	}

	collapsed := collapseContext(lines, 3)
	return Model{
		Lines:       collapsed,
		Added:       added,
		Removed:     removed,
		GutterWidth: gutterWidth(collapsed),
	}
}

// collapseContext bounds rendering cost of large hunks: a run of more
// than contextLines*2 consecutive context lines is collapsed to the
// first contextLines, an ellipsis, and the last contextLines.
func collapseContext(lines []Line, contextLines int) []Line {
	if contextLines <= 0 {
		return lines
	}
	var out []Line
	i := 0
	for i < len(lines) {
		if lines[i].Kind != LineContext {
			out = append(out, lines[i])
			i++
			continue
		}
		j := i
		for j < len(lines) && lines[j].Kind == LineContext {
			j++
		}
		run := j - i
		if run <= contextLines*2 {
			out = append(out, lines[i:j]...)
		} else {
			out = append(out, lines[i:i+contextLines]...)
			out = append(out, Line{Kind: LineEllipsis, Text: ellipsisText})
			out = append(out, lines[j-contextLines:j]...)
		}
		i = j
	}
	return out
}

func gutterWidth(lines []Line) int {
	maxLine := 0
	for _, l := range lines {
		if l.OldLine != nil && *l.OldLine > maxLine {
			maxLine = *l.OldLine
		}
		if l.NewLine != nil && *l.NewLine > maxLine {
			maxLine = *l.NewLine
		}
	}
	if maxLine < 1 {
		maxLine = 1
	}
	return len(strconv.Itoa(maxLine))
}

// StripLineNumbers removes line-number annotations while preserving
// classification and order (rename-only or synthetic diffs).
func StripLineNumbers(m Model) Model {
	if len(m.Lines) == 0 {
		return m
	}
	lines := make([]Line, len(m.Lines))
	for i, l := range m.Lines {
		lines[i] = Line{Kind: l.Kind, Text: l.Text}
	}
	return Model{Lines: lines, Added: m.Added, Removed: m.Removed, GutterWidth: 1}
}

// ParseForChange parses a diff for one file change. When the regular
// parse finds nothing and the change is a pure add/delete, every
// non-metadata line becomes content numbered from 1. The fallback is
// never used for updates, and its synthetic numbering is kept unless
// the caller explicitly says line numbers are unavailable.
func ParseForChange(diffText string, kind ChangeKind, lineNumbersAvailable *bool) Model {
	explicit := lineNumbersAvailable != nil
	useNumbers := HasLineNumbers(diffText)
	if explicit {
		useNumbers = *lineNumbersAvailable
	}

	parsed := Parse(diffText)
	if !useNumbers {
		parsed = StripLineNumbers(parsed)
	}
	if len(parsed.Lines) > 0 || diffText == "" {
		return parsed
	}
	if kind.Type != ChangeAdd && kind.Type != ChangeDelete {
		return parsed
	}

	rawLines := splitLines(diffText)
	if n := len(rawLines); n > 0 && rawLines[n-1] == "" {
		rawLines = rawLines[:n-1]
	}
	var content []string
	for _, line := range rawLines {
		if strings.HasPrefix(line, "*** ") || strings.HasPrefix(line, "+++") ||
			strings.HasPrefix(line, "---") || strings.HasPrefix(line, "Index: ") {
			continue
		}
		content = append(content, line)
	}

	var lines []Line
	for i, line := range content {
		n := i + 1
		if kind.Type == ChangeAdd {
			lines = append(lines, Line{Kind: LineInsert, Text: line, NewLine: intPtr(n)})
		} else {
			lines = append(lines, Line{Kind: LineDelete, Text: line, OldLine: intPtr(n)})
		}
	}

	count := len(content)
	fallback := Model{Lines: lines, GutterWidth: gutterWidth(lines)}
	if kind.Type == ChangeAdd {
		fallback.Added = count
	} else {
		fallback.Removed = count
	}
	if explicit && !useNumbers {
		fallback = StripLineNumbers(fallback)
	}
	return fallback
}

// FormatPath renders "path" or "path → movePath" for rename display.
func FormatPath(path, movePath string) string {
	if movePath != "" && movePath != path {
		return path + " → " + movePath
	}
	return path
}
