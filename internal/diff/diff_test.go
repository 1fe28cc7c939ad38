package diff

import (
	"strings"
	"testing"
)

func TestParseSimpleHunk(t *testing.T) {
	m := Parse("@@ -1,2 +1,2 @@\n-foo\n+bar\n context")

	if m.Added != 1 || m.Removed != 1 {
		t.Fatalf("added/removed = %d/%d, want 1/1", m.Added, m.Removed)
	}
	if len(m.Lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(m.Lines))
	}

	del := m.Lines[0]
	if del.Kind != LineDelete || del.Text != "foo" {
		t.Errorf("line 0 = %+v, want delete foo", del)
	}
	if del.OldLine == nil || *del.OldLine != 1 {
		t.Errorf("delete oldLine = %v, want 1", del.OldLine)
	}
	if del.NewLine != nil {
		t.Errorf("delete newLine = %v, want nil", del.NewLine)
	}

	ins := m.Lines[1]
	if ins.Kind != LineInsert || ins.Text != "bar" {
		t.Errorf("line 1 = %+v, want insert bar", ins)
	}
	if ins.NewLine == nil || *ins.NewLine != 1 {
		t.Errorf("insert newLine = %v, want 1", ins.NewLine)
	}

	ctx := m.Lines[2]
	if ctx.Kind != LineContext || ctx.Text != "context" {
		t.Errorf("line 2 = %+v, want context", ctx)
	}
	if ctx.OldLine == nil || *ctx.OldLine != 2 || ctx.NewLine == nil || *ctx.NewLine != 2 {
		t.Errorf("context numbers = %v/%v, want 2/2", ctx.OldLine, ctx.NewLine)
	}
}

func TestParseMultiHunkEllipsis(t *testing.T) {
	diff := "@@ -1 +1 @@\n-a\n+b\n@@ -10 +10 @@\n-c\n+d"
	m := Parse(diff)

	var ellipses int
	for _, l := range m.Lines {
		if l.Kind == LineEllipsis {
			ellipses++
		}
	}
	if ellipses != 1 {
		t.Errorf("ellipsis markers = %d, want 1 between hunks", ellipses)
	}
	if m.Added != 2 || m.Removed != 2 {
		t.Errorf("added/removed = %d/%d, want 2/2", m.Added, m.Removed)
	}

	// second hunk counters reset to header values
	last := m.Lines[len(m.Lines)-1]
	if last.Kind != LineInsert || last.NewLine == nil || *last.NewLine != 10 {
		t.Errorf("last line = %+v, want insert at new line 10", last)
	}
}

func TestParseIgnoresPreamble(t *testing.T) {
	diff := "--- a/x.txt\n+++ b/x.txt\n@@ -1 +1 @@\n-x\n+y"
	m := Parse(diff)
	if m.Added != 1 || m.Removed != 1 {
		t.Errorf("added/removed = %d/%d, want 1/1 (file markers ignored)", m.Added, m.Removed)
	}
	for _, l := range m.Lines {
		if strings.HasPrefix(l.Text, "++") || strings.HasPrefix(l.Text, "--") {
			t.Errorf("file marker leaked into lines: %+v", l)
		}
	}
}

func TestParseEmpty(t *testing.T) {
	m := Parse("")
	if len(m.Lines) != 0 || m.Added != 0 || m.Removed != 0 {
		t.Errorf("empty diff = %+v, want empty model", m)
	}
	if m.GutterWidth != 1 {
		t.Errorf("gutterWidth = %d, want 1", m.GutterWidth)
	}
}

func TestParseNoHunkBareLines(t *testing.T) {
	// no header: fallback numbering from 1
	m := Parse("+one\n+two")
	if m.Added != 2 {
		t.Fatalf("added = %d, want 2", m.Added)
	}
	if *m.Lines[0].NewLine != 1 || *m.Lines[1].NewLine != 2 {
		t.Errorf("fallback numbering = %v, %v, want 1, 2", m.Lines[0].NewLine, m.Lines[1].NewLine)
	}
}

func TestCollapseContextLongRun(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("@@ -1,12 +1,12 @@\n")
	for i := 0; i < 10; i++ {
		sb.WriteString(" ctx\n")
	}
	sb.WriteString("-old\n+new")

	m := Parse(sb.String())

	// run of 10 context lines > 6 collapses to 3 + ellipsis + 3
	var contexts, ellipses int
	for _, l := range m.Lines {
		switch l.Kind {
		case LineContext:
			contexts++
		case LineEllipsis:
			ellipses++
		}
	}
	if contexts != 6 {
		t.Errorf("context lines after collapse = %d, want 6", contexts)
	}
	if ellipses != 1 {
		t.Errorf("ellipsis markers = %d, want 1", ellipses)
	}
}

func TestCollapseContextShortRunUntouched(t *testing.T) {
	m := Parse("@@ -1,6 +1,6 @@\n ctx\n ctx\n ctx\n ctx\n ctx\n ctx")
	var contexts, ellipses int
	for _, l := range m.Lines {
		switch l.Kind {
		case LineContext:
			contexts++
		case LineEllipsis:
			ellipses++
		}
	}
	if contexts != 6 || ellipses != 0 {
		t.Errorf("contexts/ellipses = %d/%d, want 6/0 (run of 6 kept)", contexts, ellipses)
	}
}

func TestGutterWidth(t *testing.T) {
	m := Parse("@@ -98,3 +98,3 @@\n ctx\n-a\n+b")
	// max recorded line number is 99 → 2 digits
	if m.GutterWidth != 2 {
		t.Errorf("gutterWidth = %d, want 2", m.GutterWidth)
	}

	m = Parse("@@ -99,3 +99,3 @@\n ctx\n ctx\n+b")
	// insert lands on new line 101 → 3 digits
	if m.GutterWidth != 3 {
		t.Errorf("gutterWidth = %d, want 3", m.GutterWidth)
	}
}

func TestParseChangeKind(t *testing.T) {
	tests := []struct {
		in       string
		wantType ChangeKindType
		wantMove string
	}{
		{"add", ChangeAdd, ""},
		{"created", ChangeAdd, ""},
		{"delete", ChangeDelete, ""},
		{"removed", ChangeDelete, ""},
		{"update", ChangeUpdate, ""},
		{"anything-else", ChangeUpdate, ""},
		{"rename:old.go:new.go", ChangeUpdate, "new.go"},
		{"move:a/b.go:c/b.go", ChangeUpdate, "c/b.go"},
		{"rename", ChangeUpdate, ""},
	}
	for _, tt := range tests {
		got := ParseChangeKind(tt.in)
		if got.Type != tt.wantType || got.MovePath != tt.wantMove {
			t.Errorf("ParseChangeKind(%q) = %+v, want {%s %s}", tt.in, got, tt.wantType, tt.wantMove)
		}
	}
}

func TestParseForChangePureAddFallback(t *testing.T) {
	m := ParseForChange("line1\nline2\nline3", ChangeKind{Type: ChangeAdd}, nil)

	if m.Added != 3 || m.Removed != 0 {
		t.Fatalf("added/removed = %d/%d, want 3/0", m.Added, m.Removed)
	}
	if len(m.Lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(m.Lines))
	}
	for i, l := range m.Lines {
		if l.Kind != LineInsert {
			t.Errorf("line %d kind = %s, want insert", i, l.Kind)
		}
		if l.NewLine == nil || *l.NewLine != i+1 {
			t.Errorf("line %d newLine = %v, want %d", i, l.NewLine, i+1)
		}
	}
}

func TestParseForChangePureDeleteFallback(t *testing.T) {
	m := ParseForChange("gone", ChangeKind{Type: ChangeDelete}, nil)
	if m.Removed != 1 || m.Added != 0 {
		t.Fatalf("added/removed = %d/%d, want 0/1", m.Added, m.Removed)
	}
	if m.Lines[0].Kind != LineDelete || *m.Lines[0].OldLine != 1 {
		t.Errorf("line = %+v, want delete at old line 1", m.Lines[0])
	}
}

func TestParseForChangeFallbackStripsOnlyWhenExplicit(t *testing.T) {
	avail := false
	m := ParseForChange("line1\nline2", ChangeKind{Type: ChangeAdd}, &avail)

	if m.Added != 2 {
		t.Fatalf("added = %d, want 2", m.Added)
	}
	for i, l := range m.Lines {
		if l.NewLine != nil || l.OldLine != nil {
			t.Errorf("line %d keeps numbers despite explicit opt-out: %+v", i, l)
		}
	}
	if m.GutterWidth != 1 {
		t.Errorf("gutterWidth = %d, want 1 after strip", m.GutterWidth)
	}
}

func TestParseForChangeNoFallbackForUpdate(t *testing.T) {
	m := ParseForChange("just some text", ChangeKind{Type: ChangeUpdate}, nil)
	if len(m.Lines) != 0 {
		t.Errorf("update kind must not use the bare fallback, got %d lines", len(m.Lines))
	}
}

func TestParseForChangeFallbackSkipsMetadata(t *testing.T) {
	m := ParseForChange("*** Begin\nIndex: x\ncontent", ChangeKind{Type: ChangeAdd}, nil)
	if m.Added != 1 {
		t.Fatalf("added = %d, want 1 (metadata lines skipped)", m.Added)
	}
	if m.Lines[0].Text != "content" {
		t.Errorf("text = %q, want content", m.Lines[0].Text)
	}
}

func TestParseForChangeStripsNumbersWhenUnavailable(t *testing.T) {
	avail := false
	m := ParseForChange("@@ -1 +1 @@\n-a\n+b", ChangeKind{Type: ChangeUpdate}, &avail)

	for i, l := range m.Lines {
		if l.OldLine != nil || l.NewLine != nil {
			t.Errorf("line %d still carries numbers: %+v", i, l)
		}
	}
	if m.GutterWidth != 1 {
		t.Errorf("gutterWidth = %d, want 1 after strip", m.GutterWidth)
	}
	// classification preserved
	if m.Lines[0].Kind != LineDelete || m.Lines[1].Kind != LineInsert {
		t.Errorf("classification lost after strip: %+v", m.Lines)
	}
}

func TestFormatPath(t *testing.T) {
	if got := FormatPath("a.go", ""); got != "a.go" {
		t.Errorf("FormatPath = %q", got)
	}
	if got := FormatPath("a.go", "b.go"); got != "a.go → b.go" {
		t.Errorf("FormatPath with move = %q", got)
	}
	if got := FormatPath("a.go", "a.go"); got != "a.go" {
		t.Errorf("FormatPath same move = %q", got)
	}
}

func TestCacheReusesModel(t *testing.T) {
	c := NewCache(10)
	diffText := "@@ -1 +1 @@\n-a\n+b"

	m1 := c.ParseForChange(diffText, ChangeKind{Type: ChangeUpdate}, nil)
	m2 := c.ParseForChange(diffText, ChangeKind{Type: ChangeUpdate}, nil)

	if c.Len() != 1 {
		t.Errorf("cache len = %d, want 1", c.Len())
	}
	if m1.Added != m2.Added || len(m1.Lines) != len(m2.Lines) {
		t.Errorf("cached model differs: %+v vs %+v", m1, m2)
	}

	// different flag is a different key
	avail := false
	_ = c.ParseForChange(diffText, ChangeKind{Type: ChangeUpdate}, &avail)
	if c.Len() != 2 {
		t.Errorf("cache len = %d, want 2 after flag variant", c.Len())
	}
}

func TestBuildSummarySingleFile(t *testing.T) {
	s := BuildSummary("fc-1", []ChangeInput{
		{Path: "main.go", Diff: "@@ -1 +1 @@\n-a\n+b\n+c", Kind: "update"},
	}, nil)

	if s.TotalAdded != 2 || s.TotalRemoved != 1 {
		t.Errorf("totals = +%d/-%d, want +2/-1", s.TotalAdded, s.TotalRemoved)
	}
	if s.TitlePrefix != "Edited" || s.TitleContent != "main.go" {
		t.Errorf("title = %q %q, want Edited main.go", s.TitlePrefix, s.TitleContent)
	}
}

func TestBuildSummaryMultipleFiles(t *testing.T) {
	s := BuildSummary("fc-2", []ChangeInput{
		{Path: "a.go", Diff: "new", Kind: "add"},
		{Path: "b.go", Diff: "old", Kind: "delete"},
	}, NewCache(10))

	if s.TitlePrefix != "Edited" {
		t.Errorf("multi-file prefix = %q, want Edited", s.TitlePrefix)
	}
	if s.TitleContent != "2 files" {
		t.Errorf("titleContent = %q, want 2 files", s.TitleContent)
	}
	if s.TotalAdded != 1 || s.TotalRemoved != 1 {
		t.Errorf("totals = +%d/-%d, want +1/-1", s.TotalAdded, s.TotalRemoved)
	}
}

func TestVerb(t *testing.T) {
	if v := Verb(ChangeKind{Type: ChangeAdd}, true); v != "Adding" {
		t.Errorf("Verb(add, pending) = %q", v)
	}
	if v := Verb(ChangeKind{Type: ChangeDelete}, false); v != "Deleted" {
		t.Errorf("Verb(delete, done) = %q", v)
	}
	if v := Verb(ChangeKind{Type: ChangeUpdate}, false); v != "Edited" {
		t.Errorf("Verb(update, done) = %q", v)
	}
}
