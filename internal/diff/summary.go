package diff

import "strconv"

// ReviewChange is one file change with its parsed diff.
type ReviewChange struct {
	Path                 string     `json:"path"`
	MovePath             string     `json:"movePath,omitempty"`
	Kind                 ChangeKind `json:"kind"`
	Diff                 string     `json:"diff"`
	Parsed               Model      `json:"parsed"`
	LineNumbersAvailable *bool      `json:"lineNumbersAvailable,omitempty"`
}

// Summary aggregates the changes of one file-change entry.
type Summary struct {
	ID           string         `json:"id"`
	TitlePrefix  string         `json:"titlePrefix"`
	TitleContent string         `json:"titleContent"`
	TotalAdded   int            `json:"totalAdded"`
	TotalRemoved int            `json:"totalRemoved"`
	Changes      []ReviewChange `json:"changes"`
}

// ChangeInput is the raw shape of one change from a fileChange entry.
type ChangeInput struct {
	Path                 string
	Diff                 string
	Kind                 string
	LineNumbersAvailable *bool
}

// Verb renders the display verb for a change kind ("Adding"/"Added" etc.).
func Verb(kind ChangeKind, pending bool) string {
	if pending {
		switch kind.Type {
		case ChangeAdd:
			return "Adding"
		case ChangeDelete:
			return "Deleting"
		default:
			return "Editing"
		}
	}
	switch kind.Type {
	case ChangeAdd:
		return "Added"
	case ChangeDelete:
		return "Deleted"
	default:
		return "Edited"
	}
}

// BuildSummary parses every change of a file-change entry and derives
// the aggregate counts and title. cache may be nil.
func BuildSummary(entryID string, inputs []ChangeInput, cache *Cache) Summary {
	changes := make([]ReviewChange, 0, len(inputs))
	totalAdded := 0
	totalRemoved := 0

	for _, in := range inputs {
		kind := ParseChangeKind(in.Kind)
		var parsed Model
		if cache != nil {
			parsed = cache.ParseForChange(in.Diff, kind, in.LineNumbersAvailable)
		} else {
			parsed = ParseForChange(in.Diff, kind, in.LineNumbersAvailable)
		}
		totalAdded += parsed.Added
		totalRemoved += parsed.Removed
		changes = append(changes, ReviewChange{
			Path:                 in.Path,
			MovePath:             kind.MovePath,
			Kind:                 kind,
			Diff:                 in.Diff,
			Parsed:               parsed,
			LineNumbersAvailable: in.LineNumbersAvailable,
		})
	}

	single := len(changes) == 1
	primary := ChangeUpdate
	if single {
		primary = changes[0].Kind.Type
	}
	prefix := "Edited"
	switch primary {
	case ChangeAdd:
		prefix = "Added"
	case ChangeDelete:
		prefix = "Deleted"
	}

	content := strconv.Itoa(len(changes)) + " files"
	if len(changes) == 1 {
		content = FormatPath(changes[0].Path, changes[0].MovePath)
	}

	return Summary{
		ID:           entryID,
		TitlePrefix:  prefix,
		TitleContent: content,
		TotalAdded:   totalAdded,
		TotalRemoved: totalRemoved,
		Changes:      changes,
	}
}
