package transcript

import (
	"sort"
	"strings"

	"github.com/agentmesh/go-transcript/internal/protocol"
)

// normalizeTypeKey folds wire item-type spellings ("file_change",
// "fileChange", "FILE-CHANGE") into one comparable key.
func normalizeTypeKey(t string) string {
	t = strings.ReplaceAll(t, "-", "")
	t = strings.ReplaceAll(t, "_", "")
	return strings.ToLower(strings.TrimSpace(t))
}

// joinReasoning rebuilds the display text of a reasoning entry from its
// summary and content parts, skipping empty parts.
func joinReasoning(summary, content []string) string {
	parts := make([]string, 0, len(summary)+len(content))
	for _, s := range summary {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	for _, s := range content {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		switch s := item.(type) {
		case string:
			out = append(out, s)
		case map[string]any:
			// part objects carry their text under "text"
			if t, ok := s["text"].(string); ok {
				out = append(out, t)
			} else {
				out = append(out, "")
			}
		default:
			out = append(out, "")
		}
	}
	return out
}

// userContentFrom walks a userMessage content list: text parts are
// joined with newlines (trimmed), skill/image/localImage parts become
// attachments deduplicated by identity.
func userContentFrom(v any) (string, []Attachment) {
	raw, ok := v.([]any)
	if !ok {
		return "", nil
	}
	var parts []string
	var atts []Attachment
	seen := make(map[string]bool)
	add := func(a Attachment) {
		if seen[a.key()] {
			return
		}
		seen[a.key()] = true
		atts = append(atts, a)
	}
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		p := protocol.Params(m)
		switch normalizeTypeKey(p.Str("type")) {
		case "text":
			if t, ok := m["text"].(string); ok {
				parts = append(parts, t)
			}
		case "skill":
			if name := p.Str("name"); name != "" {
				add(Attachment{Name: name})
			}
		case "image":
			if url := p.Str("url"); url != "" {
				add(Attachment{Path: url, Name: imageNameFromDataURL(url)})
			}
		case "localimage":
			if path := p.Str("path"); path != "" {
				add(Attachment{Path: path, Name: basename(path)})
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), atts
}

// imageNameFromDataURL guesses a display name for a data-URL image.
func imageNameFromDataURL(url string) string {
	const prefix = "data:image/"
	if !strings.HasPrefix(url, prefix) {
		return "image"
	}
	ext := url[len(prefix):]
	if i := strings.IndexAny(ext, ";,"); i >= 0 {
		ext = ext[:i]
	}
	ext = strings.ToLower(ext)
	ext = strings.ReplaceAll(ext, "jpeg", "jpg")
	if i := strings.Index(ext, "+"); i >= 0 {
		ext = ext[:i]
	}
	if ext == "" {
		return "image"
	}
	return "image." + ext
}

func basename(path string) string {
	normalized := strings.ReplaceAll(path, "\\", "/")
	if i := strings.LastIndex(normalized, "/"); i >= 0 && i+1 < len(normalized) {
		return normalized[i+1:]
	}
	if strings.HasSuffix(normalized, "/") {
		return path
	}
	return normalized
}

func attachmentsFrom(v any) []Attachment {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []Attachment
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		p := protocol.Params(m)
		a := Attachment{
			Name:     p.Str("name", "fileName", "file_name"),
			Path:     p.Str("path", "url"),
			MimeType: p.Str("mimeType", "mime_type"),
		}
		if a.Name == "" && a.Path == "" {
			continue
		}
		out = append(out, a)
	}
	return out
}

// changesFrom accepts both shapes the backend emits for file changes:
// an array of {path, kind, diff} objects, or a map keyed by path.
func changesFrom(v any) []FileChange {
	switch raw := v.(type) {
	case []any:
		var out []FileChange
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			p := protocol.Params(m)
			c := FileChange{
				Path: p.Str("path"),
				Kind: p.Str("kind", "type"),
				Diff: p.Str("diff", "unified_diff", "unifiedDiff"),
			}
			if v, ok := p.Bool("lineNumbersAvailable", "line_numbers_available"); ok {
				c.LineNumbersAvailable = &v
			}
			if c.Path == "" && c.Diff == "" {
				continue
			}
			out = append(out, c)
		}
		return out
	case map[string]any:
		paths := make([]string, 0, len(raw))
		for path := range raw {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		var out []FileChange
		for _, path := range paths {
			c := FileChange{Path: path}
			if m, ok := raw[path].(map[string]any); ok {
				p := protocol.Params(m)
				c.Kind = p.Str("kind", "type")
				c.Diff = p.Str("diff", "unified_diff", "unifiedDiff")
				if v, ok := p.Bool("lineNumbersAvailable", "line_numbers_available"); ok {
					c.LineNumbersAvailable = &v
				}
			}
			out = append(out, c)
		}
		return out
	}
	return nil
}

// EntryFromItem normalizes a raw thread item into an Entry. Returns nil
// for item types the transcript does not model.
func EntryFromItem(item map[string]any) *Entry {
	if item == nil {
		return nil
	}
	p := protocol.Params(item)
	id := p.Str("id", "itemId", "item_id")

	switch normalizeTypeKey(p.Str("type", "itemType", "item_type")) {
	case "agentmessage", "assistantmessage":
		return &Entry{
			ID:   id,
			Kind: EntryAssistant,
			Role: RoleMessage,
			Text: p.Str("text", "content", "message"),
		}

	case "usermessage", "userinput", "user":
		// the persisted shape is a content list of typed parts; plain
		// text fields are accepted as a degenerate form
		text, atts := userContentFrom(item["content"])
		if text == "" {
			text = p.Str("text", "content", "message")
		}
		return &Entry{
			ID:          id,
			Kind:        EntryUser,
			Text:        text,
			Attachments: mergeAttachments(atts, attachmentsFrom(item["attachments"])),
		}

	case "reasoning":
		summary := stringSlice(item["summary"])
		content := stringSlice(item["content"])
		return &Entry{
			ID:               id,
			Kind:             EntryAssistant,
			Role:             RoleReasoning,
			ReasoningSummary: summary,
			ReasoningContent: content,
			Text:             joinReasoning(summary, content),
		}

	case "commandexecution", "command", "localshellcall":
		e := &Entry{
			ID:               id,
			Kind:             EntryCommand,
			Command:          p.Str("command", "commandLine", "command_line"),
			AggregatedOutput: p.Str("aggregatedOutput", "aggregated_output", "output"),
			Status:           p.Str("status"),
		}
		if code, ok := p.Int("exitCode", "exit_code"); ok {
			e.ExitCode = &code
		}
		return e

	case "filechange", "patchapply":
		return &Entry{
			ID:      id,
			Kind:    EntryFileChange,
			Status:  p.Str("status"),
			Changes: changesFrom(item["changes"]),
		}

	case "websearch":
		return &Entry{
			ID:    id,
			Kind:  EntryWebSearch,
			Query: p.Str("query"),
		}

	case "mcptoolcall":
		e := &Entry{
			ID:            id,
			Kind:          EntryMcp,
			Server:        p.Str("server"),
			Tool:          p.Str("tool"),
			Status:        p.Str("status"),
			ToolArguments: item["arguments"],
			ToolResult:    item["result"],
		}
		switch errVal := item["error"].(type) {
		case string:
			e.ToolError = errVal
		case map[string]any:
			e.ToolError = protocol.Params(errVal).Str("message")
		}
		e.Message = e.ToolError
		if ms, ok := p.Int64("durationMs", "duration_ms"); ok {
			e.DurationMS = ms
		}
		return e

	case "error":
		return &Entry{
			ID:   id,
			Kind: EntrySystem,
			Tone: "error",
			Text: p.Str("message", "text"),
		}
	}

	return nil
}

// mergeAttachments unions two attachment lists, deduplicating by
// path+name while preserving order.
func mergeAttachments(existing, incoming []Attachment) []Attachment {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]bool, len(existing))
	out := append([]Attachment(nil), existing...)
	for _, a := range existing {
		seen[a.key()] = true
	}
	for _, a := range incoming {
		if seen[a.key()] {
			continue
		}
		seen[a.key()] = true
		out = append(out, a)
	}
	return out
}
