package followup

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// listMarker matches bullets ("-", "*", "•") and numbering ("1.", "2)", "3、")
// at the start of a line.
var listMarker = regexp.MustCompile(`^(?:[-*•]|\d+[.)、])\s*`)

// Parse extracts suggested questions from a variable value. It accepts a
// JSON array (of strings or of objects with a question, content or text
// field), a numbered or bulleted list, or a single plain value.
func Parse(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if strings.HasPrefix(value, "[") && gjson.Valid(value) {
		var out []string
		gjson.Parse(value).ForEach(func(_, item gjson.Result) bool {
			var text string
			if item.IsObject() {
				for _, field := range []string{"question", "content", "text"} {
					if v := item.Get(field); v.Exists() {
						text = v.String()
						break
					}
				}
			} else {
				text = item.String()
			}
			if text = strings.TrimSpace(text); text != "" {
				out = append(out, text)
			}
			return true
		})
		return out
	}

	var out []string
	for _, line := range strings.Split(value, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Normalize trims, drops empty and duplicate questions (ignoring case) and
// keeps at most limit of them. A limit of zero keeps all.
func Normalize(questions []string, limit int) []string {
	seen := make(map[string]struct{}, len(questions))
	out := make([]string, 0, len(questions))
	for _, q := range questions {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
