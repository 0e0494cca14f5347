package spec

import "strings"

// Resolve substitutes {{KEY}} placeholders in text with values from vars.
// It is a pure function run once at load time; unresolved placeholders are
// left untouched so a missing variable is visible in the rendered output
// rather than silently erased.
func Resolve(text string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(text, "{{") {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for {
		open := strings.Index(text, "{{")
		if open < 0 {
			b.WriteString(text)
			return b.String()
		}
		close := strings.Index(text[open:], "}}")
		if close < 0 {
			b.WriteString(text)
			return b.String()
		}
		close += open
		key := strings.TrimSpace(text[open+2 : close])
		if val, ok := vars[key]; ok {
			b.WriteString(text[:open])
			b.WriteString(val)
		} else {
			b.WriteString(text[:close+2])
		}
		text = text[close+2:]
	}
}
