package slackfmt

import (
	"encoding/json"
	"regexp"
	"strings"
)

// wholeFence matches an answer wrapped entirely in one markdown code fence.
var wholeFence = regexp.MustCompile("(?s)^```(?:markdown|md)[ \t]*\n(.*)\n```$")

var escapedBreaks = strings.NewReplacer(`\r\n`, "\n", `\n`, "\n", `\r`, "\n")

// FinalText undoes the wrappers models put around a final answer: a JSON
// string literal, a ```markdown fence around the whole reply, or newlines
// that arrived escaped. The result is what the thread history keeps.
func FinalText(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		var decoded string
		if json.Unmarshal([]byte(text), &decoded) == nil {
			text = strings.TrimSpace(decoded)
		}
	}
	if m := wholeFence.FindStringSubmatch(text); m != nil && !strings.Contains(m[1], "```") {
		text = strings.TrimSpace(m[1])
	}
	if escapedNewlines(text) {
		text = strings.TrimSpace(escapedBreaks.Replace(text))
	}
	return text
}

// escapedNewlines reports whether text looks like a reply whose line breaks
// were escaped rather than one that merely mentions `\n`.
func escapedNewlines(text string) bool {
	n := strings.Count(text, `\n`) + strings.Count(text, `\r`)
	if n == 0 {
		return false
	}
	if !strings.ContainsAny(text, "\r\n") {
		return n >= 2
	}
	return n >= 3
}
